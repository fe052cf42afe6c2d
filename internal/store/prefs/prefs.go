// Package prefs caches the last-chosen session configuration, mode and
// guard settings so the dashboard reopens where the user left it. The
// cache is convenience only: the engine is re-queried on boot and always
// wins.
package prefs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"merq/internal/session"
)

// record is the single-row preference table.
type record struct {
	ID           uint           `gorm:"primaryKey"`
	Mode         string         `gorm:"size:8"`
	Symbols      datatypes.JSON `gorm:"type:json"`
	Strategy     string
	Interval     string
	StartTime    string
	StopTime     string
	Capital      float64
	Credentials  string
	GuardEnabled bool
	GuardMaxLoss float64
	UpdatedAt    time.Time
}

func (record) TableName() string { return "session_prefs" }

// Store persists dashboard preferences in a local SQLite file.
type Store struct {
	db *gorm.DB
}

// Open initializes the preference store, creating the file and schema on
// first use.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("prefs store: path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("prefs store: open failed: %w", err)
	}
	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, fmt.Errorf("prefs store: migrate failed: %w", err)
	}
	return &Store{db: db}, nil
}

// Snapshot is the loaded preference set.
type Snapshot struct {
	Config       session.Config
	Mode         session.Mode
	GuardEnabled bool
	GuardMaxLoss float64
}

// Load returns the cached preferences, reporting found=false on first run.
func (s *Store) Load() (Snapshot, bool, error) {
	var rec record
	err := s.db.First(&rec, 1).Error
	if err == gorm.ErrRecordNotFound {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("prefs store: load failed: %w", err)
	}

	var symbols []string
	if len(rec.Symbols) > 0 {
		if err := json.Unmarshal(rec.Symbols, &symbols); err != nil {
			symbols = nil
		}
	}
	mode, ok := session.ParseMode(rec.Mode)
	if !ok {
		mode = session.ModePaper
	}
	return Snapshot{
		Config: session.Config{
			Symbols:     symbols,
			Strategy:    rec.Strategy,
			Interval:    rec.Interval,
			StartTime:   rec.StartTime,
			StopTime:    rec.StopTime,
			Capital:     rec.Capital,
			Credentials: rec.Credentials,
		},
		Mode:         mode,
		GuardEnabled: rec.GuardEnabled,
		GuardMaxLoss: rec.GuardMaxLoss,
	}, true, nil
}

// SaveConfig upserts the strategy configuration.
func (s *Store) SaveConfig(cfg session.Config) error {
	symbols, err := json.Marshal(cfg.Symbols)
	if err != nil {
		return fmt.Errorf("prefs store: encode symbols failed: %w", err)
	}
	return s.upsert(map[string]any{
		"symbols":     datatypes.JSON(symbols),
		"strategy":    cfg.Strategy,
		"interval":    cfg.Interval,
		"start_time":  cfg.StartTime,
		"stop_time":   cfg.StopTime,
		"capital":     cfg.Capital,
		"credentials": cfg.Credentials,
	})
}

// SaveMode upserts the trading mode.
func (s *Store) SaveMode(mode session.Mode) error {
	return s.upsert(map[string]any{"mode": string(mode)})
}

// SaveGuard upserts the guard settings. The latch is deliberately not
// persisted.
func (s *Store) SaveGuard(enabled bool, maxLoss float64) error {
	return s.upsert(map[string]any{
		"guard_enabled":  enabled,
		"guard_max_loss": maxLoss,
	})
}

func (s *Store) upsert(fields map[string]any) error {
	fields["updated_at"] = time.Now()
	res := s.db.Model(&record{}).Where("id = ?", 1).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("prefs store: update failed: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	rec := record{ID: 1}
	if err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
		return fmt.Errorf("prefs store: seed failed: %w", err)
	}
	if err := s.db.Model(&record{}).Where("id = ?", 1).Updates(fields).Error; err != nil {
		return fmt.Errorf("prefs store: update failed: %w", err)
	}
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("prefs store: create dir failed: %w", err)
	}
	return nil
}
