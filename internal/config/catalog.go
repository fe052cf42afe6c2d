package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"merq/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// StrategyDef describes one engine strategy the dashboard may start.
type StrategyDef struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Intervals   []string `yaml:"intervals"`
}

// SupportsInterval reports whether the strategy accepts the candle
// interval. An empty interval list means any interval is allowed.
func (d StrategyDef) SupportsInterval(interval string) bool {
	if len(d.Intervals) == 0 {
		return true
	}
	interval = strings.ToUpper(strings.TrimSpace(interval))
	for _, iv := range d.Intervals {
		if strings.ToUpper(strings.TrimSpace(iv)) == interval {
			return true
		}
	}
	return false
}

type catalogFile struct {
	Strategies map[string]StrategyDef `yaml:"strategies"`
}

// CatalogSnapshot is an immutable view of the strategy catalog.
type CatalogSnapshot struct {
	Version    int64
	LoadedAt   time.Time
	Strategies map[string]StrategyDef
}

// CatalogListener fires after a successful catalog reload.
type CatalogListener func(CatalogSnapshot)

// Catalog loads the strategy catalog file and watches it for edits, so new
// strategies rolled out on the engine become startable without a restart.
type Catalog struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  CatalogSnapshot
	listeners []CatalogListener
}

// NewCatalog reads the catalog at path and begins watching it.
func NewCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("strategy catalog requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read strategy catalog failed: %w", err)
	}
	c := &Catalog{path: path, v: v}
	if err := c.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := c.reload(); err != nil {
			logger.Errorf("strategy catalog reload failed (%s): %v", evt.Name, err)
			return
		}
		c.notifyListeners()
	})
	v.WatchConfig()
	return c, nil
}

// Snapshot returns a copy of the current catalog.
func (c *Catalog) Snapshot() CatalogSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneCatalogSnapshot(c.snapshot)
}

// Strategy looks up one definition by id.
func (c *Catalog) Strategy(id string) (StrategyDef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.snapshot.Strategies[normalizeStrategyID(id)]
	return def, ok
}

// IDs returns the catalog strategy ids in sorted order.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.snapshot.Strategies))
	for id := range c.snapshot.Strategies {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Validate checks a strategy/interval pair before a start request is built.
func (c *Catalog) Validate(strategy, interval string) error {
	def, ok := c.Strategy(strategy)
	if !ok {
		return fmt.Errorf("unknown strategy %q", strategy)
	}
	if !def.SupportsInterval(interval) {
		return fmt.Errorf("strategy %q does not support interval %q", def.ID, interval)
	}
	return nil
}

// Subscribe registers a reload listener.
func (c *Catalog) Subscribe(fn CatalogListener) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *Catalog) notifyListeners() {
	c.mu.RLock()
	snap := cloneCatalogSnapshot(c.snapshot)
	listeners := append([]CatalogListener(nil), c.listeners...)
	c.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb CatalogListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("catalog listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func (c *Catalog) reload() error {
	cfg, err := readCatalogFile(c.path)
	if err != nil {
		return err
	}
	strategies := make(map[string]StrategyDef, len(cfg.Strategies))
	for name, def := range cfg.Strategies {
		id := normalizeStrategyID(def.ID)
		if id == "" {
			id = normalizeStrategyID(name)
		}
		def.ID = id
		if def.Name == "" {
			def.Name = name
		}
		strategies[id] = def
	}
	c.mu.Lock()
	c.snapshot = CatalogSnapshot{
		Version:    c.snapshot.Version + 1,
		LoadedAt:   time.Now(),
		Strategies: strategies,
	}
	c.mu.Unlock()
	logger.Infof("strategy catalog loaded %d strategies from %s", len(strategies), filepath.Base(c.path))
	return nil
}

func readCatalogFile(path string) (catalogFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return catalogFile{}, fmt.Errorf("read strategy catalog failed: %w", err)
	}
	var cfg catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return catalogFile{}, fmt.Errorf("parse strategy catalog failed: %w", err)
	}
	return cfg, nil
}

func normalizeStrategyID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func cloneCatalogSnapshot(src CatalogSnapshot) CatalogSnapshot {
	out := CatalogSnapshot{Version: src.Version, LoadedAt: src.LoadedAt}
	out.Strategies = make(map[string]StrategyDef, len(src.Strategies))
	for k, v := range src.Strategies {
		def := v
		def.Intervals = append([]string(nil), v.Intervals...)
		out.Strategies[k] = def
	}
	return out
}
