package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"merq/internal/logger"
)

// Load reads and validates the YAML configuration at path. Files named in
// an `include` list are merged first, depth-first, so the including file
// always wins over what it pulled in.
func Load(path string) (*Config, error) {
	files, err := resolveIncludes(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	for _, file := range files {
		if err := mergeConfigFile(v, file); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.Path = files[len(files)-1]
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Reloadable is the subset of the configuration that takes effect without
// a restart.
type Reloadable struct {
	LogLevel     string
	GuardMaxLoss float64
}

// Watch re-loads the file at path on every write and hands the hot-safe
// subset to apply. Everything else in the file needs a restart. Edits to
// included files are picked up on the next write of the root file.
func Watch(path string, apply func(Reloadable)) error {
	if apply == nil {
		return fmt.Errorf("config watch requires an apply func")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watch config failed (%s): %w", path, err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		cfg, err := Load(path)
		if err != nil {
			logger.Errorf("config reload rejected (%s): %v", evt.Name, err)
			return
		}
		apply(reloadable(cfg))
	})
	v.WatchConfig()
	return nil
}

func reloadable(cfg *Config) Reloadable {
	return Reloadable{
		LogLevel:     cfg.App.LogLevel,
		GuardMaxLoss: cfg.Guard.MaxLoss,
	}
}

func mergeConfigFile(v *viper.Viper, path string) error {
	sub := viper.New()
	sub.SetConfigFile(path)
	if err := sub.ReadInConfig(); err != nil {
		return err
	}
	return v.MergeConfigMap(sub.AllSettings())
}

// resolveIncludes flattens the include graph into merge order: included
// files first, the root file last. Cycles are an error, duplicates load
// once.
func resolveIncludes(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	return collectIncludes(abs, seen, make(map[string]bool))
}

func collectIncludes(path string, seen, stack map[string]bool) ([]string, error) {
	path = filepath.Clean(path)
	if stack[path] {
		return nil, fmt.Errorf("include cycle detected: %s", path)
	}
	if seen[path] {
		return nil, nil
	}
	stack[path] = true
	includes, err := sniffIncludeList(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	var ordered []string
	for _, inc := range includes {
		inc = strings.TrimSpace(inc)
		if inc == "" {
			continue
		}
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(dir, inc)
		}
		sub, err := collectIncludes(inc, seen, stack)
		if err != nil {
			return nil, err
		}
		ordered = append(ordered, sub...)
	}
	delete(stack, path)
	seen[path] = true
	return append(ordered, path), nil
}

// sniffIncludeList reads only the `include` key; the rest of the document
// is left for viper.
func sniffIncludeList(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Include []string `yaml:"include"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing include list failed (%s): %w", path, err)
	}
	return doc.Include, nil
}
