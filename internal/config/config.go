// Package config resolves and persists the per-workspace policy knobs that
// tune tracker, merge, and watcher behavior: a marker directory
// (.filecoord/) walked up from a starting path, holding a config.json
// seeded with defaults on Init and filled in on Load for any field an
// operator left unset.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/anthropics/filecoord/internal/ignore"
	"github.com/anthropics/filecoord/internal/tracker"
	"github.com/anthropics/filecoord/internal/watcher"
)

const (
	// DirName is the marker directory identifying a workspace root.
	DirName = ".filecoord"
	// FileName is the config file inside DirName.
	FileName = "config.json"
)

// Config holds the tunable policy knobs for one workspace. Zero-value
// fields are filled in from Defaults() by Load.
type Config struct {
	MaxVersionsPerFile   int   `json:"max_versions_per_file"`
	MaxCacheSizeBytes    int64 `json:"max_cache_size_bytes"`
	DebounceMS           int   `json:"debounce_ms"`
	StabilityThresholdMS int   `json:"stability_threshold_ms"`
	PollIntervalMS       int   `json:"poll_interval_ms"`
}

// Defaults returns the engine's built-in knob values, matching
// tracker.DefaultConfig and watcher.DefaultConfig.
func Defaults() Config {
	return Config{
		MaxVersionsPerFile:   10,
		MaxCacheSizeBytes:    100 * 1024,
		DebounceMS:           150,
		StabilityThresholdMS: 300,
		PollIntervalMS:       50,
	}
}

// FindProjectRoot walks up from start looking for a DirName marker
// directory containing FileName.
func FindProjectRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", start, err)
	}

	for {
		markerPath := filepath.Join(dir, DirName)
		if info, err := os.Stat(markerPath); err == nil && info.IsDir() {
			configPath := filepath.Join(markerPath, FileName)
			if _, err := os.Stat(configPath); err == nil {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s workspace found above %s", DirName, start)
		}
		dir = parent
	}
}

// Load reads root/.filecoord/config.json, filling any zero-valued field
// from Defaults().
func Load(root string) (Config, error) {
	path := filepath.Join(root, DirName, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.MaxVersionsPerFile == 0 {
		cfg.MaxVersionsPerFile = d.MaxVersionsPerFile
	}
	if cfg.MaxCacheSizeBytes == 0 {
		cfg.MaxCacheSizeBytes = d.MaxCacheSizeBytes
	}
	if cfg.DebounceMS == 0 {
		cfg.DebounceMS = d.DebounceMS
	}
	if cfg.StabilityThresholdMS == 0 {
		cfg.StabilityThresholdMS = d.StabilityThresholdMS
	}
	if cfg.PollIntervalMS == 0 {
		cfg.PollIntervalMS = d.PollIntervalMS
	}
}

// Save writes cfg to root/.filecoord/config.json.
func Save(root string, cfg Config) error {
	dir := filepath.Join(root, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, FileName), data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ToTrackerConfig adapts cfg to tracker.Config.
func (c Config) ToTrackerConfig() tracker.Config {
	return tracker.Config{
		MaxVersionsPerFile: c.MaxVersionsPerFile,
		MaxCacheSize:       int(c.MaxCacheSizeBytes),
	}
}

// ToWatcherConfig adapts cfg to watcher.Config for root, using matcher for
// ignore-pattern filtering (nil falls back to ignore.DefaultPatterns).
func (c Config) ToWatcherConfig(root string, matcher *ignore.Matcher) watcher.Config {
	if matcher == nil {
		matcher = ignore.NewMatcher(ignore.DefaultPatterns)
	}
	return watcher.Config{
		Root:               root,
		Ignore:             matcher,
		DebounceWindow:     time.Duration(c.DebounceMS) * time.Millisecond,
		StabilityThreshold: time.Duration(c.StabilityThresholdMS) * time.Millisecond,
		PollInterval:       time.Duration(c.PollIntervalMS) * time.Millisecond,
	}
}

// Init creates a fresh .filecoord/ workspace marker at root: a
// config.json seeded with Defaults() and a .filecoordignore seeded with
// ignore.DefaultFileContents(). Returns an error if the workspace already
// exists.
func Init(root string) error {
	configPath := filepath.Join(root, DirName, FileName)
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("workspace already initialized at %s", root)
	}

	if err := Save(root, Defaults()); err != nil {
		return err
	}

	ignorePath := filepath.Join(root, ignore.FileName)
	if _, err := os.Stat(ignorePath); os.IsNotExist(err) {
		if err := os.WriteFile(ignorePath, []byte(ignore.DefaultFileContents()), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", ignore.FileName, err)
		}
	}

	return nil
}
