// Package config provides the core runtime's configuration: a JSON-backed,
// mutex-guarded singleton covering data directory layout and the tuning
// knobs for the rate limiter, task scheduler, and event dispatcher, plus an
// optional human-edited YAML overlay for operators.
//
// Configuration is loaded once (LoadConfig) and accessed by value
// (GetConfig) so callers can never mutate shared state by reference;
// changes go through Update, which validates then persists.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete tunable configuration for the core runtime.
type Config struct {
	// DataDir is the directory holding scheduler_tasks.json and the sqlite store.
	DataDir string `json:"data_dir"`

	Scheduler  SchedulerConfig  `json:"scheduler"`
	RateLimit  RateLimitConfig  `json:"rate_limit"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
}

// SchedulerConfig tunes the scheduler engine (spec §4.4).
type SchedulerConfig struct {
	MaxConcurrentTasks  int           `json:"max_concurrent_tasks"`
	DefaultTaskTimeout  time.Duration `json:"default_task_timeout"`
	ShutdownGracePeriod time.Duration `json:"shutdown_grace_period"`
}

// RateLimitConfig tunes the default per-chat token bucket (spec §4.1-4.2).
type RateLimitConfig struct {
	DefaultCapacity      uint32        `json:"default_capacity"`
	DefaultRefillPerTick uint32        `json:"default_refill_per_tick"`
	DefaultTickPeriod    time.Duration `json:"default_tick_period"`
	MaxBuckets           int           `json:"max_buckets"`
	IdleTimeout          time.Duration `json:"idle_timeout"`
	HighPriorityThresh   int           `json:"high_priority_threshold"`
	PriorityPoolSize     uint32        `json:"priority_pool_size"`
}

// DispatcherConfig tunes the long-poll event dispatcher (spec §4.5).
type DispatcherConfig struct {
	PollTimeout   time.Duration `json:"poll_timeout"`
	BatchSize     int           `json:"batch_size"`
	MaxParallel   int           `json:"max_parallel"`
	StrictCursor  bool          `json:"strict_cursor"` // advance-after-success instead of advance-on-receipt
	ShutdownGrace time.Duration `json:"shutdown_grace"`
}

// Default returns the documented defaults from spec §4.2, §4.4, §4.5.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		DataDir: filepath.Join(home, ".config", "vkteams-bot"),
		Scheduler: SchedulerConfig{
			MaxConcurrentTasks:  10,
			DefaultTaskTimeout:  5 * time.Minute,
			ShutdownGracePeriod: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			DefaultCapacity:      20,
			DefaultRefillPerTick: 20,
			DefaultTickPeriod:    time.Second,
			MaxBuckets:           10000,
			IdleTimeout:          30 * time.Minute,
			HighPriorityThresh:   8,
			PriorityPoolSize:     2,
		},
		Dispatcher: DispatcherConfig{
			PollTimeout:   30 * time.Second,
			BatchSize:     50,
			MaxParallel:   4,
			StrictCursor:  false,
			ShutdownGrace: 30 * time.Second,
		},
	}
}

//nolint:gochecknoglobals // intentional singleton, mirrors the teacher's config package
var (
	current *Config
	mu      sync.RWMutex
)

// ConfigPath returns <dataDir>/config.json.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.json")
}

// LoadConfig loads configuration from <dataDir>/config.json, creating it
// from defaults if absent, then applies an optional profile.yaml overlay
// from the same directory. Safe to call once at startup.
func LoadConfig(dataDir string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	cfg := Default()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	path := ConfigPath(cfg.DataDir)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, jsonErr)
		}
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.DataDir, 0o755); mkErr != nil {
			return nil, fmt.Errorf("create data dir %s: %w", cfg.DataDir, mkErr)
		}
		if writeErr := writeConfigLocked(cfg); writeErr != nil {
			return nil, writeErr
		}
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if overlayErr := applyYAMLOverlay(cfg); overlayErr != nil {
		return nil, overlayErr
	}

	current = cfg
	return copyConfig(cfg), nil
}

// applyYAMLOverlay merges <dataDir>/profile.yaml into cfg, when present.
// This lets an operator hand-tune a running bot's limits without editing
// the JSON state file directly.
func applyYAMLOverlay(cfg *Config) error {
	path := filepath.Join(cfg.DataDir, "profile.yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read profile overlay %s: %w", path, err)
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse profile overlay %s: %w", path, err)
	}

	mergeNonZero(cfg, &overlay)
	return nil
}

// mergeNonZero copies each non-zero tuning field of overlay into cfg.
// DataDir is not taken from the overlay.
func mergeNonZero(cfg, overlay *Config) {
	if overlay.Scheduler.MaxConcurrentTasks != 0 {
		cfg.Scheduler.MaxConcurrentTasks = overlay.Scheduler.MaxConcurrentTasks
	}
	if overlay.Scheduler.DefaultTaskTimeout != 0 {
		cfg.Scheduler.DefaultTaskTimeout = overlay.Scheduler.DefaultTaskTimeout
	}
	if overlay.Scheduler.ShutdownGracePeriod != 0 {
		cfg.Scheduler.ShutdownGracePeriod = overlay.Scheduler.ShutdownGracePeriod
	}
	if overlay.RateLimit.DefaultCapacity != 0 {
		cfg.RateLimit.DefaultCapacity = overlay.RateLimit.DefaultCapacity
	}
	if overlay.RateLimit.DefaultRefillPerTick != 0 {
		cfg.RateLimit.DefaultRefillPerTick = overlay.RateLimit.DefaultRefillPerTick
	}
	if overlay.RateLimit.DefaultTickPeriod != 0 {
		cfg.RateLimit.DefaultTickPeriod = overlay.RateLimit.DefaultTickPeriod
	}
	if overlay.RateLimit.MaxBuckets != 0 {
		cfg.RateLimit.MaxBuckets = overlay.RateLimit.MaxBuckets
	}
	if overlay.RateLimit.IdleTimeout != 0 {
		cfg.RateLimit.IdleTimeout = overlay.RateLimit.IdleTimeout
	}
	if overlay.RateLimit.HighPriorityThresh != 0 {
		cfg.RateLimit.HighPriorityThresh = overlay.RateLimit.HighPriorityThresh
	}
	if overlay.RateLimit.PriorityPoolSize != 0 {
		cfg.RateLimit.PriorityPoolSize = overlay.RateLimit.PriorityPoolSize
	}
	if overlay.Dispatcher.PollTimeout != 0 {
		cfg.Dispatcher.PollTimeout = overlay.Dispatcher.PollTimeout
	}
	if overlay.Dispatcher.BatchSize != 0 {
		cfg.Dispatcher.BatchSize = overlay.Dispatcher.BatchSize
	}
	if overlay.Dispatcher.MaxParallel != 0 {
		cfg.Dispatcher.MaxParallel = overlay.Dispatcher.MaxParallel
	}
	if overlay.Dispatcher.StrictCursor {
		cfg.Dispatcher.StrictCursor = true
	}
	if overlay.Dispatcher.ShutdownGrace != 0 {
		cfg.Dispatcher.ShutdownGrace = overlay.Dispatcher.ShutdownGrace
	}
}

// GetConfig returns a copy of the current configuration.
// Panics if LoadConfig has not been called, matching the teacher's
// GetDB-must-follow-Initialize contract.
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		panic("config.LoadConfig must be called before GetConfig")
	}
	return copyConfig(current)
}

// Update applies fn to a copy of the current config, validates it, persists
// it, and swaps it in atomically. fn must not retain the pointer it receives.
func Update(fn func(*Config)) error {
	mu.Lock()
	defer mu.Unlock()

	if current == nil {
		return fmt.Errorf("config.Update called before LoadConfig")
	}

	next := copyConfig(current)
	fn(next)

	if err := validate(next); err != nil {
		return fmt.Errorf("invalid config update: %w", err)
	}
	if err := writeConfigLocked(next); err != nil {
		return err
	}
	current = next
	return nil
}

func validate(cfg *Config) error {
	if cfg.Scheduler.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("scheduler.max_concurrent_tasks must be positive")
	}
	if cfg.RateLimit.DefaultTickPeriod <= 0 {
		return fmt.Errorf("rate_limit.default_tick_period must be positive")
	}
	if cfg.Dispatcher.BatchSize <= 0 {
		return fmt.Errorf("dispatcher.batch_size must be positive")
	}
	if cfg.Dispatcher.MaxParallel <= 0 {
		return fmt.Errorf("dispatcher.max_parallel must be positive")
	}
	return nil
}

// writeConfigLocked writes cfg to <data_dir>/config.json atomically
// (write-temp-then-rename), matching the task store's persistence idiom.
func writeConfigLocked(cfg *Config) error {
	path := ConfigPath(cfg.DataDir)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp config %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp config into place: %w", err)
	}
	return nil
}

func copyConfig(cfg *Config) *Config {
	c := *cfg
	return &c
}
