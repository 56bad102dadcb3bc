// Package config loads fit2gpx settings from defaults, an optional TOML
// file and FIT2GPX_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/ryabkov82/fit2gpx/internal/convert"
	"github.com/ryabkov82/fit2gpx/internal/retry"
	"github.com/ryabkov82/fit2gpx/internal/watch"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "FIT2GPX_"

// Duration is a time.Duration written as "500ms" or "2s" in TOML
type Duration time.Duration

// UnmarshalText parses a Go duration string
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText writes the duration in Go syntax
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Retry configures the truncated-stream retry
type Retry struct {
	MaxAttempts int      `toml:"max_attempts"`
	Backoff     Duration `toml:"backoff"`
	MaxBackoff  Duration `toml:"max_backoff"`
}

// Open configures the CRC-tolerant open
type Open struct {
	MaxAttempts int `toml:"max_attempts"`
}

// History configures the SQLite outcome log
type History struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// Server configures the HTTP service
type Server struct {
	Port           string `toml:"port"`
	AllowedBaseDir string `toml:"allowed_base_dir"`
	QueueSize      int    `toml:"queue_size"`
}

// Watch configures the directory watcher
type Watch struct {
	Debounce Duration `toml:"debounce"`
	Rate     float64  `toml:"rate"`
}

// Config holds every setting
type Config struct {
	Workers     int      `toml:"workers"`
	YieldEvery  int      `toml:"yield_every"`
	YieldPause  Duration `toml:"yield_pause"`
	MinFileSize int64    `toml:"min_file_size"`
	Creator     string   `toml:"creator"`
	Retry       Retry    `toml:"retry"`
	Open        Open     `toml:"open"`
	History     History  `toml:"history"`
	Server      Server   `toml:"server"`
	Watch       Watch    `toml:"watch"`
}

// Default returns the built-in settings
func Default() Config {
	conv := convert.DefaultConfig()
	return Config{
		Workers:     runtime.NumCPU(),
		YieldEvery:  conv.YieldEvery,
		YieldPause:  Duration(conv.YieldPause),
		MinFileSize: conv.MinFileSize,
		Creator:     conv.Creator,
		Retry: Retry{
			MaxAttempts: conv.RecordPolicy.MaxAttempts,
			Backoff:     Duration(conv.RecordPolicy.Backoff),
			MaxBackoff:  Duration(conv.RecordPolicy.MaxBackoff),
		},
		Open:    Open{MaxAttempts: conv.OpenPolicy.MaxAttempts},
		History: History{Enabled: true},
		Server: Server{
			Port:           "8080",
			AllowedBaseDir: "/data/incoming",
			QueueSize:      1000,
		},
		Watch: Watch{
			Debounce: Duration(watch.DefaultDebounce),
			Rate:     watch.DefaultRate,
		},
	}
}

// DefaultPath returns $FIT2GPX_CONFIG or ~/.fit2gpx/config.toml
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".fit2gpx", "config.toml"), nil
}

// Load reads path over the defaults and applies environment overrides.
// An empty path means DefaultPath; a missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return cfg, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *Duration) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			}
		}
	}

	integer("WORKERS", &c.Workers)
	integer("YIELD_EVERY", &c.YieldEvery)
	duration("YIELD_PAUSE", &c.YieldPause)
	if v, ok := lookup(EnvPrefix + "MIN_FILE_SIZE"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMIN_FILE_SIZE: %w", EnvPrefix, err))
		} else {
			c.MinFileSize = n
		}
	}
	str("CREATOR", &c.Creator)
	integer("RETRY_MAX_ATTEMPTS", &c.Retry.MaxAttempts)
	duration("RETRY_BACKOFF", &c.Retry.Backoff)
	duration("RETRY_MAX_BACKOFF", &c.Retry.MaxBackoff)
	integer("OPEN_MAX_ATTEMPTS", &c.Open.MaxAttempts)
	if v, ok := lookup(EnvPrefix + "HISTORY_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sHISTORY_ENABLED: %w", EnvPrefix, err))
		} else {
			c.History.Enabled = b
		}
	}
	str("HISTORY_DIR", &c.History.Dir)
	str("PORT", &c.Server.Port)
	str("ALLOWED_BASE_DIR", &c.Server.AllowedBaseDir)
	integer("QUEUE_SIZE", &c.Server.QueueSize)
	duration("WATCH_DEBOUNCE", &c.Watch.Debounce)
	if v, ok := lookup(EnvPrefix + "WATCH_RATE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sWATCH_RATE: %w", EnvPrefix, err))
		} else {
			c.Watch.Rate = f
		}
	}

	return errors.Join(errs...)
}

// Validate rejects settings the converter cannot run with
func (c Config) Validate() error {
	var problems []string
	if c.Workers < 1 {
		problems = append(problems, "workers must be at least 1")
	}
	if c.YieldEvery < 0 {
		problems = append(problems, "yield_every must not be negative")
	}
	if c.MinFileSize < convert.DefaultMinFileSize {
		problems = append(problems, fmt.Sprintf("min_file_size must be at least %d", convert.DefaultMinFileSize))
	}
	if c.Retry.MaxAttempts < 1 {
		problems = append(problems, "retry.max_attempts must be at least 1")
	}
	if c.Open.MaxAttempts < 1 {
		problems = append(problems, "open.max_attempts must be at least 1")
	}
	if c.Server.QueueSize < 1 {
		problems = append(problems, "server.queue_size must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Convert returns the converter settings
func (c Config) Convert() convert.Config {
	cfg := convert.DefaultConfig()
	cfg.MinFileSize = c.MinFileSize
	cfg.YieldEvery = c.YieldEvery
	cfg.YieldPause = c.YieldPause.Std()
	if c.Creator != "" {
		cfg.Creator = c.Creator
	}
	cfg.OpenPolicy = retry.Policy{MaxAttempts: c.Open.MaxAttempts}
	cfg.RecordPolicy = retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		Backoff:     c.Retry.Backoff.Std(),
		MaxBackoff:  c.Retry.MaxBackoff.Std(),
	}
	return cfg
}

// WatchOptions returns watcher settings for the given directories
func (c Config) WatchOptions(inputDir, outputDir string) watch.Options {
	return watch.Options{
		InputDir:  inputDir,
		OutputDir: outputDir,
		Debounce:  c.Watch.Debounce.Std(),
		Rate:      c.Watch.Rate,
	}
}
