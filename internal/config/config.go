// Package config loads opsync settings from a YAML file, a .env file and
// OPSYNC_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jackson-sweet/opsapp-sub000/internal/gesture"
	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
)

// DefaultPath is read when neither --config nor OPSYNC_CONFIG is set.
const DefaultPath = "opsync.yaml"

// Config holds every opsync setting.
type Config struct {
	Database  string `yaml:"database"`   // SQLite path; "" or ":memory:" uses an in-memory store
	RemoteURL string `yaml:"remote_url"` // base URL of the REST backend
	Token     string `yaml:"token"`      // bearer token for the backend
	Role      string `yaml:"role"`       // admin, officeCrew or fieldCrew
	Tutorial  bool   `yaml:"tutorial"`   // restrict transitions to the tutorial step
	LogLevel  string `yaml:"log_level"`  // DEBUG, INFO, WARN, ERROR

	Sync     SyncConfig       `yaml:"sync"`
	Geometry gesture.Geometry `yaml:"geometry"`
	Gesture  GestureConfig    `yaml:"gesture"`
}

// SyncConfig tunes the engine and the background queue.
type SyncConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Debounce      time.Duration `yaml:"debounce"`
	Workers       int           `yaml:"workers"`
}

// GestureConfig tunes press detection.
type GestureConfig struct {
	PressDuration time.Duration `yaml:"press_duration"`
	DeadZone      float64       `yaml:"dead_zone"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Database: "opsync.db",
		Role:     string(ir.RoleAdmin),
		LogLevel: "INFO",
		Sync: SyncConfig{
			Timeout:       5 * time.Second,
			RetryInterval: 30 * time.Second,
			Debounce:      500 * time.Millisecond,
			Workers:       4,
		},
		Geometry: gesture.DefaultGeometry,
		Gesture: GestureConfig{
			PressDuration: gesture.DefaultPressDuration,
			DeadZone:      gesture.DefaultDeadZone,
		},
	}
}

// Load reads path (or OPSYNC_CONFIG, or ./opsync.yaml) over the defaults and
// applies environment overrides. A missing file is not an error unless it
// was named explicitly. A .env file in the working directory is loaded
// first; variables already set in the environment win over it.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	explicit := path != ""
	if path == "" {
		path = os.Getenv("OPSYNC_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from OPSYNC_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("OPSYNC_DATABASE", &c.Database)
	str("OPSYNC_REMOTE_URL", &c.RemoteURL)
	str("OPSYNC_TOKEN", &c.Token)
	str("OPSYNC_ROLE", &c.Role)
	str("OPSYNC_LOG_LEVEL", &c.LogLevel)

	if v, ok := lookup("OPSYNC_TUTORIAL"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("OPSYNC_TUTORIAL: %w", err)
		}
		c.Tutorial = b
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"OPSYNC_SYNC_TIMEOUT", &c.Sync.Timeout},
		{"OPSYNC_SYNC_RETRY_INTERVAL", &c.Sync.RetryInterval},
		{"OPSYNC_SYNC_DEBOUNCE", &c.Sync.Debounce},
	}
	for _, d := range durations {
		v, ok := lookup(d.key)
		if !ok || v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if v, ok := lookup("OPSYNC_SYNC_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("OPSYNC_SYNC_WORKERS: %w", err)
		}
		c.Sync.Workers = n
	}
	return nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ir.ParseRole(c.Role); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	if c.RemoteURL != "" && !strings.HasPrefix(c.RemoteURL, "http://") && !strings.HasPrefix(c.RemoteURL, "https://") {
		errs = append(errs, fmt.Errorf("remote_url %q must be http or https", c.RemoteURL))
	}

	for name, d := range map[string]time.Duration{
		"sync.timeout":           c.Sync.Timeout,
		"sync.retry_interval":    c.Sync.RetryInterval,
		"sync.debounce":          c.Sync.Debounce,
		"gesture.press_duration": c.Gesture.PressDuration,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Sync.Workers < 1 {
		errs = append(errs, fmt.Errorf("sync.workers must be at least 1, got %d", c.Sync.Workers))
	}
	if c.Gesture.DeadZone < 0 {
		errs = append(errs, fmt.Errorf("gesture.dead_zone must not be negative, got %g", c.Gesture.DeadZone))
	}
	if err := c.Geometry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("geometry: %w", err))
	}
	return errors.Join(errs...)
}

// Session returns the configured role and mode. Call Validate first.
func (c *Config) Session() (ir.Role, ir.Mode) {
	return ir.Role(c.Role), ir.Mode{Tutorial: c.Tutorial}
}

// ResolverConfig returns the gesture resolver thresholds.
func (c *Config) ResolverConfig() gesture.Config {
	return gesture.Config{
		PressDuration: c.Gesture.PressDuration,
		DeadZone:      c.Gesture.DeadZone,
		Geometry:      c.Geometry,
	}
}
