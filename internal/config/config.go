package config

import (
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/basket/go-tasks/internal/cron"
	"github.com/basket/go-tasks/internal/otel"
)

const (
	defaultLogLevel              = "info"
	defaultLocalAccountType      = "local"
	defaultReindexSchedule       = "*/5 * * * *"
	defaultTimezoneCheckSchedule = "0 * * * *"
	defaultReindexBatch          = 500
	defaultMinScore              = 0.4
)

// SearchConfig tunes the n-gram search.
type SearchConfig struct {
	// MinScore drops hits matching fewer than this share of query grams.
	MinScore float64 `yaml:"min_score"`
}

// MaintenanceConfig holds the cron schedules of background jobs.
type MaintenanceConfig struct {
	ReindexSchedule       string `yaml:"reindex_schedule"`
	TimezoneCheckSchedule string `yaml:"timezone_check_schedule"`
	// ReindexBatch caps the stale tasks rebuilt per run.
	ReindexBatch int `yaml:"reindex_batch"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`
	DBPath   string `yaml:"db_path"`

	// LocalTimezone is the zone instance sort keys are computed in. Empty
	// means the process zone.
	LocalTimezone string `yaml:"local_timezone"`
	// LocalAccountType names lists whose deletes are always hard.
	LocalAccountType string `yaml:"local_account_type"`

	Search      SearchConfig      `yaml:"search"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	OTel        otel.Config       `yaml:"otel"`

	// Missing is set when config.yaml did not exist.
	Missing bool `yaml:"-"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Database returns the effective database path.
func (c Config) Database() string {
	if c.DBPath != "" {
		if !filepath.IsAbs(c.DBPath) {
			return filepath.Join(c.HomeDir, c.DBPath)
		}
		return c.DBPath
	}
	return filepath.Join(c.HomeDir, "gotasks.db")
}

// Location resolves LocalTimezone.
func (c Config) Location() (*time.Location, error) {
	if c.LocalTimezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.LocalTimezone)
	if err != nil {
		return nil, fmt.Errorf("local_timezone %q: %w", c.LocalTimezone, err)
	}
	return loc, nil
}

// loadRawConfig reads config.yaml into a generic map, returning an empty map if the file doesn't exist.
func loadRawConfig(path string) (map[string]any, error) {
	raw := make(map[string]any)
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse config.yaml: %w", err)
		}
	}
	return raw, nil
}

// saveRawConfig marshals and writes a generic map back to config.yaml.
func saveRawConfig(path string, raw map[string]any) error {
	out, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal config.yaml: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

// SetTimezone updates local_timezone in config.yaml, preserving other settings.
func SetTimezone(homeDir, tz string) error {
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("unknown timezone %q: %w", tz, err)
		}
	}
	configPath := ConfigPath(homeDir)
	raw, err := loadRawConfig(configPath)
	if err != nil {
		return err
	}
	raw["local_timezone"] = tz
	return saveRawConfig(configPath, raw)
}

// Fingerprint returns a stable hash of the settings that need a restart
// or a recompute when they change.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "log=%s|db=%s|tz=%s|local=%s|score=%g|reindex=%s|tzcheck=%s|otel=%v/%s",
		c.LogLevel, c.Database(), c.LocalTimezone, c.LocalAccountType, c.Search.MinScore,
		c.Maintenance.ReindexSchedule, c.Maintenance.TimezoneCheckSchedule, c.OTel.Enabled, c.OTel.Exporter)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		LogLevel:         defaultLogLevel,
		LocalAccountType: defaultLocalAccountType,
		Search:           SearchConfig{MinScore: defaultMinScore},
		Maintenance: MaintenanceConfig{
			ReindexSchedule:       defaultReindexSchedule,
			TimezoneCheckSchedule: defaultTimezoneCheckSchedule,
			ReindexBatch:          defaultReindexBatch,
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("GOTASKS_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".gotasks")
}

// Load reads the config of HomeDir.
func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom reads <homeDir>/config.yaml, applies env overrides and checks
// the result.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create gotasks home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.Missing = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if strings.TrimSpace(cfg.LocalAccountType) == "" {
		cfg.LocalAccountType = defaultLocalAccountType
	}
	if cfg.Search.MinScore <= 0 || cfg.Search.MinScore > 1 {
		cfg.Search.MinScore = defaultMinScore
	}
	if cfg.Maintenance.ReindexSchedule == "" {
		cfg.Maintenance.ReindexSchedule = defaultReindexSchedule
	}
	if cfg.Maintenance.TimezoneCheckSchedule == "" {
		cfg.Maintenance.TimezoneCheckSchedule = defaultTimezoneCheckSchedule
	}
	if cfg.Maintenance.ReindexBatch <= 0 {
		cfg.Maintenance.ReindexBatch = defaultReindexBatch
	}
}

func validate(cfg Config) error {
	var errs []error
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q: want debug, info, warn or error", cfg.LogLevel))
	}
	if _, err := cfg.Location(); err != nil {
		errs = append(errs, err)
	}
	if err := cron.Validate(cfg.Maintenance.ReindexSchedule); err != nil {
		errs = append(errs, fmt.Errorf("maintenance.reindex_schedule: %w", err))
	}
	if err := cron.Validate(cfg.Maintenance.TimezoneCheckSchedule); err != nil {
		errs = append(errs, fmt.Errorf("maintenance.timezone_check_schedule: %w", err))
	}
	return errors.Join(errs...)
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("GOTASKS_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("GOTASKS_DB_PATH"); raw != "" {
		cfg.DBPath = raw
	}
	if raw := os.Getenv("GOTASKS_TIMEZONE"); raw != "" {
		cfg.LocalTimezone = raw
	} else if raw := os.Getenv("TZ"); raw != "" && cfg.LocalTimezone == "" {
		cfg.LocalTimezone = raw
	}
	if raw := os.Getenv("GOTASKS_SEARCH_MIN_SCORE"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			cfg.Search.MinScore = v
		}
	}
	if raw := os.Getenv("GOTASKS_OTEL_EXPORTER"); raw != "" {
		cfg.OTel.Enabled = raw != "none"
		cfg.OTel.Exporter = raw
	}
}
