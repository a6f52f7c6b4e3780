package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Seed          int64         `yaml:"seed"`
	BaseTimeRaw   string        `yaml:"base_time"`
	RecordCount   int           `yaml:"record_count"`
	OutputDir     string        `yaml:"output_dir"`
	WarehouseDir  string        `yaml:"warehouse_dir"`
	Catalog       CatalogConfig `yaml:"catalog"`
	DatabaseURL   string        `yaml:"database_url"`
	LoadMode      string        `yaml:"load_mode"`
	RedisAddr     string        `yaml:"redis_addr"`
	NATSURL       string        `yaml:"nats_url"`
	DashboardAddr string        `yaml:"dashboard_addr"`
	RetentionDays int           `yaml:"retention_days"`
	KPICacheTTL   time.Duration `yaml:"kpi_cache_ttl"`
	LogLevel      string        `yaml:"log_level"`
	LogFormat     string        `yaml:"log_format"`

	// BaseTime is BaseTimeRaw parsed; zero means "now"
	BaseTime time.Time `yaml:"-"`
}

type CatalogConfig struct {
	Name      string `yaml:"name"`
	Namespace string `yaml:"namespace"`
	Table     string `yaml:"table"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Seed:          42,
		RecordCount:   2000,
		OutputDir:     "./data",
		WarehouseDir:  "./warehouse",
		Catalog:       CatalogConfig{Name: "flights", Namespace: "flights_db", Table: "flights"},
		LoadMode:      "replace",
		DashboardAddr: "127.0.0.1:0",
		RetentionDays: 30,
		KPICacheTTL:   5 * time.Minute,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// Load loads the configuration from defaults, an optional YAML file named
// by CONFIG_FILE, the .env file and environment variables, in that order
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads defaults overlaid with a YAML file, without the environment
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	//nolint:gosec // the config path is operator supplied
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"BASE_TIME":         &c.BaseTimeRaw,
		"OUTPUT_DIR":        &c.OutputDir,
		"WAREHOUSE_DIR":     &c.WarehouseDir,
		"CATALOG_NAME":      &c.Catalog.Name,
		"CATALOG_NAMESPACE": &c.Catalog.Namespace,
		"CATALOG_TABLE":     &c.Catalog.Table,
		"DATABASE_URL":      &c.DatabaseURL,
		"LOAD_MODE":         &c.LoadMode,
		"REDIS_ADDR":        &c.RedisAddr,
		"NATS_URL":          &c.NATSURL,
		"DASHBOARD_ADDR":    &c.DashboardAddr,
		"LOG_LEVEL":         &c.LogLevel,
		"LOG_FORMAT":        &c.LogFormat,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("SEED"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid SEED: %w", err)
		}
		c.Seed = n
	}
	if v, ok := os.LookupEnv("RECORD_COUNT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RECORD_COUNT: %w", err)
		}
		c.RecordCount = n
	}
	if v, ok := os.LookupEnv("RETENTION_DAYS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RETENTION_DAYS: %w", err)
		}
		c.RetentionDays = n
	}
	if v, ok := os.LookupEnv("KPI_CACHE_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid KPI_CACHE_TTL: %w", err)
		}
		c.KPICacheTTL = d
	}
	return nil
}

func (c *Config) validate() error {
	if c.BaseTimeRaw != "" {
		t, err := time.Parse(time.RFC3339, c.BaseTimeRaw)
		if err != nil {
			return fmt.Errorf("invalid BASE_TIME: %w", err)
		}
		c.BaseTime = t.UTC()
	}

	switch {
	case c.RecordCount < 0:
		return fmt.Errorf("invalid RECORD_COUNT: %d is negative", c.RecordCount)
	case c.RetentionDays < 0:
		return fmt.Errorf("invalid RETENTION_DAYS: %d is negative", c.RetentionDays)
	case c.OutputDir == "":
		return fmt.Errorf("invalid OUTPUT_DIR: must not be empty")
	case c.WarehouseDir == "":
		return fmt.Errorf("invalid WAREHOUSE_DIR: must not be empty")
	case c.Catalog.Namespace == "":
		return fmt.Errorf("invalid CATALOG_NAMESPACE: must not be empty")
	case c.Catalog.Table == "":
		return fmt.Errorf("invalid CATALOG_TABLE: must not be empty")
	case c.LoadMode != "replace" && c.LoadMode != "append":
		return fmt.Errorf("invalid LOAD_MODE: %q", c.LoadMode)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("invalid LOG_FORMAT: %q", c.LogFormat)
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Retention returns the archive retention period
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// ResolveBaseTime returns BaseTime, or now truncated to the second when unset
func (c *Config) ResolveBaseTime(now time.Time) time.Time {
	if c.BaseTime.IsZero() {
		return now.UTC().Truncate(time.Second)
	}
	return c.BaseTime
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL: %q", s)
	}
	return level, nil
}

// Logger builds the slog logger selected by LogLevel and LogFormat
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
