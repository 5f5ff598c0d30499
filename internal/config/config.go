// Package config handles configuration loading for the CARTAR server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cartar/server/internal/compare"
)

// EnvPrefix prefixes environment overrides (CARTAR_PORT, CARTAR_DATA_PATH, ...).
const EnvPrefix = "CARTAR_"

// Config represents the server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Data    DataConfig    `yaml:"data"`
	Cache   CacheConfig   `yaml:"cache"`
	Render  RenderConfig  `yaml:"render"`
	Compare CompareConfig `yaml:"compare"`
	Screen  ScreenConfig  `yaml:"screen"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port             int      `yaml:"port"`
	CORSOrigins      []string `yaml:"cors_origins"`
	CompressionLevel int      `yaml:"compression_level"`
	Title            string   `yaml:"title"`
}

// DataConfig contains expression store settings.
type DataConfig struct {
	Backend string `yaml:"backend"` // sqlite or duckdb
	Path    string `yaml:"path"`
	// GTExTissues overrides the tumor -> GTEx tissue map used for extra control samples.
	GTExTissues map[string]string `yaml:"gtex_tissues"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	PlotSizeMB     int `yaml:"plot_size_mb"`
	PlotTTLMinutes int `yaml:"plot_ttl_minutes"`
	QuerySize      int `yaml:"query_size"`
}

// RenderConfig contains plot rendering settings.
type RenderConfig struct {
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	DefaultPlot string `yaml:"default_plot"`
}

// CompareConfig tunes the pairwise comparator.
type CompareConfig struct {
	MinGroupSize int    `yaml:"min_group_size"`
	Method       string `yaml:"method"` // asymptotic, exact or auto
	Continuity   bool   `yaml:"continuity"`
}

// ScreenConfig contains settings for batch screen jobs.
type ScreenConfig struct {
	MaxConcurrent int    `yaml:"max_concurrent"`
	SQLitePath    string `yaml:"sqlite_path"`
	RetentionDays int    `yaml:"retention_days"`
	Workers       int    `yaml:"workers"` // genes compared in parallel within a job
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// LoadEnv loads .env style files into the process environment. Missing files are ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from a YAML file, then applies CARTAR_* environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		cfg := DefaultConfig()
		if err := applyEnv(cfg); err != nil {
			return nil, err
		}
		return cfg, cfg.Validate()
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:             8080,
			CORSOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
			CompressionLevel: 5,
		},
		Data: DataConfig{
			Backend: "sqlite",
			Path:    "./data/cartar.sqlite",
		},
		Cache: CacheConfig{
			PlotSizeMB:     256,
			PlotTTLMinutes: 30,
			QuerySize:      1000,
		},
		Render: RenderConfig{
			Width:       800,
			Height:      600,
			DefaultPlot: "box",
		},
		Compare: CompareConfig{
			MinGroupSize: 1,
			Method:       "asymptotic",
		},
		Screen: ScreenConfig{
			MaxConcurrent: 1,
			SQLitePath:    "./data/screen_jobs.sqlite",
			RetentionDays: 7,
			Workers:       4,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.CompressionLevel == 0 {
		cfg.Server.CompressionLevel = defaults.Server.CompressionLevel
	}
	if cfg.Data.Backend == "" {
		cfg.Data.Backend = defaults.Data.Backend
	}
	if cfg.Data.Path == "" {
		cfg.Data.Path = defaults.Data.Path
	}
	if cfg.Cache.PlotSizeMB == 0 {
		cfg.Cache.PlotSizeMB = defaults.Cache.PlotSizeMB
	}
	if cfg.Cache.PlotTTLMinutes == 0 {
		cfg.Cache.PlotTTLMinutes = defaults.Cache.PlotTTLMinutes
	}
	if cfg.Cache.QuerySize == 0 {
		cfg.Cache.QuerySize = defaults.Cache.QuerySize
	}
	if cfg.Render.Width == 0 {
		cfg.Render.Width = defaults.Render.Width
	}
	if cfg.Render.Height == 0 {
		cfg.Render.Height = defaults.Render.Height
	}
	if cfg.Render.DefaultPlot == "" {
		cfg.Render.DefaultPlot = defaults.Render.DefaultPlot
	}
	if cfg.Compare.MinGroupSize == 0 {
		cfg.Compare.MinGroupSize = defaults.Compare.MinGroupSize
	}
	if cfg.Compare.Method == "" {
		cfg.Compare.Method = defaults.Compare.Method
	}
	if cfg.Screen.MaxConcurrent == 0 {
		cfg.Screen.MaxConcurrent = defaults.Screen.MaxConcurrent
	}
	if cfg.Screen.SQLitePath == "" {
		cfg.Screen.SQLitePath = defaults.Screen.SQLitePath
	}
	if cfg.Screen.RetentionDays == 0 {
		cfg.Screen.RetentionDays = defaults.Screen.RetentionDays
	}
	if cfg.Screen.Workers == 0 {
		cfg.Screen.Workers = defaults.Screen.Workers
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
}

func applyEnv(cfg *Config) error {
	if v, ok := lookupEnv("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPORT: %w", EnvPrefix, err)
		}
		cfg.Server.Port = port
	}
	if v, ok := lookupEnv("CORS_ORIGINS"); ok {
		cfg.Server.CORSOrigins = splitList(v)
	}
	if v, ok := lookupEnv("DATA_BACKEND"); ok {
		cfg.Data.Backend = v
	}
	if v, ok := lookupEnv("DATA_PATH"); ok {
		cfg.Data.Path = v
	}
	if v, ok := lookupEnv("SCREEN_SQLITE_PATH"); ok {
		cfg.Screen.SQLitePath = v
	}
	if v, ok := lookupEnv("COMPARE_METHOD"); ok {
		cfg.Compare.Method = v
	}
	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	if v, ok := lookupEnv("LOG_JSON"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sLOG_JSON: %w", EnvPrefix, err)
		}
		cfg.Log.JSON = b
	}
	return nil
}

func lookupEnv(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if _, err := compare.ParseMethod(c.Compare.Method); err != nil {
		return fmt.Errorf("compare.method: %w", err)
	}
	if c.Compare.MinGroupSize < 1 {
		return fmt.Errorf("compare.min_group_size must be >= 1, got %d", c.Compare.MinGroupSize)
	}
	switch strings.ToLower(c.Data.Backend) {
	case "sqlite", "duckdb":
	default:
		return fmt.Errorf("unknown data.backend %q", c.Data.Backend)
	}
	return nil
}

// CompareOptions converts the compare section for the comparator.
func (c *Config) CompareOptions() compare.Options {
	method, _ := compare.ParseMethod(c.Compare.Method)
	return compare.Options{
		Method:       method,
		Continuity:   c.Compare.Continuity,
		MinGroupSize: c.Compare.MinGroupSize,
	}
}
