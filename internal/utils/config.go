package utils

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// PostgresConfig describes how to reach the rendered output ledger.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// Config is the full service configuration.
type Config struct {
	Server struct {
		Host    string `yaml:"host"`
		Port    string `yaml:"port"`
		Prefork bool   `yaml:"prefork"`
	} `yaml:"server"`

	Limits struct {
		MaxUploadBytes int `yaml:"max_upload_bytes"`
	} `yaml:"limits"`

	Logger struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`

	Cache struct {
		RenderCacheEnabled bool          `yaml:"render_cache_enabled"`
		RenderCacheTTL     time.Duration `yaml:"render_cache_ttl"`
		RedisHost          string        `yaml:"redis_host"`
		RateLimitDB        int           `yaml:"redis_rate_db"`
		RenderCacheDB      int           `yaml:"redis_render_db"`
	} `yaml:"cache"`

	RateLimiter struct {
		EnableUserLimiter bool          `yaml:"enable_user_limiter"`
		UserLimit         int           `yaml:"user_limit"`
		Interval          time.Duration `yaml:"interval"`
	} `yaml:"rate_limiter"`

	Convert struct {
		ScratchDir    string `yaml:"scratch_dir"`
		Rasterizer    string `yaml:"rasterizer"`
		PdftoppmPath  string `yaml:"pdftoppm_path"`
		DefaultFormat string `yaml:"default_format"`
		DefaultDPI    int    `yaml:"default_dpi"`
		TimeoutSecs   int    `yaml:"timeout_secs"`
		JPEGQuality   int    `yaml:"jpeg_quality"`
	} `yaml:"convert"`

	Ledger struct {
		Postgres PostgresConfig `yaml:"postgres"`
	} `yaml:"ledger"`
}

// AppConfig holds the most recently loaded configuration.
var AppConfig Config

var configMu sync.RWMutex

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() Config {
	var cfg Config
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = ":8000"
	cfg.Limits.MaxUploadBytes = 50 * 1024 * 1024
	cfg.Logger.Level = "info"
	cfg.Logger.MaxSizeMB = 10
	cfg.Logger.MaxBackups = 3
	cfg.Logger.MaxAgeDays = 28
	cfg.Cache.RenderCacheTTL = 10 * time.Minute
	cfg.Cache.RedisHost = "127.0.0.1:6379"
	cfg.Cache.RenderCacheDB = 1
	cfg.RateLimiter.Interval = time.Minute
	cfg.Convert.ScratchDir = "temp_images"
	cfg.Convert.Rasterizer = "fitz"
	cfg.Convert.PdftoppmPath = "pdftoppm"
	cfg.Convert.DefaultFormat = "png"
	cfg.Convert.DefaultDPI = 300
	cfg.Convert.JPEGQuality = 95
	return cfg
}

// LoadConfig reads the file named by CONFIG_PATH (default "config.yaml"),
// stores it as AppConfig and returns it. It panics on invalid values.
func LoadConfig() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	cfg := LoadFrom(path)
	if v := os.Getenv("PDFTOPPM_BIN"); v != "" {
		cfg.Convert.PdftoppmPath = v
	}
	setConfig(cfg)
	return cfg
}

// LoadFrom reads the YAML file at path on top of DefaultConfig. A missing
// file yields the defaults.
func LoadFrom(path string) Config {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	case err != nil:
		panic(fmt.Sprintf("cannot read config %s: %v", path, err))
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			panic(fmt.Sprintf("cannot parse config %s: %v", path, err))
		}
	}

	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("invalid config %s: %v", path, err))
	}
	return cfg
}

// Validate reports the first configuration value the service cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Convert.ScratchDir) == "" {
		return errors.New("convert.scratch_dir must not be empty")
	}
	switch c.Convert.Rasterizer {
	case "fitz", "pdftoppm":
	default:
		return fmt.Errorf("convert.rasterizer %q is not one of fitz, pdftoppm", c.Convert.Rasterizer)
	}
	if c.Convert.DefaultDPI <= 0 {
		return errors.New("convert.default_dpi must be positive")
	}
	if c.Convert.DefaultFormat == "" {
		return errors.New("convert.default_format must not be empty")
	}
	if c.Convert.TimeoutSecs < 0 {
		return errors.New("convert.timeout_secs must not be negative")
	}
	if c.Convert.JPEGQuality < 1 || c.Convert.JPEGQuality > 100 {
		return errors.New("convert.jpeg_quality must be between 1 and 100")
	}
	if c.Limits.MaxUploadBytes <= 0 {
		return errors.New("limits.max_upload_bytes must be positive")
	}
	if c.RateLimiter.UserLimit < 0 {
		return errors.New("rate_limiter.user_limit must not be negative")
	}
	if (c.RateLimiter.EnableUserLimiter || c.RateLimiter.UserLimit > 0) && c.RateLimiter.Interval <= 0 {
		return errors.New("rate_limiter.interval must be positive")
	}
	return nil
}

func setConfig(cfg Config) {
	configMu.Lock()
	AppConfig = cfg
	configMu.Unlock()
}

// GetConfig returns the configuration stored by LoadConfig.
func GetConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return AppConfig
}
