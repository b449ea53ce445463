package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Registry     RegistryConfig     `yaml:"registry" mapstructure:"registry"`
	Reachability ReachabilityConfig `yaml:"reachability" mapstructure:"reachability"`
	Scoring      ScoringConfig      `yaml:"scoring" mapstructure:"scoring"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RegistryConfig configures the region cache.
type RegistryConfig struct {
	TTLSecs           int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
	DefaultRegionCode string `yaml:"default_region_code" mapstructure:"default_region_code"`
	RetryAttempts     int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryInitialMs    int    `yaml:"retry_initial_ms" mapstructure:"retry_initial_ms"`
	RetryMaxMs        int    `yaml:"retry_max_ms" mapstructure:"retry_max_ms"`
	BreakerThreshold  int    `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs  int    `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// TTL returns the cache time-to-live.
func (r RegistryConfig) TTL() time.Duration {
	return time.Duration(r.TTLSecs) * time.Second
}

// ReachabilityConfig configures the reachability filter.
type ReachabilityConfig struct {
	MaxOffsetHours   float64 `yaml:"max_offset_hours" mapstructure:"max_offset_hours"`
	WorkdayHours     float64 `yaml:"workday_hours" mapstructure:"workday_hours"`
	BatchConcurrency int     `yaml:"batch_concurrency" mapstructure:"batch_concurrency"`
}

// ScoringConfig configures the scoring service.
type ScoringConfig struct {
	BatchConcurrency int `yaml:"batch_concurrency" mapstructure:"batch_concurrency"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	RatePerSecond  float64  `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	RateBurst      int      `yaml:"rate_burst" mapstructure:"rate_burst"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("REGION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("registry.ttl_secs", 3600)
	v.SetDefault("registry.default_region_code", "GLOBAL")
	v.SetDefault("registry.retry_attempts", 3)
	v.SetDefault("registry.retry_initial_ms", 200)
	v.SetDefault("registry.retry_max_ms", 5000)
	v.SetDefault("registry.breaker_threshold", 5)
	v.SetDefault("registry.breaker_reset_secs", 30)
	v.SetDefault("reachability.max_offset_hours", 6)
	v.SetDefault("reachability.workday_hours", 8)
	v.SetDefault("reachability.batch_concurrency", 8)
	v.SetDefault("scoring.batch_concurrency", 8)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_per_second", 50)
	v.SetDefault("server.rate_burst", 100)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is one of "store"
// (any command touching the database), "serve" or "offline".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "offline":
	case "store", "serve":
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required")
			}
		case "sqlite":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required (sqlite file path)")
			}
		default:
			errs = append(errs, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
		}
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Registry.TTLSecs < 0 {
		errs = append(errs, "registry.ttl_secs must be >= 0")
	}
	if c.Registry.RetryAttempts < 1 || c.Registry.RetryAttempts > 10 {
		errs = append(errs, "registry.retry_attempts must be between 1 and 10")
	}
	if c.Reachability.MaxOffsetHours <= 0 || c.Reachability.MaxOffsetHours > 24 {
		errs = append(errs, "reachability.max_offset_hours must be in (0, 24]")
	}
	if c.Reachability.WorkdayHours <= 0 || c.Reachability.WorkdayHours > 24 {
		errs = append(errs, "reachability.workday_hours must be in (0, 24]")
	}
	if c.Reachability.BatchConcurrency < 1 || c.Reachability.BatchConcurrency > 64 {
		errs = append(errs, "reachability.batch_concurrency must be between 1 and 64")
	}
	if c.Scoring.BatchConcurrency < 1 || c.Scoring.BatchConcurrency > 64 {
		errs = append(errs, "scoring.batch_concurrency must be between 1 and 64")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
