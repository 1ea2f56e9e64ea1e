package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	Environment string `toml:"environment"`

	// logging
	LogLevel      string `toml:"log_level"`
	LogsPath      string `toml:"logs_path"`
	LogToStdout   bool   `toml:"log_to_stdout"`
	SentryEnabled bool   `toml:"sentry_enabled"`

	// postgres
	PostgresHost     string `toml:"postgres_host"`
	PostgresPort     string `toml:"postgres_port"`
	PostgresDBName   string `toml:"postgres_db_name"`
	PostgresMaxConns int    `toml:"postgres_max_conns"`
	// max seconds to wait for a new connection to be established
	PostgresConnectTimeoutSeconds int `toml:"postgres_connect_timeout_seconds"`

	// redis, used for rate limiting of mutating endpoints
	RedisHost string `toml:"redis_host"`
	RedisPort string `toml:"redis_port"`

	// prometheus metrics server
	PrometheusMetricsHost string `toml:"prom_metrics_host"`
	PrometheusMetricsPort string `toml:"prom_metrics_port"`

	// thumbnail object store
	ThumbnailsBucket     string `toml:"thumbnails_bucket"`
	ThumbnailsKeyPrefix  string `toml:"thumbnails_key_prefix"`
	ThumbnailsRegion     string `toml:"thumbnails_region"`
	ThumbnailsPublicBase string `toml:"thumbnails_public_base"`
	// where thumbnail uploads get staged before going to the object store
	ThumbnailStagingDir string `toml:"thumbnail_staging_dir"`

	MutationsRateLimitPerMin int      `toml:"mutations_rate_limit_per_min"`
	CorsAllowedOrigins       []string `toml:"cors_allowed_origins"`
}

func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Environment) != "production"
}

type Toml struct {
	Development *Config
	Production  *Config
}

func (t *Toml) Get(env string) (*Config, error) {
	switch strings.ToLower(env) {
	case "dev", "development":
		return t.Development, nil
	case "prod", "production":
		return t.Production, nil
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
}

func Load(env, path string) (*Config, error) {
	var tomlCfg Toml
	if _, err := toml.DecodeFile(path, &tomlCfg); err != nil {
		return nil, fmt.Errorf("decode config file %s: %w", path, err)
	}

	cfg, err := tomlCfg.Get(env)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("no config section for env: %s", env)
	}

	if cfg.MutationsRateLimitPerMin <= 0 {
		cfg.MutationsRateLimitPerMin = 30
	}

	return cfg, nil
}
