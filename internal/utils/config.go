package utils

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds the last configuration returned by LoadConfig. Middleware
// that has no access to the request-scoped config reads it via GetConfig.
var AppConfig Config

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    string `yaml:"port"`
	Prefork bool   `yaml:"prefork"`
}

// LoggerConfig configures the rotating file logger.
type LoggerConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	Level      string `yaml:"level"`
}

// CacheConfig points at the Redis instance backing the rate limiter store.
type CacheConfig struct {
	RedisHost   string `yaml:"redis_host"`
	RateLimitDB int    `yaml:"rate_limit_db"`
}

// RateLimiterConfig configures the sliding-window limiters.
type RateLimiterConfig struct {
	Interval          time.Duration
	UserLimit         int
	EnableUserLimiter bool
}

// UnmarshalYAML accepts Go duration strings ("1m", "1h") for the interval.
func (c *RateLimiterConfig) UnmarshalYAML(n *yaml.Node) error {
	var raw struct {
		Interval          string `yaml:"interval"`
		UserLimit         int    `yaml:"user_limit"`
		EnableUserLimiter bool   `yaml:"enable_user_limiter"`
	}
	if err := n.Decode(&raw); err != nil {
		return err
	}
	if raw.Interval != "" {
		d, err := time.ParseDuration(raw.Interval)
		if err != nil {
			return fmt.Errorf("rate_limiter.interval: %w", err)
		}
		c.Interval = d
	}
	c.UserLimit = raw.UserLimit
	c.EnableUserLimiter = raw.EnableUserLimiter
	return nil
}

// AuthConfig configures the optional Postgres-backed API token store. Auth is
// disabled entirely when the DSN is empty.
type AuthConfig struct {
	PostgresDSN    string
	ReloadInterval time.Duration
}

// UnmarshalYAML accepts a Go duration string for the reload interval.
func (c *AuthConfig) UnmarshalYAML(n *yaml.Node) error {
	var raw struct {
		PostgresDSN    string `yaml:"postgres_dsn"`
		ReloadInterval string `yaml:"reload_interval"`
	}
	if err := n.Decode(&raw); err != nil {
		return err
	}
	if raw.ReloadInterval != "" {
		d, err := time.ParseDuration(raw.ReloadInterval)
		if err != nil {
			return fmt.Errorf("auth.reload_interval: %w", err)
		}
		c.ReloadInterval = d
	}
	c.PostgresDSN = raw.PostgresDSN
	return nil
}

// WFSConfig points at the geospatial feature service holding the stops.
type WFSConfig struct {
	URL         string `yaml:"url"`
	TypeName    string `yaml:"type_name"`
	SRSName     string `yaml:"srs_name"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// ImagesConfig holds the URL templates for the two raster sources. The map
// print template carries a literal "{gid}" placeholder.
type ImagesConfig struct {
	MapPrintURL  string `yaml:"map_print_url"`
	MediaBaseURL string `yaml:"media_base_url"`
	TimeoutSecs  int    `yaml:"timeout_secs"`
}

// Config is the root service configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logger      LoggerConfig      `yaml:"logger"`
	Cache       CacheConfig       `yaml:"cache"`
	RateLimiter RateLimiterConfig `yaml:"rate_limiter"`
	Auth        AuthConfig        `yaml:"auth"`
	WFS         WFSConfig         `yaml:"wfs"`
	Images      ImagesConfig      `yaml:"images"`
}

// LoadConfig reads the YAML config from CONFIG_PATH (or ./config.yaml),
// applies defaults and stores the result in AppConfig. A missing file yields
// the defaults; an unreadable file panics since the service cannot start with
// half a configuration.
func LoadConfig() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}

	var cfg Config
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			panic(fmt.Sprintf("invalid config %s: %v", path, err))
		}
	} else if !os.IsNotExist(err) {
		panic(fmt.Sprintf("cannot read config %s: %v", path, err))
	}

	applyDefaults(&cfg)
	AppConfig = cfg
	return cfg
}

// GetConfig returns the configuration loaded by the last LoadConfig call.
func GetConfig() Config {
	return AppConfig
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8080"
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Cache.RedisHost == "" {
		cfg.Cache.RedisHost = "localhost:6379"
	}
	if cfg.RateLimiter.Interval <= 0 {
		cfg.RateLimiter.Interval = time.Minute
	}
	if cfg.Auth.ReloadInterval <= 0 {
		cfg.Auth.ReloadInterval = time.Minute
	}
	if cfg.WFS.URL == "" {
		cfg.WFS.URL = "https://data.mobility.brussels/geoserver/bm_public_transport/wfs"
	}
	if cfg.WFS.TypeName == "" {
		cfg.WFS.TypeName = "bm_public_transport:Collecto_stops"
	}
	if cfg.WFS.SRSName == "" {
		cfg.WFS.SRSName = "EPSG:3812"
	}
	if cfg.WFS.TimeoutSecs <= 0 {
		cfg.WFS.TimeoutSecs = 20
	}
	if cfg.Images.MapPrintURL == "" {
		cfg.Images.MapPrintURL = "http://localhost:5555/?SERVICE=WMS&VERSION=1.3.0&REQUEST=GetPrint&MAP=/data/collecto.qgz&TEMPLATE=stoplayout&FORMAT=png&CRS=EPSG:3812&DPI=50&ATLAS_PK={gid}"
		Warn("images.map_print_url not configured, using the local QGIS print server default")
	}
	if cfg.Images.MediaBaseURL == "" {
		cfg.Images.MediaBaseURL = "https://data.mobility.brussels/media/"
	}
	if cfg.Images.TimeoutSecs <= 0 {
		cfg.Images.TimeoutSecs = 20
	}
}
