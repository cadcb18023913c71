package config

import (
	"errors"
	"time"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`

	JWT     JWTConfig     `mapstructure:"jwt" yaml:"jwt"`
	WS      WSConfig      `mapstructure:"ws" yaml:"ws"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Redis   RedisConfig   `mapstructure:"redis" yaml:"redis"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// JWTConfig configures bearer token validation and the token CLI.
type JWTConfig struct {
	Secret   string        `mapstructure:"secret" yaml:"secret"`
	Issuer   string        `mapstructure:"issuer" yaml:"issuer"`
	Audience string        `mapstructure:"audience" yaml:"audience"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// WSConfig bounds per-connection resources.
type WSConfig struct {
	MaxMessageBytes int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	SendBuffer      int           `mapstructure:"send_buffer" yaml:"send_buffer"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	RateLimit       int           `mapstructure:"rate_limit" yaml:"rate_limit"` // frames per minute, 0 disables
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins,omitempty"`

	// ErrorReplies answers rejected frames with an error frame. When false
	// they are only logged and dropped.
	ErrorReplies bool `mapstructure:"error_replies" yaml:"error_replies"`
}

// StoreConfig sizes the store worker boundary.
type StoreConfig struct {
	Workers int64         `mapstructure:"workers" yaml:"workers"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// RedisConfig enables cross-process fan-out when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Password string        `mapstructure:"password" yaml:"password"`
	DB       int           `mapstructure:"db" yaml:"db"`
	Prefix   string        `mapstructure:"prefix" yaml:"prefix"`
	LockTTL  time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// DevJWTSecret is the out-of-the-box signing secret. Serving with it logs a warning.
const DevJWTSecret = "flopchat-dev-secret-change-me"

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		DatabasePath:      "flopchat.db",
		JWT: JWTConfig{
			Secret:   DevJWTSecret,
			Issuer:   "flopchat",
			Audience: "flopchat",
			TTL:      24 * time.Hour,
		},
		WS: WSConfig{
			MaxMessageBytes: 64 << 10,
			SendBuffer:      64,
			WriteTimeout:    10 * time.Second,
			RateLimit:       600,
			ErrorReplies:    true,
		},
		Store: StoreConfig{
			Workers: 8,
			Timeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			Prefix:  "flopchat:",
			LockTTL: 10 * time.Second,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// Only the fields exposed as command-line flags are considered.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.Redis.Addr != "" {
		c.Redis.Addr = other.Redis.Addr
	}
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	if c.WS.MaxMessageBytes <= 0 {
		errs = append(errs, errors.New("ws.max_message_bytes must be positive"))
	}
	if c.Store.Workers <= 0 {
		errs = append(errs, errors.New("store.workers must be positive"))
	}
	return errors.Join(errs...)
}
