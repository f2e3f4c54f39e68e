// Package config holds the rowstream server configuration and loads it
// from flags, ROWSTREAM_* environment variables and an optional config.yaml.
package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Sternrassler/rowstream/pkg/cache"
	"github.com/Sternrassler/rowstream/pkg/logging"
	"github.com/Sternrassler/rowstream/pkg/pipeline"
	"github.com/Sternrassler/rowstream/pkg/protocol"
	"github.com/Sternrassler/rowstream/pkg/ratelimit"
	"github.com/Sternrassler/rowstream/pkg/session"
	"github.com/Sternrassler/rowstream/pkg/upstream"
	"github.com/Sternrassler/rowstream/pkg/validate"
)

const (
	// EnvPrefix prefixes every environment variable, e.g. ROWSTREAM_ADDR.
	EnvPrefix = "ROWSTREAM"

	// DefaultAddr is the TCP address sessions are served on.
	DefaultAddr = "127.0.0.1:3575"
)

// Config is the server configuration.
type Config struct {
	// Addr is the host:port the stream server listens on
	Addr string `mapstructure:"addr"`

	// MetricsAddr serves /metrics; empty disables the metrics listener
	MetricsAddr string `mapstructure:"metricsAddr"`

	Log      LogConfig      `mapstructure:"log"`
	Session  SessionConfig  `mapstructure:"session"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// SessionConfig configures request handling and the fetch pipeline.
type SessionConfig struct {
	ReadTimeout     time.Duration `mapstructure:"readTimeout"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
	MaxRequestBytes int64         `mapstructure:"maxRequestBytes"`
	MaxItems        int           `mapstructure:"maxItems"`
	Fields          []string      `mapstructure:"fields"`
	Workers         int           `mapstructure:"workers"`
	FetchTimeout    time.Duration `mapstructure:"fetchTimeout"`
	ProgressEvery   int           `mapstructure:"progressEvery"`
}

// UpstreamConfig configures the upstream site client.
type UpstreamConfig struct {
	BaseURL      string        `mapstructure:"baseURL"`
	UserAgent    string        `mapstructure:"userAgent"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBodyBytes int64         `mapstructure:"maxBodyBytes"`
}

// RedisConfig configures the optional Redis backing the document cache and
// the rate-limit gate. An empty Addr runs without both.
type RedisConfig struct {
	Addr          string        `mapstructure:"addr"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	CacheMaxTTL   time.Duration `mapstructure:"cacheMaxTTL"`
	ThrottleDelay time.Duration `mapstructure:"throttleDelay"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	pipelineDefaults := pipeline.DefaultConfig()
	upstreamDefaults := upstream.DefaultConfig("https://letterboxd.com", "rowstream/0.1.0")

	return &Config{
		Addr:        DefaultAddr,
		MetricsAddr: ":9090",
		Log: LogConfig{
			Level: string(logging.LevelInfo),
		},
		Session: SessionConfig{
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			MaxRequestBytes: protocol.DefaultMaxRequestBytes,
			MaxItems:        validate.DefaultMaxItems,
			Fields:          append([]string(nil), validate.DefaultFields...),
			Workers:         pipelineDefaults.MaxWorkers,
			FetchTimeout:    pipelineDefaults.FetchTimeout,
			ProgressEvery:   pipelineDefaults.ProgressEvery,
		},
		Upstream: UpstreamConfig{
			BaseURL:      upstreamDefaults.BaseURL,
			UserAgent:    upstreamDefaults.UserAgent,
			Timeout:      upstreamDefaults.Timeout,
			MaxBodyBytes: upstreamDefaults.MaxBodyBytes,
		},
		Redis: RedisConfig{
			CacheMaxTTL:   cache.DefaultMaxTTL,
			ThrottleDelay: ratelimit.DefaultThrottleDelay,
		},
	}
}

// Verify returns an error describing the first invalid setting.
func (c *Config) Verify() error {
	if c.Addr == "" {
		return errors.New("addr is required")
	}
	if err := logging.ValidLevel(logging.LogLevel(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	if c.Session.MaxItems <= 0 || c.Session.MaxItems > math.MaxUint16 {
		return fmt.Errorf("session.maxItems must be between 1 and %d (got %d)", math.MaxUint16, c.Session.MaxItems)
	}
	if c.Session.Workers <= 0 {
		return fmt.Errorf("session.workers must be positive (got %d)", c.Session.Workers)
	}
	if c.Session.FetchTimeout <= 0 {
		return fmt.Errorf("session.fetchTimeout must be positive (got %s)", c.Session.FetchTimeout)
	}
	if c.Session.MaxRequestBytes <= 0 {
		return fmt.Errorf("session.maxRequestBytes must be positive (got %d)", c.Session.MaxRequestBytes)
	}
	if c.Session.ReadTimeout < 0 {
		return fmt.Errorf("session.readTimeout cannot be negative (got %s)", c.Session.ReadTimeout)
	}
	if c.Session.WriteTimeout < 0 {
		return fmt.Errorf("session.writeTimeout cannot be negative (got %s)", c.Session.WriteTimeout)
	}
	if len(c.Session.Fields) == 0 {
		return errors.New("session.fields cannot be empty")
	}

	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream.baseURL must be an absolute URL (got %q)", c.Upstream.BaseURL)
	}
	if c.Upstream.UserAgent == "" {
		return errors.New("upstream.userAgent is required")
	}

	if c.Redis.Addr != "" && c.Redis.CacheMaxTTL <= 0 {
		return fmt.Errorf("redis.cacheMaxTTL must be positive (got %s)", c.Redis.CacheMaxTTL)
	}

	return nil
}

// SessionConfig converts the settings into a session.Config.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		MaxRequestBytes: c.Session.MaxRequestBytes,
		ReadTimeout:     c.Session.ReadTimeout,
		WriteTimeout:    c.Session.WriteTimeout,
		Pipeline: pipeline.Config{
			MaxWorkers:    c.Session.Workers,
			FetchTimeout:  c.Session.FetchTimeout,
			ProgressEvery: c.Session.ProgressEvery,
		},
	}
}

// UpstreamConfig converts the settings into an upstream.Config. The Redis
// client is attached by the caller. Lists are read one item past the
// ceiling so oversize lists are still rejected.
func (c *Config) UpstreamConfig() upstream.Config {
	return upstream.Config{
		BaseURL:       c.Upstream.BaseURL,
		UserAgent:     c.Upstream.UserAgent,
		Timeout:       c.Upstream.Timeout,
		MaxBodyBytes:  c.Upstream.MaxBodyBytes,
		MaxListItems:  c.Session.MaxItems + 1,
		CacheMaxTTL:   c.Redis.CacheMaxTTL,
		ThrottleDelay: c.Redis.ThrottleDelay,
	}
}

// LoggingConfig converts the settings into a logging.Config.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Log.Level)
	cfg.Pretty = c.Log.Pretty
	return cfg
}

// NewViper returns a viper instance reading config.yaml from the given
// paths and ROWSTREAM_* environment variables, with every key defaulted.
// Nested keys map to variables with dots replaced, e.g. session.maxItems
// is ROWSTREAM_SESSION_MAXITEMS.
func NewViper(configPaths ...string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	v.SetDefault("addr", d.Addr)
	v.SetDefault("metricsAddr", d.MetricsAddr)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", d.Log.Pretty)
	v.SetDefault("session.readTimeout", d.Session.ReadTimeout)
	v.SetDefault("session.writeTimeout", d.Session.WriteTimeout)
	v.SetDefault("session.maxRequestBytes", d.Session.MaxRequestBytes)
	v.SetDefault("session.maxItems", d.Session.MaxItems)
	v.SetDefault("session.fields", d.Session.Fields)
	v.SetDefault("session.workers", d.Session.Workers)
	v.SetDefault("session.fetchTimeout", d.Session.FetchTimeout)
	v.SetDefault("session.progressEvery", d.Session.ProgressEvery)
	v.SetDefault("upstream.baseURL", d.Upstream.BaseURL)
	v.SetDefault("upstream.userAgent", d.Upstream.UserAgent)
	v.SetDefault("upstream.timeout", d.Upstream.Timeout)
	v.SetDefault("upstream.maxBodyBytes", d.Upstream.MaxBodyBytes)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.cacheMaxTTL", d.Redis.CacheMaxTTL)
	v.SetDefault("redis.throttleDelay", d.Redis.ThrottleDelay)

	return v
}

// Read returns the configuration from v on top of the defaults. A missing
// config file is not an error.
func Read(v *viper.Viper) (*Config, error) {
	config := DefaultConfig()

	v.SetTypeByDefaultValue(true)
	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return config, nil
}
