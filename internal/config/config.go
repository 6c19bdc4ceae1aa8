// Package config loads bicat settings from defaults, a YAML file and
// BICAT_ environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/bicat/pkg/client"
	"github.com/Sternrassler/bicat/pkg/downloader"
	"github.com/Sternrassler/bicat/pkg/ratelimit"
	"github.com/Sternrassler/bicat/pkg/resolver"
)

// EnvPrefix is the prefix of every environment variable read by LoadFromEnv.
const EnvPrefix = "BICAT_"

// DefaultConcurrency matches the number of simultaneous pipelines the
// tool has always used.
const DefaultConcurrency = 50

// Config defines configuration for the bicat CLI.
type Config struct {
	Concurrency int         `yaml:"concurrency"`
	OutputDir   string      `yaml:"output_dir"`
	MetricsAddr string      `yaml:"metrics_addr"`
	Retry       RetryConfig `yaml:"retry"`
	HTTP        HTTPConfig  `yaml:"http"`
	Log         LogConfig   `yaml:"log"`
	Redis       RedisConfig `yaml:"redis"`
}

// RetryConfig defines download retry behavior.
type RetryConfig struct {
	// Limit is the number of retries after the first attempt.
	Limit   int           `yaml:"limit"`
	Backoff time.Duration `yaml:"backoff"`
}

// HTTPConfig defines the remote API settings.
type HTTPConfig struct {
	BaseURL   string        `yaml:"base_url"`
	UserAgent string        `yaml:"user_agent"`
	Referer   string        `yaml:"referer"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LogConfig defines logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// RedisConfig enables the lookup cache and shared throttle state. An empty
// Addr disables both.
type RedisConfig struct {
	Addr             string        `yaml:"addr"`
	ViewTTL          time.Duration `yaml:"view_ttl"`
	PlayURLTTL       time.Duration `yaml:"playurl_ttl"`
	ThrottleCooldown time.Duration `yaml:"throttle_cooldown"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Concurrency: DefaultConcurrency,
		OutputDir:   ".",
		Retry: RetryConfig{
			Limit:   downloader.DefaultRetryLimit,
			Backoff: downloader.DefaultBaseBackoff,
		},
		HTTP: HTTPConfig{
			BaseURL:   client.DefaultBaseURL,
			UserAgent: client.DefaultUserAgent,
			Referer:   client.DefaultReferer,
			Timeout:   client.DefaultTimeout,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
		Redis: RedisConfig{
			ViewTTL:          resolver.DefaultViewTTL,
			PlayURLTTL:       resolver.DefaultPlayURLTTL,
			ThrottleCooldown: ratelimit.DefaultCooldown,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string durations and
// pointer fields where zero is a meaningful value.
type yamlConfig struct {
	Concurrency int    `yaml:"concurrency"`
	OutputDir   string `yaml:"output_dir"`
	MetricsAddr string `yaml:"metrics_addr"`
	Retry       struct {
		Limit   *int   `yaml:"limit"`
		Backoff string `yaml:"backoff"`
	} `yaml:"retry"`
	HTTP struct {
		BaseURL   string `yaml:"base_url"`
		UserAgent string `yaml:"user_agent"`
		Referer   string `yaml:"referer"`
		Timeout   string `yaml:"timeout"`
	} `yaml:"http"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty *bool  `yaml:"pretty"`
	} `yaml:"log"`
	Redis struct {
		Addr             string `yaml:"addr"`
		ViewTTL          string `yaml:"view_ttl"`
		PlayURLTTL       string `yaml:"playurl_ttl"`
		ThrottleCooldown string `yaml:"throttle_cooldown"`
	} `yaml:"redis"`
}

// LoadFromFile loads configuration from a YAML file on top of Default().
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.Concurrency != 0 {
		cfg.Concurrency = yc.Concurrency
	}
	if yc.OutputDir != "" {
		cfg.OutputDir = yc.OutputDir
	}
	if yc.MetricsAddr != "" {
		cfg.MetricsAddr = yc.MetricsAddr
	}
	if yc.Retry.Limit != nil {
		cfg.Retry.Limit = *yc.Retry.Limit
	}
	if yc.HTTP.BaseURL != "" {
		cfg.HTTP.BaseURL = yc.HTTP.BaseURL
	}
	if yc.HTTP.UserAgent != "" {
		cfg.HTTP.UserAgent = yc.HTTP.UserAgent
	}
	if yc.HTTP.Referer != "" {
		cfg.HTTP.Referer = yc.HTTP.Referer
	}
	if yc.Log.Level != "" {
		cfg.Log.Level = yc.Log.Level
	}
	if yc.Log.Pretty != nil {
		cfg.Log.Pretty = *yc.Log.Pretty
	}
	if yc.Redis.Addr != "" {
		cfg.Redis.Addr = yc.Redis.Addr
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"retry.backoff", yc.Retry.Backoff, &cfg.Retry.Backoff},
		{"http.timeout", yc.HTTP.Timeout, &cfg.HTTP.Timeout},
		{"redis.view_ttl", yc.Redis.ViewTTL, &cfg.Redis.ViewTTL},
		{"redis.playurl_ttl", yc.Redis.PlayURLTTL, &cfg.Redis.PlayURLTTL},
		{"redis.throttle_cooldown", yc.Redis.ThrottleCooldown, &cfg.Redis.ThrottleCooldown},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the BICAT_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := getenv("OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := getenv("METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := getenv("HTTP_BASE_URL"); v != "" {
		c.HTTP.BaseURL = v
	}
	if v := getenv("USER_AGENT"); v != "" {
		c.HTTP.UserAgent = v
	}
	if v := getenv("REFERER"); v != "" {
		c.HTTP.Referer = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("LOG_PRETTY"); v != "" {
		c.Log.Pretty = v == "true" || v == "1"
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"CONCURRENCY", &c.Concurrency},
		{"RETRY_LIMIT", &c.Retry.Limit},
	}
	for _, i := range ints {
		v := getenv(i.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, i.key, err)
		}
		*i.dst = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"RETRY_BACKOFF", &c.Retry.Backoff},
		{"HTTP_TIMEOUT", &c.HTTP.Timeout},
		{"CACHE_VIEW_TTL", &c.Redis.ViewTTL},
		{"CACHE_PLAYURL_TTL", &c.Redis.PlayURLTTL},
		{"THROTTLE_COOLDOWN", &c.Redis.ThrottleCooldown},
	}
	for _, d := range durations {
		v := getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, d.key, err)
		}
		*d.dst = parsed
	}

	return nil
}

func getenv(key string) string {
	return os.Getenv(EnvPrefix + key)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		return errors.New("config: concurrency must be positive")
	}
	if c.OutputDir == "" {
		return errors.New("config: output_dir is required")
	}
	if c.Retry.Limit < 0 {
		return errors.New("config: retry.limit must not be negative")
	}
	if c.Retry.Backoff <= 0 {
		return errors.New("config: retry.backoff must be positive")
	}
	if c.HTTP.Timeout <= 0 {
		return errors.New("config: http.timeout must be positive")
	}
	if c.HTTP.UserAgent == "" {
		return errors.New("config: http.user_agent is required")
	}
	u, err := url.Parse(c.HTTP.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: http.base_url must be an absolute URL (got %q)", c.HTTP.BaseURL)
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.Concurrency != 0 {
		c.Concurrency = override.Concurrency
	}
	if override.OutputDir != "" {
		c.OutputDir = override.OutputDir
	}
	if override.MetricsAddr != "" {
		c.MetricsAddr = override.MetricsAddr
	}
	if override.Retry.Limit != 0 {
		c.Retry.Limit = override.Retry.Limit
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.HTTP.BaseURL != "" {
		c.HTTP.BaseURL = override.HTTP.BaseURL
	}
	if override.HTTP.Timeout != 0 {
		c.HTTP.Timeout = override.HTTP.Timeout
	}
	if override.Log.Level != "" {
		c.Log.Level = override.Log.Level
	}
	if override.Redis.Addr != "" {
		c.Redis.Addr = override.Redis.Addr
	}
	return c
}
