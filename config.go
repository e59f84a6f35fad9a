package qbt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Default values for Config fields left at their zero value.
const (
	DefaultRequestTimeout  = 15 * time.Second
	DefaultMaxAttempts     = 3
	DefaultSessionLifetime = time.Hour
)

// DefaultRetryableStatusCodes are resent with backoff.
var DefaultRetryableStatusCodes = []int{408, 429, 500, 502, 503, 504}

// Config contains runtime client settings and credentials.
type Config struct {
	BaseURL  string `envconfig:"BASE_URL"`
	Username string `envconfig:"USERNAME"`
	Password string `envconfig:"PASSWORD"`

	// RequestTimeout bounds every single attempt.
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT"`
	// MaxAttempts is the total number of attempts per call, first one included.
	MaxAttempts int `envconfig:"MAX_ATTEMPTS"`
	// RetryBackoff is the delay after the first failed attempt; doubles afterwards.
	RetryBackoff time.Duration `envconfig:"RETRY_BACKOFF"`
	// RetryJitter is the upper bound of the random delay added to each backoff.
	// A negative value disables jitter.
	RetryJitter time.Duration `envconfig:"RETRY_JITTER"`
	// SessionLifetime is how long a login is trusted before the client logs in
	// again proactively. qBittorrent never reports the real expiry.
	SessionLifetime      time.Duration `envconfig:"SESSION_LIFETIME"`
	RetryableStatusCodes []int         `envconfig:"RETRYABLE_STATUS_CODES"`
	// RequestsPerSecond throttles outgoing attempts; 0 disables throttling.
	RequestsPerSecond float64 `envconfig:"REQUESTS_PER_SECOND"`

	InsecureSkipVerify bool   `envconfig:"INSECURE_SKIP_VERIFY"`
	UserAgent          string `envconfig:"USER_AGENT"`
	Debug              bool   `envconfig:"DEBUG"`

	Logger     *zap.Logger           `ignored:"true"`
	Registerer prometheus.Registerer `ignored:"true"`
	Clock      Clock                 `ignored:"true"`
	FileSystem FileSystem            `ignored:"true"`
}

// withDefaults fills zero values with package defaults.
func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.RetryJitter == 0 {
		c.RetryJitter = DefaultRetryJitter
	}
	if c.SessionLifetime <= 0 {
		c.SessionLifetime = DefaultSessionLifetime
	}
	if len(c.RetryableStatusCodes) == 0 {
		c.RetryableStatusCodes = append([]int(nil), DefaultRetryableStatusCodes...)
	}
	if c.Clock == nil {
		c.Clock = systemClock{}
	}
	if c.FileSystem == nil {
		c.FileSystem = osFileSystem{}
	}
	return c
}

// Validate reports configuration that can never work.
func (c Config) Validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("base url is required"))
	}
	if c.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("requests per second cannot be negative"))
	}
	for _, code := range c.RetryableStatusCodes {
		if code < 100 || code > 599 {
			errs = append(errs, fmt.Errorf("invalid retryable status code %d", code))
		}
	}
	return errors.Join(errs...)
}

// LoadConfig reads the configuration from environment variables, e.g.
// QBT_BASE_URL, QBT_USERNAME, QBT_PASSWORD, QBT_MAX_ATTEMPTS. An empty prefix
// defaults to "QBT".
func LoadConfig(prefix string) (Config, error) {
	if prefix == "" {
		prefix = "QBT"
	}
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

type fileConfig struct {
	BaseURL              string  `toml:"base_url"`
	Username             string  `toml:"username"`
	Password             string  `toml:"password"`
	RequestTimeout       string  `toml:"request_timeout"`
	MaxAttempts          int     `toml:"max_attempts"`
	RetryBackoff         string  `toml:"retry_backoff"`
	RetryJitter          string  `toml:"retry_jitter"`
	SessionLifetime      string  `toml:"session_lifetime"`
	RetryableStatusCodes []int   `toml:"retryable_status_codes"`
	RequestsPerSecond    float64 `toml:"requests_per_second"`
	InsecureSkipVerify   bool    `toml:"insecure_skip_verify"`
	UserAgent            string  `toml:"user_agent"`
	Debug                bool    `toml:"debug"`
}

// LoadConfigFile reads a TOML file. Keys absent from the file keep their
// defaults.
func LoadConfigFile(path string) (Config, error) {
	cfg := Config{}.withDefaults()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load qbt config: %w", err)
	}

	if meta.IsDefined("base_url") {
		cfg.BaseURL = strings.TrimRight(strings.TrimSpace(raw.BaseURL), "/")
	}
	if meta.IsDefined("username") {
		cfg.Username = raw.Username
	}
	if meta.IsDefined("password") {
		cfg.Password = raw.Password
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"request_timeout", raw.RequestTimeout, &cfg.RequestTimeout},
		{"retry_backoff", raw.RetryBackoff, &cfg.RetryBackoff},
		{"retry_jitter", raw.RetryJitter, &cfg.RetryJitter},
		{"session_lifetime", raw.SessionLifetime, &cfg.SessionLifetime},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if meta.IsDefined("max_attempts") {
		cfg.MaxAttempts = raw.MaxAttempts
	}
	if meta.IsDefined("retryable_status_codes") {
		cfg.RetryableStatusCodes = raw.RetryableStatusCodes
	}
	if meta.IsDefined("requests_per_second") {
		cfg.RequestsPerSecond = raw.RequestsPerSecond
	}
	if meta.IsDefined("insecure_skip_verify") {
		cfg.InsecureSkipVerify = raw.InsecureSkipVerify
	}
	if meta.IsDefined("user_agent") {
		cfg.UserAgent = raw.UserAgent
	}
	if meta.IsDefined("debug") {
		cfg.Debug = raw.Debug
	}

	return cfg, nil
}
