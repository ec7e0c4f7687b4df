// Package config loads the donation portal configuration from a YAML file,
// an optional .env file and environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort            = 8080
	DefaultBackendBaseURL  = "http://localhost:5000"
	DefaultCurrency        = "INR"
	DefaultPageSize        = 20
	DefaultCacheTTL        = 2 * time.Minute
	DefaultRequestTimeout  = 30 * time.Second
	DefaultSessionTTL      = 12 * time.Hour
	DefaultCheckoutTTL     = 2 * time.Hour
	DefaultScriptURL       = "https://checkout.razorpay.com/v1/checkout.js"
	DefaultButtonScriptURL = "https://checkout.razorpay.com/v1/payment-button.js"
	DefaultTurnstileScript = "https://challenges.cloudflare.com/turnstile/v0/api.js"
)

// DefaultPresetAmounts are the amount buttons shown on the donation form, in whole currency units.
var DefaultPresetAmounts = []int64{30, 50, 100, 500, 1000, 1500}

// Config is the root configuration of the donation portal.
type Config struct {
	Host  string `yaml:"host" env:"HOST"`
	Port  int    `yaml:"port" env:"PORT"`
	Debug bool   `yaml:"debug" env:"DEBUG"`

	LoggingToFile bool   `yaml:"logging-to-file" env:"LOGGING_TO_FILE"`
	LogFile       string `yaml:"log-file" env:"LOG_FILE"`
	LogMaxSizeMB  int    `yaml:"log-max-size-mb"`
	LogMaxBackups int    `yaml:"log-max-backups"`

	// ProxyURL routes backend calls through an http(s) or socks5 proxy.
	ProxyURL string `yaml:"proxy-url" env:"PROXY_URL"`

	// CampaignOver closes the checkout and shows the closing notice instead.
	CampaignOver bool `yaml:"campaign-over" env:"CAMPAIGN_OVER"`

	Backend   BackendConfig   `yaml:"backend"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Turnstile TurnstileConfig `yaml:"turnstile"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Audit     AuditConfig     `yaml:"audit"`
}

// BackendConfig points at the REST backend that owns orders and transactions.
type BackendConfig struct {
	BaseURL        string        `yaml:"base-url" env:"VITE_API_BASE_URL"`
	RequestTimeout time.Duration `yaml:"request-timeout" env:"BACKEND_REQUEST_TIMEOUT"`
}

// GatewayConfig holds the public, browser-facing payment gateway settings.
type GatewayConfig struct {
	KeyID           string  `yaml:"key-id" env:"VITE_RAZORPAY_KEY_ID"`
	ButtonID        string  `yaml:"button-id" env:"VITE_RAZORPAY_BUTTON_ID"`
	ScriptURL       string  `yaml:"script-url"`
	ButtonScriptURL string  `yaml:"button-script-url"`
	Currency        string  `yaml:"currency" env:"DONATION_CURRENCY"`
	MerchantName    string  `yaml:"merchant-name"`
	Description     string  `yaml:"description"`
	ThemeColor      string  `yaml:"theme-color"`
	PresetAmounts   []int64 `yaml:"preset-amounts"`
}

// TurnstileConfig configures the bot-verification widget.
type TurnstileConfig struct {
	SiteKey   string `yaml:"site-key" env:"VITE_TURNSTILE_SITE_KEY"`
	ScriptURL string `yaml:"script-url"`
}

// DashboardConfig configures the internal transactions dashboard.
type DashboardConfig struct {
	// AccessKey is the shared dashboard key. A value starting with "$2" is treated as a bcrypt hash.
	AccessKey  string        `yaml:"access-key" env:"VITE_DASHBOARD_ACCESS_KEY"`
	AccessKeys []string      `yaml:"access-keys"`
	SessionTTL time.Duration `yaml:"session-ttl"`
	PageSize   int           `yaml:"page-size"`
	CacheTTL   time.Duration `yaml:"cache-ttl"`
	Timezone   string        `yaml:"timezone" env:"DASHBOARD_TIMEZONE"`
}

// SMTPConfig enables donor receipt emails when Host and From are set.
type SMTPConfig struct {
	Host     string `yaml:"host" env:"SMTP_HOST"`
	Port     string `yaml:"port" env:"SMTP_PORT"`
	User     string `yaml:"user" env:"SMTP_USER"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
	From     string `yaml:"from" env:"MAIL_FROM"`
}

// AuditConfig enables the Postgres checkout audit journal when DatabaseURL is set.
type AuditConfig struct {
	DatabaseURL string `yaml:"database-url" env:"DATABASE_URL"`
}

// Default returns a configuration populated with default values only.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadDotEnv loads variables from the given .env files. Missing files are not an error.
func LoadDotEnv(paths ...string) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				log.WithField("path", path).Debug("no .env file found")
				continue
			}
			log.WithError(err).WithField("path", path).Warn("could not load .env file")
		}
	}
}

// LoadConfig reads the YAML file at path (if any), then applies environment
// overrides and defaults. An empty path yields a configuration built from the
// environment alone.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment overrides: %w", err)
	}

	cfg.applyDefaults()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if c.LogFile == "" {
		c.LogFile = "logs/donation-portal.log"
	}
	if c.LogMaxSizeMB <= 0 {
		c.LogMaxSizeMB = 50
	}
	if c.LogMaxBackups <= 0 {
		c.LogMaxBackups = 5
	}
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = DefaultBackendBaseURL
	}
	if c.Backend.RequestTimeout <= 0 {
		c.Backend.RequestTimeout = DefaultRequestTimeout
	}
	if c.Gateway.ScriptURL == "" {
		c.Gateway.ScriptURL = DefaultScriptURL
	}
	if c.Gateway.ButtonScriptURL == "" {
		c.Gateway.ButtonScriptURL = DefaultButtonScriptURL
	}
	if c.Gateway.Currency == "" {
		c.Gateway.Currency = DefaultCurrency
	}
	if c.Gateway.MerchantName == "" {
		c.Gateway.MerchantName = "Sahara Donation Drive"
	}
	if c.Gateway.Description == "" {
		c.Gateway.Description = "Donation"
	}
	if c.Gateway.ThemeColor == "" {
		c.Gateway.ThemeColor = "#14b8a6"
	}
	if len(c.Gateway.PresetAmounts) == 0 {
		c.Gateway.PresetAmounts = append([]int64(nil), DefaultPresetAmounts...)
	}
	if c.Turnstile.ScriptURL == "" {
		c.Turnstile.ScriptURL = DefaultTurnstileScript
	}
	if c.Dashboard.SessionTTL <= 0 {
		c.Dashboard.SessionTTL = DefaultSessionTTL
	}
	if c.Dashboard.PageSize <= 0 {
		c.Dashboard.PageSize = DefaultPageSize
	}
	if c.Dashboard.CacheTTL <= 0 {
		c.Dashboard.CacheTTL = DefaultCacheTTL
	}
	if c.SMTP.Port == "" {
		c.SMTP.Port = "587"
	}
}

func (c *Config) normalize() {
	c.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(c.Backend.BaseURL), "/")
	c.Gateway.KeyID = strings.TrimSpace(c.Gateway.KeyID)
	c.Gateway.Currency = strings.ToUpper(strings.TrimSpace(c.Gateway.Currency))
	c.Turnstile.SiteKey = strings.TrimSpace(c.Turnstile.SiteKey)
	c.ProxyURL = strings.TrimSpace(c.ProxyURL)

	keys := make([]string, 0, len(c.Dashboard.AccessKeys))
	for _, key := range c.Dashboard.AccessKeys {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}
	c.Dashboard.AccessKeys = keys
	c.Dashboard.AccessKey = strings.TrimSpace(c.Dashboard.AccessKey)
}

// Validate reports configuration values that would make the service unusable.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid backend base-url %q", c.Backend.BaseURL)
	}
	if c.ProxyURL != "" {
		p, err := url.Parse(c.ProxyURL)
		if err != nil || p.Scheme == "" {
			return fmt.Errorf("invalid proxy-url %q", c.ProxyURL)
		}
	}
	for _, amount := range c.Gateway.PresetAmounts {
		if amount <= 0 {
			return fmt.Errorf("preset amount must be positive, got %d", amount)
		}
	}
	if c.Dashboard.Timezone != "" {
		if _, err := time.LoadLocation(c.Dashboard.Timezone); err != nil {
			return fmt.Errorf("invalid dashboard timezone %q: %w", c.Dashboard.Timezone, err)
		}
	}
	return nil
}

// DashboardAccessKeys returns every configured dashboard key (plain or bcrypt hashed).
func (c *Config) DashboardAccessKeys() []string {
	if c == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Dashboard.AccessKeys)+1)
	if c.Dashboard.AccessKey != "" {
		keys = append(keys, c.Dashboard.AccessKey)
	}
	return append(keys, c.Dashboard.AccessKeys...)
}

// Location returns the timezone used to render dashboard dates.
func (c *Config) Location() *time.Location {
	if c == nil || c.Dashboard.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Dashboard.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ReceiptsEnabled reports whether donor receipt emails can be sent.
func (c *Config) ReceiptsEnabled() bool {
	return c != nil && c.SMTP.Host != "" && c.SMTP.From != ""
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
