package core

import (
	"fmt"
	"strings"
	"time"
)

type PlatformConfig struct {
	ClientID      string `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret  string `koanf:"client_secret" mapstructure:"client_secret"`
	RedirectURI   string `koanf:"redirect_uri" mapstructure:"redirect_uri"`
	AccessToken   string `koanf:"access_token" mapstructure:"access_token"`
	BotToken      string `koanf:"bot_token" mapstructure:"bot_token"`
	PhoneNumberID string `koanf:"phone_number_id" mapstructure:"phone_number_id"`
}

func (c PlatformConfig) empty() bool {
	return c == PlatformConfig{}
}

type RetryConfig struct {
	MaxRetries         int  `koanf:"max_retries" mapstructure:"max_retries"`
	BaseDelayMS        int  `koanf:"base_delay_ms" mapstructure:"base_delay_ms"`
	MaxDelayMS         int  `koanf:"max_delay_ms" mapstructure:"max_delay_ms"`
	ExponentialBackoff bool `koanf:"exponential_backoff" mapstructure:"exponential_backoff"`
}

func (c RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

func (c RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMS) * time.Millisecond
}

type RateConfig struct {
	GlobalLimit         int `koanf:"global_limit" mapstructure:"global_limit"`
	GlobalWindowSeconds int `koanf:"global_window_seconds" mapstructure:"global_window_seconds"`
}

func (c RateConfig) GlobalWindow() time.Duration {
	return time.Duration(c.GlobalWindowSeconds) * time.Second
}

type StorageConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
	Path   string `koanf:"path" mapstructure:"path"`
}

type HTTPConfig struct {
	Addr string `koanf:"addr" mapstructure:"addr"`
}

type RefreshConfig struct {
	IntervalSeconds int `koanf:"interval_seconds" mapstructure:"interval_seconds"`
	// LeadSeconds is how long before expiry a scheduled refresh fires.
	LeadSeconds int `koanf:"lead_seconds" mapstructure:"lead_seconds"`
}

func (c RefreshConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c RefreshConfig) Lead() time.Duration {
	return time.Duration(c.LeadSeconds) * time.Second
}

type Config struct {
	ServiceName string                    `koanf:"service_name" mapstructure:"service_name"`
	RedirectURI string                    `koanf:"redirect_uri" mapstructure:"redirect_uri"`
	Platforms   map[string]PlatformConfig `koanf:"platforms" mapstructure:"platforms"`
	Retry       RetryConfig               `koanf:"retry" mapstructure:"retry"`
	Rate        RateConfig                `koanf:"rate" mapstructure:"rate"`
	Storage     StorageConfig             `koanf:"storage" mapstructure:"storage"`
	HTTP        HTTPConfig                `koanf:"http" mapstructure:"http"`
	Refresh     RefreshConfig             `koanf:"refresh" mapstructure:"refresh"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "autoreply",
		RedirectURI: "http://localhost:8080/oauth/callback",
		Platforms:   map[string]PlatformConfig{},
		Retry: RetryConfig{
			MaxRetries:         3,
			BaseDelayMS:        1000,
			MaxDelayMS:         10000,
			ExponentialBackoff: true,
		},
		Rate: RateConfig{
			GlobalLimit:         1000,
			GlobalWindowSeconds: 3600,
		},
		Storage: StorageConfig{
			Driver: "memory",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Refresh: RefreshConfig{
			IntervalSeconds: 300,
			LeadSeconds:     300,
		},
	}
}

// Platform returns the credentials block for a platform. The per-platform redirect
// URI falls back to the service-wide one.
func (c Config) Platform(platform Platform) PlatformConfig {
	cfg := c.Platforms[string(platform)]
	if strings.TrimSpace(cfg.RedirectURI) == "" {
		cfg.RedirectURI = c.RedirectURI
	}
	return cfg
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Retry.MaxRetries < 1 {
		return fmt.Errorf("core: retry.max_retries must be at least 1")
	}
	if c.Retry.BaseDelayMS < 0 || c.Retry.MaxDelayMS < 0 {
		return fmt.Errorf("core: retry delays must not be negative")
	}
	if c.Rate.GlobalLimit < 1 || c.Rate.GlobalWindowSeconds < 1 {
		return fmt.Errorf("core: rate.global_limit and rate.global_window_seconds must be positive")
	}
	for name := range c.Platforms {
		if !NormalizePlatform(name).Known() {
			return fmt.Errorf("core: platforms.%s is not a supported platform", name)
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "memory", "badger", "sqlite", "sqlite3", "postgres":
	default:
		return fmt.Errorf("core: storage.driver %q is invalid", c.Storage.Driver)
	}
	return nil
}
