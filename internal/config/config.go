// Package config loads runtime settings from the environment, an optional
// .env file and an optional config.yaml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "FLOWSITE"

type Config struct {
	HTTPAddr    string `mapstructure:"http_addr"`
	DatabaseURL string `mapstructure:"pg_dsn"`

	// AuthURL is the hosted identity provider origin. When empty the
	// in-memory provider signs tokens with DevAuthSecret.
	AuthURL       string        `mapstructure:"auth_url"`
	AuthAnonKey   string        `mapstructure:"auth_anon_key"`
	AuthTimeout   time.Duration `mapstructure:"auth_timeout"`
	DevAuthSecret string        `mapstructure:"dev_auth_secret"`

	SiteURL            string `mapstructure:"site_url"`
	LandingPath        string `mapstructure:"landing_path"`
	CookiePrefix       string `mapstructure:"cookie_prefix"`
	CookieSecure       bool   `mapstructure:"cookie_secure"`
	PersistentSessions bool   `mapstructure:"persistent_sessions"`

	RateBurst  int `mapstructure:"rate_burst"`
	RatePerSec int `mapstructure:"rate_per_sec"`

	// TrustedProxies are IPs or CIDRs whose X-Forwarded-For header is
	// believed. Empty means the socket address is always the client.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

var defaults = map[string]any{
	"http_addr":           ":8080",
	"pg_dsn":              "",
	"auth_url":            "",
	"auth_anon_key":       "",
	"auth_timeout":        "10s",
	"dev_auth_secret":     "",
	"site_url":            "http://localhost:3000",
	"landing_path":        "/dashboard",
	"cookie_prefix":       "sb",
	"cookie_secure":       false,
	"persistent_sessions": true,
	"rate_burst":          10,
	"rate_per_sec":        1,
	"trusted_proxies":     []string{},
}

// Load reads .env (if present), then config.yaml from the working directory
// or /etc/flowsite, then FLOWSITE_* environment variables, which win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/flowsite/")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper applies defaults and environment bindings to v and decodes it.
func FromViper(v *viper.Viper) (*Config, error) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.AuthURL == "" && strings.TrimSpace(c.DevAuthSecret) == "" {
		return errors.New("config: set FLOWSITE_AUTH_URL or FLOWSITE_DEV_AUTH_SECRET")
	}
	if c.AuthURL != "" && c.AuthAnonKey == "" {
		return errors.New("config: FLOWSITE_AUTH_ANON_KEY is required with FLOWSITE_AUTH_URL")
	}
	if !strings.HasPrefix(c.LandingPath, "/") {
		return fmt.Errorf("config: landing_path must start with /, got %q", c.LandingPath)
	}
	if c.RateBurst <= 0 || c.RatePerSec <= 0 {
		return errors.New("config: rate_burst and rate_per_sec must be positive")
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		return err
	}
	return nil
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address becomes a
// single-host prefix.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("config: trusted_proxies: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("config: trusted_proxies: %w", err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
