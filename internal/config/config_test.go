package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestFromViperDefaults(t *testing.T) {
	t.Setenv("FLOWSITE_DEV_AUTH_SECRET", "dev-secret")

	cfg, err := FromViper(viper.New())
	if err != nil {
		t.Fatalf("FromViper: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.LandingPath != "/dashboard" || cfg.CookiePrefix != "sb" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.AuthTimeout != 10*time.Second {
		t.Fatalf("expected 10s timeout, got %s", cfg.AuthTimeout)
	}
	if !cfg.PersistentSessions || cfg.CookieSecure {
		t.Fatalf("unexpected cookie defaults: %+v", cfg)
	}
}

func TestFromViperEnvOverrides(t *testing.T) {
	t.Setenv("FLOWSITE_AUTH_URL", "https://project.supabase.co")
	t.Setenv("FLOWSITE_AUTH_ANON_KEY", "anon")
	t.Setenv("FLOWSITE_COOKIE_SECURE", "true")
	t.Setenv("FLOWSITE_RATE_BURST", "3")
	t.Setenv("FLOWSITE_AUTH_TIMEOUT", "2s")

	cfg, err := FromViper(viper.New())
	if err != nil {
		t.Fatalf("FromViper: %v", err)
	}
	if cfg.AuthURL != "https://project.supabase.co" || !cfg.CookieSecure || cfg.RateBurst != 3 || cfg.AuthTimeout != 2*time.Second {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestFromViperYAML(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader("dev_auth_secret: s\nlanding_path: /home\n")); err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	cfg, err := FromViper(v)
	if err != nil {
		t.Fatalf("FromViper: %v", err)
	}
	if cfg.LandingPath != "/home" {
		t.Fatalf("expected yaml value, got %q", cfg.LandingPath)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"no provider", map[string]string{}},
		{"url without key", map[string]string{"FLOWSITE_AUTH_URL": "https://x"}},
		{"relative landing", map[string]string{"FLOWSITE_DEV_AUTH_SECRET": "s", "FLOWSITE_LANDING_PATH": "dashboard"}},
		{"zero rate", map[string]string{"FLOWSITE_DEV_AUTH_SECRET": "s", "FLOWSITE_RATE_PER_SEC": "0"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := FromViper(viper.New()); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestTrustedProxiesFromEnv(t *testing.T) {
	t.Setenv("FLOWSITE_DEV_AUTH_SECRET", "dev-secret")
	t.Setenv("FLOWSITE_TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.5")

	cfg, err := FromViper(viper.New())
	if err != nil {
		t.Fatalf("FromViper: %v", err)
	}
	prefixes, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		t.Fatalf("TrustedProxyPrefixes: %v", err)
	}
	if len(prefixes) != 2 || prefixes[0].String() != "10.0.0.0/8" || prefixes[1].String() != "192.168.1.5/32" {
		t.Fatalf("unexpected prefixes %v", prefixes)
	}
}

func TestTrustedProxiesDefaultEmpty(t *testing.T) {
	t.Setenv("FLOWSITE_DEV_AUTH_SECRET", "dev-secret")
	cfg, err := FromViper(viper.New())
	if err != nil {
		t.Fatalf("FromViper: %v", err)
	}
	if prefixes, _ := cfg.TrustedProxyPrefixes(); len(prefixes) != 0 {
		t.Fatalf("expected no trusted proxies by default, got %v", prefixes)
	}
}

func TestValidateRejectsBadTrustedProxy(t *testing.T) {
	cfg := Config{DevAuthSecret: "s", LandingPath: "/", RateBurst: 1, RatePerSec: 1, TrustedProxies: []string{"not-an-ip"}}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "trusted_proxies") {
		t.Fatalf("expected trusted_proxies error, got %v", err)
	}
}
