package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{
		"TWITCH_SCOPES", "YT_SCOPES", "REDIRECT_URI", "DB_DSN",
		"RELAY_POLL_INTERVAL", "TOKEN_REFRESH_SKEW", "RELAY_DISPATCH_CONCURRENCY",
	} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", cfg.PollInterval)
	}
	if cfg.RefreshSkew != 60*time.Second {
		t.Errorf("RefreshSkew = %v, want 60s", cfg.RefreshSkew)
	}
	if cfg.DispatchConcurrency != 4 {
		t.Errorf("DispatchConcurrency = %d, want 4", cfg.DispatchConcurrency)
	}
	if cfg.TwitchScopes != "chat:read chat:edit" {
		t.Errorf("TwitchScopes = %q", cfg.TwitchScopes)
	}
	if cfg.RedirectURI == "" || cfg.DBDsn == "" {
		t.Error("expected non-empty RedirectURI and DBDsn defaults")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RELAY_POLL_INTERVAL", "10s")
	t.Setenv("TOKEN_REFRESH_SKEW", "2m")
	t.Setenv("RELAY_DISPATCH_CONCURRENCY", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.PollInterval != 10*time.Second {
		t.Errorf("PollInterval = %v, want 10s", cfg.PollInterval)
	}
	if cfg.RefreshSkew != 2*time.Minute {
		t.Errorf("RefreshSkew = %v, want 2m", cfg.RefreshSkew)
	}
	if cfg.DispatchConcurrency != 8 {
		t.Errorf("DispatchConcurrency = %d, want 8", cfg.DispatchConcurrency)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"RELAY_POLL_INTERVAL":        "soon",
		"TOKEN_REFRESH_SKEW":         "-1m",
		"RELAY_DISPATCH_CONCURRENCY": "0",
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv(k, v)
			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%q: expected error", k, v)
			}
		})
	}
}

func TestValidateRelayReady(t *testing.T) {
	cfg := &Config{
		TwitchClientID:     "id",
		TwitchClientSecret: "secret",
		TwitchBotUsername:  "relaybot",
		TwitchBotToken:     "oauth:abc",
		YTClientID:         "yid",
		YTClientSecret:     "ysecret",
	}
	if err := cfg.ValidateRelayReady(); err != nil {
		t.Fatalf("complete config should validate: %v", err)
	}

	missing := *cfg
	missing.YTClientSecret = ""
	err := missing.ValidateRelayReady()
	if err == nil {
		t.Fatal("expected error for missing YT_CLIENT_SECRET")
	}
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %T, want *ConfigError", err)
	}
	if len(ce.Missing) != 1 || ce.Missing[0] != "YT_CLIENT_SECRET" {
		t.Fatalf("Missing = %v", ce.Missing)
	}
	missing = *cfg
	missing.TwitchBotToken = ""
	if err := missing.ValidateRelayReady(); err == nil {
		t.Error("expected error for missing TWITCH_BOT_TOKEN")
	}
}
