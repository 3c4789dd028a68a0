package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DISPATCH_INTERVAL_SECONDS", "")
	t.Setenv("SYNC_INTERVAL_SECONDS", "")
	t.Setenv("SYNC_BATCH_LIMIT", "")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
	if cfg.DispatchIntervalSeconds != 60 || cfg.SyncIntervalSeconds != 300 || cfg.SyncBatchLimit != 50 {
		t.Fatalf("unexpected job defaults: %+v", cfg)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected default token ttl 480, got %d", cfg.AccessTokenTTLMinutes)
	}
}

func TestLoadOverridesAndClamps(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SYNC_INTERVAL_SECONDS", "not-a-number")
	t.Setenv("SYNC_BATCH_LIMIT", "-5")
	t.Setenv("COURIER_BASE_URL", "https://courier.example.com/")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected port override, got %s", cfg.Port)
	}
	if cfg.SyncIntervalSeconds != 300 || cfg.SyncBatchLimit != 50 {
		t.Fatalf("invalid values must fall back to defaults: %+v", cfg)
	}
	if cfg.Courier.BaseURL != "https://courier.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %s", cfg.Courier.BaseURL)
	}
}

func TestCourierConfigValidate(t *testing.T) {
	var empty CourierConfig
	if err := empty.Validate(); err == nil {
		t.Fatalf("expected validation failure for empty config")
	}

	partial := CourierConfig{BaseURL: "https://courier.example.com", ClientID: "id"}
	if err := partial.Validate(); err == nil {
		t.Fatalf("expected validation failure for partial credentials")
	}

	full := CourierConfig{
		BaseURL:      "https://courier.example.com",
		ClientID:     "id",
		ClientSecret: "secret",
		Username:     "merchant",
		Password:     "pw",
	}
	if err := full.Validate(); err != nil {
		t.Fatalf("expected full config to validate, got %v", err)
	}
}
