package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadFallbacks(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("STATS_CACHE_TTL_SECONDS", "bogus")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "-3")
	t.Setenv("DEFAULT_TIMEZONE", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("port fallback: got %q", cfg.Port)
	}
	if cfg.StatsCacheTTLSeconds != 30 {
		t.Fatalf("stats ttl fallback: got %d", cfg.StatsCacheTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("token ttl fallback: got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.DefaultTimezone != "Asia/Jakarta" {
		t.Fatalf("timezone fallback: got %q", cfg.DefaultTimezone)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("address: got %q", cfg.Address())
	}
}
