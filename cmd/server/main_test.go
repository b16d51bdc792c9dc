package main

import (
	"testing"

	"github.com/rs/zerolog"

	"tokopos/backend/internal/config"
)

func TestValidateSecurityConfigRejectsShortSecret(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongSecret(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	if got := newLogger("nonsense").GetLevel(); got != zerolog.InfoLevel {
		t.Fatalf("expected info level fallback, got %s", got)
	}
	if got := newLogger("debug").GetLevel(); got != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %s", got)
	}
}
