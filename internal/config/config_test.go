package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	// Clear any existing env vars
	os.Unsetenv("PORT")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("ENV")
	os.Unsetenv("DISPATCH_INTERVAL")
	os.Unsetenv("DISPATCH_GRACE")
	os.Unsetenv("RATE_LIMIT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.LogLevel)
	}

	if cfg.DispatchInterval != time.Minute {
		t.Errorf("expected dispatch interval 1m, got %s", cfg.DispatchInterval)
	}

	if cfg.DispatchGrace != 10*time.Minute {
		t.Errorf("expected dispatch grace 10m, got %s", cfg.DispatchGrace)
	}

	if cfg.DispatchStagger != 2*time.Minute {
		t.Errorf("expected dispatch stagger 2m, got %s", cfg.DispatchStagger)
	}

	if cfg.RateLimit != 120 {
		t.Errorf("expected rate limit 120, got %d", cfg.RateLimit)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("PORT", "9000")
	os.Setenv("ENV", "production")
	os.Setenv("DISPATCH_INTERVAL", "30s")
	os.Setenv("DISPATCH_GRACE", "5m")
	defer func() {
		os.Unsetenv("PORT")
		os.Unsetenv("ENV")
		os.Unsetenv("DISPATCH_INTERVAL")
		os.Unsetenv("DISPATCH_GRACE")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}

	if cfg.Env != "production" {
		t.Errorf("expected env 'production', got %s", cfg.Env)
	}

	if cfg.DispatchInterval != 30*time.Second {
		t.Errorf("expected dispatch interval 30s, got %s", cfg.DispatchInterval)
	}

	if cfg.DispatchGrace != 5*time.Minute {
		t.Errorf("expected dispatch grace 5m, got %s", cfg.DispatchGrace)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	os.Setenv("DISPATCH_INTERVAL", "often")
	defer os.Unsetenv("DISPATCH_INTERVAL")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid DISPATCH_INTERVAL")
	}
}
