package config

import (
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.BaseURL == "" || cfg.CookieName == "" {
		t.Fatalf("incomplete defaults: %+v", cfg)
	}
	if cfg.MaxConcurrent != 5 || cfg.FailureThreshold != 5 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("NODEBRIDGE_URL", "http://localhost:9999/")
	t.Setenv("NODEBRIDGE_COOKIE_NAME", "session")
	t.Setenv("NODEBRIDGE_FAILURE_THRESHOLD", "7")
	t.Setenv("NODEBRIDGE_RESET_TIMEOUT", "5s")
	t.Setenv("NODEBRIDGE_CALLS_PER_SECOND", "2.5")

	cfg := FromEnv()
	if cfg.BaseURL != "http://localhost:9999/" {
		t.Fatalf("base url = %q", cfg.BaseURL)
	}
	if cfg.CookieName != "session" {
		t.Fatalf("cookie name = %q", cfg.CookieName)
	}
	if cfg.FailureThreshold != 7 {
		t.Fatalf("failure threshold = %d", cfg.FailureThreshold)
	}
	if cfg.ResetTimeout != 5*time.Second {
		t.Fatalf("reset timeout = %v", cfg.ResetTimeout)
	}
	if cfg.CallsPerSecond != 2.5 {
		t.Fatalf("calls per second = %v", cfg.CallsPerSecond)
	}
}

func TestFromEnvIgnoresBadValues(t *testing.T) {
	t.Setenv("NODEBRIDGE_RETRIES", "lots")
	t.Setenv("NODEBRIDGE_MAX_DELAY", "soon")

	cfg := FromEnv()
	def := Default()
	if cfg.Retries != def.Retries {
		t.Fatalf("retries = %d", cfg.Retries)
	}
	if cfg.MaxDelay != def.MaxDelay {
		t.Fatalf("max delay = %v", cfg.MaxDelay)
	}
}
