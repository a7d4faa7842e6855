// Package config holds the client configuration, loadable from the
// environment with optional .env support.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is everything the client needs at construction time.
type Config struct {
	// BaseURL is the node's JSON-RPC endpoint.
	BaseURL string

	// CookieName is the auth cookie key sent with every request.
	CookieName string

	// MaxConcurrent caps simultaneously executing operations.
	MaxConcurrent int

	// FailureThreshold opens the circuit after this many consecutive
	// failed executions; ResetTimeout is the open cool-down.
	FailureThreshold int
	ResetTimeout     time.Duration

	// MaxConsecutiveFailures flips the health monitor unhealthy;
	// HealthCheckInterval is its optimistic-recovery cool-down.
	MaxConsecutiveFailures int
	HealthCheckInterval    time.Duration

	// Retries is the per-call attempt budget; BaseDelay/MaxDelay bound the
	// backoff between attempts.
	Retries   int
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// CallsPerSecond paces outgoing executions when positive.
	CallsPerSecond float64
}

// Default returns the configuration for a node on the standard local port.
func Default() Config {
	return Config{
		BaseURL:                "http://localhost:18081/",
		CookieName:             "nodebridge",
		MaxConcurrent:          5,
		FailureThreshold:       5,
		ResetTimeout:           30 * time.Second,
		MaxConsecutiveFailures: 3,
		HealthCheckInterval:    30 * time.Second,
		Retries:                3,
		BaseDelay:              500 * time.Millisecond,
		MaxDelay:               5 * time.Second,
	}
}

// FromEnv loads Default overridden by NODEBRIDGE_* environment variables.
// A .env file in the working directory is loaded first when present.
func FromEnv() Config {
	_ = godotenv.Load()

	cfg := Default()
	if v := os.Getenv("NODEBRIDGE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("NODEBRIDGE_COOKIE_NAME"); v != "" {
		cfg.CookieName = v
	}
	cfg.MaxConcurrent = envInt("NODEBRIDGE_MAX_CONCURRENT", cfg.MaxConcurrent)
	cfg.FailureThreshold = envInt("NODEBRIDGE_FAILURE_THRESHOLD", cfg.FailureThreshold)
	cfg.ResetTimeout = envDuration("NODEBRIDGE_RESET_TIMEOUT", cfg.ResetTimeout)
	cfg.MaxConsecutiveFailures = envInt("NODEBRIDGE_MAX_CONSECUTIVE_FAILURES", cfg.MaxConsecutiveFailures)
	cfg.HealthCheckInterval = envDuration("NODEBRIDGE_HEALTH_CHECK_INTERVAL", cfg.HealthCheckInterval)
	cfg.Retries = envInt("NODEBRIDGE_RETRIES", cfg.Retries)
	cfg.BaseDelay = envDuration("NODEBRIDGE_BASE_DELAY", cfg.BaseDelay)
	cfg.MaxDelay = envDuration("NODEBRIDGE_MAX_DELAY", cfg.MaxDelay)
	cfg.CallsPerSecond = envFloat("NODEBRIDGE_CALLS_PER_SECOND", cfg.CallsPerSecond)
	return cfg
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
