// Package client is the domain-facing façade over the resilient RPC stack.
// It owns the connection lifecycle (auth token, disconnect) and exposes one
// method per remote procedure, each routed through the resilience pipeline —
// except low-criticality calls, which go straight to the transport.
package client

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"nodebridge/config"
	"nodebridge/resilient"
	"nodebridge/transport"
)

// Client talks to one long-lived node endpoint.
type Client struct {
	cfg  config.Config
	tr   *transport.Transport
	exec *resilient.Executor[json.RawMessage]
	log  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the structured logger shared by all layers.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New constructs a Client. Construction is eager: the transport and the
// resilience pipeline exist before the first call, and callers receive the
// instance by injection rather than through a lazy global.
func New(cfg config.Config, opts ...Option) *Client {
	c := &Client{cfg: cfg, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	c.tr = transport.New(cfg.BaseURL,
		transport.WithCookieName(cfg.CookieName),
		transport.WithLogger(c.log.Named("transport")),
	)
	c.exec = resilient.New[json.RawMessage](resilient.Config{
		MaxConcurrent:          cfg.MaxConcurrent,
		FailureThreshold:       cfg.FailureThreshold,
		ResetTimeout:           cfg.ResetTimeout,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		HealthCheckInterval:    cfg.HealthCheckInterval,
		BaseDelay:              cfg.BaseDelay,
		MaxDelay:               cfg.MaxDelay,
		CallsPerSecond:         cfg.CallsPerSecond,
		Logger:                 c.log.Named("resilient"),
	})
	return c
}

// SetAuthToken stores the node's auth cookie and marks the client connected.
func (c *Client) SetAuthToken(token string) {
	c.tr.SetAuthToken(token)
	c.log.Info("connected to node endpoint", zap.String("url", c.cfg.BaseURL))
}

// Disconnect cancels the in-flight call and marks the client disconnected.
// Subsequent calls fail fast with transport.ErrConnectionUnavailable.
func (c *Client) Disconnect() {
	c.tr.Disconnect()
	c.log.Info("disconnected from node endpoint")
}

// Connected reports whether an auth token is set.
func (c *Client) Connected() bool {
	return c.tr.Connected()
}

// Status snapshots the resilience pipeline.
func (c *Client) Status() resilient.Status {
	return c.exec.Status()
}

// ResetResilience clears circuit, health, and dedup state after an operator
// intervention (e.g. a node restart).
func (c *Client) ResetResilience() {
	c.exec.Reset()
}

// Call invokes an arbitrary remote method through the resilience pipeline.
// The typed methods below are built on it; applications may use it directly
// for procedures outside the catalog.
func (c *Client) Call(ctx context.Context, method string, params any, opts resilient.CallOptions) (json.RawMessage, error) {
	if opts.Retries <= 0 {
		opts.Retries = c.cfg.Retries
	}
	if opts.Timeout <= 0 {
		opts.Timeout = resilient.DefaultTimeout
	}
	return c.exec.Execute(ctx, func(ctx context.Context) (json.RawMessage, error) {
		return c.tr.Call(ctx, method, params, opts.Timeout)
	}, opts)
}
