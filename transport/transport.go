// Package transport issues JSON-RPC 2.0 calls over HTTP to a single
// long-lived node endpoint on loopback.
//
// The endpoint is not safe under concurrent or pipelined requests, so every
// call holds a serialization mutex for its full duration: at most one request
// is outstanding at a time, in issue order. The transport also owns the
// connection descriptor — base URL, cookie auth token, connected flag, the
// monotonically increasing request id, and the set of outstanding ids.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"nodebridge/protocol"
)

var (
	// ErrConnectionUnavailable is returned when a call is attempted before
	// the connection is marked connected and an auth token is set.
	ErrConnectionUnavailable = errors.New("transport: connection unavailable")

	// ErrConnectionLost is returned when a call fails and the connection has
	// since been marked disconnected.
	ErrConnectionLost = errors.New("transport: connection lost")

	// ErrAborted is returned when an in-flight call is cancelled, either by
	// the caller's context or by Disconnect.
	ErrAborted = errors.New("transport: call aborted")
)

// DefaultCookieName is the cookie key presented to the node endpoint.
const DefaultCookieName = "nodebridge"

// Transport performs one HTTP POST per JSON-RPC call.
type Transport struct {
	baseURL    string
	cookieName string
	log        *zap.Logger

	// callMu serializes whole calls through the single logical channel.
	callMu sync.Mutex

	// mu guards the connection descriptor. It is separate from callMu so
	// Disconnect can cancel an in-flight call instead of queuing behind it.
	mu          sync.Mutex
	token       string
	connected   bool
	nextID      uint64
	outstanding map[uint64]struct{}
	cancel      context.CancelFunc // cancels the in-flight call, nil when idle
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Transport) { t.log = l }
}

// WithCookieName overrides the auth cookie key.
func WithCookieName(name string) Option {
	return func(t *Transport) { t.cookieName = name }
}

// New creates a Transport for the given base URL. The transport starts
// disconnected; SetAuthToken marks it ready for calls.
func New(baseURL string, opts ...Option) *Transport {
	t := &Transport{
		baseURL:     baseURL,
		cookieName:  DefaultCookieName,
		log:         zap.NewNop(),
		nextID:      1,
		outstanding: make(map[uint64]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetAuthToken stores the auth cookie value and marks the connection ready.
func (t *Transport) SetAuthToken(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = token
	t.connected = true
}

// Disconnect marks the connection unavailable, cancels the in-flight call if
// any, and clears the outstanding-request set. Retries still running fail
// fast on their next connectivity check.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	t.token = ""
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.outstanding = make(map[uint64]struct{})
}

// Connected reports whether the connection is marked ready.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Outstanding returns the number of request ids currently in flight.
func (t *Transport) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.outstanding)
}

// Call issues one JSON-RPC request and parses the reply. It fails fast with
// ErrConnectionUnavailable before authentication, maps cancellation to
// ErrAborted, a non-null error field to *protocol.Error, a missing result to
// protocol.ErrMalformedResponse, and any other transport failure observed
// after Disconnect to ErrConnectionLost. The mutex is released and the
// request id removed from the outstanding set on every path.
func (t *Transport) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	t.callMu.Lock()
	defer t.callMu.Unlock()

	t.mu.Lock()
	if !t.connected || t.token == "" {
		t.mu.Unlock()
		return nil, ErrConnectionUnavailable
	}
	id := t.nextID
	t.nextID++
	t.outstanding[id] = struct{}{}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	t.cancel = cancel
	token := t.token
	t.mu.Unlock()

	defer func() {
		cancel()
		t.mu.Lock()
		delete(t.outstanding, id)
		t.cancel = nil
		t.mu.Unlock()
	}()

	t.log.Debug("issuing rpc call",
		zap.Uint64("id", id),
		zap.String("method", method),
		zap.Duration("timeout", timeout))

	result, err := t.roundTrip(callCtx, id, method, params, token)
	if err != nil {
		return nil, t.mapError(err)
	}
	return result, nil
}

// roundTrip sends one request on a fresh HTTP client. Connection reuse is
// disabled: the endpoint does not tolerate persistent keep-alive connections,
// and stale pooled connections surface as spurious EOFs.
func (t *Transport) roundTrip(ctx context.Context, id uint64, method string, params any, token string) (json.RawMessage, error) {
	body, err := protocol.EncodeRequest(protocol.NewRequest(id, method, params))
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Connection", "close")
	req.AddCookie(&http.Cookie{Name: t.cookieName, Value: token})

	client := &http.Client{
		Transport: &http.Transport{DisableKeepAlives: true},
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("transport: unexpected status %d", resp.StatusCode)
	}
	return protocol.DecodeResponse(resp.Body)
}

// mapError applies the failure taxonomy. Protocol-level errors pass through
// untouched; they mean the endpoint was reachable.
func (t *Transport) mapError(err error) error {
	var perr *protocol.Error
	if errors.As(err, &perr) || errors.Is(err, protocol.ErrMalformedResponse) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return ErrAborted
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if !t.Connected() {
		return ErrConnectionLost
	}
	return err
}

// drainAndClose reads the body to completion before closing so the
// connection teardown is clean even when the decoder stopped early.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
