package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"nodebridge/queue"
	"nodebridge/resilient"
)

// Per-call timeouts: short for status/read calls, longer for bulk listings.
const (
	readTimeout = 10 * time.Second
	bulkTimeout = 30 * time.Second
)

// Dedup keys for calls the dashboard refreshes aggressively.
const (
	dedupDashboardOverview = "dashboard_overview_data"
	dedupNodeStatus        = "node_status_data"
)

// DashboardOverview is the aggregate view backing the main dashboard.
type DashboardOverview struct {
	BlockHeight         string  `json:"block_height"`
	Synced              bool    `json:"synced"`
	SyncProgress        float64 `json:"sync_progress"`
	PeerCount           int     `json:"peer_count"`
	Balance             string  `json:"balance"`
	PendingTransactions int     `json:"pending_transactions"`
	Version             string  `json:"version"`
	UptimeSeconds       int64   `json:"uptime"`
}

// NodeStatus is the node's self-reported state.
type NodeStatus struct {
	Running     bool   `json:"running"`
	Synced      bool   `json:"synced"`
	BlockHeight string `json:"block_height"`
	PeerCount   int    `json:"peer_count"`
	Version     string `json:"version"`
}

// Transaction is one history entry.
type Transaction struct {
	TxID          string `json:"txid"`
	Amount        string `json:"amount"`
	Direction     string `json:"direction"`
	Timestamp     int64  `json:"timestamp"`
	Confirmations int    `json:"confirmations"`
	Height        int64  `json:"height"`
}

// Peer describes one connected peer.
type Peer struct {
	Address   string `json:"address"`
	Direction string `json:"direction"`
	LatencyMS int    `json:"latency_ms"`
	Version   string `json:"version"`
}

// BlockHeight returns the node's current chain height.
func (c *Client) BlockHeight(ctx context.Context) (string, error) {
	raw, err := c.Call(ctx, "block_height", nil, resilient.CallOptions{
		Timeout: readTimeout,
	})
	if err != nil {
		return "", err
	}
	var height string
	if err := json.Unmarshal(raw, &height); err != nil {
		return "", fmt.Errorf("client: decode block_height: %w", err)
	}
	return height, nil
}

// DashboardOverview fetches the dashboard aggregate. Concurrent refreshes
// coalesce into a single underlying call.
func (c *Client) DashboardOverview(ctx context.Context) (*DashboardOverview, error) {
	raw, err := c.Call(ctx, "dashboard_overview", nil, resilient.CallOptions{
		Timeout:  readTimeout,
		DedupKey: dedupDashboardOverview,
		Priority: queue.PriorityHigh,
	})
	if err != nil {
		return nil, err
	}
	var overview DashboardOverview
	if err := json.Unmarshal(raw, &overview); err != nil {
		return nil, fmt.Errorf("client: decode dashboard_overview: %w", err)
	}
	return &overview, nil
}

// NodeStatus fetches the node's current state; concurrent calls coalesce.
func (c *Client) NodeStatus(ctx context.Context) (*NodeStatus, error) {
	raw, err := c.Call(ctx, "node_status", nil, resilient.CallOptions{
		Timeout:  readTimeout,
		DedupKey: dedupNodeStatus,
	})
	if err != nil {
		return nil, err
	}
	var status NodeStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("client: decode node_status: %w", err)
	}
	return &status, nil
}

// TransactionHistory lists one page of history. Bulk listing gets the long
// timeout and yields to interactive calls in the queue.
func (c *Client) TransactionHistory(ctx context.Context, page, pageSize int) ([]Transaction, error) {
	params := map[string]any{"page": page, "page_size": pageSize}
	raw, err := c.Call(ctx, "transaction_history", params, resilient.CallOptions{
		Timeout:  bulkTimeout,
		Priority: queue.PriorityLow,
	})
	if err != nil {
		return nil, err
	}
	var txs []Transaction
	if err := json.Unmarshal(raw, &txs); err != nil {
		return nil, fmt.Errorf("client: decode transaction_history: %w", err)
	}
	return txs, nil
}

// PeerList lists the node's connected peers.
func (c *Client) PeerList(ctx context.Context) ([]Peer, error) {
	raw, err := c.Call(ctx, "peer_list", nil, resilient.CallOptions{
		Timeout:  bulkTimeout,
		Priority: queue.PriorityLow,
	})
	if err != nil {
		return nil, err
	}
	var peers []Peer
	if err := json.Unmarshal(raw, &peers); err != nil {
		return nil, fmt.Errorf("client: decode peer_list: %w", err)
	}
	return peers, nil
}

// Ping is a low-criticality liveness probe. It goes straight through the
// transport so it neither waits in the queue nor feeds the circuit breaker.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.tr.Call(ctx, "ping", nil, readTimeout)
	return err
}
