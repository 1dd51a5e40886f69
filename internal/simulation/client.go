// Package simulation talks to the external revert-prediction service. The
// service simulates a candidate transaction against a recent block and
// reports whether it would revert and what profit it would realize.
package simulation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sonicx222/arbitrage-new-sub003/internal/model"
)

const defaultRequestTimeout = 5 * time.Second

// Config selects the simulation endpoints. An empty Endpoints list means
// simulation is not configured; the engine then skips the gate.
type Config struct {
	Endpoints      []string
	RequestTimeout time.Duration
}

// Request is the wire request for one simulation.
type Request struct {
	Chain       model.Chain `json:"chain"`
	From        string      `json:"from"`
	To          string      `json:"to"`
	Data        string      `json:"data"`
	Value       string      `json:"value,omitempty"`
	BlockNumber uint64      `json:"blockNumber,omitempty"`
}

// Result is the service's verdict.
type Result struct {
	WillRevert   bool   `json:"willRevert"`
	RevertReason string `json:"revertReason,omitempty"`
	ProfitWei    string `json:"profitWei,omitempty"`
	GasUsed      uint64 `json:"gasUsed,omitempty"`
}

// ProviderHealth is the per-endpoint health snapshot consumed by the
// health monitor.
type ProviderHealth struct {
	Endpoint  string
	Healthy   bool
	Successes int64
	Failures  int64
	LastError string
}

// Client fans one simulation request over the configured endpoints in
// order, returning the first answer. Endpoint health is tracked per call
// so the health monitor can derive the simulation status.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	mu     sync.Mutex
	health map[string]*ProviderHealth
}

// NewClient builds a simulation client. Returns nil when no endpoints are
// configured; callers treat a nil client as "not configured".
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if len(cfg.Endpoints) == 0 {
		return nil
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	health := make(map[string]*ProviderHealth, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		health[ep] = &ProviderHealth{Endpoint: ep, Healthy: true}
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger.With("component", "simulation"),
		health: health,
	}
}

// Simulate runs one prediction, failing over across endpoints. The last
// endpoint's error is returned when all fail.
func (c *Client) Simulate(ctx context.Context, req *Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode simulation request: %w", err)
	}

	var lastErr error
	for _, ep := range c.cfg.Endpoints {
		result, err := c.simulateAt(ctx, ep, body)
		c.record(ep, err)
		if err == nil {
			return result, nil
		}
		c.logger.Warn("simulation endpoint failed", "endpoint", ep, "error", err)
		lastErr = err
	}
	return nil, fmt.Errorf("all simulation endpoints failed: %w", lastErr)
}

func (c *Client) simulateAt(ctx context.Context, endpoint string, body []byte) (*Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/simulate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("simulation service returned %d: %s", resp.StatusCode, snippet)
	}
	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode simulation response: %w", err)
	}
	return &result, nil
}

func (c *Client) record(endpoint string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.health[endpoint]
	if h == nil {
		return
	}
	if err == nil {
		h.Healthy = true
		h.Successes++
		h.LastError = ""
		return
	}
	h.Healthy = false
	h.Failures++
	h.LastError = err.Error()
}

// HealthSnapshot returns a copy of the per-endpoint health records, in
// endpoint configuration order.
func (c *Client) HealthSnapshot() []ProviderHealth {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ProviderHealth, 0, len(c.cfg.Endpoints))
	for _, ep := range c.cfg.Endpoints {
		if h := c.health[ep]; h != nil {
			out = append(out, *h)
		}
	}
	return out
}
