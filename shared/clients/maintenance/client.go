// Package maintenance calls the external maintenance-scheduling system.
// Delivery is best effort: one attempt per notification, bounded timeout,
// no retry at this layer. The receiving system dedups on its side.
package maintenance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"fleet-telemetry-pipeline/shared/config"
	"fleet-telemetry-pipeline/shared/metricsx"
)

type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitBreaker
}

type Notification struct {
	AssetID  string         `json:"assetId"`
	Reason   string         `json:"reason"`
	Priority string         `json:"priority"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func New(cfg config.Config) (*Client, error) {
	if cfg.MaintenanceURL == "" {
		return nil, errors.New("MAINTENANCE_NOTIFY_URL is required")
	}
	timeout := time.Duration(cfg.MaintenanceTimeoutMS) * time.Millisecond
	return &Client{
		baseURL: cfg.MaintenanceURL,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: newCircuitBreaker(5, 30*time.Second),
	}, nil
}

// Notify posts one notification. Any 2xx response is success; everything
// else is a failure for the caller to log.
func (c *Client) Notify(ctx context.Context, n Notification) error {
	if c == nil || c.http == nil {
		return errors.New("maintenance client not initialized")
	}
	if c.breaker.Open() {
		metricsx.IncNotificationFailure()
		return errors.New("maintenance circuit open")
	}
	if n.Priority == "" {
		n.Priority = "NORMAL"
	}
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.Fail()
		metricsx.IncNotificationFailure()
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.breaker.Fail()
		metricsx.IncNotificationFailure()
		return fmt.Errorf("maintenance notification rejected: status %d", resp.StatusCode)
	}
	c.breaker.Success()
	metricsx.IncNotificationSent()
	return nil
}

type circuitBreaker struct {
	mu            sync.Mutex
	failures      int
	openUntil     time.Time
	threshold     int
	resetDuration time.Duration
}

func newCircuitBreaker(threshold int, reset time.Duration) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, resetDuration: reset}
}

func (b *circuitBreaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return false
	}
	if time.Now().After(b.openUntil) {
		b.openUntil = time.Time{}
		b.failures = 0
		return false
	}
	return true
}

func (b *circuitBreaker) Fail() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = time.Now().Add(b.resetDuration)
	}
}

func (b *circuitBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}
