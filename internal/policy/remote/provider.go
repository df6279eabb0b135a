package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pruner-io/pruner/internal/tuning/metrics"
)

// Health is a provider's accumulated call statistics.
type Health struct {
	Available     bool
	ErrorRate     float64
	Latency       time.Duration
	LastSuccessAt time.Time
	LastFailureAt time.Time
}

// Provider is one policy-server endpoint with health accounting.
type Provider struct {
	endpoint string
	client   *http.Client

	mu           sync.RWMutex
	health       Health
	totalLatency time.Duration
	successes    int
	failures     int
}

func NewProvider(endpoint string, timeout time.Duration) *Provider {
	return &Provider{
		endpoint: strings.TrimRight(endpoint, "/"),
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		health: Health{Available: true},
	}
}

func (p *Provider) Endpoint() string {
	return p.endpoint
}

// Post sends in as JSON to the server path and decodes the JSON reply
// into out. Non-200 replies come back as *StatusError.
func (p *Provider) Post(ctx context.Context, path string, in, out any) error {
	start := time.Now()

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.recordFailure()
		return fmt.Errorf("policy call: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		p.recordFailure()
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		p.recordFailure()
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if err := json.Unmarshal(data, out); err != nil {
		p.recordFailure()
		return fmt.Errorf("parse response: %w", err)
	}

	p.recordSuccess(time.Since(start))
	return nil
}

// Health returns a snapshot of the provider's call statistics.
func (p *Provider) Health() Health {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

// Available reports whether the provider should be tried first.
func (p *Provider) Available() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health.Available
}

func (p *Provider) Close() {
	p.client.CloseIdleConnections()
}

func (p *Provider) recordSuccess(latency time.Duration) {
	metrics.RemoteCallsTotal.WithLabelValues(p.endpoint, "ok").Inc()
	metrics.RemoteLatency.WithLabelValues(p.endpoint).Observe(latency.Seconds())

	p.mu.Lock()
	defer p.mu.Unlock()

	p.successes++
	p.totalLatency += latency
	p.health.LastSuccessAt = time.Now()
	p.health.Available = true
	p.health.ErrorRate = float64(p.failures) / float64(p.successes+p.failures)
	p.health.Latency = p.totalLatency / time.Duration(p.successes)
}

func (p *Provider) recordFailure() {
	metrics.RemoteCallsTotal.WithLabelValues(p.endpoint, "error").Inc()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.failures++
	p.health.LastFailureAt = time.Now()
	p.health.ErrorRate = float64(p.failures) / float64(p.successes+p.failures)
	if p.health.ErrorRate > 0.5 {
		p.health.Available = false
	}
}
