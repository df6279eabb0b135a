package remote

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Pool routes calls across policy-server endpoints. Calls rotate
// through the endpoints round-robin, preferring ones whose recent
// calls succeeded, and fail over on provider-class errors.
type Pool struct {
	mu        sync.Mutex
	providers []*Provider
	current   int
}

func NewPool(endpoints []string, timeout time.Duration) (*Pool, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no policy server endpoints configured")
	}
	pool := &Pool{providers: make([]*Provider, 0, len(endpoints))}
	for _, ep := range endpoints {
		pool.providers = append(pool.providers, NewProvider(ep, timeout))
	}
	return pool, nil
}

// Do posts the payload to providers in rotation until one answers.
// Fatal-class errors abort the failover walk; they would fail
// everywhere.
func (p *Pool) Do(ctx context.Context, path string, in, out any, cfg RetryConfig) error {
	var lastErr error
	for _, prov := range p.ordered() {
		err := callWithRetry(ctx, prov, path, in, out, cfg)
		if err == nil {
			return nil
		}
		lastErr = err
		if ClassifyError(err) == ActionFatal {
			return fmt.Errorf("fatal error from %s: %w", prov.Endpoint(), err)
		}
	}
	return fmt.Errorf("all policy servers failed: %w", lastErr)
}

// ordered returns every provider once, starting at the rotation cursor
// with currently-available providers ahead of degraded ones.
func (p *Pool) ordered() []*Provider {
	p.mu.Lock()
	start := p.current
	p.current = (p.current + 1) % len(p.providers)
	rotated := make([]*Provider, 0, len(p.providers))
	for i := range p.providers {
		rotated = append(rotated, p.providers[(start+i)%len(p.providers)])
	}
	p.mu.Unlock()

	available := make([]*Provider, 0, len(rotated))
	var degraded []*Provider
	for _, prov := range rotated {
		if prov.Available() {
			available = append(available, prov)
		} else {
			degraded = append(degraded, prov)
		}
	}
	return append(available, degraded...)
}

func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, prov := range p.providers {
		prov.Close()
	}
}
