// Package remote proxies policy evaluation to external policy servers
// over HTTP/JSON. Requests carry the study spec and full trial history
// so servers stay stateless; replies are plain decision batches or
// suggestion lists.
package remote

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pruner-io/pruner/internal/core/domain"
	"github.com/pruner-io/pruner/internal/policy"
)

const (
	stopPath    = "/v1/stop"
	suggestPath = "/v1/suggest"

	// DefaultTimeout bounds one HTTP round trip to a policy server.
	DefaultTimeout = 10 * time.Second
)

// stopPayload is the self-contained stop request a policy server sees.
type stopPayload struct {
	StudySpec domain.StudySpec   `json:"study_spec"`
	Trials    []domain.Trial     `json:"trials"`
	Request   domain.StopRequest `json:"request"`
}

// suggestPayload is the self-contained suggest request.
type suggestPayload struct {
	StudySpec domain.StudySpec      `json:"study_spec"`
	Trials    []domain.Trial        `json:"trials"`
	Request   policy.SuggestRequest `json:"request"`
}

type suggestResponse struct {
	Suggestions []policy.Suggestion `json:"suggestions"`
}

// Config tunes the remote transport.
type Config struct {
	Endpoints []string
	Timeout   time.Duration
	Retry     RetryConfig
}

// Remote implements both policy.Pruner and policy.Designer against a
// pool of policy servers.
type Remote struct {
	pool  *Pool
	retry RetryConfig
}

func New(cfg Config) (*Remote, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig
	}
	pool, err := NewPool(cfg.Endpoints, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return &Remote{pool: pool, retry: cfg.Retry}, nil
}

func (r *Remote) Name() string { return "remote" }

func (r *Remote) Stop(ctx context.Context, sup policy.Supporter, req domain.StopRequest) (domain.StopDecisions, error) {
	var out domain.StopDecisions
	payload, err := r.payload(ctx, sup, req.StudyID)
	if err != nil {
		return out, err
	}
	if err := r.pool.Do(ctx, stopPath, stopPayload{
		StudySpec: payload.spec,
		Trials:    payload.trials,
		Request:   req,
	}, &out, r.retry); err != nil {
		return domain.StopDecisions{}, err
	}
	return out, nil
}

func (r *Remote) Suggest(ctx context.Context, sup policy.Supporter, req policy.SuggestRequest) ([]policy.Suggestion, error) {
	payload, err := r.payload(ctx, sup, req.StudyID)
	if err != nil {
		return nil, err
	}
	var resp suggestResponse
	if err := r.pool.Do(ctx, suggestPath, suggestPayload{
		StudySpec: payload.spec,
		Trials:    payload.trials,
		Request:   req,
	}, &resp, r.retry); err != nil {
		return nil, err
	}
	return resp.Suggestions, nil
}

func (r *Remote) Close() {
	r.pool.Close()
}

type studySnapshot struct {
	spec   domain.StudySpec
	trials []domain.Trial
}

func (r *Remote) payload(ctx context.Context, sup policy.Supporter, studyID string) (studySnapshot, error) {
	spec, err := sup.StudySpec(ctx, studyID)
	if err != nil {
		return studySnapshot{}, fmt.Errorf("load study spec: %w", err)
	}
	trials, err := sup.ListTrials(ctx, studyID)
	if err != nil {
		return studySnapshot{}, fmt.Errorf("list trials: %w", err)
	}
	return studySnapshot{spec: spec, trials: trials}, nil
}

// RegisterAll wires the remote pruner and designer into a registry.
// Specs that name no endpoints fall back to the defaults. Remotes are
// shared per endpoint set so HTTP connections and health accounting
// survive across policy lookups.
func RegisterAll(reg *policy.Registry, defaults Config) {
	var (
		mu     sync.Mutex
		shared = make(map[string]*Remote)
	)
	get := func(endpoints []string) (*Remote, error) {
		if len(endpoints) == 0 {
			endpoints = defaults.Endpoints
		}
		key := strings.Join(endpoints, ",")
		mu.Lock()
		defer mu.Unlock()
		if r, ok := shared[key]; ok {
			return r, nil
		}
		r, err := New(Config{Endpoints: endpoints, Timeout: defaults.Timeout, Retry: defaults.Retry})
		if err != nil {
			return nil, err
		}
		shared[key] = r
		return r, nil
	}

	reg.RegisterPruner("remote", func(spec domain.PrunerSpec) (policy.Pruner, error) {
		return get(spec.Endpoints)
	})
	reg.RegisterDesigner("remote", func(spec domain.DesignerSpec) (policy.Designer, error) {
		return get(spec.Endpoints)
	})
}
