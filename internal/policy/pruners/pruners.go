// Package pruners implements the built-in early-stopping policies.
package pruners

import (
	"context"

	"github.com/pruner-io/pruner/internal/core/domain"
	"github.com/pruner-io/pruner/internal/policy"
)

// RegisterAll wires the built-in pruners into a registry.
func RegisterAll(reg *policy.Registry) {
	reg.RegisterPruner("never", func(domain.PrunerSpec) (policy.Pruner, error) {
		return Never{}, nil
	})
	reg.RegisterPruner("percentile", func(spec domain.PrunerSpec) (policy.Pruner, error) {
		return NewPercentile(spec)
	})
	reg.RegisterPruner("median", func(spec domain.PrunerSpec) (policy.Pruner, error) {
		return NewMedian(spec)
	})
}

// Never keeps every trial running. It answers explicitly scoped
// requests with negative decisions so pollers still get a verdict per
// trial, and stays silent on unscoped ones.
type Never struct{}

func (Never) Name() string { return "never" }

func (Never) Stop(_ context.Context, _ policy.Supporter, req domain.StopRequest) (domain.StopDecisions, error) {
	var out domain.StopDecisions
	for _, id := range req.TrialIDs {
		out.Append(id, false, "")
	}
	return out, nil
}

// judgeMetric resolves which metric a pruner compares trials by.
func judgeMetric(spec domain.StudySpec, override string) (domain.MetricSpec, bool) {
	if override == "" {
		obj := spec.Objective()
		return obj, obj.Name != ""
	}
	for _, m := range spec.Metrics {
		if m.Name == override {
			return m, true
		}
	}
	return domain.MetricSpec{}, false
}

// score orients a metric value so that larger is always better.
func score(goal domain.MetricGoal, v float64) float64 {
	if goal == domain.GoalMinimize {
		return -v
	}
	return v
}
