package pruners

import (
	"context"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/pruner-io/pruner/internal/core/domain"
	"github.com/pruner-io/pruner/internal/policy"
)

const (
	// DefaultPercentile is the cutoff used when the study does not set one.
	DefaultPercentile = 10.0

	// DefaultMinTrials is how many comparable trials a cutoff needs
	// before it stops anything.
	DefaultMinTrials = 2
)

// Percentile stops trials whose judged metric falls in the worst
// fraction of the study. For each judged trial it takes the metric at
// a measurement index, computes the cutoff percentile of that metric
// at the same index across every trial that got that far, and stops
// the trial when its value is strictly worse than the cutoff.
type Percentile struct {
	pct       float64
	metric    string
	index     *int
	minTrials int
	warmup    int64
}

// NewPercentile builds the pruner from a study's pruner spec.
func NewPercentile(spec domain.PrunerSpec) (*Percentile, error) {
	pct := spec.Percentile
	if pct == 0 {
		pct = DefaultPercentile
	}
	if pct < 0 || pct > 100 {
		return nil, fmt.Errorf("percentile %v out of range (0, 100]", pct)
	}
	if spec.MeasurementIndex != nil && *spec.MeasurementIndex < 0 {
		return nil, fmt.Errorf("measurement index %d must be >= 0", *spec.MeasurementIndex)
	}
	min := spec.MinTrials
	if min == 0 {
		min = DefaultMinTrials
	}
	return &Percentile{
		pct:       pct,
		metric:    spec.Metric,
		index:     spec.MeasurementIndex,
		minTrials: min,
		warmup:    spec.WarmupSteps,
	}, nil
}

func (p *Percentile) Name() string { return "percentile" }

// Stop judges every evaluating trial the request asks about, or all of
// them when the request carries no scope. Scoped requests get their
// decisions back in request order.
func (p *Percentile) Stop(ctx context.Context, sup policy.Supporter, req domain.StopRequest) (domain.StopDecisions, error) {
	var out domain.StopDecisions

	spec, err := sup.StudySpec(ctx, req.StudyID)
	if err != nil {
		return out, fmt.Errorf("load study spec: %w", err)
	}
	metric, ok := judgeMetric(spec, p.metric)
	if !ok {
		return out, fmt.Errorf("study %s has no metric to judge by", req.StudyID)
	}

	trials, err := sup.ListTrials(ctx, req.StudyID)
	if err != nil {
		return out, fmt.Errorf("list trials: %w", err)
	}
	if len(req.TrialIDs) > 0 {
		byID := make(map[int64]*domain.Trial, len(trials))
		for i := range trials {
			byID[trials[i].ID] = &trials[i]
		}
		for _, id := range req.TrialIDs {
			t, ok := byID[id]
			if !ok {
				continue
			}
			if !t.Evaluating() {
				out.Append(id, false, "")
				continue
			}
			stop, reason := p.judge(t, trials, metric)
			out.Append(id, stop, reason)
		}
		return out, nil
	}

	for i := range trials {
		if !trials[i].Evaluating() {
			continue
		}
		stop, reason := p.judge(&trials[i], trials, metric)
		out.Append(trials[i].ID, stop, reason)
	}
	return out, nil
}

// judge decides one trial against the study.
func (p *Percentile) judge(t *domain.Trial, trials []domain.Trial, metric domain.MetricSpec) (bool, string) {
	idx := len(t.Measurements) - 1
	if p.index != nil {
		idx = *p.index
	}
	v, ok := t.MetricAt(metric.Name, idx)
	if !ok {
		return false, ""
	}
	if t.Measurements[idx].Step < p.warmup {
		return false, ""
	}

	cutoff, n := p.cutoffAt(trials, metric, idx)
	if n < p.minTrials {
		return false, ""
	}
	if score(metric.Goal, v) < cutoff {
		raw := cutoff
		if metric.Goal == domain.GoalMinimize {
			raw = -cutoff
		}
		return true, fmt.Sprintf(
			"%s %.4g worse than p%g cutoff %.4g over %d trials at measurement %d",
			metric.Name, v, p.pct, raw, n, idx)
	}
	return false, ""
}

// cutoffAt computes the oriented cutoff: the pct-th percentile of the
// metric, larger-is-better, at one measurement index across all trials
// with at least idx+1 measurements. n is how many trials contributed.
func (p *Percentile) cutoffAt(trials []domain.Trial, metric domain.MetricSpec, idx int) (cutoff float64, n int) {
	scores := make([]float64, 0, len(trials))
	for i := range trials {
		if v, ok := trials[i].MetricAt(metric.Name, idx); ok {
			scores = append(scores, score(metric.Goal, v))
		}
	}
	if len(scores) == 0 {
		return 0, 0
	}
	sort.Float64s(scores)
	return stat.Quantile(p.pct/100, stat.Empirical, scores, nil), len(scores)
}
