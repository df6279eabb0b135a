package api

import (
	"context"
	"errors"
	"testing"
)

type countingChecker struct {
	calls int
	err   error
}

func (c *countingChecker) Health(context.Context) error {
	c.calls++
	return c.err
}

func TestMonitorStatusAggregation(t *testing.T) {
	cases := []struct {
		name    string
		storage error
		cache   error
		want    SystemStatus
	}{
		{"all healthy", nil, nil, StatusHealthy},
		{"optional failing", nil, errors.New("redis down"), StatusDegraded},
		{"required failing", errors.New("pg down"), errors.New("redis down"), StatusCritical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMonitor([]string{"never"}, []string{"random"})
			m.Register("storage", true, &countingChecker{err: tc.storage})
			m.Register("cache", false, &countingChecker{err: tc.cache})

			report := m.CheckHealth(context.Background())
			if report.Status != tc.want {
				t.Errorf("status = %q, want %q", report.Status, tc.want)
			}
			if len(report.Components) != 2 {
				t.Errorf("components = %d, want 2", len(report.Components))
			}
		})
	}
}

func TestMonitorCachesReports(t *testing.T) {
	checker := &countingChecker{}
	m := NewMonitor(nil, nil)
	m.Register("storage", true, checker)

	first := m.CheckHealth(context.Background())
	second := m.CheckHealth(context.Background())

	if checker.calls != 1 {
		t.Errorf("checker probed %d times, want 1", checker.calls)
	}
	if !second.CheckedAt.Equal(first.CheckedAt) {
		t.Errorf("second report not served from cache")
	}
}

func TestMonitorIgnoresNilCheckers(t *testing.T) {
	m := NewMonitor(nil, nil)
	m.Register("redis", false, nil)

	report := m.CheckHealth(context.Background())
	if len(report.Components) != 0 {
		t.Errorf("components = %d, want 0", len(report.Components))
	}
	if report.Status != StatusHealthy {
		t.Errorf("status = %q, want healthy", report.Status)
	}
}
