// Package api exposes the tuning service over HTTP/JSON, along with
// health and metrics endpoints.
package api

import (
	"context"
	"sync"
	"time"
)

// SystemStatus represents the overall health state of the service or a
// dependency.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// Checker reports one dependency's availability.
type Checker interface {
	Health(ctx context.Context) error
}

// ComponentHealth is one dependency's check result.
type ComponentHealth struct {
	Name     string       `json:"name"`
	Status   SystemStatus `json:"status"`
	Required bool         `json:"required"`
	Error    string       `json:"error,omitempty"`
}

// Report is the full health report.
type Report struct {
	Status     SystemStatus               `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Pruners    []string                   `json:"pruners"`
	Designers  []string                   `json:"designers"`
	CheckedAt  time.Time                  `json:"checked_at"`
}

type component struct {
	name     string
	required bool
	checker  Checker
}

// Monitor aggregates dependency health. A failing required component
// makes the service critical; a failing optional one only degrades it.
type Monitor struct {
	components []component
	pruners    []string
	designers  []string

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport Report
}

func NewMonitor(pruners, designers []string) *Monitor {
	return &Monitor{pruners: pruners, designers: designers}
}

// Register adds a dependency to check. Nil checkers are ignored so
// optional deps can be wired unconditionally.
func (m *Monitor) Register(name string, required bool, c Checker) {
	if c == nil {
		return
	}
	m.components = append(m.components, component{name: name, required: required, checker: c})
}

// CheckHealth probes every registered component. Results are cached
// briefly so polling cannot hammer the dependencies.
func (m *Monitor) CheckHealth(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < 10*time.Second && !m.lastCheck.IsZero() {
		return m.lastReport
	}

	report := Report{
		Status:     StatusHealthy,
		Components: make(map[string]ComponentHealth, len(m.components)),
		Pruners:    m.pruners,
		Designers:  m.designers,
		CheckedAt:  time.Now().UTC(),
	}

	for _, c := range m.components {
		ch := ComponentHealth{Name: c.name, Status: StatusHealthy, Required: c.required}
		if err := c.checker.Health(ctx); err != nil {
			ch.Error = err.Error()
			if c.required {
				ch.Status = StatusCritical
				report.Status = StatusCritical
			} else {
				ch.Status = StatusDegraded
				if report.Status == StatusHealthy {
					report.Status = StatusDegraded
				}
			}
		}
		report.Components[c.name] = ch
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
