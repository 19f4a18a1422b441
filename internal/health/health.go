// Package health provides system health monitoring and status reporting.
package health

import (
	"context"
	"time"

	"github.com/vietddude/migrator/internal/core/domain"
	"github.com/vietddude/migrator/internal/monitor"
	"github.com/vietddude/migrator/internal/recovery"
	"github.com/vietddude/migrator/internal/trigger"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// Check verifies an external dependency such as the database.
type Check func(ctx context.Context) error

// Components are the services a report is assembled from. Nil fields are
// left out of the report.
type Components struct {
	Recovery *recovery.Handler
	Modes    interface{ CurrentMode() domain.Mode }
	Events   *trigger.Dispatcher
	Monitor  *monitor.Monitor
	Checks   map[string]Check
}

// Report contains the full system health report.
type Report struct {
	Status    SystemStatus            `json:"status"`
	Mode      domain.Mode             `json:"mode,omitempty"`
	Circuit   string                  `json:"circuit,omitempty"`
	Errors    *recovery.Statistics    `json:"errors,omitempty"`
	Events    *trigger.Statistics     `json:"events,omitempty"`
	Migration *monitor.RealtimeStatus `json:"migration,omitempty"`
	Checks    map[string]string       `json:"checks,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// Build assembles a report. An open circuit is critical; a half-open
// circuit or a failing check is degraded.
func (c Components) Build(ctx context.Context, now time.Time) Report {
	r := Report{Status: StatusHealthy, Timestamp: now}

	if c.Modes != nil {
		r.Mode = c.Modes.CurrentMode()
	}
	if c.Recovery != nil {
		stats := c.Recovery.GetErrorStatistics()
		r.Errors = &stats
		r.Circuit = stats.CircuitState.String()
		switch stats.CircuitState {
		case recovery.CircuitOpen:
			r.Status = StatusCritical
		case recovery.CircuitHalfOpen:
			r.Status = worst(r.Status, StatusDegraded)
		}
	}
	if c.Events != nil {
		stats := c.Events.GetEventStatistics()
		r.Events = &stats
	}
	if c.Monitor != nil {
		st := c.Monitor.GetStatus()
		r.Migration = &st
	}

	if len(c.Checks) > 0 {
		r.Checks = make(map[string]string, len(c.Checks))
		for name, check := range c.Checks {
			if err := check(ctx); err != nil {
				r.Checks[name] = err.Error()
				r.Status = worst(r.Status, StatusDegraded)
				continue
			}
			r.Checks[name] = "ok"
		}
	}
	return r
}

func worst(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
