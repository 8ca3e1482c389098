package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Report statuses.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusDown     = "down"
	StatusUnknown  = "unknown"
)

// AuditReport is the folded result of one audit run: the ordered checks plus
// total elapsed time. Status and health are derived, never stored.
type AuditReport struct {
	checks    []Check
	duration  float64 // milliseconds
	timestamp time.Time
}

// NewAuditReport builds a report over the given checks. durationMS is the
// total wall-clock time of the run.
func NewAuditReport(checks []Check, durationMS float64) *AuditReport {
	return &AuditReport{
		checks:    checks,
		duration:  durationMS,
		timestamp: time.Now(),
	}
}

// IsHealthy reports whether the run had at least one check and every check
// passed.
func (r *AuditReport) IsHealthy() bool {
	if len(r.checks) == 0 {
		return false
	}
	for _, c := range r.checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Status classifies the run: healthy (none failed), degraded (some failed),
// down (all failed), or unknown (no checks ran).
func (r *AuditReport) Status() string {
	if len(r.checks) == 0 {
		return StatusUnknown
	}
	failed := 0
	for _, c := range r.checks {
		if !c.Passed {
			failed++
		}
	}
	switch {
	case failed == 0:
		return StatusHealthy
	case failed < len(r.checks):
		return StatusDegraded
	default:
		return StatusDown
	}
}

// Version returns the version detected by a passed version check, or "".
func (r *AuditReport) Version() string {
	for _, c := range r.checks {
		if c.Name == CheckVersion && c.Passed {
			if v, ok := c.Data["version"].(string); ok {
				return v
			}
		}
	}
	return ""
}

// ResponseTime returns the total run duration in milliseconds.
func (r *AuditReport) ResponseTime() float64 {
	return round2(r.duration)
}

func (r *AuditReport) Timestamp() time.Time {
	return r.timestamp
}

func (r *AuditReport) Checks() []Check {
	return r.checks
}

// ErrorMessage joins the failed checks' messages, or returns "" when all
// passed.
func (r *AuditReport) ErrorMessage() string {
	var errs []string
	for _, c := range r.checks {
		if !c.Passed {
			errs = append(errs, fmt.Sprintf("%s: %s", c.Name, c.Message))
		}
	}
	return strings.Join(errs, "; ")
}

// MarshalJSON serializes the flat operator-facing record.
func (r *AuditReport) MarshalJSON() ([]byte, error) {
	var version any
	if v := r.Version(); v != "" {
		version = v
	}
	checks := r.checks
	if checks == nil {
		checks = []Check{}
	}
	return json.Marshal(map[string]any{
		"status":           r.Status(),
		"healthy":          r.IsHealthy(),
		"version":          version,
		"response_time_ms": r.ResponseTime(),
		"timestamp":        r.timestamp.Format(time.RFC3339),
		"checks":           checks,
	})
}
