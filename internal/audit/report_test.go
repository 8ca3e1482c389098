package audit

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passCheck(name string) Check {
	return Check{Name: name, Passed: true, Message: "ok"}
}

func failCheck(name string) Check {
	return Check{Name: name, Passed: false, Message: "broken"}
}

func TestReportStatus(t *testing.T) {
	tests := []struct {
		name        string
		checks      []Check
		wantStatus  string
		wantHealthy bool
	}{
		{
			name:        "all passed",
			checks:      []Check{passCheck("a"), passCheck("b"), passCheck("c")},
			wantStatus:  StatusHealthy,
			wantHealthy: true,
		},
		{
			name:        "some failed",
			checks:      []Check{passCheck("a"), failCheck("b"), passCheck("c")},
			wantStatus:  StatusDegraded,
			wantHealthy: false,
		},
		{
			name:        "all failed",
			checks:      []Check{failCheck("a"), failCheck("b")},
			wantStatus:  StatusDown,
			wantHealthy: false,
		},
		{
			name:        "no checks",
			checks:      nil,
			wantStatus:  StatusUnknown,
			wantHealthy: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewAuditReport(tt.checks, 12.5)
			assert.Equal(t, tt.wantStatus, r.Status())
			assert.Equal(t, tt.wantHealthy, r.IsHealthy())
		})
	}
}

func TestReportVersion(t *testing.T) {
	passed := Check{
		Name:   CheckVersion,
		Passed: true,
		Data:   map[string]any{"version": "2.1.0"},
	}
	r := NewAuditReport([]Check{passed}, 1)
	assert.Equal(t, "2.1.0", r.Version())

	// A failed version check contributes nothing.
	failed := Check{Name: CheckVersion, Passed: false, Data: map[string]any{"version": "9.9.9"}}
	r = NewAuditReport([]Check{failed}, 1)
	assert.Empty(t, r.Version())
}

func TestReportErrorMessage(t *testing.T) {
	r := NewAuditReport([]Check{passCheck("health"), failCheck("version")}, 1)
	assert.Equal(t, "version: broken", r.ErrorMessage())

	r = NewAuditReport([]Check{passCheck("health")}, 1)
	assert.Empty(t, r.ErrorMessage())
}

func TestReportMarshalJSON(t *testing.T) {
	r := NewAuditReport([]Check{
		{Name: CheckVersion, Passed: true, Message: "version 1.0.0 detected", Data: map[string]any{"version": "1.0.0"}, Duration: 3.14159},
		failCheck("dependencies"),
	}, 42.424242)

	raw, err := json.Marshal(r)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))

	assert.Equal(t, StatusDegraded, got["status"])
	assert.Equal(t, false, got["healthy"])
	assert.Equal(t, "1.0.0", got["version"])
	assert.Equal(t, 42.42, got["response_time_ms"])
	assert.NotEmpty(t, got["timestamp"])

	checks, ok := got["checks"].([]any)
	require.True(t, ok)
	require.Len(t, checks, 2)
	first := checks[0].(map[string]any)
	assert.Equal(t, 3.14, first["duration_ms"])
}
