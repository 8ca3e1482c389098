package audit

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// healthyTarget serves every endpoint the auditor probes on a fully healthy
// service.
func healthyTarget() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", jsonHandler(http.StatusOK, map[string]string{"status": "ok"}))
	mux.HandleFunc("/version", jsonHandler(http.StatusOK, map[string]string{
		"version": "3.2.1", "name": "target-api", "environment": "production",
	}))
	mux.HandleFunc("/auth/validate", jsonHandler(http.StatusOK, map[string]any{
		"valid": true, "permissions": []string{"read"},
	}))
	mux.HandleFunc("/status/dependencies", jsonHandler(http.StatusOK, map[string]any{
		"services": map[string]any{"db": "healthy", "cache": "connected"},
	}))
	return mux
}

func TestAuditHealthyTarget(t *testing.T) {
	a := newTestAuditor(t, healthyTarget(), WithCredential("vgl_secret"))

	report := a.Audit(context.Background())

	checks := report.Checks()
	require.Len(t, checks, 5)
	wantOrder := []string{CheckHealth, CheckVersion, CheckPerformance, CheckAuthentication, CheckDependencies}
	for i, c := range checks {
		assert.Equal(t, wantOrder[i], c.Name, "check %d", i)
		assert.True(t, c.Passed, "check %s should pass", c.Name)
	}

	assert.Equal(t, StatusHealthy, report.Status())
	assert.True(t, report.IsHealthy())
	assert.Equal(t, "3.2.1", report.Version())
	assert.GreaterOrEqual(t, report.ResponseTime(), 0.0)
}

func TestAuditWithoutCredentialSkipsAuthentication(t *testing.T) {
	a := newTestAuditor(t, healthyTarget())

	report := a.Audit(context.Background())

	checks := report.Checks()
	require.Len(t, checks, 4)
	for _, c := range checks {
		assert.NotEqual(t, CheckAuthentication, c.Name)
	}
}

func TestAuditDoesNotShortCircuit(t *testing.T) {
	// Health fails; the remaining checks still run.
	mux := http.NewServeMux()
	mux.HandleFunc("/health", jsonHandler(http.StatusInternalServerError, nil))
	mux.HandleFunc("/version", jsonHandler(http.StatusOK, map[string]string{"version": "1.0.0"}))
	a := newTestAuditor(t, mux)

	report := a.Audit(context.Background())

	require.Len(t, report.Checks(), 4)
	assert.Equal(t, StatusDegraded, report.Status())
	assert.False(t, report.IsHealthy())
	// Version still resolved despite the failed health check.
	assert.Equal(t, "1.0.0", report.Version())
}

func TestIsHealthy(t *testing.T) {
	a := newTestAuditor(t, healthyTarget())
	assert.True(t, a.IsHealthy(context.Background()))

	a = newTestAuditor(t, jsonHandler(http.StatusServiceUnavailable, nil))
	assert.False(t, a.IsHealthy(context.Background()))
}

func TestNewAuditorRejectsBadURL(t *testing.T) {
	_, err := NewAuditor("")
	assert.Error(t, err)

	_, err = NewAuditor("not-a-url")
	assert.Error(t, err)
}
