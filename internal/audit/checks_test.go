package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuditor(t *testing.T, handler http.Handler, options ...Option) *Auditor {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	options = append([]Option{WithPerformancePause(0)}, options...)
	a, err := NewAuditor(srv.URL, options...)
	require.NoError(t, err)
	return a
}

func jsonHandler(status int, body any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func TestCheckHealth(t *testing.T) {
	t.Run("2xx passes", func(t *testing.T) {
		a := newTestAuditor(t, jsonHandler(http.StatusOK, map[string]string{"status": "ok"}))
		c := a.CheckHealth(context.Background())
		assert.True(t, c.Passed)
		assert.Equal(t, CheckHealth, c.Name)
		assert.Equal(t, http.StatusOK, c.Data["status_code"])
	})

	t.Run("5xx fails with status in message", func(t *testing.T) {
		a := newTestAuditor(t, jsonHandler(http.StatusInternalServerError, nil))
		c := a.CheckHealth(context.Background())
		assert.False(t, c.Passed)
		assert.Contains(t, c.Message, "500")
	})

	t.Run("transport failure fails", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close() // probe a dead server
		a, err := NewAuditor(srv.URL, WithPerformancePause(0))
		require.NoError(t, err)

		c := a.CheckHealth(context.Background())
		assert.False(t, c.Passed)
		assert.Contains(t, c.Message, "connection failed")
		assert.NotEmpty(t, c.Data["error"])
	})
}

// ---------------------------------------------------------------------------
// Version
// ---------------------------------------------------------------------------

func TestCheckVersion(t *testing.T) {
	t.Run("fetches and caches", func(t *testing.T) {
		calls := 0
		mux := http.NewServeMux()
		mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
			calls++
			jsonHandler(http.StatusOK, map[string]string{
				"version": "1.4.0", "name": "target-api", "environment": "staging",
			})(w, r)
		})
		a := newTestAuditor(t, mux)

		c := a.CheckVersion(context.Background())
		require.True(t, c.Passed)
		assert.Equal(t, "1.4.0", c.Data["version"])
		assert.Equal(t, "target-api", c.Data["api_name"])
		assert.Equal(t, "staging", c.Data["environment"])
		assert.NotContains(t, c.Data, "cached")

		// Second run hits the cache, not the endpoint.
		c = a.CheckVersion(context.Background())
		require.True(t, c.Passed)
		assert.Equal(t, true, c.Data["cached"])
		assert.Contains(t, c.Message, "cached")
		assert.Equal(t, 1, calls)
	})

	t.Run("falls back to root on non-200", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/version", jsonHandler(http.StatusNotFound, nil))
		mux.HandleFunc("/", jsonHandler(http.StatusOK, map[string]string{"api_version": "0.9.2"}))
		a := newTestAuditor(t, mux)

		c := a.CheckVersion(context.Background())
		require.True(t, c.Passed)
		assert.Equal(t, "0.9.2", c.Data["version"])
	})

	t.Run("unknown fields get defaults and skip the cache", func(t *testing.T) {
		a := newTestAuditor(t, jsonHandler(http.StatusOK, map[string]string{}))

		c := a.CheckVersion(context.Background())
		require.True(t, c.Passed)
		assert.Equal(t, "unknown", c.Data["version"])
		assert.Equal(t, "unknown", c.Data["api_name"])
		assert.Equal(t, "production", c.Data["environment"])

		if _, ok := a.cache.Get(context.Background(), versionCacheKey); ok {
			t.Error("unknown version should not be cached")
		}
	})

	t.Run("transport failure fails", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		a, err := NewAuditor(srv.URL)
		require.NoError(t, err)

		c := a.CheckVersion(context.Background())
		assert.False(t, c.Passed)
		assert.Contains(t, c.Message, "could not resolve version")
	})
}

// ---------------------------------------------------------------------------
// Performance
// ---------------------------------------------------------------------------

func TestCheckPerformance(t *testing.T) {
	t.Run("fast target is excellent", func(t *testing.T) {
		a := newTestAuditor(t, jsonHandler(http.StatusOK, map[string]string{"status": "ok"}))
		c := a.CheckPerformance(context.Background())
		require.True(t, c.Passed)
		assert.Equal(t, "excellent", c.Data["status"])
		assert.Equal(t, 3, c.Data["measurements"])
	})

	t.Run("all samples failing", func(t *testing.T) {
		a := newTestAuditor(t, jsonHandler(http.StatusServiceUnavailable, nil))
		c := a.CheckPerformance(context.Background())
		assert.False(t, c.Passed)
		assert.Equal(t, "could not measure performance", c.Message)
	})
}

func TestClassifyLatency(t *testing.T) {
	tests := []struct {
		avgMS float64
		want  string
	}{
		{200, "excellent"},
		{999.9, "excellent"},
		{1000, "good"},
		{1999.9, "good"},
		{2000, "slow"},
		{5000, "slow"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyLatency(tt.avgMS), "avg %.1fms", tt.avgMS)
	}
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

func TestCheckAuthentication(t *testing.T) {
	const key = "vgl_0123456789abcdef"

	t.Run("valid credentials", func(t *testing.T) {
		var gotAPIKey, gotAuth string
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/validate", func(w http.ResponseWriter, r *http.Request) {
			gotAPIKey = r.Header.Get("X-API-Key")
			gotAuth = r.Header.Get("Authorization")
			jsonHandler(http.StatusOK, map[string]any{
				"valid":       true,
				"user":        map[string]any{"id": 1},
				"permissions": []string{"read"},
			})(w, r)
		})
		a := newTestAuditor(t, mux)

		c := a.CheckAuthentication(context.Background(), key)
		require.True(t, c.Passed)
		assert.Equal(t, key, gotAPIKey)
		assert.Equal(t, "Bearer "+key, gotAuth)
		assert.Equal(t, true, c.Data["valid"])
		assert.Equal(t, "vgl_0123...", c.Data["key_prefix"])
	})

	t.Run("401 is invalid credentials", func(t *testing.T) {
		a := newTestAuditor(t, jsonHandler(http.StatusUnauthorized, nil))
		c := a.CheckAuthentication(context.Background(), key)
		assert.False(t, c.Passed)
		assert.Contains(t, c.Message, "invalid")
	})

	t.Run("404 falls back to protected endpoint with 200", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/me", jsonHandler(http.StatusOK, map[string]any{"id": 1}))
		a := newTestAuditor(t, mux) // everything else 404s

		c := a.CheckAuthentication(context.Background(), key)
		require.True(t, c.Passed)
		assert.Equal(t, "protected_endpoint", c.Data["method"])
	})

	t.Run("404 falls back to protected endpoint with 401", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/user", jsonHandler(http.StatusUnauthorized, nil))
		a := newTestAuditor(t, mux)

		c := a.CheckAuthentication(context.Background(), key)
		assert.False(t, c.Passed)
		assert.Equal(t, "credentials are invalid", c.Message)
	})

	t.Run("no endpoint resolves the question", func(t *testing.T) {
		a := newTestAuditor(t, http.NotFoundHandler())
		c := a.CheckAuthentication(context.Background(), key)
		assert.False(t, c.Passed)
		assert.Equal(t, "could not validate credentials", c.Message)
	})

	t.Run("custom fallback list", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/internal/whoami", jsonHandler(http.StatusOK, map[string]any{"id": 7}))
		a := newTestAuditor(t, mux, WithAuthFallbackEndpoints([]string{"/internal/whoami"}))

		c := a.CheckAuthentication(context.Background(), key)
		assert.True(t, c.Passed)
	})
}

// ---------------------------------------------------------------------------
// Dependencies
// ---------------------------------------------------------------------------

func TestCheckDependencies(t *testing.T) {
	t.Run("mixed statuses", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/status/dependencies", jsonHandler(http.StatusOK, map[string]any{
			"services": map[string]any{"db": "healthy", "cache": "down"},
		}))
		a := newTestAuditor(t, mux)

		c := a.CheckDependencies(context.Background())
		assert.False(t, c.Passed)
		assert.Equal(t, []string{"cache"}, c.Data["failed"])
		assert.Equal(t, 1, c.Data["healthy"])
		assert.Equal(t, 2, c.Data["total"])
		assert.Contains(t, c.Message, "cache")
	})

	t.Run("all healthy", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/status/dependencies", jsonHandler(http.StatusOK, map[string]any{
			"dependencies": map[string]any{
				"db":     true,
				"redis":  "connected",
				"worker": map[string]any{"state": "up"},
			},
		}))
		a := newTestAuditor(t, mux)

		c := a.CheckDependencies(context.Background())
		require.True(t, c.Passed)
		assert.Equal(t, 3, c.Data["healthy"])
	})

	t.Run("empty map passes trivially", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/status/dependencies", jsonHandler(http.StatusOK, map[string]any{
			"services": map[string]any{},
		}))
		a := newTestAuditor(t, mux)

		c := a.CheckDependencies(context.Background())
		assert.True(t, c.Passed)
		assert.Equal(t, "no dependencies reported", c.Message)
	})

	t.Run("fallback endpoint with dependency info", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/health/full", jsonHandler(http.StatusOK, map[string]any{
			"services": map[string]any{"db": "ok"},
		}))
		a := newTestAuditor(t, mux)

		c := a.CheckDependencies(context.Background())
		require.True(t, c.Passed)
		assert.Equal(t, 1, c.Data["total"])
	})

	t.Run("fallback endpoint without dependency info assumes healthy", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/status", jsonHandler(http.StatusOK, map[string]any{"uptime": 123}))
		a := newTestAuditor(t, mux)

		c := a.CheckDependencies(context.Background())
		require.True(t, c.Passed)
		assert.Contains(t, c.Message, "assuming healthy")
	})

	t.Run("nothing exposes status assumes healthy", func(t *testing.T) {
		a := newTestAuditor(t, http.NotFoundHandler())
		c := a.CheckDependencies(context.Background())
		assert.True(t, c.Passed)
		assert.Contains(t, c.Message, "not supported")
	})
}

func TestIsServiceHealthy(t *testing.T) {
	tests := []struct {
		name   string
		status any
		want   bool
	}{
		{"bool true", true, true},
		{"bool false", false, false},
		{"healthy word", "Healthy", true},
		{"connected word", "connected", true},
		{"down word", "down", false},
		{"object status healthy", map[string]any{"status": "healthy"}, true},
		{"object status ok", map[string]any{"status": "ok"}, true},
		{"object healthy flag", map[string]any{"healthy": true}, true},
		{"object state up", map[string]any{"state": "up"}, true},
		{"object status down", map[string]any{"status": "down"}, false},
		{"number", 42.0, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isServiceHealthy(tt.status))
		})
	}
}
