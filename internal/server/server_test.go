package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vigilhq/vigil/internal/audit"
	"github.com/vigilhq/vigil/internal/model"
	"github.com/vigilhq/vigil/internal/service"
	"github.com/vigilhq/vigil/internal/store"
)

func newTestServer(t *testing.T) (*Server, *service.AuthService, *store.Store) {
	t.Helper()
	st, err := store.New("")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	authSvc := service.NewAuthService(st, "server-test-secret")

	cfg := DefaultConfig()
	cfg.RatePerMinute = 0 // don't throttle tests
	cfg.Version = "0.0.0-test"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, st, authSvc, logger), authSvc, st
}

func doJSON(t *testing.T, s *Server, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reqBody = bytes.NewBuffer(raw)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var parsed map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
			t.Fatalf("unmarshal response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, parsed
}

func createUser(t *testing.T, st *store.Store, email, password string) *model.User {
	t.Helper()
	hash, err := service.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	user := &model.User{Email: email, PasswordHash: hash, Name: "Test User", IsActive: true}
	if err := st.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return user
}

func TestValidateEndpoint(t *testing.T) {
	s, authSvc, _ := newTestServer(t)

	gen, err := authSvc.GenerateAPIKey(context.Background(), "validate-test", nil, []string{"read"}, nil, 0)
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}

	t.Run("valid api key", func(t *testing.T) {
		rec, body := doJSON(t, s, http.MethodGet, "/auth/validate", nil, map[string]string{"X-API-Key": gen.Key})
		if rec.Code != http.StatusOK {
			t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
		}
		if body["valid"] != true {
			t.Error("expected valid=true")
		}
		if body["auth_type"] != "api_key" {
			t.Errorf("auth_type: got %v", body["auth_type"])
		}
		if body["usage_count"] != float64(1) {
			t.Errorf("usage_count: got %v", body["usage_count"])
		}
	})

	t.Run("missing credential", func(t *testing.T) {
		rec, body := doJSON(t, s, http.MethodGet, "/auth/validate", nil, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status: got %d", rec.Code)
		}
		if body["valid"] != false {
			t.Error("expected valid=false")
		}
		if body["error"] == "" {
			t.Error("expected an error message")
		}
	})

	t.Run("revoked key is a generic 401", func(t *testing.T) {
		if _, err := authSvc.RevokeAPIKey(context.Background(), gen.ID, "test"); err != nil {
			t.Fatalf("RevokeAPIKey: %v", err)
		}
		rec, body := doJSON(t, s, http.MethodGet, "/auth/validate", nil, map[string]string{"X-API-Key": gen.Key})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status: got %d", rec.Code)
		}
		if body["error"] != "invalid credentials" {
			t.Errorf("expected a generic reason, got %v", body["error"])
		}
	})
}

func TestLoginAndRefresh(t *testing.T) {
	s, _, st := newTestServer(t)
	createUser(t, st, "ops@example.com", "correct horse")

	rec, body := doJSON(t, s, http.MethodPost, "/auth/login",
		map[string]string{"email": "ops@example.com", "password": "correct horse"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status: got %d, body %s", rec.Code, rec.Body.String())
	}
	if body["success"] != true || body["token_type"] != "Bearer" {
		t.Fatalf("login body: %v", body)
	}
	access, _ := body["access_token"].(string)
	refresh, _ := body["refresh_token"].(string)
	if access == "" || refresh == "" {
		t.Fatal("expected both tokens")
	}

	t.Run("access token validates", func(t *testing.T) {
		rec, body := doJSON(t, s, http.MethodGet, "/auth/validate", nil,
			map[string]string{"Authorization": "Bearer " + access})
		if rec.Code != http.StatusOK {
			t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
		}
		if body["auth_type"] != "bearer_token" {
			t.Errorf("auth_type: got %v", body["auth_type"])
		}
		if body["expires_at"] == nil {
			t.Error("expected expires_at for a token")
		}
	})

	t.Run("refresh token mints a new access token", func(t *testing.T) {
		rec, body := doJSON(t, s, http.MethodPost, "/auth/refresh", nil,
			map[string]string{"Authorization": "Bearer " + refresh})
		if rec.Code != http.StatusOK {
			t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
		}
		if tok, _ := body["access_token"].(string); tok == "" {
			t.Error("expected a new access token")
		}
	})

	t.Run("access token is rejected by refresh", func(t *testing.T) {
		rec, _ := doJSON(t, s, http.MethodPost, "/auth/refresh", nil,
			map[string]string{"Authorization": "Bearer " + access})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status: got %d, want 401", rec.Code)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		rec, _ := doJSON(t, s, http.MethodPost, "/auth/login",
			map[string]string{"email": "ops@example.com", "password": "wrong"}, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status: got %d, want 401", rec.Code)
		}
	})
}

func TestKeyManagementEndpoints(t *testing.T) {
	s, authSvc, _ := newTestServer(t)
	ctx := context.Background()

	admin, err := authSvc.GenerateAPIKey(ctx, "admin", nil, []string{"admin"}, nil, 0)
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	reader, err := authSvc.GenerateAPIKey(ctx, "reader", nil, []string{"read"}, nil, 0)
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	adminHeaders := map[string]string{"X-API-Key": admin.Key}

	t.Run("create", func(t *testing.T) {
		rec, body := doJSON(t, s, http.MethodPost, "/api/v1/keys",
			map[string]any{"name": "ci-deploy", "permissions": []string{"read", "write"}, "rate_limit": 50},
			adminHeaders)
		if rec.Code != http.StatusCreated {
			t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
		}
		if key, _ := body["key"].(string); key == "" {
			t.Error("expected the plaintext key in the create response")
		}
	})

	t.Run("list", func(t *testing.T) {
		rec, body := doJSON(t, s, http.MethodGet, "/api/v1/keys", nil, adminHeaders)
		if rec.Code != http.StatusOK {
			t.Fatalf("status: got %d", rec.Code)
		}
		meta, _ := body["meta"].(map[string]any)
		if meta["count"] != float64(3) {
			t.Errorf("count: got %v, want 3", meta["count"])
		}
	})

	t.Run("get and revoke", func(t *testing.T) {
		path := fmt.Sprintf("/api/v1/keys/%d", reader.ID)

		rec, body := doJSON(t, s, http.MethodGet, path, nil, adminHeaders)
		if rec.Code != http.StatusOK {
			t.Fatalf("get status: got %d", rec.Code)
		}
		if body["name"] != "reader" {
			t.Errorf("name: got %v", body["name"])
		}

		rec, _ = doJSON(t, s, http.MethodDelete, path, nil, adminHeaders)
		if rec.Code != http.StatusOK {
			t.Fatalf("revoke status: got %d, body %s", rec.Code, rec.Body.String())
		}

		// Second revoke: no rows affected.
		rec, _ = doJSON(t, s, http.MethodDelete, path, nil, adminHeaders)
		if rec.Code != http.StatusNotFound {
			t.Errorf("second revoke status: got %d, want 404", rec.Code)
		}
	})

	t.Run("non-admin key is forbidden", func(t *testing.T) {
		// reader was revoked above; mint a fresh one.
		fresh, err := authSvc.GenerateAPIKey(ctx, "reader2", nil, []string{"read"}, nil, 0)
		if err != nil {
			t.Fatalf("GenerateAPIKey: %v", err)
		}
		rec, _ := doJSON(t, s, http.MethodGet, "/api/v1/keys", nil, map[string]string{"X-API-Key": fresh.Key})
		if rec.Code != http.StatusForbidden {
			t.Errorf("status: got %d, want 403", rec.Code)
		}
	})

	t.Run("unauthenticated is rejected", func(t *testing.T) {
		rec, _ := doJSON(t, s, http.MethodGet, "/api/v1/keys", nil, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status: got %d, want 401", rec.Code)
		}
	})
}

func TestProbeEndpoints(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec, body := doJSON(t, s, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health: %d %v", rec.Code, body)
	}

	rec, body = doJSON(t, s, http.MethodGet, "/version", nil, nil)
	if rec.Code != http.StatusOK || body["version"] != "0.0.0-test" {
		t.Errorf("version: %d %v", rec.Code, body)
	}

	rec, body = doJSON(t, s, http.MethodGet, "/status/dependencies", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("dependencies status: %d", rec.Code)
	}
	services, _ := body["services"].(map[string]any)
	if services["database"] != "healthy" {
		t.Errorf("database status: got %v", services["database"])
	}

	rec, _ = doJSON(t, s, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("healthz: %d", rec.Code)
	}
	rec, body = doJSON(t, s, http.MethodGet, "/readyz", nil, nil)
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("readyz: %d %v", rec.Code, body)
	}

	rec, body = doJSON(t, s, http.MethodGet, "/openapi.json", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("openapi status: %d", rec.Code)
	}
	if body["openapi"] != "3.1.0" {
		t.Errorf("openapi version: got %v", body["openapi"])
	}
}

// TestAuditorAgainstVigil points the integrity auditor at a live Vigil
// instance: every probe endpoint it expects is served, so a run with a valid
// credential yields five passing checks.
func TestAuditorAgainstVigil(t *testing.T) {
	s, authSvc, _ := newTestServer(t)

	gen, err := authSvc.GenerateAPIKey(context.Background(), "auditor", nil, []string{"read"}, nil, 0)
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}

	target := httptest.NewServer(s)
	defer target.Close()

	auditor, err := audit.NewAuditor(target.URL,
		audit.WithCredential(gen.Key),
		audit.WithPerformancePause(0),
		audit.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("NewAuditor: %v", err)
	}

	report := auditor.Audit(context.Background())

	if got := len(report.Checks()); got != 5 {
		t.Fatalf("checks: got %d, want 5 (%s)", got, report.ErrorMessage())
	}
	if !report.IsHealthy() {
		t.Fatalf("expected a healthy report, got %s: %s", report.Status(), report.ErrorMessage())
	}
	if report.Version() != "0.0.0-test" {
		t.Errorf("version: got %q", report.Version())
	}
}
