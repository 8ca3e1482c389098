package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vigilhq/vigil/internal/service"
	"github.com/vigilhq/vigil/internal/store"
)

func newTestAuth(t *testing.T) *service.AuthService {
	t.Helper()
	st, err := store.New("")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return service.NewAuthService(st, "middleware-test-secret")
}

func TestRequestID(t *testing.T) {
	t.Run("generates when absent", func(t *testing.T) {
		var gotID string
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotID = GetRequestID(r.Context())
		}))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		if gotID == "" {
			t.Fatal("expected a generated request ID")
		}
		if rec.Header().Get("X-Request-ID") != gotID {
			t.Error("response header should carry the same ID")
		}
	})

	t.Run("preserves client-provided ID", func(t *testing.T) {
		var gotID string
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotID = GetRequestID(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "client-chosen")
		h.ServeHTTP(httptest.NewRecorder(), req)

		if gotID != "client-chosen" {
			t.Errorf("request ID: got %q, want %q", gotID, "client-chosen")
		}
	})
}

func TestAuthenticate(t *testing.T) {
	auth := newTestAuth(t)
	ctx := context.Background()

	gen, err := auth.GenerateAPIKey(ctx, "mw", nil, []string{"read"}, nil, 0)
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}

	var principal *Principal
	h := Authenticate(auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal = GetPrincipal(r.Context())
	}))

	t.Run("valid api key", func(t *testing.T) {
		principal = nil
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-API-Key", gen.Key)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status: got %d", rec.Code)
		}
		if principal == nil || principal.Kind != service.CredentialAPIKey {
			t.Fatalf("principal: %+v", principal)
		}
	})

	t.Run("valid bearer token", func(t *testing.T) {
		principal = nil
		token, err := auth.IssueToken(ctx, 5, []string{"read"}, service.TokenTypeAccess, service.AccessTokenTTL)
		if err != nil {
			t.Fatalf("IssueToken: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
		}
		if principal == nil || principal.Kind != service.CredentialBearerToken {
			t.Fatalf("principal: %+v", principal)
		}
		if principal.UserID == nil || *principal.UserID != 5 {
			t.Errorf("UserID: %v", principal.UserID)
		}
	})

	t.Run("missing credential", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status: got %d, want 401", rec.Code)
		}
	})

	t.Run("bogus key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-API-Key", "vgl_deadbeefdeadbeefdeadbeef")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status: got %d, want 401", rec.Code)
		}
	})
}

func TestRequirePermission(t *testing.T) {
	allowed := func(perms []string) int {
		h := RequirePermission("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if perms != nil {
			ctx := context.WithValue(req.Context(), AuthPrincipalKey, &Principal{Permissions: perms})
			req = req.WithContext(ctx)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := allowed([]string{"admin"}); got != http.StatusOK {
		t.Errorf("admin permission: got %d", got)
	}
	if got := allowed([]string{"read"}); got != http.StatusForbidden {
		t.Errorf("read-only principal: got %d", got)
	}
	if got := allowed(nil); got != http.StatusForbidden {
		t.Errorf("no principal: got %d", got)
	}
}
