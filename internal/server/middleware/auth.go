package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/vigilhq/vigil/internal/service"
)

type contextKeyAuth string

// AuthPrincipalKey is the context key for the authenticated principal.
const AuthPrincipalKey contextKeyAuth = "auth_principal"

// Principal is the identity attached to the request context after a
// credential validates. Kind reports which credential shape authenticated
// the caller.
type Principal struct {
	Kind        service.CredentialKind
	UserID      *int64
	Permissions []string
	KeyID       *int64 // set for API key credentials
}

// HasPermission reports whether the principal carries the permission or the
// admin wildcard.
func (p *Principal) HasPermission(perm string) bool {
	for _, have := range p.Permissions {
		if have == perm || have == "admin" {
			return true
		}
	}
	return false
}

// Authenticate validates the request credential: an X-API-Key header or an
// Authorization bearer value (opaque key or JWT, classified by shape). On
// success a Principal lands on the request context; on failure the response
// is a generic 401 that never details which validation step failed.
func Authenticate(authSvc *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred, ok := service.ExtractCredential(r.Header)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized,
					"Authentication required. Provide X-API-Key header or Bearer token.")
				return
			}

			result, err := authSvc.ValidateCredential(r.Context(), cred, r.RemoteAddr, r.UserAgent())
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "Invalid credentials")
				return
			}

			principal := &Principal{
				Kind:        result.AuthType,
				UserID:      result.UserID,
				Permissions: result.Permissions,
			}

			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission enforces that the authenticated principal holds the
// given permission. It must run after Authenticate.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil || !principal.HasPermission(perm) {
				writeAuthError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil for unauthenticated requests.
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Manually construct JSON to avoid an import cycle with handler.
	w.Write([]byte(`{"error":{"code":` + strconv.Itoa(status) + `,"message":"` + message + `"}}`))
}
