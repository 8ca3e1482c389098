package handler

import (
	"net/http"
	"strings"

	"github.com/vigilhq/vigil/internal/model"
	"github.com/vigilhq/vigil/internal/service"
	"github.com/vigilhq/vigil/internal/store"
)

// AuthHandler serves the credential validation and session endpoints.
type AuthHandler struct {
	auth  *service.AuthService
	store *store.Store
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(auth *service.AuthService, st *store.Store) *AuthHandler {
	return &AuthHandler{auth: auth, store: st}
}

// Validate handles GET /auth/validate. The credential arrives via the
// X-API-Key header or an Authorization bearer value. Failures return a
// generic 401; the reason is never detailed beyond "invalid credentials" so
// the endpoint does not aid forgery.
func (h *AuthHandler) Validate(w http.ResponseWriter, r *http.Request) {
	cred, ok := service.ExtractCredential(r.Header)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, model.ValidationResponse{
			Valid: false,
			Error: "missing or unrecognized credentials",
		})
		return
	}

	result, err := h.auth.ValidateCredential(r.Context(), cred, clientIP(r), r.UserAgent())
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, model.ValidationResponse{
			Valid: false,
			Error: "invalid credentials",
		})
		return
	}

	resp := model.ValidationResponse{
		Valid:       true,
		AuthType:    string(result.AuthType),
		Permissions: result.Permissions,
		RateLimit:   result.RateLimit,
		UsageCount:  result.UsageCount,
	}
	if result.ExpiresAt != nil {
		unix := result.ExpiresAt.Unix()
		resp.ExpiresAt = &unix
	}
	if result.UserID != nil {
		if user, err := h.store.GetUser(r.Context(), *result.UserID); err == nil {
			resp.User = user
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success      bool        `json:"success"`
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token,omitempty"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int         `json:"expires_in"`
	User         interface{} `json:"user,omitempty"`
}

// Login handles POST /auth/login: verifies the email/password pair and mints
// an access/refresh token pair.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.auth.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	access, err := h.auth.IssueToken(r.Context(), user.ID, defaultUserPermissions, service.TokenTypeAccess, service.AccessTokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}
	refresh, err := h.auth.IssueToken(r.Context(), user.ID, defaultUserPermissions, service.TokenTypeRefresh, service.RefreshTokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Success:      true,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(service.AccessTokenTTL.Seconds()),
		User:         user,
	})
}

// Refresh handles POST /auth/refresh: exchanges a refresh bearer token for a
// new access token. Access tokens are rejected here regardless of validity.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		writeError(w, http.StatusUnauthorized, "Refresh token required")
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

	principal, err := h.auth.VerifyToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	if principal.TokenType != service.TokenTypeRefresh {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	access, err := h.auth.IssueToken(r.Context(), principal.UserID, principal.Permissions, service.TokenTypeAccess, service.AccessTokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Success:     true,
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int(service.AccessTokenTTL.Seconds()),
	})
}

// defaultUserPermissions is the permission set minted into login tokens.
var defaultUserPermissions = []string{"read", "write"}

// clientIP prefers the RealIP-resolved remote address, dropping the port.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if i := strings.LastIndex(addr, ":"); i > 0 && !strings.Contains(addr[i:], "]") {
		return strings.Trim(addr[:i], "[]")
	}
	return addr
}
