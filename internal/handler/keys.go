package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vigilhq/vigil/internal/model"
	"github.com/vigilhq/vigil/internal/service"
	"github.com/vigilhq/vigil/internal/store"
)

// KeysHandler serves the API key management endpoints.
type KeysHandler struct {
	auth  *service.AuthService
	store *store.Store
}

// NewKeysHandler creates a KeysHandler.
func NewKeysHandler(auth *service.AuthService, st *store.Store) *KeysHandler {
	return &KeysHandler{auth: auth, store: st}
}

type createKeyRequest struct {
	Name        string   `json:"name"`
	UserID      *int64   `json:"user_id,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	RateLimit   int      `json:"rate_limit,omitempty"`
	ExpiresAt   *string  `json:"expires_at,omitempty"` // RFC 3339
}

// Create handles POST /api/v1/keys. The response carries the plaintext
// secret; it is shown exactly once and unrecoverable afterwards.
func (h *KeysHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		parsed, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "expires_at must be RFC 3339")
			return
		}
		expiresAt = &parsed
	}

	generated, err := h.auth.GenerateAPIKey(r.Context(), req.Name, req.UserID, req.Permissions, expiresAt, req.RateLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate key")
		return
	}
	writeJSON(w, http.StatusCreated, generated)
}

// List handles GET /api/v1/keys. Supports ?user_id= and ?active_only=
// filters.
func (h *KeysHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		keys []model.APIKey
		err  error
	)
	if userID := queryInt64(r, "user_id", 0); userID > 0 {
		keys, err = h.store.ListAPIKeysForUser(r.Context(), userID, queryBool(r, "active_only"))
	} else {
		keys, err = h.store.ListAPIKeys(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list keys")
		return
	}

	resource := make([]interface{}, len(keys))
	for i, k := range keys {
		resource[i] = k
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resource,
		Meta:     &model.ResponseMeta{Count: len(keys)},
	})
}

// Get handles GET /api/v1/keys/{keyID}.
func (h *KeysHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := keyID(w, r)
	if !ok {
		return
	}
	key, err := h.store.GetAPIKey(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Key not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load key")
		return
	}
	writeJSON(w, http.StatusOK, key)
}

type revokeKeyRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Revoke handles DELETE /api/v1/keys/{keyID}. Revocation is permanent;
// revoking an already-revoked key returns 404.
func (h *KeysHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id, ok := keyID(w, r)
	if !ok {
		return
	}

	var req revokeKeyRequest
	_ = readJSON(r, &req) // the body is optional

	affected, err := h.auth.RevokeAPIKey(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to revoke key")
		return
	}
	if !affected {
		writeError(w, http.StatusNotFound, "Key not found or already revoked")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"revoked": true, "id": id})
}

func keyID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "keyID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid key id")
		return 0, false
	}
	return id, true
}
