package model

import "time"

// APIKey represents an opaque API key used to authenticate requests.
// The raw key is never stored; only a SHA-256 hash and a short prefix for
// identification are persisted. The raw key is shown exactly once at
// creation time.
type APIKey struct {
	ID            int64      `json:"id" db:"id"`
	UserID        *int64     `json:"user_id,omitempty" db:"user_id"`
	Name          string     `json:"name" db:"name"`
	KeyHash       string     `json:"-" db:"key_hash"`      // SHA-256 hash, never expose
	KeyPrefix     string     `json:"key_prefix" db:"key_prefix"` // Short non-secret fragment for identification
	Permissions   []string   `json:"permissions" db:"-"`
	RateLimit     int        `json:"rate_limit" db:"rate_limit"` // Max validations per hour
	UsageCount    int64      `json:"usage_count" db:"usage_count"`
	IsActive      bool       `json:"is_active" db:"is_active"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	LastIP        string     `json:"last_ip,omitempty" db:"last_ip"`
	LastUserAgent string     `json:"last_user_agent,omitempty" db:"last_user_agent"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	RevokedReason string     `json:"revoked_reason,omitempty" db:"revoked_reason"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// Usable reports whether the key may authenticate requests at the given
// instant: it must be active and either carry no expiry or expire later.
func (k *APIKey) Usable(now time.Time) bool {
	if !k.IsActive {
		return false
	}
	return k.ExpiresAt == nil || k.ExpiresAt.After(now)
}

// HasPermission reports whether the key carries the named capability.
func (k *APIKey) HasPermission(perm string) bool {
	for _, p := range k.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
