package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/vigilhq/vigil/internal/model"
)

// Store manages Vigil's credential state backed by SQLite. It persists users,
// API key records, and the per-validation log rows used for rate limiting.
type Store struct {
	db *sqlx.DB
}

// New creates a new credential store. Pass empty string for in-memory.
func New(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "vigil.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open credential database: %w", err)
	}

	// SQLite doesn't support concurrent writes; serializing through one
	// connection is what makes the usage-count increment atomic.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate credential database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// apiKeyRow is a flat struct that maps 1:1 to the api_keys table columns.
// The permissions column stores the JSON-encoded permission set.
type apiKeyRow struct {
	ID              int64      `db:"id"`
	UserID          *int64     `db:"user_id"`
	Name            string     `db:"name"`
	KeyHash         string     `db:"key_hash"`
	KeyPrefix       string     `db:"key_prefix"`
	PermissionsJSON string     `db:"permissions"`
	RateLimit       int        `db:"rate_limit"`
	UsageCount      int64      `db:"usage_count"`
	IsActive        bool       `db:"is_active"`
	ExpiresAt       *time.Time `db:"expires_at"`
	LastUsedAt      *time.Time `db:"last_used_at"`
	LastIP          string     `db:"last_ip"`
	LastUserAgent   string     `db:"last_user_agent"`
	RevokedAt       *time.Time `db:"revoked_at"`
	RevokedReason   string     `db:"revoked_reason"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

func apiKeyRowFromModel(k *model.APIKey) (apiKeyRow, error) {
	perms := k.Permissions
	if perms == nil {
		perms = []string{}
	}
	permsJSON, err := json.Marshal(perms)
	if err != nil {
		return apiKeyRow{}, fmt.Errorf("marshal permissions: %w", err)
	}
	return apiKeyRow{
		ID:              k.ID,
		UserID:          k.UserID,
		Name:            k.Name,
		KeyHash:         k.KeyHash,
		KeyPrefix:       k.KeyPrefix,
		PermissionsJSON: string(permsJSON),
		RateLimit:       k.RateLimit,
		UsageCount:      k.UsageCount,
		IsActive:        k.IsActive,
		ExpiresAt:       k.ExpiresAt,
		LastUsedAt:      k.LastUsedAt,
		LastIP:          k.LastIP,
		LastUserAgent:   k.LastUserAgent,
		RevokedAt:       k.RevokedAt,
		RevokedReason:   k.RevokedReason,
		CreatedAt:       k.CreatedAt,
		UpdatedAt:       k.UpdatedAt,
	}, nil
}

func (r apiKeyRow) toModel() (model.APIKey, error) {
	perms := []string{}
	if r.PermissionsJSON != "" && r.PermissionsJSON != "[]" {
		if err := json.Unmarshal([]byte(r.PermissionsJSON), &perms); err != nil {
			return model.APIKey{}, fmt.Errorf("unmarshal permissions: %w", err)
		}
	}
	return model.APIKey{
		ID:            r.ID,
		UserID:        r.UserID,
		Name:          r.Name,
		KeyHash:       r.KeyHash,
		KeyPrefix:     r.KeyPrefix,
		Permissions:   perms,
		RateLimit:     r.RateLimit,
		UsageCount:    r.UsageCount,
		IsActive:      r.IsActive,
		ExpiresAt:     r.ExpiresAt,
		LastUsedAt:    r.LastUsedAt,
		LastIP:        r.LastIP,
		LastUserAgent: r.LastUserAgent,
		RevokedAt:     r.RevokedAt,
		RevokedReason: r.RevokedReason,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}, nil
}

// CreateAPIKey inserts a new API key record. The key_hash must already be set
// (use HashAPIKey). The ID, CreatedAt, and UpdatedAt fields are populated
// after a successful insert.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	now := time.Now().UTC()
	key.CreatedAt = now
	key.UpdatedAt = now

	row, err := apiKeyRowFromModel(key)
	if err != nil {
		return err
	}

	const q = `INSERT INTO api_keys
		(user_id, name, key_hash, key_prefix, permissions, rate_limit, usage_count,
		 is_active, expires_at, last_used_at, last_ip, last_user_agent,
		 revoked_at, revoked_reason, created_at, updated_at)
		VALUES
		(:user_id, :name, :key_hash, :key_prefix, :permissions, :rate_limit, :usage_count,
		 :is_active, :expires_at, :last_used_at, :last_ip, :last_user_agent,
		 :revoked_at, :revoked_reason, :created_at, :updated_at)`

	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get api key id: %w", err)
	}
	key.ID = id
	return nil
}

// GetAPIKey returns an API key by ID.
func (s *Store) GetAPIKey(ctx context.Context, id int64) (*model.APIKey, error) {
	var row apiKeyRow
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM api_keys WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	key, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// GetAPIKeyByHash looks up an API key by its SHA-256 hash.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	var row apiKeyRow
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM api_keys WHERE key_hash = ?", hash); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	key, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// ListAPIKeys returns all API keys, newest first.
func (s *Store) ListAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	var rows []apiKeyRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM api_keys ORDER BY created_at DESC"); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return rowsToModels(rows)
}

// ListAPIKeysForUser returns a user's API keys, newest first. With activeOnly
// set, revoked and deactivated keys are omitted.
func (s *Store) ListAPIKeysForUser(ctx context.Context, userID int64, activeOnly bool) ([]model.APIKey, error) {
	q := "SELECT * FROM api_keys WHERE user_id = ?"
	if activeOnly {
		q += " AND is_active = 1"
	}
	q += " ORDER BY created_at DESC"

	var rows []apiKeyRow
	if err := s.db.SelectContext(ctx, &rows, q, userID); err != nil {
		return nil, fmt.Errorf("list api keys for user: %w", err)
	}
	return rowsToModels(rows)
}

func rowsToModels(rows []apiKeyRow) ([]model.APIKey, error) {
	keys := make([]model.APIKey, 0, len(rows))
	for _, r := range rows {
		k, err := r.toModel()
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// RevokeAPIKey marks an API key inactive and records the reason. Revocation
// is permanent: a key that is already revoked is not touched, and the call
// returns ErrNotFound ("no rows affected") so callers can distinguish the
// second revocation from the first.
func (s *Store) RevokeAPIKey(ctx context.Context, id int64, reason string) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET is_active = 0, revoked_at = ?, revoked_reason = ?, updated_at = ?
		 WHERE id = ? AND is_active = 1`, now, reason, now, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchAPIKeyUsage records a successful validation: it increments the usage
// counter and stamps the last_* fields in a single UPDATE keyed by ID, so
// concurrent validations of the same key cannot lose increments.
func (s *Store) TouchAPIKeyUsage(ctx context.Context, id int64, ip, userAgent string) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET usage_count = usage_count + 1, last_used_at = ?,
		 last_ip = ?, last_user_agent = ?, updated_at = ? WHERE id = ?`,
		now, ip, userAgent, now, id)
	if err != nil {
		return fmt.Errorf("touch api key usage: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch api key usage rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// LogAPIKeyUsage inserts one validation-event row for the key. These rows
// feed the trailing-window rate limit count.
func (s *Store) LogAPIKeyUsage(ctx context.Context, keyID int64) error {
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO api_key_logs (api_key_id, created_at) VALUES (?, ?)",
		keyID, time.Now().UTC()); err != nil {
		return fmt.Errorf("log api key usage: %w", err)
	}
	return nil
}

// CountAPIKeyUsageSince returns the number of validation events for the key
// recorded at or after the given instant.
func (s *Store) CountAPIKeyUsageSince(ctx context.Context, keyID int64, since time.Time) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM api_key_logs WHERE api_key_id = ? AND created_at >= ?",
		keyID, since.UTC()); err != nil {
		return 0, fmt.Errorf("count api key usage: %w", err)
	}
	return count, nil
}

// PruneAPIKeyLogs deletes validation-event rows older than the cutoff.
// Returns the number of rows removed.
func (s *Store) PruneAPIKeyLogs(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM api_key_logs WHERE created_at < ?", olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune api key logs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune api key logs rows affected: %w", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser inserts a new user account. The ID, CreatedAt, and UpdatedAt
// fields are populated after a successful insert.
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	const q = `INSERT INTO users
		(email, password_hash, name, is_active, created_at, updated_at)
		VALUES
		(:email, :password_hash, :name, :is_active, :created_at, :updated_at)`

	result, err := s.db.NamedExecContext(ctx, q, user)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get user id: %w", err)
	}
	user.ID = id
	return nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	if err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// GetUserByEmail returns a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE email = ?", email); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &user, nil
}

// ListUsers returns all user accounts.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.SelectContext(ctx, &users, "SELECT * FROM users ORDER BY email"); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// UpdateUserLastLogin sets the last_login_at timestamp for a user.
func (s *Store) UpdateUserLastLogin(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ?", now, now, id)
	if err != nil {
		return fmt.Errorf("update user last login: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user last login rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Utility
// ---------------------------------------------------------------------------

// HashAPIKey returns the hex-encoded SHA-256 hash of a raw API key string.
func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
