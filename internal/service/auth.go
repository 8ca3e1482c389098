package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/vigilhq/vigil/internal/model"
	"github.com/vigilhq/vigil/internal/store"
)

var (
	// ErrCredentialMissing means no credential of any kind was presented.
	ErrCredentialMissing = errors.New("credential missing")
	// ErrCredentialMalformed means the credential has the wrong shape (bad
	// tag prefix, unparseable token).
	ErrCredentialMalformed = errors.New("credential malformed")
	// ErrCredentialInvalid covers not-found, inactive, and expired keys, and
	// any token failure without a more specific cause.
	ErrCredentialInvalid = errors.New("credential invalid")
	// ErrCredentialExpired means a bearer token past its expiry.
	ErrCredentialExpired = errors.New("credential expired")
	// ErrSignatureInvalid means a bearer token whose signature does not verify.
	ErrSignatureInvalid = errors.New("token signature invalid")
)

const (
	// KeyTag is the fixed literal prefix of every opaque API key. It is what
	// the router uses to tell keys apart from JWT bearer values.
	KeyTag = "vgl_"

	// keySecretBytes is the entropy of the random secret behind each key.
	keySecretBytes = 24

	// keyDisplayLen is the length of the non-secret display prefix:
	// the tag plus the first 8 hex characters.
	keyDisplayLen = len(KeyTag) + 8

	tokenIssuer   = "vigil"
	tokenAudience = "vigil-api"
)

// Standard token lifetimes minted at login.
const (
	AccessTokenTTL  = 1 * time.Hour
	RefreshTokenTTL = 30 * 24 * time.Hour
)

// Token types embedded in the token_type claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

const defaultRateLimit = 1000

// AuthService validates both credential kinds Vigil understands: opaque API
// keys persisted in the store, and stateless HS256 bearer tokens.
type AuthService struct {
	store     *store.Store
	jwtSecret []byte
	now       func() time.Time
}

// NewAuthService creates an AuthService backed by the given store.
func NewAuthService(st *store.Store, jwtSecret string) *AuthService {
	return &AuthService{
		store:     st,
		jwtSecret: []byte(jwtSecret),
		now:       time.Now,
	}
}

// ---------------------------------------------------------------------------
// Opaque API keys
// ---------------------------------------------------------------------------

// GeneratedKey is the result of GenerateAPIKey. Key holds the full plaintext
// secret; it is returned exactly once and cannot be recovered afterwards.
type GeneratedKey struct {
	ID          int64      `json:"id"`
	Key         string     `json:"key"`
	Prefix      string     `json:"prefix"`
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions"`
	RateLimit   int        `json:"rate_limit"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// GenerateAPIKey mints a new opaque key: tag + hex of 24 random bytes. Only
// the SHA-256 digest and a short display prefix are persisted.
func (s *AuthService) GenerateAPIKey(ctx context.Context, name string, userID *int64, permissions []string, expiresAt *time.Time, rateLimit int) (*GeneratedKey, error) {
	if len(permissions) == 0 {
		permissions = []string{"read"}
	}
	if rateLimit <= 0 {
		rateLimit = defaultRateLimit
	}

	secret := make([]byte, keySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate key secret: %w", err)
	}
	plaintext := KeyTag + hex.EncodeToString(secret)
	prefix := plaintext[:keyDisplayLen]

	key := &model.APIKey{
		UserID:      userID,
		Name:        name,
		KeyHash:     store.HashAPIKey(plaintext),
		KeyPrefix:   prefix,
		Permissions: permissions,
		RateLimit:   rateLimit,
		IsActive:    true,
		ExpiresAt:   expiresAt,
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return nil, fmt.Errorf("store api key: %w", err)
	}

	return &GeneratedKey{
		ID:          key.ID,
		Key:         plaintext,
		Prefix:      prefix,
		Name:        name,
		Permissions: permissions,
		RateLimit:   rateLimit,
		ExpiresAt:   expiresAt,
		CreatedAt:   key.CreatedAt,
	}, nil
}

// ValidateAPIKey checks a candidate key and, on success, records the usage:
// the usage counter is incremented and the last_* fields stamped in one
// atomic store update, and a validation event is logged for rate limiting.
// The returned record reflects the state after the update. The raw secret is
// never part of the result.
func (s *AuthService) ValidateAPIKey(ctx context.Context, rawKey, ip, userAgent string) (*model.APIKey, error) {
	if !strings.HasPrefix(rawKey, KeyTag) {
		return nil, ErrCredentialMalformed
	}

	key, err := s.store.GetAPIKeyByHash(ctx, store.HashAPIKey(rawKey))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCredentialInvalid
		}
		return nil, fmt.Errorf("look up api key: %w", err)
	}

	now := s.now()
	if !key.Usable(now) {
		return nil, ErrCredentialInvalid
	}

	if err := s.store.TouchAPIKeyUsage(ctx, key.ID, ip, userAgent); err != nil {
		return nil, fmt.Errorf("record api key usage: %w", err)
	}
	if err := s.store.LogAPIKeyUsage(ctx, key.ID); err != nil {
		return nil, fmt.Errorf("log api key usage: %w", err)
	}

	key.UsageCount++
	key.LastUsedAt = &now
	key.LastIP = ip
	key.LastUserAgent = userAgent
	return key, nil
}

// RevokeAPIKey permanently deactivates a key. Returns whether a record was
// actually affected: revoking an already-revoked key returns false.
func (s *AuthService) RevokeAPIKey(ctx context.Context, id int64, reason string) (bool, error) {
	if err := s.store.RevokeAPIKey(ctx, id, reason); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("revoke api key: %w", err)
	}
	return true, nil
}

// IsRateLimited reports whether the key's validation count over the trailing
// 60 minutes has reached its hourly limit. A missing key is treated as
// rate-limited (fail closed).
func (s *AuthService) IsRateLimited(ctx context.Context, keyID int64) (bool, error) {
	key, err := s.store.GetAPIKey(ctx, keyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return true, nil
		}
		return true, fmt.Errorf("look up api key: %w", err)
	}

	count, err := s.store.CountAPIKeyUsageSince(ctx, keyID, s.now().Add(-time.Hour))
	if err != nil {
		return true, fmt.Errorf("count api key usage: %w", err)
	}
	return count >= key.RateLimit, nil
}

// ---------------------------------------------------------------------------
// Bearer tokens
// ---------------------------------------------------------------------------

// TokenPrincipal is the identity carried by a verified bearer token.
type TokenPrincipal struct {
	UserID      int64
	Permissions []string
	TokenType   string
	ExpiresAt   time.Time
}

type tokenClaims struct {
	UserID      int64    `json:"user_id"`
	Permissions []string `json:"permissions"`
	TokenType   string   `json:"token_type"`
	jwt.RegisteredClaims
}

// IssueToken signs a bearer token for the user. tokenType is TokenTypeAccess
// or TokenTypeRefresh; ttl controls the expiry claim.
func (s *AuthService) IssueToken(ctx context.Context, userID int64, permissions []string, tokenType string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := tokenClaims{
		UserID:      userID,
		Permissions: permissions,
		TokenType:   tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			Subject:   fmt.Sprintf("%d", userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// VerifyToken checks signature, expiry, issuer, and audience, and returns
// the principal. Failure causes are distinguished so callers can log
// precisely, but the API boundary must surface only a generic "invalid".
func (s *AuthService) VerifyToken(ctx context.Context, tokenStr string) (*TokenPrincipal, error) {
	claims := &tokenClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrCredentialExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrSignatureInvalid
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrCredentialMalformed
		default:
			return nil, ErrCredentialInvalid
		}
	}
	if !token.Valid {
		return nil, ErrCredentialInvalid
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return &TokenPrincipal{
		UserID:      claims.UserID,
		Permissions: claims.Permissions,
		TokenType:   claims.TokenType,
		ExpiresAt:   expiresAt,
	}, nil
}

// ---------------------------------------------------------------------------
// User login
// ---------------------------------------------------------------------------

// AuthenticateUser verifies an email/password pair against the stored bcrypt
// hash. Wrong email and wrong password are indistinguishable to the caller.
func (s *AuthService) AuthenticateUser(ctx context.Context, email, password string) (*model.User, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCredentialInvalid
		}
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrCredentialInvalid
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrCredentialInvalid
	}

	_ = s.store.UpdateUserLastLogin(ctx, user.ID)
	return user, nil
}

// HashPassword returns the bcrypt hash of a plaintext password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// ---------------------------------------------------------------------------
// Credential routing
// ---------------------------------------------------------------------------

// CredentialKind tags the two credential shapes resolved at the router
// boundary.
type CredentialKind string

const (
	CredentialAPIKey      CredentialKind = "api_key"
	CredentialBearerToken CredentialKind = "bearer_token"
)

// Credential is a classified credential extracted from request headers.
type Credential struct {
	Kind  CredentialKind
	Value string
}

// ExtractCredential inspects request headers and classifies the credential.
// An explicit X-API-Key header wins; otherwise an Authorization bearer value
// is classified by shape: the opaque-key tag marks an API key, the JWT
// compact form (three dot-separated base64url segments starting "eyJ") marks
// a bearer token. Unrecognized shapes yield ok=false.
func ExtractCredential(h http.Header) (Credential, bool) {
	if v := h.Get("X-API-Key"); v != "" {
		return Credential{Kind: CredentialAPIKey, Value: v}, true
	}

	authHeader := h.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return Credential{}, false
	}
	v := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	switch {
	case strings.HasPrefix(v, KeyTag):
		return Credential{Kind: CredentialAPIKey, Value: v}, true
	case looksLikeJWT(v):
		return Credential{Kind: CredentialBearerToken, Value: v}, true
	default:
		return Credential{}, false
	}
}

// looksLikeJWT reports whether v has the compact JWS shape produced by the
// signing scheme: three segments, first one a base64url-encoded JSON header.
func looksLikeJWT(v string) bool {
	return strings.HasPrefix(v, "eyJ") && strings.Count(v, ".") == 2
}

// ValidationResult is the normalized outcome of validating either credential
// kind. Callers cannot tell which path was used except via AuthType.
type ValidationResult struct {
	Valid       bool
	AuthType    CredentialKind
	UserID      *int64
	Permissions []string
	RateLimit   *int
	UsageCount  *int64
	ExpiresAt   *time.Time
}

// ValidateCredential routes the credential to the matching validator and
// normalizes the result shape.
func (s *AuthService) ValidateCredential(ctx context.Context, cred Credential, ip, userAgent string) (*ValidationResult, error) {
	switch cred.Kind {
	case CredentialAPIKey:
		key, err := s.ValidateAPIKey(ctx, cred.Value, ip, userAgent)
		if err != nil {
			return nil, err
		}
		return &ValidationResult{
			Valid:       true,
			AuthType:    CredentialAPIKey,
			UserID:      key.UserID,
			Permissions: key.Permissions,
			RateLimit:   &key.RateLimit,
			UsageCount:  &key.UsageCount,
			ExpiresAt:   key.ExpiresAt,
		}, nil

	case CredentialBearerToken:
		principal, err := s.VerifyToken(ctx, cred.Value)
		if err != nil {
			return nil, err
		}
		expiresAt := principal.ExpiresAt
		return &ValidationResult{
			Valid:       true,
			AuthType:    CredentialBearerToken,
			UserID:      &principal.UserID,
			Permissions: principal.Permissions,
			ExpiresAt:   &expiresAt,
		}, nil

	default:
		return nil, ErrCredentialMissing
	}
}
