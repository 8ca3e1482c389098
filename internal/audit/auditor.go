// Package audit implements the composite health audit run against a remote
// service: health, version, performance, authentication, and dependency
// checks folded into one report. Checks never abort the run; every failure
// mode becomes a failed Check.
package audit

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/vigilhq/vigil/internal/cache"
)

// Default fallback endpoint lists. These encode guesses about remote API
// shapes and are configurable, not contracts.
var (
	defaultAuthFallbacks = []string{"/api/user", "/api/me", "/user/profile"}
	defaultDepFallbacks  = []string{"/status", "/health/full", "/api/status"}
)

const defaultPerformancePause = 100 * time.Millisecond

// Auditor runs checks against one target service.
type Auditor struct {
	client *Client
	cache  cache.Cache
	apiKey string
	logger *slog.Logger

	perfPause     time.Duration
	authFallbacks []string
	depFallbacks  []string
}

// Option configures an Auditor.
type Option func(*auditorConfig)

type auditorConfig struct {
	timeout       time.Duration
	apiKey        string
	cache         cache.Cache
	logger        *slog.Logger
	httpClient    *http.Client
	perfPause     time.Duration
	authFallbacks []string
	depFallbacks  []string
}

// WithCredential sets the API key the authentication check validates. When
// empty, the authentication check is skipped.
func WithCredential(apiKey string) Option {
	return func(c *auditorConfig) { c.apiKey = apiKey }
}

// WithRequestTimeout bounds each probe request.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *auditorConfig) { c.timeout = timeout }
}

// WithCache sets the cache backing the version check.
func WithCache(cc cache.Cache) Option {
	return func(c *auditorConfig) {
		if cc != nil {
			c.cache = cc
		}
	}
}

// WithLogger sets the audit logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *auditorConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithProbeHTTPClient replaces the probe transport, mainly for tests.
func WithProbeHTTPClient(httpClient *http.Client) Option {
	return func(c *auditorConfig) { c.httpClient = httpClient }
}

// WithPerformancePause overrides the pause between performance samples.
func WithPerformancePause(pause time.Duration) Option {
	return func(c *auditorConfig) {
		if pause >= 0 {
			c.perfPause = pause
		}
	}
}

// WithAuthFallbackEndpoints overrides the protected endpoints probed when
// the validation endpoint is absent.
func WithAuthFallbackEndpoints(endpoints []string) Option {
	return func(c *auditorConfig) {
		if len(endpoints) > 0 {
			c.authFallbacks = endpoints
		}
	}
}

// WithDependencyFallbackEndpoints overrides the status endpoints probed when
// the dependency endpoint is absent.
func WithDependencyFallbackEndpoints(endpoints []string) Option {
	return func(c *auditorConfig) {
		if len(endpoints) > 0 {
			c.depFallbacks = endpoints
		}
	}
}

// NewAuditor builds an auditor for the target base URL.
func NewAuditor(baseURL string, options ...Option) (*Auditor, error) {
	cfg := &auditorConfig{
		timeout:       defaultTimeout,
		cache:         cache.NewMemory(),
		logger:        slog.Default(),
		perfPause:     defaultPerformancePause,
		authFallbacks: defaultAuthFallbacks,
		depFallbacks:  defaultDepFallbacks,
	}
	for _, option := range options {
		option(cfg)
	}

	clientOpts := []ClientOption{WithTimeout(cfg.timeout), WithAPIKey(cfg.apiKey)}
	if cfg.httpClient != nil {
		clientOpts = append(clientOpts, WithHTTPClient(cfg.httpClient))
	}
	client, err := NewClient(baseURL, clientOpts...)
	if err != nil {
		return nil, err
	}

	return &Auditor{
		client:        client,
		cache:         cfg.cache,
		apiKey:        cfg.apiKey,
		logger:        cfg.logger,
		perfPause:     cfg.perfPause,
		authFallbacks: cfg.authFallbacks,
		depFallbacks:  cfg.depFallbacks,
	}, nil
}

// TargetURL returns the audited base URL.
func (a *Auditor) TargetURL() string {
	return a.client.BaseURL()
}

// Audit runs every check in fixed order against the target and folds the
// results into one report. Checks do not short-circuit: a failed health
// check does not skip the rest. Authentication runs only when a credential
// is configured.
func (a *Auditor) Audit(ctx context.Context) *AuditReport {
	start := time.Now()
	checks := []Check{
		a.CheckHealth(ctx),
		a.CheckVersion(ctx),
		a.CheckPerformance(ctx),
	}
	if a.apiKey != "" {
		checks = append(checks, a.CheckAuthentication(ctx, a.apiKey))
	}
	checks = append(checks, a.CheckDependencies(ctx))

	report := NewAuditReport(checks, elapsedMS(start))
	a.logger.Debug("audit complete",
		"target", a.TargetURL(),
		"status", report.Status(),
		"checks", len(checks),
		"duration_ms", report.ResponseTime())
	return report
}

// IsHealthy runs only the health check.
func (a *Auditor) IsHealthy(ctx context.Context) bool {
	return a.CheckHealth(ctx).Passed
}

func elapsedMS(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
