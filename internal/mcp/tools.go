package mcp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vigilhq/vigil/internal/audit"
	"github.com/vigilhq/vigil/internal/model"
	"github.com/vigilhq/vigil/internal/service"
)

// registerTools registers all Vigil MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Audit tools -----

	srv.AddTool(
		mcp.NewTool("vigil_run_audit",
			mcp.WithDescription(
				"Run a full integrity audit against a remote API: health, version, "+
					"performance, authentication (when an api_key is given), and "+
					"dependency checks. Returns the complete audit report as JSON, "+
					"including an overall status (healthy/degraded/down) and per-check "+
					"details. Use this first to get a complete picture of a service.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("target",
				mcp.Required(),
				mcp.Description("Base URL of the service to audit (e.g. https://api.example.com)"),
			),
			mcp.WithString("api_key",
				mcp.Description("Optional credential to send with probes; enables the authentication check"),
			),
			mcp.WithNumber("timeout_seconds",
				mcp.Description("Per-request timeout in seconds (default 5, max 60)"),
			),
		),
		s.handleRunAudit,
	)

	srv.AddTool(
		mcp.NewTool("vigil_check_health",
			mcp.WithDescription(
				"Probe a single service's health endpoint and report whether it is "+
					"responding normally. Cheaper than a full audit when you only need "+
					"a liveness answer.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("target",
				mcp.Required(),
				mcp.Description("Base URL of the service to probe"),
			),
		),
		s.handleCheckHealth,
	)

	srv.AddTool(
		mcp.NewTool("vigil_check_version",
			mcp.WithDescription(
				"Resolve the version, name, and environment a service reports about "+
					"itself. Results are cached for an hour, so repeated calls against "+
					"the same target are cheap.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("target",
				mcp.Required(),
				mcp.Description("Base URL of the service to probe"),
			),
		),
		s.handleCheckVersion,
	)

	srv.AddTool(
		mcp.NewTool("vigil_check_performance",
			mcp.WithDescription(
				"Measure a service's response latency by sampling its health endpoint "+
					"several times. Reports average/min/max latency in milliseconds and "+
					"a rating (excellent, good, or slow).",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("target",
				mcp.Required(),
				mcp.Description("Base URL of the service to probe"),
			),
		),
		s.handleCheckPerformance,
	)

	srv.AddTool(
		mcp.NewTool("vigil_check_dependencies",
			mcp.WithDescription(
				"Inspect the downstream dependencies a service reports (databases, "+
					"caches, queues) and flag any that are unhealthy. Services that do "+
					"not expose dependency status are assumed healthy.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("target",
				mcp.Required(),
				mcp.Description("Base URL of the service to probe"),
			),
		),
		s.handleCheckDependencies,
	)

	// ----- Credential tools -----

	srv.AddTool(
		mcp.NewTool("vigil_validate_credential",
			mcp.WithDescription(
				"Validate a credential against this Vigil instance. Accepts either an "+
					"opaque API key or a JWT bearer token; the credential is classified "+
					"by shape and routed to the matching validator. Returns whether it "+
					"is valid plus the attached permissions and limits.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("credential",
				mcp.Required(),
				mcp.Description("The raw credential value: an opaque key or a compact JWT"),
			),
		),
		s.handleValidateCredential,
	)

	srv.AddTool(
		mcp.NewTool("vigil_generate_key",
			mcp.WithDescription(
				"Generate a new opaque API key. The plaintext key is returned exactly "+
					"once in the response and cannot be recovered afterwards; only its "+
					"hash is stored.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Human-readable label for the key (e.g. \"staging monitor\")"),
			),
			mcp.WithNumber("user_id",
				mcp.Description("Optional owning user ID"),
			),
			mcp.WithArray("permissions",
				mcp.Description("Permissions to attach (default [\"read\"])"),
				mcp.WithStringItems(),
			),
			mcp.WithNumber("rate_limit",
				mcp.Description("Maximum validations per hour (default 1000)"),
			),
			mcp.WithNumber("expires_in_hours",
				mcp.Description("Hours until the key expires. Omit for a non-expiring key."),
			),
		),
		s.handleGenerateKey,
	)

	srv.AddTool(
		mcp.NewTool("vigil_revoke_key",
			mcp.WithDescription(
				"Revoke an API key by ID. Revocation is permanent: the key fails "+
					"validation from this point on.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithNumber("id",
				mcp.Required(),
				mcp.Description("ID of the key to revoke"),
			),
			mcp.WithString("reason",
				mcp.Description("Optional reason recorded with the revocation"),
			),
		),
		s.handleRevokeKey,
	)

	srv.AddTool(
		mcp.NewTool("vigil_list_keys",
			mcp.WithDescription(
				"List API keys known to this Vigil instance: name, display prefix, "+
					"permissions, usage, and status. Secrets are never included. "+
					"Optionally filter to a single user's keys.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithNumber("user_id",
				mcp.Description("Only list keys owned by this user"),
			),
		),
		s.handleListKeys,
	)
}

// --------------------------------------------------------------------------
// Audit handlers
// --------------------------------------------------------------------------

// newAuditor builds an auditor for a tool call. The server's memory cache is
// shared across calls so version lookups for the same target are reused.
func (s *MCPServer) newAuditor(request mcp.CallToolRequest) (*audit.Auditor, error) {
	target, err := requireString(request, "target")
	if err != nil {
		return nil, err
	}

	options := []audit.Option{
		audit.WithCache(s.cache),
		audit.WithLogger(s.logger),
	}
	if apiKey := optionalString(request, "api_key"); apiKey != "" {
		options = append(options, audit.WithCredential(apiKey))
	}
	if secs := optionalInt(request, "timeout_seconds", 0); secs > 0 {
		secs = clamp(secs, 1, 60)
		options = append(options, audit.WithRequestTimeout(time.Duration(secs)*time.Second))
	}

	return audit.NewAuditor(target, options...)
}

func (s *MCPServer) handleRunAudit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	auditor, err := s.newAuditor(request)
	if err != nil {
		return toolError("cannot audit target: %v", err)
	}

	report := auditor.Audit(ctx)
	return successJSON(map[string]any{
		"target": auditor.TargetURL(),
		"report": report,
	})
}

func (s *MCPServer) handleCheckHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	auditor, err := s.newAuditor(request)
	if err != nil {
		return toolError("cannot probe target: %v", err)
	}
	return successJSON(auditor.CheckHealth(ctx))
}

func (s *MCPServer) handleCheckVersion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	auditor, err := s.newAuditor(request)
	if err != nil {
		return toolError("cannot probe target: %v", err)
	}
	return successJSON(auditor.CheckVersion(ctx))
}

func (s *MCPServer) handleCheckPerformance(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	auditor, err := s.newAuditor(request)
	if err != nil {
		return toolError("cannot probe target: %v", err)
	}
	return successJSON(auditor.CheckPerformance(ctx))
}

func (s *MCPServer) handleCheckDependencies(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	auditor, err := s.newAuditor(request)
	if err != nil {
		return toolError("cannot probe target: %v", err)
	}
	return successJSON(auditor.CheckDependencies(ctx))
}

// --------------------------------------------------------------------------
// Credential handlers
// --------------------------------------------------------------------------

func (s *MCPServer) handleValidateCredential(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := requireString(request, "credential")
	if err != nil {
		return toolError("%v", err)
	}

	// Route through the same header classification the HTTP boundary uses.
	h := http.Header{}
	h.Set("Authorization", "Bearer "+raw)
	cred, ok := service.ExtractCredential(h)
	if !ok {
		return successJSON(map[string]any{
			"valid": false,
			"error": "unrecognized credential shape",
		})
	}

	result, err := s.authSvc.ValidateCredential(ctx, cred, "mcp", "vigil-mcp")
	if err != nil {
		if isCredentialError(err) {
			return successJSON(map[string]any{
				"valid":     false,
				"auth_type": string(cred.Kind),
				"error":     "invalid credentials",
			})
		}
		return toolError("validation failed: %v", err)
	}

	resp := map[string]any{
		"valid":       result.Valid,
		"auth_type":   string(result.AuthType),
		"permissions": result.Permissions,
	}
	if result.UserID != nil {
		resp["user_id"] = *result.UserID
	}
	if result.RateLimit != nil {
		resp["rate_limit"] = *result.RateLimit
	}
	if result.UsageCount != nil {
		resp["usage_count"] = *result.UsageCount
	}
	if result.ExpiresAt != nil {
		resp["expires_at"] = result.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return successJSON(resp)
}

func isCredentialError(err error) bool {
	return errors.Is(err, service.ErrCredentialMissing) ||
		errors.Is(err, service.ErrCredentialMalformed) ||
		errors.Is(err, service.ErrCredentialInvalid) ||
		errors.Is(err, service.ErrCredentialExpired) ||
		errors.Is(err, service.ErrSignatureInvalid)
}

// --------------------------------------------------------------------------
// Key management handlers
// --------------------------------------------------------------------------

func (s *MCPServer) handleGenerateKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := requireString(request, "name")
	if err != nil {
		return toolError("%v", err)
	}

	var userID *int64
	if id := optionalInt(request, "user_id", 0); id > 0 {
		v := int64(id)
		userID = &v
	}

	var expiresAt *time.Time
	if hours := optionalInt(request, "expires_in_hours", 0); hours > 0 {
		t := time.Now().Add(time.Duration(hours) * time.Hour)
		expiresAt = &t
	}

	permissions := optionalStringSlice(request, "permissions")
	rateLimit := optionalInt(request, "rate_limit", 0)

	generated, err := s.authSvc.GenerateAPIKey(ctx, name, userID, permissions, expiresAt, rateLimit)
	if err != nil {
		return toolError("failed to generate key: %v", err)
	}

	s.logger.Info("api key generated via MCP", "id", generated.ID, "name", generated.Name)
	return successJSON(generated)
}

func (s *MCPServer) handleRevokeKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := optionalInt(request, "id", 0)
	if id <= 0 {
		return toolError("missing required parameter %q", "id")
	}
	reason := optionalString(request, "reason")

	affected, err := s.authSvc.RevokeAPIKey(ctx, int64(id), reason)
	if err != nil {
		return toolError("failed to revoke key: %v", err)
	}
	if !affected {
		return toolError("no active key with id %d", id)
	}

	s.logger.Info("api key revoked via MCP", "id", id)
	return successJSON(map[string]any{
		"revoked": true,
		"id":      id,
	})
}

func (s *MCPServer) handleListKeys(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keys, err := s.listKeySummaries(ctx, int64(optionalInt(request, "user_id", 0)))
	if err != nil {
		return toolError("failed to list keys: %v", err)
	}

	return successJSON(map[string]any{
		"keys":  keys,
		"count": len(keys),
	})
}

// keySummary is the non-secret view of a key exposed over MCP.
type keySummary struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Prefix      string     `json:"prefix"`
	Permissions []string   `json:"permissions"`
	RateLimit   int        `json:"rate_limit"`
	UsageCount  int64      `json:"usage_count"`
	IsActive    bool       `json:"is_active"`
	UserID      *int64     `json:"user_id,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (s *MCPServer) listKeySummaries(ctx context.Context, userID int64) ([]keySummary, error) {
	var (
		keys []model.APIKey
		err  error
	)
	if userID > 0 {
		keys, err = s.store.ListAPIKeysForUser(ctx, userID, false)
	} else {
		keys, err = s.store.ListAPIKeys(ctx)
	}
	if err != nil {
		return nil, err
	}

	summaries := make([]keySummary, 0, len(keys))
	for _, k := range keys {
		summaries = append(summaries, keySummary{
			ID:          k.ID,
			Name:        k.Name,
			Prefix:      k.KeyPrefix,
			Permissions: k.Permissions,
			RateLimit:   k.RateLimit,
			UsageCount:  k.UsageCount,
			IsActive:    k.IsActive,
			UserID:      k.UserID,
			ExpiresAt:   k.ExpiresAt,
			LastUsedAt:  k.LastUsedAt,
			CreatedAt:   k.CreatedAt,
		})
	}
	return summaries, nil
}
