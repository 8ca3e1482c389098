package model

// ListResponse is the standard envelope for list endpoints.
type ListResponse struct {
	Resource []interface{} `json:"resource"`
	Meta     *ResponseMeta            `json:"meta,omitempty"`
}

// ResponseMeta carries counts for list responses.
type ResponseMeta struct {
	Count int `json:"count"`
}

// ErrorResponse is the standard envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
type ErrorDetail struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// ValidationResponse is the payload returned by GET /auth/validate. The shape
// is identical for API keys and bearer tokens so callers cannot tell which
// path validated them except via AuthType.
type ValidationResponse struct {
	Valid       bool        `json:"valid"`
	AuthType    string      `json:"auth_type,omitempty"` // "api_key" or "bearer_token"
	User        interface{} `json:"user,omitempty"`
	Permissions []string    `json:"permissions,omitempty"`
	RateLimit   *int        `json:"rate_limit,omitempty"`
	UsageCount  *int64      `json:"usage_count,omitempty"`
	ExpiresAt   *int64      `json:"expires_at,omitempty"` // unix seconds, tokens only
	Error       string      `json:"error,omitempty"`
}
