package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// CheckAuthentication validates the credential against the target's
// validation endpoint, attaching it via both header conventions so either
// one can match. When the endpoint does not exist, a small list of common
// protected endpoints is probed instead: any 200 there proves the
// credential valid, any 401 proves it invalid.
func (a *Auditor) CheckAuthentication(ctx context.Context, apiKey string) Check {
	start := time.Now()

	res, err := a.client.get(ctx, "/auth/validate", map[string]string{
		"X-API-Key":     apiKey,
		"Authorization": "Bearer " + apiKey,
	})
	if err != nil {
		return Check{
			Name:     CheckAuthentication,
			Passed:   false,
			Message:  fmt.Sprintf("validation failed: %v", err),
			Data:     map[string]any{"error": err.Error()},
			Duration: elapsedMS(start),
		}
	}

	switch {
	case res.StatusCode == http.StatusOK:
		var body struct {
			User        any      `json:"user"`
			Permissions []string `json:"permissions"`
		}
		_ = json.Unmarshal(res.Body, &body)
		permissions := body.Permissions
		if permissions == nil {
			permissions = []string{}
		}
		return Check{
			Name:    CheckAuthentication,
			Passed:  true,
			Message: "credentials are valid",
			Data: map[string]any{
				"valid":       true,
				"key_prefix":  displayPrefix(apiKey),
				"user":        body.User,
				"permissions": permissions,
			},
			Duration: elapsedMS(start),
		}

	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return Check{
			Name:     CheckAuthentication,
			Passed:   false,
			Message:  "credentials are invalid or lack permission",
			Data:     map[string]any{"valid": false, "status_code": res.StatusCode},
			Duration: elapsedMS(start),
		}

	case res.StatusCode == http.StatusNotFound:
		return a.authViaProtectedEndpoints(ctx, apiKey, start)

	default:
		return Check{
			Name:     CheckAuthentication,
			Passed:   false,
			Message:  fmt.Sprintf("unexpected response: %d", res.StatusCode),
			Data:     map[string]any{"status_code": res.StatusCode},
			Duration: elapsedMS(start),
		}
	}
}

// authViaProtectedEndpoints settles credential validity by probing known
// protected endpoints when no validation endpoint exists.
func (a *Auditor) authViaProtectedEndpoints(ctx context.Context, apiKey string, start time.Time) Check {
	for _, endpoint := range a.authFallbacks {
		res, err := a.client.get(ctx, endpoint, map[string]string{"X-API-Key": apiKey})
		if err != nil {
			continue
		}
		switch res.StatusCode {
		case http.StatusOK:
			return Check{
				Name:     CheckAuthentication,
				Passed:   true,
				Message:  "credentials are valid (verified via protected endpoint)",
				Data:     map[string]any{"valid": true, "method": "protected_endpoint"},
				Duration: elapsedMS(start),
			}
		case http.StatusUnauthorized:
			return Check{
				Name:     CheckAuthentication,
				Passed:   false,
				Message:  "credentials are invalid",
				Data:     map[string]any{"valid": false},
				Duration: elapsedMS(start),
			}
		}
	}

	return Check{
		Name:     CheckAuthentication,
		Passed:   false,
		Message:  "could not validate credentials",
		Data:     map[string]any{"error": "no validation endpoint available"},
		Duration: elapsedMS(start),
	}
}

func displayPrefix(apiKey string) string {
	if len(apiKey) <= 8 {
		return apiKey
	}
	return apiKey[:8] + "..."
}
