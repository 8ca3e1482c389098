package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	versionCacheKey = "vigil_api_version"
	versionCacheTTL = time.Hour
)

type versionInfo struct {
	Version     string `json:"version"`
	APIName     string `json:"api_name"`
	Environment string `json:"environment"`
}

func (v versionInfo) data() map[string]any {
	return map[string]any{
		"version":     v.Version,
		"api_name":    v.APIName,
		"environment": v.Environment,
	}
}

// CheckVersion resolves the target's reported version, consulting the cache
// first. On a miss it probes the version endpoint, falling back to the root
// endpoint on non-200. Cache failures are swallowed; the cache is advisory,
// never a correctness dependency.
func (a *Auditor) CheckVersion(ctx context.Context) Check {
	start := time.Now()

	if raw, ok := a.cache.Get(ctx, versionCacheKey); ok {
		var cached versionInfo
		if err := json.Unmarshal([]byte(raw), &cached); err == nil && cached.Version != "" {
			data := cached.data()
			data["cached"] = true
			return Check{
				Name:     CheckVersion,
				Passed:   true,
				Message:  fmt.Sprintf("version %s (cached)", cached.Version),
				Data:     data,
				Duration: elapsedMS(start),
			}
		}
	}

	res, err := a.client.get(ctx, "/version", nil)
	if err == nil && res.StatusCode != 200 {
		res, err = a.client.get(ctx, "/", nil)
	}
	if err != nil {
		return Check{
			Name:     CheckVersion,
			Passed:   false,
			Message:  fmt.Sprintf("could not resolve version: %v", err),
			Data:     map[string]any{"error": err.Error()},
			Duration: elapsedMS(start),
		}
	}

	var body struct {
		Version     string `json:"version"`
		APIVersion  string `json:"api_version"`
		Name        string `json:"name"`
		Environment string `json:"environment"`
	}
	_ = json.Unmarshal(res.Body, &body)

	info := versionInfo{
		Version:     body.Version,
		APIName:     body.Name,
		Environment: body.Environment,
	}
	if info.Version == "" {
		info.Version = body.APIVersion
	}
	if info.Version == "" {
		info.Version = "unknown"
	}
	if info.APIName == "" {
		info.APIName = "unknown"
	}
	if info.Environment == "" {
		info.Environment = "production"
	}

	if info.Version != "unknown" {
		if encoded, err := json.Marshal(info); err == nil {
			_ = a.cache.Set(ctx, versionCacheKey, string(encoded), versionCacheTTL)
		}
	}

	return Check{
		Name:     CheckVersion,
		Passed:   true,
		Message:  fmt.Sprintf("version %s detected", info.Version),
		Data:     info.data(),
		Duration: elapsedMS(start),
	}
}
