package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// CheckHealth probes the status endpoint. Any 2xx passes with the echoed
// body; any other status or transport failure fails.
func (a *Auditor) CheckHealth(ctx context.Context) Check {
	start := time.Now()

	res, err := a.client.get(ctx, "/health", nil)
	if err != nil {
		return Check{
			Name:     CheckHealth,
			Passed:   false,
			Message:  fmt.Sprintf("connection failed: %v", err),
			Data:     map[string]any{"error": err.Error()},
			Duration: elapsedMS(start),
		}
	}

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		var body any
		_ = json.Unmarshal(res.Body, &body)
		return Check{
			Name:     CheckHealth,
			Passed:   true,
			Message:  "service is responding normally",
			Data:     map[string]any{"status_code": res.StatusCode, "response": body},
			Duration: elapsedMS(start),
		}
	}

	return Check{
		Name:     CheckHealth,
		Passed:   false,
		Message:  fmt.Sprintf("service returned status %d", res.StatusCode),
		Data:     map[string]any{"status_code": res.StatusCode},
		Duration: elapsedMS(start),
	}
}
