package audit

import (
	"context"
	"fmt"
	"time"
)

const (
	performanceSamples   = 3
	performanceWarningMS = 1000
	performanceMaxMS     = 2000
)

// CheckPerformance takes three timed samples against the health endpoint,
// pausing briefly between them, and classifies the average latency. Failed
// samples are discarded; the check fails outright only when every sample
// failed or the average breaches the upper threshold.
func (a *Auditor) CheckPerformance(ctx context.Context) Check {
	var measurements []float64

	for i := 0; i < performanceSamples; i++ {
		start := time.Now()
		res, err := a.client.get(ctx, "/health", nil)
		if err == nil && res.StatusCode >= 200 && res.StatusCode < 300 {
			measurements = append(measurements, elapsedMS(start))
		}
		if i < performanceSamples-1 && a.perfPause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(a.perfPause):
			}
		}
	}

	if len(measurements) == 0 {
		return Check{
			Name:    CheckPerformance,
			Passed:  false,
			Message: "could not measure performance",
			Data:    map[string]any{"error": "all sample requests failed"},
		}
	}

	var sum float64
	minMS, maxMS := measurements[0], measurements[0]
	for _, m := range measurements {
		sum += m
		if m < minMS {
			minMS = m
		}
		if m > maxMS {
			maxMS = m
		}
	}
	avg := sum / float64(len(measurements))
	status := classifyLatency(avg)

	return Check{
		Name:    CheckPerformance,
		Passed:  avg < performanceMaxMS,
		Message: fmt.Sprintf("average response time: %.2fms (%s)", avg, status),
		Data: map[string]any{
			"average_ms":   round2(avg),
			"min_ms":       round2(minMS),
			"max_ms":       round2(maxMS),
			"measurements": len(measurements),
			"status":       status,
		},
		Duration: avg,
	}
}

func classifyLatency(avgMS float64) string {
	switch {
	case avgMS < performanceWarningMS:
		return "excellent"
	case avgMS < performanceMaxMS:
		return "good"
	default:
		return "slow"
	}
}
