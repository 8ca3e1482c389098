package audit

import (
	"encoding/json"
	"math"
)

// Check names, in the order the auditor runs them.
const (
	CheckHealth         = "health"
	CheckVersion        = "version"
	CheckPerformance    = "performance"
	CheckAuthentication = "authentication"
	CheckDependencies   = "dependencies"
)

// Check is one atomic probe result. It is immutable once constructed; a
// failed probe is still a Check, never an error.
type Check struct {
	Name     string         `json:"name"`
	Passed   bool           `json:"passed"`
	Message  string         `json:"message"`
	Data     map[string]any `json:"data"`
	Duration float64        `json:"duration_ms"` // wall-clock milliseconds
}

// MarshalJSON rounds the duration to two decimals for display.
func (c Check) MarshalJSON() ([]byte, error) {
	type alias Check
	a := alias(c)
	a.Duration = round2(a.Duration)
	if a.Data == nil {
		a.Data = map[string]any{}
	}
	return json.Marshal(a)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
