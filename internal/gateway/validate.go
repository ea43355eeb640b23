package gateway

import "fmt"

const (
	minSpeedSamples = 3
	minHoldSamples  = 5
)

// ValidationResult separates blocking errors from advisory warnings. Only
// errors stop a payload from being forwarded to the scoring oracle.
type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Validate checks a standardized payload for completeness. Missing optional
// fields and thin sample counts warn; a payload with no behavioral data at
// all is an error.
func Validate(p StandardizedPayload) ValidationResult {
	var res ValidationResult

	if len(p.Swiping) == 0 && len(p.Typing) == 0 {
		res.Errors = append(res.Errors, "no valid behavioral data")
		return res
	}

	if len(p.Swiping) > 0 {
		for _, field := range []string{FieldSwipeSpeeds, FieldSwipeDirections, FieldSwipeAccelerations} {
			if len(p.Swiping[field]) == 0 {
				res.Warnings = append(res.Warnings, fmt.Sprintf("swiping: missing %s", field))
			}
		}
		if n := len(p.Swiping[FieldSwipeSpeeds]); n > 0 && n < minSpeedSamples {
			res.Warnings = append(res.Warnings, fmt.Sprintf("swiping: only %d speed samples (want %d)", n, minSpeedSamples))
		}
	}

	if len(p.Typing) > 0 {
		for _, field := range []string{FieldHoldTimes, FieldFlightTimes, FieldBackspaceRates, FieldTypingSpeeds} {
			if len(p.Typing[field]) == 0 {
				res.Warnings = append(res.Warnings, fmt.Sprintf("typing: missing %s", field))
			}
		}
		if n := len(p.Typing[FieldHoldTimes]); n > 0 && n < minHoldSamples {
			res.Warnings = append(res.Warnings, fmt.Sprintf("typing: only %d hold-time samples (want %d)", n, minHoldSamples))
		}
	}

	res.IsValid = true
	return res
}
