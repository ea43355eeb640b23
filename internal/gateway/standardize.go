package gateway

import (
	"sort"
	"strings"
)

// Canonical field names, one per concept. Every spelling the capture code has
// ever shipped resolves to exactly one of these.
const (
	FieldSwipeDistances     = "swipeDistances"
	FieldSwipeDurations     = "swipeDurations"
	FieldSwipeSpeeds        = "swipeSpeeds"
	FieldSwipeDirections    = "swipeDirections"
	FieldSwipeAccelerations = "swipeAccelerations"
	FieldHoldTimes          = "holdTimes"
	FieldFlightTimes        = "flightTimes"
	FieldBackspaceRates     = "backspaceRates"
	FieldTypingSpeeds       = "typingSpeeds"
)

// swipeAliases and typingAliases map historically-seen spellings (casing
// variants, the key* prefix from the node relay, the *New revision suffix) to
// canonical names. Resolution is a table lookup, never a call-site special
// case.
var swipeAliases = map[string]string{
	"swipeDistances":     FieldSwipeDistances,
	"SwipeDistances":     FieldSwipeDistances,
	"swipeDurations":     FieldSwipeDurations,
	"SwipeDurations":     FieldSwipeDurations,
	"swipeSpeeds":        FieldSwipeSpeeds,
	"SwipeSpeeds":        FieldSwipeSpeeds,
	"swipeDirections":    FieldSwipeDirections,
	"SwipeDirections":    FieldSwipeDirections,
	"swipeAccelerations": FieldSwipeAccelerations,
	"SwipeAccelerations": FieldSwipeAccelerations,
}

var typingAliases = map[string]string{
	"holdTimes":      FieldHoldTimes,
	"HoldTimes":      FieldHoldTimes,
	"keyHoldTimes":   FieldHoldTimes,
	"flightTimes":    FieldFlightTimes,
	"FlightTimes":    FieldFlightTimes,
	"keyFlightTimes": FieldFlightTimes,
	"backspaceRates": FieldBackspaceRates,
	"BackspaceRates": FieldBackspaceRates,
	"typingSpeeds":   FieldTypingSpeeds,
	"TypingSpeeds":   FieldTypingSpeeds,
}

// RawBatch is a send-features payload before standardization. Field values
// are left untyped because capture revisions disagree on both names and
// shapes (scalars vs sequences).
type RawBatch struct {
	UserID string  `json:"user_id"`
	Data   RawData `json:"data"`
}

type RawData struct {
	Swiping map[string]any `json:"swiping,omitempty"`
	Typing  map[string]any `json:"typing,omitempty"`
}

// StandardizedPayload is a batch with every field reduced to its canonical
// name and coerced to a float sequence. Standardizing it again yields itself.
type StandardizedPayload struct {
	UserID  string               `json:"user_id"`
	Swiping map[string][]float64 `json:"swiping,omitempty"`
	Typing  map[string][]float64 `json:"typing,omitempty"`
}

// Standardize resolves aliases and drops everything that is not a non-empty
// sequence after resolution. Scalar values are coerced into single-element
// sequences rather than discarded. A group that ends up empty is omitted.
func Standardize(raw RawBatch) StandardizedPayload {
	out := StandardizedPayload{UserID: raw.UserID}

	if group := resolveGroup(raw.Data.Swiping, swipeAliases); len(group) > 0 {
		out.Swiping = group
	}
	if group := resolveGroup(raw.Data.Typing, typingAliases); len(group) > 0 {
		out.Typing = group
	}
	return out
}

func resolveGroup(fields map[string]any, aliases map[string]string) map[string][]float64 {
	if len(fields) == 0 {
		return nil
	}
	// sorted iteration keeps collision resolution deterministic; a *New
	// spelling sorts after its plain form and overwrites it
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string][]float64)
	for _, name := range names {
		canonical, ok := aliases[resolveAlias(name)]
		if !ok {
			continue
		}
		seq := toFloatSeq(fields[name])
		if len(seq) == 0 {
			continue
		}
		out[canonical] = seq
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveAlias(name string) string {
	return strings.TrimSuffix(name, "New")
}

func toFloatSeq(value any) []float64 {
	switch v := value.(type) {
	case []float64:
		return v
	case float64:
		return []float64{v}
	case int:
		return []float64{float64(v)}
	case []any:
		out := make([]float64, 0, len(v))
		for _, item := range v {
			switch n := item.(type) {
			case float64:
				out = append(out, n)
			case int:
				out = append(out, float64(n))
			}
		}
		return out
	default:
		return nil
	}
}

// Restandardize runs a standardized payload through the alias table again.
// It exists so the idempotence invariant is directly testable.
func Restandardize(p StandardizedPayload) StandardizedPayload {
	raw := RawBatch{UserID: p.UserID}
	if len(p.Swiping) > 0 {
		raw.Data.Swiping = make(map[string]any, len(p.Swiping))
		for k, v := range p.Swiping {
			raw.Data.Swiping[k] = v
		}
	}
	if len(p.Typing) > 0 {
		raw.Data.Typing = make(map[string]any, len(p.Typing))
		for k, v := range p.Typing {
			raw.Data.Typing[k] = v
		}
	}
	return Standardize(raw)
}
