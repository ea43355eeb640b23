package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardizeResolvesAliases(t *testing.T) {
	raw := RawBatch{
		UserID: "u1",
		Data: RawData{
			Swiping: map[string]any{
				"swipeDistancesNew": []any{1.0, 2.0},
				"SwipeSpeeds":       []any{0.5},
			},
			Typing: map[string]any{
				"HoldTimes":      []any{80.0, 85.0},
				"keyFlightTimes": []any{120.0},
			},
		},
	}

	p := Standardize(raw)
	assert.Equal(t, []float64{1, 2}, p.Swiping[FieldSwipeDistances])
	assert.Equal(t, []float64{0.5}, p.Swiping[FieldSwipeSpeeds])
	assert.Equal(t, []float64{80, 85}, p.Typing[FieldHoldTimes])
	assert.Equal(t, []float64{120}, p.Typing[FieldFlightTimes])

	// no stray spellings survive
	for name := range p.Swiping {
		assert.Contains(t, []string{FieldSwipeDistances, FieldSwipeSpeeds}, name)
	}
}

func TestStandardizeIsIdempotent(t *testing.T) {
	raw := RawBatch{
		UserID: "u1",
		Data: RawData{
			Swiping: map[string]any{"swipeSpeedsNew": []any{1.0, 2.0, 3.0}},
			Typing:  map[string]any{"HoldTimes": 150.0},
		},
	}

	once := Standardize(raw)
	twice := Restandardize(once)
	assert.Equal(t, once, twice)
}

func TestScalarTypingFieldCoercedToSequence(t *testing.T) {
	raw := RawBatch{
		UserID: "u1",
		Data: RawData{
			Typing: map[string]any{
				"backspaceRates": 0.2,
				"typingSpeeds":   float64(64),
			},
		},
	}

	p := Standardize(raw)
	assert.Equal(t, []float64{0.2}, p.Typing[FieldBackspaceRates])
	assert.Equal(t, []float64{64}, p.Typing[FieldTypingSpeeds])
}

func TestEmptyGroupsOmitted(t *testing.T) {
	raw := RawBatch{
		UserID: "u1",
		Data: RawData{
			Swiping: map[string]any{"swipeSpeeds": []any{}}, // empty sequence dropped
			Typing:  map[string]any{"holdTimes": []any{90.0}},
		},
	}

	p := Standardize(raw)
	assert.Nil(t, p.Swiping, "group with no retained fields is omitted entirely")
	require.NotNil(t, p.Typing)
}

func TestUnknownFieldsDropped(t *testing.T) {
	raw := RawBatch{
		UserID: "u1",
		Data: RawData{
			Swiping: map[string]any{
				"swipeSpeeds":    []any{1.0},
				"pinchDistances": []any{9.0}, // never shipped by any revision
			},
		},
	}

	p := Standardize(raw)
	assert.Len(t, p.Swiping, 1)
	assert.Contains(t, p.Swiping, FieldSwipeSpeeds)
}

func TestCollidingSpellingsResolveDeterministically(t *testing.T) {
	raw := RawBatch{
		UserID: "u1",
		Data: RawData{
			Swiping: map[string]any{
				"swipeSpeeds":    []any{1.0},
				"SwipeSpeeds":    []any{2.0},
				"swipeSpeedsNew": []any{3.0},
			},
		},
	}

	for i := 0; i < 16; i++ {
		p := Standardize(raw)
		assert.Equal(t, []float64{3}, p.Swiping[FieldSwipeSpeeds], "the New revision wins, every time")
	}
}

func TestNonNumericEntriesFiltered(t *testing.T) {
	raw := RawBatch{
		UserID: "u1",
		Data: RawData{
			Typing: map[string]any{"holdTimes": []any{80.0, "bogus", 90.0}},
		},
	}

	p := Standardize(raw)
	assert.Equal(t, []float64{80, 90}, p.Typing[FieldHoldTimes])
}
