package capture

import "time"

// TypingMetrics is the cumulative view recomputed at each keystroke.
type TypingMetrics struct {
	BackspaceRate float64 // backspaces / max(typed, 1)
	TypingSpeed   float64 // words per minute, chars/5 convention
}

// TypingTracker derives keystroke cadence from key and text-change events.
// Hold and flight times are point samples; backspace rate and typing speed
// are running aggregates over the whole session.
// Not safe for concurrent use; it lives on the UI event loop.
type TypingTracker struct {
	firstKeyDown time.Time
	lastKeyUp    time.Time // across all fields
	keyDownAt    map[string]time.Time
	prevLen      map[string]int

	typed      int
	backspaces int
}

func NewTypingTracker() *TypingTracker {
	return &TypingTracker{
		keyDownAt: make(map[string]time.Time),
		prevLen:   make(map[string]int),
	}
}

// KeyDown records a key press in the named field. The returned flight time
// (ms since the previous key-up in any field) is valid only when ok is true.
func (tt *TypingTracker) KeyDown(field string, t time.Time) (flightMs float64, ok bool) {
	if tt.firstKeyDown.IsZero() {
		tt.firstKeyDown = t
	}
	if !tt.lastKeyUp.IsZero() {
		flightMs = float64(t.Sub(tt.lastKeyUp).Milliseconds())
		if flightMs < 0 {
			flightMs = 0
		}
		ok = true
	}
	tt.keyDownAt[field] = t
	return flightMs, ok
}

// KeyUp records a key release and returns the hold time for that field.
func (tt *TypingTracker) KeyUp(field string, t time.Time) (holdMs float64, ok bool) {
	down, present := tt.keyDownAt[field]
	tt.lastKeyUp = t
	if !present {
		return 0, false
	}
	delete(tt.keyDownAt, field)
	holdMs = float64(t.Sub(down).Milliseconds())
	if holdMs < 0 {
		holdMs = 0
	}
	return holdMs, true
}

// TextChanged compares the new text length against the previous one for the
// field. A decrease counts as a backspace; an increase adds the delta to the
// typed counter. Returns the recomputed running aggregates.
func (tt *TypingTracker) TextChanged(field, text string, t time.Time) TypingMetrics {
	prev := tt.prevLen[field]
	cur := len(text)
	tt.prevLen[field] = cur

	switch {
	case cur < prev:
		tt.backspaces++
	case cur > prev:
		tt.typed += cur - prev
	}

	return tt.metricsAt(t)
}

func (tt *TypingTracker) metricsAt(t time.Time) TypingMetrics {
	typedFloor := tt.typed
	if typedFloor < 1 {
		typedFloor = 1
	}
	m := TypingMetrics{
		BackspaceRate: float64(tt.backspaces) / float64(typedFloor),
	}

	if !tt.firstKeyDown.IsZero() {
		elapsed := t.Sub(tt.firstKeyDown).Seconds()
		if elapsed > 0 {
			charsPerSec := float64(tt.typed) / elapsed
			m.TypingSpeed = charsPerSec * 60 / 5 // wpm, 5 chars per word
		}
	}
	return m
}
