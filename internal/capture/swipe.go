package capture

import (
	"math"
	"time"
)

// accelerationScale converts speed-per-second into the magnitude range the
// scoring models were trained on. Must stay fixed: acceleration has to be
// reproducible from speed and duration alone.
const accelerationScale = 100.0

// SwipeSample is one completed gesture. Immutable once created.
type SwipeSample struct {
	Distance     float64
	DurationMs   int64
	Speed        float64 // px per ms
	DirectionDeg float64 // [0, 360)
	Acceleration float64
}

type pointerEvent struct {
	x, y float64
	t    time.Time
}

// SwipeTracker turns pointer-down/pointer-up pairs into SwipeSamples.
// Not safe for concurrent use; it lives on the UI event loop.
type SwipeTracker struct {
	minDistance float64
	start       *pointerEvent
}

func NewSwipeTracker(minDistancePx float64) *SwipeTracker {
	if minDistancePx <= 0 {
		minDistancePx = 5.0
	}
	return &SwipeTracker{minDistance: minDistancePx}
}

// Begin records a pointer-down. A second Begin before End restarts the gesture.
func (st *SwipeTracker) Begin(x, y float64, t time.Time) {
	st.start = &pointerEvent{x: x, y: y, t: t}
}

// End closes the gesture and returns the sample. ok is false when no gesture
// was in progress or the movement was too small to count as a swipe.
func (st *SwipeTracker) End(x, y float64, t time.Time) (SwipeSample, bool) {
	if st.start == nil {
		return SwipeSample{}, false
	}
	begin := *st.start
	st.start = nil

	dx := x - begin.x
	dy := y - begin.y
	distance := math.Hypot(dx, dy)
	if distance < st.minDistance {
		// jitter, not a swipe
		return SwipeSample{}, false
	}

	durationMs := t.Sub(begin.t).Milliseconds()
	if durationMs < 0 {
		durationMs = 0
	}

	speed := 0.0
	if durationMs > 0 {
		speed = distance / float64(durationMs)
	}

	direction := math.Atan2(dy, dx) * (180 / math.Pi)
	if direction < 0 {
		direction += 360
	}

	return SwipeSample{
		Distance:     distance,
		DurationMs:   durationMs,
		Speed:        speed,
		DirectionDeg: direction,
		Acceleration: acceleration(speed, durationMs),
	}, true
}

func acceleration(speed float64, durationMs int64) float64 {
	if durationMs <= 0 {
		return 0
	}
	durationSec := float64(durationMs) / 1000.0
	return speed / durationSec * accelerationScale
}
