package buffer

import (
	"sync"

	"github.com/safeshield/telemetry/internal/capture"
)

// Field names on the wire, matching what the gateway canonicalizes to.
const (
	KeySwipeDistances     = "swipeDistances"
	KeySwipeDurations     = "swipeDurations"
	KeySwipeSpeeds        = "swipeSpeeds"
	KeySwipeDirections    = "swipeDirections"
	KeySwipeAccelerations = "swipeAccelerations"
	KeyHoldTimes          = "holdTimes"
	KeyFlightTimes        = "flightTimes"
	KeyBackspaceRates     = "backspaceRates"
	KeyTypingSpeeds       = "typingSpeeds"
)

// Batch is the send-features payload.
type Batch struct {
	UserID string    `json:"user_id"`
	Data   BatchData `json:"data"`
}

type BatchData struct {
	Swiping map[string][]float64 `json:"swiping,omitempty"`
	Typing  map[string][]float64 `json:"typing,omitempty"`
}

// EmitFunc receives a ready batch. It runs on its own goroutine, never inside
// the recording call that made the buffer ready.
type EmitFunc func(Batch)

type Options struct {
	MinSwipeSamples  int
	MinTypingSamples int
	// ResetAfterEmit selects delta semantics. The default (false) re-sends the
	// cumulative session history on every emission, which is what the capture
	// revisions in production do.
	ResetAfterEmit bool
}

// Buffer accumulates extractor output per session and schedules emission once
// either kind reaches its configured minimum.
type Buffer struct {
	mu sync.Mutex

	userID string
	swipe  map[string][]float64
	typing map[string][]float64

	minSwipes int
	minTyping int
	reset     bool

	emit      EmitFunc
	scheduled bool
}

func New(userID string, opts Options, emit EmitFunc) *Buffer {
	if opts.MinSwipeSamples < 1 {
		opts.MinSwipeSamples = 10
	}
	if opts.MinTypingSamples < 1 {
		opts.MinTypingSamples = 15
	}
	return &Buffer{
		userID:    userID,
		swipe:     make(map[string][]float64),
		typing:    make(map[string][]float64),
		minSwipes: opts.MinSwipeSamples,
		minTyping: opts.MinTypingSamples,
		reset:     opts.ResetAfterEmit,
		emit:      emit,
	}
}

// AddSwipe appends one completed gesture to the session's swipe sequences.
func (b *Buffer) AddSwipe(s capture.SwipeSample) {
	b.mu.Lock()
	b.swipe[KeySwipeDistances] = append(b.swipe[KeySwipeDistances], s.Distance)
	b.swipe[KeySwipeDurations] = append(b.swipe[KeySwipeDurations], float64(s.DurationMs))
	b.swipe[KeySwipeSpeeds] = append(b.swipe[KeySwipeSpeeds], s.Speed)
	b.swipe[KeySwipeDirections] = append(b.swipe[KeySwipeDirections], s.DirectionDeg)
	b.swipe[KeySwipeAccelerations] = append(b.swipe[KeySwipeAccelerations], s.Acceleration)
	b.maybeScheduleLocked()
	b.mu.Unlock()
}

// AddHold records a hold-time point sample.
func (b *Buffer) AddHold(ms float64) {
	b.addTyping(KeyHoldTimes, ms)
}

// AddFlight records a flight-time point sample.
func (b *Buffer) AddFlight(ms float64) {
	b.addTyping(KeyFlightTimes, ms)
}

// AddTypingMetrics records the running aggregates at one keystroke.
func (b *Buffer) AddTypingMetrics(m capture.TypingMetrics) {
	b.mu.Lock()
	b.typing[KeyBackspaceRates] = append(b.typing[KeyBackspaceRates], m.BackspaceRate)
	b.typing[KeyTypingSpeeds] = append(b.typing[KeyTypingSpeeds], m.TypingSpeed)
	b.maybeScheduleLocked()
	b.mu.Unlock()
}

func (b *Buffer) addTyping(key string, v float64) {
	b.mu.Lock()
	b.typing[key] = append(b.typing[key], v)
	b.maybeScheduleLocked()
	b.mu.Unlock()
}

// SwipeCount reports completed gestures recorded this session.
func (b *Buffer) SwipeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.swipe[KeySwipeDistances])
}

// TypingCount reports hold-time samples recorded this session.
func (b *Buffer) TypingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.typing[KeyHoldTimes])
}

// ReadyToEmit is true once either kind independently reaches its minimum.
func (b *Buffer) ReadyToEmit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readyLocked()
}

func (b *Buffer) readyLocked() bool {
	return len(b.swipe[KeySwipeDistances]) >= b.minSwipes ||
		len(b.typing[KeyHoldTimes]) >= b.minTyping
}

func (b *Buffer) maybeScheduleLocked() {
	if b.emit == nil || b.scheduled || !b.readyLocked() {
		return
	}
	b.scheduled = true
	batch := b.snapshotLocked()
	go func() {
		b.emit(batch)
		b.mu.Lock()
		b.scheduled = false
		b.mu.Unlock()
	}()
}

// Snapshot returns a copy of the current session history as a batch. When the
// buffer runs with delta semantics the sequences are cleared afterwards.
func (b *Buffer) Snapshot() Batch {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Buffer) snapshotLocked() Batch {
	batch := Batch{UserID: b.userID}
	if len(b.swipe) > 0 {
		batch.Data.Swiping = copySeqs(b.swipe)
	}
	if len(b.typing) > 0 {
		batch.Data.Typing = copySeqs(b.typing)
	}
	if b.reset {
		b.swipe = make(map[string][]float64)
		b.typing = make(map[string][]float64)
	}
	return batch
}

func copySeqs(in map[string][]float64) map[string][]float64 {
	out := make(map[string][]float64, len(in))
	for k, v := range in {
		cp := make([]float64, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}
