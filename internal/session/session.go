package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/safeshield/telemetry/internal/buffer"
	"github.com/safeshield/telemetry/internal/capture"
	"github.com/safeshield/telemetry/internal/config"
	"github.com/safeshield/telemetry/internal/risk"
	"github.com/safeshield/telemetry/internal/transport"
)

// Session ties one authenticated user's capture pipeline together: trackers
// feed the buffer, the buffer emits over the transport, verdicts come back
// into the risk ledger. Created at login, torn down at logout or forced
// termination.
type Session struct {
	ID     string
	UserID string

	swipes *capture.SwipeTracker
	typing *capture.TypingTracker
	buf    *buffer.Buffer
	client *transport.Client
	ledger *risk.Ledger

	mu    sync.Mutex
	sub   *transport.Subscription
	ended bool
}

func New(userID string, cfg *config.Config, client *transport.Client, guard risk.SessionGuard, notifier risk.Notifier) *Session {
	s := &Session{
		ID:     uuid.New().String(),
		UserID: userID,
		swipes: capture.NewSwipeTracker(cfg.Capture.MinSwipeDistancePx),
		typing: capture.NewTypingTracker(),
		client: client,
		ledger: risk.NewLedger(risk.Thresholds{
			Medium:         cfg.Risk.MediumThreshold,
			High:           cfg.Risk.HighThreshold,
			Low:            cfg.Risk.LowThreshold,
			LowTierEnabled: cfg.Risk.LowTierEnabled,
		}, guard, notifier),
	}
	s.buf = buffer.New(userID, buffer.Options{
		MinSwipeSamples:  cfg.Buffer.MinSwipeSamples,
		MinTypingSamples: cfg.Buffer.MinTypingSamples,
		ResetAfterEmit:   cfg.Buffer.ResetAfterEmit,
	}, s.emit)
	return s
}

// Ledger exposes the session's risk state.
func (s *Session) Ledger() *risk.Ledger { return s.ledger }

func (s *Session) emit(batch buffer.Batch) {
	if err := s.client.Send("send-features", batch); err != nil {
		// fail fast per transport contract; the next ready batch retries
		log.Warn().Err(err).Str("user_id", s.UserID).Msg("telemetry batch dropped")
		return
	}
	log.Debug().Str("user_id", s.UserID).Msg("telemetry batch emitted")
}

// FocusGained attaches the verdict listener. Attaching twice is harmless;
// the registration is keyed by the session id.
func (s *Session) FocusGained() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.sub = s.client.Register("prediction-result", "risk-ledger:"+s.ID, func(payload json.RawMessage) {
		s.ledger.HandleVerdict(payload)
	})
}

// FocusLost detaches the verdict listener until the screen regains focus.
func (s *Session) FocusLost() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		s.sub.Unregister()
	}
}

// End tears the session down. Idempotent.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	if s.sub != nil {
		s.sub.Unregister()
		s.sub = nil
	}
}

// OnGestureBegin records a pointer-down from the capture surface.
func (s *Session) OnGestureBegin(x, y float64, t time.Time) {
	s.swipes.Begin(x, y, t)
}

// OnGestureEnd completes the gesture; noise below the distance threshold is
// not recorded.
func (s *Session) OnGestureEnd(x, y float64, t time.Time) {
	if sample, ok := s.swipes.End(x, y, t); ok {
		s.buf.AddSwipe(sample)
	}
}

// OnKeyDown records a key press in the named input field.
func (s *Session) OnKeyDown(field string, t time.Time) {
	if flight, ok := s.typing.KeyDown(field, t); ok {
		s.buf.AddFlight(flight)
	}
}

// OnKeyUp records a key release.
func (s *Session) OnKeyUp(field string, t time.Time) {
	if hold, ok := s.typing.KeyUp(field, t); ok {
		s.buf.AddHold(hold)
	}
}

// OnTextChanged records an input-field edit and the running cadence
// aggregates it implies.
func (s *Session) OnTextChanged(field, text string, t time.Time) {
	s.buf.AddTypingMetrics(s.typing.TextChanged(field, text, t))
}
