package risk

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

type Category string

const (
	LowRisk      Category = "low_risk"
	MediumRisk   Category = "medium_risk"
	HighRisk     Category = "high_risk"
	CriticalRisk Category = "critical_risk"
)

// SessionGuard ends the session once the ledger decides the user is no longer
// trustworthy. Ending a session typically forces re-authentication.
type SessionGuard interface {
	EndSession(reason string)
}

// Notifier surfaces the blocking warning shown before the session is ended.
type Notifier interface {
	Warn(title, message string)
}

// Thresholds for forced termination. Medium and high are always enforced;
// the low-risk tier only when enabled (the policy evolved across capture
// revisions, so both variants are supported).
type Thresholds struct {
	Medium         int
	High           int
	Low            int
	LowTierEnabled bool
}

func DefaultThresholds() Thresholds {
	return Thresholds{Medium: 5, High: 2, Low: 10}
}

// Ledger accumulates verdict categories for one session and applies the
// termination policy. Created at login, discarded at logout.
type Ledger struct {
	mu         sync.Mutex
	history    []Category
	counts     map[Category]int
	terminated bool

	thresholds Thresholds
	guard      SessionGuard
	notifier   Notifier
}

func NewLedger(t Thresholds, guard SessionGuard, notifier Notifier) *Ledger {
	if t.Medium < 1 {
		t.Medium = 5
	}
	if t.High < 1 {
		t.High = 2
	}
	if t.Low < 1 {
		t.Low = 10
	}
	return &Ledger{
		counts:     make(map[Category]int),
		thresholds: t,
		guard:      guard,
		notifier:   notifier,
	}
}

// HandleVerdict consumes one prediction-result payload. A payload that fails
// to parse is logged and discarded; the session carries on.
func (l *Ledger) HandleVerdict(payload []byte) {
	categories, err := ParseVerdicts(payload)
	if err != nil {
		log.Warn().Err(err).Msg("discarding unparseable verdict")
		return
	}
	for _, cat := range categories {
		l.Record(cat)
	}
}

// Record appends one category and evaluates the termination policy. The
// session is force-ended at most once.
func (l *Ledger) Record(cat Category) {
	l.mu.Lock()
	if l.terminated {
		l.mu.Unlock()
		return
	}

	if cat == CriticalRisk {
		l.terminated = true
		l.mu.Unlock()
		l.terminate("critical risk detected")
		return
	}

	l.history = append(l.history, cat)
	l.counts[cat]++

	tripped := l.counts[MediumRisk] >= l.thresholds.Medium ||
		l.counts[HighRisk] >= l.thresholds.High ||
		(l.thresholds.LowTierEnabled && l.counts[LowRisk] >= l.thresholds.Low)
	if !tripped {
		l.mu.Unlock()
		return
	}
	l.terminated = true
	l.mu.Unlock()
	l.terminate("too many risky sessions")
}

func (l *Ledger) terminate(reason string) {
	log.Warn().Str("reason", reason).Msg("forcing session termination")
	if l.notifier != nil {
		l.notifier.Warn("Security Alert", reason)
	}
	if l.guard != nil {
		l.guard.EndSession(reason)
	}
}

// Count reports how many verdicts of a category have been recorded.
func (l *Ledger) Count(cat Category) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[cat]
}

// Terminated reports whether the session has been force-ended.
func (l *Ledger) Terminated() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.terminated
}

// envelope mirrors the prediction-result wire shape: one entry per modality,
// each carrying a prediction_result with a risk_category.
type envelope map[string]struct {
	PredictionResult struct {
		RiskCategory string `json:"risk_category"`
	} `json:"prediction_result"`
}

// ParseVerdicts extracts the risk categories from a prediction-result
// payload. The payload arrives as a JSON-encoded string; a bare object is
// accepted too.
func ParseVerdicts(payload []byte) ([]Category, error) {
	raw := payload
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("decode verdict string: %w", err)
		}
		raw = []byte(inner)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode verdict envelope: %w", err)
	}

	var out []Category
	for _, entry := range env {
		switch c := Category(entry.PredictionResult.RiskCategory); c {
		case LowRisk, MediumRisk, HighRisk, CriticalRisk:
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("verdict envelope carries no risk category")
	}
	return out, nil
}
