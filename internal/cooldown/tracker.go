package cooldown

import (
	"sync"
	"time"
)

// State is the loss streak and cooldown deadline as one logical unit. It is
// read and written only as a whole; splitting the two fields across separate
// locks is the classic ABBA deadlock this package exists to prevent.
type State struct {
	ConsecutiveLosses int
	CooldownUntil     time.Time // zero when no cooldown is active
}

// Tracker guards State behind a single mutex.
type Tracker struct {
	mu            sync.Mutex
	state         State
	lossThreshold int
	duration      time.Duration
	now           func() time.Time
}

// NewTracker creates a tracker that activates a cooldown of the given
// duration after lossThreshold consecutive realized losses.
func NewTracker(lossThreshold int, duration time.Duration) *Tracker {
	return &Tracker{
		lossThreshold: lossThreshold,
		duration:      duration,
		now:           time.Now,
	}
}

// RecordOutcome books a realized PnL. A loss extends the streak and may
// activate a cooldown; a win (or flat close) resets the streak. Returns
// whether a cooldown was activated by this outcome and its deadline.
func (t *Tracker) RecordOutcome(realizedPnL float64) (activated bool, until time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if realizedPnL >= 0 {
		t.state.ConsecutiveLosses = 0
		return false, time.Time{}
	}

	t.state.ConsecutiveLosses++
	if t.state.ConsecutiveLosses >= t.lossThreshold {
		t.state.CooldownUntil = t.now().Add(t.duration)
		return true, t.state.CooldownUntil
	}
	return false, time.Time{}
}

// InCooldown reads both fields under one lock acquisition and reports
// whether new entries are currently blocked.
func (t *Tracker) InCooldown() (bool, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.CooldownUntil.IsZero() || t.now().After(t.state.CooldownUntil) {
		return false, time.Time{}
	}
	return true, t.state.CooldownUntil
}

// Snapshot returns a copy of the current state for status reporting.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
