package flow

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultNudgeDelay is the idle time before a session is nudged.
const DefaultNudgeDelay = 120 * time.Second

// pendingNudge is the single outstanding deferred action for a session.
type pendingNudge struct {
	timerID string
	token   uint64
	due     time.Time
}

// NudgeScheduler keeps at most one pending nudge per session.
//
// Arm, Reset and Cancel are called with the session lock held. A firing
// timer takes the same lock and only runs onFire if its token is still the
// current one, so a nudge armed before a user message can never act on the
// state that message produced.
type NudgeScheduler struct {
	timer *SimpleTimer
	locks *KeyedMutex
	delay time.Duration

	mu      sync.Mutex
	pending map[string]pendingNudge
	seq     uint64
	stopped bool

	// running counts fires past the token check; Stop waits for them.
	running sync.WaitGroup
}

// NewNudgeScheduler creates a scheduler sharing the given per-session locks.
func NewNudgeScheduler(locks *KeyedMutex, delay time.Duration) *NudgeScheduler {
	if delay <= 0 {
		delay = DefaultNudgeDelay
	}
	return &NudgeScheduler{
		timer:   NewSimpleTimer(),
		locks:   locks,
		delay:   delay,
		pending: make(map[string]pendingNudge),
	}
}

// Delay returns the configured idle delay.
func (n *NudgeScheduler) Delay() time.Duration {
	return n.delay
}

// Arm replaces any pending nudge for id with one firing after the default delay.
func (n *NudgeScheduler) Arm(id string, onFire func(id string)) {
	n.ArmAfter(id, n.delay, onFire)
}

// ArmAfter replaces any pending nudge for id with one firing after d.
func (n *NudgeScheduler) ArmAfter(id string, d time.Duration, onFire func(id string)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return
	}
	if p, ok := n.pending[id]; ok {
		n.timer.Cancel(p.timerID)
		delete(n.pending, id)
	}

	n.seq++
	token := n.seq
	timerID, err := n.timer.ScheduleAfter(d, "nudge "+id, func() { n.fire(id, token, onFire) })
	if err != nil {
		slog.Error("NudgeScheduler.ArmAfter: schedule failed", "error", err, "sessionID", id)
		return
	}
	n.pending[id] = pendingNudge{timerID: timerID, token: token, due: time.Now().Add(d)}
	slog.Debug("NudgeScheduler.ArmAfter: armed", "sessionID", id, "delay", d)
}

// Reset cancels then arms; used on every user message in a non-terminal state.
func (n *NudgeScheduler) Reset(id string, onFire func(id string)) {
	n.Cancel(id)
	n.Arm(id, onFire)
}

// Cancel drops the pending nudge for id. It is idempotent and reports
// whether a nudge was pending.
func (n *NudgeScheduler) Cancel(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.pending[id]
	if !ok {
		return false
	}
	n.timer.Cancel(p.timerID)
	delete(n.pending, id)
	slog.Debug("NudgeScheduler.Cancel: cancelled", "sessionID", id)
	return true
}

// Pending reports whether a nudge is armed for id.
func (n *NudgeScheduler) Pending(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.pending[id]
	return ok
}

// Due returns when the pending nudge for id will fire.
func (n *NudgeScheduler) Due(id string) (time.Time, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.pending[id]
	return p.due, ok
}

// Count returns the number of pending nudges.
func (n *NudgeScheduler) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}

// Stop cancels every pending nudge and waits for nudges already firing.
// Later Arm calls are ignored.
func (n *NudgeScheduler) Stop() {
	n.mu.Lock()
	n.stopped = true
	cancelled := n.timer.Pending()
	n.timer.Stop()
	n.pending = make(map[string]pendingNudge)
	n.mu.Unlock()

	n.running.Wait()
	slog.Info("NudgeScheduler stopped", "cancelled", cancelled)
}

func (n *NudgeScheduler) fire(id string, token uint64, onFire func(id string)) {
	unlock := n.locks.Lock(id)
	defer unlock()

	n.mu.Lock()
	p, ok := n.pending[id]
	if n.stopped || !ok || p.token != token {
		n.mu.Unlock()
		slog.Debug("NudgeScheduler.fire: superseded, skipping", "sessionID", id)
		return
	}
	delete(n.pending, id)
	n.running.Add(1)
	n.mu.Unlock()
	defer n.running.Done()

	onFire(id)
}
