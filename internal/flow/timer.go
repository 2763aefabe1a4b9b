package flow

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// timerEntry tracks information about a scheduled timer
type timerEntry struct {
	timer       *time.Timer
	description string
}

// SimpleTimer runs functions after a delay using the standard time package.
type SimpleTimer struct {
	timers  map[string]*timerEntry
	mu      sync.RWMutex
	nextID  int64
	stopped bool
}

// NewSimpleTimer creates a new SimpleTimer.
func NewSimpleTimer() *SimpleTimer {
	slog.Debug("Creating SimpleTimer")
	return &SimpleTimer{
		timers: make(map[string]*timerEntry),
	}
}

// ScheduleAfter schedules fn to run after delay and returns the timer ID.
func (t *SimpleTimer) ScheduleAfter(delay time.Duration, description string, fn func()) (string, error) {
	if delay < 0 {
		delay = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return "", fmt.Errorf("timer stopped")
	}
	t.nextID++
	id := fmt.Sprintf("timer_%d", t.nextID)

	// The entry is registered before the callback can observe the map.
	t.timers[id] = &timerEntry{
		timer: time.AfterFunc(delay, func() {
			t.mu.Lock()
			_, live := t.timers[id]
			delete(t.timers, id)
			t.mu.Unlock()
			if !live {
				return
			}
			slog.Debug("SimpleTimer executing scheduled function", "id", id, "description", description)
			fn()
		}),
		description: description,
	}

	slog.Debug("SimpleTimer ScheduleAfter succeeded", "id", id, "delay", delay)
	return id, nil
}

// Cancel stops a scheduled function. It reports whether the timer was still pending.
func (t *SimpleTimer) Cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, exists := t.timers[id]; exists {
		entry.timer.Stop()
		delete(t.timers, id)
		slog.Debug("SimpleTimer Cancel succeeded", "id", id, "description", entry.description)
		return true
	}

	slog.Debug("SimpleTimer Cancel: timer not found", "id", id)
	return false
}

// Stop cancels all scheduled timers and rejects new ones.
func (t *SimpleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, entry := range t.timers {
		entry.timer.Stop()
	}
	slog.Info("SimpleTimer stopped all timers", "count", len(t.timers))
	t.timers = make(map[string]*timerEntry)
	t.stopped = true
}

// Pending returns the number of timers that have not fired or been cancelled.
func (t *SimpleTimer) Pending() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.timers)
}
