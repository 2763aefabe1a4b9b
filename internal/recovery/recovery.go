// Package recovery restores in-process state after a LeadPipe restart.
//
// Timers live only in memory, so on startup each registered component walks
// the store and asks the registry to re-create what it needs. The package is
// independent of the conversation logic; components plug in through
// Recoverable and the registry callbacks.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// Recoverable defines the interface for components that can recover their state
type Recoverable interface {
	// RecoverState is called during application startup to restore component state
	RecoverState(ctx context.Context, registry *RecoveryRegistry) error
}

// TimerRecoveryInfo describes a session timer to re-create.
type TimerRecoveryInfo struct {
	SessionID    string
	State        models.StateType
	OriginalTTL  time.Duration
	Remaining    time.Duration
	LastActivity time.Time
}

// RecoveryRegistry provides services that components can use during recovery
type RecoveryRegistry struct {
	store             store.Store
	timerRecoveryFunc func(context.Context, TimerRecoveryInfo) (bool, error)
}

// NewRecoveryRegistry creates a new recovery registry
func NewRecoveryRegistry(st store.Store) *RecoveryRegistry {
	return &RecoveryRegistry{store: st}
}

// RegisterTimerRecovery registers a callback for timer recovery
func (r *RecoveryRegistry) RegisterTimerRecovery(fn func(context.Context, TimerRecoveryInfo) (bool, error)) {
	r.timerRecoveryFunc = fn
}

// RecoverTimer requests recovery of a timer. It reports whether a timer was armed.
func (r *RecoveryRegistry) RecoverTimer(ctx context.Context, info TimerRecoveryInfo) (bool, error) {
	if r.timerRecoveryFunc == nil {
		return false, fmt.Errorf("no timer recovery handler registered")
	}
	return r.timerRecoveryFunc(ctx, info)
}

// GetStore provides access to the store for recovery operations
func (r *RecoveryRegistry) GetStore() store.Store {
	return r.store
}

// RecoveryManager orchestrates recovery of all registered components
type RecoveryManager struct {
	registry     *RecoveryRegistry
	recoverables []Recoverable
}

// NewRecoveryManager creates a new recovery manager
func NewRecoveryManager(st store.Store) *RecoveryManager {
	return &RecoveryManager{
		registry:     NewRecoveryRegistry(st),
		recoverables: make([]Recoverable, 0),
	}
}

// RegisterRecoverable adds a component that can be recovered
func (rm *RecoveryManager) RegisterRecoverable(r Recoverable) {
	rm.recoverables = append(rm.recoverables, r)
}

// RegisterTimerRecovery registers the timer recovery infrastructure
func (rm *RecoveryManager) RegisterTimerRecovery(fn func(context.Context, TimerRecoveryInfo) (bool, error)) {
	rm.registry.RegisterTimerRecovery(fn)
}

// RecoverAll performs recovery of all registered components
func (rm *RecoveryManager) RecoverAll(ctx context.Context) error {
	slog.Info("Starting application recovery", "components", len(rm.recoverables))

	recoveredCount := 0
	errorCount := 0
	for _, recoverable := range rm.recoverables {
		if err := recoverable.RecoverState(ctx, rm.registry); err != nil {
			slog.Error("Component recovery failed", "error", err, "component", fmt.Sprintf("%T", recoverable))
			errorCount++
			continue
		}
		recoveredCount++
	}

	slog.Info("Application recovery completed", "recovered", recoveredCount, "errors", errorCount)
	if errorCount > 0 {
		return fmt.Errorf("recovery completed with %d errors out of %d components", errorCount, len(rm.recoverables))
	}
	return nil
}

// GetRegistry provides access to the recovery registry for infrastructure setup
func (rm *RecoveryManager) GetRegistry() *RecoveryRegistry {
	return rm.registry
}
