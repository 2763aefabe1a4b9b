package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/recovery"
)

// NudgeRecovery re-arms nudge timers for in-flight sessions after a restart.
type NudgeRecovery struct {
	engine *Engine
}

// NewNudgeRecovery creates the recovery component for engine.
func NewNudgeRecovery(engine *Engine) *NudgeRecovery {
	return &NudgeRecovery{engine: engine}
}

// RecoverState arms each active session's nudge for its remaining idle time.
// Sessions already waiting on a nudge reply and expired sessions are skipped.
func (r *NudgeRecovery) RecoverState(ctx context.Context, registry *recovery.RecoveryRegistry) error {
	sessions, err := registry.GetStore().ListActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active sessions: %w", err)
	}

	delay := r.engine.nudges.Delay()
	now := r.engine.sessions.Now()
	armed, errorCount := 0, 0
	for _, s := range sessions {
		if s.CurrentState == models.StateNudge || r.engine.sessions.Expired(s) {
			continue
		}
		ok, err := registry.RecoverTimer(ctx, recovery.TimerRecoveryInfo{
			SessionID:    s.ID,
			State:        s.CurrentState,
			OriginalTTL:  delay,
			Remaining:    delay - now.Sub(s.UpdatedAt),
			LastActivity: s.UpdatedAt,
		})
		if err != nil {
			slog.Error("NudgeRecovery: failed to re-arm nudge", "error", err, "sessionID", s.ID)
			errorCount++
			continue
		}
		if ok {
			armed++
		}
	}
	slog.Info("NudgeRecovery completed", "armed", armed, "errors", errorCount, "active", len(sessions))
	return nil
}
