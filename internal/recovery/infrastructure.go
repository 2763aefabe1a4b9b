// Package recovery provides infrastructure helpers for wiring up recovery in the main application
package recovery

import (
	"context"
	"log/slog"
	"time"
)

// RearmFunc arms a timer for a session after the given delay.
type RearmFunc func(ctx context.Context, sessionID string, after time.Duration) (bool, error)

// TimerRecoveryHandler adapts a RearmFunc into the registry's timer callback.
// The remaining time is floored at zero so overdue timers fire immediately.
func TimerRecoveryHandler(rearm RearmFunc) func(context.Context, TimerRecoveryInfo) (bool, error) {
	return func(ctx context.Context, info TimerRecoveryInfo) (bool, error) {
		after := info.Remaining
		if after < 0 {
			after = 0
		}
		slog.Info("Recovering timer",
			"sessionID", info.SessionID,
			"state", info.State,
			"ttl", info.OriginalTTL,
			"remaining", after)
		return rearm(ctx, info.SessionID, after)
	}
}
