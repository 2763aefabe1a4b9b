package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/LeadPipe/internal/metrics"
)

// ReapExpired deletes incomplete sessions idle past the expiry threshold and
// cancels their nudges. Each candidate is re-checked under its lock so a
// session revived by a late message is left alone.
func (e *Engine) ReapExpired(ctx context.Context) (int, error) {
	ids, err := e.sessions.ExpiredIDs(ctx)
	if err != nil {
		slog.Error("Engine.ReapExpired: listing expired sessions failed", "error", err)
		return 0, err
	}

	reaped := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return reaped, ctx.Err()
		}
		if e.reapOne(ctx, id) {
			reaped++
		}
	}
	if reaped > 0 || len(ids) > 0 {
		slog.Info("Engine.ReapExpired: sweep finished", "candidates", len(ids), "reaped", reaped)
	}
	return reaped, nil
}

func (e *Engine) reapOne(ctx context.Context, id string) bool {
	unlock := e.sessions.Lock(id)
	defer unlock()

	s, err := e.sessions.store.GetSession(ctx, id)
	if err != nil {
		slog.Error("Engine.ReapExpired: load failed", "error", err, "sessionID", id)
		return false
	}
	if s == nil {
		e.nudges.Cancel(id)
		return false
	}
	if !e.sessions.Expired(*s) {
		return false
	}
	e.nudges.Cancel(id)
	existed, err := e.sessions.Delete(ctx, id)
	if err != nil {
		slog.Error("Engine.ReapExpired: delete failed", "error", err, "sessionID", id)
		return false
	}
	if existed {
		metrics.SessionsReaped.Inc()
		slog.Debug("Engine.ReapExpired: session reaped", "sessionID", id)
	}
	return existed
}
