package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/util"
	"github.com/google/uuid"
)

// DefaultSessionExpiry is how long an incomplete session may sit idle.
const DefaultSessionExpiry = 24 * time.Hour

// ErrSessionNotFound is returned when a session does not exist or has expired.
var ErrSessionNotFound = errors.New("session not found")

// SessionManager implements the session lifecycle on top of a store.Store.
//
// Methods other than Lock do not lock; callers serialize mutations of one
// session by holding Lock(id) around them.
type SessionManager struct {
	store  store.Store
	locks  *KeyedMutex
	expiry time.Duration
	now    func() time.Time
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithSessionExpiry sets the idle threshold after which incomplete sessions expire.
func WithSessionExpiry(d time.Duration) SessionOption {
	return func(m *SessionManager) {
		if d > 0 {
			m.expiry = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) { m.now = now }
}

// NewSessionManager creates a SessionManager backed by st.
func NewSessionManager(st store.Store, opts ...SessionOption) *SessionManager {
	m := &SessionManager{
		store:  st,
		locks:  NewKeyedMutex(),
		expiry: DefaultSessionExpiry,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lock takes the exclusive lock for one session.
func (m *SessionManager) Lock(id string) func() {
	return m.locks.Lock(id)
}

// Locks exposes the per-session lock table for the nudge scheduler.
func (m *SessionManager) Locks() *KeyedMutex {
	return m.locks
}

// Expiry returns the configured idle threshold.
func (m *SessionManager) Expiry() time.Duration {
	return m.expiry
}

// Now returns the manager's current time.
func (m *SessionManager) Now() time.Time {
	return m.now()
}

// Expired reports whether s is incomplete and idle past the threshold.
func (m *SessionManager) Expired(s models.Session) bool {
	return !s.IsCompleted && m.now().Sub(s.UpdatedAt) > m.expiry
}

// Create starts a new session in the welcome state. An empty userID is generated.
func (m *SessionManager) Create(ctx context.Context, userID, displayName string) (*models.Session, error) {
	if userID == "" {
		userID = util.GenerateUserID()
	}
	now := m.now()
	s := models.Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		DisplayName:  displayName,
		CurrentState: models.StateWelcome,
		UserData:     models.UserData{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	slog.Debug("SessionManager.Create: session created", "sessionID", s.ID, "userID", userID)
	return &s, nil
}

// Get loads a session. Expired sessions are deleted and reported as absent (nil, nil).
func (m *SessionManager) Get(ctx context.Context, id string) (*models.Session, error) {
	s, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if s == nil {
		return nil, nil
	}
	if m.Expired(*s) {
		slog.Info("SessionManager.Get: session expired, deleting", "sessionID", id, "updatedAt", s.UpdatedAt)
		if _, err := m.store.DeleteSession(ctx, id); err != nil {
			slog.Error("SessionManager.Get: failed to delete expired session", "error", err, "sessionID", id)
		}
		return nil, nil
	}
	return s, nil
}

// Update applies fn to the stored session and saves it with a fresh UpdatedAt.
// It returns nil when the session is absent. Completed sessions are returned
// unchanged without calling fn.
func (m *SessionManager) Update(ctx context.Context, id string, fn func(*models.Session)) (*models.Session, error) {
	s, err := m.Get(ctx, id)
	if err != nil || s == nil {
		return nil, err
	}
	if s.IsCompleted {
		slog.Debug("SessionManager.Update: session completed, not mutating", "sessionID", id)
		return s, nil
	}
	fn(s)
	if s.CurrentState == models.StateComplete {
		s.IsCompleted = true
		s.PreviousState = ""
	}
	s.UpdatedAt = m.now()
	if err := m.store.SaveSession(ctx, *s); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return s, nil
}

// AppendMessage adds one entry to the conversation history.
func (m *SessionManager) AppendMessage(ctx context.Context, id string, role models.Role, text string, quickReplies []string) (*models.Session, error) {
	return m.Update(ctx, id, func(s *models.Session) {
		appendMessage(s, role, text, quickReplies, m.now())
	})
}

// SetUserData replaces the collected fields.
func (m *SessionManager) SetUserData(ctx context.Context, id string, data models.UserData) (*models.Session, error) {
	return m.Update(ctx, id, func(s *models.Session) {
		s.UserData = data.Clone()
	})
}

// SetState moves the session to state. Moving to complete completes the session.
func (m *SessionManager) SetState(ctx context.Context, id string, state models.StateType) (*models.Session, error) {
	return m.Update(ctx, id, func(s *models.Session) {
		s.CurrentState = state
	})
}

// Complete marks the session completed and terminal in one write.
func (m *SessionManager) Complete(ctx context.Context, id string) (*models.Session, error) {
	return m.SetState(ctx, id, models.StateComplete)
}

// Delete removes the session and reports whether it existed.
func (m *SessionManager) Delete(ctx context.Context, id string) (bool, error) {
	existed, err := m.store.DeleteSession(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return existed, nil
}

// ExpiredIDs lists incomplete sessions idle past the threshold.
func (m *SessionManager) ExpiredIDs(ctx context.Context) ([]string, error) {
	return m.store.ListExpiredSessions(ctx, m.now().Add(-m.expiry))
}

func appendMessage(s *models.Session, role models.Role, text string, quickReplies []string, at time.Time) {
	s.ConversationHistory = append(s.ConversationHistory, models.Message{
		Role:         role,
		Text:         text,
		Timestamp:    at,
		QuickReplies: append([]string(nil), quickReplies...),
	})
}
