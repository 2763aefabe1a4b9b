package flow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionManager(t *testing.T) (*SessionManager, *store.InMemoryStore, *fakeClock) {
	t.Helper()
	st := store.NewInMemoryStore()
	clock := newFakeClock()
	return NewSessionManager(st, WithClock(clock.Now), WithSessionExpiry(time.Hour)), st, clock
}

func TestSessionManager_CreateDefaults(t *testing.T) {
	m, _, clock := newTestSessionManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "", "Lan")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.True(t, strings.HasPrefix(s.UserID, "u_"), s.UserID)
	assert.Equal(t, "Lan", s.DisplayName)
	assert.Equal(t, models.StateWelcome, s.CurrentState)
	assert.Empty(t, s.UserData)
	assert.Empty(t, s.ConversationHistory)
	assert.Equal(t, clock.Now(), s.CreatedAt)

	other, err := m.Create(ctx, "visitor-7", "")
	require.NoError(t, err)
	assert.Equal(t, "visitor-7", other.UserID)
	assert.NotEqual(t, s.ID, other.ID)
}

func TestSessionManager_MutationsRefreshUpdatedAt(t *testing.T) {
	m, _, clock := newTestSessionManager(t)
	ctx := context.Background()
	s, err := m.Create(ctx, "u", "")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	data := models.UserData{models.DataKeyMajor: "CNTT"}
	got, err := m.SetUserData(ctx, s.ID, data)
	require.NoError(t, err)
	assert.Equal(t, "CNTT", got.UserData[models.DataKeyMajor])
	assert.Equal(t, clock.Now(), got.UpdatedAt)

	// The stored copy does not alias the caller's map.
	data[models.DataKeyMajor] = "changed"
	reloaded, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "CNTT", reloaded.UserData[models.DataKeyMajor])

	clock.Advance(time.Minute)
	got, err = m.SetState(ctx, s.ID, models.StatePhone)
	require.NoError(t, err)
	assert.Equal(t, models.StatePhone, got.CurrentState)
	assert.False(t, got.IsCompleted)

	got, err = m.AppendMessage(ctx, s.ID, models.RoleUser, "hello", []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, got.ConversationHistory, 1)
	msg := got.ConversationHistory[0]
	assert.Equal(t, models.RoleUser, msg.Role)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, []string{"a", "b"}, msg.QuickReplies)
	assert.Equal(t, clock.Now(), msg.Timestamp)
}

func TestSessionManager_CompleteIsTerminal(t *testing.T) {
	m, _, _ := newTestSessionManager(t)
	ctx := context.Background()
	s, err := m.Create(ctx, "u", "")
	require.NoError(t, err)
	_, err = m.Update(ctx, s.ID, func(s *models.Session) {
		s.CurrentState = models.StateNudge
		s.PreviousState = models.StatePhone
	})
	require.NoError(t, err)

	done, err := m.Complete(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, done.IsCompleted)
	assert.Equal(t, models.StateComplete, done.CurrentState)
	assert.Empty(t, done.PreviousState)

	after, err := m.SetState(ctx, s.ID, models.StateMajor)
	require.NoError(t, err)
	assert.Equal(t, models.StateComplete, after.CurrentState)
	assert.Equal(t, done.UpdatedAt, after.UpdatedAt)

	after, err = m.AppendMessage(ctx, s.ID, models.RoleUser, "late", nil)
	require.NoError(t, err)
	assert.Empty(t, after.ConversationHistory)
}

func TestSessionManager_MissingSession(t *testing.T) {
	m, _, _ := newTestSessionManager(t)
	ctx := context.Background()

	s, err := m.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = m.SetState(ctx, "nope", models.StateMajor)
	require.NoError(t, err)
	assert.Nil(t, s)

	existed, err := m.Delete(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestSessionManager_ExpiryOnRead(t *testing.T) {
	m, st, clock := newTestSessionManager(t)
	ctx := context.Background()
	idle, err := m.Create(ctx, "u1", "")
	require.NoError(t, err)
	finished, err := m.Create(ctx, "u2", "")
	require.NoError(t, err)
	_, err = m.Complete(ctx, finished.ID)
	require.NoError(t, err)

	clock.Advance(time.Hour + time.Second)

	ids, err := m.ExpiredIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{idle.ID}, ids)

	got, err := m.Get(ctx, idle.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	raw, err := st.GetSession(ctx, idle.ID)
	require.NoError(t, err)
	assert.Nil(t, raw, "expired session should be deleted on read")

	got, err = m.Get(ctx, finished.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsCompleted)
}

func TestSessionManager_Delete(t *testing.T) {
	m, _, _ := newTestSessionManager(t)
	ctx := context.Background()
	s, err := m.Create(ctx, "u", "")
	require.NoError(t, err)

	existed, err := m.Delete(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, existed)

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
