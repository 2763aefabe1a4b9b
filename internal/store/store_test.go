package store

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/crypto"
	"github.com/BTreeMap/LeadPipe/internal/models"
)

func testCipher(t *testing.T) *crypto.Cipher {
	t.Helper()
	c, err := crypto.NewCipher(bytes.Repeat([]byte{0x42}, crypto.KeySize))
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	return c
}

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "state", "leadpipe.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dsn), WithCipher(testCipher(t)))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSession(id string, updated time.Time) models.Session {
	return models.Session{
		ID:           id,
		UserID:       "u_" + id,
		DisplayName:  "Lan",
		CurrentState: models.StateChannel,
		UserData: models.UserData{
			models.DataKeyMajor:             "Marketing",
			models.DataKeyPhone:             "0901234567",
			models.DataKeyPhoneCleaned:      "0901234567",
			models.DataKeyPhoneStandardized: "0901234567",
			models.DataKeyPhoneNetwork:      "Mobifone",
		},
		ConversationHistory: []models.Message{
			{Role: models.RoleUser, Text: "0901234567", Timestamp: updated},
			{Role: models.RoleAssistant, Text: "How should we contact you?", Timestamp: updated, QuickReplies: []string{"Phone call", "Zalo", "SMS"}},
		},
		CreatedAt: updated.Add(-time.Minute),
		UpdatedAt: updated,
	}
}

// exerciseStore runs the behavior every Store implementation must share.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	if got, err := s.GetSession(ctx, "missing"); err != nil || got != nil {
		t.Fatalf("GetSession(missing) = %v, %v; want nil, nil", got, err)
	}

	fresh := sampleSession("s-fresh", now)
	stale := sampleSession("s-stale", now.Add(-48*time.Hour))
	done := sampleSession("s-done", now.Add(-48*time.Hour))
	done.CurrentState = models.StateComplete
	done.IsCompleted = true

	for _, sess := range []models.Session{fresh, stale, done} {
		if err := s.CreateSession(ctx, sess); err != nil {
			t.Fatalf("CreateSession(%s): %v", sess.ID, err)
		}
	}
	if err := s.CreateSession(ctx, fresh); err != ErrSessionExists {
		t.Errorf("duplicate CreateSession error = %v, want ErrSessionExists", err)
	}

	got, err := s.GetSession(ctx, "s-fresh")
	if err != nil || got == nil {
		t.Fatalf("GetSession: %v, %v", got, err)
	}
	if got.UserData[models.DataKeyPhoneStandardized] != "0901234567" {
		t.Errorf("phoneStandardized = %q", got.UserData[models.DataKeyPhoneStandardized])
	}
	if got.UserData[models.DataKeyMajor] != "Marketing" {
		t.Errorf("major = %q", got.UserData[models.DataKeyMajor])
	}
	if len(got.ConversationHistory) != 2 || got.ConversationHistory[1].QuickReplies[2] != "SMS" {
		t.Errorf("history not round-tripped: %+v", got.ConversationHistory)
	}
	if got.CurrentState != models.StateChannel || got.IsCompleted {
		t.Errorf("state = %s completed=%v", got.CurrentState, got.IsCompleted)
	}

	got.CurrentState = models.StateNudge
	got.PreviousState = models.StateChannel
	got.UpdatedAt = now.Add(time.Second)
	if err := s.SaveSession(ctx, *got); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	again, _ := s.GetSession(ctx, "s-fresh")
	if again.CurrentState != models.StateNudge || again.PreviousState != models.StateChannel {
		t.Errorf("saved state = %s/%s", again.CurrentState, again.PreviousState)
	}

	expired, err := s.ListExpiredSessions(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ListExpiredSessions: %v", err)
	}
	if len(expired) != 1 || expired[0] != "s-stale" {
		t.Errorf("expired = %v, want [s-stale]", expired)
	}

	active, err := s.ListActiveSessions(ctx)
	if err != nil {
		t.Fatalf("ListActiveSessions: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("active count = %d, want 2", len(active))
	}

	existed, err := s.DeleteSession(ctx, "s-stale")
	if err != nil || !existed {
		t.Errorf("DeleteSession = %v, %v", existed, err)
	}
	existed, err = s.DeleteSession(ctx, "s-stale")
	if err != nil || existed {
		t.Errorf("second DeleteSession = %v, %v; want false", existed, err)
	}

	lead := models.Lead{
		ID: "l-1", SessionID: "s-done", UserID: "u_s-done", Major: "CNTT",
		Phone: "0901234567", Network: "Mobifone", Channel: "Zalo", Timeslot: "Morning",
		Qualified: true, CreatedAt: now,
	}
	if err := s.SaveLead(ctx, lead); err != nil {
		t.Fatalf("SaveLead: %v", err)
	}
	leads, err := s.GetLeads(ctx)
	if err != nil {
		t.Fatalf("GetLeads: %v", err)
	}
	if len(leads) != 1 || leads[0].Phone != "0901234567" || !leads[0].Qualified || leads[0].Timeslot != "Morning" {
		t.Errorf("leads = %+v", leads)
	}
}

func TestInMemoryStore(t *testing.T) {
	exerciseStore(t, NewInMemoryStore())
}

func TestInMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	sess := sampleSession("s1", time.Now())
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetSession(ctx, "s1")
	got.UserData[models.DataKeyMajor] = "mutated"
	again, _ := s.GetSession(ctx, "s1")
	if again.UserData[models.DataKeyMajor] != "Marketing" {
		t.Error("caller mutation leaked into store")
	}
}

func TestSQLiteStore(t *testing.T) {
	exerciseStore(t, newTestSQLiteStore(t))
}

func TestSQLiteStore_RequiresCipher(t *testing.T) {
	_, err := NewSQLiteStore(WithSQLiteDSN(filepath.Join(t.TempDir(), "x.db")))
	if err != ErrCipherRequired {
		t.Errorf("err = %v, want ErrCipherRequired", err)
	}
}

func TestSQLiteStore_EncryptsPersonalData(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	if err := s.CreateSession(ctx, sampleSession("s1", time.Now())); err != nil {
		t.Fatal(err)
	}
	var userData, history string
	if err := s.db.QueryRow(`SELECT user_data, history FROM sessions WHERE id = ?`, "s1").Scan(&userData, &history); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(userData, "0901234567") {
		t.Errorf("phone stored in clear: %s", userData)
	}
	if !strings.Contains(userData, "Marketing") {
		t.Errorf("non-sensitive field should stay readable: %s", userData)
	}
	if strings.Contains(history, "0901234567") {
		t.Errorf("history stored in clear: %s", history)
	}
}

func TestSQLiteStore_CorruptFieldIsDropped(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	if err := s.CreateSession(ctx, sampleSession("s1", time.Now())); err != nil {
		t.Fatal(err)
	}
	corrupt := `{"major":"Marketing","phone":"v1:not-base64!","phoneNetwork":"Mobifone"}`
	if _, err := s.db.Exec(`UPDATE sessions SET user_data = ?, history = ? WHERE id = ?`, corrupt, "garbage", "s1"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if _, ok := got.UserData[models.DataKeyPhone]; ok {
		t.Error("undecryptable phone should be dropped")
	}
	if got.UserData[models.DataKeyMajor] != "Marketing" {
		t.Errorf("major = %q, want Marketing", got.UserData[models.DataKeyMajor])
	}
	if len(got.ConversationHistory) != 0 {
		t.Errorf("unreadable history should come back empty, got %d messages", len(got.ConversationHistory))
	}
}

func TestDetectDSNType(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost/db":       "postgres",
		"postgresql://localhost/db":         "postgres",
		"host=localhost user=lead dbname=x": "postgres",
		"/var/lib/leadpipe/state.db":        "sqlite",
		"file:leadpipe.db?cache=shared":     "sqlite",
	}
	for dsn, want := range cases {
		if got := DetectDSNType(dsn); got != want {
			t.Errorf("DetectDSNType(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func TestNew_DefaultsToMemory(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Errorf("New() = %T, want *InMemoryStore", s)
	}
}

func TestPostgresStore(t *testing.T) {
	// Requires a running PostgreSQL instance; DATABASE_URL holds the connection string.
	connStr := getenvOrSkip(t, "DATABASE_URL")
	pgStore, err := NewPostgresStore(WithPostgresDSN(connStr), WithCipher(testCipher(t)))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer pgStore.Close()
	pgStore.db.Exec("DELETE FROM sessions")
	pgStore.db.Exec("DELETE FROM leads")
	exerciseStore(t, pgStore)
}

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}
