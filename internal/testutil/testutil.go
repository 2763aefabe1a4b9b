// Package testutil provides shared fixtures for LeadPipe tests: a fixed
// encryption key, temp-dir SQLite stores, and ready-made sessions.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/crypto"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// TestingT is the subset of testing.TB used by the helpers.
type TestingT interface {
	Helper()
	Fatalf(format string, args ...interface{})
}

// Key returns a fixed 32-byte key.
func Key() []byte {
	return bytes.Repeat([]byte{0x42}, crypto.KeySize)
}

// Cipher returns a cipher over Key.
func Cipher(t TestingT) *crypto.Cipher {
	t.Helper()
	c, err := crypto.NewCipher(Key())
	if err != nil {
		t.Fatalf("failed to create cipher: %v", err)
	}
	return c
}

// SQLiteStore opens an encrypted SQLite store in a fresh temp directory and
// closes it when the test ends.
func SQLiteStore(t testing.TB) *store.SQLiteStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "leadpipe.db")
	st, err := store.NewSQLiteStore(store.WithSQLiteDSN(dsn), store.WithCipher(Cipher(t)))
	if err != nil {
		t.Fatalf("failed to open SQLite store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// QualifiedData is the user data of a fully qualified lead.
func QualifiedData() models.UserData {
	return models.UserData{
		models.DataKeyMajor:             "Marketing",
		models.DataKeyPhone:             "090 123 4567",
		models.DataKeyPhoneCleaned:      "0901234567",
		models.DataKeyPhoneStandardized: "0901234567",
		models.DataKeyPhoneNetwork:      "Mobifone",
		models.DataKeyChannel:           "Zalo",
		models.DataKeyTimeslot:          "Morning",
	}
}

// CompletedSession returns a completed session carrying QualifiedData.
func CompletedSession(id string) models.Session {
	now := time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC)
	return models.Session{
		ID:           id,
		UserID:       "u_" + id,
		DisplayName:  "Lan",
		CurrentState: models.StateComplete,
		IsCompleted:  true,
		UserData:     QualifiedData(),
		CreatedAt:    now.Add(-10 * time.Minute),
		UpdatedAt:    now,
	}
}

// SeedSessions stores sessions and fails the test on the first error.
func SeedSessions(t TestingT, st store.Store, sessions ...models.Session) {
	t.Helper()
	for _, s := range sessions {
		if err := st.CreateSession(context.Background(), s); err != nil {
			t.Fatalf("failed to seed session %s: %v", s.ID, err)
		}
	}
}

// AssertLeadCount fails the test unless st holds exactly expected leads.
func AssertLeadCount(t TestingT, st store.Store, expected int) []models.Lead {
	t.Helper()
	leads, err := st.GetLeads(context.Background())
	if err != nil {
		t.Fatalf("failed to get leads: %v", err)
	}
	if len(leads) != expected {
		t.Fatalf("expected %d leads, got %d", expected, len(leads))
	}
	return leads
}

// Do serves one request against h. A non-nil body is sent as JSON.
func Do(t TestingT, h http.Handler, method, url string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		buf.Write(MustMarshalJSON(t, body))
	}
	req := httptest.NewRequest(method, url, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// DecodeResult unmarshals the result field of an API envelope into target
// and returns the envelope status.
func DecodeResult(t TestingT, rr *httptest.ResponseRecorder, target interface{}) string {
	t.Helper()
	var env struct {
		Status string          `json:"status"`
		Result json.RawMessage `json:"result"`
	}
	MustUnmarshalJSON(t, rr.Body.Bytes(), &env)
	if target != nil && len(env.Result) > 0 {
		MustUnmarshalJSON(t, env.Result, target)
	}
	return env.Status
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t TestingT, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t TestingT, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
