package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/crypto"
	"github.com/BTreeMap/LeadPipe/internal/models"
)

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// fieldCodec converts session fields to and from their at-rest text form.
// Sensitive user data values and the conversation history are encrypted
// individually so a corrupt value only loses that value.
type fieldCodec struct {
	cipher *crypto.Cipher
}

func (c fieldCodec) encodeUserData(data models.UserData) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	out := make(map[models.DataKey]string, len(data))
	for k, v := range data {
		if k.IsSensitive() && v != "" {
			sealed, err := c.cipher.Encrypt(v)
			if err != nil {
				return "", fmt.Errorf("encrypt %s: %w", k, err)
			}
			v = sealed
		}
		out[k] = v
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("marshal user data: %w", err)
	}
	return string(raw), nil
}

func (c fieldCodec) decodeUserData(sessionID, raw string) models.UserData {
	data := make(models.UserData)
	if raw == "" {
		return data
	}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		slog.Error("store.decodeUserData: JSON unmarshal failed", "error", err, "sessionID", sessionID)
		return make(models.UserData)
	}
	for k, v := range data {
		if !k.IsSensitive() || v == "" {
			continue
		}
		plain, err := c.cipher.Decrypt(v)
		if err != nil {
			slog.Error("store.decodeUserData: dropping undecryptable field", "error", err, "sessionID", sessionID, "key", k)
			delete(data, k)
			continue
		}
		data[k] = plain
	}
	return data
}

func (c fieldCodec) encodeHistory(history []models.Message) (string, error) {
	if len(history) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(history)
	if err != nil {
		return "", fmt.Errorf("marshal history: %w", err)
	}
	return c.cipher.Encrypt(string(raw))
}

func (c fieldCodec) decodeHistory(sessionID, sealed string) []models.Message {
	if sealed == "" {
		return nil
	}
	raw, err := c.cipher.Decrypt(sealed)
	if err != nil {
		slog.Error("store.decodeHistory: history unreadable, returning empty", "error", err, "sessionID", sessionID, "bad_format", errors.Is(err, crypto.ErrBadFormat))
		return nil
	}
	var history []models.Message
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		slog.Error("store.decodeHistory: JSON unmarshal failed", "error", err, "sessionID", sessionID)
		return nil
	}
	return history
}

func (c fieldCodec) encodePhone(phone string) (interface{}, error) {
	if phone == "" {
		return nil, nil
	}
	return c.cipher.Encrypt(phone)
}

func (c fieldCodec) decodePhone(leadID, sealed string) string {
	if sealed == "" {
		return ""
	}
	plain, err := c.cipher.Decrypt(sealed)
	if err != nil {
		slog.Error("store.decodePhone: lead phone unreadable", "error", err, "leadID", leadID)
		return ""
	}
	return plain
}

// sessionRow is the column form of a session.
type sessionRow struct {
	userData string
	history  string
}

func (c fieldCodec) encodeSession(s models.Session) (sessionRow, error) {
	ud, err := c.encodeUserData(s.UserData)
	if err != nil {
		return sessionRow{}, err
	}
	h, err := c.encodeHistory(s.ConversationHistory)
	if err != nil {
		return sessionRow{}, err
	}
	return sessionRow{userData: ud, history: h}, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(sc rowScanner, codec fieldCodec) (*models.Session, error) {
	var (
		sess                                      models.Session
		displayName, prevState, userData, history sql.NullString
		currentState                              string
	)
	if err := sc.Scan(&sess.ID, &sess.UserID, &displayName, &currentState, &prevState,
		&userData, &history, &sess.IsCompleted, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}
	sess.DisplayName = displayName.String
	sess.CurrentState = models.StateType(currentState)
	sess.PreviousState = models.StateType(prevState.String)
	sess.UserData = codec.decodeUserData(sess.ID, userData.String)
	sess.ConversationHistory = codec.decodeHistory(sess.ID, history.String)
	return &sess, nil
}

func scanLeads(rows *sql.Rows, codec fieldCodec) ([]models.Lead, error) {
	var leads []models.Lead
	for rows.Next() {
		var (
			l                                                     models.Lead
			displayName, major, phone, network, channel, timeslot sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.SessionID, &l.UserID, &displayName, &major, &phone,
			&network, &channel, &timeslot, &l.Qualified, &l.CreatedAt); err != nil {
			slog.Error("store.scanLeads: scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan lead row: %w", err)
		}
		l.DisplayName = displayName.String
		l.Major = major.String
		l.Phone = codec.decodePhone(l.ID, phone.String)
		l.Network = network.String
		l.Channel = channel.String
		l.Timeslot = timeslot.String
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lead rows: %w", err)
	}
	return leads, nil
}
