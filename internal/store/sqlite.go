// Package store provides storage backends for LeadPipe.
//
// This file implements an SQLite-backed store for sessions and leads.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/BTreeMap/LeadPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db    *sql.DB
	codec fieldCodec
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}
	if cfg.Cipher == nil {
		slog.Error("SQLiteStore cipher not set")
		return nil, ErrCipherRequired
	}

	dir := filepath.Dir(strings.TrimPrefix(dsn, "file:"))
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// Single writer avoids SQLITE_BUSY under concurrent session updates.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db, codec: fieldCodec{cipher: cfg.Cipher}}, nil
}

const sqliteSessionColumns = `id, user_id, display_name, current_state, previous_state, user_data, history, is_completed, created_at, updated_at`

func (s *SQLiteStore) CreateSession(ctx context.Context, sess models.Session) error {
	row, err := s.codec.encodeSession(sess)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sqliteSessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, nilIfEmpty(sess.DisplayName), string(sess.CurrentState), nilIfEmpty(string(sess.PreviousState)),
		nilIfEmpty(row.userData), nilIfEmpty(row.history), sess.IsCompleted, sess.CreatedAt.UTC(), sess.UpdatedAt.UTC())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrSessionExists
		}
		slog.Error("SQLiteStore CreateSession failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}
	slog.Debug("SQLiteStore CreateSession succeeded", "sessionID", sess.ID)
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteSessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row, s.codec)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "sessionID", id)
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return sess, nil
}

func (s *SQLiteStore) SaveSession(ctx context.Context, sess models.Session) error {
	row, err := s.codec.encodeSession(sess)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (`+sqliteSessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, nilIfEmpty(sess.DisplayName), string(sess.CurrentState), nilIfEmpty(string(sess.PreviousState)),
		nilIfEmpty(row.userData), nilIfEmpty(row.history), sess.IsCompleted, sess.CreatedAt.UTC(), sess.UpdatedAt.UTC())
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	slog.Debug("SQLiteStore SaveSession succeeded", "sessionID", sess.ID, "state", sess.CurrentState)
	return nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteSession failed", "error", err, "sessionID", id)
		return false, fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListExpiredSessions(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions WHERE is_completed = 0 AND updated_at < ? ORDER BY id`, cutoff.UTC())
	if err != nil {
		slog.Error("SQLiteStore ListExpiredSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query expired sessions: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) ListActiveSessions(ctx context.Context) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteSessionColumns+` FROM sessions WHERE is_completed = 0 ORDER BY created_at`)
	if err != nil {
		slog.Error("SQLiteStore ListActiveSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer rows.Close()
	var out []models.Session
	for rows.Next() {
		sess, err := scanSession(rows, s.codec)
		if err != nil {
			slog.Error("SQLiteStore ListActiveSessions scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		out = append(out, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	slog.Debug("SQLiteStore ListActiveSessions succeeded", "count", len(out))
	return out, nil
}

func (s *SQLiteStore) SaveLead(ctx context.Context, lead models.Lead) error {
	phone, err := s.codec.encodePhone(lead.Phone)
	if err != nil {
		return fmt.Errorf("encrypt lead phone: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO leads (id, session_id, user_id, display_name, major, phone, network, channel, timeslot, qualified, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET major = excluded.major, phone = excluded.phone, network = excluded.network,
		   channel = excluded.channel, timeslot = excluded.timeslot, qualified = excluded.qualified`,
		lead.ID, lead.SessionID, lead.UserID, nilIfEmpty(lead.DisplayName), nilIfEmpty(lead.Major), phone,
		nilIfEmpty(lead.Network), nilIfEmpty(lead.Channel), nilIfEmpty(lead.Timeslot), lead.Qualified, lead.CreatedAt.UTC())
	if err != nil {
		slog.Error("SQLiteStore SaveLead failed", "error", err, "sessionID", lead.SessionID)
		return fmt.Errorf("failed to save lead for session %s: %w", lead.SessionID, err)
	}
	slog.Debug("SQLiteStore SaveLead succeeded", "leadID", lead.ID, "qualified", lead.Qualified)
	return nil
}

func (s *SQLiteStore) GetLeads(ctx context.Context) ([]models.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, user_id, display_name, major, phone, network, channel, timeslot, qualified, created_at
		 FROM leads ORDER BY created_at`)
	if err != nil {
		slog.Error("SQLiteStore GetLeads query failed", "error", err)
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()
	return scanLeads(rows, s.codec)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
