// Package store provides storage backends for LeadPipe.
//
// This file implements a PostgreSQL-backed store for sessions and leads.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db    *sql.DB
	codec fieldCodec
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}
	if cfg.Cipher == nil {
		slog.Error("PostgresStore cipher not set")
		return nil, ErrCipherRequired
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db, codec: fieldCodec{cipher: cfg.Cipher}}, nil
}

const postgresSessionColumns = `id, user_id, display_name, current_state, previous_state, user_data, history, is_completed, created_at, updated_at`

func (s *PostgresStore) CreateSession(ctx context.Context, sess models.Session) error {
	row, err := s.codec.encodeSession(sess)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+postgresSessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sess.ID, sess.UserID, nilIfEmpty(sess.DisplayName), string(sess.CurrentState), nilIfEmpty(string(sess.PreviousState)),
		nilIfEmpty(row.userData), nilIfEmpty(row.history), sess.IsCompleted, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrSessionExists
		}
		slog.Error("PostgresStore CreateSession failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}
	slog.Debug("PostgresStore CreateSession succeeded", "sessionID", sess.ID)
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postgresSessionColumns+` FROM sessions WHERE id = $1`, id)
	sess, err := scanSession(row, s.codec)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "sessionID", id)
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return sess, nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, sess models.Session) error {
	row, err := s.codec.encodeSession(sess)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+postgresSessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   user_id = EXCLUDED.user_id,
		   display_name = EXCLUDED.display_name,
		   current_state = EXCLUDED.current_state,
		   previous_state = EXCLUDED.previous_state,
		   user_data = EXCLUDED.user_data,
		   history = EXCLUDED.history,
		   is_completed = EXCLUDED.is_completed,
		   updated_at = EXCLUDED.updated_at`,
		sess.ID, sess.UserID, nilIfEmpty(sess.DisplayName), string(sess.CurrentState), nilIfEmpty(string(sess.PreviousState)),
		nilIfEmpty(row.userData), nilIfEmpty(row.history), sess.IsCompleted, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "sessionID", sess.ID)
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	slog.Debug("PostgresStore SaveSession succeeded", "sessionID", sess.ID, "state", sess.CurrentState)
	return nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteSession failed", "error", err, "sessionID", id)
		return false, fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) ListExpiredSessions(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions WHERE is_completed = FALSE AND updated_at < $1 ORDER BY id`, cutoff)
	if err != nil {
		slog.Error("PostgresStore ListExpiredSessions query failed", "error", err)
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

func (s *PostgresStore) ListActiveSessions(ctx context.Context) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+postgresSessionColumns+` FROM sessions WHERE is_completed = FALSE ORDER BY created_at`)
	if err != nil {
		slog.Error("PostgresStore ListActiveSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer rows.Close()
	var out []models.Session
	for rows.Next() {
		sess, err := scanSession(rows, s.codec)
		if err != nil {
			slog.Error("PostgresStore ListActiveSessions scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		out = append(out, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	slog.Debug("PostgresStore ListActiveSessions succeeded", "count", len(out))
	return out, nil
}

func (s *PostgresStore) SaveLead(ctx context.Context, lead models.Lead) error {
	phone, err := s.codec.encodePhone(lead.Phone)
	if err != nil {
		return fmt.Errorf("encrypt lead phone: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO leads (id, session_id, user_id, display_name, major, phone, network, channel, timeslot, qualified, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (session_id) DO UPDATE SET
		   major = EXCLUDED.major,
		   phone = EXCLUDED.phone,
		   network = EXCLUDED.network,
		   channel = EXCLUDED.channel,
		   timeslot = EXCLUDED.timeslot,
		   qualified = EXCLUDED.qualified`,
		lead.ID, lead.SessionID, lead.UserID, nilIfEmpty(lead.DisplayName), nilIfEmpty(lead.Major), phone,
		nilIfEmpty(lead.Network), nilIfEmpty(lead.Channel), nilIfEmpty(lead.Timeslot), lead.Qualified, lead.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveLead failed", "error", err, "sessionID", lead.SessionID)
		return fmt.Errorf("failed to save lead for session %s: %w", lead.SessionID, err)
	}
	slog.Debug("PostgresStore SaveLead succeeded", "leadID", lead.ID, "qualified", lead.Qualified)
	return nil
}

func (s *PostgresStore) GetLeads(ctx context.Context) ([]models.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, user_id, display_name, major, phone, network, channel, timeslot, qualified, created_at
		 FROM leads ORDER BY created_at`)
	if err != nil {
		slog.Error("PostgresStore GetLeads query failed", "error", err)
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()
	return scanLeads(rows, s.codec)
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	return s.db.Close()
}
