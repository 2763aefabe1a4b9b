// Package store provides storage backends for LeadPipe.
//
// It defines the keyed session/lead store used by the conversation engine and
// provides in-memory, SQLite and PostgreSQL implementations.
package store

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/crypto"
	"github.com/BTreeMap/LeadPipe/internal/models"
)

var (
	// ErrSessionExists is returned when creating a session whose ID is taken.
	ErrSessionExists = errors.New("session already exists")
	// ErrCipherRequired is returned when a persistent store is opened without encryption.
	ErrCipherRequired = errors.New("persistent store requires an encryption cipher")
)

// Store is the keyed entity store behind the session manager.
// Implementations must not leak a query language to callers.
type Store interface {
	// CreateSession inserts a new session; ErrSessionExists if the ID is taken.
	CreateSession(ctx context.Context, s models.Session) error
	// GetSession returns the session or nil when absent.
	GetSession(ctx context.Context, id string) (*models.Session, error)
	// SaveSession replaces the stored record for s.ID.
	SaveSession(ctx context.Context, s models.Session) error
	// DeleteSession removes a session and reports whether it existed.
	DeleteSession(ctx context.Context, id string) (bool, error)
	// ListExpiredSessions returns IDs of incomplete sessions last updated before cutoff.
	ListExpiredSessions(ctx context.Context, cutoff time.Time) ([]string, error)
	// ListActiveSessions returns all incomplete sessions.
	ListActiveSessions(ctx context.Context) ([]models.Session, error)
	// SaveLead stores a lead; one lead per session.
	SaveLead(ctx context.Context, lead models.Lead) error
	// GetLeads returns all leads, oldest first.
	GetLeads(ctx context.Context) ([]models.Lead, error)
	// Close releases resources.
	Close() error
}

// Opts holds configuration for store constructors.
type Opts struct {
	DSN    string
	Cipher *crypto.Cipher
}

// Option defines a configuration option for stores.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithCipher sets the field cipher used for personal data at rest.
func WithCipher(c *crypto.Cipher) Option {
	return func(o *Opts) { o.Cipher = c }
}

// New opens the store selected by the DSN: PostgreSQL, SQLite, or in-memory when empty.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		slog.Info("store.New: no DSN configured, using in-memory store")
		return NewInMemoryStore(), nil
	case DetectDSNType(cfg.DSN) == "postgres":
		return NewPostgresStore(opts...)
	default:
		return NewSQLiteStore(opts...)
	}
}

// InMemoryStore keeps sessions and leads in process memory.
// Suitable for tests and single-process development.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
	leads    []models.Lead
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]models.Session)}
}

func (s *InMemoryStore) CreateSession(ctx context.Context, sess models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return ErrSessionExists
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *InMemoryStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	c := sess.Clone()
	return &c, nil
}

func (s *InMemoryStore) SaveSession(ctx context.Context, sess models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *InMemoryStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok, nil
}

func (s *InMemoryStore) ListExpiredSessions(ctx context.Context, cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, sess := range s.sessions {
		if !sess.IsCompleted && sess.UpdatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *InMemoryStore) ListActiveSessions(ctx context.Context) ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Session
	for _, sess := range s.sessions {
		if !sess.IsCompleted {
			out = append(out, sess.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) SaveLead(ctx context.Context, lead models.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.leads {
		if l.SessionID == lead.SessionID {
			s.leads[i] = lead
			return nil
		}
	}
	s.leads = append(s.leads, lead)
	return nil
}

func (s *InMemoryStore) GetLeads(ctx context.Context) ([]models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Lead(nil), s.leads...), nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
