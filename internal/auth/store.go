// Package auth issues and verifies the bearer tokens riders and
// drivers use to authenticate requests, grounded on the teacher's
// internal/auth/store.go token-map pattern and internal/storage/identity.go
// postgres persistence.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrSessionNotFound is returned by Lookup for a missing or expired token.
var ErrSessionNotFound = errors.New("auth: session not found")

// Session binds a bearer token to a user id for a bounded lifetime.
type Session struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
}

func (s Session) expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

func newToken() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Store issues, looks up, and revokes sessions.
type Store interface {
	Issue(ctx context.Context, userID int64, ttl time.Duration) (Session, error)
	Lookup(ctx context.Context, token string) (Session, error)
	Revoke(ctx context.Context, token string) error
}

// PostgresStore persists sessions to the sessions table, with an
// in-memory cache in front so hot-path auth checks on every request
// don't round-trip to the database, mirroring the teacher's split
// between InMemoryStore and the identity postgres layer.
type PostgresStore struct {
	pool *pgxpool.Pool

	mu    sync.RWMutex
	cache map[string]Session
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, cache: make(map[string]Session)}
}

func (s *PostgresStore) Issue(ctx context.Context, userID int64, ttl time.Duration) (Session, error) {
	sess := Session{Token: newToken(), UserID: userID, ExpiresAt: time.Now().Add(ttl)}
	_, err := s.pool.Exec(ctx, `
INSERT INTO sessions (token, user_id, expires_at) VALUES ($1,$2,$3)
`, sess.Token, sess.UserID, sess.ExpiresAt)
	if err != nil {
		return Session{}, err
	}
	s.mu.Lock()
	s.cache[sess.Token] = sess
	s.mu.Unlock()
	return sess, nil
}

func (s *PostgresStore) Lookup(ctx context.Context, token string) (Session, error) {
	s.mu.RLock()
	sess, ok := s.cache[token]
	s.mu.RUnlock()
	if ok {
		if sess.expired(time.Now()) {
			return Session{}, ErrSessionNotFound
		}
		return sess, nil
	}

	row := s.pool.QueryRow(ctx, `SELECT token, user_id, expires_at FROM sessions WHERE token = $1`, token)
	if err := row.Scan(&sess.Token, &sess.UserID, &sess.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, err
	}
	if sess.expired(time.Now()) {
		return Session{}, ErrSessionNotFound
	}
	s.mu.Lock()
	s.cache[token] = sess
	s.mu.Unlock()
	return sess, nil
}

func (s *PostgresStore) Revoke(ctx context.Context, token string) error {
	s.mu.Lock()
	delete(s.cache, token)
	s.mu.Unlock()
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	return err
}

// InMemoryStore is the no-database session store used by cmd/dispatchd
// when DATABASE_URL is unset, grounded on the teacher's InMemoryStore.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]Session)}
}

func (s *InMemoryStore) Issue(ctx context.Context, userID int64, ttl time.Duration) (Session, error) {
	sess := Session{Token: newToken(), UserID: userID, ExpiresAt: time.Now().Add(ttl)}
	s.mu.Lock()
	s.sessions[sess.Token] = sess
	s.mu.Unlock()
	return sess, nil
}

func (s *InMemoryStore) Lookup(ctx context.Context, token string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[token]
	if !ok || sess.expired(time.Now()) {
		return Session{}, ErrSessionNotFound
	}
	return sess, nil
}

func (s *InMemoryStore) Revoke(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}
