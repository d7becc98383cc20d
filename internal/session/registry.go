// Package session tracks conversation sessions, their owners and their live connection.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ashureev/jobmato-assistant/internal/domain"
	"github.com/ashureev/jobmato-assistant/internal/store"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ErrNotFound is returned for missing, expired, or foreign sessions.
var ErrNotFound = errors.New("session not found")

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// ValidID reports whether id can be used as a session identifier.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Registry resolves sessions against a primary store and falls back to an
// in-memory store when the primary is unavailable.
type Registry struct {
	primary  store.SessionStore
	fallback *store.MemoryStore
	ttl      time.Duration
	now      func() time.Time
	group    singleflight.Group
	degraded atomic.Bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithFallback sets the store used while the primary is failing.
func WithFallback(m *store.MemoryStore) Option {
	return func(r *Registry) { r.fallback = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a registry. A zero ttl disables expiry.
func NewRegistry(primary store.SessionStore, ttl time.Duration, opts ...Option) *Registry {
	r := &Registry{primary: primary, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if r.primary == nil {
		if r.fallback == nil {
			r.fallback = store.NewMemoryStore()
		}
		r.primary = r.fallback
	}
	return r
}

// Degraded reports whether the last primary store call failed.
func (r *Registry) Degraded() bool {
	return r.degraded.Load()
}

func (r *Registry) hasFallback() bool {
	return r.fallback != nil && store.SessionStore(r.fallback) != r.primary
}

func (r *Registry) markDegraded(op string, err error) {
	if !r.degraded.Swap(true) {
		slog.Warn("Session store unavailable, using in-memory fallback", "op", op, "error", err)
	}
}

func (r *Registry) markHealthy() {
	if r.degraded.Swap(false) {
		slog.Info("Session store recovered")
	}
}

// load reads a session from the primary, then the fallback.
func (r *Registry) load(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := r.primary.GetSession(ctx, sessionID)
	if err != nil {
		if !r.hasFallback() {
			return nil, fmt.Errorf("get session: %w", err)
		}
		r.markDegraded("get", err)
	} else {
		r.markHealthy()
	}
	if session != nil || !r.hasFallback() {
		return session, nil
	}
	session, err = r.fallback.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session from fallback: %w", err)
	}
	return session, nil
}

// write applies fn to the primary. Records the primary does not have are
// looked up in the fallback.
func (r *Registry) write(op string, fn func(store.SessionStore) error) error {
	err := fn(r.primary)
	switch {
	case err == nil:
		r.markHealthy()
		return nil
	case errors.Is(err, store.ErrConnectionMismatch):
		return err
	case errors.Is(err, store.ErrNotFound):
		if r.hasFallback() {
			return fn(r.fallback)
		}
		return err
	}
	if !r.hasFallback() {
		return fmt.Errorf("%s: %w", op, err)
	}
	r.markDegraded(op, err)
	return fn(r.fallback)
}

func (r *Registry) create(ctx context.Context, session *domain.Session) (bool, error) {
	created, err := r.primary.CreateSession(ctx, session)
	if err == nil {
		r.markHealthy()
		return created, nil
	}
	if !r.hasFallback() {
		return false, fmt.Errorf("create session: %w", err)
	}
	r.markDegraded("create", err)
	return r.fallback.CreateSession(ctx, session)
}

func (r *Registry) remove(ctx context.Context, sessionID string) error {
	err := r.primary.DeleteSession(ctx, sessionID)
	if r.hasFallback() {
		if ferr := r.fallback.DeleteSession(ctx, sessionID); ferr != nil && err == nil {
			err = ferr
		}
	}
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

type lookup struct {
	session *domain.Session
	resumed bool
}

// GetOrCreate resumes the caller's session or creates it. An empty or invalid
// sessionID gets a fresh one. Concurrent calls for the same ID produce one record.
func (r *Registry) GetOrCreate(ctx context.Context, sessionID, userID string, claims domain.AuthClaims) (*domain.Session, bool, error) {
	if !ValidID(sessionID) {
		sessionID = uuid.NewString()
	}

	v, err, _ := r.group.Do(sessionID, func() (any, error) {
		return r.getOrCreate(ctx, sessionID, userID, claims)
	})
	if err != nil {
		return nil, false, err
	}

	res := v.(lookup)
	if res.session.UserID != userID {
		return nil, false, ErrNotFound
	}
	session := *res.session
	session.Claims = claims
	return &session, res.resumed, nil
}

func (r *Registry) getOrCreate(ctx context.Context, sessionID, userID string, claims domain.AuthClaims) (lookup, error) {
	now := r.now()

	existing, err := r.load(ctx, sessionID)
	if err != nil {
		return lookup{}, err
	}
	if existing != nil && existing.Expired(now, r.ttl) {
		slog.Debug("Removing expired session", "session_id", sessionID)
		if err := r.remove(ctx, sessionID); err != nil {
			return lookup{}, err
		}
		existing = nil
	}
	if existing != nil {
		if existing.UserID == userID {
			if err := r.touch(ctx, sessionID, now); err != nil {
				return lookup{}, err
			}
			existing.Touch(now)
		}
		return lookup{session: existing, resumed: true}, nil
	}

	session := &domain.Session{
		SessionID:    sessionID,
		UserID:       userID,
		CreatedAt:    now,
		LastActiveAt: now,
		Claims:       claims,
	}
	created, err := r.create(ctx, session)
	if err != nil {
		return lookup{}, err
	}
	if created {
		slog.Info("Session created", "session_id", sessionID, "user_id", userID)
		return lookup{session: session}, nil
	}

	// Another instance inserted the record between our read and insert.
	existing, err = r.load(ctx, sessionID)
	if err != nil {
		return lookup{}, err
	}
	if existing == nil {
		return lookup{}, fmt.Errorf("session %s vanished after concurrent insert", sessionID)
	}
	return lookup{session: existing, resumed: true}, nil
}

// Get returns a live session owned by anyone.
func (r *Registry) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := r.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNotFound
	}
	if session.Expired(r.now(), r.ttl) {
		if err := r.remove(ctx, sessionID); err != nil {
			slog.Warn("Failed to remove expired session", "session_id", sessionID, "error", err)
		}
		return nil, ErrNotFound
	}
	return session, nil
}

// GetOwned returns a live session only if userID owns it.
func (r *Registry) GetOwned(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	session, err := r.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, ErrNotFound
	}
	return session, nil
}

func (r *Registry) touch(ctx context.Context, sessionID string, at time.Time) error {
	return r.write("touch session", func(s store.SessionStore) error {
		return s.TouchSession(ctx, sessionID, at)
	})
}

// Touch marks the session active now.
func (r *Registry) Touch(ctx context.Context, sessionID string) error {
	err := r.touch(ctx, sessionID, r.now())
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// BindConnection records the connection currently serving the session.
func (r *Registry) BindConnection(ctx context.Context, sessionID, connectionID string) error {
	err := r.write("bind connection", func(s store.SessionStore) error {
		return s.UpdateConnection(ctx, sessionID, connectionID, "")
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// ReleaseConnection clears the binding if connectionID still holds it.
func (r *Registry) ReleaseConnection(ctx context.Context, sessionID, connectionID string) error {
	err := r.write("release connection", func(s store.SessionStore) error {
		return s.UpdateConnection(ctx, sessionID, "", connectionID)
	})
	if errors.Is(err, store.ErrConnectionMismatch) || errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// SetTyping updates the typing indicator of a session.
func (r *Registry) SetTyping(ctx context.Context, sessionID string, typing bool) error {
	err := r.write("set typing", func(s store.SessionStore) error {
		return s.SetTyping(ctx, sessionID, typing)
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// Delete removes a session. Deleting a missing session is not an error.
func (r *Registry) Delete(ctx context.Context, sessionID string) error {
	return r.remove(ctx, sessionID)
}

// List returns the live sessions of a user, most recently active first.
func (r *Registry) List(ctx context.Context, userID string) ([]*domain.Session, error) {
	sessions, err := r.primary.ListSessions(ctx, userID)
	if err != nil {
		if !r.hasFallback() {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		r.markDegraded("list", err)
	}

	if r.hasFallback() {
		extra, ferr := r.fallback.ListSessions(ctx, userID)
		if ferr != nil {
			return nil, fmt.Errorf("list fallback sessions: %w", ferr)
		}
		seen := make(map[string]bool, len(sessions))
		for _, s := range sessions {
			seen[s.SessionID] = true
		}
		for _, s := range extra {
			if !seen[s.SessionID] {
				sessions = append(sessions, s)
			}
		}
	}

	now := r.now()
	live := sessions[:0]
	for _, s := range sessions {
		if !s.Expired(now, r.ttl) {
			live = append(live, s)
		}
	}
	sort.SliceStable(live, func(i, j int) bool {
		return live[i].LastActiveAt.After(live[j].LastActiveAt)
	})
	return live, nil
}

// Sweep deletes every expired session and returns their IDs.
func (r *Registry) Sweep(ctx context.Context) ([]string, error) {
	if r.ttl <= 0 {
		return nil, nil
	}
	before := r.now().Add(-r.ttl)

	ids, err := r.primary.DeleteExpiredSessions(ctx, before)
	if err != nil {
		if !r.hasFallback() {
			return nil, fmt.Errorf("sweep sessions: %w", err)
		}
		r.markDegraded("sweep", err)
	}
	if r.hasFallback() {
		extra, ferr := r.fallback.DeleteExpiredSessions(ctx, before)
		if ferr != nil {
			return ids, fmt.Errorf("sweep fallback sessions: %w", ferr)
		}
		ids = append(ids, extra...)
	}
	return ids, nil
}
