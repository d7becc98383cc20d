package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/jobmato-assistant/internal/domain"
)

// ErrClosed is returned by a MemoryStore after Close.
var ErrClosed = errors.New("memory store closed")

// MemoryStore is a process-local Repository. It has the same semantics as the
// durable stores but nothing survives a restart or is shared across instances.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	messages map[string][]*domain.Message
	nextID   int64
	closed   bool
}

var _ Repository = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
		messages: make(map[string][]*domain.Message),
	}
}

// Ping reports whether the store is open.
func (s *MemoryStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close drops all state.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*domain.Session)
	s.messages = make(map[string][]*domain.Message)
	s.closed = true
	return nil
}

func cloneSession(in *domain.Session) *domain.Session {
	out := *in
	return &out
}

// GetSession retrieves a session by ID.
func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return cloneSession(session), nil
}

// CreateSession inserts a session unless one with the same ID exists.
func (s *MemoryStore) CreateSession(_ context.Context, session *domain.Session) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if _, exists := s.sessions[session.SessionID]; exists {
		return false, nil
	}
	s.sessions[session.SessionID] = cloneSession(session)
	return true, nil
}

func (s *MemoryStore) update(sessionID string, fn func(*domain.Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	return fn(session)
}

// TouchSession advances last_active_at monotonically.
func (s *MemoryStore) TouchSession(_ context.Context, sessionID string, at time.Time) error {
	return s.update(sessionID, func(session *domain.Session) error {
		session.Touch(at)
		return nil
	})
}

// UpdateConnection sets the bound connection with optional optimistic locking.
func (s *MemoryStore) UpdateConnection(_ context.Context, sessionID, connectionID, expectedID string) error {
	return s.update(sessionID, func(session *domain.Session) error {
		if expectedID != "" && session.ConnectionID != expectedID {
			return ErrConnectionMismatch
		}
		session.ConnectionID = connectionID
		return nil
	})
}

// SetTyping updates the typing flag.
func (s *MemoryStore) SetTyping(_ context.Context, sessionID string, typing bool) error {
	return s.update(sessionID, func(session *domain.Session) error {
		session.Typing = typing
		return nil
	})
}

// DeleteSession removes a session record.
func (s *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.sessions, sessionID)
	return nil
}

// ListSessions returns a user's sessions, most recently active first.
func (s *MemoryStore) ListSessions(_ context.Context, userID string) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []*domain.Session
	for _, session := range s.sessions {
		if session.UserID == userID {
			out = append(out, cloneSession(session))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActiveAt.After(out[j].LastActiveAt)
	})
	return out, nil
}

// DeleteExpiredSessions removes sessions inactive since before.
func (s *MemoryStore) DeleteExpiredSessions(_ context.Context, before time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var ids []string
	for id, session := range s.sessions {
		if session.LastActiveAt.Before(before) {
			ids = append(ids, id)
			delete(s.sessions, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// AppendMessages appends messages to the session log.
func (s *MemoryStore) AppendMessages(_ context.Context, sessionID, _ string, msgs ...*domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, msg := range msgs {
		s.nextID++
		msg.ID = s.nextID
		stored := *msg
		s.messages[sessionID] = append(s.messages[sessionID], &stored)
	}
	return nil
}

func cloneMessages(in []*domain.Message) []*domain.Message {
	out := make([]*domain.Message, len(in))
	for i, msg := range in {
		copied := *msg
		out[i] = &copied
	}
	return out
}

// RecentMessages returns up to limit most recent messages, oldest first.
func (s *MemoryStore) RecentMessages(_ context.Context, sessionID string, limit int) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}
	log := s.messages[sessionID]
	if len(log) > limit {
		log = log[len(log)-limit:]
	}
	return cloneMessages(log), nil
}

// MessagesAfter pages through the log by message ID.
func (s *MemoryStore) MessagesAfter(_ context.Context, sessionID string, afterID int64, limit int) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	log := s.messages[sessionID]
	start := sort.Search(len(log), func(i int) bool { return log[i].ID > afterID })
	end := len(log)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return cloneMessages(log[start:end]), nil
}

// DeleteMessages removes a session's log.
func (s *MemoryStore) DeleteMessages(_ context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	n := int64(len(s.messages[sessionID]))
	delete(s.messages, sessionID)
	return n, nil
}

// SearchMessages returns messages containing query.
func (s *MemoryStore) SearchMessages(_ context.Context, sessionID, query string, limit int) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	needle := strings.ToLower(query)
	var out []*domain.Message
	for _, msg := range s.messages[sessionID] {
		if strings.Contains(strings.ToLower(msg.Text), needle) {
			copied := *msg
			out = append(out, &copied)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// SessionStats summarizes a session's log.
func (s *MemoryStore) SessionStats(_ context.Context, sessionID string) (*domain.ConversationStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	log := s.messages[sessionID]
	stats := &domain.ConversationStats{SessionID: sessionID, MessageCount: len(log)}
	if len(log) > 0 {
		stats.FirstMessage = log[0].Timestamp
		stats.LastMessage = log[len(log)-1].Timestamp
	}
	return stats, nil
}

// DeleteMessagesBefore removes messages older than before.
func (s *MemoryStore) DeleteMessagesBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	var removed int64
	for id, log := range s.messages {
		kept := log[:0]
		for _, msg := range log {
			if msg.Timestamp.Before(before) {
				removed++
				continue
			}
			kept = append(kept, msg)
		}
		if len(kept) == 0 {
			delete(s.messages, id)
		} else {
			s.messages[id] = kept
		}
	}
	return removed, nil
}
