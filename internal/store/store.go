// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/jobmato-assistant/internal/domain"
)

// SessionStore persists session records.
type SessionStore interface {
	// GetSession retrieves a session by ID. It returns nil, nil when the session does not exist.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// CreateSession inserts the session unless a record with the same ID already exists.
	// created reports whether this call inserted the record.
	CreateSession(ctx context.Context, session *domain.Session) (created bool, err error)

	// TouchSession advances last_active_at. Older timestamps are ignored.
	TouchSession(ctx context.Context, sessionID string, at time.Time) error

	// UpdateConnection sets the bound connection ID.
	// If expectedID is non-empty, the update only happens when the current
	// connection matches expectedID (optimistic locking).
	UpdateConnection(ctx context.Context, sessionID, connectionID, expectedID string) error

	// SetTyping updates the typing flag.
	SetTyping(ctx context.Context, sessionID string, typing bool) error

	// DeleteSession removes a session record. Deleting a missing session is not an error.
	DeleteSession(ctx context.Context, sessionID string) error

	// ListSessions returns the sessions owned by a user, most recently active first.
	ListSessions(ctx context.Context, userID string) ([]*domain.Session, error)

	// DeleteExpiredSessions removes sessions inactive since before and returns their IDs.
	DeleteExpiredSessions(ctx context.Context, before time.Time) ([]string, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}

// MessageLog is the durable, append-only conversation log.
type MessageLog interface {
	// AppendMessages appends messages to the session log in order.
	AppendMessages(ctx context.Context, sessionID, userID string, msgs ...*domain.Message) error

	// RecentMessages returns up to limit most recent messages, oldest first.
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]*domain.Message, error)

	// MessagesAfter returns up to limit messages with ID greater than afterID, oldest first.
	MessagesAfter(ctx context.Context, sessionID string, afterID int64, limit int) ([]*domain.Message, error)

	// DeleteMessages removes the whole log of a session.
	DeleteMessages(ctx context.Context, sessionID string) (int64, error)

	// SearchMessages returns messages whose text contains query (case-insensitive), oldest first.
	SearchMessages(ctx context.Context, sessionID, query string, limit int) ([]*domain.Message, error)

	// SessionStats summarizes the session log.
	SessionStats(ctx context.Context, sessionID string) (*domain.ConversationStats, error)

	// DeleteMessagesBefore applies retention across all sessions.
	DeleteMessagesBefore(ctx context.Context, before time.Time) (int64, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}

// Repository is a store that serves both contracts.
type Repository interface {
	SessionStore
	MessageLog
}
