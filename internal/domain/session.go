// Package domain contains core domain types for the JobMato assistant.
package domain

import (
	"time"
)

// AuthClaims holds the identity extracted from a validated bearer token.
type AuthClaims struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`

	// Token is the raw credential, forwarded to external tools. Never persisted.
	Token string `json:"-"`
}

// Session is the durable identity and activity record of one conversation.
type Session struct {
	SessionID    string
	UserID       string
	CreatedAt    time.Time
	LastActiveAt time.Time
	Claims       AuthClaims
	ConnectionID string
	Typing       bool
}

// Expired reports whether the session has been inactive longer than ttl.
func (s *Session) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(s.LastActiveAt) > ttl
}

// Touch advances LastActiveAt, never moving it backwards.
func (s *Session) Touch(at time.Time) {
	if at.After(s.LastActiveAt) {
		s.LastActiveAt = at
	}
}
