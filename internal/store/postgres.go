package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/jobmato-assistant/internal/domain"
	_ "github.com/lib/pq"
)

// PostgresStore implements Repository on PostgreSQL so several instances
// can share sessions and conversation logs.
type PostgresStore struct {
	db *sql.DB
}

var _ Repository = (*PostgresStore)(nil)

// NewPostgres opens a PostgreSQL connection and ensures the schema exists.
func NewPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

// EnsureSchema creates the tables and indexes when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id     TEXT    PRIMARY KEY,
			user_id        TEXT    NOT NULL,
			claims_json    TEXT    NOT NULL DEFAULT '{}',
			connection_id  TEXT,
			typing         BOOLEAN NOT NULL DEFAULT FALSE,
			created_at     BIGINT  NOT NULL,
			last_active_at BIGINT  NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, last_active_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id         BIGSERIAL PRIMARY KEY,
			session_id TEXT   NOT NULL,
			user_id    TEXT   NOT NULL,
			role       TEXT   NOT NULL,
			text       TEXT   NOT NULL,
			category   TEXT,
			tools_json TEXT,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return session, nil
}

// CreateSession inserts a session unless one with the same ID exists.
func (s *PostgresStore) CreateSession(ctx context.Context, session *domain.Session) (bool, error) {
	claims, err := json.Marshal(session.Claims)
	if err != nil {
		return false, fmt.Errorf("encode claims: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO NOTHING`,
		session.SessionID, session.UserID, string(claims), nullIfEmpty(session.ConnectionID),
		session.Typing, session.CreatedAt.UnixMilli(), session.LastActiveAt.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("insert session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows == 1, nil
}

// TouchSession advances last_active_at monotonically.
func (s *PostgresStore) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_active_at = GREATEST(last_active_at, $1) WHERE session_id = $2`,
		at.UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return requireRow(result)
}

// UpdateConnection sets the bound connection with optional optimistic locking.
func (s *PostgresStore) UpdateConnection(ctx context.Context, sessionID, connectionID, expectedID string) error {
	query := `UPDATE sessions SET connection_id = $1 WHERE session_id = $2`
	args := []any{nullIfEmpty(connectionID), sessionID}
	if expectedID != "" {
		query += ` AND connection_id = $3`
		args = append(args, expectedID)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update connection_id: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		if expectedID != "" {
			return ErrConnectionMismatch
		}
		return ErrNotFound
	}
	return nil
}

// SetTyping updates the typing flag.
func (s *PostgresStore) SetTyping(ctx context.Context, sessionID string, typing bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE sessions SET typing = $1 WHERE session_id = $2`, typing, sessionID)
	if err != nil {
		return fmt.Errorf("set typing: %w", err)
	}
	return requireRow(result)
}

// DeleteSession removes a session record.
func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ListSessions returns a user's sessions, most recently active first.
func (s *PostgresStore) ListSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 ORDER BY last_active_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer closeRows(rows)

	var sessions []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// DeleteExpiredSessions removes sessions inactive since before.
func (s *PostgresStore) DeleteExpiredSessions(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM sessions WHERE last_active_at < $1 RETURNING session_id`, before.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	defer closeRows(rows)

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AppendMessages appends messages to the session log in a single transaction.
func (s *PostgresStore) AppendMessages(ctx context.Context, sessionID, userID string, msgs ...*domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ids := make([]int64, len(msgs))
	for i, msg := range msgs {
		toolsJSON, err := encodeTools(msg.ToolInvocations)
		if err != nil {
			return err
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO messages (session_id, user_id, role, text, category, tools_json, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			sessionID, userID, string(msg.Role), msg.Text,
			nullIfEmpty(string(msg.Category)), toolsJSON, msg.Timestamp.UnixMilli(),
		).Scan(&ids[i])
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit messages: %w", err)
	}
	for i, msg := range msgs {
		msg.ID = ids[i]
	}
	return nil
}

func (s *PostgresStore) queryMessages(ctx context.Context, query string, args ...any) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer closeRows(rows)

	var msgs []*domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// RecentMessages returns up to limit most recent messages, oldest first.
func (s *PostgresStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	msgs, err := s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE session_id = $1 ORDER BY id DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// MessagesAfter pages through the log by message ID.
func (s *PostgresStore) MessagesAfter(ctx context.Context, sessionID string, afterID int64, limit int) ([]*domain.Message, error) {
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE session_id = $1 AND id > $2 ORDER BY id ASC LIMIT $3`,
		sessionID, afterID, limit)
}

// DeleteMessages removes a session's log.
func (s *PostgresStore) DeleteMessages(ctx context.Context, sessionID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return result.RowsAffected()
}

// SearchMessages returns messages containing query.
func (s *PostgresStore) SearchMessages(ctx context.Context, sessionID, query string, limit int) ([]*domain.Message, error) {
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE session_id = $1 AND text ILIKE $2 ESCAPE '\' ORDER BY id ASC LIMIT $3`,
		sessionID, "%"+escapeLike(query)+"%", limit)
}

// SessionStats summarizes a session's log.
func (s *PostgresStore) SessionStats(ctx context.Context, sessionID string) (*domain.ConversationStats, error) {
	var count int
	var first, last sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at), MAX(created_at) FROM messages WHERE session_id = $1`, sessionID,
	).Scan(&count, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}

	stats := &domain.ConversationStats{SessionID: sessionID, MessageCount: count}
	if first.Valid {
		stats.FirstMessage = time.UnixMilli(first.Int64)
	}
	if last.Valid {
		stats.LastMessage = time.UnixMilli(last.Int64)
	}
	return stats, nil
}

// DeleteMessagesBefore removes messages older than before.
func (s *PostgresStore) DeleteMessagesBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < $1`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete old messages: %w", err)
	}
	return result.RowsAffected()
}
