package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/jobmato-assistant/internal/domain"
	"github.com/ashureev/jobmato-assistant/internal/shared"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when an update targets a missing record.
	ErrNotFound = errors.New("record not found")
	// ErrConnectionMismatch is returned when an optimistic connection update loses.
	ErrConnectionMismatch = errors.New("optimistic lock failed: connection_id does not match expected_id")
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent readers; busy_timeout applies to every pooled connection.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		claims_json TEXT NOT NULL DEFAULT '{}',
		connection_id TEXT,
		typing INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		last_active_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, last_active_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active_at);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		category TEXT,
		tools_json TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
	CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// exec runs a write statement, retrying SQLite lock conflicts.
func (s *SQLiteStore) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := shared.Retry(ctx, shared.SQLiteBackoff, op, shared.IsSQLiteConflictError, func(ctx context.Context) error {
		var err error
		result, err = s.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

const sessionColumns = `session_id, user_id, claims_json, connection_id, typing, created_at, last_active_at`

func scanSession(row interface{ Scan(...any) error }) (*domain.Session, error) {
	var session domain.Session
	var claimsJSON string
	var connectionID sql.NullString
	var createdAt, lastActive int64

	if err := row.Scan(
		&session.SessionID, &session.UserID, &claimsJSON, &connectionID,
		&session.Typing, &createdAt, &lastActive,
	); err != nil {
		return nil, err
	}

	if claimsJSON != "" {
		if err := json.Unmarshal([]byte(claimsJSON), &session.Claims); err != nil {
			return nil, fmt.Errorf("decode claims: %w", err)
		}
	}
	session.ConnectionID = connectionID.String
	session.CreatedAt = time.UnixMilli(createdAt)
	session.LastActiveAt = time.UnixMilli(lastActive)
	return &session, nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
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
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) (bool, error) {
	claims, err := json.Marshal(session.Claims)
	if err != nil {
		return false, fmt.Errorf("encode claims: %w", err)
	}

	var connectionID any
	if session.ConnectionID != "" {
		connectionID = session.ConnectionID
	}

	result, err := s.exec(ctx, "insert session", `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING`,
		session.SessionID, session.UserID, string(claims), connectionID,
		session.Typing, session.CreatedAt.UnixMilli(), session.LastActiveAt.UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows == 1, nil
}

// TouchSession advances last_active_at monotonically.
func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	result, err := s.exec(ctx, "touch session",
		`UPDATE sessions SET last_active_at = MAX(last_active_at, ?) WHERE session_id = ?`,
		at.UnixMilli(), sessionID)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// UpdateConnection sets the bound connection with optional optimistic locking.
func (s *SQLiteStore) UpdateConnection(ctx context.Context, sessionID, connectionID, expectedID string) error {
	query := `UPDATE sessions SET connection_id = ? WHERE session_id = ?`
	args := []any{nil, sessionID}
	if connectionID != "" {
		args[0] = connectionID
	}
	if expectedID != "" {
		query += ` AND connection_id = ?`
		args = append(args, expectedID)
	}

	result, err := s.exec(ctx, "update connection_id", query, args...)
	if err != nil {
		return err
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
func (s *SQLiteStore) SetTyping(ctx context.Context, sessionID string, typing bool) error {
	result, err := s.exec(ctx, "set typing", `UPDATE sessions SET typing = ? WHERE session_id = ?`, typing, sessionID)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// DeleteSession removes a session record.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.exec(ctx, "delete session", `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	return err
}

// ListSessions returns a user's sessions, most recently active first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? ORDER BY last_active_at DESC`, userID)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// DeleteExpiredSessions removes sessions inactive since before.
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, before time.Time) ([]string, error) {
	threshold := before.UnixMilli()
	var ids []string

	err := shared.Retry(ctx, shared.SQLiteBackoff, "delete expired sessions", shared.IsSQLiteConflictError, func(ctx context.Context) error {
		ids = nil
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx, `SELECT session_id FROM sessions WHERE last_active_at < ?`, threshold)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				closeRows(rows)
				return err
			}
			ids = append(ids, id)
		}
		closeRows(rows)
		if err := rows.Err(); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE last_active_at < ?`, threshold); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return ids, nil
}

// AppendMessages appends messages to the session log in a single transaction.
func (s *SQLiteStore) AppendMessages(ctx context.Context, sessionID, userID string, msgs ...*domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	return shared.Retry(ctx, shared.SQLiteBackoff, "append messages", shared.IsSQLiteConflictError, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO messages (session_id, user_id, role, text, category, tools_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		ids := make([]int64, len(msgs))
		for i, msg := range msgs {
			toolsJSON, err := encodeTools(msg.ToolInvocations)
			if err != nil {
				return err
			}
			result, err := stmt.ExecContext(ctx, sessionID, userID, string(msg.Role), msg.Text,
				nullIfEmpty(string(msg.Category)), toolsJSON, msg.Timestamp.UnixMilli())
			if err != nil {
				return fmt.Errorf("insert message: %w", err)
			}
			if ids[i], err = result.LastInsertId(); err != nil {
				return fmt.Errorf("last insert id: %w", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit messages: %w", err)
		}
		for i, msg := range msgs {
			msg.ID = ids[i]
		}
		return nil
	})
}

const messageColumns = `id, role, text, category, tools_json, created_at`

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*domain.Message, error) {
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// RecentMessages returns up to limit most recent messages, oldest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	msgs, err := s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// MessagesAfter pages through the log by message ID.
func (s *SQLiteStore) MessagesAfter(ctx context.Context, sessionID string, afterID int64, limit int) ([]*domain.Message, error) {
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE session_id = ? AND id > ? ORDER BY id ASC LIMIT ?`,
		sessionID, afterID, limit)
}

// DeleteMessages removes a session's log.
func (s *SQLiteStore) DeleteMessages(ctx context.Context, sessionID string) (int64, error) {
	result, err := s.exec(ctx, "delete messages", `DELETE FROM messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// SearchMessages returns messages containing query.
func (s *SQLiteStore) SearchMessages(ctx context.Context, sessionID, query string, limit int) ([]*domain.Message, error) {
	pattern := "%" + escapeLike(query) + "%"
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE session_id = ? AND text LIKE ? ESCAPE '\' ORDER BY id ASC LIMIT ?`,
		sessionID, pattern, limit)
}

// SessionStats summarizes a session's log.
func (s *SQLiteStore) SessionStats(ctx context.Context, sessionID string) (*domain.ConversationStats, error) {
	var count int
	var first, last sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at), MAX(created_at) FROM messages WHERE session_id = ?`, sessionID,
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
func (s *SQLiteStore) DeleteMessagesBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.exec(ctx, "delete old messages", `DELETE FROM messages WHERE created_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanMessage(row interface{ Scan(...any) error }) (*domain.Message, error) {
	var msg domain.Message
	var role string
	var category, toolsJSON sql.NullString
	var createdAt int64

	if err := row.Scan(&msg.ID, &role, &msg.Text, &category, &toolsJSON, &createdAt); err != nil {
		return nil, fmt.Errorf("scan message row: %w", err)
	}
	msg.Role = domain.Role(role)
	msg.Category = domain.Category(category.String)
	msg.Timestamp = time.UnixMilli(createdAt)
	if toolsJSON.Valid && toolsJSON.String != "" {
		if err := json.Unmarshal([]byte(toolsJSON.String), &msg.ToolInvocations); err != nil {
			return nil, fmt.Errorf("decode tool invocations: %w", err)
		}
	}
	return &msg, nil
}

func encodeTools(invocations []domain.ToolInvocation) (any, error) {
	if len(invocations) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(invocations)
	if err != nil {
		return nil, fmt.Errorf("encode tool invocations: %w", err)
	}
	return string(data), nil
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func reverse(msgs []*domain.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "error", err)
	}
}
