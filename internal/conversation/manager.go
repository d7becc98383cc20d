// Package conversation keeps per-session message history: a bounded context
// window in memory backed by a durable message log.
package conversation

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/jobmato-assistant/internal/domain"
	"github.com/ashureev/jobmato-assistant/internal/shared"
	"github.com/ashureev/jobmato-assistant/internal/store"
)

const (
	historyPageSize = 100
	// ContextMessages is how many recent messages FormatContext renders for prompts.
	ContextMessages = 5
	maxContextChars = 200
	retryTimeout    = 30 * time.Second
)

var persistBackoff = shared.Backoff{Attempts: 3, BaseDelay: 200 * time.Millisecond}

// PersistenceError reports that messages could not be written durably. The
// messages remain in the context window and a background retry is scheduled.
type PersistenceError struct {
	SessionID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist messages for session %s: %v", e.SessionID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Manager owns the window cache and the durable log.
type Manager struct {
	log        store.MessageLog
	windowSize int
	now        func() time.Time

	mu      sync.Mutex
	windows map[string][]*domain.Message
	retries sync.WaitGroup
}

// NewManager creates a manager keeping at most windowSize messages per session in memory.
func NewManager(log store.MessageLog, windowSize int) *Manager {
	if windowSize <= 0 {
		windowSize = 10
	}
	return &Manager{
		log:        log,
		windowSize: windowSize,
		now:        time.Now,
		windows:    make(map[string][]*domain.Message),
	}
}

// Append records messages in order. A durable write failure returns a
// *PersistenceError; the window is updated either way.
func (m *Manager) Append(ctx context.Context, sessionID, userID string, msgs ...*domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	for _, msg := range msgs {
		if msg.Timestamp.IsZero() {
			msg.Timestamp = m.now()
		}
	}

	err := m.log.AppendMessages(ctx, sessionID, userID, msgs...)
	m.extendWindow(sessionID, msgs)
	if err == nil {
		return nil
	}

	slog.Warn("Failed to persist messages, scheduling retry", "session_id", sessionID, "count", len(msgs), "error", err)
	m.scheduleRetry(context.WithoutCancel(ctx), sessionID, userID, msgs)
	return &PersistenceError{SessionID: sessionID, Err: err}
}

func (m *Manager) scheduleRetry(ctx context.Context, sessionID, userID string, msgs []*domain.Message) {
	m.retries.Add(1)
	go func() {
		defer m.retries.Done()
		ctx, cancel := context.WithTimeout(ctx, retryTimeout)
		defer cancel()

		err := shared.Retry(ctx, persistBackoff, "append messages", nil, func(ctx context.Context) error {
			return m.log.AppendMessages(ctx, sessionID, userID, msgs...)
		})
		if err != nil {
			slog.Error("Messages lost after retries", "session_id", sessionID, "count", len(msgs), "error", err)
			return
		}
		slog.Info("Messages persisted on retry", "session_id", sessionID, "count", len(msgs))
	}()
}

func (m *Manager) extendWindow(sessionID string, msgs []*domain.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	window, ok := m.windows[sessionID]
	if !ok {
		return
	}
	window = append(window, msgs...)
	if len(window) > m.windowSize {
		window = append([]*domain.Message(nil), window[len(window)-m.windowSize:]...)
	}
	m.windows[sessionID] = window
}

// Window returns the most recent messages of a session, oldest first.
func (m *Manager) Window(ctx context.Context, sessionID string) ([]*domain.Message, error) {
	m.mu.Lock()
	window, ok := m.windows[sessionID]
	m.mu.Unlock()
	if ok {
		return append([]*domain.Message(nil), window...), nil
	}

	loaded, err := m.log.RecentMessages(ctx, sessionID, m.windowSize)
	if err != nil {
		return nil, fmt.Errorf("load context window: %w", err)
	}

	m.mu.Lock()
	if cached, ok := m.windows[sessionID]; ok {
		loaded = cached
	} else {
		m.windows[sessionID] = loaded
	}
	m.mu.Unlock()
	return append([]*domain.Message(nil), loaded...), nil
}

// History iterates the full durable log of a session, oldest first.
// Pages are fetched lazily; iteration can be restarted.
func (m *Manager) History(ctx context.Context, sessionID string) iter.Seq2[*domain.Message, error] {
	return func(yield func(*domain.Message, error) bool) {
		var after int64
		for {
			page, err := m.log.MessagesAfter(ctx, sessionID, after, historyPageSize)
			if err != nil {
				yield(nil, fmt.Errorf("load history page: %w", err))
				return
			}
			for _, msg := range page {
				if !yield(msg, nil) {
					return
				}
				after = msg.ID
			}
			if len(page) < historyPageSize {
				return
			}
		}
	}
}

// Recent returns the last limit messages of the durable log, oldest first.
func (m *Manager) Recent(ctx context.Context, sessionID string, limit int) ([]*domain.Message, error) {
	msgs, err := m.log.RecentMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	return msgs, nil
}

// Clear deletes the session's history and drops its window.
func (m *Manager) Clear(ctx context.Context, sessionID string) (int64, error) {
	m.Forget(sessionID)
	n, err := m.log.DeleteMessages(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return n, nil
}

// Forget drops the cached window without touching the durable log.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	delete(m.windows, sessionID)
	m.mu.Unlock()
}

// Stats summarizes a session's history.
func (m *Manager) Stats(ctx context.Context, sessionID string) (*domain.ConversationStats, error) {
	stats, err := m.log.SessionStats(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}
	return stats, nil
}

// Search finds messages containing query.
func (m *Manager) Search(ctx context.Context, sessionID, query string, limit int) ([]*domain.Message, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	msgs, err := m.log.SearchMessages(ctx, sessionID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search history: %w", err)
	}
	return msgs, nil
}

// Close waits for pending persistence retries.
func (m *Manager) Close() {
	m.retries.Wait()
}

// FormatContext renders the last n messages as "User: ..." / "Assistant: ..."
// lines, truncating each message to 200 characters. System entries are skipped.
func FormatContext(msgs []*domain.Message, n int) string {
	var conversational []*domain.Message
	for _, msg := range msgs {
		if msg.Role == domain.RoleUser || msg.Role == domain.RoleAssistant {
			conversational = append(conversational, msg)
		}
	}
	if n > 0 && len(conversational) > n {
		conversational = conversational[len(conversational)-n:]
	}

	var b strings.Builder
	for _, msg := range conversational {
		speaker := "User"
		if msg.Role == domain.RoleAssistant {
			speaker = "Assistant"
		}
		text := msg.Text
		if r := []rune(text); len(r) > maxContextChars {
			text = string(r[:maxContextChars]) + "..."
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(speaker)
		b.WriteString(": ")
		b.WriteString(text)
	}
	return b.String()
}
