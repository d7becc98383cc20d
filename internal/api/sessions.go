package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/jobmato-assistant/internal/domain"
	"github.com/ashureev/jobmato-assistant/internal/identity"
	"github.com/ashureev/jobmato-assistant/internal/session"
)

const (
	maxHistoryLimit    = 500
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

type sessionView struct {
	SessionID    string    `json:"sessionId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	Connected    bool      `json:"connected"`
	Typing       bool      `json:"typing"`
}

// ListSessions returns the caller's live sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessions, err := h.registry.List(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list sessions", "user_id", userID, "error", err)
		Error(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}

	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView{
			SessionID:    s.SessionID,
			CreatedAt:    s.CreatedAt,
			LastActiveAt: s.LastActiveAt,
			Connected:    s.ConnectionID != "",
			Typing:       s.Typing,
		})
	}
	JSON(w, http.StatusOK, map[string]any{"sessions": views})
}

// ownedSession resolves {id} for the caller and writes the error response itself.
func (h *Handler) ownedSession(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	userID := identity.UserIDFromContext(r.Context())
	if _, err := h.registry.GetOwned(r.Context(), id, userID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return "", false
		}
		slog.Error("Failed to load session", "session_id", id, "error", err)
		Error(w, http.StatusServiceUnavailable, "session store unavailable")
		return "", false
	}
	return id, true
}

// queryLimit parses ?limit=. A missing value yields def; anything else must
// be a positive integer and is capped at ceiling.
func queryLimit(r *http.Request, def, ceiling int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return min(n, ceiling), true
}

// SessionHistory returns stored messages, oldest first. Without ?limit= the
// whole log is returned.
func (h *Handler) SessionHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(r, 0, maxHistoryLimit)
	if !ok {
		Error(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	msgs := []*domain.Message{}
	if limit > 0 {
		recent, err := h.memory.Recent(r.Context(), id, limit)
		if err != nil {
			slog.Error("Failed to load history", "session_id", id, "error", err)
			Error(w, http.StatusServiceUnavailable, "could not load history")
			return
		}
		msgs = append(msgs, recent...)
	} else {
		for msg, err := range h.memory.History(r.Context(), id) {
			if err != nil {
				slog.Error("Failed to load history", "session_id", id, "error", err)
				Error(w, http.StatusServiceUnavailable, "could not load history")
				return
			}
			msgs = append(msgs, msg)
		}
	}
	JSON(w, http.StatusOK, map[string]any{"sessionId": id, "messages": msgs})
}

// SessionStats summarizes a session's log.
func (h *Handler) SessionStats(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	stats, err := h.memory.Stats(r.Context(), id)
	if err != nil {
		slog.Error("Failed to load stats", "session_id", id, "error", err)
		Error(w, http.StatusServiceUnavailable, "could not load stats")
		return
	}
	JSON(w, http.StatusOK, stats)
}

// SearchSession finds messages containing ?q=.
func (h *Handler) SearchSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		Error(w, http.StatusBadRequest, "q is required")
		return
	}
	limit, ok := queryLimit(r, defaultSearchLimit, maxSearchLimit)
	if !ok {
		Error(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	found, err := h.memory.Search(r.Context(), id, query, limit)
	if err != nil {
		slog.Error("Failed to search history", "session_id", id, "error", err)
		Error(w, http.StatusServiceUnavailable, "could not search history")
		return
	}
	msgs := append([]*domain.Message{}, found...)
	JSON(w, http.StatusOK, map[string]any{"sessionId": id, "query": query, "messages": msgs})
}
