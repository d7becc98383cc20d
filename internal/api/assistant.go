package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/jobmato-assistant/internal/agent"
	"github.com/ashureev/jobmato-assistant/internal/realtime"
	"github.com/ashureev/jobmato-assistant/internal/session"
)

const maxAssistantBody = 64 << 10

type assistantRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
}

type assistantResponse struct {
	SessionID string `json:"sessionId"`
	*agent.Reply
}

// Assistant answers one message without a persistent connection.
func (h *Handler) Assistant(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAssistantBody)
	var req assistantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claims, ok := h.authenticate(w, r, req.Token)
	if !ok {
		return
	}
	text, err := h.agent.Validate(req.Message)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, _, err := h.registry.GetOrCreate(r.Context(), req.SessionID, claims.UserID, claims)
	if errors.Is(err, session.ErrNotFound) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		slog.Error("Failed to resolve session", "user_id", claims.UserID, "error", err)
		Error(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}

	turn := agent.Turn{SessionID: sess.SessionID, UserID: claims.UserID, Text: text, Claims: claims}
	reply, err := h.runTurn(r.Context(), turn)
	switch {
	case err == nil:
		JSON(w, http.StatusOK, assistantResponse{SessionID: sess.SessionID, Reply: reply})
	case errors.Is(err, realtime.ErrQueueFull):
		Error(w, http.StatusTooManyRequests, "too many pending messages for this session")
	case errors.Is(err, context.Canceled):
		slog.Info("Client left before the reply", "session_id", sess.SessionID)
	default:
		slog.Error("Turn failed", "session_id", sess.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, "could not process message")
	}
}

// runTurn queues the turn behind any other turn of the same session and
// waits for it. The turn itself survives the caller leaving.
func (h *Handler) runTurn(ctx context.Context, turn agent.Turn) (*agent.Reply, error) {
	if h.scheduler == nil {
		return h.agent.Respond(ctx, turn)
	}

	type result struct {
		reply *agent.Reply
		err   error
	}
	done := make(chan result, 1)
	err := h.scheduler.Submit(turn.SessionID, func(jobCtx context.Context) {
		reply, err := h.agent.Respond(jobCtx, turn)
		done <- result{reply, err}
	})
	if err != nil {
		return nil, err
	}

	select {
	case res := <-done:
		return res.reply, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
