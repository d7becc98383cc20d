package realtime

import (
	"log/slog"
	"sync"
)

// Viewer is one connection watching a session.
type Viewer interface {
	ID() string
	// Send queues an event without blocking; false means it was dropped.
	Send(event string, data any) bool
	// Detach closes the viewer after its queued events have been written.
	Detach(reason string)
}

// Hub tracks the viewers of each session.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]Viewer
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{active: make(map[string]map[string]Viewer)}
}

// Register adds a viewer to a session.
func (h *Hub) Register(sessionID string, v Viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.active[sessionID]; !ok {
		h.active[sessionID] = make(map[string]Viewer)
	}
	h.active[sessionID][v.ID()] = v
	slog.Debug("Viewer registered", "session_id", sessionID, "connection_id", v.ID())
}

// Unregister removes a viewer if it is still registered.
func (h *Hub) Unregister(sessionID string, v Viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	viewers, ok := h.active[sessionID]
	if !ok {
		return
	}
	if current, exists := viewers[v.ID()]; exists && current == v {
		delete(viewers, v.ID())
		if len(viewers) == 0 {
			delete(h.active, sessionID)
		}
		slog.Debug("Viewer unregistered", "session_id", sessionID, "connection_id", v.ID())
	}
}

// Viewers returns the number of viewers of a session.
func (h *Hub) Viewers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[sessionID])
}

// Broadcast sends an event to every viewer of a session except skip, and
// returns how many viewers accepted it.
func (h *Hub) Broadcast(sessionID, event string, data any, skip Viewer) int {
	h.mu.RLock()
	targets := make([]Viewer, 0, len(h.active[sessionID]))
	for _, v := range h.active[sessionID] {
		if v != skip {
			targets = append(targets, v)
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, v := range targets {
		if v.Send(event, data) {
			sent++
		}
	}
	return sent
}

// CloseSession detaches every viewer of a session except keep.
func (h *Hub) CloseSession(sessionID, reason string, keep Viewer) {
	h.mu.Lock()
	viewers := h.active[sessionID]
	delete(h.active, sessionID)
	h.mu.Unlock()

	for id, v := range viewers {
		if v == keep {
			continue
		}
		v.Detach(reason)
		slog.Info("Viewer closed", "session_id", sessionID, "connection_id", id, "reason", reason)
	}
}
