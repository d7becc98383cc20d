// Package api provides the HTTP fallback of the assistant: stateless turns,
// résumé uploads, session inspection and health.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/jobmato-assistant/internal/agent"
	"github.com/ashureev/jobmato-assistant/internal/config"
	"github.com/ashureev/jobmato-assistant/internal/conversation"
	"github.com/ashureev/jobmato-assistant/internal/domain"
	"github.com/ashureev/jobmato-assistant/internal/identity"
	"github.com/ashureev/jobmato-assistant/internal/middleware"
	"github.com/ashureev/jobmato-assistant/internal/realtime"
	"github.com/ashureev/jobmato-assistant/internal/session"
)

// Notifier tells connected viewers about an upload. *realtime.Handler implements it.
type Notifier interface {
	NotifyUpload(sessionID, status, filename string) int
}

// Check is a named dependency probe reported by /health.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Handler serves the HTTP routes.
type Handler struct {
	auth      *identity.Authenticator
	registry  *session.Registry
	memory    *conversation.Manager
	agent     *agent.Service
	scheduler *realtime.Scheduler
	notifier  Notifier
	limiter   *middleware.RateLimiter
	upload    config.UploadConfig
	checks    []Check
}

// NewHandler creates a Handler. Turns share the realtime scheduler so a
// session never runs two turns at once, whichever transport they arrive on.
// A nil notifier or limiter disables that feature.
func NewHandler(auth *identity.Authenticator, registry *session.Registry, memory *conversation.Manager,
	svc *agent.Service, scheduler *realtime.Scheduler, notifier Notifier, limiter *middleware.RateLimiter,
	upload config.UploadConfig,
) *Handler {
	if upload.MaxFileSize <= 0 {
		upload.MaxFileSize = 10 << 20
	}
	if len(upload.AllowedExtensions) == 0 {
		upload.AllowedExtensions = []string{".pdf", ".doc", ".docx"}
	}
	return &Handler{
		auth:      auth,
		registry:  registry,
		memory:    memory,
		agent:     svc,
		scheduler: scheduler,
		notifier:  notifier,
		limiter:   limiter,
		upload:    upload,
	}
}

// AddCheck registers a dependency probe for /health.
func (h *Handler) AddCheck(name string, ping func(ctx context.Context) error) {
	h.checks = append(h.checks, Check{Name: name, Ping: ping})
}

// RegisterRoutes registers the HTTP routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		if h.limiter != nil {
			r.Use(middleware.RateLimit(h.limiter))
		}
		r.Post("/assistant", h.Assistant)
		r.Post("/resume-upload", h.ResumeUpload)
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Use(identity.Middleware(h.auth))
		r.Get("/", h.ListSessions)
		r.Get("/{id}/history", h.SessionHistory)
		r.Get("/{id}/stats", h.SessionStats)
		r.Get("/{id}/search", h.SearchSession)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// authenticate validates an explicit token, falling back to the request's
// query string or Authorization header. It writes the 401 itself.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request, token string) (domain.AuthClaims, bool) {
	if token == "" {
		token = identity.TokenFromRequest(r)
	}
	claims, err := h.auth.Authenticate(token)
	if err != nil {
		Error(w, http.StatusUnauthorized, "authentication failed: "+identity.ReasonOf(err))
		return domain.AuthClaims{}, false
	}
	return claims, true
}
