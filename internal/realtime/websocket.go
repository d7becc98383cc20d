package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/lithammer/shortuuid/v4"

	"github.com/ashureev/jobmato-assistant/internal/agent"
	"github.com/ashureev/jobmato-assistant/internal/conversation"
	"github.com/ashureev/jobmato-assistant/internal/domain"
	"github.com/ashureev/jobmato-assistant/internal/identity"
	"github.com/ashureev/jobmato-assistant/internal/middleware"
	"github.com/ashureev/jobmato-assistant/internal/session"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	sendBuffer          = 32
)

// Config controls connection behavior.
type Config struct {
	PingInterval   time.Duration
	PingTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxEventBytes  int64
	OriginPatterns []string
}

// DefaultConfig returns the standard connection settings.
func DefaultConfig() Config {
	return Config{
		PingInterval:   25 * time.Second,
		PingTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxEventBytes:  64 << 10,
		OriginPatterns: []string{"*"},
	}
}

// Handler serves the realtime protocol at GET /ws.
type Handler struct {
	auth      *identity.Authenticator
	registry  *session.Registry
	memory    *conversation.Manager
	agent     *agent.Service
	hub       *Hub
	scheduler *Scheduler
	limiter   *middleware.RateLimiter
	cfg       Config
}

// NewHandler creates a protocol handler. A nil limiter disables per-session throttling.
func NewHandler(cfg Config, auth *identity.Authenticator, registry *session.Registry, memory *conversation.Manager,
	svc *agent.Service, hub *Hub, scheduler *Scheduler, limiter *middleware.RateLimiter,
) *Handler {
	d := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = d.PingInterval
	}
	if cfg.PingTimeout <= cfg.PingInterval {
		cfg.PingTimeout = max(d.PingTimeout, 2*cfg.PingInterval)
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = d.WriteTimeout
	}
	if cfg.MaxEventBytes <= 0 {
		cfg.MaxEventBytes = d.MaxEventBytes
	}
	if len(cfg.OriginPatterns) == 0 {
		cfg.OriginPatterns = d.OriginPatterns
	}
	return &Handler{
		auth:      auth,
		registry:  registry,
		memory:    memory,
		agent:     svc,
		hub:       hub,
		scheduler: scheduler,
		limiter:   limiter,
		cfg:       cfg,
	}
}

type frame struct {
	out       Outbound
	closeCode websocket.StatusCode
	closing   bool
	reason    string
}

// conn is one client connection.
type conn struct {
	id     string
	ws     *websocket.Conn
	claims domain.AuthClaims
	out    chan frame
	done   chan struct{}
	once   sync.Once

	lastSeen atomic.Int64

	mu        sync.Mutex
	state     State
	sessionID string
}

var _ Viewer = (*conn)(nil)

func (c *conn) ID() string { return c.id }

func (c *conn) Send(event string, data any) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- frame{out: Outbound{Type: event, Data: data}}:
		return true
	default:
		slog.Warn("Dropping event for slow client", "connection_id", c.id, "event", event)
		return false
	}
}

func (c *conn) Detach(reason string) {
	select {
	case c.out <- frame{closing: true, closeCode: websocket.StatusNormalClosure, reason: reason}:
	default:
		c.shutdown(websocket.StatusNormalClosure, reason)
	}
}

func (c *conn) shutdown(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		close(c.done)
		c.setState(StateClosed)
		_ = c.ws.Close(code, reason)
	})
}

func (c *conn) sendError(code, message string) {
	c.Send(EventError, ErrorPayload{Code: code, Message: message})
}

func (c *conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *conn) bound() (string, State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.state
}

func (c *conn) bind(sessionID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.sessionID
	c.sessionID = sessionID
	c.state = StateSessionBound
	return prev
}

func (c *conn) unbind() {
	c.mu.Lock()
	c.sessionID = ""
	c.state = StateAuthenticated
	c.mu.Unlock()
}

func (c *conn) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *conn) idle() time.Duration {
	return time.Since(time.Unix(0, c.lastSeen.Load()))
}

// ServeHTTP upgrades the request and runs the protocol until the client leaves.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := identity.IPFromRequest(r)
	claims, authErr := h.auth.Authenticate(identity.TokenFromRequest(r))

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.OriginPatterns,
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "ip", ip)
		return
	}
	ws.SetReadLimit(h.cfg.MaxEventBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if authErr != nil {
		reason := identity.ReasonOf(authErr)
		slog.Warn("WebSocket authentication failed", "reason", reason, "ip", ip)
		wctx, wcancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
		_ = wsjson.Write(wctx, ws, Outbound{Type: EventAuthStatus, Data: AuthStatus{OK: false, Reason: reason}})
		code := CodeInvalidToken
		if reason == identity.ReasonMissing {
			code = CodeAuthFailed
		}
		_ = wsjson.Write(wctx, ws, Outbound{Type: EventError, Data: ErrorPayload{Code: code, Message: "authentication failed: " + reason}})
		wcancel()
		_ = ws.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	c := &conn{
		id:     shortuuid.New(),
		ws:     ws,
		claims: claims,
		out:    make(chan frame, sendBuffer),
		done:   make(chan struct{}),
		state:  StateAuthenticated,
	}
	c.touch()
	slog.Info("WebSocket connected", "connection_id", c.id, "user_id", claims.UserID, "ip", ip)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.writeLoop(c)
	}()
	go func() {
		defer wg.Done()
		h.pingLoop(ctx, c)
	}()

	c.Send(EventAuthStatus, AuthStatus{OK: true})
	h.readLoop(ctx, c)

	if sessionID, _ := c.bound(); sessionID != "" {
		h.hub.Unregister(sessionID, c)
		releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := h.registry.ReleaseConnection(releaseCtx, sessionID, c.id); err != nil {
			slog.Warn("Failed to release connection", "session_id", sessionID, "error", err)
		}
		releaseCancel()
	}
	c.shutdown(websocket.StatusNormalClosure, "connection closed")
	cancel()
	wg.Wait()
	slog.Info("WebSocket disconnected", "connection_id", c.id, "user_id", claims.UserID)
}

func (h *Handler) writeLoop(c *conn) {
	for {
		select {
		case f := <-c.out:
			if f.closing {
				c.shutdown(f.closeCode, f.reason)
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), h.cfg.WriteTimeout)
			err := wsjson.Write(ctx, c.ws, f.out)
			cancel()
			if err != nil {
				slog.Debug("WebSocket write error", "connection_id", c.id, "error", err)
				c.shutdown(websocket.StatusInternalError, "write failed")
				return
			}
		case <-c.done:
			return
		}
	}
}

// pingLoop emits ping events and closes connections that stopped talking.
func (h *Handler) pingLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if c.idle() > h.cfg.PingTimeout {
				slog.Info("Closing idle connection", "connection_id", c.id, "idle", c.idle().Round(time.Second))
				c.shutdown(websocket.StatusGoingAway, "ping timeout")
				return
			}
			c.Send(EventPing, struct{}{})
		case <-ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, c *conn) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed", "connection_id", c.id)
			} else {
				slog.Debug("WebSocket read error", "connection_id", c.id, "error", err)
			}
			return
		}
		c.touch()

		if typ != websocket.MessageText {
			c.sendError(CodeProtocolError, "binary frames are not supported")
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			c.sendError(CodeProtocolError, "malformed event")
			continue
		}
		h.dispatch(ctx, c, env)
	}
}

func decode[T any](env Envelope) (T, error) {
	var v T
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return v, nil
	}
	err := json.Unmarshal(env.Data, &v)
	return v, err
}

func (h *Handler) dispatch(ctx context.Context, c *conn, env Envelope) {
	switch env.Type {
	case EventPing:
		c.Send(EventPong, struct{}{})
	case EventPong:
	case EventInitChat:
		h.initChat(ctx, c, env)
	case EventSendMessage:
		h.sendMessage(c, env)
	case EventTypingStart, EventTypingStop:
		h.typing(ctx, c, env.Type == EventTypingStart)
	case EventGetHistory:
		h.history(ctx, c, env)
	case EventClearSession:
		h.clear(ctx, c)
	default:
		c.sendError(CodeProtocolError, "unknown event "+env.Type)
	}
}

func (h *Handler) initChat(ctx context.Context, c *conn, env Envelope) {
	req, err := decode[InitChat](env)
	if err != nil {
		c.sendError(CodeProtocolError, "invalid init_chat payload")
		return
	}

	sess, resumed, err := h.registry.GetOrCreate(ctx, req.SessionID, c.claims.UserID, c.claims)
	if errors.Is(err, session.ErrNotFound) {
		c.sendError(CodeSessionNotFound, "session not found")
		return
	}
	if err != nil {
		slog.Error("Failed to create session", "user_id", c.claims.UserID, "error", err)
		c.sendError(CodeStorageError, "could not start session")
		return
	}
	if err := h.registry.BindConnection(ctx, sess.SessionID, c.id); err != nil {
		slog.Warn("Failed to bind connection", "session_id", sess.SessionID, "error", err)
	}

	if prev := c.bind(sess.SessionID); prev != "" && prev != sess.SessionID {
		h.hub.Unregister(prev, c)
	}
	h.hub.Register(sess.SessionID, c)
	c.Send(EventSessionJoined, SessionJoined{SessionID: sess.SessionID, Resumed: resumed})
	slog.Info("Session joined", "session_id", sess.SessionID, "user_id", c.claims.UserID, "resumed", resumed)
}

func (h *Handler) requireSession(c *conn) (string, bool) {
	sessionID, state := c.bound()
	if sessionID == "" || state < StateSessionBound {
		c.sendError(CodeSessionNotFound, "send init_chat first")
		return "", false
	}
	return sessionID, true
}

func (h *Handler) sendMessage(c *conn, env Envelope) {
	sessionID, ok := h.requireSession(c)
	if !ok {
		return
	}
	req, err := decode[SendMessage](env)
	if err != nil {
		c.sendError(CodeProtocolError, "invalid send_message payload")
		return
	}
	text, err := h.agent.Validate(req.Message)
	if err != nil {
		c.sendError(CodeMessageError, err.Error())
		return
	}
	if h.limiter != nil && !h.limiter.Allow(sessionID) {
		c.sendError(CodeRateLimited, "too many messages, slow down")
		return
	}

	turn := agent.Turn{SessionID: sessionID, UserID: c.claims.UserID, Text: text, Claims: c.claims}
	c.setState(StateActive)
	err = h.scheduler.Submit(sessionID, func(ctx context.Context) {
		h.runTurn(ctx, c, turn)
	})
	if err != nil {
		c.setState(StateSessionBound)
		c.sendError(CodeRateLimited, "too many pending messages for this session")
	}
}

func (h *Handler) runTurn(ctx context.Context, c *conn, turn agent.Turn) {
	if err := h.registry.Touch(ctx, turn.SessionID); err != nil {
		slog.Warn("Failed to touch session", "session_id", turn.SessionID, "error", err)
	}
	h.setTyping(ctx, turn.SessionID, true)
	h.hub.Broadcast(turn.SessionID, EventTypingStart, Typing{SessionID: turn.SessionID, Assistant: true}, nil)

	reply, err := h.agent.Respond(ctx, turn)
	if err != nil {
		slog.Error("Turn failed", "session_id", turn.SessionID, "error", err)
		c.sendError(CodeAgentError, "could not process message")
	} else if h.hub.Broadcast(turn.SessionID, EventChatResponse, reply, nil) == 0 {
		slog.Info("Reply stored but not delivered", "session_id", turn.SessionID)
	}

	h.setTyping(ctx, turn.SessionID, false)
	h.hub.Broadcast(turn.SessionID, EventTypingStop, Typing{SessionID: turn.SessionID, Assistant: true}, nil)

	if sessionID, state := c.bound(); sessionID == turn.SessionID && state == StateActive {
		c.setState(StateSessionBound)
	}
}

func (h *Handler) setTyping(ctx context.Context, sessionID string, typing bool) {
	if err := h.registry.SetTyping(ctx, sessionID, typing); err != nil && !errors.Is(err, session.ErrNotFound) {
		slog.Debug("Failed to set typing", "session_id", sessionID, "error", err)
	}
}

func (h *Handler) typing(ctx context.Context, c *conn, on bool) {
	sessionID, ok := h.requireSession(c)
	if !ok {
		return
	}
	h.setTyping(ctx, sessionID, on)
	event := EventTypingStop
	if on {
		event = EventTypingStart
	}
	h.hub.Broadcast(sessionID, event, Typing{SessionID: sessionID}, c)
}

func (h *Handler) history(ctx context.Context, c *conn, env Envelope) {
	sessionID, ok := h.requireSession(c)
	if !ok {
		return
	}
	req, err := decode[HistoryRequest](env)
	if err != nil {
		c.sendError(CodeProtocolError, "invalid get_session_history payload")
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	msgs, err := h.memory.Recent(ctx, sessionID, limit)
	if err != nil {
		slog.Error("Failed to load history", "session_id", sessionID, "error", err)
		c.sendError(CodeStorageError, "could not load history")
		return
	}
	c.Send(EventSessionHistory, SessionHistory{SessionID: sessionID, Messages: msgs})
}

func (h *Handler) clear(ctx context.Context, c *conn) {
	sessionID, ok := h.requireSession(c)
	if !ok {
		return
	}
	if _, err := h.memory.Clear(ctx, sessionID); err != nil {
		slog.Error("Failed to clear history", "session_id", sessionID, "error", err)
		c.sendError(CodeStorageError, "could not clear session")
		return
	}
	if err := h.registry.Delete(ctx, sessionID); err != nil {
		slog.Warn("Failed to delete session", "session_id", sessionID, "error", err)
	}

	h.hub.Broadcast(sessionID, EventSessionCleared, SessionCleared{SessionID: sessionID}, nil)
	h.hub.CloseSession(sessionID, "session cleared", c)
	c.unbind()
	slog.Info("Session cleared", "session_id", sessionID, "user_id", c.claims.UserID)
}

// NotifyUpload tells connected viewers about a résumé uploaded over HTTP.
func (h *Handler) NotifyUpload(sessionID, status, filename string) int {
	return h.hub.Broadcast(sessionID, EventResumeUploaded, ResumeUploaded{SessionID: sessionID, Status: status, Filename: filename}, nil)
}

// CloseSession disconnects the viewers of an expired session.
func (h *Handler) CloseSession(sessionID string) {
	h.hub.CloseSession(sessionID, "session expired", nil)
}
