package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/jobmato-assistant/internal/agent"
	"github.com/ashureev/jobmato-assistant/internal/catalog"
	"github.com/ashureev/jobmato-assistant/internal/classifier"
	"github.com/ashureev/jobmato-assistant/internal/config"
	"github.com/ashureev/jobmato-assistant/internal/conversation"
	"github.com/ashureev/jobmato-assistant/internal/domain"
	"github.com/ashureev/jobmato-assistant/internal/gateway"
	"github.com/ashureev/jobmato-assistant/internal/identity"
	"github.com/ashureev/jobmato-assistant/internal/realtime"
	"github.com/ashureev/jobmato-assistant/internal/session"
	"github.com/ashureev/jobmato-assistant/internal/store"
)

type stubInvoker struct {
	mu         sync.Mutex
	params     map[domain.ToolName]map[string]any
	failUpload bool
}

func (s *stubInvoker) Invoke(_ context.Context, name domain.ToolName, params map[string]any, _ domain.AuthClaims) domain.ToolInvocation {
	s.mu.Lock()
	s.params[name] = params
	fail := s.failUpload
	s.mu.Unlock()

	switch {
	case name == domain.ToolResumeUpload && fail:
		return domain.ToolInvocation{ToolName: name, Status: domain.ToolStatusError, Error: "request failed: 500"}
	case name == domain.ToolJobSearch:
		return domain.ToolInvocation{ToolName: name, Status: domain.ToolStatusOK, Result: map[string]any{
			"jobs": []any{map[string]any{"job_title": "Android Developer", "company": "Acme"}},
		}}
	default:
		return domain.ToolInvocation{ToolName: name, Status: domain.ToolStatusOK, Result: map[string]any{"success": true}}
	}
}

func (s *stubInvoker) paramsOf(name domain.ToolName) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params[name]
}

type notification struct {
	sessionID, status, filename string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) NotifyUpload(sessionID, status, filename string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{sessionID, status, filename})
	return 1
}

type testEnv struct {
	handler  *Handler
	router   chi.Router
	auth     *identity.Authenticator
	invoker  *stubInvoker
	notifier *recordingNotifier
}

func newTestEnv(t *testing.T, upload config.UploadConfig) *testEnv {
	t.Helper()
	cat := catalog.Default()
	memory := conversation.NewManager(store.NewMemoryStore(), 10)
	t.Cleanup(memory.Close)
	scheduler := realtime.NewScheduler(context.Background(), 4)
	t.Cleanup(scheduler.Close)

	env := &testEnv{
		auth:     identity.NewAuthenticator("test-secret"),
		invoker:  &stubInvoker{params: make(map[domain.ToolName]map[string]any)},
		notifier: &recordingNotifier{},
	}
	svc := agent.NewService(agent.DefaultConfig(), memory,
		classifier.NewChain(nil, classifier.NewRules(cat), time.Second, 0.6),
		agent.NewDispatcher(env.invoker, nil, cat, 4, time.Second),
		agent.NewComposer(nil, time.Second))

	env.handler = NewHandler(env.auth, session.NewRegistry(nil, time.Hour), memory, svc, scheduler, env.notifier, nil, upload)
	env.router = chi.NewRouter()
	env.handler.RegisterRoutes(env.router)
	return env
}

func (e *testEnv) token(t *testing.T, userID string, ttl time.Duration) string {
	t.Helper()
	tok, err := e.auth.Sign(domain.AuthClaims{UserID: userID}, ttl)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) ask(t *testing.T, body map[string]string, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/assistant", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return e.do(req)
}

func (e *testEnv) get(path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return e.do(req)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusOK, map[string]string{"foo": "bar"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"foo":"bar"}`, w.Body.String())

	w = httptest.NewRecorder()
	Error(w, http.StatusTeapot, "short and stout")
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.JSONEq(t, `{"error":"short and stout"}`, w.Body.String())
}

func TestAssistant(t *testing.T) {
	env := newTestEnv(t, config.UploadConfig{})
	tok := env.token(t, "u1", time.Hour)

	rec := env.ask(t, map[string]string{"message": "Android jobs in Mumbai", "token": tok}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var reply struct {
		SessionID       string                  `json:"sessionId"`
		Text            string                  `json:"text"`
		Category        domain.Category         `json:"category"`
		ToolInvocations []domain.ToolInvocation `json:"toolInvocations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.NotEmpty(t, reply.SessionID)
	assert.Equal(t, domain.CategoryJobSearch, reply.Category)
	assert.Contains(t, reply.Text, "Found 1 job opportunities")
	require.Len(t, reply.ToolInvocations, 1)
	assert.Equal(t, domain.ToolStatusOK, reply.ToolInvocations[0].Status)

	// Same session, token from the Authorization header.
	rec = env.ask(t, map[string]string{"message": "hello", "sessionId": reply.SessionID}, tok)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, reply.SessionID, decodeBody(t, rec)["sessionId"])

	rec = env.get("/sessions/"+reply.SessionID+"/history", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["messages"], 4)
}

func TestAssistantRejects(t *testing.T) {
	env := newTestEnv(t, config.UploadConfig{})
	tok := env.token(t, "u1", time.Hour)

	rec := env.ask(t, map[string]string{"message": "hi"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), identity.ReasonMissing)

	rec = env.ask(t, map[string]string{"message": "hi", "token": env.token(t, "u1", -time.Hour)}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), identity.ReasonExpired)

	rec = env.ask(t, map[string]string{"message": "   ", "token": tok}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/assistant", strings.NewReader("{"))
	assert.Equal(t, http.StatusBadRequest, env.do(req).Code)

	rec = env.ask(t, map[string]string{"message": "hi", "token": tok}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	owned := decodeBody(t, rec)["sessionId"].(string)

	rec = env.ask(t, map[string]string{"message": "hi", "sessionId": owned, "token": env.token(t, "u2", time.Hour)}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type part struct {
	field, filename string
	content         []byte
}

func uploadRequest(t *testing.T, fields map[string]string, files ...part) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		w, err := mw.CreateFormFile(f.field, f.filename)
		require.NoError(t, err)
		_, err = w.Write(f.content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/resume-upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestResumeUpload(t *testing.T) {
	env := newTestEnv(t, config.UploadConfig{})
	tok := env.token(t, "u1", time.Hour)

	rec := env.ask(t, map[string]string{"message": "hi", "token": tok}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	sessionID := decodeBody(t, rec)["sessionId"].(string)

	rec = env.do(uploadRequest(t,
		map[string]string{"token": tok, "sessionId": sessionID},
		part{"resume", "cv.pdf", []byte("%PDF-1.4 resume")}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "cv.pdf", body["filename"])

	params := env.invoker.paramsOf(domain.ToolResumeUpload)
	assert.Equal(t, "cv.pdf", params[gateway.ParamFilename])
	assert.Equal(t, "application/pdf", params[gateway.ParamContentType])
	assert.Equal(t, []byte("%PDF-1.4 resume"), params[gateway.ParamContent])
	assert.Equal(t, []notification{{sessionID, "ok", "cv.pdf"}}, env.notifier.sent)

	// Alternate field names and no session.
	rec = env.do(uploadRequest(t, map[string]string{"token": tok}, part{"file", "cv.docx", []byte("PK")}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, env.notifier.sent, 1, "uploads without a session notify nobody")
}

func TestResumeUploadRejects(t *testing.T) {
	env := newTestEnv(t, config.UploadConfig{MaxFileSize: 16, AllowedExtensions: []string{".pdf", ".doc", ".docx"}})
	tok := env.token(t, "u1", time.Hour)

	tests := []struct {
		name   string
		fields map[string]string
		files  []part
		want   int
	}{
		{"no token", nil, []part{{"resume", "cv.pdf", []byte("x")}}, http.StatusUnauthorized},
		{"no file", map[string]string{"token": tok}, nil, http.StatusBadRequest},
		{"bad extension", map[string]string{"token": tok}, []part{{"resume", "cv.exe", []byte("x")}}, http.StatusBadRequest},
		{"too large", map[string]string{"token": tok}, []part{{"resume", "cv.pdf", bytes.Repeat([]byte("x"), 17)}}, http.StatusRequestEntityTooLarge},
		{"empty", map[string]string{"token": tok}, []part{{"resume", "cv.pdf", nil}}, http.StatusBadRequest},
		{"unknown session", map[string]string{"token": tok, "session_id": "missing"}, []part{{"resume", "cv.pdf", []byte("x")}}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(uploadRequest(t, tt.fields, tt.files...))
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
	assert.Empty(t, env.notifier.sent)
}

func TestResumeUploadBackendFailure(t *testing.T) {
	env := newTestEnv(t, config.UploadConfig{})
	env.invoker.failUpload = true
	tok := env.token(t, "u1", time.Hour)

	rec := env.ask(t, map[string]string{"message": "hi", "token": tok}, "")
	sessionID := decodeBody(t, rec)["sessionId"].(string)

	rec = env.do(uploadRequest(t,
		map[string]string{"token": tok, "sessionId": sessionID},
		part{"resume", "cv.pdf", []byte("%PDF")}))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "error", decodeBody(t, rec)["status"])
	assert.Equal(t, []notification{{sessionID, "error", "cv.pdf"}}, env.notifier.sent)
}

func TestSessionRoutes(t *testing.T) {
	env := newTestEnv(t, config.UploadConfig{})
	tok := env.token(t, "u1", time.Hour)
	other := env.token(t, "u2", time.Hour)

	rec := env.ask(t, map[string]string{"message": "Android jobs in Mumbai", "token": tok}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	sessionID := decodeBody(t, rec)["sessionId"].(string)

	assert.Equal(t, http.StatusUnauthorized, env.get("/sessions", "").Code)

	rec = env.get("/sessions", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	sessions := decodeBody(t, rec)["sessions"].([]any)
	require.Len(t, sessions, 1)
	assert.Equal(t, sessionID, sessions[0].(map[string]any)["sessionId"])

	rec = env.get("/sessions", other)
	assert.Empty(t, decodeBody(t, rec)["sessions"])

	rec = env.get("/sessions/"+sessionID+"/history?limit=1", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decodeBody(t, rec)["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "assistant", msgs[0].(map[string]any)["role"])

	assert.Equal(t, http.StatusBadRequest, env.get("/sessions/"+sessionID+"/history?limit=zero", tok).Code)

	rec = env.get("/sessions/"+sessionID+"/stats", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decodeBody(t, rec)["messageCount"])

	rec = env.get("/sessions/"+sessionID+"/search?q=mumbai", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["messages"])

	rec = env.get("/sessions/"+sessionID+"/search?q=kubernetes", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decodeBody(t, rec)["messages"])

	assert.Equal(t, http.StatusBadRequest, env.get("/sessions/"+sessionID+"/search", tok).Code)
	assert.Equal(t, http.StatusNotFound, env.get("/sessions/"+sessionID+"/history", other).Code)
	assert.Equal(t, http.StatusNotFound, env.get("/sessions/nope/stats", tok).Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, config.UploadConfig{})
	env.handler.AddCheck("sessions", func(context.Context) error { return nil })

	rec := env.get("/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]any{"sessions": "ok"}, body["checks"])
	assert.Equal(t, false, body["sessionsFallback"])

	env.handler.AddCheck("messages", func(context.Context) error { return errors.New("connection refused") })
	body = decodeBody(t, env.get("/health", ""))
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "connection refused", body["checks"].(map[string]any)["messages"])
}
