// File: internal/server/handlers_test.go
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mailpilot/internal/automation"
	"github.com/xkilldash9x/mailpilot/internal/config"
	"github.com/xkilldash9x/mailpilot/internal/conversation"
	"github.com/xkilldash9x/mailpilot/internal/drafter"
	"github.com/xkilldash9x/mailpilot/internal/history"
	"github.com/xkilldash9x/mailpilot/internal/observability"
)

// -- Fakes --

type fakeRunner struct {
	mu       sync.Mutex
	busy     bool
	startErr error
	jobs     []automation.Job
	status   automation.Status
}

func (f *fakeRunner) Start(job automation.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.jobs = append(f.jobs, job)
	return "run-1", nil
}

func (f *fakeRunner) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

func (f *fakeRunner) Status() automation.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

type fakeDrafter struct {
	calls [][2]string
}

func (f *fakeDrafter) Draft(ctx context.Context, request, senderName string) drafter.EmailContent {
	f.calls = append(f.calls, [2]string{request, senderName})
	return drafter.EmailContent{Subject: "Internship Inquiry", Body: "Dear HR,\n\nBest regards,\n" + senderName}
}

type fakeHistory struct {
	records []history.SendRecord
	err     error
	limit   int
}

func (f *fakeHistory) Recent(ctx context.Context, limit int) ([]history.SendRecord, error) {
	f.limit = limit
	return f.records, f.err
}

type failingEngine struct{}

func (failingEngine) Handle(context.Context, string, string) (conversation.Reply, error) {
	return conversation.Reply{}, errors.New("redis: connection refused")
}

func (failingEngine) Consume(context.Context, string) (conversation.Context, error) {
	return conversation.Context{}, errors.New("unreachable")
}

func (failingEngine) Restore(context.Context, string, conversation.Context) error {
	return errors.New("unreachable")
}

// -- Harness --

type harness struct {
	router  http.Handler
	engine  *conversation.Engine
	runner  *fakeRunner
	drafter *fakeDrafter
	history *fakeHistory
	reg     *prometheus.Registry
}

func newHarness(t *testing.T, cfg config.ServerConfig) *harness {
	t.Helper()
	reg := prometheus.NewRegistry()
	h := &harness{
		engine:  conversation.NewEngine(conversation.NewMemoryStore(time.Hour, zap.NewNop()), zap.NewNop()),
		runner:  &fakeRunner{},
		drafter: &fakeDrafter{},
		history: &fakeHistory{},
		reg:     reg,
	}
	handlers := NewHandlers(zap.NewNop(), cfg, Dependencies{
		Engine:   h.engine,
		Drafter:  h.drafter,
		Runner:   h.runner,
		History:  h.history,
		Metrics:  observability.NewMetrics(reg),
		Gatherer: reg,
	})
	h.router = NewRouter(handlers, zap.NewNop())
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *harness) chat(t *testing.T, sessionID, message string) conversation.Reply {
	t.Helper()
	body, err := json.Marshal(ChatRequest{Message: message, SessionID: sessionID})
	require.NoError(t, err)
	rec := h.do(t, http.MethodPost, "/chat", string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var reply conversation.Reply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	return reply
}

// walkToPassword drives a session up to the point where the secret is asked for.
func (h *harness) walkToPassword(t *testing.T, sessionID string) {
	t.Helper()
	assert.Equal(t, conversation.ReplyGeneral, h.chat(t, sessionID, "Ada Lovelace").Type)
	assert.Equal(t, conversation.ReplyGmailRequest, h.chat(t, sessionID, "Send email to hr@acme.com about the internship").Type)
	assert.Equal(t, conversation.ReplyPasswordRequest, h.chat(t, sessionID, "ada@gmail.com").Type)
}

// -- Chat --

func TestHandleChat_Onboarding(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})

	reply := h.chat(t, "", "@")
	assert.Equal(t, conversation.ReplyUsernameRequest, reply.Type)
	assert.True(t, reply.NeedsInput)

	// The empty session id maps onto the shared default session.
	reply = h.chat(t, "default", "Ada Lovelace")
	assert.Equal(t, conversation.ReplyGeneral, reply.Type)
	assert.Contains(t, reply.Response, "Nice to meet you, Ada Lovelace!")
}

func TestHandleChat_ReadyDispatchesSend(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	h.walkToPassword(t, "s1")

	reply := h.chat(t, "s1", "hunter2")
	assert.Equal(t, conversation.ReplyReadyToSend, reply.Type)
	assert.False(t, reply.NeedsInput)
	require.NotNil(t, reply.Context)
	assert.Equal(t, "********", reply.Context.Password)
	assert.Equal(t, "hr@acme.com", reply.Context.Recipient)

	require.Len(t, h.runner.jobs, 1)
	job := h.runner.jobs[0]
	assert.Equal(t, "s1", job.SessionID)
	assert.Equal(t, "ada@gmail.com", job.Request.Login)
	assert.Equal(t, "hunter2", job.Request.Secret)
	assert.Equal(t, "hr@acme.com", job.Request.Recipient)
	assert.Equal(t, "Internship Inquiry", job.Request.Content.Subject)
	assert.Equal(t, [][2]string{{"Send email to hr@acme.com about the internship", "Ada Lovelace"}}, h.drafter.calls)

	// Consumed: the next message starts over from idle with the name kept.
	reply = h.chat(t, "s1", "thanks")
	assert.Equal(t, conversation.ReplyUsernameRequest, reply.Type)
	assert.Len(t, h.runner.jobs, 1)
}

func TestHandleChat_BusyKeepsSessionReady(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	h.walkToPassword(t, "s1")
	h.runner.busy = true

	reply := h.chat(t, "s1", "hunter2")
	assert.Equal(t, conversation.ReplyReadyToSend, reply.Type)
	assert.Equal(t, msgBusy, reply.Response)
	assert.Empty(t, h.runner.jobs)
	assert.Empty(t, h.drafter.calls)

	h.runner.busy = false
	reply = h.chat(t, "s1", "retry")
	assert.Equal(t, conversation.ReplyReadyToSend, reply.Type)
	assert.NotEqual(t, msgBusy, reply.Response)
	require.Len(t, h.runner.jobs, 1)
	assert.Equal(t, "hunter2", h.runner.jobs[0].Request.Secret)
}

func TestHandleChat_StartRejectedRestoresSession(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	h.walkToPassword(t, "s1")
	h.runner.startErr = automation.ErrBusy

	reply := h.chat(t, "s1", "hunter2")
	assert.Equal(t, msgBusy, reply.Response)

	collected, err := h.engine.Consume(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", collected.Password)
	assert.Equal(t, "ada@gmail.com", collected.Gmail)
}

func TestHandleChat_StartFailure(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	h.walkToPassword(t, "s1")
	h.runner.startErr = errors.New("runner closed")

	body := `{"message":"hunter2","session_id":"s1"}`
	rec := h.do(t, http.MethodPost, "/chat", body)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")
}

func TestHandleChat_InvalidBody(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	rec := h.do(t, http.MethodPost, "/chat", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid request body."}`, rec.Body.String())
}

func TestHandleChat_EngineError(t *testing.T) {
	handlers := NewHandlers(zap.NewNop(), config.ServerConfig{}, Dependencies{Engine: failingEngine{}, Runner: &fakeRunner{}})
	rec := httptest.NewRecorder()
	handlers.HandleChat(rec, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi"}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "redis")
}

func TestHandleChat_RateLimited(t *testing.T) {
	h := newHarness(t, config.ServerConfig{ChatRateLimit: 0.001, ChatBurst: 2})

	send := func(remoteAddr, sessionID string) int {
		req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi","session_id":"`+sessionID+`"}`))
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		h.router.ServeHTTP(rec, req)
		return rec.Code
	}

	t.Run("SameSession", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, send("198.51.100.1:4000", "s1"))
		assert.Equal(t, http.StatusOK, send("198.51.100.1:4000", "s1"))
		assert.Equal(t, http.StatusTooManyRequests, send("198.51.100.1:4000", "s1"))
	})

	t.Run("RotatingSessionIDs", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, send("198.51.100.2:4000", "rot-1"))
		assert.Equal(t, http.StatusOK, send("198.51.100.2:4001", "rot-2"))
		for i := 3; i < 20; i++ {
			assert.Equal(t, http.StatusTooManyRequests, send("198.51.100.2:4002", fmt.Sprintf("rot-%d", i)))
		}
	})

	t.Run("ForwardedAddress", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi","session_id":"fwd"}`))
		req.Header.Set("X-Real-IP", "198.51.100.1")
		rec := httptest.NewRecorder()
		h.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code, "RealIP maps the request onto the exhausted client")
	})

	t.Run("OtherClient", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, send("203.0.113.9:5000", "s1"))
	})
}

// -- Status, History, Health, Metrics --

func TestHandleStatus(t *testing.T) {
	t.Run("Running", func(t *testing.T) {
		h := newHarness(t, config.ServerConfig{})
		h.runner.status = automation.Status{Running: true, CurrentStep: automation.StepInbox, Progress: 70}

		rec := h.do(t, http.MethodGet, "/status", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"running":true,"current_step":"Gmail loaded","progress":70,"error":null}`, rec.Body.String())
	})

	t.Run("Failed", func(t *testing.T) {
		h := newHarness(t, config.ServerConfig{})
		msg := "enter password: element not found"
		h.runner.status = automation.Status{CurrentStep: automation.StepLoggedIn, Progress: 40, Error: &msg}

		rec := h.do(t, http.MethodGet, "/status", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"running":false,"current_step":"Logged in","progress":40,"error":"enter password: element not found"}`, rec.Body.String())
	})
}

func TestHandleHistory(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	h.history.records = []history.SendRecord{{ID: "r1", Recipient: "hr@acme.com", Success: true, StartedAt: started, FinishedAt: started.Add(time.Minute)}}

	rec := h.do(t, http.MethodGet, "/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultHistoryLimit, h.history.limit)

	var body struct {
		Count   int                  `json:"count"`
		Records []history.SendRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "r1", body.Records[0].ID)

	rec = h.do(t, http.MethodGet, "/history?limit=5000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxHistoryLimit, h.history.limit)

	rec = h.do(t, http.MethodGet, "/history?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h.history.err = errors.New("db down")
	rec = h.do(t, http.MethodGet, "/history", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleHistory_EmptyAndUnavailable(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	rec := h.do(t, http.MethodGet, "/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":0,"records":[]}`, rec.Body.String())

	handlers := NewHandlers(zap.NewNop(), config.ServerConfig{}, Dependencies{Runner: &fakeRunner{}})
	rec = httptest.NewRecorder()
	handlers.HandleHistory(rec, httptest.NewRequest(http.MethodGet, "/history", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	rec := h.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	h.chat(t, "s1", "@")
	rec = h.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `mailpilot_chat_turns_total{type="username_request"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t, config.ServerConfig{})
	rec := h.do(t, http.MethodOptions, "/chat", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestOperatorRoutesRequireSecretKey(t *testing.T) {
	h := newHarness(t, config.ServerConfig{SecretKey: "s3cret"})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "Missing", want: http.StatusUnauthorized},
		{name: "Wrong", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "WrongScheme", header: "Basic s3cret", want: http.StatusUnauthorized},
		{name: "Valid", header: "Bearer s3cret", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, path := range []string{"/history", "/metrics"} {
				req := httptest.NewRequest(http.MethodGet, path, nil)
				if tt.header != "" {
					req.Header.Set("Authorization", tt.header)
				}
				rec := httptest.NewRecorder()
				h.router.ServeHTTP(rec, req)
				assert.Equal(t, tt.want, rec.Code, path)
				if tt.want == http.StatusUnauthorized {
					assert.JSONEq(t, `{"error":"Unauthorized."}`, rec.Body.String())
				}
			}
		})
	}

	// Chat, status and health stay open.
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/status", "").Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/chat", `{"message":"@"}`).Code)
}
