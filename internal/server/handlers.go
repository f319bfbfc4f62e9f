// File: internal/server/handlers.go
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mailpilot/internal/automation"
	"github.com/xkilldash9x/mailpilot/internal/config"
	"github.com/xkilldash9x/mailpilot/internal/conversation"
	"github.com/xkilldash9x/mailpilot/internal/drafter"
	"github.com/xkilldash9x/mailpilot/internal/history"
	"github.com/xkilldash9x/mailpilot/internal/observability"
)

const (
	defaultSessionID = "default"

	defaultHistoryLimit = 20
	maxHistoryLimit     = 100

	// Request bodies are a single chat line.
	maxChatBody = 64 << 10

	msgBusy = "Another email is being sent right now. Your details are saved; send any message once it finishes to try again."
)

// ChatEngine advances conversations and hands out ready contexts.
type ChatEngine interface {
	Handle(ctx context.Context, sessionID, message string) (conversation.Reply, error)
	Consume(ctx context.Context, sessionID string) (conversation.Context, error)
	Restore(ctx context.Context, sessionID string, c conversation.Context) error
}

// Drafter writes the email for a send request.
type Drafter interface {
	Draft(ctx context.Context, request, senderName string) drafter.EmailContent
}

// Automation is the background send runner.
type Automation interface {
	Start(job automation.Job) (string, error)
	Busy() bool
	Status() automation.Status
}

// HistoryReader lists recent send attempts.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.SendRecord, error)
}

// Dependencies are the collaborators behind the HTTP surface. History, Hub,
// Metrics and Gatherer are optional.
type Dependencies struct {
	Engine   ChatEngine
	Drafter  Drafter
	Runner   Automation
	History  HistoryReader
	Hub      http.Handler
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// Handlers serves the chat API.
type Handlers struct {
	log       *zap.Logger
	deps      Dependencies
	limiter   *clientLimiter
	secretKey string
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(logger *zap.Logger, cfg config.ServerConfig, deps Dependencies) *Handlers {
	return &Handlers{
		log:       logger.Named("http"),
		deps:      deps,
		limiter:   newClientLimiter(cfg.ChatRateLimit, cfg.ChatBurst),
		secretKey: cfg.SecretKey,
	}
}

// RegisterRoutes mounts the HTTP routes on r. The websocket route is mounted
// separately by NewRouter so it skips request logging.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)
	r.Post("/chat", h.HandleChat)
	r.Get("/status", h.HandleStatus)

	// Operator routes require the secret key as a bearer token when one is set.
	r.Group(func(r chi.Router) {
		r.Use(requireBearer(h.secretKey, h.log))
		r.Get("/history", h.HandleHistory)
		if h.deps.Gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{}))
		}
	})
}

func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// HandleChat advances the caller's session by one message. A ready session is
// consumed, drafted and handed to the runner in the same turn.
func (h *Handlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if req.SessionID == "" {
		req.SessionID = defaultSessionID
	}

	// Buckets follow the caller's address; session ids are chosen by the caller.
	if client := clientKey(r); !h.limiter.Allow(client) {
		h.log.Debug("Chat turn rate limited.", zap.String("client", client), zap.String("session_id", req.SessionID))
		h.respondWithError(w, http.StatusTooManyRequests, "Too many messages, slow down.")
		return
	}

	reply, err := h.deps.Engine.Handle(r.Context(), req.SessionID, req.Message)
	if err != nil {
		h.log.Error("Failed to handle chat message.", zap.String("session_id", req.SessionID), zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, "Internal error handling chat message.")
		return
	}

	if reply.Type == conversation.ReplyReadyToSend {
		if err := h.dispatch(r.Context(), req.SessionID, &reply); err != nil {
			h.log.Error("Failed to dispatch send.", zap.String("session_id", req.SessionID), zap.Error(err))
			h.respondWithError(w, http.StatusInternalServerError, "Internal error starting the send.")
			return
		}
	}

	h.deps.Metrics.ObserveChatTurn(string(reply.Type))
	h.respondWithJSON(w, http.StatusOK, reply)
}

// dispatch turns a ready session into a background run. While the runner is
// busy the session stays ready and the reply says so.
func (h *Handlers) dispatch(ctx context.Context, sessionID string, reply *conversation.Reply) error {
	if h.deps.Runner.Busy() {
		reply.Response = msgBusy
		return nil
	}

	collected, err := h.deps.Engine.Consume(ctx, sessionID)
	if errors.Is(err, conversation.ErrSessionNotReady) {
		// Another request on the same session got there first.
		h.log.Info("Session already consumed.", zap.String("session_id", sessionID))
		return nil
	}
	if err != nil {
		return err
	}

	// Drafting survives a dropped client; the drafter applies its own timeout.
	content := h.deps.Drafter.Draft(context.WithoutCancel(ctx), collected.OriginalMessage, collected.Username)

	runID, err := h.deps.Runner.Start(automation.Job{
		SessionID: sessionID,
		Request: automation.SendRequest{
			Login:     collected.Gmail,
			Secret:    collected.Password,
			Recipient: collected.Recipient,
			Content:   content,
		},
	})
	if errors.Is(err, automation.ErrBusy) {
		reply.Response = msgBusy
		return h.deps.Engine.Restore(context.WithoutCancel(ctx), sessionID, collected)
	}
	if err != nil {
		return err
	}

	h.log.Info("Send dispatched.", zap.String("session_id", sessionID), zap.String("run_id", runID))
	return nil
}

func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, h.deps.Runner.Status())
}

// HandleHistory lists the most recent send attempts, newest first.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, "Send history is unavailable (database not configured).")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.respondWithError(w, http.StatusBadRequest, "limit must be a positive integer.")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := h.deps.History.Recent(r.Context(), limit)
	if err != nil {
		h.log.Error("Failed to load send history.", zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, "Internal error retrieving history.")
		return
	}
	if records == nil {
		records = []history.SendRecord{}
	}
	h.respondWithJSON(w, http.StatusOK, map[string]any{
		"count":   len(records),
		"records": records,
	})
}

// respondWithError sends a JSON error body.
func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.respondWithJSON(w, statusCode, map[string]string{"error": message})
}

func (h *Handlers) respondWithJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
