package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sqlchat/sqlchat/internal/agent"
	"github.com/sqlchat/sqlchat/internal/config"
	"github.com/sqlchat/sqlchat/internal/observability"
	"github.com/sqlchat/sqlchat/internal/transcript"
)

// Pinger reports database liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Agent interface {
	Run(ctx context.Context, question string) (agent.Result, error)
}

// ChatRecorder receives every finished /chat exchange. Record must not block.
type ChatRecorder interface {
	Record(exchange transcript.Exchange) bool
}

type Dependencies struct {
	Logger            *slog.Logger
	Database          Pinger
	Agent             Agent
	Recorder          ChatRecorder
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	health := func(w http.ResponseWriter, r *http.Request) {
		handleHealth(cfg, deps, w, r)
	}
	mux.HandleFunc("GET /health", health)
	mux.HandleFunc("GET /check", health)
	mux.Handle("GET /metrics", promhttp.Handler())

	var chatHandler http.Handler
	if handler, err := newChatHandler(cfg, deps); err != nil {
		if deps.Logger != nil {
			deps.Logger.Error("chat handler setup failed", slog.String("error", err.Error()))
		}
		chatHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(r.Context(), w, http.StatusInternalServerError, "CHAT_SETUP_FAILED", "chat request validation is unavailable", false, nil)
		})
	} else {
		chatHandler = handler
	}
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			chatHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			chatHandler = deps.AuthMiddleware(chatHandler)
		}
	}
	mux.Handle("POST /chat", chatHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
