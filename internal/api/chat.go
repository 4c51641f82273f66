package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/sqlchat/sqlchat/internal/agent"
	"github.com/sqlchat/sqlchat/internal/auth"
	"github.com/sqlchat/sqlchat/internal/config"
	"github.com/sqlchat/sqlchat/internal/observability"
	"github.com/sqlchat/sqlchat/internal/transcript"
)

const maxChatBodyBytes = 1 << 20

type chatRequest struct {
	Question string `json:"question" validate:"required,maxchars"`
}

type chatResponse struct {
	Question         string  `json:"question"`
	Answer           string  `json:"answer"`
	ExecutionTimeSec float64 `json:"execution_time_sec"`
}

type chatHandler struct {
	deps           Dependencies
	validate       *validator.Validate
	requestTimeout time.Duration
}

const maxCharsTag = "maxchars"

func newChatHandler(cfg config.Config, deps Dependencies) (*chatHandler, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := registerMaxChars(validate, maxCharsTag, cfg.Chat.MaxQuestionChars); err != nil {
		return nil, err
	}
	return &chatHandler{deps: deps, validate: validate, requestTimeout: cfg.Chat.RequestTimeout}, nil
}

// registerMaxChars limits a string field to maxChars runes; zero disables it.
func registerMaxChars(validate *validator.Validate, tag string, maxChars int) error {
	err := validate.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		return maxChars <= 0 || utf8.RuneCountInString(fl.Field().String()) <= maxChars
	})
	if err != nil {
		return fmt.Errorf("register %q validation: %w", tag, err)
	}
	return nil
}

func (h *chatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.deps.Agent == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AGENT_NOT_CONFIGURED", "chat agent is not configured", false, nil)
		return
	}

	var request chatRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		observability.ObserveChat(observability.ChatOutcomeRejected, 0, 0)
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid chat request body", false, map[string]any{"details": err.Error()})
		return
	}
	request.Question = strings.TrimSpace(request.Question)
	if err := h.validate.Struct(request); err != nil {
		observability.ObserveChat(observability.ChatOutcomeRejected, 0, 0)
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_QUESTION", "question must be a non-empty string within the configured length", false, map[string]any{"fields": fieldErrors(err)})
		return
	}

	logger := h.logger().With(slog.String("trace_id", observability.TraceIDFromContext(r.Context())))
	logger.Info("chat_request", slog.String("question", request.Question))

	ctx := r.Context()
	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := h.deps.Agent.Run(ctx, request.Question)
	elapsed := time.Since(start)

	exchange := transcript.Exchange{
		TraceID:   observability.TraceIDFromContext(r.Context()),
		Question:  request.Question,
		SQL:       result.SQL,
		ToolCalls: result.ToolCalls,
		ModelRuns: result.ModelRuns,
		Duration:  elapsed,
	}
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		exchange.ClientID = identity.ClientID
	}

	if err != nil {
		status, code, outcome := classifyAgentError(err)
		observability.ObserveChat(outcome, elapsed, result.ModelRuns)
		logger.Error("chat_failed",
			slog.String("error", err.Error()),
			slog.Float64("duration_sec", observability.RoundSeconds(elapsed)),
		)
		exchange.Status = outcome
		exchange.Error = err.Error()
		h.record(exchange)
		writeError(r.Context(), w, status, code, err.Error(), true, map[string]any{
			"execution_time_sec": observability.RoundSeconds(elapsed),
		})
		return
	}

	outcome := observability.ChatOutcomeAnswered
	if result.Answer == agent.NoResponse {
		outcome = observability.ChatOutcomeEmpty
	}
	observability.ObserveChat(outcome, elapsed, result.ModelRuns)
	logger.Info("chat_answered",
		slog.String("answer", result.Answer),
		slog.Int("model_runs", result.ModelRuns),
		slog.Int("tool_calls", result.ToolCalls),
		slog.Float64("duration_sec", observability.RoundSeconds(elapsed)),
	)
	exchange.Status = outcome
	exchange.Answer = result.Answer
	h.record(exchange)

	writeJSON(w, http.StatusOK, chatResponse{
		Question:         request.Question,
		Answer:           result.Answer,
		ExecutionTimeSec: observability.RoundSeconds(elapsed),
	})
}

func (h *chatHandler) record(exchange transcript.Exchange) {
	if h.deps.Recorder != nil {
		h.deps.Recorder.Record(exchange)
	}
}

func (h *chatHandler) logger() *slog.Logger {
	if h.deps.Logger != nil {
		return h.deps.Logger
	}
	return slog.Default()
}

func classifyAgentError(err error) (int, string, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, "AGENT_TIMEOUT", observability.ChatOutcomeTimeout
	default:
		return http.StatusBadGateway, "AGENT_FAILED", observability.ChatOutcomeFailed
	}
}

func fieldErrors(err error) []map[string]string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return []map[string]string{{"error": err.Error()}}
	}
	fields := make([]map[string]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		fields = append(fields, map[string]string{"field": fieldErr.Field(), "rule": fieldErr.Tag()})
	}
	return fields
}
