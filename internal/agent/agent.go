package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/sqlchat/sqlchat/internal/observability"
	"github.com/sqlchat/sqlchat/internal/query"
)

const NoResponse = "No response generated."

var (
	ErrMaxStepsExceeded = errors.New("agent exceeded max steps")
	ErrEmptyQuestion    = errors.New("question is required")
)

// ChatCompleter is the subset of *openai.Client the agent needs.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Config struct {
	Model       string
	Temperature float64
	// MaxSteps bounds the number of model turns per question.
	MaxSteps int
	// TopK is the default LIMIT the model is told to use.
	TopK       int
	RowLimit   int
	SampleRows int
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewOpenAIClient builds a client for any OpenAI-compatible endpoint.
func NewOpenAIClient(cfg OpenAIConfig) (*openai.Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	clientConfig := openai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	if baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	clientConfig.HTTPClient = &http.Client{Timeout: timeout}
	return openai.NewClientWithConfig(clientConfig), nil
}

type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Step is one message appended to the conversation during a run.
type Step struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type Result struct {
	Answer string
	Steps  []Step
	// SQL lists every statement passed to sql_db_query, in order.
	SQL       []string
	ModelRuns int
	ToolCalls int
}

type Agent struct {
	client ChatCompleter
	db     query.Database
	cfg    Config
	logger *slog.Logger
	tools  map[string]tool
}

func New(client ChatCompleter, db query.Database, cfg Config, logger *slog.Logger) (*Agent, error) {
	if client == nil {
		return nil, fmt.Errorf("chat completer is required")
	}
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-4.1"
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 25
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.SampleRows < 0 {
		cfg.SampleRows = 0
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a := &Agent{client: client, db: db, cfg: cfg, logger: logger}
	a.tools = a.buildTools()
	return a, nil
}

// Run answers question by letting the model call the database tools until it
// replies without further tool calls.
func (a *Agent) Run(ctx context.Context, question string) (Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Result{}, ErrEmptyQuestion
	}
	logger := a.logger.With(slog.String("trace_id", observability.TraceIDFromContext(ctx)))

	request := openai.ChatCompletionRequest{
		Model:       a.cfg.Model,
		Temperature: float32(a.cfg.Temperature),
		Tools:       a.toolDefinitions(),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(a.db.Dialect(), a.cfg.TopK)},
			{Role: openai.ChatMessageRoleUser, Content: question},
		},
	}

	result := Result{}
	for result.ModelRuns < a.cfg.MaxSteps {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		message, err := a.complete(ctx, request)
		result.ModelRuns++
		if err != nil {
			return result, err
		}
		request.Messages = append(request.Messages, message)
		a.recordStep(logger, &result, stepFromMessage(message))

		if len(message.ToolCalls) == 0 {
			result.Answer = finalAnswer(result.Steps)
			return result, nil
		}

		for _, call := range message.ToolCalls {
			output, sqlText := a.invoke(ctx, logger, call)
			result.ToolCalls++
			if sqlText != "" {
				result.SQL = append(result.SQL, sqlText)
			}
			toolMessage := openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    output,
				Name:       call.Function.Name,
				ToolCallID: call.ID,
			}
			request.Messages = append(request.Messages, toolMessage)
			a.recordStep(logger, &result, stepFromMessage(toolMessage))
		}
	}
	result.Answer = finalAnswer(result.Steps)
	return result, fmt.Errorf("%w: %d", ErrMaxStepsExceeded, a.cfg.MaxSteps)
}

func (a *Agent) complete(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionMessage, error) {
	resp, err := a.client.CreateChatCompletion(ctx, request)
	if err != nil {
		observability.IncrementLLMRequest(true)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return openai.ChatCompletionMessage{}, fmt.Errorf("chat completion: %w", ctxErr)
		}
		return openai.ChatCompletionMessage{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		observability.IncrementLLMRequest(true)
		return openai.ChatCompletionMessage{}, fmt.Errorf("chat completion returned no choices")
	}
	observability.IncrementLLMRequest(false)
	message := resp.Choices[0].Message
	if message.Role == "" {
		message.Role = openai.ChatMessageRoleAssistant
	}
	return message, nil
}

func (a *Agent) recordStep(logger *slog.Logger, result *Result, step Step) {
	result.Steps = append(result.Steps, step)
	logger.Debug("agent_step",
		slog.Int("index", len(result.Steps)),
		slog.String("role", step.Role),
		slog.Int("tool_calls", len(step.ToolCalls)),
		slog.String("content", step.Content),
	)
}

func (a *Agent) invoke(ctx context.Context, logger *slog.Logger, call openai.ToolCall) (string, string) {
	name := call.Function.Name
	logger.Info("tool_call", slog.String("tool", name), slog.String("arguments", call.Function.Arguments))

	impl, ok := a.tools[name]
	if !ok {
		observability.IncrementToolCall("unknown", true)
		return fmt.Sprintf("Error: %s is not a valid tool, try one of [%s].", name, strings.Join(toolNames, ", ")), ""
	}
	output, sqlText, err := impl.run(ctx, call.Function.Arguments)
	observability.IncrementToolCall(name, err != nil)
	if err != nil {
		logger.Warn("tool_call_failed", slog.String("tool", name), slog.String("error", err.Error()))
		return "Error: " + err.Error(), sqlText
	}
	return output, sqlText
}

func stepFromMessage(message openai.ChatCompletionMessage) Step {
	step := Step{
		Role:       message.Role,
		Content:    message.Content,
		ToolCallID: message.ToolCallID,
	}
	for _, call := range message.ToolCalls {
		step.ToolCalls = append(step.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return step
}

// finalAnswer is the last non-empty content seen during the run.
func finalAnswer(steps []Step) string {
	for i := len(steps) - 1; i >= 0; i-- {
		if content := strings.TrimSpace(steps[i].Content); content != "" {
			return content
		}
	}
	return NoResponse
}
