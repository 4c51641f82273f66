package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sqlchat/sqlchat/internal/agent"
	"github.com/sqlchat/sqlchat/internal/auth"
	"github.com/sqlchat/sqlchat/internal/config"
	"github.com/sqlchat/sqlchat/internal/transcript"
)

func TestHealthEndpointReportsDatabase(t *testing.T) {
	cfg := loadConfig(t, nil)
	h := NewHandler(cfg, Dependencies{Database: pingerFunc(func(context.Context) error { return nil })})

	for _, path := range []string{"/health", "/check"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rr.Code)
		}
		body := decodeBody(t, rr)
		if body["status"] != "healthy" || body["database"] != "connected" || body["service"] != "sqlchat-api" {
			t.Fatalf("%s body = %v", path, body)
		}
	}
}

func TestHealthEndpointReturns503WhenDatabaseDown(t *testing.T) {
	cfg := loadConfig(t, nil)
	h := NewHandler(cfg, Dependencies{Database: pingerFunc(func(context.Context) error {
		return errors.New("unable to open database file")
	})})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "unhealthy" || body["database"] != "disconnected" || body["error"] != "unable to open database file" {
		t.Fatalf("body = %v", body)
	}
}

func TestHealthRejectsWrongMethod(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/health", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestChatReturnsAnswer(t *testing.T) {
	recorder := &memoryRecorder{}
	fake := &fakeAgent{result: agent.Result{
		Answer:    "There are 275 artists.",
		SQL:       []string{"SELECT COUNT(*) FROM Artist"},
		ModelRuns: 3,
		ToolCalls: 4,
	}}
	h := NewHandler(loadConfig(t, nil), Dependencies{Agent: fake, Recorder: recorder})

	rr := postChat(h, `{"question":"  How many artists?  "}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	var response chatResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Question != "How many artists?" || response.Answer != "There are 275 artists." {
		t.Fatalf("response = %+v", response)
	}
	if response.ExecutionTimeSec < 0 {
		t.Fatalf("execution_time_sec = %v", response.ExecutionTimeSec)
	}
	if fake.question() != "How many artists?" {
		t.Fatalf("agent question = %q", fake.question())
	}

	exchanges := recorder.all()
	if len(exchanges) != 1 {
		t.Fatalf("recorded = %d", len(exchanges))
	}
	if exchanges[0].Status != "answered" || exchanges[0].TraceID == "" || len(exchanges[0].SQL) != 1 {
		t.Fatalf("exchange = %+v", exchanges[0])
	}
}

func TestChatResponseHasExactlyDocumentedFields(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{Agent: &fakeAgent{result: agent.Result{Answer: agent.NoResponse}}})
	rr := postChat(h, `{"question":"hi"}`, nil)
	body := decodeBody(t, rr)
	if len(body) != 3 {
		t.Fatalf("body = %v", body)
	}
	for _, key := range []string{"question", "answer", "execution_time_sec"} {
		if _, ok := body[key]; !ok {
			t.Fatalf("missing %q in %v", key, body)
		}
	}
	if body["answer"] != agent.NoResponse {
		t.Fatalf("answer = %v", body["answer"])
	}
}

func TestChatRejectsInvalidBodies(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"SQLCHAT_CHAT_MAX_QUESTION_CHARS": "10"})
	fake := &fakeAgent{}
	h := NewHandler(cfg, Dependencies{Agent: fake})

	tests := []struct {
		body string
		code string
	}{
		{`not-json`, "INVALID_JSON"},
		{`{"question":"hi","extra":1}`, "INVALID_JSON"},
		{`{"question":42}`, "INVALID_JSON"},
		{`{}`, "INVALID_QUESTION"},
		{`{"question":"   "}`, "INVALID_QUESTION"},
		{`{"question":"this is far too long"}`, "INVALID_QUESTION"},
	}
	for _, tc := range tests {
		rr := postChat(h, tc.body, nil)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %s status = %d", tc.body, rr.Code)
		}
		body := decodeBody(t, rr)
		if body["error_code"] != tc.code {
			t.Fatalf("body %s error_code = %v", tc.body, body["error_code"])
		}
		if body["trace_id"] == "" {
			t.Fatalf("body %s missing trace_id", tc.body)
		}
	}
	if fake.calls() != 0 {
		t.Fatalf("agent called %d times", fake.calls())
	}
}

func TestChatCountsCharactersNotBytes(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"SQLCHAT_CHAT_MAX_QUESTION_CHARS": "5"})
	h := NewHandler(cfg, Dependencies{Agent: &fakeAgent{result: agent.Result{Answer: "ok"}}})
	rr := postChat(h, `{"question":"héllo"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestRegisterMaxCharsReportsRegistrationError(t *testing.T) {
	if err := registerMaxChars(validator.New(), "", 10); err == nil {
		t.Fatal("registerMaxChars() expected error for empty tag")
	}
	validate := validator.New()
	if err := registerMaxChars(validate, maxCharsTag, 3); err != nil {
		t.Fatalf("registerMaxChars() error = %v", err)
	}
	if err := validate.Var("abcd", maxCharsTag); err == nil {
		t.Fatal("Var() expected error for 4 characters")
	}
	if err := validate.Var("äöü", maxCharsTag); err != nil {
		t.Fatalf("Var() error = %v", err)
	}
}

func TestChatMapsAgentErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("chat completion: %w", errors.New("429 rate limited")), http.StatusBadGateway, "AGENT_FAILED"},
		{fmt.Errorf("%w: 25", agent.ErrMaxStepsExceeded), http.StatusBadGateway, "AGENT_FAILED"},
		{fmt.Errorf("chat completion: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "AGENT_TIMEOUT"},
	}
	for _, tc := range tests {
		recorder := &memoryRecorder{}
		h := NewHandler(loadConfig(t, nil), Dependencies{Agent: &fakeAgent{err: tc.err}, Recorder: recorder})
		rr := postChat(h, `{"question":"q"}`, nil)
		if rr.Code != tc.status {
			t.Fatalf("%v: status = %d", tc.err, rr.Code)
		}
		body := decodeBody(t, rr)
		if body["error_code"] != tc.code || body["retryable"] != true {
			t.Fatalf("%v: body = %v", tc.err, body)
		}
		if exchanges := recorder.all(); len(exchanges) != 1 || exchanges[0].Error == "" {
			t.Fatalf("%v: recorded = %+v", tc.err, exchanges)
		}
	}
}

func TestChatAppliesRequestTimeout(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"SQLCHAT_CHAT_REQUEST_TIMEOUT": "20ms"})
	slow := &fakeAgent{wait: true}
	h := NewHandler(cfg, Dependencies{Agent: slow})

	rr := postChat(h, `{"question":"q"}`, nil)
	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestChatWithoutAgentIsNotImplemented(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	rr := postChat(h, `{"question":"q"}`, nil)
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestChatRequiresAuthWhenConfigured(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"SQLCHAT_AUTH_REQUIRED": "true"})
	validator, err := auth.NewStaticAPIKeyValidator("k1:ci:chat_user")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	recorder := &memoryRecorder{}
	h := NewHandler(cfg, Dependencies{
		Agent:          &fakeAgent{result: agent.Result{Answer: "ok"}},
		Recorder:       recorder,
		AuthMiddleware: auth.Middleware(nil, validator, auth.RoleChatUser),
		Database:       pingerFunc(func(context.Context) error { return nil }),
	})

	if rr := postChat(h, `{"question":"q"}`, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauth status = %d", rr.Code)
	}
	rr := postChat(h, `{"question":"q"}`, map[string]string{"Authorization": "Bearer k1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("auth status = %d", rr.Code)
	}
	if exchanges := recorder.all(); len(exchanges) != 1 || exchanges[0].ClientID != "ci" {
		t.Fatalf("recorded = %+v", exchanges)
	}

	health := httptest.NewRecorder()
	h.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	if health.Code != http.StatusOK {
		t.Fatalf("health must stay public, status = %d", health.Code)
	}
}

func TestChatAuthRequiredWithoutMiddlewareFailsClosed(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"SQLCHAT_AUTH_REQUIRED": "true"})
	h := NewHandler(cfg, Dependencies{Agent: &fakeAgent{}})
	rr := postChat(h, `{"question":"q"}`, nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `sqlchat_http_requests_total{method="GET",route="GET /health",status="503"}`) {
		t.Fatalf("expected http metrics in exposition:\n%s", rr.Body.String())
	}
}

func loadConfig(t *testing.T, values map[string]string) config.Config {
	t.Helper()
	env := map[string]string{"SQLCHAT_PROFILE": "test"}
	for k, v := range values {
		env[k] = v
	}
	cfg, err := config.Load("sqlchat-api", mapLookup(env))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func postChat(h http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v (body=%s)", err, rr.Body.String())
	}
	return body
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type fakeAgent struct {
	mu        sync.Mutex
	result    agent.Result
	err       error
	wait      bool
	questions []string
}

func (f *fakeAgent) Run(ctx context.Context, question string) (agent.Result, error) {
	f.mu.Lock()
	f.questions = append(f.questions, question)
	f.mu.Unlock()
	if f.wait {
		select {
		case <-ctx.Done():
			return agent.Result{}, ctx.Err()
		case <-time.After(5 * time.Second):
			return agent.Result{}, errors.New("request timeout was not applied")
		}
	}
	return f.result, f.err
}

func (f *fakeAgent) question() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.questions) == 0 {
		return ""
	}
	return f.questions[len(f.questions)-1]
}

func (f *fakeAgent) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.questions)
}

type memoryRecorder struct {
	mu        sync.Mutex
	exchanges []transcript.Exchange
}

func (m *memoryRecorder) Record(exchange transcript.Exchange) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchanges = append(m.exchanges, exchange)
	return true
}

func (m *memoryRecorder) all() []transcript.Exchange {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]transcript.Exchange(nil), m.exchanges...)
}
