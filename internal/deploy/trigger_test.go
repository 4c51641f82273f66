package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestTriggerSendsBearerTokenAndPayload(t *testing.T) {
	var gotAuth, gotMethod string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"deploy":{"id":"dep-1"}}`))
	}))
	defer srv.Close()

	trigger := newTestTrigger(t, Config{HookURL: srv.URL, Token: "tok", GitRef: "refs/heads/main", GitCommit: "abc123"})
	result, err := trigger.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.StatusCode != http.StatusAccepted || result.Attempts != 1 {
		t.Fatalf("result = %+v", result)
	}
	if gotMethod != http.MethodPost || gotAuth != "Bearer tok" {
		t.Fatalf("method=%s auth=%q", gotMethod, gotAuth)
	}
	if gotBody["ref"] != "refs/heads/main" || gotBody["commit"] != "abc123" {
		t.Fatalf("body = %v", gotBody)
	}
}

func TestTriggerRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	trigger := newTestTrigger(t, Config{HookURL: srv.URL, Token: "tok", MaxAttempts: 3, BaseBackoff: 10 * time.Millisecond})
	var waits []time.Duration
	trigger.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	result, err := trigger.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Attempts != 3 || calls.Load() != 3 {
		t.Fatalf("attempts=%d calls=%d", result.Attempts, calls.Load())
	}
	if len(waits) != 2 || waits[0] != 10*time.Millisecond || waits[1] != 20*time.Millisecond {
		t.Fatalf("waits = %v", waits)
	}
}

func TestTriggerGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	trigger := newTestTrigger(t, Config{HookURL: srv.URL, Token: "tok", MaxAttempts: 2})
	_, err := trigger.Run(context.Background())
	if err == nil || errors.Is(err, ErrRejected) {
		t.Fatalf("Run() error = %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestTriggerDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad token"}`))
	}))
	defer srv.Close()

	trigger := newTestTrigger(t, Config{HookURL: srv.URL, Token: "tok", MaxAttempts: 5})
	result, err := trigger.Run(context.Background())
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("Run() error = %v, want ErrRejected", err)
	}
	if calls.Load() != 1 || result.StatusCode != http.StatusUnauthorized || result.Body != `{"error":"bad token"}` {
		t.Fatalf("calls=%d result=%+v", calls.Load(), result)
	}
}

func TestTriggerStopsWhenContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	trigger := newTestTrigger(t, Config{HookURL: srv.URL, Token: "tok", MaxAttempts: 5})
	trigger.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}
	if _, err := trigger.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestNewTriggerValidates(t *testing.T) {
	for _, cfg := range []Config{
		{Token: "tok"},
		{HookURL: "ftp://example.com/hook", Token: "tok"},
		{HookURL: "https://", Token: "tok"},
		{HookURL: "https://api.example.com/deploy"},
	} {
		if _, err := NewTrigger(cfg, nil, nil); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
}

func newTestTrigger(t *testing.T, cfg Config) *Trigger {
	t.Helper()
	trigger, err := NewTrigger(cfg, nil, nil)
	if err != nil {
		t.Fatalf("NewTrigger() error = %v", err)
	}
	trigger.sleep = func(context.Context, time.Duration) error { return nil }
	return trigger
}
