package sqlchatctl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRunChatCommand(t *testing.T) {
	var gotMethod, gotPath, gotAuth, gotQuestion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		var body struct {
			Question string `json:"question"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotQuestion = body.Question
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"question":"How many artists?","answer":"275","execution_time_sec":1.234}`))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"-base-url", srv.URL,
		"-api-key", "k1",
		"chat", "How", "many", "artists?",
	}, Options{Stdout: &stdout, Stderr: &stderr, Timeout: 2 * time.Second})

	if code != 0 {
		t.Fatalf("exit code = %d stderr=%s", code, stderr.String())
	}
	if gotMethod != http.MethodPost || gotPath != "/chat" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
	if gotAuth != "Bearer k1" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotQuestion != "How many artists?" {
		t.Fatalf("question = %q", gotQuestion)
	}
	if !strings.Contains(stdout.String(), `"answer": "275"`) {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunChatAnswerOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = w.Write([]byte(`{"question":"q","answer":"AC/DC","execution_time_sec":0.5}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "-answer-only", "chat", "q"}, Options{Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if stdout.String() != "AC/DC\n" {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunHealthAndCheckCommands(t *testing.T) {
	paths := make([]string, 0, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"healthy","database":"connected"}`))
	}))
	defer srv.Close()

	for _, command := range []string{"health", "check"} {
		if code := Run(context.Background(), []string{"-base-url", srv.URL, command}, Options{}); code != 0 {
			t.Fatalf("%s exit code = %d", command, code)
		}
	}
	if len(paths) != 2 || paths[0] != "GET /health" || paths[1] != "GET /check" {
		t.Fatalf("paths = %v", paths)
	}
}

func TestRunReturnsOneOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unhealthy"}`))
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "health"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr.String(), "http 503") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	for _, args := range [][]string{{}, {"unknown"}, {"chat"}, {"chat", "  "}, {"-bogus-flag"}} {
		if code := Run(context.Background(), args, Options{}); code != 2 {
			t.Fatalf("args %v exit code = %d, want 2", args, code)
		}
	}
}
