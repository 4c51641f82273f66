package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrRejected = errors.New("deploy hook rejected request")

type Config struct {
	HookURL     string
	Token       string
	MaxAttempts int
	Timeout     time.Duration
	// BaseBackoff is the wait before the second attempt; it doubles per retry.
	BaseBackoff time.Duration
	GitRef      string
	GitCommit   string
}

type Result struct {
	StatusCode int
	Attempts   int
	Body       string
}

type Trigger struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewTrigger(cfg Config, client *http.Client, logger *slog.Logger) (*Trigger, error) {
	hookURL := strings.TrimSpace(cfg.HookURL)
	if hookURL == "" {
		return nil, fmt.Errorf("deploy hook url is required")
	}
	parsed, err := url.Parse(hookURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("invalid deploy hook url %q", hookURL)
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("deploy token is required")
	}
	cfg.HookURL = hookURL
	cfg.Token = strings.TrimSpace(cfg.Token)
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Trigger{cfg: cfg, client: client, logger: logger, sleep: sleepContext}, nil
}

// Run POSTs the deploy hook. Transport errors and 5xx responses are retried
// with exponential backoff; any 4xx response fails immediately.
func (t *Trigger) Run(ctx context.Context) (Result, error) {
	payload := map[string]string{}
	if t.cfg.GitRef != "" {
		payload["ref"] = t.cfg.GitRef
	}
	if t.cfg.GitCommit != "" {
		payload["commit"] = t.cfg.GitCommit
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshal deploy payload: %w", err)
	}

	var lastErr error
	backoff := t.cfg.BaseBackoff
	for attempt := 1; attempt <= t.cfg.MaxAttempts; attempt++ {
		result, err := t.send(ctx, body)
		result.Attempts = attempt
		if err == nil {
			t.logger.Info("deploy_triggered", slog.Int("status", result.StatusCode), slog.Int("attempt", attempt))
			return result, nil
		}
		if errors.Is(err, ErrRejected) {
			t.logger.Error("deploy_rejected", slog.Int("status", result.StatusCode), slog.String("body", result.Body))
			return result, err
		}
		lastErr = err
		t.logger.Warn("deploy_attempt_failed", slog.Int("attempt", attempt), slog.String("error", err.Error()))
		if attempt == t.cfg.MaxAttempts {
			break
		}
		if err := t.sleep(ctx, backoff); err != nil {
			return Result{Attempts: attempt}, err
		}
		backoff *= 2
	}
	return Result{Attempts: t.cfg.MaxAttempts}, fmt.Errorf("deploy hook failed after %d attempts: %w", t.cfg.MaxAttempts, lastErr)
}

func (t *Trigger) send(ctx context.Context, body []byte) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.HookURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build deploy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.cfg.Token)

	resp, err := t.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("send deploy request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	result := Result{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return result, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return result, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	default:
		return result, fmt.Errorf("deploy hook returned status %d", resp.StatusCode)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
