package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Database      DatabaseConfig
	AI            AIConfig
	Chat          ChatConfig
	Archive       ArchiveConfig
	ObjectStore   ObjectStoreConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
	Deploy        DeployConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	URI             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
	QueryRowLimit   int
	SampleRows      int
	SeedObjectKey   string
}

type AIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxSteps    int
	TopK        int
}

type ChatConfig struct {
	MaxQuestionChars int
	RequestTimeout   time.Duration
}

type ArchiveConfig struct {
	Enabled       bool
	BatchSize     int
	BufferSize    int
	FlushInterval time.Duration
	Prefix        string
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
	LogFile  string
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

type DeployConfig struct {
	HookURL     string
	Token       string
	MaxAttempts int
	Timeout     time.Duration
	GitRef      string
	GitCommit   string
}

// ObjectStoreConfigured reports whether enough object store settings are present
// to build a client.
func (c Config) ObjectStoreConfigured() bool {
	return c.ObjectStore.Endpoint != "" && c.ObjectStore.Bucket != ""
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Variables already set in the environment are left untouched and
// missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load dotenv: %w", err)
	}
	return nil
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("SQLCHAT_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid SQLCHAT_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyPort(lookup, "PORT", &cfg.HTTP.Address); err != nil {
		return Config{}, err
	}
	if err := applySecret(lookup, "OPENAI_API_KEY", &cfg.AI.APIKey); err != nil {
		return Config{}, err
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "SQLCHAT_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "SQLCHAT_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "SQLCHAT_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "SQLCHAT_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "SQLCHAT_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyString(lookup, "SQLCHAT_DB_URI", &cfg.Database.URI) },
		func() error { return applyInt(lookup, "SQLCHAT_DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns) },
		func() error { return applyInt(lookup, "SQLCHAT_DB_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns) },
		func() error { return applyDuration(lookup, "SQLCHAT_DB_CONN_MAX_LIFETIME", &cfg.Database.ConnMaxLifetime) },
		func() error { return applyDuration(lookup, "SQLCHAT_DB_QUERY_TIMEOUT", &cfg.Database.QueryTimeout) },
		func() error { return applyInt(lookup, "SQLCHAT_DB_QUERY_ROW_LIMIT", &cfg.Database.QueryRowLimit) },
		func() error { return applyInt(lookup, "SQLCHAT_DB_SAMPLE_ROWS", &cfg.Database.SampleRows) },
		func() error { return applyString(lookup, "SQLCHAT_DB_SEED_OBJECT_KEY", &cfg.Database.SeedObjectKey) },
		func() error { return applyString(lookup, "SQLCHAT_AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applySecret(lookup, "SQLCHAT_AI_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "SQLCHAT_AI_MODEL", &cfg.AI.Model) },
		func() error { return applyFloat(lookup, "SQLCHAT_AI_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyDuration(lookup, "SQLCHAT_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyInt(lookup, "SQLCHAT_AI_MAX_STEPS", &cfg.AI.MaxSteps) },
		func() error { return applyInt(lookup, "SQLCHAT_AI_TOP_K", &cfg.AI.TopK) },
		func() error { return applyInt(lookup, "SQLCHAT_CHAT_MAX_QUESTION_CHARS", &cfg.Chat.MaxQuestionChars) },
		func() error { return applyDuration(lookup, "SQLCHAT_CHAT_REQUEST_TIMEOUT", &cfg.Chat.RequestTimeout) },
		func() error { return applyBool(lookup, "SQLCHAT_ARCHIVE_ENABLED", &cfg.Archive.Enabled) },
		func() error { return applyInt(lookup, "SQLCHAT_ARCHIVE_BATCH_SIZE", &cfg.Archive.BatchSize) },
		func() error { return applyInt(lookup, "SQLCHAT_ARCHIVE_BUFFER_SIZE", &cfg.Archive.BufferSize) },
		func() error { return applyDuration(lookup, "SQLCHAT_ARCHIVE_FLUSH_INTERVAL", &cfg.Archive.FlushInterval) },
		func() error { return applyString(lookup, "SQLCHAT_ARCHIVE_PREFIX", &cfg.Archive.Prefix) },
		func() error { return applyString(lookup, "SQLCHAT_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "SQLCHAT_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "SQLCHAT_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "SQLCHAT_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error { return applyString(lookup, "SQLCHAT_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey) },
		func() error { return applyBool(lookup, "SQLCHAT_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "SQLCHAT_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "SQLCHAT_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},
		func() error { return applyBool(lookup, "SQLCHAT_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "SQLCHAT_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyString(lookup, "SQLCHAT_LOG_FILE", &cfg.Observability.LogFile) },
		func() error { return applyBool(lookup, "SQLCHAT_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "SQLCHAT_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
		func() error { return applyString(lookup, "SQLCHAT_DEPLOY_HOOK_URL", &cfg.Deploy.HookURL) },
		func() error { return applyString(lookup, "SQLCHAT_DEPLOY_TOKEN", &cfg.Deploy.Token) },
		func() error { return applyInt(lookup, "SQLCHAT_DEPLOY_MAX_ATTEMPTS", &cfg.Deploy.MaxAttempts) },
		func() error { return applyDuration(lookup, "SQLCHAT_DEPLOY_TIMEOUT", &cfg.Deploy.Timeout) },
		func() error { return applyString(lookup, "GITHUB_REF", &cfg.Deploy.GitRef) },
		func() error { return applyString(lookup, "GITHUB_SHA", &cfg.Deploy.GitCommit) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Database.URI == "" {
		return Config{}, fmt.Errorf("database uri is required")
	}
	if cfg.AI.MaxSteps <= 0 {
		return Config{}, fmt.Errorf("invalid SQLCHAT_AI_MAX_STEPS: must be > 0")
	}
	if cfg.Chat.MaxQuestionChars <= 0 {
		return Config{}, fmt.Errorf("invalid SQLCHAT_CHAT_MAX_QUESTION_CHARS: must be > 0")
	}
	if cfg.Archive.Enabled && cfg.Archive.BatchSize <= 0 {
		return Config{}, fmt.Errorf("invalid SQLCHAT_ARCHIVE_BATCH_SIZE: must be > 0")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "sqlchat-api"},
		HTTP: HTTPConfig{
			Address:      ":8000",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			URI:             "sqlite:///Chinook.db",
			MaxOpenConns:    4,
			MaxIdleConns:    4,
			ConnMaxLifetime: 30 * time.Minute,
			QueryTimeout:    10 * time.Second,
			QueryRowLimit:   100,
			SampleRows:      3,
		},
		AI: AIConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4.1",
			Temperature: 0,
			Timeout:     60 * time.Second,
			MaxSteps:    25,
			TopK:        5,
		},
		Chat: ChatConfig{
			MaxQuestionChars: 2000,
			RequestTimeout:   90 * time.Second,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			BatchSize:     100,
			BufferSize:    1000,
			FlushInterval: time.Minute,
			Prefix:        "transcripts",
		},
		ObjectStore: ObjectStoreConfig{
			Region:           "us-east-1",
			UseSSL:           false,
			AutoCreateBucket: true,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  false,
			LogFile:  "server.log",
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
		Deploy: DeployConfig{
			MaxAttempts: 3,
			Timeout:     15 * time.Second,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18000"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Observability.LogFile = ""
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Observability.LogJSON = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

// applySecret skips blank values so a fallback variable is never cleared.
func applySecret(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyPort(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	*dst = ":" + strconv.Itoa(port)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
