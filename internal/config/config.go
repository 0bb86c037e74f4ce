// Package config provides centralized configuration for the pagesmith server.
// Values are loaded from environment variables (optionally seeded from a .env file).
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config holds all server configuration values.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `env:"ADDR,default=:8000"`

	// Secret is the shared secret every inbound task request must carry.
	Secret string `env:"TASK_SECRET"`

	// DryRun swaps GitHub and the LLM for in-process stand-ins.
	DryRun bool `env:"DRY_RUN,default=false"`

	// GitHubToken is the personal access token used for repository and pages calls.
	GitHubToken string `env:"GITHUB_TOKEN"`

	// GitHubOwner is the account that owns generated repositories. Resolved from the
	// token when empty; any other login is treated as an organization.
	GitHubOwner string `env:"GITHUB_OWNER"`

	// GitHubAPIURL overrides the REST endpoint (GitHub Enterprise).
	GitHubAPIURL string `env:"GITHUB_API_URL"`

	// RepoPrefix is prepended to the task id to form the repository name.
	RepoPrefix string `env:"REPO_PREFIX,default=tds-app-"`

	// ArtifactPath is the file the generated page is committed to.
	ArtifactPath string `env:"ARTIFACT_PATH,default=index.html"`

	// LLMProvider selects which LLM backend to use: "gemini", "openai", "claude".
	LLMProvider string `env:"LLM_PROVIDER,default=gemini"`

	GeminiKey   string `env:"GEMINI_API_KEY"`
	GeminiModel string `env:"GEMINI_MODEL,default=gemini-2.5-pro"`

	OpenAIKey     string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL,default=https://api.openai.com/v1"`
	OpenAIModel   string `env:"OPENAI_MODEL,default=gpt-4o-mini"`

	AnthropicKey   string `env:"ANTHROPIC_API_KEY"`
	AnthropicModel string `env:"ANTHROPIC_MODEL,default=claude-sonnet-4-20250514"`

	// GenerateTimeout bounds a single model call.
	GenerateTimeout time.Duration `env:"GENERATE_TIMEOUT,default=120s"`

	// NotifyAttempts is the total number of evaluator POST attempts.
	NotifyAttempts int `env:"NOTIFY_ATTEMPTS,default=4"`

	// NotifyBaseDelay is the wait after the first failed attempt; it doubles each time.
	NotifyBaseDelay time.Duration `env:"NOTIFY_BASE_DELAY,default=1s"`

	// NotifyTimeout bounds each evaluator POST.
	NotifyTimeout time.Duration `env:"NOTIFY_TIMEOUT,default=20s"`

	// DBPath is the SQLite file holding the run history.
	DBPath string `env:"DB_PATH,default=pagesmith.db"`

	// NATSURL enables run event publication when set.
	NATSURL string `env:"NATS_URL"`

	// EventSubject is the subject prefix for run events.
	EventSubject string `env:"EVENT_SUBJECT,default=pagesmith.runs"`

	// ArchiveBucket enables the S3 revision archive when set.
	ArchiveBucket string `env:"ARCHIVE_BUCKET"`

	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3Region    string `env:"S3_REGION,default=us-east-1"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`
	S3PathStyle bool   `env:"S3_FORCE_PATH_STYLE,default=true"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// LogLevel is a zerolog level name.
	LogLevel string `env:"LOG_LEVEL,default=info"`

	// LogFormat is "json" or "console".
	LogFormat string `env:"LOG_FORMAT,default=json"`

	// RateLimitPerMinute caps inbound requests per client IP.
	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE,default=60"`
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first; real environment variables take precedence.
func Load(ctx context.Context) (Config, error) {
	_ = godotenv.Load()
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return Config{}, err
	}
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	return cfg, nil
}

// Validate reports missing credentials and unusable limits. It is called once at startup so a
// misconfigured process never accepts work.
func (c Config) Validate() error {
	var errs []error
	if c.Secret == "" {
		errs = append(errs, errors.New("TASK_SECRET is required"))
	}
	if !c.DryRun {
		if c.GitHubToken == "" {
			errs = append(errs, errors.New("GITHUB_TOKEN is required"))
		}
		if c.ModelKey() == "" {
			errs = append(errs, fmt.Errorf("API key for LLM provider %q is required", c.LLMProvider))
		}
	}
	switch c.LLMProvider {
	case "gemini", "openai", "claude":
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider))
	}
	if c.NotifyAttempts < 1 {
		errs = append(errs, errors.New("NOTIFY_ATTEMPTS must be at least 1"))
	}
	for name, d := range map[string]time.Duration{
		"GENERATE_TIMEOUT":  c.GenerateTimeout,
		"NOTIFY_BASE_DELAY": c.NotifyBaseDelay,
		"NOTIFY_TIMEOUT":    c.NotifyTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.ArchiveBucket != "" && c.S3Endpoint == "" {
		errs = append(errs, errors.New("S3_ENDPOINT is required when ARCHIVE_BUCKET is set"))
	}
	return errors.Join(errs...)
}

// ModelKey returns the API key of the selected LLM provider.
func (c Config) ModelKey() string {
	switch c.LLMProvider {
	case "claude":
		return c.AnthropicKey
	case "openai":
		return c.OpenAIKey
	default:
		return c.GeminiKey
	}
}
