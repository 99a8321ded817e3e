package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kirillkom/file-organiser/internal/core/domain"
)

const (
	ProviderOpenAI      = "openai"
	ProviderHuggingFace = "huggingface"
	ProviderOllama      = "ollama"
)

type Config struct {
	APIPort  string
	LogLevel string
	LogFile  string

	StorageRoot  string
	MaxFileBytes int64

	AIProvider      string
	AICompletionURL string
	AIModel         string
	AIAPIKey        string
	AIPrompt        string
	InstructionFile string

	HFBaseURL string
	HFModel   string
	HFAPIKey  string

	OllamaURL        string
	OllamaGenModel   string
	OllamaFormatJSON bool

	ChunkMaxChars       int
	CompletionDelay     time.Duration
	CompletionRateRPS   float64
	CompletionRateBurst int

	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	BreakerEnabled      bool
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenTimeout  time.Duration

	SchedulerEnabled  bool
	SchedulerInterval time.Duration
	TenantConcurrency int
	TriggerPoolSize   int

	ContextIndexEnabled bool
	WatchQueues         bool

	NATSURL            string
	NATSTriggerSubject string
	NATSEventSubject   string

	LedgerDSN string
}

// LoadDotEnv reads .env from the working directory when it exists.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return domain.WrapError(domain.ErrConfiguration, "load "+path, err)
		}
	}
	return nil
}

func Load() Config {
	return Config{
		APIPort:  mustEnv("API_PORT", "8080"),
		LogLevel: mustEnv("LOG_LEVEL", "info"),
		LogFile:  mustEnv("LOG_FILE", ""),

		StorageRoot:  mustEnv("STORAGE_ROOT", "./users"),
		MaxFileBytes: int64(mustEnvInt("MAX_FILE_BYTES", 32<<20)),

		AIProvider:      strings.ToLower(mustEnv("AI_PROVIDER", ProviderOpenAI)),
		AICompletionURL: mustEnv("AI_COMPLETION_URL", "https://api.openai.com/v1/chat/completions"),
		AIModel:         mustEnv("AI_MODEL", "gpt-4o-mini"),
		AIAPIKey:        mustEnv("AI_API_KEY", ""),
		AIPrompt:        mustEnv("AI_PROMPT", ""),
		InstructionFile: mustEnv("INSTRUCTION_FILE", ""),

		HFBaseURL: mustEnv("HF_BASE_URL", "https://api-inference.huggingface.co/models"),
		HFModel:   mustEnv("HF_MODEL", ""),
		HFAPIKey:  mustEnv("HF_API_KEY", ""),

		OllamaURL:        mustEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaGenModel:   mustEnv("OLLAMA_GEN_MODEL", "llama3.1:8b"),
		OllamaFormatJSON: mustEnvBool("OLLAMA_FORMAT_JSON", true),

		ChunkMaxChars:       mustEnvInt("CHUNK_MAX_CHARS", 12000),
		CompletionDelay:     mustEnvDuration("COMPLETION_DELAY", time.Second),
		CompletionRateRPS:   mustEnvFloat("COMPLETION_RATE_RPS", 0),
		CompletionRateBurst: mustEnvInt("COMPLETION_RATE_BURST", 1),

		RetryMaxAttempts:    mustEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryInitialBackoff: mustEnvDuration("RETRY_INITIAL_BACKOFF", 500*time.Millisecond),
		RetryMaxBackoff:     mustEnvDuration("RETRY_MAX_BACKOFF", 5*time.Second),
		BreakerEnabled:      mustEnvBool("BREAKER_ENABLED", true),
		BreakerMinRequests:  mustEnvInt("BREAKER_MIN_REQUESTS", 5),
		BreakerFailureRatio: mustEnvFloat("BREAKER_FAILURE_RATIO", 0.5),
		BreakerOpenTimeout:  mustEnvDuration("BREAKER_OPEN_TIMEOUT", 30*time.Second),

		SchedulerEnabled:  mustEnvBool("SCHEDULER_ENABLED", true),
		SchedulerInterval: mustEnvDuration("SCHEDULER_INTERVAL", 10*time.Second),
		TenantConcurrency: mustEnvInt("TENANT_CONCURRENCY", 1),
		TriggerPoolSize:   mustEnvInt("TRIGGER_POOL_SIZE", 4),

		ContextIndexEnabled: mustEnvBool("CONTEXT_INDEX_ENABLED", true),
		WatchQueues:         mustEnvBool("WATCH_QUEUES", false),

		NATSURL:            mustEnv("NATS_URL", ""),
		NATSTriggerSubject: mustEnv("NATS_TRIGGER_SUBJECT", "organizer.tenant.trigger"),
		NATSEventSubject:   mustEnv("NATS_EVENT_SUBJECT", "organizer.item.committed"),

		LedgerDSN: mustEnv("LEDGER_DSN", ""),
	}
}

// Validate checks the settings needed to process queues.
func (c Config) Validate() error {
	var problems []string
	switch c.AIProvider {
	case ProviderOpenAI:
		if strings.TrimSpace(c.AICompletionURL) == "" {
			problems = append(problems, "AI_COMPLETION_URL is required")
		}
		if strings.TrimSpace(c.AIModel) == "" {
			problems = append(problems, "AI_MODEL is required")
		}
		if strings.TrimSpace(c.AIAPIKey) == "" {
			problems = append(problems, "AI_API_KEY is required")
		}
	case ProviderHuggingFace:
		if strings.TrimSpace(c.HFModel) == "" {
			problems = append(problems, "HF_MODEL is required")
		}
		if strings.TrimSpace(c.HFAPIKey) == "" {
			problems = append(problems, "HF_API_KEY is required")
		}
	case ProviderOllama:
		if strings.TrimSpace(c.OllamaURL) == "" {
			problems = append(problems, "OLLAMA_URL is required")
		}
		if strings.TrimSpace(c.OllamaGenModel) == "" {
			problems = append(problems, "OLLAMA_GEN_MODEL is required")
		}
	default:
		problems = append(problems, fmt.Sprintf("AI_PROVIDER %q is not one of openai, huggingface, ollama", c.AIProvider))
	}

	if strings.TrimSpace(c.AIPrompt) == "" && strings.TrimSpace(c.InstructionFile) == "" {
		problems = append(problems, "AI_PROMPT or INSTRUCTION_FILE is required")
	}
	if strings.TrimSpace(c.StorageRoot) == "" {
		problems = append(problems, "STORAGE_ROOT is required")
	}
	if c.ChunkMaxChars <= 0 {
		problems = append(problems, "CHUNK_MAX_CHARS must be positive")
	}
	if c.CompletionDelay < 0 {
		problems = append(problems, "COMPLETION_DELAY must not be negative")
	}
	if c.SchedulerInterval <= 0 {
		problems = append(problems, "SCHEDULER_INTERVAL must be positive")
	}

	if len(problems) > 0 {
		return domain.WrapError(domain.ErrConfiguration, "validate config", errors.New(strings.Join(problems, "; ")))
	}
	return nil
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

// mustEnvDuration accepts Go durations ("1500ms") or bare milliseconds.
func mustEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
