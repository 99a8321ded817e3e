package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/file-organiser/internal/core/domain"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"AI_PROVIDER", "STORAGE_ROOT", "COMPLETION_DELAY", "SCHEDULER_INTERVAL", "CHUNK_MAX_CHARS", "OLLAMA_FORMAT_JSON"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.AIProvider != ProviderOpenAI {
		t.Fatalf("expected default provider openai, got %q", cfg.AIProvider)
	}
	if cfg.StorageRoot != "./users" {
		t.Fatalf("expected default storage root ./users, got %q", cfg.StorageRoot)
	}
	if cfg.CompletionDelay != time.Second {
		t.Fatalf("expected default delay 1s, got %v", cfg.CompletionDelay)
	}
	if cfg.SchedulerInterval != 10*time.Second {
		t.Fatalf("expected default interval 10s, got %v", cfg.SchedulerInterval)
	}
	if cfg.ChunkMaxChars != 12000 {
		t.Fatalf("expected default chunk size 12000, got %d", cfg.ChunkMaxChars)
	}
	if !cfg.OllamaFormatJSON {
		t.Fatalf("expected ollama json format on by default")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("AI_PROVIDER", "HuggingFace")
	t.Setenv("COMPLETION_DELAY", "250")
	t.Setenv("SCHEDULER_INTERVAL", "1m")
	t.Setenv("COMPLETION_RATE_RPS", "0.5")
	t.Setenv("WATCH_QUEUES", "true")

	cfg := Load()
	if cfg.AIProvider != ProviderHuggingFace {
		t.Fatalf("expected provider huggingface, got %q", cfg.AIProvider)
	}
	if cfg.CompletionDelay != 250*time.Millisecond {
		t.Fatalf("expected bare milliseconds, got %v", cfg.CompletionDelay)
	}
	if cfg.SchedulerInterval != time.Minute {
		t.Fatalf("expected 1m interval, got %v", cfg.SchedulerInterval)
	}
	if cfg.CompletionRateRPS != 0.5 {
		t.Fatalf("expected rps 0.5, got %v", cfg.CompletionRateRPS)
	}
	if !cfg.WatchQueues {
		t.Fatalf("expected WATCH_QUEUES true")
	}
}

func validConfig() Config {
	return Config{
		AIProvider:        ProviderOpenAI,
		AICompletionURL:   "https://api.openai.com/v1/chat/completions",
		AIModel:           "gpt-4o-mini",
		AIAPIKey:          "sk-test",
		AIPrompt:          "Describe the file.",
		StorageRoot:       "./users",
		ChunkMaxChars:     100,
		SchedulerInterval: time.Second,
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := validConfig()
	cfg.AIProvider = "bard"
	err := cfg.Validate()
	if !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestValidateRequiresProviderCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.AIProvider = ProviderHuggingFace
	err := cfg.Validate()
	if !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "HF_MODEL") || !strings.Contains(err.Error(), "HF_API_KEY") {
		t.Fatalf("expected both missing keys reported, got %v", err)
	}
}

func TestValidateRequiresInstruction(t *testing.T) {
	cfg := validConfig()
	cfg.AIPrompt = ""
	if err := cfg.Validate(); !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestLoadInstructionFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instruction.yaml")
	body := "preamble: You organise files.\nrules:\n  - Answer with JSON only.\n  - Keep tags short.\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	instruction, err := LoadInstruction(Config{InstructionFile: path})
	if err != nil {
		t.Fatalf("LoadInstruction() error = %v", err)
	}
	want := "You organise files.\n1. Answer with JSON only.\n2. Keep tags short."
	if got := instruction.Text(); got != want {
		t.Fatalf("Text() = %q, want %q", got, want)
	}
}

func TestLoadInstructionFallsBackToPrompt(t *testing.T) {
	instruction, err := LoadInstruction(Config{AIPrompt: "Describe the file."})
	if err != nil {
		t.Fatalf("LoadInstruction() error = %v", err)
	}
	if instruction.Text() != "Describe the file." {
		t.Fatalf("unexpected text %q", instruction.Text())
	}
}

func TestLoadInstructionErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("preamble: [unclosed\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, []byte("rules: []\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cases := []Config{
		{InstructionFile: filepath.Join(dir, "missing.yaml")},
		{InstructionFile: bad},
		{InstructionFile: empty},
		{},
	}
	for _, cfg := range cases {
		if _, err := LoadInstruction(cfg); !domain.IsKind(err, domain.ErrConfiguration) {
			t.Fatalf("LoadInstruction(%+v) expected configuration error, got %v", cfg, err)
		}
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("ORGANIZER_TEST_KEY=from-dotenv\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("ORGANIZER_TEST_KEY", "")
	os.Unsetenv("ORGANIZER_TEST_KEY")

	if err := LoadDotEnv(path, filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("ORGANIZER_TEST_KEY"); got != "from-dotenv" {
		t.Fatalf("expected dotenv value, got %q", got)
	}
}
