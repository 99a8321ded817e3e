package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/file-organiser/internal/config"
	"github.com/kirillkom/file-organiser/internal/core/domain"
	"github.com/kirillkom/file-organiser/internal/core/ports"
	"github.com/kirillkom/file-organiser/internal/core/usecase"
	"github.com/kirillkom/file-organiser/internal/infrastructure/chunking"
	"github.com/kirillkom/file-organiser/internal/infrastructure/extractor"
	"github.com/kirillkom/file-organiser/internal/infrastructure/llm"
	"github.com/kirillkom/file-organiser/internal/infrastructure/llm/huggingface"
	"github.com/kirillkom/file-organiser/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/file-organiser/internal/infrastructure/llm/openai"
	"github.com/kirillkom/file-organiser/internal/infrastructure/queue/nats"
	"github.com/kirillkom/file-organiser/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/file-organiser/internal/infrastructure/resilience"
	"github.com/kirillkom/file-organiser/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/file-organiser/internal/observability/metrics"
)

type Options struct {
	Service string
	Logger  *slog.Logger
	// Processing requires a valid completion provider and instruction.
	// Read-only commands leave it off.
	Processing bool
}

type App struct {
	Config config.Config
	Logger *slog.Logger

	Store     *localfs.Store
	Extractor *extractor.Registry
	Runner    *usecase.PipelineRunner
	Scheduler *usecase.Scheduler
	Metrics   *metrics.PipelineMetrics

	// Bus and Ledger are nil unless NATS_URL and LEDGER_DSN are set.
	Bus    *nats.Bus
	Ledger *postgres.AnnotationLedger

	closeFns []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	if opts.Service == "" {
		opts.Service = "organizer"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var instruction domain.Instruction
	if opts.Processing {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		loaded, err := config.LoadInstruction(cfg)
		if err != nil {
			return nil, err
		}
		instruction = loaded
	}

	app := &App{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	store, err := localfs.New(cfg.StorageRoot)
	if err != nil {
		return nil, fmt.Errorf("init workspace store: %w", err)
	}
	app.Store = store
	app.Metrics = metrics.NewPipelineMetrics(opts.Service)

	executor := resilience.NewExecutor(resilienceConfig(cfg), logger).
		OnStateChange(app.Metrics.BreakerStateChanged)

	var provider ports.CompletionProvider = unconfiguredProvider{}
	if opts.Processing {
		inner, err := NewProvider(cfg)
		if err != nil {
			return nil, err
		}
		provider = llm.NewGuardedProvider(inner, executor, cfg.CompletionRateRPS, cfg.CompletionRateBurst)
	}

	if cfg.LedgerDSN != "" {
		db, err := postgres.OpenDB(cfg.LedgerDSN)
		if err != nil {
			return nil, domain.WrapError(domain.ErrStorage, "open ledger", err)
		}
		app.onClose(func() { _ = db.Close() })
		ledger := postgres.NewAnnotationLedger(db)
		if err := ledger.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure ledger schema: %w", err)
		}
		app.Ledger = ledger
	}

	if cfg.NATSURL != "" {
		bus, err := nats.New(cfg.NATSURL, nats.Options{
			TriggerSubject:     cfg.NATSTriggerSubject,
			EventSubject:       cfg.NATSEventSubject,
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init trigger bus: %w", err)
		}
		app.onClose(bus.Close)
		app.Bus = bus
	}

	splitter := chunking.NewSplitter(cfg.ChunkMaxChars)
	app.Extractor = extractor.NewDefaultRegistry(store, cfg.MaxFileBytes)

	runnerOpts := usecase.RunnerOptions{Observer: app.Metrics}
	if app.Ledger != nil {
		runnerOpts.Ledger = app.Ledger
	}
	if app.Bus != nil {
		runnerOpts.Events = app.Bus
	}
	if cfg.ContextIndexEnabled {
		runnerOpts.Indexer = usecase.NewContextIndexer(store, logger)
	}

	app.Runner = usecase.NewPipelineRunner(
		store,
		app.Extractor,
		usecase.NewContextAssembler(store, app.Extractor, splitter, instruction, logger),
		usecase.NewChunkedCompletion(provider, splitter, cfg.CompletionDelay, logger),
		usecase.NewNormalizer(),
		runnerOpts,
		logger,
	)

	scheduler, err := usecase.NewScheduler(store, app.Runner, usecase.SchedulerConfig{
		Interval:          cfg.SchedulerInterval,
		TenantConcurrency: cfg.TenantConcurrency,
		TriggerPoolSize:   cfg.TriggerPoolSize,
	}, app.Metrics, logger)
	if err != nil {
		return nil, err
	}
	app.Scheduler = scheduler
	app.onClose(func() {
		if err := scheduler.Close(30 * time.Second); err != nil {
			logger.Warn("scheduler close failed", "error", err)
		}
	})

	ok = true
	return app, nil
}

// NewProvider selects the completion backend named by AI_PROVIDER.
func NewProvider(cfg config.Config) (ports.CompletionProvider, error) {
	httpClient := llm.NewHTTPClient(llm.DefaultHTTPTimeout)
	switch cfg.AIProvider {
	case config.ProviderOpenAI:
		return openai.New(cfg.AICompletionURL, cfg.AIAPIKey, cfg.AIModel, httpClient), nil
	case config.ProviderHuggingFace:
		return huggingface.New(cfg.HFBaseURL, cfg.HFModel, cfg.HFAPIKey, httpClient), nil
	case config.ProviderOllama:
		return ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaFormatJSON, httpClient), nil
	default:
		return nil, domain.WrapError(domain.ErrConfiguration, "select completion provider", fmt.Errorf("unknown AI_PROVIDER %q", cfg.AIProvider))
	}
}

func resilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	out.RetryMaxAttempts = cfg.RetryMaxAttempts
	out.RetryInitialBackoff = cfg.RetryInitialBackoff
	out.RetryMaxBackoff = cfg.RetryMaxBackoff
	out.BreakerEnabled = cfg.BreakerEnabled
	if cfg.BreakerMinRequests > 0 {
		out.BreakerMinRequests = uint32(cfg.BreakerMinRequests)
	}
	out.BreakerFailureRatio = cfg.BreakerFailureRatio
	out.BreakerOpenTimeout = cfg.BreakerOpenTimeout
	return out
}

// OpenLedger connects to LEDGER_DSN without building the pipeline.
func OpenLedger(ctx context.Context, dsn string) (*postgres.AnnotationLedger, *sql.DB, error) {
	if dsn == "" {
		return nil, nil, domain.WrapError(domain.ErrConfiguration, "open ledger", fmt.Errorf("LEDGER_DSN is not set"))
	}
	db, err := postgres.OpenDB(dsn)
	if err != nil {
		return nil, nil, domain.WrapError(domain.ErrStorage, "open ledger", err)
	}
	ledger := postgres.NewAnnotationLedger(db)
	if err := ledger.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return ledger, db, nil
}

func (a *App) onClose(fn func()) {
	a.closeFns = append(a.closeFns, fn)
}

// Close releases resources in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}

type unconfiguredProvider struct{}

func (unconfiguredProvider) Name() string { return "unconfigured" }

func (unconfiguredProvider) Complete(context.Context, domain.CompletionRequest) (string, error) {
	return "", domain.WrapError(domain.ErrConfiguration, "complete", fmt.Errorf("completion provider is not configured"))
}
