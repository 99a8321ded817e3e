package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/file-organiser/internal/core/domain"
	"github.com/kirillkom/file-organiser/internal/core/ports"
)

const (
	DefaultSchedulerInterval = 10 * time.Second
	DefaultTriggerPoolSize   = 4
)

type SchedulerConfig struct {
	Interval          time.Duration
	TenantConcurrency int
	TriggerPoolSize   int
}

type TickReport struct {
	Tenants  int                `json:"tenants"`
	Runs     []domain.RunReport `json:"runs"`
	Busy     int                `json:"busy"`
	Failed   int                `json:"failed"`
	Duration time.Duration      `json:"duration"`
}

// Scheduler drives the runner over all tenants on an interval and on demand.
// At most one runner execution is active per tenant.
type Scheduler struct {
	store    ports.WorkspaceStore
	runner   ports.TenantRunner
	observer ports.PipelineObserver
	logger   *slog.Logger
	cfg      SchedulerConfig
	pool     *ants.Pool
	now      func() time.Time

	slotsMu sync.Mutex
	slots   map[domain.Tenant]chan struct{}

	statsMu       sync.RWMutex
	lastProcessed map[domain.Tenant]time.Time

	stopped atomic.Bool
}

func NewScheduler(
	store ports.WorkspaceStore,
	runner ports.TenantRunner,
	cfg SchedulerConfig,
	observer ports.PipelineObserver,
	logger *slog.Logger,
) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSchedulerInterval
	}
	if cfg.TenantConcurrency <= 0 {
		cfg.TenantConcurrency = 1
	}
	if cfg.TriggerPoolSize <= 0 {
		cfg.TriggerPoolSize = DefaultTriggerPoolSize
	}
	if observer == nil {
		observer = noopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := ants.NewPool(cfg.TriggerPoolSize, ants.WithNonblocking(true))
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "create trigger pool", err)
	}

	return &Scheduler{
		store:         store,
		runner:        runner,
		observer:      observer,
		logger:        logger,
		cfg:           cfg,
		pool:          pool,
		now:           func() time.Time { return time.Now().UTC() },
		slots:         make(map[domain.Tenant]chan struct{}),
		lastProcessed: make(map[domain.Tenant]time.Time),
	}, nil
}

// Run ticks every interval until ctx is cancelled. A tick already in flight
// runs to completion.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", s.cfg.Interval.String(), "tenant_concurrency", s.cfg.TenantConcurrency)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(context.WithoutCancel(ctx))
		}
	}
}

func (s *Scheduler) Tick(ctx context.Context) TickReport {
	started := s.now()
	tenants, err := s.store.ListTenants(ctx)
	if err != nil {
		s.logger.Error("list tenants failed", "error", err)
		return TickReport{}
	}

	var (
		mu     sync.Mutex
		report = TickReport{Tenants: len(tenants)}
		group  errgroup.Group
	)
	group.SetLimit(s.cfg.TenantConcurrency)
	for _, tenant := range tenants {
		group.Go(func() error {
			run, err := s.tickTenant(ctx, tenant)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, domain.ErrTenantBusy):
				report.Busy++
			case err != nil:
				report.Failed++
				s.logger.Error("tenant run failed", "tenant", tenant, "error", err)
			case run != nil:
				report.Runs = append(report.Runs, *run)
			}
			return nil
		})
	}
	_ = group.Wait()

	sort.Slice(report.Runs, func(i, j int) bool { return report.Runs[i].Tenant < report.Runs[j].Tenant })
	report.Duration = s.now().Sub(started)
	s.observer.TickFinished(len(tenants), report.Duration)
	return report
}

// tickTenant returns a nil report when the tenant had nothing queued.
func (s *Scheduler) tickTenant(ctx context.Context, tenant domain.Tenant) (*domain.RunReport, error) {
	release, ok := s.tryAcquire(tenant)
	if !ok {
		return nil, domain.WrapError(domain.ErrTenantBusy, "tick tenant", fmt.Errorf("tenant %s", tenant))
	}
	defer release()

	ws, err := s.store.EnsureWorkspace(ctx, tenant)
	if err != nil {
		return nil, err
	}
	queued, err := s.store.HasQueued(ctx, ws)
	if err != nil {
		return nil, err
	}
	if !queued {
		return nil, nil
	}

	report, err := s.runTenant(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// Trigger runs one tenant now, waiting for a tick already working on it.
func (s *Scheduler) Trigger(ctx context.Context, tenant domain.Tenant) (domain.RunReport, error) {
	if s.stopped.Load() {
		return domain.RunReport{}, domain.WrapError(domain.ErrSchedulerStopped, "trigger tenant", fmt.Errorf("tenant %s", tenant))
	}
	if !domain.IsValidTenant(string(tenant)) {
		return domain.RunReport{}, domain.WrapError(domain.ErrInvalidInput, "trigger tenant", fmt.Errorf("invalid tenant %q", tenant))
	}

	release, err := s.acquire(ctx, tenant)
	if err != nil {
		return domain.RunReport{}, err
	}
	defer release()
	return s.runTenant(ctx, tenant)
}

// TriggerAsync queues a run on the trigger pool and returns immediately.
func (s *Scheduler) TriggerAsync(tenant domain.Tenant) error {
	if s.stopped.Load() {
		return domain.WrapError(domain.ErrSchedulerStopped, "trigger tenant", fmt.Errorf("tenant %s", tenant))
	}
	if !domain.IsValidTenant(string(tenant)) {
		return domain.WrapError(domain.ErrInvalidInput, "trigger tenant", fmt.Errorf("invalid tenant %q", tenant))
	}

	err := s.pool.Submit(func() {
		report, err := s.Trigger(context.Background(), tenant)
		if err != nil {
			s.logger.Error("async trigger failed", "tenant", tenant, "error", err)
			return
		}
		s.logger.Info("async trigger finished", "tenant", tenant, "run_id", report.RunID, "committed", report.Committed)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ants.ErrPoolClosed):
		return domain.WrapError(domain.ErrSchedulerStopped, "trigger tenant", err)
	case errors.Is(err, ants.ErrPoolOverload):
		return domain.WrapError(domain.ErrTemporary, "trigger tenant", err)
	default:
		return fmt.Errorf("submit trigger: %w", err)
	}
}

// EnsureTenant validates raw and creates the tenant workspace.
func (s *Scheduler) EnsureTenant(ctx context.Context, raw string) (domain.Workspace, error) {
	tenant, err := domain.ParseTenant(raw)
	if err != nil {
		return domain.Workspace{}, err
	}
	return s.store.EnsureWorkspace(ctx, tenant)
}

func (s *Scheduler) Stats(ctx context.Context, tenant domain.Tenant) (domain.TenantStats, error) {
	if !domain.IsValidTenant(string(tenant)) {
		return domain.TenantStats{}, domain.WrapError(domain.ErrInvalidInput, "tenant stats", fmt.Errorf("invalid tenant %q", tenant))
	}
	ws := s.store.Workspace(tenant)
	queue, err := s.store.ListQueue(ctx, ws)
	if err != nil {
		return domain.TenantStats{}, err
	}
	organized, err := s.store.ListOrganized(ctx, ws)
	if err != nil {
		return domain.TenantStats{}, err
	}

	stats := domain.TenantStats{
		Tenant:         tenant,
		QueuedFiles:    len(queue),
		OrganizedFiles: countCommitted(organized),
	}
	s.statsMu.RLock()
	if at, ok := s.lastProcessed[tenant]; ok {
		stats.LastProcessed = &at
	}
	s.statsMu.RUnlock()
	return stats, nil
}

func (s *Scheduler) AllStats(ctx context.Context) ([]domain.TenantStats, error) {
	tenants, err := s.store.ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.TenantStats, 0, len(tenants))
	for _, tenant := range tenants {
		stats, err := s.Stats(ctx, tenant)
		if err != nil {
			s.logger.Warn("tenant stats skipped", "tenant", tenant, "error", err)
			continue
		}
		out = append(out, stats)
	}
	return out, nil
}

// Close rejects new triggers and waits for queued async triggers to drain.
func (s *Scheduler) Close(timeout time.Duration) error {
	s.stopped.Store(true)
	if err := s.pool.ReleaseTimeout(timeout); err != nil {
		return fmt.Errorf("release trigger pool: %w", err)
	}
	return nil
}

func (s *Scheduler) runTenant(ctx context.Context, tenant domain.Tenant) (domain.RunReport, error) {
	report, err := s.runner.RunTenant(ctx, tenant)
	if err != nil {
		return report, err
	}
	s.statsMu.Lock()
	s.lastProcessed[tenant] = report.FinishedAt
	s.statsMu.Unlock()
	return report, nil
}

func (s *Scheduler) slot(tenant domain.Tenant) chan struct{} {
	s.slotsMu.Lock()
	defer s.slotsMu.Unlock()
	ch, ok := s.slots[tenant]
	if !ok {
		ch = make(chan struct{}, 1)
		s.slots[tenant] = ch
	}
	return ch
}

func (s *Scheduler) tryAcquire(tenant domain.Tenant) (func(), bool) {
	ch := s.slot(tenant)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	default:
		return nil, false
	}
}

func (s *Scheduler) acquire(ctx context.Context, tenant domain.Tenant) (func(), error) {
	ch := s.slot(tenant)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, domain.WrapError(domain.ErrTenantBusy, "wait for tenant", ctx.Err())
	}
}

// countCommitted counts organized originals that have an annotation sibling.
func countCommitted(refs []domain.FileRef) int {
	names := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		names[ref.Name] = struct{}{}
	}
	count := 0
	for _, ref := range refs {
		if _, ok := names[domain.AnnotationName(ref.Name)]; ok {
			count++
		}
	}
	return count
}
