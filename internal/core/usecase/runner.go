package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/file-organiser/internal/core/domain"
	"github.com/kirillkom/file-organiser/internal/core/ports"
)

// RunnerOptions carries the optional sinks of a PipelineRunner. Nil fields
// are skipped.
type RunnerOptions struct {
	Ledger   ports.AnnotationLedger
	Events   ports.EventPublisher
	Observer ports.PipelineObserver
	Indexer  *ContextIndexer
}

// PipelineRunner drains one tenant queue: extract, complete, normalize,
// write the annotation, then move the original into organized.
type PipelineRunner struct {
	store      ports.WorkspaceStore
	extractor  ports.TextExtractor
	assembler  *ContextAssembler
	completion *ChunkedCompletion
	normalizer *Normalizer
	ledger     ports.AnnotationLedger
	events     ports.EventPublisher
	observer   ports.PipelineObserver
	indexer    *ContextIndexer
	logger     *slog.Logger
	now        func() time.Time
}

func NewPipelineRunner(
	store ports.WorkspaceStore,
	extractor ports.TextExtractor,
	assembler *ContextAssembler,
	completion *ChunkedCompletion,
	normalizer *Normalizer,
	opts RunnerOptions,
	logger *slog.Logger,
) *PipelineRunner {
	if logger == nil {
		logger = slog.Default()
	}
	observer := opts.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	return &PipelineRunner{
		store:      store,
		extractor:  extractor,
		assembler:  assembler,
		completion: completion,
		normalizer: normalizer,
		ledger:     opts.Ledger,
		events:     opts.Events,
		observer:   observer,
		indexer:    opts.Indexer,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// tenantRun holds the state of one RunTenant invocation.
type tenantRun struct {
	ws       domain.Workspace
	report   *domain.RunReport
	logger   *slog.Logger
	segments []domain.Segment
	loaded   bool
}

func (r *PipelineRunner) RunTenant(ctx context.Context, tenant domain.Tenant) (domain.RunReport, error) {
	report := domain.RunReport{
		RunID:     uuid.NewString(),
		Tenant:    tenant,
		StartedAt: r.now(),
	}

	ws, err := r.store.EnsureWorkspace(ctx, tenant)
	if err != nil {
		return r.finish(report), fmt.Errorf("prepare workspace: %w", err)
	}
	items, err := r.store.ListQueue(ctx, ws)
	if err != nil {
		return r.finish(report), fmt.Errorf("list queue: %w", err)
	}
	report.Queued = len(items)

	if len(items) == 0 {
		if err := r.store.WriteProgressMarker(ctx, ws, ""); err != nil {
			return r.finish(report), fmt.Errorf("reset progress marker: %w", err)
		}
		return r.finish(report), nil
	}

	run := &tenantRun{
		ws:     ws,
		report: &report,
		logger: r.logger.With("tenant", tenant, "run_id", report.RunID),
	}
	defer func() {
		// The marker reads empty whenever no item is in flight, including
		// after an aborted run.
		if err := r.store.WriteProgressMarker(context.WithoutCancel(ctx), ws, ""); err != nil {
			run.logger.Warn("progress marker reset failed", "error", err)
		}
	}()
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return r.finish(report), err
		}
		if err := r.runItem(ctx, run, item); err != nil {
			return r.finish(report), err
		}
	}

	if report.Committed > 0 && r.indexer != nil {
		if n, err := r.indexer.Rebuild(ctx, ws); err != nil {
			run.logger.Warn("context index rebuild failed", "error", err)
		} else {
			run.logger.Debug("context index rebuilt", "files", n)
		}
	}

	run.logger.Info("tenant run finished",
		"queued", report.Queued,
		"committed", report.Committed,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return r.finish(report), nil
}

func (r *PipelineRunner) finish(report domain.RunReport) domain.RunReport {
	report.FinishedAt = r.now()
	return report
}

// runItem processes one queue item. It returns an error only when the whole
// invocation must stop.
func (r *PipelineRunner) runItem(ctx context.Context, run *tenantRun, item domain.FileRef) error {
	logger := run.logger.With("item", item.Name)
	if err := r.store.WriteProgressMarker(ctx, run.ws, item.Name); err != nil {
		return fmt.Errorf("set progress marker: %w", err)
	}

	started := r.now()
	r.observer.ItemStarted()
	outcome, err := r.processItem(ctx, run, item, logger)
	r.observer.ItemFinished(outcome, r.now().Sub(started))
	run.report.Record(outcome)
	if err != nil {
		return err
	}

	if err := r.store.WriteProgressMarker(ctx, run.ws, ""); err != nil {
		logger.Warn("progress marker reset failed", "error", err)
	}
	return nil
}

func (r *PipelineRunner) processItem(ctx context.Context, run *tenantRun, item domain.FileRef, logger *slog.Logger) (domain.ItemOutcome, error) {
	text, err := r.extractor.Extract(ctx, item)
	if err != nil {
		if domain.IsKind(err, domain.ErrUnsupported) {
			logger.Info("queue item skipped, unsupported format")
			return domain.OutcomeSkippedUnsupported, nil
		}
		logger.Error("queue item extraction failed", "error", err)
		if domain.IsKind(err, domain.ErrStorage) {
			return domain.OutcomeFailedStorage, nil
		}
		return domain.OutcomeFailedExtraction, nil
	}

	segments, err := r.contextSegments(ctx, run)
	if err != nil {
		return domain.OutcomeFailedStorage, fmt.Errorf("assemble context: %w", err)
	}

	responses, err := r.completion.Complete(ctx, segments, item.Name, text)
	if err != nil {
		logger.Error("queue item completion failed", "error", err)
		return domain.OutcomeFailedCompletion, nil
	}

	annotation := r.normalizer.Normalize(responses)
	if annotation.Fallbacks > 0 {
		r.observer.NormalizationFallback(annotation.Fallbacks)
		logger.Warn("completion output stored as raw text", "fallbacks", annotation.Fallbacks)
	}

	if err := r.store.WriteAnnotation(ctx, run.ws, item.Name, annotation.Body); err != nil {
		logger.Error("annotation write failed", "error", err)
		return domain.OutcomeFailedStorage, nil
	}
	if err := r.store.CommitItem(ctx, run.ws, item.Name); err != nil {
		logger.Error("queue item commit failed", "error", err)
		return domain.OutcomeFailedStorage, nil
	}

	r.publishCommit(ctx, run, item.Name, annotation, logger)
	logger.Info("queue item committed", "chunks", len(responses), "structured", annotation.Structured)
	return domain.OutcomeCommitted, nil
}

func (r *PipelineRunner) contextSegments(ctx context.Context, run *tenantRun) ([]domain.Segment, error) {
	if run.loaded {
		return run.segments, nil
	}
	segments, err := r.assembler.Assemble(ctx, run.ws)
	if err != nil {
		return nil, err
	}
	run.segments = segments
	run.loaded = true
	return segments, nil
}

func (r *PipelineRunner) publishCommit(ctx context.Context, run *tenantRun, itemName string, annotation domain.Annotation, logger *slog.Logger) {
	record := domain.CommitRecord{
		RunID:          run.report.RunID,
		Tenant:         run.ws.Tenant,
		FileName:       itemName,
		AnnotationFile: domain.AnnotationName(itemName),
		Structured:     annotation.Structured,
		CommittedAt:    r.now(),
	}
	if len(annotation.Records) > 0 {
		first := annotation.Records[0]
		record.Description = first.Description
		record.Tags = first.Tags
		record.SuggestedPath = first.SuggestedFilePath
	}

	if r.ledger != nil {
		if err := r.ledger.RecordCommit(ctx, record); err != nil {
			logger.Warn("ledger record failed", "error", err)
		}
	}
	if r.events != nil {
		if err := r.events.PublishItemCommitted(ctx, record); err != nil {
			logger.Warn("commit event publish failed", "error", err)
		}
	}
}
