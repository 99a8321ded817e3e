package usecase

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/file-organiser/internal/core/domain"
	"github.com/kirillkom/file-organiser/internal/infrastructure/chunking"
	"github.com/kirillkom/file-organiser/internal/infrastructure/extractor"
	"github.com/kirillkom/file-organiser/internal/infrastructure/storage/localfs"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testInstruction = domain.Instruction{
	Preamble: "You organise uploaded files.",
	Rules:    []string{"Return JSON with file_name, description, tags and suggested_file_path."},
}

type providerFake struct {
	mu       sync.Mutex
	requests []domain.CompletionRequest
	respond  func(req domain.CompletionRequest) (string, error)
}

func (f *providerFake) Name() string { return "fake" }

func (f *providerFake) Complete(_ context.Context, req domain.CompletionRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.respond == nil {
		return `{"ok":true}`, nil
	}
	return f.respond(req)
}

func (f *providerFake) calls() []domain.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.CompletionRequest(nil), f.requests...)
}

type observerFake struct {
	mu        sync.Mutex
	started   int
	outcomes  []domain.ItemOutcome
	fallbacks int
	ticks     int
}

func (o *observerFake) ItemStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *observerFake) ItemFinished(outcome domain.ItemOutcome, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *observerFake) NormalizationFallback(count int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fallbacks += count
}

func (o *observerFake) TickFinished(int, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ticks++
}

// crashingStore fails CommitItem while crash is set, as if the process died
// between the annotation write and the move. contextErr fails context listing.
type crashingStore struct {
	*localfs.Store
	crash      bool
	contextErr error
}

func (s *crashingStore) ListContext(ctx context.Context, ws domain.Workspace) ([]domain.FileRef, error) {
	if s.contextErr != nil {
		return nil, s.contextErr
	}
	return s.Store.ListContext(ctx, ws)
}

func (s *crashingStore) CommitItem(ctx context.Context, ws domain.Workspace, itemName string) error {
	if s.crash {
		return domain.WrapError(domain.ErrStorage, "commit item", io.ErrUnexpectedEOF)
	}
	return s.Store.CommitItem(ctx, ws, itemName)
}

type ledgerFake struct {
	records []domain.CommitRecord
	err     error
}

func (l *ledgerFake) RecordCommit(_ context.Context, record domain.CommitRecord) error {
	l.records = append(l.records, record)
	return l.err
}

type pipelineFixture struct {
	store    *crashingStore
	provider *providerFake
	observer *observerFake
	ledger   *ledgerFake
	runner   *PipelineRunner
}

func newPipeline(t *testing.T, maxChars int, withIndexer bool) *pipelineFixture {
	t.Helper()
	base, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New() error = %v", err)
	}
	store := &crashingStore{Store: base}
	registry := extractor.NewDefaultRegistry(store, 0)
	splitter := chunking.NewSplitter(maxChars)
	logger := discardLogger()

	fx := &pipelineFixture{
		store:    store,
		provider: &providerFake{},
		observer: &observerFake{},
		ledger:   &ledgerFake{},
	}
	opts := RunnerOptions{Ledger: fx.ledger, Observer: fx.observer}
	if withIndexer {
		opts.Indexer = NewContextIndexer(store, logger)
	}
	fx.runner = NewPipelineRunner(
		store,
		registry,
		NewContextAssembler(store, registry, splitter, testInstruction, logger),
		NewChunkedCompletion(fx.provider, splitter, 0, logger),
		NewNormalizer(),
		opts,
		logger,
	)
	return fx
}

func (fx *pipelineFixture) workspace(t *testing.T, tenant domain.Tenant) domain.Workspace {
	t.Helper()
	ws, err := fx.store.EnsureWorkspace(context.Background(), tenant)
	if err != nil {
		t.Fatalf("EnsureWorkspace() error = %v", err)
	}
	return ws
}

func writeTestFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func readTestFile(t *testing.T, path string) string {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(raw)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func readMarker(t *testing.T, ws domain.Workspace) string {
	t.Helper()
	var marker domain.ProgressMarker
	if err := json.Unmarshal([]byte(readTestFile(t, filepath.Join(ws.ContextDir, domain.ProgressMarkerFile))), &marker); err != nil {
		t.Fatalf("decode marker: %v", err)
	}
	return marker.CurrentSystemFileName
}

// assertOrganizedInvariant checks that every organized original has its
// annotation sibling. Test items never use the .json extension.
func assertOrganizedInvariant(t *testing.T, ws domain.Workspace) {
	t.Helper()
	entries, err := os.ReadDir(ws.OrganizedDir)
	if err != nil {
		t.Fatalf("read organized: %v", err)
	}
	names := map[string]bool{}
	for _, entry := range entries {
		names[entry.Name()] = true
	}
	for name := range names {
		if !strings.HasSuffix(name, domain.AnnotationSuffix) && !names[domain.AnnotationName(name)] {
			t.Fatalf("organized file %s has no annotation", name)
		}
	}
}
