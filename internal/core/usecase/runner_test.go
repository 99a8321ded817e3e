package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/file-organiser/internal/core/domain"
)

const aliceResponse = `{"file_name":"notes.txt","description":"test","tags":["x"],"suggested_file_path":"notes/x.txt"}`

const alicePretty = `{
  "file_name": "notes.txt",
  "description": "test",
  "tags": [
    "x"
  ],
  "suggested_file_path": "notes/x.txt"
}`

// alicePrefs is exactly 50 bytes.
const alicePrefs = `{"language":"en","folders":["notes","work","all"]}`

func seedAlice(t *testing.T, fx *pipelineFixture) domain.Workspace {
	t.Helper()
	if len(alicePrefs) != 50 {
		t.Fatalf("prefs fixture is %d bytes", len(alicePrefs))
	}
	ws := fx.workspace(t, "alice")
	writeTestFile(t, ws.ContextDir, "prefs.json", alicePrefs)
	writeTestFile(t, ws.QueueDir, "notes.txt", "hello note")
	return ws
}

func TestRunTenantEmptyQueueOnlyResetsMarker(t *testing.T) {
	fx := newPipeline(t, 0, true)
	ws := fx.workspace(t, "bob")

	report, err := fx.runner.RunTenant(context.Background(), "bob")
	if err != nil {
		t.Fatalf("RunTenant() error = %v", err)
	}
	if report.Queued != 0 || report.Committed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if readMarker(t, ws) != "" {
		t.Fatalf("expected empty marker")
	}
	if len(fx.provider.calls()) != 0 {
		t.Fatalf("provider must not be called for an empty queue")
	}
	entries, _ := os.ReadDir(ws.OrganizedDir)
	if len(entries) != 0 {
		t.Fatalf("expected organized to stay empty, got %d entries", len(entries))
	}
	contextEntries, _ := os.ReadDir(ws.ContextDir)
	if len(contextEntries) != 1 {
		t.Fatalf("expected only the progress marker in context, got %d entries", len(contextEntries))
	}
}

func TestRunTenantAliceCommitsAnnotatedItem(t *testing.T) {
	fx := newPipeline(t, 0, false)
	ws := seedAlice(t, fx)
	fx.provider.respond = func(domain.CompletionRequest) (string, error) {
		if marker := readMarker(t, ws); marker != "notes.txt" {
			t.Errorf("expected marker notes.txt during completion, got %q", marker)
		}
		return aliceResponse, nil
	}

	report, err := fx.runner.RunTenant(context.Background(), "alice")
	if err != nil {
		t.Fatalf("RunTenant() error = %v", err)
	}
	if report.Queued != 1 || report.Committed != 1 || report.Failed != 0 || report.RunID == "" {
		t.Fatalf("unexpected report %+v", report)
	}

	if fileExists(filepath.Join(ws.QueueDir, "notes.txt")) {
		t.Fatalf("expected queue to be empty")
	}
	if got := readTestFile(t, filepath.Join(ws.OrganizedDir, "notes.txt")); got != "hello note" {
		t.Fatalf("unexpected organized original %q", got)
	}
	if got := readTestFile(t, filepath.Join(ws.OrganizedDir, "notes.txt.json")); got != alicePretty {
		t.Fatalf("unexpected annotation:\n%s", got)
	}
	if readMarker(t, ws) != "" {
		t.Fatalf("expected marker reset after commit")
	}
	assertOrganizedInvariant(t, ws)

	calls := fx.provider.calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 completion request, got %d", len(calls))
	}
	req := calls[0]
	if len(req.Segments) != 2 || req.Segments[0].Source != domain.InstructionSource || req.Segments[1].Source != "prefs.json" {
		t.Fatalf("unexpected segments %+v", req.Segments)
	}
	if req.Segments[1].Text != alicePrefs || req.Item.Source != "notes.txt" || req.Item.Text != "hello note" {
		t.Fatalf("unexpected request %+v", req)
	}

	if len(fx.ledger.records) != 1 {
		t.Fatalf("expected one ledger record, got %d", len(fx.ledger.records))
	}
	rec := fx.ledger.records[0]
	if rec.FileName != "notes.txt" || rec.AnnotationFile != "notes.txt.json" || rec.SuggestedPath != "notes/x.txt" || !rec.Structured {
		t.Fatalf("unexpected ledger record %+v", rec)
	}
}

func TestRunTenantStoresRawTextWhenOutputIsNotJSON(t *testing.T) {
	fx := newPipeline(t, 0, false)
	ws := seedAlice(t, fx)
	fx.provider.respond = func(domain.CompletionRequest) (string, error) {
		return "I could not decide on a folder.", nil
	}

	if _, err := fx.runner.RunTenant(context.Background(), "alice"); err != nil {
		t.Fatalf("RunTenant() error = %v", err)
	}
	if got := readTestFile(t, filepath.Join(ws.OrganizedDir, "notes.txt.json")); got != "I could not decide on a folder." {
		t.Fatalf("unexpected raw annotation %q", got)
	}
	if fx.observer.fallbacks != 1 {
		t.Fatalf("expected one normalization fallback, got %d", fx.observer.fallbacks)
	}
	if fx.ledger.records[0].Structured {
		t.Fatalf("raw annotation must not be marked structured")
	}
}

func TestRunTenantFencedResponseRoundTrip(t *testing.T) {
	fx := newPipeline(t, 0, false)
	ws := seedAlice(t, fx)
	fx.provider.respond = func(domain.CompletionRequest) (string, error) {
		return "```json\n" + aliceResponse + "\n```", nil
	}

	if _, err := fx.runner.RunTenant(context.Background(), "alice"); err != nil {
		t.Fatalf("RunTenant() error = %v", err)
	}
	if got := readTestFile(t, filepath.Join(ws.OrganizedDir, "notes.txt.json")); got != alicePretty {
		t.Fatalf("unexpected annotation:\n%s", got)
	}
}

func TestRunTenantCrashBetweenAnnotationAndMove(t *testing.T) {
	fx := newPipeline(t, 0, false)
	ws := seedAlice(t, fx)
	fx.provider.respond = func(domain.CompletionRequest) (string, error) { return aliceResponse, nil }
	fx.store.crash = true

	report, err := fx.runner.RunTenant(context.Background(), "alice")
	if err != nil {
		t.Fatalf("RunTenant() error = %v", err)
	}
	if report.Committed != 0 || report.Failed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if !fileExists(filepath.Join(ws.QueueDir, "notes.txt")) {
		t.Fatalf("item must stay queued after a failed move")
	}
	if fileExists(filepath.Join(ws.OrganizedDir, "notes.txt")) {
		t.Fatalf("original must not reach organized")
	}
	assertOrganizedInvariant(t, ws)

	// The next cycle reprocesses the item and overwrites the orphan annotation.
	fx.store.crash = false
	fx.provider.respond = func(domain.CompletionRequest) (string, error) {
		return `{"file_name":"notes.txt","description":"second"}`, nil
	}
	report, err = fx.runner.RunTenant(context.Background(), "alice")
	if err != nil {
		t.Fatalf("second RunTenant() error = %v", err)
	}
	if report.Committed != 1 {
		t.Fatalf("expected commit on retry, got %+v", report)
	}
	if got := readTestFile(t, filepath.Join(ws.OrganizedDir, "notes.txt.json")); !strings.Contains(got, `"second"`) {
		t.Fatalf("expected overwritten annotation, got %s", got)
	}
	assertOrganizedInvariant(t, ws)
}

func TestRunTenantUnsupportedItemIsNeverMoved(t *testing.T) {
	fx := newPipeline(t, 0, false)
	ws := seedAlice(t, fx)
	writeTestFile(t, ws.QueueDir, "scan.png", "\x89PNG\r\n")
	fx.provider.respond = func(domain.CompletionRequest) (string, error) { return aliceResponse, nil }

	for i := 0; i < 2; i++ {
		report, err := fx.runner.RunTenant(context.Background(), "alice")
		if err != nil {
			t.Fatalf("RunTenant() error = %v", err)
		}
		if report.Skipped != 1 {
			t.Fatalf("run %d: expected png skipped, got %+v", i, report)
		}
	}
	if !fileExists(filepath.Join(ws.QueueDir, "scan.png")) {
		t.Fatalf("unsupported item must stay queued")
	}
	if fileExists(filepath.Join(ws.OrganizedDir, "scan.png")) || fileExists(filepath.Join(ws.OrganizedDir, "scan.png.json")) {
		t.Fatalf("unsupported item must not be committed")
	}
	if !fileExists(filepath.Join(ws.OrganizedDir, "notes.txt")) {
		t.Fatalf("supported item must still be committed")
	}
	for _, req := range fx.provider.calls() {
		if req.Item.Source == "scan.png" {
			t.Fatalf("unsupported item must not reach the provider")
		}
	}
}

func TestRunTenantFailingItemDoesNotBlockOthers(t *testing.T) {
	fx := newPipeline(t, 0, false)
	ws := seedAlice(t, fx)
	writeTestFile(t, ws.QueueDir, "a-broken.txt", "will fail")
	writeTestFile(t, ws.QueueDir, "b-binary.txt", "bad\xff\xfe")
	fx.provider.respond = func(req domain.CompletionRequest) (string, error) {
		if req.Item.Source == "a-broken.txt" {
			return "", errors.New("upstream 500")
		}
		return aliceResponse, nil
	}

	report, err := fx.runner.RunTenant(context.Background(), "alice")
	if err != nil {
		t.Fatalf("RunTenant() error = %v", err)
	}
	if report.Queued != 3 || report.Committed != 1 || report.Failed != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	for _, name := range []string{"a-broken.txt", "b-binary.txt"} {
		if !fileExists(filepath.Join(ws.QueueDir, name)) {
			t.Fatalf("%s must stay queued", name)
		}
		if fileExists(filepath.Join(ws.OrganizedDir, domain.AnnotationName(name))) {
			t.Fatalf("%s must not have an annotation", name)
		}
	}
	want := []domain.ItemOutcome{domain.OutcomeFailedCompletion, domain.OutcomeFailedExtraction, domain.OutcomeCommitted}
	if len(fx.observer.outcomes) != len(want) {
		t.Fatalf("unexpected outcomes %v", fx.observer.outcomes)
	}
	for i := range want {
		if fx.observer.outcomes[i] != want[i] {
			t.Fatalf("outcome %d = %s, want %s", i, fx.observer.outcomes[i], want[i])
		}
	}
	if readMarker(t, ws) != "" {
		t.Fatalf("expected marker reset")
	}
}

func TestRunTenantAssemblesContextOncePerInvocation(t *testing.T) {
	fx := newPipeline(t, 0, false)
	ws := seedAlice(t, fx)
	writeTestFile(t, ws.QueueDir, "second.md", "# second")
	fx.provider.respond = func(req domain.CompletionRequest) (string, error) {
		// Context written mid-run is not seen until the next invocation.
		writeTestFile(t, ws.ContextDir, "late.txt", "late")
		return `{"file_name":"` + req.Item.Source + `"}`, nil
	}

	if _, err := fx.runner.RunTenant(context.Background(), "alice"); err != nil {
		t.Fatalf("RunTenant() error = %v", err)
	}
	calls := fx.provider.calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(calls))
	}
	for _, req := range calls {
		if len(req.Segments) != 2 {
			t.Fatalf("expected the same two segments for every item, got %+v", req.Segments)
		}
	}
}

func TestRunTenantMultiChunkItem(t *testing.T) {
	fx := newPipeline(t, 10, false)
	ws := fx.workspace(t, "alice")
	writeTestFile(t, ws.QueueDir, "long.txt", "aaaaaaaaaabbbbbbbbbbccccc")
	fx.provider.respond = func(req domain.CompletionRequest) (string, error) {
		return `{"chunk":` + string(rune('0'+req.Item.Index)) + `}`, nil
	}

	if _, err := fx.runner.RunTenant(context.Background(), "alice"); err != nil {
		t.Fatalf("RunTenant() error = %v", err)
	}

	calls := fx.provider.calls()
	if len(calls) != 3 {
		t.Fatalf("expected 3 chunk requests, got %d", len(calls))
	}
	for i, req := range calls {
		if req.Item.Index != i+1 || req.Item.Total != 3 {
			t.Fatalf("request %d has item %+v", i, req.Item)
		}
		if len(req.Segments) != 1 || req.Segments[0].Source != domain.InstructionSource {
			t.Fatalf("request %d must carry the full context set, got %+v", i, req.Segments)
		}
	}
	if calls[0].Item.Text != "aaaaaaaaaa" || calls[2].Item.Text != "ccccc" {
		t.Fatalf("unexpected chunk order: %q, %q", calls[0].Item.Text, calls[2].Item.Text)
	}

	want := "[\n  {\n    \"chunk\": 1\n  },\n  {\n    \"chunk\": 2\n  },\n  {\n    \"chunk\": 3\n  }\n]"
	if got := readTestFile(t, filepath.Join(ws.OrganizedDir, "long.txt.json")); got != want {
		t.Fatalf("unexpected annotation:\n%s", got)
	}
}

func TestRunTenantRebuildsContextIndex(t *testing.T) {
	fx := newPipeline(t, 0, true)
	ws := seedAlice(t, fx)
	fx.provider.respond = func(domain.CompletionRequest) (string, error) { return aliceResponse, nil }

	if _, err := fx.runner.RunTenant(context.Background(), "alice"); err != nil {
		t.Fatalf("RunTenant() error = %v", err)
	}
	index := readTestFile(t, filepath.Join(ws.ContextDir, OrganizedIndexFile))
	if !strings.Contains(index, `"notes/x.txt"`) || !strings.Contains(index, `"notes.txt"`) {
		t.Fatalf("unexpected index %s", index)
	}
}

func TestRunTenantRejectsInvalidTenant(t *testing.T) {
	fx := newPipeline(t, 0, false)
	_, err := fx.runner.RunTenant(context.Background(), "../etc")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRunTenantAbortedRunResetsMarker(t *testing.T) {
	fx := newPipeline(t, 0, false)
	ws := seedAlice(t, fx)
	fx.store.contextErr = domain.WrapError(domain.ErrStorage, "list context", errors.New("disk gone"))

	if _, err := fx.runner.RunTenant(context.Background(), "alice"); err == nil {
		t.Fatalf("expected the run to abort on a context listing failure")
	}
	if marker := readMarker(t, ws); marker != "" {
		t.Fatalf("expected empty marker after aborted run, got %q", marker)
	}
	if !fileExists(filepath.Join(ws.QueueDir, "notes.txt")) {
		t.Fatalf("expected item to stay queued")
	}
	if len(fx.provider.calls()) != 0 {
		t.Fatalf("provider must not be called without context")
	}
}

func TestTickWithOnlyUnsupportedItemCallsNoProvider(t *testing.T) {
	fx := newPipeline(t, 0, false)
	ws := fx.workspace(t, "alice")
	writeTestFile(t, ws.QueueDir, "image.png", "\x89PNG\r\n\x1a\n")

	s, err := NewScheduler(fx.store, fx.runner, SchedulerConfig{
		Interval:          time.Minute,
		TenantConcurrency: 1,
		TriggerPoolSize:   1,
	}, fx.observer, discardLogger())
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close(time.Second) })

	report := s.Tick(context.Background())
	if report.Failed != 0 || len(report.Runs) != 1 || report.Runs[0].Skipped != 1 || report.Runs[0].Committed != 0 {
		t.Fatalf("unexpected tick report %+v", report)
	}
	if len(fx.provider.calls()) != 0 {
		t.Fatalf("expected no completion requests, got %d", len(fx.provider.calls()))
	}
	if fileExists(filepath.Join(ws.OrganizedDir, "image.png.json")) || fileExists(filepath.Join(ws.OrganizedDir, "image.png")) {
		t.Fatalf("unsupported item must not be organized")
	}
	if !fileExists(filepath.Join(ws.QueueDir, "image.png")) {
		t.Fatalf("expected image.png to stay queued")
	}
	if readMarker(t, ws) != "" {
		t.Fatalf("expected empty marker")
	}
}
