package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/file-organiser/internal/core/domain"
)

// WorkspaceStore owns the per-tenant queue/context/organized layout.
// Workspace resolves paths only; missing directories list as empty.
type WorkspaceStore interface {
	Workspace(tenant domain.Tenant) domain.Workspace
	EnsureWorkspace(ctx context.Context, tenant domain.Tenant) (domain.Workspace, error)
	ListTenants(ctx context.Context) ([]domain.Tenant, error)
	ListQueue(ctx context.Context, ws domain.Workspace) ([]domain.FileRef, error)
	ListContext(ctx context.Context, ws domain.Workspace) ([]domain.FileRef, error)
	ListOrganized(ctx context.Context, ws domain.Workspace) ([]domain.FileRef, error)
	HasQueued(ctx context.Context, ws domain.Workspace) (bool, error)
	Open(ctx context.Context, ref domain.FileRef) (io.ReadCloser, error)
	WriteProgressMarker(ctx context.Context, ws domain.Workspace, itemName string) error
	WriteAnnotation(ctx context.Context, ws domain.Workspace, itemName string, body []byte) error
	CommitItem(ctx context.Context, ws domain.Workspace, itemName string) error
	WriteContextDocument(ctx context.Context, ws domain.Workspace, name string, body []byte) error
}

// TextExtractor converts a stored file into plain text. It returns
// domain.ErrUnsupported for formats outside the supported set.
type TextExtractor interface {
	Extract(ctx context.Context, ref domain.FileRef) (string, error)
}

// Chunker splits text into bounded-length segments.
type Chunker interface {
	Split(text string) []string
}

// CompletionProvider sends one request to an external completion service.
type CompletionProvider interface {
	Name() string
	Complete(ctx context.Context, req domain.CompletionRequest) (string, error)
}

// AnnotationLedger records committed items outside the workspace.
type AnnotationLedger interface {
	RecordCommit(ctx context.Context, record domain.CommitRecord) error
}

// EventPublisher announces committed items.
type EventPublisher interface {
	PublishItemCommitted(ctx context.Context, record domain.CommitRecord) error
}

// PipelineObserver receives pipeline measurements.
type PipelineObserver interface {
	ItemStarted()
	ItemFinished(outcome domain.ItemOutcome, duration time.Duration)
	NormalizationFallback(count int)
	TickFinished(tenants int, duration time.Duration)
}
