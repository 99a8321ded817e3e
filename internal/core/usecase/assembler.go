package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/file-organiser/internal/core/domain"
	"github.com/kirillkom/file-organiser/internal/core/ports"
)

// ContextAssembler builds the ordered segment list shared by every request
// of one tenant invocation.
type ContextAssembler struct {
	store       ports.WorkspaceStore
	extractor   ports.TextExtractor
	chunker     ports.Chunker
	instruction domain.Instruction
	logger      *slog.Logger
}

func NewContextAssembler(
	store ports.WorkspaceStore,
	extractor ports.TextExtractor,
	chunker ports.Chunker,
	instruction domain.Instruction,
	logger *slog.Logger,
) *ContextAssembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextAssembler{
		store:       store,
		extractor:   extractor,
		chunker:     chunker,
		instruction: instruction,
		logger:      logger,
	}
}

func (a *ContextAssembler) Assemble(ctx context.Context, ws domain.Workspace) ([]domain.Segment, error) {
	if a.instruction.IsEmpty() {
		return nil, domain.WrapError(domain.ErrConfiguration, "assemble context", fmt.Errorf("instruction template is empty"))
	}
	segments := []domain.Segment{a.instruction.Segment()}

	docs, err := a.store.ListContext(ctx, ws)
	if err != nil {
		return nil, fmt.Errorf("list context documents: %w", err)
	}

	for _, doc := range docs {
		text, err := a.extractor.Extract(ctx, doc)
		if err != nil {
			a.logger.Warn("context document skipped",
				"tenant", ws.Tenant,
				"document", doc.Name,
				"error", err,
			)
			continue
		}
		segments = append(segments, labelChunks(doc.Name, a.chunker.Split(text))...)
	}
	return segments, nil
}

// labelChunks numbers chunks of one source. Empty input still yields one
// empty segment so the source stays visible.
func labelChunks(source string, chunks []string) []domain.Segment {
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	out := make([]domain.Segment, 0, len(chunks))
	for i, chunk := range chunks {
		out = append(out, domain.Segment{
			Source: source,
			Index:  i + 1,
			Total:  len(chunks),
			Text:   chunk,
		})
	}
	return out
}
