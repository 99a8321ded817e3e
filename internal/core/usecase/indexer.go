package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/kirillkom/file-organiser/internal/core/domain"
	"github.com/kirillkom/file-organiser/internal/core/ports"
)

const (
	OrganizedIndexFile = "organized_index.json"

	rawDescriptionLimit = 280
)

type IndexEntry struct {
	FileName          string   `json:"file_name"`
	Description       string   `json:"description,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	SuggestedFilePath string   `json:"suggested_file_path,omitempty"`
}

type OrganizedIndex struct {
	Tenant domain.Tenant         `json:"tenant"`
	Files  map[string]IndexEntry `json:"files"`
}

// ContextIndexer summarizes committed annotations into a context document so
// later requests see earlier placements.
type ContextIndexer struct {
	store  ports.WorkspaceStore
	logger *slog.Logger
}

func NewContextIndexer(store ports.WorkspaceStore, logger *slog.Logger) *ContextIndexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextIndexer{store: store, logger: logger}
}

// Rebuild rewrites the index from scratch and returns the number of files in it.
func (i *ContextIndexer) Rebuild(ctx context.Context, ws domain.Workspace) (int, error) {
	refs, err := i.store.ListOrganized(ctx, ws)
	if err != nil {
		return 0, fmt.Errorf("list organized files: %w", err)
	}

	annotations := make(map[string]domain.FileRef, len(refs))
	for _, ref := range refs {
		annotations[ref.Name] = ref
	}

	index := OrganizedIndex{Tenant: ws.Tenant, Files: make(map[string]IndexEntry)}
	for _, ref := range refs {
		annotationRef, ok := annotations[domain.AnnotationName(ref.Name)]
		if !ok {
			continue
		}
		entry, err := i.readEntry(ctx, ref.Name, annotationRef)
		if err != nil {
			i.logger.Warn("annotation skipped in context index",
				"tenant", ws.Tenant,
				"item", ref.Name,
				"error", err,
			)
			continue
		}
		index.Files[ref.Name] = entry
	}

	body, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("marshal organized index: %w", err)
	}
	if err := i.store.WriteContextDocument(ctx, ws, OrganizedIndexFile, body); err != nil {
		return 0, fmt.Errorf("write organized index: %w", err)
	}
	return len(index.Files), nil
}

func (i *ContextIndexer) readEntry(ctx context.Context, itemName string, ref domain.FileRef) (IndexEntry, error) {
	reader, err := i.store.Open(ctx, ref)
	if err != nil {
		return IndexEntry{}, err
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return IndexEntry{}, fmt.Errorf("read annotation: %w", err)
	}

	entry := IndexEntry{FileName: itemName}
	if records := decodeRecords(raw); len(records) > 0 {
		first := records[0]
		entry.Description = first.Description
		entry.Tags = first.Tags
		entry.SuggestedFilePath = first.SuggestedFilePath
		return entry, nil
	}
	entry.Description = truncateRunes(strings.TrimSpace(string(raw)), rawDescriptionLimit)
	return entry, nil
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
