package extractor

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kirillkom/file-organiser/internal/core/domain"
	"github.com/kirillkom/file-organiser/internal/infrastructure/extractor/docx"
	"github.com/kirillkom/file-organiser/internal/infrastructure/extractor/html"
	"github.com/kirillkom/file-organiser/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/file-organiser/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/file-organiser/internal/infrastructure/extractor/spreadsheet"
)

// Decoder turns the raw bytes of one file format into plain text.
type Decoder interface {
	Decode(ctx context.Context, name string, raw []byte) (string, error)
}

type Opener interface {
	Open(ctx context.Context, ref domain.FileRef) (io.ReadCloser, error)
}

const DefaultMaxFileBytes int64 = 32 << 20

// Registry implements ports.TextExtractor by dispatching on the lowercase
// file extension.
type Registry struct {
	opener   Opener
	maxBytes int64
	decoders map[string]Decoder
}

func NewRegistry(opener Opener, maxBytes int64) *Registry {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}
	return &Registry{
		opener:   opener,
		maxBytes: maxBytes,
		decoders: make(map[string]Decoder),
	}
}

// NewDefaultRegistry registers every built-in format.
func NewDefaultRegistry(opener Opener, maxBytes int64) *Registry {
	r := NewRegistry(opener, maxBytes)
	r.Register(plaintext.NewDecoder(), plaintext.Extensions...)
	r.Register(spreadsheet.NewDecoder(), spreadsheet.Extensions...)
	r.Register(pdf.NewDecoder(), pdf.Extensions...)
	r.Register(docx.NewDecoder(), docx.Extensions...)
	r.Register(html.NewDecoder(), html.Extensions...)
	return r
}

func (r *Registry) Register(decoder Decoder, extensions ...string) {
	for _, ext := range extensions {
		r.decoders[strings.ToLower(ext)] = decoder
	}
}

func (r *Registry) Supports(name string) bool {
	_, ok := r.decoders[strings.ToLower(filepath.Ext(name))]
	return ok
}

func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.decoders))
	for ext := range r.decoders {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Extract(ctx context.Context, ref domain.FileRef) (string, error) {
	ext := strings.ToLower(filepath.Ext(ref.Name))
	decoder, ok := r.decoders[ext]
	if !ok {
		return "", domain.WrapError(domain.ErrUnsupported, "extract text", fmt.Errorf("no extractor for %q (%s)", ext, ref.Name))
	}
	if ref.Size > r.maxBytes {
		return "", domain.WrapError(domain.ErrExtraction, "extract text", fmt.Errorf("%s is %d bytes, limit %d", ref.Name, ref.Size, r.maxBytes))
	}

	reader, err := r.opener.Open(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(io.LimitReader(reader, r.maxBytes+1))
	if err != nil {
		return "", domain.WrapError(domain.ErrExtraction, "read source document", err)
	}
	if int64(len(raw)) > r.maxBytes {
		return "", domain.WrapError(domain.ErrExtraction, "extract text", fmt.Errorf("%s exceeds %d bytes", ref.Name, r.maxBytes))
	}

	text, err := decoder.Decode(ctx, ref.Name, raw)
	if err != nil {
		return "", domain.WrapError(domain.ErrExtraction, "extract text", err)
	}
	return text, nil
}
