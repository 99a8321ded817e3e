package extractor

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/file-organiser/internal/core/domain"
)

type fakeOpener struct {
	files map[string]string
}

func (f *fakeOpener) Open(_ context.Context, ref domain.FileRef) (io.ReadCloser, error) {
	body, ok := f.files[ref.Name]
	if !ok {
		return nil, domain.WrapError(domain.ErrStorage, "open", io.ErrUnexpectedEOF)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func ref(name, body string) domain.FileRef {
	return domain.FileRef{Name: name, Path: "/q/" + name, Size: int64(len(body))}
}

func TestExtractPlainTextVerbatim(t *testing.T) {
	body := "  line one\n\nline two  \n"
	r := NewDefaultRegistry(&fakeOpener{files: map[string]string{"notes.TXT": body}}, 0)

	text, err := r.Extract(context.Background(), ref("notes.TXT", body))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text != body {
		t.Fatalf("expected verbatim text, got %q", text)
	}
}

func TestExtractUnknownExtensionIsUnsupported(t *testing.T) {
	r := NewDefaultRegistry(&fakeOpener{files: map[string]string{"scan.png": "\x89PNG"}}, 0)

	_, err := r.Extract(context.Background(), ref("scan.png", "\x89PNG"))
	if !domain.IsKind(err, domain.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if r.Supports("scan.png") {
		t.Fatalf("png must not be supported")
	}
}

func TestExtractInvalidUTF8IsExtractionError(t *testing.T) {
	body := "ok\xff\xfe"
	r := NewDefaultRegistry(&fakeOpener{files: map[string]string{"bad.txt": body}}, 0)

	_, err := r.Extract(context.Background(), ref("bad.txt", body))
	if !domain.IsKind(err, domain.ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
}

func TestExtractRejectsOversizedFile(t *testing.T) {
	body := strings.Repeat("a", 64)
	r := NewDefaultRegistry(&fakeOpener{files: map[string]string{"big.txt": body}}, 16)

	_, err := r.Extract(context.Background(), ref("big.txt", body))
	if !domain.IsKind(err, domain.ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}

	// Size reported smaller than the real content.
	lying := domain.FileRef{Name: "big.txt", Path: "/q/big.txt", Size: 1}
	_, err = r.Extract(context.Background(), lying)
	if !domain.IsKind(err, domain.ErrExtraction) {
		t.Fatalf("expected ErrExtraction for short size, got %v", err)
	}
}

func TestExtractPropagatesStorageErrors(t *testing.T) {
	r := NewDefaultRegistry(&fakeOpener{files: map[string]string{}}, 0)

	_, err := r.Extract(context.Background(), ref("gone.md", "x"))
	if !domain.IsKind(err, domain.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
}

func TestExtractCorruptPDFIsExtractionError(t *testing.T) {
	body := "%PDF-1.4 not really"
	r := NewDefaultRegistry(&fakeOpener{files: map[string]string{"doc.pdf": body}}, 0)

	_, err := r.Extract(context.Background(), ref("doc.pdf", body))
	if !domain.IsKind(err, domain.ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
}

func TestExtensionsIncludesBuiltins(t *testing.T) {
	r := NewDefaultRegistry(&fakeOpener{}, 0)
	exts := strings.Join(r.Extensions(), " ")
	for _, want := range []string{".csv", ".docx", ".html", ".json", ".md", ".pdf", ".xlsx"} {
		if !strings.Contains(exts, want) {
			t.Fatalf("expected %s in %s", want, exts)
		}
	}
}
