package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var Extensions = []string{".pdf"}

var disableConfigDir sync.Once

// Decoder validates a PDF with pdfcpu and extracts page text with
// ledongthuc/pdf. Layout and images are discarded.
type Decoder struct{}

func NewDecoder() *Decoder {
	disableConfigDir.Do(func() {
		model.ConfigPath = "disable"
	})
	return &Decoder{}
}

func (d *Decoder) Decode(ctx context.Context, name string, raw []byte) (string, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.Validate(bytes.NewReader(raw), conf); err != nil {
		return "", fmt.Errorf("validate pdf %s: %w", name, err)
	}
	return extractText(ctx, raw)
}

func extractText(ctx context.Context, raw []byte) (text string, err error) {
	// ledongthuc/pdf panics on some malformed content streams.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decode pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var b strings.Builder
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("read page %d: %w", pageNum, err)
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(pageText)
	}
	return b.String(), nil
}
