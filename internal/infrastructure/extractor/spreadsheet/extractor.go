package spreadsheet

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var Extensions = []string{".csv", ".tsv", ".xlsx", ".xlsm"}

// Decoder flattens tabular files into comma-joined lines, one per row.
type Decoder struct{}

func NewDecoder() *Decoder {
	return &Decoder{}
}

func (d *Decoder) Decode(ctx context.Context, name string, raw []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return decodeDelimited(raw, ',')
	case ".tsv":
		return decodeDelimited(raw, '\t')
	case ".xlsx", ".xlsm":
		return decodeWorkbook(ctx, raw)
	default:
		return "", fmt.Errorf("no tabular decoder for %s", name)
	}
}

func decodeDelimited(raw []byte, comma rune) (string, error) {
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var b strings.Builder
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read delimited row: %w", err)
		}
		writeRow(&b, record)
	}
	return b.String(), nil
}

func decodeWorkbook(ctx context.Context, raw []byte) (string, error) {
	book, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer func() {
		_ = book.Close()
	}()

	sheets := book.GetSheetList()
	var b strings.Builder
	for _, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rows, err := book.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		b.WriteString("# Sheet: ")
		b.WriteString(sheet)
		b.WriteByte('\n')
		for _, row := range rows {
			writeRow(&b, row)
		}
	}
	return b.String(), nil
}

func writeRow(b *strings.Builder, row []string) {
	b.WriteString(strings.Join(row, ","))
	b.WriteByte('\n')
}
