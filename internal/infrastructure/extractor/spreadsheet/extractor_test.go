package spreadsheet

import (
	"context"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestDecodeCSV(t *testing.T) {
	raw := []byte("name,age\n\"Smith, J\",42\nshort\n")
	text, err := NewDecoder().Decode(context.Background(), "people.csv", raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	want := "name,age\nSmith, J,42\nshort\n"
	if text != want {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestDecodeTSV(t *testing.T) {
	text, err := NewDecoder().Decode(context.Background(), "t.tsv", []byte("a\tb\n1\t2\n"))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if text != "a,b\n1,2\n" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestDecodeWorkbook(t *testing.T) {
	book := excelize.NewFile()
	defer book.Close()
	if err := book.SetCellValue("Sheet1", "A1", "item"); err != nil {
		t.Fatalf("set cell: %v", err)
	}
	if err := book.SetCellValue("Sheet1", "B1", "qty"); err != nil {
		t.Fatalf("set cell: %v", err)
	}
	if err := book.SetCellValue("Sheet1", "A2", "bolts"); err != nil {
		t.Fatalf("set cell: %v", err)
	}
	if err := book.SetCellValue("Sheet1", "B2", 12); err != nil {
		t.Fatalf("set cell: %v", err)
	}
	if _, err := book.NewSheet("Notes"); err != nil {
		t.Fatalf("new sheet: %v", err)
	}
	if err := book.SetCellValue("Notes", "A1", "reorder monthly"); err != nil {
		t.Fatalf("set cell: %v", err)
	}
	buf, err := book.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	text, err := NewDecoder().Decode(context.Background(), "stock.xlsx", buf.Bytes())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	want := "# Sheet: Sheet1\nitem,qty\nbolts,12\n# Sheet: Notes\nreorder monthly\n"
	if text != want {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestDecodeCorruptWorkbook(t *testing.T) {
	if _, err := NewDecoder().Decode(context.Background(), "x.xlsx", []byte("not a zip")); err == nil {
		t.Fatalf("expected error for corrupt workbook")
	}
}
