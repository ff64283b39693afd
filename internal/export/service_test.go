package export

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/northpeak/invoice-tracker/internal/tracker"
)

type stubLister struct {
	items []tracker.Item
	err   error
}

func (s *stubLister) ListItems(context.Context) ([]tracker.Item, error) {
	return s.items, s.err
}

func TestExportValidatedXLSX(t *testing.T) {
	date := "2024-03-15"
	lister := &stubLister{items: []tracker.Item{
		{
			Filename:           "b.pdf",
			HumanValidated:     true,
			HumanCompanyName:   "ACME",
			HumanInvoiceNumber: "INV-2",
			HumanInvoiceDate:   &date,
			HumanTotalAmount:   20.5,
			HumanNotes:         "ok",
			AIConfidence:       0.85,
		},
		{Filename: "a.pdf", HumanValidated: true, HumanCompanyName: "Globex", HumanInvoiceNumber: "INV-1"},
		{Filename: "c.pdf", AIProcessed: true}, // not validated, excluded
	}}

	raw, err := NewService(lister, nil).ExportValidatedXLSX(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Invoices")
	if err != nil {
		t.Fatalf("get rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2 validated", len(rows))
	}
	if rows[0][0] != "Filename" || rows[0][8] != "AI Confidence" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][0] != "a.pdf" || rows[2][0] != "b.pdf" {
		t.Errorf("rows not sorted by filename: %v / %v", rows[1][0], rows[2][0])
	}
	if rows[2][1] != "ACME" || rows[2][3] != date {
		t.Errorf("row = %v", rows[2])
	}
}

func TestExportPropagatesListError(t *testing.T) {
	lister := &stubLister{err: errors.New("store down")}
	if _, err := NewService(lister, nil).ExportValidatedXLSX(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
