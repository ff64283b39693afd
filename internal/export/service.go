// Package export produces XLSX workbooks of validated tracker items.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/northpeak/invoice-tracker/internal/tracker"
)

// ItemLister is the slice of the tracker client the exporter reads from.
type ItemLister interface {
	ListItems(ctx context.Context) ([]tracker.Item, error)
}

// Service is a tiny façade over the tracker that produces XLSX bytes.
type Service struct {
	store  ItemLister
	logger *slog.Logger
}

func NewService(store ItemLister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// ExportValidatedXLSX returns an XLSX workbook (as bytes) of every
// human-validated item, sorted by filename. Human fields take precedence;
// the AI confidence column shows what the machine thought before review.
func (s *Service) ExportValidatedXLSX(ctx context.Context) ([]byte, error) {
	start := time.Now()

	items, err := s.store.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("query tracker items: %w", err)
	}
	var validated []tracker.Item
	for _, it := range items {
		if it.HumanValidated {
			validated = append(validated, it)
		}
	}
	sort.Slice(validated, func(i, j int) bool { return validated[i].Filename < validated[j].Filename })

	f := excelize.NewFile()
	const sheet = "Invoices"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	if defIdx, _ := f.GetSheetIndex("Sheet1"); defIdx != -1 {
		_ = f.DeleteSheet("Sheet1")
	}

	headers := []string{
		"Filename",
		"Vendor",
		"Invoice Number",
		"Invoice Date",
		"Total",
		"Validated",
		"Flagged",
		"Notes",
		"AI Confidence",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, it := range validated {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, it.Filename)
		write(2, it.HumanCompanyName)
		write(3, it.HumanInvoiceNumber)
		if it.HumanInvoiceDate != nil {
			write(4, *it.HumanInvoiceDate)
		} else {
			write(4, "")
		}
		write(5, it.HumanTotalAmount)
		write(6, it.HumanValidated)
		write(7, it.HumanFlagged)
		write(8, it.HumanNotes)
		write(9, it.AIConfidence)

		row++
	}

	// Widen a few columns
	_ = f.SetColWidth(sheet, "A", "A", 36) // filename
	_ = f.SetColWidth(sheet, "B", "B", 28) // vendor
	_ = f.SetColWidth(sheet, "C", "D", 16) // number/date
	_ = f.SetColWidth(sheet, "H", "H", 48) // notes

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", len(validated),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}
