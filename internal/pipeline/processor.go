// Package pipeline orchestrates document processing: fetch, OCR, field
// extraction, and tracker writes.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/northpeak/invoice-tracker/constants"
	"github.com/northpeak/invoice-tracker/internal/common"
	"github.com/northpeak/invoice-tracker/internal/docsource"
	"github.com/northpeak/invoice-tracker/internal/llm"
	"github.com/northpeak/invoice-tracker/internal/ocr"
	"github.com/northpeak/invoice-tracker/internal/tracker"
)

// PageRecognizer is the OCR capability the processor needs.
type PageRecognizer interface {
	ExtractFast(ctx context.Context, pdfPath string, maxPages int) (*ocr.Result, error)
}

// FieldExtractor turns OCR output into an invoice record.
type FieldExtractor interface {
	Extract(ctx context.Context, in llm.Input) llm.InvoiceFields
}

// Store is the slice of the tracker client the pipeline writes through.
type Store interface {
	UpsertItem(ctx context.Context, nodeID int64, filename string, fields map[string]any) error
	ListItems(ctx context.Context) ([]tracker.Item, error)
}

// ProcessorConfig carries per-document tunables.
type ProcessorConfig struct {
	MaxPages          int
	BackgroundTimeout time.Duration
	TempDir           string // defaults to the OS temp dir
}

// Processor runs the per-document flow.
type Processor struct {
	cfg    ProcessorConfig
	source docsource.Source
	recog  PageRecognizer
	fields FieldExtractor
	store  Store
	logger *slog.Logger
}

func NewProcessor(cfg ProcessorConfig, source docsource.Source, recog PageRecognizer, fields FieldExtractor, store Store, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	if cfg.BackgroundTimeout <= 0 {
		cfg.BackgroundTimeout = 60 * time.Second
	}
	return &Processor{cfg: cfg, source: source, recog: recog, fields: fields, store: store, logger: logger}
}

// DocumentOutcome summarizes one processed document.
type DocumentOutcome struct {
	NodeID       int64
	Filename     string
	Fields       llm.InvoiceFields
	PagesRead    int
	TotalPages   int
	OCRComplete  bool
	TimeTakenSec float64
}

// ProcessDocument runs the full flow for one document. Extraction happens
// on the fast first-page result; the final tracker write after the
// background pages finish records provenance only and does not recompute
// fields.
func (p *Processor) ProcessDocument(ctx context.Context, nodeID int64, filename string) (DocumentOutcome, error) {
	start := time.Now()
	out := DocumentOutcome{NodeID: nodeID, Filename: filename}

	p.logger.Info("pipeline.document.start", "node_id", nodeID, "filename", filename)

	raw, err := p.source.Fetch(ctx, nodeID)
	if err != nil {
		return out, err
	}

	pdfPath, err := p.writeTemp(raw)
	if err != nil {
		return out, err
	}
	defer os.Remove(pdfPath)

	res, err := p.recog.ExtractFast(ctx, pdfPath, p.cfg.MaxPages)
	if err != nil {
		return out, err
	}

	fields := p.fields.Extract(ctx, llm.FromOCR(res.Snapshot()))
	out.Fields = fields
	if fields.Error != "" {
		// leave the item unprocessed so the next run picks it up again
		return out, common.WrapError(common.ErrCompletion, fields.Error)
	}

	if err := p.store.UpsertItem(ctx, nodeID, filename, aiFields(fields, time.Since(start))); err != nil {
		return out, err
	}

	// let the remaining pages land before recording provenance
	complete := res.Wait(p.cfg.BackgroundTimeout)
	snap := res.Snapshot()
	out.PagesRead = len(snap.Pages)
	out.TotalPages = snap.TotalPages
	out.OCRComplete = complete
	out.TimeTakenSec = time.Since(start).Seconds()
	if !complete {
		p.logger.Warn("pipeline.ocr.background_timeout", "node_id", nodeID, "pages_read", out.PagesRead)
	}
	if snap.BackgroundErr != nil {
		p.logger.Warn("pipeline.ocr.background_error", "node_id", nodeID, "error", snap.BackgroundErr)
	}

	final := map[string]any{
		constants.FieldOCRMethod:    string(snap.Method),
		constants.FieldTimeTakenSec: out.TimeTakenSec,
		constants.FieldAIProcessed:  true,
	}
	if err := p.store.UpsertItem(ctx, nodeID, filename, final); err != nil {
		return out, err
	}

	p.logger.Info("pipeline.document.done",
		"node_id", nodeID, "pages_read", out.PagesRead, "total_pages", out.TotalPages,
		"ocr_complete", complete, "elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}

// aiFields maps an extraction record onto tracker columns. AI_Processed
// stays false until the provenance write so an interrupted run leaves the
// document eligible for the next batch.
func aiFields(f llm.InvoiceFields, elapsed time.Duration) map[string]any {
	fields := map[string]any{
		constants.FieldAIInvoiceNumber: f.InvoiceNumber,
		constants.FieldAICompanyName:   f.CompanyName,
		constants.FieldAITotalAmount:   f.TotalAmount,
		constants.FieldAIConfidence:    float64(f.Confidence),
		constants.FieldAIProcessed:     false,
		constants.FieldOCRMethod:       f.OCRMethod,
		constants.FieldLLMUsed:         f.ModelUsed,
		constants.FieldTimeTakenSec:    elapsed.Seconds(),
	}
	if f.InvoiceDate != nil {
		fields[constants.FieldAIInvoiceDate] = *f.InvoiceDate
	}
	return fields
}

func (p *Processor) writeTemp(raw []byte) (string, error) {
	dir := p.cfg.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, "it-doc-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp pdf: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp pdf: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close temp pdf: %w", err)
	}
	return filepath.Clean(f.Name()), nil
}
