package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/northpeak/invoice-tracker/constants"
	"github.com/northpeak/invoice-tracker/internal/common"
)

type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "eng"
	DPI           int    // rasterization DPI for recognition, default 200
	MaxPages      int    // hard page cap, default 10

	// NativeTextThreshold is the minimum number of embedded-text characters
	// on a page for native extraction to win over recognition.
	NativeTextThreshold int
}

// Extractor decides per page whether embedded text is sufficient or the
// recognition engine must run, and produces a page-indexed Result.
type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger

	// pageCount is swappable in tests; defaults to pdfcpu.
	pageCount func(path string) (int, error)
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 200
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	if cfg.NativeTextThreshold <= 0 {
		cfg.NativeTextThreshold = 25
	}
	return &Extractor{cfg: cfg, runner: execRunner{}, logger: logger, pageCount: api.PageCountFile}
}

// Extract processes every page (up to maxPages) synchronously. The
// returned Result is already complete.
func (e *Extractor) Extract(ctx context.Context, pdfPath string, maxPages int) (*Result, error) {
	res, pages, err := e.begin(ctx, pdfPath, maxPages)
	if err != nil {
		return res, err
	}
	for n := 2; n <= pages; n++ {
		e.processInto(ctx, res, pdfPath, n)
	}
	res.finishBackground(nil)
	return res, nil
}

// ExtractFast processes page 1 synchronously and returns immediately; one
// background goroutine finishes pages 2..maxPages, appending to the same
// Result. Callers that need the complete document use Result.Wait.
func (e *Extractor) ExtractFast(ctx context.Context, pdfPath string, maxPages int) (*Result, error) {
	res, pages, err := e.begin(ctx, pdfPath, maxPages)
	if err != nil {
		return res, err
	}
	if pages <= 1 {
		res.finishBackground(nil)
		return res, nil
	}

	e.logger.Info("ocr.background.start", "path", pdfPath, "pages", pages-1)
	go func() {
		// The background task deliberately ignores caller cancellation
		// mid-page; it finishes its pages and reports through the Result.
		var bgErr error
		for n := 2; n <= pages; n++ {
			if err := e.processInto(context.Background(), res, pdfPath, n); err != nil {
				bgErr = err
				break
			}
		}
		res.finishBackground(bgErr)
		if bgErr != nil {
			e.logger.Error("ocr.background.failed", "path", pdfPath, "error", bgErr)
		} else {
			e.logger.Info("ocr.background.done", "path", pdfPath, "pages", pages-1)
		}
	}()
	return res, nil
}

// begin counts pages, applies the cap, and processes page 1. It returns
// the Result handle plus the number of pages that will be processed.
func (e *Extractor) begin(ctx context.Context, pdfPath string, maxPages int) (*Result, int, error) {
	start := time.Now()
	if maxPages <= 0 || maxPages > e.cfg.MaxPages {
		maxPages = e.cfg.MaxPages
	}

	docPages, err := e.pageCount(pdfPath)
	if err != nil {
		e.logger.Error("ocr.pagecount.failed", "path", pdfPath, "error", err)
		res := newResult(constants.OCRError, 0)
		res.finishBackground(nil)
		return res, 0, common.WrapError(err, "page count")
	}

	pages := docPages
	if pages > maxPages {
		pages = maxPages
	}
	res := newResult(constants.OCRNative, pages)
	if docPages > maxPages {
		res.setNote(fmt.Sprintf("[Note: only the first %d of %d pages were processed]", maxPages, docPages))
	}

	page, method, err := e.processPage(ctx, pdfPath, 1)
	if err != nil {
		// native extraction itself failed; nothing to return
		res.setMethod(constants.OCRError)
		res.finishBackground(nil)
		e.logger.Error("ocr.extract.failed", "path", pdfPath, "error", err)
		return res, 0, err
	}
	res.setMethod(method)
	res.appendPage(page)

	e.logger.Info("ocr.extract.page1",
		"path", pdfPath,
		"method", string(method),
		"chars", len(page.Text),
		"doc_pages", docPages,
		"pages_to_process", pages,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, pages, nil
}

// processInto runs the per-page policy for page n and appends the outcome.
// Per-page recognition failures skip the page rather than aborting the
// document; only a native-extraction failure propagates.
func (e *Extractor) processInto(ctx context.Context, res *Result, pdfPath string, n int) error {
	page, _, err := e.processPage(ctx, pdfPath, n)
	if err != nil {
		e.logger.Warn("ocr.page.skipped", "path", pdfPath, "page", n, "error", err)
		return err
	}
	res.appendPage(page)
	return nil
}

// processPage applies the decision policy for a single page:
// (a) sufficient embedded text wins; (b) otherwise recognize the
// rasterized page; (c) recognition failing or empty falls back to native
// text even below threshold. A native-extraction error is fatal.
func (e *Extractor) processPage(ctx context.Context, pdfPath string, n int) (Page, constants.OCRMethod, error) {
	native, nativeErr := e.nativePageText(ctx, pdfPath, n)
	if nativeErr == nil && len(strings.TrimSpace(native)) >= e.cfg.NativeTextThreshold {
		return Page{PageNum: n, Text: Normalize(native)}, constants.OCRNative, nil
	}

	blocks, recErr := e.recognizePage(ctx, pdfPath, n)
	if recErr == nil && len(blocks) > 0 {
		return Page{
			PageNum: n,
			Text:    Normalize(blockText(blocks)),
			Blocks:  blocks,
		}, constants.OCRRecognized, nil
	}
	if recErr != nil {
		e.logger.Warn("ocr.recognize.failed", "path", pdfPath, "page", n, "error", recErr)
	}

	// recognition unusable: take the native text anyway so the pipeline
	// always gets something
	if nativeErr != nil {
		return Page{}, constants.OCRError, common.WrapError(nativeErr, "native text extraction")
	}
	return Page{PageNum: n, Text: Normalize(native)}, constants.OCRFallback, nil
}

func blockText(blocks []Block) string {
	lines := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Text != "" {
			lines = append(lines, b.Text)
		}
	}
	return strings.Join(lines, "\n")
}
