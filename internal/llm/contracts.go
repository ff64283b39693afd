package llm

import (
	"context"
	"strings"

	"github.com/northpeak/invoice-tracker/constants"
	"github.com/northpeak/invoice-tracker/internal/ocr"
)

// InvoiceFields is the normalized four-field record we want from the
// model, plus provenance. Immutable once returned; TotalAmount is always a
// finite float and InvoiceDate is canonical YYYY-MM-DD or nil.
type InvoiceFields struct {
	InvoiceNumber string  `json:"invoice_number"`
	CompanyName   string  `json:"company_name"`
	InvoiceDate   *string `json:"invoice_date"` // YYYY-MM-DD or null
	TotalAmount   float64 `json:"total_amount"`
	Confidence    float32 `json:"confidence"`
	ModelUsed     string  `json:"model_used"`
	OCRMethod     string  `json:"ocr_method"`
	Error         string  `json:"error,omitempty"`
}

// CompletionRequest is what the pipeline needs from a text-completion
// capability: first-class completion with configurable stop sequences.
type CompletionRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float32
	Stop        []string
}

type CompletionResponse struct {
	Text string
}

// Completer is the pluggable completion capability the engine depends on.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// Input is the engine's single normalized input shape. OCR results, page
// fragments, and raw strings all reduce to one of these at the boundary,
// so the engine never type-sniffs.
type Input struct {
	Text   string
	Method constants.OCRMethod
	Pages  []ocr.Page // optional; enables the block-confidence-aware path
}

// FromOCR builds an Input from an OCR snapshot.
func FromOCR(snap ocr.Snapshot) Input {
	return Input{Text: snap.FullText, Method: snap.Method, Pages: snap.Pages}
}

// FromPages builds an Input from plain page texts (no block data).
func FromPages(pages []string) Input {
	return Input{Text: strings.Join(pages, "\n\n"), Method: constants.OCRNative}
}

// FromText builds an Input from a raw string.
func FromText(s string) Input {
	return Input{Text: s, Method: constants.OCRNative}
}
