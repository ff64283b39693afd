package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/northpeak/invoice-tracker/constants"
	"github.com/northpeak/invoice-tracker/internal/ocr"
)

// stubCompleter returns canned responses in order, then repeats the last.
type stubCompleter struct {
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (s *stubCompleter) Complete(_ context.Context, req CompletionRequest) (CompletionResponse, error) {
	s.calls++
	s.prompts = append(s.prompts, req.Prompt)
	if s.err != nil {
		return CompletionResponse{}, s.err
	}
	i := s.calls - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return CompletionResponse{Text: s.responses[i]}, nil
}

func newTestEngine(c Completer) *Engine {
	return NewEngine(Config{Model: "test-model"}, c, nil)
}

const sampleText = `ACME Corporation
Invoice No: INV-2024-001
Date: 2024-03-15
Total Due: $1,234.56 for services rendered`

func TestExtractCleanResponse(t *testing.T) {
	stub := &stubCompleter{responses: []string{
		`{"invoice_number": "INV-2024-001", "company_name": "ACME Corporation", "invoice_date": "2024-03-15", "total_amount": 1234.56`,
	}}
	f := newTestEngine(stub).Extract(context.Background(), FromText(sampleText))

	if f.Error != "" {
		t.Fatalf("unexpected error: %s", f.Error)
	}
	if f.InvoiceNumber != "INV-2024-001" {
		t.Errorf("invoice_number = %q", f.InvoiceNumber)
	}
	if f.CompanyName != "ACME Corporation" {
		t.Errorf("company_name = %q", f.CompanyName)
	}
	if f.InvoiceDate == nil || *f.InvoiceDate != "2024-03-15" {
		t.Errorf("invoice_date = %v", f.InvoiceDate)
	}
	if f.TotalAmount != 1234.56 {
		t.Errorf("total_amount = %v", f.TotalAmount)
	}
	if f.Confidence != confidencePlain {
		t.Errorf("confidence = %v, want %v", f.Confidence, confidencePlain)
	}
	if f.ModelUsed != "test-model" {
		t.Errorf("model_used = %q", f.ModelUsed)
	}
	if stub.calls != 1 {
		t.Errorf("calls = %d, want 1", stub.calls)
	}
}

func TestExtractFencedAndProseResponse(t *testing.T) {
	stub := &stubCompleter{responses: []string{
		"Sure, here is the JSON:\n```json\n{\"invoice_number\": \"A-1\", \"company_name\": \"Globex\", \"invoice_date\": \"15/03/2024\", \"total_amount\": \"$99.00\"}\n```\nLet me know if you need anything else.",
	}}
	f := newTestEngine(stub).Extract(context.Background(), FromText(sampleText))

	if f.Error != "" {
		t.Fatalf("unexpected error: %s", f.Error)
	}
	if f.InvoiceNumber != "A-1" || f.CompanyName != "Globex" {
		t.Errorf("fields = %q / %q", f.InvoiceNumber, f.CompanyName)
	}
	if f.InvoiceDate == nil || *f.InvoiceDate != "2024-03-15" {
		t.Errorf("invoice_date = %v", f.InvoiceDate)
	}
	if f.TotalAmount != 99.0 {
		t.Errorf("total_amount = %v", f.TotalAmount)
	}
}

func TestExtractRetriesWithSimplifiedPrompt(t *testing.T) {
	stub := &stubCompleter{responses: []string{
		"I cannot find any structured data in this document, sorry.",
		`{"invoice_number": "B-2", "company_name": "Initech", "invoice_date": null, "total_amount": 10}`,
	}}
	f := newTestEngine(stub).Extract(context.Background(), FromText(sampleText))

	if stub.calls != 2 {
		t.Fatalf("calls = %d, want 2", stub.calls)
	}
	if !strings.Contains(stub.prompts[1], "Return JSON only") {
		t.Errorf("second prompt is not the simplified one: %q", stub.prompts[1][:60])
	}
	if f.Error != "" {
		t.Fatalf("unexpected error: %s", f.Error)
	}
	if f.InvoiceNumber != "B-2" || f.InvoiceDate != nil || f.TotalAmount != 10 {
		t.Errorf("fields = %+v", f)
	}
}

func TestExtractBothAttemptsFail(t *testing.T) {
	stub := &stubCompleter{responses: []string{"no json here at all, just words", "still nothing useful here"}}
	f := newTestEngine(stub).Extract(context.Background(), FromText(sampleText))

	if f.Error == "" {
		t.Fatal("expected an error in the record")
	}
	if f.TotalAmount != 0 || f.InvoiceNumber != "" || f.InvoiceDate != nil {
		t.Errorf("expected zeroed fields, got %+v", f)
	}
	if f.ModelUsed != "test-model" {
		t.Errorf("model_used should survive failure, got %q", f.ModelUsed)
	}
}

func TestExtractCompleterError(t *testing.T) {
	stub := &stubCompleter{err: errors.New("connection refused")}
	f := newTestEngine(stub).Extract(context.Background(), FromText(sampleText))

	if !strings.Contains(f.Error, "completion failed") {
		t.Errorf("error = %q", f.Error)
	}
	if f.TotalAmount != 0 {
		t.Errorf("total_amount = %v", f.TotalAmount)
	}
}

func TestExtractShortTextSkipsModel(t *testing.T) {
	stub := &stubCompleter{responses: []string{"{}"}}
	f := newTestEngine(stub).Extract(context.Background(), FromText("abc"))

	if stub.calls != 0 {
		t.Errorf("model should not be called, calls = %d", stub.calls)
	}
	if f.Error == "" {
		t.Error("expected short-text error")
	}
}

func TestExtractBlockFilteredConfidence(t *testing.T) {
	stub := &stubCompleter{responses: []string{
		`{"invoice_number": "C-3", "company_name": "Umbrella", "invoice_date": "2024-01-02", "total_amount": 5}`,
	}}
	in := Input{
		Method: constants.OCRRecognized,
		Text:   "raw text with noise " + sampleText,
		Pages: []ocr.Page{{
			PageNum: 1,
			Text:    sampleText,
			Blocks: []ocr.Block{
				{Text: "ACME Corporation Invoice No: INV-2024-001", Confidence: 0.95},
				{Text: "Date: 2024-03-15 Total Due: $1,234.56", Confidence: 0.91},
				{Text: "~~~garbage scanline~~~", Confidence: 0.12},
			},
		}},
	}
	e := newTestEngine(stub)
	f := e.Extract(context.Background(), in)

	if f.Confidence != confidenceBlocks {
		t.Errorf("confidence = %v, want %v", f.Confidence, confidenceBlocks)
	}
	if strings.Contains(stub.prompts[0], "garbage scanline") {
		t.Error("low-confidence block leaked into the prompt")
	}
	if f.OCRMethod != string(constants.OCRRecognized) {
		t.Errorf("ocr_method = %q", f.OCRMethod)
	}
}

func TestPromptSlicesLongText(t *testing.T) {
	e := newTestEngine(&stubCompleter{})
	head := strings.Repeat("H", 1200)
	middle := strings.Repeat("M", 5000)
	tail := strings.Repeat("T", 800)
	p := BuildExtractionPrompt(head+middle+tail, e.cfg.PromptBudget, e.cfg.HeadChars, e.cfg.TailChars)

	if !strings.Contains(p, head) {
		t.Error("head slice missing from prompt")
	}
	if !strings.Contains(p, tail) {
		t.Error("tail slice missing from prompt")
	}
	if strings.Contains(p, "MMMMM") {
		t.Error("middle of long text should be elided")
	}
}

func TestStopTruncationRestoresBrace(t *testing.T) {
	stub := &stubCompleter{responses: []string{
		`{"invoice_number": "D-4", "company_name": "Hooli", "invoice_date": "2024-06-01", "total_amount": 42`,
	}}
	f := newTestEngine(stub).Extract(context.Background(), FromText(sampleText))

	if f.Error != "" {
		t.Fatalf("unexpected error: %s", f.Error)
	}
	if f.InvoiceNumber != "D-4" || f.TotalAmount != 42 {
		t.Errorf("fields = %+v", f)
	}
}
