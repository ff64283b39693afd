package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/northpeak/invoice-tracker/internal/ocr"
)

const (
	// confidencePlain is reported when extraction ran over raw OCR text.
	confidencePlain = 0.80
	// confidenceBlocks is reported when low-confidence OCR blocks were
	// filtered out of the prompt first.
	confidenceBlocks = 0.85
)

// stopSequences ends generation at the close of the JSON object so a
// chatty model cannot append prose we would have to strip anyway.
var stopSequences = []string{"}", "###", "\n\n\n"}

// Config carries the extraction tunables. Zero values are filled with
// defaults by NewEngine.
type Config struct {
	Model        string
	Temperature  float32
	MaxTokens    int
	PromptBudget int
	HeadChars    int
	TailChars    int
	MinTextLen   int
	BlockConfMin float32
}

// Engine turns document text into a normalized InvoiceFields record. It
// never returns an error: every failure mode is folded into the record's
// Error field so callers always get something storable.
type Engine struct {
	cfg       Config
	completer Completer
	logger    *slog.Logger
}

func NewEngine(cfg Config, completer Completer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.HeadChars <= 0 {
		cfg.HeadChars = 1200
	}
	if cfg.TailChars <= 0 {
		cfg.TailChars = 800
	}
	if cfg.PromptBudget <= 0 {
		cfg.PromptBudget = 2400
	}
	if cfg.MinTextLen <= 0 {
		cfg.MinTextLen = 20
	}
	if cfg.BlockConfMin <= 0 {
		cfg.BlockConfMin = 0.5
	}
	return &Engine{cfg: cfg, completer: completer, logger: logger}
}

// Extract runs the full extraction flow over a normalized input.
func (e *Engine) Extract(ctx context.Context, in Input) InvoiceFields {
	rid := uuid.New().String()
	start := time.Now()

	base := InvoiceFields{
		ModelUsed: e.cfg.Model,
		OCRMethod: string(in.Method),
	}

	text, conf := e.promptText(in)
	text = ocr.Normalize(text)
	if len(text) < e.cfg.MinTextLen {
		base.Error = "document text too short for extraction"
		e.logger.Warn("llm.extract.skip", "request_id", rid, "reason", "short_text", "text_len", len(text))
		return base
	}

	e.logger.Info("llm.extract.start", "request_id", rid, "model", e.cfg.Model,
		"ocr_method", in.Method, "text_len", len(text))

	prompt := BuildExtractionPrompt(text, e.cfg.PromptBudget, e.cfg.HeadChars, e.cfg.TailChars)
	out, err := e.complete(ctx, prompt)
	if err != nil {
		base.Error = fmt.Sprintf("completion failed: %v", err)
		e.logger.Error("llm.extract.error", "request_id", rid, "error", err)
		return base
	}

	record, recErr := recoverRecord(out)
	if recErr != nil || isJunk(out) {
		e.logger.Warn("llm.extract.retry", "request_id", rid, "error", recErr, "raw_len", len(out))
		out, err = e.complete(ctx, BuildSimplifiedPrompt(text, e.cfg.HeadChars))
		if err != nil {
			base.Error = fmt.Sprintf("completion failed: %v", err)
			e.logger.Error("llm.extract.error", "request_id", rid, "error", err)
			return base
		}
		if record, recErr = recoverRecord(out); recErr != nil {
			base.Error = fmt.Sprintf("unparseable model output: %v", recErr)
			e.logger.Error("llm.extract.error", "request_id", rid, "error", recErr)
			return base
		}
	}

	fields := sanitizeRecord(record)
	fields.ModelUsed = base.ModelUsed
	fields.OCRMethod = base.OCRMethod
	fields.Confidence = conf

	e.logger.Info("llm.extract.done", "request_id", rid,
		"invoice_number", fields.InvoiceNumber, "confidence", fields.Confidence,
		"elapsed_ms", time.Since(start).Milliseconds())
	return fields
}

// complete calls the model and repairs stop-sequence truncation: when "}"
// was the stop token the close brace never reaches us, so it is restored
// before recovery.
func (e *Engine) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := e.completer.Complete(ctx, CompletionRequest{
		Prompt:      prompt,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
		Stop:        stopSequences,
	})
	if err != nil {
		return "", err
	}
	text := resp.Text
	if strings.Contains(text, "{") && !strings.Contains(text, "}") {
		text += "}"
	}
	return text, nil
}

// promptText picks the text variant to prompt with. When OCR block data is
// available, blocks below the confidence floor are dropped and the cleaner
// text earns a higher reported confidence; if filtering strips too much,
// it falls back to the raw text.
func (e *Engine) promptText(in Input) (string, float32) {
	if len(in.Pages) == 0 {
		return in.Text, confidencePlain
	}
	var hasBlocks bool
	var parts []string
	for _, p := range in.Pages {
		if len(p.Blocks) == 0 {
			parts = append(parts, p.Text)
			continue
		}
		hasBlocks = true
		var lines []string
		for _, b := range p.Blocks {
			if b.Confidence >= e.cfg.BlockConfMin {
				lines = append(lines, b.Text)
			}
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}
	if !hasBlocks {
		return in.Text, confidencePlain
	}
	filtered := strings.TrimSpace(strings.Join(parts, "\n\n"))
	if len(filtered) < e.cfg.MinTextLen {
		return in.Text, confidencePlain
	}
	return filtered, confidenceBlocks
}
