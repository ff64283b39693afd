// Package llamacpp implements llm.Completer against the llama.cpp server's
// native /completion endpoint.
package llamacpp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/northpeak/invoice-tracker/internal/common"
	"github.com/northpeak/invoice-tracker/internal/llm"
)

// Complete posts a non-streaming completion request and returns the
// generated text. Errors carry common.ErrCompletion so callers can
// classify them without inspecting transport details.
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	start := time.Now()

	body := map[string]any{
		"prompt":      req.Prompt,
		"n_predict":   req.MaxTokens,
		"temperature": req.Temperature,
		"stream":      false,
	}
	if len(req.Stop) > 0 {
		body["stop"] = req.Stop
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/completion"
	raw, status, err := llm.SendJSON(ctx, c.http, endpoint, body, nil, c.logger)
	if err != nil {
		c.logger.Error("llamacpp.complete.error",
			"status", status, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return llm.CompletionResponse{}, common.WrapError(common.ErrCompletion, fmt.Sprintf("llama.cpp completion (status %d)", status))
	}

	var cr struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &cr); err != nil {
		c.logger.Error("llamacpp.complete.decode_error", "error", err, "raw_bytes", len(raw))
		return llm.CompletionResponse{}, common.WrapError(common.ErrCompletion, "decode llama.cpp response")
	}

	c.logger.Info("llamacpp.complete.done",
		"prompt_len", len(req.Prompt),
		"content_len", len(cr.Content),
		"elapsed_ms", time.Since(start).Milliseconds())
	return llm.CompletionResponse{Text: cr.Content}, nil
}
