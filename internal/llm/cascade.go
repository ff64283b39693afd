package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/northpeak/invoice-tracker/internal/jsonrepair"
)

// recoverRecord turns a raw model completion into a parsed object, trying
// progressively more aggressive recovery: strip markdown fences, slice to
// the outermost brace span, then structural repair. The first candidate
// that parses as a schema-conformant object wins.
func recoverRecord(raw string) (map[string]any, error) {
	schema := BuildInvoiceJSONSchema()

	candidates := []string{}
	s := stripFences(raw)
	candidates = append(candidates, s)
	if span := braceSpan(s); span != "" && span != s {
		candidates = append(candidates, span)
		s = span
	}
	candidates = append(candidates, jsonrepair.Repair(s))

	var lastErr error
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(c), &m); err != nil {
			lastErr = err
			continue
		}
		if err := ValidateJSONAgainstSchema(schema, []byte(c)); err != nil {
			lastErr = err
			continue
		}
		return m, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no JSON object in completion")
	}
	return nil, fmt.Errorf("recover json: %w", lastErr)
}

// stripFences removes a surrounding ```json ... ``` (or bare ```) block.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "{[") {
		// drop the language tag line
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// braceSpan returns the substring from the first '{' through the matching
// close brace, or through the last '}' when nesting never balances.
func braceSpan(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inStr := false
	esc := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	if end := strings.LastIndexByte(s, '}'); end > start {
		return s[start : end+1]
	}
	return s[start:]
}

// isJunk reports whether a completion is too empty or too noisy to be
// worth a recovery attempt: blank, very short, or mostly non-alphanumeric
// filler (repeated punctuation, box-drawing runs, and the like).
func isJunk(raw string) bool {
	s := strings.TrimSpace(raw)
	if len(s) < 10 {
		return true
	}
	var alnum, total int
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	if total == 0 {
		return true
	}
	return float64(alnum)/float64(total) < 0.3
}
