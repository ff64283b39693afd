package llm

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// dateLayouts covers the formats invoices actually carry. Tried in order;
// first hit wins, so the canonical layout comes first and keeps
// sanitization idempotent.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02/01/2006",
	"01-02-2006",
	"02-01-2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
	"Jan 2 2006",
	"2006.01.02",
	"02.01.2006",
	"20060102",
}

// sanitizeDate normalizes a model-reported date to YYYY-MM-DD. Anything
// unparseable maps to nil rather than a guess.
func sanitizeDate(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "n/a") {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			out := t.Format("2006-01-02")
			return &out
		}
	}
	return nil
}

// sanitizeAmount coerces whatever the model put under total_amount into a
// finite float64. Currency symbols, thousands separators, and surrounding
// prose are stripped; failures and non-finite values map to 0.0.
func sanitizeAmount(v any) float64 {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0.0
		}
		return n
	case string:
		var b strings.Builder
		for _, r := range n {
			if (r >= '0' && r <= '9') || r == '.' || r == '-' {
				b.WriteRune(r)
			}
		}
		f, err := strconv.ParseFloat(strings.Trim(b.String(), "."), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0.0
		}
		return f
	default:
		return 0.0
	}
}

func sanitizeString(v any) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case float64:
		// models occasionally emit bare numeric invoice numbers
		s = strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "null") || strings.EqualFold(s, "n/a") || strings.EqualFold(s, "unknown") {
		return ""
	}
	return s
}

// sanitizeRecord maps a loosely-typed parsed object onto the normalized
// field set. Missing keys become zero values, never errors.
func sanitizeRecord(m map[string]any) InvoiceFields {
	return InvoiceFields{
		InvoiceNumber: sanitizeString(m["invoice_number"]),
		CompanyName:   sanitizeString(m["company_name"]),
		InvoiceDate:   sanitizeDate(m["invoice_date"]),
		TotalAmount:   sanitizeAmount(m["total_amount"]),
	}
}
