package llm

import (
	"fmt"
	"strings"
)

// BuildExtractionPrompt composes the full extraction prompt. Text at or
// under the budget goes in whole; longer text is sliced to its head and
// tail, since invoice numbers and issuers cluster at the top and totals at
// the bottom.
func BuildExtractionPrompt(text string, budget, headChars, tailChars int) string {
	excerpt := sliceExcerpt(text, budget, headChars, tailChars)

	var b strings.Builder
	b.WriteString("You are an invoice parser. Extract the following fields from the invoice text ")
	b.WriteString("and return ONLY a single JSON object, no commentary:\n")
	b.WriteString(`{"invoice_number": string, "company_name": string, "invoice_date": string, "total_amount": number}` + "\n")
	b.WriteString("Rules:\n")
	b.WriteString("- invoice_number: the document's own invoice/bill number, not a PO or customer number.\n")
	b.WriteString("- company_name: the issuing company, not the billed party.\n")
	b.WriteString("- invoice_date: the issue date in ISO-8601 (YYYY-MM-DD).\n")
	b.WriteString("- total_amount: the grand total as a plain number without currency symbols; amounts in parentheses are negative.\n")
	b.WriteString("- If a field is not present, use \"\" for strings and 0 for total_amount.\n\n")
	b.WriteString("Invoice text:\n")
	b.WriteString(excerpt)
	b.WriteString("\n\nJSON:")
	return b.String()
}

// BuildSimplifiedPrompt is the one-shot retry used when the first response
// could not be recovered as JSON. Schema only, shorter excerpt, no prose
// rules that a small model can get lost in.
func BuildSimplifiedPrompt(text string, headChars int) string {
	excerpt := text
	if len(excerpt) > headChars {
		excerpt = excerpt[:headChars]
	}
	return fmt.Sprintf(
		"Return JSON only: {\"invoice_number\": \"\", \"company_name\": \"\", \"invoice_date\": \"\", \"total_amount\": 0}\n"+
			"Fill the values from this invoice text:\n%s\nJSON:", excerpt)
}

// sliceExcerpt returns text whole when it fits the budget, else head and
// tail joined by an ellipsis marker.
func sliceExcerpt(text string, budget, headChars, tailChars int) string {
	if budget < headChars+tailChars {
		budget = headChars + tailChars
	}
	if len(text) <= budget {
		return text
	}
	return text[:headChars] + "\n...\n" + text[len(text)-tailChars:]
}
