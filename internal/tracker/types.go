// Package tracker is the client for the remote invoice-verification list,
// a Graph-style list API keyed by document NodeID.
package tracker

import (
	"math"
	"strconv"

	"github.com/northpeak/invoice-tracker/constants"
)

// Item is one row of the verification list. AI_* columns hold the latest
// machine extraction and are overwritten on reprocessing; Human_* columns
// are only ever written by an explicit validation.
type Item struct {
	ID       string // list item id assigned by the store
	NodeID   int64
	Filename string
	DocURL   string

	AIInvoiceNumber string
	AICompanyName   string
	AIInvoiceDate   *string
	AITotalAmount   float64
	AIConfidence    float64
	AIProcessed     bool

	HumanInvoiceNumber string
	HumanCompanyName   string
	HumanInvoiceDate   *string
	HumanTotalAmount   float64
	HumanValidated     bool
	HumanFlagged       bool
	HumanNotes         string

	OCRMethod    string
	LLMUsed      string
	TimeTakenSec float64
}

// Validation is a human verdict on one document.
type Validation struct {
	NodeID        int64
	InvoiceNumber string
	CompanyName   string
	InvoiceDate   *string
	TotalAmount   float64
	Flagged       bool
	Notes         string
}

// itemFromFields decodes a store fields map into an Item.
func itemFromFields(id string, fields map[string]any) Item {
	it := Item{ID: id}
	it.NodeID = asInt64(fields[constants.FieldNodeID])
	it.Filename = asString(fields[constants.FieldFilename])
	it.DocURL = asString(fields[constants.FieldDocURL])

	it.AIInvoiceNumber = asString(fields[constants.FieldAIInvoiceNumber])
	it.AICompanyName = asString(fields[constants.FieldAICompanyName])
	it.AIInvoiceDate = asStringPtr(fields[constants.FieldAIInvoiceDate])
	it.AITotalAmount = asFloat(fields[constants.FieldAITotalAmount])
	it.AIConfidence = asFloat(fields[constants.FieldAIConfidence])
	it.AIProcessed = asBool(fields[constants.FieldAIProcessed])

	it.HumanInvoiceNumber = asString(fields[constants.FieldHumanInvoiceNumber])
	it.HumanCompanyName = asString(fields[constants.FieldHumanCompanyName])
	it.HumanInvoiceDate = asStringPtr(fields[constants.FieldHumanInvoiceDate])
	it.HumanTotalAmount = asFloat(fields[constants.FieldHumanTotalAmount])
	it.HumanValidated = asBool(fields[constants.FieldHumanValidated])
	it.HumanFlagged = asBool(fields[constants.FieldHumanFlagged])
	it.HumanNotes = asString(fields[constants.FieldHumanNotes])

	it.OCRMethod = asString(fields[constants.FieldOCRMethod])
	it.LLMUsed = asString(fields[constants.FieldLLMUsed])
	it.TimeTakenSec = asFloat(fields[constants.FieldTimeTakenSec])
	return it
}

// sanitizeFields coerces non-finite floats to 0.0. The store's JSON layer
// rejects NaN and Inf outright, which would fail the whole write.
func sanitizeFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch f := v.(type) {
		case float64:
			if math.IsNaN(f) || math.IsInf(f, 0) {
				v = 0.0
			}
		case float32:
			if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
				v = 0.0
			}
		}
		out[k] = v
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStringPtr(v any) *string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func asFloat(v any) float64 {
	switch f := v.(type) {
	case float64:
		return f
	case int64:
		return float64(f)
	}
	return 0
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true" || b == "1" || b == "Yes"
	}
	return false
}
