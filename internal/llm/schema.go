package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BuildInvoiceJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a
// generic map. The model is prompted to emit exactly these four keys; here
// we only gate shape, not presence. Missing keys fall back to zero values
// in sanitization, so requiring them would reject otherwise usable output.
func BuildInvoiceJSONSchema() map[string]any {
	return map[string]any{
		"type":          "object",
		"minProperties": 1,
		"properties": map[string]any{
			"invoice_number": map[string]any{"type": []string{"string", "number", "null"}},
			"company_name":   map[string]any{"type": []string{"string", "null"}},
			"invoice_date":   map[string]any{"type": []string{"string", "null"}},
			"total_amount":   map[string]any{"type": []string{"number", "string", "null"}},
		},
	}
}

// ValidateJSONAgainstSchema validates "data" against "schemaMap".
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
