package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Lllllllleong/disclosureflow/internal/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BuildOutputJSONSchema returns the JSON Schema every model response must
// satisfy once sanitized: {"ingress": [...], "egress": [...]}.
func BuildOutputJSONSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{models.KindIngress, models.KindEgress},
		"properties": map[string]any{
			models.KindIngress: rowArraySchema(IngressFields),
			models.KindEgress:  rowArraySchema(EgressFields),
		},
	}
}

func rowArraySchema(fields []Field) map[string]any {
	props := map[string]any{
		"pageNumber": map[string]any{"type": "integer", "minimum": 1},
		"unreadableFields": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string", "enum": fieldNames(fields)},
		},
	}
	for _, f := range fields {
		props[f.Name] = map[string]any{"type": string(f.Type)}
	}
	return map[string]any{
		"type": "array",
		"items": map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties":           props,
		},
	}
}

var outputSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	b, err := json.Marshal(BuildOutputJSONSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("rows.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile("rows.json")
})

// ValidateOutput checks a sanitized model response against the output schema.
func ValidateOutput(data []byte) error {
	schema, err := outputSchema()
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
