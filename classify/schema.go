package classify

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// predictionSchema constrains what an LLM may answer. Unknown extra
// fields are tolerated; wrong types are not.
const predictionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "context_uuid":  {"type": "string"},
    "category_uuid": {"type": "string"},
    "summary":       {"type": "string", "maxLength": 2000},
    "document_date": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
    "confidence":    {"type": "number", "minimum": 0, "maximum": 1},
    "attributes":    {"type": "object", "additionalProperties": {"type": "string"}}
  }
}`

var compiledPredictionSchema = jsonschema.MustCompileString("prediction.json", predictionSchema)

// ValidatePredictionJSON checks a raw LLM answer against the prediction
// schema. The document must at least be valid JSON.
func ValidatePredictionJSON(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := compiledPredictionSchema.Validate(doc); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}
