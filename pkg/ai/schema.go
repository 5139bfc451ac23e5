package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/generative-ai-go/genai"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// GradingSchema is the output contract requested from every provider. It is
// kept to the subset accepted by strict structured-output modes; numeric
// bounds are checked locally by acceptedGradingSchema.
const GradingSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["overall_score", "feedback"],
  "properties": {
    "overall_score": {"type": "integer"},
    "feedback": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["criterion", "points_awarded", "points_possible", "comment"],
        "properties": {
          "criterion": {"type": "string"},
          "points_awarded": {"type": "integer"},
          "points_possible": {"type": "integer"},
          "comment": {"type": "string"}
        }
      }
    }
  }
}`

// acceptedGradingSchema adds the range checks strict modes refuse to carry.
// A payload outside these bounds counts as malformed and falls through to
// the next provider.
const acceptedGradingSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["overall_score", "feedback"],
  "properties": {
    "overall_score": {"type": "integer", "minimum": 0, "maximum": 100},
    "feedback": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["criterion", "points_awarded", "points_possible", "comment"],
        "properties": {
          "criterion": {"type": "string", "minLength": 1},
          "points_awarded": {"type": "integer", "minimum": 0},
          "points_possible": {"type": "integer", "minimum": 0},
          "comment": {"type": "string"}
        }
      }
    }
  }
}`

var compiledGradingSchema = jsonschema.MustCompileString("grading.json", acceptedGradingSchema)

// DecodeGrading validates raw provider output against the bounded form of
// GradingSchema and decodes it strictly. Free text, fenced text, extra fields
// and out-of-range numbers are rejected.
func DecodeGrading(provider string, raw string) (Grading, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Grading{}, schemaViolation(provider, "empty response")
	}

	var document interface{}
	if err := json.Unmarshal([]byte(trimmed), &document); err != nil {
		return Grading{}, schemaViolation(provider, "response is not json: %v", err)
	}
	if err := compiledGradingSchema.Validate(document); err != nil {
		return Grading{}, schemaViolation(provider, "%v", err)
	}

	decoder := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	decoder.DisallowUnknownFields()

	var grading Grading
	if err := decoder.Decode(&grading); err != nil {
		return Grading{}, schemaViolation(provider, "decode: %v", err)
	}
	if len(grading.Feedback) == 0 {
		return Grading{}, schemaViolation(provider, "feedback is empty")
	}

	return grading, nil
}

// geminiGradingSchema mirrors GradingSchema for Gemini's response schema option.
func geminiGradingSchema() *genai.Schema {
	item := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"criterion":       {Type: genai.TypeString, Description: "Rubric criterion name, copied exactly"},
			"points_awarded":  {Type: genai.TypeInteger},
			"points_possible": {Type: genai.TypeInteger},
			"comment":         {Type: genai.TypeString},
		},
		Required: []string{"criterion", "points_awarded", "points_possible", "comment"},
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"overall_score": {Type: genai.TypeInteger, Description: "Percentage of points awarded, 0-100"},
			"feedback":      {Type: genai.TypeArray, Items: item},
		},
		Required: []string{"overall_score", "feedback"},
	}
}

func truncate(raw string, limit int) string {
	if len(raw) <= limit {
		return raw
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(raw[cut]) {
		cut--
	}
	return fmt.Sprintf("%s…(%d bytes)", raw[:cut], len(raw))
}
