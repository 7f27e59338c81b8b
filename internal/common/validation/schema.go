package validation

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// NotificationSchema is the JSON schema push payloads and REST list items must satisfy.
const NotificationSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id"],
  "properties": {
    "id":          {"type": "string", "minLength": 1},
    "type":        {"type": "string"},
    "priority":    {"type": ["string", "null"]},
    "title":       {"$ref": "#/definitions/localized"},
    "message":     {"$ref": "#/definitions/localized"},
    "actionUrl":   {"type": ["string", "null"]},
    "actionLabel": {"$ref": "#/definitions/localized"},
    "createdAt":   {"type": "string"},
    "read":        {"type": "boolean"}
  },
  "definitions": {
    "localized": {
      "type": ["object", "null"],
      "additionalProperties": {"type": ["string", "null"]}
    }
  }
}`

// ValidationError describes one schema violation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ValidationResult is the outcome of validating one document.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Summary joins all violations into one line.
func (r *ValidationResult) Summary() string {
	parts := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		parts[i] = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return strings.Join(parts, "; ")
}

// Validator validates raw JSON documents against a compiled schema.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles schema.
func NewValidator(schema string) (*Validator, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// Validate checks raw against the schema. A non-nil error means raw is not JSON at all.
func (v *Validator) Validate(raw []byte) (*ValidationResult, error) {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   desc.Field(),
			Message: desc.Description(),
			Code:    desc.Type(),
		})
	}
	return out, nil
}

var (
	notificationOnce      sync.Once
	notificationValidator *Validator
)

// NotificationValidator returns the shared validator for NotificationSchema.
func NotificationValidator() *Validator {
	notificationOnce.Do(func() {
		v, err := NewValidator(NotificationSchema)
		if err != nil {
			panic(err) // constant schema
		}
		notificationValidator = v
	})
	return notificationValidator
}
