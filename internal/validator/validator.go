// Package validator provides JSON schema validation for workflow templates
// and generation requests.
package validator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator validates workflow template documents and generation requests.
type Validator struct {
	templateSchema *jsonschema.Schema
	generateSchema *jsonschema.Schema
}

// ValidationError represents a validation failure.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationResult holds the result of a validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// New creates a new validator with embedded schemas.
func New() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	if err := compiler.AddResource("template.json", strings.NewReader(templateSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add template schema: %w", err)
	}

	if err := compiler.AddResource("generate.json", strings.NewReader(generateSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add generate schema: %w", err)
	}

	templateSchema, err := compiler.Compile("template.json")
	if err != nil {
		return nil, fmt.Errorf("compile template schema: %w", err)
	}

	generateSchema, err := compiler.Compile("generate.json")
	if err != nil {
		return nil, fmt.Errorf("compile generate schema: %w", err)
	}

	return &Validator{
		templateSchema: templateSchema,
		generateSchema: generateSchema,
	}, nil
}

// ValidateTemplateJSON validates a JSON-encoded workflow template document.
func (v *Validator) ValidateTemplateJSON(data []byte) *ValidationResult {
	return v.validateJSON(v.templateSchema, data)
}

// ValidateGenerateJSON validates a JSON-encoded generation request.
func (v *Validator) ValidateGenerateJSON(data []byte) *ValidationResult {
	return v.validateJSON(v.generateSchema, data)
}

func (v *Validator) validateJSON(schema *jsonschema.Schema, data []byte) *ValidationResult {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Path: "$", Message: fmt.Sprintf("invalid JSON: %v", err)},
			},
		}
	}
	return v.validate(schema, doc)
}

// validate runs schema validation and converts errors.
func (v *Validator) validate(schema *jsonschema.Schema, data interface{}) *ValidationResult {
	err := schema.Validate(data)
	if err == nil {
		return &ValidationResult{Valid: true}
	}

	result := &ValidationResult{Valid: false}

	if verr, ok := err.(*jsonschema.ValidationError); ok {
		result.Errors = extractErrors(verr)
	} else {
		result.Errors = []ValidationError{
			{Path: "$", Message: err.Error()},
		}
	}

	return result
}

// extractErrors recursively extracts validation errors.
func extractErrors(verr *jsonschema.ValidationError) []ValidationError {
	var errors []ValidationError

	if verr.Message != "" {
		errors = append(errors, ValidationError{
			Path:    verr.InstanceLocation,
			Message: verr.Message,
		})
	}

	for _, cause := range verr.Causes {
		errors = append(errors, extractErrors(cause)...)
	}

	return errors
}

// Embedded JSON schemas

const templateSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "template.json",
  "title": "Workflow Template",
  "description": "Schema for stored workflow template documents",
  "type": "object",
  "required": ["data"],
  "properties": {
    "name": {
      "type": "string",
      "minLength": 1,
      "description": "Template name"
    },
    "data": {
      "type": "object",
      "description": "Workflow graph keyed by node id",
      "minProperties": 1,
      "additionalProperties": {
        "type": "object",
        "required": ["class_type", "inputs"],
        "properties": {
          "class_type": {
            "type": "string",
            "minLength": 1
          },
          "inputs": {
            "type": "object"
          },
          "_meta": {
            "type": "object",
            "properties": {
              "title": {"type": "string"}
            }
          }
        }
      }
    },
    "map": {
      "type": "object",
      "description": "Role to node id bindings",
      "additionalProperties": {"type": "string"}
    }
  }
}`

const generateSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "generate.json",
  "title": "Generation Request",
  "description": "Schema for generation job requests",
  "type": "object",
  "required": ["workflow", "prompt"],
  "properties": {
    "workflow": {
      "type": "string",
      "minLength": 1,
      "description": "Workflow template name"
    },
    "prompt": {
      "type": "string",
      "minLength": 1,
      "description": "Positive prompt text"
    },
    "negative_prompt": {
      "type": "string",
      "description": "Negative prompt text"
    },
    "model": {
      "type": "string",
      "description": "Checkpoint or diffusion model filename"
    },
    "seed": {
      "type": "integer",
      "minimum": 0,
      "description": "Sampler seed"
    },
    "steps": {
      "type": "integer",
      "minimum": 1,
      "maximum": 200,
      "description": "Sampler step count"
    },
    "cfg": {
      "type": "number",
      "minimum": 0,
      "description": "Guidance scale"
    },
    "width": {
      "type": "integer",
      "minimum": 8,
      "description": "Latent width in pixels"
    },
    "height": {
      "type": "integer",
      "minimum": 8,
      "description": "Latent height in pixels"
    },
    "lora": {
      "type": "string",
      "description": "LoRA filename"
    },
    "lora_bypass": {
      "type": "boolean",
      "description": "Splice the LoRA node out of the graph"
    },
    "parent_id": {
      "type": "string",
      "description": "Job id this generation was derived from"
    }
  }
}`
