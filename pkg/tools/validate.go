// JSON Schema validation for tool call arguments.
//
// ValidateAndCoerce checks the arguments produced by the LLM against the
// tool's declared schema, coercing simple type mismatches (e.g. "5" -> 5)
// before failing. A schema failure never reaches the tool; the dispatcher
// turns it into a validation error the model can react to.

package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidateAndCoerce validates args against meta's JSON Schema. It returns
// the (possibly coerced) arguments or a descriptive error.
//
// Coercion rules (matching what LLMs commonly get wrong):
//   - A string containing a valid number is coerced when the schema expects
//     "number" or "integer".
//   - A number is coerced to string when the schema expects "string".
//   - "true"/"false" strings are coerced when the schema expects "boolean".
//
// If the schema itself cannot be compiled, args are returned unchanged: a
// broken schema is the tool author's bug and must not block dispatch.
func ValidateAndCoerce(meta Meta, args map[string]any) (map[string]any, error) {
	if len(meta.Parameters) == 0 {
		return args, nil
	}

	schema, err := compileSchema(meta.Parameters)
	if err != nil {
		return args, nil
	}

	if err := validateMap(schema, args); err == nil {
		return args, nil
	}

	coerced := coerceArgs(args, meta.Parameters)
	if err := validateMap(schema, coerced); err != nil {
		return nil, formatValidationError(meta.Name, args, err)
	}
	return coerced, nil
}

// compileSchema unmarshals the schema bytes and compiles them. A fresh
// compiler is used each time to avoid resource-collision errors.
func compileSchema(schemaBytes []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	const url = "mem://tool/schema"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(url)
}

func validateMap(schema *jsonschema.Schema, args map[string]any) error {
	b, err := json.Marshal(args)
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return err
	}
	return schema.Validate(inst)
}

// coerceArgs attempts simple type coercions on top-level properties.
func coerceArgs(args map[string]any, schemaBytes []byte) map[string]any {
	var schemaDef struct {
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
	}
	_ = json.Unmarshal(schemaBytes, &schemaDef)

	out := make(map[string]any, len(args))
	for k, v := range args {
		prop, ok := schemaDef.Properties[k]
		if !ok {
			out[k] = v
			continue
		}
		out[k] = coerceValue(v, prop.Type)
	}
	return out
}

func coerceValue(v any, targetType string) any {
	switch targetType {
	case "number", "integer":
		if s, ok := v.(string); ok {
			var n float64
			if err := json.Unmarshal([]byte(s), &n); err == nil {
				if targetType == "integer" {
					return int64(n)
				}
				return n
			}
		}
	case "string":
		switch n := v.(type) {
		case float64:
			return fmt.Sprintf("%g", n)
		case int64:
			return fmt.Sprintf("%d", n)
		case json.Number:
			return n.String()
		}
	case "boolean":
		if s, ok := v.(string); ok {
			switch strings.ToLower(s) {
			case "true":
				return true
			case "false":
				return false
			}
		}
	}
	return v
}

func formatValidationError(toolName string, args map[string]any, err error) error {
	argsJSON, _ := json.MarshalIndent(args, "", "  ")
	return fmt.Errorf("tool %q argument validation failed:\n%v\n\nReceived:\n%s",
		toolName, err, argsJSON)
}
