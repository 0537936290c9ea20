package util

import (
	"fmt"
	"reflect"
	"strings"
)

// ValidationError represents schema validation errors with detailed information.
type ValidationError struct {
	Field   string `json:"field"`   // Field (dotted path) that failed validation
	Value   any    `json:"value"`   // Value that was provided
	Message string `json:"message"` // Human-readable error message
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// CreateSchema creates a JSON schema from a Go struct using reflection.
// This is a convenience function for declaring task output schemas from Go
// types. Nested structs and slices are expanded recursively.
func CreateSchema(structType any) map[string]any {
	t := reflect.TypeOf(structType)
	if t == nil {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}

	return schemaForType(t, map[reflect.Type]bool{})
}

func schemaForType(t reflect.Type, visited map[reflect.Type]bool) map[string]any {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Struct:
		// Self-referential types terminate as a bare object.
		if visited[t] {
			return map[string]any{"type": "object"}
		}

		visited[t] = true

		properties := make(map[string]any)
		required := make([]string, 0)

		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}

			jsonTag := field.Tag.Get("json")
			if jsonTag == "-" {
				continue
			}

			fieldName := field.Name
			if jsonTag != "" {
				parts := strings.Split(jsonTag, ",")
				if parts[0] != "" {
					fieldName = parts[0]
				}
			}

			fieldSchema := schemaForType(field.Type, visited)

			if description := field.Tag.Get("description"); description != "" {
				fieldSchema["description"] = description
			}

			properties[fieldName] = fieldSchema

			if !hasOmitEmpty(field.Tag.Get("json")) && !isPointer(field.Type) {
				required = append(required, fieldName)
			}
		}

		schema := map[string]any{
			"type":       "object",
			"properties": properties,
		}

		if len(required) > 0 {
			schema["required"] = required
		}

		return schema
	case reflect.Slice, reflect.Array:
		return map[string]any{
			"type":  "array",
			"items": schemaForType(t.Elem(), visited),
		}
	default:
		return map[string]any{"type": getJSONType(t)}
	}
}

// ValidateParameters validates a flat parameter map against a JSON schema.
// It returns the first violation encountered. Extra fields are allowed.
func ValidateParameters(params map[string]any, schema map[string]any) error {
	// Extract required fields
	required := requiredFields(schema)
	for _, fieldName := range required {
		if _, exists := params[fieldName]; !exists {
			return &ValidationError{
				Field:   fieldName,
				Message: "required field is missing",
			}
		}
	}

	// Validate field types
	properties, _ := schema["properties"].(map[string]any)
	for fieldName, value := range params {
		propSchema, exists := properties[fieldName]
		if !exists {
			continue // Allow extra fields
		}

		propMap, ok := propSchema.(map[string]any)
		if !ok {
			continue
		}

		expectedType, _ := propMap["type"].(string)
		if !isValidType(value, expectedType) {
			return &ValidationError{
				Field:   fieldName,
				Value:   value,
				Message: fmt.Sprintf("expected type %s, got %T", expectedType, value),
			}
		}
	}

	return nil
}

// CheckValue validates a decoded JSON value against a JSON schema subset
// (type, properties, required, items, enum). Unlike ValidateParameters it
// recurses into nested objects and arrays and collects every violation so
// callers can report all mismatches at once. Path is the location of value
// within the enclosing document; pass "" for the root.
func CheckValue(value any, schema map[string]any, path string) []ValidationError {
	var violations []ValidationError

	expectedType, _ := schema["type"].(string)
	if expectedType != "" && !isValidType(value, expectedType) {
		violations = append(violations, ValidationError{
			Field:   orRoot(path),
			Value:   value,
			Message: fmt.Sprintf("expected type %s, got %T", expectedType, value),
		})

		return violations
	}

	if enum, ok := schema["enum"].([]any); ok && len(enum) > 0 {
		if !enumMatch(value, enum) {
			violations = append(violations, ValidationError{
				Field:   orRoot(path),
				Value:   value,
				Message: fmt.Sprintf("value %v is not one of the allowed values", value),
			})
		}
	}

	if obj, ok := value.(map[string]any); ok {
		for _, fieldName := range requiredFields(schema) {
			if _, exists := obj[fieldName]; !exists {
				violations = append(violations, ValidationError{
					Field:   joinPath(path, fieldName),
					Message: "required field is missing",
				})
			}
		}

		properties, _ := schema["properties"].(map[string]any)
		for fieldName, fieldValue := range obj {
			propSchema, ok := properties[fieldName].(map[string]any)
			if !ok {
				continue // Allow extra fields
			}

			violations = append(violations, CheckValue(fieldValue, propSchema, joinPath(path, fieldName))...)
		}
	}

	if arr, ok := value.([]any); ok {
		if items, ok := schema["items"].(map[string]any); ok {
			for i, elem := range arr {
				violations = append(violations, CheckValue(elem, items, joinPath(path, fmt.Sprintf("%d", i)))...)
			}
		}
	}

	return violations
}

// requiredFields reads a schema's required list, tolerating both []any (from
// decoded JSON) and []string (from Go literals).
func requiredFields(schema map[string]any) []string {
	switch required := schema["required"].(type) {
	case []string:
		return required
	case []any:
		fields := make([]string, 0, len(required))

		for _, req := range required {
			if name, ok := req.(string); ok {
				fields = append(fields, name)
			}
		}

		return fields
	default:
		return nil
	}
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}

	return base + "." + key
}

func orRoot(path string) string {
	if path == "" {
		return "$"
	}

	return path
}

// enumMatch reports whether value equals one of the allowed enum values,
// treating numeric types loosely since decoded JSON yields float64.
func enumMatch(value any, enum []any) bool {
	for _, allowed := range enum {
		if reflect.DeepEqual(value, allowed) {
			return true
		}

		av, aok := toFloat(allowed)
		vv, vok := toFloat(value)

		if aok && vok && av == vv {
			return true
		}
	}

	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// getJSONType returns the JSON schema type for a given Go type.
func getJSONType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Ptr:
		return getJSONType(t.Elem())
	default:
		return "string"
	}
}

// hasOmitEmpty checks if a JSON tag has the "omitempty" option.
func hasOmitEmpty(tag string) bool {
	parts := strings.Split(tag, ",")
	for _, part := range parts[1:] {
		if strings.TrimSpace(part) == "omitempty" {
			return true
		}
	}
	return false
}

// isPointer checks if a type is a pointer.
func isPointer(t reflect.Type) bool {
	return t.Kind() == reflect.Ptr
}

// isValidType checks if a value is valid according to the expected JSON schema type.
func isValidType(value any, expectedType string) bool {
	if value == nil {
		return true // nil is valid for any type
	}

	switch expectedType {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64: // JSON unmarshaling often produces float64 for numbers
			return v == float64(int64(v)) // Check if it's actually an integer
		}
		return false
	case "number":
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
			float32, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true // Unknown types are assumed valid
	}
}
