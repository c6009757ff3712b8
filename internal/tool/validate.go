package tool

import "fmt"

// validateArgs checks tool-call arguments against the tool's JSON Schema
// parameters: every required key must be present and primitive types must
// match. Extra keys are tolerated; models routinely add them.
func validateArgs(schema map[string]any, args map[string]any) error {
	if schema == nil {
		return nil
	}

	if required, ok := schema["required"].([]string); ok {
		for _, key := range required {
			if _, present := args[key]; !present {
				return fmt.Errorf("missing required argument %q", key)
			}
		}
	} else if required, ok := schema["required"].([]any); ok {
		for _, k := range required {
			key, _ := k.(string)
			if _, present := args[key]; key != "" && !present {
				return fmt.Errorf("missing required argument %q", key)
			}
		}
	}

	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}
	for key, raw := range args {
		spec, ok := props[key].(map[string]any)
		if !ok {
			continue
		}
		wantType, _ := spec["type"].(string)
		if wantType == "" || raw == nil {
			continue
		}
		if !typeMatches(wantType, raw) {
			return fmt.Errorf("argument %q: expected %s, got %T", key, wantType, raw)
		}
	}
	return nil
}

func typeMatches(wantType string, v any) bool {
	switch wantType {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "integer":
		switch n := v.(type) {
		case int, int64:
			return true
		case float64:
			return n == float64(int64(n))
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}
