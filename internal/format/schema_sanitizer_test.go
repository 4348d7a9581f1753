package format

import "testing"

func TestSanitizeSchema_EmptySchemaGetsPlaceholder(t *testing.T) {
	result := SanitizeSchema(nil)

	if result["type"] != "object" {
		t.Errorf("expected placeholder type object, got %v", result["type"])
	}
	props, ok := result["properties"].(map[string]interface{})
	if !ok || props["reason"] == nil {
		t.Errorf("expected placeholder reason property, got %v", result["properties"])
	}
}

func TestSanitizeSchema_DropsDisallowedFields(t *testing.T) {
	schema := map[string]interface{}{
		"type":       "string",
		"format":     "email",
		"pattern":    "^.+@.+$",
		"minLength":  1,
		"maxLength":  10,
	}

	result := SanitizeSchema(schema)

	for _, disallowed := range []string{"format", "pattern", "minLength", "maxLength"} {
		if _, ok := result[disallowed]; ok {
			t.Errorf("expected %s to be dropped, but it was retained", disallowed)
		}
	}
	if result["type"] != "string" {
		t.Errorf("expected type string to survive, got %v", result["type"])
	}
}

func TestSanitizeSchema_ConvertsConstToEnum(t *testing.T) {
	schema := map[string]interface{}{
		"type":  "string",
		"const": "fixed-value",
	}

	result := SanitizeSchema(schema)

	enumVal, ok := result["enum"].([]interface{})
	if !ok || len(enumVal) != 1 || enumVal[0] != "fixed-value" {
		t.Errorf("expected const to become enum [fixed-value], got %v", result["enum"])
	}
	if _, ok := result["const"]; ok {
		t.Error("expected const to be removed after conversion")
	}
}

func TestSanitizeSchema_ObjectWithoutPropertiesGetsPlaceholder(t *testing.T) {
	schema := map[string]interface{}{
		"type": "object",
	}

	result := SanitizeSchema(schema)

	props, ok := result["properties"].(map[string]interface{})
	if !ok || props["reason"] == nil {
		t.Errorf("expected placeholder properties for an empty object schema, got %v", result["properties"])
	}
	required, ok := result["required"].([]string)
	if !ok || len(required) != 1 || required[0] != "reason" {
		t.Errorf("expected required=[reason], got %v", result["required"])
	}
}

func TestSanitizeSchema_PreservesRealProperties(t *testing.T) {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{"type": "string"},
		},
		"required": []string{"name"},
	}

	result := SanitizeSchema(schema)

	props, ok := result["properties"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected properties map, got %v", result["properties"])
	}
	if _, ok := props["name"]; !ok {
		t.Error("expected the name property to survive sanitization")
	}
	if _, ok := props["reason"]; ok {
		t.Error("expected no placeholder reason property when real properties exist")
	}
}

func TestSanitizeSchema_RecursesIntoNestedItems(t *testing.T) {
	schema := map[string]interface{}{
		"type": "array",
		"items": map[string]interface{}{
			"type":    "string",
			"pattern": "^[a-z]+$",
		},
	}

	result := SanitizeSchema(schema)

	items, ok := result["items"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected items map, got %v", result["items"])
	}
	if _, ok := items["pattern"]; ok {
		t.Error("expected pattern to be stripped from nested items schema")
	}
	if items["type"] != "string" {
		t.Errorf("expected nested items type to survive, got %v", items["type"])
	}
}

func TestSanitizeSchema_DefaultsMissingTypeToObject(t *testing.T) {
	schema := map[string]interface{}{
		"description": "no type specified",
	}

	result := SanitizeSchema(schema)

	if result["type"] != "object" {
		t.Errorf("expected missing type to default to object, got %v", result["type"])
	}
}
