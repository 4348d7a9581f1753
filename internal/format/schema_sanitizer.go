// Package format provides conversion between Anthropic and Google Generative AI formats.
package format

import (
	"fmt"
	"strings"
)

// SanitizeSchema restricts a tool's JSON Schema to the allowlisted fields the
// upstream Gemini API accepts, converting "const" to an equivalent single-value
// "enum" and filling in a placeholder schema for tools that declare none.
func SanitizeSchema(schema map[string]interface{}) map[string]interface{} {
	if len(schema) == 0 {
		return placeholderObjectSchema()
	}

	allowedFields := map[string]bool{
		"type":        true,
		"description": true,
		"properties":  true,
		"required":    true,
		"items":       true,
		"enum":        true,
		"title":       true,
	}

	sanitized := make(map[string]interface{})
	for key, value := range schema {
		switch {
		case key == "const":
			sanitized["enum"] = []interface{}{value}
		case !allowedFields[key]:
			continue
		case key == "properties":
			if props, ok := value.(map[string]interface{}); ok {
				sanitized["properties"] = sanitizeProps(props)
			}
		case key == "items":
			sanitized["items"] = sanitizeItems(value)
		default:
			if valueMap, ok := value.(map[string]interface{}); ok {
				sanitized[key] = SanitizeSchema(valueMap)
			} else {
				sanitized[key] = value
			}
		}
	}

	if _, ok := sanitized["type"]; !ok {
		sanitized["type"] = "object"
	}

	if schemaType, _ := sanitized["type"].(string); schemaType == "object" {
		props, hasProps := sanitized["properties"].(map[string]interface{})
		if !hasProps || len(props) == 0 {
			placeholder := placeholderObjectSchema()
			sanitized["properties"] = placeholder["properties"]
			sanitized["required"] = placeholder["required"]
		}
	}

	return sanitized
}

func placeholderObjectSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"reason": map[string]interface{}{
				"type":        "string",
				"description": "Reason for calling this tool",
			},
		},
		"required": []string{"reason"},
	}
}

func sanitizeProps(props map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(props))
	for key, value := range props {
		if propMap, ok := value.(map[string]interface{}); ok {
			out[key] = SanitizeSchema(propMap)
		} else {
			out[key] = value
		}
	}
	return out
}

func sanitizeItems(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return SanitizeSchema(v)
	case []interface{}:
		out := make([]interface{}, 0, len(v))
		for _, item := range v {
			if itemMap, ok := item.(map[string]interface{}); ok {
				out = append(out, SanitizeSchema(itemMap))
			} else {
				out = append(out, item)
			}
		}
		return out
	default:
		return value
	}
}

// schemaHintPhase transforms a single schema node, returning the (possibly
// rewritten) node. Phases that only need to touch the current node can be
// composed with walkSchema instead of reimplementing the properties/items/
// union recursion by hand.
type schemaHintPhase func(map[string]interface{}) map[string]interface{}

// unsupportedKeywords are JSON Schema constructs the upstream Gemini schema
// dialect rejects outright once their information has been folded into a
// description hint by an earlier phase.
var unsupportedKeywords = []string{
	"additionalProperties", "default", "$schema", "$defs",
	"definitions", "$ref", "$id", "$comment", "title",
	"minLength", "maxLength", "pattern", "format",
	"minItems", "maxItems", "examples", "allOf", "anyOf", "oneOf",
}

// CleanSchema converts a JSON Schema tool definition into the restricted
// dialect the Gemini function-calling API understands: $refs and unions are
// flattened into description hints, unsupported keywords are stripped, and
// surviving type names are uppercased to Google's wire format.
func CleanSchema(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return schema
	}

	result := copyMap(schema)
	for _, phase := range []schemaHintPhase{
		convertRefsToHints,
		addEnumHints,
		addAdditionalPropertiesHints,
		moveConstraintsToDescription,
		mergeAllOf,
		flattenAnyOfOneOf,
	} {
		result = phase(result)
	}
	result = flattenTypeArrays(result, nil, "")

	for _, key := range unsupportedKeywords {
		delete(result, key)
	}

	if schemaType, ok := result["type"].(string); ok && schemaType == "string" {
		if format, ok := result["format"].(string); ok {
			if format != "enum" && format != "date-time" {
				delete(result, "format")
			}
		}
	}

	result = walkSchema(result, CleanSchema, false)
	pruneMissingRequired(result)

	if schemaType, ok := result["type"].(string); ok {
		result["type"] = toGoogleType(schemaType)
	}

	return result
}

// pruneMissingRequired drops any name from "required" that no longer has a
// matching entry in "properties" - phases upstream may have removed a
// property (e.g. a nullable one) without updating the list that names it.
func pruneMissingRequired(schema map[string]interface{}) {
	required, ok := schema["required"].([]interface{})
	if !ok {
		return
	}
	props, ok := schema["properties"].(map[string]interface{})
	if !ok {
		return
	}

	kept := make([]interface{}, 0, len(required))
	for _, name := range required {
		if nameStr, ok := name.(string); ok && props[nameStr] != nil {
			kept = append(kept, nameStr)
		}
	}
	if len(kept) == 0 {
		delete(schema, "required")
	} else {
		schema["required"] = kept
	}
}

// walkSchema applies visit to every properties/items child of schema
// in place, and additionally to every anyOf/oneOf/allOf branch when
// includeUnions is set. It returns schema for chaining.
func walkSchema(schema map[string]interface{}, visit schemaHintPhase, includeUnions bool) map[string]interface{} {
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		newProps := make(map[string]interface{}, len(props))
		for key, value := range props {
			if valueMap, ok := value.(map[string]interface{}); ok {
				newProps[key] = visit(valueMap)
			} else {
				newProps[key] = value
			}
		}
		schema["properties"] = newProps
	}

	switch items := schema["items"].(type) {
	case map[string]interface{}:
		schema["items"] = visit(items)
	case []interface{}:
		newItems := make([]interface{}, 0, len(items))
		for _, item := range items {
			if itemMap, ok := item.(map[string]interface{}); ok {
				newItems = append(newItems, visit(itemMap))
			} else {
				newItems = append(newItems, item)
			}
		}
		schema["items"] = newItems
	}

	if includeUnions {
		for _, key := range []string{"anyOf", "oneOf", "allOf"} {
			arr, ok := schema[key].([]interface{})
			if !ok {
				continue
			}
			newArr := make([]interface{}, 0, len(arr))
			for _, item := range arr {
				if itemMap, ok := item.(map[string]interface{}); ok {
					newArr = append(newArr, visit(itemMap))
				} else {
					newArr = append(newArr, item)
				}
			}
			schema[key] = newArr
		}
	}

	return schema
}

// appendDescriptionHint appends a parenthesized hint to a schema's description.
func appendDescriptionHint(schema map[string]interface{}, hint string) map[string]interface{} {
	if schema == nil {
		return schema
	}
	result := copyMap(schema)
	if desc, ok := result["description"].(string); ok && desc != "" {
		result["description"] = fmt.Sprintf("%s (%s)", desc, hint)
	} else {
		result["description"] = hint
	}
	return result
}

// scoreSchemaOption ranks an anyOf/oneOf branch by how much structure it
// carries, so flattenAnyOfOneOf can keep the most informative one.
func scoreSchemaOption(schema map[string]interface{}) int {
	if schema == nil {
		return 0
	}
	switch {
	case schema["type"] == "object" || schema["properties"] != nil:
		return 3
	case schema["type"] == "array" || schema["items"] != nil:
		return 2
	}
	if schemaType, ok := schema["type"].(string); ok && schemaType != "null" {
		return 1
	}
	return 0
}

// convertRefsToHints replaces a $ref at this node with an opaque object
// schema carrying the referenced definition's name as a description hint.
func convertRefsToHints(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return schema
	}
	result := copyMap(schema)

	if ref, ok := result["$ref"].(string); ok {
		parts := strings.Split(ref, "/")
		defName := parts[len(parts)-1]
		if defName == "" {
			defName = "unknown"
		}
		hint := fmt.Sprintf("See: %s", defName)

		description := hint
		if desc, ok := result["description"].(string); ok && desc != "" {
			description = fmt.Sprintf("%s (%s)", desc, hint)
		}
		return map[string]interface{}{"type": "object", "description": description}
	}

	return walkSchema(result, convertRefsToHints, true)
}

// mergeAllOf collapses an allOf array into the schema that contains it,
// unioning properties and required fields across the branches.
func mergeAllOf(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return schema
	}
	result := copyMap(schema)

	if allOfArr, ok := result["allOf"].([]interface{}); ok && len(allOfArr) > 0 {
		mergedProperties := make(map[string]interface{})
		mergedRequired := make(map[string]bool)
		otherFields := make(map[string]interface{})

		for _, subSchema := range allOfArr {
			subMap, ok := subSchema.(map[string]interface{})
			if !ok {
				continue
			}
			if props, ok := subMap["properties"].(map[string]interface{}); ok {
				for key, value := range props {
					mergedProperties[key] = value
				}
			}
			if required, ok := subMap["required"].([]interface{}); ok {
				for _, req := range required {
					if reqStr, ok := req.(string); ok {
						mergedRequired[reqStr] = true
					}
				}
			}
			for key, value := range subMap {
				if key == "properties" || key == "required" {
					continue
				}
				if _, exists := otherFields[key]; !exists {
					otherFields[key] = value
				}
			}
		}

		delete(result, "allOf")

		for key, value := range otherFields {
			if _, exists := result[key]; !exists {
				result[key] = value
			}
		}

		if len(mergedProperties) > 0 {
			existingProps, _ := result["properties"].(map[string]interface{})
			if existingProps == nil {
				existingProps = make(map[string]interface{})
			}
			for key, value := range mergedProperties {
				if _, exists := existingProps[key]; !exists {
					existingProps[key] = value
				}
			}
			result["properties"] = existingProps
		}

		if len(mergedRequired) > 0 {
			existingRequired := make(map[string]bool)
			if req, ok := result["required"].([]interface{}); ok {
				for _, r := range req {
					if rStr, ok := r.(string); ok {
						existingRequired[rStr] = true
					}
				}
			}
			for key := range mergedRequired {
				existingRequired[key] = true
			}
			newRequired := make([]interface{}, 0, len(existingRequired))
			for key := range existingRequired {
				newRequired = append(newRequired, key)
			}
			result["required"] = newRequired
		}
	}

	return walkSchema(result, mergeAllOf, false)
}

// flattenAnyOfOneOf replaces an anyOf/oneOf union with its best-scoring
// branch, recording the discarded type names as a description hint.
func flattenAnyOfOneOf(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return schema
	}
	result := copyMap(schema)

	for _, unionKey := range []string{"anyOf", "oneOf"} {
		options, ok := result[unionKey].([]interface{})
		if !ok || len(options) == 0 {
			continue
		}

		var typeNames []string
		var bestOption map[string]interface{}
		bestScore := -1

		for _, option := range options {
			optMap, ok := option.(map[string]interface{})
			if !ok {
				continue
			}

			typeName := ""
			if t, ok := optMap["type"].(string); ok {
				typeName = t
			} else if optMap["properties"] != nil {
				typeName = "object"
			}
			if typeName != "" && typeName != "null" {
				typeNames = append(typeNames, typeName)
			}

			if score := scoreSchemaOption(optMap); score > bestScore {
				bestScore = score
				bestOption = optMap
			}
		}

		delete(result, unionKey)

		if bestOption == nil {
			continue
		}

		parentDescription, _ := result["description"].(string)
		flattenedOption := flattenAnyOfOneOf(bestOption)

		for key, value := range flattenedOption {
			if key == "description" {
				valueStr, ok := value.(string)
				if !ok || valueStr == "" || valueStr == parentDescription {
					continue
				}
				if parentDescription != "" {
					result["description"] = fmt.Sprintf("%s (%s)", parentDescription, valueStr)
				} else {
					result["description"] = valueStr
				}
				continue
			}
			if _, exists := result[key]; !exists || key == "type" || key == "properties" || key == "items" {
				result[key] = value
			}
		}

		if len(typeNames) > 1 {
			result = appendDescriptionHint(result, fmt.Sprintf("Accepts: %s", strings.Join(unique(typeNames), " | ")))
		}
	}

	return walkSchema(result, flattenAnyOfOneOf, false)
}

// addEnumHints records a small enum's allowed values as a description hint.
func addEnumHints(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return schema
	}
	result := copyMap(schema)

	if enumArr, ok := result["enum"].([]interface{}); ok && len(enumArr) > 1 && len(enumArr) <= 10 {
		vals := make([]string, 0, len(enumArr))
		for _, v := range enumArr {
			vals = append(vals, fmt.Sprintf("%v", v))
		}
		result = appendDescriptionHint(result, fmt.Sprintf("Allowed: %s", strings.Join(vals, ", ")))
	}

	return walkSchema(result, addEnumHints, false)
}

// addAdditionalPropertiesHints records additionalProperties: false as a hint.
func addAdditionalPropertiesHints(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return schema
	}
	result := copyMap(schema)

	if result["additionalProperties"] == false {
		result = appendDescriptionHint(result, "No extra properties allowed")
	}

	return walkSchema(result, addAdditionalPropertiesHints, false)
}

// moveConstraintsToDescription folds value constraints that Gemini's schema
// dialect can't express (length/pattern/range bounds) into a hint before
// CleanSchema's keyword-stripping phase deletes them outright.
func moveConstraintsToDescription(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return schema
	}

	constraints := []string{"minLength", "maxLength", "pattern", "minimum", "maximum", "minItems", "maxItems", "format"}
	result := copyMap(schema)

	for _, constraint := range constraints {
		value, ok := result[constraint]
		if !ok {
			continue
		}
		if _, isMap := value.(map[string]interface{}); !isMap {
			result = appendDescriptionHint(result, fmt.Sprintf("%s: %v", constraint, value))
		}
	}

	return walkSchema(result, moveConstraintsToDescription, false)
}

// flattenTypeArrays collapses a JSON Schema type array (e.g. ["string",
// "null"]) to its first non-null member, tracking which properties were
// nullable so the caller can drop them from "required".
func flattenTypeArrays(schema map[string]interface{}, nullableProps map[string]bool, currentPropName string) map[string]interface{} {
	if schema == nil {
		return schema
	}
	result := copyMap(schema)

	if typeArr, ok := result["type"].([]interface{}); ok {
		hasNull := false
		var nonNullTypes []string

		for _, t := range typeArr {
			tStr, ok := t.(string)
			if !ok {
				continue
			}
			if tStr == "null" {
				hasNull = true
			} else if tStr != "" {
				nonNullTypes = append(nonNullTypes, tStr)
			}
		}

		firstType := "string"
		if len(nonNullTypes) > 0 {
			firstType = nonNullTypes[0]
		}
		result["type"] = firstType

		if len(nonNullTypes) > 1 {
			result = appendDescriptionHint(result, fmt.Sprintf("Accepts: %s", strings.Join(nonNullTypes, " | ")))
		}

		if hasNull {
			result = appendDescriptionHint(result, "nullable")
			if nullableProps != nil && currentPropName != "" {
				nullableProps[currentPropName] = true
			}
		}
	}

	if props, ok := result["properties"].(map[string]interface{}); ok {
		childNullableProps := make(map[string]bool)
		newProps := make(map[string]interface{}, len(props))

		for key, value := range props {
			if valueMap, ok := value.(map[string]interface{}); ok {
				newProps[key] = flattenTypeArrays(valueMap, childNullableProps, key)
			} else {
				newProps[key] = value
			}
		}
		result["properties"] = newProps

		if required, ok := result["required"].([]interface{}); ok && len(childNullableProps) > 0 {
			newRequired := make([]interface{}, 0, len(required))
			for _, prop := range required {
				if propStr, ok := prop.(string); ok && !childNullableProps[propStr] {
					newRequired = append(newRequired, propStr)
				}
			}
			if len(newRequired) == 0 {
				delete(result, "required")
			} else {
				result["required"] = newRequired
			}
		}
	}

	switch items := result["items"].(type) {
	case map[string]interface{}:
		result["items"] = flattenTypeArrays(items, nullableProps, "")
	case []interface{}:
		newItems := make([]interface{}, 0, len(items))
		for _, item := range items {
			if itemMap, ok := item.(map[string]interface{}); ok {
				newItems = append(newItems, flattenTypeArrays(itemMap, nullableProps, ""))
			} else {
				newItems = append(newItems, item)
			}
		}
		result["items"] = newItems
	}

	return result
}

// toGoogleType converts a JSON Schema type name to Google's uppercase wire format.
func toGoogleType(typeName string) string {
	if typeName == "" {
		return typeName
	}

	typeMap := map[string]string{
		"string":  "STRING",
		"number":  "NUMBER",
		"integer": "INTEGER",
		"boolean": "BOOLEAN",
		"array":   "ARRAY",
		"object":  "OBJECT",
		"null":    "STRING",
	}

	if upper, ok := typeMap[strings.ToLower(typeName)]; ok {
		return upper
	}
	return strings.ToUpper(typeName)
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}

func unique(arr []string) []string {
	seen := make(map[string]bool, len(arr))
	result := make([]string, 0, len(arr))
	for _, v := range arr {
		if !seen[v] {
			seen[v] = true
			result = append(result, v)
		}
	}
	return result
}
