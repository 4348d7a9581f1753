// Package format provides conversion between Anthropic and Google Generative AI formats.
package format

import (
	"strings"

	"github.com/relaycc/cloudcode-gateway/internal/config"
	"github.com/relaycc/cloudcode-gateway/internal/utils"
)

// GooglePart represents a part in Google Generative AI format
type GooglePart struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	ThoughtSignature string            `json:"thoughtSignature,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
	InlineData       *InlineData       `json:"inlineData,omitempty"`
	FileData         *FileData         `json:"fileData,omitempty"`
}

// FunctionCall represents a function call in Google format
type FunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
	ID   string                 `json:"id,omitempty"`
}

// FunctionResponse represents a function response in Google format
type FunctionResponse struct {
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response,omitempty"`
	ID       string                 `json:"id,omitempty"`
}

// InlineData represents inline data (e.g., base64 images)
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// FileData represents file data (e.g., URL-referenced files)
type FileData struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

// ConvertRole converts an Anthropic message role to its Google Generative AI equivalent.
func ConvertRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return "user"
}

// mediaPart converts an Anthropic content source (base64 or URL-referenced)
// into the matching inline-data or file-data Google part, using
// defaultMimeType when the source doesn't carry one.
func mediaPart(source *ImageSource, defaultMimeType string) (GooglePart, bool) {
	if source == nil {
		return GooglePart{}, false
	}
	switch source.Type {
	case "base64":
		return GooglePart{InlineData: &InlineData{MimeType: source.MediaType, Data: source.Data}}, true
	case "url":
		mimeType := source.MediaType
		if mimeType == "" {
			mimeType = defaultMimeType
		}
		return GooglePart{FileData: &FileData{MimeType: mimeType, FileURI: source.URL}}, true
	default:
		return GooglePart{}, false
	}
}

// ConvertContentToParts converts Anthropic message content blocks to Google
// Generative AI parts. isClaudeModel/isGeminiModel select model-specific
// quirks: Claude models need function call/response IDs that round-trip
// exactly, Gemini models need a thoughtSignature on every tool call and drop
// thinking blocks whose signature doesn't match the target family.
func ConvertContentToParts(content []ContentBlock, isClaudeModel, isGeminiModel bool) []GooglePart {
	parts := make([]GooglePart, 0, len(content))
	// Images surfaced inside a tool_result are collected and appended once
	// all parts are built, matching how the Gemini API expects inline data
	// ordered relative to its owning functionResponse.
	var deferredInlineData []GooglePart

	cache := GetGlobalSignatureCache()

	for _, block := range content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				parts = append(parts, GooglePart{Text: block.Text})
			}

		case "image":
			if part, ok := mediaPart(block.Source, "image/jpeg"); ok {
				parts = append(parts, part)
			}

		case "document":
			if part, ok := mediaPart(block.Source, "application/pdf"); ok {
				parts = append(parts, part)
			}

		case "tool_use":
			parts = append(parts, convertToolUse(block, cache, isClaudeModel, isGeminiModel))

		case "tool_result":
			response, images := convertToolResult(block)
			funcName := block.ToolUseID
			if funcName == "" {
				funcName = "unknown"
			}
			functionResponse := &FunctionResponse{Name: funcName, Response: response}
			if isClaudeModel && block.ToolUseID != "" {
				functionResponse.ID = block.ToolUseID
			}
			parts = append(parts, GooglePart{FunctionResponse: functionResponse})
			deferredInlineData = append(deferredInlineData, images...)

		case "thinking":
			if part, ok := convertThinking(block, cache, isClaudeModel, isGeminiModel); ok {
				parts = append(parts, part)
			}
		}
	}

	return append(parts, deferredInlineData...)
}

// convertToolUse converts a tool_use block to a Google functionCall part,
// attaching a thoughtSignature for Gemini models: the block's own signature
// takes priority, falling back to a cached one keyed by tool_use id, and
// finally to the skip-signature sentinel Gemini accepts for fresh tool calls.
func convertToolUse(block ContentBlock, cache *SignatureCache, isClaudeModel, isGeminiModel bool) GooglePart {
	functionCall := &FunctionCall{Name: block.Name, Args: block.Input}
	if isClaudeModel && block.ID != "" {
		functionCall.ID = block.ID
	}

	part := GooglePart{FunctionCall: functionCall}
	if !isGeminiModel {
		return part
	}

	signature := block.ThoughtSignature
	if signature == "" && block.ID != "" {
		signature = cache.GetCachedSignature(block.ID)
		if signature != "" {
			utils.Debug("[ContentConverter] Restored signature from cache for: %s", block.ID)
		}
	}
	if signature == "" {
		signature = config.GeminiSkipSignature
	}
	part.ThoughtSignature = signature
	return part
}

// convertThinking converts a thinking block to a Google thought part. Gemini
// rejects thinking carried over from an incompatible model family, so blocks
// whose cached signature family disagrees with the target (or is unknown,
// on a cold cache) are dropped rather than sent upstream.
func convertThinking(block ContentBlock, cache *SignatureCache, isClaudeModel, isGeminiModel bool) (GooglePart, bool) {
	if block.Signature == "" || len(block.Signature) < config.MinSignatureLength {
		return GooglePart{}, false
	}

	targetFamily := ""
	switch {
	case isClaudeModel:
		targetFamily = "claude"
	case isGeminiModel:
		targetFamily = "gemini"
	}

	if isGeminiModel && targetFamily != "" {
		signatureFamily := cache.GetCachedSignatureFamily(block.Signature)
		if signatureFamily != "" && signatureFamily != targetFamily {
			utils.Debug("[ContentConverter] Dropping incompatible %s thinking for %s model", signatureFamily, targetFamily)
			return GooglePart{}, false
		}
		if signatureFamily == "" {
			utils.Debug("[ContentConverter] Dropping thinking with unknown signature origin")
			return GooglePart{}, false
		}
	}

	return GooglePart{Text: block.Thinking, Thought: true, ThoughtSignature: block.Signature}, true
}

// convertToolResult extracts the text/image payload of a tool_result block
// into a Google functionResponse body, returning any images separately so
// the caller can defer them to the end of the parts array.
func convertToolResult(block ContentBlock) (map[string]interface{}, []GooglePart) {
	response := make(map[string]interface{})
	if block.Content == nil {
		return response, nil
	}

	switch c := block.Content.(type) {
	case string:
		response["result"] = c
		return response, nil

	case []interface{}:
		var texts []string
		var images []GooglePart
		for _, item := range c {
			itemMap, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			switch itemMap["type"] {
			case "image":
				source, ok := itemMap["source"].(map[string]interface{})
				if !ok || source["type"] != "base64" {
					continue
				}
				mimeType, _ := source["media_type"].(string)
				data, _ := source["data"].(string)
				images = append(images, GooglePart{InlineData: &InlineData{MimeType: mimeType, Data: data}})
			case "text":
				if text, ok := itemMap["text"].(string); ok {
					texts = append(texts, text)
				}
			}
		}
		response["result"] = toolResultSummary(texts, images)
		return response, images

	case []ContentBlock:
		var texts []string
		var images []GooglePart
		for _, item := range c {
			switch {
			case item.Type == "image" && item.Source != nil && item.Source.Type == "base64":
				images = append(images, GooglePart{InlineData: &InlineData{MimeType: item.Source.MediaType, Data: item.Source.Data}})
			case item.Type == "text":
				texts = append(texts, item.Text)
			}
		}
		response["result"] = toolResultSummary(texts, images)
		return response, images

	default:
		return response, nil
	}
}

// toolResultSummary picks the text to use as a tool_result's summary: joined
// text wins, an attached image is noted when there's no text, and an empty
// result falls through otherwise.
func toolResultSummary(texts []string, images []GooglePart) string {
	if len(texts) > 0 {
		return strings.Join(texts, "\n")
	}
	if len(images) > 0 {
		return "Image attached"
	}
	return ""
}

// ConvertStringContentToParts wraps a plain string as a single Google text part.
func ConvertStringContentToParts(content string) []GooglePart {
	return []GooglePart{{Text: content}}
}
