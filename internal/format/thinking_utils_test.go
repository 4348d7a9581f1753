package format

import (
	"strings"
	"testing"
)

const validSig = "sig-0123456789-0123456789-0123456789-0123456789-0123456789"

func TestCleanCacheControl_RemovesCacheControlFromBlocks(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: []ContentBlock{
			{Type: "text", Text: "hi", CacheControl: map[string]interface{}{"type": "ephemeral"}},
		}},
	}

	cleaned := CleanCacheControl(messages)

	if cleaned[0].Content[0].CacheControl != nil {
		t.Error("expected cache_control to be stripped")
	}
	if cleaned[0].Content[0].Text != "hi" {
		t.Errorf("expected text to survive, got %q", cleaned[0].Content[0].Text)
	}
}

func TestCleanCacheControl_EmptyMessagesPassThrough(t *testing.T) {
	if got := CleanCacheControl(nil); got != nil {
		t.Errorf("expected nil to pass through unchanged, got %v", got)
	}
}

func TestCleanCacheControl_MessageWithoutContentIsKept(t *testing.T) {
	messages := []Message{{Role: "user"}}
	cleaned := CleanCacheControl(messages)
	if len(cleaned) != 1 || cleaned[0].Role != "user" {
		t.Errorf("expected the contentless message to be preserved, got %+v", cleaned)
	}
}

func TestHasGeminiHistory(t *testing.T) {
	withGemini := []Message{
		{Role: "assistant", Content: []ContentBlock{{Type: "tool_use", ThoughtSignature: "sig"}}},
	}
	if !HasGeminiHistory(withGemini) {
		t.Error("expected tool_use with thoughtSignature to be detected as gemini history")
	}

	withoutGemini := []Message{
		{Role: "assistant", Content: []ContentBlock{{Type: "text", Text: "hi"}}},
	}
	if HasGeminiHistory(withoutGemini) {
		t.Error("expected plain text history to not be gemini history")
	}
}

func TestHasUnsignedThinkingBlocks(t *testing.T) {
	unsigned := []Message{
		{Role: "assistant", Content: []ContentBlock{{Type: "thinking", Thinking: "hmm"}}},
	}
	if !HasUnsignedThinkingBlocks(unsigned) {
		t.Error("expected an unsigned thinking block to be detected")
	}

	signed := []Message{
		{Role: "assistant", Content: []ContentBlock{{Type: "thinking", Thinking: "hmm", Signature: validSig}}},
	}
	if HasUnsignedThinkingBlocks(signed) {
		t.Error("expected a validly signed thinking block to not be flagged")
	}

	userOnly := []Message{
		{Role: "user", Content: []ContentBlock{{Type: "thinking", Thinking: "hmm"}}},
	}
	if HasUnsignedThinkingBlocks(userOnly) {
		t.Error("expected user-role messages to be ignored")
	}
}

func TestRestoreThinkingSignatures_DropsUnsignedKeepsSigned(t *testing.T) {
	content := []ContentBlock{
		{Type: "thinking", Thinking: "unsigned"},
		{Type: "thinking", Thinking: "signed", Signature: validSig},
		{Type: "text", Text: "hello"},
	}

	result := RestoreThinkingSignatures(content)

	if len(result) != 2 {
		t.Fatalf("expected 2 surviving blocks, got %d: %+v", len(result), result)
	}
	if result[0].Thinking != "signed" {
		t.Errorf("expected the signed thinking block to survive, got %+v", result[0])
	}
	if result[1].Type != "text" {
		t.Errorf("expected the text block to survive, got %+v", result[1])
	}
}

func TestRemoveTrailingThinkingBlocks_StripsOnlyTrailingUnsigned(t *testing.T) {
	content := []ContentBlock{
		{Type: "text", Text: "intro"},
		{Type: "thinking", Thinking: "unsigned-trailing"},
	}

	result := RemoveTrailingThinkingBlocks(content)

	if len(result) != 1 || result[0].Type != "text" {
		t.Errorf("expected only the leading text block to remain, got %+v", result)
	}
}

func TestRemoveTrailingThinkingBlocks_StopsAtSignedThinkingBlock(t *testing.T) {
	content := []ContentBlock{
		{Type: "thinking", Thinking: "signed", Signature: validSig},
		{Type: "thinking", Thinking: "unsigned-trailing"},
	}

	result := RemoveTrailingThinkingBlocks(content)

	if len(result) != 1 || result[0].Thinking != "signed" {
		t.Errorf("expected only the unsigned trailing block removed and the signed block kept, got %+v", result)
	}
}

func TestReorderAssistantContent_OrdersThinkingTextThenToolUse(t *testing.T) {
	content := []ContentBlock{
		{Type: "tool_use", Name: "search", ID: "t1"},
		{Type: "text", Text: "reasoning out loud"},
		{Type: "thinking", Thinking: "plan", Signature: validSig},
	}

	result := ReorderAssistantContent(content)

	if len(result) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(result))
	}
	if result[0].Type != "thinking" || result[1].Type != "text" || result[2].Type != "tool_use" {
		t.Errorf("expected order thinking, text, tool_use, got %+v", result)
	}
}

func TestReorderAssistantContent_DropsEmptyTextBlocks(t *testing.T) {
	content := []ContentBlock{
		{Type: "text", Text: ""},
		{Type: "tool_use", Name: "search"},
	}

	result := ReorderAssistantContent(content)

	if len(result) != 1 || result[0].Type != "tool_use" {
		t.Errorf("expected the empty text block dropped, got %+v", result)
	}
}

func TestReorderAssistantContent_SingleElementIsSanitizedNotReordered(t *testing.T) {
	content := []ContentBlock{{Type: "thinking", Thinking: "solo", Signature: validSig, Text: "leaked"}}

	result := ReorderAssistantContent(content)

	if len(result) != 1 {
		t.Fatalf("expected a single block, got %d", len(result))
	}
	if result[0].Text != "" {
		t.Errorf("expected sanitization to drop stray fields from the lone thinking block, got %+v", result[0])
	}
}

func TestFilterUnsignedThinkingBlocks_DropsUnsignedGeminiThoughts(t *testing.T) {
	contents := []map[string]interface{}{
		{
			"role": "model",
			"parts": []interface{}{
				map[string]interface{}{"thought": true, "text": "unsigned"},
				map[string]interface{}{"thought": true, "text": "signed", "thoughtSignature": validSig},
				map[string]interface{}{"text": "plain"},
			},
		},
	}

	result := FilterUnsignedThinkingBlocks(contents)

	parts, ok := result[0]["parts"].([]interface{})
	if !ok || len(parts) != 2 {
		t.Fatalf("expected 2 surviving parts, got %v", result[0]["parts"])
	}
}

func TestNeedsThinkingRecovery_TrueForToolLoopWithoutThinking(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: []ContentBlock{{Type: "text", Text: "do a thing"}}},
		{Role: "assistant", Content: []ContentBlock{{Type: "tool_use", Name: "search", ID: "t1"}}},
		{Role: "user", Content: []ContentBlock{{Type: "tool_result", ToolUseID: "t1", Content: "result"}}},
	}

	if !NeedsThinkingRecovery(messages) {
		t.Error("expected a tool loop without thinking to need recovery")
	}
}

func TestNeedsThinkingRecovery_FalseWhenThinkingPresent(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: []ContentBlock{{Type: "text", Text: "do a thing"}}},
		{Role: "assistant", Content: []ContentBlock{
			{Type: "thinking", Thinking: "plan", Signature: validSig},
			{Type: "tool_use", Name: "search", ID: "t1"},
		}},
		{Role: "user", Content: []ContentBlock{{Type: "tool_result", ToolUseID: "t1", Content: "result"}}},
	}

	if NeedsThinkingRecovery(messages) {
		t.Error("expected a tool loop with valid thinking to not need recovery")
	}
}

func TestNeedsThinkingRecovery_FalseOutsideToolLoop(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: []ContentBlock{{Type: "text", Text: "hello"}}},
		{Role: "assistant", Content: []ContentBlock{{Type: "text", Text: "hi there"}}},
	}

	if NeedsThinkingRecovery(messages) {
		t.Error("expected a plain conversation to not need recovery")
	}
}

func TestCloseToolLoopForThinking_InjectsSyntheticMessagesForToolLoop(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: []ContentBlock{{Type: "text", Text: "do a thing"}}},
		{Role: "assistant", Content: []ContentBlock{{Type: "tool_use", Name: "search", ID: "t1"}}},
		{Role: "user", Content: []ContentBlock{{Type: "tool_result", ToolUseID: "t1", Content: "result"}}},
	}

	result := CloseToolLoopForThinking(messages, "gemini")

	if len(result) != len(messages)+2 {
		t.Fatalf("expected 2 synthetic messages appended, got %d messages", len(result))
	}
	last := result[len(result)-1]
	if last.Role != "user" || !strings.Contains(last.Content[0].Text, "Continue") {
		t.Errorf("expected a trailing synthetic user message, got %+v", last)
	}
}

func TestCloseToolLoopForThinking_InjectsAcknowledgementForInterruptedTool(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: []ContentBlock{{Type: "text", Text: "do a thing"}}},
		{Role: "assistant", Content: []ContentBlock{{Type: "tool_use", Name: "search", ID: "t1"}}},
		{Role: "user", Content: []ContentBlock{{Type: "text", Text: "never mind, forget it"}}},
	}

	result := CloseToolLoopForThinking(messages, "gemini")

	if len(result) != len(messages)+1 {
		t.Fatalf("expected exactly one synthetic message inserted, got %d messages", len(result))
	}
	if !strings.Contains(result[2].Content[0].Text, "interrupted") {
		t.Errorf("expected the inserted message to acknowledge the interruption, got %+v", result[2])
	}
}

func TestCloseToolLoopForThinking_NoOpWhenNotInLoop(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: []ContentBlock{{Type: "text", Text: "hello"}}},
		{Role: "assistant", Content: []ContentBlock{{Type: "text", Text: "hi"}}},
	}

	result := CloseToolLoopForThinking(messages, "gemini")

	if len(result) != len(messages) {
		t.Errorf("expected no changes outside a tool loop, got %+v", result)
	}
}
