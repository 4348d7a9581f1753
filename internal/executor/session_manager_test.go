package executor

import (
	"testing"

	"github.com/relaycc/cloudcode-gateway/pkg/anthropic"
)

func TestDeriveSessionID_IsStableForIdenticalFirstUserMessage(t *testing.T) {
	req1 := &anthropic.MessagesRequest{
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "hello there"}}},
		},
	}
	req2 := &anthropic.MessagesRequest{
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "hello there"}}},
			{Role: "assistant", Content: []anthropic.ContentBlock{{Type: "text", Text: "hi!"}}},
		},
	}

	id1 := DeriveSessionID(req1)
	id2 := DeriveSessionID(req2)

	if id1 != id2 {
		t.Errorf("expected the same session id for the same first user message, got %q and %q", id1, id2)
	}
	if len(id1) != 32 {
		t.Errorf("expected a 32-character hex digest, got %d chars: %q", len(id1), id1)
	}
}

func TestDeriveSessionID_DiffersForDifferentFirstUserMessage(t *testing.T) {
	req1 := &anthropic.MessagesRequest{
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "first"}}},
		},
	}
	req2 := &anthropic.MessagesRequest{
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "second"}}},
		},
	}

	if DeriveSessionID(req1) == DeriveSessionID(req2) {
		t.Error("expected different first user messages to derive different session ids")
	}
}

func TestDeriveSessionID_FallsBackToRandomWhenNoUserText(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Messages: []anthropic.Message{
			{Role: "assistant", Content: []anthropic.ContentBlock{{Type: "text", Text: "no user message here"}}},
		},
	}

	id1 := DeriveSessionID(req)
	id2 := DeriveSessionID(req)

	if id1 == id2 {
		t.Error("expected two calls with no usable user text to return different random session ids")
	}
}

func TestDeriveSessionID_ConcatenatesMultipleTextBlocks(t *testing.T) {
	req1 := &anthropic.MessagesRequest{
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{
				{Type: "text", Text: "part one"},
				{Type: "text", Text: "part two"},
			}},
		},
	}
	req2 := &anthropic.MessagesRequest{
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "part one\npart two"}}},
		},
	}

	if DeriveSessionID(req1) != DeriveSessionID(req2) {
		t.Error("expected multiple text blocks to join with newlines matching an equivalent single block")
	}
}
