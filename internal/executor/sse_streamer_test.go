package executor

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/relaycc/cloudcode-gateway/internal/errors"
)

func drainStream(events <-chan *SSEEvent, errs <-chan error) ([]*SSEEvent, error) {
	var collected []*SSEEvent
	var streamErr error
	for events != nil || errs != nil {
		select {
		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			collected = append(collected, e)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			streamErr = err
		}
	}
	return collected, streamErr
}

func TestStreamSSEResponse_TextOnlyEmitsExpectedSequence(t *testing.T) {
	body := `data: {"response":{"candidates":[{"content":{"parts":[{"text":"hi"}]},"finishReason":"STOP"}]}}` + "\n\n"

	events, errs := StreamSSEResponse(strings.NewReader(body), "claude-opus-4-6")
	collected, err := drainStream(events, errs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var types []string
	for _, e := range collected {
		types = append(types, e.Type)
	}
	want := []string{"message_start", "content_block_start", "content_block_delta", "content_block_stop", "message_delta", "message_stop"}
	if len(types) != len(want) {
		t.Fatalf("unexpected event sequence: %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d: want %s, got %s", i, want[i], types[i])
		}
	}

	last := collected[len(collected)-2] // message_delta
	if last.Delta["stop_reason"] != "end_turn" {
		t.Errorf("expected end_turn stop reason, got %v", last.Delta["stop_reason"])
	}
}

func TestStreamSSEResponse_ThinkingThenTextEmitsSignatureDeltaOnSwitch(t *testing.T) {
	longSig := strings.Repeat("s", 60)
	body := `data: {"response":{"candidates":[{"content":{"parts":[` +
		`{"thought":true,"text":"reasoning","thoughtSignature":"` + longSig + `"},` +
		`{"text":"answer"}` +
		`]}}]}}` + "\n\n"

	events, errs := StreamSSEResponse(strings.NewReader(body), "claude-opus-4-6")
	collected, err := drainStream(events, errs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var types []string
	for _, e := range collected {
		types = append(types, e.Type)
	}

	foundSignatureDelta := false
	for i, e := range collected {
		if e.Type == "content_block_delta" {
			if sig, ok := e.Delta["signature"]; ok && sig == longSig {
				foundSignatureDelta = true
				if types[i+1] != "content_block_stop" {
					t.Errorf("expected the signature_delta to be followed by a content_block_stop, got %s", types[i+1])
				}
			}
		}
	}
	if !foundSignatureDelta {
		t.Errorf("expected a signature_delta when switching away from an unfinished thinking block, got %v", types)
	}
}

func TestStreamSSEResponse_ToolUseSetsStopReasonAndEmitsArgs(t *testing.T) {
	body := `data: {"response":{"candidates":[{"content":{"parts":[` +
		`{"functionCall":{"name":"search","args":{"q":"go"}}}` +
		`]}}]}}` + "\n\n"

	events, errs := StreamSSEResponse(strings.NewReader(body), "claude-opus-4-6")
	collected, err := drainStream(events, errs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var start *SSEEvent
	var argsDelta *SSEEvent
	var stop *SSEEvent
	for _, e := range collected {
		switch e.Type {
		case "content_block_start":
			start = e
		case "message_delta":
			stop = e
		case "content_block_delta":
			if e.Delta["type"] == "input_json_delta" {
				argsDelta = e
			}
		}
	}

	if start == nil || start.ContentBlock.Type != "tool_use" || start.ContentBlock.Name != "search" {
		t.Fatalf("expected a tool_use content block, got %+v", start)
	}
	if argsDelta == nil {
		t.Fatal("expected an input_json_delta event")
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(argsDelta.Delta["partial_json"].(string)), &args); err != nil || args["q"] != "go" {
		t.Errorf("expected the function args preserved as JSON, got %v (%v)", argsDelta.Delta["partial_json"], err)
	}
	if stop == nil || stop.Delta["stop_reason"] != "tool_use" {
		t.Errorf("expected a tool_use stop reason, got %+v", stop)
	}
}

func TestStreamSSEResponse_ImageBlockOpensAndClosesImmediately(t *testing.T) {
	body := `data: {"response":{"candidates":[{"content":{"parts":[` +
		`{"inlineData":{"mimeType":"image/png","data":"abc123"}}` +
		`]}}]}}` + "\n\n"

	events, errs := StreamSSEResponse(strings.NewReader(body), "claude-opus-4-6")
	collected, err := drainStream(events, errs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var types []string
	for _, e := range collected {
		types = append(types, e.Type)
	}
	want := []string{"message_start", "content_block_start", "content_block_stop", "message_delta", "message_stop"}
	if len(types) != len(want) {
		t.Fatalf("unexpected event sequence: %v", types)
	}
	if collected[1].ContentBlock.Type != "image" || collected[1].ContentBlock.Source.MediaType != "image/png" {
		t.Errorf("unexpected image content block: %+v", collected[1].ContentBlock)
	}
}

func TestStreamSSEResponse_NoContentPartsReceivedYieldsEmptyResponseError(t *testing.T) {
	body := `data: {"response":{"candidates":[{"finishReason":"STOP"}]}}` + "\n\n"

	events, errs := StreamSSEResponse(strings.NewReader(body), "claude-opus-4-6")
	_, err := drainStream(events, errs)
	if err == nil || !errors.IsEmptyResponseError(err) {
		t.Errorf("expected an EmptyResponseError, got %v", err)
	}
}

func TestStreamSSEResponse_IgnoresMalformedDataLines(t *testing.T) {
	body := "data: not json\n\n" + `data: {"response":{"candidates":[{"content":{"parts":[{"text":"ok"}]},"finishReason":"STOP"}]}}` + "\n\n"

	events, errs := StreamSSEResponse(strings.NewReader(body), "claude-opus-4-6")
	collected, err := drainStream(events, errs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(collected) == 0 || collected[0].Type != "message_start" {
		t.Errorf("expected malformed lines to be skipped and the valid chunk still processed, got %v", collected)
	}
}

func TestMapFinishReason(t *testing.T) {
	cases := map[string]string{
		"MAX_TOKENS": "max_tokens",
		"STOP":       "end_turn",
		"SAFETY":     "end_turn",
		"":           "end_turn",
	}
	for reason, want := range cases {
		if got := mapFinishReason(reason); got != want {
			t.Errorf("mapFinishReason(%q) = %q, want %q", reason, got, want)
		}
	}
}

func TestGenerateHexID_ProducesExpectedLength(t *testing.T) {
	id := generateHexID(8)
	if len(id) != 16 {
		t.Errorf("expected a 16-character hex string for 8 bytes, got %d (%s)", len(id), id)
	}
}
