package sse

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewWriter_AcceptsFlushableResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	if _, err := NewWriter(rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// nonFlushingWriter satisfies http.ResponseWriter but not http.Flusher.
type nonFlushingWriter struct{}

func (nonFlushingWriter) Header() http.Header         { return http.Header{} }
func (nonFlushingWriter) Write(p []byte) (int, error) { return len(p), nil }
func (nonFlushingWriter) WriteHeader(statusCode int)  {}

func TestNewWriter_RejectsNonFlushableResponseWriter(t *testing.T) {
	if _, err := NewWriter(nonFlushingWriter{}); err == nil {
		t.Error("expected an error for a ResponseWriter that does not implement http.Flusher")
	}
}

func TestSetHeaders_SetsSSEHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, _ := NewWriter(rec)
	writer.SetHeaders()

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %s", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("expected no-cache, got %s", got)
	}
	if got := rec.Header().Get("X-Accel-Buffering"); got != "no" {
		t.Errorf("expected X-Accel-Buffering no, got %s", got)
	}
}

func TestWriteEvent_FormatsEventAndData(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, _ := NewWriter(rec)

	if err := writer.WriteEvent("message_start", map[string]string{"foo": "bar"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := rec.Body.String()
	if !strings.HasPrefix(body, "event: message_start\ndata: ") {
		t.Errorf("unexpected event format: %q", body)
	}
	if !strings.Contains(body, `"foo":"bar"`) {
		t.Errorf("expected marshaled data in body, got %q", body)
	}
	if !strings.HasSuffix(body, "\n\n") {
		t.Errorf("expected event to end with a blank line, got %q", body)
	}
}

func TestWriteRaw_WritesPreEncodedPayload(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, _ := NewWriter(rec)

	if err := writer.WriteRaw("ping", []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Body.String() != "event: ping\ndata: {\"ok\":true}\n\n" {
		t.Errorf("unexpected raw write output: %q", rec.Body.String())
	}
}

func TestWriteError_EmitsErrorEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, _ := NewWriter(rec)

	if err := writer.WriteError("api_error", "boom"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "event: error\n") {
		t.Errorf("expected an error event, got %q", body)
	}
	if !strings.Contains(body, `"message":"boom"`) {
		t.Errorf("expected the error message in the body, got %q", body)
	}
}
