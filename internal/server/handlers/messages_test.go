package handlers

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/relaycc/cloudcode-gateway/internal/config"
	"github.com/relaycc/cloudcode-gateway/internal/executor"
	"github.com/relaycc/cloudcode-gateway/pkg/anthropic"
)

func newTestMessagesHandler(t *testing.T) *MessagesHandler {
	t.Helper()
	manager := newTestManager(t, nil)
	cfg := config.DefaultConfig()
	client := executor.NewClient(manager, cfg)
	return NewMessagesHandler(manager, client, cfg, false, nil)
}

func TestMessagesHandler_RejectsInvalidJSONBody(t *testing.T) {
	handler := newTestMessagesHandler(t)
	engine := gin.New()
	engine.POST("/v1/messages", handler.Messages)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewBufferString("not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid JSON, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMessagesHandler_RejectsEmptyMessages(t *testing.T) {
	handler := newTestMessagesHandler(t)
	engine := gin.New()
	engine.POST("/v1/messages", handler.Messages)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewBufferString(`{"model":"claude-opus-4-6","messages":[]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty messages, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "messages is required") {
		t.Errorf("expected the messages-required error message, got %s", rec.Body.String())
	}
}

func TestMessagesHandler_ShortCircuitsCountProbe(t *testing.T) {
	handler := newTestMessagesHandler(t)
	engine := gin.New()
	engine.POST("/v1/messages", handler.Messages)

	body := `{"model":"claude-opus-4-6","messages":[{"role":"user","content":[{"type":"text","text":"count"}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for the count probe, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.TrimSpace(rec.Body.String()) != "{}" {
		t.Errorf("expected an empty object response for the count probe, got %s", rec.Body.String())
	}
}

func TestCountTokens_ReturnsNotImplemented(t *testing.T) {
	handler := newTestMessagesHandler(t)
	engine := gin.New()
	engine.POST("/v1/messages/count_tokens", handler.CountTokens)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages/count_tokens", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Errorf("expected 501, got %d", rec.Code)
	}
}

func TestRefreshTokenHandler_ClearsCachesAndReturnsOK(t *testing.T) {
	manager := newTestManager(t, nil)
	handler := NewRefreshTokenHandler(manager)

	engine := gin.New()
	engine.POST("/refresh-token", handler.RefreshToken)

	req := httptest.NewRequest(http.MethodPost, "/refresh-token", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("expected a status ok body, got %s", rec.Body.String())
	}
}

func TestSerializeRequest_ProducesValidJSON(t *testing.T) {
	req := &anthropic.MessagesRequest{Model: "claude-opus-4-6", MaxTokens: 100}
	out := SerializeRequest(req)
	if !strings.Contains(out, `"model":"claude-opus-4-6"`) {
		t.Errorf("expected model field in serialized output, got %s", out)
	}
}

func TestParseError_AuthenticationError(t *testing.T) {
	errorType, statusCode, _ := parseError(errors.New("request failed with 401 UNAUTHENTICATED"))
	if errorType != "authentication_error" || statusCode != 401 {
		t.Errorf("expected authentication_error/401, got %s/%d", errorType, statusCode)
	}
}

func TestParseError_RateLimitedExtractsModelAndDuration(t *testing.T) {
	errorType, statusCode, message := parseError(errors.New(
		"429 RESOURCE_EXHAUSTED: Rate limited on claude-opus-4-6. quota will reset after 2h30m, try again later"))
	if errorType != "invalid_request_error" || statusCode != 400 {
		t.Errorf("expected invalid_request_error/400, got %s/%d", errorType, statusCode)
	}
	if !strings.Contains(message, "claude-opus-4-6") || !strings.Contains(message, "2h30m") {
		t.Errorf("expected the model and duration in the message, got %s", message)
	}
}

func TestParseError_RateLimitedWithoutResetTime(t *testing.T) {
	_, statusCode, message := parseError(errors.New("429 RESOURCE_EXHAUSTED: Rate limited on claude-opus-4-6."))
	if statusCode != 400 {
		t.Errorf("expected 400, got %d", statusCode)
	}
	if !strings.Contains(message, "Please wait for your quota to reset") {
		t.Errorf("expected the generic wait message, got %s", message)
	}
}

func TestParseError_InvalidArgumentExtractsNestedMessage(t *testing.T) {
	_, statusCode, message := parseError(errors.New(`invalid_request_error: {"message":"bad schema"}`))
	if statusCode != 400 {
		t.Errorf("expected 400, got %d", statusCode)
	}
	if message != "bad schema" {
		t.Errorf("expected the extracted nested message, got %s", message)
	}
}

func TestParseError_AllEndpointsFailed(t *testing.T) {
	errorType, statusCode, message := parseError(errors.New("All endpoints failed after retries"))
	if errorType != "api_error" || statusCode != 503 {
		t.Errorf("expected api_error/503, got %s/%d", errorType, statusCode)
	}
	if !strings.Contains(message, "Unable to reach") {
		t.Errorf("expected an upstream-unreachable message, got %s", message)
	}
}

func TestParseError_PermissionDenied(t *testing.T) {
	errorType, statusCode, _ := parseError(errors.New("PERMISSION_DENIED: no access"))
	if errorType != "permission_error" || statusCode != 403 {
		t.Errorf("expected permission_error/403, got %s/%d", errorType, statusCode)
	}
}

func TestParseError_UnknownErrorDefaultsToAPIError(t *testing.T) {
	errorType, statusCode, message := parseError(errors.New("boom"))
	if errorType != "api_error" || statusCode != 500 {
		t.Errorf("expected api_error/500, got %s/%d", errorType, statusCode)
	}
	if message != "boom" {
		t.Errorf("expected the raw error message passed through, got %s", message)
	}
}
