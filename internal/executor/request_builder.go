package executor

import (
	"github.com/google/uuid"
	"github.com/relaycc/cloudcode-gateway/internal/config"
	"github.com/relaycc/cloudcode-gateway/internal/format"
	"github.com/relaycc/cloudcode-gateway/pkg/anthropic"
)

// CloudCodePayload is the wrapped request body the upstream API expects.
type CloudCodePayload struct {
	Project     string                 `json:"project"`
	Model       string                 `json:"model"`
	Request     map[string]interface{} `json:"request"`
	UserAgent   string                 `json:"userAgent"`
	RequestType string                 `json:"requestType"`
	RequestID   string                 `json:"requestId"`
}

// BuildCloudCodeRequest builds the wrapped request body for the upstream API.
func BuildCloudCodeRequest(anthropicRequest *anthropic.MessagesRequest, projectID string) (*CloudCodePayload, error) {
	model := anthropicRequest.Model

	googleRequestStruct := format.ConvertAnthropicToGoogle(anthropicRequest)
	googleRequest := googleRequestStruct.ToMap()

	// Stable session ID derived from the first user message keeps the
	// upstream prompt cache warm across turns of the same conversation.
	googleRequest["sessionId"] = DeriveSessionID(anthropicRequest)

	payload := &CloudCodePayload{
		Project:     projectID,
		Model:       model,
		Request:     googleRequest,
		UserAgent:   "cloudcode-gateway",
		RequestType: "agent",
		RequestID:   "agent-" + uuid.New().String(),
	}

	return payload, nil
}

// BuildHeaders builds headers for upstream requests.
func BuildHeaders(token, model string, accept string) map[string]string {
	if accept == "" {
		accept = "application/json"
	}

	headers := make(map[string]string)
	headers["Authorization"] = "Bearer " + token
	headers["Content-Type"] = "application/json"

	for k, v := range config.Headers() {
		headers[k] = v
	}

	modelFamily := config.GetModelFamily(model)
	if modelFamily == config.ModelFamilyAnthropic && config.IsThinkingModel(model) {
		headers["anthropic-beta"] = "interleaved-thinking-2025-05-14"
	}

	if accept != "application/json" {
		headers["Accept"] = accept
	}

	return headers
}
