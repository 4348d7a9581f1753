package executor

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/relaycc/cloudcode-gateway/internal/errors"
	"github.com/relaycc/cloudcode-gateway/internal/format"
	"github.com/relaycc/cloudcode-gateway/internal/utils"
	"github.com/relaycc/cloudcode-gateway/pkg/anthropic"
)

// SSEPart is a part in an upstream SSE response.
type SSEPart struct {
	Thought          bool          `json:"thought,omitempty"`
	Text             string        `json:"text,omitempty"`
	ThoughtSignature string        `json:"thoughtSignature,omitempty"`
	FunctionCall     *FunctionCall `json:"functionCall,omitempty"`
	InlineData       *InlineData   `json:"inlineData,omitempty"`
}

// FunctionCall is a tool call in an upstream SSE response.
type FunctionCall struct {
	ID   string                 `json:"id,omitempty"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// InlineData is inline binary content (e.g. images) in an upstream SSE response.
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// UsageMetadata is token usage reported by the upstream API.
type UsageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount    int `json:"candidatesTokenCount,omitempty"`
	CachedContentTokenCount int `json:"cachedContentTokenCount,omitempty"`
}

// SSECandidate is a single candidate in an upstream SSE response.
type SSECandidate struct {
	Content      *SSEContent `json:"content,omitempty"`
	FinishReason string      `json:"finishReason,omitempty"`
}

// SSEContent is the content of an upstream SSE candidate.
type SSEContent struct {
	Parts []SSEPart `json:"parts,omitempty"`
}

// SSEResponse is a single upstream SSE data payload, which may wrap its
// candidates in a "response" envelope or carry them at the top level.
type SSEResponse struct {
	Response      *SSEInnerResponse `json:"response,omitempty"`
	Candidates    []SSECandidate    `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata    `json:"usageMetadata,omitempty"`
}

// SSEInnerResponse is the wrapped form of SSEResponse's payload.
type SSEInnerResponse struct {
	Candidates    []SSECandidate `json:"candidates,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

// AccumulatedResponse is the full response assembled from a thinking model's
// SSE stream, ready to convert into the Anthropic wire format.
type AccumulatedResponse struct {
	Candidates    []AccumulatedCandidate `json:"candidates"`
	UsageMetadata *UsageMetadata         `json:"usageMetadata,omitempty"`
}

// AccumulatedCandidate is one candidate of an AccumulatedResponse.
type AccumulatedCandidate struct {
	Content      AccumulatedContent `json:"content"`
	FinishReason string             `json:"finishReason"`
}

// AccumulatedContent holds the accumulated parts of a candidate.
type AccumulatedContent struct {
	Parts []map[string]interface{} `json:"parts"`
}

// ToGoogleResponse converts an AccumulatedResponse into format.GoogleResponse
// by round-tripping through JSON, since the two shapes are structurally
// identical but independently defined.
func (a *AccumulatedResponse) ToGoogleResponse() *format.GoogleResponse {
	data, err := json.Marshal(a)
	if err != nil {
		return &format.GoogleResponse{}
	}
	var result format.GoogleResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return &format.GoogleResponse{}
	}
	return &result
}

// ParseThinkingSSEResponse reads an entire SSE stream for a thinking model
// and accumulates it into one Anthropic response, since non-streaming
// callers need thinking blocks collected rather than delivered incrementally.
func ParseThinkingSSEResponse(reader io.Reader, originalModel string) (*anthropic.MessagesResponse, error) {
	var accumulatedThinkingText string
	var accumulatedThinkingSignature string
	var accumulatedText string
	finalParts := make([]map[string]interface{}, 0)
	usageMetadata := &UsageMetadata{}
	finishReason := "STOP"

	flushThinking := func() {
		if accumulatedThinkingText != "" {
			part := map[string]interface{}{
				"thought": true,
				"text":    accumulatedThinkingText,
			}
			if accumulatedThinkingSignature != "" {
				part["thoughtSignature"] = accumulatedThinkingSignature
			}
			finalParts = append(finalParts, part)
			accumulatedThinkingText = ""
			accumulatedThinkingSignature = ""
		}
	}

	flushText := func() {
		if accumulatedText != "" {
			finalParts = append(finalParts, map[string]interface{}{"text": accumulatedText})
			accumulatedText = ""
		}
	}

	scanner := bufio.NewScanner(reader)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		jsonText := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if jsonText == "" {
			continue
		}

		var data SSEResponse
		if err := json.Unmarshal([]byte(jsonText), &data); err != nil {
			utils.Debug("SSE parse warning: %v, raw: %.100s", err, jsonText)
			continue
		}

		innerResponse := data.Response
		if innerResponse == nil {
			innerResponse = &SSEInnerResponse{
				Candidates:    data.Candidates,
				UsageMetadata: data.UsageMetadata,
			}
		}

		if innerResponse.UsageMetadata != nil {
			usageMetadata = innerResponse.UsageMetadata
		}

		candidates := innerResponse.Candidates
		if len(candidates) == 0 {
			continue
		}

		firstCandidate := candidates[0]
		if firstCandidate.FinishReason != "" {
			finishReason = firstCandidate.FinishReason
		}

		if firstCandidate.Content == nil {
			continue
		}

		for _, part := range firstCandidate.Content.Parts {
			switch {
			case part.Thought:
				flushText()
				accumulatedThinkingText += part.Text
				if part.ThoughtSignature != "" {
					accumulatedThinkingSignature = part.ThoughtSignature
				}
			case part.FunctionCall != nil:
				flushThinking()
				flushText()
				fcPart := map[string]interface{}{
					"functionCall": map[string]interface{}{
						"name": part.FunctionCall.Name,
						"args": part.FunctionCall.Args,
					},
				}
				if part.FunctionCall.ID != "" {
					fcPart["functionCall"].(map[string]interface{})["id"] = part.FunctionCall.ID
				}
				finalParts = append(finalParts, fcPart)
			case part.Text != "":
				flushThinking()
				accumulatedText += part.Text
			case part.InlineData != nil:
				flushThinking()
				flushText()
				finalParts = append(finalParts, map[string]interface{}{
					"inlineData": map[string]interface{}{
						"mimeType": part.InlineData.MimeType,
						"data":     part.InlineData.Data,
					},
				})
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	flushThinking()
	flushText()

	if len(finalParts) == 0 {
		return nil, errors.NewEmptyResponseError("no content parts received from API")
	}

	accumulatedResponse := &AccumulatedResponse{
		Candidates: []AccumulatedCandidate{
			{
				Content:      AccumulatedContent{Parts: finalParts},
				FinishReason: finishReason,
			},
		},
		UsageMetadata: usageMetadata,
	}

	return format.ConvertGoogleToAnthropic(accumulatedResponse.ToGoogleResponse(), originalModel), nil
}
