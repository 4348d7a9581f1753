package executor

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/relaycc/cloudcode-gateway/pkg/anthropic"
)

// DeriveSessionID derives a stable session ID from the first user message so
// repeated turns of the same conversation reuse the upstream prompt cache,
// which is scoped per session.
func DeriveSessionID(request *anthropic.MessagesRequest) string {
	for _, msg := range request.Messages {
		if msg.Role == "user" {
			if content := extractTextContent(msg); content != "" {
				hash := sha256.Sum256([]byte(content))
				return hex.EncodeToString(hash[:16])
			}
		}
	}

	return uuid.New().String()
}

func extractTextContent(msg anthropic.Message) string {
	var result string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			if result != "" {
				result += "\n"
			}
			result += block.Text
		}
	}
	return result
}
