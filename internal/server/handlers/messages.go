// Package handlers provides HTTP request handlers for the server.
// This file handles the main /v1/messages endpoint.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/relaycc/cloudcode-gateway/internal/config"
	"github.com/relaycc/cloudcode-gateway/internal/errors"
	"github.com/relaycc/cloudcode-gateway/internal/executor"
	"github.com/relaycc/cloudcode-gateway/internal/pool"
	"github.com/relaycc/cloudcode-gateway/internal/server/sse"
	"github.com/relaycc/cloudcode-gateway/internal/utils"
	"github.com/relaycc/cloudcode-gateway/pkg/anthropic"
	"github.com/relaycc/cloudcode-gateway/pkg/redis"
)

// MessagesHandler handles the /v1/messages endpoint
type MessagesHandler struct {
	pool            *pool.Manager
	client          *executor.Client
	cfg             *config.Config
	fallbackEnabled bool
	usage           *redis.UsageStore
}

// NewMessagesHandler creates a new MessagesHandler. usage may be nil when
// no Redis backend is configured, in which case completed requests are not
// counted.
func NewMessagesHandler(
	manager *pool.Manager,
	client *executor.Client,
	cfg *config.Config,
	fallbackEnabled bool,
	usage *redis.UsageStore,
) *MessagesHandler {
	return &MessagesHandler{
		pool:            manager,
		client:          client,
		cfg:             cfg,
		fallbackEnabled: fallbackEnabled,
		usage:           usage,
	}
}

// recordUsage records a completed request's model for the admin usage
// surface. Best-effort: a Redis hiccup here must never fail the request
// that already succeeded.
func (h *MessagesHandler) recordUsage(c *gin.Context, model string) {
	if h.usage == nil {
		return
	}
	family := string(config.GetModelFamily(model))
	if err := h.usage.RecordRequest(c.Request.Context(), family, redis.ModelShortName(model)); err != nil {
		utils.Warn("[API] Failed to record usage for %s: %v", model, err)
	}
}

// Messages handles POST /v1/messages - Anthropic Messages API compatible
func (h *MessagesHandler) Messages(c *gin.Context) {
	ctx := c.Request.Context()

	var req anthropic.MessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    "invalid_request_error",
				"message": "Invalid request body: " + err.Error(),
			},
		})
		return
	}

	if req.Model == "" {
		req.Model = "claude-3-5-sonnet-20241022"
	}

	// Validate model ID before processing
	result, _ := h.pool.SelectAccount(ctx, "", pool.SelectOptions{})
	if result != nil && result.Account != nil {
		token, err := h.pool.GetTokenForAccount(ctx, result.Account)
		if err == nil {
			projectID := ""
			if result.Account.Subscription != nil {
				projectID = result.Account.Subscription.ProjectID
			}
			if !h.client.IsValidModel(ctx, req.Model, token, projectID) {
				h.sendError(c, http.StatusBadRequest, "invalid_request_error",
					"Invalid model: "+req.Model+". Use /v1/models to see available models.")
				return
			}
		}
	}

	// Optimistic retry: if every account is rate-limited for this model, reset state
	if h.pool.IsAllRateLimited(req.Model) {
		utils.Warn("[Server] All accounts rate-limited for %s. Resetting state for optimistic retry.", req.Model)
		h.pool.ResetAllRateLimits(ctx)
	}

	if len(req.Messages) == 0 {
		h.sendError(c, http.StatusBadRequest, "invalid_request_error",
			"messages is required and must be an array")
		return
	}

	// Filter out "count" probe requests some clients send at startup
	if len(req.Messages) == 1 && len(req.Messages[0].Content) == 1 {
		if req.Messages[0].Content[0].Type == "text" && req.Messages[0].Content[0].Text == "count" {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
	}

	if req.MaxTokens == 0 {
		req.MaxTokens = 4096
	}

	utils.Info("[API] Request for model: %s, stream: %t", req.Model, req.Stream)

	if utils.IsDebug() {
		utils.Debug("[API] Message structure:")
		for i, msg := range req.Messages {
			types := make([]string, 0, len(msg.Content))
			for _, block := range msg.Content {
				types = append(types, block.Type)
			}
			utils.Debug("  [%d] %s: %s", i, msg.Role, strings.Join(types, ", "))
		}
	}

	if req.Stream {
		h.handleStreamingResponse(c, &req)
	} else {
		h.handleNonStreamingResponse(c, &req)
	}
}

// handleStreamingResponse handles streaming SSE responses
func (h *MessagesHandler) handleStreamingResponse(c *gin.Context, req *anthropic.MessagesRequest) {
	ctx := c.Request.Context()

	events, errs := h.client.SendMessageStream(ctx, req, h.fallbackEnabled)

	// Pull the first event before sending headers, so a pre-stream failure
	// can still return a normal JSON error response instead of a truncated
	// SSE body.
	var firstEvent *executor.SSEEvent
	var firstErr error

	select {
	case event, ok := <-events:
		if !ok {
			select {
			case err := <-errs:
				firstErr = err
			default:
				firstErr = errors.NewEmptyResponseError("no response received")
			}
		} else {
			firstEvent = event
		}
	case err := <-errs:
		firstErr = err
	}

	if firstErr != nil {
		utils.Error("[API] Initial stream error: %v", firstErr)
		errorType, statusCode, errorMessage := parseError(firstErr)
		c.JSON(statusCode, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    errorType,
				"message": errorMessage,
			},
		})
		return
	}

	sseWriter, err := sse.NewWriter(c.Writer)
	if err != nil {
		utils.Error("[API] Failed to create SSE writer: %v", err)
		h.sendError(c, http.StatusInternalServerError, "api_error", "Streaming not supported")
		return
	}

	c.Status(http.StatusOK)
	sseWriter.SetHeaders()
	c.Writer.Flush()

	if firstEvent != nil {
		if err := sseWriter.WriteEvent(firstEvent.Type, firstEvent); err != nil {
			utils.Error("[API] Error writing first SSE event: %v", err)
			return
		}
	}

	for {
		select {
		case event, ok := <-events:
			if !ok {
				h.recordUsage(c, req.Model)
				return
			}
			if err := sseWriter.WriteEvent(event.Type, event); err != nil {
				utils.Error("[API] Error writing SSE event: %v", err)
				return
			}
		case err := <-errs:
			if err != nil {
				utils.Error("[API] Mid-stream error: %v", err)
				errorType, _, errorMessage := parseError(err)
				sseWriter.WriteError(errorType, errorMessage)
				return
			}
			h.recordUsage(c, req.Model)
			return
		case <-ctx.Done():
			return
		}
	}
}

// handleNonStreamingResponse handles non-streaming responses
func (h *MessagesHandler) handleNonStreamingResponse(c *gin.Context, req *anthropic.MessagesRequest) {
	ctx := c.Request.Context()

	response, err := h.client.SendMessage(ctx, req, h.fallbackEnabled)
	if err != nil {
		utils.Error("[API] Error: %v", err)
		errorType, statusCode, errorMessage := h.handleAPIError(err)
		h.sendError(c, statusCode, errorType, errorMessage)
		return
	}

	h.recordUsage(c, req.Model)
	c.JSON(http.StatusOK, response)
}

// handleAPIError maps an executor error to a wire error, clearing caches on
// auth failures so the next request mints fresh credentials.
func (h *MessagesHandler) handleAPIError(err error) (string, int, string) {
	errorType, statusCode, errorMessage := parseError(err)

	if errorType == "authentication_error" {
		utils.Warn("[API] Token might be expired, attempting refresh...")
		h.pool.ClearTokenCache()
		h.pool.ClearProjectCache()
		errorMessage = "Token was expired and has been refreshed. Please retry your request."
	}

	utils.Warn("[API] Returning error response: %d %s - %s", statusCode, errorType, errorMessage)
	return errorType, statusCode, errorMessage
}

// sendError sends an error JSON response
func (h *MessagesHandler) sendError(c *gin.Context, statusCode int, errorType, message string) {
	c.JSON(statusCode, gin.H{
		"type": "error",
		"error": gin.H{
			"type":    errorType,
			"message": message,
		},
	})
}

// CountTokens handles POST /v1/messages/count_tokens
func (h *MessagesHandler) CountTokens(c *gin.Context) {
	c.JSON(http.StatusNotImplemented, gin.H{
		"type": "error",
		"error": gin.H{
			"type":    "not_implemented",
			"message": "Token counting is not implemented. Use /v1/messages with max_tokens or configure your client to skip token counting.",
		},
	})
}

// parseError parses an error and returns error type, status code, and message
func parseError(err error) (string, int, string) {
	errorType := "api_error"
	statusCode := 500
	msg := err.Error()
	errorMessage := msg

	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "UNAUTHENTICATED"):
		errorType = "authentication_error"
		statusCode = 401
		errorMessage = "Authentication failed. Check that the account's refresh token is valid."

	case strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "QUOTA_EXHAUSTED"):
		errorType = "invalid_request_error"
		statusCode = 400

		model := "the model"
		if idx := strings.Index(msg, "Rate limited on "); idx >= 0 {
			if end := strings.Index(msg[idx:], "."); end > 0 {
				model = msg[idx+len("Rate limited on ") : idx+end]
			}
		}

		if idx := strings.Index(msg, "quota will reset after "); idx >= 0 {
			rest := msg[idx+len("quota will reset after "):]
			if end := strings.IndexAny(rest, ".,"); end > 0 {
				duration := rest[:end]
				errorMessage = "You have exhausted your capacity on " + model + ". Quota will reset after " + duration + "."
			} else {
				errorMessage = "You have exhausted your capacity on " + model + ". Please wait for your quota to reset."
			}
		} else {
			errorMessage = "You have exhausted your capacity on " + model + ". Please wait for your quota to reset."
		}

	case strings.Contains(msg, "invalid_request_error") || strings.Contains(msg, "INVALID_ARGUMENT"):
		errorType = "invalid_request_error"
		statusCode = 400
		if idx := strings.Index(msg, `"message":"`); idx >= 0 {
			rest := msg[idx+len(`"message":"`):]
			if end := strings.Index(rest, `"`); end > 0 {
				errorMessage = rest[:end]
			}
		}

	case strings.Contains(msg, "All endpoints failed"):
		errorType = "api_error"
		statusCode = 503
		errorMessage = "Unable to reach the upstream service."

	case strings.Contains(msg, "PERMISSION_DENIED"):
		errorType = "permission_error"
		statusCode = 403
	}

	return errorType, statusCode, errorMessage
}

// RefreshTokenHandler handles POST /refresh-token
type RefreshTokenHandler struct {
	pool *pool.Manager
}

// NewRefreshTokenHandler creates a new RefreshTokenHandler
func NewRefreshTokenHandler(manager *pool.Manager) *RefreshTokenHandler {
	return &RefreshTokenHandler{pool: manager}
}

// RefreshToken handles POST /refresh-token
func (h *RefreshTokenHandler) RefreshToken(c *gin.Context) {
	h.pool.ClearTokenCache()
	h.pool.ClearProjectCache()

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "Token cache cleared and refreshed",
	})
}

// SerializeRequest converts a request to JSON for logging
func SerializeRequest(req *anthropic.MessagesRequest) string {
	data, err := json.Marshal(req)
	if err != nil {
		return "{}"
	}
	return string(data)
}
