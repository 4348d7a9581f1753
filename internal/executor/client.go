// Package executor implements the Cloud Code API client: request wrapping,
// multi-account failover, and streaming/non-streaming response translation
// back to the Anthropic wire format.
package executor

import (
	"context"

	"github.com/relaycc/cloudcode-gateway/internal/config"
	"github.com/relaycc/cloudcode-gateway/internal/pool"
	"github.com/relaycc/cloudcode-gateway/pkg/anthropic"
)

// Client is the main Cloud Code API client.
type Client struct {
	pool             *pool.Manager
	messageHandler   *MessageHandler
	streamingHandler *StreamingHandler
	cfg              *config.Config
}

// NewClient creates a new Cloud Code client.
func NewClient(manager *pool.Manager, cfg *config.Config) *Client {
	return &Client{
		pool:             manager,
		messageHandler:   NewMessageHandler(manager, cfg),
		streamingHandler: NewStreamingHandler(manager, cfg),
		cfg:              cfg,
	}
}

// SendMessage sends a non-streaming request to Cloud Code.
func (c *Client) SendMessage(ctx context.Context, request *anthropic.MessagesRequest, fallbackEnabled bool) (*anthropic.MessagesResponse, error) {
	return c.messageHandler.SendMessage(ctx, request, fallbackEnabled)
}

// SendMessageStream sends a streaming request to Cloud Code, streaming
// events in real time as they arrive from the server.
func (c *Client) SendMessageStream(ctx context.Context, request *anthropic.MessagesRequest, fallbackEnabled bool) (<-chan *SSEEvent, <-chan error) {
	return c.streamingHandler.SendMessageStream(ctx, request, fallbackEnabled)
}

// ListModels lists available models in Anthropic API format.
func (c *Client) ListModels(ctx context.Context, token string) (*ModelListResponse, error) {
	return ListModels(ctx, token)
}

// FetchAvailableModels fetches available models with quota info from Cloud Code.
func (c *Client) FetchAvailableModels(ctx context.Context, token, projectID string) (*FetchModelsResponse, error) {
	return FetchAvailableModels(ctx, token, projectID)
}

// GetModelQuotas gets model quotas for an account.
func (c *Client) GetModelQuotas(ctx context.Context, token, projectID string) (map[string]*ModelQuota, error) {
	return GetModelQuotas(ctx, token, projectID)
}

// GetSubscriptionTier gets the subscription tier for an account.
func (c *Client) GetSubscriptionTier(ctx context.Context, token string) (*SubscriptionDetectionResult, error) {
	return GetSubscriptionTier(ctx, token)
}

// IsValidModel checks if a model ID is valid for the given account's project.
func (c *Client) IsValidModel(ctx context.Context, modelID, token, projectID string) bool {
	return IsValidModel(ctx, modelID, token, projectID)
}
