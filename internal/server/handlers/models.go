// Package handlers provides HTTP request handlers for the server.
// This file handles model listing endpoints.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/relaycc/cloudcode-gateway/internal/executor"
	"github.com/relaycc/cloudcode-gateway/internal/pool"
	"github.com/relaycc/cloudcode-gateway/internal/utils"
)

// ModelsHandler handles model listing endpoints
type ModelsHandler struct {
	pool *pool.Manager
}

// NewModelsHandler creates a new ModelsHandler
func NewModelsHandler(manager *pool.Manager) *ModelsHandler {
	return &ModelsHandler{pool: manager}
}

// ListModels handles GET /v1/models - Anthropic-compatible format
func (h *ModelsHandler) ListModels(c *gin.Context) {
	ctx := c.Request.Context()

	result, err := h.pool.SelectAccount(ctx, "", pool.SelectOptions{})
	if err != nil || result.Account == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    "api_error",
				"message": "No accounts available",
			},
		})
		return
	}

	token, err := h.pool.GetTokenForAccount(ctx, result.Account)
	if err != nil {
		utils.Error("[API] Error getting token for models: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    "api_error",
				"message": err.Error(),
			},
		})
		return
	}

	models, err := executor.ListModels(ctx, token)
	if err != nil {
		utils.Error("[API] Error listing models: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    "api_error",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, models)
}
