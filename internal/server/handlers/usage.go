// Package handlers provides HTTP request handlers for the server.
// This file handles the admin usage-totals endpoint.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/relaycc/cloudcode-gateway/pkg/redis"
)

// UsageHandler exposes aggregated per-model-family request counts. It has
// no bearing on account selection or retry - usage is tracked purely for
// operator visibility.
type UsageHandler struct {
	usage *redis.UsageStore
}

// NewUsageHandler creates a new UsageHandler. usage may be nil when no
// Redis backend is configured, in which case GetUsage reports as much.
func NewUsageHandler(usage *redis.UsageStore) *UsageHandler {
	return &UsageHandler{usage: usage}
}

// GetUsage handles GET /v1/admin/usage?hours=N
func (h *UsageHandler) GetUsage(c *gin.Context) {
	if h.usage == nil {
		c.JSON(http.StatusOK, gin.H{
			"tracked": false,
			"message": "usage tracking requires a configured Redis backend",
		})
		return
	}

	hours := 24
	if raw := c.Query("hours"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			hours = parsed
		}
	}

	totals, err := h.usage.GetTotals(c.Request.Context(), hours)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"type": "error",
			"error": gin.H{
				"type":    "api_error",
				"message": "Failed to load usage totals: " + err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tracked":  true,
		"hours":    hours,
		"grand":    totals.Grand,
		"byFamily": totals.ByFamily,
	})
}
