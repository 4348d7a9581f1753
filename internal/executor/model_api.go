package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/relaycc/cloudcode-gateway/internal/config"
	"github.com/relaycc/cloudcode-gateway/internal/utils"
)

// modelCache is the process-wide model validation cache, refreshed on a TTL.
var modelCache = struct {
	sync.RWMutex
	validModels map[string]bool
	lastFetched time.Time
}{
	validModels: make(map[string]bool),
}

// ModelInfo is a single model entry as reported by fetchAvailableModels.
type ModelInfo struct {
	DisplayName string              `json:"displayName,omitempty"`
	QuotaInfo   *ModelQuotaAPIInfo `json:"quotaInfo,omitempty"`
}

// ModelQuotaAPIInfo is the quota shape the upstream API reports per model;
// kept distinct from pkg/redis.QuotaInfo, which is the pool's persisted form.
type ModelQuotaAPIInfo struct {
	RemainingFraction *float64 `json:"remainingFraction,omitempty"`
	ResetTime         *string  `json:"resetTime,omitempty"`
}

// FetchModelsResponse is the response body of fetchAvailableModels.
type FetchModelsResponse struct {
	Models map[string]*ModelInfo `json:"models,omitempty"`
}

// ModelListResponse is the Anthropic-format model list.
type ModelListResponse struct {
	Object string       `json:"object"`
	Data   []ModelEntry `json:"data"`
}

// ModelEntry is a single entry of ModelListResponse.
type ModelEntry struct {
	ID          string `json:"id"`
	Object      string `json:"object"`
	Created     int64  `json:"created"`
	OwnedBy     string `json:"owned_by"`
	Description string `json:"description"`
}

// ModelQuota is the per-model quota snapshot returned to callers.
type ModelQuota struct {
	RemainingFraction *float64 `json:"remainingFraction,omitempty"`
	ResetTime         *string  `json:"resetTime,omitempty"`
}

// SubscriptionDetectionResult is the outcome of a loadCodeAssist probe;
// kept distinct from pkg/redis.SubscriptionInfo, which is the pool's
// persisted account field.
type SubscriptionDetectionResult struct {
	Tier      string `json:"tier"`
	ProjectID string `json:"projectId,omitempty"`
}

// LoadCodeAssistRequest is the request body for the loadCodeAssist probe.
type LoadCodeAssistRequest struct {
	Metadata *LoadCodeAssistMetadata `json:"metadata,omitempty"`
}

// LoadCodeAssistMetadata is the metadata block of LoadCodeAssistRequest.
type LoadCodeAssistMetadata struct {
	IDEType     string `json:"ideType,omitempty"`
	Platform    string `json:"platform,omitempty"`
	PluginType  string `json:"pluginType,omitempty"`
	DuetProject string `json:"duetProject,omitempty"`
}

// LoadCodeAssistResponse is the response body of the loadCodeAssist probe.
type LoadCodeAssistResponse struct {
	PaidTier                *TierInfo   `json:"paidTier,omitempty"`
	CurrentTier             *TierInfo   `json:"currentTier,omitempty"`
	AllowedTiers            []*TierInfo `json:"allowedTiers,omitempty"`
	CloudAICompanionProject interface{} `json:"cloudaicompanionProject,omitempty"`
}

// TierInfo identifies one subscription tier.
type TierInfo struct {
	ID        string `json:"id,omitempty"`
	IsDefault bool   `json:"isDefault,omitempty"`
}

func isSupportedModel(modelID string) bool {
	family := config.GetModelFamily(modelID)
	return family == config.ModelFamilyAnthropic || family == config.ModelFamilyGemini
}

// ListModels lists available models in Anthropic API format, warming the
// model validation cache as a side effect.
func ListModels(ctx context.Context, token string) (*ModelListResponse, error) {
	data, err := FetchAvailableModels(ctx, token, "")
	if err != nil {
		return nil, err
	}

	if data == nil || data.Models == nil {
		return &ModelListResponse{Object: "list", Data: []ModelEntry{}}, nil
	}

	now := time.Now().Unix()
	modelList := make([]ModelEntry, 0)

	for modelID, modelData := range data.Models {
		if !isSupportedModel(modelID) {
			continue
		}

		description := modelID
		if modelData != nil && modelData.DisplayName != "" {
			description = modelData.DisplayName
		}

		modelList = append(modelList, ModelEntry{
			ID:          modelID,
			Object:      "model",
			Created:     now,
			OwnedBy:     "anthropic",
			Description: description,
		})
	}

	modelCache.Lock()
	modelCache.validModels = make(map[string]bool)
	for _, m := range modelList {
		modelCache.validModels[m.ID] = true
	}
	modelCache.lastFetched = time.Now()
	modelCache.Unlock()

	return &ModelListResponse{
		Object: "list",
		Data:   modelList,
	}, nil
}

// FetchAvailableModels fetches available models with quota info from the
// upstream API, trying each endpoint in the fallback chain.
func FetchAvailableModels(ctx context.Context, token, projectID string) (*FetchModelsResponse, error) {
	headers := make(map[string]string)
	headers["Authorization"] = "Bearer " + token
	headers["Content-Type"] = "application/json"
	for k, v := range config.Headers() {
		headers[k] = v
	}

	body := make(map[string]string)
	if projectID != "" {
		body["project"] = projectID
	}
	bodyBytes, _ := json.Marshal(body)

	for _, endpoint := range config.EndpointFallbacks {
		url := endpoint + "/v1internal:fetchAvailableModels"

		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(bodyBytes))
		if err != nil {
			continue
		}

		for k, v := range headers {
			req.Header.Set(k, v)
		}

		client := &http.Client{Timeout: 30 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			utils.Warn("[CloudCode] fetchAvailableModels failed at %s: %v", endpoint, err)
			continue
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			utils.Warn("[CloudCode] fetchAvailableModels error at %s: %d", endpoint, resp.StatusCode)
			continue
		}

		var data FetchModelsResponse
		if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
			utils.Warn("[CloudCode] fetchAvailableModels decode error at %s: %v", endpoint, err)
			continue
		}

		return &data, nil
	}

	return nil, fmt.Errorf("failed to fetch available models from all endpoints")
}

// GetModelQuotas gets per-model quotas for an account.
func GetModelQuotas(ctx context.Context, token, projectID string) (map[string]*ModelQuota, error) {
	data, err := FetchAvailableModels(ctx, token, projectID)
	if err != nil {
		return nil, err
	}

	if data == nil || data.Models == nil {
		return make(map[string]*ModelQuota), nil
	}

	quotas := make(map[string]*ModelQuota)
	for modelID, modelData := range data.Models {
		if !isSupportedModel(modelID) {
			continue
		}

		if modelData != nil && modelData.QuotaInfo != nil {
			quota := &ModelQuota{
				ResetTime: modelData.QuotaInfo.ResetTime,
			}

			if modelData.QuotaInfo.RemainingFraction != nil {
				quota.RemainingFraction = modelData.QuotaInfo.RemainingFraction
			} else if modelData.QuotaInfo.ResetTime != nil {
				zero := 0.0
				quota.RemainingFraction = &zero
			}

			quotas[modelID] = quota
		}
	}

	return quotas, nil
}

// ParseTierID maps a raw tier identifier to a normalized subscription tier.
func ParseTierID(tierID string) string {
	if tierID == "" {
		return "unknown"
	}

	lower := strings.ToLower(tierID)

	if strings.Contains(lower, "ultra") {
		return "ultra"
	}
	if lower == "standard-tier" {
		return "pro"
	}
	if strings.Contains(lower, "pro") || strings.Contains(lower, "premium") {
		return "pro"
	}
	if lower == "free-tier" || strings.Contains(lower, "free") {
		return "free"
	}
	return "unknown"
}

// GetSubscriptionTier detects the subscription tier and discovered project
// ID for an account via the loadCodeAssist probe.
func GetSubscriptionTier(ctx context.Context, token string) (*SubscriptionDetectionResult, error) {
	headers := make(map[string]string)
	headers["Authorization"] = "Bearer " + token
	headers["Content-Type"] = "application/json"
	for k, v := range config.Headers() {
		headers[k] = v
	}

	reqBody := &LoadCodeAssistRequest{
		Metadata: &LoadCodeAssistMetadata{
			IDEType:     "IDE_UNSPECIFIED",
			Platform:    "PLATFORM_UNSPECIFIED",
			PluginType:  "GEMINI",
			DuetProject: config.DefaultProjectID,
		},
	}
	bodyBytes, _ := json.Marshal(reqBody)

	for _, endpoint := range config.LoadCodeAssistEndpoints {
		url := endpoint + "/v1internal:loadCodeAssist"

		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(bodyBytes))
		if err != nil {
			continue
		}

		for k, v := range headers {
			req.Header.Set(k, v)
		}

		client := &http.Client{Timeout: 30 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			utils.Warn("[CloudCode] loadCodeAssist failed at %s: %v", endpoint, err)
			continue
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			utils.Warn("[CloudCode] loadCodeAssist error at %s: %d", endpoint, resp.StatusCode)
			continue
		}

		var data LoadCodeAssistResponse
		if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
			utils.Warn("[CloudCode] loadCodeAssist decode error at %s: %v", endpoint, err)
			continue
		}

		var projectID string
		switch v := data.CloudAICompanionProject.(type) {
		case string:
			projectID = v
		case map[string]interface{}:
			if id, ok := v["id"].(string); ok {
				projectID = id
			}
		}

		tier := "unknown"
		var tierID, tierSource string

		if data.PaidTier != nil && data.PaidTier.ID != "" {
			tierID = data.PaidTier.ID
			tier = ParseTierID(tierID)
			tierSource = "paidTier"
		}

		if tier == "unknown" && data.CurrentTier != nil && data.CurrentTier.ID != "" {
			tierID = data.CurrentTier.ID
			tier = ParseTierID(tierID)
			tierSource = "currentTier"
		}

		if tier == "unknown" && len(data.AllowedTiers) > 0 {
			var defaultTier *TierInfo
			for _, t := range data.AllowedTiers {
				if t != nil && t.IsDefault {
					defaultTier = t
					break
				}
			}
			if defaultTier == nil && data.AllowedTiers[0] != nil {
				defaultTier = data.AllowedTiers[0]
			}
			if defaultTier != nil && defaultTier.ID != "" {
				tierID = defaultTier.ID
				tier = ParseTierID(tierID)
				tierSource = "allowedTiers"
			}
		}

		utils.Debug("[CloudCode] Subscription detected: %s (tierId: %s, source: %s), Project: %s",
			tier, tierID, tierSource, projectID)

		return &SubscriptionDetectionResult{
			Tier:      tier,
			ProjectID: projectID,
		}, nil
	}

	utils.Warn("[CloudCode] Failed to detect subscription tier from all endpoints. Defaulting to free.")
	return &SubscriptionDetectionResult{Tier: "free", ProjectID: ""}, nil
}

// PopulateModelCache refreshes the model validation cache if it has gone
// stale, since IsValidModel needs something to validate against.
func PopulateModelCache(ctx context.Context, token, projectID string) error {
	now := time.Now()

	modelCache.RLock()
	cacheSize := len(modelCache.validModels)
	lastFetched := modelCache.lastFetched
	modelCache.RUnlock()

	if cacheSize > 0 && now.Sub(lastFetched) < time.Duration(config.ModelValidationTTLMs)*time.Millisecond {
		return nil
	}

	data, err := FetchAvailableModels(ctx, token, projectID)
	if err != nil {
		utils.Warn("[CloudCode] Failed to populate model cache: %v", err)
		return err
	}

	if data != nil && data.Models != nil {
		modelCache.Lock()
		modelCache.validModels = make(map[string]bool)
		for modelID := range data.Models {
			if isSupportedModel(modelID) {
				modelCache.validModels[modelID] = true
			}
		}
		modelCache.lastFetched = time.Now()
		utils.Debug("[CloudCode] Model cache populated with %d models", len(modelCache.validModels))
		modelCache.Unlock()
	}

	return nil
}

// IsValidModel reports whether modelID is recognized by the account's
// project, failing open when the cache could not be populated.
func IsValidModel(ctx context.Context, modelID, token, projectID string) bool {
	_ = PopulateModelCache(ctx, token, projectID)

	modelCache.RLock()
	defer modelCache.RUnlock()

	if len(modelCache.validModels) > 0 {
		return modelCache.validModels[modelID]
	}

	return true
}
