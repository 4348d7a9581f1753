// Package executor drives the retry, failover, and backoff state machine
// that turns an Anthropic-format request into an upstream Cloud Code call.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relaycc/cloudcode-gateway/internal/config"
	"github.com/relaycc/cloudcode-gateway/internal/format"
	"github.com/relaycc/cloudcode-gateway/internal/pool"
	"github.com/relaycc/cloudcode-gateway/internal/utils"
	"github.com/relaycc/cloudcode-gateway/pkg/anthropic"
	"github.com/relaycc/cloudcode-gateway/pkg/redis"
)

// MessageHandler handles non-streaming message requests.
type MessageHandler struct {
	pool       *pool.Manager
	httpClient *http.Client
	cfg        *config.Config
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(manager *pool.Manager, cfg *config.Config) *MessageHandler {
	return &MessageHandler{
		pool: manager,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
		cfg: cfg,
	}
}

// SendMessage sends a non-streaming request to Cloud Code with multi-account
// support. Thinking models are always sent over the SSE endpoint and
// accumulated, since the non-streaming endpoint never returns thinking
// blocks.
func (h *MessageHandler) SendMessage(ctx context.Context, anthropicRequest *anthropic.MessagesRequest, fallbackEnabled bool) (*anthropic.MessagesResponse, error) {
	model := anthropicRequest.Model
	isThinking := config.IsThinkingModel(model)

	maxAttempts := max(config.MaxRetries, h.pool.GetAccountCount()+1)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		h.pool.ClearExpiredLimits(ctx)

		availableAccounts := h.pool.GetAvailableAccounts(model)

		if len(availableAccounts) == 0 {
			if h.pool.IsAllRateLimited(model) {
				minWaitMs := h.pool.GetMinWaitTimeMs(ctx, model)
				resetTime := time.Now().Add(time.Duration(minWaitMs) * time.Millisecond).Format(time.RFC3339)

				if minWaitMs > config.MaxWaitBeforeErrorMs {
					if fallbackEnabled {
						fallbackModel, ok := config.GetFallbackModel(model)
						if ok {
							utils.Warn("[CloudCode] All accounts exhausted for %s (%s wait). Attempting fallback to %s",
								model, utils.FormatDuration(minWaitMs), fallbackModel)
							fallbackRequest := *anthropicRequest
							fallbackRequest.Model = fallbackModel
							return h.SendMessage(ctx, &fallbackRequest, false)
						}
					}
					return nil, fmt.Errorf("RESOURCE_EXHAUSTED: Rate limited on %s. Quota will reset after %s. Next available: %s",
						model, utils.FormatDuration(minWaitMs), resetTime)
				}

				accountCount := h.pool.GetAccountCount()
				utils.Warn("[CloudCode] All %d account(s) rate-limited. Waiting %s...",
					accountCount, utils.FormatDuration(minWaitMs))
				utils.SleepMs(minWaitMs + 500)
				h.pool.ClearExpiredLimits(ctx)

				attempt--
				continue
			}

			return nil, fmt.Errorf("No accounts available for %s", model)
		}

		result, err := h.pool.SelectAccount(ctx, model, pool.SelectOptions{})
		if err != nil {
			return nil, err
		}

		if result.Account == nil && result.WaitMs > 0 {
			utils.Info("[CloudCode] Waiting %s for account...", utils.FormatDuration(result.WaitMs))
			utils.SleepMs(result.WaitMs + 500)
			attempt--
			continue
		}

		if result.Account != nil && result.WaitMs > 0 {
			utils.Debug("[CloudCode] Throttling request (%dms) - fallback mode active", result.WaitMs)
			utils.SleepMs(result.WaitMs)
		}

		if result.Account == nil {
			utils.Warn("[CloudCode] Strategy returned no account for %s (attempt %d/%d)",
				model, attempt+1, maxAttempts)
			utils.SleepMs(1000)
			continue
		}

		selectedAccount := result.Account

		token, err := h.getTokenForAccount(ctx, selectedAccount)
		if err != nil {
			utils.Warn("[CloudCode] Failed to get token for %s: %v", selectedAccount.Email, err)
			continue
		}

		projectID := selectedAccount.ProjectID
		if projectID == "" {
			projectID = config.DefaultProjectID
		}

		payload, err := BuildCloudCodeRequest(anthropicRequest, projectID)
		if err != nil {
			return nil, err
		}

		utils.Debug("[CloudCode] Sending request for model: %s", model)

		var lastError error
		capacityRetryCount := 0

		for endpointIndex := 0; endpointIndex < len(config.EndpointFallbacks); endpointIndex++ {
			endpoint := config.EndpointFallbacks[endpointIndex]

			var url string
			if isThinking {
				url = endpoint + "/v1internal:streamGenerateContent?alt=sse"
			} else {
				url = endpoint + "/v1internal:generateContent"
			}

			var accept string
			if isThinking {
				accept = "text/event-stream"
			} else {
				accept = "application/json"
			}

			payloadBytes, err := json.Marshal(payload)
			if err != nil {
				return nil, err
			}

			req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payloadBytes))
			if err != nil {
				return nil, err
			}

			headers := BuildHeaders(token, model, accept)
			for k, v := range headers {
				req.Header.Set(k, v)
			}

			resp, err := h.httpClient.Do(req)
			if err != nil {
				if utils.IsNetworkError(err) {
					utils.Warn("[CloudCode] Network error at %s: %v", endpoint, err)
					lastError = err
					continue
				}
				return nil, err
			}

			if resp.StatusCode != http.StatusOK {
				bodyBytes, _ := io.ReadAll(resp.Body)
				resp.Body.Close()
				errorText := string(bodyBytes)
				utils.Warn("[CloudCode] Error at %s: %d - %s", endpoint, resp.StatusCode, errorText)

				switch resp.StatusCode {
				case 401:
					if IsPermanentAuthFailure(errorText) {
						utils.Error("[CloudCode] Permanent auth failure for %s: %.100s",
							selectedAccount.Email, errorText)
						_ = h.pool.MarkInvalid(ctx, selectedAccount.Email, "Token revoked - re-authentication required")
						return nil, fmt.Errorf("AUTH_INVALID_PERMANENT: %s", errorText)
					}
					h.pool.ClearTokenCacheFor(selectedAccount.Email)
					h.pool.ClearProjectCacheFor(selectedAccount.Email)
					if newToken, err := h.getTokenForAccount(ctx, selectedAccount); err == nil {
						token = newToken
					}
					lastError = fmt.Errorf("auth error: %s", errorText)
					continue

				case 429:
					resetMs := ParseResetTime(resp.Header, errorText)

					if IsModelCapacityExhausted(errorText) {
						if capacityRetryCount < config.MaxCapacityRetries {
							tierIndex := min(capacityRetryCount, len(config.CapacityBackoffTiersMs)-1)
							waitMs := resetMs
							if waitMs <= 0 {
								waitMs = config.CapacityBackoffTiersMs[tierIndex]
							}
							capacityRetryCount++
							utils.Info("[CloudCode] Model capacity exhausted, retry %d/%d after %s...",
								capacityRetryCount, config.MaxCapacityRetries, utils.FormatDuration(waitMs))
							utils.SleepMs(waitMs)
							continue
						}
						utils.Warn("[CloudCode] Max capacity retries (%d) exceeded, switching account",
							config.MaxCapacityRetries)
						if ParseRateLimitReason(errorText, resp.StatusCode) != RateLimitReasonQuotaExhausted {
							lastError = fmt.Errorf("RATE_LIMITED: capacity exhausted: %s", errorText)
							goto accountExhausted
						}
					}

					backoff := GetRateLimitBackoff(selectedAccount.Email, model, resetMs)

					if resetMs > 0 && resetMs < 1000 {
						utils.Info("[CloudCode] Short rate limit on %s (%dms), waiting and retrying...",
							selectedAccount.Email, resetMs)
						utils.SleepMs(resetMs)
						continue
					}

					if backoff.IsDuplicate {
						smartBackoffMs := CalculateSmartBackoff(errorText, resetMs, 0)
						utils.Info("[CloudCode] Skipping retry due to recent rate limit on %s (attempt %d), switching account...",
							selectedAccount.Email, backoff.Attempt)
						_ = h.pool.MarkRateLimited(ctx, selectedAccount.Email, smartBackoffMs, model)
						lastError = fmt.Errorf("RATE_LIMITED_DEDUP: %s", errorText)
						goto accountExhausted
					}

					smartBackoffMs := CalculateSmartBackoff(errorText, resetMs, 0)

					if backoff.Attempt == 1 && smartBackoffMs <= config.DefaultCooldownMs {
						waitMs := backoff.DelayMs
						_ = h.pool.MarkRateLimited(ctx, selectedAccount.Email, waitMs, model)
						utils.Info("[CloudCode] First rate limit on %s, quick retry after %s...",
							selectedAccount.Email, utils.FormatDuration(waitMs))
						utils.SleepMs(waitMs)
						continue
					} else if smartBackoffMs > config.DefaultCooldownMs {
						utils.Info("[CloudCode] Quota exhausted for %s (%s), switching account after %s delay...",
							selectedAccount.Email, utils.FormatDuration(smartBackoffMs), utils.FormatDuration(config.SwitchAccountDelayMs))
						utils.SleepMs(config.SwitchAccountDelayMs)
						_ = h.pool.MarkRateLimited(ctx, selectedAccount.Email, smartBackoffMs, model)
						lastError = fmt.Errorf("QUOTA_EXHAUSTED: %s", errorText)
						goto accountExhausted
					} else {
						waitMs := backoff.DelayMs
						_ = h.pool.MarkRateLimited(ctx, selectedAccount.Email, waitMs, model)
						utils.Info("[CloudCode] Rate limit on %s (attempt %d), waiting %s...",
							selectedAccount.Email, backoff.Attempt, utils.FormatDuration(waitMs))
						utils.SleepMs(waitMs)
						continue
					}

				case 400:
					utils.Error("[CloudCode] Invalid request (400): %.200s", errorText)
					return nil, fmt.Errorf("invalid_request_error: %s", errorText)

				case 503, 529:
					if IsModelCapacityExhausted(errorText) && capacityRetryCount < config.MaxCapacityRetries {
						tierIndex := min(capacityRetryCount, len(config.CapacityBackoffTiersMs)-1)
						waitMs := config.CapacityBackoffTiersMs[tierIndex]
						capacityRetryCount++
						utils.Info("[CloudCode] %d Model capacity exhausted, retry %d/%d after %s...",
							resp.StatusCode, capacityRetryCount, config.MaxCapacityRetries, utils.FormatDuration(waitMs))
						utils.SleepMs(waitMs)
						continue
					}
					fallthrough

				default:
					lastError = fmt.Errorf("API error %d: %s", resp.StatusCode, errorText)
					if resp.StatusCode >= 500 {
						utils.Warn("[CloudCode] %d error, waiting 1s before retry...", resp.StatusCode)
						utils.SleepMs(1000)
					}
					continue
				}
			}

			defer resp.Body.Close()

			if isThinking {
				result, err := ParseThinkingSSEResponse(resp.Body, anthropicRequest.Model)
				if err != nil {
					return nil, err
				}
				ClearRateLimitState(selectedAccount.Email, model)
				h.pool.NotifySuccess(selectedAccount, model)
				return result, nil
			}

			var data map[string]interface{}
			if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
				return nil, err
			}
			utils.Debug("[CloudCode] Response received")
			ClearRateLimitState(selectedAccount.Email, model)
			h.pool.NotifySuccess(selectedAccount, model)
			googleResp := format.GoogleResponseFromMap(data)
			return format.ConvertGoogleToAnthropic(googleResp, anthropicRequest.Model), nil
		}

	accountExhausted:
		if lastError != nil {
			if isRateLimitError(lastError) {
				h.pool.NotifyRateLimit(selectedAccount, model)
				utils.Info("[CloudCode] Account %s rate-limited, trying next...", selectedAccount.Email)
				continue
			}
			if isAuthError(lastError) {
				utils.Warn("[CloudCode] Account %s has invalid credentials, trying next...", selectedAccount.Email)
				continue
			}
			if is5xxError(lastError) {
				h.pool.NotifyFailure(selectedAccount, model)
				if ht := h.pool.GetHealthTracker(); ht != nil && ht.GetConsecutiveFailures(selectedAccount.Email) >= config.MaxConsecutiveFailures {
					h.pool.MarkRateLimited(ctx, selectedAccount.Email, config.ExtendedCooldownMs, model)
				}
				utils.Warn("[CloudCode] Account %s failed with 5xx error, trying next...", selectedAccount.Email)
				continue
			}
			if utils.IsNetworkError(lastError) {
				h.pool.NotifyFailure(selectedAccount, model)
				if ht := h.pool.GetHealthTracker(); ht != nil && ht.GetConsecutiveFailures(selectedAccount.Email) >= config.MaxConsecutiveFailures {
					h.pool.MarkRateLimited(ctx, selectedAccount.Email, config.ExtendedCooldownMs, model)
				}
				utils.Warn("[CloudCode] Network error for %s, trying next account... (%v)", selectedAccount.Email, lastError)
				utils.SleepMs(1000)
				continue
			}
			return nil, lastError
		}
	}

	if fallbackEnabled {
		fallbackModel, ok := config.GetFallbackModel(model)
		if ok {
			utils.Warn("[CloudCode] All retries exhausted for %s. Attempting fallback to %s",
				model, fallbackModel)
			fallbackRequest := *anthropicRequest
			fallbackRequest.Model = fallbackModel
			return h.SendMessage(ctx, &fallbackRequest, false)
		}
	}

	return nil, fmt.Errorf("Max retries exceeded")
}

func (h *MessageHandler) getTokenForAccount(ctx context.Context, acc *redis.Account) (string, error) {
	return h.pool.GetTokenForAccount(ctx, acc)
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return utils.ContainsAny(msg,
		"429",
		"RATE_LIMITED",
		"QUOTA_EXHAUSTED",
		"RESOURCE_EXHAUSTED",
	)
}

func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return utils.ContainsAny(msg,
		"401",
		"AUTH_INVALID",
		"invalid_grant",
	)
}

func is5xxError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return utils.ContainsAny(msg,
		"API error 5",
		"500",
		"503",
	)
}
