// Package config provides configuration constants and runtime configuration
// management for the gateway.
package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const Version = "1.0.0"

// Upstream Cloud Code endpoints, tried in order.
const (
	EndpointDaily = "https://daily-cloudcode-pa.googleapis.com"
	EndpointProd  = "https://cloudcode-pa.googleapis.com"
)

// EndpointFallbacks is the endpoint fallback order used by the executor.
var EndpointFallbacks = []string{
	EndpointDaily,
	EndpointProd,
}

// OnboardEndpoints is the endpoint order used when discovering a project id.
var OnboardEndpoints = EndpointFallbacks

// LoadCodeAssistEndpoints is the endpoint order used for subscription-tier
// detection; prod first since fresh/unprovisioned accounts resolve there
// more reliably than on the daily endpoint.
var LoadCodeAssistEndpoints = []string{
	EndpointProd,
	EndpointDaily,
}

// DefaultProjectID is used when a project id cannot be discovered.
const DefaultProjectID = "default-project"

// Headers returns the required headers for upstream requests.
func Headers() map[string]string {
	return map[string]string{
		"User-Agent":        "cloudcode-gateway/" + Version,
		"X-Goog-Api-Client": "cloudcode-gateway",
	}
}

// Timing constants.
const (
	TokenRefreshSkewMs = 5 * 60 * 1000 // refresh this long before expiry
	RequestBodyLimit   int64 = 50 * 1024 * 1024
	DefaultPort        = 8080
)

// Default on-disk paths for the file-backed storage collaborator.
var (
	AccountConfigPath = filepath.Join(homeDir(), ".config", "cloudcode-gateway", "accounts.json")
	UsageHistoryPath  = filepath.Join(homeDir(), ".config", "cloudcode-gateway", "usage.json")
)

// Rate limit and retry tunables (spec §6).
const (
	DefaultCooldownMs      = 10 * 1000
	MaxRetries             = 5
	MaxEmptyResponseRetries = 2
	MaxAccounts            = 10
	MaxWaitBeforeErrorMs   = 120000 // 2 minutes
	RateLimitDedupWindowMs = 2000
	RateLimitStateResetMs  = 120000
	FirstRetryDelayMs      = 1000
	SwitchAccountDelayMs   = 5000
	MaxConsecutiveFailures = 3
	ExtendedCooldownMs     = 60000
	MaxCapacityRetries     = 5
	CapacityRetryDelayMs   = 5000
	MinBackoffMs           = 2000
	CapacityJitterMaxMs    = 10000
	RequestTimeoutMs       = 10 * 60 * 1000
)

// CapacityBackoffTiersMs is the progressive same-endpoint backoff for capacity exhaustion.
var CapacityBackoffTiersMs = []int64{5000, 10000, 20000, 30000, 60000}

// QuotaExhaustedBackoffTiersMs is the progressive account-switch backoff for quota exhaustion.
var QuotaExhaustedBackoffTiersMs = []int64{60000, 300000, 1800000, 7200000}

// BackoffByErrorType is the fixed backoff used for the rate-limit, capacity
// and server error classes. Unclassified errors back off by MinBackoffMs; the
// UNKNOWN entry is not read by the executor.
var BackoffByErrorType = map[string]int64{
	"RATE_LIMIT_EXCEEDED":      30000,
	"MODEL_CAPACITY_EXHAUSTED": 15000,
	"SERVER_ERROR":             20000,
	"UNKNOWN":                  60000,
}

const MinSignatureLength = 50

// GeminiSkipSignature is the placeholder thoughtSignature value Gemini
// accepts in place of a real one when the caller doesn't have a cached
// signature to forward.
const GeminiSkipSignature = "skip_thought_signature_validator"

// SelectionStrategies are the recognized selection strategy names.
var SelectionStrategies = []string{"sticky", "round-robin", "least-used", "hybrid"}

const DefaultSelectionStrategy = "hybrid"

// StrategyLabels are display labels for strategies.
var StrategyLabels = map[string]string{
	"sticky":      "Sticky (Cache Optimized)",
	"round-robin": "Round Robin (Load Balanced)",
	"least-used":  "Least Used (LRU)",
	"hybrid":      "Hybrid (Smart Distribution)",
}

const (
	MaxOutputTokens           = 16384
	GeminiMaxOutputTokens     = 16384
	SignatureCacheTTLMs       = 2 * 60 * 60 * 1000
	GeminiSignatureCacheTTLMs = 2 * 60 * 60 * 1000
	ModelValidationTTLMs      = 5 * 60 * 1000
)

// OAuthConfigType describes the OAuth endpoints used to mint access tokens for
// oauth-sourced accounts. Client credentials are intentionally not hardcoded
// here; they're an operator-supplied secret read from the environment (see
// internal/auth).
type OAuthConfigType struct {
	AuthURL     string
	TokenURL    string
	UserInfoURL string
	Scopes      []string
}

var OAuthConfig = OAuthConfigType{
	AuthURL:     "https://accounts.google.com/o/oauth2/v2/auth",
	TokenURL:    "https://oauth2.googleapis.com/token",
	UserInfoURL: "https://www.googleapis.com/oauth2/v1/userinfo",
	Scopes: []string{
		"https://www.googleapis.com/auth/cloud-platform",
		"https://www.googleapis.com/auth/userinfo.email",
	},
}

// ModelFallbackMap maps a model to the model substituted for it when quota is
// exhausted and MAX_WAIT_BEFORE_ERROR_MS is exceeded. Placeholder identifiers
// are used here; operators configure their own catalog.
var ModelFallbackMap = map[string]string{
	"fast":     "standard",
	"standard": "pro",
}

// ModelFamily is the coarse family a model name belongs to, used only for
// diagnostics.
type ModelFamily string

const (
	ModelFamilyAnthropic ModelFamily = "anthropic"
	ModelFamilyGemini    ModelFamily = "gemini"
	ModelFamilyUnknown   ModelFamily = "unknown"
)

// GetModelFamily classifies a model name for logging/metrics purposes.
func GetModelFamily(modelName string) ModelFamily {
	lower := strings.ToLower(modelName)
	switch {
	case strings.Contains(lower, "claude"):
		return ModelFamilyAnthropic
	case strings.Contains(lower, "gemini"):
		return ModelFamilyGemini
	default:
		return ModelFamilyUnknown
	}
}

var thinkingVersionRe = regexp.MustCompile(`gemini-(\d+)`)

// IsThinkingModel reports whether a model emits extended-thinking content,
// which changes which upstream endpoint the executor calls (streaming SSE is
// required to receive thinking blocks at all).
func IsThinkingModel(modelName string) bool {
	lower := strings.ToLower(modelName)

	if strings.Contains(lower, "thinking") {
		return true
	}
	if strings.Contains(lower, "gemini") {
		if matches := thinkingVersionRe.FindStringSubmatch(lower); len(matches) >= 2 {
			if version, err := strconv.Atoi(matches[1]); err == nil && version >= 3 {
				return true
			}
		}
	}
	return false
}

// GetFallbackModel returns the configured fallback for modelName, if any.
func GetFallbackModel(modelName string) (string, bool) {
	fallback, ok := ModelFallbackMap[modelName]
	return fallback, ok
}

// HasFallback reports whether modelName has a configured fallback.
func HasFallback(modelName string) bool {
	_, ok := ModelFallbackMap[modelName]
	return ok
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
