package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/relaycc/cloudcode-gateway/internal/utils"
)

// HealthScoreConfig configures health scoring for the hybrid strategy.
type HealthScoreConfig struct {
	Initial          float64 `json:"initial"`
	SuccessReward    float64 `json:"successReward"`
	RateLimitPenalty float64 `json:"rateLimitPenalty"`
	FailurePenalty   float64 `json:"failurePenalty"`
	RecoveryPerHour  float64 `json:"recoveryPerHour"`
	MinUsable        float64 `json:"minUsable"`
	MaxScore         float64 `json:"maxScore"`
}

// TokenBucketConfig configures the client-side rate limiter for the hybrid strategy.
type TokenBucketConfig struct {
	MaxTokens       float64 `json:"maxTokens"`
	TokensPerMinute float64 `json:"tokensPerMinute"`
	InitialTokens   float64 `json:"initialTokens"`
}

// QuotaConfig configures quota-freshness thresholds for the hybrid strategy.
type QuotaConfig struct {
	LowThreshold      float64 `json:"lowThreshold"`
	CriticalThreshold float64 `json:"criticalThreshold"`
	StaleMs           int64   `json:"staleMs"`
	UnknownScore      float64 `json:"unknownScore"`
}

// AccountSelectionConfig configures the pool's selection strategy.
type AccountSelectionConfig struct {
	Strategy    string             `json:"strategy"`
	HealthScore *HealthScoreConfig `json:"healthScore,omitempty"`
	TokenBucket *TokenBucketConfig `json:"tokenBucket,omitempty"`
	Quota       *QuotaConfig       `json:"quota,omitempty"`
}

// Config is the gateway's runtime configuration.
type Config struct {
	mu sync.RWMutex

	APIKey string `json:"apiKey"`

	Debug    bool   `json:"debug"`
	LogLevel string `json:"logLevel"`

	MaxRetries int `json:"maxRetries"`

	DefaultCooldownMs    int64 `json:"defaultCooldownMs"`
	MaxWaitBeforeErrorMs int64 `json:"maxWaitBeforeErrorMs"`

	MaxAccounts int `json:"maxAccounts"`

	RateLimitDedupWindowMs int64 `json:"rateLimitDedupWindowMs"`
	MaxConsecutiveFailures int   `json:"maxConsecutiveFailures"`
	ExtendedCooldownMs     int64 `json:"extendedCooldownMs"`
	MaxCapacityRetries     int   `json:"maxCapacityRetries"`

	AccountSelection AccountSelectionConfig `json:"accountSelection"`

	// Storage backend: if RedisAddr is set the account list and usage
	// counters persist to Redis; else if SQLitePath is set the account list
	// persists to a local SQLite database; otherwise it persists to
	// StoragePath as a JSON file written atomically (temp file + rename).
	// Usage counters are kept only when Redis is configured.
	RedisAddr   string `json:"redisAddr"`
	RedisDB     int    `json:"redisDB"`
	StoragePath string `json:"storagePath"`
	SQLitePath  string `json:"sqlitePath"`

	// OAuth client credentials for oauth-sourced accounts; read from the
	// environment, never hardcoded or persisted to disk.
	OAuthClientID     string `json:"-"`
	OAuthClientSecret string `json:"-"`

	Port int    `json:"port"`
	Host string `json:"host"`

	FallbackEnabled bool `json:"fallbackEnabled"`

	QuotaRefreshIntervalMs int64 `json:"quotaRefreshIntervalMs"`
	QuotaStaggerDelayMs    int64 `json:"quotaStaggerDelayMs"`
}

// DefaultConfig returns a Config populated with the gateway's defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:             "info",
		MaxRetries:           MaxRetries,
		DefaultCooldownMs:    DefaultCooldownMs,
		MaxWaitBeforeErrorMs: MaxWaitBeforeErrorMs,
		MaxAccounts:          MaxAccounts,
		RateLimitDedupWindowMs: RateLimitDedupWindowMs,
		MaxConsecutiveFailures: MaxConsecutiveFailures,
		ExtendedCooldownMs:     ExtendedCooldownMs,
		MaxCapacityRetries:     MaxCapacityRetries,
		AccountSelection: AccountSelectionConfig{
			Strategy: DefaultSelectionStrategy,
			HealthScore: &HealthScoreConfig{
				Initial:          70,
				SuccessReward:    1,
				RateLimitPenalty: -10,
				FailurePenalty:   -20,
				RecoveryPerHour:  2,
				MinUsable:        50,
				MaxScore:         100,
			},
			TokenBucket: &TokenBucketConfig{
				MaxTokens:       50,
				TokensPerMinute: 6,
				InitialTokens:   50,
			},
			Quota: &QuotaConfig{
				LowThreshold:      0.10,
				CriticalThreshold: 0.05,
				StaleMs:           300000,
				UnknownScore:      50,
			},
		},
		StoragePath:            AccountConfigPath,
		Port:                   DefaultPort,
		Host:                   "0.0.0.0",
		FallbackEnabled:        true,
		QuotaRefreshIntervalMs: 15 * 60 * 1000,
		QuotaStaggerDelayMs:    2000,
	}
}

// Load applies environment overrides on top of the defaults. Env vars take
// the place of a YAML/flags config framework: the tunable set is small and
// flat, and operators set these directly in a container's env block.
func (c *Config) Load() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("GATEWAY_API_KEY"); v != "" {
		c.APIKey = v
	}
	if os.Getenv("GATEWAY_DEBUG") == "true" {
		c.Debug = true
	}
	if v := os.Getenv("GATEWAY_STRATEGY"); v != "" {
		c.AccountSelection.Strategy = v
	}
	if v := os.Getenv("GATEWAY_STORAGE_PATH"); v != "" {
		c.StoragePath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("GATEWAY_SQLITE_PATH"); v != "" {
		c.SQLitePath = v
	}
	if v := os.Getenv("GATEWAY_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if os.Getenv("GATEWAY_FALLBACK") == "false" {
		c.FallbackEnabled = false
	}
	c.OAuthClientID = os.Getenv("OAUTH_CLIENT_ID")
	c.OAuthClientSecret = os.Getenv("OAUTH_CLIENT_SECRET")

	utils.SetDebug(c.Debug)
}

// GetStrategy returns the configured selection strategy name.
func (c *Config) GetStrategy() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.AccountSelection.Strategy
}

// IsDebug reports whether debug logging is enabled.
func (c *Config) IsDebug() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Debug
}

// GetPublic returns a copy of the config with secrets redacted, for the
// admin status endpoint.
func (c *Config) GetPublic() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return map[string]interface{}{
		"apiKey":                 redact(c.APIKey),
		"debug":                  c.Debug,
		"logLevel":               c.LogLevel,
		"maxRetries":             c.MaxRetries,
		"defaultCooldownMs":      c.DefaultCooldownMs,
		"maxWaitBeforeErrorMs":   c.MaxWaitBeforeErrorMs,
		"maxAccounts":            c.MaxAccounts,
		"rateLimitDedupWindowMs": c.RateLimitDedupWindowMs,
		"maxConsecutiveFailures": c.MaxConsecutiveFailures,
		"extendedCooldownMs":     c.ExtendedCooldownMs,
		"maxCapacityRetries":     c.MaxCapacityRetries,
		"accountSelection":       c.AccountSelection,
		"redisAddr":              c.RedisAddr,
		"storagePath":            c.StoragePath,
		"port":                   c.Port,
		"host":                   c.Host,
		"fallbackEnabled":        c.FallbackEnabled,
	}
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

// EnsureStorageDir creates the directory component of StoragePath, used by
// the file-backed storage collaborator before its first atomic write.
func (c *Config) EnsureStorageDir() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return os.MkdirAll(filepath.Dir(c.StoragePath), 0o755)
}
