package strategies

import (
	"context"
	"time"

	"github.com/relaycc/cloudcode-gateway/pkg/redis"
)

// BaseStrategy provides the usability checks every concrete strategy
// shares: invalid/disabled accounts, cooldowns, and per-model rate
// limits. Rate-limit state lives on the account itself and is read
// directly, never through a store.
type BaseStrategy struct {
	config *Config
}

// NewBaseStrategy creates a new BaseStrategy.
func NewBaseStrategy(cfg *Config) *BaseStrategy {
	return &BaseStrategy{config: cfg}
}

// IsAccountUsable checks if an account is usable for a specific model.
func (s *BaseStrategy) IsAccountUsable(ctx context.Context, account *redis.Account, modelID string) bool {
	if account == nil || account.IsInvalid {
		return false
	}

	if !account.Enabled {
		return false
	}

	if s.IsAccountCoolingDown(account) {
		return false
	}

	if modelID != "" && account.ModelRateLimits != nil {
		if info, ok := account.ModelRateLimits[modelID]; ok && info != nil && info.IsRateLimited {
			if info.ResetTime > 0 && time.Now().Before(time.UnixMilli(info.ResetTime)) {
				return false
			}
		}
	}

	return true
}

// IsAccountCoolingDown checks if an account is currently cooling down.
func (s *BaseStrategy) IsAccountCoolingDown(account *redis.Account) bool {
	if account == nil || account.CoolingDownUntil == 0 {
		return false
	}

	if time.Now().After(time.UnixMilli(account.CoolingDownUntil)) {
		account.CoolingDownUntil = 0
		account.CooldownReason = ""
		return false
	}

	return true
}

// GetUsableAccounts returns all usable accounts for a model with their original indices.
func (s *BaseStrategy) GetUsableAccounts(ctx context.Context, accounts []*redis.Account, modelID string) []AccountWithIndex {
	result := make([]AccountWithIndex, 0)
	for i, account := range accounts {
		if s.IsAccountUsable(ctx, account, modelID) {
			result = append(result, AccountWithIndex{Account: account, Index: i})
		}
	}
	return result
}

// AccountWithIndex represents an account with its original index.
type AccountWithIndex struct {
	Account *redis.Account
	Index   int
}

// OnSuccess is called after a successful request (default: no-op).
func (s *BaseStrategy) OnSuccess(account *redis.Account, modelID string) {
}

// OnRateLimit is called when a request is rate-limited (default: no-op).
func (s *BaseStrategy) OnRateLimit(account *redis.Account, modelID string) {
}

// OnFailure is called when a request fails (default: no-op).
func (s *BaseStrategy) OnFailure(account *redis.Account, modelID string) {
}
