package strategies

import (
	"context"
	"time"

	"github.com/relaycc/cloudcode-gateway/internal/utils"
	"github.com/relaycc/cloudcode-gateway/pkg/redis"
)

// LeastUsedStrategy always picks the usable account that has gone the
// longest since its last request, spreading load without the
// rotation bookkeeping round-robin needs.
type LeastUsedStrategy struct {
	*BaseStrategy
}

// NewLeastUsedStrategy creates a new LeastUsedStrategy.
func NewLeastUsedStrategy(cfg *Config) *LeastUsedStrategy {
	return &LeastUsedStrategy{
		BaseStrategy: NewBaseStrategy(cfg),
	}
}

// SelectAccount picks the usable account with the oldest LastUsed timestamp.
func (s *LeastUsedStrategy) SelectAccount(ctx interface{}, accounts []*redis.Account, modelID string, options SelectOptions) *SelectionResult {
	if len(accounts) == 0 {
		return &SelectionResult{Account: nil, Index: 0, WaitMs: 0}
	}

	bgCtx := context.Background()

	var best *redis.Account
	bestIndex := -1
	var bestLastUsed int64

	for i, account := range accounts {
		if !s.IsAccountUsable(bgCtx, account, modelID) {
			continue
		}
		if best == nil || account.LastUsed < bestLastUsed {
			best = account
			bestIndex = i
			bestLastUsed = account.LastUsed
		}
	}

	if best == nil {
		return &SelectionResult{Account: nil, Index: 0, WaitMs: 0}
	}

	best.LastUsed = time.Now().UnixMilli()
	if options.OnSave != nil {
		options.OnSave()
	}

	utils.Info("[LeastUsedStrategy] Using account: %s (%d/%d)", best.Email, bestIndex+1, len(accounts))

	return &SelectionResult{Account: best, Index: bestIndex, WaitMs: 0}
}

// OnSuccess is called after a successful request.
func (s *LeastUsedStrategy) OnSuccess(account *redis.Account, modelID string) {
}

// OnRateLimit is called when a request is rate-limited.
func (s *LeastUsedStrategy) OnRateLimit(account *redis.Account, modelID string) {
}

// OnFailure is called when a request fails.
func (s *LeastUsedStrategy) OnFailure(account *redis.Account, modelID string) {
}
