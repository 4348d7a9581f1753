// Package strategies implements the account pool's pluggable selection
// strategies: round-robin, sticky, least-used, and hybrid.
package strategies

import (
	"github.com/relaycc/cloudcode-gateway/internal/config"
	"github.com/relaycc/cloudcode-gateway/internal/utils"
	"github.com/relaycc/cloudcode-gateway/pkg/redis"
)

// Strategy names.
const (
	StrategySticky     = "sticky"
	StrategyRoundRobin = "round-robin"
	StrategyLeastUsed  = "least-used"
	StrategyHybrid     = "hybrid"
)

// StrategyLabels are human-readable names shown in status output.
var StrategyLabels = map[string]string{
	StrategySticky:     "Sticky (Cache-Optimized)",
	StrategyRoundRobin: "Round-Robin (Load-Balanced)",
	StrategyLeastUsed:  "Least-Used (LRU)",
	StrategyHybrid:     "Hybrid (Smart Distribution)",
}

// SelectOptions carries per-call selection hints into a strategy.
type SelectOptions struct {
	CurrentIndex int
	SessionID    string
	OnSave       func()
}

// SelectionResult is what a strategy returns from SelectAccount.
type SelectionResult struct {
	Account *redis.Account
	Index   int
	WaitMs  int64
}

// Strategy selects an account for a request and observes the outcome.
type Strategy interface {
	SelectAccount(ctx interface{}, accounts []*redis.Account, modelID string, options SelectOptions) *SelectionResult
	OnSuccess(account *redis.Account, modelID string)
	OnRateLimit(account *redis.Account, modelID string)
	OnFailure(account *redis.Account, modelID string)
}

// HealthTracker is the subset of trackers.HealthTracker the hybrid
// strategy and the manager's health introspection need.
type HealthTracker interface {
	GetScore(email string) float64
	GetHealthScore(email string) float64
	GetMinUsable() float64
	GetMaxScore() float64
	GetConsecutiveFailures(email string) int
	IsUsable(email string) bool
	RecordSuccess(email string)
	RecordRateLimit(email string)
	RecordFailure(email string)
	Reset(email string)
	Clear()
}

// Config holds the tunables strategies are built from.
type Config struct {
	HealthScore config.HealthScoreConfig
	TokenBucket config.TokenBucketConfig
	Quota       config.QuotaConfig
	Weights     *WeightConfig
}

// WeightConfig holds the hybrid strategy's scoring weights.
type WeightConfig struct {
	Health float64
	Tokens float64
	Quota  float64
	LRU    float64
}

func DefaultWeights() *WeightConfig {
	return &WeightConfig{
		Health: 2.0,
		Tokens: 5.0,
		Quota:  3.0,
		LRU:    0.1,
	}
}

// NewStrategy builds a Strategy by name, falling back to hybrid for an
// unknown or empty name.
func NewStrategy(strategyName string, cfg *Config) Strategy {
	name := strategyName
	if name == "" {
		name = config.DefaultSelectionStrategy
	}

	switch name {
	case StrategySticky:
		return NewStickyStrategy(cfg)

	case StrategyRoundRobin, "roundrobin":
		return NewRoundRobinStrategy(cfg)

	case StrategyLeastUsed:
		return NewLeastUsedStrategy(cfg)

	case StrategyHybrid:
		return NewHybridStrategy(cfg)

	default:
		utils.Warn("unknown selection strategy %q, falling back to %s", strategyName, config.DefaultSelectionStrategy)
		return NewHybridStrategy(cfg)
	}
}

// IsValidStrategy reports whether name is a recognized strategy.
func IsValidStrategy(name string) bool {
	switch name {
	case StrategySticky, StrategyRoundRobin, StrategyLeastUsed, StrategyHybrid, "roundrobin":
		return true
	default:
		return false
	}
}

// GetStrategyLabel returns the display label for a strategy name.
func GetStrategyLabel(name string) string {
	if name == "" {
		name = config.DefaultSelectionStrategy
	}
	if name == "roundrobin" {
		return StrategyLabels[StrategyRoundRobin]
	}
	if label, ok := StrategyLabels[name]; ok {
		return label
	}
	return StrategyLabels[config.DefaultSelectionStrategy]
}
