// Package quota implements the periodic background sweep that keeps each
// account's quota and subscription-tier snapshot fresh, independent of the
// request path.
package quota

import (
	"context"
	"sync"
	"time"

	"github.com/relaycc/cloudcode-gateway/internal/config"
	"github.com/relaycc/cloudcode-gateway/internal/executor"
	"github.com/relaycc/cloudcode-gateway/internal/pool"
	"github.com/relaycc/cloudcode-gateway/internal/utils"
	"github.com/relaycc/cloudcode-gateway/pkg/redis"
)

// Refresher periodically fetches per-model quota and subscription tier for
// every enabled account and writes the results back into the account pool.
type Refresher struct {
	pool   *pool.Manager
	client *executor.Client
	cfg    *config.Config

	mu           sync.Mutex
	isRefreshing bool
	stopCh       chan struct{}
}

// New creates a Refresher bound to the given account pool.
func New(manager *pool.Manager, client *executor.Client, cfg *config.Config) *Refresher {
	return &Refresher{
		pool:   manager,
		client: client,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// Start begins the periodic refresh loop. It runs one pass immediately, then
// on the configured interval, until Stop is called.
func (r *Refresher) Start(ctx context.Context) {
	go func() {
		r.RefreshAll(ctx)

		interval := time.Duration(r.cfg.QuotaRefreshIntervalMs) * time.Millisecond
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.RefreshAll(ctx)
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the refresh loop.
func (r *Refresher) Stop() {
	close(r.stopCh)
}

// RefreshAll sweeps every enabled account, staggering requests so a burst of
// accounts doesn't hit the upstream API all at once.
func (r *Refresher) RefreshAll(ctx context.Context) {
	r.mu.Lock()
	if r.isRefreshing {
		r.mu.Unlock()
		utils.Debug("[Quota] Refresh already in progress, skipping")
		return
	}
	r.isRefreshing = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.isRefreshing = false
		r.mu.Unlock()
	}()

	accounts := r.pool.GetAllAccounts()
	stagger := time.Duration(r.cfg.QuotaStaggerDelayMs) * time.Millisecond

	utils.Info("[Quota] Starting refresh for %d account(s)", len(accounts))

	for i, account := range accounts {
		if !account.Enabled || account.IsInvalid {
			continue
		}

		r.refreshOne(ctx, account)

		if i < len(accounts)-1 && stagger > 0 {
			utils.SleepMs(stagger.Milliseconds())
		}
	}

	utils.Info("[Quota] Refresh sweep complete")
}

func (r *Refresher) refreshOne(ctx context.Context, account *redis.Account) {
	token, err := r.pool.GetTokenForAccount(ctx, account)
	if err != nil {
		utils.Warn("[Quota] Failed to get token for %s: %v", account.Email, err)
		return
	}

	if account.Subscription == nil {
		tier, err := r.client.GetSubscriptionTier(ctx, token)
		if err != nil {
			utils.Warn("[Quota] Failed to detect subscription tier for %s: %v", account.Email, err)
		} else {
			r.pool.UpdateAccountSubscription(account.Email, tier.Tier, tier.ProjectID)
		}
	}

	projectID := account.ProjectID
	if projectID == "" {
		projectID = config.DefaultProjectID
	}

	quotas, err := r.client.GetModelQuotas(ctx, token, projectID)
	if err != nil {
		utils.Warn("[Quota] Failed to fetch quota for %s: %v", account.Email, err)
		return
	}

	models := make(map[string]*redis.ModelQuotaInfo, len(quotas))
	for modelID, q := range quotas {
		info := &redis.ModelQuotaInfo{}
		if q.RemainingFraction != nil {
			info.RemainingFraction = *q.RemainingFraction
		}
		if q.ResetTime != nil {
			info.ResetTime = *q.ResetTime
		}
		models[modelID] = info
	}

	r.pool.UpdateAccountQuota(account.Email, models)
	utils.Debug("[Quota] Refreshed %s: %d model(s)", account.Email, len(models))
}
