// Package pool owns the account pool: selection, health, and the pieces of
// runtime state an account accrues between requests.
package pool

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/relaycc/cloudcode-gateway/internal/config"
	"github.com/relaycc/cloudcode-gateway/internal/pool/strategies"
	"github.com/relaycc/cloudcode-gateway/internal/utils"
	"github.com/relaycc/cloudcode-gateway/pkg/redis"
)

// Manager owns the account list and delegates selection to a pluggable
// Strategy. Rate-limit state lives only on each Account's ModelRateLimits
// map, guarded by Manager's own mutex: it is never read from or written to
// the Store, so it is rebuilt from nothing on every restart.
type Manager struct {
	mu sync.RWMutex

	store Store

	accounts     []*redis.Account
	currentIndex int
	initialized  bool

	credentials *Credentials

	strategy     strategies.Strategy
	strategyName string

	config *config.Config
}

// NewManager creates an account manager backed by store.
func NewManager(store Store, cfg *config.Config, credentials *Credentials) *Manager {
	return &Manager{
		store:        store,
		accounts:     make([]*redis.Account, 0),
		credentials:  credentials,
		strategyName: config.DefaultSelectionStrategy,
		config:       cfg,
	}
}

// Initialize loads accounts from the store and builds the selection strategy.
func (m *Manager) Initialize(ctx context.Context, strategyOverride string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	accounts, err := m.store.ListAccounts(ctx)
	if err != nil {
		utils.Warn("failed to load accounts: %v", err)
		accounts = make([]*redis.Account, 0)
	}
	for _, acc := range accounts {
		if acc.ModelRateLimits == nil {
			acc.ModelRateLimits = make(map[string]*redis.RateLimitInfo)
		}
	}
	m.accounts = accounts

	configStrategy := m.config.GetStrategy()
	if strategyOverride != "" {
		m.strategyName = strategyOverride
	} else if configStrategy != "" {
		m.strategyName = configStrategy
	}

	strategyConfig := &strategies.Config{
		Weights: strategies.DefaultWeights(),
	}
	if m.config.AccountSelection.HealthScore != nil {
		strategyConfig.HealthScore = *m.config.AccountSelection.HealthScore
	}
	if m.config.AccountSelection.TokenBucket != nil {
		strategyConfig.TokenBucket = *m.config.AccountSelection.TokenBucket
	}
	if m.config.AccountSelection.Quota != nil {
		strategyConfig.Quota = *m.config.AccountSelection.Quota
	}
	m.strategy = strategies.NewStrategy(m.strategyName, strategyConfig)
	utils.Info("using %s selection strategy", strategies.GetStrategyLabel(m.strategyName))

	m.clearExpiredLimitsLocked()

	m.initialized = true
	return nil
}

// Reload re-reads the account list from the store.
func (m *Manager) Reload(ctx context.Context) error {
	m.mu.Lock()
	m.initialized = false
	m.mu.Unlock()

	err := m.Initialize(ctx, "")
	if err == nil {
		utils.Info("accounts reloaded from storage")
	}
	return err
}

func (m *Manager) GetAccountCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts)
}

func (m *Manager) GetAllAccounts() []*redis.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*redis.Account, len(m.accounts))
	copy(result, m.accounts)
	return result
}

// SelectAccount picks an account for modelID using the configured strategy.
func (m *Manager) SelectAccount(ctx context.Context, modelID string, options SelectOptions) (*SelectionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, NewNotInitializedError()
	}

	if len(m.accounts) == 0 {
		return nil, NewNoAccountsError("No accounts configured", false)
	}

	m.clearExpiredLimitsLocked()

	result := m.strategy.SelectAccount(ctx, m.accounts, modelID, strategies.SelectOptions{
		CurrentIndex: m.currentIndex,
		SessionID:    options.SessionID,
		OnSave:       func() { m.saveToDiskLocked(ctx) },
	})

	if result.Account == nil {
		allRateLimited := m.isAllRateLimitedLocked(modelID)
		return nil, NewNoAccountsError("No available accounts", allRateLimited)
	}

	m.currentIndex = result.Index

	return &SelectionResult{
		Account: result.Account,
		Index:   result.Index,
		WaitMs:  result.WaitMs,
	}, nil
}

func (m *Manager) IsAllRateLimited(modelID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isAllRateLimitedLocked(modelID)
}

func (m *Manager) isAllRateLimitedLocked(modelID string) bool {
	for _, acc := range m.accounts {
		if !acc.Enabled || acc.IsInvalid {
			continue
		}
		if !m.isRateLimitedForModelLocked(acc, modelID) {
			return false
		}
	}
	return true
}

func (m *Manager) GetAvailableAccounts(modelID string) []*redis.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*redis.Account, 0)
	for _, acc := range m.accounts {
		if !acc.Enabled || acc.IsInvalid {
			continue
		}
		if !m.isRateLimitedForModelLocked(acc, modelID) {
			result = append(result, acc)
		}
	}
	return result
}

func (m *Manager) GetInvalidAccounts() []*redis.Account {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*redis.Account, 0)
	for _, acc := range m.accounts {
		if acc.IsInvalid {
			result = append(result, acc)
		}
	}
	return result
}

// MarkRateLimited records that email is rate-limited for modelID until
// resetMs from now. This is purely in-memory: it never touches the store.
func (m *Manager) MarkRateLimited(ctx context.Context, email string, resetMs int64, modelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, acc := range m.accounts {
		if acc.Email != email {
			continue
		}
		if acc.ModelRateLimits == nil {
			acc.ModelRateLimits = make(map[string]*redis.RateLimitInfo)
		}
		acc.ModelRateLimits[modelID] = &redis.RateLimitInfo{
			IsRateLimited: true,
			ResetTime:     time.Now().Add(time.Duration(resetMs) * time.Millisecond).UnixMilli(),
			ActualResetMs: resetMs,
		}
		return nil
	}
	return nil
}

// MarkInvalid marks an account unusable and persists the durable fields.
func (m *Manager) MarkInvalid(ctx context.Context, email, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, acc := range m.accounts {
		if acc.Email == email {
			acc.IsInvalid = true
			acc.InvalidReason = reason
			acc.InvalidAt = time.Now().UnixMilli()
			return m.store.SetAccount(ctx, acc)
		}
	}

	return nil
}

// ResetAllRateLimits clears every in-memory rate limit.
func (m *Manager) ResetAllRateLimits(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, acc := range m.accounts {
		acc.ModelRateLimits = make(map[string]*redis.RateLimitInfo)
	}
}

// ClearExpiredLimits drops in-memory rate-limit entries whose reset time
// has passed, returning the number cleared.
func (m *Manager) ClearExpiredLimits(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clearExpiredLimitsLocked()
}

func (m *Manager) clearExpiredLimitsLocked() int {
	var cleared int
	now := time.Now().UnixMilli()
	for _, acc := range m.accounts {
		for modelID, info := range acc.ModelRateLimits {
			if info.ResetTime > 0 && now >= info.ResetTime {
				delete(acc.ModelRateLimits, modelID)
				cleared++
			}
		}
	}
	return cleared
}

// GetMinWaitTimeMs returns the shortest time until an account's rate limit
// for modelID clears, or 0 if at least one account is already usable.
func (m *Manager) GetMinWaitTimeMs(ctx context.Context, modelID string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var minWait int64 = -1
	now := time.Now().UnixMilli()

	for _, acc := range m.accounts {
		if !acc.Enabled || acc.IsInvalid {
			continue
		}

		info := acc.ModelRateLimits[modelID]
		if info == nil || !info.IsRateLimited {
			return 0
		}

		if info.ResetTime > 0 {
			wait := info.ResetTime - now
			if wait > 0 && (minWait < 0 || wait < minWait) {
				minWait = wait
			}
		}
	}

	if minWait < 0 {
		return 0
	}
	return minWait
}

// GetRateLimitInfo returns the in-memory rate-limit state for an account/model pair.
func (m *Manager) GetRateLimitInfo(ctx context.Context, email, modelID string) *redis.RateLimitInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, acc := range m.accounts {
		if acc.Email == email {
			return acc.ModelRateLimits[modelID]
		}
	}
	return nil
}

func (m *Manager) NotifySuccess(account *redis.Account, modelID string) {
	if m.strategy != nil {
		m.strategy.OnSuccess(account, modelID)
	}
}

func (m *Manager) NotifyRateLimit(account *redis.Account, modelID string) {
	if m.strategy != nil {
		m.strategy.OnRateLimit(account, modelID)
	}
}

func (m *Manager) NotifyFailure(account *redis.Account, modelID string) {
	if m.strategy != nil {
		m.strategy.OnFailure(account, modelID)
	}
}

func (m *Manager) GetStrategyName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.strategyName
}

func (m *Manager) GetStrategyLabel() string {
	return strategies.GetStrategyLabel(m.GetStrategyName())
}

func (m *Manager) GetHealthTracker() strategies.HealthTracker {
	if hs, ok := m.strategy.(interface{ GetHealthTracker() strategies.HealthTracker }); ok {
		return hs.GetHealthTracker()
	}
	return nil
}

// SaveToDisk persists every account's durable fields to the store. Despite
// the name, accounts may be backed by Redis rather than disk.
func (m *Manager) SaveToDisk(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveToDiskLocked(ctx)
}

func (m *Manager) saveToDiskLocked(ctx context.Context) error {
	for _, acc := range m.accounts {
		if err := m.store.SetAccount(ctx, acc); err != nil {
			utils.Warn("failed to save account %s: %v", acc.Email, err)
		}
	}
	return nil
}

// GetStatus summarizes pool state for the admin/status endpoint.
func (m *Manager) GetStatus() *ManagerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := &ManagerStatus{
		Total:    len(m.accounts),
		Accounts: make([]*AccountStatus, 0, len(m.accounts)),
	}

	for _, acc := range m.accounts {
		accStatus := &AccountStatus{
			Email:                acc.Email,
			Source:               acc.Source,
			Enabled:              acc.Enabled,
			ProjectID:            acc.ProjectID,
			IsInvalid:            acc.IsInvalid,
			InvalidReason:        acc.InvalidReason,
			LastUsed:             acc.LastUsed,
			QuotaThreshold:       acc.QuotaThreshold,
			ModelQuotaThresholds: acc.ModelQuotaThresholds,
			ModelRateLimits:      acc.ModelRateLimits,
		}

		switch {
		case acc.IsInvalid || !acc.Enabled:
			status.Invalid++
		case m.isAllRateLimitedForAccountLocked(acc):
			status.RateLimited++
		default:
			status.Available++
		}

		status.Accounts = append(status.Accounts, accStatus)
	}

	status.Summary = m.formatStatusSummary(status.Available, status.RateLimited, status.Invalid, status.Total)

	return status
}

func (m *Manager) isAllRateLimitedForAccountLocked(acc *redis.Account) bool {
	if len(acc.ModelRateLimits) == 0 {
		return false
	}
	for _, info := range acc.ModelRateLimits {
		if info == nil || !info.IsRateLimited {
			return false
		}
	}
	return true
}

func (m *Manager) formatStatusSummary(available, rateLimited, invalid, total int) string {
	if total == 0 {
		return "No accounts configured"
	}
	return utils.TruncateString(
		strings.Join([]string{
			utils.FormatPercent(float64(available) / float64(total)) + " available",
		}, ", "),
		100,
	)
}

func (m *Manager) isRateLimitedForModelLocked(acc *redis.Account, modelID string) bool {
	if modelID == "" {
		return false
	}
	info := acc.ModelRateLimits[modelID]
	if info == nil || !info.IsRateLimited {
		return false
	}
	if info.ResetTime > 0 && time.Now().UnixMilli() >= info.ResetTime {
		return false
	}
	return true
}

// SelectOptions carries per-call selection hints.
type SelectOptions struct {
	SessionID string
}

// SelectionResult is the outcome of a SelectAccount call.
type SelectionResult struct {
	Account *redis.Account
	Index   int
	WaitMs  int64
}

// ManagerStatus is the pool-wide status snapshot.
type ManagerStatus struct {
	Total       int              `json:"total"`
	Available   int              `json:"available"`
	RateLimited int              `json:"rateLimited"`
	Invalid     int              `json:"invalid"`
	Summary     string           `json:"summary"`
	Accounts    []*AccountStatus `json:"accounts"`
}

// AccountStatus is a single account's status snapshot.
type AccountStatus struct {
	Email                string                          `json:"email"`
	Source               string                          `json:"source"`
	Enabled              bool                            `json:"enabled"`
	ProjectID            string                          `json:"projectId,omitempty"`
	IsInvalid            bool                            `json:"isInvalid"`
	InvalidReason        string                          `json:"invalidReason,omitempty"`
	LastUsed             int64                           `json:"lastUsed,omitempty"`
	QuotaThreshold       *float64                        `json:"quotaThreshold,omitempty"`
	ModelQuotaThresholds map[string]float64              `json:"modelQuotaThresholds,omitempty"`
	ModelRateLimits      map[string]*redis.RateLimitInfo `json:"modelRateLimits,omitempty"`
}

type NotInitializedError struct{}

func (e *NotInitializedError) Error() string {
	return "account manager not initialized"
}

func NewNotInitializedError() *NotInitializedError {
	return &NotInitializedError{}
}

type NoAccountsError struct {
	Message        string
	AllRateLimited bool
}

func (e *NoAccountsError) Error() string {
	return e.Message
}

func NewNoAccountsError(message string, allRateLimited bool) *NoAccountsError {
	return &NoAccountsError{
		Message:        message,
		AllRateLimited: allRateLimited,
	}
}

// GetTokenForAccount resolves an access token for acc, marking the account
// invalid if the failure looks like a permanent auth problem.
func (m *Manager) GetTokenForAccount(ctx context.Context, acc *redis.Account) (string, error) {
	token, err := m.credentials.GetAccessToken(ctx, acc)
	if err != nil {
		if isAuthError(err) {
			_ = m.MarkInvalid(ctx, acc.Email, err.Error())
		}
		return "", err
	}

	if acc.IsInvalid {
		m.mu.Lock()
		acc.IsInvalid = false
		acc.InvalidReason = ""
		m.mu.Unlock()
		_ = m.store.SetAccount(ctx, acc)
	}

	return token, nil
}

func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "token refresh failed") ||
		strings.Contains(errStr, "invalid_grant") ||
		strings.Contains(errStr, "expired or revoked")
}

// ClearTokenCache drops every cached access token.
func (m *Manager) ClearTokenCache() {
	m.credentials.ClearCache()
}

// ClearTokenCacheFor drops the cached access token for one account.
func (m *Manager) ClearTokenCacheFor(email string) {
	m.credentials.ClearCacheForAccount(context.Background(), email)
}

// ClearProjectCache drops the cached project id for every account, forcing
// rediscovery on the next request. Used alongside ClearTokenCache when a
// transient auth error suggests stale credentials.
func (m *Manager) ClearProjectCache() {
	for _, acc := range m.GetAllAccounts() {
		m.credentials.ClearProjectCacheForAccount(context.Background(), acc.Email)
	}
}

// ClearProjectCacheFor drops the cached project id for one account.
func (m *Manager) ClearProjectCacheFor(email string) {
	m.credentials.ClearProjectCacheForAccount(context.Background(), email)
}

// UpdateAccountSubscription records detected subscription tier info.
func (m *Manager) UpdateAccountSubscription(email, tier, projectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, acc := range m.accounts {
		if acc.Email == email {
			if acc.Subscription == nil {
				acc.Subscription = &redis.SubscriptionInfo{}
			}
			acc.Subscription.Tier = tier
			acc.Subscription.ProjectID = projectID
			acc.Subscription.DetectedAt = time.Now().UnixMilli()

			go func(a *redis.Account) {
				if err := m.store.SetAccount(context.Background(), a); err != nil {
					utils.Error("failed to save account subscription: %v", err)
				}
			}(acc)
			return
		}
	}
}

// UpdateAccountQuota records a fresh quota snapshot fetched by the quota refresher.
func (m *Manager) UpdateAccountQuota(email string, quotas map[string]*redis.ModelQuotaInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, acc := range m.accounts {
		if acc.Email == email {
			if acc.Quota == nil {
				acc.Quota = &redis.QuotaInfo{
					Models: make(map[string]*redis.ModelQuotaInfo),
				}
			}
			acc.Quota.LastChecked = time.Now().UnixMilli()
			for modelID, info := range quotas {
				acc.Quota.Models[modelID] = info
			}

			go func(a *redis.Account) {
				if err := m.store.SetAccount(context.Background(), a); err != nil {
					utils.Error("failed to save account quota: %v", err)
				}
			}(acc)
			return
		}
	}
}

// SetAccountEnabled toggles whether an account participates in selection.
func (m *Manager) SetAccountEnabled(ctx context.Context, email string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, acc := range m.accounts {
		if acc.Email == email {
			acc.Enabled = enabled
			return m.store.SetAccount(ctx, acc)
		}
	}

	return NewNoAccountsError("Account "+email+" not found", false)
}

// RemoveAccount deletes an account from the pool and the store.
func (m *Manager) RemoveAccount(ctx context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, acc := range m.accounts {
		if acc.Email == email {
			m.accounts = append(m.accounts[:i], m.accounts[i+1:]...)
			return m.store.DeleteAccount(ctx, email)
		}
	}

	return NewNoAccountsError("Account "+email+" not found", false)
}

func (m *Manager) GetAccountByEmail(ctx context.Context, email string) (*redis.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, acc := range m.accounts {
		if acc.Email == email {
			return acc, nil
		}
	}

	return nil, NewNoAccountsError("Account "+email+" not found", false)
}

func (m *Manager) UpdateAccount(ctx context.Context, acc *redis.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.accounts {
		if existing.Email == acc.Email {
			if acc.ModelRateLimits == nil {
				acc.ModelRateLimits = existing.ModelRateLimits
			}
			m.accounts[i] = acc
			return m.store.SetAccount(ctx, acc)
		}
	}

	return NewNoAccountsError("Account "+acc.Email+" not found", false)
}

// AddOrUpdateAccount adds a new account or replaces an existing one by email.
func (m *Manager) AddOrUpdateAccount(ctx context.Context, acc *redis.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if acc.ModelRateLimits == nil {
		acc.ModelRateLimits = make(map[string]*redis.RateLimitInfo)
	}

	for i, existing := range m.accounts {
		if existing.Email == acc.Email {
			m.accounts[i] = acc
			utils.Info("account %s updated", acc.Email)
			return m.store.SetAccount(ctx, acc)
		}
	}

	if len(m.accounts) >= m.config.MaxAccounts {
		return NewNoAccountsError("Maximum accounts reached", false)
	}

	m.accounts = append(m.accounts, acc)
	utils.Info("account %s added", acc.Email)
	return m.store.SetAccount(ctx, acc)
}

func (m *Manager) GetAllAccountsContext(ctx context.Context) ([]*redis.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*redis.Account, len(m.accounts))
	copy(result, m.accounts)
	return result, nil
}

// StrategyHealthData is the strategy inspector's top-level payload.
type StrategyHealthData struct {
	Strategy    string               `json:"strategy"`
	Accounts    []AccountHealthData  `json:"accounts"`
	LastUpdated int64                `json:"lastUpdated"`
}

// AccountHealthData is one account's entry in the strategy inspector.
type AccountHealthData struct {
	Email            string  `json:"email"`
	HealthScore      float64 `json:"healthScore"`
	TokensAvailable  float64 `json:"tokensAvailable"`
	ConsecutiveFails int     `json:"consecutiveFails"`
	LastUsed         int64   `json:"lastUsed"`
}

// GetStrategyHealthData returns per-account health/token/failure data when
// the active strategy is a hybrid strategy exposing that introspection.
func (m *Manager) GetStrategyHealthData() *StrategyHealthData {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data := &StrategyHealthData{
		Strategy:    m.strategyName,
		Accounts:    make([]AccountHealthData, 0),
		LastUpdated: time.Now().UnixMilli(),
	}

	var healthGetter interface{ GetHealthScore(string) float64 }
	var failureGetter interface{ GetConsecutiveFailures(string) int }
	var tokenGetter interface{ GetTokens(string) float64 }

	if hs, ok := m.strategy.(interface{ GetHealthTracker() strategies.HealthTracker }); ok {
		if tracker := hs.GetHealthTracker(); tracker != nil {
			healthGetter = tracker
			failureGetter = tracker
		}
	}

	if ts, ok := m.strategy.(interface {
		GetTokenBucketTracker() interface{ GetTokens(string) float64 }
	}); ok {
		if tracker := ts.GetTokenBucketTracker(); tracker != nil {
			tokenGetter = tracker
		}
	}

	for _, acc := range m.accounts {
		accData := AccountHealthData{
			Email:    acc.Email,
			LastUsed: acc.LastUsed,
		}

		if healthGetter != nil {
			accData.HealthScore = healthGetter.GetHealthScore(acc.Email)
		}
		if tokenGetter != nil {
			accData.TokensAvailable = tokenGetter.GetTokens(acc.Email)
		}
		if failureGetter != nil {
			accData.ConsecutiveFails = failureGetter.GetConsecutiveFailures(acc.Email)
		}

		data.Accounts = append(data.Accounts, accData)
	}

	return data
}
