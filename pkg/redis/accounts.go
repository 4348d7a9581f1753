// Package redis provides the optional persistence layer for accounts.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Account represents a configured upstream account.
//
// ModelRateLimits and the cooldown fields are runtime-only: they are never
// read from or written to the store. The pool owns that state in memory and
// rebuilds it from scratch on every restart.
type Account struct {
	Email        string `json:"email"`
	Source       string `json:"source"` // "oauth", "manual", "database"
	Enabled      bool   `json:"enabled"`
	RefreshToken string `json:"refreshToken,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	ProjectID    string `json:"projectId,omitempty"`

	Subscription *SubscriptionInfo `json:"subscription,omitempty"`

	QuotaThreshold       *float64           `json:"quotaThreshold,omitempty"`
	ModelQuotaThresholds map[string]float64 `json:"modelQuotaThresholds,omitempty"`
	Quota                *QuotaInfo         `json:"quota,omitempty"`

	// ModelRateLimits is runtime-only in-memory state, guarded by the pool
	// manager's mutex. Never persisted.
	ModelRateLimits map[string]*RateLimitInfo `json:"-"`

	LastUsed      int64  `json:"lastUsed,omitempty"`
	IsInvalid     bool   `json:"isInvalid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	InvalidAt     int64  `json:"invalidAt,omitempty"`

	// CoolingDownUntil/CooldownReason are runtime-only, not persisted.
	CoolingDownUntil int64  `json:"-"`
	CooldownReason   string `json:"-"`
}

// SubscriptionInfo describes the subscription tier detected for an account.
type SubscriptionInfo struct {
	Tier       string `json:"tier"` // "free", "pro", "ultra"
	ProjectID  string `json:"projectId,omitempty"`
	DetectedAt int64  `json:"detectedAt"`
}

// QuotaInfo is the last quota snapshot fetched from upstream for an account.
type QuotaInfo struct {
	Models      map[string]*ModelQuotaInfo `json:"models"`
	LastChecked int64                      `json:"lastChecked,omitempty"`
}

// ModelQuotaInfo is the remaining quota fraction for one model.
type ModelQuotaInfo struct {
	RemainingFraction float64 `json:"remainingFraction"`
	ResetTime         string  `json:"resetTime,omitempty"`
}

// RateLimitInfo is in-memory rate-limit state for one account/model pair.
// Never persisted: see Account.ModelRateLimits.
type RateLimitInfo struct {
	IsRateLimited bool  `json:"isRateLimited"`
	ResetTime     int64 `json:"resetTime,omitempty"`     // Unix ms when the limit clears
	ActualResetMs int64 `json:"actualResetMs,omitempty"` // duration backoff was computed from
}

// CachedToken is a cached upstream access token.
type CachedToken struct {
	AccessToken string    `json:"accessToken"`
	ExtractedAt time.Time `json:"extractedAt"`
}

// AccountStore provides account persistence backed by Redis hashes.
type AccountStore struct {
	client *Client
}

func NewAccountStore(client *Client) *AccountStore {
	return &AccountStore{client: client}
}

func (s *AccountStore) IsAvailable() bool {
	return s != nil && s.client != nil
}

// GetAccount retrieves an account by email. Returns (nil, nil) if not found.
func (s *AccountStore) GetAccount(ctx context.Context, email string) (*Account, error) {
	if s.client == nil {
		return nil, fmt.Errorf("redis client not available")
	}
	key := PrefixAccounts + email
	data, err := s.client.HGetAll(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	account := &Account{
		Email:                email,
		ModelQuotaThresholds: make(map[string]float64),
	}

	if v, ok := data["source"]; ok {
		account.Source = v
	}
	if v, ok := data["enabled"]; ok {
		account.Enabled = v == "true"
	}
	if v, ok := data["refreshToken"]; ok {
		account.RefreshToken = v
	}
	if v, ok := data["apiKey"]; ok {
		account.APIKey = v
	}
	if v, ok := data["projectId"]; ok {
		account.ProjectID = v
	}
	if v, ok := data["isInvalid"]; ok {
		account.IsInvalid = v == "true"
	}
	if v, ok := data["invalidReason"]; ok {
		account.InvalidReason = v
	}
	if v, ok := data["lastUsed"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			account.LastUsed = t.UnixMilli()
		}
	}
	if v, ok := data["invalidAt"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			account.InvalidAt = t.UnixMilli()
		}
	}
	if v, ok := data["quotaThreshold"]; ok {
		var f float64
		if err := json.Unmarshal([]byte(v), &f); err == nil {
			account.QuotaThreshold = &f
		}
	}
	if v, ok := data["subscription"]; ok {
		var sub SubscriptionInfo
		if err := json.Unmarshal([]byte(v), &sub); err == nil {
			account.Subscription = &sub
		}
	}
	if v, ok := data["quota"]; ok {
		var quota QuotaInfo
		if err := json.Unmarshal([]byte(v), &quota); err == nil {
			account.Quota = &quota
		}
	}
	if v, ok := data["modelQuotaThresholds"]; ok {
		var thresholds map[string]float64
		if err := json.Unmarshal([]byte(v), &thresholds); err == nil {
			account.ModelQuotaThresholds = thresholds
		}
	}

	return account, nil
}

// SetAccount stores an account's durable fields. Rate-limit and cooldown
// state is never written here.
func (s *AccountStore) SetAccount(ctx context.Context, account *Account) error {
	if s.client == nil {
		return fmt.Errorf("redis client not available")
	}
	key := PrefixAccounts + account.Email
	values := map[string]interface{}{
		"email":     account.Email,
		"source":    account.Source,
		"enabled":   fmt.Sprintf("%t", account.Enabled),
		"isInvalid": fmt.Sprintf("%t", account.IsInvalid),
	}

	if account.RefreshToken != "" {
		values["refreshToken"] = account.RefreshToken
	}
	if account.APIKey != "" {
		values["apiKey"] = account.APIKey
	}
	if account.ProjectID != "" {
		values["projectId"] = account.ProjectID
	}
	if account.InvalidReason != "" {
		values["invalidReason"] = account.InvalidReason
	}
	if account.LastUsed > 0 {
		values["lastUsed"] = time.UnixMilli(account.LastUsed).Format(time.RFC3339)
	}
	if account.InvalidAt > 0 {
		values["invalidAt"] = time.UnixMilli(account.InvalidAt).Format(time.RFC3339)
	}
	if account.QuotaThreshold != nil {
		data, _ := json.Marshal(account.QuotaThreshold)
		values["quotaThreshold"] = string(data)
	}
	if account.Subscription != nil {
		data, _ := json.Marshal(account.Subscription)
		values["subscription"] = string(data)
	}
	if account.Quota != nil {
		data, _ := json.Marshal(account.Quota)
		values["quota"] = string(data)
	}
	if len(account.ModelQuotaThresholds) > 0 {
		data, _ := json.Marshal(account.ModelQuotaThresholds)
		values["modelQuotaThresholds"] = string(data)
	}

	if err := s.client.HSet(ctx, key, values); err != nil {
		return err
	}

	return s.client.SAdd(ctx, PrefixAccountIndex, account.Email)
}

// DeleteAccount removes an account and its durable caches. Rate-limit state
// lives only in the pool's memory and needs no cleanup here.
func (s *AccountStore) DeleteAccount(ctx context.Context, email string) error {
	key := PrefixAccounts + email

	if err := s.client.Delete(ctx, key); err != nil {
		return err
	}
	if err := s.client.SRem(ctx, PrefixAccountIndex, email); err != nil {
		return err
	}

	_ = s.ClearQuotas(ctx, email)
	_ = s.ClearTokenCache(ctx, email)
	_ = s.ClearProjectCache(ctx, email)

	return nil
}

// ListAccounts returns every account known to the store.
func (s *AccountStore) ListAccounts(ctx context.Context) ([]*Account, error) {
	if s.client == nil {
		return make([]*Account, 0), nil
	}
	emails, err := s.client.SMembers(ctx, PrefixAccountIndex)
	if err != nil {
		return nil, err
	}

	accounts := make([]*Account, 0, len(emails))
	for _, email := range emails {
		account, err := s.GetAccount(ctx, email)
		if err != nil {
			continue
		}
		if account != nil {
			accounts = append(accounts, account)
		}
	}

	return accounts, nil
}

// GetQuotas retrieves the last quota snapshot for an account.
func (s *AccountStore) GetQuotas(ctx context.Context, email string) (*QuotaInfo, error) {
	key := PrefixQuotas + email
	data, err := s.client.HGetAll(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	info := &QuotaInfo{
		Models: make(map[string]*ModelQuotaInfo),
	}

	for field, value := range data {
		if field == "_lastChecked" {
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				info.LastChecked = t.UnixMilli()
			}
		} else {
			var quota ModelQuotaInfo
			if err := json.Unmarshal([]byte(value), &quota); err == nil {
				info.Models[field] = &quota
			}
		}
	}

	return info, nil
}

// SetQuotas stores a quota snapshot with a five-minute TTL.
func (s *AccountStore) SetQuotas(ctx context.Context, email string, info *QuotaInfo) error {
	key := PrefixQuotas + email
	values := map[string]interface{}{}

	if info.LastChecked > 0 {
		values["_lastChecked"] = time.UnixMilli(info.LastChecked).Format(time.RFC3339)
	}

	for modelID, quota := range info.Models {
		data, _ := json.Marshal(quota)
		values[modelID] = string(data)
	}

	if err := s.client.HSet(ctx, key, values); err != nil {
		return err
	}

	return s.client.Expire(ctx, key, 5*time.Minute)
}

func (s *AccountStore) ClearQuotas(ctx context.Context, email string) error {
	key := PrefixQuotas + email
	return s.client.Delete(ctx, key)
}

// GetCachedToken retrieves a cached access token, if any.
func (s *AccountStore) GetCachedToken(ctx context.Context, email string) (*CachedToken, error) {
	key := PrefixTokenCache + email
	data, err := s.client.HGetAll(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	token := &CachedToken{}
	if v, ok := data["accessToken"]; ok {
		token.AccessToken = v
	}
	if v, ok := data["extractedAt"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			token.ExtractedAt = t
		}
	}

	return token, nil
}

func (s *AccountStore) SetCachedToken(ctx context.Context, email, token string, ttl time.Duration) error {
	key := PrefixTokenCache + email
	values := map[string]interface{}{
		"accessToken": token,
		"extractedAt": time.Now().Format(time.RFC3339),
	}

	if err := s.client.HSet(ctx, key, values); err != nil {
		return err
	}

	return s.client.Expire(ctx, key, ttl)
}

func (s *AccountStore) ClearTokenCache(ctx context.Context, email string) error {
	key := PrefixTokenCache + email
	return s.client.Delete(ctx, key)
}

func (s *AccountStore) GetCachedProject(ctx context.Context, email string) (string, error) {
	key := PrefixProjectCache + email
	return s.client.GetString(ctx, key)
}

func (s *AccountStore) SetCachedProject(ctx context.Context, email, projectID string, ttl time.Duration) error {
	key := PrefixProjectCache + email
	return s.client.SetString(ctx, key, projectID, ttl)
}

func (s *AccountStore) ClearProjectCache(ctx context.Context, email string) error {
	key := PrefixProjectCache + email
	return s.client.Delete(ctx, key)
}
