package strategies

import (
	"context"
	"testing"
	"time"

	"github.com/relaycc/cloudcode-gateway/pkg/redis"
)

func testAccount(email string, rateLimited bool, invalid bool) *redis.Account {
	acc := &redis.Account{
		Email:           email,
		Source:          "oauth",
		Enabled:         true,
		IsInvalid:       invalid,
		ModelRateLimits: make(map[string]*redis.RateLimitInfo),
	}

	if rateLimited {
		acc.ModelRateLimits["claude-sonnet-4-5"] = &redis.RateLimitInfo{
			IsRateLimited: true,
			ResetTime:     time.Now().Add(1 * time.Hour).UnixMilli(),
		}
	}

	return acc
}

func TestIsAccountUsable_RejectsNil(t *testing.T) {
	s := NewBaseStrategy(&Config{})
	if s.IsAccountUsable(context.Background(), nil, "claude-sonnet-4-5") {
		t.Error("expected nil account to be unusable")
	}
}

func TestIsAccountUsable_RejectsInvalid(t *testing.T) {
	s := NewBaseStrategy(&Config{})
	acc := testAccount("invalid@example.com", false, true)

	if s.IsAccountUsable(context.Background(), acc, "claude-sonnet-4-5") {
		t.Error("expected invalid account to be unusable")
	}
}

func TestIsAccountUsable_RejectsDisabled(t *testing.T) {
	s := NewBaseStrategy(&Config{})
	acc := testAccount("disabled@example.com", false, false)
	acc.Enabled = false

	if s.IsAccountUsable(context.Background(), acc, "claude-sonnet-4-5") {
		t.Error("expected disabled account to be unusable")
	}
}

func TestIsAccountUsable_RejectsRateLimitedWithFutureReset(t *testing.T) {
	s := NewBaseStrategy(&Config{})
	acc := testAccount("limited@example.com", true, false)

	if s.IsAccountUsable(context.Background(), acc, "claude-sonnet-4-5") {
		t.Error("expected rate-limited account with future reset to be unusable")
	}
}

func TestIsAccountUsable_AllowsRateLimitedWithPastReset(t *testing.T) {
	s := NewBaseStrategy(&Config{})
	acc := testAccount("expired@example.com", true, false)
	acc.ModelRateLimits["claude-sonnet-4-5"].ResetTime = time.Now().Add(-1 * time.Hour).UnixMilli()

	if !s.IsAccountUsable(context.Background(), acc, "claude-sonnet-4-5") {
		t.Error("expected rate limit with past reset time to no longer block usability")
	}
}

func TestIsAccountUsable_RateLimitIsPerModel(t *testing.T) {
	s := NewBaseStrategy(&Config{})
	acc := testAccount("limited@example.com", true, false)

	if !s.IsAccountUsable(context.Background(), acc, "gemini-3-flash") {
		t.Error("expected account rate-limited for one model to be usable for another")
	}
}

func TestIsAccountUsable_AllowsHealthyAccount(t *testing.T) {
	s := NewBaseStrategy(&Config{})
	acc := testAccount("healthy@example.com", false, false)

	if !s.IsAccountUsable(context.Background(), acc, "claude-sonnet-4-5") {
		t.Error("expected healthy account to be usable")
	}
}

func TestIsAccountCoolingDown_TrueBeforeExpiry(t *testing.T) {
	s := NewBaseStrategy(&Config{})
	acc := testAccount("cooling@example.com", false, false)
	acc.CoolingDownUntil = time.Now().Add(1 * time.Minute).UnixMilli()
	acc.CooldownReason = "capacity"

	if !s.IsAccountCoolingDown(acc) {
		t.Error("expected account to be cooling down before expiry")
	}
}

func TestIsAccountCoolingDown_ClearsOnceExpired(t *testing.T) {
	s := NewBaseStrategy(&Config{})
	acc := testAccount("expired@example.com", false, false)
	acc.CoolingDownUntil = time.Now().Add(-1 * time.Minute).UnixMilli()
	acc.CooldownReason = "capacity"

	if s.IsAccountCoolingDown(acc) {
		t.Error("expected expired cooldown to report false")
	}
	if acc.CoolingDownUntil != 0 {
		t.Error("expected expired cooldown to be cleared")
	}
	if acc.CooldownReason != "" {
		t.Error("expected expired cooldown reason to be cleared")
	}
}

func TestGetUsableAccounts_FiltersAndPreservesIndex(t *testing.T) {
	s := NewBaseStrategy(&Config{})
	accounts := []*redis.Account{
		testAccount("invalid@example.com", false, true),
		testAccount("healthy@example.com", false, false),
		testAccount("limited@example.com", true, false),
	}

	usable := s.GetUsableAccounts(context.Background(), accounts, "claude-sonnet-4-5")

	if len(usable) != 1 {
		t.Fatalf("expected 1 usable account, got %d", len(usable))
	}
	if usable[0].Index != 1 {
		t.Errorf("expected original index 1, got %d", usable[0].Index)
	}
	if usable[0].Account.Email != "healthy@example.com" {
		t.Errorf("expected healthy@example.com, got %s", usable[0].Account.Email)
	}
}
