package strategies

import (
	"testing"
	"time"

	"github.com/relaycc/cloudcode-gateway/pkg/redis"
)

func TestStickySelectAccount_StaysOnCurrentWhenUsable(t *testing.T) {
	s := NewStickyStrategy(&Config{})
	accounts := []*redis.Account{
		testAccount("a@example.com", false, false),
		testAccount("b@example.com", false, false),
	}

	result := s.SelectAccount(nil, accounts, "claude-sonnet-4-5", SelectOptions{CurrentIndex: 1})

	if result.Account == nil || result.Account.Email != "b@example.com" {
		t.Errorf("expected to stay on current account b, got %v", result.Account)
	}
	if result.Index != 1 {
		t.Errorf("expected index 1, got %d", result.Index)
	}
}

func TestStickySelectAccount_SwitchesImmediatelyWhenCurrentInvalid(t *testing.T) {
	s := NewStickyStrategy(&Config{})
	accounts := []*redis.Account{
		testAccount("a@example.com", false, true), // invalid
		testAccount("b@example.com", false, false),
	}

	result := s.SelectAccount(nil, accounts, "claude-sonnet-4-5", SelectOptions{CurrentIndex: 0})

	if result.Account == nil || result.Account.Email != "b@example.com" {
		t.Errorf("expected failover to b, got %v", result.Account)
	}
}

func TestStickySelectAccount_WaitsForShortRateLimit(t *testing.T) {
	s := NewStickyStrategy(&Config{})
	accounts := []*redis.Account{
		testAccount("a@example.com", true, false), // rate-limited
	}
	accounts[0].ModelRateLimits["claude-sonnet-4-5"].ResetTime = time.Now().Add(1 * time.Minute).UnixMilli()

	result := s.SelectAccount(nil, accounts, "claude-sonnet-4-5", SelectOptions{CurrentIndex: 0})

	if result.Account != nil {
		t.Errorf("expected nil account while waiting, got %s", result.Account.Email)
	}
	if result.WaitMs <= 0 {
		t.Error("expected a positive wait duration")
	}
}

func TestStickySelectAccount_GivesUpWaitingPastThreshold(t *testing.T) {
	s := NewStickyStrategy(&Config{})
	accounts := []*redis.Account{
		testAccount("a@example.com", true, false),
	}
	// Reset far enough in the future that waiting is not worth it.
	accounts[0].ModelRateLimits["claude-sonnet-4-5"].ResetTime = time.Now().Add(1 * time.Hour).UnixMilli()

	result := s.SelectAccount(nil, accounts, "claude-sonnet-4-5", SelectOptions{CurrentIndex: 0})

	if result.Account != nil {
		t.Errorf("expected nil when no account is usable and wait exceeds threshold, got %s", result.Account.Email)
	}
	if result.WaitMs != 0 {
		t.Errorf("expected no wait once above threshold, got %d", result.WaitMs)
	}
}

func TestStickySelectAccount_ReturnsNilOnEmptyPool(t *testing.T) {
	s := NewStickyStrategy(&Config{})

	result := s.SelectAccount(nil, []*redis.Account{}, "claude-sonnet-4-5", SelectOptions{CurrentIndex: 3})

	if result.Account != nil {
		t.Errorf("expected nil account for empty pool, got %s", result.Account.Email)
	}
	if result.Index != 3 {
		t.Errorf("expected index to be preserved as given, got %d", result.Index)
	}
}
