package executor

import (
	"testing"

	"github.com/relaycc/cloudcode-gateway/internal/config"
)

func TestGetRateLimitBackoff_FirstCallUsesDefaultDelay(t *testing.T) {
	result := GetRateLimitBackoff("first@example.com", "claude-sonnet-4-5", 0)

	if result.IsDuplicate {
		t.Error("expected the first call for a key to not be a duplicate")
	}
	if result.Attempt != 1 {
		t.Errorf("expected attempt 1, got %d", result.Attempt)
	}
	if result.DelayMs != config.FirstRetryDelayMs {
		t.Errorf("expected delay %d, got %d", config.FirstRetryDelayMs, result.DelayMs)
	}
}

func TestGetRateLimitBackoff_SecondCallWithinWindowIsDuplicate(t *testing.T) {
	email, model := "dup@example.com", "claude-sonnet-4-5"
	GetRateLimitBackoff(email, model, 0)

	second := GetRateLimitBackoff(email, model, 0)
	if !second.IsDuplicate {
		t.Error("expected a call within the dedup window to be flagged as duplicate")
	}
	if second.Attempt != 1 {
		t.Errorf("expected attempt to still be 1, got %d", second.Attempt)
	}
}

func TestGetRateLimitBackoff_UsesServerRetryAfterWhenProvided(t *testing.T) {
	result := GetRateLimitBackoff("server-hint@example.com", "claude-sonnet-4-5", 5000)

	if result.DelayMs != 5000 {
		t.Errorf("expected delay to honor server retry-after of 5000ms, got %d", result.DelayMs)
	}
}

func TestClearRateLimitState_AllowsFreshAttempt(t *testing.T) {
	email, model := "clear@example.com", "claude-sonnet-4-5"
	GetRateLimitBackoff(email, model, 0)

	ClearRateLimitState(email, model)

	result := GetRateLimitBackoff(email, model, 0)
	if result.IsDuplicate {
		t.Error("expected a fresh attempt after clearing state")
	}
	if result.Attempt != 1 {
		t.Errorf("expected attempt to reset to 1, got %d", result.Attempt)
	}
}

func TestIsPermanentAuthFailure(t *testing.T) {
	if !IsPermanentAuthFailure("error: invalid_grant") {
		t.Error("expected invalid_grant to be a permanent auth failure")
	}
	if !IsPermanentAuthFailure("Token has been expired or revoked") {
		t.Error("expected expired/revoked phrasing to match case-insensitively")
	}
	if IsPermanentAuthFailure("rate limited, try again") {
		t.Error("expected an unrelated error to not match")
	}
}

func TestIsModelCapacityExhausted(t *testing.T) {
	if !IsModelCapacityExhausted("error: model_capacity_exhausted") {
		t.Error("expected model_capacity_exhausted to match")
	}
	if !IsModelCapacityExhausted("the model is currently overloaded, please retry") {
		t.Error("expected overloaded phrasing to match")
	}
	if IsModelCapacityExhausted("quota exceeded for today") {
		t.Error("expected an unrelated error to not match")
	}
}

func TestCalculateSmartBackoff_PrefersServerResetWithFloor(t *testing.T) {
	if got := CalculateSmartBackoff("", 5000, 0); got != 5000 {
		t.Errorf("expected server reset of 5000ms to pass through, got %d", got)
	}
	if got := CalculateSmartBackoff("", 100, 0); got != config.MinBackoffMs {
		t.Errorf("expected a low server reset to be floored to %d, got %d", config.MinBackoffMs, got)
	}
}

func TestCalculateSmartBackoff_QuotaExhaustedUsesProgressiveTiers(t *testing.T) {
	if got := CalculateSmartBackoff("daily quota exhausted", 0, 0); got != config.QuotaExhaustedBackoffTiersMs[0] {
		t.Errorf("expected tier 0, got %d", got)
	}
	if got := CalculateSmartBackoff("daily quota exhausted", 0, 99); got != config.QuotaExhaustedBackoffTiersMs[len(config.QuotaExhaustedBackoffTiersMs)-1] {
		t.Errorf("expected consecutive failures to clamp to the last tier, got %d", got)
	}
}

func TestCalculateSmartBackoff_RateLimitExceededUsesFixedDelay(t *testing.T) {
	got := CalculateSmartBackoff("too many requests", 0, 0)
	if got != config.BackoffByErrorType["RATE_LIMIT_EXCEEDED"] {
		t.Errorf("expected %d, got %d", config.BackoffByErrorType["RATE_LIMIT_EXCEEDED"], got)
	}
}

func TestCalculateSmartBackoff_ModelCapacityExhaustedAddsJitter(t *testing.T) {
	base := config.BackoffByErrorType["MODEL_CAPACITY_EXHAUSTED"]
	got := CalculateSmartBackoff("model is currently overloaded", 0, 0)

	low := base - config.CapacityJitterMaxMs/2
	high := base + config.CapacityJitterMaxMs/2
	if got < low || got > high {
		t.Errorf("expected jittered delay within [%d, %d], got %d", low, high, got)
	}
}

func TestCalculateSmartBackoff_ServerErrorAndUnknown(t *testing.T) {
	if got := CalculateSmartBackoff("internal server error", 0, 0); got != config.BackoffByErrorType["SERVER_ERROR"] {
		t.Errorf("expected server error delay, got %d", got)
	}
	if got := CalculateSmartBackoff("completely unrelated", 0, 0); got != config.MinBackoffMs {
		t.Errorf("expected unknown delay, got %d", got)
	}
}
