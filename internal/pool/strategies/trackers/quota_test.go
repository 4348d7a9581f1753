package trackers

import (
	"testing"
	"time"

	"github.com/relaycc/cloudcode-gateway/internal/config"
	"github.com/relaycc/cloudcode-gateway/pkg/redis"
)

func accountWithQuota(fraction float64, lastChecked int64) *redis.Account {
	return &redis.Account{
		Email: "a@example.com",
		Quota: &redis.QuotaInfo{
			Models: map[string]*redis.ModelQuotaInfo{
				"claude-opus-4-6": {RemainingFraction: fraction},
			},
			LastChecked: lastChecked,
		},
	}
}

func TestGetQuotaFraction_ReturnsMinusOneWhenUnknown(t *testing.T) {
	tracker := NewQuotaTracker(config.QuotaConfig{})
	if got := tracker.GetQuotaFraction(nil, "claude-opus-4-6"); got != -1 {
		t.Errorf("expected -1 for a nil account, got %f", got)
	}
	if got := tracker.GetQuotaFraction(&redis.Account{}, "claude-opus-4-6"); got != -1 {
		t.Errorf("expected -1 for an account with no quota data, got %f", got)
	}
}

func TestGetQuotaFraction_ReturnsStoredFraction(t *testing.T) {
	tracker := NewQuotaTracker(config.QuotaConfig{})
	account := accountWithQuota(0.3, time.Now().UnixMilli())
	if got := tracker.GetQuotaFraction(account, "claude-opus-4-6"); got != 0.3 {
		t.Errorf("expected 0.3, got %f", got)
	}
}

func TestIsQuotaFresh_FalseForStaleOrMissingData(t *testing.T) {
	tracker := NewQuotaTracker(config.QuotaConfig{StaleMs: 1000})
	if tracker.IsQuotaFresh(nil) {
		t.Error("expected a nil account to be stale")
	}
	stale := accountWithQuota(0.5, time.Now().Add(-time.Hour).UnixMilli())
	if tracker.IsQuotaFresh(stale) {
		t.Error("expected an hour-old check to be stale against a 1s freshness window")
	}
	fresh := accountWithQuota(0.5, time.Now().UnixMilli())
	if !tracker.IsQuotaFresh(fresh) {
		t.Error("expected a just-checked account to be fresh")
	}
}

func TestIsQuotaCritical_OnlyWhenFreshAndBelowThreshold(t *testing.T) {
	tracker := NewQuotaTracker(config.QuotaConfig{CriticalThreshold: 0.05, StaleMs: 60000})

	fresh := accountWithQuota(0.02, time.Now().UnixMilli())
	if !tracker.IsQuotaCritical(fresh, "claude-opus-4-6", nil) {
		t.Error("expected fresh+low quota to be critical")
	}

	stale := accountWithQuota(0.02, time.Now().Add(-time.Hour).UnixMilli())
	if tracker.IsQuotaCritical(stale, "claude-opus-4-6", nil) {
		t.Error("expected stale quota data to not be flagged critical")
	}

	unknown := &redis.Account{}
	if tracker.IsQuotaCritical(unknown, "claude-opus-4-6", nil) {
		t.Error("expected unknown quota to not be flagged critical")
	}
}

func TestIsQuotaCritical_RespectsThresholdOverride(t *testing.T) {
	tracker := NewQuotaTracker(config.QuotaConfig{CriticalThreshold: 0.05, StaleMs: 60000})
	account := accountWithQuota(0.2, time.Now().UnixMilli())

	if tracker.IsQuotaCritical(account, "claude-opus-4-6", nil) {
		t.Error("expected 0.2 to not be critical against the default 0.05 threshold")
	}

	override := 0.3
	if !tracker.IsQuotaCritical(account, "claude-opus-4-6", &override) {
		t.Error("expected 0.2 to be critical against an overridden 0.3 threshold")
	}
}

func TestIsQuotaLow_BetweenCriticalAndLowThresholds(t *testing.T) {
	tracker := NewQuotaTracker(config.QuotaConfig{LowThreshold: 0.1, CriticalThreshold: 0.05})
	low := accountWithQuota(0.08, time.Now().UnixMilli())
	if !tracker.IsQuotaLow(low, "claude-opus-4-6") {
		t.Error("expected 0.08 to be low (between 0.05 and 0.1)")
	}

	critical := accountWithQuota(0.02, time.Now().UnixMilli())
	if tracker.IsQuotaLow(critical, "claude-opus-4-6") {
		t.Error("expected 0.02 to be critical, not merely low")
	}

	healthy := accountWithQuota(0.5, time.Now().UnixMilli())
	if tracker.IsQuotaLow(healthy, "claude-opus-4-6") {
		t.Error("expected 0.5 to not be flagged low")
	}
}

func TestGetScore_UnknownQuotaReturnsUnknownScore(t *testing.T) {
	tracker := NewQuotaTracker(config.QuotaConfig{UnknownScore: 42})
	if got := tracker.GetScore(&redis.Account{}, "claude-opus-4-6"); got != 42 {
		t.Errorf("expected the unknown score 42, got %f", got)
	}
}

func TestGetScore_ScalesFractionAndPenalizesStaleData(t *testing.T) {
	tracker := NewQuotaTracker(config.QuotaConfig{StaleMs: 60000})

	fresh := accountWithQuota(0.5, time.Now().UnixMilli())
	if got := tracker.GetScore(fresh, "claude-opus-4-6"); got != 50 {
		t.Errorf("expected a fresh 0.5 fraction to score 50, got %f", got)
	}

	stale := accountWithQuota(0.5, time.Now().Add(-time.Hour).UnixMilli())
	if got := tracker.GetScore(stale, "claude-opus-4-6"); got != 45 {
		t.Errorf("expected a stale 0.5 fraction to score 45 (10%% penalty), got %f", got)
	}
}

func TestGetCriticalAndLowThreshold_ReturnConfiguredValues(t *testing.T) {
	tracker := NewQuotaTracker(config.QuotaConfig{CriticalThreshold: 0.07, LowThreshold: 0.2})
	if tracker.GetCriticalThreshold() != 0.07 {
		t.Errorf("expected 0.07, got %f", tracker.GetCriticalThreshold())
	}
	if tracker.GetLowThreshold() != 0.2 {
		t.Errorf("expected 0.2, got %f", tracker.GetLowThreshold())
	}
}
