package trackers

import (
	"testing"

	"github.com/relaycc/cloudcode-gateway/internal/config"
)

func TestNewHealthTracker_AppliesDefaults(t *testing.T) {
	tracker := NewHealthTracker(config.HealthScoreConfig{})
	if got := tracker.GetScore("new@example.com"); got != 70 {
		t.Errorf("expected the default initial score 70, got %f", got)
	}
	if tracker.GetMinUsable() != 50 {
		t.Errorf("expected default min usable 50, got %f", tracker.GetMinUsable())
	}
	if tracker.GetMaxScore() != 100 {
		t.Errorf("expected default max score 100, got %f", tracker.GetMaxScore())
	}
}

func TestRecordSuccess_IncreasesScoreAndResetsFailures(t *testing.T) {
	tracker := NewHealthTracker(config.HealthScoreConfig{})
	tracker.RecordFailure("a@example.com")
	tracker.RecordFailure("a@example.com")
	if tracker.GetConsecutiveFailures("a@example.com") != 2 {
		t.Fatalf("expected 2 consecutive failures, got %d", tracker.GetConsecutiveFailures("a@example.com"))
	}

	tracker.RecordSuccess("a@example.com")
	if tracker.GetConsecutiveFailures("a@example.com") != 0 {
		t.Errorf("expected success to reset the failure streak, got %d", tracker.GetConsecutiveFailures("a@example.com"))
	}
}

func TestRecordSuccess_CapsAtMaxScore(t *testing.T) {
	tracker := NewHealthTracker(config.HealthScoreConfig{Initial: 100, MaxScore: 100, SuccessReward: 10})
	tracker.RecordSuccess("a@example.com")
	if got := tracker.GetScore("a@example.com"); got != 100 {
		t.Errorf("expected the score capped at 100, got %f", got)
	}
}

func TestRecordFailure_FloorsAtZero(t *testing.T) {
	tracker := NewHealthTracker(config.HealthScoreConfig{Initial: 10, FailurePenalty: -50})
	tracker.RecordFailure("a@example.com")
	if got := tracker.GetScore("a@example.com"); got < 0 || got > 0.01 {
		t.Errorf("expected the score floored at ~0, got %f", got)
	}
}

func TestRecordRateLimit_AppliesPenaltyAndIncrementsFailures(t *testing.T) {
	tracker := NewHealthTracker(config.HealthScoreConfig{Initial: 70, RateLimitPenalty: -10})
	tracker.RecordRateLimit("a@example.com")
	if got := tracker.GetScore("a@example.com"); got < 60 || got > 60.01 {
		t.Errorf("expected score ~60 after a rate limit penalty, got %f", got)
	}
	if tracker.GetConsecutiveFailures("a@example.com") != 1 {
		t.Errorf("expected 1 consecutive failure after a rate limit, got %d", tracker.GetConsecutiveFailures("a@example.com"))
	}
}

func TestIsUsable_ReflectsMinUsableThreshold(t *testing.T) {
	tracker := NewHealthTracker(config.HealthScoreConfig{Initial: 40, MinUsable: 50})
	if tracker.IsUsable("a@example.com") {
		t.Error("expected an account below the minimum usable score to be unusable")
	}
	tracker2 := NewHealthTracker(config.HealthScoreConfig{Initial: 60, MinUsable: 50})
	if !tracker2.IsUsable("a@example.com") {
		t.Error("expected an account above the minimum usable score to be usable")
	}
}

func TestReset_RestoresInitialScoreAndClearsFailures(t *testing.T) {
	tracker := NewHealthTracker(config.HealthScoreConfig{Initial: 70})
	tracker.RecordFailure("a@example.com")
	tracker.Reset("a@example.com")

	if got := tracker.GetScore("a@example.com"); got < 70 || got > 70.01 {
		t.Errorf("expected the score reset to ~70, got %f", got)
	}
	if tracker.GetConsecutiveFailures("a@example.com") != 0 {
		t.Errorf("expected failures cleared after reset, got %d", tracker.GetConsecutiveFailures("a@example.com"))
	}
}

func TestClear_RemovesAllTrackedScores(t *testing.T) {
	tracker := NewHealthTracker(config.HealthScoreConfig{Initial: 70})
	tracker.RecordFailure("a@example.com")
	tracker.Clear()

	if len(tracker.GetAllRecords()) != 0 {
		t.Errorf("expected no records after Clear, got %d", len(tracker.GetAllRecords()))
	}
	if got := tracker.GetScore("a@example.com"); got != 70 {
		t.Errorf("expected the default initial score after Clear, got %f", got)
	}
}

func TestGetHealthScore_IsAnAliasForGetScore(t *testing.T) {
	tracker := NewHealthTracker(config.HealthScoreConfig{Initial: 70})
	if tracker.GetHealthScore("a@example.com") != tracker.GetScore("a@example.com") {
		t.Error("expected GetHealthScore to match GetScore")
	}
}
