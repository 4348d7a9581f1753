package executor

import (
	"net/http"
	"testing"
)

func TestParseResetTime_RetryAfterSecondsHeader(t *testing.T) {
	headers := http.Header{}
	headers.Set("retry-after", "30")

	got := ParseResetTime(headers, "")
	if got != 30000 {
		t.Errorf("expected 30000ms, got %d", got)
	}
}

func TestParseResetTime_XRateLimitResetAfterHeader(t *testing.T) {
	headers := http.Header{}
	headers.Set("x-ratelimit-reset-after", "10")

	got := ParseResetTime(headers, "")
	if got != 10000 {
		t.Errorf("expected 10000ms, got %d", got)
	}
}

func TestParseResetTime_NoHeadersOrBodyReturnsNegativeOne(t *testing.T) {
	got := ParseResetTime(http.Header{}, "")
	if got != -1 {
		t.Errorf("expected -1 when nothing could be parsed, got %d", got)
	}
}

func TestParseResetTime_QuotaResetDelayFromBodyMs(t *testing.T) {
	got := ParseResetTime(http.Header{}, `"quotaResetDelay": "754ms"`)
	if got != 754 {
		t.Errorf("expected 754ms, got %d", got)
	}
}

func TestParseResetTime_QuotaResetDelayFromBodySeconds(t *testing.T) {
	got := ParseResetTime(http.Header{}, `"quotaResetDelay": "1.5s"`)
	if got != 1500 {
		t.Errorf("expected 1500ms, got %d", got)
	}
}

func TestParseResetTime_RetryDelaySecondsFromBody(t *testing.T) {
	got := ParseResetTime(http.Header{}, `"retryDelay": "20s"`)
	if got != 20000 {
		t.Errorf("expected 20000ms, got %d", got)
	}
}

func TestParseResetTime_ShortResetGetsLatencyBuffer(t *testing.T) {
	got := ParseResetTime(http.Header{}, `"quotaResetDelay": "100ms"`)
	if got != 300 {
		t.Errorf("expected 100ms + 200ms buffer = 300ms, got %d", got)
	}
}

func TestParseRateLimitReason_StatusCodeTakesPriority(t *testing.T) {
	if got := ParseRateLimitReason("quota_exhausted", 503); got != RateLimitReasonModelCapacityExhausted {
		t.Errorf("expected status 503 to win over body text, got %s", got)
	}
	if got := ParseRateLimitReason("", 529); got != RateLimitReasonModelCapacityExhausted {
		t.Errorf("expected status 529 to map to capacity exhausted, got %s", got)
	}
	if got := ParseRateLimitReason("", 500); got != RateLimitReasonServerError {
		t.Errorf("expected status 500 to map to server error, got %s", got)
	}
}

func TestParseRateLimitReason_QuotaExhaustedFromBody(t *testing.T) {
	if got := ParseRateLimitReason("daily limit reached", 429); got != RateLimitReasonQuotaExhausted {
		t.Errorf("expected quota exhausted, got %s", got)
	}
}

func TestParseRateLimitReason_RateLimitExceededFromBody(t *testing.T) {
	if got := ParseRateLimitReason("too many requests, please slow down", 429); got != RateLimitReasonRateLimitExceeded {
		t.Errorf("expected rate limit exceeded, got %s", got)
	}
}

func TestParseRateLimitReason_UnknownWhenNothingMatches(t *testing.T) {
	if got := ParseRateLimitReason("completely unrelated text", 200); got != RateLimitReasonUnknown {
		t.Errorf("expected unknown, got %s", got)
	}
}
