package executor

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/relaycc/cloudcode-gateway/internal/utils"
)

// RateLimitReason classifies why an upstream request was rejected, so the
// executor can pick an appropriate backoff/failover strategy per reason.
type RateLimitReason string

const (
	RateLimitReasonRateLimitExceeded      RateLimitReason = "RATE_LIMIT_EXCEEDED"
	RateLimitReasonQuotaExhausted         RateLimitReason = "QUOTA_EXHAUSTED"
	RateLimitReasonModelCapacityExhausted RateLimitReason = "MODEL_CAPACITY_EXHAUSTED"
	RateLimitReasonServerError            RateLimitReason = "SERVER_ERROR"
	RateLimitReasonUnknown                RateLimitReason = "UNKNOWN"
)

var (
	quotaDelayRegex     = regexp.MustCompile(`(?i)quotaResetDelay[:\s"]+(\d+(?:\.\d+)?)(ms|s)`)
	quotaTimestampRegex = regexp.MustCompile(`(?i)quotaResetTimeStamp[:\s"]+(\d{4}-\d{2}-\d{2}T[\d:.]+Z?)`)
	retrySecondsRegex   = regexp.MustCompile(`(?i)(?:retry[-_]?after[-_]?ms|retryDelay)[:\s"]+([\d.]+)(?:s\b|s")`)
	// Go's regexp package has no negative lookahead, so this is looser than
	// the seconds-suffix pattern above and must be tried after it.
	retryMsRegex       = regexp.MustCompile(`(?i)(?:retry[-_]?after[-_]?ms|retryDelay)[:\s"]+(\d+)(?:\s*ms)?(?:\s|$|[,;}\]])`)
	retryAfterSecRegex = regexp.MustCompile(`(?i)retry\s+(?:after\s+)?(\d+)\s*(?:sec|s\b)`)
	durationRegex      = regexp.MustCompile(`(?i)(\d+)h(\d+)m(\d+)s|(\d+)m(\d+)s|(\d+)s`)
	isoTimestampRegex  = regexp.MustCompile(`(?i)reset[:\s"]+(\d{4}-\d{2}-\d{2}T[\d:.]+Z?)`)
)

// ParseResetTime determines how long to wait before retrying, in
// milliseconds, from the response headers or error body. Returns -1 if no
// reset time could be determined.
func ParseResetTime(headers http.Header, errorText string) int64 {
	resetMs := int64(-1)
	for _, extract := range []func(http.Header) int64{
		resetFromRetryAfterHeader,
		resetFromRateLimitResetHeader,
		resetFromRateLimitResetAfterHeader,
	} {
		if ms := extract(headers); ms >= 0 {
			resetMs = ms
			break
		}
	}

	if resetMs < 0 && errorText != "" {
		resetMs = parseResetTimeFromBody(errorText)
	}

	return clampResetTime(resetMs)
}

// clampResetTime guards against reset times too small to be useful: a
// negative value (no reset time known) is returned unchanged, zero becomes a
// 500ms default, and anything under 500ms gets a 200ms buffer to absorb
// network latency.
func clampResetTime(resetMs int64) int64 {
	if resetMs < 0 {
		return resetMs
	}
	if resetMs <= 0 {
		utils.Debug("[CloudCode] Reset time invalid (%dms), using 500ms default", resetMs)
		return 500
	}
	if resetMs < 500 {
		utils.Debug("[CloudCode] Short reset time (%dms), adding 200ms buffer", resetMs)
		return resetMs + 200
	}
	return resetMs
}

func resetFromRetryAfterHeader(headers http.Header) int64 {
	retryAfter := headers.Get("retry-after")
	if retryAfter == "" {
		return -1
	}
	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		utils.Debug("[CloudCode] Retry-After header: %ds", seconds)
		return int64(seconds) * 1000
	}
	if t, err := time.Parse(time.RFC1123, retryAfter); err == nil {
		if ms := t.Sub(time.Now()).Milliseconds(); ms > 0 {
			utils.Debug("[CloudCode] Retry-After date: %s", retryAfter)
			return ms
		}
	}
	return -1
}

func resetFromRateLimitResetHeader(headers http.Header) int64 {
	raw := headers.Get("x-ratelimit-reset")
	if raw == "" {
		return -1
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return -1
	}
	ms := ts*1000 - time.Now().UnixMilli()
	if ms <= 0 {
		return -1
	}
	utils.Debug("[CloudCode] x-ratelimit-reset: %s", time.UnixMilli(ts*1000).Format(time.RFC3339))
	return ms
}

func resetFromRateLimitResetAfterHeader(headers http.Header) int64 {
	raw := headers.Get("x-ratelimit-reset-after")
	if raw == "" {
		return -1
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return -1
	}
	utils.Debug("[CloudCode] x-ratelimit-reset-after: %ds", seconds)
	return int64(seconds) * 1000
}

// bodyResetExtractor tries to pull a reset delay out of an error body,
// returning -1 when its pattern doesn't match.
type bodyResetExtractor func(msg string) int64

// parseResetTimeFromBody tries each known error-body shape in order of
// specificity, returning the first match.
func parseResetTimeFromBody(msg string) int64 {
	for _, extract := range []bodyResetExtractor{
		resetFromQuotaDelay,
		resetFromQuotaTimestamp,
		resetFromRetrySeconds,
		resetFromRetryMs,
		resetFromRetryAfterSeconds,
		resetFromDuration,
		resetFromISOTimestamp,
	} {
		if ms := extract(msg); ms >= 0 {
			return ms
		}
	}
	return -1
}

// resetFromQuotaDelay matches a "quotaResetDelay" field (e.g. "754.43ms" or "1.5s").
func resetFromQuotaDelay(msg string) int64 {
	match := quotaDelayRegex.FindStringSubmatch(msg)
	if match == nil {
		return -1
	}
	value, _ := strconv.ParseFloat(match[1], 64)
	var resetMs int64
	if strings.ToLower(match[2]) == "s" {
		resetMs = int64(value * 1000)
	} else {
		resetMs = int64(value)
	}
	utils.Debug("[CloudCode] Parsed quotaResetDelay from body: %dms", resetMs)
	return resetMs
}

// resetFromQuotaTimestamp matches an ISO "quotaResetTimeStamp" field.
func resetFromQuotaTimestamp(msg string) int64 {
	match := quotaTimestampRegex.FindStringSubmatch(msg)
	if match == nil {
		return -1
	}
	t, err := time.Parse(time.RFC3339, match[1])
	if err != nil {
		return -1
	}
	resetMs := t.Sub(time.Now()).Milliseconds()
	utils.Debug("[CloudCode] Parsed quotaResetTimeStamp: %s (Delta: %dms)", match[1], resetMs)
	return resetMs
}

// resetFromRetrySeconds matches a precise "retry-after-ms"/"retryDelay" value
// expressed in seconds (must be tried before resetFromRetryMs, which is looser).
func resetFromRetrySeconds(msg string) int64 {
	match := retrySecondsRegex.FindStringSubmatch(msg)
	if match == nil {
		return -1
	}
	value, _ := strconv.ParseFloat(match[1], 64)
	resetMs := int64(value * 1000)
	utils.Debug("[CloudCode] Parsed retry seconds from body (precise): %dms", resetMs)
	return resetMs
}

// resetFromRetryMs matches a "retry-after-ms"/"retryDelay" value in milliseconds.
func resetFromRetryMs(msg string) int64 {
	match := retryMsRegex.FindStringSubmatch(msg)
	if match == nil {
		return -1
	}
	resetMs, _ := strconv.ParseInt(match[1], 10, 64)
	utils.Debug("[CloudCode] Parsed retry-after-ms from body: %dms", resetMs)
	return resetMs
}

// resetFromRetryAfterSeconds matches free text like "retry after 60 seconds".
func resetFromRetryAfterSeconds(msg string) int64 {
	match := retryAfterSecRegex.FindStringSubmatch(msg)
	if match == nil {
		return -1
	}
	seconds, _ := strconv.ParseInt(match[1], 10, 64)
	resetMs := seconds * 1000
	utils.Debug("[CloudCode] Parsed retry seconds from body: %ds", seconds)
	return resetMs
}

// resetFromDuration matches a Go-style duration like "1h23m45s", "23m45s", or "45s".
func resetFromDuration(msg string) int64 {
	match := durationRegex.FindStringSubmatch(msg)
	if match == nil {
		return -1
	}

	var resetMs int64
	switch {
	case match[1] != "":
		hours, _ := strconv.Atoi(match[1])
		minutes, _ := strconv.Atoi(match[2])
		seconds, _ := strconv.Atoi(match[3])
		resetMs = int64((hours*3600 + minutes*60 + seconds) * 1000)
	case match[4] != "":
		minutes, _ := strconv.Atoi(match[4])
		seconds, _ := strconv.Atoi(match[5])
		resetMs = int64((minutes*60 + seconds) * 1000)
	case match[6] != "":
		seconds, _ := strconv.Atoi(match[6])
		resetMs = int64(seconds * 1000)
	}
	if resetMs > 0 {
		utils.Debug("[CloudCode] Parsed duration from body: %s", utils.FormatDuration(resetMs))
	}
	return resetMs
}

// resetFromISOTimestamp matches a bare "reset: <ISO timestamp>" field.
func resetFromISOTimestamp(msg string) int64 {
	match := isoTimestampRegex.FindStringSubmatch(msg)
	if match == nil {
		return -1
	}
	t, err := time.Parse(time.RFC3339, match[1])
	if err != nil {
		return -1
	}
	resetMs := t.Sub(time.Now()).Milliseconds()
	if resetMs <= 0 {
		return -1
	}
	utils.Debug("[CloudCode] Parsed ISO reset time: %s", match[1])
	return resetMs
}

// ParseRateLimitReason classifies a failed upstream response by status code
// and error body so the executor knows whether to fail over immediately
// (capacity/server issues) or sit out a cooldown (rate limit/quota).
func ParseRateLimitReason(errorText string, status int) RateLimitReason {
	switch status {
	case 529, 503:
		return RateLimitReasonModelCapacityExhausted
	case 500:
		return RateLimitReasonServerError
	}

	lower := strings.ToLower(errorText)

	switch {
	case containsAny(lower, "quota_exhausted", "quotaresetdelay", "quotaresettimestamp",
		"resource_exhausted", "daily limit", "quota exceeded", "quota exhausted"):
		return RateLimitReasonQuotaExhausted

	case containsAny(lower, "model_capacity_exhausted", "capacity_exhausted",
		"model is currently overloaded", "service temporarily unavailable"):
		return RateLimitReasonModelCapacityExhausted

	case containsAny(lower, "rate_limit_exceeded", "rate limit", "too many requests", "throttl"):
		return RateLimitReasonRateLimitExceeded

	case containsAny(lower, "internal server error", "server error", "503", "502", "504"):
		return RateLimitReasonServerError
	}

	return RateLimitReasonUnknown
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
