package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/relaycc/cloudcode-gateway/internal/config"
	"github.com/relaycc/cloudcode-gateway/internal/executor"
	"github.com/relaycc/cloudcode-gateway/pkg/redis"
)

func TestAccountsHandler_AccountLimits_JSONReportsInvalidAccount(t *testing.T) {
	manager := newTestManager(t, []*redis.Account{
		{Email: "bad@example.com", Source: "manual", Enabled: true, IsInvalid: true, InvalidReason: "revoked"},
	})
	handler := NewAccountsHandler(manager, config.DefaultConfig())

	engine := gin.New()
	engine.GET("/account-limits", handler.AccountLimits)

	req := httptest.NewRequest(http.MethodGet, "/account-limits", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"status":"invalid"`) {
		t.Errorf("expected the invalid account to be reported, got %s", body)
	}
	if !strings.Contains(body, `"totalAccounts":1`) {
		t.Errorf("expected totalAccounts 1, got %s", body)
	}
}

func TestAccountsHandler_AccountLimits_TableFormatForEmptyPool(t *testing.T) {
	manager := newTestManager(t, nil)
	handler := NewAccountsHandler(manager, config.DefaultConfig())

	engine := gin.New()
	engine.GET("/account-limits", handler.AccountLimits)

	req := httptest.NewRequest(http.MethodGet, "/account-limits?format=table", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("expected a text/plain content type for table output, got %s", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "Account Limits") {
		t.Errorf("expected the table header, got %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "0 total, 0 available, 0 rate-limited, 0 invalid") {
		t.Errorf("expected a zeroed summary line, got %s", rec.Body.String())
	}
}

func TestParseResetTimeMs_ValidFutureTimestamp(t *testing.T) {
	future := time.Now().Add(time.Hour).Format(time.RFC3339)
	ms := parseResetTimeMs(future)
	if ms <= 0 {
		t.Errorf("expected a positive duration for a future timestamp, got %d", ms)
	}
}

func TestParseResetTimeMs_InvalidStringReturnsZero(t *testing.T) {
	if got := parseResetTimeMs("not-a-timestamp"); got != 0 {
		t.Errorf("expected 0 for an unparseable timestamp, got %d", got)
	}
}

func TestToModelQuotaInfos_ConvertsQuotaMap(t *testing.T) {
	fraction := 0.5
	resetTime := "2025-01-01T00:00:00Z"
	quotas := map[string]*executor.ModelQuota{
		"claude-opus-4-6": {RemainingFraction: &fraction, ResetTime: &resetTime},
	}

	out := toModelQuotaInfos(quotas)
	info := out["claude-opus-4-6"]
	if info == nil {
		t.Fatal("expected a converted entry for claude-opus-4-6")
	}
	if info.RemainingFraction != 0.5 || info.ResetTime != resetTime {
		t.Errorf("unexpected conversion: %+v", info)
	}
}
