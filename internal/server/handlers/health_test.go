package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/relaycc/cloudcode-gateway/internal/config"
	"github.com/relaycc/cloudcode-gateway/internal/pool"
	"github.com/relaycc/cloudcode-gateway/pkg/redis"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestManager(t *testing.T, accounts []*redis.Account) *pool.Manager {
	t.Helper()
	store := pool.NewFileStore(filepath.Join(t.TempDir(), "accounts.json"))
	for _, acc := range accounts {
		if err := store.SetAccount(context.Background(), acc); err != nil {
			t.Fatalf("failed to seed account: %v", err)
		}
	}

	manager := pool.NewManager(store, config.DefaultConfig(), pool.NewCredentials(nil))
	if err := manager.Initialize(context.Background(), ""); err != nil {
		t.Fatalf("failed to initialize manager: %v", err)
	}
	return manager
}

func TestHealthHandler_ReportsInvalidAccountWithoutNetworkCalls(t *testing.T) {
	manager := newTestManager(t, []*redis.Account{
		{Email: "bad@example.com", Source: "manual", Enabled: true, IsInvalid: true, InvalidReason: "revoked"},
	})
	handler := NewHealthHandler(manager)

	engine := gin.New()
	engine.GET("/health", handler.Health)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"status":"invalid"`) {
		t.Errorf("expected the invalid account to be reported as invalid, got %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"error":"revoked"`) {
		t.Errorf("expected the invalid reason to be included, got %s", rec.Body.String())
	}
}

func TestHealthHandler_ReportsZeroCountsForEmptyPool(t *testing.T) {
	manager := newTestManager(t, nil)
	handler := NewHealthHandler(manager)

	engine := gin.New()
	engine.GET("/health", handler.Health)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"total":0`) {
		t.Errorf("expected total 0 for an empty pool, got %s", rec.Body.String())
	}
}
