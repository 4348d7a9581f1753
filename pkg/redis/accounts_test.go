package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(Config{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("failed to connect to miniredis: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestAccountStore_GetAccountMissingReturnsNilNil(t *testing.T) {
	store := NewAccountStore(newTestClient(t))

	account, err := store.GetAccount(context.Background(), "missing@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if account != nil {
		t.Errorf("expected nil account for a missing email, got %+v", account)
	}
}

func TestAccountStore_SetAccountThenGetRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(newTestClient(t))
	threshold := 0.25
	account := &Account{
		Email:          "a@example.com",
		Source:         "oauth",
		Enabled:        true,
		RefreshToken:   "refresh-token",
		ProjectID:      "proj-1",
		QuotaThreshold: &threshold,
		Subscription:   &SubscriptionInfo{Tier: "pro", DetectedAt: 123},
	}

	if err := store.SetAccount(ctx, account); err != nil {
		t.Fatalf("unexpected error setting account: %v", err)
	}

	got, err := store.GetAccount(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("unexpected error getting account: %v", err)
	}
	if got == nil {
		t.Fatal("expected a non-nil account")
	}
	if got.Source != "oauth" || !got.Enabled || got.RefreshToken != "refresh-token" {
		t.Errorf("unexpected round-tripped account: %+v", got)
	}
	if got.QuotaThreshold == nil || *got.QuotaThreshold != 0.25 {
		t.Errorf("expected quota threshold 0.25, got %v", got.QuotaThreshold)
	}
	if got.Subscription == nil || got.Subscription.Tier != "pro" {
		t.Errorf("expected subscription tier pro, got %+v", got.Subscription)
	}
}

func TestAccountStore_SetAccountIndexesEmailForListing(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(newTestClient(t))

	_ = store.SetAccount(ctx, &Account{Email: "a@example.com", Source: "manual"})
	_ = store.SetAccount(ctx, &Account{Email: "b@example.com", Source: "manual"})

	accounts, err := store.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
}

func TestAccountStore_DeleteAccountRemovesFromIndexAndCaches(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(newTestClient(t))

	_ = store.SetAccount(ctx, &Account{Email: "a@example.com", Source: "manual"})
	_ = store.SetCachedToken(ctx, "a@example.com", "tok", time.Minute)
	_ = store.SetCachedProject(ctx, "a@example.com", "proj-1", time.Minute)

	if err := store.DeleteAccount(ctx, "a@example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := store.GetAccount(ctx, "a@example.com")
	if got != nil {
		t.Errorf("expected the account to be gone, got %+v", got)
	}
	token, _ := store.GetCachedToken(ctx, "a@example.com")
	if token != nil {
		t.Errorf("expected the token cache to be cleared, got %+v", token)
	}
	project, _ := store.GetCachedProject(ctx, "a@example.com")
	if project != "" {
		t.Errorf("expected the project cache to be cleared, got %q", project)
	}
	accounts, _ := store.ListAccounts(ctx)
	if len(accounts) != 0 {
		t.Errorf("expected the index to be empty, got %d accounts", len(accounts))
	}
}

func TestAccountStore_QuotaRoundTripsWithTTL(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(newTestClient(t))

	info := &QuotaInfo{
		Models: map[string]*ModelQuotaInfo{
			"claude-opus-4-6": {RemainingFraction: 0.5},
		},
		LastChecked: time.Now().UnixMilli(),
	}

	if err := store.SetQuotas(ctx, "a@example.com", info); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.GetQuotas(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.Models["claude-opus-4-6"] == nil {
		t.Fatalf("expected the quota snapshot to round-trip, got %+v", got)
	}
	if got.Models["claude-opus-4-6"].RemainingFraction != 0.5 {
		t.Errorf("expected remaining fraction 0.5, got %v", got.Models["claude-opus-4-6"].RemainingFraction)
	}
}

func TestAccountStore_ClearQuotasRemovesSnapshot(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(newTestClient(t))
	_ = store.SetQuotas(ctx, "a@example.com", &QuotaInfo{Models: map[string]*ModelQuotaInfo{}})

	if err := store.ClearQuotas(ctx, "a@example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.GetQuotas(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected no quota snapshot after clearing, got %+v", got)
	}
}

func TestAccountStore_CachedTokenRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(newTestClient(t))

	if err := store.SetCachedToken(ctx, "a@example.com", "access-tok", time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	token, err := store.GetCachedToken(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == nil || token.AccessToken != "access-tok" {
		t.Fatalf("expected the cached token to round-trip, got %+v", token)
	}
}

func TestAccountStore_CachedProjectRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(newTestClient(t))

	if err := store.SetCachedProject(ctx, "a@example.com", "proj-42", time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	project, err := store.GetCachedProject(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if project != "proj-42" {
		t.Errorf("expected proj-42, got %q", project)
	}
}

func TestAccountStore_IsAvailable(t *testing.T) {
	var nilStore *AccountStore
	if nilStore.IsAvailable() {
		t.Error("expected a nil store to be unavailable")
	}

	store := NewAccountStore(newTestClient(t))
	if !store.IsAvailable() {
		t.Error("expected a store with a live client to be available")
	}
}
