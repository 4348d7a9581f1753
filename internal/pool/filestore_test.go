package pool

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/relaycc/cloudcode-gateway/pkg/redis"
)

func TestFileStore_ListAccountsOnMissingFileReturnsEmpty(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "accounts.json"))

	accounts, err := store.ListAccounts(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(accounts) != 0 {
		t.Errorf("expected empty slice, got %d accounts", len(accounts))
	}
}

func TestFileStore_SetAccountThenListRoundTrips(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "accounts.json"))
	ctx := context.Background()

	acc := &redis.Account{Email: "a@example.com", Source: "oauth", Enabled: true}
	if err := store.SetAccount(ctx, acc); err != nil {
		t.Fatalf("SetAccount failed: %v", err)
	}

	accounts, err := store.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("ListAccounts failed: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Email != "a@example.com" {
		t.Fatalf("expected to find a@example.com, got %v", accounts)
	}
}

func TestFileStore_SetAccountUpdatesExisting(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "accounts.json"))
	ctx := context.Background()

	store.SetAccount(ctx, &redis.Account{Email: "a@example.com", Enabled: true})
	store.SetAccount(ctx, &redis.Account{Email: "a@example.com", Enabled: false})

	accounts, _ := store.ListAccounts(ctx)
	if len(accounts) != 1 {
		t.Fatalf("expected a single account after update, got %d", len(accounts))
	}
	if accounts[0].Enabled {
		t.Error("expected the update to overwrite Enabled=false")
	}
}

func TestFileStore_DeleteAccountRemovesOnlyMatchingEmail(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "accounts.json"))
	ctx := context.Background()

	store.SetAccount(ctx, &redis.Account{Email: "a@example.com"})
	store.SetAccount(ctx, &redis.Account{Email: "b@example.com"})

	if err := store.DeleteAccount(ctx, "a@example.com"); err != nil {
		t.Fatalf("DeleteAccount failed: %v", err)
	}

	accounts, _ := store.ListAccounts(ctx)
	if len(accounts) != 1 || accounts[0].Email != "b@example.com" {
		t.Fatalf("expected only b@example.com to remain, got %v", accounts)
	}
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	ctx := context.Background()

	first := NewFileStore(path)
	first.SetAccount(ctx, &redis.Account{Email: "a@example.com"})

	second := NewFileStore(path)
	accounts, err := second.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Email != "a@example.com" {
		t.Fatalf("expected persisted account to be visible to a new FileStore, got %v", accounts)
	}
}
