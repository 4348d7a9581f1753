package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/relaycc/cloudcode-gateway/internal/utils"
	"github.com/relaycc/cloudcode-gateway/pkg/redis"
)

// Store is the persistence interface the manager loads accounts from and
// saves durable account fields to. redis.AccountStore satisfies it
// directly; FileStore is the default when no Redis address is configured.
type Store interface {
	ListAccounts(ctx context.Context) ([]*redis.Account, error)
	SetAccount(ctx context.Context, acc *redis.Account) error
	DeleteAccount(ctx context.Context, email string) error
}

// FileStore persists the account list as a single JSON file, written
// atomically (temp file + rename) so a crash mid-write can't corrupt it.
// Rate-limit and cooldown state is excluded by the json:"-" tags on
// redis.Account, so it never round-trips through disk either.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) ListAccounts(ctx context.Context) ([]*redis.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readLocked()
}

func (f *FileStore) SetAccount(ctx context.Context, acc *redis.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	accounts, err := f.readLocked()
	if err != nil {
		return err
	}

	found := false
	for i, existing := range accounts {
		if existing.Email == acc.Email {
			accounts[i] = acc
			found = true
			break
		}
	}
	if !found {
		accounts = append(accounts, acc)
	}

	return f.writeLocked(accounts)
}

func (f *FileStore) DeleteAccount(ctx context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	accounts, err := f.readLocked()
	if err != nil {
		return err
	}

	filtered := accounts[:0]
	for _, acc := range accounts {
		if acc.Email != email {
			filtered = append(filtered, acc)
		}
	}

	return f.writeLocked(filtered)
}

func (f *FileStore) readLocked() ([]*redis.Account, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make([]*redis.Account, 0), nil
		}
		return nil, fmt.Errorf("read account store %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return make([]*redis.Account, 0), nil
	}

	var accounts []*redis.Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("parse account store %s: %w", f.path, err)
	}
	return accounts, nil
}

func (f *FileStore) writeLocked(accounts []*redis.Account) error {
	if err := utils.EnsureParentDir(f.path); err != nil {
		return fmt.Errorf("create account store directory: %w", err)
	}

	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("encode account store: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".accounts-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp account store file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp account store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp account store file: %w", err)
	}

	return os.Rename(tmpPath, f.path)
}
