package pool

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/relaycc/cloudcode-gateway/pkg/redis"

	_ "modernc.org/sqlite" // pure-Go driver, no cgo toolchain required at build time
)

// SQLiteStore persists the account list in a local SQLite database. It's an
// alternative to FileStore for operators who want queryable, transactional
// local storage without standing up Redis — modernc.org/sqlite needs no cgo,
// so this works the same way on every platform the gateway is built for.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and initializes, if needed) a SQLite-backed store at
// path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store %s: %w", path, err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			email TEXT PRIMARY KEY,
			data  TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize sqlite store schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]*redis.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]*redis.Account, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan account row: %w", err)
		}
		var acc redis.Account
		if err := json.Unmarshal([]byte(data), &acc); err != nil {
			return nil, fmt.Errorf("decode account row: %w", err)
		}
		accounts = append(accounts, &acc)
	}
	return accounts, rows.Err()
}

func (s *SQLiteStore) SetAccount(ctx context.Context, acc *redis.Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("encode account %s: %w", acc.Email, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (email, data) VALUES (?, ?)
		ON CONFLICT(email) DO UPDATE SET data = excluded.data
	`, acc.Email, string(data))
	if err != nil {
		return fmt.Errorf("save account %s: %w", acc.Email, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteAccount(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE email = ?`, email)
	if err != nil {
		return fmt.Errorf("delete account %s: %w", email, err)
	}
	return nil
}
