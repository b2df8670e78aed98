// Package store defines the persistence interface for the ledger engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/flaketrader/ledger-engine/internal/model"
)

var (
	// ErrNoAccount is returned by reads for an account that was never created.
	ErrNoAccount = errors.New("store: account not found")

	// ErrNoPosition is returned when an (account, symbol) position row is absent.
	ErrNoPosition = errors.New("store: position not found")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. All mutations to Account and
// Position rows go through WithTx so they commit or roll back as one unit.
type Store interface {
	// WithTx runs fn inside a single transaction. If fn returns an error the
	// transaction is rolled back and no partial effect is observable.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// --- Read-only queries (outside any transaction) ---

	// GetAccount retrieves an account by ID.
	GetAccount(ctx context.Context, accountID string) (*model.Account, error)

	// ListPositions returns all open positions for an account, ordered by symbol.
	ListPositions(ctx context.Context, accountID string) ([]model.Position, error)

	// Leaderboard returns up to limit accounts ordered by
	// (cash_balance + total_profit) descending, ties broken by account ID
	// ascending. An empty guildID ranks all accounts; otherwise only members
	// of that guild are ranked.
	Leaderboard(ctx context.Context, guildID string, limit int) ([]model.LeaderboardRow, error)

	// --- Guild membership roster (leaderboard scoping only) ---

	// AddGuildMember records an (account, guild) pair. Idempotent.
	AddGuildMember(ctx context.Context, accountID, guildID string) error

	// RemoveGuildMember deletes an (account, guild) pair. Removing an absent
	// pair is not an error.
	RemoveGuildMember(ctx context.Context, accountID, guildID string) error
}

// Tx exposes the row operations available inside a transaction. Locking
// reads hold the row exclusively until the transaction ends, so a
// read-check-write sequence on one account or position cannot interleave
// with a concurrent writer.
type Tx interface {
	// EnsureAccount returns the account row, creating it with a zero balance
	// if absent. Safe under concurrent first access (insert-or-fetch).
	// The returned row is locked for the rest of the transaction.
	EnsureAccount(ctx context.Context, accountID string) (*model.Account, error)

	// LockAccount retrieves and locks an existing account.
	// Returns ErrNoAccount if it was never created.
	LockAccount(ctx context.Context, accountID string) (*model.Account, error)

	// SaveAccount writes back balance, P&L counters and the daily-claim mark.
	SaveAccount(ctx context.Context, a *model.Account) error

	// LockPosition retrieves and locks the (account, symbol) position row.
	// Returns ErrNoPosition if absent.
	LockPosition(ctx context.Context, accountID, symbol string) (*model.Position, error)

	// SavePosition inserts or updates a position row.
	SavePosition(ctx context.Context, p *model.Position) error

	// DeletePosition removes a fully closed position row.
	DeletePosition(ctx context.Context, accountID, symbol string) error
}
