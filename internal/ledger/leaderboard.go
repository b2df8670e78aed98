package ledger

import (
	"context"
	"fmt"

	"github.com/flaketrader/ledger-engine/internal/model"
	"github.com/flaketrader/ledger-engine/internal/store"
)

// DefaultLeaderboardSize is used when a caller asks for a non-positive limit.
const DefaultLeaderboardSize = 10

// LeaderboardService derives ranked views over accounts, globally or scoped
// to one guild's membership set. Read-only; results may trail concurrent
// trades by a moment, which is fine for an advisory ranking.
type LeaderboardService struct {
	store    store.Store
	accounts *AccountService
}

// NewLeaderboardService creates a leaderboard service.
func NewLeaderboardService(st store.Store, accounts *AccountService) *LeaderboardService {
	return &LeaderboardService{store: st, accounts: accounts}
}

// Rank returns up to limit accounts ordered by worth (cash + total profit)
// descending, ties broken by account ID ascending so repeated calls on
// unchanged data return a stable order. Empty guildID ranks globally.
func (s *LeaderboardService) Rank(ctx context.Context, guildID string, limit int) ([]model.LeaderboardRow, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardSize
	}
	board, err := s.store.Leaderboard(ctx, guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard guild=%q: %w", guildID, err)
	}
	return board, nil
}

// RegisterMember adds an account to a guild's roster, creating the account
// if it was never seen. Idempotent; the roster only scopes leaderboard
// queries and can be rebuilt from the platform at any time.
func (s *LeaderboardService) RegisterMember(ctx context.Context, accountID, guildID string) error {
	if _, err := s.accounts.GetOrCreate(ctx, accountID); err != nil {
		return err
	}
	return s.store.AddGuildMember(ctx, accountID, guildID)
}

// UnregisterMember drops an account from a guild's roster.
func (s *LeaderboardService) UnregisterMember(ctx context.Context, accountID, guildID string) error {
	return s.store.RemoveGuildMember(ctx, accountID, guildID)
}
