package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flaketrader/ledger-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Reads check Redis first then fall back to the primary; committed
// transactions invalidate the cache entries of every account they touched.
//
// Leaderboard results are cached on TTL alone: the ranking is advisory and
// may lag a few seconds behind concurrent trades.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// WithTx delegates to the primary store, recording which accounts the
// transaction touches. On commit their cache entries are dropped so the
// next read re-populates from the primary.
func (s *CachedStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	rec := &recordingTx{touched: make(map[string]bool)}

	err := s.primary.WithTx(ctx, func(tx Tx) error {
		rec.inner = tx
		return fn(rec)
	})
	if err != nil {
		return err
	}

	for accountID := range rec.touched {
		s.rdb.Del(ctx, accountKey(accountID), positionsKey(accountID))
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(accountID)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, accountKey(accountID), data, s.ttl)
	}
	return a, nil
}

func (s *CachedStore) ListPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(accountID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.ListPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(accountID), data, s.ttl)
	}
	return positions, nil
}

func (s *CachedStore) Leaderboard(ctx context.Context, guildID string, limit int) ([]model.LeaderboardRow, error) {
	key := leaderboardKey(guildID, limit)

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var board []model.LeaderboardRow
		if json.Unmarshal(data, &board) == nil {
			return board, nil
		}
	}

	board, err := s.primary.Leaderboard(ctx, guildID, limit)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(board); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return board, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) AddGuildMember(ctx context.Context, accountID, guildID string) error {
	return s.primary.AddGuildMember(ctx, accountID, guildID)
}

func (s *CachedStore) RemoveGuildMember(ctx context.Context, accountID, guildID string) error {
	return s.primary.RemoveGuildMember(ctx, accountID, guildID)
}

// --- Touch tracking ---

// recordingTx forwards row operations to the primary transaction while
// collecting the account IDs it touches.
type recordingTx struct {
	inner   Tx
	touched map[string]bool
}

func (t *recordingTx) EnsureAccount(ctx context.Context, accountID string) (*model.Account, error) {
	t.touched[accountID] = true
	return t.inner.EnsureAccount(ctx, accountID)
}

func (t *recordingTx) LockAccount(ctx context.Context, accountID string) (*model.Account, error) {
	t.touched[accountID] = true
	return t.inner.LockAccount(ctx, accountID)
}

func (t *recordingTx) SaveAccount(ctx context.Context, a *model.Account) error {
	t.touched[a.ID] = true
	return t.inner.SaveAccount(ctx, a)
}

func (t *recordingTx) LockPosition(ctx context.Context, accountID, symbol string) (*model.Position, error) {
	t.touched[accountID] = true
	return t.inner.LockPosition(ctx, accountID, symbol)
}

func (t *recordingTx) SavePosition(ctx context.Context, p *model.Position) error {
	t.touched[p.AccountID] = true
	return t.inner.SavePosition(ctx, p)
}

func (t *recordingTx) DeletePosition(ctx context.Context, accountID, symbol string) error {
	t.touched[accountID] = true
	return t.inner.DeletePosition(ctx, accountID, symbol)
}

// --- Cache keys ---

func accountKey(id string) string   { return fmt.Sprintf("account:%s", id) }
func positionsKey(id string) string { return fmt.Sprintf("positions:%s", id) }

func leaderboardKey(guildID string, limit int) string {
	if guildID == "" {
		return fmt.Sprintf("leaderboard:global:%d", limit)
	}
	return fmt.Sprintf("leaderboard:guild:%s:%d", guildID, limit)
}
