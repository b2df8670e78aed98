package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flaketrader/ledger-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
//
// Transactions are serialized on a single mutex; writes are staged and
// applied only on commit, so a failed transaction leaves no partial effect —
// the same all-or-nothing contract as the PostgreSQL store.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
	// positions keyed by accountID, then symbol.
	positions map[string]map[string]*model.Position
	// members keyed by guildID; value is the account ID set.
	members map[string]map[string]bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]*model.Account),
		positions: make(map[string]map[string]*model.Position),
		members:   make(map[string]map[string]bool),
	}
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		store:      s,
		accounts:   make(map[string]*model.Account),
		positions:  make(map[posRef]*model.Position),
		deletedPos: make(map[posRef]bool),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, accountID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, ErrNoAccount
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, accountID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.Position
	for _, p := range s.positions[accountID] {
		positions = append(positions, *p)
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})
	return positions, nil
}

func (s *MemoryStore) Leaderboard(_ context.Context, guildID string, limit int) ([]model.LeaderboardRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var board []model.LeaderboardRow
	for id, a := range s.accounts {
		if guildID != "" && !s.members[guildID][id] {
			continue
		}
		board = append(board, model.LeaderboardRow{
			AccountID:   id,
			CashBalance: a.CashBalance,
			TotalProfit: a.TotalProfit,
			Worth:       a.Worth(),
		})
	}

	sort.Slice(board, func(i, j int) bool {
		if !board[i].Worth.Equal(board[j].Worth) {
			return board[i].Worth.GreaterThan(board[j].Worth)
		}
		return board[i].AccountID < board[j].AccountID
	})

	if limit > 0 && len(board) > limit {
		board = board[:limit]
	}
	return board, nil
}

func (s *MemoryStore) AddGuildMember(_ context.Context, accountID, guildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.members[guildID] == nil {
		s.members[guildID] = make(map[string]bool)
	}
	s.members[guildID][accountID] = true
	return nil
}

func (s *MemoryStore) RemoveGuildMember(_ context.Context, accountID, guildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.members[guildID], accountID)
	return nil
}

// --- Transaction ---

// memoryTx stages reads and writes against the base maps. The store mutex is
// held for the whole transaction, so staged state is private to it.
type memoryTx struct {
	store      *MemoryStore
	accounts   map[string]*model.Account // staged account writes
	positions  map[posRef]*model.Position
	deletedPos map[posRef]bool
}

type posRef struct {
	accountID string
	symbol    string
}

func (t *memoryTx) EnsureAccount(_ context.Context, accountID string) (*model.Account, error) {
	if a, ok := t.accounts[accountID]; ok {
		copy := *a
		return &copy, nil
	}
	if a, ok := t.store.accounts[accountID]; ok {
		copy := *a
		return &copy, nil
	}
	a := &model.Account{ID: accountID, CreatedAt: time.Now().UTC()}
	t.accounts[accountID] = a
	copy := *a
	return &copy, nil
}

func (t *memoryTx) LockAccount(_ context.Context, accountID string) (*model.Account, error) {
	if a, ok := t.accounts[accountID]; ok {
		copy := *a
		return &copy, nil
	}
	a, ok := t.store.accounts[accountID]
	if !ok {
		return nil, ErrNoAccount
	}
	copy := *a
	return &copy, nil
}

func (t *memoryTx) SaveAccount(_ context.Context, a *model.Account) error {
	copy := *a
	t.accounts[a.ID] = &copy
	return nil
}

func (t *memoryTx) LockPosition(_ context.Context, accountID, symbol string) (*model.Position, error) {
	ref := posRef{accountID, symbol}
	if t.deletedPos[ref] {
		return nil, ErrNoPosition
	}
	if p, ok := t.positions[ref]; ok {
		copy := *p
		return &copy, nil
	}
	p, ok := t.store.positions[accountID][symbol]
	if !ok {
		return nil, ErrNoPosition
	}
	copy := *p
	return &copy, nil
}

func (t *memoryTx) SavePosition(_ context.Context, p *model.Position) error {
	ref := posRef{p.AccountID, p.Symbol}
	delete(t.deletedPos, ref)
	copy := *p
	t.positions[ref] = &copy
	return nil
}

func (t *memoryTx) DeletePosition(_ context.Context, accountID, symbol string) error {
	ref := posRef{accountID, symbol}
	delete(t.positions, ref)
	t.deletedPos[ref] = true
	return nil
}

// commit applies staged writes to the base maps. Called with the store
// mutex held.
func (t *memoryTx) commit() {
	for id, a := range t.accounts {
		t.store.accounts[id] = a
	}
	for ref, p := range t.positions {
		byAccount := t.store.positions[ref.accountID]
		if byAccount == nil {
			byAccount = make(map[string]*model.Position)
			t.store.positions[ref.accountID] = byAccount
		}
		byAccount[ref.symbol] = p
	}
	for ref := range t.deletedPos {
		delete(t.store.positions[ref.accountID], ref.symbol)
	}
}
