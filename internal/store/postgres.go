package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/flaketrader/ledger-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Row-level locking (SELECT ... FOR UPDATE) serializes writers on the same
// account or position.
type PostgresStore struct {
	pool      *pgxpool.Pool
	txTimeout time.Duration
}

// NewPostgresStore creates a new PostgreSQL-backed store. txTimeout bounds
// every transaction; zero disables the bound.
func NewPostgresStore(pool *pgxpool.Pool, txTimeout time.Duration) *PostgresStore {
	return &PostgresStore{pool: pool, txTimeout: txTimeout}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if s.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	pgTx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer pgTx.Rollback(ctx)

	if err := fn(&postgresTx{tx: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx,
		`SELECT account_id, cash_balance::TEXT, total_profit::TEXT, total_loss::TEXT,
		        last_daily_claim, created_at
		 FROM accounts WHERE account_id = $1`, accountID))
}

func (s *PostgresStore) ListPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, symbol, quantity::TEXT, avg_cost::TEXT, total_invested::TEXT,
		        asset_kind, updated_at
		 FROM positions WHERE account_id = $1 ORDER BY symbol`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var qty, avgCost, invested string
		if err := rows.Scan(&p.AccountID, &p.Symbol, &qty, &avgCost, &invested,
			&p.AssetKind, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Quantity, _ = decimal.NewFromString(qty)
		p.AvgCost, _ = decimal.NewFromString(avgCost)
		p.TotalInvested, _ = decimal.NewFromString(invested)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) Leaderboard(ctx context.Context, guildID string, limit int) ([]model.LeaderboardRow, error) {
	var rows pgx.Rows
	var err error

	if guildID == "" {
		rows, err = s.pool.Query(ctx,
			`SELECT account_id, cash_balance::TEXT, total_profit::TEXT
			 FROM accounts
			 ORDER BY (cash_balance + total_profit) DESC, account_id ASC
			 LIMIT $1`, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT a.account_id, a.cash_balance::TEXT, a.total_profit::TEXT
			 FROM accounts a
			 JOIN guild_members gm ON gm.account_id = a.account_id
			 WHERE gm.guild_id = $1
			 ORDER BY (a.cash_balance + a.total_profit) DESC, a.account_id ASC
			 LIMIT $2`, guildID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var board []model.LeaderboardRow
	for rows.Next() {
		var r model.LeaderboardRow
		var cash, profit string
		if err := rows.Scan(&r.AccountID, &cash, &profit); err != nil {
			return nil, err
		}
		r.CashBalance, _ = decimal.NewFromString(cash)
		r.TotalProfit, _ = decimal.NewFromString(profit)
		r.Worth = r.CashBalance.Add(r.TotalProfit)
		board = append(board, r)
	}
	return board, rows.Err()
}

func (s *PostgresStore) AddGuildMember(ctx context.Context, accountID, guildID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO guild_members (guild_id, account_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`, guildID, accountID)
	return err
}

func (s *PostgresStore) RemoveGuildMember(ctx context.Context, accountID, guildID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM guild_members WHERE guild_id = $1 AND account_id = $2`,
		guildID, accountID)
	return err
}

// --- Transaction ---

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) EnsureAccount(ctx context.Context, accountID string) (*model.Account, error) {
	// Insert-or-fetch: the no-op insert makes the subsequent locking read
	// succeed even when two callers race on first access.
	_, err := t.tx.Exec(ctx,
		`INSERT INTO accounts (account_id) VALUES ($1) ON CONFLICT DO NOTHING`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("ensure account %s: %w", accountID, err)
	}
	return t.LockAccount(ctx, accountID)
}

func (t *postgresTx) LockAccount(ctx context.Context, accountID string) (*model.Account, error) {
	return scanAccount(t.tx.QueryRow(ctx,
		`SELECT account_id, cash_balance::TEXT, total_profit::TEXT, total_loss::TEXT,
		        last_daily_claim, created_at
		 FROM accounts WHERE account_id = $1 FOR UPDATE`, accountID))
}

func (t *postgresTx) SaveAccount(ctx context.Context, a *model.Account) error {
	var lastClaim *time.Time
	if !a.LastDailyClaim.IsZero() {
		lastClaim = &a.LastDailyClaim
	}
	_, err := t.tx.Exec(ctx,
		`UPDATE accounts
		 SET cash_balance = $2::NUMERIC, total_profit = $3::NUMERIC,
		     total_loss = $4::NUMERIC, last_daily_claim = $5
		 WHERE account_id = $1`,
		a.ID, a.CashBalance.String(), a.TotalProfit.String(),
		a.TotalLoss.String(), lastClaim)
	if err != nil {
		return fmt.Errorf("save account %s: %w", a.ID, err)
	}
	return nil
}

func (t *postgresTx) LockPosition(ctx context.Context, accountID, symbol string) (*model.Position, error) {
	var p model.Position
	var qty, avgCost, invested string

	err := t.tx.QueryRow(ctx,
		`SELECT account_id, symbol, quantity::TEXT, avg_cost::TEXT, total_invested::TEXT,
		        asset_kind, updated_at
		 FROM positions WHERE account_id = $1 AND symbol = $2 FOR UPDATE`,
		accountID, symbol).
		Scan(&p.AccountID, &p.Symbol, &qty, &avgCost, &invested, &p.AssetKind, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoPosition
	}
	if err != nil {
		return nil, fmt.Errorf("lock position %s/%s: %w", accountID, symbol, err)
	}

	p.Quantity, _ = decimal.NewFromString(qty)
	p.AvgCost, _ = decimal.NewFromString(avgCost)
	p.TotalInvested, _ = decimal.NewFromString(invested)
	return &p, nil
}

func (t *postgresTx) SavePosition(ctx context.Context, p *model.Position) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO positions (account_id, symbol, quantity, avg_cost, total_invested, asset_kind, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6, $7)
		 ON CONFLICT (account_id, symbol) DO UPDATE
		 SET quantity = EXCLUDED.quantity, avg_cost = EXCLUDED.avg_cost,
		     total_invested = EXCLUDED.total_invested, updated_at = EXCLUDED.updated_at`,
		p.AccountID, p.Symbol, p.Quantity.String(), p.AvgCost.String(),
		p.TotalInvested.String(), p.AssetKind, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save position %s/%s: %w", p.AccountID, p.Symbol, err)
	}
	return nil
}

func (t *postgresTx) DeletePosition(ctx context.Context, accountID, symbol string) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM positions WHERE account_id = $1 AND symbol = $2`,
		accountID, symbol)
	return err
}

// --- Scan helpers ---

type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row pgxRow) (*model.Account, error) {
	var a model.Account
	var cash, profit, loss string
	var lastClaim *time.Time

	err := row.Scan(&a.ID, &cash, &profit, &loss, &lastClaim, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoAccount
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}

	a.CashBalance, _ = decimal.NewFromString(cash)
	a.TotalProfit, _ = decimal.NewFromString(profit)
	a.TotalLoss, _ = decimal.NewFromString(loss)
	if lastClaim != nil {
		a.LastDailyClaim = *lastClaim
	}
	return &a, nil
}
