package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flaketrader/ledger-engine/internal/metrics"
	"github.com/flaketrader/ledger-engine/internal/model"
	"github.com/flaketrader/ledger-engine/internal/store"
)

// Engine orchestrates buy and sell orders as atomic, validated transitions
// over account and position rows. Validation happens before any transaction
// opens; every mutation inside a trade commits as one unit.
//
// Lock ordering invariant: the account row is always locked before the
// position row, on both the buy and sell path.
type Engine struct {
	store     store.Store
	accounts  *AccountService
	positions *PositionService
}

// NewEngine creates a trade engine over the shared store and services.
func NewEngine(st store.Store, accounts *AccountService, positions *PositionService) *Engine {
	return &Engine{
		store:     st,
		accounts:  accounts,
		positions: positions,
	}
}

// BuyResult reports a committed buy.
type BuyResult struct {
	TradeID    string          `json:"trade_id"`
	AccountID  string          `json:"account_id"`
	Symbol     string          `json:"symbol"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Cost       decimal.Decimal `json:"cost"`
	NewBalance decimal.Decimal `json:"new_balance"`
	Position   model.Position  `json:"position"`
}

// SellResult reports a committed sell.
type SellResult struct {
	TradeID    string          `json:"trade_id"`
	AccountID  string          `json:"account_id"`
	Symbol     string          `json:"symbol"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Revenue    decimal.Decimal `json:"revenue"`
	PnL        decimal.Decimal `json:"pnl"`
	NewBalance decimal.Decimal `json:"new_balance"`
	Closed     bool            `json:"closed"` // position fully closed by this sell
}

// Buy debits quantity×price from the account and folds the lot into the
// (account, symbol) position, atomically. The account is created on first
// trade. Fails with ErrInvalidAmount, ErrInvalidPrice or
// ErrInsufficientFunds; on failure no partial effect is observable.
func (e *Engine) Buy(ctx context.Context, accountID, symbol string, quantity, price decimal.Decimal, assetKind string) (*BuyResult, error) {
	start := time.Now()

	if !quantity.IsPositive() {
		metrics.TradeRejections.WithLabelValues("buy", "invalid_amount").Inc()
		return nil, ErrInvalidAmount
	}
	if !price.IsPositive() {
		metrics.TradeRejections.WithLabelValues("buy", "invalid_price").Inc()
		return nil, ErrInvalidPrice
	}

	cost := quantity.Mul(price)
	result := &BuyResult{
		TradeID:   uuid.New().String(),
		AccountID: accountID,
		Symbol:    symbol,
		Quantity:  quantity,
		Price:     price,
		Cost:      cost,
	}

	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		a, err := tx.EnsureAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if err := e.accounts.debit(ctx, tx, a, cost); err != nil {
			return err
		}
		p, err := e.positions.upsertOnBuy(ctx, tx, accountID, symbol, quantity, price, assetKind)
		if err != nil {
			return err
		}
		result.NewBalance = a.CashBalance
		result.Position = *p
		return nil
	})
	if err != nil {
		if err == ErrInsufficientFunds {
			metrics.TradeRejections.WithLabelValues("buy", "insufficient_funds").Inc()
			return nil, err
		}
		if IsRejection(err) {
			return nil, err
		}
		return nil, fmt.Errorf("buy %s %s x%s: %w", accountID, symbol, quantity, err)
	}

	metrics.TradesTotal.WithLabelValues("buy").Inc()
	metrics.TradeLatency.WithLabelValues("buy").Observe(time.Since(start).Seconds())

	slog.Info("buy executed",
		"trade_id", result.TradeID,
		"account", accountID,
		"symbol", symbol,
		"qty", quantity.String(),
		"price", price.String(),
		"cost", cost.String(),
		"balance", result.NewBalance.String(),
	)
	return result, nil
}

// Sell removes quantity from the position at its recorded average cost,
// credits quantity×price to the cash balance and books the realized P&L,
// atomically. The position row is held exclusively for the whole
// transaction, so two concurrent sells of the same lot serialize and the
// second sees the reduced quantity. Fails with ErrInvalidAmount,
// ErrInvalidPrice or ErrInsufficientPosition; on failure no partial effect
// is observable.
func (e *Engine) Sell(ctx context.Context, accountID, symbol string, quantity, price decimal.Decimal) (*SellResult, error) {
	start := time.Now()

	if !quantity.IsPositive() {
		metrics.TradeRejections.WithLabelValues("sell", "invalid_amount").Inc()
		return nil, ErrInvalidAmount
	}
	if !price.IsPositive() {
		metrics.TradeRejections.WithLabelValues("sell", "invalid_price").Inc()
		return nil, ErrInvalidPrice
	}

	revenue := quantity.Mul(price)
	result := &SellResult{
		TradeID:   uuid.New().String(),
		AccountID: accountID,
		Symbol:    symbol,
		Quantity:  quantity,
		Price:     price,
		Revenue:   revenue,
	}

	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		// Account row first, then position row (lock ordering).
		a, err := tx.EnsureAccount(ctx, accountID)
		if err != nil {
			return err
		}

		costRemoved, closed, err := e.positions.reduceOnSell(ctx, tx, accountID, symbol, quantity)
		if err != nil {
			return err
		}

		pnl := revenue.Sub(costRemoved)
		if err := e.accounts.credit(ctx, tx, a, revenue); err != nil {
			return err
		}
		if err := e.accounts.recordPnL(ctx, tx, a, pnl); err != nil {
			return err
		}

		result.PnL = pnl
		result.NewBalance = a.CashBalance
		result.Closed = closed
		return nil
	})
	if err != nil {
		if err == ErrInsufficientPosition {
			metrics.TradeRejections.WithLabelValues("sell", "insufficient_position").Inc()
			return nil, err
		}
		if IsRejection(err) {
			return nil, err
		}
		return nil, fmt.Errorf("sell %s %s x%s: %w", accountID, symbol, quantity, err)
	}

	metrics.TradesTotal.WithLabelValues("sell").Inc()
	metrics.TradeLatency.WithLabelValues("sell").Observe(time.Since(start).Seconds())

	slog.Info("sell executed",
		"trade_id", result.TradeID,
		"account", accountID,
		"symbol", symbol,
		"qty", quantity.String(),
		"price", price.String(),
		"revenue", revenue.String(),
		"pnl", result.PnL.String(),
		"closed", result.Closed,
	)
	return result, nil
}
