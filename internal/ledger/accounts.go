// Package ledger implements the trading-economy core: account and position
// services, the atomic trade engine, and leaderboard ranking. Every mutating
// operation runs inside a single store transaction and either commits fully
// or leaves no trace.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flaketrader/ledger-engine/internal/model"
	"github.com/flaketrader/ledger-engine/internal/store"
)

// DailyCooldown is the fixed window between successful daily claims,
// measured from the last claim instant (not calendar-aligned).
const DailyCooldown = 24 * time.Hour

// AccountService owns account rows: lazy creation, balance mutation,
// realized P&L counters, and daily-reward issuance.
type AccountService struct {
	store store.Store
}

// NewAccountService creates an account service over the given store.
func NewAccountService(st store.Store) *AccountService {
	return &AccountService{store: st}
}

// GetOrCreate returns the account, creating it with a zero balance on first
// reference. Safe under concurrent first access.
func (s *AccountService) GetOrCreate(ctx context.Context, accountID string) (*model.Account, error) {
	var account *model.Account
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		a, err := tx.EnsureAccount(ctx, accountID)
		if err != nil {
			return err
		}
		account = a
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get or create account %s: %w", accountID, err)
	}
	return account, nil
}

// AdjustBalance applies a signed delta to the cash balance and returns the
// new balance. A negative delta that would overdraw fails with
// ErrInsufficientFunds and leaves the balance untouched.
func (s *AccountService) AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var newBalance decimal.Decimal
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		a, err := tx.EnsureAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if delta.IsNegative() {
			if err := s.debit(ctx, tx, a, delta.Neg()); err != nil {
				return err
			}
		} else {
			if err := s.credit(ctx, tx, a, delta); err != nil {
				return err
			}
		}
		newBalance = a.CashBalance
		return nil
	})
	return newBalance, err
}

// RecordRealizedPnL books a realized trade result into the lifetime
// counters: gains into TotalProfit, losses (as absolute value) into
// TotalLoss. Both counters only ever grow.
func (s *AccountService) RecordRealizedPnL(ctx context.Context, accountID string, amount decimal.Decimal) error {
	return s.store.WithTx(ctx, func(tx store.Tx) error {
		a, err := tx.EnsureAccount(ctx, accountID)
		if err != nil {
			return err
		}
		return s.recordPnL(ctx, tx, a, amount)
	})
}

// ClaimDaily credits the daily reward if at least DailyCooldown has passed
// since the last successful claim. The check and the timer reset happen
// under the account row lock, so two racing claims cannot both succeed.
// Returns the new balance.
func (s *AccountService) ClaimDaily(ctx context.Context, accountID string, reward decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if reward.IsNegative() {
		return decimal.Zero, ErrInvalidAmount
	}

	var newBalance decimal.Decimal
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		a, err := tx.EnsureAccount(ctx, accountID)
		if err != nil {
			return err
		}

		if !a.LastDailyClaim.IsZero() {
			since := now.Sub(a.LastDailyClaim)
			if since < DailyCooldown {
				return &CooldownError{Remaining: DailyCooldown - since}
			}
		}

		a.LastDailyClaim = now
		a.CashBalance = a.CashBalance.Add(reward)
		if err := tx.SaveAccount(ctx, a); err != nil {
			return err
		}
		newBalance = a.CashBalance
		return nil
	})
	return newBalance, err
}

// --- Transaction-scoped primitives used by the trade engine ---

// debit removes amount from the account's cash balance, failing with
// ErrInsufficientFunds if the result would be negative. The caller holds
// the account row lock.
func (s *AccountService) debit(ctx context.Context, tx store.Tx, a *model.Account, amount decimal.Decimal) error {
	next := a.CashBalance.Sub(amount)
	if next.IsNegative() {
		return ErrInsufficientFunds
	}
	a.CashBalance = next
	return tx.SaveAccount(ctx, a)
}

// credit adds amount to the account's cash balance.
func (s *AccountService) credit(ctx context.Context, tx store.Tx, a *model.Account, amount decimal.Decimal) error {
	a.CashBalance = a.CashBalance.Add(amount)
	return tx.SaveAccount(ctx, a)
}

// recordPnL applies a realized result to the monotone P&L counters.
func (s *AccountService) recordPnL(ctx context.Context, tx store.Tx, a *model.Account, amount decimal.Decimal) error {
	if amount.Sign() >= 0 {
		a.TotalProfit = a.TotalProfit.Add(amount)
	} else {
		a.TotalLoss = a.TotalLoss.Add(amount.Abs())
	}
	return tx.SaveAccount(ctx, a)
}
