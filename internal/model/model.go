// Package model defines the core domain types shared across the ledger engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a trader's ledger row: liquid cash plus lifetime realized
// profit/loss counters. Accounts are created lazily on first reference
// and never deleted.
type Account struct {
	ID             string          `json:"id" db:"account_id"`
	CashBalance    decimal.Decimal `json:"cash_balance" db:"cash_balance"`
	TotalProfit    decimal.Decimal `json:"total_profit" db:"total_profit"` // realized gains, only grows
	TotalLoss      decimal.Decimal `json:"total_loss" db:"total_loss"`     // realized losses as a positive sum, only grows
	LastDailyClaim time.Time       `json:"last_daily_claim" db:"last_daily_claim"` // zero = never claimed
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Worth is the leaderboard ranking key: cash plus lifetime profit.
func (a *Account) Worth() decimal.Decimal {
	return a.CashBalance.Add(a.TotalProfit)
}

// Asset kind tags carried on positions. Informational only; the engine
// never branches on them.
const (
	KindEquity = "equity"
	KindCrypto = "crypto"
	KindETF    = "etf"
	KindOther  = "other"
)

// Position is an account's open holding in one symbol, tracked at weighted
// average cost. Quantity is strictly positive while the row exists; a sell
// that drains the lot deletes the row instead of leaving a zero.
type Position struct {
	AccountID     string          `json:"account_id" db:"account_id"`
	Symbol        string          `json:"symbol" db:"symbol"`
	Quantity      decimal.Decimal `json:"quantity" db:"quantity"`
	AvgCost       decimal.Decimal `json:"avg_cost" db:"avg_cost"`             // total_invested / quantity
	TotalInvested decimal.Decimal `json:"total_invested" db:"total_invested"` // cost basis of the open lot
	AssetKind     string          `json:"asset_kind" db:"asset_kind"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// LeaderboardRow is one ranked entry. Worth = cash_balance + total_profit.
type LeaderboardRow struct {
	AccountID   string          `json:"account_id"`
	CashBalance decimal.Decimal `json:"cash_balance"`
	TotalProfit decimal.Decimal `json:"total_profit"`
	Worth       decimal.Decimal `json:"worth"`
}
