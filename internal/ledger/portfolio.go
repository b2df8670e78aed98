package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/flaketrader/ledger-engine/internal/quote"
)

// PortfolioEntry is one open position valued at the current market price.
type PortfolioEntry struct {
	Symbol        string          `json:"symbol"`
	AssetKind     string          `json:"asset_kind"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgCost       decimal.Decimal `json:"avg_cost"`
	Price         decimal.Decimal `json:"price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	PerfPercent   decimal.Decimal `json:"perf_percent"` // vs average cost
}

// Portfolio is the full valued view of one account: cash, open positions
// marked at live quotes, and the lifetime realized counters.
type Portfolio struct {
	AccountID   string           `json:"account_id"`
	CashBalance decimal.Decimal  `json:"cash_balance"`
	AssetsValue decimal.Decimal  `json:"assets_value"`
	NetWorth    decimal.Decimal  `json:"net_worth"` // cash + assets at market
	TotalProfit decimal.Decimal  `json:"total_profit"`
	TotalLoss   decimal.Decimal  `json:"total_loss"`
	Entries     []PortfolioEntry `json:"entries"`
}

// Portfolio values the account's holdings at current quotes. A symbol that
// fails to quote is valued at its average cost instead — a stale but usable
// read beats a failed one. Pure read composition, no locking.
func (e *Engine) Portfolio(ctx context.Context, quotes quote.Provider, accountID string) (*Portfolio, error) {
	account, err := e.accounts.GetOrCreate(ctx, accountID)
	if err != nil {
		return nil, err
	}

	positions, err := e.positions.List(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("portfolio %s: %w", accountID, err)
	}

	symbols := make([]string, 0, len(positions))
	for _, p := range positions {
		symbols = append(symbols, p.Symbol)
	}
	prices := quote.Prices(ctx, quotes, symbols)

	hundred := decimal.NewFromInt(100)
	portfolio := &Portfolio{
		AccountID:   accountID,
		CashBalance: account.CashBalance,
		TotalProfit: account.TotalProfit,
		TotalLoss:   account.TotalLoss,
		Entries:     make([]PortfolioEntry, 0, len(positions)),
	}

	for _, p := range positions {
		price, ok := prices[p.Symbol]
		if !ok {
			price = p.AvgCost
		}

		value := price.Mul(p.Quantity)
		unrealized := value.Sub(p.TotalInvested)

		perf := decimal.Zero
		if p.AvgCost.IsPositive() {
			perf = price.Sub(p.AvgCost).DivRound(p.AvgCost, 6).Mul(hundred)
		}

		portfolio.AssetsValue = portfolio.AssetsValue.Add(value)
		portfolio.Entries = append(portfolio.Entries, PortfolioEntry{
			Symbol:        p.Symbol,
			AssetKind:     p.AssetKind,
			Quantity:      p.Quantity,
			AvgCost:       p.AvgCost,
			Price:         price,
			MarketValue:   value,
			UnrealizedPnL: unrealized,
			PerfPercent:   perf,
		})
	}

	portfolio.NetWorth = portfolio.CashBalance.Add(portfolio.AssetsValue)
	return portfolio, nil
}
