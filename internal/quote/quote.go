// Package quote resolves symbols to live market prices. The trade engine's
// callers resolve a quote strictly before opening any mutating transaction;
// a failed or missing quote aborts the trade as an invalid price.
package quote

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/flaketrader/ledger-engine/internal/model"
)

var (
	// ErrNotFound is returned when the provider does not know the symbol.
	ErrNotFound = errors.New("quote: symbol not found")

	// ErrUnavailable is returned when the provider cannot be reached or
	// answers without a usable price.
	ErrUnavailable = errors.New("quote: provider unavailable")
)

// Quote is a point-in-time price for one symbol.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	AssetKind string          `json:"asset_kind"`
}

// Provider resolves a symbol to a current quote. Implementations must
// honor ctx cancellation and return typed errors for missing symbols and
// upstream failures.
type Provider interface {
	Quote(ctx context.Context, symbol string) (*Quote, error)
}

// Prices resolves a batch of symbols best-effort: symbols that fail to
// quote are simply absent from the result. Used for portfolio valuation
// where a stale fallback is preferable to a failed read.
func Prices(ctx context.Context, p Provider, symbols []string) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(symbols))
	for _, symbol := range symbols {
		q, err := p.Quote(ctx, symbol)
		if err != nil {
			continue
		}
		prices[symbol] = q.Price
	}
	return prices
}

// kindFor maps a provider quote type onto the position asset-kind tags.
func kindFor(quoteType string) string {
	switch strings.ToUpper(quoteType) {
	case "EQUITY":
		return model.KindEquity
	case "CRYPTOCURRENCY", "CRYPTO":
		return model.KindCrypto
	case "ETF", "MUTUALFUND":
		return model.KindETF
	default:
		return model.KindOther
	}
}
