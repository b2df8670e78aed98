package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flaketrader/ledger-engine/internal/model"
	"github.com/flaketrader/ledger-engine/internal/store"
)

// CloseEpsilon is the quantity threshold below which a position counts as
// fully closed: a sell leaving less than this deletes the row instead of
// keeping a dust remainder.
var CloseEpsilon = decimal.New(1, -8) // 1e-8

// PositionService maintains per-account per-symbol average-cost positions.
// All mutations run inside a trade-engine transaction holding the position
// row lock.
type PositionService struct {
	store store.Store
}

// NewPositionService creates a position service over the given store.
func NewPositionService(st store.Store) *PositionService {
	return &PositionService{store: st}
}

// List returns the account's open positions.
func (s *PositionService) List(ctx context.Context, accountID string) ([]model.Position, error) {
	return s.store.ListPositions(ctx, accountID)
}

// upsertOnBuy accumulates a buy into the (account, symbol) position:
//
//	newQty      = oldQty + quantity
//	newInvested = oldInvested + quantity×price
//	newAvgCost  = newInvested / newQty
//
// Creates the row on the first buy of a symbol.
func (s *PositionService) upsertOnBuy(ctx context.Context, tx store.Tx, accountID, symbol string, quantity, price decimal.Decimal, assetKind string) (*model.Position, error) {
	p, err := tx.LockPosition(ctx, accountID, symbol)
	switch {
	case err == store.ErrNoPosition:
		p = &model.Position{
			AccountID: accountID,
			Symbol:    symbol,
			AssetKind: assetKind,
		}
	case err != nil:
		return nil, fmt.Errorf("upsert position %s/%s: %w", accountID, symbol, err)
	}

	cost := quantity.Mul(price)
	p.Quantity = p.Quantity.Add(quantity)
	p.TotalInvested = p.TotalInvested.Add(cost)
	p.AvgCost = p.TotalInvested.DivRound(p.Quantity, 16)
	p.UpdatedAt = time.Now().UTC()

	if err := tx.SavePosition(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// reduceOnSell removes quantity from the position at its current average
// cost, preserving the cost basis of the remaining lot. Returns the cost
// basis removed and whether the position was fully closed. Fails with
// ErrInsufficientPosition when the row is absent or holds less than
// quantity.
func (s *PositionService) reduceOnSell(ctx context.Context, tx store.Tx, accountID, symbol string, quantity decimal.Decimal) (costRemoved decimal.Decimal, closed bool, err error) {
	p, err := tx.LockPosition(ctx, accountID, symbol)
	if err == store.ErrNoPosition {
		return decimal.Zero, false, ErrInsufficientPosition
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("reduce position %s/%s: %w", accountID, symbol, err)
	}
	if p.Quantity.LessThan(quantity) {
		return decimal.Zero, false, ErrInsufficientPosition
	}

	costRemoved = quantity.Mul(p.AvgCost)
	remainder := p.Quantity.Sub(quantity)

	if remainder.LessThan(CloseEpsilon) {
		if err := tx.DeletePosition(ctx, accountID, symbol); err != nil {
			return decimal.Zero, false, err
		}
		return costRemoved, true, nil
	}

	p.Quantity = remainder
	p.TotalInvested = p.TotalInvested.Sub(costRemoved)
	p.UpdatedAt = time.Now().UTC()
	if err := tx.SavePosition(ctx, p); err != nil {
		return decimal.Zero, false, err
	}
	return costRemoved, false, nil
}
