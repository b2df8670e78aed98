package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/flaketrader/ledger-engine/internal/ledger"
	"github.com/flaketrader/ledger-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates an engine over a fresh in-memory store.
func newTestEnv(t *testing.T) (*ledger.Engine, *ledger.AccountService, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	accounts := ledger.NewAccountService(ms)
	positions := ledger.NewPositionService(ms)
	engine := ledger.NewEngine(ms, accounts, positions)
	return engine, accounts, ms
}

// fund credits a starting balance.
func fund(t *testing.T, accounts *ledger.AccountService, accountID string, amount float64) {
	t.Helper()
	if _, err := accounts.AdjustBalance(context.Background(), accountID, d(amount)); err != nil {
		t.Fatalf("failed to fund %s: %v", accountID, err)
	}
}

func TestBuy_DebitsAndOpensPosition(t *testing.T) {
	engine, accounts, _ := newTestEnv(t)
	ctx := context.Background()
	fund(t, accounts, "user1", 1000)

	result, err := engine.Buy(ctx, "user1", "AAPL", d(2), d(100), "equity")
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	if !result.NewBalance.Equal(d(800)) {
		t.Errorf("expected balance 800, got %s", result.NewBalance)
	}
	if !result.Cost.Equal(d(200)) {
		t.Errorf("expected cost 200, got %s", result.Cost)
	}
	if !result.Position.Quantity.Equal(d(2)) {
		t.Errorf("expected quantity 2, got %s", result.Position.Quantity)
	}
	if !result.Position.AvgCost.Equal(d(100)) {
		t.Errorf("expected avg cost 100, got %s", result.Position.AvgCost)
	}
	if result.TradeID == "" {
		t.Error("expected non-empty trade_id")
	}
}

func TestBuy_WeightedAverageCost(t *testing.T) {
	engine, accounts, _ := newTestEnv(t)
	ctx := context.Background()
	fund(t, accounts, "user1", 10000)

	// 2 @ 100, then 2 @ 200 → 4 @ 150.
	if _, err := engine.Buy(ctx, "user1", "AAPL", d(2), d(100), "equity"); err != nil {
		t.Fatalf("first buy failed: %v", err)
	}
	result, err := engine.Buy(ctx, "user1", "AAPL", d(2), d(200), "equity")
	if err != nil {
		t.Fatalf("second buy failed: %v", err)
	}

	p := result.Position
	if !p.Quantity.Equal(d(4)) {
		t.Errorf("expected quantity 4, got %s", p.Quantity)
	}
	if !p.AvgCost.Equal(d(150)) {
		t.Errorf("expected avg cost 150, got %s", p.AvgCost)
	}
	if !p.TotalInvested.Equal(d(600)) {
		t.Errorf("expected invested 600, got %s", p.TotalInvested)
	}
}

func TestBuy_CostBasisInvariant(t *testing.T) {
	engine, accounts, _ := newTestEnv(t)
	ctx := context.Background()
	fund(t, accounts, "user1", 100000)

	// Repeated odd-lot buys; avgCost × quantity must track totalInvested
	// within rounding tolerance throughout.
	buys := []struct{ qty, price float64 }{
		{3, 7.77}, {1.5, 12.34}, {0.001, 999.99}, {7, 3.33}, {2.25, 41.05},
	}

	tolerance := decimal.New(1, -10)
	for i, b := range buys {
		result, err := engine.Buy(ctx, "user1", "ODD", d(b.qty), d(b.price), "equity")
		if err != nil {
			t.Fatalf("buy %d failed: %v", i, err)
		}
		p := result.Position
		drift := p.AvgCost.Mul(p.Quantity).Sub(p.TotalInvested).Abs()
		if drift.GreaterThan(tolerance) {
			t.Errorf("buy %d: avgCost×qty drifted from invested by %s", i, drift)
		}
	}
}

func TestBuy_InsufficientFunds(t *testing.T) {
	engine, accounts, ms := newTestEnv(t)
	ctx := context.Background()
	fund(t, accounts, "user1", 100)

	// 2 × 100 > 100: must fail without any partial debit.
	_, err := engine.Buy(ctx, "user1", "AAPL", d(2), d(100), "equity")
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	a, err := ms.GetAccount(ctx, "user1")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !a.CashBalance.Equal(d(100)) {
		t.Errorf("balance changed on rejected buy: %s", a.CashBalance)
	}
	positions, _ := ms.ListPositions(ctx, "user1")
	if len(positions) != 0 {
		t.Errorf("position created on rejected buy: %d rows", len(positions))
	}
}

func TestBuy_ExactBalanceSucceeds(t *testing.T) {
	engine, accounts, _ := newTestEnv(t)
	ctx := context.Background()
	fund(t, accounts, "user1", 200)

	result, err := engine.Buy(ctx, "user1", "AAPL", d(2), d(100), "equity")
	if err != nil {
		t.Fatalf("buy at exact balance should succeed: %v", err)
	}
	if !result.NewBalance.IsZero() {
		t.Errorf("expected zero balance, got %s", result.NewBalance)
	}
}

func TestBuy_Validation(t *testing.T) {
	engine, accounts, _ := newTestEnv(t)
	ctx := context.Background()
	fund(t, accounts, "user1", 1000)

	if _, err := engine.Buy(ctx, "user1", "AAPL", decimal.Zero, d(100), "equity"); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Errorf("zero quantity: expected ErrInvalidAmount, got %v", err)
	}
	if _, err := engine.Buy(ctx, "user1", "AAPL", d(-1), d(100), "equity"); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Errorf("negative quantity: expected ErrInvalidAmount, got %v", err)
	}
	if _, err := engine.Buy(ctx, "user1", "AAPL", d(1), decimal.Zero, "equity"); !errors.Is(err, ledger.ErrInvalidPrice) {
		t.Errorf("zero price: expected ErrInvalidPrice, got %v", err)
	}
	if _, err := engine.Buy(ctx, "user1", "AAPL", d(1), d(-5), "equity"); !errors.Is(err, ledger.ErrInvalidPrice) {
		t.Errorf("negative price: expected ErrInvalidPrice, got %v", err)
	}
}

func TestSell_RealizesPnL(t *testing.T) {
	engine, accounts, ms := newTestEnv(t)
	ctx := context.Background()
	fund(t, accounts, "user1", 1000)

	// The canonical sequence: buy 2 @ 100, sell 1 @ 150, sell 1 @ 80.
	if _, err := engine.Buy(ctx, "user1", "X", d(2), d(100), "equity"); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	first, err := engine.Sell(ctx, "user1", "X", d(1), d(150))
	if err != nil {
		t.Fatalf("first sell failed: %v", err)
	}
	if !first.Revenue.Equal(d(150)) {
		t.Errorf("expected revenue 150, got %s", first.Revenue)
	}
	if !first.PnL.Equal(d(50)) {
		t.Errorf("expected pnl +50, got %s", first.PnL)
	}
	if !first.NewBalance.Equal(d(950)) {
		t.Errorf("expected balance 950, got %s", first.NewBalance)
	}
	if first.Closed {
		t.Error("position should remain open after partial sell")
	}

	// Remaining lot keeps its cost basis.
	positions, _ := ms.ListPositions(ctx, "user1")
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	if !positions[0].Quantity.Equal(d(1)) || !positions[0].AvgCost.Equal(d(100)) {
		t.Errorf("expected qty 1 @ avg 100, got %s @ %s",
			positions[0].Quantity, positions[0].AvgCost)
	}

	second, err := engine.Sell(ctx, "user1", "X", d(1), d(80))
	if err != nil {
		t.Fatalf("second sell failed: %v", err)
	}
	if !second.PnL.Equal(d(-20)) {
		t.Errorf("expected pnl -20, got %s", second.PnL)
	}
	if !second.NewBalance.Equal(d(1030)) {
		t.Errorf("expected balance 1030, got %s", second.NewBalance)
	}
	if !second.Closed {
		t.Error("position should be closed after selling the remainder")
	}

	positions, _ = ms.ListPositions(ctx, "user1")
	if len(positions) != 0 {
		t.Errorf("expected position row deleted, got %d rows", len(positions))
	}

	a, _ := ms.GetAccount(ctx, "user1")
	if !a.TotalProfit.Equal(d(50)) {
		t.Errorf("expected total profit 50, got %s", a.TotalProfit)
	}
	if !a.TotalLoss.Equal(d(20)) {
		t.Errorf("expected total loss 20, got %s", a.TotalLoss)
	}
}

func TestSell_InsufficientPosition(t *testing.T) {
	engine, accounts, ms := newTestEnv(t)
	ctx := context.Background()
	fund(t, accounts, "user1", 1000)

	// No position at all.
	if _, err := engine.Sell(ctx, "user1", "AAPL", d(1), d(100)); !errors.Is(err, ledger.ErrInsufficientPosition) {
		t.Errorf("expected ErrInsufficientPosition, got %v", err)
	}

	// Held quantity smaller than the sell.
	if _, err := engine.Buy(ctx, "user1", "AAPL", d(2), d(100), "equity"); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	_, err := engine.Sell(ctx, "user1", "AAPL", d(3), d(100))
	if !errors.Is(err, ledger.ErrInsufficientPosition) {
		t.Fatalf("expected ErrInsufficientPosition, got %v", err)
	}

	// Rejected sell leaves the position and balance untouched.
	positions, _ := ms.ListPositions(ctx, "user1")
	if len(positions) != 1 || !positions[0].Quantity.Equal(d(2)) {
		t.Error("rejected sell must not reduce the position")
	}
	a, _ := ms.GetAccount(ctx, "user1")
	if !a.CashBalance.Equal(d(800)) {
		t.Errorf("rejected sell must not credit cash, balance %s", a.CashBalance)
	}
}

func TestSell_DustRemainderClosesPosition(t *testing.T) {
	engine, accounts, ms := newTestEnv(t)
	ctx := context.Background()
	fund(t, accounts, "user1", 1000)

	if _, err := engine.Buy(ctx, "user1", "BTC-USD", d(1), d(100), "crypto"); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	// Sell all but 1e-9 — below the close threshold, so the row goes away.
	qty, _ := decimal.NewFromString("0.999999999")
	result, err := engine.Sell(ctx, "user1", "BTC-USD", qty, d(100))
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	if !result.Closed {
		t.Error("dust remainder should close the position")
	}

	positions, _ := ms.ListPositions(ctx, "user1")
	if len(positions) != 0 {
		t.Errorf("expected no position rows, got %d", len(positions))
	}
}

func TestSell_ConcurrentFullSells(t *testing.T) {
	engine, accounts, _ := newTestEnv(t)
	ctx := context.Background()
	fund(t, accounts, "user1", 1000)

	if _, err := engine.Buy(ctx, "user1", "AAPL", d(5), d(10), "equity"); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	// Two racing sells of the entire lot: exactly one commits.
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Sell(ctx, "user1", "AAPL", d(5), d(12))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, rejected int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ledger.ErrInsufficientPosition):
			rejected++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || rejected != 1 {
		t.Errorf("expected 1 success and 1 rejection, got %d/%d", succeeded, rejected)
	}
}

func TestBuy_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	engine, accounts, ms := newTestEnv(t)
	ctx := context.Background()
	fund(t, accounts, "user1", 100)

	// 12 racing unit buys at 10 against a balance of 100: exactly 10 commit.
	var wg sync.WaitGroup
	errs := make(chan error, 12)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Buy(ctx, "user1", "AAPL", d(1), d(10), "equity")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, rejected int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ledger.ErrInsufficientFunds):
			rejected++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 10 || rejected != 2 {
		t.Errorf("expected 10 commits and 2 rejections, got %d/%d", succeeded, rejected)
	}

	a, _ := ms.GetAccount(ctx, "user1")
	if !a.CashBalance.IsZero() {
		t.Errorf("expected balance 0, got %s", a.CashBalance)
	}
}

func TestBuy_CreatesAccountOnFirstTrade(t *testing.T) {
	engine, _, ms := newTestEnv(t)
	ctx := context.Background()

	// Fresh account has zero balance, so any buy is rejected — but the
	// account row itself must not be created half-way.
	_, err := engine.Buy(ctx, "newcomer", "AAPL", d(1), d(10), "equity")
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, err := ms.GetAccount(ctx, "newcomer"); !errors.Is(err, store.ErrNoAccount) {
		t.Errorf("rejected first trade must not leave an account row, got %v", err)
	}
}
