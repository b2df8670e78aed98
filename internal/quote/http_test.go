package quote_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flaketrader/ledger-engine/internal/quote"
)

func newServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *quote.HTTPProvider) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, quote.NewHTTPProvider(srv.URL, 2*time.Second)
}

func TestQuote_Success(t *testing.T) {
	_, p := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbols"); got != "AAPL" {
			t.Errorf("expected symbols=AAPL, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"quoteResponse":{"result":[
			{"symbol":"AAPL","regularMarketPrice":189.45,"currency":"USD","quoteType":"EQUITY"}
		]}}`))
	})

	q, err := p.Quote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if q.Symbol != "AAPL" {
		t.Errorf("expected symbol AAPL, got %s", q.Symbol)
	}
	want, _ := decimal.NewFromString("189.45")
	if !q.Price.Equal(want) {
		t.Errorf("expected price 189.45, got %s", q.Price)
	}
	if q.AssetKind != "equity" {
		t.Errorf("expected kind equity, got %s", q.AssetKind)
	}
}

func TestQuote_CryptoKind(t *testing.T) {
	_, p := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"quoteResponse":{"result":[
			{"symbol":"BTC-USD","regularMarketPrice":64021.12,"currency":"USD","quoteType":"CRYPTOCURRENCY"}
		]}}`))
	})

	q, err := p.Quote(context.Background(), "BTC-USD")
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if q.AssetKind != "crypto" {
		t.Errorf("expected kind crypto, got %s", q.AssetKind)
	}
}

func TestQuote_EmptyResultIsNotFound(t *testing.T) {
	_, p := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"quoteResponse":{"result":[]}}`))
	})

	_, err := p.Quote(context.Background(), "NOPE")
	if !errors.Is(err, quote.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestQuote_MissingPriceIsNotFound(t *testing.T) {
	_, p := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"quoteResponse":{"result":[
			{"symbol":"HALTED","currency":"USD","quoteType":"EQUITY"}
		]}}`))
	})

	_, err := p.Quote(context.Background(), "HALTED")
	if !errors.Is(err, quote.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing price, got %v", err)
	}
}

func TestQuote_ZeroPriceIsUnusable(t *testing.T) {
	_, p := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"quoteResponse":{"result":[
			{"symbol":"ZERO","regularMarketPrice":0,"currency":"USD","quoteType":"EQUITY"}
		]}}`))
	})

	_, err := p.Quote(context.Background(), "ZERO")
	if !errors.Is(err, quote.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable for zero price, got %v", err)
	}
}

func TestQuote_ServerErrorIsUnavailable(t *testing.T) {
	_, p := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})

	_, err := p.Quote(context.Background(), "AAPL")
	if !errors.Is(err, quote.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestQuote_NotFoundStatus(t *testing.T) {
	_, p := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := p.Quote(context.Background(), "GONE")
	if !errors.Is(err, quote.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestQuote_ContextCancelled(t *testing.T) {
	_, p := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Quote(ctx, "SLOW")
	if !errors.Is(err, quote.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable on timeout, got %v", err)
	}
}

func TestPrices_BestEffort(t *testing.T) {
	_, p := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("symbols") {
		case "AAPL":
			w.Write([]byte(`{"quoteResponse":{"result":[
				{"symbol":"AAPL","regularMarketPrice":100,"currency":"USD","quoteType":"EQUITY"}
			]}}`))
		default:
			w.Write([]byte(`{"quoteResponse":{"result":[]}}`))
		}
	})

	prices := quote.Prices(context.Background(), p, []string{"AAPL", "NOPE"})
	if len(prices) != 1 {
		t.Fatalf("expected 1 price, got %d", len(prices))
	}
	if !prices["AAPL"].Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected AAPL=100, got %s", prices["AAPL"])
	}
}
