// Package api exposes the ledger engine over HTTP. This layer is a thin
// consumer of the core: it resolves quotes, invokes the engine, and maps
// the typed error taxonomy onto status codes. It holds no invariants of
// its own.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/flaketrader/ledger-engine/internal/ledger"
	"github.com/flaketrader/ledger-engine/internal/metrics"
	"github.com/flaketrader/ledger-engine/internal/model"
	"github.com/flaketrader/ledger-engine/internal/quote"
)

// Service bundles the core services behind the HTTP handlers.
type Service struct {
	engine      *ledger.Engine
	accounts    *ledger.AccountService
	leaderboard *ledger.LeaderboardService
	quotes      quote.Provider
	feed        *FeedHub // optional trade-feed hub, may be nil
	dailyReward decimal.Decimal
}

// NewService creates the HTTP service. Pass nil for feed if the WebSocket
// trade feed is not needed.
func NewService(engine *ledger.Engine, accounts *ledger.AccountService,
	leaderboard *ledger.LeaderboardService, quotes quote.Provider,
	feed *FeedHub, dailyReward decimal.Decimal) *Service {
	return &Service{
		engine:      engine,
		accounts:    accounts,
		leaderboard: leaderboard,
		quotes:      quotes,
		feed:        feed,
		dailyReward: dailyReward,
	}
}

// Routes mounts all API endpoints on r.
func (s *Service) Routes(r chi.Router) {
	r.Post("/trade/buy", s.Buy)
	r.Post("/trade/sell", s.Sell)
	r.Get("/accounts/{accountID}/portfolio", s.Portfolio)
	r.Post("/accounts/{accountID}/daily", s.ClaimDaily)
	r.Get("/leaderboard", s.Leaderboard)
	r.Put("/guilds/{guildID}/members/{accountID}", s.RegisterMember)
	r.Delete("/guilds/{guildID}/members/{accountID}", s.UnregisterMember)
	if s.feed != nil {
		r.Get("/ws", s.feed.HandleWS)
	}
}

// TradeRequest is the JSON body for POST /trade/buy and /trade/sell.
type TradeRequest struct {
	AccountID string          `json:"account_id"`
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// Buy handles POST /api/v1/trade/buy. The quote is resolved before the
// ledger transaction opens; without a usable price nothing is mutated.
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTrade(w, r)
	if !ok {
		return
	}

	q, err := s.resolveQuote(w, r, req.Symbol)
	if err != nil {
		return
	}

	result, err := s.engine.Buy(r.Context(), req.AccountID, req.Symbol, req.Quantity, q.Price, q.AssetKind)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	if s.feed != nil {
		s.feed.Broadcast(TradeEvent{
			Type:     "trade",
			TradeID:  result.TradeID,
			Symbol:   req.Symbol,
			Side:     "buy",
			Quantity: result.Quantity.String(),
			Price:    result.Price.String(),
		})
	}

	writeJSON(w, http.StatusOK, result)
}

// Sell handles POST /api/v1/trade/sell.
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTrade(w, r)
	if !ok {
		return
	}

	q, err := s.resolveQuote(w, r, req.Symbol)
	if err != nil {
		return
	}

	result, err := s.engine.Sell(r.Context(), req.AccountID, req.Symbol, req.Quantity, q.Price)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	if s.feed != nil {
		s.feed.Broadcast(TradeEvent{
			Type:     "trade",
			TradeID:  result.TradeID,
			Symbol:   req.Symbol,
			Side:     "sell",
			Quantity: result.Quantity.String(),
			Price:    result.Price.String(),
			Closed:   result.Closed,
		})
	}

	writeJSON(w, http.StatusOK, result)
}

// Portfolio handles GET /api/v1/accounts/{accountID}/portfolio.
func (s *Service) Portfolio(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	portfolio, err := s.engine.Portfolio(r.Context(), s.quotes, accountID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, portfolio)
}

// ClaimDaily handles POST /api/v1/accounts/{accountID}/daily.
func (s *Service) ClaimDaily(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	newBalance, err := s.accounts.ClaimDaily(r.Context(), accountID, s.dailyReward, time.Now().UTC())
	if err != nil {
		var cd *ledger.CooldownError
		if errors.As(err, &cd) {
			metrics.DailyClaims.WithLabelValues("cooldown").Inc()
		}
		writeLedgerError(w, err)
		return
	}

	metrics.DailyClaims.WithLabelValues("granted").Inc()
	writeJSON(w, http.StatusOK, map[string]string{
		"account_id":  accountID,
		"reward":      s.dailyReward.String(),
		"new_balance": newBalance.String(),
	})
}

// Leaderboard handles GET /api/v1/leaderboard?guild_id=...&limit=...
func (s *Service) Leaderboard(w http.ResponseWriter, r *http.Request) {
	guildID := r.URL.Query().Get("guild_id")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	board, err := s.leaderboard.Rank(r.Context(), guildID, limit)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if board == nil {
		board = []model.LeaderboardRow{}
	}
	writeJSON(w, http.StatusOK, board)
}

// RegisterMember handles PUT /api/v1/guilds/{guildID}/members/{accountID}.
func (s *Service) RegisterMember(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	accountID := chi.URLParam(r, "accountID")

	if err := s.leaderboard.RegisterMember(r.Context(), accountID, guildID); err != nil {
		writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnregisterMember handles DELETE /api/v1/guilds/{guildID}/members/{accountID}.
func (s *Service) UnregisterMember(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	accountID := chi.URLParam(r, "accountID")

	if err := s.leaderboard.UnregisterMember(r.Context(), accountID, guildID); err != nil {
		writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func (s *Service) decodeTrade(w http.ResponseWriter, r *http.Request) (TradeRequest, bool) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return req, false
	}
	if req.AccountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return req, false
	}
	if req.Symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// resolveQuote fetches the live price, mapping provider failures onto the
// invalid-price rejection. A write to w means the request is already
// answered.
func (s *Service) resolveQuote(w http.ResponseWriter, r *http.Request, symbol string) (*quote.Quote, error) {
	q, err := s.quotes.Quote(r.Context(), symbol)
	if err != nil {
		switch {
		case errors.Is(err, quote.ErrNotFound):
			metrics.QuoteFailures.WithLabelValues("not_found").Inc()
			writeError(w, "symbol not found: "+symbol, http.StatusBadRequest)
		case errors.Is(err, quote.ErrUnavailable):
			metrics.QuoteFailures.WithLabelValues("unavailable").Inc()
			writeError(w, "no usable quote for "+symbol, http.StatusBadRequest)
		default:
			slog.Error("quote lookup failed", "symbol", symbol, "err", err)
			writeError(w, "no usable quote for "+symbol, http.StatusBadRequest)
		}
		return nil, err
	}
	return q, nil
}

// writeLedgerError maps the core error taxonomy onto HTTP status codes.
func writeLedgerError(w http.ResponseWriter, err error) {
	var cd *ledger.CooldownError
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidPrice):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientPosition):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.As(err, &cd):
		w.Header().Set("Retry-After", strconv.Itoa(int(cd.Remaining.Seconds())+1))
		writeError(w, err.Error(), http.StatusTooManyRequests)
	default:
		slog.Error("internal error", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
