package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPProvider fetches quotes from a Yahoo-shaped JSON endpoint:
//
//	GET {base}/v7/finance/quote?symbols=AAPL
//	{"quoteResponse":{"result":[{"symbol":"AAPL","regularMarketPrice":189.4,
//	  "currency":"USD","quoteType":"EQUITY"}]}}
//
// Every request carries the client timeout; a slow provider fails the
// quote, never the ledger.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider creates a provider against baseURL with a bounded
// per-request timeout.
func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type quoteResponse struct {
	QuoteResponse struct {
		Result []quotePayload `json:"result"`
	} `json:"quoteResponse"`
}

type quotePayload struct {
	Symbol             string       `json:"symbol"`
	RegularMarketPrice *json.Number `json:"regularMarketPrice"`
	Currency           string       `json:"currency"`
	QuoteType          string       `json:"quoteType"`
}

func (p *HTTPProvider) Quote(ctx context.Context, symbol string) (*Quote, error) {
	addr := fmt.Sprintf("%s/v7/finance/quote?symbols=%s", p.baseURL, url.QueryEscape(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var payload quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if len(payload.QuoteResponse.Result) == 0 {
		return nil, ErrNotFound
	}

	q := payload.QuoteResponse.Result[0]
	if q.RegularMarketPrice == nil {
		return nil, fmt.Errorf("%w: %s has no market price", ErrNotFound, symbol)
	}
	price, err := decimalFromNumber(*q.RegularMarketPrice)
	if err != nil || !price.IsPositive() {
		return nil, fmt.Errorf("%w: unusable price for %s", ErrUnavailable, symbol)
	}

	return &Quote{
		Symbol:    q.Symbol,
		Price:     price,
		Currency:  q.Currency,
		AssetKind: kindFor(q.QuoteType),
	}, nil
}

// decimalFromNumber converts the raw JSON number without a float64
// round-trip, preserving the provider's decimal representation.
func decimalFromNumber(n json.Number) (decimal.Decimal, error) {
	return decimal.NewFromString(n.String())
}
