package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// RESTClient fetches spot prices over HTTP. The oracle uses it only while the
// streaming feed is disconnected.
type RESTClient struct {
	baseURL string
	http    *http.Client
}

// NewRESTClient creates a client against the given API host, e.g.
// "https://api.binance.com".
func NewRESTClient(baseURL string) *RESTClient {
	return &RESTClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// tickerPriceResponse is the /api/v3/ticker/price payload.
type tickerPriceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// FetchPrice returns the current price for a symbol and the observation time.
func (c *RESTClient) FetchPrice(ctx context.Context, symbol string) (float64, time.Time, error) {
	u := c.baseURL + "/api/v3/ticker/price?symbol=" + url.QueryEscape(strings.ToUpper(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("feed: build request: %w", err)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("feed: fetch price %s: %w", symbol, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return 0, time.Time{}, fmt.Errorf("feed: fetch price %s: http %d", symbol, res.StatusCode)
	}

	var out tickerPriceResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, time.Time{}, fmt.Errorf("feed: decode price %s: %w", symbol, err)
	}
	price, err := strconv.ParseFloat(out.Price, 64)
	if err != nil || price <= 0 {
		return 0, time.Time{}, fmt.Errorf("feed: bad price %q for %s", out.Price, symbol)
	}

	return price, time.Now().UTC(), nil
}
