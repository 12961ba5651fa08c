package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ch3fx/internal/exchange"
)

// APIError is a non-2xx response from the exchange API.
type APIError struct {
	Status    int
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s (request %s)", e.Status, e.Message, e.RequestID)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
	UserID  string
	Token   string
}

func NewClient(baseURL, userID, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
		UserID: strings.TrimSpace(userID),
		Token:  strings.TrimSpace(token),
	}
}

func (c *Client) Market(ctx context.Context) (exchange.MarketSummary, error) {
	var out exchange.MarketSummary
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/market", nil, &out)
	return out, err
}

func (c *Client) ListStocks(ctx context.Context) ([]exchange.Stock, error) {
	var out struct {
		Stocks []exchange.Stock `json:"stocks"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/stocks", nil, &out)
	return out.Stocks, err
}

func (c *Client) StockDetail(ctx context.Context, symbol string) (exchange.StockInfo, error) {
	var out exchange.StockInfo
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/stocks/"+SymbolPath(symbol), nil, &out)
	return out, err
}

func (c *Client) TopPerformers(ctx context.Context, timeframe string, limit int) ([]exchange.Performer, error) {
	q := url.Values{}
	q.Set("timeframe", timeframe)
	q.Set("limit", strconv.Itoa(limit))
	var out struct {
		Performers []exchange.Performer `json:"performers"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/stocks/top?"+q.Encode(), nil, &out)
	return out.Performers, err
}

func (c *Client) DecayRisk(ctx context.Context) ([]exchange.DecayRisk, error) {
	var out struct {
		AtRisk []exchange.DecayRisk `json:"at_risk"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/stocks/decay-risk", nil, &out)
	return out.AtRisk, err
}

func (c *Client) Buy(ctx context.Context, symbol string) (exchange.BuyResult, error) {
	var out exchange.BuyResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/stocks/"+SymbolPath(symbol)+"/buy", nil, &out)
	return out, err
}

func (c *Client) Sell(ctx context.Context, symbol string) (exchange.SellResult, error) {
	var out exchange.SellResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/stocks/"+SymbolPath(symbol)+"/sell", nil, &out)
	return out, err
}

func (c *Client) IPO(ctx context.Context, symbol string) (exchange.Stock, error) {
	var out exchange.Stock
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/stocks", map[string]any{"symbol": symbol}, &out)
	return out, err
}

func (c *Client) Rebrand(ctx context.Context, symbol string) (exchange.Stock, error) {
	var out exchange.Stock
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/stocks/rebrand", map[string]any{"symbol": symbol}, &out)
	return out, err
}

// Portfolio returns userID's portfolio, or the caller's when userID is empty.
func (c *Client) Portfolio(ctx context.Context, userID string) (exchange.Portfolio, error) {
	path := "/v1/account"
	if userID != "" {
		path = "/v1/accounts/" + url.PathEscape(userID)
	}
	var out exchange.Portfolio
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) Deposit(ctx context.Context, amount decimal.Decimal) (exchange.Account, error) {
	var out exchange.Account
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/bank/deposit", map[string]any{"amount": amount}, &out)
	return out, err
}

func (c *Client) Withdraw(ctx context.Context, amount decimal.Decimal) (exchange.Account, error) {
	var out exchange.Account
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/bank/withdraw", map[string]any{"amount": amount}, &out)
	return out, err
}

func (c *Client) Daily(ctx context.Context) (exchange.RewardResult, error) {
	var out exchange.RewardResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/daily", nil, &out)
	return out, err
}

func (c *Client) Gift(ctx context.Context, to string, amount decimal.Decimal) (exchange.Account, error) {
	var out exchange.Account
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/gift", map[string]any{"to": to, "amount": amount}, &out)
	return out, err
}

func (c *Client) Leaderboard(ctx context.Context, limit int) ([]exchange.LeaderboardRow, error) {
	var out struct {
		Rows []exchange.LeaderboardRow `json:"rows"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/leaderboard?limit="+strconv.Itoa(limit), nil, &out)
	return out.Rows, err
}

// Admin posts to an admin route and returns the raw JSON object.
func (c *Client) Admin(ctx context.Context, method, path string, body map[string]any) (map[string]any, error) {
	var out map[string]any
	var in any
	if body != nil {
		in = body
	}
	err := c.jsonRequest(ctx, method, "/v1/admin"+path, in, &out)
	return out, err
}

// StreamURL is the websocket URL of the event stream.
func (c *Client) StreamURL() string {
	base := c.BaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/v1/stream"
}

// Headers are the identity headers sent with every request.
func (c *Client) Headers() http.Header {
	h := http.Header{}
	if c.UserID != "" {
		h.Set("X-User-ID", c.UserID)
	}
	if c.Token != "" {
		h.Set("Authorization", "Bearer "+c.Token)
	}
	return h
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	for k, v := range c.Headers() {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-Id", requestID)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw)), RequestID: requestID}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SymbolPath drops the leading $ so symbols travel cleanly in URL paths.
func SymbolPath(symbol string) string {
	return url.PathEscape(strings.TrimPrefix(strings.TrimSpace(symbol), "$"))
}
