// Package buda implements the REST and realtime clients for the Buda.com
// exchange API.
package buda

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cmardones/budabid/internal/domain"
)

const (
	maxAttempts = 3
	retryDelay  = 5 * time.Second
)

// Client is the authenticated REST client for the Buda API. It retries
// rate-limited and transient network failures a bounded number of times
// before surfacing a typed error.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	nonce      NonceSource
	logger     *slog.Logger
}

// NewClient creates a Buda REST client. baseURL is the API root including the
// version prefix, e.g. "https://www.buda.com/api/v2".
func NewClient(baseURL, apiKey, apiSecret string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With(slog.String("component", "buda_client")),
	}
}

// GetBalance returns the available amount for a single currency.
func (c *Client) GetBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	body, err := c.do(ctx, http.MethodGet, "/balances/"+strings.ToLower(currency), nil, true)
	if err != nil {
		return decimal.Zero, fmt.Errorf("buda: get balance %s: %w", currency, err)
	}

	var resp struct {
		Balance Balance `json:"balance"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("buda: decode balance: %w", err)
	}
	return resp.Balance.AvailableAmount.Decimal()
}

// GetBalances returns the balances for all currencies.
func (c *Client) GetBalances(ctx context.Context) ([]Balance, error) {
	body, err := c.do(ctx, http.MethodGet, "/balances", nil, true)
	if err != nil {
		return nil, fmt.Errorf("buda: get balances: %w", err)
	}

	var resp struct {
		Balances []Balance `json:"balances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("buda: decode balances: %w", err)
	}
	return resp.Balances, nil
}

// GetOrderBook fetches the full order book for a market and converts it into
// a fallback-sourced domain snapshot with bids descending and asks ascending.
func (c *Client) GetOrderBook(ctx context.Context, marketID string) (domain.BookSnapshot, error) {
	path := fmt.Sprintf("/markets/%s/order_book", url.PathEscape(strings.ToLower(marketID)))
	body, err := c.do(ctx, http.MethodGet, path, nil, false)
	if err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("buda: get order book %s: %w", marketID, err)
	}

	var resp orderBookResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("buda: decode order book: %w", err)
	}

	bids, err := parseLevels(resp.OrderBook.Bids)
	if err != nil {
		return domain.BookSnapshot{}, err
	}
	asks, err := parseLevels(resp.OrderBook.Asks)
	if err != nil {
		return domain.BookSnapshot{}, err
	}

	sort.Slice(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })

	snap := domain.BookSnapshot{
		MarketID: strings.ToLower(marketID),
		Bids:     bids,
		Asks:     asks,
		AsOf:     time.Now(),
		Source:   domain.SourceFallback,
	}
	if len(bids) > 0 {
		snap.BestBid = bids[0].Price
	}
	if len(asks) > 0 {
		snap.BestAsk = asks[0].Price
	}
	return snap, nil
}

// GetMarket returns the exchange's metadata for a market. Public endpoint.
func (c *Client) GetMarket(ctx context.Context, marketID string) (Market, error) {
	body, err := c.do(ctx, http.MethodGet, "/markets/"+url.PathEscape(strings.ToLower(marketID)), nil, false)
	if err != nil {
		return Market{}, fmt.Errorf("buda: get market %s: %w", marketID, err)
	}

	var resp struct {
		Market Market `json:"market"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Market{}, fmt.Errorf("buda: decode market: %w", err)
	}
	return resp.Market, nil
}

// PlaceOrder submits a limit order. The clientID is an idempotency key for
// correlation; Buda assigns its own exchange id in the response. Amounts and
// prices are formatted as plain decimal strings.
func (c *Client) PlaceOrder(ctx context.Context, marketID string, side domain.Side, amount, price decimal.Decimal, clientID string) (domain.LiveOrder, error) {
	reqBody := map[string]any{
		"order": map[string]string{
			"type":       sideToOrderType(side),
			"price_type": "limit",
			"amount":     amount.String(),
			"limit":      price.String(),
		},
	}

	path := fmt.Sprintf("/markets/%s/orders", url.PathEscape(strings.ToLower(marketID)))
	body, err := c.do(ctx, http.MethodPost, path, reqBody, true)
	if err != nil {
		return domain.LiveOrder{}, fmt.Errorf("buda: place order: %w", err)
	}

	var resp struct {
		Order Order `json:"order"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.LiveOrder{}, fmt.Errorf("buda: decode order: %w", err)
	}

	c.logger.InfoContext(ctx, "order placed",
		slog.String("market", marketID),
		slog.String("order_id", resp.Order.ID.String()),
		slog.String("client_id", clientID),
		slog.String("price", price.String()),
		slog.String("amount", amount.String()),
	)

	return domain.LiveOrder{
		ExchangeID:      resp.Order.ID.String(),
		ClientID:        clientID,
		Price:           price,
		RequestedAmount: amount,
		State:           domain.OrderStateActive,
	}, nil
}

// GetOrder returns the current exchange-reported status of an order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	body, err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, true)
	if err != nil {
		return domain.OrderStatus{}, fmt.Errorf("buda: get order %s: %w", orderID, err)
	}

	var resp struct {
		Order Order `json:"order"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderStatus{}, fmt.Errorf("buda: decode order: %w", err)
	}
	return resp.Order.Status()
}

// CancelOrder requests cancellation and returns the status reported by the
// exchange for the cancel request. The order may still be "canceling" or even
// trade before the cancel lands; callers must re-read the order afterwards.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	reqBody := map[string]string{"state": "canceling"}
	body, err := c.do(ctx, http.MethodPut, "/orders/"+url.PathEscape(orderID), reqBody, true)
	if err != nil {
		return domain.OrderStatus{}, fmt.Errorf("buda: cancel order %s: %w", orderID, err)
	}

	var resp struct {
		Order Order `json:"order"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderStatus{}, fmt.Errorf("buda: decode order: %w", err)
	}
	return resp.Order.Status()
}

// GetPubsubKey returns the account's key for the private realtime orders
// channel.
func (c *Client) GetPubsubKey(ctx context.Context) (string, error) {
	body, err := c.do(ctx, http.MethodGet, "/me", nil, true)
	if err != nil {
		return "", fmt.Errorf("buda: get me: %w", err)
	}

	var resp struct {
		User struct {
			PubsubKey string `json:"pubsub_key"`
		} `json:"user"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("buda: decode me: %w", err)
	}
	return resp.User.PubsubKey, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// do builds, signs, sends, and reads an HTTP request against the Buda API.
// Rate-limited (429) and transient network failures are retried up to
// maxAttempts with a delay; authentication failures are never retried.
func (c *Client) do(ctx context.Context, method, endpoint string, reqBody any, authenticated bool) ([]byte, error) {
	var jsonBody []byte
	if reqBody != nil {
		var err error
		jsonBody, err = json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	fullURL := c.baseURL + endpoint
	// The signed path includes the version prefix even though baseURL already
	// carries it in the URL.
	signPath := "/api/v2" + endpoint

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}

		var bodyReader io.Reader
		if jsonBody != nil {
			bodyReader = bytes.NewReader(jsonBody)
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		if authenticated {
			nonce := strconv.FormatInt(c.nonce.Next(), 10)
			signature := Sign(c.apiSecret, method, signPath, nonce, jsonBody)
			authHeaders(req, c.apiKey, signature, nonce)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			c.logger.WarnContext(ctx, "transient request failure, retrying",
				slog.String("endpoint", endpoint),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("read response: %w", readErr)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = domain.ErrRateLimited
			delay := retryAfter(resp, retryDelay)
			c.logger.WarnContext(ctx, "rate limited, backing off",
				slog.String("endpoint", endpoint),
				slog.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		if err := checkStatus(resp.StatusCode, respBody); err != nil {
			return nil, err
		}
		return respBody, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// retryAfter honours a Retry-After header when present, else returns fallback.
func retryAfter(resp *http.Response, fallback time.Duration) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

// checkStatus maps non-2xx HTTP status codes onto the domain error taxonomy.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, msg)
	case insufficientBalance(msg):
		return fmt.Errorf("%w: %s", domain.ErrInsufficientBalance, msg)
	default:
		return fmt.Errorf("buda: HTTP %d: %s (%s)", statusCode, msg, apiErr.Code)
	}
}

// insufficientBalance sniffs the error message; Buda does not use a dedicated
// status code for this condition.
func insufficientBalance(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "insufficient") || strings.Contains(m, "balance")
}

func parseLevels(entries []bookEntry) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		lvl, err := e.level()
		if err != nil {
			return nil, err
		}
		if !lvl.Size.IsPositive() {
			continue
		}
		key := lvl.Price.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		levels = append(levels, lvl)
	}
	return levels, nil
}
