// Package exchange implements the Bithumb REST and streaming clients.
//
// The REST client (Client) talks to the spot API:
//   - Ticker:             GET  /public/ticker/{S}_KRW
//   - OrderBook:          GET  /public/orderbook/{S}_KRW
//   - TransactionHistory: GET  /public/transaction_history/{S}_KRW
//   - Candlestick:        GET  /public/candlestick/{S}_KRW/{interval}
//   - Balance, Account:   POST /info/balance, /info/account  (signed)
//   - PlaceOrder:         POST /trade/place                   (signed)
//   - CancelOrder:        POST /trade/cancel                  (signed)
//
// Every response is wrapped in a {status, data} envelope; "0000" is success.
// A non-success status on a public read yields an empty result and a warning,
// never an error to callers. Private calls without configured keys return
// status "9999" locally without issuing a request. Order placement never
// retries — retries are a caller concern.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bithumb-scalper/internal/config"
	"bithumb-scalper/pkg/types"
)

// CandleIntervals lists the intervals /public/candlestick accepts.
var CandleIntervals = []string{"1m", "3m", "5m", "10m", "30m", "1h", "6h", "12h", "24h"}

// Client is the Bithumb REST API client. Public reads retry on 5xx;
// the private client never retries (order idempotence is not guaranteed
// by the venue, so a retry could double-fill).
type Client struct {
	pub    *resty.Client // public endpoints, retry on 5xx
	prv    *resty.Client // signed endpoints, no retry
	signer *Signer
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger
}

// envelope is the common {status, data} response wrapper.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// NewClient creates a REST client with rate limiting.
func NewClient(cfg config.ExchangeConfig, dryRun bool, logger *slog.Logger) *Client {
	pub := resty.New().
		SetBaseURL(cfg.RestURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	prv := resty.New().
		SetBaseURL(cfg.RestURL).
		SetTimeout(10 * time.Second)

	return &Client{
		pub:    pub,
		prv:    prv,
		signer: NewSigner(cfg.ApiKey, cfg.SecretKey),
		rl:     NewRateLimiter(),
		dryRun: dryRun,
		logger: logger.With("component", "exchange"),
	}
}

// publicGet fetches a public endpoint and unwraps the envelope.
// A bad venue status logs a warning and returns nil data.
func (c *Client) publicGet(ctx context.Context, path string) (json.RawMessage, error) {
	if err := c.rl.Public.Wait(ctx); err != nil {
		return nil, err
	}

	var env envelope
	resp, err := c.pub.R().
		SetContext(ctx).
		SetResult(&env).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("get %s: status %d", path, resp.StatusCode())
	}
	if env.Status != types.StatusOK {
		c.logger.Warn("public API returned non-success status",
			"path", path, "status", env.Status, "message", env.Message)
		return nil, nil
	}
	return env.Data, nil
}

// Ticker fetches the current ticker for a symbol.
func (c *Client) Ticker(ctx context.Context, symbol string) (types.Ticker, error) {
	var t types.Ticker
	data, err := c.publicGet(ctx, fmt.Sprintf("/public/ticker/%s_KRW", symbol))
	if err != nil || data == nil {
		return t, err
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return types.Ticker{}, fmt.Errorf("parse ticker: %w", err)
	}
	return t, nil
}

// OrderBook fetches the depth-10 order book for a symbol.
func (c *Client) OrderBook(ctx context.Context, symbol string) (types.OrderBook, error) {
	var ob types.OrderBook
	data, err := c.publicGet(ctx, fmt.Sprintf("/public/orderbook/%s_KRW", symbol))
	if err != nil || data == nil {
		return ob, err
	}
	if err := json.Unmarshal(data, &ob); err != nil {
		return types.OrderBook{}, fmt.Errorf("parse orderbook: %w", err)
	}
	return ob, nil
}

// TransactionHistory fetches recent executed trades for a symbol.
func (c *Client) TransactionHistory(ctx context.Context, symbol string) ([]types.Transaction, error) {
	data, err := c.publicGet(ctx, fmt.Sprintf("/public/transaction_history/%s_KRW", symbol))
	if err != nil || data == nil {
		return nil, err
	}
	var txs []types.Transaction
	if err := json.Unmarshal(data, &txs); err != nil {
		return nil, fmt.Errorf("parse transactions: %w", err)
	}
	return txs, nil
}

// Candlestick fetches chart rows for a symbol at the given interval
// (1m/3m/5m/10m/30m/1h/6h/12h/24h). Rows are oldest-first.
func (c *Client) Candlestick(ctx context.Context, symbol, interval string) ([]types.Candle, error) {
	data, err := c.publicGet(ctx, fmt.Sprintf("/public/candlestick/%s_KRW/%s", symbol, interval))
	if err != nil || data == nil {
		return nil, err
	}
	var candles []types.Candle
	if err := json.Unmarshal(data, &candles); err != nil {
		return nil, fmt.Errorf("parse candles: %w", err)
	}
	return candles, nil
}

// privatePost issues a signed form POST. Missing keys short-circuit to a
// local "9999" envelope without touching the network.
func (c *Client) privatePost(ctx context.Context, endpoint string, form url.Values) (envelope, error) {
	if !c.signer.Configured() {
		c.logger.Warn("private API call without configured keys", "endpoint", endpoint)
		return envelope{Status: types.StatusNoAPIKeys, Message: "API key not configured"}, nil
	}
	if err := c.rl.Private.Wait(ctx); err != nil {
		return envelope{}, err
	}

	// The endpoint itself is part of the signed form body.
	form.Set("endpoint", endpoint)
	headers, body := c.signer.Headers(endpoint, form)

	var env envelope
	resp, err := c.prv.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(body).
		SetResult(&env).
		Post(endpoint)
	if err != nil {
		return envelope{}, fmt.Errorf("post %s: %w", endpoint, err)
	}
	if resp.IsError() {
		return envelope{}, fmt.Errorf("post %s: status %d: %s", endpoint, resp.StatusCode(), resp.String())
	}
	return env, nil
}

// Balance fetches the KRW balance available for new orders.
func (c *Client) Balance(ctx context.Context, symbol string) (types.Balance, error) {
	form := url.Values{}
	form.Set("order_currency", symbol)
	form.Set("payment_currency", "KRW")

	env, err := c.privatePost(ctx, "/info/balance", form)
	if err != nil {
		return types.Balance{}, err
	}
	if env.Status != types.StatusOK {
		c.logger.Warn("balance query failed", "status", env.Status, "message", env.Message)
		return types.Balance{}, nil
	}

	var raw struct {
		AvailableKRW decimal.Decimal `json:"available_krw"`
		TotalKRW     decimal.Decimal `json:"total_krw"`
	}
	if err := json.Unmarshal(env.Data, &raw); err != nil {
		return types.Balance{}, fmt.Errorf("parse balance: %w", err)
	}
	return types.Balance{AvailableKRW: raw.AvailableKRW, TotalKRW: raw.TotalKRW}, nil
}

// Account fetches account info; returned as the raw data payload.
func (c *Client) Account(ctx context.Context) (json.RawMessage, error) {
	form := url.Values{}
	form.Set("order_currency", "BTC")

	env, err := c.privatePost(ctx, "/info/account", form)
	if err != nil {
		return nil, err
	}
	if env.Status != types.StatusOK {
		c.logger.Warn("account query failed", "status", env.Status, "message", env.Message)
		return nil, nil
	}
	return env.Data, nil
}

// PlaceOrder submits an order. Market orders send only units; limit orders
// send an integral KRW price and units. Inputs and the venue status are
// logged under a correlation id; the call is never retried.
func (c *Client) PlaceOrder(ctx context.Context, order types.Order) (types.OrderResult, error) {
	attempt := uuid.NewString()

	if c.dryRun {
		c.logger.Info("DRY-RUN: would place order",
			"attempt", attempt,
			"symbol", order.Symbol,
			"side", order.Side,
			"type", order.Type,
			"qty", order.Quantity,
			"price", order.Price,
		)
		return types.OrderResult{Status: types.StatusOK, OrderID: "dry-run-" + attempt}, nil
	}

	form := url.Values{}
	form.Set("order_currency", order.Symbol)
	form.Set("payment_currency", "KRW")
	form.Set("type", string(order.Side))

	if order.Type == types.OrderTypeMarket {
		form.Set("units", order.Quantity.String())
	} else {
		form.Set("price", order.Price.Round(0).String())
		form.Set("units", order.Quantity.String())
	}

	env, err := c.privatePost(ctx, "/trade/place", form)
	if err != nil {
		return types.OrderResult{}, err
	}

	result := types.OrderResult{Status: env.Status, Message: env.Message}
	// A successful /trade/place carries the order id at the top level of data.
	if env.Status == types.StatusOK && len(env.Data) > 0 {
		var d struct {
			OrderID string `json:"order_id"`
		}
		if err := json.Unmarshal(env.Data, &d); err == nil {
			result.OrderID = d.OrderID
		}
	}

	c.logger.Info("order placed",
		"attempt", attempt,
		"symbol", order.Symbol,
		"side", order.Side,
		"type", order.Type,
		"qty", order.Quantity,
		"price", order.Price,
		"status", result.Status,
		"order_id", result.OrderID,
	)
	return result, nil
}

// CancelOrder cancels a resting order.
func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string, side types.OrderSide) (types.OrderResult, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel order", "order_id", orderID, "symbol", symbol)
		return types.OrderResult{Status: types.StatusOK, OrderID: orderID}, nil
	}

	form := url.Values{}
	form.Set("order_id", orderID)
	form.Set("type", string(side))
	form.Set("order_currency", symbol)
	form.Set("payment_currency", "KRW")

	env, err := c.privatePost(ctx, "/trade/cancel", form)
	if err != nil {
		return types.OrderResult{}, err
	}
	c.logger.Info("order cancelled", "order_id", orderID, "symbol", symbol, "status", env.Status)
	return types.OrderResult{Status: env.Status, OrderID: orderID, Message: env.Message}, nil
}
