// Package types defines the wire and domain types shared across the bot.
//
// Monetary fields (prices, quantities) use shopspring decimals at the
// exchange boundary — Bithumb quotes KRW prices as integral strings and
// quantities with 8 decimal places, and float accumulation error must not
// leak into order payloads. Analytics layers convert to float64 explicitly.
package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the aggressor side of a trade tick.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// SideFromBithumb translates the venue's buySellGb field: "2" = buy, "1" = sell.
// The mapping is isolated here so a venue-semantics reversal is a one-line change.
func SideFromBithumb(gb string) (Side, bool) {
	switch gb {
	case "2":
		return SideBuy, true
	case "1":
		return SideSell, true
	default:
		return "", false
	}
}

// OrderSide is the order direction in Bithumb's private API vocabulary.
type OrderSide string

const (
	Bid OrderSide = "bid" // buy
	Ask OrderSide = "ask" // sell
)

// OrderType selects limit vs market execution.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderBookLevel is one price level of the depth-10 book.
type OrderBookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Tick is a single executed trade from the transaction stream.
type Tick struct {
	Symbol   string
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Side     Side
	Time     time.Time
}

// Valid reports whether the tick satisfies the strictly-positive invariant.
// Out-of-range ticks are dropped silently by callers.
func (t Tick) Valid() bool {
	return t.Price.IsPositive() && t.Quantity.IsPositive()
}

// Candle is one row of /public/candlestick:
// [timestamp_ms, open, close, high, low, volume].
type Candle struct {
	Time   time.Time
	Open   decimal.Decimal
	Close  decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Volume decimal.Decimal
}

// UnmarshalJSON decodes the positional candlestick row format. The venue
// sends the timestamp as a number and prices as quoted strings; decimals
// accept either form.
func (c *Candle) UnmarshalJSON(data []byte) error {
	var row []json.RawMessage
	if err := json.Unmarshal(data, &row); err != nil {
		return err
	}
	if len(row) < 6 {
		return fmt.Errorf("candle row has %d fields, want 6", len(row))
	}
	var ts decimal.Decimal
	if err := json.Unmarshal(row[0], &ts); err != nil {
		return err
	}
	c.Time = time.UnixMilli(ts.IntPart()).UTC()
	fields := []*decimal.Decimal{&c.Open, &c.Close, &c.High, &c.Low, &c.Volume}
	for i, f := range fields {
		if err := json.Unmarshal(row[i+1], f); err != nil {
			return err
		}
	}
	return nil
}

// Order is the input to Client.PlaceOrder.
// Market orders carry only units; limit orders carry an integral KRW price too.
type Order struct {
	Symbol   string
	Side     OrderSide
	Quantity decimal.Decimal
	Price    decimal.Decimal // ignored for market orders
	Type     OrderType
}

// OrderResult is the raw private-API response for /trade/place and /trade/cancel.
type OrderResult struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id"`
	Message string `json:"message"`
}

// OK reports venue-level success ("0000").
func (r OrderResult) OK() bool { return r.Status == StatusOK }

// Response envelope status codes.
const (
	StatusOK        = "0000" // success
	StatusNoAPIKeys = "9999" // local sentinel: keys not configured, no request issued
)

// Ticker is the subset of /public/ticker we consume.
type Ticker struct {
	ClosingPrice decimal.Decimal `json:"closing_price"`
	MinPrice     decimal.Decimal `json:"min_price"`
	MaxPrice     decimal.Decimal `json:"max_price"`
	UnitsTraded  decimal.Decimal `json:"units_traded"`
	Date         string          `json:"date"`
}

// OrderBook is the /public/orderbook payload.
type OrderBook struct {
	Timestamp string           `json:"timestamp"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
}

// Transaction is one row of /public/transaction_history.
type Transaction struct {
	TransactionDate string          `json:"transaction_date"`
	Type            string          `json:"type"` // "bid" | "ask"
	UnitsTraded     decimal.Decimal `json:"units_traded"`
	Price           decimal.Decimal `json:"price"`
	Total           decimal.Decimal `json:"total"`
}

// Balance is the subset of /info/balance we consume.
type Balance struct {
	AvailableKRW decimal.Decimal
	TotalKRW     decimal.Decimal
}

// WSSubscribe is the outbound subscription frame.
type WSSubscribe struct {
	Type      string   `json:"type"`
	Symbols   []string `json:"symbols"`
	TickTypes []string `json:"tickTypes"`
}

// WSFrame is the inbound message envelope; Content shape depends on Type.
type WSFrame struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// Stream event types.
const (
	EventOrderBookDepth = "orderbookdepth"
	EventTransaction    = "transaction"
)

// DepthContent is the content of an orderbookdepth frame.
type DepthContent struct {
	Symbol string      `json:"symbol"` // e.g. "BTC_KRW"
	List   []DepthItem `json:"list"`
}

// DepthItem carries one side/level update; OrderType is "bid" or "ask".
type DepthItem struct {
	OrderType string          `json:"orderType"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// TransactionContent is the content of a transaction frame.
type TransactionContent struct {
	Symbol string            `json:"symbol"`
	List   []TransactionItem `json:"list"`
}

// TransactionItem is one executed trade in the stream.
type TransactionItem struct {
	ContPrice decimal.Decimal `json:"contPrice"`
	ContQty   decimal.Decimal `json:"contQty"`
	BuySellGb string          `json:"buySellGb"`
	ContDtm   string          `json:"contDtm"`
}

// BareSymbol strips the "_KRW" market suffix from a stream symbol.
func BareSymbol(s string) string {
	const suffix = "_KRW"
	if len(s) > len(suffix) && s[len(s)-len(suffix):] == suffix {
		return s[:len(s)-len(suffix)]
	}
	return s
}
