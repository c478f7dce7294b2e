// ws.go implements the Bithumb public streaming feed.
//
// One connection subscribes to orderbook-depth and transaction streams for
// the configured symbols (tick type "1H"). Inbound frames are classified by
// their "type" field and the "content" payload is dispatched to every
// registered handler for that event, in registration order. Handler errors
// (and panics) are logged and swallowed — one bad handler must not kill the
// stream. The feed auto-reconnects with exponential backoff (1s → 30s max),
// resetting to 1s after a successful subscription.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"bithumb-scalper/pkg/types"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
	wsReadTimeout  = 90 * time.Second // silent server triggers reconnect
	wsWriteTimeout = 10 * time.Second
)

// Handler consumes the raw content payload of one stream event.
// Returned errors are logged by the feed and otherwise ignored.
type Handler func(content json.RawMessage) error

// Feed manages the streaming connection: lifecycle, subscription,
// classification, and handler dispatch.
type Feed struct {
	url     string
	symbols []string

	handlersMu sync.RWMutex
	handlers   map[string][]Handler

	conn      *websocket.Conn
	connMu    sync.Mutex
	connected atomic.Bool

	logger *slog.Logger
}

// NewFeed creates a feed for the given symbols (bare, without _KRW).
func NewFeed(wsURL string, symbols []string, logger *slog.Logger) *Feed {
	return &Feed{
		url:      wsURL,
		symbols:  symbols,
		handlers: make(map[string][]Handler),
		logger:   logger.With("component", "ws"),
	}
}

// On registers a handler for an event type ("orderbookdepth" | "transaction").
// Handlers run sequentially in registration order on the read goroutine;
// long work belongs in the engine layer, which must return promptly.
func (f *Feed) On(event string, h Handler) {
	f.handlersMu.Lock()
	defer f.handlersMu.Unlock()
	f.handlers[event] = append(f.handlers[event], h)
}

// IsConnected reports whether the socket is currently up and subscribed.
func (f *Feed) IsConnected() bool { return f.connected.Load() }

// Run connects and maintains the streaming connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	backoff := initialBackoff

	for {
		subscribed, err := f.connectAndRead(ctx)
		f.connected.Store(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A session that got as far as subscribing earns a fresh backoff.
		if subscribed {
			backoff = initialBackoff
		}

		f.logger.Warn("stream disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Close tears down the current connection, if any.
func (f *Feed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

// connectAndRead runs one connection session. The bool reports whether the
// subscription was sent successfully (controls backoff reset).
func (f *Feed) connectAndRead(ctx context.Context) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.subscribe(conn); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	f.connected.Store(true)

	f.logger.Info("stream connected", "symbols", f.symbols)

	for {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}

		f.dispatch(msg)
	}
}

// subscribe sends the orderbook-depth and transaction subscriptions.
func (f *Feed) subscribe(conn *websocket.Conn) error {
	markets := make([]string, len(f.symbols))
	for i, s := range f.symbols {
		markets[i] = s + "_KRW"
	}

	for _, event := range []string{types.EventOrderBookDepth, types.EventTransaction} {
		msg := types.WSSubscribe{
			Type:      event,
			Symbols:   markets,
			TickTypes: []string{"1H"},
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("%s: %w", event, err)
		}
	}
	return nil
}

// dispatch classifies one inbound frame and fans the content out to the
// registered handlers. Parse errors are logged and skipped; unknown event
// types are ignored.
func (f *Feed) dispatch(data []byte) {
	var frame types.WSFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		f.logger.Debug("ignoring non-json stream message", "error", err)
		return
	}

	switch frame.Type {
	case types.EventOrderBookDepth, types.EventTransaction:
	default:
		// Subscription acks and anything else we did not ask for.
		return
	}

	f.handlersMu.RLock()
	handlers := f.handlers[frame.Type]
	f.handlersMu.RUnlock()

	for _, h := range handlers {
		f.invoke(frame.Type, h, frame.Content)
	}
}

// invoke runs one handler with error and panic isolation.
func (f *Feed) invoke(event string, h Handler, content json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("handler panic", "event", event, "panic", r)
		}
	}()
	if err := h(content); err != nil {
		f.logger.Error("handler error", "event", event, "error", err)
	}
}
