package exchange

import (
	"encoding/json"
	"errors"
	"testing"

	"bithumb-scalper/pkg/types"
)

func newTestFeed() *Feed {
	return NewFeed("wss://example.test/ws", []string{"BTC"}, testLogger())
}

func TestDispatchRoutesByType(t *testing.T) {
	t.Parallel()
	f := newTestFeed()

	var gotDepth, gotTx int
	f.On(types.EventOrderBookDepth, func(content json.RawMessage) error {
		gotDepth++
		return nil
	})
	f.On(types.EventTransaction, func(content json.RawMessage) error {
		gotTx++
		return nil
	})

	f.dispatch([]byte(`{"type":"orderbookdepth","content":{"symbol":"BTC_KRW","list":[]}}`))
	f.dispatch([]byte(`{"type":"transaction","content":{"symbol":"BTC_KRW","list":[]}}`))
	f.dispatch([]byte(`{"type":"transaction","content":{"symbol":"BTC_KRW","list":[]}}`))

	if gotDepth != 1 {
		t.Errorf("depth handler called %d times, want 1", gotDepth)
	}
	if gotTx != 2 {
		t.Errorf("transaction handler called %d times, want 2", gotTx)
	}
}

func TestDispatchHandlerOrder(t *testing.T) {
	t.Parallel()
	f := newTestFeed()

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		f.On(types.EventTransaction, func(json.RawMessage) error {
			order = append(order, i)
			return nil
		})
	}

	f.dispatch([]byte(`{"type":"transaction","content":{}}`))

	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Errorf("handlers ran in order %v, want [0 1 2]", order)
	}
}

func TestDispatchIsolatesHandlerFailures(t *testing.T) {
	t.Parallel()
	f := newTestFeed()

	var after int
	f.On(types.EventTransaction, func(json.RawMessage) error {
		return errors.New("boom")
	})
	f.On(types.EventTransaction, func(json.RawMessage) error {
		panic("worse")
	})
	f.On(types.EventTransaction, func(json.RawMessage) error {
		after++
		return nil
	})

	// Neither the error nor the panic may stop dispatch.
	f.dispatch([]byte(`{"type":"transaction","content":{}}`))

	if after != 1 {
		t.Errorf("handler after failures called %d times, want 1", after)
	}
}

func TestDispatchIgnoresUnknownAndMalformed(t *testing.T) {
	t.Parallel()
	f := newTestFeed()

	var called int
	f.On(types.EventTransaction, func(json.RawMessage) error {
		called++
		return nil
	})

	f.dispatch([]byte(`{"type":"ticker","content":{}}`))
	f.dispatch([]byte(`{"status":"0000","resmsg":"Connected Successfully"}`))
	f.dispatch([]byte(`not json at all`))

	if called != 0 {
		t.Errorf("handler called %d times for ignorable frames", called)
	}
}

func TestIsConnectedInitiallyFalse(t *testing.T) {
	t.Parallel()
	if newTestFeed().IsConnected() {
		t.Error("feed reports connected before Run")
	}
}
