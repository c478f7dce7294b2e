package types

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestSideFromBithumb(t *testing.T) {
	t.Parallel()

	tests := []struct {
		gb     string
		want   Side
		wantOK bool
	}{
		{"2", SideBuy, true},
		{"1", SideSell, true},
		{"0", "", false},
		{"", "", false},
		{"bid", "", false},
	}
	for _, tt := range tests {
		got, ok := SideFromBithumb(tt.gb)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("SideFromBithumb(%q) = (%q, %v), want (%q, %v)", tt.gb, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestTickValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		price string
		qty   string
		want  bool
	}{
		{"positive", "100", "0.5", true},
		{"zero price", "0", "0.5", false},
		{"negative price", "-1", "0.5", false},
		{"zero qty", "100", "0", false},
		{"negative qty", "100", "-0.1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tick := Tick{
				Price:    decimal.RequireFromString(tt.price),
				Quantity: decimal.RequireFromString(tt.qty),
			}
			if got := tick.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCandleUnmarshal(t *testing.T) {
	t.Parallel()

	// The venue mixes a numeric timestamp with quoted price strings.
	raw := `[1700000000000,"3000000","3010000","3020000","2990000","15.5"]`
	var c Candle
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.Time.UnixMilli() != 1700000000000 {
		t.Errorf("time = %d", c.Time.UnixMilli())
	}
	if !c.Open.Equal(decimal.NewFromInt(3000000)) || !c.Close.Equal(decimal.NewFromInt(3010000)) {
		t.Errorf("ohlc = %s/%s/%s/%s", c.Open, c.Close, c.High, c.Low)
	}
	if !c.Volume.Equal(decimal.RequireFromString("15.5")) {
		t.Errorf("volume = %s", c.Volume)
	}
}

func TestCandleUnmarshalRejectsShortRows(t *testing.T) {
	t.Parallel()

	var c Candle
	if err := json.Unmarshal([]byte(`[1700000000000,"1","2"]`), &c); err == nil {
		t.Error("expected error for short candle row")
	}
}

func TestBareSymbol(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"BTC_KRW", "BTC"},
		{"DOGE_KRW", "DOGE"},
		{"BTC", "BTC"},
		{"_KRW", "_KRW"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := BareSymbol(tt.in); got != tt.want {
			t.Errorf("BareSymbol(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWSFrameDecoding(t *testing.T) {
	t.Parallel()

	raw := `{"type":"transaction","content":{"symbol":"BTC_KRW","list":[
		{"contPrice":"52000000","contQty":"0.01","buySellGb":"2","contDtm":"2025-06-01 12:00:00"}]}}`

	var frame WSFrame
	if err := json.Unmarshal([]byte(raw), &frame); err != nil {
		t.Fatalf("frame: %v", err)
	}
	if frame.Type != EventTransaction {
		t.Errorf("type = %q", frame.Type)
	}

	var content TransactionContent
	if err := json.Unmarshal(frame.Content, &content); err != nil {
		t.Fatalf("content: %v", err)
	}
	if len(content.List) != 1 {
		t.Fatalf("list len = %d", len(content.List))
	}
	if !content.List[0].ContPrice.Equal(decimal.NewFromInt(52000000)) {
		t.Errorf("price = %s", content.List[0].ContPrice)
	}
}

func TestOrderResultOK(t *testing.T) {
	t.Parallel()

	if !(OrderResult{Status: "0000"}).OK() {
		t.Error("0000 must be OK")
	}
	if (OrderResult{Status: "9999"}).OK() {
		t.Error("9999 must not be OK")
	}
	if (OrderResult{Status: "5600"}).OK() {
		t.Error("5600 must not be OK")
	}
}
