package exchange

import (
	"net/url"
	"strconv"
	"testing"
)

func TestSignDeterministic(t *testing.T) {
	t.Parallel()
	s := NewSigner("key", "secret")

	a := s.Sign("/trade/place", "order_currency=BTC&units=0.1", "1700000000000")
	b := s.Sign("/trade/place", "order_currency=BTC&units=0.1", "1700000000000")

	if a != b {
		t.Errorf("same inputs produced different signatures: %q vs %q", a, b)
	}
	if len(a) != 128 {
		t.Errorf("signature length = %d, want 128 hex chars (SHA-512)", len(a))
	}
	for _, c := range a {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			t.Fatalf("signature contains non-lowercase-hex char %q", c)
		}
	}
}

func TestSignVariesWithInputs(t *testing.T) {
	t.Parallel()
	s := NewSigner("key", "secret")

	base := s.Sign("/trade/place", "a=1", "100")
	tests := []struct {
		name     string
		endpoint string
		query    string
		nonce    string
	}{
		{"different endpoint", "/trade/cancel", "a=1", "100"},
		{"different query", "/trade/place", "a=2", "100"},
		{"different nonce", "/trade/place", "a=1", "101"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := s.Sign(tt.endpoint, tt.query, tt.nonce); got == base {
				t.Error("signature did not change with input")
			}
		})
	}
}

func TestNonceStrictlyIncreasing(t *testing.T) {
	t.Parallel()
	s := NewSigner("key", "secret")

	prev := int64(0)
	for i := 0; i < 100; i++ {
		n, err := strconv.ParseInt(s.Nonce(), 10, 64)
		if err != nil {
			t.Fatalf("nonce not decimal: %v", err)
		}
		if n <= prev {
			t.Fatalf("nonce %d not greater than previous %d", n, prev)
		}
		prev = n
	}
}

func TestConfigured(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		key    string
		secret string
		want   bool
	}{
		{"both present", "k", "s", true},
		{"missing key", "", "s", false},
		{"missing secret", "k", "", false},
		{"both missing", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := NewSigner(tt.key, tt.secret).Configured(); got != tt.want {
				t.Errorf("Configured() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHeaders(t *testing.T) {
	t.Parallel()
	s := NewSigner("api-key", "secret")

	form := url.Values{}
	form.Set("order_currency", "BTC")
	form.Set("endpoint", "/info/balance")

	headers, body := s.Headers("/info/balance", form)

	if headers["Api-Key"] != "api-key" {
		t.Errorf("Api-Key = %q", headers["Api-Key"])
	}
	if headers["Content-Type"] != "application/x-www-form-urlencoded" {
		t.Errorf("Content-Type = %q", headers["Content-Type"])
	}
	if body != form.Encode() {
		t.Errorf("body %q does not match encoded form %q", body, form.Encode())
	}
	// The signature must cover exactly the returned body and nonce.
	want := s.Sign("/info/balance", body, headers["Api-Nonce"])
	if headers["Api-Sign"] != want {
		t.Errorf("Api-Sign does not verify against body+nonce")
	}
}
