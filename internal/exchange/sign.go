// sign.go implements Bithumb private-API request signing.
//
// Every private call is authenticated with an HMAC-SHA512 signature over
// endpoint, urlencoded form body, and a millisecond nonce joined by NUL
// (0x00) bytes, rendered as lowercase hex. The nonce is strictly increasing
// across calls even when two calls land in the same millisecond.
package exchange

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// Signer holds the API key pair and produces signed headers for private calls.
type Signer struct {
	apiKey string
	secret []byte

	mu        sync.Mutex
	lastNonce int64
}

// NewSigner creates a signer. Empty key or secret leaves it unconfigured;
// callers must check Configured() before issuing private requests.
func NewSigner(apiKey, secretKey string) *Signer {
	return &Signer{apiKey: apiKey, secret: []byte(secretKey)}
}

// Configured reports whether both API key and secret are present.
func (s *Signer) Configured() bool {
	return s.apiKey != "" && len(s.secret) > 0
}

// Nonce returns milliseconds since epoch as a decimal string, strictly
// increasing across calls.
func (s *Signer) Nonce() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := time.Now().UnixMilli()
	if n <= s.lastNonce {
		n = s.lastNonce + 1
	}
	s.lastNonce = n
	return strconv.FormatInt(n, 10)
}

// Sign computes the lowercase-hex HMAC-SHA512 of
// endpoint || 0x00 || query || 0x00 || nonce. Deterministic for a fixed nonce.
func (s *Signer) Sign(endpoint, query, nonce string) string {
	mac := hmac.New(sha512.New, s.secret)
	mac.Write([]byte(endpoint))
	mac.Write([]byte{0x00})
	mac.Write([]byte(query))
	mac.Write([]byte{0x00})
	mac.Write([]byte(nonce))
	return hex.EncodeToString(mac.Sum(nil))
}

// Headers builds the signed header set for a private POST and returns it
// together with the urlencoded form body the signature covers.
func (s *Signer) Headers(endpoint string, form url.Values) (map[string]string, string) {
	query := form.Encode()
	nonce := s.Nonce()
	return map[string]string{
		"Api-Key":      s.apiKey,
		"Api-Sign":     s.Sign(endpoint, query, nonce),
		"Api-Nonce":    nonce,
		"Content-Type": "application/x-www-form-urlencoded",
	}, query
}
