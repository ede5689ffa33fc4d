// Package webhook authenticates provider callbacks and reduces them to
// domain.NormalizedNotification.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/iho/gosettle/internal/domain"
)

const (
	// DefaultSignatureHeader carries the HMAC of the raw body.
	DefaultSignatureHeader = "X-Signature"
	// IdempotencyKeyHeader is the optional provider-supplied delivery key.
	IdempotencyKeyHeader = "Idempotency-Key"
)

// SignatureVerifier authenticates one provider's callbacks.
type SignatureVerifier interface {
	Provider() domain.Provider
	// Verify checks the signature over body and returns the normalized
	// notification. It fails with domain.ErrInvalidSignature or
	// domain.ErrMalformedNotification.
	Verify(headers http.Header, body []byte) (*domain.NormalizedNotification, error)
}

// Payload is the normalized JSON body HMAC providers post:
//
//	{"event_type":"payment.updated","transaction_id":"ext-1","direction":"deposit","status":"paid"}
type Payload struct {
	EventType     string `json:"event_type"`
	TransactionID string `json:"transaction_id"`
	Direction     string `json:"direction"`
	Status        string `json:"status"`
}

// HMACVerifier checks a SHA-256 HMAC of the raw body, hex or base64 encoded,
// optionally prefixed with "sha256=".
type HMACVerifier struct {
	provider domain.Provider
	secret   []byte
	header   string
}

// NewHMACVerifier creates a verifier for provider. An empty header means DefaultSignatureHeader.
func NewHMACVerifier(provider domain.Provider, secret, header string) *HMACVerifier {
	if header == "" {
		header = DefaultSignatureHeader
	}
	return &HMACVerifier{
		provider: normalizeProvider(provider),
		secret:   []byte(secret),
		header:   header,
	}
}

// Provider implements SignatureVerifier.
func (v *HMACVerifier) Provider() domain.Provider {
	return v.provider
}

// Sign returns the hex signature for body. Used by tests and the CLI.
func (v *HMACVerifier) Sign(body []byte) string {
	return hex.EncodeToString(v.mac(body))
}

// Verify implements SignatureVerifier.
func (v *HMACVerifier) Verify(headers http.Header, body []byte) (*domain.NormalizedNotification, error) {
	if !v.validSignature(headers.Get(v.header), body) {
		return nil, domain.ErrInvalidSignature
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedNotification, err)
	}

	return &domain.NormalizedNotification{
		Provider:              v.provider,
		EventType:             strings.TrimSpace(p.EventType),
		ExternalTransactionID: strings.TrimSpace(p.TransactionID),
		Direction:             domain.Direction(strings.ToLower(strings.TrimSpace(p.Direction))),
		ReportedStatus:        domain.ReportedStatus(strings.ToLower(strings.TrimSpace(p.Status))),
		IdempotencyKeyHeader:  headers.Get(IdempotencyKeyHeader),
	}, nil
}

func (v *HMACVerifier) validSignature(header string, body []byte) bool {
	sig := strings.TrimSpace(header)
	sig = strings.TrimPrefix(sig, "sha256=")
	if sig == "" {
		return false
	}

	expected := v.mac(body)
	if decoded, err := hex.DecodeString(sig); err == nil && hmac.Equal(decoded, expected) {
		return true
	}
	if decoded, err := base64.StdEncoding.DecodeString(sig); err == nil && hmac.Equal(decoded, expected) {
		return true
	}
	return false
}

func (v *HMACVerifier) mac(body []byte) []byte {
	m := hmac.New(sha256.New, v.secret)
	m.Write(body)
	return m.Sum(nil)
}

func normalizeProvider(p domain.Provider) domain.Provider {
	return domain.Provider(strings.ToLower(strings.TrimSpace(string(p))))
}
