// Package crypto provides HMAC request authentication for the balance ledger
// API and encrypted-at-rest storage for its secret.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the credentials for HMAC-authenticated requests against the
// balance ledger API.
type HMACAuth struct {
	Key    string // API key identifying this engine instance
	Secret string // shared signing secret
}

// Headers returns the HTTP headers for a signed ledger request. The signature
// is HMAC-SHA256(secret, timestamp+method+path+body) encoded as base64.
//
// Returned header keys:
//   - X-Ledger-Key
//   - X-Ledger-Timestamp
//   - X-Ledger-Signature
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	message := ts + method + path + body
	sig := hmacSHA256Base64([]byte(h.Secret), message)

	return map[string]string{
		"X-Ledger-Key":       h.Key,
		"X-Ledger-Timestamp": ts,
		"X-Ledger-Signature": sig,
	}
}

// Verify checks a signature produced by Headers for the given message parts.
// It compares in constant time.
func (h *HMACAuth) Verify(method, path, body, ts, signature string) bool {
	message := ts + method + path + body
	want := hmacSHA256Base64([]byte(h.Secret), message)
	return hmac.Equal([]byte(want), []byte(signature))
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result base64 standard-encoded.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
