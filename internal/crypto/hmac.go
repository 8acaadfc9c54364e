package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the credentials for venues that authenticate requests with
// an HMAC-SHA256 header signature over timestamp+method+path+body.
type HMACAuth struct {
	Key    string // API key identifier
	Secret string // shared secret (base64-encoded where the venue issues one)
}

// Headers returns the authentication headers for a signed request. The
// signature is HMAC-SHA256(secret, timestamp+method+path+body) encoded as
// base64.
//
// Returned header keys:
//   - X-Api-Key
//   - X-Timestamp
//   - X-Signature
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	message := ts + method + path + body
	sig := hmacSHA256Base64(h.secretBytes(), message)

	return map[string]string{
		"X-Api-Key":   h.Key,
		"X-Timestamp": ts,
		"X-Signature": sig,
	}
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

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// secretBytes base64-decodes the secret when possible. If decoding fails the
// raw bytes are used so the caller gets an obviously-wrong signature rather
// than a panic.
func (h *HMACAuth) secretBytes() []byte {
	secretBytes, err := base64.StdEncoding.DecodeString(h.Secret)
	if err != nil {
		return []byte(h.Secret)
	}
	return secretBytes
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
