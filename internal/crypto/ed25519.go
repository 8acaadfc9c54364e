package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// DefaultSignatureWindow is the validity window in milliseconds granted to a
// signed instruction.
const DefaultSignatureWindow = 5000

// InstructionSigner signs venue instructions with an ed25519 key. The signed
// message is
//
//	instruction=<name>[&<sorted query params>]&timestamp=<ms>&window=<ms>
//
// and the signature is base64-encoded.
type InstructionSigner struct {
	apiKey     string // base64 verifying key, sent as X-API-Key
	privateKey ed25519.PrivateKey
}

// NewInstructionSigner creates an InstructionSigner from a base64-encoded
// 32-byte ed25519 seed. apiKeyB64 is the venue-issued verifying key; when
// empty it is derived from the seed.
func NewInstructionSigner(apiKeyB64, secretB64 string) (*InstructionSigner, error) {
	seed, err := base64.StdEncoding.DecodeString(secretB64)
	if err != nil {
		return nil, fmt.Errorf("crypto/ed25519: decoding secret: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto/ed25519: expected %d-byte seed, got %d bytes", ed25519.SeedSize, len(seed))
	}

	priv := ed25519.NewKeyFromSeed(seed)
	if apiKeyB64 == "" {
		apiKeyB64 = base64.StdEncoding.EncodeToString(priv.Public().(ed25519.PublicKey))
	}

	return &InstructionSigner{
		apiKey:     apiKeyB64,
		privateKey: priv,
	}, nil
}

// APIKey returns the base64 verifying key sent with each request.
func (s *InstructionSigner) APIKey() string {
	return s.apiKey
}

// Sign returns the base64 signature for an instruction at the given
// millisecond timestamp and window.
func (s *InstructionSigner) Sign(instruction string, params url.Values, millis, window int64) string {
	message := "instruction=" + instruction
	if encoded := params.Encode(); encoded != "" {
		message += "&" + encoded
	}
	message += "&timestamp=" + strconv.FormatInt(millis, 10) + "&window=" + strconv.FormatInt(window, 10)

	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.privateKey, []byte(message)))
}

// Headers returns the authentication headers for a signed instruction.
//
// Returned header keys:
//   - X-API-Key
//   - X-Timestamp (milliseconds)
//   - X-Window (milliseconds)
//   - X-Signature
func (s *InstructionSigner) Headers(instruction string, params url.Values) map[string]string {
	return s.HeadersAt(instruction, params, time.Now().UnixMilli(), DefaultSignatureWindow)
}

// HeadersAt is like Headers but lets the caller supply the millisecond
// timestamp and window (useful for deterministic testing).
func (s *InstructionSigner) HeadersAt(instruction string, params url.Values, millis, window int64) map[string]string {
	return map[string]string{
		"X-API-Key":   s.apiKey,
		"X-Timestamp": strconv.FormatInt(millis, 10),
		"X-Window":    strconv.FormatInt(window, 10),
		"X-Signature": s.Sign(instruction, params, millis, window),
	}
}
