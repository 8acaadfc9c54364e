package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// RequestSigner signs venue API requests with a secp256k1 key. The signature
// covers Keccak256(timestamp+method+path+body) and is hex-encoded with the
// recovery byte appended (65 bytes total).
type RequestSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewRequestSigner creates a RequestSigner from a hex-encoded secp256k1
// private key (with or without 0x prefix).
func NewRequestSigner(privateKeyHex string) (*RequestSigner, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return &RequestSigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the address derived from the signer's private key.
func (s *RequestSigner) Address() common.Address {
	return s.address
}

// PrivateKey exposes the underlying key for SDKs that sign internally.
func (s *RequestSigner) PrivateKey() *ecdsa.PrivateKey {
	return s.privateKey
}

// SignRequest signs a request at the current time, returning the millisecond
// timestamp and hex signature for the caller's header scheme.
func (s *RequestSigner) SignRequest(method, path, body string) (timestamp, signature string, err error) {
	return s.SignRequestAt(method, path, body, time.Now().UnixMilli())
}

// SignRequestAt is like SignRequest but lets the caller supply the
// millisecond timestamp (useful for deterministic testing).
func (s *RequestSigner) SignRequestAt(method, path, body string, millis int64) (timestamp, signature string, err error) {
	ts := strconv.FormatInt(millis, 10)

	sig, err := s.sign(ts + method + path + body)
	if err != nil {
		return "", "", err
	}
	return ts, sig, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// sign hashes the message with Keccak256 and signs the digest, returning the
// hex-encoded signature (r || s || v, 65 bytes).
func (s *RequestSigner) sign(message string) (string, error) {
	digest := ethcrypto.Keccak256([]byte(message))

	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; venues expect v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return hex.EncodeToString(sig), nil
}
