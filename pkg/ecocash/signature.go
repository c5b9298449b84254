package ecocash

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Ecocash-Signature"

var (
	ErrSignatureMissing  = errors.New("webhook signature missing")
	ErrSignatureMismatch = errors.New("webhook signature mismatch")
)

// Sign returns the lowercase hex HMAC-SHA256 of payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares in constant time. A "sha256=" prefix is accepted.
func VerifySignature(secret string, payload []byte, signature string) error {
	sig := strings.TrimSpace(signature)
	sig = strings.TrimPrefix(sig, "sha256=")
	if sig == "" {
		return ErrSignatureMissing
	}
	expected := Sign(secret, payload)
	if !hmac.Equal([]byte(strings.ToLower(sig)), []byte(expected)) {
		return ErrSignatureMismatch
	}
	return nil
}
