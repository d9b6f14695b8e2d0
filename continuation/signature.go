package continuation

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// SignatureHeader carries the queue's message signature
const SignatureHeader = "X-Queue-Signature"

// Signature verification errors
var (
	ErrMissingSignature = errors.New("missing signature header")
	ErrInvalidSignature = errors.New("invalid signature")
)

// SignatureVerifier checks webhook payloads against the configured signing
// keys. Two keys are accepted at once so keys can rotate without a delivery
// gap: messages signed with either the current or the next key pass.
type SignatureVerifier struct {
	enabled    bool
	currentKey []byte
	nextKey    []byte
}

// NewSignatureVerifier creates a verifier. When enabled is false every
// payload passes; that configuration is rejected for production by
// config.Validate, not here.
func NewSignatureVerifier(enabled bool, currentKey, nextKey string) *SignatureVerifier {
	v := &SignatureVerifier{enabled: enabled}
	if currentKey != "" {
		v.currentKey = []byte(currentKey)
	}
	if nextKey != "" {
		v.nextKey = []byte(nextKey)
	}
	return v
}

// Verify checks the signature header against the message body
func (v *SignatureVerifier) Verify(signature string, body []byte) error {
	if !v.enabled {
		return nil
	}
	if signature == "" {
		return ErrMissingSignature
	}
	if v.matches(v.currentKey, signature, body) || v.matches(v.nextKey, signature, body) {
		return nil
	}
	return ErrInvalidSignature
}

func (v *SignatureVerifier) matches(key []byte, signature string, body []byte) bool {
	if len(key) == 0 {
		return false
	}
	return hmac.Equal([]byte(Sign(key, body)), []byte(signature))
}

// Sign computes the hex HMAC-SHA256 signature of a payload. Exposed so the
// publisher side and tests can produce valid headers.
func Sign(key, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignString is a convenience wrapper around Sign for string keys
func SignString(key string, body []byte) string {
	if key == "" {
		return ""
	}
	return Sign([]byte(key), body)
}

// Describe reports the verifier mode for startup logging
func (v *SignatureVerifier) Describe() string {
	if !v.enabled {
		return "disabled"
	}
	return fmt.Sprintf("enabled (keys: %d)", v.keyCount())
}

func (v *SignatureVerifier) keyCount() int {
	n := 0
	if len(v.currentKey) > 0 {
		n++
	}
	if len(v.nextKey) > 0 {
		n++
	}
	return n
}
