// Package signing implements the shared-secret HMAC scheme that binds
// channel adapters to the guardian. Every inbound payload is signed by
// the adapter and verified at the trust boundary before anything else
// looks at it.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the lowercase hex HMAC-SHA256 of message under secret.
func Sign(secret, message []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether providedHex is a valid signature of message
// under secret. An empty secret or an empty/undecodable signature fails
// without touching HMAC state. Equal-length digests are compared in
// constant time.
func Verify(secret, message []byte, providedHex string) bool {
	if len(secret) == 0 || providedHex == "" {
		return false
	}
	provided, err := hex.DecodeString(providedHex)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return hmac.Equal(mac.Sum(nil), provided)
}
