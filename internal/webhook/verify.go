package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Plushify-Signature"

// Sign computes the hex HMAC-SHA256 signature of a payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a presented signature against the payload in
// constant time.
func VerifySignature(secret string, payload []byte, presented string) bool {
	expected := Sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(presented))
}
