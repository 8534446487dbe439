package scheduler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Header names used on job callback deliveries.
const (
	SignatureHeader = "X-Queue-Signature"
	AuthHeader      = "Authorization"
)

// Sign computes the hex HMAC-SHA256 of a callback body.
func Sign(body []byte, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a callback signature in constant time.
func VerifySignature(body []byte, signature, key string) bool {
	if signature == "" || key == "" {
		return false
	}
	expected := Sign(body, key)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyBearer checks the local/dev bearer-token fallback. It is only
// consulted when the signature header is absent entirely.
func VerifyBearer(header, token string) bool {
	if token == "" {
		return false
	}
	return hmac.Equal([]byte(header), []byte("Bearer "+token))
}
