package protocol

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Message header names used on primitive subjects.
const (
	HeaderSignature = "Primbus-Signature"
	// HeaderMsgID matches nats.MsgIdHdr so JetStream deduplicates on it.
	HeaderMsgID = "Nats-Msg-Id"
)

// Sign computes an HMAC-SHA256 signature over a message body.
// If secret is empty, the body is left unsigned and Sign returns "".
func Sign(body []byte, secret string) string {
	if secret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the HMAC-SHA256 signature on a message body.
// If secret is empty, verification is skipped (returns true).
// If the body has no signature but a secret is configured, returns false.
func Verify(body []byte, signature, secret string) bool {
	if secret == "" {
		return true
	}
	if signature == "" {
		return false
	}
	expected := Sign(body, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
