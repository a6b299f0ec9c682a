package security

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
)

// SignWebhookPayload computes the hex HMAC-SHA512 of the raw body under the
// gateway's shared secret, matching the signature header the payment
// provider sends with charge notifications.
func SignWebhookPayload(payload []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature compares in constant time. An invalid signature
// rejects the notification before any settlement state is touched.
func VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	expected := SignWebhookPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
