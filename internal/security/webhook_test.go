package security

import "testing"

func TestVerifyWebhookSignature(t *testing.T) {
	secret := "whsec-test"
	payload := []byte(`{"event":"charge.success","data":{"reference":"ref-1"}}`)

	sig := SignWebhookPayload(payload, secret)
	if !VerifyWebhookSignature(payload, sig, secret) {
		t.Fatal("expected valid signature to verify")
	}
	if VerifyWebhookSignature(payload, "", secret) {
		t.Fatal("empty signature must not verify")
	}
	if VerifyWebhookSignature(payload, sig+"00", secret) {
		t.Fatal("tampered signature must not verify")
	}
	if VerifyWebhookSignature(append(payload, '!'), sig, secret) {
		t.Fatal("tampered payload must not verify")
	}
	if VerifyWebhookSignature(payload, sig, "other-secret") {
		t.Fatal("wrong secret must not verify")
	}
}
