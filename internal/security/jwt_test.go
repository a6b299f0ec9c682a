package security

import (
	"testing"
	"time"
)

func newJWTManagerForTest() *JWTManager {
	return NewJWTManager("flash-sale-reservation-service", "flash-sale-api", "access-secret", "refresh-secret")
}

func TestJWTManagerRoundTrip(t *testing.T) {
	mgr := newJWTManagerForTest()

	access, err := mgr.SignAccessToken(42, 3, time.Minute, "jti-1")
	if err != nil {
		t.Fatalf("sign access: %v", err)
	}
	claims, err := mgr.ParseAccessToken(access)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.Subject != "42" || claims.TokenVersion != 3 || claims.ID != "jti-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := mgr.ParseRefreshToken(access); err == nil {
		t.Fatal("access token must not parse as refresh token")
	}
}

func TestJWTManagerRejectsWrongSecret(t *testing.T) {
	mgr := newJWTManagerForTest()
	other := NewJWTManager("flash-sale-reservation-service", "flash-sale-api", "different", "different")

	access, err := mgr.SignAccessToken(1, 0, time.Minute, "")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := other.ParseAccessToken(access); err == nil {
		t.Fatal("expected signature verification failure")
	}
}

func TestJWTManagerExpiryIsDistinguishable(t *testing.T) {
	mgr := newJWTManagerForTest()

	expired, err := mgr.SignAccessToken(1, 0, -time.Minute, "")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	_, err = mgr.ParseAccessToken(expired)
	if err == nil {
		t.Fatal("expected expiry error")
	}
	if !IsExpired(err) {
		t.Fatalf("expected IsExpired to report true, got %v", err)
	}

	_, err = mgr.ParseAccessToken("not-a-token")
	if err == nil || IsExpired(err) {
		t.Fatalf("malformed token must not be classified as expired: %v", err)
	}
}

func TestHashClientContextBindsPepperAndFields(t *testing.T) {
	ctx := ClientContext{IP: "203.0.113.9", UserAgent: "Mozilla/5.0"}
	a := HashClientContext(ctx, "pepper-a")
	if a != HashClientContext(ctx, "pepper-a") {
		t.Fatal("hash must be deterministic")
	}
	if a == HashClientContext(ctx, "pepper-b") {
		t.Fatal("pepper must change the digest")
	}
	if a == HashClientContext(ClientContext{IP: "203.0.113.9", UserAgent: "curl/8"}, "pepper-a") {
		t.Fatal("user agent must change the digest")
	}
}
