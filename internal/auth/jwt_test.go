package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", time.Minute, Claims{
		UserID:         "22BCS1001",
		UserType:       UserTypeStudent,
		RegistrationNo: "22BCS1001",
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	claims, err := ParseToken("secret", "issuer", token)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if claims.UserID != "22BCS1001" || !claims.IsStudent() || claims.RegistrationNo != "22BCS1001" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.IsStaff() {
		t.Fatalf("student must not be staff")
	}
}

func TestParseTokenRejects(t *testing.T) {
	token, err := NewAccessToken("secret", "issuer", time.Minute, Claims{UserID: "u1", UserType: UserTypeAdmin})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := ParseToken("other-secret", "issuer", token); err == nil {
		t.Fatalf("expected signature mismatch")
	}
	if _, err := ParseToken("secret", "other-issuer", token); err == nil {
		t.Fatalf("expected issuer mismatch")
	}

	expired, err := NewAccessToken("secret", "issuer", -time.Minute, Claims{UserID: "u1", UserType: UserTypeAdmin})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := ParseToken("secret", "issuer", expired); err == nil {
		t.Fatalf("expected expired token to fail")
	}

	anonymous, err := NewAccessToken("secret", "issuer", time.Minute, Claims{})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if _, err := ParseToken("secret", "issuer", anonymous); err == nil {
		t.Fatalf("expected token without subject to fail")
	}
}

func TestOTPStoreWithoutRedis(t *testing.T) {
	store := NewOTPStore(nil, 0)
	if _, err := store.Issue(context.Background(), "22BCS1001"); !errors.Is(err, ErrOTPUnavailable) {
		t.Fatalf("expected ErrOTPUnavailable, got %v", err)
	}
	if store.Enabled() {
		t.Fatalf("expected store without redis to be disabled")
	}
	if _, err := store.Consume(context.Background(), "22BCS1001", "123456"); !errors.Is(err, ErrOTPUnavailable) {
		t.Fatalf("expected ErrOTPUnavailable, got %v", err)
	}
}

func TestRandomCodeFormat(t *testing.T) {
	for i := 0; i < 20; i++ {
		code, err := randomCode()
		if err != nil {
			t.Fatalf("code error: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected 6 digits, got %q", code)
		}
	}
}
