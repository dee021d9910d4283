package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestVerifyHS256(t *testing.T) {
	id := uuid.New()
	token := signHS256(t, "s3cret", jwt.MapClaims{
		"sub":   id.String(),
		"email": "a@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	gotID, email, err := Verify(token, "s3cret", nil)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if gotID != id || email != "a@example.com" {
		t.Errorf("Verify = (%s, %q), want (%s, a@example.com)", gotID, email, id)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token := signHS256(t, "other", jwt.MapClaims{
		"sub": uuid.NewString(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, _, err := Verify(token, "s3cret", nil); err != ErrInvalidToken {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	token := signHS256(t, "s3cret", jwt.MapClaims{
		"sub": uuid.NewString(),
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	if _, _, err := Verify(token, "s3cret", nil); err != ErrInvalidToken {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyPlaceholderEmail(t *testing.T) {
	id := uuid.New()
	token := signHS256(t, "s3cret", jwt.MapClaims{
		"sub": id.String(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, email, err := Verify(token, "s3cret", nil)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if email != PlaceholderEmail(id) || !strings.HasSuffix(email, "@supabase.local") {
		t.Errorf("email = %q, want placeholder for %s", email, id)
	}
}

func TestVerifyRejectsBadSubject(t *testing.T) {
	for _, sub := range []string{"", "not-a-uuid"} {
		token := signHS256(t, "s3cret", jwt.MapClaims{
			"sub": sub,
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		if _, _, err := Verify(token, "s3cret", nil); err != ErrInvalidToken {
			t.Errorf("sub=%q err = %v, want ErrInvalidToken", sub, err)
		}
	}
}

func TestVerifyNoKeyConfigured(t *testing.T) {
	if _, _, err := Verify("whatever", "", nil); err == nil {
		t.Error("Verify with no key material = nil error, want error")
	}
}
