// Package auth verifies Supabase access tokens and maps their claims onto
// the identity the ledger keys balances by.
package auth

import (
	"errors"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// accessClaims is the subset of Supabase access-token claims we read.
type accessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Verify checks a Supabase access token and returns the user id and email.
// JWKS (asymmetric signing keys) is preferred when configured; the legacy
// shared HS256 secret is the fallback for projects that have not rotated.
// Tokens without an email claim get a stable placeholder so the ledger
// owner key does not change between logins.
func Verify(tokenString, secret string, jwks *keyfunc.JWKS) (userID uuid.UUID, email string, err error) {
	var kf jwt.Keyfunc
	switch {
	case jwks != nil:
		kf = jwks.Keyfunc
	case secret != "":
		kf = func(t *jwt.Token) (interface{}, error) { return []byte(secret), nil }
	default:
		return uuid.Nil, "", errors.New("no supabase verification key configured")
	}

	t, err := jwt.ParseWithClaims(tokenString, &accessClaims{}, kf)
	if err != nil || !t.Valid {
		return uuid.Nil, "", ErrInvalidToken
	}
	c, ok := t.Claims.(*accessClaims)
	if !ok || c.Subject == "" {
		return uuid.Nil, "", ErrInvalidToken
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, "", ErrInvalidToken
	}
	email = c.Email
	if email == "" {
		email = PlaceholderEmail(id)
	}
	return id, email, nil
}

// PlaceholderEmail keys a user whose token carries no email claim.
func PlaceholderEmail(id uuid.UUID) string {
	return id.String() + "@supabase.local"
}
