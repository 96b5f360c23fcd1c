package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed is returned by Inspect for values that are not JWTs.
var ErrMalformed = errors.New("malformed access token")

// Claims is the subset of registered claims the client cares about.
// Zero times mean the claim was absent.
type Claims struct {
	Subject   string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Inspect decodes token without verifying its signature.
func Inspect(token string) (*Claims, error) {
	var rc jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &rc); err != nil {
		return nil, errors.Join(ErrMalformed, err)
	}
	return fromRegistered(&rc), nil
}

// ExpiresWithin reports whether token expires at or before now+window.
// Opaque tokens and tokens without an exp claim never report true; the
// server's 401 is the authority for those.
func ExpiresWithin(token string, window time.Duration, now time.Time) bool {
	claims, err := Inspect(token)
	if err != nil || claims.ExpiresAt.IsZero() {
		return false
	}
	return !claims.ExpiresAt.After(now.Add(window))
}

func fromRegistered(rc *jwt.RegisteredClaims) *Claims {
	c := &Claims{Subject: rc.Subject, ID: rc.ID}
	if rc.IssuedAt != nil {
		c.IssuedAt = rc.IssuedAt.Time
	}
	if rc.ExpiresAt != nil {
		c.ExpiresAt = rc.ExpiresAt.Time
	}
	return c
}
