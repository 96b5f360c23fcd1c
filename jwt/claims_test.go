package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newHSIssuer(t *testing.T, ttl time.Duration) *Issuer {
	t.Helper()
	iss, err := NewIssuer(IssuerConfig{
		AccessTTL:     ttl,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("secret-secret-secret-secret"),
		Issuer:        "fake-api",
	})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	return iss
}

func TestInspectReadsClaimsWithoutKey(t *testing.T) {
	iss := newHSIssuer(t, time.Minute)
	tok, err := iss.Issue("42")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := Inspect(tok)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if claims.Subject != "42" || claims.ID == "" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if d := time.Until(claims.ExpiresAt); d <= 0 || d > time.Minute+time.Second {
		t.Fatalf("unexpected expiry distance %v", d)
	}
}

func TestInspectRejectsOpaqueToken(t *testing.T) {
	if _, err := Inspect("R1"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestExpiresWithin(t *testing.T) {
	iss := newHSIssuer(t, 10*time.Minute)
	tok, err := iss.Issue("42")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	now := time.Now()

	if ExpiresWithin(tok, time.Minute, now) {
		t.Fatal("10m token should not be within a 1m window")
	}
	if !ExpiresWithin(tok, 15*time.Minute, now) {
		t.Fatal("10m token should be within a 15m window")
	}
	if ExpiresWithin("opaque", time.Hour, now) {
		t.Fatal("opaque tokens never report expiry")
	}

	noExp := gjwt.NewWithClaims(gjwt.SigningMethodHS256, gjwt.RegisteredClaims{Subject: "x"})
	s, err := noExp.SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if ExpiresWithin(s, time.Hour, now) {
		t.Fatal("token without exp never reports expiry")
	}
}

func TestIssuerVerify(t *testing.T) {
	iss := newHSIssuer(t, time.Minute)
	tok, err := iss.Issue("7")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := iss.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "7" {
		t.Fatalf("subject mismatch: %q", claims.Subject)
	}

	expired, err := iss.IssueWithTTL("7", -time.Minute)
	if err != nil {
		t.Fatalf("issue expired: %v", err)
	}
	if _, err := iss.Verify(expired); !IsExpired(err) {
		t.Fatalf("expected expiry error, got %v", err)
	}

	other, err := NewIssuer(IssuerConfig{
		AccessTTL:     time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("a-different-secret-value"),
		Issuer:        "fake-api",
	})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	if _, err := other.Verify(tok); err == nil {
		t.Fatal("expected wrong key to be rejected")
	}
}

func TestIssuerEd25519RejectsHS256(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	iss, err := NewIssuer(IssuerConfig{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	good, err := iss.Issue("1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := iss.Verify(good); err != nil {
		t.Fatalf("verify: %v", err)
	}

	hs := newHSIssuer(t, time.Minute)
	bad, _ := hs.Issue("1")
	if _, err := iss.Verify(bad); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestNewIssuerValidation(t *testing.T) {
	cases := []IssuerConfig{
		{AccessTTL: 0, SigningMethod: MethodHS256, PrivateKey: []byte("k")},
		{AccessTTL: time.Minute, SigningMethod: MethodHS256},
		{AccessTTL: time.Minute, SigningMethod: "rs256", PrivateKey: []byte("k")},
		{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: []byte("short")},
		{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("k"), Leeway: time.Hour},
	}
	for i, cfg := range cases {
		if _, err := NewIssuer(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
