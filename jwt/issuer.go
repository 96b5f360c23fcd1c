package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the algorithm used by Issuer.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

const maxLeeway = 2 * time.Minute

// IssuerConfig configures an Issuer. Ed25519 keys may be raw or PEM; the
// public key is derived from the private one when omitted.
type IssuerConfig struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// Issuer mints and verifies access tokens. It backs the fake API used by
// tests, examples and the refresh load test.
type Issuer struct {
	ttl     time.Duration
	name    string
	method  jwt.SigningMethod
	signKey any
	verKey  any
	parser  *jwt.Parser
}

func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("access TTL must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > maxLeeway {
		return nil, fmt.Errorf("leeway must be within [0, %s]", maxLeeway)
	}

	iss := &Issuer{ttl: cfg.AccessTTL, name: cfg.Issuer}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires a shared secret")
		}
		iss.method = jwt.SigningMethodHS256
		iss.signKey = cfg.PrivateKey
		iss.verKey = cfg.PrivateKey
	case MethodEd25519:
		priv, err := edKey[ed25519.PrivateKey](cfg.PrivateKey, ed25519.PrivateKeySize, jwt.ParseEdPrivateKeyFromPEM)
		if err != nil {
			return nil, fmt.Errorf("ed25519 private key: %w", err)
		}
		pub := priv.Public().(ed25519.PublicKey)
		if len(cfg.PublicKey) > 0 {
			if pub, err = edKey[ed25519.PublicKey](cfg.PublicKey, ed25519.PublicKeySize, jwt.ParseEdPublicKeyFromPEM); err != nil {
				return nil, fmt.Errorf("ed25519 public key: %w", err)
			}
		}
		iss.method = jwt.SigningMethodEdDSA
		iss.signKey = priv
		iss.verKey = pub
	default:
		return nil, fmt.Errorf("unsupported signing method %q", cfg.SigningMethod)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{iss.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	iss.parser = jwt.NewParser(opts...)
	return iss, nil
}

// TTL returns the configured access-token lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue mints a token for subject. Every token carries a fresh jti, so two
// tokens minted in the same second still differ.
func (i *Issuer) Issue(subject string) (string, error) {
	return i.IssueWithTTL(subject, i.ttl)
}

// IssueWithTTL is Issue with an explicit lifetime. A negative ttl produces an
// already expired token.
func (i *Issuer) IssueWithTTL(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	return jwt.NewWithClaims(i.method, jwt.RegisteredClaims{
		Subject:   subject,
		ID:        uuid.NewString(),
		Issuer:    i.name,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}).SignedString(i.signKey)
}

// Verify checks signature, algorithm, expiry and issuer.
func (i *Issuer) Verify(token string) (*Claims, error) {
	var rc jwt.RegisteredClaims
	if _, err := i.parser.ParseWithClaims(token, &rc, func(*jwt.Token) (any, error) {
		return i.verKey, nil
	}); err != nil {
		return nil, err
	}
	return fromRegistered(&rc), nil
}

// IsExpired reports whether err from Verify was caused by an expired token.
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}

// edKey accepts a raw key of exactly size bytes or a PEM block.
func edKey[K ~[]byte, P any](raw []byte, size int, fromPEM func([]byte) (P, error)) (K, error) {
	if len(raw) == size {
		return K(raw), nil
	}
	parsed, err := fromPEM(raw)
	if err != nil {
		var zero K
		return zero, errors.New("not a raw key or PEM block")
	}
	k, ok := any(parsed).(K)
	if !ok {
		var zero K
		return zero, fmt.Errorf("unexpected key type %T", parsed)
	}
	return k, nil
}
