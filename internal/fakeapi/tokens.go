package fakeapi

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

const (
	sessionIDSize     = 16
	refreshSecretSize = 32
	refreshTokenSize  = sessionIDSize + refreshSecretSize
)

var errBadRefreshToken = errors.New("invalid refresh token")

// refreshSession is the server half of a refresh token: the secret is only
// kept as a hash.
type refreshSession struct {
	userID int64
	hash   [32]byte
}

func newSessionID() (string, error) {
	var sid [sessionIDSize]byte
	if _, err := rand.Read(sid[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(sid[:]), nil
}

func newRefreshSecret() ([refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func hashRefreshSecret(secret [refreshSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// encodeRefreshToken packs the session id and secret into one opaque string.
func encodeRefreshToken(sessionID string, secret [refreshSecretSize]byte) (string, error) {
	sid, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil || len(sid) != sessionIDSize {
		return "", errBadRefreshToken
	}
	var raw [refreshTokenSize]byte
	copy(raw[:sessionIDSize], sid)
	copy(raw[sessionIDSize:], secret[:])
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func decodeRefreshToken(token string) (string, [refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != refreshTokenSize {
		return "", secret, errBadRefreshToken
	}
	copy(secret[:], raw[sessionIDSize:])
	return base64.RawURLEncoding.EncodeToString(raw[:sessionIDSize]), secret, nil
}
