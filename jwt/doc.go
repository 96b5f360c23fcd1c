// Package jwt reads expiry information out of access tokens and, for local
// fakes and tests, issues and verifies them.
//
// The client never verifies signatures: it only decodes the payload to decide
// whether a token is close enough to expiry to renew it before use. Issuer is
// the server half and exists so that fake backends speak real JWTs.
package jwt
