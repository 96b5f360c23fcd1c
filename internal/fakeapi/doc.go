// Package fakeapi is an in-process stand-in for the advisor backend: the
// auth endpoints plus upload, dashboard and report resources.
//
// It issues real signed access tokens and rotating opaque refresh tokens, and
// exposes knobs (ExpireAccessTokens, SetRefreshStatus, DropConnections) that
// tests and the refresh load test use to force the client's recovery paths.
// It is not a reference for server-side security.
package fakeapi
