// Package advisor is the typed surface of the advisor backend's resource
// endpoints: CSV upload, dashboard statistics and reports.
//
// Every call goes through a goAuthClient.Client, so bearer tokens, refresh on
// 401 and the error taxonomy (goAuthClient.ErrAuthExpired, *ClientError,
// *ServerError, *NetworkError) apply unchanged.
package advisor
