// Package goAuthClient keeps an authenticated session against the advisor
// backend and sends requests on its behalf.
//
// A [Session] is built with [Builder] and owns three things: a token record
// in a [tokenstore.Store], a [refresh.Coordinator] that allows at most one
// refresh exchange at a time, and a [Client] that attaches the bearer token,
// refreshes on 401 and replays the request once.
//
// # Errors
//
// Callers see a closed set of outcomes: [ErrAuthExpired] when the session
// ended, [*ClientError] and [*ServerError] for HTTP failures, [*NetworkError]
// when no response arrived, and [ErrStorageUnavailable] when the token store
// failed. A raw 401 is never returned from [Client.Do].
//
// # Lifecycle
//
//	s, err := goAuthClient.New().WithBaseURL("https://api.example").Build()
//	if err != nil { ... }
//	defer s.Close()
//	_ = s.Init(ctx)            // hydrate from the store
//	_, err = s.Login(ctx, goAuthClient.Credentials{Email: e, Password: p})
//	err = s.Client().GetJSON(ctx, "/dashboard/stats", &stats)
package goAuthClient
