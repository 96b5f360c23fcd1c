// Package refresh coordinates access-token renewal so that any number of
// concurrent callers that observe an expired token share exactly one call to
// the refresh endpoint.
//
// # Architecture boundaries
//
// The Coordinator owns single-flight bookkeeping, the rotate-or-discard
// decision and fan-out of the outcome. It does not speak HTTP and does not
// know the storage format: callers supply an ExchangeFunc and a Store.
//
// # Failure semantics
//
// Only an exchange error wrapped with Reject ends the session. Network and
// server failures are returned to every waiter unchanged and the stored
// tokens are kept, so a later request can try again.
package refresh
