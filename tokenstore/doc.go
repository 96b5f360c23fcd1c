// Package tokenstore persists the client's token pair and cached user profile.
//
// A Record is written as a single versioned binary blob so that tokens and
// profile are always replaced together. Three backends are provided: an
// in-process MemoryStore, a RedisStore for shared or server-side clients, and a
// FileStore that can seal the blob with a passphrase-derived key.
package tokenstore
