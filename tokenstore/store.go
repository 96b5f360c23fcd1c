package tokenstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Load when nothing has been saved.
	ErrNotFound = errors.New("token record not found")
	// ErrUnavailable wraps backend failures (I/O, network, permissions).
	ErrUnavailable = errors.New("token store unavailable")
	// ErrCorrupt is returned when a stored blob cannot be decoded or unsealed.
	ErrCorrupt = errors.New("token record corrupt")
	// ErrNilRecord is returned by Save when called with a nil record.
	ErrNilRecord = errors.New("nil token record")
)

// Store persists one Record per client profile.
//
// Implementations must be safe for concurrent use. Callers that need
// read-modify-write semantics serialize those themselves.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Load(ctx context.Context) (*Record, error)
	Clear(ctx context.Context) error
}
