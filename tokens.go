package goAuthClient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/goAuthClient/refresh"
	"github.com/MrEthical07/goAuthClient/tokenstore"
	"go.uber.org/zap"
)

// tokenKeeper serializes every read-modify-write of the token record. It is
// the only writer of the store, so rotate and revoke can compare against the
// refresh token the caller started from.
type tokenKeeper struct {
	mu      sync.Mutex
	store   tokenstore.Store
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time
	// onFailure is told about storage errors other than a missing record.
	onFailure func(ctx context.Context, err error)
}

func newTokenKeeper(store tokenstore.Store, logger *zap.Logger, metrics *Metrics) *tokenKeeper {
	return &tokenKeeper{
		store:   store,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// loadLocked returns the stored record, or nil when nothing usable is
// stored. A corrupt record is removed.
func (k *tokenKeeper) loadLocked(ctx context.Context) (*tokenstore.Record, error) {
	rec, err := k.store.Load(ctx)
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, tokenstore.ErrNotFound):
		return nil, nil
	case errors.Is(err, tokenstore.ErrCorrupt):
		k.logger.Warn("discarding unreadable token record", zap.Error(err))
		if clearErr := k.store.Clear(ctx); clearErr != nil {
			k.logger.Warn("clear unreadable token record", zap.Error(clearErr))
		}
		return nil, nil
	default:
		return nil, k.failed(ctx, err)
	}
}

func (k *tokenKeeper) failed(ctx context.Context, err error) error {
	k.metrics.Inc(MetricStorageFailure)
	if k.onFailure != nil {
		k.onFailure(ctx, err)
	}
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

// Load returns a copy of the stored record or nil.
func (k *tokenKeeper) Load(ctx context.Context) (*tokenstore.Record, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.loadLocked(ctx)
}

// Save replaces the stored record, stamping IssuedAt when unset.
func (k *tokenKeeper) Save(ctx context.Context, rec *tokenstore.Record) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	rec = rec.Clone()
	if rec != nil && rec.Tokens.IssuedAt == 0 {
		rec.Tokens.IssuedAt = k.now().Unix()
	}
	if err := k.store.Save(ctx, rec); err != nil {
		return k.failed(ctx, err)
	}
	return nil
}

// Clear removes the stored record.
func (k *tokenKeeper) Clear(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.store.Clear(ctx); err != nil {
		return k.failed(ctx, err)
	}
	return nil
}

// updateUser replaces the cached profile. It is a no-op when the record is
// gone or belongs to a different user, which happens when a logout or a new
// login races with a profile response.
func (k *tokenKeeper) updateUser(ctx context.Context, user *UserProfile) (bool, error) {
	if user == nil {
		return false, nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	rec, err := k.loadLocked(ctx)
	if err != nil || rec == nil {
		return false, err
	}
	if rec.User != nil && rec.User.ID != user.ID {
		return false, nil
	}
	u := *user
	rec.User = &u
	if err := k.store.Save(ctx, rec); err != nil {
		return false, k.failed(ctx, err)
	}
	return true, nil
}

// Current implements refresh.Store.
func (k *tokenKeeper) Current(ctx context.Context) (refresh.Tokens, error) {
	rec, err := k.Load(ctx)
	if err != nil || rec == nil {
		return refresh.Tokens{}, err
	}
	return refresh.Tokens{Access: rec.Tokens.AccessToken, Refresh: rec.Tokens.RefreshToken}, nil
}

// Rotate implements refresh.Store. The cached user is kept.
func (k *tokenKeeper) Rotate(ctx context.Context, used string, next refresh.Tokens) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	rec, err := k.loadLocked(ctx)
	if err != nil {
		return err
	}
	if rec == nil || rec.Tokens.RefreshToken != used {
		return refresh.ErrSuperseded
	}
	rec.Tokens = TokenPair{
		AccessToken:  next.Access,
		RefreshToken: next.Refresh,
		IssuedAt:     k.now().Unix(),
	}
	if err := k.store.Save(ctx, rec); err != nil {
		return k.failed(ctx, err)
	}
	return nil
}

// Revoke implements refresh.Store.
func (k *tokenKeeper) Revoke(ctx context.Context, used string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	rec, err := k.loadLocked(ctx)
	if err != nil {
		return err
	}
	if rec == nil || rec.Tokens.RefreshToken != used {
		return nil
	}
	if err := k.store.Clear(ctx); err != nil {
		return k.failed(ctx, err)
	}
	return nil
}

// expireIf clears the record when it still carries the access token stale.
// It reports whether the session stale belonged to is gone.
func (k *tokenKeeper) expireIf(ctx context.Context, stale string) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	rec, err := k.loadLocked(ctx)
	if err != nil {
		return true, err
	}
	if rec == nil {
		return true, nil
	}
	if rec.Tokens.AccessToken != stale {
		return false, nil
	}
	if err := k.store.Clear(ctx); err != nil {
		return true, k.failed(ctx, err)
	}
	return true, nil
}
