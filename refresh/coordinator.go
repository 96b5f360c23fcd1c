package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNoRefreshToken is returned when renewal is needed but nothing is stored.
	ErrNoRefreshToken = errors.New("no refresh token available")
	// ErrRejected marks a refresh the server refused. The session is over.
	ErrRejected = errors.New("refresh token rejected")
	// ErrFailed wraps any exchange failure that is not a rejection. The
	// session ends all the same.
	ErrFailed = errors.New("refresh failed")
	// ErrSuperseded is returned by Store.Rotate when the stored refresh token
	// changed while the exchange was in flight (logout or a new login).
	ErrSuperseded = errors.New("session changed during refresh")
)

// DefaultTimeout bounds one exchange when Config.Timeout is zero.
const DefaultTimeout = 15 * time.Second

const flightKey = "refresh"

// Tokens is the pair the coordinator reads and rotates.
type Tokens struct {
	Access  string
	Refresh string
}

// Store is the coordinator's view of token persistence.
type Store interface {
	// Current returns the stored pair, or zero Tokens when signed out.
	Current(ctx context.Context) (Tokens, error)
	// Rotate replaces the pair only if the stored refresh token still equals
	// used; otherwise it returns ErrSuperseded and stores nothing.
	Rotate(ctx context.Context, used string, next Tokens) error
	// Revoke clears the pair only if the stored refresh token still equals used.
	Revoke(ctx context.Context, used string) error
}

// ExchangeFunc trades a refresh token for a new pair. An empty Refresh in the
// result means the server did not rotate it.
type ExchangeFunc func(ctx context.Context, refreshToken string) (Tokens, error)

// Config tunes a Coordinator. All hooks are optional and run on the
// goroutine performing the exchange. OnRejected and OnFailed run after the
// tokens were revoked.
type Config struct {
	Timeout time.Duration
	Logger  *zap.Logger

	OnRefreshed func(ctx context.Context)
	OnRejected  func(ctx context.Context, err error)
	OnFailed    func(ctx context.Context, err error)
}

type rejectedError struct {
	err error
}

func (e *rejectedError) Error() string {
	if e.err == nil {
		return ErrRejected.Error()
	}
	return ErrRejected.Error() + ": " + e.err.Error()
}

func (e *rejectedError) Unwrap() []error {
	return []error{ErrRejected, e.err}
}

// Reject marks err as a definitive refusal of the refresh token.
func Reject(err error) error {
	return &rejectedError{err: err}
}

// Coordinator deduplicates refresh exchanges.
type Coordinator struct {
	store    Store
	exchange ExchangeFunc
	config   Config
	logger   *zap.Logger

	group     singleflight.Group
	exchanges atomic.Uint64
	joined    atomic.Uint64
}

// NewCoordinator returns a Coordinator over store and exchange.
func NewCoordinator(store Store, exchange ExchangeFunc, cfg Config) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:    store,
		exchange: exchange,
		config:   cfg,
		logger:   logger,
	}
}

// Exchanges returns how many times the exchange function has been invoked.
func (c *Coordinator) Exchanges() uint64 {
	return c.exchanges.Load()
}

// Joined returns how many EnsureFresh calls received a result shared with at
// least one other caller.
func (c *Coordinator) Joined() uint64 {
	return c.joined.Load()
}

// EnsureFresh returns an access token newer than stale.
//
// If the store already holds a different access token, another caller has
// refreshed in the meantime and that token is returned without any exchange.
// Otherwise the caller joins the in-flight exchange or starts one. The
// exchange itself is detached from ctx: a cancelled caller stops waiting but
// does not abort the refresh other callers depend on.
func (c *Coordinator) EnsureFresh(ctx context.Context, stale string) (string, error) {
	current, err := c.store.Current(ctx)
	if err != nil {
		return "", err
	}
	if current.Access != "" && current.Access != stale {
		return current.Access, nil
	}
	if current.Refresh == "" {
		return "", ErrNoRefreshToken
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey, func() (interface{}, error) {
		return c.run(detached, stale)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.joined.Add(1)
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Coordinator) run(parent context.Context, stale string) (string, error) {
	ctx, cancel := context.WithTimeout(parent, c.config.Timeout)
	defer cancel()

	// Re-read under the flight: the pair may have rotated between the
	// caller's check and this exchange starting.
	current, err := c.store.Current(ctx)
	if err != nil {
		return "", err
	}
	if current.Access != "" && current.Access != stale {
		return current.Access, nil
	}
	if current.Refresh == "" {
		return "", ErrNoRefreshToken
	}

	c.exchanges.Add(1)
	next, err := c.exchange(ctx, current.Refresh)
	if err != nil {
		rejected := errors.Is(err, ErrRejected)
		if rejected {
			c.logger.Info("refresh token rejected", zap.Error(err))
		} else {
			c.logger.Warn("refresh exchange failed", zap.Error(err))
			err = fmt.Errorf("%w: %w", ErrFailed, err)
		}
		if revokeErr := c.store.Revoke(ctx, current.Refresh); revokeErr != nil {
			c.logger.Warn("revoke tokens after failed refresh", zap.Error(revokeErr))
		}
		switch {
		case rejected && c.config.OnRejected != nil:
			c.config.OnRejected(ctx, err)
		case !rejected && c.config.OnFailed != nil:
			c.config.OnFailed(ctx, err)
		}
		return "", err
	}

	if next.Refresh == "" {
		next.Refresh = current.Refresh
	}
	if err := c.store.Rotate(ctx, current.Refresh, next); err != nil {
		if !errors.Is(err, ErrSuperseded) {
			return "", err
		}
		// The session changed under us. Hand out whatever is stored now
		// rather than resurrecting the old one.
		c.logger.Debug("refresh result discarded, session superseded")
		latest, lerr := c.store.Current(ctx)
		if lerr == nil && latest.Access != "" {
			return latest.Access, nil
		}
		return "", ErrSuperseded
	}

	if c.config.OnRefreshed != nil {
		c.config.OnRefreshed(ctx)
	}
	return next.Access, nil
}
