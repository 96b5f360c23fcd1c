package goAuthClient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goAuthClient/refresh"
	"github.com/MrEthical07/goAuthClient/tokenstore"
	"go.uber.org/zap"
)

// Session owns the signed-in state of one user: the token record, the
// refresh coordinator and the Client that uses them. Create it with
// Builder.Build and release it with Close.
//
// Session is safe for concurrent use.
type Session struct {
	config      Config
	client      *Client
	tokens      *tokenKeeper
	coordinator *refresh.Coordinator
	logger      *zap.Logger
	metrics     *Metrics
	dispatcher  *eventDispatcher
	broadcast   *broadcaster
	now         func() time.Time

	mu    sync.RWMutex
	state State
	user  *UserProfile
	since time.Time
	// gen changes whenever the signed-in identity changes, so background
	// work started for an older session can tell it is stale.
	gen           uint64
	validated     bool
	validatedCh   chan struct{}
	validatedOnce sync.Once

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
	closed   atomic.Bool
}

// Client returns the authenticated request client bound to s.
func (s *Session) Client() *Client {
	return s.client
}

// Init hydrates the session from the token store. A stored record makes the
// session Authenticated at once with the cached profile; the profile
// endpoint is then checked in the background (see WaitValidated). Init on an
// already initialized session is a no-op.
func (s *Session) Init(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		return nil
	}
	s.state = StateInitializing
	s.since = s.now()
	s.mu.Unlock()

	rec, err := s.tokens.Load(ctx)
	if err != nil {
		s.transition(ctx, transitionOpts{to: StateUnauthenticated, event: EventHydrated, err: err})
		s.markValidated()
		return err
	}
	if rec == nil || (rec.Tokens.AccessToken == "" && rec.Tokens.RefreshToken == "") {
		s.transition(ctx, transitionOpts{to: StateUnauthenticated, event: EventHydrated})
		s.markValidated()
		return nil
	}

	gen := s.transition(ctx, transitionOpts{to: StateAuthenticated, event: EventHydrated, user: rec.User, newIdentity: true})
	s.logger.Debug("session hydrated from store", zap.Int64("user_id", userID(rec.User)))

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.validate(gen)
	}()
	return nil
}

// WaitValidated blocks until the background check started by Init is done,
// or until a login or an empty store makes it unnecessary.
func (s *Session) WaitValidated(ctx context.Context) error {
	select {
	case <-s.validatedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) markValidated() {
	s.validatedOnce.Do(func() {
		s.mu.Lock()
		s.validated = true
		s.mu.Unlock()
		close(s.validatedCh)
	})
}

// validate fetches the profile with the hydrated tokens. Going through the
// Client means a stale access token is refreshed first; a failed refresh
// expires the session there. Any other failure keeps the cached state.
func (s *Session) validate(gen uint64) {
	defer s.markValidated()

	var user UserProfile
	err := s.client.GetJSON(s.bgCtx, s.config.Endpoints.Profile, &user)
	if err != nil {
		if s.bgCtx.Err() != nil {
			return
		}
		s.logger.Info("session validation failed", zap.Error(err))
		state := s.Snapshot().State
		s.emit(s.bgCtx, Event{Type: EventValidationFailed, From: state, To: state, Error: err.Error()})
		return
	}

	if !s.sameGeneration(gen) {
		return
	}
	if ok, err := s.tokens.updateUser(s.bgCtx, &user); err != nil || !ok {
		return
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	u := user
	s.user = &u
	state := s.state
	s.mu.Unlock()

	s.emit(s.bgCtx, Event{Type: EventValidated, From: state, To: state, UserID: user.ID})
}

// Login exchanges credentials for a token pair and persists it.
func (s *Session) Login(ctx context.Context, creds Credentials) (*UserProfile, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	if strings.TrimSpace(creds.Email) == "" || creds.Password == "" {
		return nil, ErrInvalidCredentials
	}

	resp, err := s.client.Do(ctx, &Request{
		Method:   http.MethodPost,
		Path:     s.config.Endpoints.Login,
		JSON:     creds,
		SkipAuth: true,
	})
	if err != nil {
		err = loginError(err)
		s.loginFailed(ctx, err)
		return nil, err
	}

	var out loginResponse
	if err := resp.DecodeJSON(&out); err != nil || out.AccessToken == "" || out.RefreshToken == "" {
		err = &ServerError{
			Op:         "login",
			StatusCode: resp.StatusCode,
			Message:    "response carries no token pair",
			RequestID:  resp.RequestID,
			Body:       resp.Body,
		}
		s.loginFailed(ctx, err)
		return nil, err
	}

	rec := &tokenstore.Record{
		Tokens: TokenPair{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken},
		User:   out.User,
	}
	if err := s.tokens.Save(ctx, rec); err != nil {
		s.loginFailed(ctx, err)
		s.transition(ctx, transitionOpts{to: StateUnauthenticated, newIdentity: true})
		return nil, err
	}

	s.metrics.Inc(MetricLoginSuccess)
	s.transition(ctx, transitionOpts{
		to:          StateAuthenticated,
		event:       EventLoginSuccess,
		user:        out.User,
		requestID:   resp.RequestID,
		newIdentity: true,
	})
	s.markValidated()
	s.logger.Info("login succeeded", zap.Int64("user_id", userID(out.User)), zap.String("request_id", resp.RequestID))

	return cloneUser(out.User), nil
}

func (s *Session) loginFailed(ctx context.Context, err error) {
	s.metrics.Inc(MetricLoginFailure)
	state := s.Snapshot().State
	s.emit(ctx, Event{Type: EventLoginFailure, From: state, To: state, Error: err.Error()})
}

// loginError narrows the login endpoint's refusals to the login sentinels.
// Other errors are returned unchanged.
func loginError(err error) error {
	var ce *ClientError
	if !errors.As(err, &ce) {
		return err
	}
	switch {
	case ce.StatusCode == http.StatusLocked,
		strings.Contains(strings.ToLower(ce.Message), "locked"):
		return fmt.Errorf("%w: %s", ErrAccountLocked, ce.Message)
	case ce.StatusCode == http.StatusUnauthorized, ce.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidCredentials, ce.Message)
	default:
		return err
	}
}

// Logout tells the backend to drop the refresh token and clears local state.
// The remote call is best effort; the local clear always happens. Only a
// failure to clear the store is returned.
func (s *Session) Logout(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	rec, err := s.tokens.Load(ctx)
	if err != nil {
		s.logger.Warn("load tokens for remote logout", zap.Error(err))
	}
	if rec != nil && rec.Tokens.RefreshToken != "" {
		_, err := s.client.Do(ctx, &Request{
			Method:   http.MethodPost,
			Path:     s.config.Endpoints.Logout,
			JSON:     refreshRequest{RefreshToken: rec.Tokens.RefreshToken},
			Timeout:  s.config.Timeouts.Logout,
			SkipAuth: true,
		})
		if err != nil {
			s.metrics.Inc(MetricLogoutRemoteFailure)
			s.logger.Warn("remote logout failed", zap.Error(err))
		}
	}

	clearErr := s.tokens.Clear(context.WithoutCancel(ctx))
	s.metrics.Inc(MetricLogout)
	s.transition(ctx, transitionOpts{to: StateUnauthenticated, event: EventLogout, err: clearErr, newIdentity: true})
	return clearErr
}

// UpdateProfile sends patch to the profile endpoint and caches the result.
func (s *Session) UpdateProfile(ctx context.Context, patch ProfilePatch) (*UserProfile, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	if patch.empty() {
		return nil, fmt.Errorf("%w: empty profile patch", ErrInvalidRequest)
	}

	s.mu.RLock()
	state, current, gen := s.state, cloneUser(s.user), s.gen
	s.mu.RUnlock()
	if state != StateAuthenticated {
		return nil, ErrNotAuthenticated
	}

	resp, err := s.client.Do(ctx, &Request{Method: http.MethodPut, Path: s.config.Endpoints.Profile, JSON: patch})
	if err != nil {
		return nil, err
	}

	var user UserProfile
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		if current != nil {
			user = *current
		}
		patch.applyTo(&user)
	} else if err := resp.DecodeJSON(&user); err != nil {
		return nil, &ServerError{Op: "update profile", StatusCode: resp.StatusCode, Message: err.Error(), RequestID: resp.RequestID, Body: resp.Body}
	}

	ok, err := s.tokens.updateUser(ctx, &user)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if !ok || s.gen != gen || s.state != StateAuthenticated {
		s.mu.Unlock()
		return nil, ErrNotAuthenticated
	}
	s.user = cloneUser(&user)
	s.mu.Unlock()

	s.metrics.Inc(MetricProfileUpdate)
	s.emit(ctx, Event{Type: EventProfileUpdated, From: state, To: state, UserID: user.ID, RequestID: resp.RequestID})
	return cloneUser(&user), nil
}

// RefreshFromStorage re-reads the token store and re-derives the state, for
// when another process signed in or out with the same store.
func (s *Session) RefreshFromStorage(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	rec, err := s.tokens.Load(ctx)
	if err != nil {
		s.transition(ctx, transitionOpts{to: StateUnauthenticated, event: EventHydrated, err: err, newIdentity: true})
		return err
	}
	if rec == nil || (rec.Tokens.AccessToken == "" && rec.Tokens.RefreshToken == "") {
		s.transition(ctx, transitionOpts{to: StateUnauthenticated, event: EventHydrated, newIdentity: true})
		return nil
	}

	s.mu.RLock()
	changed := s.state != StateAuthenticated || userID(s.user) != userID(rec.User)
	s.mu.RUnlock()
	s.transition(ctx, transitionOpts{to: StateAuthenticated, event: EventHydrated, user: rec.User, newIdentity: changed})
	s.markValidated()
	return nil
}

// Snapshot returns the current state. It never includes tokens.
func (s *Session) Snapshot() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionState{
		State:         s.state,
		User:          cloneUser(s.user),
		Authenticated: s.state == StateAuthenticated,
		Initializing:  s.state == StateInitializing,
		Validated:     s.validated,
		Since:         s.since,
	}
}

// Subscribe returns a channel of session events and a function that
// unsubscribes and closes it. A subscriber that falls more than buffer
// events behind misses events.
func (s *Session) Subscribe(buffer int) (<-chan Event, func()) {
	return s.broadcast.subscribe(buffer)
}

// MetricsSnapshot returns the client counters.
func (s *Session) MetricsSnapshot() MetricsSnapshot {
	return s.metrics.Snapshot()
}

// EventsDropped reports events discarded because the dispatcher was full.
func (s *Session) EventsDropped() uint64 {
	return s.dispatcher.Dropped()
}

// Close stops background validation and flushes pending events. The token
// store is left untouched.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.dispatcher.Close()
	s.broadcast.close()
	return nil
}

// expire ends the session after a refresh failure. stale is the access
// token the failing request used: when the store already holds a different
// session (a new login raced with the failure) nothing is torn down.
func (s *Session) expire(ctx context.Context, stale string, cause error) {
	ended, err := s.tokens.expireIf(context.WithoutCancel(ctx), stale)
	if err == nil && !ended {
		s.logger.Debug("ignoring expiry of a superseded session", zap.Error(cause))
		return
	}

	s.mu.RLock()
	active := s.state == StateAuthenticated || s.state == StateInitializing
	s.mu.RUnlock()
	if !active {
		return
	}

	s.metrics.Inc(MetricAuthExpired)
	s.logger.Info("session expired", zap.Error(cause))
	s.transition(ctx, transitionOpts{
		to:          StateUnauthenticated,
		event:       EventAuthExpired,
		err:         cause,
		requestID:   RequestIDFromContext(ctx),
		newIdentity: true,
	})
}

func (s *Session) sameGeneration(gen uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen == gen
}

type transitionOpts struct {
	to          State
	event       EventType
	user        *UserProfile
	err         error
	requestID   string
	newIdentity bool
}

// transition sets the state and emits o.event when set. It returns the
// identity generation in effect afterwards.
func (s *Session) transition(ctx context.Context, o transitionOpts) uint64 {
	s.mu.Lock()
	from := s.state
	s.state = o.to
	if o.to == StateAuthenticated {
		s.user = cloneUser(o.user)
	} else {
		s.user = nil
	}
	if from != o.to {
		s.since = s.now()
	}
	if o.newIdentity {
		s.gen++
	}
	gen := s.gen
	s.mu.Unlock()

	if o.event != "" {
		ev := Event{Type: o.event, From: from, To: o.to, UserID: userID(o.user), RequestID: o.requestID}
		if o.to != StateAuthenticated {
			ev.UserID = 0
		}
		if o.err != nil {
			ev.Error = o.err.Error()
		}
		s.emit(ctx, ev)
	}
	return gen
}

func (s *Session) emit(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	if s.dispatcher == nil {
		s.broadcast.Emit(ctx, ev)
		return
	}
	s.dispatcher.Emit(ctx, ev)
}

func (s *Session) onRefreshed(ctx context.Context) {
	s.metrics.Inc(MetricRefreshSuccess)
	state := s.Snapshot()
	s.emit(ctx, Event{Type: EventTokenRefreshed, From: state.State, To: state.State, UserID: userID(state.User), RequestID: RequestIDFromContext(ctx)})
}

func (s *Session) onRefreshRejected(ctx context.Context, err error) {
	s.metrics.Inc(MetricRefreshRejected)
	s.expire(ctx, "", err)
}

func (s *Session) onRefreshFailed(ctx context.Context, err error) {
	s.metrics.Inc(MetricRefreshFailure)
	state := s.Snapshot().State
	s.emit(ctx, Event{Type: EventRefreshFailed, From: state, To: state, Error: err.Error(), RequestID: RequestIDFromContext(ctx)})
	s.expire(ctx, "", err)
}

func (s *Session) onStorageFailure(ctx context.Context, err error) {
	s.logger.Error("token store failure", zap.Error(err))
	state := s.Snapshot().State
	s.emit(ctx, Event{Type: EventStorageFailure, From: state, To: state, Error: err.Error()})
}

func cloneUser(u *UserProfile) *UserProfile {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func userID(u *UserProfile) int64 {
	if u == nil {
		return 0
	}
	return u.ID
}
