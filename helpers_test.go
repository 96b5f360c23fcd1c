package goAuthClient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrEthical07/goAuthClient/internal/fakeapi"
	"github.com/MrEthical07/goAuthClient/tokenstore"
	"go.uber.org/zap/zaptest"
)

const (
	testEmail    = "a@b.com"
	testPassword = "secret123"
)

type testEnv struct {
	fake    *fakeapi.Server
	srv     *httptest.Server
	store   *tokenstore.MemoryStore
	session *Session
}

// newTestEnv starts a fake backend with one user (id 1, "a") and builds a
// Session against it. mutate may adjust the builder before Build.
func newTestEnv(t *testing.T, fakeCfg fakeapi.Config, mutate func(*Builder)) *testEnv {
	t.Helper()

	fake, err := fakeapi.New(fakeCfg)
	if err != nil {
		t.Fatalf("fakeapi.New: %v", err)
	}
	if _, err := fake.AddUser(fakeapi.User{
		ID:        1,
		Username:  "a",
		Email:     testEmail,
		FirstName: "Ada",
		LastName:  "Byron",
	}, testPassword); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store := tokenstore.NewMemoryStore()
	b := New().
		WithBaseURL(srv.URL).
		WithTokenStore(store).
		WithLogger(zaptest.NewLogger(t)).
		WithMetricsEnabled(true).
		WithHTTPClient(&http.Client{Transport: &http.Transport{DisableKeepAlives: true}})
	if mutate != nil {
		mutate(b)
	}
	s, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return &testEnv{fake: fake, srv: srv, store: store, session: s}
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	if _, err := e.session.Login(context.Background(), Credentials{Email: testEmail, Password: testPassword}); err != nil {
		t.Fatalf("Login: %v", err)
	}
}

// newHandlerSession builds a Session against an arbitrary handler.
func newHandlerSession(t *testing.T, h http.Handler, mutate func(*Builder)) (*Session, *tokenstore.MemoryStore) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	store := tokenstore.NewMemoryStore()
	b := New().
		WithBaseURL(srv.URL).
		WithTokenStore(store).
		WithLogger(zaptest.NewLogger(t)).
		WithMetricsEnabled(true)
	if mutate != nil {
		mutate(b)
	}
	s, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, store
}

// waitEvent reads from ch until an event of type want arrives.
func waitEvent(t *testing.T, ch <-chan Event, want EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed before %s", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func fastRetry(b *Builder) {
	b.config.Retry = RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}
