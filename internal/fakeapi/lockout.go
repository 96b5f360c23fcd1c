package fakeapi

import (
	"sync"
	"time"
)

// lockout counts failed logins per email and locks the account once the
// threshold is reached. The window restarts on the first failure after it
// lapses.
type lockout struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	now       func() time.Time
	failures  map[string]*failureWindow
}

type failureWindow struct {
	count int
	start time.Time
}

func newLockout(threshold int, window time.Duration) *lockout {
	return &lockout{
		threshold: threshold,
		window:    window,
		now:       time.Now,
		failures:  make(map[string]*failureWindow),
	}
}

func (l *lockout) locked(email string) bool {
	if l.threshold <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.current(email)
	return w != nil && w.count >= l.threshold
}

// recordFailure reports whether this failure locked the account.
func (l *lockout) recordFailure(email string) bool {
	if l.threshold <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.current(email)
	if w == nil {
		w = &failureWindow{start: l.now()}
		l.failures[email] = w
	}
	w.count++
	return w.count >= l.threshold
}

func (l *lockout) reset(email string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, email)
}

// current must be called with mu held.
func (l *lockout) current(email string) *failureWindow {
	w, ok := l.failures[email]
	if !ok {
		return nil
	}
	if l.window > 0 && l.now().Sub(w.start) > l.window {
		delete(l.failures, email)
		return nil
	}
	return w
}
