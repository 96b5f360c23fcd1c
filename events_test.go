package goAuthClient

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goAuthClient/internal/fakeapi"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	got     []Event
}

func (s *blockingSink) Emit(_ context.Context, ev Event) {
	<-s.release
	s.mu.Lock()
	s.got = append(s.got, ev)
	s.mu.Unlock()
}

func TestEventDispatcherDropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := newEventDispatcher(EventsConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// One event is held by the blocked worker, one fills the buffer.
	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{Type: EventLogout})
	}
	close(sink.release)
	d.Close()

	if d.Dropped() == 0 {
		t.Fatal("expected dropped events")
	}
	sink.mu.Lock()
	delivered := len(sink.got)
	sink.mu.Unlock()
	if uint64(delivered)+d.Dropped() != 5 {
		t.Fatalf("delivered %d + dropped %d != 5", delivered, d.Dropped())
	}

	d.Emit(context.Background(), Event{Type: EventLogout})
}

func TestEventDispatcherDisabled(t *testing.T) {
	if d := newEventDispatcher(EventsConfig{Enabled: false}, NoOpSink{}); d != nil {
		t.Fatal("disabled dispatcher should be nil")
	}
	var d *eventDispatcher
	d.Emit(context.Background(), Event{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reported drops")
	}
}

func TestBroadcasterSubscribe(t *testing.T) {
	b := newBroadcaster(nil)
	first, cancelFirst := b.subscribe(4)
	second, cancelSecond := b.subscribe(1)
	defer cancelSecond()

	b.Emit(context.Background(), Event{Type: EventLoginSuccess})
	b.Emit(context.Background(), Event{Type: EventLogout})

	if ev := <-first; ev.Type != EventLoginSuccess {
		t.Fatalf("first event = %s", ev.Type)
	}
	if ev := <-first; ev.Type != EventLogout {
		t.Fatalf("second event = %s", ev.Type)
	}
	// second has room for one: the slow subscriber lost the other.
	if ev := <-second; ev.Type != EventLoginSuccess {
		t.Fatalf("slow subscriber event = %s", ev.Type)
	}

	cancelFirst()
	cancelFirst()
	if _, ok := <-first; ok {
		t.Fatal("cancelled subscription still open")
	}

	b.close()
	if _, ok := <-second; ok {
		t.Fatal("close did not close subscriptions")
	}
	late, _ := b.subscribe(1)
	if _, ok := <-late; ok {
		t.Fatal("subscription after close should be closed")
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{
		Timestamp: time.Unix(1700000000, 0).UTC(),
		Type:      EventAuthExpired,
		From:      StateAuthenticated,
		To:        StateUnauthenticated,
		Error:     "refresh token rejected",
	})

	line := strings.TrimSpace(buf.String())
	var got map[string]any
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("invalid JSON line %q: %v", line, err)
	}
	if got["type"] != "auth_expired" || got["from"] != "authenticated" || got["to"] != "unauthenticated" {
		t.Fatalf("unexpected event JSON %v", got)
	}
	if _, ok := got["user_id"]; ok {
		t.Fatal("zero user_id should be omitted")
	}
}

func TestZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := ZapSink{Logger: zap.New(core)}

	sink.Emit(context.Background(), Event{Type: EventLoginSuccess, From: StateUnauthenticated, To: StateAuthenticated, UserID: 7})
	sink.Emit(context.Background(), Event{Type: EventRefreshFailed, From: StateAuthenticated, To: StateAuthenticated, Error: "timeout"})

	entries := logs.AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.DebugLevel || entries[0].Message != "login_success" {
		t.Fatalf("unexpected first entry %+v", entries[0].Entry)
	}
	if entries[0].ContextMap()["user_id"] != int64(7) {
		t.Fatalf("expected user_id field, got %v", entries[0].ContextMap())
	}
	if entries[1].Level != zapcore.WarnLevel || entries[1].ContextMap()["error"] != "timeout" {
		t.Fatalf("unexpected failure entry %+v %v", entries[1].Entry, entries[1].ContextMap())
	}

	ZapSink{}.Emit(context.Background(), Event{Type: EventLogout})
}

func TestSessionEventsReachSinkAndSubscribers(t *testing.T) {
	sink := NewChannelSink(16)
	env := newTestEnv(t, fakeapi.Config{}, func(b *Builder) {
		b.WithEventSink(sink)
	})
	sub, cancel := env.session.Subscribe(16)
	defer cancel()

	env.login(t)
	if err := env.session.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	ev := waitEvent(t, sink.Events(), EventLoginSuccess)
	if ev.UserID != 1 || ev.To != StateAuthenticated || ev.RequestID == "" {
		t.Fatalf("unexpected login event %+v", ev)
	}
	waitEvent(t, sink.Events(), EventLogout)
	waitEvent(t, sub, EventLoginSuccess)
	ev = waitEvent(t, sub, EventLogout)
	if ev.From != StateAuthenticated || ev.To != StateUnauthenticated {
		t.Fatalf("unexpected logout transition %s -> %s", ev.From, ev.To)
	}
}

func TestSessionEventsWithoutDispatcher(t *testing.T) {
	env := newTestEnv(t, fakeapi.Config{}, func(b *Builder) {
		b.config.Events.Enabled = false
	})
	sub, cancel := env.session.Subscribe(4)
	defer cancel()

	env.login(t)
	select {
	case ev := <-sub:
		if ev.Type != EventLoginSuccess {
			t.Fatalf("event = %s", ev.Type)
		}
	default:
		t.Fatal("synchronous delivery expected when the dispatcher is disabled")
	}
}
