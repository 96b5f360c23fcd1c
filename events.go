package goAuthClient

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType names a session lifecycle notification.
type EventType string

const (
	EventHydrated         EventType = "session_hydrated"
	EventValidated        EventType = "session_validated"
	EventValidationFailed EventType = "session_validation_failed"
	EventLoginSuccess     EventType = "login_success"
	EventLoginFailure     EventType = "login_failure"
	EventLogout           EventType = "logout"
	EventTokenRefreshed   EventType = "token_refreshed"
	EventRefreshFailed    EventType = "token_refresh_failed"
	// EventAuthExpired tells consumers to send the user back to login.
	EventAuthExpired    EventType = "auth_expired"
	EventProfileUpdated EventType = "profile_updated"
	EventStorageFailure EventType = "storage_failure"
)

// Event is delivered to sinks and subscribers.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	UserID    int64     `json:"user_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// EventSink receives events from the dispatcher goroutine.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, event Event)

func (f EventSinkFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink hands events to a buffered channel. Emit blocks until there
// is room or ctx ends.
type ChannelSink chan Event

func NewChannelSink(buffer int) ChannelSink {
	return make(ChannelSink, max(buffer, 1))
}

func (s ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s <- event:
	case <-ctx.Done():
	}
}

func (s ChannelSink) Events() <-chan Event { return s }

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	if w == nil {
		return &JSONWriterSink{}
	}
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.enc == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(event)
}

// ZapSink logs every event at debug level, failures at warn.
type ZapSink struct {
	Logger *zap.Logger
}

func (s ZapSink) Emit(_ context.Context, event Event) {
	if s.Logger == nil {
		return
	}
	fields := []zap.Field{
		zap.Stringer("from", event.From),
		zap.Stringer("to", event.To),
		zap.Time("at", event.Timestamp),
	}
	if event.UserID != 0 {
		fields = append(fields, zap.Int64("user_id", event.UserID))
	}
	if event.RequestID != "" {
		fields = append(fields, zap.String("request_id", event.RequestID))
	}
	if event.Error != "" {
		s.Logger.Warn(string(event.Type), append(fields, zap.String("error", event.Error))...)
		return
	}
	s.Logger.Debug(string(event.Type), fields...)
}

// MarshalText lets State render by name in JSON events.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// broadcaster forwards to the configured sink and fans out to
// Session.Subscribe channels. Slow subscribers lose events rather than stall
// the dispatcher.
type broadcaster struct {
	sink EventSink

	mu     sync.Mutex
	seq    int
	subs   map[int]chan Event
	closed bool
}

func newBroadcaster(sink EventSink) *broadcaster {
	if sink == nil {
		sink = NoOpSink{}
	}
	return &broadcaster{sink: sink, subs: make(map[int]chan Event)}
}

func (b *broadcaster) Emit(ctx context.Context, event Event) {
	b.sink.Emit(ctx, event)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

func (b *broadcaster) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.seq
	b.seq++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
