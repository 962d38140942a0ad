package event

import (
	"log/slog"
	"sync"
	"time"
)

// Type identifies a category of event.
type Type string

// Known event types.
const (
	LocationResolved   Type = "location.resolved"
	LocationUnresolved Type = "location.unresolved"
	BatchCompleted     Type = "batch.completed"
	CacheFlushFailed   Type = "cache.flush_failed"
)

// AllTypes returns every event type a webhook can subscribe to.
func AllTypes() []Type {
	return []Type{LocationResolved, LocationUnresolved, BatchCompleted, CacheFlushFailed}
}

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	for _, known := range AllTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Event represents something that happened in the system.
type Event struct {
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Handler is a function that processes an event.
type Handler func(Event)

// Publisher is the sending half of the bus.
type Publisher interface {
	Publish(e Event)
}

// Bus is an in-process event bus backed by a buffered channel.
type Bus struct {
	ch       chan Event
	mu       sync.RWMutex
	subs     map[Type][]Handler
	logger   *slog.Logger
	done     chan struct{}
	drained  chan struct{}
	stopOnce sync.Once
}

// NewBus creates a new event bus with the given buffer size.
func NewBus(logger *slog.Logger, bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Bus{
		ch:      make(chan Event, bufSize),
		subs:    make(map[Type][]Handler),
		logger:  logger.With(slog.String("component", "event-bus")),
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}
}

// Subscribe registers a handler for the given event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], h)
}

// SubscribeAll registers h for every known event type.
func (b *Bus) SubscribeAll(h Handler) {
	for _, t := range AllTypes() {
		b.Subscribe(t, h)
	}
}

// Publish sends an event to the bus. Non-blocking; drops with a warning if the buffer is full.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	select {
	case b.ch <- e:
	default:
		b.logger.Warn("event bus full, dropping event", "type", string(e.Type))
	}
}

// Start drains the channel and dispatches events to subscribers until Stop
// is called and the buffer is empty. Call this in a goroutine.
func (b *Bus) Start() {
	defer close(b.drained)
	for {
		select {
		case e := <-b.ch:
			b.dispatch(e)
		case <-b.done:
			for {
				select {
				case e := <-b.ch:
					b.dispatch(e)
				default:
					return
				}
			}
		}
	}
}

// Stop signals the bus to stop processing events after draining the buffer.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.done) })
}

// Shutdown stops the bus and waits up to timeout for Start to finish
// draining. It reports whether the drain completed.
func (b *Bus) Shutdown(timeout time.Duration) bool {
	b.Stop()
	select {
	case <-b.drained:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (b *Bus) dispatch(e Event) {
	b.mu.RLock()
	handlers := b.subs[e.Type]
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked", "type", string(e.Type), "panic", r)
				}
			}()
			h(e)
		}()
	}
}
