package event

import (
	"errors"
	"sync"
)

// ErrBusy is returned by Publish when the queue is full. Producers should
// treat this as back-pressure and retry later, not as a fatal error.
var ErrBusy = errors.New("event queue full")

// Source identifies the component that published an event.
type Source int

const (
	SourceAny Source = iota // matches every source when used as a filter
	SourceReceiver
	SourceChannel
	SourceEngine
)

// String returns the source name
func (s Source) String() string {
	switch s {
	case SourceAny:
		return "any"
	case SourceReceiver:
		return "receiver"
	case SourceChannel:
		return "channel"
	case SourceEngine:
		return "engine"
	default:
		return "unknown"
	}
}

// Type identifies what happened.
type Type int

const (
	TypeDataReady Type = iota
	TypeStateChanged
	TypeSweepComplete
	TypeError
)

// String returns the type name
func (t Type) String() string {
	switch t {
	case TypeDataReady:
		return "data-ready"
	case TypeStateChanged:
		return "state-changed"
	case TypeSweepComplete:
		return "sweep-complete"
	case TypeError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a single notification flowing through the bus. Buffer, when
// non-nil on a data-ready event, is a driver-owned capture buffer handed
// off for one processing pass; consumers must not retain it.
type Event struct {
	Source    Source
	Type      Type
	Sequence  int
	Point     int
	Frequency float64
	Buffer    []complex128
	Err       error
}

// Handler receives dispatched events. Handlers run on the dispatching
// goroutine and must not block.
type Handler func(Event)

type subscription struct {
	source  Source
	handler Handler
}

// Bus is a bounded publish/dispatch queue. Publish never blocks and may be
// called from any goroutine (the interrupt-context analog); Dispatch must
// only be called from the main loop. Events are delivered in strict FIFO
// publish order.
type Bus struct {
	queue chan Event

	mutex sync.RWMutex
	subs  []subscription
}

// NewBus creates a bus with the given queue capacity.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 16
	}
	return &Bus{queue: make(chan Event, capacity)}
}

// Publish enqueues an event without blocking. Returns ErrBusy when the
// queue is full.
func (b *Bus) Publish(ev Event) error {
	select {
	case b.queue <- ev:
		return nil
	default:
		return ErrBusy
	}
}

// Subscribe registers a handler for events from the given source.
// SourceAny receives everything. Subscription is expected to happen at
// configuration time, before the main loop starts dispatching.
func (b *Bus) Subscribe(source Source, handler Handler) {
	if handler == nil {
		return
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.subs = append(b.subs, subscription{source: source, handler: handler})
}

// DispatchOne delivers the oldest queued event, if any, to all matching
// subscribers. Returns true when an event was delivered.
func (b *Bus) DispatchOne() bool {
	select {
	case ev := <-b.queue:
		b.deliver(ev)
		return true
	default:
		return false
	}
}

// Dispatch drains every event currently queued and returns how many were
// delivered.
func (b *Bus) Dispatch() int {
	n := 0
	for b.DispatchOne() {
		n++
	}
	return n
}

func (b *Bus) deliver(ev Event) {
	b.mutex.RLock()
	subs := b.subs
	b.mutex.RUnlock()

	for _, sub := range subs {
		if sub.source == SourceAny || sub.source == ev.Source {
			sub.handler(ev)
		}
	}
}

// Pending returns the number of queued, undispatched events.
func (b *Bus) Pending() int {
	return len(b.queue)
}

// Capacity returns the fixed queue capacity.
func (b *Bus) Capacity() int {
	return cap(b.queue)
}
