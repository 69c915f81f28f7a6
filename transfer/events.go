package transfer

import (
	"context"
	"sync"
)

// EventKind names a step of a send or receive.
type EventKind string

const (
	EventInitializing EventKind = "initializing"
	EventImporting    EventKind = "importing"
	EventTicket       EventKind = "ticket"
	EventReady        EventKind = "ready"
	EventConnecting   EventKind = "connecting"
	EventDownloading  EventKind = "downloading"
	EventProgress     EventKind = "progress"
	EventWriting      EventKind = "writing"
	EventSuccess      EventKind = "success"
	EventError        EventKind = "error"
)

// Event is an informational progress notification. Outcomes are reported by
// Wait, not by event text.
type Event struct {
	Kind    EventKind `json:"kind"`
	Message string    `json:"message,omitempty"`
	Bytes   int64     `json:"bytes,omitempty"`
	Total   int64     `json:"total,omitempty"`
	Ticket  string    `json:"ticket,omitempty"`
	Path    string    `json:"path,omitempty"`
}

const (
	eventBuffer = 64
	// Slots kept free for lifecycle events; progress events never use them.
	lifecycleReserve = 16
)

type operation struct {
	id     string
	ctx    context.Context
	events chan Event
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func newOperation(ctx context.Context, id string) *operation {
	return &operation{
		id:     id,
		ctx:    ctx,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

// emit delivers a lifecycle event, giving up when the operation context ends.
func (o *operation) emit(event Event) {
	select {
	case o.events <- event:
	case <-o.ctx.Done():
	}
}

// progress drops the event instead of stalling the transfer when the
// consumer falls behind.
func (o *operation) progress(received, total int64) {
	if len(o.events) >= cap(o.events)-lifecycleReserve {
		return
	}
	select {
	case o.events <- Event{Kind: EventProgress, Bytes: received, Total: total}:
	default:
	}
}

func (o *operation) finish(err error) {
	o.mu.Lock()
	o.err = err
	o.mu.Unlock()
	close(o.events)
	close(o.done)
}

func (o *operation) result() error {
	<-o.done
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// ID is the transfer id recorded in history.
func (o *operation) ID() string {
	return o.id
}

// Events streams progress until the operation ends, then is closed.
func (o *operation) Events() <-chan Event {
	return o.events
}

// Done is closed when the operation has finished.
func (o *operation) Done() <-chan struct{} {
	return o.done
}
