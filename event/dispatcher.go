package event

import (
	"errors"
	"sync"

	"github.com/mbeoliero/kit/log"
)

// Handler consumes one decoded event.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Dispatcher decodes inbound frames into typed events and fans each one
// out to the subscribers registered for its type.
//
// Dispatch is synchronous and ordered: events are delivered to all
// subscribers of a type in the order frames arrive on the channel, and a
// panicking handler does not prevent delivery to the remaining handlers.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   map[Type][]*subscription
	nextId uint64
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{subs: make(map[Type][]*subscription)}
}

// Subscribe registers a handler for one event type and returns a
// function that removes it. Unsubscribing twice is a no-op.
func (d *Dispatcher) Subscribe(t Type, h Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextId++
	sub := &subscription{id: d.nextId, handler: h}
	d.subs[t] = append(d.subs[t], sub)

	id := sub.id
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		list := d.subs[t]
		for i, s := range list {
			if s.id == id {
				d.subs[t] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Dispatch decodes a raw frame and delivers it. Malformed frames and
// unknown event types are logged and dropped, never propagated.
func (d *Dispatcher) Dispatch(data []byte) {
	ev, err := Decode(data)
	if err != nil {
		var unknown *ErrUnknownType
		if errors.As(err, &unknown) {
			log.Debug("dropping event of unknown type %q", unknown.Type)
		} else {
			log.Warn("dropping malformed event: %v", err)
		}
		return
	}
	d.DispatchEvent(ev)
}

// DispatchEvent delivers an already-decoded event to its subscribers.
func (d *Dispatcher) DispatchEvent(ev Event) {
	d.mu.RLock()
	list := d.subs[ev.EventType()]
	// Copy so handlers may subscribe/unsubscribe during delivery.
	subs := make([]*subscription, len(list))
	copy(subs, list)
	d.mu.RUnlock()

	for _, sub := range subs {
		d.deliver(sub, ev)
	}
}

// deliver isolates a single handler call so one panicking subscriber
// cannot break delivery to the rest.
func (d *Dispatcher) deliver(sub *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("event handler panic: type=%s, error=%v", ev.EventType(), r)
		}
	}()
	sub.handler(ev)
}

// Reset removes all subscriptions.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = make(map[Type][]*subscription)
}
