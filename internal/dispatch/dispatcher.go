// Package dispatch routes inbound frames to exactly one handler per event name.
package dispatch

import (
	"log/slog"
	"sync"

	"github.com/ehrlich-b/crmlive/internal/protocol"
)

// Handler receives a frame for the event it was bound to.
type Handler func(f protocol.Frame)

// Dispatcher holds at most one handler per event. Dispatch is serialized:
// a frame dispatched while another handler is running (re-entrant or from a
// second goroutine) is queued and runs after it, in arrival order.
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[string]Handler
	queue    []protocol.Frame
	running  bool
}

func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Bind installs h for event, replacing any handler already bound to it.
func (d *Dispatcher) Bind(event string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, event)
	if h != nil {
		d.handlers[event] = h
	}
}

func (d *Dispatcher) Unbind(event string) {
	d.mu.Lock()
	delete(d.handlers, event)
	d.mu.Unlock()
}

// UnbindAll drops every handler and any frames still queued for them.
// A handler already running when UnbindAll is called is not interrupted and
// runs to completion; callers that must not see its effects guard their own
// state (see conversation.Store.Reset).
func (d *Dispatcher) UnbindAll() {
	d.mu.Lock()
	d.handlers = make(map[string]Handler)
	d.queue = nil
	d.mu.Unlock()
}

// Bound reports whether a handler is installed for event.
func (d *Dispatcher) Bound(event string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.handlers[event]
	return ok
}

// Len returns the number of bound events.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers)
}

// Dispatch delivers f to its handler. Frames with no handler are dropped.
func (d *Dispatcher) Dispatch(f protocol.Frame) {
	d.mu.Lock()
	d.queue = append(d.queue, f)
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.running = false
			d.mu.Unlock()
			return
		}
		next := d.queue[0]
		d.queue = d.queue[1:]
		h := d.handlers[next.Event]
		d.mu.Unlock()

		if h == nil {
			if !protocol.Known(next.Event) {
				slog.Debug("dispatch: ignoring unknown event", "event", next.Event)
			}
			continue
		}
		d.run(h, next)
	}
}

func (d *Dispatcher) run(h Handler, f protocol.Frame) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatch: handler panic", "event", f.Event, "panic", r)
		}
	}()
	h(f)
}

// On binds a handler that receives the decoded payload of event.
// Frames that fail to decode are logged and skipped.
func On[T any](d *Dispatcher, event string, fn func(T)) {
	d.Bind(event, func(f protocol.Frame) {
		var v T
		if len(f.Data) > 0 {
			if err := f.Decode(&v); err != nil {
				slog.Warn("dispatch: bad payload", "event", event, "err", err)
				return
			}
		}
		fn(v)
	})
}
