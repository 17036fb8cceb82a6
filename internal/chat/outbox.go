package chat

import (
	"sync"

	"github.com/ehrlich-b/crmlive/internal/protocol"
)

type sendResult struct {
	res protocol.MessageResultPayload
	err error
}

// outbox tracks sends awaiting a messageResult, keyed by temp id, in send order.
type outbox struct {
	mu      sync.Mutex
	pending map[string]chan sendResult
	order   []string
}

func newOutbox() *outbox {
	return &outbox{pending: make(map[string]chan sendResult)}
}

func (o *outbox) add(tempID string) <-chan sendResult {
	ch := make(chan sendResult, 1)
	o.mu.Lock()
	o.pending[tempID] = ch
	o.order = append(o.order, tempID)
	o.mu.Unlock()
	return ch
}

func (o *outbox) remove(tempID string) {
	o.mu.Lock()
	o.take(tempID)
	o.mu.Unlock()
}

// take removes tempID and returns its channel. Caller holds o.mu.
func (o *outbox) take(tempID string) chan sendResult {
	ch, ok := o.pending[tempID]
	if !ok {
		return nil
	}
	delete(o.pending, tempID)
	for i, id := range o.order {
		if id == tempID {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	return ch
}

// resolve completes the send matching p.TempMessageID. It reports false for
// results nobody is waiting on.
func (o *outbox) resolve(p protocol.MessageResultPayload) bool {
	o.mu.Lock()
	ch := o.take(p.TempMessageID)
	o.mu.Unlock()
	if ch == nil {
		return false
	}
	r := sendResult{res: p}
	if !p.Success {
		r.err = &protocol.Error{Code: protocol.ErrMessageSendFailed, Message: p.Error}
	}
	ch <- r
	return true
}

// failOldest fails the earliest pending send. Error frames carry no temp id.
func (o *outbox) failOldest(err error) bool {
	o.mu.Lock()
	if len(o.order) == 0 {
		o.mu.Unlock()
		return false
	}
	ch := o.take(o.order[0])
	o.mu.Unlock()
	ch <- sendResult{err: err}
	return true
}

// failAll fails every pending send with err.
func (o *outbox) failAll(err error) int {
	o.mu.Lock()
	chans := make([]chan sendResult, 0, len(o.order))
	for _, id := range o.order {
		chans = append(chans, o.pending[id])
	}
	o.pending = make(map[string]chan sendResult)
	o.order = nil
	o.mu.Unlock()
	for _, ch := range chans {
		ch <- sendResult{err: err}
	}
	return len(chans)
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.order)
}
