package remote

import (
	"sync"

	"github.com/rigado/btcontrol/keymap"
	"github.com/rigado/btcontrol/worker"
)

type keyEvent struct {
	pressed bool
	code    uint16
	name    string
}

// keyQueue hands key events to the key handler on the worker pool, one
// drain at a time so events arrive in order.
type keyQueue struct {
	pool *worker.Pool

	mu       sync.Mutex
	handler  keymap.InputHandler
	events   []keyEvent
	draining bool
}

func newKeyQueue(pool *worker.Pool) *keyQueue {
	return &keyQueue{pool: pool}
}

func (q *keyQueue) setHandler(h keymap.InputHandler) {
	q.mu.Lock()
	q.handler = h
	if h == nil {
		q.events = nil
	}
	q.mu.Unlock()
}

func (q *keyQueue) post(ev keyEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.handler == nil {
		return
	}
	q.events = append(q.events, ev)
	if q.draining {
		return
	}
	q.draining = true
	t := q.pool.Submit(q.drain)
	select {
	case <-t.Done():
		if !t.Ran() {
			q.draining = false
			q.events = nil
		}
	default:
	}
}

func (q *keyQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.events) == 0 || q.handler == nil {
			q.events = nil
			q.draining = false
			q.mu.Unlock()
			return
		}
		ev, h := q.events[0], q.handler
		q.events = q.events[1:]
		q.mu.Unlock()

		// unmapped codes are the handler's business
		h.KeyEvent(ev.pressed, uint32(ev.code), ev.name)
	}
}
