// Package worker runs deferred work on a small fixed set of goroutines.
// Submitted work can be revoked for as long as it has not started.
package worker

import (
	"sync"
	"sync/atomic"
)

const (
	pending int32 = iota
	running
	finished
	revoked
)

// Ticket tracks one submitted task.
type Ticket struct {
	fn    func()
	state int32
	done  chan struct{}
}

// Done is closed after the task ran or was revoked.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Ran reports whether the task executed to completion.
func (t *Ticket) Ran() bool { return atomic.LoadInt32(&t.state) == finished }

// Pool executes tickets in submission order on a fixed number of workers.
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*Ticket
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts n workers.
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.work()
	}
	return p
}

// Submit queues fn. On a closed pool the returned ticket is already revoked.
func (p *Pool) Submit(fn func()) *Ticket {
	t := &Ticket{fn: fn, done: make(chan struct{})}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		t.state = revoked
		close(t.done)
		return t
	}
	p.queue = append(p.queue, t)
	p.mu.Unlock()
	p.cond.Signal()
	return t
}

// Revoke stops a ticket that has not started yet. It returns false when the
// task is already running or finished; a running task is never interrupted.
func (p *Pool) Revoke(t *Ticket) bool {
	if t == nil || !atomic.CompareAndSwapInt32(&t.state, pending, revoked) {
		return false
	}
	close(t.done)
	return true
}

// Close revokes queued tickets and waits for running ones.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	q := p.queue
	p.queue = nil
	p.mu.Unlock()

	for _, t := range q {
		p.Revoke(t)
	}
	p.cond.Broadcast()
	p.wg.Wait()
}

func (p *Pool) next() *Ticket {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.queue) == 0 {
		return nil
	}
	t := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return t
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		t := p.next()
		if t == nil {
			return
		}
		if !atomic.CompareAndSwapInt32(&t.state, pending, running) {
			continue
		}
		t.fn()
		atomic.StoreInt32(&t.state, finished)
		close(t.done)
	}
}
