// Package fakesock provides an in-memory packet socket for tests.
package fakesock

import (
	"io"
	"sync"
	"time"
)

// Socket delivers injected packets to Read, one per call, and exposes written
// packets on Written. Read times out like the kernel sockets do: 0, nil.
type Socket struct {
	rx   chan []byte
	tx   chan []byte
	done chan struct{}
	once sync.Once

	// OnWrite, when set, is called with each written packet instead of
	// queueing it on Written.
	OnWrite func(p []byte)
}

func New() *Socket {
	return &Socket{
		rx:   make(chan []byte, 64),
		tx:   make(chan []byte, 64),
		done: make(chan struct{}),
	}
}

// Inject queues a packet for the reader.
func (s *Socket) Inject(p []byte) {
	b := append([]byte(nil), p...)
	select {
	case s.rx <- b:
	case <-s.done:
	}
}

// Written returns packets written by the code under test.
func (s *Socket) Written() <-chan []byte { return s.tx }

// Next waits for the next written packet.
func (s *Socket) Next(d time.Duration) ([]byte, bool) {
	select {
	case p := <-s.tx:
		return p, true
	case <-time.After(d):
		return nil, false
	}
}

func (s *Socket) Read(p []byte) (int, error) {
	select {
	case b := <-s.rx:
		return copy(p, b), nil
	case <-s.done:
		return 0, io.EOF
	case <-time.After(10 * time.Millisecond):
		return 0, nil
	}
}

func (s *Socket) Write(p []byte) (int, error) {
	select {
	case <-s.done:
		return 0, io.EOF
	default:
	}
	b := append([]byte(nil), p...)
	if s.OnWrite != nil {
		s.OnWrite(b)
		return len(p), nil
	}
	select {
	case s.tx <- b:
	case <-s.done:
		return 0, io.EOF
	}
	return len(p), nil
}

func (s *Socket) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// Closed reports whether Close was called.
func (s *Socket) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
