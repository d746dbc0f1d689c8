package h4

import "time"

const (
	pktTypeACL   = 0x02
	pktTypeEvent = 0x04

	eventHeaderLength = 3
	aclHeaderLength   = 5

	frameTimeout = 500 * time.Millisecond
)

// assembler rebuilds H4 packets from arbitrary read boundaries. Bytes ahead
// of a recognised packet type are dropped, and a partial packet older than
// frameTimeout is discarded.
type assembler struct {
	buf      []byte
	deadline time.Time
	dropped  int

	out func([]byte)
	now func() time.Time
}

func newAssembler(out func([]byte)) *assembler {
	return &assembler{
		buf: make([]byte, 0, 256),
		out: out,
		now: time.Now,
	}
}

func (a *assembler) feed(b []byte) {
	if len(b) == 0 {
		return
	}
	if len(a.buf) != 0 && a.now().After(a.deadline) {
		a.buf = a.buf[:0]
	}
	if len(a.buf) == 0 {
		a.deadline = a.now().Add(frameTimeout)
	}
	a.buf = append(a.buf, b...)

	for {
		a.sync()
		n, ok := a.length()
		if !ok || len(a.buf) < n {
			return
		}

		p := make([]byte, n)
		copy(p, a.buf[:n])
		a.buf = append(a.buf[:0], a.buf[n:]...)
		a.deadline = a.now().Add(frameTimeout)
		a.out(p)
	}
}

// sync drops bytes up to the next packet type indicator.
func (a *assembler) sync() {
	i := 0
	for i < len(a.buf) && a.buf[i] != pktTypeEvent && a.buf[i] != pktTypeACL {
		i++
	}
	if i > 0 {
		a.dropped += i
		a.buf = append(a.buf[:0], a.buf[i:]...)
	}
}

// length is the full size of the buffered packet, once its header is in.
func (a *assembler) length() (int, bool) {
	if len(a.buf) == 0 {
		return 0, false
	}
	switch a.buf[0] {
	case pktTypeEvent:
		if len(a.buf) < eventHeaderLength {
			return 0, false
		}
		return eventHeaderLength + int(a.buf[2]), true
	case pktTypeACL:
		if len(a.buf) < aclHeaderLength {
			return 0, false
		}
		return aclHeaderLength + (int(a.buf[3]) | int(a.buf[4])<<8), true
	}
	return 0, false
}
