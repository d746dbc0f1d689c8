// Package fakegatt answers attribute protocol requests from an in-memory
// attribute table, for tests.
package fakegatt

import (
	"encoding/binary"
	"sync"

	"github.com/rigado/btcontrol/internal/fakesock"
	"github.com/rigado/btcontrol/sliceops"
)

// Attr is one attribute. End is the group end handle of a service
// declaration.
type Attr struct {
	Handle uint16
	Type   []byte // wire order
	Value  []byte
	End    uint16
}

// Write is a received write request.
type Write struct {
	Handle uint16
	Value  []byte
}

// Server serves a table over a fakesock.Socket.
type Server struct {
	Socket *fakesock.Socket
	MTU    uint16

	mu     sync.Mutex
	attrs  []Attr
	manual bool

	// Writes receives every write request once it arrived.
	Writes chan Write
}

// New serves attrs, which must be sorted by handle. With manual set write
// requests are acknowledged only through Ack.
func New(attrs []Attr, manual bool) *Server {
	s := &Server{
		Socket: fakesock.New(),
		MTU:    23,
		attrs:  attrs,
		manual: manual,
		Writes: make(chan Write, 64),
	}
	s.Socket.OnWrite = s.serve
	return s
}

// Ack acknowledges one pending write request.
func (s *Server) Ack() { s.Socket.Inject([]byte{0x13}) }

// Notify sends a handle value notification.
func (s *Server) Notify(handle uint16, v []byte) {
	b := []byte{0x1b, byte(handle), byte(handle >> 8)}
	s.Socket.Inject(append(b, v...))
}

// Value returns the current value of handle.
func (s *Server) Value(handle uint16) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attrs {
		if a.Handle == handle {
			return a.Value
		}
	}
	return nil
}

func errRsp(op byte, h uint16, code byte) []byte {
	return []byte{0x01, op, byte(h), byte(h >> 8), code}
}

func eq(a, b []byte) bool {
	return string(a) == string(b)
}

func (s *Server) serve(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(p) == 0 {
		return
	}
	u16 := func(i int) uint16 { return binary.LittleEndian.Uint16(p[i:]) }

	switch p[0] {
	case 0x02:
		s.Socket.Inject([]byte{0x03, byte(s.MTU), byte(s.MTU >> 8)})

	case 0x10, 0x08:
		start, end, typ := u16(1), u16(3), p[5:]
		s.Socket.Inject(s.readBy(p[0], start, end, typ))

	case 0x04:
		start, end := u16(1), u16(3)
		s.Socket.Inject(s.findInfo(start, end))

	case 0x0a:
		h := u16(1)
		for _, a := range s.attrs {
			if a.Handle == h {
				s.Socket.Inject(append([]byte{0x0b}, a.Value...))
				return
			}
		}
		s.Socket.Inject(errRsp(0x0a, h, 0x01))

	case 0x12:
		h := u16(1)
		v := append([]byte(nil), p[3:]...)
		for i := range s.attrs {
			if s.attrs[i].Handle == h {
				s.attrs[i].Value = v
			}
		}
		s.Writes <- Write{Handle: h, Value: v}
		if !s.manual {
			s.Socket.Inject([]byte{0x13})
		}
	}
}

func (s *Server) readBy(op byte, start, end uint16, typ []byte) []byte {
	rsp := []byte{op + 1, 0}
	n := 0
	for _, a := range s.attrs {
		if a.Handle < start || a.Handle > end || !eq(a.Type, typ) {
			continue
		}
		var e []byte
		if op == 0x10 {
			e = []byte{byte(a.Handle), byte(a.Handle >> 8), byte(a.End), byte(a.End >> 8)}
		} else {
			e = []byte{byte(a.Handle), byte(a.Handle >> 8)}
		}
		e = append(e, a.Value...)
		if n == 0 {
			n = len(e)
		}
		if len(e) != n || len(rsp)+n > int(s.MTU) {
			break
		}
		rsp = append(rsp, e...)
	}
	if n == 0 {
		return errRsp(op, start, 0x0a)
	}
	rsp[1] = byte(n)
	return rsp
}

func (s *Server) findInfo(start, end uint16) []byte {
	rsp := []byte{0x05, 0}
	n := 0
	for _, a := range s.attrs {
		if a.Handle < start || a.Handle > end {
			continue
		}
		e := append([]byte{byte(a.Handle), byte(a.Handle >> 8)}, a.Type...)
		if n == 0 {
			n = len(e)
		}
		if len(e) != n || len(rsp)+n > int(s.MTU) {
			break
		}
		rsp = append(rsp, e...)
	}
	switch n {
	case 0:
		return errRsp(0x04, start, 0x0a)
	case 4:
		rsp[1] = 0x01
	default:
		rsp[1] = 0x02
	}
	return rsp
}

// Table helpers.

// Service declares a primary service spanning [h, end].
func Service(h, end uint16, uuid []byte) Attr {
	return Attr{Handle: h, Type: []byte{0x00, 0x28}, Value: uuid, End: end}
}

// Char declares a characteristic at h whose value lives at h+1.
func Char(h uint16, props byte, uuid []byte) []Attr {
	decl := append([]byte{props, byte(h + 1), byte((h + 1) >> 8)}, uuid...)
	return []Attr{
		{Handle: h, Type: []byte{0x03, 0x28}, Value: decl},
		{Handle: h + 1, Type: uuid},
	}
}

// CCCD is a client characteristic configuration descriptor at h.
func CCCD(h uint16) Attr {
	return Attr{Handle: h, Type: []byte{0x02, 0x29}, Value: []byte{0, 0}}
}

func wire128(msb ...byte) []byte { return sliceops.SwapBuf(msb) }

var (
	audioService = wire128(0xf0, 0xe0, 0xd0, 0x00, 0xa0, 0x00, 0xb0, 0x00, 0xc0, 0x00, 0x98, 0x76, 0x54, 0x32, 0x10, 0x00)
	audioCommand = wire128(0xf0, 0xe0, 0xd0, 0x01, 0xa0, 0x00, 0xb0, 0x00, 0xc0, 0x00, 0x98, 0x76, 0x54, 0x32, 0x10, 0x00)
	audioData    = wire128(0xf0, 0xe0, 0xd0, 0x02, 0xa0, 0x00, 0xb0, 0x00, 0xc0, 0x00, 0x98, 0x76, 0x54, 0x32, 0x10, 0x00)
)

// HIDRemote is the table of a voice remote: a GAP service, an HID service
// with two input reports (values 0x34 and 0x38, configuration descriptors
// 0x35 and 0x39) and a vendor audio service whose data characteristic has
// its configuration descriptor at 0x45.
func HIDRemote() []Attr {
	var t []Attr
	t = append(t, Service(0x01, 0x03, []byte{0x00, 0x18}))
	t = append(t, Char(0x02, 0x02, []byte{0x00, 0x2a})...)

	t = append(t, Service(0x30, 0x39, []byte{0x12, 0x18}))
	t = append(t, Char(0x31, 0x02, []byte{0x4a, 0x2a})...)
	t = append(t, Char(0x33, 0x12, []byte{0x4d, 0x2a})...)
	t = append(t, CCCD(0x35), Attr{Handle: 0x36, Type: []byte{0x08, 0x29}, Value: []byte{0x01, 0x01}})
	t = append(t, Char(0x37, 0x12, []byte{0x4d, 0x2a})...)
	t = append(t, CCCD(0x39))

	t = append(t, Service(0x40, 0x45, audioService))
	t = append(t, Char(0x41, 0x0c, audioCommand)...)
	t = append(t, Char(0x43, 0x10, audioData)...)
	t = append(t, CCCD(0x45))
	return t
}
