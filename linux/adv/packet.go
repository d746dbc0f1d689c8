package adv

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Packet crafts advertising or EIR data.
type Packet struct {
	b   []byte
	max int
}

// Field is an advertising field which can be appended to a packet.
type Field func(p *Packet) error

// NewPacket returns a packet limited to max bytes.
func NewPacket(max int, fields ...Field) (*Packet, error) {
	p := &Packet{b: make([]byte, 0, max), max: max}
	for _, f := range fields {
		if err := f(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Bytes returns the bytes of the packet.
func (p *Packet) Bytes() []byte {
	return p.b
}

func (p *Packet) append(typ byte, b []byte) error {
	if len(b) > 254 || len(p.b)+2+len(b) > p.max {
		return errors.Errorf("field 0x%02x does not fit", typ)
	}
	p.b = append(p.b, byte(len(b)+1), typ)
	p.b = append(p.b, b...)
	return nil
}

// WithFlags sets the flags field.
func WithFlags(f byte) Field {
	return func(p *Packet) error { return p.append(TypeFlags, []byte{f}) }
}

// WithShortName sets the shortened local name.
func WithShortName(n string) Field {
	return func(p *Packet) error { return p.append(TypeShortName, []byte(n)) }
}

// WithCompleteName sets the complete local name.
func WithCompleteName(n string) Field {
	return func(p *Packet) error { return p.append(TypeCompleteName, []byte(n)) }
}

// WithUUID16 lists complete 16 bit service UUIDs.
func WithUUID16(uu ...uint16) Field {
	return func(p *Packet) error {
		b := make([]byte, 2*len(uu))
		for i, u := range uu {
			binary.LittleEndian.PutUint16(b[2*i:], u)
		}
		return p.append(TypeUUID16Comp, b)
	}
}
