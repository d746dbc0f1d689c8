package gatt

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rigado/btcontrol"
)

// base is the Bluetooth Base UUID 00000000-0000-1000-8000-00805F9B34FB.
var base = uuid.UUID{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0x80, 0x5f, 0x9b, 0x34, 0xfb}

// UUID is an attribute type. 16-bit UUIDs are stored expanded onto the base
// UUID, so the type compares with == and works as a map key.
type UUID struct {
	u uuid.UUID
}

// UUID16 expands a 16-bit assigned number.
func UUID16(v uint16) UUID {
	u := base
	u[2] = byte(v >> 8)
	u[3] = byte(v)
	return UUID{u}
}

// MustParse parses the canonical string form and panics on error.
func MustParse(s string) UUID {
	return UUID{uuid.MustParse(s)}
}

// Parse parses the canonical string form.
func Parse(s string) (UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return UUID{}, errors.Wrapf(btcontrol.ErrInvalid, "uuid %q: %v", s, err)
	}
	return UUID{u}, nil
}

// FromWire decodes a 2 or 16 byte little-endian UUID.
func FromWire(b []byte) (UUID, error) {
	switch len(b) {
	case 2:
		return UUID16(uint16(b[0]) | uint16(b[1])<<8), nil
	case 16:
		var u uuid.UUID
		for i := range u {
			u[i] = b[15-i]
		}
		return UUID{u}, nil
	}
	return UUID{}, errors.Wrapf(btcontrol.ErrInvalid, "uuid of %d bytes", len(b))
}

// Short reports the 16-bit form, if the UUID has one.
func (u UUID) Short() (uint16, bool) {
	b := u.u
	b[2], b[3] = 0, 0
	if b != base {
		return 0, false
	}
	return uint16(u.u[2])<<8 | uint16(u.u[3]), true
}

// Wire encodes the UUID little-endian, in its shortest form.
func (u UUID) Wire() []byte {
	if v, ok := u.Short(); ok {
		return []byte{byte(v), byte(v >> 8)}
	}
	b := make([]byte, 16)
	for i := range b {
		b[i] = u.u[15-i]
	}
	return b
}

func (u UUID) String() string {
	if v, ok := u.Short(); ok {
		return uuid16String(v)
	}
	return u.u.String()
}

func uuid16String(v uint16) string {
	const hex = "0123456789abcdef"
	return string([]byte{hex[v>>12], hex[v>>8&0xf], hex[v>>4&0xf], hex[v&0xf]})
}

var (
	PrimaryServiceUUID   = UUID16(0x2800)
	CharacteristicUUID   = UUID16(0x2803)
	ClientCharConfigUUID = UUID16(0x2902)
	ReportRefUUID        = UUID16(0x2908)

	HIDServiceUUID = UUID16(0x1812)
	HIDReportUUID  = UUID16(0x2A4D)

	// vendor voice/audio service found on some remotes
	AudioServiceUUID = MustParse("f0e0d000-a000-b000-c000-987654321000")
	AudioCommandUUID = MustParse("f0e0d001-a000-b000-c000-987654321000")
	AudioDataUUID    = MustParse("f0e0d002-a000-b000-c000-987654321000")
)
