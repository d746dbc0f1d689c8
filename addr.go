package btcontrol

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// AddressKind tells a classic (BR/EDR) address from the two LE flavours.
type AddressKind uint8

const (
	Classic AddressKind = iota
	LEPublic
	LERandom
)

func (k AddressKind) String() string {
	switch k {
	case Classic:
		return "classic"
	case LEPublic:
		return "le-public"
	case LERandom:
		return "le-random"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// IsLE reports whether the kind belongs to a Low Energy device.
func (k AddressKind) IsLE() bool {
	return k == LEPublic || k == LERandom
}

// MgmtType returns the management socket encoding of the kind (BDADDR_BREDR,
// BDADDR_LE_PUBLIC, BDADDR_LE_RANDOM).
func (k AddressKind) MgmtType() uint8 {
	return uint8(k)
}

// HCIType returns the LE address type used in HCI commands and events.
func (k AddressKind) HCIType() uint8 {
	if k == LERandom {
		return 1
	}
	return 0
}

// KindFromMgmt maps a management address type back to a kind.
func KindFromMgmt(t uint8) (AddressKind, error) {
	if t > uint8(LERandom) {
		return 0, errors.Wrapf(ErrInvalid, "address type 0x%02x", t)
	}
	return AddressKind(t), nil
}

// KindFromHCI maps an HCI LE address type to a kind. Identity address types
// (0x02, 0x03) reported by controllers doing address resolution collapse onto
// their public/random counterparts.
func KindFromHCI(t uint8) AddressKind {
	if t&0x01 != 0 {
		return LERandom
	}
	return LEPublic
}

// Address is a remote device identity: the 6 address bytes, most significant
// first, plus the kind. Two addresses are equal only when both match, so the
// type is safe to use as a map key.
type Address struct {
	b    [6]byte
	kind AddressKind
}

// NewAddress builds an address from bytes in display order (most significant first).
func NewAddress(b [6]byte, kind AddressKind) Address {
	return Address{b: b, kind: kind}
}

// AddressFromWire builds an address from the little-endian layout used by HCI
// and the management interface.
func AddressFromWire(le []byte, kind AddressKind) (Address, error) {
	if len(le) < 6 {
		return Address{}, errors.Wrapf(ErrInvalid, "address needs 6 bytes, have %d", len(le))
	}
	var a Address
	for i := 0; i < 6; i++ {
		a.b[i] = le[5-i]
	}
	a.kind = kind
	return a, nil
}

// ParseAddress parses "AA:BB:CC:DD:EE:FF" (or with dashes).
func ParseAddress(s string, kind AddressKind) (Address, error) {
	h := strings.NewReplacer(":", "", "-", "").Replace(s)
	if len(h) != 12 {
		return Address{}, errors.Wrapf(ErrInvalid, "address %q", s)
	}
	raw, err := hex.DecodeString(h)
	if err != nil {
		return Address{}, errors.Wrapf(ErrInvalid, "address %q: %v", s, err)
	}
	var a Address
	copy(a.b[:], raw)
	a.kind = kind
	return a, nil
}

// MustParseAddress is ParseAddress for literals; it panics on bad input.
func MustParseAddress(s string, kind AddressKind) Address {
	a, err := ParseAddress(s, kind)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) Kind() AddressKind { return a.kind }

// Bytes returns the address in display order.
func (a Address) Bytes() [6]byte { return a.b }

// Wire returns the address in little-endian order.
func (a Address) Wire() [6]byte {
	var w [6]byte
	for i := 0; i < 6; i++ {
		w[i] = a.b[5-i]
	}
	return w
}

// IsValid is false for the all-zero and broadcast addresses and unknown kinds.
func (a Address) IsValid() bool {
	if a.kind > LERandom {
		return false
	}
	var zero, ones = true, true
	for _, v := range a.b {
		zero = zero && v == 0x00
		ones = ones && v == 0xFF
	}
	return !zero && !ones
}

// SameDevice compares the address bytes only, ignoring the kind.
func (a Address) SameDevice(o Address) bool {
	return a.b == o.b
}

func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a.b[0], a.b[1], a.b[2], a.b[3], a.b[4], a.b[5])
}
