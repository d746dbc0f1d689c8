package keys

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/rigado/btcontrol"
)

// Record sizes match the kernel's mgmt_*_info layouts so the same bytes are
// used on the management socket and on disk.
const (
	LinkKeySize      = 25
	LongTermKeySize  = 36
	IdentityKeySize  = 23
	SignatureKeySize = 24

	ValueSize = 16
)

// Key is implemented by the four record kinds.
type Key interface {
	Address() btcontrol.Address
	Valid() bool
	MarshalBinary() ([]byte, error)
}

func validate(a btcontrol.Address, v []byte) error {
	if len(v) != ValueSize {
		return errors.Wrapf(btcontrol.ErrInvalid, "key material for %v is %d bytes", a, len(v))
	}
	if !a.IsValid() {
		return errors.Wrapf(btcontrol.ErrInvalid, "key address %v", a)
	}
	return nil
}

func putAddress(b []byte, a btcontrol.Address) {
	w := a.Wire()
	copy(b[0:6], w[:])
	b[6] = a.Kind().MgmtType()
}

func getAddress(b []byte) (btcontrol.Address, error) {
	k, err := btcontrol.KindFromMgmt(b[6])
	if err != nil {
		return btcontrol.Address{}, err
	}
	return btcontrol.AddressFromWire(b[0:6], k)
}

func value(b []byte) []byte {
	v := make([]byte, ValueSize)
	copy(v, b)
	return v
}

// LinkKey is a BR/EDR link key.
type LinkKey struct {
	Addr      btcontrol.Address
	Type      uint8
	Value     []byte
	PinLength uint8
}

func (k LinkKey) Address() btcontrol.Address { return k.Addr }
func (k LinkKey) Valid() bool                { return validate(k.Addr, k.Value) == nil }

func (k LinkKey) MarshalBinary() ([]byte, error) {
	if err := validate(k.Addr, k.Value); err != nil {
		return nil, err
	}
	b := make([]byte, LinkKeySize)
	putAddress(b, k.Addr)
	b[7] = k.Type
	copy(b[8:24], k.Value)
	b[24] = k.PinLength
	return b, nil
}

func (k *LinkKey) UnmarshalBinary(b []byte) error {
	if len(b) < LinkKeySize {
		return errors.Errorf("link key: want %d bytes, have %d", LinkKeySize, len(b))
	}
	a, err := getAddress(b)
	if err != nil {
		return err
	}
	*k = LinkKey{Addr: a, Type: b[7], Value: value(b[8:24]), PinLength: b[24]}
	return nil
}

// LongTermKey is an LE long term key. Master tells which side of the link
// distributed it; a bonded pair normally holds one of each.
type LongTermKey struct {
	Addr    btcontrol.Address
	Type    uint8
	Master  bool
	EncSize uint8
	EDiv    uint16
	Rand    uint64
	Value   []byte
}

func (k LongTermKey) Address() btcontrol.Address { return k.Addr }
func (k LongTermKey) Valid() bool                { return validate(k.Addr, k.Value) == nil }

func (k LongTermKey) MarshalBinary() ([]byte, error) {
	if err := validate(k.Addr, k.Value); err != nil {
		return nil, err
	}
	b := make([]byte, LongTermKeySize)
	putAddress(b, k.Addr)
	b[7] = k.Type
	if k.Master {
		b[8] = 1
	}
	b[9] = k.EncSize
	binary.LittleEndian.PutUint16(b[10:12], k.EDiv)
	binary.LittleEndian.PutUint64(b[12:20], k.Rand)
	copy(b[20:36], k.Value)
	return b, nil
}

func (k *LongTermKey) UnmarshalBinary(b []byte) error {
	if len(b) < LongTermKeySize {
		return errors.Errorf("long term key: want %d bytes, have %d", LongTermKeySize, len(b))
	}
	a, err := getAddress(b)
	if err != nil {
		return err
	}
	*k = LongTermKey{
		Addr:    a,
		Type:    b[7],
		Master:  b[8] != 0,
		EncSize: b[9],
		EDiv:    binary.LittleEndian.Uint16(b[10:12]),
		Rand:    binary.LittleEndian.Uint64(b[12:20]),
		Value:   value(b[20:36]),
	}
	return nil
}

// IdentityKey is an identity resolving key bound to the identity address.
type IdentityKey struct {
	Addr  btcontrol.Address
	Value []byte
}

func (k IdentityKey) Address() btcontrol.Address { return k.Addr }
func (k IdentityKey) Valid() bool                { return validate(k.Addr, k.Value) == nil }

func (k IdentityKey) MarshalBinary() ([]byte, error) {
	if err := validate(k.Addr, k.Value); err != nil {
		return nil, err
	}
	b := make([]byte, IdentityKeySize)
	putAddress(b, k.Addr)
	copy(b[7:23], k.Value)
	return b, nil
}

func (k *IdentityKey) UnmarshalBinary(b []byte) error {
	if len(b) < IdentityKeySize {
		return errors.Errorf("identity key: want %d bytes, have %d", IdentityKeySize, len(b))
	}
	a, err := getAddress(b)
	if err != nil {
		return err
	}
	*k = IdentityKey{Addr: a, Value: value(b[7:23])}
	return nil
}

// SignatureKey is a connection signature resolving key.
type SignatureKey struct {
	Addr  btcontrol.Address
	Type  uint8
	Value []byte
}

func (k SignatureKey) Address() btcontrol.Address { return k.Addr }
func (k SignatureKey) Valid() bool                { return validate(k.Addr, k.Value) == nil }

func (k SignatureKey) MarshalBinary() ([]byte, error) {
	if err := validate(k.Addr, k.Value); err != nil {
		return nil, err
	}
	b := make([]byte, SignatureKeySize)
	putAddress(b, k.Addr)
	b[7] = k.Type
	copy(b[8:24], k.Value)
	return b, nil
}

func (k *SignatureKey) UnmarshalBinary(b []byte) error {
	if len(b) < SignatureKeySize {
		return errors.Errorf("signature key: want %d bytes, have %d", SignatureKeySize, len(b))
	}
	a, err := getAddress(b)
	if err != nil {
		return err
	}
	*k = SignatureKey{Addr: a, Type: b[7], Value: value(b[8:24])}
	return nil
}
