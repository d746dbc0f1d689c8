package mgmt

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// IndexNone addresses the management interface itself rather than an adapter.
const IndexNone = 0xffff

const headerSize = 6

// Command opcodes.
const (
	OpReadIndexList    = 0x0003
	OpSetPowered       = 0x0005
	OpSetConnectable   = 0x0007
	OpSetBondable      = 0x0009
	OpSetSSP           = 0x000B
	OpSetLE            = 0x000D
	OpSetLocalName     = 0x000F
	OpLoadLinkKeys     = 0x0012
	OpLoadLongTermKeys = 0x0013
	OpSetIOCapability  = 0x0018
	OpPairDevice       = 0x0019
	OpCancelPairDevice = 0x001A
	OpUnpairDevice     = 0x001B
	OpLoadIRKs         = 0x0030
)

// Event codes.
const (
	EvCommandComplete    = 0x0001
	EvCommandStatus      = 0x0002
	EvControllerError    = 0x0003
	EvIndexAdded         = 0x0004
	EvIndexRemoved       = 0x0005
	EvNewSettings        = 0x0006
	EvNewLinkKey         = 0x0009
	EvNewLongTermKey     = 0x000A
	EvDeviceConnected    = 0x000B
	EvDeviceDisconnected = 0x000C
	EvConnectFailed      = 0x000D
	EvAuthFailed         = 0x0011
	EvNewIRK             = 0x0018
	EvNewCSRK            = 0x0019
	EvNewConnParam       = 0x001C
)

// Status codes returned in command complete/status events.
const (
	StatusSuccess          = 0x00
	StatusUnknownCommand   = 0x01
	StatusNotConnected     = 0x02
	StatusFailed           = 0x03
	StatusConnectFailed    = 0x04
	StatusAuthFailed       = 0x05
	StatusNotPaired        = 0x06
	StatusNoResources      = 0x07
	StatusTimeout          = 0x08
	StatusAlreadyConnected = 0x09
	StatusBusy             = 0x0A
	StatusRejected         = 0x0B
	StatusNotSupported     = 0x0C
	StatusInvalidParams    = 0x0D
	StatusDisconnected     = 0x0E
	StatusNotPowered       = 0x0F
	StatusCancelled        = 0x10
	StatusInvalidIndex     = 0x11
	StatusRFKilled         = 0x12
	StatusAlreadyPaired    = 0x13
	StatusPermissionDenied = 0x14
)

// IO capabilities for PAIR_DEVICE and SET_IO_CAPABILITY.
type Capability uint8

const (
	DisplayOnly     Capability = 0x00
	DisplayYesNo    Capability = 0x01
	KeyboardOnly    Capability = 0x02
	NoInputNoOutput Capability = 0x03
	KeyboardDisplay Capability = 0x04
)

// Header is the fixed management packet header.
type Header struct {
	Code  uint16
	Index uint16
	Len   uint16
}

func (h Header) marshal(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], h.Code)
	binary.LittleEndian.PutUint16(b[2:4], h.Index)
	binary.LittleEndian.PutUint16(b[4:6], h.Len)
}

// Packet builds a command packet.
func Packet(code, index uint16, params []byte) []byte {
	b := make([]byte, headerSize+len(params))
	Header{Code: code, Index: index, Len: uint16(len(params))}.marshal(b)
	copy(b[headerSize:], params)
	return b
}

// ParsePacket splits a received packet into header and parameters. The
// declared length must match what was read.
func ParsePacket(b []byte) (Header, []byte, error) {
	if len(b) < headerSize {
		return Header{}, nil, errors.Errorf("short packet: % X", b)
	}
	h := Header{
		Code:  binary.LittleEndian.Uint16(b[0:2]),
		Index: binary.LittleEndian.Uint16(b[2:4]),
		Len:   binary.LittleEndian.Uint16(b[4:6]),
	}
	if int(h.Len) != len(b)-headerSize {
		return h, nil, errors.Errorf("length mismatch: header %d, payload %d", h.Len, len(b)-headerSize)
	}
	return h, b[headerSize:], nil
}

// StatusError is a non-success management status.
type StatusError struct {
	Opcode uint16
	Status uint8
}

func (e StatusError) Error() string {
	return fmt.Sprintf("mgmt command 0x%04x: status 0x%02x", e.Opcode, e.Status)
}
