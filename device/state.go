package device

import "fmt"

// LinkState is the connection state of a device.
type LinkState uint8

const (
	Idle LinkState = iota
	Connecting
	Connected
	Disconnecting
)

func (s LinkState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("link(%d)", uint8(s))
	}
}

// busy reports whether s is an action in flight.
func (s LinkState) busy() bool {
	return s == Connecting || s == Disconnecting
}

// PairState is the security relationship with a device.
type PairState uint8

const (
	Unpaired PairState = iota
	Pairing
	Paired
	Unpairing
	Bonded
)

func (s PairState) String() string {
	switch s {
	case Unpaired:
		return "unpaired"
	case Pairing:
		return "pairing"
	case Paired:
		return "paired"
	case Unpairing:
		return "unpairing"
	case Bonded:
		return "bonded"
	default:
		return fmt.Sprintf("pair(%d)", uint8(s))
	}
}

func (s PairState) busy() bool {
	return s == Pairing || s == Unpairing
}

// paired reports whether keys are established.
func (s PairState) paired() bool {
	return s == Paired || s == Bonded
}
