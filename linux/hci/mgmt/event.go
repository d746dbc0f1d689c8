package mgmt

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/rigado/btcontrol"
	"github.com/rigado/btcontrol/keys"
)

const addrInfoSize = 7

type CommandComplete struct {
	Opcode uint16
	Status uint8
	Params []byte
}

type CommandStatus struct {
	Opcode uint16
	Status uint8
}

type ControllerError struct {
	Code uint8
}

type DeviceConnected struct {
	Addr  btcontrol.Address
	Flags uint32
	EIR   []byte
}

type DeviceDisconnected struct {
	Addr   btcontrol.Address
	Reason uint8
}

type ConnectFailed struct {
	Addr   btcontrol.Address
	Status uint8
}

type AuthFailed struct {
	Addr   btcontrol.Address
	Status uint8
}

type NewLinkKey struct {
	Store bool
	Key   keys.LinkKey
}

type NewLongTermKey struct {
	Store bool
	Key   keys.LongTermKey
}

type NewIRK struct {
	Store bool
	RPA   btcontrol.Address
	Key   keys.IdentityKey
}

type NewCSRK struct {
	Store bool
	Key   keys.SignatureKey
}

type NewConnParam struct {
	Addr               btcontrol.Address
	Store              bool
	MinInterval        uint16
	MaxInterval        uint16
	Latency            uint16
	SupervisionTimeout uint16
}

func need(b []byte, n int, what string) error {
	if len(b) < n {
		return errors.Errorf("%s: need %d bytes, have %d", what, n, len(b))
	}
	return nil
}

func addrInfo(b []byte) (btcontrol.Address, error) {
	k, err := btcontrol.KindFromMgmt(b[6])
	if err != nil {
		return btcontrol.Address{}, err
	}
	return btcontrol.AddressFromWire(b[0:6], k)
}

func putAddrInfo(b []byte, a btcontrol.Address) {
	w := a.Wire()
	copy(b[0:6], w[:])
	b[6] = a.Kind().MgmtType()
}

// Decode turns an event payload into one of the event structs above. Events
// the controller does not consume come back as (nil, nil).
func Decode(code uint16, b []byte) (interface{}, error) {
	switch code {
	case EvCommandComplete:
		if err := need(b, 3, "command complete"); err != nil {
			return nil, err
		}
		return CommandComplete{Opcode: binary.LittleEndian.Uint16(b[0:2]), Status: b[2], Params: b[3:]}, nil

	case EvCommandStatus:
		if err := need(b, 3, "command status"); err != nil {
			return nil, err
		}
		return CommandStatus{Opcode: binary.LittleEndian.Uint16(b[0:2]), Status: b[2]}, nil

	case EvControllerError:
		if err := need(b, 1, "controller error"); err != nil {
			return nil, err
		}
		return ControllerError{Code: b[0]}, nil

	case EvDeviceConnected:
		if err := need(b, addrInfoSize+6, "device connected"); err != nil {
			return nil, err
		}
		a, err := addrInfo(b)
		if err != nil {
			return nil, err
		}
		l := int(binary.LittleEndian.Uint16(b[11:13]))
		if err := need(b, 13+l, "device connected eir"); err != nil {
			return nil, err
		}
		return DeviceConnected{Addr: a, Flags: binary.LittleEndian.Uint32(b[7:11]), EIR: b[13 : 13+l]}, nil

	case EvDeviceDisconnected:
		if err := need(b, addrInfoSize+1, "device disconnected"); err != nil {
			return nil, err
		}
		a, err := addrInfo(b)
		if err != nil {
			return nil, err
		}
		return DeviceDisconnected{Addr: a, Reason: b[7]}, nil

	case EvConnectFailed, EvAuthFailed:
		if err := need(b, addrInfoSize+1, "failure"); err != nil {
			return nil, err
		}
		a, err := addrInfo(b)
		if err != nil {
			return nil, err
		}
		if code == EvAuthFailed {
			return AuthFailed{Addr: a, Status: b[7]}, nil
		}
		return ConnectFailed{Addr: a, Status: b[7]}, nil

	case EvNewLinkKey:
		if err := need(b, 1+keys.LinkKeySize, "new link key"); err != nil {
			return nil, err
		}
		ev := NewLinkKey{Store: b[0] != 0}
		if err := ev.Key.UnmarshalBinary(b[1:]); err != nil {
			return nil, err
		}
		return ev, nil

	case EvNewLongTermKey:
		if err := need(b, 1+keys.LongTermKeySize, "new long term key"); err != nil {
			return nil, err
		}
		ev := NewLongTermKey{Store: b[0] != 0}
		if err := ev.Key.UnmarshalBinary(b[1:]); err != nil {
			return nil, err
		}
		return ev, nil

	case EvNewIRK:
		if err := need(b, 7+keys.IdentityKeySize, "new irk"); err != nil {
			return nil, err
		}
		ev := NewIRK{Store: b[0] != 0}
		rpa, err := btcontrol.AddressFromWire(b[1:7], btcontrol.LERandom)
		if err != nil {
			return nil, err
		}
		ev.RPA = rpa
		if err := ev.Key.UnmarshalBinary(b[7:]); err != nil {
			return nil, err
		}
		return ev, nil

	case EvNewCSRK:
		if err := need(b, 1+keys.SignatureKeySize, "new csrk"); err != nil {
			return nil, err
		}
		ev := NewCSRK{Store: b[0] != 0}
		if err := ev.Key.UnmarshalBinary(b[1:]); err != nil {
			return nil, err
		}
		return ev, nil

	case EvNewConnParam:
		if err := need(b, addrInfoSize+9, "new conn param"); err != nil {
			return nil, err
		}
		a, err := addrInfo(b)
		if err != nil {
			return nil, err
		}
		return NewConnParam{
			Addr:               a,
			Store:              b[7] != 0,
			MinInterval:        binary.LittleEndian.Uint16(b[8:10]),
			MaxInterval:        binary.LittleEndian.Uint16(b[10:12]),
			Latency:            binary.LittleEndian.Uint16(b[12:14]),
			SupervisionTimeout: binary.LittleEndian.Uint16(b[14:16]),
		}, nil

	default:
		return nil, nil
	}
}
