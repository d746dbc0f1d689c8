package hci

import (
	"io"

	"github.com/pkg/errors"
	"github.com/rigado/btcontrol"
	"github.com/rigado/btcontrol/linux/hci/h4"
	"github.com/rigado/btcontrol/linux/hci/socket"
)

type transportHci struct {
	id uint16
}

type transportH4Uart struct {
	path string
	baud uint
}

// Transport selects how the HCI channel reaches the adapter.
type Transport struct {
	hci    *transportHci
	h4uart *transportH4Uart
}

// TransportHCISocket is a raw socket on adapter id, shared with the kernel.
func TransportHCISocket(id uint16) Transport {
	return Transport{hci: &transportHci{id}}
}

// TransportH4Uart is a controller attached directly to a serial port. The
// channel owns such a controller exclusively.
func TransportH4Uart(path string, baud uint) Transport {
	return Transport{h4uart: &transportH4Uart{path, baud}}
}

// Exclusive reports whether no kernel stack shares the controller.
func (t Transport) Exclusive() bool { return t.h4uart != nil }

func (t Transport) String() string {
	switch {
	case t.hci != nil:
		return "hci socket"
	case t.h4uart != nil:
		return "h4 uart " + t.h4uart.path
	default:
		return "none"
	}
}

// Dial opens the transport.
func (t Transport) Dial(l btcontrol.Logger) (io.ReadWriteCloser, error) {
	switch {
	case t.hci != nil:
		return socket.NewSocket(t.hci.id)

	case t.h4uart != nil:
		so := h4.DefaultSerialOptions(t.h4uart.path, t.h4uart.baud)
		return h4.NewSerial(so, l)

	default:
		return nil, errors.New("no valid transport found")
	}
}
