package remote

import (
	"io"

	"github.com/rigado/btcontrol"
	"github.com/rigado/btcontrol/linux/att"
)

// dialATT opens the ATT channel at the lowest security level; the kernel
// raises it when a bonded remote asks for encryption.
func dialATT(a btcontrol.Address) (io.ReadWriteCloser, error) {
	return att.DialL2CAP(a, att.SecurityLow)
}
