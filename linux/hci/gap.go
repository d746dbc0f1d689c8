package hci

import (
	"github.com/pkg/errors"
	"github.com/rigado/btcontrol"
	"github.com/rigado/btcontrol/linux/hci/cmd"
)

// Connect starts link setup to a. The outcome arrives as a Connection
// Complete event.
func (h *Channel) Connect(a btcontrol.Address) error {
	if !a.IsValid() {
		return errors.Wrapf(btcontrol.ErrInvalid, "connect %v", a)
	}
	if a.Kind().IsLE() {
		cp := h.params.conn(a.Kind().HCIType(), a.Wire())
		_, err := h.Send(&cp)
		return linkError(err)
	}
	_, err := h.Send(&cmd.CreateConnection{
		BDADDR:                 a.Wire(),
		PacketType:             aclPacketTypes,
		PageScanRepetitionMode: pageScanRepetitionR2,
		AllowRoleSwitch:        0x01,
	})
	return linkError(err)
}

// CancelConnect abandons a pending connection attempt to a: the LE
// initiator, or the page of a classic device.
func (h *Channel) CancelConnect(a btcontrol.Address) error {
	if a.Kind().IsLE() {
		_, err := h.Send(&cmd.LECreateConnectionCancel{})
		return linkError(err)
	}
	_, err := h.Send(&cmd.CreateConnectionCancel{BDADDR: a.Wire()})
	return linkError(err)
}

// Disconnect terminates the link on handle.
func (h *Channel) Disconnect(handle uint16, reason uint8) error {
	if handle == InvalidHandle {
		return errors.Wrap(btcontrol.ErrAlreadyReleased, "disconnect: no handle")
	}
	_, err := h.Send(&cmd.Disconnect{ConnectionHandle: handle, Reason: reason})
	return linkError(err)
}

// RemoteName asks a classic device for its name; the answer arrives as a
// Remote Name Request Complete event.
func (h *Channel) RemoteName(a btcontrol.Address) error {
	if a.Kind().IsLE() {
		return errors.Wrapf(btcontrol.ErrInvalid, "remote name of LE device %v", a)
	}
	_, err := h.Send(&cmd.RemoteNameRequest{
		BDADDR:                 a.Wire(),
		PageScanRepetitionMode: pageScanRepetitionR2,
	})
	return err
}

// linkError maps controller refusals of link commands onto the stack's
// error kinds.
func linkError(err error) error {
	if err == nil {
		return nil
	}
	switch errors.Cause(err) {
	case ErrACLConnExists, ErrConnLimit:
		return errors.Wrap(btcontrol.ErrAlreadyConnected, err.Error())
	case ErrConnID:
		return errors.Wrap(btcontrol.ErrAlreadyReleased, err.Error())
	case ErrDisallowed:
		return errors.Wrap(btcontrol.ErrInProgress, err.Error())
	case ErrInvalidParams:
		return errors.Wrap(btcontrol.ErrInvalid, err.Error())
	}
	return err
}
