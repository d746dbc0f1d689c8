// Package cmd encodes the HCI commands issued by the controller.
package cmd

import (
	"encoding/binary"
	"fmt"
)

const (
	ogfLinkControl        = 0x01
	ogfControllerBaseband = 0x03
	ogfLEController       = 0x08
)

func opcode(ogf, ocf int) int { return ogf<<10 | ocf }

func short(b []byte, want int) error {
	if len(b) < want {
		return fmt.Errorf("marshal: need %d bytes, have %d", want, len(b))
	}
	return nil
}

// Inquiry [Vol 2, Part E, 7.1.1]. InquiryLength is in units of 1.28s.
type Inquiry struct {
	LAP           [3]byte
	InquiryLength uint8
	NumResponses  uint8
}

func (c *Inquiry) OpCode() int { return opcode(ogfLinkControl, 0x0001) }
func (c *Inquiry) Len() int    { return 5 }
func (c *Inquiry) Marshal(b []byte) error {
	if err := short(b, c.Len()); err != nil {
		return err
	}
	copy(b[0:3], c.LAP[:])
	b[3] = c.InquiryLength
	b[4] = c.NumResponses
	return nil
}

// InquiryCancel [Vol 2, Part E, 7.1.2].
type InquiryCancel struct{}

func (c *InquiryCancel) OpCode() int          { return opcode(ogfLinkControl, 0x0002) }
func (c *InquiryCancel) Len() int             { return 0 }
func (c *InquiryCancel) Marshal([]byte) error { return nil }

// CreateConnection [Vol 2, Part E, 7.1.5].
type CreateConnection struct {
	BDADDR                 [6]byte
	PacketType             uint16
	PageScanRepetitionMode uint8
	ClockOffset            uint16
	AllowRoleSwitch        uint8
}

func (c *CreateConnection) OpCode() int { return opcode(ogfLinkControl, 0x0005) }
func (c *CreateConnection) Len() int    { return 13 }
func (c *CreateConnection) Marshal(b []byte) error {
	if err := short(b, c.Len()); err != nil {
		return err
	}
	copy(b[0:6], c.BDADDR[:])
	binary.LittleEndian.PutUint16(b[6:8], c.PacketType)
	b[8] = c.PageScanRepetitionMode
	b[9] = 0 // reserved
	binary.LittleEndian.PutUint16(b[10:12], c.ClockOffset)
	b[12] = c.AllowRoleSwitch
	return nil
}

// CreateConnectionCancel [Vol 2, Part E, 7.1.7].
type CreateConnectionCancel struct {
	BDADDR [6]byte
}

func (c *CreateConnectionCancel) OpCode() int { return opcode(ogfLinkControl, 0x0008) }
func (c *CreateConnectionCancel) Len() int    { return 6 }
func (c *CreateConnectionCancel) Marshal(b []byte) error {
	if err := short(b, c.Len()); err != nil {
		return err
	}
	copy(b, c.BDADDR[:])
	return nil
}

// Disconnect [Vol 2, Part E, 7.1.6].
type Disconnect struct {
	ConnectionHandle uint16
	Reason           uint8
}

func (c *Disconnect) OpCode() int { return opcode(ogfLinkControl, 0x0006) }
func (c *Disconnect) Len() int    { return 3 }
func (c *Disconnect) Marshal(b []byte) error {
	if err := short(b, c.Len()); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b[0:2], c.ConnectionHandle)
	b[2] = c.Reason
	return nil
}

// RemoteNameRequest [Vol 2, Part E, 7.1.19].
type RemoteNameRequest struct {
	BDADDR                 [6]byte
	PageScanRepetitionMode uint8
	ClockOffset            uint16
}

func (c *RemoteNameRequest) OpCode() int { return opcode(ogfLinkControl, 0x0019) }
func (c *RemoteNameRequest) Len() int    { return 10 }
func (c *RemoteNameRequest) Marshal(b []byte) error {
	if err := short(b, c.Len()); err != nil {
		return err
	}
	copy(b[0:6], c.BDADDR[:])
	b[6] = c.PageScanRepetitionMode
	b[7] = 0 // reserved
	binary.LittleEndian.PutUint16(b[8:10], c.ClockOffset)
	return nil
}

// ReadRemoteSupportedFeatures [Vol 2, Part E, 7.1.21].
type ReadRemoteSupportedFeatures struct {
	ConnectionHandle uint16
}

func (c *ReadRemoteSupportedFeatures) OpCode() int { return opcode(ogfLinkControl, 0x001B) }
func (c *ReadRemoteSupportedFeatures) Len() int    { return 2 }
func (c *ReadRemoteSupportedFeatures) Marshal(b []byte) error {
	if err := short(b, c.Len()); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b[0:2], c.ConnectionHandle)
	return nil
}

// SetEventMask [Vol 2, Part E, 7.3.1].
type SetEventMask struct {
	EventMask uint64
}

func (c *SetEventMask) OpCode() int { return opcode(ogfControllerBaseband, 0x0001) }
func (c *SetEventMask) Len() int    { return 8 }
func (c *SetEventMask) Marshal(b []byte) error {
	if err := short(b, c.Len()); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b[0:8], c.EventMask)
	return nil
}

// Reset [Vol 2, Part E, 7.3.2].
type Reset struct{}

func (c *Reset) OpCode() int          { return opcode(ogfControllerBaseband, 0x0003) }
func (c *Reset) Len() int             { return 0 }
func (c *Reset) Marshal([]byte) error { return nil }

// LESetEventMask [Vol 2, Part E, 7.8.1].
type LESetEventMask struct {
	LEEventMask uint64
}

func (c *LESetEventMask) OpCode() int { return opcode(ogfLEController, 0x0001) }
func (c *LESetEventMask) Len() int    { return 8 }
func (c *LESetEventMask) Marshal(b []byte) error {
	if err := short(b, c.Len()); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b[0:8], c.LEEventMask)
	return nil
}

// LESetScanParameters [Vol 2, Part E, 7.8.10].
type LESetScanParameters struct {
	LEScanType           uint8
	LEScanInterval       uint16
	LEScanWindow         uint16
	OwnAddressType       uint8
	ScanningFilterPolicy uint8
}

func (c *LESetScanParameters) OpCode() int { return opcode(ogfLEController, 0x000B) }
func (c *LESetScanParameters) Len() int    { return 7 }
func (c *LESetScanParameters) Marshal(b []byte) error {
	if err := short(b, c.Len()); err != nil {
		return err
	}
	b[0] = c.LEScanType
	binary.LittleEndian.PutUint16(b[1:3], c.LEScanInterval)
	binary.LittleEndian.PutUint16(b[3:5], c.LEScanWindow)
	b[5] = c.OwnAddressType
	b[6] = c.ScanningFilterPolicy
	return nil
}

// LESetScanEnable [Vol 2, Part E, 7.8.11].
type LESetScanEnable struct {
	LEScanEnable     uint8
	FilterDuplicates uint8
}

func (c *LESetScanEnable) OpCode() int { return opcode(ogfLEController, 0x000C) }
func (c *LESetScanEnable) Len() int    { return 2 }
func (c *LESetScanEnable) Marshal(b []byte) error {
	if err := short(b, c.Len()); err != nil {
		return err
	}
	b[0] = c.LEScanEnable
	b[1] = c.FilterDuplicates
	return nil
}

// LECreateConnection [Vol 2, Part E, 7.8.12].
type LECreateConnection struct {
	LEScanInterval        uint16
	LEScanWindow          uint16
	InitiatorFilterPolicy uint8
	PeerAddressType       uint8
	PeerAddress           [6]byte
	OwnAddressType        uint8
	ConnIntervalMin       uint16
	ConnIntervalMax       uint16
	ConnLatency           uint16
	SupervisionTimeout    uint16
	MinimumCELength       uint16
	MaximumCELength       uint16
}

func (c *LECreateConnection) OpCode() int { return opcode(ogfLEController, 0x000D) }
func (c *LECreateConnection) Len() int    { return 25 }
func (c *LECreateConnection) Marshal(b []byte) error {
	if err := short(b, c.Len()); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b[0:2], c.LEScanInterval)
	binary.LittleEndian.PutUint16(b[2:4], c.LEScanWindow)
	b[4] = c.InitiatorFilterPolicy
	b[5] = c.PeerAddressType
	copy(b[6:12], c.PeerAddress[:])
	b[12] = c.OwnAddressType
	binary.LittleEndian.PutUint16(b[13:15], c.ConnIntervalMin)
	binary.LittleEndian.PutUint16(b[15:17], c.ConnIntervalMax)
	binary.LittleEndian.PutUint16(b[17:19], c.ConnLatency)
	binary.LittleEndian.PutUint16(b[19:21], c.SupervisionTimeout)
	binary.LittleEndian.PutUint16(b[21:23], c.MinimumCELength)
	binary.LittleEndian.PutUint16(b[23:25], c.MaximumCELength)
	return nil
}

// LECreateConnectionCancel [Vol 2, Part E, 7.8.13].
type LECreateConnectionCancel struct{}

func (c *LECreateConnectionCancel) OpCode() int          { return opcode(ogfLEController, 0x000E) }
func (c *LECreateConnectionCancel) Len() int             { return 0 }
func (c *LECreateConnectionCancel) Marshal([]byte) error { return nil }

// LEReadRemoteUsedFeatures [Vol 2, Part E, 7.8.21].
type LEReadRemoteUsedFeatures struct {
	ConnectionHandle uint16
}

func (c *LEReadRemoteUsedFeatures) OpCode() int { return opcode(ogfLEController, 0x0016) }
func (c *LEReadRemoteUsedFeatures) Len() int    { return 2 }
func (c *LEReadRemoteUsedFeatures) Marshal(b []byte) error {
	if err := short(b, c.Len()); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b[0:2], c.ConnectionHandle)
	return nil
}
