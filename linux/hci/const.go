package hci

import "time"

// HCI Packet types
const (
	PktTypeCommand uint8 = 0x01
	PktTypeACLData uint8 = 0x02
	PktTypeSCOData uint8 = 0x03
	PktTypeEvent   uint8 = 0x04
	PktTypeVendor  uint8 = 0xFF
)

const (
	RoleMaster = 0x00
	RoleSlave  = 0x01
)

// Link types of the Connection Complete event.
const (
	LinkTypeSCO  = 0x00
	LinkTypeACL  = 0x01
	LinkTypeESCO = 0x02
)

// Inquiry access codes, little-endian.
var (
	GIAC = [3]byte{0x33, 0x8b, 0x9e}
	LIAC = [3]byte{0x00, 0x8b, 0x9e}
)

const (
	inquiryUnit      = 1280 * time.Millisecond
	inquiryLengthMax = 0x30

	// DM1|DM3|DM5|DH1|DH3|DH5
	aclPacketTypes = 0xcc18

	pageScanRepetitionR2 = 0x02

	// Disconnect reason: Remote User Terminated Connection.
	ReasonRemoteUser = 0x13
)

// InvalidHandle marks a link without a connection handle.
const InvalidHandle uint16 = 0xffff
