// Package evt decodes HCI event parameters. Every accessor checks the frame
// length before reading; the WErr forms report short frames, the plain forms
// return a default.
package evt

// Event codes [Vol 2, Part E, 7.7].
const (
	InquiryCompleteCode                     = 0x01
	InquiryResultCode                       = 0x02
	ConnectionCompleteCode                  = 0x03
	DisconnectionCompleteCode               = 0x05
	RemoteNameRequestCompleteCode           = 0x07
	ReadRemoteSupportedFeaturesCompleteCode = 0x0B
	CommandCompleteCode                     = 0x0E
	CommandStatusCode                       = 0x0F
	InquiryResultWithRSSICode               = 0x22
	ExtendedInquiryResultCode               = 0x2F
	IOCapabilityResponseCode                = 0x32
	LEMetaCode                              = 0x3E
	VendorCode                              = 0xFF
)

// LE meta sub-event codes [Vol 2, Part E, 7.7.65].
const (
	LEConnectionCompleteSubCode             = 0x01
	LEAdvertisingReportSubCode              = 0x02
	LEConnectionUpdateCompleteSubCode       = 0x03
	LEReadRemoteUsedFeaturesCompleteSubCode = 0x04
)

type CommandComplete []byte
type CommandStatus []byte
type InquiryComplete []byte
type InquiryResult []byte
type InquiryResultWithRSSI []byte
type ExtendedInquiryResult []byte
type ConnectionComplete []byte
type DisconnectionComplete []byte
type RemoteNameRequestComplete []byte
type ReadRemoteSupportedFeaturesComplete []byte
type IOCapabilityResponse []byte

type LEConnectionComplete []byte
type LEAdvertisingReport []byte
type LEConnectionUpdateComplete []byte
type LEReadRemoteUsedFeaturesComplete []byte

func (e CommandComplete) CommandOpcode() uint16 {
	v, _ := e.CommandOpcodeWErr()
	return v
}

func (e CommandComplete) ReturnParameters() []byte {
	v, _ := e.ReturnParametersWErr()
	return v
}

func (e CommandStatus) Status() uint8 {
	v, _ := e.StatusWErr()
	return v
}

func (e CommandStatus) CommandOpcode() uint16 {
	v, _ := e.CommandOpcodeWErr()
	return v
}

func (e LEAdvertisingReport) NumReports() uint8 {
	v, _ := e.NumReportsWErr()
	return v
}

func (e LEAdvertisingReport) Data(i int) []byte {
	v, _ := e.DataWErr(i)
	return v
}

// SplitOpcode splits op into the 6 bit group (OGF) and 10 bit command (OCF).
func SplitOpcode(op uint16) (ogf uint8, ocf uint16) {
	return uint8(op >> 10), op & 0x03FF
}
