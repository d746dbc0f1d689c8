package hci

// HCI Command Errors [Vol2, Part D, 1.3]. Only the codes this stack reacts to
// are named.
const (
	ErrUnknownCommand ErrCommand = 0x01
	ErrConnID         ErrCommand = 0x02
	ErrPageTimeout    ErrCommand = 0x04
	ErrAuth           ErrCommand = 0x05
	ErrConnTimeout    ErrCommand = 0x08
	ErrConnLimit      ErrCommand = 0x09
	ErrACLConnExists  ErrCommand = 0x0B
	ErrDisallowed     ErrCommand = 0x0C
	ErrInvalidParams  ErrCommand = 0x12
	ErrRemoteUser     ErrCommand = 0x13
	ErrLocalHost      ErrCommand = 0x16
	ErrUnspecified    ErrCommand = 0x1F
	ErrConnEstablish  ErrCommand = 0x3E
)

// ErrCommand [Vol2, Part D, 1.3 ]
type ErrCommand byte

func (e ErrCommand) Error() string {
	if s, ok := errCmd[e]; ok {
		return s
	}
	// A Host shall consider any error code that it does not explicitly
	// understand equivalent to the "Unspecified Error (0x1F)."
	return errCmd[ErrUnspecified]
}

var errCmd = map[ErrCommand]string{
	0x00: "Success",
	0x01: "Unknown HCI Command",
	0x02: "Unknown Connection Identifier",
	0x03: "Hardware Failure",
	0x04: "Page Timeout",
	0x05: "Authentication Failure",
	0x06: "PIN or Key Missing",
	0x07: "Memory Capacity Exceeded",
	0x08: "Connection Timeout",
	0x09: "Connection Limit Exceeded",
	0x0A: "Synchronous Connection Limit To A Device Exceeded",
	0x0B: "ACL Connection Already Exists",
	0x0C: "Command Disallowed",
	0x0D: "Connection Rejected due to Limited Resources",
	0x0E: "Connection Rejected Due To Security Reasons",
	0x0F: "Connection Rejected due to Unacceptable BD_ADDR",
	0x10: "Connection Accept Timeout Exceeded",
	0x11: "Unsupported Feature or Parameter Value",
	0x12: "Invalid HCI Command Parameters",
	0x13: "Remote User Terminated Connection",
	0x14: "Remote Device Terminated Connection due to Low Resources",
	0x15: "Remote Device Terminated Connection due to Power Off",
	0x16: "Connection Terminated By Local Host",
	0x17: "Repeated Attempts",
	0x18: "Pairing Not Allowed",
	0x1F: "Unspecified Error",
	0x22: "LMP Response Timeout / LL Response Timeout",
	0x28: "Instant Passed",
	0x3B: "Unacceptable Connection Parameters",
	0x3E: "Connection Failed to be Established",
}
