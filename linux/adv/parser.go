package adv

import (
	"strings"

	"github.com/pkg/errors"
)

// AD types used by the controller [CSS v6, Part A].
const (
	TypeFlags        = 0x01
	TypeUUID16Inc    = 0x02
	TypeUUID16Comp   = 0x03
	TypeShortName    = 0x08
	TypeCompleteName = 0x09
	TypeTxPower      = 0x0A
	TypeClass        = 0x0D
	TypeMfgData      = 0xFF
)

// Flags bits.
const (
	FlagLimitedDiscoverable = 0x01
	FlagGeneralDiscoverable = 0x02
	FlagBREDRNotSupported   = 0x04
)

// MaxEIRPacketLength is the size of the extended inquiry response.
const MaxEIRPacketLength = 240

// Record is one length/type/value structure.
type Record struct {
	Type byte
	Data []byte
}

// Parse splits advertising or EIR data into records. A zero length byte ends
// the significant part (EIR is zero padded). On a malformed record the
// records decoded so far are returned together with the error.
func Parse(pdu []byte) ([]Record, error) {
	var rr []Record
	for i := 0; i < len(pdu); {
		length := int(pdu[i])
		if length == 0 {
			break
		}

		//do we have all the bytes for the payload?
		if i+length >= len(pdu) {
			return rr, errors.Errorf("record at %d overflows: want %d, have %d", i, i+length+1, len(pdu))
		}

		rr = append(rr, Record{Type: pdu[i+1], Data: pdu[i+2 : i+1+length]})
		i += length + 1
	}
	return rr, nil
}

// Name returns the advertised name and the AD type it came from. A complete
// name wins over a shortened one. A returned type of 0 means no usable name.
func Name(pdu []byte) (string, byte) {
	rr, _ := Parse(pdu)

	var name string
	var typ byte
	for _, r := range rr {
		switch r.Type {
		case TypeCompleteName:
			if n := clean(r.Data); n != "" {
				return n, TypeCompleteName
			}
		case TypeShortName:
			if typ == 0 {
				if n := clean(r.Data); n != "" {
					name, typ = n, TypeShortName
				}
			}
		}
	}
	return name, typ
}

// Flags returns the flags field, if present.
func Flags(pdu []byte) (byte, bool) {
	rr, _ := Parse(pdu)
	for _, r := range rr {
		if r.Type == TypeFlags && len(r.Data) > 0 {
			return r.Data[0], true
		}
	}
	return 0, false
}

func clean(b []byte) string {
	s := strings.TrimRight(string(b), "\x00")
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
