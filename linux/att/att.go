// Package att is a minimal Attribute Protocol client: the requests needed to
// discover a GATT profile and enable notifications, plus notification and
// indication delivery.
package att

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Opcodes [Vol 3, Part F, 3.4.8].
const (
	ErrorResponseCode           = 0x01
	ExchangeMTURequestCode      = 0x02
	ExchangeMTUResponseCode     = 0x03
	FindInformationRequestCode  = 0x04
	FindInformationResponseCode = 0x05
	ReadByTypeRequestCode       = 0x08
	ReadByTypeResponseCode      = 0x09
	ReadRequestCode             = 0x0A
	ReadResponseCode            = 0x0B
	ReadByGroupTypeRequestCode  = 0x10
	ReadByGroupTypeResponseCode = 0x11
	WriteRequestCode            = 0x12
	WriteResponseCode           = 0x13
	WriteCommandCode            = 0x52
	HandleValueNotificationCode = 0x1B
	HandleValueIndicationCode   = 0x1D
	HandleValueConfirmationCode = 0x1E
)

const (
	DefaultMTU = 23
	MaxMTU     = 517
)

var rspOfReq = map[byte]byte{
	ExchangeMTURequestCode:     ExchangeMTUResponseCode,
	FindInformationRequestCode: FindInformationResponseCode,
	ReadByTypeRequestCode:      ReadByTypeResponseCode,
	ReadRequestCode:            ReadResponseCode,
	ReadByGroupTypeRequestCode: ReadByGroupTypeResponseCode,
	WriteRequestCode:           WriteResponseCode,
}

var (
	ErrInvalidResponse = errors.New("invalid response")
	ErrSeqProtoTimeout = errors.New("req timeout")
)

// Error is an error code carried by an Error Response.
type Error byte

const (
	ErrInvalidHandle    Error = 0x01
	ErrReadNotPerm      Error = 0x02
	ErrWriteNotPerm     Error = 0x03
	ErrInvalidPDU       Error = 0x04
	ErrAuthentication   Error = 0x05
	ErrReqNotSupp       Error = 0x06
	ErrInvalidOffset    Error = 0x07
	ErrAuthorization    Error = 0x08
	ErrAttrNotFound     Error = 0x0A
	ErrAttrNotLong      Error = 0x0B
	ErrInsuffEncKeySize Error = 0x0C
	ErrInvalAttrValLen  Error = 0x0D
	ErrUnlikely         Error = 0x0E
	ErrInsuffEnc        Error = 0x0F
	ErrUnsuppGrpType    Error = 0x10
	ErrInsuffResources  Error = 0x11
)

var errName = map[Error]string{
	ErrInvalidHandle:    "invalid handle",
	ErrReadNotPerm:      "read not permitted",
	ErrWriteNotPerm:     "write not permitted",
	ErrInvalidPDU:       "invalid PDU",
	ErrAuthentication:   "insufficient authentication",
	ErrReqNotSupp:       "request not supported",
	ErrInvalidOffset:    "invalid offset",
	ErrAuthorization:    "insufficient authorization",
	ErrAttrNotFound:     "attribute not found",
	ErrAttrNotLong:      "attribute not long",
	ErrInsuffEncKeySize: "insufficient encryption key size",
	ErrInvalAttrValLen:  "invalid attribute value length",
	ErrUnlikely:         "unlikely error",
	ErrInsuffEnc:        "insufficient encryption",
	ErrUnsuppGrpType:    "unsupported group type",
	ErrInsuffResources:  "insufficient resources",
}

func (e Error) Error() string {
	if s, ok := errName[e]; ok {
		return "att: " + s
	}
	return fmt.Sprintf("att: error 0x%02x", byte(e))
}

// IsNotFound reports whether err is an Attribute Not Found error response,
// the normal end of a discovery sequence.
func IsNotFound(err error) bool {
	e, ok := errors.Cause(err).(Error)
	return ok && e == ErrAttrNotFound
}

func handleRangeRequest(op byte, start, end uint16, extra []byte) []byte {
	b := make([]byte, 5, 5+len(extra))
	b[0] = op
	binary.LittleEndian.PutUint16(b[1:], start)
	binary.LittleEndian.PutUint16(b[3:], end)
	return append(b, extra...)
}

// check validates rsp against the request opcode it answers.
func check(req byte, rsp []byte) error {
	switch {
	case len(rsp) == 0:
		return ErrInvalidResponse
	case rsp[0] == ErrorResponseCode && len(rsp) == 5:
		return Error(rsp[4])
	case rsp[0] == ErrorResponseCode:
		return ErrInvalidResponse
	case rsp[0] != rspOfReq[req]:
		return ErrInvalidResponse
	}
	return nil
}

// HandleValue is one attribute handle with its value.
type HandleValue struct {
	Handle uint16
	Value  []byte
}

// GroupData is one entry of a Read By Group Type response.
type GroupData struct {
	Handle    uint16
	EndHandle uint16
	Value     []byte
}

// HandleInfo is one entry of a Find Information response; UUID is in wire
// (little-endian) order, 2 or 16 bytes.
type HandleInfo struct {
	Handle uint16
	UUID   []byte
}

func parseGroupData(rsp []byte) ([]GroupData, error) {
	if len(rsp) < 2 {
		return nil, ErrInvalidResponse
	}
	n := int(rsp[1])
	if n < 4 {
		return nil, ErrInvalidResponse
	}
	list := rsp[2:]
	if len(list)%n != 0 {
		return nil, ErrInvalidResponse
	}
	var out []GroupData
	for ; len(list) != 0; list = list[n:] {
		out = append(out, GroupData{
			Handle:    binary.LittleEndian.Uint16(list[0:]),
			EndHandle: binary.LittleEndian.Uint16(list[2:]),
			Value:     append([]byte(nil), list[4:n]...),
		})
	}
	return out, nil
}

func parseHandleValues(rsp []byte) ([]HandleValue, error) {
	if len(rsp) < 2 {
		return nil, ErrInvalidResponse
	}
	n := int(rsp[1])
	if n < 2 {
		return nil, ErrInvalidResponse
	}
	list := rsp[2:]
	if len(list)%n != 0 {
		return nil, ErrInvalidResponse
	}
	var out []HandleValue
	for ; len(list) != 0; list = list[n:] {
		out = append(out, HandleValue{
			Handle: binary.LittleEndian.Uint16(list[0:]),
			Value:  append([]byte(nil), list[2:n]...),
		})
	}
	return out, nil
}

func parseInformation(rsp []byte) ([]HandleInfo, error) {
	if len(rsp) < 2 {
		return nil, ErrInvalidResponse
	}
	var n int
	switch rsp[1] {
	case 0x01:
		n = 4
	case 0x02:
		n = 18
	default:
		return nil, ErrInvalidResponse
	}
	list := rsp[2:]
	if len(list)%n != 0 {
		return nil, ErrInvalidResponse
	}
	var out []HandleInfo
	for ; len(list) != 0; list = list[n:] {
		out = append(out, HandleInfo{
			Handle: binary.LittleEndian.Uint16(list[0:]),
			UUID:   append([]byte(nil), list[2:n]...),
		})
	}
	return out, nil
}
