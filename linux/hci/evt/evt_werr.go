package evt

import (
	"encoding/binary"
	"fmt"
)

func (e CommandComplete) NumHCICommandPacketsWErr() (uint8, error) {
	return getByte(e, 0, 0)
}

func (e CommandComplete) CommandOpcodeWErr() (uint16, error) {
	return getUint16LE(e, 1, 0xffff)
}

func (e CommandComplete) ReturnParametersWErr() ([]byte, error) {
	if len(e) == 3 {
		return []byte{}, nil
	}
	return getBytes(e, 3, -1)
}

func (e CommandStatus) StatusWErr() (uint8, error) {
	return getByte(e, 0, 0xff)
}

func (e CommandStatus) NumHCICommandPacketsWErr() (uint8, error) {
	return getByte(e, 1, 0)
}

func (e CommandStatus) CommandOpcodeWErr() (uint16, error) {
	return getUint16LE(e, 2, 0xffff)
}

func (e InquiryComplete) StatusWErr() (uint8, error) {
	return getByte(e, 0, 0xff)
}

// Inquiry result entries are laid out back to back:
//
//     bdaddr(6) pscan_rep_mode(1) pscan_period_mode(1) pscan_mode(1) class(3) clock_offset(2)
const inquiryInfoSize = 14

func (e InquiryResult) NumResponsesWErr() (uint8, error) {
	return getByte(e, 0, 0)
}

func (e InquiryResult) BDADDRWErr(i int) ([]byte, error) {
	return getBytes(e, 1+i*inquiryInfoSize, 6)
}

func (e InquiryResult) PageScanRepetitionModeWErr(i int) (uint8, error) {
	return getByte(e, 1+i*inquiryInfoSize+6, 0)
}

func (e InquiryResult) ClassOfDeviceWErr(i int) ([]byte, error) {
	return getBytes(e, 1+i*inquiryInfoSize+9, 3)
}

func (e InquiryResult) ClockOffsetWErr(i int) (uint16, error) {
	return getUint16LE(e, 1+i*inquiryInfoSize+12, 0)
}

//     bdaddr(6) pscan_rep_mode(1) pscan_period_mode(1) class(3) clock_offset(2) rssi(1)
const inquiryInfoRSSISize = 14

func (e InquiryResultWithRSSI) NumResponsesWErr() (uint8, error) {
	return getByte(e, 0, 0)
}

func (e InquiryResultWithRSSI) BDADDRWErr(i int) ([]byte, error) {
	return getBytes(e, 1+i*inquiryInfoRSSISize, 6)
}

func (e InquiryResultWithRSSI) PageScanRepetitionModeWErr(i int) (uint8, error) {
	return getByte(e, 1+i*inquiryInfoRSSISize+6, 0)
}

func (e InquiryResultWithRSSI) ClockOffsetWErr(i int) (uint16, error) {
	return getUint16LE(e, 1+i*inquiryInfoRSSISize+11, 0)
}

func (e InquiryResultWithRSSI) RSSIWErr(i int) (int8, error) {
	v, err := getByte(e, 1+i*inquiryInfoRSSISize+13, 0)
	return int8(v), err
}

// Extended inquiry result always carries a single response followed by 240
// bytes of EIR data.
func (e ExtendedInquiryResult) BDADDRWErr() ([]byte, error) {
	return getBytes(e, 1, 6)
}

func (e ExtendedInquiryResult) PageScanRepetitionModeWErr() (uint8, error) {
	return getByte(e, 7, 0)
}

func (e ExtendedInquiryResult) ClockOffsetWErr() (uint16, error) {
	return getUint16LE(e, 12, 0)
}

func (e ExtendedInquiryResult) RSSIWErr() (int8, error) {
	v, err := getByte(e, 14, 0)
	return int8(v), err
}

func (e ExtendedInquiryResult) DataWErr() ([]byte, error) {
	return getBytes(e, 15, -1)
}

func (e ConnectionComplete) StatusWErr() (uint8, error) {
	return getByte(e, 0, 0xff)
}

func (e ConnectionComplete) ConnectionHandleWErr() (uint16, error) {
	h, err := getUint16LE(e, 1, 0xffff)
	return h & 0x0fff, err
}

func (e ConnectionComplete) BDADDRWErr() ([]byte, error) {
	return getBytes(e, 3, 6)
}

func (e ConnectionComplete) LinkTypeWErr() (uint8, error) {
	return getByte(e, 9, 0xff)
}

func (e DisconnectionComplete) StatusWErr() (uint8, error) {
	return getByte(e, 0, 0xff)
}

func (e DisconnectionComplete) ConnectionHandleWErr() (uint16, error) {
	h, err := getUint16LE(e, 1, 0xffff)
	return h & 0x0fff, err
}

func (e DisconnectionComplete) ReasonWErr() (uint8, error) {
	return getByte(e, 3, 0)
}

func (e RemoteNameRequestComplete) StatusWErr() (uint8, error) {
	return getByte(e, 0, 0xff)
}

func (e RemoteNameRequestComplete) BDADDRWErr() ([]byte, error) {
	return getBytes(e, 1, 6)
}

// RemoteNameWErr returns the name up to the first NUL.
func (e RemoteNameRequestComplete) RemoteNameWErr() (string, error) {
	b, err := getBytes(e, 7, -1)
	if err != nil {
		return "", err
	}
	for i, c := range b {
		if c == 0 {
			b = b[:i]
			break
		}
	}
	return string(b), nil
}

func (e ReadRemoteSupportedFeaturesComplete) StatusWErr() (uint8, error) {
	return getByte(e, 0, 0xff)
}

func (e ReadRemoteSupportedFeaturesComplete) ConnectionHandleWErr() (uint16, error) {
	h, err := getUint16LE(e, 1, 0xffff)
	return h & 0x0fff, err
}

func (e ReadRemoteSupportedFeaturesComplete) FeaturesWErr() ([]byte, error) {
	return getBytes(e, 3, 8)
}

func (e IOCapabilityResponse) BDADDRWErr() ([]byte, error) {
	return getBytes(e, 0, 6)
}

func (e IOCapabilityResponse) IOCapabilityWErr() (uint8, error) {
	return getByte(e, 6, 0xff)
}

func (e IOCapabilityResponse) OOBDataPresentWErr() (uint8, error) {
	return getByte(e, 7, 0xff)
}

func (e IOCapabilityResponse) AuthenticationRequirementsWErr() (uint8, error) {
	return getByte(e, 8, 0xff)
}

func (e LEConnectionComplete) StatusWErr() (uint8, error) {
	return getByte(e, 1, 0xff)
}

func (e LEConnectionComplete) ConnectionHandleWErr() (uint16, error) {
	h, err := getUint16LE(e, 2, 0xffff)
	return h & 0x0fff, err
}

func (e LEConnectionComplete) RoleWErr() (uint8, error) {
	return getByte(e, 4, 0xff)
}

func (e LEConnectionComplete) PeerAddressTypeWErr() (uint8, error) {
	return getByte(e, 5, 0xff)
}

func (e LEConnectionComplete) PeerAddressWErr() ([]byte, error) {
	return getBytes(e, 6, 6)
}

func (e LEConnectionComplete) ConnIntervalWErr() (uint16, error) {
	return getUint16LE(e, 12, 0)
}

func (e LEConnectionComplete) ConnLatencyWErr() (uint16, error) {
	return getUint16LE(e, 14, 0)
}

func (e LEConnectionComplete) SupervisionTimeoutWErr() (uint16, error) {
	return getUint16LE(e, 16, 0)
}

func (e LEConnectionUpdateComplete) StatusWErr() (uint8, error) {
	return getByte(e, 1, 0xff)
}

func (e LEConnectionUpdateComplete) ConnectionHandleWErr() (uint16, error) {
	h, err := getUint16LE(e, 2, 0xffff)
	return h & 0x0fff, err
}

func (e LEConnectionUpdateComplete) ConnIntervalWErr() (uint16, error) {
	return getUint16LE(e, 4, 0)
}

func (e LEConnectionUpdateComplete) ConnLatencyWErr() (uint16, error) {
	return getUint16LE(e, 6, 0)
}

func (e LEConnectionUpdateComplete) SupervisionTimeoutWErr() (uint16, error) {
	return getUint16LE(e, 8, 0)
}

func (e LEReadRemoteUsedFeaturesComplete) StatusWErr() (uint8, error) {
	return getByte(e, 1, 0xff)
}

func (e LEReadRemoteUsedFeaturesComplete) ConnectionHandleWErr() (uint16, error) {
	h, err := getUint16LE(e, 2, 0xffff)
	return h & 0x0fff, err
}

func (e LEReadRemoteUsedFeaturesComplete) FeaturesWErr() ([]byte, error) {
	return getBytes(e, 4, 8)
}

// The advertising report keeps the Core spec's parallel array layout:
//
//     sub, num, event_type[n], addr_type[n], addr[6n], len[n], data[sum(len)], rssi[n]

func (e LEAdvertisingReport) NumReportsWErr() (uint8, error) {
	return getByte(e, 1, 0)
}

func (e LEAdvertisingReport) EventTypeWErr(i int) (uint8, error) {
	return getByte(e, 2+i, 0xff)
}

func (e LEAdvertisingReport) AddressTypeWErr(i int) (uint8, error) {
	nr, err := e.NumReportsWErr()
	if err != nil {
		return 0, err
	}
	return getByte(e, 2+int(nr)+i, 0xff)
}

func (e LEAdvertisingReport) AddressWErr(i int) ([]byte, error) {
	nr, err := e.NumReportsWErr()
	if err != nil {
		return nil, err
	}
	return getBytes(e, 2+int(nr)*2+6*i, 6)
}

func (e LEAdvertisingReport) LengthDataWErr(i int) (uint8, error) {
	nr, err := e.NumReportsWErr()
	if err != nil {
		return 0, err
	}
	return getByte(e, 2+int(nr)*8+i, 0)
}

func (e LEAdvertisingReport) dataOffset(upto int) (int, error) {
	l := 0
	for j := 0; j < upto; j++ {
		ll, err := e.LengthDataWErr(j)
		if err != nil {
			return 0, err
		}
		l += int(ll)
	}
	nr, err := e.NumReportsWErr()
	if err != nil {
		return 0, err
	}
	return 2 + int(nr)*9 + l, nil
}

func (e LEAdvertisingReport) DataWErr(i int) ([]byte, error) {
	ll, err := e.LengthDataWErr(i)
	if err != nil {
		return nil, err
	}
	if ll == 0 {
		return []byte{}, nil
	}
	si, err := e.dataOffset(i)
	if err != nil {
		return nil, err
	}
	return getBytes(e, si, int(ll))
}

func (e LEAdvertisingReport) RSSIWErr(i int) (int8, error) {
	nr, err := e.NumReportsWErr()
	if err != nil {
		return 0, err
	}
	si, err := e.dataOffset(int(nr))
	if err != nil {
		return 0, err
	}
	rssi, err := getByte(e, si+i, 0)
	return int8(rssi), err
}

//get or default
func getByte(b []byte, i int, def byte) (byte, error) {
	bb, err := getBytes(b, i, 1)
	if err != nil {
		return def, err
	}
	return bb[0], nil
}

//get or default
func getUint16LE(b []byte, i int, def uint16) (uint16, error) {
	bb, err := getBytes(b, i, 2)
	if err != nil {
		return def, err
	}
	return binary.LittleEndian.Uint16(bb), nil
}

func getBytes(bytes []byte, start int, count int) ([]byte, error) {
	if bytes == nil || start < 0 || start >= len(bytes) {
		return nil, fmt.Errorf("index error: offset %d, length %d", start, len(bytes))
	}

	if count < 0 {
		return bytes[start:], nil
	}

	end := start + count
	//end is non-inclusive
	if end > len(bytes) {
		return nil, fmt.Errorf("index error: need %d bytes, length %d", end, len(bytes))
	}

	return bytes[start:end], nil
}
