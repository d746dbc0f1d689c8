package evt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandStatus(t *testing.T) {
	e := CommandStatus{0x00, 0x01, 0x05, 0x04}
	assert.Equal(t, uint8(0), e.Status())
	assert.Equal(t, uint16(0x0405), e.CommandOpcode())

	ogf, ocf := SplitOpcode(e.CommandOpcode())
	assert.Equal(t, uint8(0x01), ogf)
	assert.Equal(t, uint16(0x0005), ocf)

	_, err := CommandStatus{0x00, 0x01, 0x05}.CommandOpcodeWErr()
	assert.Error(t, err)
}

func TestCommandCompleteNoParams(t *testing.T) {
	e := CommandComplete{0x01, 0x0c, 0x20}
	p, err := e.ReturnParametersWErr()
	require.NoError(t, err)
	assert.Empty(t, p)
	assert.Equal(t, uint16(0x200c), e.CommandOpcode())
}

func TestDisconnectionComplete(t *testing.T) {
	e := DisconnectionComplete{0x00, 0x07, 0x00, 0x13}
	h, err := e.ConnectionHandleWErr()
	require.NoError(t, err)
	assert.Equal(t, uint16(7), h)
	r, err := e.ReasonWErr()
	require.NoError(t, err)
	assert.Equal(t, uint8(0x13), r)

	_, err = DisconnectionComplete{0x00, 0x07}.ConnectionHandleWErr()
	assert.Error(t, err)
}

func TestLEConnectionComplete(t *testing.T) {
	e := LEConnectionComplete{
		0x01, 0x00, 0x40, 0x00, 0x00, 0x01,
		0x66, 0x55, 0x44, 0x33, 0x22, 0x11,
		0x0f, 0x00, 0x00, 0x00, 0x80, 0x0c, 0x00,
	}
	h, err := e.ConnectionHandleWErr()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x40), h)
	at, _ := e.PeerAddressTypeWErr()
	assert.Equal(t, uint8(1), at)
	a, err := e.PeerAddressWErr()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x66, 0x55, 0x44, 0x33, 0x22, 0x11}, a)
	to, err := e.SupervisionTimeoutWErr()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0c80), to)

	_, err = e[:10].PeerAddressWErr()
	assert.Error(t, err)
}

func TestLEAdvertisingReport(t *testing.T) {
	e := LEAdvertisingReport{
		0x02, 0x01, 0x00, 0x01,
		0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
		0x06, 0x05, 0x09, 'R', 'C', 'U', 0x02,
		0xc5,
	}
	d, err := e.DataWErr(0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05, 0x09, 'R', 'C', 'U', 0x02}, d)
	r, err := e.RSSIWErr(0)
	require.NoError(t, err)
	assert.Equal(t, int8(-59), r)

	_, err = e[:14].DataWErr(0)
	assert.Error(t, err)
}

func TestRemoteName(t *testing.T) {
	e := RemoteNameRequestComplete{0x00, 0xff, 0xee, 0xdd, 0xcc, 0xbb, 0xaa, 'S', 'p', 'e', 'a', 'k', 'e', 'r', 0, 0, 0}
	n, err := e.RemoteNameWErr()
	require.NoError(t, err)
	assert.Equal(t, "Speaker", n)

	_, err = RemoteNameRequestComplete{0x00, 0xff}.RemoteNameWErr()
	assert.Error(t, err)
}

func TestInquiryResultWithRSSI(t *testing.T) {
	e := InquiryResultWithRSSI{0x01,
		0xff, 0xee, 0xdd, 0xcc, 0xbb, 0xaa,
		0x01, 0x00, 0x04, 0x04, 0x24, 0x34, 0x12, 0xd0}
	a, err := e.BDADDRWErr(0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xee, 0xdd, 0xcc, 0xbb, 0xaa}, a)
	co, err := e.ClockOffsetWErr(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), co)
	r, err := e.RSSIWErr(0)
	require.NoError(t, err)
	assert.Equal(t, int8(-48), r)

	_, err = e.BDADDRWErr(1)
	assert.Error(t, err)
}
