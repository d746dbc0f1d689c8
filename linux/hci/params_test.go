package hci

import (
	"testing"

	"github.com/rigado/btcontrol"
	"github.com/rigado/btcontrol/linux/hci/cmd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultParamsValid(t *testing.T) {
	var p params
	p.init()
	require.NoError(t, ValidateScanParams(p.scanParams))
	require.NoError(t, ValidateConnParams(p.connParams))

	assert.Equal(t, uint8(LEScanTypePassive), p.scan(true).LEScanType)
	assert.Equal(t, uint8(LEScanTypeActive), p.scan(false).LEScanType)

	peer := [6]byte{1, 2, 3, 4, 5, 6}
	cp := p.conn(AddressTypeRandom, peer)
	assert.Equal(t, uint8(AddressTypeRandom), cp.PeerAddressType)
	assert.Equal(t, peer, cp.PeerAddress)
	assert.Equal(t, [6]byte{}, p.connParams.PeerAddress)
}

func TestValidateScanParams(t *testing.T) {
	var p params
	p.init()

	for name, mod := range map[string]func(*cmd.LESetScanParameters){
		"type":            func(sp *cmd.LESetScanParameters) { sp.LEScanType = 2 },
		"interval low":    func(sp *cmd.LESetScanParameters) { sp.LEScanInterval = 3 },
		"interval high":   func(sp *cmd.LESetScanParameters) { sp.LEScanInterval = 0x4001 },
		"window > interv": func(sp *cmd.LESetScanParameters) { sp.LEScanWindow = sp.LEScanInterval + 1 },
		"address type":    func(sp *cmd.LESetScanParameters) { sp.OwnAddressType = 2 },
		"filter":          func(sp *cmd.LESetScanParameters) { sp.ScanningFilterPolicy = 4 },
	} {
		sp := p.scanParams
		mod(&sp)
		err := ValidateScanParams(sp)
		assert.True(t, btcontrol.Is(err, btcontrol.ErrInvalid), name)
	}
}

func TestValidateConnParams(t *testing.T) {
	var p params
	p.init()

	for name, mod := range map[string]func(*cmd.LECreateConnection){
		"interval order":  func(cp *cmd.LECreateConnection) { cp.ConnIntervalMin = cp.ConnIntervalMax + 1 },
		"interval high":   func(cp *cmd.LECreateConnection) { cp.ConnIntervalMax = 0x0c81 },
		"latency":         func(cp *cmd.LECreateConnection) { cp.ConnLatency = 0x01f4 },
		"timeout low":     func(cp *cmd.LECreateConnection) { cp.SupervisionTimeout = 9 },
		"timeout latency": func(cp *cmd.LECreateConnection) { cp.ConnLatency = 0x01f3 },
		"ce length":       func(cp *cmd.LECreateConnection) { cp.MinimumCELength = 2 },
		"filter":          func(cp *cmd.LECreateConnection) { cp.InitiatorFilterPolicy = 2 },
	} {
		cp := p.connParams
		mod(&cp)
		err := ValidateConnParams(cp)
		assert.True(t, btcontrol.Is(err, btcontrol.ErrInvalid), name)
	}

	// 500 * 10 ms must exceed (1+99) * interval * 1.25 ms * 2
	cp := p.connParams
	cp.ConnIntervalMax = 19
	cp.ConnLatency = 99
	assert.NoError(t, ValidateConnParams(cp))
	cp.ConnIntervalMax = 20
	assert.Error(t, ValidateConnParams(cp))
}

func TestSetParams(t *testing.T) {
	h := NewChannel(Config{Logger: btcontrol.DiscardLogger()}, nil, nil)

	cp := h.params.connParams
	cp.ConnIntervalMin, cp.ConnIntervalMax = 0x0008, 0x0010
	require.NoError(t, h.SetConnParams(cp))
	assert.Equal(t, uint16(0x0010), h.params.conn(AddressTypePublic, [6]byte{}).ConnIntervalMax)

	cp.ConnIntervalMin = 0x0020
	assert.True(t, btcontrol.Is(h.SetConnParams(cp), btcontrol.ErrInvalid))
	assert.Equal(t, uint16(0x0008), h.params.connParams.ConnIntervalMin)

	sp := h.params.scanParams
	sp.LEScanWindow = sp.LEScanInterval
	require.NoError(t, h.SetScanParams(sp))
	assert.Equal(t, sp.LEScanInterval, h.params.scan(false).LEScanWindow)

	sp.LEScanType = 7
	assert.Error(t, h.SetScanParams(sp))
}
