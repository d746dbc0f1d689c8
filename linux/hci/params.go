package hci

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/btcontrol"
	"github.com/rigado/btcontrol/linux/hci/cmd"
)

const (
	AddressTypePublic           = 0
	AddressTypeRandom           = 1
	FilterPolicyAcceptAll       = 0
	FilterPolicyAcceptWhitelist = 1
	LEScanTypePassive           = 0
	LEScanTypeActive            = 1

	LEScanIntervalMin = 0x0004
	LEScanIntervalMax = 0x4000
	LEScanWindowMin   = 0x0004
	LEScanWindowMax   = 0x4000

	ConnIntervalMin = 0x0006
	ConnIntervalMax = 0x0c80
	ConnLatencyMin  = 0x0000
	ConnLatencyMax  = 0x01f3

	SupervisionTimeoutMin = 0x000a
	SupervisionTimeoutMax = 0x0c80

	CELengthMin = 0x0000
	CELengthMax = 0xffff
)

type params struct {
	sync.RWMutex

	scanParams cmd.LESetScanParameters
	connParams cmd.LECreateConnection
}

func (p *params) init() {
	// discovery: 60 ms every 120 ms, active
	p.scanParams = cmd.LESetScanParameters{
		LEScanType:           LEScanTypeActive,
		LEScanInterval:       0x00c0,
		LEScanWindow:         0x0060,
		OwnAddressType:       AddressTypePublic,
		ScanningFilterPolicy: FilterPolicyAcceptAll,
	}
	// remote controls: 7.5-15 ms interval, may skip 49 events, 5 s supervision
	p.connParams = cmd.LECreateConnection{
		LEScanInterval:        0x0060,
		LEScanWindow:          0x0060,
		InitiatorFilterPolicy: FilterPolicyAcceptAll,
		OwnAddressType:        AddressTypePublic,
		ConnIntervalMin:       0x0006,
		ConnIntervalMax:       0x000c,
		ConnLatency:           0x0031,
		SupervisionTimeout:    0x01f4,
		MinimumCELength:       0x0000,
		MaximumCELength:       0x0000,
	}
}

func (p *params) scan(passive bool) cmd.LESetScanParameters {
	p.RLock()
	defer p.RUnlock()
	sp := p.scanParams
	if passive {
		sp.LEScanType = LEScanTypePassive
	}
	return sp
}

func (p *params) conn(peerType uint8, peer [6]byte) cmd.LECreateConnection {
	p.RLock()
	defer p.RUnlock()
	cp := p.connParams
	cp.PeerAddressType = peerType
	cp.PeerAddress = peer
	return cp
}

func invalid(field string, v interface{}) error {
	return errors.Wrapf(btcontrol.ErrInvalid, "%s %v", field, v)
}

func inRange(v, min, max uint16) bool { return v >= min && v <= max }

func oneOf(v uint8, a, b uint8) bool { return v == a || v == b }

// ValidateScanParams checks a scanning template against the ranges of the
// LE Set Scan Parameters command.
func ValidateScanParams(p cmd.LESetScanParameters) error {
	switch {
	case !oneOf(p.LEScanType, LEScanTypePassive, LEScanTypeActive):
		return invalid("scan type", p.LEScanType)
	case !inRange(p.LEScanInterval, LEScanIntervalMin, LEScanIntervalMax):
		return invalid("scan interval", p.LEScanInterval)
	case !inRange(p.LEScanWindow, LEScanWindowMin, p.LEScanInterval):
		return invalid("scan window", p.LEScanWindow)
	case !oneOf(p.OwnAddressType, AddressTypePublic, AddressTypeRandom):
		return invalid("own address type", p.OwnAddressType)
	case !oneOf(p.ScanningFilterPolicy, FilterPolicyAcceptAll, FilterPolicyAcceptWhitelist):
		return invalid("filter policy", p.ScanningFilterPolicy)
	}
	return nil
}

// ValidateConnParams checks the LE connection template. The peer fields are
// filled per connection and are not checked.
func ValidateConnParams(p cmd.LECreateConnection) error {
	switch {
	case !inRange(p.LEScanInterval, LEScanIntervalMin, LEScanIntervalMax):
		return invalid("scan interval", p.LEScanInterval)
	case !inRange(p.LEScanWindow, LEScanWindowMin, p.LEScanInterval):
		return invalid("scan window", p.LEScanWindow)
	case !oneOf(p.InitiatorFilterPolicy, FilterPolicyAcceptAll, FilterPolicyAcceptWhitelist):
		return invalid("filter policy", p.InitiatorFilterPolicy)
	case !oneOf(p.OwnAddressType, AddressTypePublic, AddressTypeRandom):
		return invalid("own address type", p.OwnAddressType)
	case !inRange(p.ConnIntervalMax, ConnIntervalMin, ConnIntervalMax):
		return invalid("max interval", p.ConnIntervalMax)
	case !inRange(p.ConnIntervalMin, ConnIntervalMin, p.ConnIntervalMax):
		return invalid("min interval", p.ConnIntervalMin)
	case p.ConnLatency > ConnLatencyMax:
		return invalid("latency", p.ConnLatency)
	case !inRange(p.SupervisionTimeout, SupervisionTimeoutMin, SupervisionTimeoutMax):
		return invalid("supervision timeout", p.SupervisionTimeout)
	case p.MinimumCELength > p.MaximumCELength:
		return invalid("min CE length", p.MinimumCELength)
	}

	// the link must survive a full latency skip at the longest interval:
	// timeout*10ms > (1+latency) * interval*1.25ms * 2
	if uint32(p.SupervisionTimeout)*4 <= (1+uint32(p.ConnLatency))*uint32(p.ConnIntervalMax) {
		return invalid("supervision timeout too short for latency", p.SupervisionTimeout)
	}
	return nil
}
