package device

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/btcontrol"
	"github.com/rigado/btcontrol/keys"
	"github.com/rigado/btcontrol/linux/hci/mgmt"
)

const (
	InvalidHandle uint16 = 0xffff
	unknown       byte   = 0xff

	reasonRemoteUser = 0x13
)

// Callback is told about every change of one device. Only one may be set.
type Callback interface {
	Updated(s Snapshot)
}

// Snapshot is an immutable copy of a device's state.
type Snapshot struct {
	Adapter    uint16
	Address    btcontrol.Address
	Name       string
	Link       LinkState
	Pair       PairState
	Features   [8]byte
	Handle     uint16
	Role       uint8
	Capability uint8
	OOB        uint8
	Auth       uint8
	Interval   uint16
	Latency    uint16
	Timeout    uint16
	Reason     uint8
	Valid      bool
}

// LowEnergy reports whether the device is an LE device.
func (s Snapshot) LowEnergy() bool { return s.Address.Kind().IsLE() }

// Connected is true once the link is up and the feature exchange finished.
func (s Snapshot) Connected() bool {
	if s.Handle == InvalidHandle {
		return false
	}
	for _, f := range s.Features[:4] {
		if f == unknown {
			return false
		}
	}
	return true
}

func (s Snapshot) Paired() bool { return s.Pair.paired() }
func (s Snapshot) Bonded() bool { return s.Pair == Bonded }

// Busy reports whether an action is in flight.
func (s Snapshot) Busy() bool { return s.Link.busy() || s.Pair.busy() }

// Device is one remote device of an adapter.
type Device struct {
	reg *Registry
	log btcontrol.Logger

	mu       sync.Mutex
	s        Snapshot
	callback Callback
	ltk      [2]bool // slave, master key landed
	irk      bool
	timer    *time.Timer
	updating bool // a dispatch is queued or running
	dirty    bool // changes not yet dispatched
}

func newDevice(reg *Registry, a btcontrol.Address, name string) *Device {
	d := &Device{
		reg: reg,
		log: reg.log.ChildLogger(map[string]interface{}{"device": a.String()}),
		s: Snapshot{
			Adapter:    reg.cfg.Adapter,
			Address:    a,
			Name:       name,
			Handle:     InvalidHandle,
			Capability: unknown,
			OOB:        unknown,
			Auth:       unknown,
			Valid:      true,
		},
	}
	d.clearFeatures()
	return d
}

func (d *Device) clearFeatures() {
	for i := range d.s.Features {
		d.s.Features[i] = unknown
	}
}

// Address never changes, so it needs no lock.
func (d *Device) Address() btcontrol.Address { return d.s.Address }

// ID is the address in display form.
func (d *Device) ID() string { return d.s.Address.String() }

// Snapshot copies the current state.
func (d *Device) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s
}

func (d *Device) Name() string      { return d.Snapshot().Name }
func (d *Device) IsConnected() bool { return d.Snapshot().Connected() }
func (d *Device) IsPaired() bool    { return d.Snapshot().Paired() }
func (d *Device) IsBonded() bool    { return d.Snapshot().Bonded() }
func (d *Device) IsValid() bool     { return d.Snapshot().Valid }
func (d *Device) LowEnergy() bool   { return d.s.Address.Kind().IsLE() }
func (d *Device) Handle() uint16    { return d.Snapshot().Handle }

// SetCallback installs cb, or removes the current one when cb is nil.
func (d *Device) SetCallback(cb Callback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb != nil && d.callback != nil {
		return errors.Wrap(btcontrol.ErrInProgress, "device already has a callback")
	}
	d.callback = cb
	return nil
}

// begin starts an action when none is in flight. Called with d.mu held.
func (d *Device) begin(what string) error {
	switch {
	case !d.s.Valid:
		return errors.Wrapf(btcontrol.ErrNotFound, "%s: device %v removed", what, d.s.Address)
	case d.s.Link.busy() || d.s.Pair.busy():
		return errors.Wrapf(btcontrol.ErrInProgress, "%s: %v is %v/%v", what, d.s.Address, d.s.Link, d.s.Pair)
	}
	return nil
}

// Connect creates the baseband (classic) or LE link. The device falls back
// to idle when the connection is not complete within the connect timeout.
func (d *Device) Connect() error {
	d.mu.Lock()
	if err := d.begin("connect"); err != nil {
		d.mu.Unlock()
		return err
	}
	if d.s.Link == Connected {
		d.mu.Unlock()
		return errors.Wrapf(btcontrol.ErrAlreadyConnected, "connect %v", d.s.Address)
	}
	d.s.Link = Connecting
	d.mu.Unlock()
	d.changed()

	if err := d.reg.cfg.Link.Connect(d.s.Address); err != nil {
		d.mu.Lock()
		if d.s.Link == Connecting {
			d.s.Link = Idle
		}
		d.mu.Unlock()
		d.changed()
		return err
	}

	timeout := d.reg.cfg.ConnectTimeout
	if !d.LowEnergy() {
		timeout = d.reg.cfg.ClassicConnectTimeout
	}
	d.mu.Lock()
	if d.s.Link == Connecting {
		d.timer = time.AfterFunc(timeout, d.connectTimedOut)
	}
	d.mu.Unlock()
	return nil
}

func (d *Device) connectTimedOut() {
	d.mu.Lock()
	if d.s.Link != Connecting {
		d.mu.Unlock()
		return
	}
	d.s.Link = Idle
	d.timer = nil
	d.mu.Unlock()

	d.log.Warn("connection not established in time")
	d.reg.cfg.Pool.Submit(func() {
		if err := d.reg.cfg.Link.CancelConnect(d.s.Address); err != nil {
			d.log.Debugf("cancel connect: %v", err)
		}
	})
	d.changed()
}

func (d *Device) stopTimer() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Disconnect drops the link with the remote user terminated reason.
func (d *Device) Disconnect() error {
	return d.DisconnectReason(reasonRemoteUser)
}

// DisconnectReason drops the link with the given HCI reason code.
func (d *Device) DisconnectReason(reason uint8) error {
	d.mu.Lock()
	if err := d.begin("disconnect"); err != nil {
		d.mu.Unlock()
		return err
	}
	if d.s.Handle == InvalidHandle {
		d.mu.Unlock()
		return errors.Wrapf(btcontrol.ErrAlreadyReleased, "disconnect %v", d.s.Address)
	}
	handle := d.s.Handle
	d.s.Link = Disconnecting
	d.mu.Unlock()
	d.changed()

	if err := d.reg.cfg.Link.Disconnect(handle, reason); err != nil {
		d.mu.Lock()
		if d.s.Link == Disconnecting {
			d.s.Link = Connected
		}
		d.mu.Unlock()
		d.changed()
		return err
	}
	return nil
}

// Pair asks the kernel to pair. Success of the request only means pairing
// started; the key events that follow move the device on.
func (d *Device) Pair(capability mgmt.Capability) error {
	d.mu.Lock()
	if err := d.begin("pair"); err != nil {
		d.mu.Unlock()
		return err
	}
	if d.s.Pair.paired() {
		d.mu.Unlock()
		return errors.Wrapf(btcontrol.ErrAlreadyConnected, "pair %v", d.s.Address)
	}
	prev := d.s.Pair
	d.s.Pair = Pairing
	d.mu.Unlock()
	d.changed()

	err := d.reg.cfg.Pairer.Pair(d.s.Address, capability)
	d.pairResult(prev, err)
	if btcontrol.Is(err, btcontrol.ErrAlreadyConnected) {
		return nil
	}
	return err
}

func (d *Device) pairResult(prev PairState, err error) {
	d.mu.Lock()
	switch {
	case d.s.Pair != Pairing:
		// keys already moved the device on
	case err == nil:
		d.log.Debug("pairing accepted, waiting for keys")
	case btcontrol.Is(err, btcontrol.ErrAlreadyConnected):
		d.s.Pair = Bonded
	default:
		d.log.Warnf("pairing failed: %v", err)
		d.s.Pair = prev
	}
	d.mu.Unlock()
	d.changed()
}

// PairComplete applies the asynchronous outcome of a pairing.
func (d *Device) PairComplete(err error) {
	if err == nil {
		return
	}
	d.pairResult(Unpaired, err)
}

// AuthFailed aborts a pairing in flight.
func (d *Device) AuthFailed(status uint8) {
	d.mu.Lock()
	if d.s.Pair != Pairing {
		d.mu.Unlock()
		return
	}
	d.log.Warnf("authentication failed, status 0x%02x", status)
	d.s.Pair = Unpaired
	d.ltk = [2]bool{}
	d.irk = false
	d.mu.Unlock()
	d.changed()
}

// Unpair purges stored keys and asks the kernel to forget the device.
func (d *Device) Unpair() error {
	d.mu.Lock()
	if err := d.begin("unpair"); err != nil {
		d.mu.Unlock()
		return err
	}
	if d.s.Pair == Unpaired {
		d.mu.Unlock()
		return errors.Wrapf(btcontrol.ErrAlreadyReleased, "unpair %v", d.s.Address)
	}
	prev := d.s.Pair
	d.s.Pair = Unpairing
	d.mu.Unlock()
	d.changed()

	if ks := d.reg.cfg.Keys; ks != nil {
		if n := ks.Purge(d.s.Address); n > 0 {
			if err := ks.Persist(); err != nil {
				d.log.Errorf("persist keys: %v", err)
			}
		}
	}

	err := d.reg.cfg.Pairer.Unpair(d.s.Address)
	d.mu.Lock()
	switch {
	case err == nil, btcontrol.Is(err, btcontrol.ErrAlreadyReleased):
		d.s.Pair = Unpaired
		d.ltk = [2]bool{}
		d.irk = false
		err = nil
	default:
		d.s.Pair = prev
	}
	d.mu.Unlock()
	d.changed()
	return err
}

// LinkKey records a stored BR/EDR link key: the device is bonded.
func (d *Device) LinkKey() {
	d.mu.Lock()
	switch d.s.Pair {
	case Unpaired, Pairing, Paired:
		d.s.Pair = Bonded
	case Bonded:
	case Unpairing:
		d.log.Debug("link key while unpairing ignored")
	}
	bonded := d.s.Pair == Bonded
	d.mu.Unlock()
	if bonded {
		d.persist()
	}
	d.changed()
}

// LongTermKey records a stored LE long term key. The first key makes the
// device paired; it is bonded once the key of the other direction or an
// identity key landed as well. A repeated key of the same direction changes
// nothing.
func (d *Device) LongTermKey(master bool) {
	i := 0
	if master {
		i = 1
	}

	d.mu.Lock()
	reciprocal := d.ltk[1-i]
	d.ltk[i] = true
	before := d.s.Pair
	switch d.s.Pair {
	case Unpaired, Pairing:
		d.s.Pair = Paired
		if d.irk || reciprocal {
			d.s.Pair = Bonded
		}
	case Paired:
		if reciprocal || d.irk {
			d.s.Pair = Bonded
		}
	case Bonded:
	case Unpairing:
		d.log.Debug("long term key while unpairing ignored")
	}
	bonded := before != Bonded && d.s.Pair == Bonded
	d.mu.Unlock()

	if bonded {
		d.persist()
	}
	d.changed()
}

// IdentityKey records a stored identity resolving key.
func (d *Device) IdentityKey() {
	d.mu.Lock()
	d.irk = true
	bonded := false
	switch d.s.Pair {
	case Paired:
		if d.ltk[0] || d.ltk[1] {
			d.s.Pair = Bonded
			bonded = true
		}
	case Unpaired, Pairing, Bonded, Unpairing:
	}
	d.mu.Unlock()

	if bonded {
		d.persist()
	}
	d.changed()
}

// Restore takes over the keys found in the key store at start-up, with the
// same bonding rules as the key events. Nothing is persisted again.
func (d *Device) Restore(set keys.Set) {
	d.mu.Lock()
	if d.s.Pair != Unpaired {
		d.mu.Unlock()
		return
	}
	for _, k := range set.LongTerm {
		if k.Master {
			d.ltk[1] = true
		} else {
			d.ltk[0] = true
		}
	}
	d.irk = set.Identity != nil
	ltk := d.ltk[0] || d.ltk[1]
	switch {
	case set.Link != nil, d.ltk[0] && d.ltk[1], ltk && d.irk:
		d.s.Pair = Bonded
	case ltk:
		d.s.Pair = Paired
	}
	d.mu.Unlock()
	d.changed()
}

func (d *Device) persist() {
	if ks := d.reg.cfg.Keys; ks != nil {
		if err := ks.Persist(); err != nil {
			d.log.Errorf("persist keys: %v", err)
		}
	}
}

// Bound records a completed connection. A failed one returns the device to
// idle.
func (d *Device) Bound(status uint8, handle uint16, role uint8) {
	d.mu.Lock()
	d.stopTimer()
	if status != 0 || handle == InvalidHandle {
		d.log.Infof("connection failed, status 0x%02x", status)
		switch d.s.Link {
		case Connecting:
			d.s.Link = Idle
		case Idle, Connected, Disconnecting:
		}
	} else {
		d.s.Handle = handle
		d.s.Role = role
		d.s.Link = Connected
		d.clearFeatures()
	}
	d.mu.Unlock()
	d.changed()
}

// Features stores the remote feature vector (up to 8 bytes).
func (d *Device) Features(f []byte) {
	d.mu.Lock()
	d.clearFeatures()
	copy(d.s.Features[:], f)
	d.mu.Unlock()
	d.changed()
}

// Disconnected clears the link after a disconnection complete.
func (d *Device) Disconnected(reason uint8) {
	d.mu.Lock()
	d.stopTimer()
	d.s.Handle = InvalidHandle
	d.s.Link = Idle
	d.s.Reason = reason
	d.clearFeatures()
	d.mu.Unlock()
	d.changed()
}

// Capabilities records the IO capability response of the remote.
func (d *Device) Capabilities(capability, oob, auth uint8) {
	d.mu.Lock()
	d.s.Capability, d.s.OOB, d.s.Auth = capability, oob, auth
	d.mu.Unlock()
	d.changed()
}

// ConnectionParameters records the LE connection parameters in use.
func (d *Device) ConnectionParameters(interval, latency, timeout uint16) {
	d.mu.Lock()
	d.s.Interval, d.s.Latency, d.s.Timeout = interval, latency, timeout
	d.mu.Unlock()
	d.changed()
}

// SetName updates the name; empty names are ignored.
func (d *Device) SetName(name string) {
	if name == "" {
		return
	}
	d.mu.Lock()
	same := d.s.Name == name
	d.s.Name = name
	d.mu.Unlock()
	if !same {
		d.changed()
	}
}

// invalidate marks the device removed unless an action is in flight.
func (d *Device) invalidate() bool {
	d.mu.Lock()
	if d.s.Link.busy() || d.s.Pair.busy() {
		d.mu.Unlock()
		return false
	}
	d.s.Valid = false
	d.stopTimer()
	d.mu.Unlock()
	d.changed()
	return true
}

// changed schedules an update dispatch. Changes made before it runs are
// reported together, and at most one dispatch per device runs at a time so
// snapshots arrive in order.
func (d *Device) changed() {
	d.mu.Lock()
	d.dirty = true
	if d.updating {
		d.mu.Unlock()
		return
	}
	d.updating = true
	d.mu.Unlock()

	t := d.reg.cfg.Pool.Submit(d.dispatch)
	select {
	case <-t.Done():
		if !t.Ran() {
			d.mu.Lock()
			d.updating = false
			d.mu.Unlock()
		}
	default:
	}
}

func (d *Device) dispatch() {
	d.mu.Lock()
	for d.dirty {
		d.dirty = false
		s, cb := d.s, d.callback
		d.mu.Unlock()

		if cb != nil {
			cb.Updated(s)
		}
		if d.reg.cfg.Updated != nil {
			d.reg.cfg.Updated(d, s)
		}
		d.mu.Lock()
	}
	d.updating = false
	d.mu.Unlock()
}
