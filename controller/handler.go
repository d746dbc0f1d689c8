package controller

import (
	"github.com/rigado/btcontrol"
	"github.com/rigado/btcontrol/device"
	"github.com/rigado/btcontrol/keys"
	"github.com/rigado/btcontrol/linux/adv"
	"github.com/rigado/btcontrol/linux/hci"
	"github.com/rigado/btcontrol/linux/hci/mgmt"
)

// Event sinks of the management and HCI channels. Both call in from their
// read loops, so nothing here blocks on a command.

func (c *Controller) devices() *device.Registry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry
}

func (c *Controller) find(a btcontrol.Address) *device.Device {
	r := c.devices()
	if r == nil {
		return nil
	}
	return r.Find(a)
}

func (c *Controller) findHandle(h uint16) *device.Device {
	r := c.devices()
	if r == nil {
		return nil
	}
	return r.FindHandle(h)
}

// deviceFor returns the device of a, registering it when the key event is the
// first we hear of it.
func (c *Controller) deviceFor(a btcontrol.Address) *device.Device {
	r := c.devices()
	if r == nil {
		return nil
	}
	d, _ := r.Create(a, "")
	return d
}

// identity maps a resolvable private address onto the identity address of
// the bonded device that generated it. Other addresses come back as they are.
func (c *Controller) identity(a btcontrol.Address) btcontrol.Address {
	if a.Kind() != btcontrol.LERandom {
		return a
	}
	c.mu.Lock()
	ks := c.keys
	c.mu.Unlock()
	if ks == nil {
		return a
	}
	if id, ok := ks.Resolve(a); ok {
		c.log.Debugf("%v resolves to %v", a, id)
		return id
	}
	return a
}

func (c *Controller) store(k keys.Key) bool {
	c.mu.Lock()
	ks := c.keys
	c.mu.Unlock()
	if ks == nil {
		return false
	}
	if err := ks.Store(k); err != nil {
		c.log.Errorf("invalid key for %v: %v", k.Address(), err)
		return false
	}
	return true
}

// mgmt.Handler

func (c *Controller) ControllerError(code uint8) {
	c.log.Errorf("adapter reported error 0x%02x", code)
}

func (c *Controller) DeviceConnected(ev mgmt.DeviceConnected) {
	name, _ := adv.Name(ev.EIR)
	c.log.Infof("%v connected (flags 0x%x) %q", ev.Addr, ev.Flags, name)
	if r := c.devices(); r != nil {
		r.Create(ev.Addr, name)
	}
}

func (c *Controller) DeviceDisconnected(ev mgmt.DeviceDisconnected) {
	c.log.Infof("%v disconnected, reason 0x%02x", ev.Addr, ev.Reason)
}

func (c *Controller) ConnectFailed(a btcontrol.Address, status uint8) {
	c.log.Warnf("connecting %v failed, status 0x%02x", a, status)
	if d := c.find(a); d != nil {
		d.Bound(status, device.InvalidHandle, 0)
	}
}

func (c *Controller) AuthFailed(a btcontrol.Address, status uint8) {
	if d := c.find(a); d != nil {
		d.AuthFailed(status)
	}
}

func (c *Controller) PairComplete(a btcontrol.Address, err error) {
	if d := c.find(a); d != nil {
		d.PairComplete(err)
	}
}

func (c *Controller) NewLinkKey(k keys.LinkKey) {
	if !c.store(k) {
		return
	}
	if d := c.deviceFor(k.Addr); d != nil {
		d.LinkKey()
	}
}

func (c *Controller) NewLongTermKey(k keys.LongTermKey) {
	if !c.store(k) {
		return
	}
	if d := c.deviceFor(k.Addr); d != nil {
		d.LongTermKey(k.Master)
	}
}

// NewIRK may name the device by the resolvable address it connected with.
func (c *Controller) NewIRK(rpa btcontrol.Address, k keys.IdentityKey) {
	if !c.store(k) {
		return
	}
	d := c.find(k.Addr)
	if d == nil && rpa.IsValid() {
		d = c.find(rpa)
	}
	if d == nil {
		d = c.deviceFor(k.Addr)
	}
	if d != nil {
		d.IdentityKey()
	}
}

func (c *Controller) NewCSRK(k keys.SignatureKey) {
	c.store(k)
}

func (c *Controller) NewConnParam(ev mgmt.NewConnParam) {
	c.log.Debugf("%v prefers interval %d-%d, latency %d, timeout %d", ev.Addr,
		ev.MinInterval, ev.MaxInterval, ev.Latency, ev.SupervisionTimeout)
}

// hci.Listener

func (c *Controller) Discovered(lowEnergy bool, a btcontrol.Address, name string) {
	if r := c.devices(); r != nil {
		r.Create(c.identity(a), name)
	}
}

func (c *Controller) ConnectionComplete(cn hci.Connection) {
	a := c.identity(cn.Addr)
	d := c.find(a)
	if d == nil {
		if cn.Status != 0 {
			return
		}
		// incoming connection from a device never seen in a scan
		r := c.devices()
		if r == nil {
			return
		}
		d, _ = r.Create(a, "")
	}
	d.Bound(cn.Status, cn.Handle, cn.Role)
	if cn.Status == 0 && cn.Interval != 0 {
		d.ConnectionParameters(cn.Interval, cn.Latency, cn.Timeout)
	}
}

func (c *Controller) ConnectionUpdate(cn hci.Connection) {
	if cn.Status != 0 {
		c.log.Warnf("connection update on 0x%04x failed, status 0x%02x", cn.Handle, cn.Status)
		return
	}
	if d := c.findHandle(cn.Handle); d != nil {
		d.ConnectionParameters(cn.Interval, cn.Latency, cn.Timeout)
	}
}

func (c *Controller) DisconnectionComplete(handle uint16, reason uint8) {
	if d := c.findHandle(handle); d != nil {
		d.Disconnected(reason)
	}
}

func (c *Controller) Features(handle uint16, features []byte) {
	if d := c.findHandle(handle); d != nil {
		d.Features(features)
	}
}

func (c *Controller) Capabilities(a btcontrol.Address, capability, oob, auth uint8) {
	if d := c.find(a); d != nil {
		d.Capabilities(capability, oob, auth)
	}
}

func (c *Controller) RemoteName(a btcontrol.Address, name string) {
	if d := c.find(a); d != nil {
		d.SetName(name)
	}
}

func (c *Controller) ScanCompleted(lowEnergy bool) {
	for _, o := range c.observing() {
		o.ScanCompleted(lowEnergy)
	}
}
