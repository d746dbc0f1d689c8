// Package device keeps the remote devices of one adapter and their
// connection and pairing state machines.
package device

import (
	"sync"
	"time"

	"github.com/rigado/btcontrol"
	"github.com/rigado/btcontrol/keys"
	"github.com/rigado/btcontrol/linux/hci/mgmt"
	"github.com/rigado/btcontrol/worker"
)

const (
	defaultConnectTimeout        = 2 * time.Second
	defaultClassicConnectTimeout = 8 * time.Second // a classic page runs for 5.12 s by default
)

// Link issues connection commands on the HCI channel.
type Link interface {
	Connect(a btcontrol.Address) error
	CancelConnect(a btcontrol.Address) error
	Disconnect(handle uint16, reason uint8) error
	RemoteName(a btcontrol.Address) error
}

// Pairer issues pairing commands on the management channel.
type Pairer interface {
	Pair(a btcontrol.Address, capability mgmt.Capability) error
	Unpair(a btcontrol.Address) error
}

// KeyStore is what devices need of the key store.
type KeyStore interface {
	Purge(a btcontrol.Address) int
	Persist() error
}

// Config wires a registry to its adapter.
type Config struct {
	Adapter uint16
	Link    Link
	Pairer  Pairer
	Keys    KeyStore
	Pool    *worker.Pool
	Logger  btcontrol.Logger

	// ConnectTimeout bounds LE connection setup, ClassicConnectTimeout the
	// page of a classic device.
	ConnectTimeout        time.Duration
	ClassicConnectTimeout time.Duration

	// Updated runs on the pool after the device callback, for every
	// coalesced change of any device.
	Updated func(d *Device, s Snapshot)
}

// Registry holds one Device per address.
type Registry struct {
	cfg Config
	log btcontrol.Logger

	mu      sync.RWMutex
	devices []*Device
}

// NewRegistry returns an empty registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ClassicConnectTimeout == 0 {
		cfg.ClassicConnectTimeout = defaultClassicConnectTimeout
	}
	l := cfg.Logger
	if l == nil {
		l = btcontrol.Component("device")
	}
	return &Registry{cfg: cfg, log: l}
}

// Find returns the device with address a, kind included.
func (r *Registry) Find(a btcontrol.Address) *Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.devices {
		if d.s.Address == a {
			return d
		}
	}
	return nil
}

// Lookup finds a device by its ID, the address in display form.
func (r *Registry) Lookup(id string) *Device {
	a, err := btcontrol.ParseAddress(id, btcontrol.Classic)
	if err != nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.devices {
		if d.s.Address.SameDevice(a) {
			return d
		}
	}
	return nil
}

// FindHandle returns the device holding connection handle h.
func (r *Registry) FindHandle(h uint16) *Device {
	if h == InvalidHandle {
		return nil
	}
	for _, d := range r.Devices() {
		if d.Handle() == h {
			return d
		}
	}
	return nil
}

// Create returns the device of a, creating it when needed. A known device
// only takes the new name, if one is given.
func (r *Registry) Create(a btcontrol.Address, name string) (*Device, bool) {
	return r.create(a, name, true)
}

// Restore registers the device of a from the keys stored for it. No name
// lookup is started; a bonded device may well be out of range.
func (r *Registry) Restore(a btcontrol.Address, set keys.Set) *Device {
	d, _ := r.create(a, "", false)
	d.Restore(set)
	return d
}

func (r *Registry) create(a btcontrol.Address, name string, lookup bool) (*Device, bool) {
	r.mu.Lock()
	for _, d := range r.devices {
		if d.s.Address == a {
			r.mu.Unlock()
			d.SetName(name)
			return d, false
		}
	}
	d := newDevice(r, a, name)
	r.devices = append(r.devices, d)
	r.mu.Unlock()

	r.log.Infof("new %v device %v %q", a.Kind(), a, name)
	if lookup && !a.Kind().IsLE() && name == "" && r.cfg.Link != nil {
		r.cfg.Pool.Submit(func() {
			if err := r.cfg.Link.RemoteName(a); err != nil {
				r.log.Debugf("remote name of %v: %v", a, err)
			}
		})
	}
	d.changed()
	return d, true
}

// Remove drops the devices for which match holds. Devices with an action in
// flight stay.
func (r *Registry) Remove(match func(s Snapshot) bool) int {
	n := 0
	for _, d := range r.Devices() {
		if !match(d.Snapshot()) || !d.invalidate() {
			continue
		}
		r.mu.Lock()
		for i, o := range r.devices {
			if o == d {
				r.devices = append(r.devices[:i], r.devices[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
		n++
	}
	return n
}

// Devices returns the devices in creation order.
func (r *Registry) Devices() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// Len is the number of devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
