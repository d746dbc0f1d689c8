// Package controller ties the management and HCI channels, the device
// registry, the key store and the remote control sessions of one adapter
// together.
package controller

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/btcontrol"
	"github.com/rigado/btcontrol/device"
	"github.com/rigado/btcontrol/keymap"
	"github.com/rigado/btcontrol/keys"
	"github.com/rigado/btcontrol/linux/gatt"
	"github.com/rigado/btcontrol/linux/hci"
	"github.com/rigado/btcontrol/linux/hci/mgmt"
	"github.com/rigado/btcontrol/remote"
	"github.com/rigado/btcontrol/worker"
)

// Observer learns about device changes and finished scans. It is called on
// the worker pool.
type Observer interface {
	Updated(s device.Snapshot)
	ScanCompleted(lowEnergy bool)
}

// Controller is the Bluetooth controller of one adapter.
type Controller struct {
	index          uint16
	name           string
	short          string
	external       bool
	dataPath       string
	scanTime       time.Duration
	cmdTimeout     time.Duration
	connTimeout    time.Duration
	classicTimeout time.Duration
	ioCapability   mgmt.Capability
	reportHandle   uint16
	workers        int
	transport      hci.Transport
	log            btcontrol.Logger
	sink           keymap.Sink

	dialMgmt func() (io.ReadWriteCloser, error)
	dialHCI  func() (io.ReadWriteCloser, error)
	dialATT  func(a btcontrol.Address) (io.ReadWriteCloser, error)

	mu        sync.Mutex
	open      bool
	opening   bool
	pool      *worker.Pool
	keys      *keys.Store
	registry  *device.Registry
	mgmt      *mgmt.Channel
	hci       *hci.Channel
	input     *keymap.Handler
	remotes   map[string]*remote.Session
	attached  map[btcontrol.Address]bool
	profiles  *gatt.Cache
	observers []Observer
}

// New returns a closed controller configured by opts.
func New(opts ...btcontrol.Option) (*Controller, error) {
	c := &Controller{
		name:           btcontrol.DefaultName,
		dataPath:       ".",
		scanTime:       btcontrol.DefaultScanTime,
		cmdTimeout:     btcontrol.DefaultCommandTimeout,
		connTimeout:    btcontrol.DefaultConnectTimeout,
		classicTimeout: btcontrol.DefaultClassicConnectTimeout,
		ioCapability:   btcontrol.DefaultIOCapability,
		reportHandle:   btcontrol.DefaultReportHandle,
		workers:        btcontrol.DefaultWorkers,
		transport:      hci.TransportHCISocket(0),
		log:            btcontrol.Component("controller"),
		remotes:        make(map[string]*remote.Session),
		attached:       make(map[btcontrol.Address]bool),
		profiles:       gatt.NewCache(),
	}
	if err := c.Option(opts...); err != nil {
		return nil, errors.Wrap(err, "can't set options")
	}
	return c, nil
}

// Option applies opts in order.
func (c *Controller) Option(opts ...btcontrol.Option) error {
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return err
		}
	}
	return nil
}

// SetKeySink sets where translated remote control keys are injected. Keys
// are logged when no sink is set.
func (c *Controller) SetKeySink(s keymap.Sink) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return errors.Wrap(btcontrol.ErrInProgress, "controller is open")
	}
	c.sink = s
	return nil
}

// Open loads the persisted keys, brings up the management and HCI channels
// and hands the keys to the kernel. Every device with stored keys is
// registered again. Opening an open controller is a no-op.
func (c *Controller) Open() error {
	c.mu.Lock()
	switch {
	case c.open:
		c.mu.Unlock()
		return nil
	case c.opening:
		c.mu.Unlock()
		return errors.Wrap(btcontrol.ErrInProgress, "controller opening")
	}
	c.opening = true
	c.build()
	mg, h := c.mgmt, c.hci
	c.mu.Unlock()

	// the channels call back into the controller from their read loops, so
	// they open without c.mu held
	err := func() error {
		if mg != nil {
			if err := mg.Open(!c.external, c.name, c.short); err != nil {
				return errors.Wrap(err, "can't open management channel")
			}
			c.loadKernelKeys()
		}
		return errors.Wrap(h.Open(), "can't open hci channel")
	}()

	c.mu.Lock()
	c.opening = false
	if err != nil {
		c.mu.Unlock()
		c.teardown()
		return err
	}
	c.open = true
	c.mu.Unlock()
	c.restoreDevices()
	c.log.Infof("controller open on hci%d (%v)", c.index, c.transport)
	return nil
}

// build creates the parts of an open controller. Called with c.mu held.
func (c *Controller) build() {
	c.pool = worker.NewPool(c.workers)
	c.keys = keys.NewStore(c.dataPath, c.log.ChildLogger(map[string]interface{}{"component": "keys"}))
	if err := c.keys.Load(); err != nil {
		c.log.Errorf("loading keys: %v", err)
	}

	sink := c.sink
	if sink == nil {
		sink = keymap.LogSink{Log: c.log}
	}
	c.input = keymap.NewHandler(sink, c.log.ChildLogger(map[string]interface{}{"component": "keymap"}))

	dialHCI := c.dialHCI
	if dialHCI == nil {
		t, l := c.transport, c.log
		dialHCI = func() (io.ReadWriteCloser, error) { return t.Dial(l) }
	}
	c.hci = hci.NewChannel(hci.Config{
		Timeout:   c.cmdTimeout,
		Logger:    c.log.ChildLogger(map[string]interface{}{"component": "hci"}),
		Exclusive: c.transport.Exclusive(),
		Dial:      dialHCI,
	}, c.pool, c)

	var pairer device.Pairer = unavailable{}
	c.mgmt = nil
	if !c.transport.Exclusive() {
		c.mgmt = mgmt.NewChannel(mgmt.Config{
			Index:        c.index,
			Timeout:      c.cmdTimeout,
			Logger:       c.log.ChildLogger(map[string]interface{}{"component": "mgmt"}),
			IOCapability: c.ioCapability,
			Dial:         c.dialMgmt,
		}, c)
		pairer = c.mgmt
	}

	c.registry = device.NewRegistry(device.Config{
		Adapter:               c.index,
		Link:                  c.hci,
		Pairer:                pairer,
		Keys:                  c.keys,
		Pool:                  c.pool,
		ConnectTimeout:        c.connTimeout,
		ClassicConnectTimeout: c.classicTimeout,
		Logger:                c.log.ChildLogger(map[string]interface{}{"component": "device"}),
		Updated:               c.deviceUpdated,
	})
}

// restoreDevices registers a bonded device for every address the key store
// holds keys for.
func (c *Controller) restoreDevices() {
	c.mu.Lock()
	r, ks := c.registry, c.keys
	c.mu.Unlock()

	seen := make(map[btcontrol.Address]bool)
	restore := func(a btcontrol.Address) {
		if seen[a] {
			return
		}
		seen[a] = true
		r.Restore(a, ks.Find(a))
	}
	for _, k := range ks.LinkKeys() {
		restore(k.Addr)
	}
	for _, k := range ks.LongTermKeys() {
		restore(k.Addr)
	}
	for _, k := range ks.IdentityKeys() {
		restore(k.Addr)
	}
	if len(seen) > 0 {
		c.log.Infof("restored %d bonded devices", len(seen))
	}
}

func (c *Controller) loadKernelKeys() {
	if err := c.mgmt.LoadLinkKeys(c.keys.LinkKeys()); err != nil {
		c.log.Errorf("loading link keys into the kernel: %v", err)
	}
	if err := c.mgmt.LoadLongTermKeys(c.keys.LongTermKeys()); err != nil {
		c.log.Errorf("loading long term keys into the kernel: %v", err)
	}
	if err := c.mgmt.LoadIRKs(c.keys.IdentityKeys()); err != nil {
		c.log.Errorf("loading identity keys into the kernel: %v", err)
	}
}

// teardown closes the channels and the pool. The registry and the key store
// stay readable for late events.
func (c *Controller) teardown() {
	c.mu.Lock()
	h, mg, pool := c.hci, c.mgmt, c.pool
	c.mu.Unlock()

	if h != nil {
		h.Close()
	}
	if mg != nil {
		mg.Close()
	}
	if pool != nil {
		pool.Close()
	}
}

// Close ends the remote sessions, closes both channels and persists the
// keys. It must not be called from an observer.
func (c *Controller) Close() error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return nil
	}
	c.open = false
	sessions := make([]*remote.Session, 0, len(c.remotes))
	for _, s := range c.remotes {
		sessions = append(sessions, s)
	}
	ks := c.keys
	c.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	c.teardown()

	err := ks.Persist()
	if err != nil {
		c.log.Errorf("persisting keys: %v", err)
	}
	c.log.Info("controller closed")
	return err
}

func (c *Controller) parts() (*device.Registry, *hci.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil, nil, errors.Wrap(btcontrol.ErrUnavailable, "controller closed")
	}
	return c.registry, c.hci, nil
}

// IsScanning reports whether a scan is queued or running.
func (c *Controller) IsScanning() bool {
	_, h, err := c.parts()
	return err == nil && h.IsScanning()
}

// Scan starts an LE scan of the configured duration. It reports false when
// disabling, when closed or when a scan is already in flight; a running scan
// always runs to its end.
func (c *Controller) Scan(enable bool) bool {
	if !enable {
		return false
	}
	return c.ScanLowEnergy(false, false)
}

// ScanLowEnergy starts an LE scan of the configured duration.
func (c *Controller) ScanLowEnergy(limited, passive bool) bool {
	_, h, err := c.parts()
	if err != nil {
		return false
	}
	return h.ScanLowEnergy(c.scanTime, limited, passive)
}

// ScanClassic starts a BR/EDR inquiry of the configured duration.
func (c *Controller) ScanClassic(limited bool) bool {
	_, h, err := c.parts()
	if err != nil {
		return false
	}
	return h.ScanClassic(c.scanTime, limited)
}

// Devices returns a snapshot of every known device.
func (c *Controller) Devices() []device.Snapshot {
	r, _, err := c.parts()
	if err != nil {
		return nil
	}
	dd := r.Devices()
	out := make([]device.Snapshot, len(dd))
	for i, d := range dd {
		out[i] = d.Snapshot()
	}
	return out
}

// Device finds a device by its address in display form.
func (c *Controller) Device(id string) (*device.Device, error) {
	r, _, err := c.parts()
	if err != nil {
		return nil, err
	}
	d := r.Lookup(id)
	if d == nil {
		return nil, errors.Wrapf(btcontrol.ErrNotFound, "device %v", id)
	}
	return d, nil
}

// Add registers a device by address without waiting for a scan to find it.
func (c *Controller) Add(a btcontrol.Address, name string) (*device.Device, error) {
	if !a.IsValid() {
		return nil, errors.Wrapf(btcontrol.ErrInvalid, "address %v", a)
	}
	r, _, err := c.parts()
	if err != nil {
		return nil, err
	}
	d, _ := r.Create(a, name)
	return d, nil
}

// Remove drops the devices matching filter, except those with an action in
// flight, and returns how many went.
func (c *Controller) Remove(filter func(device.Snapshot) bool) int {
	r, _, err := c.parts()
	if err != nil {
		return 0
	}
	var gone []btcontrol.Address
	n := r.Remove(func(s device.Snapshot) bool {
		if !filter(s) {
			return false
		}
		c.profiles.Forget(s.Address)
		gone = append(gone, s.Address)
		return true
	})

	c.mu.Lock()
	for _, a := range gone {
		delete(c.attached, a)
	}
	c.mu.Unlock()
	return n
}

// Register adds an observer.
func (c *Controller) Register(o Observer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, x := range c.observers {
		if x == o {
			return errors.Wrap(btcontrol.ErrInvalid, "observer already registered")
		}
	}
	c.observers = append(c.observers, o)
	return nil
}

// Unregister removes an observer.
func (c *Controller) Unregister(o Observer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, x := range c.observers {
		if x == o {
			c.observers = append(c.observers[:i], c.observers[i+1:]...)
			return nil
		}
	}
	return errors.Wrap(btcontrol.ErrNotFound, "observer not registered")
}

func (c *Controller) observing() []Observer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Observer(nil), c.observers...)
}

func (c *Controller) deviceUpdated(d *device.Device, s device.Snapshot) {
	if !s.Paired() {
		// handles of an unbonded server may change
		c.profiles.Forget(s.Address)
	}
	if c.reattach(d, s) {
		if _, err := c.startRemote(d); err != nil && !btcontrol.Is(err, btcontrol.ErrInProgress) {
			c.log.Warnf("restarting remote %v: %v", s.Address, err)
		}
	}
	for _, o := range c.observing() {
		o.Updated(s)
	}
}

// reattach reports whether a connected LE device wants a new remote session:
// it was attached before or is bonded, and no session is live.
func (c *Controller) reattach(d *device.Device, s device.Snapshot) bool {
	if !s.Valid || !s.LowEnergy() || !s.Connected() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open || !(c.attached[s.Address] || s.Bonded()) {
		return false
	}
	r, ok := c.remotes[d.ID()]
	return !ok || r.State() == remote.Disconnected
}

// KeyEvent injects a key through the keymap named mapName.
func (c *Controller) KeyEvent(pressed bool, code uint32, mapName string) error {
	c.mu.Lock()
	in := c.input
	c.mu.Unlock()
	if in == nil {
		return errors.Wrap(btcontrol.ErrUnavailable, "controller closed")
	}
	return in.KeyEvent(pressed, code, mapName)
}

// AttachRemote marks the LE device id as a remote control unit and starts a
// session with it. The device should be connected; the session reports
// through the controller once its reports are enabled. Whenever the device
// connects again a new session starts on its own.
func (c *Controller) AttachRemote(id string) (*remote.Session, error) {
	d, err := c.Device(id)
	if err != nil {
		return nil, err
	}
	if !d.LowEnergy() {
		return nil, errors.Wrapf(btcontrol.ErrInvalid, "%v is not an LE device", id)
	}

	c.mu.Lock()
	c.attached[d.Address()] = true
	c.mu.Unlock()
	return c.startRemote(d)
}

func (c *Controller) startRemote(d *device.Device) (*remote.Session, error) {
	c.mu.Lock()
	if s, ok := c.remotes[d.ID()]; ok && s.State() != remote.Disconnected {
		c.mu.Unlock()
		return nil, errors.Wrapf(btcontrol.ErrInProgress, "remote %v already attached", d.ID())
	}
	s, err := remote.New(remote.Config{
		ReportHandle: c.reportHandle,
		Timeout:      c.cmdTimeout,
		Pool:         c.pool,
		Logger:       c.log.ChildLogger(map[string]interface{}{"component": "remote"}),
		Cache:        c.profiles,
		Dial:         c.dialATT,
	}, d, c)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.remotes[d.ID()] = s
	s.SetKeyHandler(c.input)
	c.mu.Unlock()

	if err := s.Open(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// RemoteConnected loads the keymap of the remote, <dataPath>/<name>-remote.json.
func (c *Controller) RemoteConnected(s *remote.Session) {
	c.log.Infof("LE remote control unit %q connected", s.Name())
	c.mu.Lock()
	in, dir := c.input, c.dataPath
	c.mu.Unlock()
	if in != nil {
		in.LoadRemote(dir, s.Name())
	}
}

// RemoteDisconnected drops the keymap of the remote.
func (c *Controller) RemoteDisconnected(s *remote.Session) {
	c.log.Infof("LE remote control unit %q disconnected", s.Name())
	c.mu.Lock()
	in := c.input
	if c.remotes[s.Device().ID()] == s {
		delete(c.remotes, s.Device().ID())
	}
	c.mu.Unlock()
	if in != nil {
		in.ClearTable(s.Name())
	}
}

// unavailable stands in for the management channel on exclusive transports.
type unavailable struct{}

func (unavailable) Pair(btcontrol.Address, mgmt.Capability) error {
	return errors.Wrap(btcontrol.ErrUnavailable, "no management channel")
}

func (unavailable) Unpair(btcontrol.Address) error {
	return errors.Wrap(btcontrol.ErrUnavailable, "no management channel")
}
