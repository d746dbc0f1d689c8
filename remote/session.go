// Package remote runs the GATT session of an HID-over-GATT remote control:
// it discovers the profile, enables the input reports and turns report
// notifications into key events.
package remote

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/btcontrol"
	"github.com/rigado/btcontrol/device"
	"github.com/rigado/btcontrol/keymap"
	"github.com/rigado/btcontrol/linux/att"
	"github.com/rigado/btcontrol/linux/gatt"
	"github.com/rigado/btcontrol/worker"
)

const (
	DefaultReportHandle = 0x34

	defaultTimeout          = 2 * time.Second
	defaultDiscoveryTimeout = 40 * time.Second
	rxMTU                   = 64
)

// State of a session.
type State uint8

const (
	Idle State = iota
	Securing
	Discovering
	EnablingReports
	Operational
	Disconnected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Securing:
		return "securing"
	case Discovering:
		return "discovering"
	case EnablingReports:
		return "enabling-reports"
	case Operational:
		return "operational"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Listener learns when a remote becomes usable and when it goes away.
type Listener interface {
	RemoteConnected(s *Session)
	RemoteDisconnected(s *Session)
}

// Config configures a session.
type Config struct {
	ReportHandle     uint16
	Timeout          time.Duration
	DiscoveryTimeout time.Duration
	Pool             *worker.Pool
	Logger           btcontrol.Logger

	// Cache, when set, holds the profiles of bonded remotes across
	// reconnects.
	Cache *gatt.Cache

	// Dial opens the ATT bearer to the remote.
	Dial func(a btcontrol.Address) (io.ReadWriteCloser, error)
}

// Session is the GATT session with one remote control.
type Session struct {
	cfg      Config
	dev      *device.Device
	listener Listener
	log      btcontrol.Logger
	name     string
	keys     *keyQueue

	mu      sync.Mutex
	state   State
	client  *att.Client
	profile *gatt.Profile
	queue   []uint16
	current uint16
}

// New binds a session to dev. The device may carry only one callback, so a
// device already watched by someone else is refused.
func New(cfg Config, dev *device.Device, l Listener) (*Session, error) {
	if cfg.ReportHandle == 0 {
		cfg.ReportHandle = DefaultReportHandle
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.DiscoveryTimeout == 0 {
		cfg.DiscoveryTimeout = defaultDiscoveryTimeout
	}
	if cfg.Dial == nil {
		cfg.Dial = dialATT
	}
	lg := cfg.Logger
	if lg == nil {
		lg = btcontrol.Component("remote")
	}
	if !dev.LowEnergy() {
		return nil, errors.Wrapf(btcontrol.ErrInvalid, "%v is not an LE device", dev.Address())
	}

	s := &Session{
		cfg:      cfg,
		dev:      dev,
		listener: l,
		log:      lg.ChildLogger(map[string]interface{}{"remote": dev.ID()}),
		name:     dev.Name(),
		keys:     newKeyQueue(cfg.Pool),
	}
	if err := dev.SetCallback(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) Name() string           { return s.name }
func (s *Session) Device() *device.Device { return s.dev }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Profile is the discovered attribute database, nil before discovery.
func (s *Session) Profile() *gatt.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// SetKeyHandler sets where key events go; nil drops them.
func (s *Session) SetKeyHandler(h keymap.InputHandler) {
	s.keys.setHandler(h)
}

// transition moves from one of the from states to to.
func (s *Session) transition(to State, from ...State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range from {
		if s.state == f {
			s.log.Debugf("%v -> %v", s.state, to)
			s.state = to
			return true
		}
	}
	return false
}

// Open starts the session: securing, discovery and report enabling run on
// the worker pool.
func (s *Session) Open() error {
	if !s.transition(Securing, Idle) {
		return errors.Wrapf(btcontrol.ErrInProgress, "session is %v", s.State())
	}
	t := s.cfg.Pool.Submit(s.run)
	select {
	case <-t.Done():
		if !t.Ran() {
			s.transition(Idle, Securing)
			return errors.Wrap(btcontrol.ErrUnavailable, "worker pool closed")
		}
	default:
	}
	return nil
}

func (s *Session) run() {
	skt, err := s.cfg.Dial(s.dev.Address())
	if err != nil {
		s.log.Errorf("opening att channel: %v", err)
		s.transition(Idle, Securing)
		return
	}

	c := att.NewClient(skt, att.NotificationHandlerFunc(s.notification), s.cfg.Timeout, s.log)
	s.mu.Lock()
	if s.state != Securing {
		s.mu.Unlock()
		c.Close()
		return
	}
	s.client = c
	s.state = Discovering
	s.mu.Unlock()

	go c.Loop()
	go s.watch(c)

	if mtu, err := c.ExchangeMTU(rxMTU); err != nil {
		s.log.Warnf("mtu exchange: %v", err)
	} else {
		s.log.Debugf("server mtu %d", mtu)
	}

	p, err := s.discover(c)
	if err != nil {
		s.log.Errorf("the device could not be read for services: %v", err)
		s.reset(c)
		return
	}
	if p.FindService(gatt.HIDServiceUUID) == nil {
		s.log.Warn("the device does not support a HID service")
		s.reset(c)
		return
	}

	handles := p.CCCDs(reportConfig)
	if len(handles) == 0 {
		s.log.Warn("no input reports to enable")
		s.reset(c)
		return
	}

	s.mu.Lock()
	if s.state != Discovering {
		s.mu.Unlock()
		return
	}
	s.profile = p
	s.queue = handles
	s.state = EnablingReports
	s.mu.Unlock()

	s.enableNext()
}

// discover returns the cached profile of a bonded remote, or walks the
// server and caches the result.
func (s *Session) discover(c *att.Client) (*gatt.Profile, error) {
	bonded := s.dev.IsBonded()
	if s.cfg.Cache != nil && bonded {
		if p, err := s.cfg.Cache.Load(s.dev.Address()); err == nil {
			s.log.Debug("using cached profile")
			return p, nil
		}
	}
	p, err := gatt.DiscoverProfile(c, s.cfg.DiscoveryTimeout)
	if err != nil {
		return nil, err
	}
	if s.cfg.Cache != nil && bonded && p.FindService(gatt.HIDServiceUUID) != nil {
		s.cfg.Cache.Store(s.dev.Address(), p, true)
	}
	return p, nil
}

// reportConfig selects the descriptors enabling HID input reports and the
// vendor audio characteristics.
func reportConfig(sv *gatt.Service, c *gatt.Characteristic) bool {
	switch sv.UUID {
	case gatt.HIDServiceUUID:
		return c.UUID == gatt.HIDReportUUID
	case gatt.AudioServiceUUID:
		return c.UUID == gatt.AudioCommandUUID || c.UUID == gatt.AudioDataUUID
	}
	return false
}

// reset drops the bearer after a failed setup; the session can be opened
// again.
func (s *Session) reset(c *att.Client) {
	s.mu.Lock()
	if s.state == Disconnected {
		s.mu.Unlock()
		return
	}
	s.state = Idle
	s.client = nil
	s.mu.Unlock()
	c.Close()
}

// enableNext writes the next queued configuration descriptor. The write of
// one descriptor completes before the next is queued on the pool.
func (s *Session) enableNext() {
	s.mu.Lock()
	if s.state != EnablingReports {
		s.mu.Unlock()
		return
	}
	if len(s.queue) == 0 {
		s.state = Operational
		s.mu.Unlock()
		s.log.Info("remote control operational")
		if s.listener != nil {
			s.listener.RemoteConnected(s)
		}
		return
	}
	h := s.queue[0]
	c := s.client
	s.mu.Unlock()

	if err := c.Write(h, []byte{0x01, 0x00}); err != nil {
		s.log.Warnf("enabling reports on 0x%04x failed: %v", h, err)
	} else {
		s.log.Debugf("enabled reports on 0x%04x", h)
	}

	s.mu.Lock()
	if len(s.queue) > 0 && s.queue[0] == h {
		s.queue = s.queue[1:]
	}
	s.mu.Unlock()
	s.cfg.Pool.Submit(s.enableNext)
}

// Pending lists the descriptors not yet enabled.
func (s *Session) Pending() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint16(nil), s.queue...)
}

func (s *Session) watch(c *att.Client) {
	<-c.Done()
	s.mu.Lock()
	mine := s.client == c
	s.mu.Unlock()
	if mine {
		s.log.Infof("att channel closed: %v", c.Err())
		s.disconnect()
	}
}

func (s *Session) notification(pdu []byte) {
	if len(pdu) < 3 {
		s.log.Debugf("short notification % X", pdu)
		return
	}
	handle := binary.LittleEndian.Uint16(pdu[1:])
	value := pdu[3:]

	if handle != s.cfg.ReportHandle || len(value) < 2 {
		s.log.Debugf("unknown notification on 0x%04x: % X", handle, value)
		return
	}

	code := binary.LittleEndian.Uint16(value)
	pressed := code != 0

	s.mu.Lock()
	if pressed {
		s.current = code
	}
	key := s.current
	if !pressed {
		s.current = 0
	}
	s.mu.Unlock()

	if key == 0 {
		return
	}
	s.log.Debugf("key 0x%04x pressed=%v", key, pressed)
	s.keys.post(keyEvent{pressed: pressed, code: key, name: s.name})
}

// Updated follows the device: a lost link or a removed device ends the
// session.
func (s *Session) Updated(d device.Snapshot) {
	if !d.Valid || d.Handle == device.InvalidHandle {
		s.disconnect()
	}
}

// Close ends the session.
func (s *Session) Close() error {
	s.disconnect()
	return nil
}

func (s *Session) disconnect() {
	s.mu.Lock()
	if s.state == Disconnected {
		s.mu.Unlock()
		return
	}
	s.state = Disconnected
	c := s.client
	s.client = nil
	s.queue = nil
	s.mu.Unlock()

	if c != nil {
		c.Close()
	}
	s.keys.setHandler(nil)
	s.dev.SetCallback(nil)
	s.log.Info("remote control disconnected")
	if s.listener != nil {
		s.listener.RemoteDisconnected(s)
	}
}
