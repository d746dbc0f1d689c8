package mgmt

import (
	"encoding/binary"
	"encoding/hex"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/btcontrol"
	"github.com/rigado/btcontrol/keys"
)

const (
	defaultTimeout     = 2 * time.Second
	defaultPairTimeout = 30 * time.Second
	maxNameLength      = 249
	maxShortNameLength = 11
)

// Handler receives the asynchronous events of one adapter index. It is called
// from the read loop and must not issue management commands synchronously.
type Handler interface {
	ControllerError(code uint8)
	DeviceConnected(ev DeviceConnected)
	DeviceDisconnected(ev DeviceDisconnected)
	ConnectFailed(a btcontrol.Address, status uint8)
	AuthFailed(a btcontrol.Address, status uint8)
	PairComplete(a btcontrol.Address, err error)

	NewLinkKey(k keys.LinkKey)
	NewLongTermKey(k keys.LongTermKey)
	NewIRK(rpa btcontrol.Address, k keys.IdentityKey)
	NewCSRK(k keys.SignatureKey)
	NewConnParam(ev NewConnParam)
}

// Config configures a Channel.
type Config struct {
	Index       uint16
	Timeout     time.Duration
	PairTimeout time.Duration
	Logger      btcontrol.Logger

	// IOCapability is announced for pairings the remote side starts.
	IOCapability Capability

	// Dial opens the transport; NewSocket when nil.
	Dial func() (io.ReadWriteCloser, error)
}

type session struct {
	skt    io.ReadWriteCloser
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

func (s *session) stop() {
	s.once.Do(func() {
		close(s.done)
		s.skt.Close()
	})
}

func (s *session) alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Channel drives the management interface for one adapter index.
type Channel struct {
	cfg     Config
	log     btcontrol.Logger
	handler Handler

	mu     sync.Mutex
	ses    *session
	manage bool

	muSent sync.Mutex
	sent   map[uint16]chan CommandComplete
}

// NewChannel returns a closed channel.
func NewChannel(cfg Config, h Handler) *Channel {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PairTimeout == 0 {
		cfg.PairTimeout = defaultPairTimeout
	}
	if cfg.Dial == nil {
		cfg.Dial = func() (io.ReadWriteCloser, error) { return NewSocket() }
	}
	l := cfg.Logger
	if l == nil {
		l = btcontrol.Component("mgmt")
	}
	return &Channel{
		cfg:     cfg,
		log:     l.ChildLogger(map[string]interface{}{"index": cfg.Index}),
		handler: h,
		sent:    make(map[uint16]chan CommandComplete),
	}
}

// Index is the adapter index this channel serves.
func (c *Channel) Index() uint16 { return c.cfg.Index }

// IsOpen reports whether the channel has a live socket.
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ses != nil && c.ses.alive()
}

// Open binds the socket and starts the read loop. With manage set the
// adapter is configured and powered up. Opening an open channel is a no-op.
func (c *Channel) Open(manage bool, name, short string) error {
	c.mu.Lock()
	if c.ses != nil && c.ses.alive() {
		c.mu.Unlock()
		return nil
	}

	skt, err := c.cfg.Dial()
	if err != nil {
		c.mu.Unlock()
		return errors.Wrapf(btcontrol.ErrUnavailable, "mgmt socket: %v", err)
	}
	ses := &session{skt: skt, done: make(chan struct{}), exited: make(chan struct{})}
	c.ses = ses
	c.manage = manage
	c.mu.Unlock()

	go c.readLoop(ses)

	if !manage {
		return nil
	}

	if err := c.up(name, short); err != nil {
		c.log.Errorf("adapter setup failed: %v", err)
		c.shutdown(false)
		return err
	}
	return nil
}

func (c *Channel) up(name, short string) error {
	if name != "" {
		if err := c.SetLocalName(name, short); err != nil {
			return err
		}
	}
	if err := c.SetIOCapability(c.cfg.IOCapability); err != nil {
		return err
	}
	for _, op := range []uint16{OpSetSSP, OpSetLE, OpSetBondable, OpSetConnectable, OpSetPowered} {
		if err := c.setting(op, true); err != nil {
			return err
		}
	}
	c.log.Info("adapter powered up")
	return nil
}

// Close powers the adapter down when it is managed here, then stops the read
// loop. Closing a closed channel is a no-op.
func (c *Channel) Close() error {
	return c.shutdown(true)
}

func (c *Channel) shutdown(down bool) error {
	c.mu.Lock()
	ses, manage := c.ses, c.manage
	c.mu.Unlock()
	if ses == nil {
		return nil
	}

	if down && manage && ses.alive() {
		if err := c.setting(OpSetPowered, false); err != nil {
			c.log.Warnf("power down: %v", err)
		}
	}

	c.mu.Lock()
	c.ses = nil
	c.mu.Unlock()

	ses.stop()
	<-ses.exited
	return nil
}

func (c *Channel) current() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ses == nil || !c.ses.alive() {
		return nil, errors.Wrap(btcontrol.ErrUnavailable, "mgmt channel closed")
	}
	return c.ses, nil
}

// send writes a command and waits for its completion. One command per opcode
// may be outstanding.
func (c *Channel) send(index, op uint16, params []byte, timeout time.Duration) (CommandComplete, error) {
	ses, err := c.current()
	if err != nil {
		return CommandComplete{}, err
	}

	ch := make(chan CommandComplete, 1)
	c.muSent.Lock()
	if _, ok := c.sent[op]; ok {
		c.muSent.Unlock()
		return CommandComplete{}, errors.Wrapf(btcontrol.ErrInProgress, "mgmt command 0x%04x pending", op)
	}
	c.sent[op] = ch
	c.muSent.Unlock()

	defer func() {
		c.muSent.Lock()
		delete(c.sent, op)
		c.muSent.Unlock()
	}()

	pkt := Packet(op, index, params)
	c.log.Debugf("mgmt < % X", pkt)
	if _, err := ses.skt.Write(pkt); err != nil {
		return CommandComplete{}, errors.Wrapf(btcontrol.ErrUnavailable, "write: %v", err)
	}

	select {
	case rsp := <-ch:
		return rsp, statusError(op, rsp.Status)
	case <-time.After(timeout):
		return CommandComplete{}, errors.Wrapf(btcontrol.ErrTimeout, "mgmt command 0x%04x", op)
	case <-ses.done:
		return CommandComplete{}, errors.Wrap(btcontrol.ErrUnavailable, "mgmt channel closed")
	}
}

func statusError(op uint16, status uint8) error {
	switch status {
	case StatusSuccess:
		return nil
	case StatusAlreadyPaired, StatusAlreadyConnected:
		return errors.Wrapf(btcontrol.ErrAlreadyConnected, "mgmt command 0x%04x", op)
	case StatusNotPaired:
		return errors.Wrapf(btcontrol.ErrAlreadyReleased, "mgmt command 0x%04x", op)
	case StatusBusy:
		return errors.Wrapf(btcontrol.ErrInProgress, "mgmt command 0x%04x", op)
	case StatusTimeout:
		return errors.Wrapf(btcontrol.ErrTimeout, "mgmt command 0x%04x", op)
	case StatusInvalidParams:
		return errors.Wrapf(btcontrol.ErrInvalid, "mgmt command 0x%04x", op)
	default:
		return StatusError{Opcode: op, Status: status}
	}
}

func (c *Channel) setting(op uint16, on bool) error {
	v := byte(0)
	if on {
		v = 1
	}
	_, err := c.send(c.cfg.Index, op, []byte{v}, c.cfg.Timeout)
	return err
}

// SetLocalName sets the complete and shortened names; both are truncated to
// what the kernel accepts.
func (c *Channel) SetLocalName(name, short string) error {
	p := make([]byte, maxNameLength+maxShortNameLength)
	copy(p[:maxNameLength-1], name)
	copy(p[maxNameLength:maxNameLength+maxShortNameLength-1], short)
	_, err := c.send(c.cfg.Index, OpSetLocalName, p, c.cfg.Timeout)
	return err
}

// SetIOCapability sets the default IO capability used for incoming pairing.
func (c *Channel) SetIOCapability(capability Capability) error {
	_, err := c.send(c.cfg.Index, OpSetIOCapability, []byte{byte(capability)}, c.cfg.Timeout)
	return err
}

// Pair asks the kernel to pair with a. The call returns once the kernel
// accepted or finished the request; keys arrive as separate events.
func (c *Channel) Pair(a btcontrol.Address, capability Capability) error {
	p := make([]byte, addrInfoSize+1)
	putAddrInfo(p, a)
	p[addrInfoSize] = byte(capability)
	_, err := c.send(c.cfg.Index, OpPairDevice, p, c.cfg.PairTimeout)
	return err
}

// Unpair removes the kernel's keys for a and drops the link.
func (c *Channel) Unpair(a btcontrol.Address) error {
	p := make([]byte, addrInfoSize+1)
	putAddrInfo(p, a)
	p[addrInfoSize] = 1 // disconnect
	_, err := c.send(c.cfg.Index, OpUnpairDevice, p, c.cfg.Timeout)
	return err
}

func records(kk []keys.Key) ([]byte, error) {
	var out []byte
	for _, k := range kk {
		b, err := k.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

func counted(n int, body []byte) []byte {
	p := make([]byte, 2, 2+len(body))
	binary.LittleEndian.PutUint16(p, uint16(n))
	return append(p, body...)
}

// LoadLinkKeys replaces the kernel's BR/EDR link keys.
func (c *Channel) LoadLinkKeys(lk []keys.LinkKey) error {
	kk := make([]keys.Key, len(lk))
	for i := range lk {
		kk[i] = lk[i]
	}
	body, err := records(kk)
	if err != nil {
		return err
	}
	p := append([]byte{0}, counted(len(lk), body)...) // debug keys off
	_, err = c.send(c.cfg.Index, OpLoadLinkKeys, p, c.cfg.Timeout)
	return err
}

// LoadLongTermKeys replaces the kernel's LE long term keys.
func (c *Channel) LoadLongTermKeys(lk []keys.LongTermKey) error {
	kk := make([]keys.Key, len(lk))
	for i := range lk {
		kk[i] = lk[i]
	}
	body, err := records(kk)
	if err != nil {
		return err
	}
	_, err = c.send(c.cfg.Index, OpLoadLongTermKeys, counted(len(lk), body), c.cfg.Timeout)
	return err
}

// LoadIRKs replaces the kernel's identity resolving keys.
func (c *Channel) LoadIRKs(lk []keys.IdentityKey) error {
	kk := make([]keys.Key, len(lk))
	for i := range lk {
		kk[i] = lk[i]
	}
	body, err := records(kk)
	if err != nil {
		return err
	}
	_, err = c.send(c.cfg.Index, OpLoadIRKs, counted(len(lk), body), c.cfg.Timeout)
	return err
}

func (c *Channel) readLoop(ses *session) {
	defer close(ses.exited)

	b := make([]byte, 4096)
	for {
		n, err := ses.skt.Read(b)
		switch {
		case n == 0 && err == nil:
			if !ses.alive() {
				return
			}
			continue

		case err != nil:
			if ses.alive() {
				c.log.Errorf("read: %v", err)
				ses.stop()
			}
			return
		}

		p := make([]byte, n)
		copy(p, b)
		c.handlePkt(p)
	}
}

func (c *Channel) handlePkt(b []byte) {
	h, payload, err := ParsePacket(b)
	if err != nil {
		c.log.Warnf("dropping packet: %v", err)
		return
	}
	if h.Index != c.cfg.Index && h.Index != IndexNone {
		return
	}

	ev, err := Decode(h.Code, payload)
	if err != nil {
		c.log.Warnf("event 0x%04x: %v", h.Code, err)
		return
	}

	switch e := ev.(type) {
	case CommandComplete:
		c.complete(e)
	case CommandStatus:
		c.complete(CommandComplete{Opcode: e.Opcode, Status: e.Status})
	case ControllerError:
		c.log.Errorf("controller error 0x%02x", e.Code)
		c.handler.ControllerError(e.Code)
	case DeviceConnected:
		c.handler.DeviceConnected(e)
	case DeviceDisconnected:
		c.handler.DeviceDisconnected(e)
	case ConnectFailed:
		c.handler.ConnectFailed(e.Addr, e.Status)
	case AuthFailed:
		c.handler.AuthFailed(e.Addr, e.Status)
	case NewLinkKey:
		if c.storable("link key", e.Store, e.Key.Addr) {
			c.handler.NewLinkKey(e.Key)
		}
	case NewLongTermKey:
		if c.storable("long term key", e.Store, e.Key.Addr) {
			c.handler.NewLongTermKey(e.Key)
		}
	case NewIRK:
		if c.storable("identity key", e.Store, e.Key.Addr) {
			c.handler.NewIRK(e.RPA, e.Key)
		}
	case NewCSRK:
		if c.storable("signature key", e.Store, e.Key.Addr) {
			c.handler.NewCSRK(e.Key)
		}
	case NewConnParam:
		c.handler.NewConnParam(e)
	case nil:
		c.log.Debugf("unhandled event 0x%04x:\n%s", h.Code, hex.Dump(payload))
	}
}

func (c *Channel) storable(what string, hint bool, a btcontrol.Address) bool {
	if !hint {
		c.log.Infof("%s for %v not marked for storage", what, a)
	}
	return hint
}

func (c *Channel) complete(rsp CommandComplete) {
	c.muSent.Lock()
	ch, ok := c.sent[rsp.Opcode]
	c.muSent.Unlock()

	if ok {
		select {
		case ch <- rsp:
		default:
		}
		return
	}

	// pairing can outlive the request that started it
	if rsp.Opcode == OpPairDevice && len(rsp.Params) >= addrInfoSize {
		a, err := addrInfo(rsp.Params)
		if err == nil {
			c.handler.PairComplete(a, statusError(rsp.Opcode, rsp.Status))
			return
		}
	}
	c.log.Debugf("unsolicited completion for 0x%04x status 0x%02x", rsp.Opcode, rsp.Status)
}
