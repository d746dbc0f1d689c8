// Package hci drives the HCI control channel of one adapter: commands out,
// events in, and the discovery and link-setup operations built on them.
package hci

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/btcontrol"
	"github.com/rigado/btcontrol/linux/hci/cmd"
	"github.com/rigado/btcontrol/linux/hci/evt"
	"github.com/rigado/btcontrol/worker"
)

const (
	defaultTimeout = 3 * time.Second
	rxQueueSize    = 16
)

// Command ...
type Command interface {
	OpCode() int
	Len() int
	Marshal([]byte) error
}

type handlerFn func(b []byte) error

// Connection carries the fields of a (LE) Connection Complete or a LE
// Connection Update Complete event.
type Connection struct {
	Status   uint8
	Handle   uint16
	Addr     btcontrol.Address
	Role     uint8
	Interval uint16
	Latency  uint16
	Timeout  uint16
}

// Listener receives decoded events. It is called from the event loop and
// must not issue HCI commands synchronously.
type Listener interface {
	Discovered(lowEnergy bool, a btcontrol.Address, name string)
	ConnectionComplete(c Connection)
	ConnectionUpdate(c Connection)
	DisconnectionComplete(handle uint16, reason uint8)
	Features(handle uint16, features []byte)
	Capabilities(a btcontrol.Address, capability, oob, auth uint8)
	RemoteName(a btcontrol.Address, name string)
	ScanCompleted(lowEnergy bool)
}

// Config configures a Channel.
type Config struct {
	Timeout time.Duration
	Logger  btcontrol.Logger

	// Exclusive is set when no kernel stack drives the controller: the
	// channel then resets it on open and reads remote features itself.
	Exclusive bool

	Dial func() (io.ReadWriteCloser, error)
}

type session struct {
	skt     io.ReadWriteCloser
	closing chan struct{}
	done    chan struct{}
	exited  chan struct{}
	oHalt   sync.Once
	oStop   sync.Once
}

func newSession(skt io.ReadWriteCloser) *session {
	return &session{
		skt:     skt,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
}

// halt wakes blocking operations; the socket stays usable.
func (s *session) halt() {
	s.oHalt.Do(func() { close(s.closing) })
}

func (s *session) stop() {
	s.halt()
	s.oStop.Do(func() {
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

// Channel is the HCI control channel.
type Channel struct {
	cfg      Config
	log      btcontrol.Logger
	listener Listener
	pool     *worker.Pool
	params   params

	mu  sync.Mutex
	ses *session

	muSent sync.Mutex
	sent   map[int]chan []byte

	evth map[int]handlerFn
	subh map[int]handlerFn

	scan *ScanJob

	muInq   sync.Mutex
	inquiry chan struct{}

	muLE     sync.Mutex
	leFilter *leFilter
}

// NewChannel returns a closed channel. Scans and follow-up commands run on
// pool.
func NewChannel(cfg Config, pool *worker.Pool, l Listener) *Channel {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	lg := cfg.Logger
	if lg == nil {
		lg = btcontrol.Component("hci")
	}
	if cfg.Dial == nil {
		cfg.Dial = func() (io.ReadWriteCloser, error) { return TransportHCISocket(0).Dial(lg) }
	}

	h := &Channel{
		cfg:      cfg,
		log:      lg,
		listener: l,
		pool:     pool,
		sent:     make(map[int]chan []byte),
		evth:     map[int]handlerFn{},
		subh:     map[int]handlerFn{},
	}
	h.params.init()
	h.scan = NewScanJob(pool, h.runScan, func(r ScanRequest) { h.listener.ScanCompleted(r.LowEnergy) })

	h.evth[evt.CommandCompleteCode] = h.handleCommandComplete
	h.evth[evt.CommandStatusCode] = h.handleCommandStatus
	h.evth[evt.InquiryCompleteCode] = h.handleInquiryComplete
	h.evth[evt.InquiryResultCode] = h.handleInquiryResult
	h.evth[evt.InquiryResultWithRSSICode] = h.handleInquiryResultWithRSSI
	h.evth[evt.ExtendedInquiryResultCode] = h.handleExtendedInquiryResult
	h.evth[evt.ConnectionCompleteCode] = h.handleConnectionComplete
	h.evth[evt.DisconnectionCompleteCode] = h.handleDisconnectionComplete
	h.evth[evt.RemoteNameRequestCompleteCode] = h.handleRemoteNameRequestComplete
	h.evth[evt.ReadRemoteSupportedFeaturesCompleteCode] = h.handleReadRemoteSupportedFeaturesComplete
	h.evth[evt.IOCapabilityResponseCode] = h.handleIOCapabilityResponse
	h.evth[evt.LEMetaCode] = h.handleLEMeta

	h.subh[evt.LEConnectionCompleteSubCode] = h.handleLEConnectionComplete
	h.subh[evt.LEAdvertisingReportSubCode] = h.handleLEAdvertisingReport
	h.subh[evt.LEConnectionUpdateCompleteSubCode] = h.handleLEConnectionUpdateComplete
	h.subh[evt.LEReadRemoteUsedFeaturesCompleteSubCode] = h.handleLEReadRemoteUsedFeaturesComplete
	return h
}

// IsOpen reports whether the channel has a live transport.
func (h *Channel) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ses != nil && h.ses.alive()
}

// Open dials the transport and starts the event loop. Opening an open channel
// is a no-op.
func (h *Channel) Open() error {
	h.mu.Lock()
	if h.ses != nil && h.ses.alive() {
		h.mu.Unlock()
		return nil
	}
	skt, err := h.cfg.Dial()
	if err != nil {
		h.mu.Unlock()
		return errors.Wrapf(btcontrol.ErrUnavailable, "hci transport: %v", err)
	}
	ses := newSession(skt)
	h.ses = ses
	h.mu.Unlock()

	rx := make(chan []byte, rxQueueSize)
	go h.sktReadLoop(ses, rx)
	go h.sktProcessLoop(ses, rx)

	if h.cfg.Exclusive {
		if err := h.init(); err != nil {
			h.log.Errorf("controller init failed: %v", err)
			h.Close()
			return err
		}
	}
	return nil
}

func (h *Channel) init() error {
	h.log.Info("hci reset")
	if _, err := h.Send(&cmd.Reset{}); err != nil {
		return err
	}
	if _, err := h.Send(&cmd.SetEventMask{EventMask: 0x3dbff807fffbffff}); err != nil {
		return err
	}
	_, err := h.Send(&cmd.LESetEventMask{LEEventMask: 0x000000000000001F})
	return err
}

// Close stops a running scan, waits for it to return, then closes the
// transport. Closing a closed channel is a no-op.
func (h *Channel) Close() error {
	h.mu.Lock()
	ses := h.ses
	h.mu.Unlock()
	if ses == nil {
		return nil
	}

	ses.halt()
	h.scan.Revoke()

	h.mu.Lock()
	if h.ses == ses {
		h.ses = nil
	}
	h.mu.Unlock()

	ses.stop()
	<-ses.exited
	return nil
}

func (h *Channel) current() (*session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ses == nil || !h.ses.alive() {
		return nil, errors.Wrap(btcontrol.ErrUnavailable, "hci channel closed")
	}
	return h.ses, nil
}

// Send writes c and waits for its Command Status or Command Complete event.
// It returns the return parameters; a non-zero status is an ErrCommand.
// One command per opcode may be outstanding.
func (h *Channel) Send(c Command) ([]byte, error) {
	ses, err := h.current()
	if err != nil {
		return nil, err
	}

	op := c.OpCode()
	ch := make(chan []byte, 1)
	h.muSent.Lock()
	if _, ok := h.sent[op]; ok {
		h.muSent.Unlock()
		return nil, errors.Wrapf(btcontrol.ErrInProgress, "hci command 0x%04x pending", op)
	}
	h.sent[op] = ch
	h.muSent.Unlock()

	// clear sent table when done, late completions for this opcode are dropped
	defer func() {
		h.muSent.Lock()
		delete(h.sent, op)
		h.muSent.Unlock()
	}()

	b := make([]byte, 4+c.Len())
	b[0] = PktTypeCommand
	b[1] = byte(op)
	b[2] = byte(op >> 8)
	b[3] = byte(c.Len())
	if err := c.Marshal(b[4:]); err != nil {
		return nil, errors.Wrapf(btcontrol.ErrInvalid, "hci command 0x%04x: %v", op, err)
	}

	h.log.Debugf("hci < % X", b)
	if _, err := ses.skt.Write(b); err != nil {
		return nil, errors.Wrapf(btcontrol.ErrUnavailable, "write: %v", err)
	}

	select {
	case rp := <-ch:
		if len(rp) > 0 && rp[0] != 0x00 {
			return rp, errors.Wrapf(ErrCommand(rp[0]), "hci command 0x%04x", op)
		}
		return rp, nil
	case <-time.After(h.cfg.Timeout):
		return nil, errors.Wrapf(btcontrol.ErrTimeout, "hci command 0x%04x", op)
	case <-ses.done:
		return nil, errors.Wrap(btcontrol.ErrUnavailable, "hci channel closed")
	}
}

// sendAsync issues c from the pool; used from the event loop, which cannot
// wait for its own completion events.
func (h *Channel) sendAsync(c Command) {
	h.pool.Submit(func() {
		if _, err := h.Send(c); err != nil {
			h.log.Warnf("hci command 0x%04x: %v", c.OpCode(), err)
		}
	})
}

func (h *Channel) sktReadLoop(ses *session, rx chan<- []byte) {
	defer close(rx)

	b := make([]byte, 4096)
	for {
		n, err := ses.skt.Read(b)

		switch {
		case n == 0 && err == nil:
			// read timeout
			if !ses.alive() {
				return
			}

		case err == io.EOF:
			return

		case err != nil:
			if ses.alive() {
				h.log.Errorf("skt read error: %v", err)
			}
			return

		default:
			p := make([]byte, n)
			copy(p, b)
			select {
			case rx <- p:
			case <-ses.done:
				return
			}
		}
	}
}

func (h *Channel) sktProcessLoop(ses *session, rx <-chan []byte) {
	defer close(ses.exited)
	// a dead transport closes the channel
	defer ses.stop()

	for p := range rx {
		if err := h.handlePkt(p); err != nil {
			h.log.Warnf("skt: %v", err)
		}
	}
	if ses.alive() {
		h.log.Error("hci transport closed")
	}
}

func (h *Channel) handlePkt(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	// Strip the 1-byte HCI header and pass down the rest of the packet.
	t, b := b[0], b[1:]
	switch t {
	case PktTypeEvent:
		return h.handleEvt(b)
	case PktTypeACLData, PktTypeSCOData, PktTypeCommand:
		// the kernel owns data links; commands are echoes on a raw socket
		return nil
	case PktTypeVendor:
		h.log.Debugf("vendor packet: % X", b)
		return nil
	default:
		return errors.Errorf("invalid packet: 0x%02X % X", t, b)
	}
}

func (h *Channel) handleEvt(b []byte) error {
	if len(b) < 2 {
		return errors.Errorf("short event packet: % X", b)
	}
	code, plen := int(b[0]), int(b[1])
	if plen != len(b[2:]) {
		return errors.Errorf("invalid event packet: % X", b)
	}

	if f := h.evth[code]; f != nil {
		return errors.Wrapf(f(b[2:]), "event 0x%02x", code)
	}
	if code != evt.VendorCode {
		h.log.Debugf("unhandled event 0x%02x: % X", code, b[2:])
	}
	return nil
}

func (h *Channel) handleLEMeta(b []byte) error {
	if len(b) == 0 {
		return errors.New("empty LE meta event")
	}
	if f := h.subh[int(b[0])]; f != nil {
		return f(b)
	}
	h.log.Debugf("unhandled LE event: % X", b)
	return nil
}

func (h *Channel) deliver(op uint16, rp []byte) {
	h.muSent.Lock()
	ch, ok := h.sent[int(op)]
	h.muSent.Unlock()
	if !ok {
		// a command the kernel issued on the shared controller
		return
	}
	select {
	case ch <- rp:
	default:
	}
}

func (h *Channel) handleCommandComplete(b []byte) error {
	e := evt.CommandComplete(b)
	op, err := e.CommandOpcodeWErr()
	if err != nil {
		return err
	}
	rp, err := e.ReturnParametersWErr()
	if err != nil {
		return err
	}
	if op == 0 {
		// credit only
		return nil
	}
	ogf, ocf := evt.SplitOpcode(op)
	h.log.Debugf("command complete ogf 0x%02x ocf 0x%03x", ogf, ocf)
	h.deliver(op, rp)
	return nil
}

func (h *Channel) handleCommandStatus(b []byte) error {
	e := evt.CommandStatus(b)
	status, err := e.StatusWErr()
	if err != nil {
		return err
	}
	op, err := e.CommandOpcodeWErr()
	if err != nil {
		return err
	}
	if op == 0 {
		return nil
	}
	ogf, ocf := evt.SplitOpcode(op)
	h.log.Debugf("command status 0x%02x ogf 0x%02x ocf 0x%03x", status, ogf, ocf)
	h.deliver(op, []byte{status})
	return nil
}
