package att

import (
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/btcontrol"
)

const defaultTimeout = 30 * time.Second

// NotificationHandler receives notifications and indications, opcode
// included. It runs on the client's read loop and must not issue requests.
type NotificationHandler interface {
	HandleNotification(pdu []byte)
}

// NotificationHandlerFunc adapts a function to NotificationHandler.
type NotificationHandlerFunc func(pdu []byte)

func (f NotificationHandlerFunc) HandleNotification(pdu []byte) { f(pdu) }

type pending struct {
	seq uint32
	op  byte
	ch  chan []byte
}

// Client is an Attribute Protocol client over one L2CAP ATT bearer. Requests
// are sequential: each waits for its response or the timeout before the next
// one is written.
type Client struct {
	l2c     io.ReadWriteCloser
	handler NotificationHandler
	timeout time.Duration
	log     btcontrol.Logger

	reqmu sync.Mutex // one outstanding request

	mu   sync.Mutex
	seq  uint32
	cur  *pending
	mtu  int
	err  error
	done chan struct{}
	once sync.Once
}

// NewClient returns a client; Loop must run for responses to arrive.
func NewClient(l2c io.ReadWriteCloser, h NotificationHandler, timeout time.Duration, l btcontrol.Logger) *Client {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	if l == nil {
		l = btcontrol.Component("att")
	}
	return &Client{
		l2c:     l2c,
		handler: h,
		timeout: timeout,
		log:     l,
		mtu:     DefaultMTU,
		done:    make(chan struct{}),
	}
}

// Done is closed when the bearer is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the bearer went away, if it did.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// MTU is the negotiated ATT MTU.
func (c *Client) MTU() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mtu
}

// Close shuts the bearer; Loop returns.
func (c *Client) Close() error {
	c.fail(btcontrol.ErrClosed)
	return nil
}

func (c *Client) fail(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		c.l2c.Close()
	})
}

// ExchangeMTU informs the server of the client's receive MTU and returns the
// server's. [Vol 3, Part F, 3.4.2.1]
func (c *Client) ExchangeMTU(rxMTU int) (int, error) {
	if rxMTU < DefaultMTU || rxMTU > MaxMTU {
		return 0, errors.Wrapf(btcontrol.ErrInvalid, "mtu %d", rxMTU)
	}
	req := []byte{ExchangeMTURequestCode, 0, 0}
	binary.LittleEndian.PutUint16(req[1:], uint16(rxMTU))

	rsp, err := c.sendReq(req)
	if err != nil {
		return 0, err
	}
	if len(rsp) != 3 {
		return 0, ErrInvalidResponse
	}
	srv := int(binary.LittleEndian.Uint16(rsp[1:]))
	mtu := srv
	if rxMTU < mtu {
		mtu = rxMTU
	}
	if mtu < DefaultMTU {
		mtu = DefaultMTU
	}
	c.mu.Lock()
	c.mtu = mtu
	c.mu.Unlock()
	return srv, nil
}

// FindInformation obtains the handles and types of the attributes in
// [start, end]. [Vol 3, Part F, 3.4.3.1]
func (c *Client) FindInformation(start, end uint16) ([]HandleInfo, error) {
	rsp, err := c.sendReq(handleRangeRequest(FindInformationRequestCode, start, end, nil))
	if err != nil {
		return nil, err
	}
	return parseInformation(rsp)
}

// ReadByType reads the attributes of the given type in [start, end].
// uuid is in wire order. [Vol 3, Part F, 3.4.4.1]
func (c *Client) ReadByType(start, end uint16, uuid []byte) ([]HandleValue, error) {
	rsp, err := c.sendReq(handleRangeRequest(ReadByTypeRequestCode, start, end, uuid))
	if err != nil {
		return nil, err
	}
	return parseHandleValues(rsp)
}

// ReadByGroupType reads the grouping attributes of the given type in
// [start, end]. [Vol 3, Part F, 3.4.4.9]
func (c *Client) ReadByGroupType(start, end uint16, uuid []byte) ([]GroupData, error) {
	rsp, err := c.sendReq(handleRangeRequest(ReadByGroupTypeRequestCode, start, end, uuid))
	if err != nil {
		return nil, err
	}
	return parseGroupData(rsp)
}

// Read reads the value of an attribute. [Vol 3, Part F, 3.4.4.3]
func (c *Client) Read(handle uint16) ([]byte, error) {
	req := []byte{ReadRequestCode, 0, 0}
	binary.LittleEndian.PutUint16(req[1:], handle)
	rsp, err := c.sendReq(req)
	if err != nil {
		return nil, err
	}
	return rsp[1:], nil
}

// Write writes an attribute value and waits for the acknowledgement.
// [Vol 3, Part F, 3.4.5.1]
func (c *Client) Write(handle uint16, value []byte) error {
	req := make([]byte, 3, 3+len(value))
	req[0] = WriteRequestCode
	binary.LittleEndian.PutUint16(req[1:], handle)
	req = append(req, value...)
	if len(req) > c.MTU() {
		return errors.Wrapf(btcontrol.ErrInvalid, "write of %d bytes exceeds mtu", len(value))
	}
	rsp, err := c.sendReq(req)
	if err != nil {
		return err
	}
	if len(rsp) != 1 {
		return ErrInvalidResponse
	}
	return nil
}

// WriteCommand writes an attribute value without acknowledgement.
func (c *Client) WriteCommand(handle uint16, value []byte) error {
	req := make([]byte, 3, 3+len(value))
	req[0] = WriteCommandCode
	binary.LittleEndian.PutUint16(req[1:], handle)
	req = append(req, value...)
	_, err := c.l2c.Write(req)
	return errors.Wrap(err, "send ATT command failed")
}

func (c *Client) sendReq(b []byte) ([]byte, error) {
	c.reqmu.Lock()
	defer c.reqmu.Unlock()

	select {
	case <-c.done:
		return nil, errors.Wrap(btcontrol.ErrUnavailable, "ATT bearer closed")
	default:
	}

	p := &pending{op: b[0], ch: make(chan []byte, 1)}
	c.mu.Lock()
	c.seq++
	p.seq = c.seq
	c.cur = p
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.cur == p {
			c.cur = nil
		}
		c.mu.Unlock()
	}()

	c.log.Debugf("req #%d % X", p.seq, b)
	if _, err := c.l2c.Write(b); err != nil {
		return nil, errors.Wrap(err, "send ATT request failed")
	}

	select {
	case rsp := <-p.ch:
		if err := check(p.op, rsp); err != nil {
			return nil, errors.Wrapf(err, "ATT request 0x%02x", p.op)
		}
		return rsp, nil
	case <-c.done:
		return nil, errors.Wrap(btcontrol.ErrUnavailable, "ATT request failed")
	case <-time.After(c.timeout):
		return nil, errors.Wrapf(btcontrol.ErrTimeout, "ATT request #%d: %v", p.seq, ErrSeqProtoTimeout)
	}
}

// deliver hands rsp to the outstanding request it answers. Responses to a
// request that already timed out find no taker and are dropped.
func (c *Client) deliver(rsp []byte) {
	c.mu.Lock()
	p := c.cur
	c.mu.Unlock()

	match := p != nil && (rsp[0] == rspOfReq[p.op] ||
		(rsp[0] == ErrorResponseCode && len(rsp) >= 2 && rsp[1] == p.op))
	if !match {
		c.log.Debugf("dropping unexpected response % X", rsp)
		return
	}
	select {
	case p.ch <- rsp:
	default:
	}
}

// Loop reads the bearer until it fails or the client is closed.
func (c *Client) Loop() {
	confirmation := []byte{HandleValueConfirmationCode}
	buf := make([]byte, MaxMTU)
	for {
		n, err := c.l2c.Read(buf)
		if err != nil {
			c.fail(errors.Wrap(err, "ATT bearer"))
			return
		}
		if n == 0 {
			select {
			case <-c.done:
				return
			default:
				continue
			}
		}

		b := make([]byte, n)
		copy(b, buf)
		c.log.Debugf("rsp % X", b)

		switch b[0] {
		case HandleValueNotificationCode, HandleValueIndicationCode:
			if c.handler != nil {
				c.handler.HandleNotification(b)
			}
			// an indication is always acknowledged, even a malformed one
			if b[0] == HandleValueIndicationCode {
				if _, err := c.l2c.Write(confirmation); err != nil {
					c.log.Warnf("confirmation: %v", err)
				}
			}

		case HandleValueConfirmationCode:

		default:
			if b[0]&0x01 == 0 && b[0] != ErrorResponseCode {
				// a request from the server; this client serves nothing
				c.refuse(b[0])
				continue
			}
			c.deliver(b)
		}
	}
}

func (c *Client) refuse(op byte) {
	if op&0x40 != 0 {
		return // commands get no response
	}
	rsp := []byte{ErrorResponseCode, op, 0, 0, byte(ErrReqNotSupp)}
	if _, err := c.l2c.Write(rsp); err != nil {
		c.log.Warnf("refuse 0x%02x: %v", op, err)
	}
}
