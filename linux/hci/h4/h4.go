package h4

import (
	"io"
	"sync"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
	"github.com/rigado/btcontrol"
)

const (
	rxQueueSize = 64
	readTimeout = time.Second
)

var resetCommand = []byte{0x01, 0x03, 0x0c, 0x00}

// DefaultSerialOptions are the line settings of an H4 UART controller.
func DefaultSerialOptions(path string, baud uint) serial.OpenOptions {
	if baud == 0 {
		baud = 1000000
	}
	return serial.OpenOptions{
		PortName:              path,
		BaudRate:              baud,
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		RTSCTSFlowControl:     true,
		MinimumReadSize:       0,
		InterCharacterTimeout: 100,
	}
}

type h4 struct {
	sp  io.ReadWriteCloser
	log btcontrol.Logger
	wmu sync.Mutex

	rxQueue chan []byte

	done chan struct{}
	cmu  sync.Mutex
}

// NewSerial opens an H4 controller on a serial port. Each Read returns one
// complete HCI packet; a Read that times out returns 0, nil.
func NewSerial(opts serial.OpenOptions, l btcontrol.Logger) (io.ReadWriteCloser, error) {
	if l == nil {
		l = btcontrol.Component("h4")
	}
	// reads must return on timeout so Close can stop the rx loop
	opts.MinimumReadSize = 0
	if opts.InterCharacterTimeout == 0 {
		opts.InterCharacterTimeout = 100
	}

	sp, err := serial.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open %s", opts.PortName)
	}

	// flush whatever the controller had queued
	b := make([]byte, 2048)
	if _, err := sp.Write(resetCommand); err != nil {
		sp.Close()
		return nil, errors.Wrap(err, "can't write h4 reset")
	}
	<-time.After(250 * time.Millisecond)
	if _, err := sp.Read(b); err != nil && err != io.EOF {
		sp.Close()
		return nil, errors.Wrap(err, "can't flush h4")
	}

	l.Infof("opened %s at %d baud", opts.PortName, opts.BaudRate)
	h := &h4{
		sp:      sp,
		log:     l,
		done:    make(chan struct{}),
		rxQueue: make(chan []byte, rxQueueSize),
	}
	go h.rxLoop()
	return h, nil
}

func (h *h4) Read(p []byte) (int, error) {
	select {
	case <-h.done:
		return 0, io.EOF
	case t := <-h.rxQueue:
		if len(p) < len(t) {
			return 0, errors.Errorf("buffer too small: %d < %d", len(p), len(t))
		}
		return copy(p, t), nil
	case <-time.After(readTimeout):
		return 0, nil
	}
}

func (h *h4) Write(p []byte) (int, error) {
	if !h.isOpen() {
		return 0, io.EOF
	}

	h.wmu.Lock()
	defer h.wmu.Unlock()
	n, err := h.sp.Write(p)
	return n, errors.Wrap(err, "can't write h4")
}

func (h *h4) Close() error {
	h.cmu.Lock()
	defer h.cmu.Unlock()

	select {
	case <-h.done:
		return nil
	default:
		close(h.done)
		h.log.Debug("closing h4")
		return errors.Wrap(h.sp.Close(), "can't close h4")
	}
}

func (h *h4) isOpen() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *h4) rxLoop() {
	asm := newAssembler(func(p []byte) {
		select {
		case h.rxQueue <- p:
		case <-h.done:
		}
	})

	tmp := make([]byte, 512)
	for h.isOpen() {
		n, err := h.sp.Read(tmp)
		if err != nil && err != io.EOF {
			if h.isOpen() {
				h.log.Warnf("rx: %v", err)
				<-time.After(10 * time.Millisecond)
			}
			continue
		}
		asm.feed(tmp[:n])
		if asm.dropped != 0 {
			h.log.Debugf("rx: dropped %d bytes", asm.dropped)
			asm.dropped = 0
		}
	}
}
