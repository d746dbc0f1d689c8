// +build linux

package att

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/btcontrol"
	"golang.org/x/sys/unix"
)

const (
	cidATT = 4

	solBluetooth = 274
	btSecurity   = 4

	SecurityLow    = 1
	SecurityMedium = 2
	SecurityHigh   = 3

	readTimeout = 1000
)

// L2CAP is an LE L2CAP socket on the fixed ATT channel.
type L2CAP struct {
	fd   int
	rmu  sync.Mutex
	wmu  sync.Mutex
	cmu  sync.Mutex
	done chan struct{}
}

// DialL2CAP connects the ATT channel of the LE device at dst, applying the
// given BT_SECURITY level before the connect.
func DialL2CAP(dst btcontrol.Address, level uint8) (*L2CAP, error) {
	if !dst.Kind().IsLE() {
		return nil, errors.Wrapf(btcontrol.ErrInvalid, "%v is not an LE address", dst)
	}
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, unix.BTPROTO_L2CAP)
	if err != nil {
		return nil, errors.Wrap(err, "can't create l2cap socket")
	}

	// any local adapter, public address
	src := &unix.SockaddrL2{CID: cidATT, AddrType: btcontrol.LEPublic.MgmtType()}
	if err := unix.Bind(fd, src); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "can't bind l2cap socket")
	}

	if err := unix.SetsockoptString(fd, solBluetooth, btSecurity, string([]byte{level, 0})); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "can't set security level")
	}

	// SockaddrL2 takes the address most significant byte first
	sa := &unix.SockaddrL2{CID: cidATT, Addr: dst.Bytes(), AddrType: dst.Kind().MgmtType()}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "can't connect att channel of %v", dst)
	}
	return &L2CAP{fd: fd, done: make(chan struct{})}, nil
}

// Read returns one PDU, or 0, nil when nothing arrived within a second.
func (s *L2CAP) Read(p []byte) (int, error) {
	if !s.isOpen() {
		return 0, io.EOF
	}
	s.rmu.Lock()
	defer s.rmu.Unlock()

	pfds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
	if _, err := unix.Poll(pfds, readTimeout); err != nil && err != unix.EINTR {
		return 0, errors.Wrap(err, "can't poll l2cap socket")
	}
	switch ev := pfds[0].Revents; {
	case ev&(unix.POLLHUP|unix.POLLNVAL|unix.POLLERR) != 0:
		return 0, io.EOF
	case ev&unix.POLLIN == 0:
		return 0, nil
	}

	n, err := unix.Read(s.fd, p)
	if !s.isOpen() {
		return 0, io.EOF
	}
	if err != nil {
		return 0, errors.Wrap(err, "can't read l2cap socket")
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (s *L2CAP) Write(p []byte) (int, error) {
	if !s.isOpen() {
		return 0, io.EOF
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	n, err := unix.Write(s.fd, p)
	return n, errors.Wrap(err, "can't write l2cap socket")
}

func (s *L2CAP) Close() error {
	s.cmu.Lock()
	defer s.cmu.Unlock()
	if !s.isOpen() {
		return nil
	}
	close(s.done)
	s.rmu.Lock()
	err := unix.Close(s.fd)
	s.rmu.Unlock()
	return errors.Wrap(err, "can't close l2cap socket")
}

func (s *L2CAP) isOpen() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}
