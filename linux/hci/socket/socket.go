// +build linux

package socket

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	solHCI         = 0
	hciFilter      = 2
	readTimeout    = 1000
	unixPollErrors = int16(unix.POLLHUP | unix.POLLNVAL | unix.POLLERR)
	unixPollDataIn = int16(unix.POLLIN)

	pktTypeEvent = 0x04
)

// Socket is a raw HCI socket bound to one adapter. The kernel keeps driving
// the adapter; the socket sees every event and may inject commands.
type Socket struct {
	fd   int
	rmu  sync.Mutex
	wmu  sync.Mutex
	done chan int
	cmu  sync.Mutex
}

// NewSocket returns a raw HCI socket of the specified device id, filtered to
// event packets.
func NewSocket(id uint16) (*Socket, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.BTPROTO_HCI)
	if err != nil {
		return nil, errors.Wrap(err, "can't create socket")
	}

	sa := unix.SockaddrHCI{Dev: id, Channel: unix.HCI_CHANNEL_RAW}
	if err := unix.Bind(fd, &sa); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "can't bind socket to hci%d", id)
	}

	if err := unix.SetsockoptString(fd, solHCI, hciFilter, string(eventFilter())); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "can't set hci filter")
	}

	return &Socket{fd: fd, done: make(chan int)}, nil
}

// eventFilter is struct hci_filter passing every event code and no data.
func eventFilter() []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint32(b[0:], 1<<pktTypeEvent)
	binary.LittleEndian.PutUint32(b[4:], 0xffffffff)
	binary.LittleEndian.PutUint32(b[8:], 0xffffffff)
	return b
}

func (s *Socket) Read(p []byte) (int, error) {
	if !s.isOpen() {
		return 0, io.EOF
	}

	var err error
	n := 0
	s.rmu.Lock()
	defer s.rmu.Unlock()
	// errors are reported without being asked for
	pfds := []unix.PollFd{{Fd: int32(s.fd), Events: unixPollDataIn}}
	if _, perr := unix.Poll(pfds, readTimeout); perr != nil && perr != unix.EINTR {
		return 0, errors.Wrap(perr, "can't poll hci socket")
	}
	evts := pfds[0].Revents

	switch {
	case evts&unixPollErrors != 0:
		return 0, io.EOF

	case evts&unixPollDataIn != 0:
		n, err = unix.Read(s.fd, p)

	default:
		// read timeout
		return 0, nil
	}

	// the poll may have outlived a Close
	if !s.isOpen() {
		return 0, io.EOF
	}
	return n, errors.Wrap(err, "can't read hci socket")
}

func (s *Socket) Write(p []byte) (int, error) {
	if !s.isOpen() {
		return 0, io.EOF
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	n, err := unix.Write(s.fd, p)
	return n, errors.Wrap(err, "can't write hci socket")
}

func (s *Socket) Close() error {
	s.cmu.Lock()
	defer s.cmu.Unlock()

	select {
	case <-s.done:
		return nil

	default:
		close(s.done)
		s.rmu.Lock()
		err := unix.Close(s.fd)
		s.rmu.Unlock()

		return errors.Wrap(err, "can't close hci socket")
	}
}

func (s *Socket) isOpen() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}
