package att

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/btcontrol"
	"github.com/rigado/btcontrol/internal/fakesock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, h NotificationHandler, timeout time.Duration) (*Client, *fakesock.Socket) {
	skt := fakesock.New()
	c := NewClient(skt, h, timeout, btcontrol.DiscardLogger())
	go c.Loop()
	t.Cleanup(func() { c.Close() })
	return c, skt
}

type result struct {
	v   interface{}
	err error
}

func TestExchangeMTU(t *testing.T) {
	c, skt := newClient(t, nil, time.Second)

	res := make(chan result, 1)
	go func() {
		v, err := c.ExchangeMTU(185)
		res <- result{v, err}
	}()

	req, ok := skt.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, []byte{0x02, 0xb9, 0x00}, req)
	skt.Inject([]byte{0x03, 0x40, 0x00})

	r := <-res
	require.NoError(t, r.err)
	assert.Equal(t, 64, r.v)
	assert.Equal(t, 64, c.MTU())
}

func TestReadByGroupType(t *testing.T) {
	c, skt := newClient(t, nil, time.Second)

	res := make(chan result, 1)
	go func() {
		v, err := c.ReadByGroupType(0x0001, 0xffff, []byte{0x00, 0x28})
		res <- result{v, err}
	}()

	req, _ := skt.Next(time.Second)
	assert.Equal(t, []byte{0x10, 0x01, 0x00, 0xff, 0xff, 0x00, 0x28}, req)
	skt.Inject([]byte{0x11, 0x06,
		0x01, 0x00, 0x07, 0x00, 0x00, 0x18,
		0x08, 0x00, 0x40, 0x00, 0x12, 0x18,
	})

	r := <-res
	require.NoError(t, r.err)
	assert.Equal(t, []GroupData{
		{Handle: 0x01, EndHandle: 0x07, Value: []byte{0x00, 0x18}},
		{Handle: 0x08, EndHandle: 0x40, Value: []byte{0x12, 0x18}},
	}, r.v)
}

func TestErrorResponse(t *testing.T) {
	c, skt := newClient(t, nil, time.Second)

	res := make(chan result, 1)
	go func() {
		v, err := c.FindInformation(0x41, 0xffff)
		res <- result{v, err}
	}()

	skt.Next(time.Second)
	skt.Inject([]byte{0x01, 0x04, 0x41, 0x00, 0x0a})

	r := <-res
	require.Error(t, r.err)
	assert.True(t, IsNotFound(r.err))
	assert.Equal(t, ErrAttrNotFound, errors.Cause(r.err))
}

func TestRequestTimeout(t *testing.T) {
	c, skt := newClient(t, nil, 50*time.Millisecond)

	err := c.Write(0x35, []byte{0x01, 0x00})
	assert.True(t, btcontrol.Is(err, btcontrol.ErrTimeout))
	skt.Next(time.Second)

	// the late answer to the first write must not complete the second
	skt.Inject([]byte{0x13})
	time.Sleep(30 * time.Millisecond)

	res := make(chan error, 1)
	go func() { res <- c.Write(0x39, []byte{0x01, 0x00}) }()
	req, _ := skt.Next(time.Second)
	assert.Equal(t, []byte{0x12, 0x39, 0x00, 0x01, 0x00}, req)

	select {
	case err := <-res:
		t.Fatalf("write completed early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	skt.Inject([]byte{0x13})
	assert.NoError(t, <-res)
}

func TestMismatchedResponse(t *testing.T) {
	c, skt := newClient(t, nil, 100*time.Millisecond)

	res := make(chan error, 1)
	go func() { res <- c.Write(0x35, []byte{0x01, 0x00}) }()
	skt.Next(time.Second)
	skt.Inject([]byte{0x0b, 0x01})
	assert.True(t, btcontrol.Is(<-res, btcontrol.ErrTimeout))
}

func TestNotificationsAndIndications(t *testing.T) {
	got := make(chan []byte, 2)
	_, skt := newClient(t, NotificationHandlerFunc(func(b []byte) { got <- b }), time.Second)

	skt.Inject([]byte{0x1b, 0x34, 0x00, 0x28, 0x00})
	assert.Equal(t, []byte{0x1b, 0x34, 0x00, 0x28, 0x00}, <-got)

	skt.Inject([]byte{0x1d, 0x20, 0x00, 0x01})
	assert.Equal(t, []byte{0x1d, 0x20, 0x00, 0x01}, <-got)
	confirm, ok := skt.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, []byte{0x1e}, confirm)
}

func TestServerRequestRefused(t *testing.T) {
	_, skt := newClient(t, nil, time.Second)

	skt.Inject([]byte{0x0a, 0x03, 0x00})
	rsp, ok := skt.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, []byte{0x01, 0x0a, 0x00, 0x00, 0x06}, rsp)
}

func TestBearerClosed(t *testing.T) {
	c, skt := newClient(t, nil, time.Second)

	res := make(chan error, 1)
	go func() { res <- c.Write(0x35, []byte{0x01, 0x00}) }()
	skt.Next(time.Second)
	skt.Close()

	assert.True(t, btcontrol.Is(<-res, btcontrol.ErrUnavailable))
	<-c.Done()
	assert.Error(t, c.Err())

	_, err := c.Read(0x03)
	assert.True(t, btcontrol.Is(err, btcontrol.ErrUnavailable))
}

func TestParseMalformed(t *testing.T) {
	_, err := parseGroupData([]byte{0x11, 0x06, 0x01, 0x00, 0x07})
	assert.Equal(t, ErrInvalidResponse, err)

	_, err = parseHandleValues([]byte{0x09, 0x01, 0x00})
	assert.Equal(t, ErrInvalidResponse, err)

	_, err = parseInformation([]byte{0x05, 0x03, 0x01, 0x00, 0x02, 0x29})
	assert.Equal(t, ErrInvalidResponse, err)

	info, err := parseInformation([]byte{0x05, 0x01, 0x36, 0x00, 0x02, 0x29})
	require.NoError(t, err)
	assert.Equal(t, []HandleInfo{{Handle: 0x36, UUID: []byte{0x02, 0x29}}}, info)
}
