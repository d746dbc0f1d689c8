package remote

import (
	"io"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/btcontrol"
	"github.com/rigado/btcontrol/device"
	"github.com/rigado/btcontrol/internal/fakegatt"
	"github.com/rigado/btcontrol/linux/gatt"
	"github.com/rigado/btcontrol/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listener struct {
	connected    chan *Session
	disconnected chan *Session
}

func (l *listener) RemoteConnected(s *Session)    { l.connected <- s }
func (l *listener) RemoteDisconnected(s *Session) { l.disconnected <- s }

type key struct {
	pressed bool
	code    uint32
	name    string
}

type handler chan key

func (h handler) KeyEvent(pressed bool, code uint32, name string) error {
	h <- key{pressed, code, name}
	return nil
}

type fixture struct {
	pool *worker.Pool
	dev  *device.Device
	srv  *fakegatt.Server
	l    *listener
	s    *Session
}

var rcu = btcontrol.MustParseAddress("C0:11:22:33:44:55", btcontrol.LERandom)

func newFixture(t *testing.T, attrs []fakegatt.Attr, manual bool) *fixture {
	f := &fixture{
		pool: worker.NewPool(2),
		srv:  fakegatt.New(attrs, manual),
		l:    &listener{connected: make(chan *Session, 1), disconnected: make(chan *Session, 1)},
	}
	t.Cleanup(f.pool.Close)

	reg := device.NewRegistry(device.Config{Pool: f.pool, Logger: btcontrol.DiscardLogger()})
	f.dev, _ = reg.Create(rcu, "RCU")
	f.dev.Bound(0, 0x40, 0)
	f.dev.Features(make([]byte, 8))

	s, err := New(Config{
		Pool:    f.pool,
		Timeout: time.Second,
		Logger:  btcontrol.DiscardLogger(),
		Dial:    func(btcontrol.Address) (io.ReadWriteCloser, error) { return f.srv.Socket, nil },
	}, f.dev, f.l)
	require.NoError(t, err)
	f.s = s
	return f
}

func (f *fixture) operational(t *testing.T) {
	require.NoError(t, f.s.Open())
	select {
	case s := <-f.l.connected:
		assert.Equal(t, f.s, s)
	case <-time.After(2 * time.Second):
		t.Fatalf("not operational, state %v", f.s.State())
	}
	assert.Equal(t, Operational, f.s.State())
}

func waitState(t *testing.T, s *Session, want State) {
	deadline := time.Now().Add(2 * time.Second)
	for s.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state %v, want %v", s.State(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func nextWrite(t *testing.T, srv *fakegatt.Server) fakegatt.Write {
	select {
	case w := <-srv.Writes:
		return w
	case <-time.After(2 * time.Second):
		t.Fatal("no write request")
	}
	return fakegatt.Write{}
}

func noWrite(t *testing.T, srv *fakegatt.Server) {
	select {
	case w := <-srv.Writes:
		t.Fatalf("unexpected write on 0x%04x", w.Handle)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEnableReportsSequentially(t *testing.T) {
	f := newFixture(t, fakegatt.HIDRemote(), true)
	require.NoError(t, f.s.Open())

	for i, h := range []uint16{0x35, 0x39, 0x45} {
		w := nextWrite(t, f.srv)
		assert.Equal(t, h, w.Handle)
		assert.Equal(t, []byte{0x01, 0x00}, w.Value)

		// nothing else goes out until this write completed
		noWrite(t, f.srv)
		assert.Equal(t, EnablingReports, f.s.State())
		assert.Len(t, f.s.Pending(), 3-i)
		select {
		case <-f.l.connected:
			t.Fatal("operational before the last write completed")
		default:
		}
		f.srv.Ack()
	}

	select {
	case <-f.l.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("not operational")
	}
	assert.Equal(t, Operational, f.s.State())
	assert.Empty(t, f.s.Pending())
	assert.NotNil(t, f.s.Profile().FindService(gatt.HIDServiceUUID))
}

func TestFailedWriteDoesNotStall(t *testing.T) {
	f := newFixture(t, fakegatt.HIDRemote(), true)
	f.s.cfg.Timeout = 50 * time.Millisecond
	require.NoError(t, f.s.Open())

	assert.Equal(t, uint16(0x35), nextWrite(t, f.srv).Handle)
	// no ack: the write times out and the next one follows
	assert.Equal(t, uint16(0x39), nextWrite(t, f.srv).Handle)
	f.srv.Ack()
	assert.Equal(t, uint16(0x45), nextWrite(t, f.srv).Handle)
	f.srv.Ack()
	<-f.l.connected
}

func TestKeyEvents(t *testing.T) {
	f := newFixture(t, fakegatt.HIDRemote(), false)
	f.operational(t)

	keys := make(handler, 16)
	f.s.SetKeyHandler(keys)

	f.srv.Notify(0x34, []byte{0x41, 0x00})
	f.srv.Notify(0x34, []byte{0x00, 0x00})
	f.srv.Notify(0x34, []byte{0x00, 0x00}) // stray release
	f.srv.Notify(0x38, []byte{0x42, 0x00}) // not the report handle
	f.srv.Notify(0x34, []byte{0x42})       // too short
	// a remote that never sends key up between two keys
	f.srv.Notify(0x34, []byte{0x01, 0x02})
	f.srv.Notify(0x34, []byte{0x03, 0x02})
	f.srv.Notify(0x34, []byte{0x00, 0x00})

	want := []key{
		{true, 0x41, "RCU"},
		{false, 0x41, "RCU"},
		{true, 0x0201, "RCU"},
		{true, 0x0203, "RCU"},
		{false, 0x0203, "RCU"},
	}
	for _, k := range want {
		select {
		case got := <-keys:
			assert.Equal(t, k, got)
		case <-time.After(time.Second):
			t.Fatalf("missing %+v", k)
		}
	}
	select {
	case got := <-keys:
		t.Fatalf("unexpected %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNoHandlerDropsKeys(t *testing.T) {
	f := newFixture(t, fakegatt.HIDRemote(), false)
	f.operational(t)

	f.srv.Notify(0x34, []byte{0x41, 0x00})
	time.Sleep(30 * time.Millisecond)

	keys := make(handler, 4)
	f.s.SetKeyHandler(keys)
	f.srv.Notify(0x34, []byte{0x00, 0x00})
	// the press was latched even though nobody listened
	assert.Equal(t, key{false, 0x41, "RCU"}, <-keys)
}

func TestDeviceDisconnectEndsSession(t *testing.T) {
	f := newFixture(t, fakegatt.HIDRemote(), false)
	f.operational(t)
	keys := make(handler, 4)
	f.s.SetKeyHandler(keys)

	f.dev.Disconnected(0x13)
	select {
	case s := <-f.l.disconnected:
		assert.Equal(t, f.s, s)
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect")
	}
	assert.Equal(t, Disconnected, f.s.State())
	assert.True(t, f.srv.Socket.Closed())

	// absorbing
	assert.True(t, btcontrol.Is(f.s.Open(), btcontrol.ErrInProgress))
	f.srv.Notify(0x34, []byte{0x41, 0x00})
	select {
	case k := <-keys:
		t.Fatalf("key after disconnect: %+v", k)
	case <-time.After(30 * time.Millisecond):
	}

	// the device is free for a new session
	s, err := New(Config{Pool: f.pool, Logger: btcontrol.DiscardLogger()}, f.dev, f.l)
	require.NoError(t, err)
	assert.Equal(t, Idle, s.State())
}

func TestBearerLossEndsSession(t *testing.T) {
	f := newFixture(t, fakegatt.HIDRemote(), false)
	f.operational(t)

	f.srv.Socket.Close()
	select {
	case <-f.l.disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect")
	}
	assert.Equal(t, Disconnected, f.s.State())
}

func TestNoHIDService(t *testing.T) {
	var gap []fakegatt.Attr
	gap = append(gap, fakegatt.Service(0x01, 0x03, []byte{0x00, 0x18}))
	gap = append(gap, fakegatt.Char(0x02, 0x02, []byte{0x00, 0x2a})...)

	f := newFixture(t, gap, false)
	require.NoError(t, f.s.Open())
	deadline := time.Now().Add(2 * time.Second)
	for !f.srv.Socket.Closed() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	waitState(t, f.s, Idle)
	assert.Nil(t, f.s.Profile())
	select {
	case <-f.l.connected:
		t.Fatal("operational without HID service")
	default:
	}
}

func TestDialFailure(t *testing.T) {
	f := newFixture(t, nil, false)
	f.s.cfg.Dial = func(btcontrol.Address) (io.ReadWriteCloser, error) {
		return nil, errors.New("host is down")
	}
	require.NoError(t, f.s.Open())
	waitState(t, f.s, Idle)
}

func TestOneSessionPerDevice(t *testing.T) {
	f := newFixture(t, nil, false)
	_, err := New(Config{Pool: f.pool}, f.dev, f.l)
	assert.True(t, btcontrol.Is(err, btcontrol.ErrInProgress))

	reg := device.NewRegistry(device.Config{Pool: f.pool, Logger: btcontrol.DiscardLogger()})
	classic, _ := reg.Create(btcontrol.MustParseAddress("AA:BB:CC:DD:EE:FF", btcontrol.Classic), "Speaker")
	_, err = New(Config{Pool: f.pool}, classic, f.l)
	assert.True(t, btcontrol.Is(err, btcontrol.ErrInvalid))
}

func bond(d *device.Device) {
	d.LongTermKey(true)
	d.LongTermKey(false)
}

func TestBondedProfileIsCached(t *testing.T) {
	cache := gatt.NewCache()

	f := newFixture(t, fakegatt.HIDRemote(), false)
	bond(f.dev)
	f.s.cfg.Cache = cache
	f.operational(t)
	require.Equal(t, 1, cache.Len())
	p, err := cache.Load(rcu)
	require.NoError(t, err)
	assert.Equal(t, f.s.Profile(), p)

	// a server without HID still works when the bonded profile is known
	var gap []fakegatt.Attr
	gap = append(gap, fakegatt.Service(0x01, 0x03, []byte{0x00, 0x18}))
	gap = append(gap, fakegatt.Char(0x02, 0x02, []byte{0x00, 0x2a})...)

	g := newFixture(t, gap, false)
	bond(g.dev)
	g.s.cfg.Cache = cache
	g.operational(t)
	for _, h := range []uint16{0x35, 0x39, 0x45} {
		assert.Equal(t, h, nextWrite(t, g.srv).Handle)
	}
}

func TestUnbondedSkipsCache(t *testing.T) {
	cache := gatt.NewCache()

	f := newFixture(t, fakegatt.HIDRemote(), false)
	f.s.cfg.Cache = cache
	f.operational(t)
	assert.Equal(t, 0, cache.Len())
}
