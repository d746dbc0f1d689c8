package device

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/btcontrol"
	"github.com/rigado/btcontrol/keys"
	"github.com/rigado/btcontrol/linux/hci/mgmt"
	"github.com/rigado/btcontrol/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLink struct {
	mu          sync.Mutex
	connects    []btcontrol.Address
	cancels     []btcontrol.Address
	disconnects []uint16
	names       chan btcontrol.Address
	err         error
}

func (l *fakeLink) Connect(a btcontrol.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connects = append(l.connects, a)
	return l.err
}

func (l *fakeLink) CancelConnect(a btcontrol.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancels = append(l.cancels, a)
	return nil
}

func (l *fakeLink) Disconnect(handle uint16, reason uint8) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnects = append(l.disconnects, handle)
	return l.err
}

func (l *fakeLink) RemoteName(a btcontrol.Address) error {
	l.names <- a
	return nil
}

func (l *fakeLink) cancelled() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.cancels)
}

type fakePairer struct {
	pairErr   error
	unpairErr error
	hold      chan struct{}
	caps      []mgmt.Capability
}

func (p *fakePairer) Pair(a btcontrol.Address, capability mgmt.Capability) error {
	p.caps = append(p.caps, capability)
	if p.hold != nil {
		<-p.hold
	}
	return p.pairErr
}

func (p *fakePairer) Unpair(a btcontrol.Address) error { return p.unpairErr }

type fakeKeys struct {
	mu       sync.Mutex
	purged   []btcontrol.Address
	persists int
}

func (k *fakeKeys) Purge(a btcontrol.Address) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.purged = append(k.purged, a)
	return 1
}

func (k *fakeKeys) Persist() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.persists++
	return nil
}

type fixture struct {
	reg    *Registry
	link   *fakeLink
	pairer *fakePairer
	keys   *fakeKeys
	pool   *worker.Pool
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		link:   &fakeLink{names: make(chan btcontrol.Address, 8)},
		pairer: &fakePairer{},
		keys:   &fakeKeys{},
		pool:   worker.NewPool(2),
	}
	f.reg = NewRegistry(Config{
		Adapter:        0,
		Link:           f.link,
		Pairer:         f.pairer,
		Keys:           f.keys,
		Pool:           f.pool,
		ConnectTimeout: time.Second,
		Logger:         btcontrol.DiscardLogger(),
	})
	t.Cleanup(f.pool.Close)
	return f
}

var (
	speaker = btcontrol.MustParseAddress("AA:BB:CC:DD:EE:FF", btcontrol.Classic)
	remote  = btcontrol.MustParseAddress("C0:11:22:33:44:55", btcontrol.LERandom)
)

func TestClassicLifecycle(t *testing.T) {
	f := newFixture(t)

	d, created := f.reg.Create(speaker, "Speaker")
	require.True(t, created)
	again, created := f.reg.Create(speaker, "")
	assert.False(t, created)
	assert.Equal(t, d, again)
	assert.Equal(t, 1, f.reg.Len())

	s := d.Snapshot()
	assert.False(t, s.LowEnergy())
	assert.False(t, s.Paired())
	assert.Equal(t, "Speaker", s.Name)
	assert.Equal(t, InvalidHandle, s.Handle)

	require.NoError(t, d.Connect())
	assert.Equal(t, Connecting, d.Snapshot().Link)
	assert.Equal(t, []btcontrol.Address{speaker}, f.link.connects)

	d.Bound(0, 0x0007, 0)
	s = d.Snapshot()
	assert.Equal(t, Connected, s.Link)
	assert.Equal(t, uint16(7), s.Handle)
	assert.False(t, s.Busy())
	assert.False(t, s.Connected(), "features still unknown")
	assert.Equal(t, d, f.reg.FindHandle(7))

	d.Features([]byte{0xbf, 0xfe, 0xcf, 0xfe, 0xdb, 0xff, 0x7b, 0x87})
	assert.True(t, d.IsConnected())

	d.Disconnected(0x13)
	s = d.Snapshot()
	assert.Equal(t, InvalidHandle, s.Handle)
	assert.Equal(t, Idle, s.Link)
	assert.Equal(t, uint8(0x13), s.Reason)
	assert.False(t, s.Busy())
	assert.False(t, s.Connected())
	assert.Nil(t, f.reg.FindHandle(7))
}

func TestRemoteNameOnCreate(t *testing.T) {
	f := newFixture(t)

	d, _ := f.reg.Create(speaker, "")
	select {
	case a := <-f.link.names:
		assert.Equal(t, speaker, a)
	case <-time.After(time.Second):
		t.Fatal("no remote name request")
	}
	d.SetName("Speaker")
	assert.Equal(t, "Speaker", d.Name())

	f.reg.Create(remote, "")
	select {
	case a := <-f.link.names:
		t.Fatalf("remote name request for %v", a)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLowEnergyBonding(t *testing.T) {
	f := newFixture(t)
	d, _ := f.reg.Create(remote, "RCU")

	require.NoError(t, d.Pair(mgmt.DisplayOnly))
	assert.Equal(t, []mgmt.Capability{mgmt.DisplayOnly}, f.pairer.caps)
	assert.Equal(t, Pairing, d.Snapshot().Pair)

	d.LongTermKey(false)
	assert.True(t, d.IsPaired())
	assert.False(t, d.IsBonded())

	// a duplicate of the same direction is not a second exchange
	d.LongTermKey(false)
	assert.False(t, d.IsBonded())

	d.LongTermKey(true)
	assert.True(t, d.IsBonded())
	assert.True(t, d.IsPaired())
	assert.Equal(t, 1, f.keys.persists)
	assert.False(t, d.Snapshot().Busy())
}

func TestIdentityKeyBonds(t *testing.T) {
	f := newFixture(t)
	d, _ := f.reg.Create(remote, "RCU")
	require.NoError(t, d.Pair(mgmt.DisplayOnly))

	d.IdentityKey()
	assert.Equal(t, Pairing, d.Snapshot().Pair)
	d.LongTermKey(true)
	assert.True(t, d.IsBonded())

	g, _ := f.reg.Create(btcontrol.MustParseAddress("C0:11:22:33:44:66", btcontrol.LERandom), "")
	require.NoError(t, g.Pair(mgmt.DisplayOnly))
	g.LongTermKey(true)
	assert.False(t, g.IsBonded())
	g.IdentityKey()
	assert.True(t, g.IsBonded())
}

func TestLinkKeyBonds(t *testing.T) {
	f := newFixture(t)
	d, _ := f.reg.Create(speaker, "Speaker")
	require.NoError(t, d.Pair(mgmt.NoInputNoOutput))
	d.LinkKey()
	assert.True(t, d.IsBonded())
}

func TestPairAlreadyPaired(t *testing.T) {
	f := newFixture(t)
	f.pairer.pairErr = errors.Wrap(btcontrol.ErrAlreadyConnected, "mgmt")
	d, _ := f.reg.Create(remote, "RCU")

	require.NoError(t, d.Pair(mgmt.DisplayOnly))
	s := d.Snapshot()
	assert.True(t, s.Paired())
	assert.True(t, s.Bonded())
	assert.False(t, s.Busy())

	err := d.Pair(mgmt.DisplayOnly)
	assert.True(t, btcontrol.Is(err, btcontrol.ErrAlreadyConnected))
}

func TestPairFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.pairer.pairErr = errors.Wrap(btcontrol.ErrTimeout, "mgmt")
	d, _ := f.reg.Create(remote, "RCU")

	err := d.Pair(mgmt.DisplayOnly)
	assert.True(t, btcontrol.Is(err, btcontrol.ErrTimeout))
	assert.Equal(t, Unpaired, d.Snapshot().Pair)
}

func TestAuthFailed(t *testing.T) {
	f := newFixture(t)
	d, _ := f.reg.Create(remote, "RCU")
	require.NoError(t, d.Pair(mgmt.DisplayOnly))

	d.AuthFailed(0x05)
	assert.Equal(t, Unpaired, d.Snapshot().Pair)
	// nothing to abort
	d.AuthFailed(0x05)
	assert.Equal(t, Unpaired, d.Snapshot().Pair)
}

func TestOneActionAtATime(t *testing.T) {
	f := newFixture(t)
	f.pairer.hold = make(chan struct{})
	d, _ := f.reg.Create(remote, "RCU")

	paired := make(chan error, 1)
	go func() { paired <- d.Pair(mgmt.DisplayOnly) }()
	for d.Snapshot().Pair != Pairing {
		time.Sleep(time.Millisecond)
	}

	assert.True(t, btcontrol.Is(d.Connect(), btcontrol.ErrInProgress))
	assert.True(t, btcontrol.Is(d.Unpair(), btcontrol.ErrInProgress))
	assert.True(t, btcontrol.Is(d.Pair(mgmt.DisplayOnly), btcontrol.ErrInProgress))
	assert.Empty(t, f.link.connects)

	close(f.pairer.hold)
	require.NoError(t, <-paired)
	assert.Equal(t, Pairing, d.Snapshot().Pair)
	d.LongTermKey(false)

	require.NoError(t, d.Connect())
	assert.True(t, btcontrol.Is(d.Pair(mgmt.DisplayOnly), btcontrol.ErrInProgress))
	assert.True(t, btcontrol.Is(d.Disconnect(), btcontrol.ErrInProgress))
	assert.True(t, btcontrol.Is(d.Connect(), btcontrol.ErrInProgress))
}

func TestConcurrentActions(t *testing.T) {
	f := newFixture(t)
	d, _ := f.reg.Create(remote, "RCU")

	var wg sync.WaitGroup
	var mu sync.Mutex
	started := 0
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := d.Connect(); err == nil {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			d.mu.Lock()
			s := d.s
			d.mu.Unlock()
			assert.False(t, s.Link.busy() && s.Pair.busy())
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, started)
}

func TestConnectTimeout(t *testing.T) {
	f := newFixture(t)
	f.reg.cfg.ConnectTimeout = 30 * time.Millisecond
	d, _ := f.reg.Create(remote, "RCU")

	require.NoError(t, d.Connect())
	deadline := time.Now().Add(time.Second)
	for d.Snapshot().Link != Idle && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, Idle, d.Snapshot().Link)
	for f.link.cancelled() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 1, f.link.cancelled())
	assert.Equal(t, remote, f.link.cancels[0])

	// a late completion still binds the link
	d.Bound(0, 0x40, 0)
	assert.Equal(t, Connected, d.Snapshot().Link)
}

func TestClassicConnectTimeout(t *testing.T) {
	f := newFixture(t)
	f.reg.cfg.ConnectTimeout = 10 * time.Millisecond
	f.reg.cfg.ClassicConnectTimeout = 150 * time.Millisecond
	d, _ := f.reg.Create(speaker, "Speaker")

	require.NoError(t, d.Connect())

	// the LE timeout does not cut a page short
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, Connecting, d.Snapshot().Link)
	assert.Equal(t, 0, f.link.cancelled())

	deadline := time.Now().Add(time.Second)
	for f.link.cancelled() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, f.link.cancelled())
	assert.Equal(t, speaker, f.link.cancels[0])
	assert.Equal(t, Idle, d.Snapshot().Link)
}

func TestConnectErrorRollsBack(t *testing.T) {
	f := newFixture(t)
	f.link.err = errors.Wrap(btcontrol.ErrAlreadyConnected, "hci")
	d, _ := f.reg.Create(speaker, "Speaker")

	assert.True(t, btcontrol.Is(d.Connect(), btcontrol.ErrAlreadyConnected))
	assert.Equal(t, Idle, d.Snapshot().Link)
}

func TestFailedConnectionComplete(t *testing.T) {
	f := newFixture(t)
	d, _ := f.reg.Create(speaker, "Speaker")

	require.NoError(t, d.Connect())
	d.Bound(0x04, InvalidHandle, 0)
	s := d.Snapshot()
	assert.Equal(t, Idle, s.Link)
	assert.Equal(t, InvalidHandle, s.Handle)
}

func TestDisconnect(t *testing.T) {
	f := newFixture(t)
	d, _ := f.reg.Create(speaker, "Speaker")

	assert.True(t, btcontrol.Is(d.Disconnect(), btcontrol.ErrAlreadyReleased))

	d.Bound(0, 0x0b, 1)
	require.NoError(t, d.Disconnect())
	assert.Equal(t, Disconnecting, d.Snapshot().Link)
	assert.Equal(t, []uint16{0x0b}, f.link.disconnects)

	d.Disconnected(0x16)
	assert.Equal(t, Idle, d.Snapshot().Link)
}

func TestUnpair(t *testing.T) {
	f := newFixture(t)
	d, _ := f.reg.Create(remote, "RCU")

	assert.True(t, btcontrol.Is(d.Unpair(), btcontrol.ErrAlreadyReleased))

	require.NoError(t, d.Pair(mgmt.DisplayOnly))
	d.LongTermKey(false)
	d.LongTermKey(true)
	require.True(t, d.IsBonded())

	f.pairer.unpairErr = errors.Wrap(btcontrol.ErrAlreadyReleased, "mgmt")
	require.NoError(t, d.Unpair())
	assert.Equal(t, Unpaired, d.Snapshot().Pair)
	assert.Equal(t, []btcontrol.Address{remote}, f.keys.purged)

	// a fresh pairing starts over
	require.NoError(t, d.Pair(mgmt.DisplayOnly))
	d.LongTermKey(true)
	assert.False(t, d.IsBonded())
}

func TestUnpairFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	d, _ := f.reg.Create(remote, "RCU")
	require.NoError(t, d.Pair(mgmt.DisplayOnly))
	d.LongTermKey(false)

	f.pairer.unpairErr = errors.Wrap(btcontrol.ErrTimeout, "mgmt")
	assert.Error(t, d.Unpair())
	assert.Equal(t, Paired, d.Snapshot().Pair)
}

func TestRemoveSkipsBusy(t *testing.T) {
	f := newFixture(t)
	busy, _ := f.reg.Create(speaker, "Speaker")
	idle, _ := f.reg.Create(remote, "RCU")
	require.NoError(t, busy.Connect())

	n := f.reg.Remove(func(Snapshot) bool { return true })
	assert.Equal(t, 1, n)
	assert.False(t, idle.IsValid())
	assert.True(t, busy.IsValid())
	assert.Equal(t, []*Device{busy}, f.reg.Devices())
	assert.Nil(t, f.reg.Find(remote))

	assert.True(t, btcontrol.Is(idle.Connect(), btcontrol.ErrNotFound))

	busy.Bound(0, 1, 0)
	n = f.reg.Remove(func(s Snapshot) bool { return !s.Paired() })
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, f.reg.Len())
}

func TestLookup(t *testing.T) {
	f := newFixture(t)
	d, _ := f.reg.Create(remote, "RCU")

	assert.Equal(t, d, f.reg.Lookup("c0:11:22:33:44:55"))
	assert.Nil(t, f.reg.Lookup("c0:11:22:33:44:56"))
	assert.Nil(t, f.reg.Lookup("garbage"))
	assert.Nil(t, f.reg.Find(btcontrol.MustParseAddress("C0:11:22:33:44:55", btcontrol.LEPublic)))
}

type callback chan Snapshot

func (c callback) Updated(s Snapshot) { c <- s }

func TestCallbacks(t *testing.T) {
	f := newFixture(t)
	seen := make(chan Snapshot, 16)
	f.reg.cfg.Updated = func(d *Device, s Snapshot) { seen <- s }

	d, _ := f.reg.Create(remote, "RCU")
	cb := make(callback, 16)
	require.NoError(t, d.SetCallback(cb))
	assert.True(t, btcontrol.Is(d.SetCallback(make(callback)), btcontrol.ErrInProgress))

	d.Bound(0, 0x40, 0)
	d.Features([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})

	wait := func(c <-chan Snapshot, want func(Snapshot) bool) {
		deadline := time.After(time.Second)
		for {
			select {
			case s := <-c:
				if want(s) {
					return
				}
			case <-deadline:
				t.Fatal("no matching update")
			}
		}
	}
	wait(cb, func(s Snapshot) bool { return s.Connected() })
	wait(seen, func(s Snapshot) bool { return s.Connected() })

	require.NoError(t, d.SetCallback(nil))
	require.NoError(t, d.SetCallback(cb))
}

func TestRestore(t *testing.T) {
	f := newFixture(t)
	ltk := func(master bool) keys.LongTermKey { return keys.LongTermKey{Master: master} }

	d, _ := f.reg.Create(remote, "RCU")
	d.Restore(keys.Set{LongTerm: []keys.LongTermKey{ltk(false), ltk(true)}})
	assert.True(t, d.IsBonded())

	g, _ := f.reg.Create(btcontrol.MustParseAddress("C0:11:22:33:44:66", btcontrol.LERandom), "")
	g.Restore(keys.Set{LongTerm: []keys.LongTermKey{ltk(true)}})
	assert.Equal(t, Paired, g.Snapshot().Pair)
	// the reciprocal key still bonds it later
	g.LongTermKey(false)
	assert.True(t, g.IsBonded())

	h, _ := f.reg.Create(btcontrol.MustParseAddress("C0:11:22:33:44:77", btcontrol.LERandom), "")
	h.Restore(keys.Set{LongTerm: []keys.LongTermKey{ltk(true)}, Identity: &keys.IdentityKey{}})
	assert.True(t, h.IsBonded())

	s, _ := f.reg.Create(speaker, "Speaker")
	s.Restore(keys.Set{Link: &keys.LinkKey{}})
	assert.True(t, s.IsBonded())

	e, _ := f.reg.Create(btcontrol.MustParseAddress("C0:11:22:33:44:88", btcontrol.LERandom), "")
	e.Restore(keys.Set{})
	assert.Equal(t, Unpaired, e.Snapshot().Pair)

	// restoring does not write the store back; only the g bonding did
	assert.Equal(t, 1, f.keys.persists)
}

func TestRegistryRestore(t *testing.T) {
	f := newFixture(t)

	d := f.reg.Restore(speaker, keys.Set{Link: &keys.LinkKey{Addr: speaker}})
	assert.True(t, d.IsBonded())
	assert.Equal(t, 1, f.reg.Len())
	select {
	case a := <-f.link.names:
		t.Fatalf("remote name request for %v", a)
	case <-time.After(50 * time.Millisecond):
	}

	// a known device keeps its state
	assert.Equal(t, d, f.reg.Restore(speaker, keys.Set{}))
	assert.True(t, d.IsBonded())
	assert.Equal(t, 1, f.reg.Len())
}

type orderCheck struct {
	mu      sync.Mutex
	running int
	overlap bool
	last    uint16
	regress bool
}

func (o *orderCheck) Updated(s Snapshot) {
	o.mu.Lock()
	o.running++
	if o.running > 1 {
		o.overlap = true
	}
	if s.Interval < o.last {
		o.regress = true
	}
	o.last = s.Interval
	o.mu.Unlock()

	time.Sleep(time.Millisecond)

	o.mu.Lock()
	o.running--
	o.mu.Unlock()
}

func TestUpdatesInOrder(t *testing.T) {
	f := newFixture(t)
	f.pool.Close()
	f.pool = worker.NewPool(4)
	t.Cleanup(f.pool.Close)
	f.reg.cfg.Pool = f.pool

	d, _ := f.reg.Create(remote, "RCU")
	o := &orderCheck{}
	require.NoError(t, d.SetCallback(o))

	for i := 1; i <= 200; i++ {
		d.ConnectionParameters(uint16(i), 0, 0)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		o.mu.Lock()
		last := o.last
		o.mu.Unlock()
		if last == 200 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	assert.Equal(t, uint16(200), o.last)
	assert.False(t, o.overlap, "two dispatches of one device ran at once")
	assert.False(t, o.regress, "an older snapshot arrived after a newer one")
}
