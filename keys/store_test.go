package keys

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/rigado/btcontrol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	devA = btcontrol.MustParseAddress("AA:BB:CC:DD:EE:FF", btcontrol.LEPublic)
	devB = btcontrol.MustParseAddress("11:22:33:44:55:66", btcontrol.LERandom)
)

func material(seed byte) []byte {
	v := make([]byte, ValueSize)
	for i := range v {
		v[i] = seed + byte(i)
	}
	return v
}

func allKinds(a btcontrol.Address) []Key {
	return []Key{
		LinkKey{Addr: a, Type: 4, Value: material(1), PinLength: 0},
		LongTermKey{Addr: a, Type: 1, Master: true, EncSize: 16, EDiv: 0x1234, Rand: 0x0102030405060708, Value: material(2)},
		IdentityKey{Addr: a, Value: material(3)},
		SignatureKey{Addr: a, Type: 0, Value: material(4)},
	}
}

func newTestStore(t *testing.T) (*Store, func()) {
	dir, err := ioutil.TempDir("", "keys")
	require.NoError(t, err)
	return NewStore(dir, btcontrol.DiscardLogger()), func() { os.RemoveAll(dir) }
}

func TestStorePurge(t *testing.T) {
	for _, k := range allKinds(devA) {
		s, done := newTestStore(t)
		require.NoError(t, s.Store(k), "%T", k)
		require.NoError(t, s.Store(allKinds(devB)[0]))
		assert.False(t, s.Find(devA).Empty(), "%T", k)

		assert.Equal(t, 1, s.Purge(devA))
		assert.True(t, s.Find(devA).Empty(), "%T", k)
		assert.False(t, s.Find(devB).Empty())
		done()
	}
}

func TestStoreInvalid(t *testing.T) {
	s, done := newTestStore(t)
	defer done()

	require.NoError(t, s.Store(allKinds(devA)[1]))
	before := s.Len()

	bad := []Key{
		LinkKey{Addr: devA},
		LongTermKey{Addr: devA, Value: []byte{}},
		IdentityKey{Addr: btcontrol.Address{}, Value: material(1)},
		SignatureKey{Addr: devA, Value: material(1)[:8]},
		nil,
	}
	for _, k := range bad {
		err := s.Store(k)
		assert.Equal(t, btcontrol.ErrInvalid, errors.Cause(err))
	}
	assert.Equal(t, before, s.Len())
}

func TestStoreReplaceByIdentity(t *testing.T) {
	s, done := newTestStore(t)
	defer done()

	master := LongTermKey{Addr: devA, Master: true, EncSize: 16, Value: material(1)}
	slave := LongTermKey{Addr: devA, Master: false, EncSize: 16, Value: material(2)}
	require.NoError(t, s.Store(master))
	require.NoError(t, s.Store(slave))
	assert.Len(t, s.Find(devA).LongTerm, 2)

	master.Value = material(9)
	require.NoError(t, s.Store(&master))
	set := s.Find(devA)
	require.Len(t, set.LongTerm, 2)
	assert.Equal(t, material(9), set.LongTerm[0].Value)

	require.NoError(t, s.Store(IdentityKey{Addr: devA, Value: material(5)}))
	require.NoError(t, s.Store(IdentityKey{Addr: devA, Value: material(6)}))
	assert.Equal(t, material(6), s.Find(devA).Identity.Value)
	assert.Equal(t, 3, s.Len())
}

func TestStorePersistLoad(t *testing.T) {
	s, done := newTestStore(t)
	defer done()

	for _, k := range append(allKinds(devA), allKinds(devB)...) {
		require.NoError(t, s.Store(k))
	}
	require.NoError(t, s.Persist())

	info, err := os.Stat(filepath.Join(s.dir, longTermKeyFile))
	require.NoError(t, err)
	assert.Equal(t, int64(2*LongTermKeySize), info.Size())

	r := NewStore(s.dir, btcontrol.DiscardLogger())
	require.NoError(t, r.Load())
	assert.Equal(t, s.Len(), r.Len())
	assert.Equal(t, s.LongTermKeys(), r.LongTermKeys())
	assert.Equal(t, s.Find(devB), r.Find(devB))
}

func TestStoreLoadSkipsGarbage(t *testing.T) {
	s, done := newTestStore(t)
	defer done()

	good, err := allKinds(devA)[2].MarshalBinary()
	require.NoError(t, err)
	garbage := make([]byte, IdentityKeySize)
	data := append(append(good, garbage...), 0x01, 0x02)
	require.NoError(t, ioutil.WriteFile(filepath.Join(s.dir, identityKeyFile), data, 0600))

	require.NoError(t, s.Load())
	assert.Len(t, s.IdentityKeys(), 1)
	assert.Equal(t, 1, s.Len())
}

func TestStoreLoadMissing(t *testing.T) {
	s := NewStore("/nonexistent/keys", btcontrol.DiscardLogger())
	require.NoError(t, s.Load())
	assert.Equal(t, 0, s.Len())
}
