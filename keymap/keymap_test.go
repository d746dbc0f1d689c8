package keymap

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/rigado/btcontrol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const table = `[
	{"code": "0x0041", "key": 103},
	{"code": 66, "key": "0x6c", "modifiers": ["leftShift", "rightctrl"]}
]`

type injected struct {
	pressed bool
	key     Key
}

type recorder struct{ got []injected }

func (r *recorder) Inject(pressed bool, k Key) error {
	r.got = append(r.got, injected{pressed, k})
	return nil
}

func TestParse(t *testing.T) {
	tb := NewTable("remote")
	require.NoError(t, tb.Parse([]byte(table)))
	assert.Equal(t, 2, tb.Len())

	k, ok := tb.Lookup(0x41)
	assert.True(t, ok)
	assert.Equal(t, Key{Code: 103}, k)

	k, ok = tb.Lookup(66)
	assert.True(t, ok)
	assert.Equal(t, Key{Code: 0x6c, Modifiers: LeftShift | RightCtrl}, k)

	_, ok = tb.Lookup(0x99)
	assert.False(t, ok)

	tb.PassThrough(true)
	k, ok = tb.Lookup(0x99)
	assert.True(t, ok)
	assert.Equal(t, Key{Code: 0x99}, k)
}

func TestParseRejects(t *testing.T) {
	tb := NewTable("remote")
	assert.Error(t, tb.Parse([]byte(`{"code": 1}`)))

	assert.Error(t, tb.Parse([]byte(`[{"code": "zz", "key": 1}]`)))

	err := tb.Parse([]byte(`[{"code": 1, "key": 1, "modifiers": ["hyper"]}]`))
	assert.True(t, btcontrol.Is(err, btcontrol.ErrInvalid))

	err = tb.Parse([]byte(`[{"code": 1, "key": 70000}]`))
	assert.True(t, btcontrol.Is(err, btcontrol.ErrInvalid))
}

func TestLoadRemote(t *testing.T) {
	dir, err := ioutil.TempDir("", "keymap")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "RCU-remote.json"), []byte(table), 0644))

	rec := &recorder{}
	h := NewHandler(rec, btcontrol.DiscardLogger())

	tb := h.LoadRemote(dir, "RCU")
	assert.Equal(t, 2, tb.Len())
	require.NoError(t, h.KeyEvent(true, 0x41, "RCU"))
	require.NoError(t, h.KeyEvent(false, 0x41, "RCU"))
	assert.True(t, btcontrol.Is(h.KeyEvent(true, 0x99, "RCU"), btcontrol.ErrNotFound))

	// no file: pass-through
	h.LoadRemote(dir, "Other")
	require.NoError(t, h.KeyEvent(true, 0x99, "Other"))

	assert.Equal(t, []injected{
		{true, Key{Code: 103}},
		{false, Key{Code: 103}},
		{true, Key{Code: 0x99}},
	}, rec.got)

	h.ClearTable("RCU")
	assert.True(t, btcontrol.Is(h.KeyEvent(true, 0x41, "RCU"), btcontrol.ErrNotFound))
}
