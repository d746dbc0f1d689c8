// Package keymap translates remote control scancodes into keys using per
// remote JSON tables, and forwards them to an input sink.
package keymap

import (
	"io/ioutil"
	"strconv"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rigado/btcontrol"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Modifiers is a bit set of held modifier keys.
type Modifiers uint16

const (
	LeftShift Modifiers = 1 << iota
	RightShift
	LeftAlt
	RightAlt
	LeftCtrl
	RightCtrl
)

var modifierNames = map[string]Modifiers{
	"leftshift":  LeftShift,
	"rightshift": RightShift,
	"leftalt":    LeftAlt,
	"rightalt":   RightAlt,
	"leftctrl":   LeftCtrl,
	"rightctrl":  RightCtrl,
}

// Code is a scancode; in JSON it is a number or a "0x" prefixed string.
type Code uint32

func (c *Code) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return errors.Wrapf(btcontrol.ErrInvalid, "code %s", b)
	}
	*c = Code(v)
	return nil
}

// Entry maps one scancode.
type Entry struct {
	Code      Code     `json:"code"`
	Key       Code     `json:"key"`
	Modifiers []string `json:"modifiers,omitempty"`
}

// Key is the translation of a scancode.
type Key struct {
	Code      uint16
	Modifiers Modifiers
}

// Table is the keymap of one remote. A pass-through table forwards codes
// untranslated.
type Table struct {
	mu          sync.RWMutex
	name        string
	keys        map[uint32]Key
	passThrough bool
}

// NewTable returns an empty table.
func NewTable(name string) *Table {
	return &Table{name: name, keys: make(map[uint32]Key)}
}

func (t *Table) Name() string { return t.name }

// Load replaces the table contents with the entries of a JSON file.
func (t *Table) Load(path string) error {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "can't read keymap %v", path)
	}
	return t.Parse(b)
}

// Parse replaces the table contents with JSON encoded entries.
func (t *Table) Parse(b []byte) error {
	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return errors.Wrap(err, "can't decode keymap")
	}

	keys := make(map[uint32]Key, len(entries))
	for _, e := range entries {
		if e.Key > 0xffff {
			return errors.Wrapf(btcontrol.ErrInvalid, "key 0x%x of code 0x%x", uint32(e.Key), uint32(e.Code))
		}
		k := Key{Code: uint16(e.Key)}
		for _, m := range e.Modifiers {
			bit, ok := modifierNames[strings.ToLower(m)]
			if !ok {
				return errors.Wrapf(btcontrol.ErrInvalid, "modifier %q of code 0x%x", m, uint32(e.Code))
			}
			k.Modifiers |= bit
		}
		keys[uint32(e.Code)] = k
	}

	t.mu.Lock()
	t.keys = keys
	t.passThrough = false
	t.mu.Unlock()
	return nil
}

// PassThrough toggles forwarding of codes that have no entry.
func (t *Table) PassThrough(on bool) {
	t.mu.Lock()
	t.passThrough = on
	t.mu.Unlock()
}

// Lookup translates code.
func (t *Table) Lookup(code uint32) (Key, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if k, ok := t.keys[code]; ok {
		return k, true
	}
	if t.passThrough && code <= 0xffff {
		return Key{Code: uint16(code)}, true
	}
	return Key{}, false
}

// Len is the number of entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.keys)
}
