package keymap

import (
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/btcontrol"
)

// InputHandler accepts key events from key producers.
type InputHandler interface {
	KeyEvent(pressed bool, code uint32, mapName string) error
}

// Sink injects translated keys into the input subsystem.
type Sink interface {
	Inject(pressed bool, k Key) error
}

// Handler is an InputHandler translating through named tables.
type Handler struct {
	sink Sink
	log  btcontrol.Logger

	mu     sync.Mutex
	tables map[string]*Table
}

// NewHandler returns a handler with no tables.
func NewHandler(sink Sink, l btcontrol.Logger) *Handler {
	if l == nil {
		l = btcontrol.Component("keymap")
	}
	return &Handler{sink: sink, log: l, tables: make(map[string]*Table)}
}

// Table returns the table of name, creating an empty one.
func (h *Handler) Table(name string) *Table {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tables[name]
	if !ok {
		t = NewTable(name)
		h.tables[name] = t
	}
	return t
}

// ClearTable drops the table of name.
func (h *Handler) ClearTable(name string) {
	h.mu.Lock()
	delete(h.tables, name)
	h.mu.Unlock()
}

// LoadRemote loads <dir>/<name>-remote.json into the table of name. When the
// file is missing or broken the table passes codes through.
func (h *Handler) LoadRemote(dir, name string) *Table {
	t := h.Table(name)
	path := filepath.Join(dir, name+"-remote.json")
	h.log.Infof("loading keymap file %v", path)
	if err := t.Load(path); err != nil {
		h.log.Errorf("failed to load keymap file %v, using pass-through: %v", path, err)
		t.PassThrough(true)
	}
	return t
}

func (h *Handler) KeyEvent(pressed bool, code uint32, mapName string) error {
	h.mu.Lock()
	t, ok := h.tables[mapName]
	h.mu.Unlock()
	if !ok {
		return errors.Wrapf(btcontrol.ErrNotFound, "keymap %q", mapName)
	}

	k, ok := t.Lookup(code)
	if !ok {
		h.log.Debugf("%v: unmapped code 0x%04x", mapName, code)
		return errors.Wrapf(btcontrol.ErrNotFound, "code 0x%04x in keymap %q", code, mapName)
	}
	if h.sink == nil {
		return nil
	}
	return h.sink.Inject(pressed, k)
}

// LogSink writes injected keys to a logger.
type LogSink struct {
	Log btcontrol.Logger
}

func (s LogSink) Inject(pressed bool, k Key) error {
	state := "released"
	if pressed {
		state = "pressed"
	}
	s.Log.Infof("key 0x%04x (modifiers 0x%02x) %v", k.Code, uint16(k.Modifiers), state)
	return nil
}
