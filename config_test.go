package btcontrol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type optRecorder struct {
	index     uint16
	name      string
	short     string
	external  bool
	path      string
	scan      time.Duration
	cmd       time.Duration
	conn      time.Duration
	classic   time.Duration
	ioCap     int
	handle    uint16
	workers   int
	uart      string
	baud      uint
	hciSocket bool
}

func (o *optRecorder) SetInterface(i uint16) error             { o.index = i; return nil }
func (o *optRecorder) SetName(n string) error                  { o.name = n; return nil }
func (o *optRecorder) SetShortName(n string) error             { o.short = n; return nil }
func (o *optRecorder) SetExternal(e bool) error                { o.external = e; return nil }
func (o *optRecorder) SetDataPath(p string) error              { o.path = p; return nil }
func (o *optRecorder) SetScanTime(d time.Duration) error       { o.scan = d; return nil }
func (o *optRecorder) SetCommandTimeout(d time.Duration) error { o.cmd = d; return nil }
func (o *optRecorder) SetConnectTimeout(d time.Duration) error { o.conn = d; return nil }
func (o *optRecorder) SetClassicConnectTimeout(d time.Duration) error {
	o.classic = d
	return nil
}
func (o *optRecorder) SetIOCapability(c uint8) error {
	o.ioCap = int(c)
	return nil
}
func (o *optRecorder) SetReportHandle(h uint16) error { o.handle = h; return nil }
func (o *optRecorder) SetWorkers(n int) error         { o.workers = n; return nil }
func (o *optRecorder) SetLogger(Logger) error         { return nil }
func (o *optRecorder) SetTransportHCISocket() error   { o.hciSocket = true; return nil }
func (o *optRecorder) SetTransportH4Uart(p string, b uint) error {
	o.uart, o.baud = p, b
	return nil
}

func TestConfigOptions(t *testing.T) {
	c, err := ParseConfig([]byte(`{
		"interface": 1,
		"name": "Living room",
		"external": true,
		"dataPath": "/var/lib/bt",
		"scanTime": 4,
		"commandTimeout": 500,
		"reportHandle": 52,
		"uart": {"path": "/dev/ttyS1", "baud": 115200}
	}`))
	require.NoError(t, err)

	r := &optRecorder{ioCap: -1}
	for _, o := range c.Options() {
		require.NoError(t, o(r))
	}

	assert.Equal(t, uint16(1), r.index)
	assert.Equal(t, "Living room", r.name)
	assert.True(t, r.external)
	assert.Equal(t, "/var/lib/bt", r.path)
	assert.Equal(t, 4*time.Second, r.scan)
	assert.Equal(t, 500*time.Millisecond, r.cmd)
	assert.Equal(t, time.Duration(0), r.conn)
	assert.Equal(t, time.Duration(0), r.classic)
	assert.Equal(t, -1, r.ioCap)
	assert.Equal(t, uint16(0x34), r.handle)
	assert.Equal(t, "/dev/ttyS1", r.uart)
	assert.Equal(t, uint(115200), r.baud)
}

func TestConfigPairingOptions(t *testing.T) {
	c, err := ParseConfig([]byte(`{"classicConnectTimeout": 6000, "ioCapability": 0}`))
	require.NoError(t, err)

	r := &optRecorder{ioCap: -1}
	for _, o := range c.Options() {
		require.NoError(t, o(r))
	}
	assert.Equal(t, 6*time.Second, r.classic)
	assert.Equal(t, 0, r.ioCap)
}

func TestConfigBadJSON(t *testing.T) {
	_, err := ParseConfig([]byte(`{"interface": "x"`))
	assert.Error(t, err)

	_, err = LoadConfig("/nonexistent/btcontrol.json")
	assert.Error(t, err)
}
