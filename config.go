package btcontrol

import (
	"io/ioutil"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultName                  = "BT Control"
	DefaultScanTime              = 10 * time.Second
	DefaultCommandTimeout        = 2 * time.Second
	DefaultConnectTimeout        = 2 * time.Second
	DefaultClassicConnectTimeout = 8 * time.Second
	DefaultReportHandle          = 0x34
	DefaultWorkers               = 2
	DefaultIOCapability          = 0x03 // NoInputNoOutput
)

// UartConfig selects an H4 serial transport.
type UartConfig struct {
	Path string `json:"path"`
	Baud uint   `json:"baud,omitempty"`
}

// Config is the on-disk controller configuration.
type Config struct {
	Interface             uint16      `json:"interface"`
	Name                  string      `json:"name,omitempty"`
	ShortName             string      `json:"shortName,omitempty"`
	External              bool        `json:"external"`
	DataPath              string      `json:"dataPath,omitempty"`
	ScanTime              uint        `json:"scanTime,omitempty"`              // seconds
	CommandTimeout        uint        `json:"commandTimeout,omitempty"`        // milliseconds
	ConnectTimeout        uint        `json:"connectTimeout,omitempty"`        // milliseconds
	ClassicConnectTimeout uint        `json:"classicConnectTimeout,omitempty"` // milliseconds
	IOCapability          *uint8      `json:"ioCapability,omitempty"`
	ReportHandle          uint16      `json:"reportHandle,omitempty"`
	Workers               int         `json:"workers,omitempty"`
	LogLevel              string      `json:"logLevel,omitempty"`
	Uart                  *UartConfig `json:"uart,omitempty"`
}

// ParseConfig decodes a JSON configuration.
func ParseConfig(b []byte) (*Config, error) {
	c := &Config{}
	if err := json.Unmarshal(b, c); err != nil {
		return nil, errors.Wrap(err, "can't decode config")
	}
	return c, nil
}

// LoadConfig reads and decodes a JSON configuration file.
func LoadConfig(path string) (*Config, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "can't read config %v", path)
	}
	return ParseConfig(b)
}

// Options converts the set fields into controller options. Zero values are
// left out so the controller defaults apply.
func (c *Config) Options() []Option {
	opts := []Option{OptInterface(c.Interface), OptExternal(c.External)}

	if c.Name != "" {
		opts = append(opts, OptName(c.Name))
	}
	if c.ShortName != "" {
		opts = append(opts, OptShortName(c.ShortName))
	}
	if c.DataPath != "" {
		opts = append(opts, OptDataPath(c.DataPath))
	}
	if c.ScanTime != 0 {
		opts = append(opts, OptScanTime(time.Duration(c.ScanTime)*time.Second))
	}
	if c.CommandTimeout != 0 {
		opts = append(opts, OptCommandTimeout(time.Duration(c.CommandTimeout)*time.Millisecond))
	}
	if c.ConnectTimeout != 0 {
		opts = append(opts, OptConnectTimeout(time.Duration(c.ConnectTimeout)*time.Millisecond))
	}
	if c.ClassicConnectTimeout != 0 {
		opts = append(opts, OptClassicConnectTimeout(time.Duration(c.ClassicConnectTimeout)*time.Millisecond))
	}
	if c.IOCapability != nil {
		opts = append(opts, OptIOCapability(*c.IOCapability))
	}
	if c.ReportHandle != 0 {
		opts = append(opts, OptReportHandle(c.ReportHandle))
	}
	if c.Workers > 0 {
		opts = append(opts, OptWorkers(c.Workers))
	}
	if c.Uart != nil && c.Uart.Path != "" {
		opts = append(opts, OptTransportH4Uart(c.Uart.Path, c.Uart.Baud))
	}
	return opts
}
