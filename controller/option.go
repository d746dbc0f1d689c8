package controller

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/btcontrol"
	"github.com/rigado/btcontrol/linux/hci"
	"github.com/rigado/btcontrol/linux/hci/mgmt"
)

// Options take effect on the next Open.

func (c *Controller) SetInterface(index uint16) error {
	c.index = index
	if !c.transport.Exclusive() {
		c.transport = hci.TransportHCISocket(index)
	}
	return nil
}

func (c *Controller) SetName(name string) error {
	c.name = name
	return nil
}

func (c *Controller) SetShortName(name string) error {
	c.short = name
	return nil
}

// SetExternal leaves powering and configuring the adapter to someone else.
func (c *Controller) SetExternal(external bool) error {
	c.external = external
	return nil
}

func (c *Controller) SetDataPath(path string) error {
	if path == "" {
		return errors.Wrap(btcontrol.ErrInvalid, "empty data path")
	}
	c.dataPath = path
	return nil
}

func (c *Controller) SetScanTime(d time.Duration) error {
	if d <= 0 {
		return errors.Wrapf(btcontrol.ErrInvalid, "scan time %v", d)
	}
	c.scanTime = d
	return nil
}

func (c *Controller) SetCommandTimeout(d time.Duration) error {
	c.cmdTimeout = d
	return nil
}

func (c *Controller) SetConnectTimeout(d time.Duration) error {
	c.connTimeout = d
	return nil
}

func (c *Controller) SetClassicConnectTimeout(d time.Duration) error {
	c.classicTimeout = d
	return nil
}

// SetIOCapability sets what the adapter announces when a remote starts
// pairing. Pairings started here pass their own capability.
func (c *Controller) SetIOCapability(capability uint8) error {
	if mgmt.Capability(capability) > mgmt.KeyboardDisplay {
		return errors.Wrapf(btcontrol.ErrInvalid, "io capability 0x%02x", capability)
	}
	c.ioCapability = mgmt.Capability(capability)
	return nil
}

func (c *Controller) SetReportHandle(handle uint16) error {
	if handle == 0 {
		return errors.Wrap(btcontrol.ErrInvalid, "report handle 0")
	}
	c.reportHandle = handle
	return nil
}

func (c *Controller) SetWorkers(n int) error {
	if n < 1 {
		return errors.Wrapf(btcontrol.ErrInvalid, "%d workers", n)
	}
	c.workers = n
	return nil
}

func (c *Controller) SetLogger(l btcontrol.Logger) error {
	if l == nil {
		return errors.Wrap(btcontrol.ErrInvalid, "nil logger")
	}
	c.log = l
	return nil
}

// SetTransportHCISocket uses the raw HCI socket of the selected interface.
func (c *Controller) SetTransportHCISocket() error {
	c.transport = hci.TransportHCISocket(c.index)
	return nil
}

// SetTransportH4Uart talks to a controller on a serial port. There is no
// management socket then, so pairing is unavailable.
func (c *Controller) SetTransportH4Uart(path string, baud uint) error {
	if path == "" {
		return errors.Wrap(btcontrol.ErrInvalid, "empty uart path")
	}
	c.transport = hci.TransportH4Uart(path, baud)
	return nil
}
