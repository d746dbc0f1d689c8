package btcontrol

import "time"

// ControllerOption is implemented by the controller to accept configuration options.
type ControllerOption interface {
	SetInterface(index uint16) error
	SetName(name string) error
	SetShortName(name string) error
	SetExternal(external bool) error
	SetDataPath(path string) error
	SetScanTime(d time.Duration) error
	SetCommandTimeout(d time.Duration) error
	SetConnectTimeout(d time.Duration) error
	SetClassicConnectTimeout(d time.Duration) error
	SetIOCapability(capability uint8) error
	SetReportHandle(handle uint16) error
	SetWorkers(n int) error
	SetLogger(l Logger) error

	SetTransportHCISocket() error
	SetTransportH4Uart(path string, baud uint) error
}

// An Option is a configuration function, which configures the controller.
type Option func(ControllerOption) error

// OptInterface selects the adapter index (hciN).
func OptInterface(index uint16) Option {
	return func(opt ControllerOption) error {
		return opt.SetInterface(index)
	}
}

// OptName sets the friendly name announced by the adapter.
func OptName(name string) Option {
	return func(opt ControllerOption) error {
		return opt.SetName(name)
	}
}

// OptShortName sets the shortened local name.
func OptShortName(name string) Option {
	return func(opt ControllerOption) error {
		return opt.SetShortName(name)
	}
}

// OptExternal marks the adapter as managed elsewhere: no power up or down.
func OptExternal(external bool) Option {
	return func(opt ControllerOption) error {
		return opt.SetExternal(external)
	}
}

// OptDataPath sets where keys and keymaps live.
func OptDataPath(path string) Option {
	return func(opt ControllerOption) error {
		return opt.SetDataPath(path)
	}
}

// OptScanTime sets the default duration of a scan.
func OptScanTime(d time.Duration) Option {
	return func(opt ControllerOption) error {
		return opt.SetScanTime(d)
	}
}

// OptCommandTimeout bounds management, HCI and attribute protocol requests.
func OptCommandTimeout(d time.Duration) Option {
	return func(opt ControllerOption) error {
		return opt.SetCommandTimeout(d)
	}
}

// OptConnectTimeout bounds connection setup before the device rolls back to idle.
func OptConnectTimeout(d time.Duration) Option {
	return func(opt ControllerOption) error {
		return opt.SetConnectTimeout(d)
	}
}

// OptClassicConnectTimeout bounds paging a BR/EDR device, which takes longer
// than an LE connection.
func OptClassicConnectTimeout(d time.Duration) Option {
	return func(opt ControllerOption) error {
		return opt.SetClassicConnectTimeout(d)
	}
}

// OptIOCapability sets the IO capability the adapter announces when a remote
// starts pairing (0 DisplayOnly through 4 KeyboardDisplay).
func OptIOCapability(capability uint8) Option {
	return func(opt ControllerOption) error {
		return opt.SetIOCapability(capability)
	}
}

// OptReportHandle overrides the attribute handle carrying HID key reports.
func OptReportHandle(handle uint16) Option {
	return func(opt ControllerOption) error {
		return opt.SetReportHandle(handle)
	}
}

// OptWorkers sets the size of the shared worker pool.
func OptWorkers(n int) Option {
	return func(opt ControllerOption) error {
		return opt.SetWorkers(n)
	}
}

// OptLogger replaces the controller logger.
func OptLogger(l Logger) Option {
	return func(opt ControllerOption) error {
		return opt.SetLogger(l)
	}
}

// OptTransportHCISocket uses the kernel raw HCI socket of the selected interface.
func OptTransportHCISocket() Option {
	return func(opt ControllerOption) error {
		return opt.SetTransportHCISocket()
	}
}

// OptTransportH4Uart talks H4 over a serial port. The management socket is not
// available in this mode; the adapter is treated as external.
func OptTransportH4Uart(path string, baud uint) Option {
	return func(opt ControllerOption) error {
		return opt.SetTransportH4Uart(path, baud)
	}
}
