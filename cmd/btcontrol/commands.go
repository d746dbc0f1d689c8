package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/btcontrol"
	"github.com/rigado/btcontrol/controller"
	"github.com/rigado/btcontrol/device"
	"github.com/rigado/btcontrol/keys"
	"github.com/rigado/btcontrol/linux/hci/mgmt"
	"github.com/urfave/cli"
)

const defaultWait = 30 * time.Second

// options merges the configuration file with the global flags; flags win.
func options(c *cli.Context) ([]btcontrol.Option, string, error) {
	var opts []btcontrol.Option
	dataPath := "."

	if path := c.GlobalString("config"); path != "" {
		cfg, err := btcontrol.LoadConfig(path)
		if err != nil {
			return nil, "", err
		}
		if cfg.LogLevel != "" && !c.GlobalIsSet("log-level") {
			if err := btcontrol.SetLogLevel(cfg.LogLevel); err != nil {
				return nil, "", err
			}
		}
		if cfg.DataPath != "" {
			dataPath = cfg.DataPath
		}
		opts = cfg.Options()
	}

	if c.GlobalIsSet("interface") {
		opts = append(opts, btcontrol.OptInterface(uint16(c.GlobalUint("interface"))))
	}
	if d := c.GlobalString("data"); d != "" {
		dataPath = d
	}
	opts = append(opts, btcontrol.OptDataPath(dataPath))
	if c.GlobalIsSet("external") {
		opts = append(opts, btcontrol.OptExternal(c.GlobalBool("external")))
	}
	if u := c.GlobalString("uart"); u != "" {
		opts = append(opts, btcontrol.OptTransportH4Uart(u, c.GlobalUint("baud")))
	}
	return opts, dataPath, nil
}

func openController(c *cli.Context) (*controller.Controller, *waiter, error) {
	opts, _, err := options(c)
	if err != nil {
		return nil, nil, err
	}
	ctl, err := controller.New(opts...)
	if err != nil {
		return nil, nil, err
	}
	w := newWaiter()
	if err := ctl.Register(w); err != nil {
		return nil, nil, err
	}
	if err := ctl.Open(); err != nil {
		return nil, nil, err
	}
	return ctl, w, nil
}

func address(c *cli.Context, kind btcontrol.AddressKind) (btcontrol.Address, error) {
	if c.NArg() != 1 {
		return btcontrol.Address{}, errors.Errorf("%v needs exactly one address", c.Command.Name)
	}
	switch {
	case c.Bool("random"):
		kind = btcontrol.LERandom
	case c.Bool("le"):
		kind = btcontrol.LEPublic
	}
	return btcontrol.ParseAddress(c.Args().First(), kind)
}

// waiter turns observer callbacks into something a command can block on.
type waiter struct {
	updates chan device.Snapshot
	scans   chan bool
}

func newWaiter() *waiter {
	return &waiter{updates: make(chan device.Snapshot, 128), scans: make(chan bool, 1)}
}

func (w *waiter) Updated(s device.Snapshot) {
	select {
	case w.updates <- s:
	default:
	}
}

func (w *waiter) ScanCompleted(bool) {
	select {
	case w.scans <- true:
	default:
	}
}

// until waits for a snapshot of d for which ok holds.
func (w *waiter) until(d *device.Device, ok func(device.Snapshot) bool, timeout time.Duration) (device.Snapshot, error) {
	if s := d.Snapshot(); ok(s) {
		return s, nil
	}
	sig := interrupted()
	defer signal.Stop(sig)
	deadline := time.After(timeout)
	for {
		select {
		case s := <-w.updates:
			if s.Address == d.Address() && ok(s) {
				return s, nil
			}
		case <-sig:
			return d.Snapshot(), errors.New("interrupted")
		case <-deadline:
			return d.Snapshot(), errors.Wrapf(btcontrol.ErrTimeout, "%v", d.Address())
		}
	}
}

func interrupted() chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch
}

func printDevice(s device.Snapshot) {
	kind := "classic"
	if s.LowEnergy() {
		kind = "le"
	}
	fmt.Printf("%v  %-7s  link=%-13v pair=%-9v %q\n", s.Address, kind, s.Link, s.Pair, s.Name)
}

func scanCommand(c *cli.Context) (err error) {
	ctl, w, err := openController(c)
	if err != nil {
		return err
	}
	defer ctl.Close()

	var ok bool
	if c.Bool("classic") {
		ok = ctl.ScanClassic(c.Bool("limited"))
	} else {
		ok = ctl.ScanLowEnergy(c.Bool("limited"), c.Bool("passive"))
	}
	if !ok {
		return errors.New("scan could not be started")
	}
	fmt.Println("scanning...")

	sig := interrupted()
	defer signal.Stop(sig)
	select {
	case <-w.scans:
	case <-sig:
	}

	for _, s := range ctl.Devices() {
		printDevice(s)
	}
	return nil
}

// connect brings the link to d up.
func connect(w *waiter, d *device.Device, timeout time.Duration) error {
	if err := d.Connect(); err != nil && !btcontrol.Is(err, btcontrol.ErrAlreadyConnected) {
		return err
	}
	_, err := w.until(d, device.Snapshot.Connected, timeout)
	return err
}

func pairCommand(c *cli.Context) (err error) {
	a, err := address(c, btcontrol.Classic)
	if err != nil {
		return err
	}
	ctl, w, err := openController(c)
	if err != nil {
		return err
	}
	defer ctl.Close()

	d, err := ctl.Add(a, "")
	if err != nil {
		return err
	}
	timeout := c.Duration("timeout")
	if err := connect(w, d, timeout); err != nil {
		return errors.Wrap(err, "connect")
	}
	if err := d.Pair(mgmt.NoInputNoOutput); err != nil {
		return errors.Wrap(err, "pair")
	}
	s, err := w.until(d, device.Snapshot.Bonded, timeout)
	printDevice(s)
	return err
}

func unpairCommand(c *cli.Context) (err error) {
	a, err := address(c, btcontrol.Classic)
	if err != nil {
		return err
	}
	ctl, _, err := openController(c)
	if err != nil {
		return err
	}
	defer ctl.Close()

	d, err := ctl.Add(a, "")
	if err != nil {
		return err
	}
	if err := d.Unpair(); err != nil && !btcontrol.Is(err, btcontrol.ErrAlreadyReleased) {
		return err
	}
	printDevice(d.Snapshot())
	return nil
}

func remoteCommand(c *cli.Context) (err error) {
	a, err := address(c, btcontrol.LEPublic)
	if err != nil {
		return err
	}
	ctl, w, err := openController(c)
	if err != nil {
		return err
	}
	defer ctl.Close()

	d, err := ctl.Add(a, c.String("name"))
	if err != nil {
		return err
	}
	if err := connect(w, d, defaultWait); err != nil {
		return errors.Wrap(err, "connect")
	}
	s, err := ctl.AttachRemote(d.ID())
	if err != nil {
		return err
	}
	fmt.Printf("remote %q attached, ^C to stop\n", s.Name())

	sig := interrupted()
	defer signal.Stop(sig)
	<-sig
	return nil
}

func keysCommand(c *cli.Context) (err error) {
	_, dataPath, err := options(c)
	if err != nil {
		return err
	}
	st := keys.NewStore(dataPath, btcontrol.Component("keys"))
	if err := st.Load(); err != nil {
		return err
	}
	for _, k := range st.LinkKeys() {
		fmt.Printf("%v  link key       type %d\n", k.Addr, k.Type)
	}
	for _, k := range st.LongTermKeys() {
		fmt.Printf("%v  long term key  master=%v size %d\n", k.Addr, k.Master, k.EncSize)
	}
	for _, k := range st.IdentityKeys() {
		fmt.Printf("%v  identity key\n", k.Addr)
	}
	for _, k := range st.SignatureKeys() {
		fmt.Printf("%v  signature key  type %d\n", k.Addr, k.Type)
	}
	return nil
}
