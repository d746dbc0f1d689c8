package main

import (
	"fmt"
	"os"

	"github.com/rigado/btcontrol"
	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "btcontrol"
	app.Usage = "drive a Linux Bluetooth adapter: scan, pair and run LE remote controls"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "JSON configuration file",
		},
		cli.UintFlag{
			Name:  "interface, i",
			Usage: "adapter index (hciN)",
		},
		cli.StringFlag{
			Name:  "data, d",
			Usage: "directory for keys and keymaps",
		},
		cli.StringFlag{
			Name:  "uart",
			Usage: "serial port of an H4 controller instead of the kernel socket",
		},
		cli.UintFlag{
			Name:  "baud",
			Value: 1000000,
			Usage: "baud rate of the H4 serial port",
		},
		cli.BoolFlag{
			Name:  "external",
			Usage: "the adapter is powered and configured by someone else",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "debug, info, warn or error",
		},
	}
	app.Before = func(c *cli.Context) error {
		return btcontrol.SetLogLevel(c.GlobalString("log-level"))
	}
	app.Commands = []cli.Command{
		{
			Name:   "scan",
			Usage:  "discover devices",
			Action: scanCommand,
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "classic", Usage: "BR/EDR inquiry instead of an LE scan"},
				cli.BoolFlag{Name: "limited", Usage: "only devices in limited discoverable mode"},
				cli.BoolFlag{Name: "passive", Usage: "LE scan without scan requests"},
			},
		},
		{
			Name:      "pair",
			Usage:     "connect to a device and pair with it",
			ArgsUsage: "<address>",
			Action:    pairCommand,
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "le", Usage: "the address is an LE address"},
				cli.BoolFlag{Name: "random", Usage: "the LE address is a random one"},
				cli.DurationFlag{Name: "timeout", Value: defaultWait, Usage: "give up after this long"},
			},
		},
		{
			Name:      "unpair",
			Usage:     "forget the keys of a device",
			ArgsUsage: "<address>",
			Action:    unpairCommand,
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "le", Usage: "the address is an LE address"},
				cli.BoolFlag{Name: "random", Usage: "the LE address is a random one"},
			},
		},
		{
			Name:      "remote",
			Usage:     "connect to an LE remote control and log its keys until interrupted",
			ArgsUsage: "<address>",
			Action:    remoteCommand,
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "random", Usage: "the address is a random one"},
				cli.StringFlag{Name: "name", Value: "RCU", Usage: "remote name, selects <data>/<name>-remote.json"},
			},
		},
		{
			Name:   "keys",
			Usage:  "list the stored keys",
			Action: keysCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
