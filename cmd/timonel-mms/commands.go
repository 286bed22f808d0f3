package main

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/moffa90/go-timonel/bootloader"
	"github.com/moffa90/go-timonel/config"
	"github.com/moffa90/go-timonel/console"
	"github.com/moffa90/go-timonel/payload"
	"github.com/moffa90/go-timonel/protocol"
	"github.com/moffa90/go-timonel/updater"
	"github.com/moffa90/go-timonel/version"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "timonel-mms",
		Short:         "Update several Timonel bootloader slaves over I2C",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.String("config", "", "Configuration file (YAML)")
	f.String("board", config.DefaultBoard, "Master board profile: esp8266, esp32")
	f.String("port", "", "Serial port for the console (default stdout)")
	f.String("bus", "", "I2C bus name, e.g. 1 or /dev/i2c-1 (default first bus)")
	f.String("payload", "", "Application image (.hex or .bin)")
	f.Bool("force", false, "Upload even when the slave already holds the payload")
	f.Int("loops", 3, "Number of update cycles")
	f.String("log-level", "info", "Log level: debug, info, warn, error")
	f.Bool("simulate", false, "Use simulated slaves instead of a real bus")
	f.StringP("output", "o", "text", "Output format: text, yaml")

	root.AddCommand(
		newRunCmd(),
		newScanCmd(),
		newStatusCmd(),
		newUploadCmd(),
		newExecCmd(),
		newDeleteCmd(),
		newResetCmd(),
		newInfoCmd(),
		newDumpCmd(),
		newPortsCmd(),
		newInspectCmd(),
		newConsoleCmd(),
		newVersionCmd(),
	)
	return root
}

// withApp wraps a command body with application setup and teardown.
func withApp(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := a.Close(); err == nil {
				err = cerr
			}
		}()
		return fn(cmd, a, args)
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Discover the slaves and run the update cycles",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			opts, err := a.updaterOptions(a.cfg.LoopCount)
			if err != nil {
				return err
			}

			cycles, err := updater.New(a.bus, opts...).Run(cmd.Context())
			if a.output == "yaml" {
				if eerr := a.emit(cycles, nil); eerr != nil {
					return eerr
				}
			}
			return err
		}),
	}
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "List the slaves answering on the bus",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			devices, err := a.scanner().Scan(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(devices, func() {
				if len(devices) == 0 {
					fmt.Fprintln(a.out, "No devices found")
				}
				for _, d := range devices {
					fmt.Fprintln(a.out, d)
				}
			})
		}),
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [addr...]",
		Short: "Print the bootloader status of slaves (default all)",
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			addrs, err := a.targets(cmd, args)
			if err != nil {
				return err
			}

			var views []statusView
			for _, addr := range addrs {
				status, err := a.client(addr).GetStatus(cmd.Context())
				if err != nil {
					return fmt.Errorf("device 0x%02X: %w", addr, err)
				}
				if a.output == "text" {
					a.con.PrintStatus(addr, status)
				}
				views = append(views, newStatusView(addr, status))
			}
			return a.emit(views, func() {})
		}),
	}
}

func newUploadCmd() *cobra.Command {
	var start string
	cmd := &cobra.Command{
		Use:   "upload <addr> [file]",
		Short: "Replace the application of a slave",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			var file string
			if len(args) > 1 {
				file = args[1]
			}
			p, err := a.payload(file)
			if err != nil {
				return err
			}

			client := a.client(addr, bootloader.WithProgressCallback(progressPrinter(a.con)))
			if start == "" {
				err = client.Program(cmd.Context(), p)
			} else {
				var at uint64
				at, err = strconv.ParseUint(start, 0, 16)
				if err != nil {
					return fmt.Errorf("invalid start address %q: %w", start, err)
				}
				err = client.UploadApplication(cmd.Context(), p, uint16(at))
			}
			if err != nil {
				return err
			}
			a.con.Printf("\n0x%02X: %d bytes written\n", addr, p.Size())
			return nil
		}),
	}
	cmd.Flags().StringVar(&start, "start", "", "Flash address to write at without deleting first")
	return cmd
}

func newExecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <addr>",
		Short: "Exit the bootloader and start the application",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			client := a.client(addr)
			if err := client.RunApplication(cmd.Context()); err != nil {
				return err
			}
			a.con.Printf("0x%02X: application started on 0x%02X\n", addr, client.AppAddr())
			return nil
		}),
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <addr>",
		Short: "Erase the application of a slave",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			if err := a.client(addr).DeleteApplication(cmd.Context()); err != nil {
				return err
			}
			a.con.Printf("0x%02X: application deleted\n", addr)
			return nil
		}),
	}
}

func newResetCmd() *cobra.Command {
	var application bool
	cmd := &cobra.Command{
		Use:   "reset <addr>",
		Short: "Reset a slave",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			client := a.client(addr)
			if application {
				err = client.ResetApplication(cmd.Context())
			} else {
				err = client.ResetDevice(cmd.Context())
			}
			if err != nil {
				return err
			}
			a.con.Printf("0x%02X: reset\n", addr)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&application, "app", false, "Reset the running application on addr+28")
	return cmd
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <addr>",
		Short: "Read the device signature and fuses",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			info, err := a.client(addr).ReadDeviceInfo(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(info, func() { a.con.PrintDeviceInfo(addr, info) })
		}),
	}
}

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <addr> <start> <length>",
		Short: "Hex dump a flash range",
		Args:  cobra.ExactArgs(3),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			start, err := strconv.ParseUint(args[1], 0, 16)
			if err != nil {
				return fmt.Errorf("invalid start %q: %w", args[1], err)
			}
			n, err := strconv.ParseUint(args[2], 0, 16)
			if err != nil || n == 0 || start+n > protocol.FlashSize {
				return fmt.Errorf("invalid length %q", args[2])
			}
			data, err := a.client(addr).ReadFlash(cmd.Context(), uint16(start), int(n))
			if err != nil {
				return err
			}
			fmt.Fprint(a.out, hex.Dump(data))
			return nil
		}),
	}
}

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List the serial ports usable as console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := console.Ports()
			if err != nil {
				return err
			}
			for _, p := range ports {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Parse an application image and describe its pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := payload.Parse(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "Payload: %s\n", args[0])
			fmt.Fprintf(out, "  Base:   0x%04X\n", p.Base)
			fmt.Fprintf(out, "  Size:   %d bytes\n", p.Size())
			if target, err := p.ResetTarget(); err == nil {
				fmt.Fprintf(out, "  Entry:  0x%04X\n", target)
			} else {
				fmt.Fprintf(out, "  Entry:  %v\n", err)
			}

			pages := p.Pages(protocol.PageSize)
			fmt.Fprintf(out, "  Pages:  %d of %d bytes\n", len(pages), protocol.PageSize)

			shown := len(pages)
			if shown > 4 {
				shown = 4
			}
			for i := 0; i < shown; i++ {
				fmt.Fprintf(out, "  0x%04X: % 02X ...\n", int(p.Base)+i*protocol.PageSize, pages[i][:16])
			}
			if len(pages) > shown {
				fmt.Fprintf(out, "  ... and %d more pages\n", len(pages)-shown)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "timonel-mms %s\n", version.String())
		},
	}
}

// targets resolves command arguments to addresses, scanning the bus when
// none are given.
func (a *app) targets(cmd *cobra.Command, args []string) ([]uint16, error) {
	if len(args) == 0 {
		addrs, err := a.scanner().BootloaderAddrs(cmd.Context())
		if err != nil {
			return nil, err
		}
		if len(addrs) == 0 {
			return nil, updater.ErrNoDevices
		}
		return addrs, nil
	}

	addrs := make([]uint16, 0, len(args))
	for _, arg := range args {
		addr, err := parseAddr(arg)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

func progressPrinter(con *console.Console) bootloader.ProgressCallback {
	return func(p bootloader.Progress) {
		con.Printf("\r0x%02X [%-9s] %5.1f%% page %d/%d", p.Addr, p.Phase, p.Percentage, p.CurrentPage, p.TotalPages)
	}
}
