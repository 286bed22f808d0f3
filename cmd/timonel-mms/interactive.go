package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/moffa90/go-timonel/bootloader"
	"github.com/moffa90/go-timonel/console"
	"github.com/moffa90/go-timonel/updater"
)

func newConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Interactive shell for the slaves on the bus",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "timonel> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
				AutoComplete:    shellCompleter,
			})
			if err != nil {
				return fmt.Errorf("failed to create readline: %w", err)
			}
			defer rl.Close()

			sh := &shell{app: a, out: rl.Stdout()}
			if a.cfg.Serial.Port == "" {
				a.con = console.New(sh.out, console.WithStarDelay(a.cfg.Timing.StarDelay))
			}
			return sh.run(cmd.Context(), rl)
		}),
	}
}

var shellCompleter = readline.NewPrefixCompleter(
	readline.PcItem("help"),
	readline.PcItem("scan"),
	readline.PcItem("status"),
	readline.PcItem("upload"),
	readline.PcItem("exec"),
	readline.PcItem("delete"),
	readline.PcItem("reset"),
	readline.PcItem("info"),
	readline.PcItem("cycle"),
	readline.PcItem("exit"),
)

type shell struct {
	app *app
	out io.Writer
}

func (s *shell) run(ctx context.Context, rl *readline.Instance) error {
	s.printHelp()

	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			return nil
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if cmd := strings.ToLower(fields[0]); cmd == "exit" || cmd == "quit" {
			return nil
		}
		if err := s.exec(ctx, strings.ToLower(fields[0]), fields[1:]); err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}

func (s *shell) exec(ctx context.Context, cmd string, args []string) error {
	a := s.app

	switch cmd {
	case "help", "?":
		s.printHelp()
		return nil

	case "scan":
		devices, err := a.scanner().Scan(ctx)
		if err != nil {
			return err
		}
		for _, d := range devices {
			fmt.Fprintln(s.out, d)
		}
		fmt.Fprintf(s.out, "%d device(s)\n", len(devices))
		return nil

	case "cycle":
		opts, err := a.updaterOptions(1)
		if err != nil {
			return err
		}
		_, err = updater.New(a.bus, opts...).Run(ctx)
		return err
	}

	if len(args) == 0 {
		if cmd == "status" {
			addrs, err := a.scanner().BootloaderAddrs(ctx)
			if err != nil {
				return err
			}
			for _, addr := range addrs {
				if err := s.status(ctx, addr); err != nil {
					return err
				}
			}
			return nil
		}
		return fmt.Errorf("usage: %s <addr>", cmd)
	}

	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	client := a.client(addr)

	switch cmd {
	case "status":
		return s.status(ctx, addr)

	case "upload":
		var file string
		if len(args) > 1 {
			file = args[1]
		}
		p, err := a.payload(file)
		if err != nil {
			return err
		}
		client = a.client(addr, bootloader.WithProgressCallback(progressPrinter(a.con)))
		if err := client.Program(ctx, p); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "\n0x%02X: %d bytes written\n", addr, p.Size())

	case "exec":
		if err := client.RunApplication(ctx); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "0x%02X: application started on 0x%02X\n", addr, client.AppAddr())

	case "delete":
		if err := client.DeleteApplication(ctx); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "0x%02X: application deleted\n", addr)

	case "reset":
		if len(args) > 1 && args[1] == "app" {
			err = client.ResetApplication(ctx)
		} else {
			err = client.ResetDevice(ctx)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "0x%02X: reset\n", addr)

	case "info":
		info, err := client.ReadDeviceInfo(ctx)
		if err != nil {
			return err
		}
		a.con.PrintDeviceInfo(addr, info)

	default:
		return fmt.Errorf("unknown command %q (type help)", cmd)
	}
	return nil
}

func (s *shell) status(ctx context.Context, addr uint16) error {
	status, err := s.app.client(addr).GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("device 0x%02X: %w", addr, err)
	}
	s.app.con.PrintStatus(addr, status)
	return nil
}

func (s *shell) printHelp() {
	fmt.Fprint(s.out, `Commands:
  scan                  list the slaves on the bus
  status [addr]         print bootloader status (default all)
  upload <addr> [file]  replace the application
  exec <addr>           start the application
  delete <addr>         erase the application
  reset <addr> [app]    reset the slave or its running application
  info <addr>           read signature and fuses
  cycle                 run one update cycle over all slaves
  exit                  leave the shell
`)
}
