package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"github.com/moffa90/go-timonel/bootloader"
	"github.com/moffa90/go-timonel/config"
	"github.com/moffa90/go-timonel/console"
	"github.com/moffa90/go-timonel/internal/logging"
	"github.com/moffa90/go-timonel/payload"
	"github.com/moffa90/go-timonel/protocol"
	"github.com/moffa90/go-timonel/twi"
	"github.com/moffa90/go-timonel/twi/twitest"
	"github.com/moffa90/go-timonel/updater"
)

// app carries everything a command needs once flags and configuration are
// resolved.
type app struct {
	cfg     *config.Config
	log     *logging.Logger
	con     *console.Console
	out     io.Writer
	bus     twi.Bus
	output  string
	closers []io.Closer
}

func newApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	output, _ := cmd.Flags().GetString("output")
	if output != "text" && output != "yaml" {
		return nil, fmt.Errorf("unknown output format %q (text or yaml)", output)
	}

	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, err
	}

	log, err := logging.New(logging.Options{Level: cfg.Log.Level, Console: cfg.Log.Console})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, out: cmd.OutOrStdout(), output: output}

	// YAML on stdout must stay parseable
	consoleOut := a.out
	if output == "yaml" {
		consoleOut = cmd.ErrOrStderr()
	}
	if cfg.Serial.Port != "" {
		port, err := console.OpenSerial(cfg.Serial.Port, cfg.Serial.Baud)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, port)
		consoleOut = port
	}
	a.con = console.New(consoleOut, console.WithStarDelay(cfg.Timing.StarDelay))

	if err := a.openBus(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openBus() error {
	if a.cfg.Simulate.Enabled {
		var slaves []twitest.Slave
		for _, addr := range a.cfg.SimulatedAddrs() {
			slaves = append(slaves, twitest.NewTimonel(addr))
		}
		a.bus = twi.NewLockedBus(twitest.NewBus(slaves...))
		a.log.Info("using simulated bus", "slaves", len(slaves))
		return nil
	}

	bus, err := twi.OpenBus(a.cfg.I2C.Bus, physic.Frequency(a.cfg.I2C.SpeedHz)*physic.Hertz)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, bus)
	a.bus = twi.NewLockedBus(bus)
	return nil
}

// Close releases the bus and the serial console.
func (a *app) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i].Close())
	}
	return err
}

func (a *app) clientOptions(extra ...bootloader.Option) []bootloader.Option {
	t := a.cfg.Timing
	opts := []bootloader.Option{
		bootloader.WithLogger(a.log),
		bootloader.WithSignature(byte(a.cfg.Signature)),
		bootloader.WithRetries(t.Retries),
		bootloader.WithRetryDelay(t.RetryDelay),
		bootloader.WithPageWriteDelay(t.PageWriteDelay),
		bootloader.WithDeleteDelay(t.DeleteDelay),
		bootloader.WithVerifyAfterWrite(t.Verify),
	}
	return append(opts, extra...)
}

func (a *app) client(addr uint16, extra ...bootloader.Option) *bootloader.Client {
	return bootloader.New(a.bus, addr, a.clientOptions(extra...)...)
}

func (a *app) scanner() *twi.Scanner {
	return twi.NewScanner(a.bus,
		twi.WithSignature(byte(a.cfg.Signature)),
		twi.WithMaxDevices(0),
		twi.WithRetryDelay(a.cfg.Timing.ScanDelay),
	)
}

// updaterOptions builds the updater settings for loops update cycles.
func (a *app) updaterOptions(loops int) ([]updater.Option, error) {
	opts := []updater.Option{
		updater.WithConsole(a.con),
		updater.WithLogger(a.log),
		updater.WithForceUpdate(a.cfg.Payload.Force),
		updater.WithVersionOffset(a.cfg.Payload.VersionOffset),
		updater.WithMaxDevices(a.cfg.MaxTwiDevs),
		updater.WithLoopCount(loops),
		updater.WithSignature(byte(a.cfg.Signature)),
		updater.WithBoard(a.boardLabel()),
		updater.WithClientOptions(a.clientOptions()...),
		updater.WithScanOptions(twi.WithRetryDelay(a.cfg.Timing.ScanDelay)),
	}
	if a.cfg.Payload.Path != "" {
		p, err := a.payload("")
		if err != nil {
			return nil, err
		}
		opts = append(opts, updater.WithPayload(p))
	}
	return opts, nil
}

// payload loads the image named by arg, falling back to the configured path.
func (a *app) payload(arg string) (*payload.Payload, error) {
	path := arg
	if path == "" {
		path = a.cfg.Payload.Path
	}
	if path == "" {
		return nil, fmt.Errorf("no payload given (use --payload or payload.path)")
	}
	return payload.Parse(path)
}

func (a *app) boardLabel() string {
	b, err := a.cfg.BoardProfile()
	if err != nil {
		return a.cfg.Board
	}
	return b.String()
}

// emit writes v as YAML when requested; otherwise text is called.
func (a *app) emit(v interface{}, text func()) error {
	if a.output != "yaml" {
		text()
		return nil
	}
	enc := yaml.NewEncoder(a.out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

// parseAddr parses a bootloader address given in decimal or 0x hex.
func parseAddr(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	addr := uint16(v)
	if !twi.IsBootloaderAddr(addr) {
		return 0, fmt.Errorf("address 0x%02X is outside the bootloader range 0x%02X-0x%02X",
			addr, twi.LowBootloaderAddr, twi.HighBootloaderAddr)
	}
	return addr, nil
}

// statusView is the YAML form of a bootloader status block.
type statusView struct {
	Addr             string   `yaml:"addr"`
	Signature        string   `yaml:"signature"`
	Version          string   `yaml:"version"`
	Features         []string `yaml:"features"`
	ExtFeatures      []string `yaml:"ext_features"`
	BootloaderStart  string   `yaml:"bootloader_start"`
	ApplicationStart string   `yaml:"application_start,omitempty"`
	LowFuse          string   `yaml:"low_fuse"`
	OscCal           string   `yaml:"osccal"`
}

func newStatusView(addr uint16, s *protocol.Status) statusView {
	v := statusView{
		Addr:            fmt.Sprintf("0x%02X", addr),
		Signature:       string(rune(s.Signature)),
		Version:         fmt.Sprintf("%d.%d", s.VersionMajor, s.VersionMinor),
		Features:        protocol.FeatureNames(s.Features),
		ExtFeatures:     protocol.ExtFeatureNames(s.ExtFeatures),
		BootloaderStart: fmt.Sprintf("0x%04X", s.BootloaderStart),
		LowFuse:         fmt.Sprintf("0x%02X", s.LowFuse),
		OscCal:          fmt.Sprintf("0x%02X", s.OscCal),
	}
	if s.HasApplication() {
		v.ApplicationStart = fmt.Sprintf("0x%04X", s.ApplicationStart)
	}
	return v
}
