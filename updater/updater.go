// Package updater runs the multi-slave update demo: it discovers the
// Timonel slaves on a bus, brings each one up to date with the configured
// payload and starts the applications, for a fixed number of cycles.
package updater

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/moffa90/go-timonel/bootloader"
	"github.com/moffa90/go-timonel/console"
	"github.com/moffa90/go-timonel/protocol"
	"github.com/moffa90/go-timonel/twi"
	"github.com/moffa90/go-timonel/version"
)

// ErrNoDevices is returned when no Timonel slave is found on the bus.
var ErrNoDevices = errors.New("no Timonel devices found")

// Result is the outcome of one slave in an update cycle.
type Result struct {
	Addr    uint16 `yaml:"addr"`
	Updated bool   `yaml:"updated"`
	Started bool   `yaml:"started"`
	Error   string `yaml:"error,omitempty"`
}

// Cycle is the outcome of one pass over all slaves.
type Cycle struct {
	Session string   `yaml:"session"`
	Number  int      `yaml:"number"`
	Results []Result `yaml:"results"`
}

// Updater drives every Timonel slave found on a bus.
type Updater struct {
	bus     twi.Bus
	scanner *twi.Scanner
	config  Config
	clients []*bootloader.Client
	cycles  int
}

// New creates an Updater for bus.
//
// Example:
//
//	u := updater.New(bus,
//	    updater.WithPayload(p),
//	    updater.WithConsole(console.New(os.Stdout)),
//	)
//	cycles, err := u.Run(ctx)
func New(bus twi.Bus, opts ...Option) *Updater {
	if bus == nil {
		panic("bus cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Console == nil {
		cfg.Console = console.New(io.Discard)
	}
	if cfg.NewSessionID == nil {
		cfg.NewSessionID = uuid.NewString
	}

	bus = twi.NewLockedBus(bus)
	scanOpts := append([]twi.ScanOption{
		twi.WithMaxDevices(0),
		twi.WithSignature(cfg.Signature),
	}, cfg.ScanOptions...)

	return &Updater{
		bus:     bus,
		scanner: twi.NewScanner(bus, scanOpts...),
		config:  cfg,
	}
}

// Clients returns the bootloader clients found by the last discovery.
func (u *Updater) Clients() []*bootloader.Client {
	return u.clients
}

// Setup prints the banner and waits until Timonel slaves show up on the
// bus. Slaves that are running their application are reset into the
// bootloader first.
func (u *Updater) Setup(ctx context.Context) error {
	con := u.config.Console
	con.ClrScr()
	con.PrintLogo()
	con.ShowHeader(version.String(), u.config.Board)

	if err := u.discover(ctx); err != nil {
		return err
	}

	for _, c := range u.clients {
		if _, err := u.PrintStatus(ctx, c); err != nil {
			u.logError("status query failed", "addr", fmt.Sprintf("0x%02X", c.Addr()), "error", err)
		}
	}
	return nil
}

// Loop runs one update cycle over the discovered slaves. Every slave is
// checked, updated when needed and started. A failing slave does not stop
// the cycle; the errors of all slaves are combined.
func (u *Updater) Loop(ctx context.Context) (*Cycle, error) {
	if len(u.clients) == 0 {
		return nil, ErrNoDevices
	}

	u.cycles++
	cycle := &Cycle{Session: u.config.NewSessionID(), Number: u.cycles}
	u.logInfo("update cycle started", "session", cycle.Session, "cycle", cycle.Number, "devices", len(u.clients))
	u.config.Console.Printf("\nCycle %d (%s)\n", cycle.Number, cycle.Session)

	var errs error
	for _, c := range u.clients {
		if err := ctx.Err(); err != nil {
			return cycle, multierr.Append(errs, fmt.Errorf("cancelled: %w", err))
		}

		res := u.updateDevice(ctx, cycle.Session, c)
		cycle.Results = append(cycle.Results, res.Result)
		if res.err != nil {
			errs = multierr.Append(errs, fmt.Errorf("device 0x%02X: %w", c.Addr(), res.err))
		}
	}

	u.logInfo("update cycle finished", "session", cycle.Session, "cycle", cycle.Number,
		"failed", len(multierr.Errors(errs)))
	return cycle, errs
}

// Run performs Setup and then LoopCount update cycles. Between cycles the
// applications are reset back into the bootloader and the bus is scanned
// again.
func (u *Updater) Run(ctx context.Context) ([]*Cycle, error) {
	if err := u.Setup(ctx); err != nil {
		return nil, err
	}

	var (
		cycles []*Cycle
		errs   error
	)
	for i := 0; i < u.config.LoopCount; i++ {
		if i > 0 {
			if err := u.restart(ctx); err != nil {
				return cycles, multierr.Append(errs, err)
			}
		}

		cycle, err := u.Loop(ctx)
		if cycle != nil {
			cycles = append(cycles, cycle)
		}
		errs = multierr.Append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return cycles, errs
}

// CheckApplUpdate reports whether the slave needs the payload. It does when
// the update is forced, when the slave has no application, or when the
// flashed application differs from the payload. Slaves that cannot read
// their flash keep their application.
func (u *Updater) CheckApplUpdate(ctx context.Context, c *bootloader.Client) (bool, error) {
	p := u.config.Payload
	if p == nil {
		return false, nil
	}

	status, err := c.Identify(ctx)
	if err != nil {
		return false, err
	}

	switch {
	case u.config.Force:
		return true, nil
	case !status.HasApplication():
		return true, nil
	case !status.Has(protocol.FeatureCmdReadFlash):
		u.logDebug("cannot compare application", "addr", fmt.Sprintf("0x%02X", c.Addr()))
		return false, nil
	}

	if u.config.VersionOffset >= 0 {
		major, minor, err := p.Version(u.config.VersionOffset)
		if err != nil {
			return false, err
		}
		got, err := c.ReadFlash(ctx, uint16(p.Base)+uint16(u.config.VersionOffset), 2)
		if err != nil {
			return false, fmt.Errorf("read version: %w", err)
		}
		return got[0] != major || got[1] != minor, nil
	}

	want := p.Data
	if int(p.Base)+len(want) > int(status.BootloaderStart) {
		return true, nil
	}
	got, err := c.ReadFlash(ctx, uint16(p.Base), len(want))
	if err != nil {
		return false, fmt.Errorf("read application: %w", err)
	}

	return !sameImage(status, uint16(p.Base), want, got), nil
}

// PrintStatus queries the slave and prints its status block.
func (u *Updater) PrintStatus(ctx context.Context, c *bootloader.Client) (*protocol.Status, error) {
	status, err := c.GetStatus(ctx)
	if err != nil {
		return nil, err
	}
	u.config.Console.PrintStatus(c.Addr(), status)
	return status, nil
}

type deviceResult struct {
	Result
	err error
}

func (u *Updater) updateDevice(ctx context.Context, session string, c *bootloader.Client) deviceResult {
	res := deviceResult{Result: Result{Addr: c.Addr()}}
	fail := func(err error) deviceResult {
		res.err = err
		res.Error = err.Error()
		u.logError("device failed", "session", session, "addr", fmt.Sprintf("0x%02X", c.Addr()), "error", err)
		u.config.Console.Printf("0x%02X: %v\n", c.Addr(), err)
		return res
	}

	need, err := u.CheckApplUpdate(ctx, c)
	if err != nil {
		return fail(fmt.Errorf("check update: %w", err))
	}

	if need {
		u.config.Console.Printf("0x%02X: updating application (%d bytes)\n", c.Addr(), u.config.Payload.Size())
		if err := c.Program(ctx, u.config.Payload); err != nil {
			return fail(fmt.Errorf("program: %w", err))
		}
		res.Updated = true
		if _, err := u.PrintStatus(ctx, c); err != nil {
			return fail(fmt.Errorf("status: %w", err))
		}
	} else {
		u.config.Console.Printf("0x%02X: application is up to date\n", c.Addr())
	}

	if err := c.RunApplication(ctx); err != nil {
		return fail(fmt.Errorf("run application: %w", err))
	}
	res.Started = true
	u.config.Console.Printf("0x%02X: application started on 0x%02X\n", c.Addr(), c.AppAddr())
	u.logInfo("device done", "session", session, "addr", fmt.Sprintf("0x%02X", c.Addr()), "updated", res.Updated)
	return res
}

// discover waits for an updatable slave, resets running applications and
// builds one client per Timonel slave.
func (u *Updater) discover(ctx context.Context) error {
	con := u.config.Console
	con.Printf("Scanning bus %s ", u.bus)
	devices, err := u.scanner.WaitForDevices(ctx, updatable, func(ctx context.Context, attempt int) error {
		u.logDebug("no devices yet", "attempt", attempt)
		return con.ThreeStarDelay(ctx)
	})
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	con.Printf("\n")

	var apps []uint16
	for _, d := range devices {
		if d.Firmware == twi.FirmwareApplication {
			apps = append(apps, d.Addr)
		}
	}
	if len(apps) > 0 {
		u.resetApplications(ctx, apps)
		if devices, err = u.scanner.Scan(ctx); err != nil {
			return fmt.Errorf("rescan: %w", err)
		}
	}

	u.clients = nil
	opts := append([]bootloader.Option{
		bootloader.WithSignature(u.config.Signature),
		bootloader.WithLogger(u.config.Logger),
	}, u.config.ClientOptions...)

	for _, d := range devices {
		if d.Firmware != twi.FirmwareTimonel {
			continue
		}
		if len(u.clients) >= u.config.MaxDevices {
			u.logInfo("device limit reached", "max", u.config.MaxDevices)
			break
		}
		u.clients = append(u.clients, bootloader.New(u.bus, d.Addr, opts...))
		con.Printf("Found %s\n", d)
	}

	if len(u.clients) == 0 {
		return ErrNoDevices
	}
	return nil
}

// updatable matches slaves that are, or can be reset into, Timonel.
func updatable(d twi.DeviceInfo) bool {
	return d.Firmware == twi.FirmwareTimonel || d.Firmware == twi.FirmwareApplication
}

// restart resets the applications started by the previous cycle and
// rediscovers the slaves.
func (u *Updater) restart(ctx context.Context) error {
	addrs := make([]uint16, 0, len(u.clients))
	for _, c := range u.clients {
		addrs = append(addrs, c.AppAddr())
	}
	u.resetApplications(ctx, addrs)

	if err := u.config.Console.ThreeStarDelay(ctx); err != nil {
		return err
	}
	return u.discover(ctx)
}

func (u *Updater) resetApplications(ctx context.Context, addrs []uint16) {
	for _, addr := range addrs {
		c := bootloader.New(u.bus, addr-twi.AppAddrOffset, bootloader.WithRetries(0))
		if err := c.ResetApplication(ctx); err != nil {
			u.logDebug("application reset failed", "app_addr", fmt.Sprintf("0x%02X", addr), "error", err)
			continue
		}
		u.config.Console.Printf("0x%02X: application reset\n", addr)
	}
}

// sameImage compares flashed bytes with the payload. The reset vector and
// the trampoline are rewritten by the bootloader and never match.
func sameImage(status *protocol.Status, base uint16, want, got []byte) bool {
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		addr := base + uint16(i)
		if addr < 2 || (addr >= status.TrampolineAddr && addr < status.BootloaderStart) {
			continue
		}
		if want[i] != got[i] {
			return false
		}
	}
	return true
}

func (u *Updater) logDebug(msg string, keysAndValues ...interface{}) {
	if u.config.Logger != nil {
		u.config.Logger.Debug(msg, keysAndValues...)
	}
}

func (u *Updater) logInfo(msg string, keysAndValues ...interface{}) {
	if u.config.Logger != nil {
		u.config.Logger.Info(msg, keysAndValues...)
	}
}

func (u *Updater) logError(msg string, keysAndValues ...interface{}) {
	if u.config.Logger != nil {
		u.config.Logger.Error(msg, keysAndValues...)
	}
}
