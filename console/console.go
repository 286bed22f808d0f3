// Package console prints the operator feedback of the updater to a terminal
// or to a serial port.
package console

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/moffa90/go-timonel/protocol"
)

// Serial line settings of the console.
const (
	BaudRate = 115200
	DataBits = 8
)

// ClearScreen is the ANSI sequence that clears the terminal and homes the cursor.
const ClearScreen = "\x1b[2J\x1b[H"

const logo = `
  _____ _                             _
 |_   _(_)_ __ ___   ___  _ __   ___| |
   | | | | '_ ` + "`" + ` _ \ / _ \| '_ \ / _ \ |
   | | | | | | | | | (_) | | | |  __/ |
   |_| |_|_| |_| |_|\___/|_| |_|\___|_|
`

// Console writes operator messages. It is safe for concurrent use.
type Console struct {
	mu        sync.Mutex
	w         io.Writer
	starDelay time.Duration
}

// Option configures a Console.
type Option func(*Console)

// WithStarDelay sets the pause between the stars of ThreeStarDelay.
func WithStarDelay(d time.Duration) Option {
	return func(c *Console) {
		if d >= 0 {
			c.starDelay = d
		}
	}
}

// New creates a Console writing to w.
func New(w io.Writer, opts ...Option) *Console {
	c := &Console{w: w, starDelay: 250 * time.Millisecond}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OpenSerial opens port at baud 8N1 for console output.
func OpenSerial(port string, baud int) (serial.Port, error) {
	if baud <= 0 {
		baud = BaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial console %s: %w", port, err)
	}
	return p, nil
}

// Ports lists the serial ports present on the host.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}

// Printf writes a formatted message.
func (c *Console) Printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

// Println writes its arguments followed by a newline.
func (c *Console) Println(args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, args...)
}

// ClrScr clears the terminal.
func (c *Console) ClrScr() {
	c.Printf("%s", ClearScreen)
}

// PrintLogo prints the Timonel banner.
func (c *Console) PrintLogo() {
	c.Printf("%s\n", logo)
}

// ShowHeader prints the program name, version and board wiring.
func (c *Console) ShowHeader(version, board string) {
	c.Printf("Timonel multi-slave I2C updater v%s\n", version)
	if board != "" {
		c.Printf("Board: %s\n", board)
	}
	c.Printf("%s\n", strings.Repeat(".", 64))
}

// ThreeStarDelay prints three stars with a pause after each one.
func (c *Console) ThreeStarDelay(ctx context.Context) error {
	for i := 0; i < 3; i++ {
		c.Printf("*")
		if c.starDelay > 0 {
			t := time.NewTimer(c.starDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				c.Printf("\n")
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	c.Printf("\n")
	return nil
}

// PrintStatus prints the bootloader status of the slave at addr.
func (c *Console) PrintStatus(addr uint16, s *protocol.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.w, " ____________________________________\n")
	fmt.Fprintf(c.w, "| Device address: 0x%02X\n", addr)
	fmt.Fprintf(c.w, "| Signature: 0x%02X (%q)\n", s.Signature, rune(s.Signature))
	fmt.Fprintf(c.w, "| Timonel version: %d.%d\n", s.VersionMajor, s.VersionMinor)
	fmt.Fprintf(c.w, "| Features: 0x%02X %s\n", s.Features, featureList(protocol.FeatureNames(s.Features)))
	fmt.Fprintf(c.w, "| Ext features: 0x%02X %s\n", s.ExtFeatures, featureList(protocol.ExtFeatureNames(s.ExtFeatures)))
	fmt.Fprintf(c.w, "| Bootloader start: 0x%04X\n", s.BootloaderStart)
	if s.HasApplication() {
		fmt.Fprintf(c.w, "| Application start: 0x%04X\n", s.ApplicationStart)
	} else {
		fmt.Fprintf(c.w, "| Application start: none\n")
	}
	fmt.Fprintf(c.w, "| Trampoline: 0x%04X @ 0x%04X\n", s.TrampolineWord, s.TrampolineAddr)
	fmt.Fprintf(c.w, "| Low fuse: 0x%02X  OSCCAL: 0x%02X\n", s.LowFuse, s.OscCal)
	fmt.Fprintf(c.w, " ------------------------------------\n")
}

// PrintDeviceInfo prints the signature and fuses read with Read Device.
func (c *Console) PrintDeviceInfo(addr uint16, d *protocol.DeviceInfo) {
	c.Printf("0x%02X signature %02X %02X %02X  lfuse 0x%02X hfuse 0x%02X efuse 0x%02X lock 0x%02X osccal 0x%02X\n",
		addr, d.Signature[0], d.Signature[1], d.Signature[2],
		d.LowFuse, d.HighFuse, d.ExtFuse, d.LockBits, d.OscCal)
}

func featureList(names []string) string {
	return "[" + strings.Join(names, " ") + "]"
}
