package twi

import (
	"context"
	"fmt"
	"time"

	"github.com/moffa90/go-timonel/protocol"
)

// Address ranges used by Timonel slaves and their applications.
const (
	// MinAddr is the lowest non-reserved 7-bit address
	MinAddr = 8

	// MaxAddr is the highest non-reserved 7-bit address
	MaxAddr = 119

	// LowBootloaderAddr is the lowest address a Timonel bootloader answers on
	LowBootloaderAddr = 8

	// HighBootloaderAddr is the highest address a Timonel bootloader answers on
	HighBootloaderAddr = 35

	// AppAddrOffset is added to a bootloader address to get its application address
	AppAddrOffset = 28

	// LowAppAddr is the lowest application address
	LowAppAddr = LowBootloaderAddr + AppAddrOffset

	// HighAppAddr is the highest application address
	HighAppAddr = HighBootloaderAddr + AppAddrOffset
)

// IsBootloaderAddr reports whether addr is in the bootloader range.
func IsBootloaderAddr(addr uint16) bool {
	return addr >= LowBootloaderAddr && addr <= HighBootloaderAddr
}

// IsAppAddr reports whether addr is in the application range.
func IsAppAddr(addr uint16) bool {
	return addr >= LowAppAddr && addr <= HighAppAddr
}

// Firmware identifies what a responding slave is running.
type Firmware int

const (
	FirmwareUnknown Firmware = iota
	FirmwareTimonel
	FirmwareApplication
)

func (f Firmware) String() string {
	switch f {
	case FirmwareTimonel:
		return "Timonel"
	case FirmwareApplication:
		return "Application"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (f Firmware) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// DeviceInfo describes a slave found by a bus scan.
type DeviceInfo struct {
	Addr         uint16   `yaml:"addr"`
	Firmware     Firmware `yaml:"firmware"`
	VersionMajor byte     `yaml:"version_major"`
	VersionMinor byte     `yaml:"version_minor"`
}

func (d DeviceInfo) String() string {
	if d.Firmware == FirmwareTimonel {
		return fmt.Sprintf("0x%02X %s v%d.%d", d.Addr, d.Firmware, d.VersionMajor, d.VersionMinor)
	}
	return fmt.Sprintf("0x%02X %s", d.Addr, d.Firmware)
}

// ScanConfig holds the scanner configuration.
type ScanConfig struct {
	// MaxDevices caps the number of Timonel devices returned (0 means no
	// cap). Applications and unknown slaves are always reported.
	MaxDevices int

	// Signature is the bootloader signature a Timonel device must report
	Signature byte

	// RetryDelay is the pause between scans in WaitForDevices when no
	// retry callback is given
	RetryDelay time.Duration

	// FirstAddr and LastAddr bound the probed address range
	FirstAddr uint16
	LastAddr  uint16
}

func defaultScanConfig() ScanConfig {
	return ScanConfig{
		MaxDevices: HighBootloaderAddr - LowBootloaderAddr + 1,
		Signature:  protocol.SignatureTimonel,
		RetryDelay: time.Second,
		FirstAddr:  MinAddr,
		LastAddr:   MaxAddr,
	}
}

// ScanOption configures a Scanner.
type ScanOption func(*ScanConfig)

// WithMaxDevices caps the number of Timonel devices a scan returns.
func WithMaxDevices(n int) ScanOption {
	return func(c *ScanConfig) {
		if n >= 0 {
			c.MaxDevices = n
		}
	}
}

// WithSignature sets the bootloader signature that identifies Timonel devices.
func WithSignature(sig byte) ScanOption {
	return func(c *ScanConfig) {
		c.Signature = sig
	}
}

// WithRetryDelay sets the pause between scans in WaitForDevices.
func WithRetryDelay(d time.Duration) ScanOption {
	return func(c *ScanConfig) {
		c.RetryDelay = d
	}
}

// WithAddrRange restricts the probed address range.
func WithAddrRange(first, last uint16) ScanOption {
	return func(c *ScanConfig) {
		if first >= MinAddr && last <= MaxAddr && first <= last {
			c.FirstAddr = first
			c.LastAddr = last
		}
	}
}

// Scanner discovers slaves on a bus.
type Scanner struct {
	bus    Bus
	config ScanConfig
}

// NewScanner creates a Scanner for bus.
func NewScanner(bus Bus, opts ...ScanOption) *Scanner {
	if bus == nil {
		panic("bus cannot be nil")
	}

	cfg := defaultScanConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Scanner{bus: bus, config: cfg}
}

// Scan probes every address in range and classifies the responding slaves.
// Slaves in the bootloader range are queried for their status; those
// reporting the configured signature are FirmwareTimonel. Timonel devices
// past MaxDevices are left out. Results are ordered by address.
func (s *Scanner) Scan(ctx context.Context) ([]DeviceInfo, error) {
	var found []DeviceInfo
	probe := make([]byte, 1)
	timonels := 0

	for addr := s.config.FirstAddr; addr <= s.config.LastAddr; addr++ {
		if err := ctx.Err(); err != nil {
			return found, fmt.Errorf("cancelled: %w", err)
		}

		if err := s.bus.Tx(addr, nil, probe); err != nil {
			continue
		}

		info := DeviceInfo{Addr: addr}
		switch {
		case IsBootloaderAddr(addr):
			if status, err := s.queryStatus(addr); err == nil && status.IsTimonel(s.config.Signature) {
				info.Firmware = FirmwareTimonel
				info.VersionMajor = status.VersionMajor
				info.VersionMinor = status.VersionMinor
			}
		case IsAppAddr(addr):
			info.Firmware = FirmwareApplication
		}

		if info.Firmware == FirmwareTimonel {
			if s.config.MaxDevices > 0 && timonels >= s.config.MaxDevices {
				continue
			}
			timonels++
		}
		found = append(found, info)
	}

	return found, nil
}

// BootloaderAddrs returns the addresses of slaves running Timonel.
func (s *Scanner) BootloaderAddrs(ctx context.Context) ([]uint16, error) {
	devices, err := s.Scan(ctx)
	if err != nil {
		return nil, err
	}

	var addrs []uint16
	for _, d := range devices {
		if d.Firmware == FirmwareTimonel {
			addrs = append(addrs, d.Addr)
		}
	}
	return addrs, nil
}

// WaitForDevices scans until at least one slave satisfies want, or until
// any slave responds when want is nil. It returns the whole last scan.
// onRetry is called before every rescan with the number of failed scans so
// far; it may pace the retries itself. When nil, RetryDelay is used.
func (s *Scanner) WaitForDevices(ctx context.Context, want func(DeviceInfo) bool, onRetry func(ctx context.Context, attempt int) error) ([]DeviceInfo, error) {
	for attempt := 1; ; attempt++ {
		devices, err := s.Scan(ctx)
		if err != nil {
			return nil, err
		}
		for _, d := range devices {
			if want == nil || want(d) {
				return devices, nil
			}
		}

		if onRetry != nil {
			if err := onRetry(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("cancelled: %w", ctx.Err())
		case <-time.After(s.config.RetryDelay):
		}
	}
}

func (s *Scanner) queryStatus(addr uint16) (*protocol.Status, error) {
	cmd, err := protocol.BuildSimpleCmd(protocol.CmdGetVersion)
	if err != nil {
		return nil, err
	}

	reply := make([]byte, protocol.GetVersionReplySize)
	if err := s.bus.Tx(addr, cmd, reply); err != nil {
		return nil, err
	}

	return protocol.ParseGetVersionReply(reply)
}
