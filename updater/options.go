package updater

import (
	"github.com/moffa90/go-timonel/bootloader"
	"github.com/moffa90/go-timonel/console"
	"github.com/moffa90/go-timonel/payload"
	"github.com/moffa90/go-timonel/protocol"
	"github.com/moffa90/go-timonel/twi"
)

// Config holds the updater configuration.
type Config struct {
	// Console receives the operator feedback (optional)
	Console *console.Console

	// Logger is used for logging operations (optional)
	Logger bootloader.Logger

	// Payload is the application deployed to every slave (optional)
	Payload *payload.Payload

	// Force uploads the payload even when the slave already holds it
	Force bool

	// VersionOffset locates the version bytes inside the payload; negative
	// values compare the whole image instead
	VersionOffset int

	// MaxDevices caps the number of slaves handled
	MaxDevices int

	// LoopCount is the number of update cycles Run performs
	LoopCount int

	// Signature is the bootloader signature slaves must report
	Signature byte

	// Board is shown in the header
	Board string

	// ClientOptions are applied to every bootloader client
	ClientOptions []bootloader.Option

	// ScanOptions are applied to the bus scanner
	ScanOptions []twi.ScanOption

	// NewSessionID returns the identifier of an update cycle
	NewSessionID func() string
}

func defaultConfig() Config {
	return Config{
		VersionOffset: -1,
		MaxDevices:    twi.HighBootloaderAddr - twi.LowBootloaderAddr + 1,
		LoopCount:     3,
		Signature:     protocol.SignatureTimonel,
	}
}

// Option is a functional option for configuring the Updater.
type Option func(*Config)

// WithConsole sets the console used for operator feedback.
func WithConsole(c *console.Console) Option {
	return func(cfg *Config) {
		cfg.Console = c
	}
}

// WithLogger sets a logger for the updater and its clients.
func WithLogger(logger bootloader.Logger) Option {
	return func(cfg *Config) {
		cfg.Logger = logger
	}
}

// WithPayload sets the application image to deploy.
func WithPayload(p *payload.Payload) Option {
	return func(cfg *Config) {
		cfg.Payload = p
	}
}

// WithForceUpdate makes every cycle upload the payload.
func WithForceUpdate(force bool) Option {
	return func(cfg *Config) {
		cfg.Force = force
	}
}

// WithVersionOffset compares the version bytes at offset instead of the
// whole image when deciding whether a slave needs an update.
func WithVersionOffset(offset int) Option {
	return func(cfg *Config) {
		cfg.VersionOffset = offset
	}
}

// WithMaxDevices caps the number of slaves handled.
func WithMaxDevices(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.MaxDevices = n
		}
	}
}

// WithLoopCount sets the number of update cycles Run performs.
func WithLoopCount(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.LoopCount = n
		}
	}
}

// WithSignature sets the bootloader signature slaves must report.
func WithSignature(sig byte) Option {
	return func(cfg *Config) {
		cfg.Signature = sig
	}
}

// WithBoard sets the board description shown in the header.
func WithBoard(board string) Option {
	return func(cfg *Config) {
		cfg.Board = board
	}
}

// WithClientOptions adds options for every bootloader client.
func WithClientOptions(opts ...bootloader.Option) Option {
	return func(cfg *Config) {
		cfg.ClientOptions = append(cfg.ClientOptions, opts...)
	}
}

// WithScanOptions adds options for the bus scanner.
func WithScanOptions(opts ...twi.ScanOption) Option {
	return func(cfg *Config) {
		cfg.ScanOptions = append(cfg.ScanOptions, opts...)
	}
}

// WithSessionIDFunc replaces the generator of cycle identifiers.
func WithSessionIDFunc(fn func() string) Option {
	return func(cfg *Config) {
		cfg.NewSessionID = fn
	}
}
