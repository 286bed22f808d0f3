package bootloader

import (
	"time"

	"github.com/moffa90/go-timonel/protocol"
)

// Config holds the client configuration.
type Config struct {
	// ProgressCallback is called during uploads to report progress (optional)
	ProgressCallback ProgressCallback

	// Logger is used for logging operations (optional)
	Logger Logger

	// Signature is the bootloader signature the slave must report
	Signature byte

	// Retries is the number of retry attempts for failed transactions and pages
	Retries int

	// RetryDelay is the pause before a retry
	RetryDelay time.Duration

	// PageWriteDelay is the pause after each full page while the slave
	// programs its flash
	PageWriteDelay time.Duration

	// DeleteDelay is the pause after Delete Flash while the slave erases
	// and restarts
	DeleteDelay time.Duration

	// VerifyAfterWrite enables reading back written pages when the slave
	// supports Read Flash
	VerifyAfterWrite bool
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		Signature:        protocol.SignatureTimonel,
		Retries:          3,
		RetryDelay:       10 * time.Millisecond,
		PageWriteDelay:   20 * time.Millisecond,
		DeleteDelay:      750 * time.Millisecond,
		VerifyAfterWrite: true,
	}
}

// Option is a functional option for configuring the Client.
type Option func(*Config)

// WithProgressCallback sets a callback function to track upload progress.
//
// Example:
//
//	client := bootloader.New(bus, addr,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("%.1f%% complete\n", p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets a logger for the client operations.
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithSignature sets the bootloader signature expected from the slave.
func WithSignature(sig byte) Option {
	return func(c *Config) {
		c.Signature = sig
	}
}

// WithRetries sets the number of retry attempts for failed transactions.
//
// Example:
//
//	client := bootloader.New(bus, addr, bootloader.WithRetries(5))
func WithRetries(retries int) Option {
	return func(c *Config) {
		if retries >= 0 {
			c.Retries = retries
		}
	}
}

// WithRetryDelay sets the pause before a retry.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.RetryDelay = d
		}
	}
}

// WithPageWriteDelay sets the pause after each page is written.
func WithPageWriteDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.PageWriteDelay = d
		}
	}
}

// WithDeleteDelay sets the pause after the application is deleted.
func WithDeleteDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.DeleteDelay = d
		}
	}
}

// WithVerifyAfterWrite enables or disables read-back verification.
// Default is true.
//
// Example:
//
//	client := bootloader.New(bus, addr, bootloader.WithVerifyAfterWrite(false))
func WithVerifyAfterWrite(verify bool) Option {
	return func(c *Config) {
		c.VerifyAfterWrite = verify
	}
}
