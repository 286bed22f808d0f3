package bootloader

import "time"

// Upload phases reported in Progress.Phase.
const (
	PhaseStatus    = "status"
	PhaseWriting   = "writing"
	PhaseVerifying = "verifying"
	PhaseComplete  = "complete"
)

// Progress contains information about the upload progress.
// Passed to ProgressCallback during upload operations.
type Progress struct {
	// Addr is the slave address being updated
	Addr uint16

	// Phase describes the current operation phase:
	//   "status"    - Querying the bootloader status
	//   "writing"   - Writing flash pages
	//   "verifying" - Reading back written pages
	//   "complete"  - Operation completed successfully
	Phase string

	// CurrentPage is the number of pages written or verified so far
	CurrentPage int

	// TotalPages is the total number of pages to write
	TotalPages int

	// Percentage is the completion percentage (0.0 to 100.0)
	Percentage float64

	// BytesWritten is the total number of bytes written so far
	BytesWritten int

	// ElapsedTime is the time elapsed since the upload started
	ElapsedTime time.Duration
}

// ProgressCallback is called periodically during uploads to report progress.
// Implementations should return quickly to avoid stalling the bus.
//
// Example:
//
//	client := bootloader.New(bus, 0x0B,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("[%s] %.1f%% - Page %d/%d\n",
//	            p.Phase, p.Percentage, p.CurrentPage, p.TotalPages)
//	    }),
//	)
type ProgressCallback func(Progress)

// Logger is an optional logging interface that can be provided to the client.
// This allows integration with any logging framework; internal/logging
// adapts zerolog to it.
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...interface{})

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...interface{})

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...interface{})
}
