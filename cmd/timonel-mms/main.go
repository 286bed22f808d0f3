// Command timonel-mms detects, queries and updates several ATtiny85 slaves
// running the Timonel bootloader over a shared I2C bus.
//
// Usage:
//
//	timonel-mms [command] [flags]
//
// Examples:
//
//	# Run three update cycles against simulated slaves
//	timonel-mms run --simulate --payload blink.hex
//
//	# List the slaves on /dev/i2c-1
//	timonel-mms scan --bus 1 --output yaml
//
//	# Upload to one slave and start it
//	timonel-mms upload 0x0B --payload blink.hex
//	timonel-mms exec 0x0B
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
