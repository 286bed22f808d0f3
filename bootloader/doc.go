// Package bootloader provides a client for slaves running the Timonel I2C bootloader.
//
// # Overview
//
// A Client addresses one slave and covers what the bootloader offers:
//   - Querying the status block (signature, version, features, addresses)
//   - Uploading an application page by page with checksum-verified packets
//   - Building the reset vector and trampoline when the bootloader does not
//   - Reading flash back for verification
//   - Running, deleting and resetting
//
// # Basic Usage
//
//	bus, err := twi.OpenBus("1", 0)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer bus.Close()
//
//	p, err := payload.Parse("blink.hex")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client := bootloader.New(bus, 0x0B)
//	if err := client.Program(ctx, p); err != nil {
//	    log.Fatal(err)
//	}
//	err = client.RunApplication(ctx)
//
// # Configuration Options
//
//	client := bootloader.New(bus, addr,
//	    bootloader.WithProgressCallback(progressFunc),
//	    bootloader.WithLogger(myLogger),
//	    bootloader.WithRetries(5),
//	    bootloader.WithPageWriteDelay(20*time.Millisecond),
//	    bootloader.WithVerifyAfterWrite(true),
//	)
//
// # Error Handling
//
// The package provides structured error types:
//   - SignatureError: the slave is not running the expected bootloader
//   - FeatureError: the bootloader was built without a required command
//   - PayloadTooLargeError: the payload reaches the trampoline page
//   - VerifyError: flash read back differs from what was written
//   - protocol.ReplyError, protocol.ChecksumError: malformed replies
package bootloader
