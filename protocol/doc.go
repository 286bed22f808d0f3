// Package protocol implements the Timonel bootloader TWI command set.
//
// This package provides functions to build command frames and parse reply frames
// for the Timonel I2C bootloader running on ATtiny85 slaves.
//
// # Protocol Overview
//
// Every exchange is a plain I2C write followed by a read on the slave address:
//
//	Command: [CMD][ARGS...]
//	Reply:   [ACK][DATA...]
//
// Where:
//   - ACK = bitwise complement of CMD (GETTMNLV 0x82 is acknowledged with 0x7D)
//   - Checksums are the low byte of the sum of the covered bytes
//
// # Command Builders
//
// Use the Build* functions to create command frames:
//
//	frame, err := protocol.BuildSimpleCmd(protocol.CmdGetVersion)
//	frame, err := protocol.BuildWritePageCmd(packet)
//	// ... etc
//
// ReplySize tells the transport how many bytes to read back for a frame.
//
// # Reply Parsers
//
// Use the Parse* functions to validate and decode replies:
//
//	status, err := protocol.ParseGetVersionReply(reply)
//	if !status.IsTimonel(protocol.SignatureTimonel) {
//	    return fmt.Errorf("not a Timonel device")
//	}
//
// # Trampoline
//
// The bootloader starts from the reset vector and reaches the application
// through a trampoline: an rjmp stored in the last word below the bootloader.
// EncodeRJMP and DecodeRJMP convert between jump targets and instructions.
package protocol
