package protocol

import (
	"errors"
	"fmt"
)

// ReplyError represents a malformed or unexpected reply from the bootloader.
type ReplyError struct {
	// Operation is the command that failed
	Operation string

	// Expected is the acknowledge code that was expected
	Expected byte

	// Actual is the first byte of the reply
	Actual byte

	// Short is set when the reply was shorter than expected
	Short bool

	// Length is the reply length
	Length int
}

func (e *ReplyError) Error() string {
	if e.Short {
		return fmt.Sprintf("%s failed: short reply (%d bytes)", e.Operation, e.Length)
	}
	return fmt.Sprintf("%s failed: got ack 0x%02X, expected 0x%02X (%s)",
		e.Operation, e.Actual, e.Expected, commandName(^e.Expected))
}

// ChecksumError indicates that a reply checksum does not match the request.
type ChecksumError struct {
	Operation string
	Expected  byte
	Actual    byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("%s failed: checksum 0x%02X, expected 0x%02X",
		e.Operation, e.Actual, e.Expected)
}

// IsReplyError returns true if err is or wraps a ReplyError.
func IsReplyError(err error) bool {
	var re *ReplyError
	return errors.As(err, &re)
}

// commandName returns a human-readable name for a command code.
func commandName(cmd byte) string {
	switch cmd {
	case CmdResetMCU:
		return "RESETMCU"
	case CmdInitSoft:
		return "INITSOFT"
	case CmdGetVersion:
		return "GETTMNLV"
	case CmdExitBootloader:
		return "EXITTMNL"
	case CmdDeleteFlash:
		return "DELFLASH"
	case CmdSetPageAddr:
		return "STPGADDR"
	case CmdWritePage:
		return "WRITPAGE"
	case CmdReadFlash:
		return "READFLSH"
	case CmdReadDevice:
		return "READDEVS"
	default:
		return fmt.Sprintf("unknown command 0x%02X", cmd)
	}
}

// CommandName returns the Timonel mnemonic of a command code.
func CommandName(cmd byte) string {
	return commandName(cmd)
}
