package bootloader

import (
	"fmt"
)

// SignatureError indicates that the slave is not running the expected bootloader.
type SignatureError struct {
	Addr     uint16
	Expected byte
	Actual   byte
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("device 0x%02X: bootloader signature 0x%02X, expected 0x%02X",
		e.Addr, e.Actual, e.Expected)
}

// FeatureError indicates that an operation needs a feature the bootloader
// was built without.
type FeatureError struct {
	Operation string
	Feature   string
}

func (e *FeatureError) Error() string {
	return fmt.Sprintf("%s requires bootloader feature %s", e.Operation, e.Feature)
}

// PayloadTooLargeError indicates that the payload would overwrite the
// trampoline page or the bootloader.
type PayloadTooLargeError struct {
	Start uint16
	Size  int
	Limit uint16
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("payload of %d bytes at 0x%04X exceeds application area ending at 0x%04X",
		e.Size, e.Start, e.Limit)
}

// VerifyError indicates that flash read back differs from what was written.
type VerifyError struct {
	Addr     uint16
	Expected byte
	Actual   byte
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify failed at 0x%04X: expected 0x%02X, got 0x%02X",
		e.Addr, e.Expected, e.Actual)
}
