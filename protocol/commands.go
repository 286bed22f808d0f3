package protocol

import (
	"fmt"
)

// BuildSimpleCmd constructs a single-byte command frame for the commands
// that carry no arguments (RESETMCU, INITSOFT, GETTMNLV, EXITTMNL, DELFLASH
// and READDEVS).
//
// Frame structure:
//
//	[CMD]
func BuildSimpleCmd(cmd byte) ([]byte, error) {
	switch cmd {
	case CmdResetMCU, CmdInitSoft, CmdGetVersion, CmdExitBootloader, CmdDeleteFlash, CmdReadDevice:
		return []byte{cmd}, nil
	default:
		return nil, fmt.Errorf("command 0x%02X takes arguments", cmd)
	}
}

// BuildSetPageAddrCmd constructs a Set Page Address command frame.
// The address must be aligned to PageSize.
//
// Frame structure:
//
//	[CMD][ADDR_H][ADDR_L]
func BuildSetPageAddrCmd(addr uint16) ([]byte, error) {
	if addr%PageSize != 0 {
		return nil, fmt.Errorf("page address 0x%04X is not aligned to %d bytes", addr, PageSize)
	}
	if addr >= FlashSize {
		return nil, fmt.Errorf("page address 0x%04X exceeds flash size %d", addr, FlashSize)
	}

	return []byte{CmdSetPageAddr, byte(addr >> 8), byte(addr)}, nil
}

// BuildWritePageCmd constructs a Write Page command frame.
// Sends one packet of MasterPacketSize bytes to the bootloader page buffer.
//
// Frame structure:
//
//	[CMD][DATA(8)][CHECKSUM]
//
// The checksum is the 8-bit sum of the data bytes.
func BuildWritePageCmd(data []byte) ([]byte, error) {
	if len(data) != MasterPacketSize {
		return nil, fmt.Errorf("packet must be exactly %d bytes, got %d", MasterPacketSize, len(data))
	}

	frame := make([]byte, 0, MasterPacketSize+2)
	frame = append(frame, CmdWritePage)
	frame = append(frame, data...)
	frame = append(frame, Checksum(data...))

	return frame, nil
}

// BuildReadFlashCmd constructs a Read Flash command frame.
// Reads size bytes (at most SlavePacketSize) starting at addr.
//
// Frame structure:
//
//	[CMD][ADDR_H][ADDR_L][SIZE]
func BuildReadFlashCmd(addr uint16, size int) ([]byte, error) {
	if size <= 0 || size > SlavePacketSize {
		return nil, fmt.Errorf("read size must be 1-%d bytes, got %d", SlavePacketSize, size)
	}
	if int(addr)+size > FlashSize {
		return nil, fmt.Errorf("read of %d bytes at 0x%04X exceeds flash size %d", size, addr, FlashSize)
	}

	return []byte{CmdReadFlash, byte(addr >> 8), byte(addr), byte(size)}, nil
}
