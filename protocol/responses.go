package protocol

import (
	"encoding/binary"
	"fmt"
)

// ParseAck validates a bare acknowledge reply for cmd.
//
// Reply structure:
//
//	[ACK]
func ParseAck(cmd byte, reply []byte) error {
	return checkAck(commandName(cmd), cmd, reply, AckReplySize)
}

// ParseGetVersionReply parses the Get Version command reply.
// Returns the bootloader status block.
//
// Reply format (GetVersionReplySize bytes):
//
//	[ACK][SIGNATURE][MAJOR][MINOR][FEATURES][EXT_FEATURES]
//	[BL_START_H][BL_START_L][TPL_H][TPL_L][LOW_FUSE][OSCCAL]
//
// The trampoline word is decoded into ApplicationStart. Erased flash or
// a trampoline that points back into the bootloader means no application.
func ParseGetVersionReply(reply []byte) (*Status, error) {
	if err := checkAck("GETTMNLV", CmdGetVersion, reply, GetVersionReplySize); err != nil {
		return nil, err
	}

	status := &Status{
		Signature:       reply[1],
		VersionMajor:    reply[2],
		VersionMinor:    reply[3],
		Features:        reply[4],
		ExtFeatures:     reply[5],
		BootloaderStart: binary.BigEndian.Uint16(reply[6:8]),
		TrampolineWord:  binary.BigEndian.Uint16(reply[8:10]),
		LowFuse:         reply[10],
		OscCal:          reply[11],
	}

	if status.BootloaderStart >= 2 {
		status.TrampolineAddr = status.BootloaderStart - 2
	}
	if status.TrampolineWord != ErasedWord {
		if target, ok := DecodeRJMP(status.TrampolineAddr, status.TrampolineWord); ok && target < status.BootloaderStart {
			status.ApplicationStart = target
		}
	}

	return status, nil
}

// ParseSetPageAddrReply parses the Set Page Address command reply.
// The bootloader echoes the checksum of the two address bytes.
//
// Reply format (2 bytes):
//
//	[ACK][CHECKSUM]
func ParseSetPageAddrReply(addr uint16, reply []byte) error {
	if err := checkAck("STPGADDR", CmdSetPageAddr, reply, SetPageAddrReplySize); err != nil {
		return err
	}

	expected := Checksum(byte(addr>>8), byte(addr))
	if reply[1] != expected {
		return &ChecksumError{Operation: "STPGADDR", Expected: expected, Actual: reply[1]}
	}

	return nil
}

// ParseWritePageReply parses the Write Page command reply.
// The bootloader echoes the checksum it computed over the received packet.
//
// Reply format (2 bytes):
//
//	[ACK][CHECKSUM]
func ParseWritePageReply(data []byte, reply []byte) error {
	if err := checkAck("WRITPAGE", CmdWritePage, reply, WritePageReplySize); err != nil {
		return err
	}

	expected := Checksum(data...)
	if reply[1] != expected {
		return &ChecksumError{Operation: "WRITPAGE", Expected: expected, Actual: reply[1]}
	}

	return nil
}

// ParseReadFlashReply parses the Read Flash command reply.
// Returns the flash data.
//
// Reply format (size + 2 bytes):
//
//	[ACK][DATA...][CHECKSUM]
//
// The checksum covers both address bytes and the data.
func ParseReadFlashReply(addr uint16, size int, reply []byte) ([]byte, error) {
	if err := checkAck("READFLSH", CmdReadFlash, reply, size+ReadFlashOverhead); err != nil {
		return nil, err
	}

	data := reply[1 : 1+size]
	expected := Checksum(byte(addr>>8), byte(addr)) + Checksum(data...)
	if reply[1+size] != expected {
		return nil, &ChecksumError{Operation: "READFLSH", Expected: expected, Actual: reply[1+size]}
	}

	out := make([]byte, size)
	copy(out, data)
	return out, nil
}

// ParseReadDeviceReply parses the Read Device command reply.
//
// Reply format (ReadDeviceReplySize bytes):
//
//	[ACK][SIG0][SIG1][SIG2][LFUSE][HFUSE][EFUSE][LOCK][OSCCAL]
func ParseReadDeviceReply(reply []byte) (*DeviceInfo, error) {
	if err := checkAck("READDEVS", CmdReadDevice, reply, ReadDeviceReplySize); err != nil {
		return nil, err
	}

	return &DeviceInfo{
		Signature: [3]byte{reply[1], reply[2], reply[3]},
		LowFuse:   reply[4],
		HighFuse:  reply[5],
		ExtFuse:   reply[6],
		LockBits:  reply[7],
		OscCal:    reply[8],
	}, nil
}

// ReplySize returns the reply length expected for a request frame.
func ReplySize(frame []byte) (int, error) {
	if len(frame) == 0 {
		return 0, fmt.Errorf("empty command frame")
	}

	switch frame[0] {
	case CmdResetMCU, CmdInitSoft, CmdExitBootloader, CmdDeleteFlash:
		return AckReplySize, nil
	case CmdGetVersion:
		return GetVersionReplySize, nil
	case CmdSetPageAddr:
		return SetPageAddrReplySize, nil
	case CmdWritePage:
		return WritePageReplySize, nil
	case CmdReadDevice:
		return ReadDeviceReplySize, nil
	case CmdReadFlash:
		if len(frame) < 4 {
			return 0, fmt.Errorf("READFLSH frame too short: %d bytes", len(frame))
		}
		return int(frame[3]) + ReadFlashOverhead, nil
	default:
		return 0, fmt.Errorf("unknown command 0x%02X", frame[0])
	}
}

func checkAck(op string, cmd byte, reply []byte, size int) error {
	if len(reply) < size {
		return &ReplyError{Operation: op, Expected: Ack(cmd), Short: true, Length: len(reply)}
	}
	if reply[0] != Ack(cmd) {
		return &ReplyError{Operation: op, Expected: Ack(cmd), Actual: reply[0], Length: len(reply)}
	}
	return nil
}
