package payload

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/moffa90/go-timonel/protocol"
)

// Intel HEX record types.
const (
	RecordData            = 0x00
	RecordEOF             = 0x01
	RecordExtSegmentAddr  = 0x02
	RecordStartSegment    = 0x03
	RecordExtLinearAddr   = 0x04
	RecordStartLinearAddr = 0x05
)

// Constants for Intel HEX parsing.
const (
	// MinimumRecordBytes is byte count(1) + address(2) + type(1) + checksum(1)
	MinimumRecordBytes = 5

	// MaxImageSize bounds the image to the slave flash size
	MaxImageSize = protocol.FlashSize
)

// Parse parses a payload file from the given path.
// Files ending in .bin are read as raw images at address zero; everything
// else is parsed as Intel HEX.
//
// Example:
//
//	p, err := payload.Parse("blink.hex")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Payload: %d bytes\n", p.Size())
func Parse(path string) (*Payload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if strings.EqualFold(filepath.Ext(path), ".bin") {
		return ParseBinary(f)
	}
	return ParseReader(f)
}

// ParseBinary reads a raw image that starts at flash address zero.
func ParseBinary(r io.Reader) (*Payload, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file")
	}
	if len(data) > MaxImageSize {
		return nil, fmt.Errorf("image exceeds %d bytes", MaxImageSize)
	}
	return &Payload{Data: data}, nil
}

// ParseReader parses Intel HEX from any io.Reader.
//
// Example:
//
//	p, err := payload.ParseReader(strings.NewReader(hexContent))
func ParseReader(r io.Reader) (*Payload, error) {
	scanner := bufio.NewScanner(r)

	var (
		image   = make(map[uint32]byte)
		minAddr = uint32(MaxImageSize)
		maxAddr uint32
		upper   uint32
		sawEOF  bool
		lineNum int
	)

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines
		if line == "" {
			continue
		}
		if sawEOF {
			return nil, fmt.Errorf("line %d: data after end-of-file record", lineNum)
		}

		rec, err := parseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		switch rec.kind {
		case RecordData:
			for i, b := range rec.data {
				addr := upper + uint32(rec.addr) + uint32(i)
				if addr >= MaxImageSize {
					return nil, fmt.Errorf("line %d: address 0x%X exceeds flash size %d", lineNum, addr, MaxImageSize)
				}
				image[addr] = b
				if addr < minAddr {
					minAddr = addr
				}
				if addr+1 > maxAddr {
					maxAddr = addr + 1
				}
			}
		case RecordEOF:
			sawEOF = true
		case RecordExtSegmentAddr:
			if len(rec.data) != 2 {
				return nil, fmt.Errorf("line %d: segment address record needs 2 bytes", lineNum)
			}
			upper = (uint32(rec.data[0])<<8 | uint32(rec.data[1])) << 4
		case RecordExtLinearAddr:
			if len(rec.data) != 2 {
				return nil, fmt.Errorf("line %d: linear address record needs 2 bytes", lineNum)
			}
			upper = (uint32(rec.data[0])<<8 | uint32(rec.data[1])) << 16
		case RecordStartSegment, RecordStartLinearAddr:
			// Start addresses are meaningless for flash images
		default:
			return nil, fmt.Errorf("line %d: unknown record type 0x%02X", lineNum, rec.kind)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if lineNum == 0 {
		return nil, fmt.Errorf("empty file")
	}
	if !sawEOF {
		return nil, fmt.Errorf("missing end-of-file record")
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("no data records found in file")
	}

	data := bytes.Repeat([]byte{protocol.ErasedByte}, int(maxAddr-minAddr))
	for addr, b := range image {
		data[addr-minAddr] = b
	}

	return &Payload{Base: minAddr, Data: data}, nil
}

type record struct {
	kind byte
	addr uint16
	data []byte
}

// parseRecord parses a single Intel HEX record.
//
// Record format:
//
//	:[COUNT(1)][ADDR_H(1)][ADDR_L(1)][TYPE(1)][DATA(COUNT)][CHECKSUM(1)]
//
// The checksum is the two's complement of the sum of all preceding bytes.
//
// Example: ":0400000012345678E8"
//
//	Count: 4, Address: 0x0000, Type: data
//	Data: [0x12, 0x34, 0x56, 0x78]
func parseRecord(line string) (*record, error) {
	if line[0] != ':' {
		return nil, fmt.Errorf("record must start with ':'")
	}

	raw, err := hex.DecodeString(line[1:])
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}

	if len(raw) < MinimumRecordBytes {
		return nil, fmt.Errorf("record too short: got %d bytes, minimum is %d", len(raw), MinimumRecordBytes)
	}

	count := int(raw[0])
	if len(raw) != MinimumRecordBytes+count {
		return nil, fmt.Errorf("data length mismatch: got %d bytes, expected %d",
			len(raw), MinimumRecordBytes+count)
	}

	checksum := raw[len(raw)-1]
	if calculated := calculateRecordChecksum(raw[:len(raw)-1]); checksum != calculated {
		return nil, fmt.Errorf("checksum mismatch: got 0x%02X, expected 0x%02X", checksum, calculated)
	}

	rec := &record{
		kind: raw[3],
		addr: uint16(raw[1])<<8 | uint16(raw[2]),
		data: make([]byte, count),
	}
	copy(rec.data, raw[4:4+count])

	return rec, nil
}

// calculateRecordChecksum computes the 8-bit record checksum.
// Uses basic summation with 2's complement.
func calculateRecordChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return ^sum + 1 // 2's complement
}
