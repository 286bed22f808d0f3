package payload

import (
	"fmt"

	"github.com/moffa90/go-timonel/protocol"
)

// Payload is an application image ready to be uploaded to a slave.
type Payload struct {
	// Base is the flash address of Data[0]
	Base uint32

	// Data is the contiguous image; gaps between records hold 0xFF
	Data []byte
}

// Size returns the image size in bytes.
func (p *Payload) Size() int {
	return len(p.Data)
}

// End returns the first flash address after the image.
func (p *Payload) End() uint32 {
	return p.Base + uint32(len(p.Data))
}

// Padded returns a copy of the image padded with 0xFF to a multiple of size.
func (p *Payload) Padded(size int) []byte {
	n := len(p.Data)
	if rem := n % size; rem != 0 {
		n += size - rem
	}
	out := make([]byte, n)
	copy(out, p.Data)
	for i := len(p.Data); i < n; i++ {
		out[i] = protocol.ErasedByte
	}
	return out
}

// Pages splits the padded image into pages of pageSize bytes.
func (p *Payload) Pages(pageSize int) [][]byte {
	data := p.Padded(pageSize)
	pages := make([][]byte, 0, len(data)/pageSize)
	for off := 0; off < len(data); off += pageSize {
		pages = append(pages, data[off:off+pageSize])
	}
	return pages
}

// ResetTarget decodes the reset vector (an rjmp in the first word) and
// returns the address the application starts at.
func (p *Payload) ResetTarget() (uint16, error) {
	if len(p.Data) < 2 {
		return 0, fmt.Errorf("payload too short for a reset vector: %d bytes", len(p.Data))
	}
	word := uint16(p.Data[0]) | uint16(p.Data[1])<<8
	target, ok := protocol.DecodeRJMP(uint16(p.Base), word)
	if !ok {
		return 0, fmt.Errorf("reset vector 0x%04X is not an rjmp", word)
	}
	return target, nil
}

// Version returns the two bytes stored at offset as a major/minor pair.
// Applications that embed their version at a fixed offset can be compared
// without reading the whole flash.
func (p *Payload) Version(offset int) (major, minor byte, err error) {
	if offset < 0 || offset+2 > len(p.Data) {
		return 0, 0, fmt.Errorf("version offset %d outside %d-byte payload", offset, len(p.Data))
	}
	return p.Data[offset], p.Data[offset+1], nil
}
