package protocol

// AVR relative jump encoding.
const (
	// RJMPOpcode is the opcode of the AVR rjmp instruction
	RJMPOpcode = 0xC000

	// RJMPOpcodeMask selects the opcode bits of an instruction word
	RJMPOpcodeMask = 0xF000

	// RJMPOffsetMask selects the 12-bit word offset of an rjmp
	RJMPOffsetMask = 0x0FFF

	// flashWords is the number of program words; rjmp wraps around it
	flashWords = FlashSize / 2
)

// Checksum computes the 8-bit summation checksum used by Write Page,
// Set Page Address and Read Flash: the low byte of the sum of all bytes.
func Checksum(data ...byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// EncodeRJMP builds an rjmp instruction placed at byte address pc that
// jumps to byte address target. Offsets wrap around the flash, so every
// address is reachable on a device with 4K words of program memory.
func EncodeRJMP(pc, target uint16) uint16 {
	k := (int(target)/2 - int(pc)/2 - 1) % flashWords
	if k < 0 {
		k += flashWords
	}
	return RJMPOpcode | uint16(k)&RJMPOffsetMask
}

// DecodeRJMP returns the byte address targeted by the rjmp instruction word
// placed at byte address pc. The second result is false when word is not an
// rjmp (for example erased flash).
func DecodeRJMP(pc, word uint16) (uint16, bool) {
	if word&RJMPOpcodeMask != RJMPOpcode {
		return 0, false
	}
	k := int(word & RJMPOffsetMask)
	target := (int(pc)/2 + 1 + k) % flashWords
	return uint16(target * 2), true
}
