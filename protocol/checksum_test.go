package protocol

import "testing"

func TestChecksum(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want byte
	}{
		{name: "empty", data: nil, want: 0x00},
		{name: "single byte", data: []byte{0x42}, want: 0x42},
		{name: "packet", data: []byte{1, 2, 3, 4, 5, 6, 7, 8}, want: 0x24},
		{name: "overflow wraps", data: []byte{0xFF, 0x02}, want: 0x01},
		{name: "address bytes", data: []byte{0x1A, 0xC0}, want: 0xDA},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Checksum(tt.data...); got != tt.want {
				t.Errorf("Checksum(%v) = 0x%02X, want 0x%02X", tt.data, got, tt.want)
			}
		})
	}
}

func TestEncodeRJMP(t *testing.T) {
	tests := []struct {
		name   string
		pc     uint16
		target uint16
		want   uint16
	}{
		{name: "reset vector to bootloader", pc: 0x0000, target: 0x1B00, want: 0xCD7F},
		{name: "trampoline wraps to application", pc: 0x1AFE, target: 0x0020, want: 0xC290},
		{name: "jump to next instruction", pc: 0x0100, target: 0x0102, want: 0xC000},
		{name: "jump to self", pc: 0x0100, target: 0x0100, want: 0xCFFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EncodeRJMP(tt.pc, tt.target); got != tt.want {
				t.Errorf("EncodeRJMP(0x%04X, 0x%04X) = 0x%04X, want 0x%04X", tt.pc, tt.target, got, tt.want)
			}
		})
	}
}

func TestDecodeRJMP(t *testing.T) {
	tests := []struct {
		name   string
		pc     uint16
		word   uint16
		want   uint16
		wantOK bool
	}{
		{name: "reset vector", pc: 0x0000, word: 0xCD7F, want: 0x1B00, wantOK: true},
		{name: "trampoline", pc: 0x1AFE, word: 0xC290, want: 0x0020, wantOK: true},
		{name: "erased flash", pc: 0x1AFE, word: 0xFFFF, wantOK: false},
		{name: "not an rjmp", pc: 0x0000, word: 0x940C, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DecodeRJMP(tt.pc, tt.word)
			if ok != tt.wantOK {
				t.Fatalf("DecodeRJMP ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("DecodeRJMP(0x%04X, 0x%04X) = 0x%04X, want 0x%04X", tt.pc, tt.word, got, tt.want)
			}
		})
	}
}

func TestAck(t *testing.T) {
	pairs := map[byte]byte{
		CmdResetMCU:       AckResetMCU,
		CmdInitSoft:       AckInitSoft,
		CmdGetVersion:     AckGetVersion,
		CmdExitBootloader: AckExitBootloader,
		CmdDeleteFlash:    AckDeleteFlash,
		CmdSetPageAddr:    AckSetPageAddr,
		CmdWritePage:      AckWritePage,
		CmdReadFlash:      AckReadFlash,
		CmdReadDevice:     AckReadDevice,
	}
	for cmd, ack := range pairs {
		if got := Ack(cmd); got != ack {
			t.Errorf("Ack(0x%02X) = 0x%02X, want 0x%02X", cmd, got, ack)
		}
	}
}
