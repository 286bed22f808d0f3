package protocol

import (
	"bytes"
	"strings"
	"testing"
)

func TestBuildSimpleCmd(t *testing.T) {
	for _, cmd := range []byte{CmdResetMCU, CmdInitSoft, CmdGetVersion, CmdExitBootloader, CmdDeleteFlash, CmdReadDevice} {
		frame, err := BuildSimpleCmd(cmd)
		if err != nil {
			t.Fatalf("BuildSimpleCmd(%s): unexpected error: %v", CommandName(cmd), err)
		}
		if !bytes.Equal(frame, []byte{cmd}) {
			t.Errorf("BuildSimpleCmd(%s) = %v, want [%d]", CommandName(cmd), frame, cmd)
		}
	}

	if _, err := BuildSimpleCmd(CmdWritePage); err == nil {
		t.Error("expected error for command with arguments")
	}
}

func TestBuildSetPageAddrCmd(t *testing.T) {
	tests := []struct {
		name    string
		addr    uint16
		want    []byte
		wantErr string
	}{
		{name: "page zero", addr: 0x0000, want: []byte{CmdSetPageAddr, 0x00, 0x00}},
		{name: "high page", addr: 0x1AC0, want: []byte{CmdSetPageAddr, 0x1A, 0xC0}},
		{name: "unaligned", addr: 0x0010, wantErr: "not aligned"},
		{name: "beyond flash", addr: 0x2000, wantErr: "exceeds flash size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := BuildSetPageAddrCmd(tt.addr)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want substring %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(frame, tt.want) {
				t.Errorf("frame = %v, want %v", frame, tt.want)
			}
		})
	}
}

func TestBuildWritePageCmd(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	frame, err := BuildWritePageCmd(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(frame) != MasterPacketSize+2 {
		t.Fatalf("frame length = %d, want %d", len(frame), MasterPacketSize+2)
	}
	if frame[0] != CmdWritePage {
		t.Errorf("CMD = 0x%02X, want 0x%02X", frame[0], CmdWritePage)
	}
	if !bytes.Equal(frame[1:9], data) {
		t.Errorf("data = %v, want %v", frame[1:9], data)
	}
	if frame[9] != 0x24 {
		t.Errorf("checksum = 0x%02X, want 0x24", frame[9])
	}

	for _, n := range []int{0, 7, 9} {
		if _, err := BuildWritePageCmd(make([]byte, n)); err == nil {
			t.Errorf("expected error for %d-byte packet", n)
		}
	}
}

func TestBuildReadFlashCmd(t *testing.T) {
	frame, err := BuildReadFlashCmd(0x0140, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{CmdReadFlash, 0x01, 0x40, 0x08}
	if !bytes.Equal(frame, want) {
		t.Errorf("frame = %v, want %v", frame, want)
	}

	if _, err := BuildReadFlashCmd(0x0000, 0); err == nil {
		t.Error("expected error for zero size")
	}
	if _, err := BuildReadFlashCmd(0x0000, SlavePacketSize+1); err == nil {
		t.Error("expected error for oversized read")
	}
	if _, err := BuildReadFlashCmd(FlashSize-4, 8); err == nil {
		t.Error("expected error for read past end of flash")
	}
}
