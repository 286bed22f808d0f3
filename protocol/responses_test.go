package protocol

import (
	"errors"
	"testing"
)

func versionReply(tpl uint16) []byte {
	return []byte{
		AckGetVersion, SignatureTimonel, 1, 5,
		FeatureAutoPageAddr | FeatureCmdSetPgAddr | FeatureCmdReadFlash, ExtFeatureCmdReadDevs,
		0x1B, 0x00, byte(tpl >> 8), byte(tpl), 0x62, 0x8E,
	}
}

func TestParseGetVersionReply(t *testing.T) {
	t.Run("with application", func(t *testing.T) {
		status, err := ParseGetVersionReply(versionReply(0xC290))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !status.IsTimonel(SignatureTimonel) {
			t.Errorf("signature = %d, want %d", status.Signature, SignatureTimonel)
		}
		if status.VersionMajor != 1 || status.VersionMinor != 5 {
			t.Errorf("version = %d.%d, want 1.5", status.VersionMajor, status.VersionMinor)
		}
		if status.BootloaderStart != 0x1B00 {
			t.Errorf("bootloader start = 0x%04X, want 0x1B00", status.BootloaderStart)
		}
		if status.TrampolineAddr != 0x1AFE {
			t.Errorf("trampoline addr = 0x%04X, want 0x1AFE", status.TrampolineAddr)
		}
		if status.ApplicationStart != 0x0020 {
			t.Errorf("application start = 0x%04X, want 0x0020", status.ApplicationStart)
		}
		if !status.Has(FeatureCmdReadFlash) || status.Has(FeatureTwoStepInit) {
			t.Errorf("features = 0x%02X decoded incorrectly", status.Features)
		}
		if !status.HasExt(ExtFeatureCmdReadDevs) {
			t.Errorf("ext features = 0x%02X, want READDEVS set", status.ExtFeatures)
		}
		if status.LowFuse != 0x62 || status.OscCal != 0x8E {
			t.Errorf("fuse/osccal = 0x%02X/0x%02X", status.LowFuse, status.OscCal)
		}
	})

	t.Run("erased trampoline", func(t *testing.T) {
		status, err := ParseGetVersionReply(versionReply(ErasedWord))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status.HasApplication() {
			t.Errorf("application start = 0x%04X, want none", status.ApplicationStart)
		}
	})

	t.Run("wrong ack", func(t *testing.T) {
		reply := versionReply(ErasedWord)
		reply[0] = 0x00
		_, err := ParseGetVersionReply(reply)
		if !IsReplyError(err) {
			t.Fatalf("error = %v, want ReplyError", err)
		}
	})

	t.Run("short reply", func(t *testing.T) {
		_, err := ParseGetVersionReply([]byte{AckGetVersion, SignatureTimonel})
		var re *ReplyError
		if !errors.As(err, &re) || !re.Short {
			t.Fatalf("error = %v, want short ReplyError", err)
		}
	})
}

func TestParseSetPageAddrReply(t *testing.T) {
	if err := ParseSetPageAddrReply(0x1AC0, []byte{AckSetPageAddr, 0xDA}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := ParseSetPageAddrReply(0x1AC0, []byte{AckSetPageAddr, 0x00})
	var ce *ChecksumError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want ChecksumError", err)
	}
	if ce.Expected != 0xDA {
		t.Errorf("expected checksum = 0x%02X, want 0xDA", ce.Expected)
	}
}

func TestParseWritePageReply(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := ParseWritePageReply(data, []byte{AckWritePage, 0x24}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ParseWritePageReply(data, []byte{AckWritePage, 0x25}); err == nil {
		t.Error("expected checksum error")
	}
	if err := ParseWritePageReply(data, []byte{AckReadFlash, 0x24}); !IsReplyError(err) {
		t.Errorf("error = %v, want ReplyError", err)
	}
}

func TestParseReadFlashReply(t *testing.T) {
	data := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	sum := Checksum(0x01, 0x40) + Checksum(data...)
	reply := append([]byte{AckReadFlash}, data...)
	reply = append(reply, sum)

	got, err := ParseReadFlashReply(0x0140, len(data), reply)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("data = %v, want %v", got, data)
	}

	reply[len(reply)-1]++
	if _, err := ParseReadFlashReply(0x0140, len(data), reply); err == nil {
		t.Error("expected checksum error")
	}
}

func TestParseReadDeviceReply(t *testing.T) {
	info, err := ParseReadDeviceReply([]byte{AckReadDevice, 0x1E, 0x93, 0x0B, 0x62, 0xDF, 0xFF, 0xFF, 0x8E})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Signature != [3]byte{0x1E, 0x93, 0x0B} {
		t.Errorf("signature = %X", info.Signature)
	}
	if info.HighFuse != 0xDF || info.OscCal != 0x8E {
		t.Errorf("fuses decoded incorrectly: %+v", info)
	}
}

func TestReplySize(t *testing.T) {
	tests := []struct {
		frame []byte
		want  int
	}{
		{frame: []byte{CmdGetVersion}, want: GetVersionReplySize},
		{frame: []byte{CmdExitBootloader}, want: AckReplySize},
		{frame: []byte{CmdSetPageAddr, 0, 0}, want: SetPageAddrReplySize},
		{frame: []byte{CmdReadFlash, 0, 0, 8}, want: 10},
		{frame: []byte{CmdReadDevice}, want: ReadDeviceReplySize},
	}
	for _, tt := range tests {
		got, err := ReplySize(tt.frame)
		if err != nil {
			t.Fatalf("ReplySize(%v): unexpected error: %v", tt.frame, err)
		}
		if got != tt.want {
			t.Errorf("ReplySize(%v) = %d, want %d", tt.frame, got, tt.want)
		}
	}

	if _, err := ReplySize(nil); err == nil {
		t.Error("expected error for empty frame")
	}
	if _, err := ReplySize([]byte{0x42}); err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestFeatureNames(t *testing.T) {
	names := FeatureNames(FeatureAutoPageAddr | FeatureCmdReadFlash)
	if len(names) != 2 || names[0] != "AUTO_PAGE_ADDR" || names[1] != "CMD_READFLASH" {
		t.Errorf("FeatureNames = %v", names)
	}
	if ext := ExtFeatureNames(0xC0); len(ext) != 0 {
		t.Errorf("ExtFeatureNames(0xC0) = %v, want none", ext)
	}
}
