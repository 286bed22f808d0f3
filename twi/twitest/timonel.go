package twitest

import (
	"sync"

	"github.com/moffa90/go-timonel/protocol"
	"github.com/moffa90/go-timonel/twi"
)

// DefaultBootloaderStart is where the simulated bootloader lives.
const DefaultBootloaderStart = 0x1B00

// DefaultFeatures matches a typical Timonel v1.5 build.
const DefaultFeatures = protocol.FeatureAutoPageAddr | protocol.FeatureCmdSetPgAddr |
	protocol.FeatureAppAutorun | protocol.FeatureCmdReadFlash

// Timonel simulates an ATtiny85 running the Timonel bootloader.
// While in bootloader mode it answers on Addr; after Exit Bootloader with a
// valid trampoline it runs the application and answers on Addr+AppAddrOffset,
// where it only understands Reset MCU.
type Timonel struct {
	mu sync.Mutex

	Addr            uint16
	Signature       byte
	VersionMajor    byte
	VersionMinor    byte
	Features        byte
	ExtFeatures     byte
	BootloaderStart uint16
	LowFuse         byte
	OscCal          byte

	// CorruptWrites makes the next n Write Page replies echo a bad checksum
	CorruptWrites int

	flash       [protocol.FlashSize]byte
	pageBuf     [protocol.PageSize]byte
	pageFill    int
	pageAddr    uint16
	appMode     bool
	initialized bool
	commands    []byte
}

var _ Slave = (*Timonel)(nil)

// NewTimonel creates a simulated Timonel slave with erased flash.
func NewTimonel(addr uint16) *Timonel {
	t := &Timonel{
		Addr:            addr,
		Signature:       protocol.SignatureTimonel,
		VersionMajor:    1,
		VersionMinor:    5,
		Features:        DefaultFeatures,
		ExtFeatures:     protocol.ExtFeatureCmdReadDevs,
		BootloaderStart: DefaultBootloaderStart,
		LowFuse:         0x62,
		OscCal:          0x8E,
	}
	for i := range t.flash {
		t.flash[i] = protocol.ErasedByte
	}
	return t
}

// Answers implements Slave.
func (t *Timonel) Answers(addr uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.appMode {
		return addr == t.Addr+twi.AppAddrOffset
	}
	return addr == t.Addr
}

// Transact implements Slave.
func (t *Timonel) Transact(addr uint16, w, r []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(w) == 0 {
		fill(r, protocol.ErasedByte)
		return nil
	}
	t.commands = append(t.commands, w[0])

	var reply []byte
	if t.appMode {
		reply = t.handleApplication(w)
	} else {
		reply = t.handleBootloader(w)
	}

	fill(r, protocol.ErasedByte)
	copy(r, reply)
	return nil
}

// Flash returns a copy of the simulated flash memory.
func (t *Timonel) Flash() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, len(t.flash))
	copy(out, t.flash[:])
	return out
}

// InApplication reports whether the slave is running its application.
func (t *Timonel) InApplication() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.appMode
}

// Commands returns the command codes received so far.
func (t *Timonel) Commands() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.commands...)
}

// LoadApplication writes image at address zero the way the bootloader
// would, including the reset vector and trampoline rewrite.
func (t *Timonel) LoadApplication(image []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 0; i < len(image) && i < int(t.BootloaderStart); i++ {
		t.flash[i] = image[i]
	}
	t.patchVectors()
}

func (t *Timonel) handleApplication(w []byte) []byte {
	if w[0] != protocol.CmdResetMCU {
		return nil
	}
	t.appMode = false
	t.resetState()
	return []byte{protocol.AckResetMCU}
}

func (t *Timonel) handleBootloader(w []byte) []byte {
	cmd := w[0]
	if t.Features&protocol.FeatureTwoStepInit != 0 && !t.initialized &&
		cmd != protocol.CmdInitSoft && cmd != protocol.CmdGetVersion {
		return nil
	}

	switch cmd {
	case protocol.CmdGetVersion:
		tpl := t.word(t.BootloaderStart - 2)
		return []byte{
			protocol.AckGetVersion, t.Signature, t.VersionMajor, t.VersionMinor,
			t.Features, t.ExtFeatures,
			byte(t.BootloaderStart >> 8), byte(t.BootloaderStart),
			byte(tpl >> 8), byte(tpl), t.LowFuse, t.OscCal,
		}

	case protocol.CmdInitSoft:
		t.initialized = true
		return []byte{protocol.AckInitSoft}

	case protocol.CmdResetMCU:
		t.resetState()
		return []byte{protocol.AckResetMCU}

	case protocol.CmdExitBootloader:
		if _, ok := protocol.DecodeRJMP(t.BootloaderStart-2, t.word(t.BootloaderStart-2)); ok {
			t.appMode = true
		}
		t.resetState()
		return []byte{protocol.AckExitBootloader}

	case protocol.CmdDeleteFlash:
		for i := 0; i < int(t.BootloaderStart); i++ {
			t.flash[i] = protocol.ErasedByte
		}
		t.resetState()
		return []byte{protocol.AckDeleteFlash}

	case protocol.CmdSetPageAddr:
		if len(w) < 3 || t.Features&protocol.FeatureCmdSetPgAddr == 0 {
			return nil
		}
		t.pageAddr = uint16(w[1])<<8 | uint16(w[2])
		t.pageFill = 0
		return []byte{protocol.AckSetPageAddr, protocol.Checksum(w[1], w[2])}

	case protocol.CmdWritePage:
		return t.writePacket(w)

	case protocol.CmdReadFlash:
		if len(w) < 4 || t.Features&protocol.FeatureCmdReadFlash == 0 {
			return nil
		}
		addr := int(w[1])<<8 | int(w[2])
		size := int(w[3])
		if size > protocol.SlavePacketSize || addr+size > len(t.flash) {
			return nil
		}
		reply := []byte{protocol.AckReadFlash}
		reply = append(reply, t.flash[addr:addr+size]...)
		return append(reply, protocol.Checksum(w[1], w[2])+protocol.Checksum(t.flash[addr:addr+size]...))

	case protocol.CmdReadDevice:
		if t.ExtFeatures&protocol.ExtFeatureCmdReadDevs == 0 {
			return nil
		}
		return []byte{protocol.AckReadDevice, 0x1E, 0x93, 0x0B, t.LowFuse, 0xDF, 0xFF, 0xFF, t.OscCal}
	}

	return nil
}

func (t *Timonel) writePacket(w []byte) []byte {
	if len(w) != protocol.MasterPacketSize+2 {
		return nil
	}
	data := w[1 : 1+protocol.MasterPacketSize]
	sum := protocol.Checksum(data...)
	if w[len(w)-1] != sum {
		return []byte{protocol.AckWritePage, ^sum}
	}

	copy(t.pageBuf[t.pageFill:], data)
	t.pageFill += protocol.MasterPacketSize
	if t.pageFill == protocol.PageSize {
		t.commitPage()
	}

	if t.CorruptWrites > 0 {
		t.CorruptWrites--
		return []byte{protocol.AckWritePage, sum + 1}
	}
	return []byte{protocol.AckWritePage, sum}
}

func (t *Timonel) commitPage() {
	t.pageFill = 0
	if t.pageAddr >= t.BootloaderStart {
		return
	}

	copy(t.flash[t.pageAddr:], t.pageBuf[:])
	if t.pageAddr == 0 && t.Features&protocol.FeatureAutoPageAddr != 0 {
		t.patchVectors()
	}
	t.pageAddr += protocol.PageSize
}

// patchVectors saves the application reset target in the trampoline and
// points the reset vector back at the bootloader.
func (t *Timonel) patchVectors() {
	if target, ok := protocol.DecodeRJMP(0, t.word(0)); ok && target != t.BootloaderStart {
		t.setWord(t.BootloaderStart-2, protocol.EncodeRJMP(t.BootloaderStart-2, target))
	}
	t.setWord(0, protocol.EncodeRJMP(0, t.BootloaderStart))
}

func (t *Timonel) resetState() {
	t.pageAddr = 0
	t.pageFill = 0
	t.initialized = false
}

// word reads a little-endian instruction word from flash.
func (t *Timonel) word(addr uint16) uint16 {
	return uint16(t.flash[addr]) | uint16(t.flash[addr+1])<<8
}

func (t *Timonel) setWord(addr, w uint16) {
	t.flash[addr] = byte(w)
	t.flash[addr+1] = byte(w >> 8)
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
