package protocol

// SignatureTimonel is the signature byte ('T') reported by a Timonel bootloader.
const SignatureTimonel = 84

// Command codes of the Timonel TWI command set.
// Every command is acknowledged with its bitwise complement (see Ack).
const (
	// CmdResetMCU resets the microcontroller
	CmdResetMCU = 0x80

	// CmdInitSoft initializes the bootloader (two-step init builds only)
	CmdInitSoft = 0x81

	// CmdGetVersion returns the bootloader status block
	CmdGetVersion = 0x82

	// CmdExitBootloader leaves the bootloader and jumps to the application
	CmdExitBootloader = 0x83

	// CmdDeleteFlash erases the application flash area
	CmdDeleteFlash = 0x84

	// CmdSetPageAddr sets the flash page address for the next page write
	CmdSetPageAddr = 0x85

	// CmdWritePage writes a packet to the flash page buffer
	CmdWritePage = 0x86

	// CmdReadFlash reads a block of flash memory
	CmdReadFlash = 0x87

	// CmdReadDevice reads the device signature, fuses and lock bits
	CmdReadDevice = 0x88
)

// Acknowledge codes. Each is the bitwise complement of its command.
const (
	AckResetMCU       = 0x7F
	AckInitSoft       = 0x7E
	AckGetVersion     = 0x7D
	AckExitBootloader = 0x7C
	AckDeleteFlash    = 0x7B
	AckSetPageAddr    = 0x7A
	AckWritePage      = 0x79
	AckReadFlash      = 0x78
	AckReadDevice     = 0x77
)

// Ack returns the acknowledge code expected for cmd.
func Ack(cmd byte) byte {
	return ^cmd
}

// Feature bits reported in Status.Features.
const (
	FeatureLEDUI         = 1 << 0
	FeatureAutoPageAddr  = 1 << 1
	FeatureAppUseTplPage = 1 << 2
	FeatureCmdSetPgAddr  = 1 << 3
	FeatureTwoStepInit   = 1 << 4
	FeatureUseWDTReset   = 1 << 5
	FeatureAppAutorun    = 1 << 6
	FeatureCmdReadFlash  = 1 << 7
)

// Extended feature bits reported in Status.ExtFeatures.
const (
	ExtFeatureAutoClkTweak = 1 << 0
	ExtFeatureForceErasePg = 1 << 1
	ExtFeatureClearBit7R31 = 1 << 2
	ExtFeatureCheckPageIx  = 1 << 3
	ExtFeatureCmdReadDevs  = 1 << 4
	ExtFeatureEEPROMAccess = 1 << 5
)

// Device geometry of the ATtiny85 targets.
const (
	// PageSize is the flash page size in bytes
	PageSize = 64

	// FlashSize is the total flash size in bytes
	FlashSize = 8192

	// MasterPacketSize is the number of data bytes per Write Page command
	MasterPacketSize = 8

	// SlavePacketSize is the maximum number of data bytes per Read Flash reply
	SlavePacketSize = 8

	// ErasedWord is the value of an erased flash word
	ErasedWord = 0xFFFF

	// ErasedByte is the value of an erased flash byte
	ErasedByte = 0xFF
)

// Reply sizes in bytes, acknowledge included.
const (
	// GetVersionReplySize is the size of the Get Version reply (12 bytes)
	GetVersionReplySize = 12

	// AckReplySize is the size of a bare acknowledge reply
	AckReplySize = 1

	// SetPageAddrReplySize is the size of the Set Page Address reply
	SetPageAddrReplySize = 2

	// WritePageReplySize is the size of the Write Page reply
	WritePageReplySize = 2

	// ReadDeviceReplySize is the size of the Read Device reply
	ReadDeviceReplySize = 9

	// ReadFlashOverhead is the ack plus checksum around Read Flash data
	ReadFlashOverhead = 2
)
