package protocol

// Status contains the bootloader status block.
// Returned by the Get Version command.
type Status struct {
	// Signature is the bootloader signature byte ('T' for Timonel)
	Signature byte

	// VersionMajor is the bootloader major version
	VersionMajor byte

	// VersionMinor is the bootloader minor version
	VersionMinor byte

	// Features is the bootloader features bitmap (Feature* constants)
	Features byte

	// ExtFeatures is the extended features bitmap (ExtFeature* constants)
	ExtFeatures byte

	// BootloaderStart is the flash address where the bootloader begins
	BootloaderStart uint16

	// TrampolineAddr is the address of the trampoline jump (BootloaderStart - 2)
	TrampolineAddr uint16

	// TrampolineWord is the raw instruction stored at TrampolineAddr
	TrampolineWord uint16

	// ApplicationStart is the application entry point decoded from the
	// trampoline, or zero when no application is loaded
	ApplicationStart uint16

	// LowFuse is the low fuse setting
	LowFuse byte

	// OscCal is the oscillator calibration value
	OscCal byte
}

// IsTimonel reports whether the status carries the given bootloader signature.
func (s *Status) IsTimonel(signature byte) bool {
	return s != nil && s.Signature == signature
}

// Has reports whether all bits of feature are set.
func (s *Status) Has(feature byte) bool {
	return s.Features&feature == feature
}

// HasExt reports whether all bits of the extended feature are set.
func (s *Status) HasExt(feature byte) bool {
	return s.ExtFeatures&feature == feature
}

// HasApplication reports whether an application is loaded.
func (s *Status) HasApplication() bool {
	return s.ApplicationStart != 0
}

// DeviceInfo contains the device signature, fuses and lock bits.
// Returned by the Read Device command.
type DeviceInfo struct {
	// Signature is the 3-byte device signature (0x1E 0x93 0x0B for ATtiny85)
	Signature [3]byte

	LowFuse  byte
	HighFuse byte
	ExtFuse  byte
	LockBits byte
	OscCal   byte
}

// FeatureNames returns the names of the feature bits set in features.
func FeatureNames(features byte) []string {
	return bitNames(features, featureNames)
}

// ExtFeatureNames returns the names of the extended feature bits set in ext.
func ExtFeatureNames(ext byte) []string {
	return bitNames(ext, extFeatureNames)
}

var featureNames = [8]string{
	"LED_UI", "AUTO_PAGE_ADDR", "APP_USE_TPL_PG", "CMD_STPGADDR",
	"TWO_STEP_INIT", "USE_WDT_RESET", "APP_AUTORUN", "CMD_READFLASH",
}

var extFeatureNames = [8]string{
	"AUTO_CLK_TWEAK", "FORCE_ERASE_PG", "CLEAR_BIT_7_R31", "CHECK_PAGE_IX",
	"CMD_READDEVS", "EEPROM_ACCESS", "", "",
}

func bitNames(bits byte, names [8]string) []string {
	var out []string
	for i := 0; i < 8; i++ {
		if bits&(1<<i) != 0 && names[i] != "" {
			out = append(out, names[i])
		}
	}
	return out
}
