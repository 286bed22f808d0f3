// Package payload loads application images for Timonel slaves.
//
// # Supported Formats
//
// Intel HEX files as produced by avr-gcc/avr-objcopy, and raw binary images
// (.bin) starting at address zero.
//
// # Basic Usage
//
//	p, err := payload.Parse("blink.hex")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for i, page := range p.Pages(protocol.PageSize) {
//	    fmt.Printf("page %d: % X\n", i, page[:8])
//	}
//
// # Reset Vector
//
// AVR applications start with an rjmp to their startup code. ResetTarget
// decodes it; the bootloader client needs it to build the trampoline.
package payload
