// Package twi provides the I2C (two-wire interface) transport and the bus
// scanner used to find Timonel slaves.
//
// The transport is address-scoped: every transaction names the slave and
// consists of an optional write followed by an optional read.
//
//	bus, err := twi.OpenBus("1", 400*physic.KiloHertz)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer bus.Close()
//
//	scanner := twi.NewScanner(bus)
//	addrs, err := scanner.BootloaderAddrs(ctx)
//
// Timonel bootloaders answer on addresses 8-35. Once a slave runs its
// application it answers on its bootloader address plus AppAddrOffset.
//
// Package twitest provides an in-memory bus with simulated slaves for tests.
package twi
