package twi

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// ErrNoAck is returned when no slave acknowledges its address.
var ErrNoAck = errors.New("twi: address not acknowledged")

// Bus is an I2C bus driven by this host as master.
// Tx writes w to the slave at addr and then reads len(r) bytes into r.
// Either buffer may be empty.
type Bus interface {
	Tx(addr uint16, w, r []byte) error
	String() string
}

// BusCloser is a Bus that must be closed once it is no longer in use.
type BusCloser interface {
	Bus
	io.Closer
}

// lockedBus serializes transactions on a shared bus.
type lockedBus struct {
	mu  sync.Mutex
	bus Bus
}

// NewLockedBus wraps bus so that concurrent callers never interleave transactions.
func NewLockedBus(bus Bus) Bus {
	if lb, ok := bus.(*lockedBus); ok {
		return lb
	}
	return &lockedBus{bus: bus}
}

func (b *lockedBus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bus.Tx(addr, w, r)
}

func (b *lockedBus) String() string {
	return b.bus.String()
}

// OpenBus opens the named host I2C bus ("" selects the first one found,
// "1" or "/dev/i2c-1" select bus 1). A zero speed keeps the driver default.
func OpenBus(name string, speed physic.Frequency) (BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init host drivers: %w", err)
	}

	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", name, err)
	}

	if speed > 0 {
		if err := bus.SetSpeed(speed); err != nil {
			_ = bus.Close()
			return nil, fmt.Errorf("set i2c bus speed %s: %w", speed, err)
		}
	}

	return &periphBus{BusCloser: bus}, nil
}

// periphBus adapts a periph.io bus and reports NACKs as ErrNoAck.
type periphBus struct {
	i2c.BusCloser
}

func (b *periphBus) Tx(addr uint16, w, r []byte) error {
	if err := b.BusCloser.Tx(addr, w, r); err != nil {
		return fmt.Errorf("%w: 0x%02X: %v", ErrNoAck, addr, err)
	}
	return nil
}

// Device is a bus bound to a single slave address.
type Device struct {
	Bus  Bus
	Addr uint16
}

// Tx writes w and reads len(r) bytes in one transaction.
func (d *Device) Tx(w, r []byte) error {
	return d.Bus.Tx(d.Addr, w, r)
}

// Write sends w to the device.
func (d *Device) Write(w []byte) error {
	return d.Bus.Tx(d.Addr, w, nil)
}

// Read fills r from the device.
func (d *Device) Read(r []byte) error {
	return d.Bus.Tx(d.Addr, nil, r)
}

func (d *Device) String() string {
	return fmt.Sprintf("%s@0x%02X", d.Bus, d.Addr)
}
