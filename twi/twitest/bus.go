// Package twitest provides an in-memory I2C bus and a simulated Timonel
// slave for tests, examples and dry runs without hardware.
package twitest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/moffa90/go-timonel/twi"
)

// ErrTransient is returned by Bus.Tx while injected failures remain.
var ErrTransient = errors.New("twitest: transient bus error")

// Slave is a simulated device attached to a Bus.
type Slave interface {
	// Answers reports whether the slave acknowledges addr.
	Answers(addr uint16) bool

	// Transact handles one transaction addressed to the slave.
	Transact(addr uint16, w, r []byte) error
}

// Bus is an in-memory twi.Bus.
type Bus struct {
	mu     sync.Mutex
	slaves []Slave
	fail   int
	txs    int
}

var _ twi.Bus = (*Bus)(nil)

// NewBus creates a bus with the given slaves attached.
func NewBus(slaves ...Slave) *Bus {
	return &Bus{slaves: slaves}
}

// Attach adds a slave to the bus.
func (b *Bus) Attach(s Slave) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.slaves = append(b.slaves, s)
}

// FailNext makes the next n transactions fail with ErrTransient.
func (b *Bus) FailNext(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = n
}

// Transactions returns the number of transactions issued so far.
func (b *Bus) Transactions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.txs
}

// Addrs returns the addresses currently acknowledged, in order.
func (b *Bus) Addrs() []uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()

	var addrs []uint16
	for addr := uint16(twi.MinAddr); addr <= twi.MaxAddr; addr++ {
		for _, s := range b.slaves {
			if s.Answers(addr) {
				addrs = append(addrs, addr)
				break
			}
		}
	}
	return addrs
}

// Tx implements twi.Bus.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.txs++
	if b.fail > 0 {
		b.fail--
		return ErrTransient
	}

	for _, s := range b.slaves {
		if s.Answers(addr) {
			return s.Transact(addr, w, r)
		}
	}
	return fmt.Errorf("%w: 0x%02X", twi.ErrNoAck, addr)
}

func (b *Bus) String() string {
	return "twitest"
}
