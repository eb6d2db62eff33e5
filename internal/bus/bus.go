// Package bus mediates exclusive access to a single shared I2C bus: every
// sensor adapter talks to different silicon at a different address, but
// periph.io's i2c.Bus is not safe for concurrent transactions from multiple
// goroutines, so every Tx is serialized through one mutex.
package bus

import (
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// SharedBus wraps a periph.io i2c.BusCloser so any number of goroutines can
// issue transactions without corrupting each other's wire traffic. It
// implements i2c.Bus itself, so it can be handed directly to periph device
// drivers (bmxx80.NewI2C and friends) as well as to eclssd's own
// hand-rolled adapters.
type SharedBus struct {
	mu  sync.Mutex
	bus i2c.BusCloser
}

// New wraps bus for safe concurrent use.
func New(bus i2c.BusCloser) *SharedBus {
	return &SharedBus{bus: bus}
}

// Tx performs a single I2C transaction, holding the bus lock for its
// duration only.
func (s *SharedBus) Tx(addr uint16, w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bus.Tx(addr, w, r)
}

// SetSpeed forwards to the underlying bus.
func (s *SharedBus) SetSpeed(f physic.Frequency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bus.SetSpeed(f)
}

// String satisfies conn.Resource.
func (s *SharedBus) String() string { return s.bus.String() }

// Halt satisfies conn.Resource; it does not close the underlying bus, since
// multiple adapters share it for the life of the process.
func (s *SharedBus) Halt() error { return nil }

// Close releases the underlying bus. Called once, at shutdown, by the
// composition root.
func (s *SharedBus) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bus.Close()
}

// Dev returns an i2c.Dev bound to addr that routes every transaction through
// this SharedBus, for adapters that talk conn.Conn rather than a raw Tx
// method.
func (s *SharedBus) Dev(addr uint16) *i2c.Dev {
	return &i2c.Dev{Bus: s, Addr: addr}
}
