// Package sensorstate is the fixed-capacity SensorIdentity→SensorState
// registry the supervisor and HTTP surface both read and write. Grounded on
// the teacher's internal/node.Registry (mutex-guarded map, idempotent
// Register) with the status cell made a lock-free atomic uint32 after the
// original status.rs.
package sensorstate

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hawkw/eclssd/internal/sensor"
)

// State is one sensor's lifecycle record. It is created once by
// GetOrRegister and lives for the daemon's lifetime; it is never removed.
type State struct {
	identity sensor.Identity
	status   atomic.Uint32

	pollInterval atomic.Int64

	found atomic.Bool

	errorCount atomic.Uint64
	resetCount atomic.Uint64
}

// Identity returns the sensor this state tracks.
func (s *State) Identity() sensor.Identity { return s.identity }

// Status returns the current lifecycle status.
func (s *State) Status() sensor.Status { return sensor.Status(s.status.Load()) }

// SetStatus updates the status cell and, the first time the sensor is ever
// observed present (any status other than Unknown, NoAcknowledge or
// Initializing), latches the found flag.
func (s *State) SetStatus(status sensor.Status) {
	s.status.Store(uint32(status))
	if status.Present() && status != sensor.Initializing {
		s.found.Store(true)
	}
}

// Found reports whether this sensor has ever answered the bus.
func (s *State) Found() bool { return s.found.Load() }

// PollInterval returns the adapter's configured poll cadence.
func (s *State) PollInterval() time.Duration {
	return time.Duration(s.pollInterval.Load())
}

// SetPollInterval records the adapter's poll cadence; called once at
// registration.
func (s *State) SetPollInterval(d time.Duration) { s.pollInterval.Store(int64(d)) }

// IncrementErrors increments and returns the sensor's lifetime error count.
func (s *State) IncrementErrors() uint64 { return s.errorCount.Add(1) }

// ErrorCount returns the sensor's lifetime error count.
func (s *State) ErrorCount() uint64 { return s.errorCount.Load() }

// IncrementResets increments and returns the sensor's lifetime reset count
// (INIT re-entries after a should-reset error or a prior RUNNING session).
func (s *State) IncrementResets() uint64 { return s.resetCount.Add(1) }

// ResetCount returns the sensor's lifetime reset count.
func (s *State) ResetCount() uint64 { return s.resetCount.Load() }

// Registry is the fixed-capacity identity→state mapping. Capacity is sized
// once at startup to the enabled sensor list; exceeding it is a startup
// fatal, per spec.
type Registry struct {
	mu       sync.Mutex
	capacity int
	states   map[sensor.Identity]*State
}

// New creates a registry sized to hold at most capacity sensors.
func New(capacity int) *Registry {
	return &Registry{capacity: capacity, states: make(map[sensor.Identity]*State, capacity)}
}

// GetOrRegister returns the State for id, creating it on first call. It is
// safe for concurrent callers; the same *State is returned on every
// subsequent call for the same identity. Returns an error if the registry is
// already at capacity and id is not already registered.
func (r *Registry) GetOrRegister(id sensor.Identity) (*State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.states[id]; ok {
		return s, nil
	}
	if len(r.states) >= r.capacity {
		return nil, fmt.Errorf("sensorstate: registry at capacity (%d); cannot register %s", r.capacity, id)
	}
	s := &State{identity: id}
	s.status.Store(uint32(sensor.Unknown))
	r.states[id] = s
	return s, nil
}

// Get returns the State for id if already registered.
func (r *Registry) Get(id sensor.Identity) (*State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[id]
	return s, ok
}

// Snapshot returns every currently-registered state, in sensor.All order.
func (r *Registry) Snapshot() []*State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*State, 0, len(r.states))
	for _, id := range sensor.All {
		if s, ok := r.states[id]; ok {
			out = append(out, s)
		}
	}
	return out
}
