// Package metricsregistry is a small, fixed-capacity, label-indexed metric
// registry: gauges track a running mean alongside their latest value,
// counters are monotonic, and a registry of named families renders itself as
// Prometheus text exposition or as JSON. It intentionally isn't
// prometheus/client_golang — see DESIGN.md for why.
package metricsregistry

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Counter is a monotonically increasing, lock-free counter.
type Counter struct {
	v        atomic.Uint64
	observed atomic.Bool
}

// Add increments the counter by delta and marks it as observed.
func (c *Counter) Add(delta uint64) {
	c.v.Add(delta)
	c.observed.Store(true)
}

// Value returns the counter's current value.
func (c *Counter) Value() uint64 { return c.v.Load() }

// Observed reports whether Add has ever been called.
func (c *Counter) Observed() bool { return c.observed.Load() }

// Gauge holds the latest reported value plus a running mean of every value
// it has ever been set to, both updated without locking.
type Gauge struct {
	latest atomic.Uint64
	sum    atomic.Uint64
	count  atomic.Uint64
}

// Set records a new observation.
func (g *Gauge) Set(v float64) {
	g.latest.Store(math.Float64bits(v))
	for {
		old := g.sum.Load()
		next := math.Float64bits(math.Float64frombits(old) + v)
		if g.sum.CompareAndSwap(old, next) {
			break
		}
	}
	g.count.Add(1)
}

// Value returns the most recently set value.
func (g *Gauge) Value() float64 {
	return math.Float64frombits(g.latest.Load())
}

// Mean returns the running mean of every observation, and whether any
// observation has been recorded at all.
func (g *Gauge) Mean() (float64, bool) {
	n := g.count.Load()
	if n == 0 {
		return 0, false
	}
	return math.Float64frombits(g.sum.Load()) / float64(n), true
}

// Observed reports whether Set has ever been called.
func (g *Gauge) Observed() bool { return g.count.Load() > 0 }

// Kind distinguishes a counter family from a gauge family.
type Kind int

const (
	// KindGauge families hold Gauge metrics.
	KindGauge Kind = iota
	// KindCounter families hold Counter metrics.
	KindCounter
)

// Family is a fixed-capacity set of same-named metrics distinguished by a
// single label value (sensor identity, particle diameter, ...).
type Family struct {
	Name string
	Help string
	Unit string
	Kind Kind

	mu       sync.RWMutex
	capacity int
	order    []string
	gauges   map[string]*Gauge
	counters map[string]*Counter
}

// NewGaugeFamily allocates a gauge family with room for capacity distinct
// labels.
func NewGaugeFamily(name, help, unit string, capacity int) *Family {
	return &Family{
		Name: name, Help: help, Unit: unit, Kind: KindGauge,
		capacity: capacity,
		gauges:   make(map[string]*Gauge, capacity),
	}
}

// NewCounterFamily allocates a counter family with room for capacity
// distinct labels.
func NewCounterFamily(name, help, unit string, capacity int) *Family {
	return &Family{
		Name: name, Help: help, Unit: unit, Kind: KindCounter,
		capacity: capacity,
		counters: make(map[string]*Counter, capacity),
	}
}

// Gauge returns (registering if necessary) the gauge for label. Registration
// is idempotent: calling it twice with the same label returns the same
// *Gauge. It fails once the family is at capacity and label hasn't already
// been registered.
func (f *Family) Gauge(label string) (*Gauge, error) {
	if f.Kind != KindGauge {
		return nil, fmt.Errorf("metricsregistry: family %q is not a gauge family", f.Name)
	}
	f.mu.RLock()
	if g, ok := f.gauges[label]; ok {
		f.mu.RUnlock()
		return g, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.gauges[label]; ok {
		return g, nil
	}
	if len(f.gauges) >= f.capacity {
		return nil, fmt.Errorf("metricsregistry: family %q is at capacity %d", f.Name, f.capacity)
	}
	g := &Gauge{}
	f.gauges[label] = g
	f.order = append(f.order, label)
	return g, nil
}

// Counter returns (registering if necessary) the counter for label.
func (f *Family) Counter(label string) (*Counter, error) {
	if f.Kind != KindCounter {
		return nil, fmt.Errorf("metricsregistry: family %q is not a counter family", f.Name)
	}
	f.mu.RLock()
	if c, ok := f.counters[label]; ok {
		f.mu.RUnlock()
		return c, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.counters[label]; ok {
		return c, nil
	}
	if len(f.counters) >= f.capacity {
		return nil, fmt.Errorf("metricsregistry: family %q is at capacity %d", f.Name, f.capacity)
	}
	c := &Counter{}
	f.counters[label] = c
	f.order = append(f.order, label)
	return c, nil
}

// Mean aggregates the per-label means of every registered gauge in the
// family into a single unweighted mean. Used for cross-sensor compensation
// (e.g. feeding the mean ambient pressure from whichever sensors publish it
// into the sensors that need it). Returns false if nothing has been
// observed yet.
func (f *Family) Mean() (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.Kind != KindGauge {
		return 0, false
	}
	var sum float64
	var n int
	for _, label := range f.order {
		if mean, ok := f.gauges[label].Mean(); ok {
			sum += mean
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func (f *Family) labels() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.order))
	copy(out, f.order)
	sort.Strings(out)
	return out
}

// Registry owns a set of named families and renders them in declaration
// order, matching the fixed field order of the original Rust metrics
// struct.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	families map[string]*Family
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{families: make(map[string]*Family)}
}

// Add registers a family under its own name. It panics on a duplicate name
// since families are wired once at startup by the composition root, never
// at runtime.
func (r *Registry) Add(f *Family) *Family {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.families[f.Name]; exists {
		panic(fmt.Sprintf("metricsregistry: family %q registered twice", f.Name))
	}
	r.families[f.Name] = f
	r.order = append(r.order, f.Name)
	return f
}

// Family looks up a previously-added family by name.
func (r *Registry) Family(name string) (*Family, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.families[name]
	return f, ok
}

// RenderPrometheus renders every family as Prometheus text exposition
// format.
func (r *Registry) RenderPrometheus() string {
	r.mu.RLock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	r.mu.RUnlock()

	var b strings.Builder
	for _, name := range names {
		f, ok := r.Family(name)
		if !ok {
			continue
		}
		typeName := "gauge"
		if f.Kind == KindCounter {
			typeName = "counter"
		}
		fmt.Fprintf(&b, "# HELP %s %s\n", f.Name, f.Help)
		fmt.Fprintf(&b, "# TYPE %s %s\n", f.Name, typeName)
		for _, label := range f.labels() {
			switch f.Kind {
			case KindGauge:
				g := f.gauges[label]
				if !g.Observed() {
					continue
				}
				fmt.Fprintf(&b, "%s{sensor=%q} %s\n", f.Name, label, formatFloat(g.Value()))
			case KindCounter:
				c := f.counters[label]
				if !c.Observed() {
					continue
				}
				fmt.Fprintf(&b, "%s{sensor=%q} %d\n", f.Name, label, c.Value())
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// FamilySnapshot is the JSON-friendly view of one family's current readings.
type FamilySnapshot struct {
	Name   string             `json:"name"`
	Help   string             `json:"help"`
	Unit   string             `json:"unit"`
	Values map[string]float64 `json:"values"`
}

// SerializeJSON returns a JSON-friendly snapshot of every family.
func (r *Registry) SerializeJSON() []FamilySnapshot {
	r.mu.RLock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	r.mu.RUnlock()

	out := make([]FamilySnapshot, 0, len(names))
	for _, name := range names {
		f, ok := r.Family(name)
		if !ok {
			continue
		}
		snap := FamilySnapshot{Name: f.Name, Help: f.Help, Unit: f.Unit, Values: map[string]float64{}}
		f.mu.RLock()
		for _, label := range f.order {
			switch f.Kind {
			case KindGauge:
				if g := f.gauges[label]; g.Observed() {
					snap.Values[label] = g.Value()
				}
			case KindCounter:
				if c := f.counters[label]; c.Observed() {
					snap.Values[label] = float64(c.Value())
				}
			}
		}
		f.mu.RUnlock()
		out = append(out, snap)
	}
	return out
}

func formatFloat(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.6f", v), "0"), ".")
}
