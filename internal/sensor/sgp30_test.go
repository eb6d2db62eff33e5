package sensor

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/hawkw/eclssd/internal/baseline"
	"github.com/hawkw/eclssd/internal/bus"
	"github.com/hawkw/eclssd/internal/metricsregistry"
)

// scriptedReadBus answers writes with success and reads with the next entry
// of a canned response script, in order. Grounded on bus_test.go's
// fakeI2CBus shape.
type scriptedReadBus struct {
	mu    sync.Mutex
	reads [][]byte
	next  int
}

func (s *scriptedReadBus) Tx(addr uint16, w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r == nil {
		return nil
	}
	if s.next >= len(s.reads) {
		return errEndOfScript
	}
	copy(r, s.reads[s.next])
	s.next++
	return nil
}

func (s *scriptedReadBus) SetSpeed(physic.Frequency) error { return nil }
func (s *scriptedReadBus) String() string                  { return "scripted" }
func (s *scriptedReadBus) Halt() error                      { return nil }
func (s *scriptedReadBus) Close() error                     { return nil }

type scriptedReadBusError string

func (e scriptedReadBusError) Error() string { return string(e) }

const errEndOfScript = scriptedReadBusError("scriptedReadBus: script exhausted")

func sgp30MeasureFrame(co2eq, tvoc uint16) []byte {
	data := make([]byte, 6)
	data[0], data[1] = byte(co2eq>>8), byte(co2eq)
	data[2] = sgp30CRC8(data[0:2])
	data[3], data[4] = byte(tvoc>>8), byte(tvoc)
	data[5] = sgp30CRC8(data[3:5])
	return data
}

func newTestFamilies(t *testing.T) Families {
	t.Helper()
	capacity := len(All)
	return Families{
		TempC:         metricsregistry.NewGaugeFamily("temp_c", "", "celsius", capacity),
		CO2ppm:        metricsregistry.NewGaugeFamily("co2_ppm", "", "ppm", capacity),
		ECO2ppm:       metricsregistry.NewGaugeFamily("eco2_ppm", "", "ppm", capacity),
		RelHumidity:   metricsregistry.NewGaugeFamily("rel_humidity_percent", "", "percent", capacity),
		AbsHumidity:   metricsregistry.NewGaugeFamily("abs_humidity_g_m3", "", "g/m3", capacity),
		PressureHPa:   metricsregistry.NewGaugeFamily("pressure_hpa", "", "hPa", capacity),
		GasResistance: metricsregistry.NewGaugeFamily("gas_resistance_ohms", "", "ohms", capacity),
		TVOCppb:       metricsregistry.NewGaugeFamily("tvoc_ppb", "", "ppb", capacity),
		VOCIndex:      metricsregistry.NewGaugeFamily("voc_index", "", "index", capacity),
		NOxIndex:      metricsregistry.NewGaugeFamily("nox_index", "", "index", capacity),
		PMConc:        metricsregistry.NewGaugeFamily("pm_concentration_ug_m3", "", "ug/m3", 6),
		PMCount:       metricsregistry.NewGaugeFamily("pm_count_per_dl", "", "count/0.1L", 6),
		SensorErrors:  metricsregistry.NewCounterFamily("sensor_errors_total", "", "count", capacity),
		SensorResets:  metricsregistry.NewCounterFamily("sensor_resets_total", "", "count", capacity),
	}
}

func TestSGP30PollRequestsResetAfterThreeConsecutiveSaturatedReadings(t *testing.T) {
	fams := newTestFamilies(t)
	// Every Poll that gets past the saturation check also reads a
	// get_baseline reply, which has the same two CRC-guarded words layout.
	base := sgp30MeasureFrame(0x8973, 0x8aae)
	fake := &scriptedReadBus{reads: [][]byte{
		sgp30MeasureFrame(400, sgp30TVOCSaturation), base,
		sgp30MeasureFrame(400, sgp30TVOCSaturation), base,
		sgp30MeasureFrame(400, sgp30TVOCSaturation),
	}}
	shared := bus.New(fake)

	a, err := NewSGP30Adapter(shared, fams, baseline.NullStore{})
	require.NoError(t, err)

	require.NoError(t, a.Poll(context.Background()))
	assert.Equal(t, 1, a.saturatedCount)
	require.NoError(t, a.Poll(context.Background()))
	assert.Equal(t, 2, a.saturatedCount)

	err = a.Poll(context.Background())
	require.Error(t, err)
	assert.True(t, ShouldReset(err), "three consecutive saturated readings must demand a reset")
	assert.Equal(t, 0, a.saturatedCount, "saturation counter resets once a reset is requested")
}

func TestSGP30PollResetsSaturationCounterOnFreshReading(t *testing.T) {
	fams := newTestFamilies(t)
	base := sgp30MeasureFrame(0x8973, 0x8aae)
	fake := &scriptedReadBus{reads: [][]byte{
		sgp30MeasureFrame(400, sgp30TVOCSaturation), base,
		sgp30MeasureFrame(400, sgp30TVOCSaturation), base,
		sgp30MeasureFrame(450, 120), base,
	}}
	shared := bus.New(fake)

	a, err := NewSGP30Adapter(shared, fams, baseline.NullStore{})
	require.NoError(t, err)

	require.NoError(t, a.Poll(context.Background()))
	require.NoError(t, a.Poll(context.Background()))
	require.NoError(t, a.Poll(context.Background()))
	assert.Equal(t, 0, a.saturatedCount, "a non-saturated reading clears the run")
}
