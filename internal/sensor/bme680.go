package sensor

import (
	"context"
	"time"

	"github.com/hawkw/eclssd/internal/bus"
	"github.com/hawkw/eclssd/internal/humidity"
	"github.com/hawkw/eclssd/internal/metricsregistry"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
)

const bme680Addr = 0x76

// BME680Adapter drives a Bosch BME680 combined temperature/humidity/
// pressure/gas sensor through periph.io's bmxx80 driver, the same driver
// the teacher's gpio node wrapper used, adapted here to publish into the
// shared metric registry instead of a flow message.
type BME680Adapter struct {
	bus *bus.SharedBus
	dev *bmxx80.Dev

	tempC    *metricsregistry.Gauge
	pressure *metricsregistry.Gauge
	relHum   *metricsregistry.Gauge
	absHum   *metricsregistry.Gauge

	polls             uint64
	absHumidityStride int
}

// NewBME680Adapter constructs the adapter; metric handles are registered
// eagerly so capacity failures surface at startup, not mid-poll.
func NewBME680Adapter(b *bus.SharedBus, fams Families, absHumidityStride int) (*BME680Adapter, error) {
	a := &BME680Adapter{bus: b, absHumidityStride: atLeastOne(absHumidityStride)}
	name := BME680.String()
	var err error
	if a.tempC, err = fams.TempC.Gauge(name); err != nil {
		return nil, err
	}
	if a.pressure, err = fams.PressureHPa.Gauge(name); err != nil {
		return nil, err
	}
	if a.relHum, err = fams.RelHumidity.Gauge(name); err != nil {
		return nil, err
	}
	if a.absHum, err = fams.AbsHumidity.Gauge(name); err != nil {
		return nil, err
	}
	// gas_resistance_ohms has no BME680 publisher: periph.io's bmxx80
	// driver reads temperature/pressure/humidity only, it doesn't drive the
	// gas heater or expose a resistance reading.
	return a, nil
}

// Identity implements Adapter.
func (a *BME680Adapter) Identity() Identity { return BME680 }

// PollInterval implements Adapter.
func (a *BME680Adapter) PollInterval() time.Duration { return time.Second }

// Init implements Adapter.
func (a *BME680Adapter) Init(ctx context.Context) error {
	opts := &bmxx80.Opts{
		Temperature: bmxx80.O4x,
		Pressure:    bmxx80.O4x,
		Humidity:    bmxx80.O4x,
		Filter:      bmxx80.F4,
	}
	dev, err := bmxx80.NewI2C(a.bus, bme680Addr, opts)
	if err != nil {
		return WrapI2C(BME680, "init", err)
	}
	a.dev = dev
	return nil
}

// Poll implements Adapter.
func (a *BME680Adapter) Poll(ctx context.Context) error {
	var env physic.Env
	if err := a.dev.Sense(&env); err != nil {
		return WrapI2C(BME680, "sense", err)
	}

	tempC := env.Temperature.Celsius()
	// bmxx80 reports pressure in Pascal; the family publishes hPa, matching
	// the rest of the sensor pack's pressure_hpa unit.
	pressureHPa := float64(env.Pressure) / float64(physic.Pascal) / 100.0
	relHumPct := float64(env.Humidity) / float64(physic.PercentRH)

	a.tempC.Set(tempC)
	a.pressure.Set(pressureHPa)
	a.relHum.Set(relHumPct)

	if a.polls%uint64(a.absHumidityStride) == 0 {
		a.absHum.Set(humidity.Absolute(tempC, relHumPct))
	}
	a.polls++

	return nil
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
