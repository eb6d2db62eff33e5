package sensor

import (
	"context"
	"time"

	"github.com/hawkw/eclssd/internal/bus"
	"github.com/hawkw/eclssd/internal/humidity"
	"github.com/hawkw/eclssd/internal/metricsregistry"
)

const sht41Addr = 0x44

const (
	sht41CmdSerialNumber       = 0x89
	sht41CmdMeasureMediumPrec  = 0xF6
)

// SHT41Adapter drives a Sensirion SHT41 temperature/humidity sensor,
// grounded on the teacher's sht3x.go (same Sensirion command/CRC idiom,
// generalized to the SHT4x command set).
type SHT41Adapter struct {
	dev *bus.SharedBus

	tempC  *metricsregistry.Gauge
	relHum *metricsregistry.Gauge
	absHum *metricsregistry.Gauge

	polls             uint64
	absHumidityStride int
}

// NewSHT41Adapter constructs the adapter.
func NewSHT41Adapter(b *bus.SharedBus, fams Families, absHumidityStride int) (*SHT41Adapter, error) {
	a := &SHT41Adapter{dev: b, absHumidityStride: atLeastOne(absHumidityStride)}
	name := SHT41.String()
	var err error
	if a.tempC, err = fams.TempC.Gauge(name); err != nil {
		return nil, err
	}
	if a.relHum, err = fams.RelHumidity.Gauge(name); err != nil {
		return nil, err
	}
	if a.absHum, err = fams.AbsHumidity.Gauge(name); err != nil {
		return nil, err
	}
	return a, nil
}

// Identity implements Adapter.
func (a *SHT41Adapter) Identity() Identity { return SHT41 }

// PollInterval implements Adapter.
func (a *SHT41Adapter) PollInterval() time.Duration { return time.Second }

// Init implements Adapter.
func (a *SHT41Adapter) Init(ctx context.Context) error {
	data := make([]byte, 6)
	if err := a.dev.Tx(sht41Addr, []byte{sht41CmdSerialNumber}, data); err != nil {
		return WrapI2C(SHT41, "read_serial_number", err)
	}
	if !verifySGP30CRC(data[0:2], data[2]) || !verifySGP30CRC(data[3:5], data[5]) {
		return Wrap(SHT41, "read_serial_number", ErrCRCMismatch)
	}
	a.polls = 0
	return nil
}

// Poll implements Adapter.
func (a *SHT41Adapter) Poll(ctx context.Context) error {
	if err := a.dev.Tx(sht41Addr, []byte{sht41CmdMeasureMediumPrec}, nil); err != nil {
		return WrapI2C(SHT41, "measure", err)
	}
	time.Sleep(5 * time.Millisecond)

	data := make([]byte, 6)
	if err := a.dev.Tx(sht41Addr, nil, data); err != nil {
		return WrapI2C(SHT41, "read_measurement", err)
	}
	if !verifySGP30CRC(data[0:2], data[2]) || !verifySGP30CRC(data[3:5], data[5]) {
		return Wrap(SHT41, "read_measurement", ErrCRCMismatch)
	}

	rawTemp := uint16(data[0])<<8 | uint16(data[1])
	rawHumidity := uint16(data[3])<<8 | uint16(data[4])

	tempC := -45.0 + 175.0*(float64(rawTemp)/65535.0)
	relHumPct := -6.0 + 125.0*(float64(rawHumidity)/65535.0)
	if relHumPct < 0 {
		relHumPct = 0
	} else if relHumPct > 100 {
		relHumPct = 100
	}

	a.tempC.Set(tempC)
	a.relHum.Set(relHumPct)

	if a.polls%uint64(a.absHumidityStride) == 0 {
		a.absHum.Set(humidity.Absolute(tempC, relHumPct))
	}
	a.polls++

	return nil
}
