package sensor

import (
	"context"
	"math"
	"time"

	"github.com/hawkw/eclssd/internal/bus"
)

const scd30Addr = 0x61

const (
	scd30CmdContinuousMeasurement = 0x0010
	scd30CmdGetDataReady          = 0x0202
	scd30CmdReadMeasurement       = 0x0300
	scd30CmdSetMeasurementInterval = 0x4600
)

// SCD30Adapter drives a Sensirion SCD30 CO2/temperature/humidity sensor. It
// predates the SCD4x family and uses a different (older) command set, but
// the same Sensirion CRC8 framing and the shared scdShared recording logic
// apply, per the original lib/eclss/src/sensor/scd/scd30.rs.
type SCD30Adapter struct {
	dev    *bus.SharedBus
	shared *scdShared
}

// NewSCD30Adapter constructs the adapter.
func NewSCD30Adapter(b *bus.SharedBus, fams Families, absHumidityStride int) (*SCD30Adapter, error) {
	shared, err := newSCDShared(fams, SCD30, absHumidityStride)
	if err != nil {
		return nil, err
	}
	return &SCD30Adapter{dev: b, shared: shared}, nil
}

// Identity implements Adapter.
func (a *SCD30Adapter) Identity() Identity { return SCD30 }

// PollInterval implements Adapter.
func (a *SCD30Adapter) PollInterval() time.Duration { return 2 * time.Second }

func (a *SCD30Adapter) sendCommand(cmd uint16, arg uint16) error {
	data := []byte{byte(cmd >> 8), byte(cmd), byte(arg >> 8), byte(arg)}
	data = append(data, sgp30CRC8(data[2:4]))
	return a.dev.Tx(scd30Addr, data, nil)
}

func (a *SCD30Adapter) readWords(cmd uint16, delay time.Duration, words int) ([]byte, error) {
	if err := a.dev.Tx(scd30Addr, []byte{byte(cmd >> 8), byte(cmd)}, nil); err != nil {
		return nil, err
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	data := make([]byte, words*3)
	if err := a.dev.Tx(scd30Addr, nil, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Init implements Adapter.
func (a *SCD30Adapter) Init(ctx context.Context) error {
	if err := a.sendCommand(scd30CmdSetMeasurementInterval, 2); err != nil {
		return WrapI2C(SCD30, "set_measurement_interval", err)
	}
	if err := a.sendCommand(scd30CmdContinuousMeasurement, 0); err != nil {
		return WrapI2C(SCD30, "start_continuous_measurement", err)
	}
	a.shared.polls = 0
	return nil
}

// Poll implements Adapter.
func (a *SCD30Adapter) Poll(ctx context.Context) error {
	if pascals, ok := a.shared.pressurePascals(); ok {
		// SCD30's continuous-measurement command takes ambient pressure in
		// millibar as its argument, unlike the SCD4x's dedicated command.
		if err := a.sendCommand(scd30CmdContinuousMeasurement, pascals/100); err != nil {
			return WrapI2C(SCD30, "set_ambient_pressure", err)
		}
	}

	for {
		ready, err := a.readWords(scd30CmdGetDataReady, time.Millisecond, 1)
		if err != nil {
			return WrapI2C(SCD30, "get_data_ready", err)
		}
		if !verifySGP30CRC(ready[0:2], ready[2]) {
			return Wrap(SCD30, "get_data_ready", ErrCRCMismatch)
		}
		if ready[1] != 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}

	data, err := a.readWords(scd30CmdReadMeasurement, 3*time.Millisecond, 6)
	if err != nil {
		return WrapI2C(SCD30, "read_measurement", err)
	}
	for i := 0; i < 6; i++ {
		if !verifySGP30CRC(data[i*3:i*3+2], data[i*3+2]) {
			return Wrap(SCD30, "read_measurement", ErrCRCMismatch)
		}
	}

	co2 := float32frombytes(data[0], data[1], data[3], data[4])
	tempC := float32frombytes(data[6], data[7], data[9], data[10])
	relHumPct := float32frombytes(data[12], data[13], data[15], data[16])

	a.shared.record(uint16(co2), float64(tempC), float64(relHumPct))
	return nil
}

// float32frombytes decodes the SCD30's big-endian IEEE-754 float32, split
// across two CRC-guarded 16-bit words.
func float32frombytes(b0, b1, b2, b3 byte) float32 {
	bits := uint32(b0)<<24 | uint32(b1)<<16 | uint32(b2)<<8 | uint32(b3)
	return math.Float32frombits(bits)
}
