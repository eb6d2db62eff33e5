package sensor

import (
	"context"
	"fmt"
	"time"

	"github.com/hawkw/eclssd/internal/bus"
)

const scd4xAddr = 0x62

const (
	scd4xCmdStopPeriodicMeasurement  = 0x3F86
	scd4xCmdReinit                  = 0x3646
	scd4xCmdGetSerialNumber         = 0x3682
	scd4xCmdPerformSelfTest         = 0x3639
	scd4xCmdStartPeriodicMeasurement = 0x21B1
	scd4xCmdGetDataReadyStatus      = 0xE4B8
	scd4xCmdReadMeasurement         = 0xEC05
	scd4xCmdSetAmbientPressure      = 0xE000
)

// scd4x holds the command-protocol plumbing shared by the SCD40 and SCD41
// (same silicon family, same command set; SCD41 differs only in its
// datasheet sampling duty cycle).
type scd4x struct {
	dev    *bus.SharedBus
	shared *scdShared
}

func newSCD4x(b *bus.SharedBus, fams Families, id Identity, absHumidityStride int) (*scd4x, error) {
	shared, err := newSCDShared(fams, id, absHumidityStride)
	if err != nil {
		return nil, err
	}
	return &scd4x{dev: b, shared: shared}, nil
}

func (s *scd4x) sendCommand(cmd uint16) error {
	return s.dev.Tx(scd4xAddr, []byte{byte(cmd >> 8), byte(cmd)}, nil)
}

func (s *scd4x) sendCommandAndRead(cmd uint16, delay time.Duration, words int) ([]byte, error) {
	if err := s.sendCommand(cmd); err != nil {
		return nil, err
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	data := make([]byte, words*3)
	if err := s.dev.Tx(scd4xAddr, nil, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *scd4x) init(ctx context.Context, id Identity) error {
	if err := s.sendCommand(scd4xCmdStopPeriodicMeasurement); err != nil {
		return WrapI2C(id, "stop_periodic_measurement", err)
	}
	time.Sleep(500 * time.Millisecond)

	if err := s.sendCommand(scd4xCmdReinit); err != nil {
		return WrapI2C(id, "reinit", err)
	}
	time.Sleep(30 * time.Millisecond)

	if _, err := s.sendCommandAndRead(scd4xCmdGetSerialNumber, time.Millisecond, 3); err != nil {
		return WrapI2C(id, "get_serial_number", err)
	}

	data, err := s.sendCommandAndRead(scd4xCmdPerformSelfTest, 10*time.Second, 1)
	if err != nil {
		return WrapI2C(id, "perform_self_test", err)
	}
	if !verifySGP30CRC(data[0:2], data[2]) {
		return Wrap(id, "perform_self_test", ErrCRCMismatch)
	}
	if malfunction := uint16(data[0])<<8 | uint16(data[1]); malfunction != 0 {
		return Wrap(id, "perform_self_test", fmt.Errorf("self-test reported malfunction 0x%04X", malfunction))
	}

	if err := s.sendCommand(scd4xCmdStartPeriodicMeasurement); err != nil {
		return WrapI2C(id, "start_periodic_measurement", err)
	}

	s.shared.polls = 0
	return nil
}

func (s *scd4x) poll(ctx context.Context, id Identity) error {
	if pascals, ok := s.shared.pressurePascals(); ok {
		data := []byte{byte(pascals >> 8), byte(pascals)}
		data = append(data, sgp30CRC8(data))
		cmd := []byte{byte(scd4xCmdSetAmbientPressure >> 8), byte(scd4xCmdSetAmbientPressure)}
		if err := s.dev.Tx(scd4xAddr, append(cmd, data...), nil); err != nil {
			return WrapI2C(id, "set_ambient_pressure", err)
		}
	}

	for {
		status, err := s.sendCommandAndRead(scd4xCmdGetDataReadyStatus, time.Millisecond, 1)
		if err != nil {
			return WrapI2C(id, "get_data_ready_status", err)
		}
		if !verifySGP30CRC(status[0:2], status[2]) {
			return Wrap(id, "get_data_ready_status", ErrCRCMismatch)
		}
		if (uint16(status[0])<<8|uint16(status[1]))&0x07FF != 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}

	data, err := s.sendCommandAndRead(scd4xCmdReadMeasurement, time.Millisecond, 3)
	if err != nil {
		return WrapI2C(id, "read_measurement", err)
	}
	for i := 0; i < 3; i++ {
		if !verifySGP30CRC(data[i*3:i*3+2], data[i*3+2]) {
			return Wrap(id, "read_measurement", ErrCRCMismatch)
		}
	}

	co2 := uint16(data[0])<<8 | uint16(data[1])
	rawTemp := uint16(data[3])<<8 | uint16(data[4])
	rawHum := uint16(data[6])<<8 | uint16(data[7])

	tempC := -45.0 + 175.0*(float64(rawTemp)/65536.0)
	relHumPct := 100.0 * (float64(rawHum) / 65536.0)

	s.shared.record(co2, tempC, relHumPct)
	return nil
}

// SCD40Adapter drives a Sensirion SCD40 CO2/temperature/humidity sensor,
// grounded on the original lib/eclss/src/sensor/scd/scd40.rs state machine.
type SCD40Adapter struct{ *scd4x }

// NewSCD40Adapter constructs the adapter.
func NewSCD40Adapter(b *bus.SharedBus, fams Families, absHumidityStride int) (*SCD40Adapter, error) {
	s, err := newSCD4x(b, fams, SCD40, absHumidityStride)
	if err != nil {
		return nil, err
	}
	return &SCD40Adapter{s}, nil
}

// Identity implements Adapter.
func (a *SCD40Adapter) Identity() Identity { return SCD40 }

// PollInterval implements Adapter.
func (a *SCD40Adapter) PollInterval() time.Duration { return 5 * time.Second }

// Init implements Adapter.
func (a *SCD40Adapter) Init(ctx context.Context) error { return a.init(ctx, SCD40) }

// Poll implements Adapter.
func (a *SCD40Adapter) Poll(ctx context.Context) error { return a.poll(ctx, SCD40) }

// SCD41Adapter drives a Sensirion SCD41, the low-power sibling of the
// SCD40 sharing its command set but sampling on a slower duty cycle.
type SCD41Adapter struct{ *scd4x }

// NewSCD41Adapter constructs the adapter.
func NewSCD41Adapter(b *bus.SharedBus, fams Families, absHumidityStride int) (*SCD41Adapter, error) {
	s, err := newSCD4x(b, fams, SCD41, absHumidityStride)
	if err != nil {
		return nil, err
	}
	return &SCD41Adapter{s}, nil
}

// Identity implements Adapter.
func (a *SCD41Adapter) Identity() Identity { return SCD41 }

// PollInterval implements Adapter.
func (a *SCD41Adapter) PollInterval() time.Duration { return 30 * time.Second }

// Init implements Adapter.
func (a *SCD41Adapter) Init(ctx context.Context) error { return a.init(ctx, SCD41) }

// Poll implements Adapter.
func (a *SCD41Adapter) Poll(ctx context.Context) error { return a.poll(ctx, SCD41) }
