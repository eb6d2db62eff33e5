package sensor

import (
	"context"
	"fmt"
	"time"

	"github.com/hawkw/eclssd/internal/bus"
	"github.com/hawkw/eclssd/internal/metricsregistry"
)

const sgp30Addr = 0x58

const (
	sgp30CmdInitAirQuality    = 0x2003
	sgp30CmdMeasureAirQuality = 0x2008
	sgp30CmdGetBaseline       = 0x2015
	sgp30CmdSetBaseline       = 0x201E
	sgp30CmdSetHumidity       = 0x2061
	sgp30CmdMeasureTest       = 0x2032
)

// sgp30TVOCSaturation is the TVOC reading (ppb) the device pins at when its
// internal signal has saturated; three consecutive reads at this value
// means the device needs a fresh init, not another poll retry.
const sgp30TVOCSaturation = 60000

// sgp30CalibrationPolls is how many polls the device needs before its
// readings are considered trustworthy enough to publish; readings during
// this window are used only to drive the baseline-learning algorithm.
const sgp30CalibrationPolls = 15

// sgp30Baseline is the persisted calibration record, the one case the
// spec's CalibrationBaseline type isn't opaque to the core.
type sgp30Baseline struct {
	CO2eq uint16 `toml:"co2eq"`
	TVOC  uint16 `toml:"tvoc"`
}

// SGP30Adapter drives a Sensirion SGP30 VOC/eCO2 sensor over its raw
// command protocol, grounded on the teacher's pkg/nodes/gpio/sgp30.go
// (command set, CRC8 polynomial, sendCommandAndRead shape).
type SGP30Adapter struct {
	dev *bus.SharedBus

	co2      *metricsregistry.Gauge
	tvoc     *metricsregistry.Gauge
	absHumid *metricsregistry.Family

	baseline BaselineStore
	last     sgp30Baseline
	haveLast bool

	polls          uint64
	saturatedCount int
}

// NewSGP30Adapter constructs the adapter.
func NewSGP30Adapter(b *bus.SharedBus, fams Families, baseline BaselineStore) (*SGP30Adapter, error) {
	a := &SGP30Adapter{dev: b, absHumid: fams.AbsHumidity, baseline: baseline}
	name := SGP30.String()
	var err error
	if a.co2, err = fams.ECO2ppm.Gauge(name); err != nil {
		return nil, err
	}
	if a.tvoc, err = fams.TVOCppb.Gauge(name); err != nil {
		return nil, err
	}
	return a, nil
}

// Identity implements Adapter.
func (a *SGP30Adapter) Identity() Identity { return SGP30 }

// PollInterval implements Adapter.
func (a *SGP30Adapter) PollInterval() time.Duration { return time.Second }

// Init implements Adapter.
func (a *SGP30Adapter) Init(ctx context.Context) error {
	if err := a.sendCommand(sgp30CmdInitAirQuality); err != nil {
		return WrapI2C(SGP30, "init_air_quality", err)
	}

	data, err := a.sendCommandAndRead(sgp30CmdMeasureTest, 220*time.Millisecond, 3)
	if err != nil {
		return WrapI2C(SGP30, "self_test", err)
	}
	if !verifySGP30CRC(data[0:2], data[2]) {
		return Wrap(SGP30, "self_test", ErrCRCMismatch)
	}
	if result := uint16(data[0])<<8 | uint16(data[1]); result != 0xD400 {
		return Wrap(SGP30, "self_test", fmt.Errorf("self-test returned 0x%04X", result))
	}

	a.polls = 0
	a.saturatedCount = 0

	var stored sgp30Baseline
	if ok, err := a.baseline.Load(&stored); err == nil && ok {
		if err := a.setBaseline(stored.CO2eq, stored.TVOC); err != nil {
			return WrapI2C(SGP30, "set_baseline", err)
		}
		a.last, a.haveLast = stored, true
	}

	return nil
}

// Poll implements Adapter.
func (a *SGP30Adapter) Poll(ctx context.Context) error {
	if mean, ok := a.absHumid.Mean(); ok {
		if err := a.setHumidity(mean); err != nil {
			return WrapI2C(SGP30, "set_humidity", err)
		}
	}

	data, err := a.sendCommandAndRead(sgp30CmdMeasureAirQuality, 12*time.Millisecond, 6)
	if err != nil {
		return WrapI2C(SGP30, "measure_air_quality", err)
	}
	if !verifySGP30CRC(data[0:2], data[2]) || !verifySGP30CRC(data[3:5], data[5]) {
		return Wrap(SGP30, "measure_air_quality", ErrCRCMismatch)
	}
	co2 := uint16(data[0])<<8 | uint16(data[1])
	tvoc := uint16(data[3])<<8 | uint16(data[4])

	if tvoc == sgp30TVOCSaturation {
		a.saturatedCount++
		if a.saturatedCount >= 3 {
			a.saturatedCount = 0
			return WrapReset(SGP30, "measure_air_quality", fmt.Errorf("tvoc pinned at saturation (%d ppb)", tvoc))
		}
	} else {
		a.saturatedCount = 0
	}

	a.polls++
	if a.polls > sgp30CalibrationPolls {
		a.co2.Set(float64(co2))
		a.tvoc.Set(float64(tvoc))
	}

	baseData, err := a.sendCommandAndRead(sgp30CmdGetBaseline, 10*time.Millisecond, 6)
	if err == nil && verifySGP30CRC(baseData[0:2], baseData[2]) && verifySGP30CRC(baseData[3:5], baseData[5]) {
		current := sgp30Baseline{
			CO2eq: uint16(baseData[0])<<8 | uint16(baseData[1]),
			TVOC:  uint16(baseData[3])<<8 | uint16(baseData[4]),
		}
		if !a.haveLast || current != a.last {
			if err := a.baseline.Save(&current); err == nil {
				a.last, a.haveLast = current, true
			}
		}
	}

	return nil
}

func (a *SGP30Adapter) sendCommand(cmd uint16) error {
	return a.dev.Tx(sgp30Addr, []byte{byte(cmd >> 8), byte(cmd)}, nil)
}

func (a *SGP30Adapter) sendCommandAndRead(cmd uint16, delay time.Duration, responseLen int) ([]byte, error) {
	if err := a.sendCommand(cmd); err != nil {
		return nil, err
	}
	time.Sleep(delay)
	data := make([]byte, responseLen)
	if err := a.dev.Tx(sgp30Addr, nil, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (a *SGP30Adapter) setBaseline(co2eq, tvoc uint16) error {
	data := []byte{
		byte(tvoc >> 8), byte(tvoc), 0,
		byte(co2eq >> 8), byte(co2eq), 0,
	}
	data[2] = sgp30CRC8(data[0:2])
	data[5] = sgp30CRC8(data[3:5])
	cmd := []byte{byte(sgp30CmdSetBaseline >> 8), byte(sgp30CmdSetBaseline)}
	return a.dev.Tx(sgp30Addr, append(cmd, data...), nil)
}

func (a *SGP30Adapter) setHumidity(absHumidityGramsM3 float64) error {
	fixedPoint := uint16(absHumidityGramsM3 * 256)
	data := []byte{byte(fixedPoint >> 8), byte(fixedPoint), 0}
	data[2] = sgp30CRC8(data[0:2])
	cmd := []byte{byte(sgp30CmdSetHumidity >> 8), byte(sgp30CmdSetHumidity)}
	return a.dev.Tx(sgp30Addr, append(cmd, data...), nil)
}

// sgp30CRC8 implements the Sensirion CRC8 variant (polynomial 0x31, init
// 0xFF) shared by the SGP30/SHT4x/SCD4x/SEN5x command protocols.
func sgp30CRC8(data []byte) byte {
	crc := byte(0xFF)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func verifySGP30CRC(data []byte, want byte) bool {
	return sgp30CRC8(data) == want
}
