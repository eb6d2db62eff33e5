package sensor

import (
	"context"
	"fmt"
	"time"

	"github.com/hawkw/eclssd/internal/bus"
	"github.com/hawkw/eclssd/internal/humidity"
	"github.com/hawkw/eclssd/internal/metricsregistry"
)

const sen55Addr = 0x69

const (
	sen55CmdStartMeasurement   = 0x0021
	sen55CmdStopMeasurement    = 0x0104
	sen55CmdReadDataReady      = 0x0202
	sen55CmdReadMeasuredValues = 0x03C4
	sen55CmdReadDeviceStatus   = 0xD206
	sen55CmdVOCTuningParams    = 0x60D0
)

var sen55PMDiameters = []string{"1.0", "2.5", "4.0", "10.0"}

// sen55VOCTuning is the VOC algorithm tuning state the device lets a host
// read back and restore, persisted as the sensor's baseline the same way
// sgp30.go persists its eCO2/TVOC baseline words.
type sen55VOCTuning struct {
	IndexOffset      int16 `toml:"index_offset"`
	LearningTimeHours int16 `toml:"learning_time_hours"`
	GatingMaxDuration int16 `toml:"gating_max_duration_minutes"`
	StdInitial       int16 `toml:"std_initial"`
	GainFactor       int16 `toml:"gain_factor"`
}

// SEN55Adapter drives a Sensirion SEN55 combination particulate/VOC/NOx
// sensor, the richest adapter here: it shares the Sensirion CRC8 framing
// established in sgp30.go and the humidity derivation every RH-reporting
// sensor uses. Grounded on the original lib/eclss/src/sensor/sen55.rs.
type SEN55Adapter struct {
	dev      *bus.SharedBus
	baseline BaselineStore

	pm      map[string]*metricsregistry.Gauge
	tempC   *metricsregistry.Gauge
	relHum  *metricsregistry.Gauge
	absHum  *metricsregistry.Gauge
	voc     *metricsregistry.Gauge
	nox     *metricsregistry.Gauge

	polls             uint64
	absHumidityStride int
}

// NewSEN55Adapter constructs the adapter. baseline may be baseline.NullStore
// if the sensor isn't configured to persist VOC tuning state.
func NewSEN55Adapter(b *bus.SharedBus, fams Families, baseline BaselineStore, absHumidityStride int) (*SEN55Adapter, error) {
	a := &SEN55Adapter{
		dev:               b,
		baseline:          baseline,
		pm:                make(map[string]*metricsregistry.Gauge, len(sen55PMDiameters)),
		absHumidityStride: atLeastOne(absHumidityStride),
	}
	name := SEN55.String()
	for _, d := range sen55PMDiameters {
		g, err := fams.PMConc.Gauge(d)
		if err != nil {
			return nil, err
		}
		a.pm[d] = g
	}
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
	if a.voc, err = fams.VOCIndex.Gauge(name); err != nil {
		return nil, err
	}
	if a.nox, err = fams.NOxIndex.Gauge(name); err != nil {
		return nil, err
	}
	return a, nil
}

// Identity implements Adapter.
func (a *SEN55Adapter) Identity() Identity { return SEN55 }

// PollInterval implements Adapter.
func (a *SEN55Adapter) PollInterval() time.Duration { return time.Second }

func (a *SEN55Adapter) sendCommand(cmd uint16) error {
	return a.dev.Tx(sen55Addr, []byte{byte(cmd >> 8), byte(cmd)}, nil)
}

func (a *SEN55Adapter) sendCommandAndRead(cmd uint16, delay time.Duration, words int) ([]byte, error) {
	if err := a.sendCommand(cmd); err != nil {
		return nil, err
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	data := make([]byte, words*3)
	if err := a.dev.Tx(sen55Addr, nil, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Init implements Adapter.
func (a *SEN55Adapter) Init(ctx context.Context) error {
	if err := a.sendCommand(sen55CmdStopMeasurement); err != nil {
		return WrapI2C(SEN55, "stop_measurement", err)
	}
	time.Sleep(200 * time.Millisecond)

	var tuning sen55VOCTuning
	if found, err := a.baseline.Load(&tuning); err == nil && found {
		if err := a.writeVOCTuning(tuning); err != nil {
			return WrapI2C(SEN55, "write_voc_tuning", err)
		}
	}

	if err := a.sendCommand(sen55CmdStartMeasurement); err != nil {
		return WrapI2C(SEN55, "start_measurement", err)
	}
	a.polls = 0
	return nil
}

func (a *SEN55Adapter) writeVOCTuning(t sen55VOCTuning) error {
	data := []byte{byte(sen55CmdVOCTuningParams >> 8), byte(sen55CmdVOCTuningParams)}
	for _, word := range []int16{t.IndexOffset, t.LearningTimeHours, t.GatingMaxDuration, t.StdInitial, t.GainFactor, 0} {
		w := uint16(word)
		wb := []byte{byte(w >> 8), byte(w)}
		data = append(data, wb...)
		data = append(data, sgp30CRC8(wb))
	}
	return a.dev.Tx(sen55Addr, data, nil)
}

func (a *SEN55Adapter) readVOCTuning() (sen55VOCTuning, error) {
	data, err := a.sendCommandAndRead(sen55CmdVOCTuningParams, 20*time.Millisecond, 6)
	if err != nil {
		return sen55VOCTuning{}, err
	}
	words := make([]int16, 6)
	for i := 0; i < 6; i++ {
		if !verifySGP30CRC(data[i*3:i*3+2], data[i*3+2]) {
			return sen55VOCTuning{}, ErrCRCMismatch
		}
		words[i] = int16(uint16(data[i*3])<<8 | uint16(data[i*3+1]))
	}
	return sen55VOCTuning{
		IndexOffset:       words[0],
		LearningTimeHours: words[1],
		GatingMaxDuration: words[2],
		StdInitial:        words[3],
		GainFactor:        words[4],
	}, nil
}

// Poll implements Adapter.
func (a *SEN55Adapter) Poll(ctx context.Context) error {
	for {
		ready, err := a.sendCommandAndRead(sen55CmdReadDataReady, 20*time.Millisecond, 1)
		if err != nil {
			return WrapI2C(SEN55, "read_data_ready", err)
		}
		if !verifySGP30CRC(ready[0:2], ready[2]) {
			return Wrap(SEN55, "read_data_ready", ErrCRCMismatch)
		}
		if ready[1] != 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}

	data, err := a.sendCommandAndRead(sen55CmdReadMeasuredValues, 20*time.Millisecond, 8)
	if err != nil {
		return WrapI2C(SEN55, "read_measured_values", err)
	}
	words := make([]int32, 8)
	for i := 0; i < 8; i++ {
		if !verifySGP30CRC(data[i*3:i*3+2], data[i*3+2]) {
			return Wrap(SEN55, "read_measured_values", ErrCRCMismatch)
		}
		words[i] = int32(int16(uint16(data[i*3])<<8 | uint16(data[i*3+1])))
	}

	a.pm["1.0"].Set(float64(words[0]) / 10.0)
	a.pm["2.5"].Set(float64(words[1]) / 10.0)
	a.pm["4.0"].Set(float64(words[2]) / 10.0)
	a.pm["10.0"].Set(float64(words[3]) / 10.0)

	const sen55NoValue = 0x7FFF
	if words[4] != sen55NoValue {
		relHumPct := float64(words[4]) / 100.0
		a.relHum.Set(relHumPct)
		if words[5] != sen55NoValue {
			tempC := float64(words[5]) / 200.0
			a.tempC.Set(tempC)
			if a.polls%uint64(a.absHumidityStride) == 0 {
				a.absHum.Set(humidity.Absolute(tempC, relHumPct))
			}
		}
	}
	if words[6] != sen55NoValue {
		a.voc.Set(float64(words[6]) / 10.0)
	}
	if words[7] != sen55NoValue {
		a.nox.Set(float64(words[7]) / 10.0)
	}

	a.polls++

	if a.polls%600 == 0 {
		if tuning, err := a.readVOCTuning(); err == nil {
			if err := a.baseline.Save(tuning); err != nil {
				return fmt.Errorf("sen55: persist voc tuning: %w", err)
			}
		}
	}

	return nil
}
