package sensor

import (
	"github.com/hawkw/eclssd/internal/humidity"
	"github.com/hawkw/eclssd/internal/metricsregistry"
)

// scdPressureValidRange is the datasheet-valid ambient pressure compensation
// window, in pascals, shared by every SCD3x/SCD4x model.
const (
	scdPressureMinPascals = 70_000
	scdPressureMaxPascals = 120_000
)

// scdShared is the state every SCD30/SCD40/SCD41 adapter shares: the same
// four published metrics (co2, temp, relative humidity, derived absolute
// humidity) and the same pressure-compensation read path. Grounded on the
// original lib/eclss/src/sensor/scd.rs Shared struct.
type scdShared struct {
	co2Gauge    *metricsregistry.Gauge
	tempGauge   *metricsregistry.Gauge
	relHumGauge *metricsregistry.Gauge
	absHumGauge *metricsregistry.Gauge
	pressure    *metricsregistry.Family

	polls             uint64
	absHumidityStride int
}

func newSCDShared(fams Families, id Identity, absHumidityStride int) (*scdShared, error) {
	s := &scdShared{pressure: fams.PressureHPa, absHumidityStride: atLeastOne(absHumidityStride)}
	name := id.String()
	var err error
	if s.co2Gauge, err = fams.CO2ppm.Gauge(name); err != nil {
		return nil, err
	}
	if s.tempGauge, err = fams.TempC.Gauge(name); err != nil {
		return nil, err
	}
	if s.relHumGauge, err = fams.RelHumidity.Gauge(name); err != nil {
		return nil, err
	}
	if s.absHumGauge, err = fams.AbsHumidity.Gauge(name); err != nil {
		return nil, err
	}
	return s, nil
}

// pressurePascals returns the mean ambient pressure (populated by BME680)
// converted to pascals and clamped to the datasheet-valid compensation
// range, or false if no reading is available or it falls outside range.
func (s *scdShared) pressurePascals() (uint16, bool) {
	meanHPa, ok := s.pressure.Mean()
	if !ok {
		return 0, false
	}
	pascals := meanHPa * 100.0
	if pascals < scdPressureMinPascals || pascals > scdPressureMaxPascals {
		return 0, false
	}
	return uint16(pascals), true
}

func (s *scdShared) record(co2 uint16, tempC, relHumPct float64) {
	s.co2Gauge.Set(float64(co2))
	s.tempGauge.Set(tempC)
	s.relHumGauge.Set(relHumPct)

	if s.polls%uint64(s.absHumidityStride) == 0 {
		s.absHumGauge.Set(humidity.Absolute(tempC, relHumPct))
	}
	s.polls++
}
