package sensor

import (
	"context"
	"fmt"
	"time"

	"github.com/hawkw/eclssd/internal/bus"
	"github.com/hawkw/eclssd/internal/metricsregistry"
)

const ens160Addr = 0x53

const (
	ens160RegPartID   = 0x00
	ens160RegOpMode    = 0x10
	ens160RegConfig    = 0x11
	ens160RegTempIn    = 0x13
	ens160RegRHIn      = 0x15
	ens160RegDataStatus = 0x20
	ens160RegDataAQI    = 0x21
	ens160RegDataTVOC   = 0x22
	ens160RegDataECO2   = 0x24

	ens160OpModeIdle     = 0x01
	ens160OpModeStandard = 0x02

	ens160ExpectedPartID = 0x0160
)

// ens160Validity is the device's reported measurement validity, per the
// DATA_STATUS register.
type ens160Validity int

const (
	ens160NormalOperation ens160Validity = iota
	ens160WarmupPhase
	ens160InitStartupPhase
	ens160InvalidOutput
)

func ens160ValidityOf(status byte) ens160Validity {
	switch (status >> 2) & 0x3 {
	case 0:
		return ens160NormalOperation
	case 1:
		return ens160WarmupPhase
	case 2:
		return ens160InitStartupPhase
	default:
		return ens160InvalidOutput
	}
}

const (
	ens160WarmupDelay     = 30 * time.Second
	ens160InitSetupDelay  = 120 * time.Second
	ens160WarmupCountdown = 180 * time.Second
	ens160InitCountdown   = 60 * time.Minute
)

// ENS160Adapter drives a ScioSense ENS160 metal-oxide VOC/eCO2 sensor over
// its register protocol, grounded on the register-layout/status-bit idiom
// of the teacher's ccs811.go (a sibling metal-oxide gas sensor) and on the
// two-phase warm-up state machine in the original ens160.rs.
type ENS160Adapter struct {
	dev *bus.SharedBus

	tvoc        *metricsregistry.Gauge
	eco2        *metricsregistry.Gauge
	tempCompIn  *metricsregistry.Family
	rhCompIn    *metricsregistry.Family
}

// NewENS160Adapter constructs the adapter.
func NewENS160Adapter(b *bus.SharedBus, fams Families) (*ENS160Adapter, error) {
	a := &ENS160Adapter{dev: b, tempCompIn: fams.TempC, rhCompIn: fams.RelHumidity}
	name := ENS160.String()
	var err error
	if a.tvoc, err = fams.TVOCppb.Gauge(name); err != nil {
		return nil, err
	}
	if a.eco2, err = fams.ECO2ppm.Gauge(name); err != nil {
		return nil, err
	}
	return a, nil
}

// Identity implements Adapter.
func (a *ENS160Adapter) Identity() Identity { return ENS160 }

// PollInterval implements Adapter.
func (a *ENS160Adapter) PollInterval() time.Duration { return time.Second }

func (a *ENS160Adapter) readRegister(reg byte, length int) ([]byte, error) {
	data := make([]byte, length)
	if err := a.dev.Tx(ens160Addr, []byte{reg}, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (a *ENS160Adapter) writeRegister(reg byte, data []byte) error {
	return a.dev.Tx(ens160Addr, append([]byte{reg}, data...), nil)
}

// Init implements Adapter.
func (a *ENS160Adapter) Init(ctx context.Context) error {
	id, err := a.readRegister(ens160RegPartID, 2)
	if err != nil {
		return WrapI2C(ENS160, "read_part_id", err)
	}
	if partID := uint16(id[0]) | uint16(id[1])<<8; partID != ens160ExpectedPartID {
		return Wrap(ENS160, "read_part_id", fmt.Errorf("unexpected part id 0x%04X", partID))
	}

	if err := a.writeRegister(ens160RegOpMode, []byte{ens160OpModeStandard}); err != nil {
		return WrapI2C(ENS160, "set_standard_mode", err)
	}

	warmupElapsed := time.Duration(0)
	initElapsed := time.Duration(0)
	for {
		status, err := a.readRegister(ens160RegDataStatus, 1)
		if err != nil {
			return WrapI2C(ENS160, "read_status", err)
		}
		switch ens160ValidityOf(status[0]) {
		case ens160NormalOperation:
			return nil
		case ens160WarmupPhase:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(ens160WarmupDelay):
			}
			warmupElapsed += ens160WarmupDelay
			if warmupElapsed >= ens160WarmupCountdown {
				return Wrap(ENS160, "warmup", fmt.Errorf("stuck in warm-up phase after %s", warmupElapsed))
			}
		case ens160InitStartupPhase:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(ens160InitSetupDelay):
			}
			initElapsed += ens160InitSetupDelay
			if initElapsed >= ens160InitCountdown {
				return Wrap(ENS160, "init_startup", fmt.Errorf("stuck in startup phase after %s", initElapsed))
			}
		case ens160InvalidOutput:
			return Wrap(ENS160, "status", fmt.Errorf("device reports invalid output"))
		}
	}
}

// Poll implements Adapter.
func (a *ENS160Adapter) Poll(ctx context.Context) error {
	if mean, ok := a.tempCompIn.Mean(); ok {
		fixedPoint := uint16((mean + 273.15) * 64)
		if err := a.writeRegister(ens160RegTempIn, []byte{byte(fixedPoint), byte(fixedPoint >> 8)}); err != nil {
			return WrapI2C(ENS160, "set_temp_compensation", err)
		}
	}
	if mean, ok := a.rhCompIn.Mean(); ok {
		fixedPoint := uint16(mean * 512)
		if err := a.writeRegister(ens160RegRHIn, []byte{byte(fixedPoint), byte(fixedPoint >> 8)}); err != nil {
			return WrapI2C(ENS160, "set_rh_compensation", err)
		}
	}

	status, err := a.readRegister(ens160RegDataStatus, 1)
	if err != nil {
		return WrapI2C(ENS160, "read_status", err)
	}
	switch ens160ValidityOf(status[0]) {
	case ens160InvalidOutput:
		return Wrap(ENS160, "status", fmt.Errorf("device reports invalid output"))
	case ens160NormalOperation:
		// fall through to read
	default:
		// warming back up after a transient blip; not an error, just skip
		// this poll's reading.
		return nil
	}

	tvoc, err := a.readRegister(ens160RegDataTVOC, 2)
	if err != nil {
		return WrapI2C(ENS160, "read_tvoc", err)
	}
	eco2, err := a.readRegister(ens160RegDataECO2, 2)
	if err != nil {
		return WrapI2C(ENS160, "read_eco2", err)
	}

	a.tvoc.Set(float64(uint16(tvoc[0]) | uint16(tvoc[1])<<8))
	a.eco2.Set(float64(uint16(eco2[0]) | uint16(eco2[1])<<8))

	return nil
}
