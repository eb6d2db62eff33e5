// Package sensor defines the common adapter contract every silicon-specific
// driver implements (init/poll, identity, poll interval) plus the shared
// SensorIdentity/SensorStatus vocabulary the supervisor and HTTP surface
// both speak.
package sensor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hawkw/eclssd/internal/metricsregistry"
)

// Identity is the closed set of sensors eclssd knows how to drive.
type Identity int

const (
	BME680 Identity = iota
	ENS160
	PMSA003I
	SCD30
	SCD40
	SCD41
	SGP30
	SHT41
	SEN55
)

// All lists every known identity in declaration order.
var All = []Identity{BME680, ENS160, PMSA003I, SCD30, SCD40, SCD41, SGP30, SHT41, SEN55}

func (i Identity) String() string {
	switch i {
	case BME680:
		return "BME680"
	case ENS160:
		return "ENS160"
	case PMSA003I:
		return "PMSA003I"
	case SCD30:
		return "SCD30"
	case SCD40:
		return "SCD40"
	case SCD41:
		return "SCD41"
	case SGP30:
		return "SGP30"
	case SHT41:
		return "SHT41"
	case SEN55:
		return "SEN55"
	default:
		return "UNKNOWN"
	}
}

// ParseIdentity parses a sensor identity case-insensitively.
func ParseIdentity(s string) (Identity, error) {
	for _, id := range All {
		if strings.EqualFold(id.String(), s) {
			return id, nil
		}
	}
	return 0, fmt.Errorf("sensor: unknown identity %q", s)
}

// Status is the lifecycle state of one sensor, as observed by the
// supervisor and exposed over HTTP.
type Status uint8

const (
	Unknown Status = iota
	Initializing
	NoAcknowledge
	Up
	SensorErrorStatus
	BusError
	OtherI2cError
)

func (s Status) String() string {
	switch s {
	case Unknown:
		return "Unknown"
	case Initializing:
		return "Initializing"
	case NoAcknowledge:
		return "NoAcknowledge"
	case Up:
		return "Up"
	case SensorErrorStatus:
		return "SensorError"
	case BusError:
		return "BusError"
	case OtherI2cError:
		return "OtherI2cError"
	default:
		return "Unknown"
	}
}

// Present reports whether this status counts the sensor as present: any
// status other than Unknown or NoAcknowledge.
func (s Status) Present() bool {
	return s != Unknown && s != NoAcknowledge
}

// IsError reports whether the status represents one of the three error
// kinds.
func (s Status) IsError() bool {
	switch s {
	case SensorErrorStatus, BusError, OtherI2cError:
		return true
	default:
		return false
	}
}

// I2CErrorKind classifies a bus-level failure.
type I2CErrorKind int

const (
	// I2CErrorNoAcknowledge means the device never answered its address.
	I2CErrorNoAcknowledge I2CErrorKind = iota
	// I2CErrorBus means the controller reported a bus-level fault (arbitration
	// loss, clock stretch timeout, ...).
	I2CErrorBus
	// I2CErrorOther covers every other I2C-layer failure.
	I2CErrorOther
)

// StatusForI2CError maps a bus-level error classification to a Status.
func StatusForI2CError(kind I2CErrorKind) Status {
	switch kind {
	case I2CErrorNoAcknowledge:
		return NoAcknowledge
	case I2CErrorBus:
		return BusError
	default:
		return OtherI2cError
	}
}

// Error is implemented by every adapter error so the supervisor can map it
// to a Status and decide whether to retry in place or jump back to init
// without a type switch per sensor.
type Error interface {
	error
	// I2CError reports the bus-level classification of this error, if any.
	I2CError() (kind I2CErrorKind, ok bool)
	// ShouldReset reports whether the supervisor should tear down and
	// re-run Init rather than simply retry Poll.
	ShouldReset() bool
}

// StatusFor maps any error to a Status, preferring an Error's I2C
// classification and otherwise falling back to SensorErrorStatus.
func StatusFor(err error) Status {
	if err == nil {
		return Up
	}
	if se, ok := err.(Error); ok {
		if kind, isI2C := se.I2CError(); isI2C {
			return StatusForI2CError(kind)
		}
	}
	return SensorErrorStatus
}

// ShouldReset reports whether err demands a return to Init.
func ShouldReset(err error) bool {
	se, ok := err.(Error)
	return ok && se.ShouldReset()
}

// BaselineStore is the persistence surface an adapter needs for its
// calibration record; satisfied by baseline.Store.
type BaselineStore interface {
	Load(dst any) (bool, error)
	Save(src any) error
}

// Families are the metric families every adapter needs a handle to, either
// to publish into or to read sibling means from for compensation. Built
// once by the composition root and handed to every adapter constructor, so
// capacity allocation happens in one place.
type Families struct {
	TempC         *metricsregistry.Family
	CO2ppm        *metricsregistry.Family
	ECO2ppm       *metricsregistry.Family
	RelHumidity   *metricsregistry.Family
	AbsHumidity   *metricsregistry.Family
	PressureHPa   *metricsregistry.Family
	GasResistance *metricsregistry.Family
	TVOCppb       *metricsregistry.Family
	VOCIndex      *metricsregistry.Family
	NOxIndex      *metricsregistry.Family
	PMConc        *metricsregistry.Family
	PMCount       *metricsregistry.Family
	SensorErrors  *metricsregistry.Family
	SensorResets  *metricsregistry.Family
}

// Adapter is the uniform contract every sensor driver implements.
type Adapter interface {
	// Identity names which sensor this adapter drives.
	Identity() Identity
	// PollInterval is the cadence at which Poll should be called while the
	// sensor is healthy.
	PollInterval() time.Duration
	// Init performs the device-specific bring-up sequence. It may block for
	// many seconds (warm-up phases) and may be called repeatedly after a
	// should-reset error.
	Init(ctx context.Context) error
	// Poll performs one measurement cycle, applying any compensation
	// pulled from sibling sensors and publishing to this adapter's owned
	// metric handles.
	Poll(ctx context.Context) error
}
