package sensor

import (
	"errors"
	"fmt"
	"strings"
)

// WireError is the common error type for eclssd's hand-rolled raw I2C
// protocol adapters (SGP30, SHT41, ENS160, the SCD family, SEN55). It wraps
// an underlying cause, optionally attaches an I2C classification, and
// optionally marks itself as should-reset.
type WireError struct {
	Sensor      Identity
	Op          string
	Cause       error
	I2CKind     I2CErrorKind
	IsI2C       bool
	Reset       bool
}

func (e *WireError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Sensor, e.Op, e.Cause)
}

func (e *WireError) Unwrap() error { return e.Cause }

// I2CError implements Error.
func (e *WireError) I2CError() (I2CErrorKind, bool) { return e.I2CKind, e.IsI2C }

// ShouldReset implements Error.
func (e *WireError) ShouldReset() bool { return e.Reset }

// Wrap builds a WireError for a non-I2C protocol failure (CRC mismatch, bad
// magic byte, self-test failure, ...).
func Wrap(id Identity, op string, cause error) *WireError {
	return &WireError{Sensor: id, Op: op, Cause: cause}
}

// WrapReset is Wrap but marks the error as should-reset, so the supervisor
// re-enters Init rather than retrying Poll in place.
func WrapReset(id Identity, op string, cause error) *WireError {
	return &WireError{Sensor: id, Op: op, Cause: cause, Reset: true}
}

// WrapI2C classifies a raw bus-transaction error (from i2c.Dev.Tx or
// SharedBus.Tx) into a WireError with the appropriate I2C kind. periph.io
// doesn't expose a typed NACK error, so the classification falls back to
// matching the Linux errno text the kernel i2c-dev driver surfaces.
func WrapI2C(id Identity, op string, cause error) *WireError {
	if cause == nil {
		return nil
	}
	return &WireError{Sensor: id, Op: op, Cause: cause, I2CKind: classifyI2CError(cause), IsI2C: true}
}

func classifyI2CError(err error) I2CErrorKind {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "remote i/o error"), strings.Contains(msg, "no such device"),
		strings.Contains(msg, "enxio"), strings.Contains(msg, "nack"):
		return I2CErrorNoAcknowledge
	case strings.Contains(msg, "arbitration"), strings.Contains(msg, "bus"),
		strings.Contains(msg, "timeout"):
		return I2CErrorBus
	default:
		return I2CErrorOther
	}
}

// ErrCRCMismatch is a sentinel wrapped by adapters that verify a checksum
// byte on every read.
var ErrCRCMismatch = errors.New("CRC checksum validation failed")
