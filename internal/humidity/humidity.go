// Package humidity computes absolute humidity from a temperature/relative
// humidity pair. Every RH-reporting adapter publishes the result, and the
// SGP30 reads the family mean back as its humidity compensation input.
package humidity

import "math"

// Absolute returns the absolute humidity in grams per cubic metre for a
// temperature in degrees Celsius and a relative humidity percentage, using
// the Magnus-Tetens approximation for saturation vapor pressure:
//
//	AH = (6.112 * exp(17.64*T/(T+243.5)) * RH * 2.1674) / (273.15 + T)
func Absolute(tempC, relHumidityPct float64) float64 {
	const (
		a          = 6.112
		b          = 17.64
		c          = 243.5
		molarRatio = 2.1674
	)
	saturationVaporPressure := a * math.Exp((b*tempC)/(c+tempC))
	return (saturationVaporPressure * relHumidityPct * molarRatio) / (273.15 + tempC)
}
