package sensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSCDShared(t *testing.T, id Identity) *scdShared {
	t.Helper()
	fams := newTestFamilies(t)
	s, err := newSCDShared(fams, id, 1)
	require.NoError(t, err)
	return s
}

func TestPressurePascalsAcceptsDatasheetBoundaries(t *testing.T) {
	s := newTestSCDShared(t, SCD40)

	g, err := s.pressure.Gauge("BME680")
	require.NoError(t, err)

	g.Set(700.0) // 70_000 Pa, the lower inclusive bound
	pa, ok := s.pressurePascals()
	require.True(t, ok)
	assert.Equal(t, uint16(70_000), pa)
}

func TestPressurePascalsAcceptsUpperBoundary(t *testing.T) {
	s := newTestSCDShared(t, SCD41)

	g, err := s.pressure.Gauge("BME680")
	require.NoError(t, err)

	g.Set(1_200.0) // 120_000 Pa, the upper inclusive bound
	_, ok := s.pressurePascals()
	assert.True(t, ok)
}

func TestPressurePascalsRejectsJustBelowLowerBoundary(t *testing.T) {
	s := newTestSCDShared(t, SCD30)

	g, err := s.pressure.Gauge("BME680")
	require.NoError(t, err)

	g.Set(699.99) // 69_999 Pa
	_, ok := s.pressurePascals()
	assert.False(t, ok, "pressure one pascal below the datasheet-valid range must be rejected, not clamped")
}

func TestPressurePascalsRejectsJustAboveUpperBoundary(t *testing.T) {
	s := newTestSCDShared(t, SCD40)

	g, err := s.pressure.Gauge("BME680")
	require.NoError(t, err)

	g.Set(1_200.01) // 120_001 Pa
	_, ok := s.pressurePascals()
	assert.False(t, ok, "pressure one pascal above the datasheet-valid range must be rejected, not clamped")
}

func TestPressurePascalsReportsAbsentWhenNoSensorHasPublished(t *testing.T) {
	s := newTestSCDShared(t, SCD41)
	_, ok := s.pressurePascals()
	assert.False(t, ok)
}

func TestRecordPublishesAbsoluteHumidityEveryStride(t *testing.T) {
	fams := newTestFamilies(t)
	s, err := newSCDShared(fams, SCD30, 2)
	require.NoError(t, err)

	s.record(410, 22.0, 45.0)
	_, ok := s.absHumGauge.Mean()
	require.True(t, ok, "first poll always records absolute humidity regardless of stride")

	before, _ := s.absHumGauge.Mean()
	s.record(411, 22.1, 45.1)
	after, _ := s.absHumGauge.Mean()
	assert.Equal(t, before, after, "second poll within the stride window must not update absolute humidity")
}
