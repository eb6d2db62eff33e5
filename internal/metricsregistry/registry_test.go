package metricsregistry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hawkw/eclssd/internal/metricsregistry"
)

func TestRenderPrometheusSuppressesUnobservedLabels(t *testing.T) {
	reg := metricsregistry.NewRegistry()
	temp := reg.Add(metricsregistry.NewGaugeFamily("temp_c", "temperature", "celsius", 2))

	_, err := temp.Gauge("BME680")
	require.NoError(t, err)
	observed, err := temp.Gauge("SHT41")
	require.NoError(t, err)
	observed.Set(19.25)

	out := reg.RenderPrometheus()
	assert.Contains(t, out, "# HELP temp_c temperature")
	assert.Contains(t, out, "# TYPE temp_c gauge")
	assert.Contains(t, out, `temp_c{sensor="SHT41"} 19.25`)
	assert.NotContains(t, out, "BME680")
}

func TestRenderPrometheusOmitsUnobservedCounters(t *testing.T) {
	reg := metricsregistry.NewRegistry()
	errors := reg.Add(metricsregistry.NewCounterFamily("sensor_errors_total", "cumulative sensor errors", "count", 2))

	_, err := errors.Counter("SGP30")
	require.NoError(t, err)

	out := reg.RenderPrometheus()
	assert.Contains(t, out, "# HELP sensor_errors_total")
	assert.NotContains(t, out, "SGP30")
}

func TestRenderPrometheusWithNoRegisteredLabelsStillEmitsHeader(t *testing.T) {
	reg := metricsregistry.NewRegistry()
	reg.Add(metricsregistry.NewGaugeFamily("co2_ppm", "carbon dioxide concentration", "ppm", 4))

	out := reg.RenderPrometheus()
	assert.Contains(t, out, "# HELP co2_ppm")
	assert.Contains(t, out, "# TYPE co2_ppm gauge")
	assert.NotContains(t, out, "co2_ppm{")
}

func TestSerializeJSONOmitsUnobservedLabels(t *testing.T) {
	reg := metricsregistry.NewRegistry()
	temp := reg.Add(metricsregistry.NewGaugeFamily("temp_c", "temperature", "celsius", 2))

	_, err := temp.Gauge("BME680")
	require.NoError(t, err)
	observed, err := temp.Gauge("SHT41")
	require.NoError(t, err)
	observed.Set(19.25)

	snaps := reg.SerializeJSON()
	require.Len(t, snaps, 1)
	assert.Equal(t, "temp_c", snaps[0].Name)
	require.Len(t, snaps[0].Values, 1)
	assert.Equal(t, 19.25, snaps[0].Values["SHT41"])
	_, ok := snaps[0].Values["BME680"]
	assert.False(t, ok)
}

func TestGaugeObservedTracksSet(t *testing.T) {
	g := &metricsregistry.Gauge{}
	assert.False(t, g.Observed())
	g.Set(1.0)
	assert.True(t, g.Observed())
}

func TestCounterObservedTracksAdd(t *testing.T) {
	c := &metricsregistry.Counter{}
	assert.False(t, c.Observed())
	c.Add(1)
	assert.True(t, c.Observed())
}
