package httpapi_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hawkw/eclssd/internal/httpapi"
	"github.com/hawkw/eclssd/internal/metricsregistry"
	"github.com/hawkw/eclssd/internal/sensor"
	"github.com/hawkw/eclssd/internal/sensorstate"
)

func newTestServer(t *testing.T) *httpapi.Server {
	t.Helper()
	metrics := metricsregistry.NewRegistry()
	temp := metricsregistry.NewGaugeFamily("temp_c", "temperature in celsius", "celsius", 4)
	metrics.Add(temp)
	g, err := temp.Gauge("BME680")
	require.NoError(t, err)
	g.Set(21.5)

	sensors := sensorstate.New(4)
	st, err := sensors.GetOrRegister(sensor.BME680)
	require.NoError(t, err)
	st.SetStatus(sensor.Up)

	return httpapi.New(metrics, sensors, "lab-1")
}

func doRequest(t *testing.T, srv *httpapi.Server, path string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp, err := srv.TestRequest(req)
	require.NoError(t, err)
	return resp
}

func TestMetricsEndpointRendersPrometheusText(t *testing.T) {
	srv := newTestServer(t)
	resp := doRequest(t, srv, "/metrics")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "temp_c{sensor=\"BME680\"} 21.5")
}

func TestMetricsJSONEndpointIsFlat(t *testing.T) {
	srv := newTestServer(t)
	resp := doRequest(t, srv, "/metrics.json")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	var location string
	require.NoError(t, json.Unmarshal(body["location"], &location))
	assert.Equal(t, "lab-1", location)

	var readings []struct {
		Sensor string  `json:"sensor"`
		Value  float64 `json:"value"`
	}
	require.NoError(t, json.Unmarshal(body["temp_c"], &readings))
	require.Len(t, readings, 1)
	assert.Equal(t, "BME680", readings[0].Sensor)
	assert.Equal(t, 21.5, readings[0].Value)
}

func TestSensorsJSONEndpoint(t *testing.T) {
	srv := newTestServer(t)
	resp := doRequest(t, srv, "/sensors.json")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]struct {
		Status string `json:"status"`
		Found  bool   `json:"found"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	entry, ok := body["BME680"]
	require.True(t, ok)
	assert.Equal(t, "Up", entry.Status)
	assert.True(t, entry.Found)
}

func TestUnknownPathReturns404WithExactBody(t *testing.T) {
	srv := newTestServer(t)
	resp := doRequest(t, srv, "/nonexistent")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "can't get ye flask", string(body))
}
