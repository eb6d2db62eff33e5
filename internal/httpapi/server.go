// Package httpapi exposes the daemon's metrics and sensor registry over
// HTTP using gofiber, grounded on the teacher's cmd/edgeflow/main.go
// recover/logger/cors middleware stack and on the route shapes of the
// original eclss-axum server.
package httpapi

import (
	"net/http"
	"sort"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/hawkw/eclssd/internal/metricsregistry"
	"github.com/hawkw/eclssd/internal/sensorstate"
)

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>eclssd</title></head>
<body>
<h1>eclssd</h1>
<ul>
<li><a href="/metrics">/metrics</a> - Prometheus exposition format</li>
<li><a href="/metrics.json">/metrics.json</a> - metrics as JSON</li>
<li><a href="/sensors.json">/sensors.json</a> - sensor registry as JSON</li>
</ul>
</body>
</html>
`

// Server wires the three JSON/text endpoints and the static index onto a
// fiber app.
type Server struct {
	app *fiber.App

	metrics  *metricsregistry.Registry
	sensors  *sensorstate.Registry
	location string
}

// New builds a Server. location is included verbatim in /metrics.json; an
// empty string serializes as JSON null.
func New(metrics *metricsregistry.Registry, sensors *sensorstate.Registry, location string) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	s := &Server{app: app, metrics: metrics, sensors: sensors, location: location}

	app.Get("/", s.handleIndex)
	app.Get("/metrics", s.handleMetrics)
	app.Get("/metrics.json", s.handleMetricsJSON)
	app.Get("/sensors.json", s.handleSensorsJSON)
	app.Use(s.handleNotFound)

	return s
}

// Listen blocks serving on addr (host:port).
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// TestRequest drives req through the app without binding a real listener;
// exported so package tests can exercise routes directly.
func (s *Server) TestRequest(req *http.Request) (*http.Response, error) {
	return s.app.Test(req)
}

func (s *Server) handleIndex(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString(indexHTML)
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	return c.SendString(s.metrics.RenderPrometheus())
}

// metricReading is one {sensor, value} entry in the flat /metrics.json
// shape, per the Open Question resolution recorded in DESIGN.md.
type metricReading struct {
	Sensor string  `json:"sensor"`
	Value  float64 `json:"value"`
}

func (s *Server) handleMetricsJSON(c *fiber.Ctx) error {
	snapshots := s.metrics.SerializeJSON()

	body := make(fiber.Map, len(snapshots)+1)
	for _, snap := range snapshots {
		labels := make([]string, 0, len(snap.Values))
		for label := range snap.Values {
			labels = append(labels, label)
		}
		sort.Strings(labels)

		readings := make([]metricReading, 0, len(labels))
		for _, label := range labels {
			readings = append(readings, metricReading{Sensor: label, Value: snap.Values[label]})
		}
		body[snap.Name] = readings
	}

	if s.location == "" {
		body["location"] = nil
	} else {
		body["location"] = s.location
	}

	return c.JSON(body)
}

type pollIntervalJSON struct {
	Secs  int64 `json:"secs"`
	Nanos int64 `json:"nanos"`
}

type sensorStateJSON struct {
	Status       string           `json:"status"`
	Found        bool             `json:"found"`
	PollInterval pollIntervalJSON `json:"poll_interval"`
}

func (s *Server) handleSensorsJSON(c *fiber.Ctx) error {
	states := s.sensors.Snapshot()
	body := make(fiber.Map, len(states))
	for _, st := range states {
		d := st.PollInterval()
		body[st.Identity().String()] = sensorStateJSON{
			Status: st.Status().String(),
			Found:  st.Found(),
			PollInterval: pollIntervalJSON{
				Secs:  int64(d.Truncate(1e9) / 1e9),
				Nanos: int64(d % 1e9),
			},
		}
	}
	return c.JSON(body)
}

func (s *Server) handleNotFound(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(fiber.StatusNotFound).SendString("can't get ye flask")
}
