package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/hawkw/eclssd/internal/baseline"
	"github.com/hawkw/eclssd/internal/bus"
	"github.com/hawkw/eclssd/internal/config"
	"github.com/hawkw/eclssd/internal/httpapi"
	"github.com/hawkw/eclssd/internal/logger"
	"github.com/hawkw/eclssd/internal/metricsregistry"
	"github.com/hawkw/eclssd/internal/sensor"
	"github.com/hawkw/eclssd/internal/sensorstate"
	"github.com/hawkw/eclssd/internal/supervisor"
)

// MDNSHint carries the advertisement parameters an injected mDNS responder
// would need; eclssd does not ship one itself (see DESIGN.md), but the
// composition root assembles the hint so one can be spliced in here.
type MDNSHint struct {
	ServiceType string
	Location    string
	Version     string
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.Logger.Level
	logCfg.Format = cfg.Logger.Format
	logCfg.LogDir = cfg.Logger.Dir
	if err := logger.Init(logCfg); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()
	log := logger.Get()

	mdnsHint := MDNSHint{ServiceType: "_eclss._tcp.local.", Location: cfg.Location, Version: "0.1.0"}
	log.Debug("mdns advertisement hint assembled (no responder wired)", zap.Any("hint", mdnsHint))

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("initializing periph host: %w", err)
	}
	i2cBus, err := i2creg.Open(cfg.I2C.Device)
	if err != nil {
		return fmt.Errorf("opening i2c bus %q: %w", cfg.I2C.Device, err)
	}
	defer i2cBus.Close()
	sharedBus := bus.New(i2cBus)

	enabled, err := enabledIdentities(cfg.Sensors.Enabled)
	if err != nil {
		return err
	}

	metrics := metricsregistry.NewRegistry()
	fams := buildFamilies(metrics, len(enabled))

	sensorReg := sensorstate.New(len(enabled))

	absHumidityStride := cfg.Sensors.AbsHumidityStride
	if absHumidityStride <= 0 {
		absHumidityStride = 1
	}

	adapters := make([]sensor.Adapter, 0, len(enabled))
	for _, id := range enabled {
		a, err := buildAdapter(id, sharedBus, fams, cfg.State.Directory, absHumidityStride)
		if err != nil {
			return fmt.Errorf("building adapter for %s: %w", id, err)
		}
		adapters = append(adapters, a)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	supCfg := supervisor.Config{
		InitialBackoff:  time.Duration(cfg.Backoff.InitialMS) * time.Millisecond,
		MaxBackoff:      time.Duration(cfg.Backoff.MaxSeconds) * time.Second,
		MaxInitAttempts: cfg.Backoff.MaxInitAttempts,
	}
	for _, a := range adapters {
		a := a
		name := a.Identity().String()
		errCounter, err := fams.SensorErrors.Counter(name)
		if err != nil {
			return fmt.Errorf("registering error counter for %s: %w", name, err)
		}
		resetCounter, err := fams.SensorResets.Counter(name)
		if err != nil {
			return fmt.Errorf("registering reset counter for %s: %w", name, err)
		}
		go func() {
			if err := supervisor.Run(ctx, a, sensorReg, errCounter, resetCounter, supCfg); err != nil && ctx.Err() == nil {
				log.Error("sensor supervisor exited", zap.String("sensor", name), zap.Error(err))
			}
		}()
	}

	srv := httpapi.New(metrics, sensorReg, cfg.Location)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.Listen(addr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return srv.Shutdown()
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfigFile)
	if err != nil {
		return nil, err
	}
	applyFlagOverrides(cfg)
	return cfg, nil
}

func applyFlagOverrides(cfg *config.Config) {
	if flagI2CDevice != "" {
		cfg.I2C.Device = flagI2CDevice
	}
	if flagListenAddr != "" {
		host, port, err := splitHostPort(flagListenAddr)
		if err == nil {
			cfg.Server.Host, cfg.Server.Port = host, port
		}
	}
	if flagLocation != "" {
		cfg.Location = flagLocation
	}
	if len(flagSensors) > 0 {
		cfg.Sensors.Enabled = flagSensors
	}
	if flagInitialBackoffMS > 0 {
		cfg.Backoff.InitialMS = flagInitialBackoffMS
	}
	if flagMaxBackoffSeconds > 0 {
		cfg.Backoff.MaxSeconds = flagMaxBackoffSeconds
	}
	if flagMaxInitAttempts > 0 {
		cfg.Backoff.MaxInitAttempts = flagMaxInitAttempts
	}
	if flagAbsHumidityStride > 0 {
		cfg.Sensors.AbsHumidityStride = flagAbsHumidityStride
	}
	if flagStateDir != "" {
		cfg.State.Directory = flagStateDir
	}
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in listen address %q: %w", addr, err)
	}
	return host, port, nil
}

func enabledIdentities(names []string) ([]sensor.Identity, error) {
	if len(names) == 0 {
		return sensor.All, nil
	}
	out := make([]sensor.Identity, 0, len(names))
	for _, n := range names {
		id, err := sensor.ParseIdentity(n)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func buildFamilies(reg *metricsregistry.Registry, capacity int) sensor.Families {
	if capacity < 1 {
		capacity = 1
	}
	diameterCapacity := 6
	return sensor.Families{
		TempC:         reg.Add(metricsregistry.NewGaugeFamily("temp_c", "temperature", "celsius", capacity)),
		CO2ppm:        reg.Add(metricsregistry.NewGaugeFamily("co2_ppm", "carbon dioxide concentration", "ppm", capacity)),
		ECO2ppm:       reg.Add(metricsregistry.NewGaugeFamily("eco2_ppm", "equivalent carbon dioxide concentration", "ppm", capacity)),
		RelHumidity:   reg.Add(metricsregistry.NewGaugeFamily("rel_humidity_percent", "relative humidity", "percent", capacity)),
		AbsHumidity:   reg.Add(metricsregistry.NewGaugeFamily("abs_humidity_grams_m3", "absolute humidity", "g/m3", capacity)),
		PressureHPa:   reg.Add(metricsregistry.NewGaugeFamily("pressure_hpa", "ambient pressure", "hPa", capacity)),
		GasResistance: reg.Add(metricsregistry.NewGaugeFamily("gas_resistance_ohms", "gas sensor heater resistance", "ohms", capacity)),
		TVOCppb:       reg.Add(metricsregistry.NewGaugeFamily("tvoc_ppb", "total volatile organic compounds", "ppb", capacity)),
		VOCIndex:      reg.Add(metricsregistry.NewGaugeFamily("voc_index", "VOC index", "index", capacity)),
		NOxIndex:      reg.Add(metricsregistry.NewGaugeFamily("nox_index", "NOx index", "index", capacity)),
		PMConc:        reg.Add(metricsregistry.NewGaugeFamily("pm_concentration_ug_m3", "particulate matter concentration", "ug/m3", diameterCapacity)),
		PMCount:       reg.Add(metricsregistry.NewGaugeFamily("pm_count_per_dl", "particulate matter count", "count/0.1L", diameterCapacity)),
		SensorErrors:  reg.Add(metricsregistry.NewCounterFamily("sensor_errors_total", "cumulative sensor errors", "count", capacity)),
		SensorResets:  reg.Add(metricsregistry.NewCounterFamily("sensor_resets_total", "cumulative sensor resets", "count", capacity)),
	}
}

func buildAdapter(id sensor.Identity, b *bus.SharedBus, fams sensor.Families, stateDir string, absHumidityStride int) (sensor.Adapter, error) {
	switch id {
	case sensor.BME680:
		return sensor.NewBME680Adapter(b, fams, absHumidityStride)
	case sensor.ENS160:
		return sensor.NewENS160Adapter(b, fams)
	case sensor.PMSA003I:
		return sensor.NewPMSA003IAdapter(b, fams)
	case sensor.SCD30:
		return sensor.NewSCD30Adapter(b, fams, absHumidityStride)
	case sensor.SCD40:
		return sensor.NewSCD40Adapter(b, fams, absHumidityStride)
	case sensor.SCD41:
		return sensor.NewSCD41Adapter(b, fams, absHumidityStride)
	case sensor.SGP30:
		var store sensor.BaselineStore = baseline.NullStore{}
		if stateDir != "" {
			fs, err := baseline.NewFileStore(stateDir, sensor.SGP30.String())
			if err != nil {
				return nil, err
			}
			store = fs
		}
		return sensor.NewSGP30Adapter(b, fams, store)
	case sensor.SHT41:
		return sensor.NewSHT41Adapter(b, fams, absHumidityStride)
	case sensor.SEN55:
		var store sensor.BaselineStore = baseline.NullStore{}
		if stateDir != "" {
			fs, err := baseline.NewFileStore(stateDir, sensor.SEN55.String())
			if err != nil {
				return nil, err
			}
			store = fs
		}
		return sensor.NewSEN55Adapter(b, fams, store, absHumidityStride)
	default:
		return nil, fmt.Errorf("unknown sensor identity %s", id)
	}
}
