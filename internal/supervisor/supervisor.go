// Package supervisor runs the per-sensor INIT/RUNNING state machine: one
// goroutine per enabled sensor, cooperating only through the shared bus, the
// metric registry, and sensorstate's atomic status cells. Grounded on the
// teacher's goroutine-per-worker daemon loop and on the original
// lib/eclss/src/sensor.rs::run_sensor two-phase shape.
package supervisor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hawkw/eclssd/internal/backoff"
	"github.com/hawkw/eclssd/internal/logger"
	"github.com/hawkw/eclssd/internal/metricsregistry"
	"github.com/hawkw/eclssd/internal/sensor"
	"github.com/hawkw/eclssd/internal/sensorstate"
)

// Config controls a single sensor task's retry policy.
type Config struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxInitAttempts bounds consecutive INIT failures before the task
	// terminates permanently. Zero means unbounded.
	MaxInitAttempts int
}

// Run drives adapter's INIT/RUNNING state machine until ctx is canceled or
// MaxInitAttempts is exhausted. It registers (or reuses) adapter's state in
// registry and keeps that state's status, poll interval, and counters
// current throughout. errorCounter and resetCounter (typically a sensor's
// own label in the shared sensor_errors_total/sensor_resets_total families)
// are bumped alongside the sensorstate counters so the same tallies are
// visible over /metrics and /sensors.json; either may be nil. Run is meant
// to be called as `go supervisor.Run(...)`, one call per enabled sensor.
func Run(ctx context.Context, adapter sensor.Adapter, registry *sensorstate.Registry, errorCounter, resetCounter *metricsregistry.Counter, cfg Config) error {
	id := adapter.Identity()
	state, err := registry.GetOrRegister(id)
	if err != nil {
		return err
	}
	state.SetPollInterval(adapter.PollInterval())

	log := logger.WithSensor(id.String())
	bo := backoff.New(cfg.InitialBackoff, cfg.MaxBackoff)

	everRunning := false
	initAttempts := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		state.SetStatus(sensor.Initializing)
		if err := adapter.Init(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			initAttempts++
			state.IncrementErrors()
			if errorCounter != nil {
				errorCounter.Add(1)
			}
			state.SetStatus(sensor.StatusFor(err))
			log.Warn("sensor init failed", zap.Error(err), zap.Int("attempt", initAttempts))

			if cfg.MaxInitAttempts > 0 && initAttempts >= cfg.MaxInitAttempts {
				log.Error("sensor init exhausted max attempts, giving up permanently",
					zap.Int("max_init_attempts", cfg.MaxInitAttempts))
				return errors.New("supervisor: " + id.String() + ": init attempts exhausted")
			}
			if err := bo.Wait(ctx); err != nil {
				return err
			}
			continue
		}

		// Init succeeded: reset backoff and, if we've run before, count this
		// as a reset rather than a first bring-up.
		bo.Reset()
		if everRunning {
			state.IncrementResets()
			if resetCounter != nil {
				resetCounter.Add(1)
			}
		}
		everRunning = true
		initAttempts = 0

		if err := runPollLoop(ctx, adapter, state, bo, errorCounter, log); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// should-reset: fall through to INIT.
			log.Info("sensor requested reset, re-entering init")
			continue
		}
		return ctx.Err()
	}
}

// runPollLoop runs the RUNNING phase until a should-reset error occurs (in
// which case it returns a non-nil error to signal "go back to INIT") or ctx
// is canceled (returns nil; the caller checks ctx.Err() itself).
func runPollLoop(ctx context.Context, adapter sensor.Adapter, state *sensorstate.State, bo *backoff.Policy, errorCounter *metricsregistry.Counter, log *zap.Logger) error {
	ticker := time.NewTicker(adapter.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		err := adapter.Poll(ctx)
		if err == nil {
			state.SetStatus(sensor.Up)
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		state.IncrementErrors()
		if errorCounter != nil {
			errorCounter.Add(1)
		}
		state.SetStatus(sensor.StatusFor(err))
		log.Warn("sensor poll failed", zap.Error(err))

		if sensor.ShouldReset(err) {
			return err
		}

		// Backoff is deliberately not reset here: a transient poll failure
		// retried in place keeps climbing the same backoff curve started
		// the last time this sensor had trouble, per spec.
		if werr := bo.Wait(ctx); werr != nil {
			return nil
		}
	}
}
