package supervisor_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hawkw/eclssd/internal/sensor"
	"github.com/hawkw/eclssd/internal/sensorstate"
	"github.com/hawkw/eclssd/internal/supervisor"
)

// fakeAdapter is a scripted sensor.Adapter test double: Init and Poll draw
// their next result from queues, looping on the last entry once exhausted.
type fakeAdapter struct {
	id           sensor.Identity
	pollInterval time.Duration

	initResults []error
	initCalls   atomic.Int64

	pollResults []error
	pollCalls   atomic.Int64
}

func (f *fakeAdapter) Identity() sensor.Identity      { return f.id }
func (f *fakeAdapter) PollInterval() time.Duration    { return f.pollInterval }

func (f *fakeAdapter) Init(ctx context.Context) error {
	i := f.initCalls.Add(1) - 1
	if int(i) >= len(f.initResults) {
		i = int64(len(f.initResults) - 1)
	}
	return f.initResults[i]
}

func (f *fakeAdapter) Poll(ctx context.Context) error {
	i := f.pollCalls.Add(1) - 1
	if int(i) >= len(f.pollResults) {
		i = int64(len(f.pollResults) - 1)
	}
	return f.pollResults[i]
}

type resetErr struct{ error }

func (r resetErr) I2CError() (sensor.I2CErrorKind, bool) { return 0, false }
func (r resetErr) ShouldReset() bool                     { return true }

func TestRunTerminatesAfterMaxInitAttemptsExhausted(t *testing.T) {
	a := &fakeAdapter{
		id:           sensor.SGP30,
		pollInterval: time.Millisecond,
		initResults: []error{
			sensor.WrapI2C(sensor.SGP30, "init", assertErr("nack")),
		},
	}
	reg := sensorstate.New(1)

	err := supervisor.Run(context.Background(), a, reg, nil, nil, supervisor.Config{
		InitialBackoff:  time.Millisecond,
		MaxBackoff:      2 * time.Millisecond,
		MaxInitAttempts: 3,
	})
	require.Error(t, err)
	assert.EqualValues(t, 3, a.initCalls.Load())

	state, ok := reg.Get(sensor.SGP30)
	require.True(t, ok)
	assert.Equal(t, sensor.NoAcknowledge, state.Status())
}

func TestRunReEntersInitOnShouldResetError(t *testing.T) {
	a := &fakeAdapter{
		id:           sensor.SCD40,
		pollInterval: time.Millisecond,
		initResults:  []error{nil},
		pollResults:  []error{resetErr{assertErr("stuck reading")}, nil},
	}
	reg := sensorstate.New(1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_ = supervisor.Run(ctx, a, reg, nil, nil, supervisor.Config{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})

	assert.GreaterOrEqual(t, a.initCalls.Load(), int64(2), "should-reset poll error must re-enter init")

	state, ok := reg.Get(sensor.SCD40)
	require.True(t, ok)
	assert.True(t, state.ResetCount() >= 1)
}

func TestRunSetsUpAfterSuccessfulPoll(t *testing.T) {
	a := &fakeAdapter{
		id:           sensor.SHT41,
		pollInterval: time.Millisecond,
		initResults:  []error{nil},
		pollResults:  []error{nil},
	}
	reg := sensorstate.New(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_ = supervisor.Run(ctx, a, reg, nil, nil, supervisor.Config{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})

	state, ok := reg.Get(sensor.SHT41)
	require.True(t, ok)
	assert.Equal(t, sensor.Up, state.Status())
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
