package sensorstate_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hawkw/eclssd/internal/sensor"
	"github.com/hawkw/eclssd/internal/sensorstate"
)

func TestGetOrRegisterReturnsSameState(t *testing.T) {
	r := sensorstate.New(2)
	s1, err := r.GetOrRegister(sensor.SGP30)
	require.NoError(t, err)
	s2, err := r.GetOrRegister(sensor.SGP30)
	require.NoError(t, err)
	assert.Same(t, s1, s2)
}

func TestGetOrRegisterConcurrentCallersShareOneState(t *testing.T) {
	r := sensorstate.New(1)
	var wg sync.WaitGroup
	states := make([]*sensorstate.State, 16)
	for i := range states {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.GetOrRegister(sensor.BME680)
			require.NoError(t, err)
			states[i] = s
		}(i)
	}
	wg.Wait()
	for _, s := range states[1:] {
		assert.Same(t, states[0], s)
	}
}

func TestRegistryCapacityExceededErrors(t *testing.T) {
	r := sensorstate.New(1)
	_, err := r.GetOrRegister(sensor.SGP30)
	require.NoError(t, err)
	_, err = r.GetOrRegister(sensor.SHT41)
	assert.Error(t, err)
}

func TestStatusMonotonicityAndFoundLatch(t *testing.T) {
	r := sensorstate.New(1)
	s, err := r.GetOrRegister(sensor.SCD40)
	require.NoError(t, err)

	assert.Equal(t, sensor.Unknown, s.Status())
	assert.False(t, s.Found())

	s.SetStatus(sensor.Initializing)
	assert.False(t, s.Found())

	s.SetStatus(sensor.Up)
	assert.True(t, s.Found())

	s.SetStatus(sensor.BusError)
	assert.Equal(t, sensor.BusError, s.Status())
	assert.True(t, s.Found(), "found flag must latch even after a later error status")
}

func TestCountersAccumulate(t *testing.T) {
	r := sensorstate.New(1)
	s, err := r.GetOrRegister(sensor.ENS160)
	require.NoError(t, err)

	s.SetPollInterval(time.Second)
	assert.Equal(t, time.Second, s.PollInterval())

	assert.EqualValues(t, 1, s.IncrementErrors())
	assert.EqualValues(t, 2, s.IncrementErrors())
	assert.EqualValues(t, 1, s.IncrementResets())
	assert.EqualValues(t, 2, s.ErrorCount())
	assert.EqualValues(t, 1, s.ResetCount())
}
