package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentStartsAtInitial(t *testing.T) {
	p := New(10*time.Millisecond, time.Second)
	assert.Equal(t, 10*time.Millisecond, p.Current())
}

func TestCurrentGrowsLinearlyAndCaps(t *testing.T) {
	p := New(10*time.Millisecond, 35*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, p.Wait(ctx)) // waited 10ms, attempt -> 2
	assert.Equal(t, 20*time.Millisecond, p.Current())

	require.NoError(t, p.Wait(ctx)) // waited 20ms, attempt -> 3
	assert.Equal(t, 30*time.Millisecond, p.Current())

	require.NoError(t, p.Wait(ctx)) // waited 30ms, attempt -> 4 but 40ms > max
	assert.Equal(t, 35*time.Millisecond, p.Current())

	require.NoError(t, p.Wait(ctx)) // still capped, attempt frozen
	assert.Equal(t, 35*time.Millisecond, p.Current())
}

func TestResetReturnsToInitial(t *testing.T) {
	p := New(5*time.Millisecond, 50*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, p.Wait(ctx))
	require.NoError(t, p.Wait(ctx))
	assert.NotEqual(t, 5*time.Millisecond, p.Current())

	p.Reset()
	assert.Equal(t, 5*time.Millisecond, p.Current())
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	p := New(time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
