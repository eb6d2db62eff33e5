package baseline

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sgp30Baseline struct {
	CO2eq uint16 `toml:"co2eq"`
	TVOC  uint16 `toml:"tvoc"`
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "SGP30")
	require.NoError(t, err)

	var loaded sgp30Baseline
	ok, err := store.Load(&loaded)
	require.NoError(t, err)
	assert.False(t, ok, "no baseline should exist yet")

	want := sgp30Baseline{CO2eq: 0x8973, TVOC: 0x8aae}
	require.NoError(t, store.Save(&want))

	assert.FileExists(t, filepath.Join(dir, "SGP30.toml"))

	var got sgp30Baseline
	ok, err = store.Load(&got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)
}

func TestNullStoreNeverPersists(t *testing.T) {
	var s NullStore
	ok, err := s.Load(&sgp30Baseline{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, s.Save(&sgp30Baseline{CO2eq: 1}))
}
