// Package baseline persists per-sensor calibration state as one TOML file
// per sensor identity under a configured state directory, grounded on
// eclssd's original storage.rs (toml::to_string_pretty against
// <STATE_DIRECTORY>/<name>.toml).
package baseline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Store loads and persists calibration state for a single sensor.
type Store interface {
	// Load decodes the persisted baseline into dst, a pointer to a
	// TOML-tagged struct. It returns ok=false (with a nil error) if no
	// baseline has ever been stored.
	Load(dst any) (ok bool, err error)
	// Save persists src, a TOML-tagged struct, overwriting whatever was
	// there before.
	Save(src any) error
}

// FileStore persists one sensor's baseline as <dir>/<name>.toml.
type FileStore struct {
	path string
}

// NewFileStore returns a Store that reads and writes <dir>/<name>.toml,
// creating dir if it doesn't already exist.
func NewFileStore(dir, name string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("baseline: creating state directory %q: %w", dir, err)
	}
	return &FileStore{path: filepath.Join(dir, name+".toml")}, nil
}

// Load implements Store.
func (f *FileStore) Load(dst any) (bool, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("baseline: reading %q: %w", f.path, err)
	}
	if err := toml.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("baseline: decoding %q: %w", f.path, err)
	}
	return true, nil
}

// Save implements Store.
func (f *FileStore) Save(src any) error {
	data, err := toml.Marshal(src)
	if err != nil {
		return fmt.Errorf("baseline: encoding %q: %w", f.path, err)
	}
	if err := os.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("baseline: writing %q: %w", f.path, err)
	}
	return nil
}

// NullStore is a no-op Store, used when the state directory is configured
// as empty.
// Load always reports nothing saved; Save always succeeds and discards its
// input.
type NullStore struct{}

// Load implements Store.
func (NullStore) Load(any) (bool, error) { return false, nil }

// Save implements Store.
func (NullStore) Save(any) error { return nil }
