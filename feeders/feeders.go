// Package feeders fills configuration structs from files and environment
// variables. File feeders pick the decoder from the file extension; the
// env feeder overrides `env`-tagged fields.
package feeders

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Feeder populates target, which must be a pointer to a struct.
type Feeder interface {
	Feed(target any) error
}

// ForFile returns the file feeder matching the extension of path.
func ForFile(path string) (Feeder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return NewYamlFeeder(path), nil
	case ".toml":
		return NewTomlFeeder(path), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedExtension, path)
	}
}

// Feed runs every feeder in order; later feeders override earlier ones.
func Feed(target any, feeders ...Feeder) error {
	for _, f := range feeders {
		if err := f.Feed(target); err != nil {
			return err
		}
	}
	return nil
}
