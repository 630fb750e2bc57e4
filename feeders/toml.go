package feeders

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// TomlFeeder reads TOML files.
type TomlFeeder struct {
	Path string
}

// NewTomlFeeder creates a new TomlFeeder that reads from the specified TOML file
func NewTomlFeeder(filePath string) TomlFeeder {
	return TomlFeeder{Path: filePath}
}

// Feed decodes the whole file into target.
func (t TomlFeeder) Feed(target any) error {
	if !isStructPointer(target) {
		return wrapStructureError(target)
	}
	if _, err := toml.DecodeFile(t.Path, target); err != nil {
		return fmt.Errorf("failed to read toml file %s: %w", t.Path, err)
	}
	return nil
}

// FeedKey decodes the value stored under a top-level key into target.
// A missing key leaves target untouched.
func (t TomlFeeder) FeedKey(key string, target any) error {
	var all map[string]toml.Primitive
	md, err := toml.DecodeFile(t.Path, &all)
	if err != nil {
		return fmt.Errorf("failed to read toml file %s: %w", t.Path, err)
	}
	prim, ok := all[key]
	if !ok {
		return nil
	}
	if err := md.PrimitiveDecode(prim, target); err != nil {
		return fmt.Errorf("failed to decode toml key %q: %w", key, err)
	}
	return nil
}
