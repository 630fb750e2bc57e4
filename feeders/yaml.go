package feeders

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YamlFeeder reads YAML files.
type YamlFeeder struct {
	Path string
}

// NewYamlFeeder creates a new YamlFeeder that reads from the specified YAML file
func NewYamlFeeder(filePath string) YamlFeeder {
	return YamlFeeder{Path: filePath}
}

// Feed decodes the whole file into target.
func (y YamlFeeder) Feed(target any) error {
	if !isStructPointer(target) {
		return wrapStructureError(target)
	}
	data, err := os.ReadFile(y.Path)
	if err != nil {
		return fmt.Errorf("failed to read yaml file %s: %w", y.Path, err)
	}
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to parse yaml file %s: %w", y.Path, err)
	}
	return nil
}

// FeedKey decodes the value stored under a top-level key into target.
// A missing key leaves target untouched.
func (y YamlFeeder) FeedKey(key string, target any) error {
	data, err := os.ReadFile(y.Path)
	if err != nil {
		return fmt.Errorf("failed to read yaml file %s: %w", y.Path, err)
	}

	var all map[string]yaml.Node
	if err := yaml.Unmarshal(data, &all); err != nil {
		return fmt.Errorf("failed to parse yaml file %s: %w", y.Path, err)
	}
	node, ok := all[key]
	if !ok {
		return nil
	}
	if err := node.Decode(target); err != nil {
		return fmt.Errorf("failed to decode yaml key %q: %w", key, err)
	}
	return nil
}
