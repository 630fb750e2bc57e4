package feeders

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type level string

type sampleHealth struct {
	Interval  time.Duration `yaml:"interval" toml:"interval" env:"INTERVAL"`
	Threshold int           `yaml:"threshold" toml:"threshold" env:"THRESHOLD"`
}

type sampleConfig struct {
	Name     string         `yaml:"name" toml:"name" env:"NAME"`
	Debug    bool           `yaml:"debug" toml:"debug" env:"DEBUG"`
	Workers  int            `yaml:"workers" toml:"workers" env:"WORKERS"`
	Ratio    float64        `yaml:"ratio" toml:"ratio" env:"RATIO"`
	Level    level          `yaml:"level" toml:"level" env:"LEVEL"`
	Tags     []string       `yaml:"tags" toml:"tags" env:"TAGS"`
	Health   sampleHealth   `yaml:"health" toml:"health" env:"HEALTH"`
	Settings map[string]any `yaml:"settings" toml:"settings"`
	Ignored  string         `yaml:"ignored" toml:"ignored" env:"-"`
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestYamlFeeder(t *testing.T) {
	path := writeFile(t, "kernel.yaml", `
name: kernel
debug: true
workers: 4
tags: [a, b]
health:
  threshold: 3
settings:
  region: eu
`)
	var cfg sampleConfig
	require.NoError(t, NewYamlFeeder(path).Feed(&cfg))
	assert.Equal(t, "kernel", cfg.Name)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, []string{"a", "b"}, cfg.Tags)
	assert.Equal(t, 3, cfg.Health.Threshold)
	assert.Equal(t, "eu", cfg.Settings["region"])

	var health sampleHealth
	require.NoError(t, NewYamlFeeder(path).FeedKey("health", &health))
	assert.Equal(t, 3, health.Threshold)
	require.NoError(t, NewYamlFeeder(path).FeedKey("missing", &health))

	require.ErrorIs(t, NewYamlFeeder(path).Feed(cfg), ErrInvalidStructure)
	require.Error(t, NewYamlFeeder(filepath.Join(t.TempDir(), "nope.yaml")).Feed(&cfg))
}

func TestTomlFeeder(t *testing.T) {
	path := writeFile(t, "kernel.toml", `
name = "kernel"
workers = 2
ratio = 0.5
tags = ["x"]

[health]
threshold = 5

[settings]
region = "us"
`)
	var cfg sampleConfig
	require.NoError(t, NewTomlFeeder(path).Feed(&cfg))
	assert.Equal(t, "kernel", cfg.Name)
	assert.Equal(t, 2, cfg.Workers)
	assert.InDelta(t, 0.5, cfg.Ratio, 0.0001)
	assert.Equal(t, []string{"x"}, cfg.Tags)
	assert.Equal(t, 5, cfg.Health.Threshold)
	assert.Equal(t, "us", cfg.Settings["region"])

	var health sampleHealth
	require.NoError(t, NewTomlFeeder(path).FeedKey("health", &health))
	assert.Equal(t, 5, health.Threshold)

	require.Error(t, NewTomlFeeder(writeFile(t, "bad.toml", "name = ")).Feed(&cfg))
}

func TestEnvFeeder(t *testing.T) {
	env := map[string]string{
		"APP_NAME":             "from-env",
		"APP_DEBUG":            "true",
		"APP_WORKERS":          "8",
		"APP_RATIO":            "1.5",
		"APP_LEVEL":            "debug",
		"APP_TAGS":             "a, b,,c",
		"APP_HEALTH_INTERVAL":  "15s",
		"APP_HEALTH_THRESHOLD": "",
		"APP_IGNORED":          "nope",
	}
	feeder := EnvFeeder{Prefix: "app", Lookup: func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}}

	cfg := sampleConfig{Health: sampleHealth{Threshold: 2}}
	require.NoError(t, feeder.Feed(&cfg))
	assert.Equal(t, "from-env", cfg.Name)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 8, cfg.Workers)
	assert.InDelta(t, 1.5, cfg.Ratio, 0.0001)
	assert.Equal(t, level("debug"), cfg.Level)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Tags)
	assert.Equal(t, 15*time.Second, cfg.Health.Interval)
	assert.Equal(t, 2, cfg.Health.Threshold)
	assert.Empty(t, cfg.Ignored)
}

func TestEnvFeederErrors(t *testing.T) {
	var cfg sampleConfig
	require.ErrorIs(t, EnvFeeder{}.Feed(&cfg), ErrEmptyPrefix)
	require.ErrorIs(t, NewEnvFeeder("APP").Feed(cfg), ErrInvalidStructure)

	t.Setenv("APP_WORKERS", "many")
	require.ErrorIs(t, NewEnvFeeder("APP").Feed(&cfg), ErrTypeConversion)

	t.Setenv("APP_WORKERS", "3")
	t.Setenv("APP_HEALTH_INTERVAL", "soon")
	require.ErrorIs(t, NewEnvFeeder("APP").Feed(&cfg), ErrTypeConversion)
}

func TestForFileAndFeedChain(t *testing.T) {
	path := writeFile(t, "kernel.yml", "name: file\nworkers: 1\n")
	f, err := ForFile(path)
	require.NoError(t, err)
	assert.IsType(t, YamlFeeder{}, f)

	f, err = ForFile("kernel.TOML")
	require.NoError(t, err)
	assert.IsType(t, TomlFeeder{}, f)

	_, err = ForFile("kernel.json")
	require.ErrorIs(t, err, ErrUnsupportedExtension)

	t.Setenv("CHAIN_WORKERS", "6")
	var cfg sampleConfig
	yamlFeeder, err := ForFile(path)
	require.NoError(t, err)
	require.NoError(t, Feed(&cfg, yamlFeeder, NewEnvFeeder("chain")))
	assert.Equal(t, "file", cfg.Name)
	assert.Equal(t, 6, cfg.Workers)
}
