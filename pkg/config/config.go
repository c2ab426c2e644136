package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

const (
	configDir       string = "pstack"
	legacyConfigDir string = ".pstack"
	configFile      string = "config.yml"
)

// LoadBiasMode selects how instruction addresses are translated before
// symbol lookup.
type LoadBiasMode string

const (
	// LoadBiasFixed subtracts the architecture's default load base. Only
	// correct for targets started without address space randomization.
	LoadBiasFixed LoadBiasMode = "fixed"
	// LoadBiasMaps computes the real bias from the target's memory
	// mappings.
	LoadBiasMaps LoadBiasMode = "maps"
)

// ColorMode controls colorized output.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

const (
	// MaxFrames is the largest accepted value of max-frames.
	MaxFrames = 1024
	// DefaultProcNameSize is the default of proc-name-size.
	DefaultProcNameSize = 1024
	// DefaultModuleCacheSize is the default of module-cache-size.
	DefaultModuleCacheSize = 64
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// MaxFrames is the most frames printed per thread.
	MaxFrames int `yaml:"max-frames"`
	// ProcNameSize is the size of the buffer procedure names are read into.
	ProcNameSize int `yaml:"proc-name-size"`

	LoadBias LoadBiasMode `yaml:"load-bias"`
	// FixedLoadBias overrides the architecture's default load base when
	// LoadBias is "fixed".
	FixedLoadBias *uint64 `yaml:"fixed-load-bias,omitempty"`

	Color  ColorMode `yaml:"color"`
	ShowSP bool      `yaml:"show-sp"`
	// Demangle enables demangling of C++ and Rust symbol names.
	Demangle bool `yaml:"demangle"`

	// ModuleCacheSize is how many executable images are kept open while
	// unwinding.
	ModuleCacheSize int `yaml:"module-cache-size"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		MaxFrames:       MaxFrames,
		ProcNameSize:    DefaultProcNameSize,
		LoadBias:        LoadBiasFixed,
		Color:           ColorAuto,
		Demangle:        true,
		ModuleCacheSize: DefaultModuleCacheSize,
	}
}

// Validate checks that every option has an acceptable value.
func (c *Config) Validate() error {
	if c.MaxFrames <= 0 || c.MaxFrames > MaxFrames {
		return fmt.Errorf("max-frames must be between 1 and %d, got %d", MaxFrames, c.MaxFrames)
	}
	if c.ProcNameSize <= 0 {
		return fmt.Errorf("proc-name-size must be positive, got %d", c.ProcNameSize)
	}
	if c.ModuleCacheSize <= 0 {
		return fmt.Errorf("module-cache-size must be positive, got %d", c.ModuleCacheSize)
	}
	switch c.LoadBias {
	case LoadBiasFixed, LoadBiasMaps:
	default:
		return fmt.Errorf("unknown load-bias %q (expected %q or %q)", c.LoadBias, LoadBiasFixed, LoadBiasMaps)
	}
	switch c.Color {
	case ColorAuto, ColorAlways, ColorNever:
	default:
		return fmt.Errorf("unknown color mode %q", c.Color)
	}
	return nil
}

// LoadConfig reads the configuration file at path. If path is empty the
// first existing file among ConfigFilePaths is used. A missing file yields
// the default configuration, the file is never created.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		for _, candidate := range ConfigFilePaths() {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
		if path == "" {
			return Default(), nil
		}
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read config file: %w", err)
	}

	conf, err := parse(buf)
	if err != nil {
		return nil, fmt.Errorf("unable to decode config file %s: %w", path, err)
	}
	return conf, nil
}

func parse(buf []byte) (*Config, error) {
	conf := Default()
	if err := yaml.UnmarshalStrict(buf, conf); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// ConfigFilePaths returns the locations searched for the configuration
// file, in order: $XDG_CONFIG_HOME/pstack/config.yml, then
// ~/.pstack/config.yml.
func ConfigFilePaths() []string {
	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, configDir, configFile))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, legacyConfigDir, configFile))
	}
	return paths
}
