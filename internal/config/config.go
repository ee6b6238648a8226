// Package config loads and saves the YAML configuration a serve/divide/bench
// run starts from: network port, tick cadence, physics tuning, and the seed
// vents present at boot.
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort              = 3000
	DefaultTickHz            = 60.0
	DefaultSeed              = 1
	DefaultPressureThreshold = 10.0
	DefaultEventsRingCap     = 1024
)

// VentConfig is one seed vent loaded into the Fluid at boot, in addition to
// the always-present primal axiom.
type VentConfig struct {
	Name       string  `yaml:"name"`
	HeatOutput float64 `yaml:"heat_output"`
	Depth      float64 `yaml:"depth"`
	Radius     float64 `yaml:"radius"`
}

// Config is the full set of tunables a run accepts.
type Config struct {
	Port   int     `yaml:"port"`
	TickHz float64 `yaml:"tick_hz"`
	Seed   int64   `yaml:"seed"`

	PressureThreshold     float64 `yaml:"pressure_threshold"`
	VentActivationPerTick bool    `yaml:"vent_activation_per_tick"`
	EventsRingCapacity    int     `yaml:"events_ring_capacity"`

	Vents []VentConfig `yaml:"vents"`
}

// DefaultConfig mirrors the kernel's own concrete defaults plus an empty
// seed vent list, since the primal axiom is always present. A PORT
// environment variable, if set and parseable, overrides the default port
// (spec.md §6: "Environment: PORT (override 3000)").
func DefaultConfig() *Config {
	cfg := &Config{
		Port:               DefaultPort,
		TickHz:             DefaultTickHz,
		Seed:               DefaultSeed,
		PressureThreshold:  DefaultPressureThreshold,
		EventsRingCapacity: DefaultEventsRingCap,
	}
	if portEnv := os.Getenv("PORT"); portEnv != "" {
		if port, err := strconv.Atoi(portEnv); err == nil {
			cfg.Port = port
		}
	}
	return cfg
}

// Load reads a YAML config file, starting from DefaultConfig so omitted
// fields keep their defaults. A PORT environment variable, if set and
// parseable, overrides the file's port (common container convention).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if portEnv := os.Getenv("PORT"); portEnv != "" {
		if port, err := strconv.Atoi(portEnv); err == nil {
			cfg.Port = port
		}
	}
	return cfg, nil
}

// Save writes cfg as YAML to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
