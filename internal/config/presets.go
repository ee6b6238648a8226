package config

// Presets are named vent layouts a run can start from via the CLI's
// --preset flag.
var Presets = map[string]*Config{
	"calm": {
		Port: DefaultPort, TickHz: DefaultTickHz, Seed: DefaultSeed,
		PressureThreshold:  DefaultPressureThreshold,
		EventsRingCapacity: DefaultEventsRingCap,
		Vents: []VentConfig{
			{Name: "ember", HeatOutput: 0.4, Depth: 0.8, Radius: 0.15},
		},
	},
	"turbulent": {
		Port: DefaultPort, TickHz: DefaultTickHz, Seed: DefaultSeed,
		PressureThreshold:  6.0,
		EventsRingCapacity: DefaultEventsRingCap,
		Vents: []VentConfig{
			{Name: "geyser-north", HeatOutput: 1.2, Depth: 0.85, Radius: 0.25},
			{Name: "geyser-south", HeatOutput: 1.0, Depth: 0.75, Radius: 0.2},
		},
	},
	"abyssal": {
		Port: DefaultPort, TickHz: DefaultTickHz, Seed: DefaultSeed,
		PressureThreshold:  20.0,
		EventsRingCapacity: DefaultEventsRingCap,
		Vents: []VentConfig{
			{Name: "trench-vent", HeatOutput: 1.8, Depth: 0.98, Radius: 0.1},
		},
	},
}

// GetPreset returns the named preset, or nil if it doesn't exist.
func GetPreset(name string) *Config {
	return Presets[name]
}

// ListPresets returns the names of every registered preset.
func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	return names
}
