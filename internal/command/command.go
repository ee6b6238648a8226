// Package command implements the typed command dispatcher: the one path by
// which external callers mutate the Fluid between ticks.
package command

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/san-kum/fluidsim/internal/entities"
	"github.com/san-kum/fluidsim/internal/events"
	"github.com/san-kum/fluidsim/internal/state"
)

// Sentinel domain errors.
var (
	ErrNoSuchConcept  = errors.New("command: no such concept")
	ErrNoSuchVent     = errors.New("command: no such vent")
	ErrExperimentBusy = errors.New("command: a division experiment is already running")
)

// OutOfRangeError reports a scalar outside its declared range, surfaced as
// HTTP 400 by the adapter.
type OutOfRangeError struct {
	Field string
	Value float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("command: field %q out of range: %v", e.Field, e.Value)
}

// Kind is the closed set of command kinds the dispatcher accepts.
type Kind string

const (
	KindInject           Kind = "Inject"
	KindBallast          Kind = "Ballast"
	KindThaw             Kind = "Thaw"
	KindDeepBreath       Kind = "DeepBreath"
	KindModulateBuoyancy Kind = "ModulateBuoyancy"
	KindAddCoreTruth     Kind = "AddCoreTruth"
	KindFlashHeal        Kind = "FlashHeal"
	KindTriggerContinent Kind = "TriggerContinent"
	KindStartDivision    Kind = "StartDivision"
)

// Command is a tagged request. Only the fields relevant to Kind are read.
type Command struct {
	Kind Kind

	// Inject
	Name    string
	Density float64
	Volume  float64

	// Ballast / ModulateBuoyancy
	ConceptID uuid.UUID
	Delta     float64

	// DeepBreath
	Strength float64

	// AddCoreTruth
	HeatOutput float64
	Depth      float64
	Radius     float64

	// FlashHeal
	HealConcepts []state.FlashHealConcept
	Dilution     float64

	// TriggerContinent
	PressureThreshold float64

	// StartDivision
	Dividend      int
	Divisor       int
	SalinityBoost float64
}

// Result carries a command's outcome back to the adapter. Which fields are
// populated depends on Kind; callers switch on the originating Command's
// Kind to interpret it.
type Result struct {
	ConceptID       uuid.UUID
	Name            string
	Density         float64
	Area            float64
	InitialLayer    float64
	Pending         bool // TriggerContinent: pressure below threshold
	CurrentPressure float64
}

// Dispatch applies cmd to f. Caller must hold f's write lock: dispatch
// happens between ticks under exclusive access.
func Dispatch(f *state.Fluid, cmd Command) (Result, error) {
	switch cmd.Kind {
	case KindInject:
		return dispatchInject(f, cmd)
	case KindBallast:
		return dispatchBallast(f, cmd)
	case KindModulateBuoyancy:
		return dispatchModulateBuoyancy(f, cmd)
	case KindThaw:
		return dispatchThaw(f)
	case KindDeepBreath:
		return dispatchDeepBreath(f, cmd)
	case KindAddCoreTruth:
		return dispatchAddCoreTruth(f, cmd)
	case KindFlashHeal:
		return dispatchFlashHeal(f, cmd)
	case KindTriggerContinent:
		return dispatchTriggerContinent(f, cmd)
	case KindStartDivision:
		return dispatchStartDivision(f, cmd)
	default:
		return Result{}, fmt.Errorf("command: unknown kind %q", cmd.Kind)
	}
}

func dispatchInject(f *state.Fluid, cmd Command) (Result, error) {
	if cmd.Density < 0 || cmd.Density > 1 {
		return Result{}, &OutOfRangeError{Field: "density", Value: cmd.Density}
	}
	if cmd.Volume < 0 {
		return Result{}, &OutOfRangeError{Field: "volume", Value: cmd.Volume}
	}
	c := f.InsertConcept(cmd.Name, cmd.Density, cmd.Volume)
	return Result{
		ConceptID:    c.ID,
		Name:         c.Name,
		Density:      c.Density,
		Area:         c.Area,
		InitialLayer: c.Layer,
	}, nil
}

func dispatchBallast(f *state.Fluid, cmd Command) (Result, error) {
	if cmd.Delta < -1 || cmd.Delta > 1 {
		return Result{}, &OutOfRangeError{Field: "weight_delta", Value: cmd.Delta}
	}
	c, ok := f.ApplyBallast(cmd.ConceptID, cmd.Delta)
	if !ok {
		return Result{}, ErrNoSuchConcept
	}
	return Result{ConceptID: c.ID, Density: c.Density}, nil
}

func dispatchModulateBuoyancy(f *state.Fluid, cmd Command) (Result, error) {
	if cmd.Delta < -1 || cmd.Delta > 1 {
		return Result{}, &OutOfRangeError{Field: "buoyancy_delta", Value: cmd.Delta}
	}
	c, ok := f.ModulateBuoyancy(cmd.ConceptID, cmd.Delta)
	if !ok {
		return Result{}, ErrNoSuchConcept
	}
	return Result{ConceptID: c.ID}, nil
}

func dispatchThaw(f *state.Fluid) (Result, error) {
	f.Thaw()
	f.Events.Publish(events.KindThaw, f.Tick, map[string]any{"tick": f.Tick})
	return Result{}, nil
}

func dispatchDeepBreath(f *state.Fluid, cmd Command) (Result, error) {
	if cmd.Strength < 0 || cmd.Strength > 1 {
		return Result{}, &OutOfRangeError{Field: "strength", Value: cmd.Strength}
	}
	f.DeepBreath(cmd.Strength)
	return Result{}, nil
}

func dispatchAddCoreTruth(f *state.Fluid, cmd Command) (Result, error) {
	if cmd.HeatOutput <= 0 {
		return Result{}, &OutOfRangeError{Field: "heat_output", Value: cmd.HeatOutput}
	}
	if cmd.Depth < 0 || cmd.Depth > 1 {
		return Result{}, &OutOfRangeError{Field: "depth", Value: cmd.Depth}
	}
	if cmd.Radius <= 0 || cmd.Radius > 1 {
		return Result{}, &OutOfRangeError{Field: "radius", Value: cmd.Radius}
	}
	f.AddVent(cmd.Name, cmd.HeatOutput, cmd.Depth, cmd.Radius)
	return Result{Name: cmd.Name}, nil
}

func dispatchFlashHeal(f *state.Fluid, cmd Command) (Result, error) {
	if cmd.Dilution < 0 || cmd.Dilution > 1 {
		return Result{}, &OutOfRangeError{Field: "dilution_strength", Value: cmd.Dilution}
	}
	f.FlashHeal(cmd.HealConcepts, cmd.Dilution)
	return Result{}, nil
}

func dispatchTriggerContinent(f *state.Fluid, cmd Command) (Result, error) {
	if cmd.PressureThreshold > 0 {
		f.PressureThreshold = cmd.PressureThreshold
	}
	threshold := f.PressureThreshold
	if f.OrePressure < threshold || len(f.Ores) == 0 {
		return Result{Pending: true, CurrentPressure: f.OrePressure}, nil
	}

	composition := make(map[entities.OreKind]int)
	counts := make(map[entities.OreKind]int)
	dominant := f.Ores[0].Kind
	for _, o := range f.Ores {
		composition[o.Kind]++
		counts[o.Kind]++
		if counts[o.Kind] > counts[dominant] {
			dominant = o.Kind
		}
	}
	continent := &entities.Continent{
		Name:              dominant.String() + "-continent",
		FormationPressure: f.OrePressure,
		Composition:       composition,
	}
	f.Continents = append(f.Continents, continent)
	f.Events.Publish(events.KindTectonicShift, f.Tick, map[string]any{
		"continent_name":     continent.Name,
		"formation_pressure": continent.FormationPressure,
		"composition":        composition,
	})
	f.Ores = nil
	f.OrePressure = 0
	return Result{Name: continent.Name}, nil
}

func dispatchStartDivision(f *state.Fluid, cmd Command) (Result, error) {
	if f.Division != nil {
		return Result{}, ErrExperimentBusy
	}
	if cmd.Dividend < 1 || cmd.Dividend > 100 {
		return Result{}, &OutOfRangeError{Field: "dividend", Value: float64(cmd.Dividend)}
	}
	if cmd.Divisor < 1 || cmd.Divisor > 20 {
		return Result{}, &OutOfRangeError{Field: "divisor", Value: float64(cmd.Divisor)}
	}
	if cmd.SalinityBoost < 0 || cmd.SalinityBoost > 10 {
		return Result{}, &OutOfRangeError{Field: "salinity_boost", Value: cmd.SalinityBoost}
	}
	f.StartDivision(cmd.Dividend, cmd.Divisor, cmd.SalinityBoost)
	return Result{}, nil
}
