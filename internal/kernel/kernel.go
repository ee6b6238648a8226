// Package kernel implements the per-tick physics pipeline: stages A-H,
// applied in order against a *state.Fluid under the loop's write lock.
package kernel

import (
	"fmt"
	"math"

	"github.com/san-kum/fluidsim/internal/entities"
	"github.com/san-kum/fluidsim/internal/events"
	"github.com/san-kum/fluidsim/internal/state"
)

// Tunable physics constants, with concrete defaults matching the design.
const (
	Dt = 1.0 / 60.0

	KThermal        = 0.5
	KSalinity       = 0.3
	DragCoefficient = 0.8
	EpsilonV        = 1e-4
	EnergyBreak     = 0.05
	KInt            = 0.1

	MineralizeLayer  = 0.9
	MineralizeCycles = 3

	SurfaceLayer     = 0.01
	EvaporationTicks = 120
	FreezeTicks      = 600

	OreDensityCode  = 0.2
	OreIntegWriting = 0.7
	OreAreaArt      = 0.8

	VelocityMax = 10.0

	TurbulenceDecay = 0.995
)

// Config tunes the per-tick pipeline's physics constants at runtime.
type Config struct {
	PressureThreshold float64
	// VentActivationPerTick switches Stage A's vent_cycles/activation_count
	// bookkeeping from once-per-proximity-entry (the default) to
	// once-per-tick-in-proximity.
	VentActivationPerTick bool
}

// DefaultConfig mirrors the concrete physics defaults.
func DefaultConfig() Config {
	return Config{PressureThreshold: 10.0}
}

// Step runs one physics tick (stages A-H) against f, emitting significant
// events onto f.Events. Caller must hold f's write lock.
func Step(f *state.Fluid, cfg Config) {
	stageA(f, cfg)
	stageB(f)
	stageC(f)
	stageD(f)
	stageE(f)
	stageF(f)
	stageG(f, cfg)
	stageH(f)
}

// stageA applies thermal influence from every vent to every concept.
func stageA(f *state.Fluid, cfg Config) {
	for _, c := range f.ConceptsInOrder() {
		for vi, v := range f.Vents {
			dist := math.Abs(c.Layer - v.Depth)
			inside := dist < v.Radius
			wasInside := c.InVentRadius[vi]

			if inside {
				boost := v.HeatOutput * (1 - dist/v.Radius) * Dt * KThermal
				c.Buoyancy += boost
				if c.Buoyancy > 1 {
					c.Buoyancy = 1
				}
				if cfg.VentActivationPerTick || !wasInside {
					v.ActivationCount++
				}
				if !wasInside {
					c.VentCycles++
				}
			}
			c.InVentRadius[vi] = inside
		}
	}
}

// stageB computes net force, integrates velocity and layer, and clamps.
// Each concept's integration is isolated: a panic from pathological input
// (§7) removes that concept alone and emits an anomaly rather than taking
// the whole tick down.
func stageB(f *state.Fluid) {
	viscosity := 1 + f.Salinity*KSalinity

	for _, c := range f.ConceptsInOrder() {
		integrateConcept(f, c, viscosity)
	}

	if f.Division != nil {
		f.Division.Step(Dt)
	}
}

func integrateConcept(f *state.Fluid, c *entities.Concept, viscosity float64) {
	defer func() {
		if r := recover(); r != nil {
			f.RemoveConcept(c.ID)
			f.Events.Publish(events.KindAnomaly, f.Tick, map[string]any{
				"id":     c.ID.String(),
				"name":   c.Name,
				"reason": fmt.Sprint(r),
			})
		}
	}()

	isFreezer := f.Frozen && c.ID == f.FreezerID
	var force float64
	if f.Frozen && !isFreezer {
		force = 0
	} else {
		sign := 0.0
		if c.Velocity > 0 {
			sign = 1
		} else if c.Velocity < 0 {
			sign = -1
		}
		drag := 0.5 * viscosity * sign * c.Velocity * c.Velocity * DragCoefficient * c.Area
		// F_wave(c) is the standing-wave attraction; it only acts on
		// division bubbles (tracked separately in f.Division), so it's
		// always zero for ordinary concepts. Positive velocity is sinking, so
		// buoyancy in excess of density pushes toward negative velocity.
		force = (c.Density - c.Buoyancy) - drag
	}

	mass := c.Mass()
	c.Velocity += force * Dt / mass
	if math.IsNaN(c.Velocity) || math.IsInf(c.Velocity, 0) {
		c.Velocity = math.Copysign(VelocityMax, force)
	}
	if c.Velocity > VelocityMax {
		c.Velocity = VelocityMax
	} else if c.Velocity < -VelocityMax {
		c.Velocity = -VelocityMax
	}

	c.Layer += c.Velocity * Dt
	if math.IsNaN(c.Layer) {
		c.Layer = 0.5
	}
	if c.Layer >= 1 {
		c.Layer = 1
		c.Velocity = 0
	} else if c.Layer <= 0 {
		c.Layer = 0
	}
}

// CatalysisLayer is the depth apply_ballast's watch checks for (spec.md §4.2).
const CatalysisLayer = 0.95

// stageC classifies status and resolves any pending apply_ballast catalysis
// watch (spec.md §4.2: emit catalysis if the concept reaches layer >= 0.95
// within 60 ticks of the ballast call).
func stageC(f *state.Fluid) {
	for _, c := range f.ConceptsInOrder() {
		switch {
		case f.Frozen && c.ID == f.FreezerID:
			// freezer itself keeps whatever velocity-derived status it earns below
		case f.Frozen:
			c.Status = entities.StatusFrozen
			continue
		}
		switch {
		case c.Velocity < -EpsilonV:
			c.Status = entities.StatusRising
		case c.Velocity > EpsilonV:
			c.Status = entities.StatusSinking
		default:
			c.Status = entities.StatusFloating
		}

		if c.BallastWatchUntil >= 0 {
			if c.Layer >= CatalysisLayer {
				f.Events.Publish(events.KindCatalysis, f.Tick, map[string]any{
					"id":    c.ID.String(),
					"name":  c.Name,
					"depth": c.Layer,
				})
				c.BallastWatchUntil = -1
			} else if int64(f.Tick) >= c.BallastWatchUntil {
				c.BallastWatchUntil = -1
			}
		}
	}
}

// stageD mineralizes concepts that spent long enough deep and hot.
func stageD(f *state.Fluid) {
	for _, c := range f.ConceptsInOrder() {
		inVent := false
		for _, inside := range c.InVentRadius {
			if inside {
				inVent = true
				break
			}
		}
		if c.Layer > MineralizeLayer && inVent {
			c.AtFloorTicks++
		} else {
			c.AtFloorTicks = 0
		}

		if c.AtFloorTicks >= MineralizeCycles {
			mineralize(f, c)
		}
	}
}

func mineralize(f *state.Fluid, c *entities.Concept) {
	kind := entities.OreInsight
	switch {
	case c.Area >= OreAreaArt:
		kind = entities.OreArt
	case c.Density <= OreDensityCode:
		kind = entities.OreCode
	case c.Integration >= OreIntegWriting:
		kind = entities.OreWriting
	}

	pressure := c.Density * c.Area
	ore := &entities.PreciousOre{
		Name:              c.Name + "-ore",
		Depth:             c.Layer,
		Kind:              kind,
		Pressure:          pressure,
		OriginConceptName: c.Name,
	}
	f.Ores = append(f.Ores, ore)
	f.OrePressure += pressure

	f.Events.Publish(events.KindMineralization, f.Tick, map[string]any{
		"concept_name": c.Name,
		"ore_name":     ore.Name,
		"ore_kind":     kind.String(),
		"depth":        ore.Depth,
		"vent_cycles":  c.VentCycles,
	})
	f.Events.Publish(events.KindOreDeposited, f.Tick, map[string]any{
		"ore_name":       ore.Name,
		"total_pressure": f.OrePressure,
	})

	f.RemoveConcept(c.ID)
}

// stageE handles surface breakthrough, evaporation, and the freeze timer.
func stageE(f *state.Fluid) {
	for _, c := range f.ConceptsInOrder() {
		mass := c.Mass()
		kinetic := 0.5 * mass * c.Velocity * c.Velocity

		if c.Layer <= 0 && kinetic >= EnergyBreak {
			f.Events.Publish(events.KindSurfaceBreakthrough, f.Tick, map[string]any{
				"id":             c.ID.String(),
				"name":           c.Name,
				"kinetic_energy": kinetic,
			})
			f.RemoveConcept(c.ID)
			continue
		}

		if c.Layer < SurfaceLayer && math.Abs(c.Velocity) < EpsilonV {
			c.SurfaceTicks++
		} else {
			c.SurfaceTicks = 0
		}

		// Evaporation (120 ticks) wins over freeze (600 ticks): the shorter
		// timer fires first for any concept stuck at the surface.
		if c.SurfaceTicks >= EvaporationTicks {
			trait := &entities.CharacterTrait{
				Name:               c.Name + "-trait",
				CrystallizedAtTick: f.Tick,
				SourceConceptName:  c.Name,
			}
			f.Traits = append(f.Traits, trait)
			f.Events.Publish(events.KindEvaporation, f.Tick, map[string]any{
				"trait_name":          trait.Name,
				"source_concept_name": trait.SourceConceptName,
			})
			f.RemoveConcept(c.ID)
			continue
		}

		if !f.Frozen && c.SurfaceTicks >= FreezeTicks {
			f.Frozen = true
			f.FreezerID = c.ID
			f.Events.Publish(events.KindFreeze, f.Tick, map[string]any{
				"freezer_id": c.ID.String(),
				"tick":       f.Tick,
			})
		}
	}
}

// stageF drifts integration from the turbulence pool and decays turbulence.
func stageF(f *state.Fluid) {
	for _, c := range f.ConceptsInOrder() {
		c.Integration += f.Turbulence * Dt * KInt
		if c.Integration > 1 {
			c.Integration = 1
		}
	}
	f.Turbulence *= TurbulenceDecay
}

// stageG checks for a tectonic shift once ore pressure crosses threshold.
func stageG(f *state.Fluid, cfg Config) {
	threshold := f.PressureThreshold
	if threshold == 0 {
		threshold = cfg.PressureThreshold
	}
	if f.OrePressure < threshold || len(f.Ores) == 0 {
		return
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
}

// stageH advances the tick counter and, if a division experiment is running
// and has reached its horizon, finalizes it.
func stageH(f *state.Fluid) {
	f.Tick++
	if f.Division != nil && f.Division.Done() {
		f.FinishDivision()
	}
}
