// Package entities holds the plain data types that populate the fluid: the
// thoughts ("concepts") under physics, the heat sources that drive them, and
// the residues concepts leave behind once they transition out of the live
// set.
package entities

import "github.com/google/uuid"

// Status classifies a Concept's current motion.
type Status int

const (
	StatusFloating Status = iota
	StatusRising
	StatusSinking
	StatusFrozen
	StatusEvaporated
)

func (s Status) String() string {
	switch s {
	case StatusFloating:
		return "floating"
	case StatusRising:
		return "rising"
	case StatusSinking:
		return "sinking"
	case StatusFrozen:
		return "frozen"
	case StatusEvaporated:
		return "evaporated"
	default:
		return "unknown"
	}
}

// OreKind is the closed set of mineralization outcomes.
type OreKind int

const (
	OreArt OreKind = iota
	OreCode
	OreWriting
	OreInsight
)

func (k OreKind) String() string {
	switch k {
	case OreArt:
		return "Art"
	case OreCode:
		return "Code"
	case OreWriting:
		return "Writing"
	case OreInsight:
		return "Insight"
	default:
		return "unknown"
	}
}

// Concept is a live thought under physics. Its id is a stable 128-bit value;
// external callers never hold a pointer to a Concept, only this id, and look
// it up against the owning Fluid on every operation.
type Concept struct {
	ID          uuid.UUID
	Name        string
	Density     float64
	Buoyancy    float64
	Area        float64
	Layer       float64
	Velocity    float64
	Integration float64
	VentCycles  int
	FrozenTicks int
	Status      Status

	// InVentRadius tracks, per vent index, whether the concept was inside
	// that vent's radius as of the previous tick. Stage A uses it to detect
	// proximity crossings (once-per-entry semantics).
	InVentRadius map[int]bool

	// SurfaceTicks counts consecutive ticks spent at layer < 0.01 with
	// |velocity| < epsilonV (Stage E evaporation/freeze timers).
	SurfaceTicks int

	// AtFloorTicks counts consecutive ticks spent at layer > 0.9 while inside
	// a vent's radius (the mineralization timer; "vent cycles" track ticks
	// spent deep while vent-active).
	AtFloorTicks int

	// BallastWatchUntil is the tick index apply_ballast's 60-tick catalysis
	// window closes at, or -1 if no watch is pending. Set by apply_ballast,
	// cleared once the window closes or catalysis fires.
	BallastWatchUntil int64
}

// NewConcept constructs a Concept per the insert_concept rule: buoyancy =
// 1 - density, layer = density (heavy concepts start low).
func NewConcept(name string, density, volume float64) *Concept {
	area := volume * 0.6
	if area < 0.01 {
		area = 0.01
	}
	return &Concept{
		ID:                uuid.New(),
		Name:              name,
		Density:           density,
		Buoyancy:          1 - density,
		Area:              area,
		Layer:             density,
		Velocity:          0,
		Status:            StatusFloating,
		InVentRadius:      make(map[int]bool),
		BallastWatchUntil: -1,
	}
}

// Mass is the effective inertial mass used by the kernel's Stage B integration.
func (c *Concept) Mass() float64 {
	const epsilon = 1e-6
	return c.Density*c.Area + epsilon
}

// CoreTruth is a fixed heat source ("vent") with a spatial radius of effect.
// Vents are created at boot or via command and are never destroyed.
type CoreTruth struct {
	Name            string
	HeatOutput      float64
	Depth           float64
	Radius          float64
	ActivationCount int
}

// NewPrimalAxiom returns the default vent present at startup.
func NewPrimalAxiom() *CoreTruth {
	return &CoreTruth{
		Name:       "primal axiom",
		HeatOutput: 1.0,
		Depth:      0.9,
		Radius:     0.3,
	}
}

// PreciousOre is the crystallized residue of a concept that spent enough
// cycles deep and hot.
type PreciousOre struct {
	Name              string
	Depth             float64
	Kind              OreKind
	Pressure          float64
	OriginConceptName string
}

// Continent is an immutable aggregation of ores formed once accumulated
// pressure crosses the tectonic threshold.
type Continent struct {
	Name              string
	FormationPressure float64
	Composition       map[OreKind]int
}

// CharacterTrait is the residue of a concept that evaporated at the
// surface.
type CharacterTrait struct {
	Name               string
	CrystallizedAtTick uint64
	SourceConceptName  string
}
