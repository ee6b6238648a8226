// Package state owns the Fluid aggregate: every live entity plus the global
// scalars (salinity, turbulence, frozen flag, tick counter) and the optional
// division experiment. The Fluid is the single shared-resource unit a
// reader/writer lock protects — the simulation loop is its only writer. The
// primitives defined here (insert_concept, apply_ballast, ...) cover the
// per-concept operations; the kernel and the command dispatcher also write
// the exported fields (ores, continents, pressure, frozen flag) directly.
package state

import (
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/san-kum/fluidsim/internal/division"
	"github.com/san-kum/fluidsim/internal/entities"
	"github.com/san-kum/fluidsim/internal/events"
)

// Fluid is the aggregate container. Ownership is exclusive: no entity is
// referenced from more than one of these collections at a time, and external
// handles are ids only.
type Fluid struct {
	mu sync.RWMutex

	Concepts   map[uuid.UUID]*entities.Concept
	conceptSeq []uuid.UUID // insertion order, for deterministic iteration and /state round-trips

	Vents      []*entities.CoreTruth
	Ores       []*entities.PreciousOre
	Continents []*entities.Continent
	Traits     []*entities.CharacterTrait

	Salinity   float64
	Turbulence float64
	Frozen     bool
	FreezerID  uuid.UUID
	Tick       uint64

	OrePressure       float64
	PressureThreshold float64
	Division          *division.Experiment
	DivisionResults   []division.Result

	rng *rand.Rand

	Events *events.Ring
}

const defaultPressureThreshold = 10.0

// New creates a Fluid with the default "primal axiom" vent.
func New(seed int64) *Fluid {
	f := &Fluid{
		Concepts:          make(map[uuid.UUID]*entities.Concept),
		Vents:             []*entities.CoreTruth{entities.NewPrimalAxiom()},
		PressureThreshold: defaultPressureThreshold,
		rng:               rand.New(rand.NewSource(seed)),
		Events:            events.NewRing(0),
	}
	return f
}

// Lock/Unlock/RLock/RUnlock expose the reader/writer lock directly: the loop
// holds the write lock across an entire tick (stages A-H), and query
// endpoints take the read lock for the duration of building their response.
func (f *Fluid) Lock()    { f.mu.Lock() }
func (f *Fluid) Unlock()  { f.mu.Unlock() }
func (f *Fluid) RLock()   { f.mu.RLock() }
func (f *Fluid) RUnlock() { f.mu.RUnlock() }

// InsertConcept inserts a new concept into the live set. Caller must hold
// the write lock.
func (f *Fluid) InsertConcept(name string, density, volume float64) *entities.Concept {
	c := entities.NewConcept(name, density, volume)
	f.Concepts[c.ID] = c
	f.conceptSeq = append(f.conceptSeq, c.ID)
	return c
}

// ConceptsInOrder returns live concepts in insertion order.
func (f *Fluid) ConceptsInOrder() []*entities.Concept {
	out := make([]*entities.Concept, 0, len(f.conceptSeq))
	for _, id := range f.conceptSeq {
		if c, ok := f.Concepts[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// catalysisWindow is the number of ticks apply_ballast watches a concept for
// reaching layer >= 0.95 before emitting catalysis (spec.md §4.2).
const catalysisWindow = 60

// ApplyBallast adjusts a concept's density by delta, clamped to [0,1], and
// arms a 60-tick watch for the catalysis event (emitted by the kernel if the
// concept reaches layer >= 0.95 within the window).
func (f *Fluid) ApplyBallast(id uuid.UUID, delta float64) (*entities.Concept, bool) {
	c, ok := f.Concepts[id]
	if !ok {
		return nil, false
	}
	c.Density = clamp01(c.Density + delta)
	c.BallastWatchUntil = int64(f.Tick) + catalysisWindow
	return c, true
}

// ModulateBuoyancy adjusts a concept's buoyancy by delta, clamped to [0,1].
func (f *Fluid) ModulateBuoyancy(id uuid.UUID, delta float64) (*entities.Concept, bool) {
	c, ok := f.Concepts[id]
	if !ok {
		return nil, false
	}
	c.Buoyancy = clamp01(c.Buoyancy + delta)
	return c, true
}

// AddVent registers a new heat source.
func (f *Fluid) AddVent(name string, heatOutput, depth, radius float64) *entities.CoreTruth {
	v := &entities.CoreTruth{Name: name, HeatOutput: heatOutput, Depth: depth, Radius: radius}
	f.Vents = append(f.Vents, v)
	return v
}

// Vent returns the vent at index i, or nil if out of range.
func (f *Fluid) Vent(i int) (*entities.CoreTruth, bool) {
	if i < 0 || i >= len(f.Vents) {
		return nil, false
	}
	return f.Vents[i], true
}

// StrataSnapshot is the read-only view a depth-band query returns.
type StrataSnapshot struct {
	DepthMin float64
	DepthMax float64
	Concepts []*entities.Concept
	Ores     []*entities.PreciousOre
}

// Strata returns the concepts and ores whose layer falls within
// [depthMin, depthMax].
func (f *Fluid) Strata(depthMin, depthMax float64) StrataSnapshot {
	snap := StrataSnapshot{DepthMin: depthMin, DepthMax: depthMax}
	for _, c := range f.ConceptsInOrder() {
		if c.Layer >= depthMin && c.Layer <= depthMax {
			snap.Concepts = append(snap.Concepts, c)
		}
	}
	for _, o := range f.Ores {
		if o.Depth >= depthMin && o.Depth <= depthMax {
			snap.Ores = append(snap.Ores, o)
		}
	}
	return snap
}

// Thaw clears the freeze flag.
func (f *Fluid) Thaw() {
	f.Frozen = false
	f.FreezerID = uuid.Nil
}

// DeepBreath scales every concept's velocity toward zero by strength.
func (f *Fluid) DeepBreath(strength float64) {
	for _, c := range f.Concepts {
		c.Velocity *= 1 - strength
	}
}

// FlashHealConcept is one entry of a flash_heal batch.
type FlashHealConcept struct {
	Name    string
	Density float64
	Area    float64
}

// FlashHeal inserts a batch of concepts directly and dilutes salinity.
func (f *Fluid) FlashHeal(concepts []FlashHealConcept, dilution float64) []*entities.Concept {
	inserted := make([]*entities.Concept, 0, len(concepts))
	for _, fc := range concepts {
		volume := fc.Area / 0.6
		c := f.InsertConcept(fc.Name, fc.Density, volume)
		c.Area = fc.Area // flash_heal supplies area directly, bypassing the volume derivation
		inserted = append(inserted, c)
	}
	f.Salinity *= 1 - dilution
	return inserted
}

// FullStateSnapshot is the full read-only view of the fluid.
type FullStateSnapshot struct {
	Concepts   []*entities.Concept
	Vents      []*entities.CoreTruth
	Ores       []*entities.PreciousOre
	Continents []*entities.Continent
	Traits     []*entities.CharacterTrait
	Salinity   float64
	Turbulence float64
	Frozen     bool
	Tick       uint64
}

// FullState returns a full snapshot of the fluid.
func (f *Fluid) FullState() FullStateSnapshot {
	return FullStateSnapshot{
		Concepts:   f.ConceptsInOrder(),
		Vents:      f.Vents,
		Ores:       f.Ores,
		Continents: f.Continents,
		Traits:     f.Traits,
		Salinity:   f.Salinity,
		Turbulence: f.Turbulence,
		Frozen:     f.Frozen,
		Tick:       f.Tick,
	}
}

// RemoveConcept deletes a concept from the live set. Callers use this when a
// concept transitions to ore, trait, or evaporates — it is removed from the
// live set in the same tick it transitions.
func (f *Fluid) RemoveConcept(id uuid.UUID) {
	delete(f.Concepts, id)
}

// StartDivision starts a new division experiment and returns it. It does not
// check for a running experiment and replaces any that is active; the caller
// rejects a second experiment by checking f.Division != nil first.
func (f *Fluid) StartDivision(dividend, divisor int, salinityBoost float64) *division.Experiment {
	exp := division.New(dividend, divisor, salinityBoost, f.rng)
	f.Division = exp
	f.Salinity += salinityBoost
	return exp
}

// FinishDivision finalizes the active experiment, appends it to the results
// history, decays the salinity boost, and clears the slot.
func (f *Fluid) FinishDivision() division.Result {
	result := f.Division.Finalize()
	f.Salinity -= f.Division.SalinityBoost
	if f.Salinity < 0 {
		f.Salinity = 0
	}
	f.DivisionResults = append(f.DivisionResults, result)
	f.Division = nil
	return result
}
