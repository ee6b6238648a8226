// Package division implements the standing-wave divider: a self-contained
// physics mode layered on the fluid that encodes dividend/divisor as node
// occupancy and discriminates zero vs nonzero remainder via peak jitter.
package division

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"
)

// Physics constants for the bubble/node subsystem.
const (
	KNodeAttraction = 8.0    // K_a
	LJSigma         = 0.02   // σ
	LJEpsilon       = 0.001  // ε
	LJCutoff        = 0.1    // r_c
	BreathAmplitude = 0.005  // A
	BreathPeriod    = 120.0  // T, ticks
	SettleSpeed     = 0.001  // speed below which a bubble is "settling"
	SettleTicks     = 10     // consecutive settling ticks required
	ExperimentTicks = 300    // experiment horizon
	jitterWindow    = 60     // sliding window for peak_jitter, ticks

	// LJMinSeparation softens the LJ repulsion's r term the same way
	// entities.Concept.Mass adds epsilon to its denominator: bubbles are
	// injected into a band narrower than σ, so raw pairwise separations can
	// sit arbitrarily close to zero on tick 0. Without a floor, (σ/r)^12
	// diverges; this caps the closest-approach force at a finite value.
	LJMinSeparation = LJSigma / 2

	// BubbleVelocityMax mirrors kernel.VelocityMax: spec.md §7's clamp
	// policy for physics-stage anomalies applies to bubbles exactly as it
	// does to concepts.
	BubbleVelocityMax = 10.0
)

// Bubble is a transient division particle.
type Bubble struct {
	ID           int
	Depth        float64
	Velocity     float64
	HomeNode     int // -1 == unclaimed
	settleStreak int
}

// StandingWave is the node lattice a division experiment breathes against.
type StandingWave struct {
	Frequency        int
	QuotientCapacity int
}

// NodeDepth returns the rest depth of node i: (i+0.5)/n.
func (w *StandingWave) NodeDepth(i int) float64 {
	return (float64(i) + 0.5) / float64(w.Frequency)
}

// BreathingOffset returns the node's oscillation offset at tick t.
func (w *StandingWave) BreathingOffset(tick int) float64 {
	return BreathAmplitude * math.Sin(2*math.Pi*float64(tick)/BreathPeriod)
}

// Result is the terminal record of a completed experiment.
type Result struct {
	Dividend         int
	Divisor          int
	Quotient         int
	Remainder        int
	IsDivisible      bool
	PeakJitter       float64
	VelocitySigma    float64
	TurbulenceEnergy float64
	TicksToSettle    int
	NodeOccupancy    []int
	SalinityBoost    float64
	Interpretation   string
}

// Experiment is the live state of a running division: bubbles, the standing
// wave they're settling against, and the continuously tracked settling
// metrics.
type Experiment struct {
	Dividend      int
	Divisor       int
	SalinityBoost float64
	Wave          StandingWave
	Bubbles       []*Bubble

	tick             int
	peakJitter       float64
	jitterHistory    []float64
	turbulenceEnergy float64
	settledAt        int
	rng              *rand.Rand
}

// New starts a division experiment: set the standing wave frequency,
// compute quotient capacity and expected remainder, and inject V bubbles
// near the surface.
func New(dividend, divisor int, salinityBoost float64, rng *rand.Rand) *Experiment {
	q := dividend / divisor
	e := &Experiment{
		Dividend:      dividend,
		Divisor:       divisor,
		SalinityBoost: salinityBoost,
		Wave:          StandingWave{Frequency: divisor, QuotientCapacity: q},
		Bubbles:       make([]*Bubble, dividend),
		rng:           rng,
		settledAt:     -1,
	}
	for i := 0; i < dividend; i++ {
		e.Bubbles[i] = &Bubble{
			ID:       i,
			Depth:    0.05 + rng.Float64()*0.02,
			Velocity: 0,
			HomeNode: -1,
		}
	}
	return e
}

// Remainder is V - q*n, the expected remainder.
func (e *Experiment) Remainder() int {
	return e.Dividend - e.Wave.QuotientCapacity*e.Wave.Divisor()
}

// Divisor returns n, exposed for symmetry with Experiment.Divisor.
func (w *StandingWave) Divisor() int { return w.Frequency }

// occupancy counts, per node, how many bubbles currently call it home.
func (e *Experiment) occupancy() []int {
	occ := make([]int, e.Wave.Frequency)
	for _, b := range e.Bubbles {
		if b.HomeNode >= 0 {
			occ[b.HomeNode]++
		}
	}
	return occ
}

// nearestAllowedNode finds the closest node a bubble may attract toward,
// honoring the Pauli cap: a node already claimed by this bubble accepts it
// up to q+1 occupants; an unclaimed node accepts new claims only while its
// occupancy is below q.
func (e *Experiment) nearestAllowedNode(b *Bubble, occ []int) int {
	best, bestDist := -1, math.MaxFloat64
	for i := 0; i < e.Wave.Frequency; i++ {
		target := e.Wave.NodeDepth(i) + e.Wave.BreathingOffset(e.tick)
		capacity := e.Wave.QuotientCapacity
		allowed := false
		if b.HomeNode == i {
			allowed = occ[i] <= capacity+1
		} else {
			allowed = occ[i] < capacity
		}
		if !allowed {
			continue
		}
		d := math.Abs(b.Depth - target)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// Step advances the bubble physics and continuously-tracked metrics by one
// tick. The aggregate F_wave contribution isn't returned here; instead each
// bubble's node/LJ force is applied directly to its own velocity, since
// bubbles are not Concepts.
func (e *Experiment) Step(dt float64) {
	occ := e.occupancy()
	n := len(e.Bubbles)
	forces := make([]float64, n)

	for i, b := range e.Bubbles {
		node := e.nearestAllowedNode(b, occ)
		if node >= 0 {
			target := e.Wave.NodeDepth(node) + e.Wave.BreathingOffset(e.tick)
			forces[i] += -KNodeAttraction * (b.Depth - target)
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			r := math.Abs(e.Bubbles[i].Depth - e.Bubbles[j].Depth)
			if r >= LJCutoff {
				continue
			}
			if r < LJMinSeparation {
				r = LJMinSeparation
			}
			sr6 := math.Pow(LJSigma/r, 6)
			sr12 := sr6 * sr6
			f := 4 * LJEpsilon * (sr12 - sr6)
			sign := 1.0
			if e.Bubbles[i].Depth < e.Bubbles[j].Depth {
				sign = -1.0
			}
			forces[i] += sign * f
			forces[j] -= sign * f
		}
	}

	sumSqDeltaV := 0.0
	for i, b := range e.Bubbles {
		prevV := b.Velocity
		b.Velocity += forces[i] * dt
		if math.IsNaN(b.Velocity) || math.IsInf(b.Velocity, 0) {
			b.Velocity = math.Copysign(BubbleVelocityMax, forces[i])
		}
		if b.Velocity > BubbleVelocityMax {
			b.Velocity = BubbleVelocityMax
		} else if b.Velocity < -BubbleVelocityMax {
			b.Velocity = -BubbleVelocityMax
		}
		b.Depth += b.Velocity * dt
		if b.Depth < 0 {
			b.Depth, b.Velocity = 0, 0
		}
		sumSqDeltaV += math.Abs(b.Velocity - prevV)
		e.turbulenceEnergy += b.Velocity * b.Velocity * dt

		if math.Abs(b.Velocity) < SettleSpeed {
			b.settleStreak++
		} else {
			b.settleStreak = 0
		}
		if b.settleStreak >= SettleTicks && b.HomeNode < 0 {
			b.HomeNode = e.nearestAllowedNode(b, occ)
		}
	}

	e.jitterHistory = append(e.jitterHistory, sumSqDeltaV)
	if len(e.jitterHistory) > jitterWindow {
		e.jitterHistory = e.jitterHistory[len(e.jitterHistory)-jitterWindow:]
	}
	windowSum := 0.0
	for _, v := range e.jitterHistory {
		windowSum += v
	}
	if windowSum > e.peakJitter {
		e.peakJitter = windowSum
	}

	if e.settledAt < 0 && allSettled(e.Bubbles) {
		e.settledAt = e.tick
	}

	e.tick++
}

func allSettled(bubbles []*Bubble) bool {
	for _, b := range bubbles {
		if b.HomeNode < 0 {
			return false
		}
	}
	return true
}

// Done reports whether the experiment has run its 300-tick horizon.
func (e *Experiment) Done() bool {
	return e.tick >= ExperimentTicks
}

// Tick returns the number of ticks elapsed so far.
func (e *Experiment) Tick() int { return e.tick }

// VelocitySigma computes the population standard deviation of the current
// bubble velocities, via gonum/stat rather than a hand-rolled
// accumulator.
func (e *Experiment) VelocitySigma() float64 {
	velocities := make([]float64, len(e.Bubbles))
	for i, b := range e.Bubbles {
		velocities[i] = b.Velocity
	}
	if len(velocities) == 0 {
		return 0
	}
	_, sigma := stat.PopMeanStdDev(velocities, nil)
	return sigma
}

// Finalize produces the terminal DivisionResult once the experiment ends.
func (e *Experiment) Finalize() Result {
	remainder := e.Remainder()
	settleTicks := e.settledAt
	if settleTicks < 0 {
		settleTicks = e.tick
	}
	interpretation := "divisible"
	if remainder != 0 {
		interpretation = "indivisible: remainder bubbles never settle"
	}
	return Result{
		Dividend:         e.Dividend,
		Divisor:          e.Divisor,
		Quotient:         e.Wave.QuotientCapacity,
		Remainder:        remainder,
		IsDivisible:      remainder == 0,
		PeakJitter:       e.peakJitter,
		VelocitySigma:    e.VelocitySigma(),
		TurbulenceEnergy: e.turbulenceEnergy,
		TicksToSettle:    settleTicks,
		NodeOccupancy:    e.occupancy(),
		SalinityBoost:    e.SalinityBoost,
		Interpretation:   interpretation,
	}
}
