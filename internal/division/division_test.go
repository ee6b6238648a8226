package division

import (
	"math"
	"math/rand"
	"testing"
)

func TestNewExperimentSetsUpNodesAndBubbles(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	exp := New(10, 3, 1.0, rng)

	if len(exp.Bubbles) != 10 {
		t.Errorf("len(Bubbles) = %d, want 10", len(exp.Bubbles))
	}
	if exp.Wave.Frequency != 3 {
		t.Errorf("Wave.Frequency = %d, want 3 (the divisor)", exp.Wave.Frequency)
	}
	if exp.Wave.QuotientCapacity != 3 {
		t.Errorf("Wave.QuotientCapacity = %d, want 3 (10/3)", exp.Wave.QuotientCapacity)
	}
	if got := exp.Remainder(); got != 1 {
		t.Errorf("Remainder() = %d, want 1", got)
	}
}

func TestDivisibleCaseHasZeroRemainder(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	exp := New(12, 4, 0.5, rng)
	if got := exp.Remainder(); got != 0 {
		t.Errorf("Remainder() = %d, want 0 for 12/4", got)
	}
}

func TestStepAdvancesTickAndSettlesBubbles(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	exp := New(6, 2, 1.0, rng)

	for i := 0; i < ExperimentTicks; i++ {
		exp.Step(1.0 / 60.0)
	}

	if exp.Tick() != ExperimentTicks {
		t.Errorf("Tick() = %d, want %d", exp.Tick(), ExperimentTicks)
	}
	if !exp.Done() {
		t.Error("expected Done() after running the full horizon")
	}

	occ := exp.occupancy()
	total := 0
	for _, n := range occ {
		total += n
	}
	if total != len(exp.Bubbles) {
		t.Errorf("occupancy total = %d, want %d (every bubble accounted for)", total, len(exp.Bubbles))
	}
}

func TestNearestAllowedNodeRespectsPauliCap(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	exp := New(4, 2, 1.0, rng) // quotient capacity 2

	occ := []int{2, 0} // node 0 is already full
	b := &Bubble{Depth: exp.Wave.NodeDepth(0), HomeNode: -1}
	node := exp.nearestAllowedNode(b, occ)
	if node != 1 {
		t.Errorf("nearestAllowedNode() = %d, want 1 (node 0 is at capacity)", node)
	}
}

func TestFinalizeReportsDivisibility(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	exp := New(9, 3, 1.0, rng) // divisible
	for !exp.Done() {
		exp.Step(1.0 / 60.0)
	}
	r := exp.Finalize()

	if !r.IsDivisible {
		t.Error("expected IsDivisible=true for 9/3")
	}
	if r.Remainder != 0 {
		t.Errorf("Remainder = %d, want 0", r.Remainder)
	}
	if r.Quotient != 3 {
		t.Errorf("Quotient = %d, want 3", r.Quotient)
	}

	rng2 := rand.New(rand.NewSource(6))
	exp2 := New(10, 3, 1.0, rng2) // indivisible, remainder 1
	for !exp2.Done() {
		exp2.Step(1.0 / 60.0)
	}
	r2 := exp2.Finalize()
	if r2.IsDivisible {
		t.Error("expected IsDivisible=false for 10/3")
	}
	if r2.Remainder != 1 {
		t.Errorf("Remainder = %d, want 1", r2.Remainder)
	}
}

// TestStepKeepsVelocityAndJitterBounded guards against the LJ force
// diverging when bubbles are injected closer together than σ: every
// velocity must stay within BubbleVelocityMax and peak jitter must stay
// a tractable, finite number rather than compounding across ticks.
func TestStepKeepsVelocityAndJitterBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	exp := New(6, 3, 1.0, rng)

	for !exp.Done() {
		exp.Step(1.0 / 60.0)
	}

	for _, b := range exp.Bubbles {
		if math.IsNaN(b.Velocity) || math.IsInf(b.Velocity, 0) {
			t.Fatalf("bubble %d velocity = %v, want finite", b.ID, b.Velocity)
		}
		if math.Abs(b.Velocity) > BubbleVelocityMax {
			t.Errorf("bubble %d velocity = %v, want within +/- %v", b.ID, b.Velocity, BubbleVelocityMax)
		}
	}

	r := exp.Finalize()
	if math.IsNaN(r.PeakJitter) || math.IsInf(r.PeakJitter, 0) {
		t.Fatalf("PeakJitter = %v, want finite", r.PeakJitter)
	}
	if r.PeakJitter > 1000 {
		t.Errorf("PeakJitter = %v, want a bounded value for a 6/3 division", r.PeakJitter)
	}

	occTotal := 0
	for _, n := range r.NodeOccupancy {
		occTotal += n
	}
	if occTotal != 6 {
		t.Errorf("node occupancy total = %d, want 6 (every bubble settled)", occTotal)
	}
}

func TestVelocitySigmaOfEmptyExperimentIsZero(t *testing.T) {
	exp := &Experiment{}
	if got := exp.VelocitySigma(); got != 0 {
		t.Errorf("VelocitySigma() = %v, want 0 for no bubbles", got)
	}
}
