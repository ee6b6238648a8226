package command

import (
	"testing"

	"github.com/san-kum/fluidsim/internal/entities"
	"github.com/san-kum/fluidsim/internal/state"
)

func newTestFluid() *state.Fluid {
	return state.New(1)
}

func TestDispatchInject(t *testing.T) {
	f := newTestFluid()
	res, err := Dispatch(f, Command{Kind: KindInject, Name: "idea", Density: 0.4, Volume: 1.0})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Name != "idea" || res.Density != 0.4 {
		t.Errorf("res = %+v, want name=idea density=0.4", res)
	}
	if _, ok := f.Concepts[res.ConceptID]; !ok {
		t.Error("expected the injected concept to be present in the fluid")
	}
}

func TestDispatchInjectRejectsOutOfRangeDensity(t *testing.T) {
	f := newTestFluid()
	_, err := Dispatch(f, Command{Kind: KindInject, Name: "bad", Density: 1.5, Volume: 1.0})
	if _, ok := err.(*OutOfRangeError); !ok {
		t.Errorf("err = %v (%T), want *OutOfRangeError", err, err)
	}
}

func TestDispatchBallastUnknownConcept(t *testing.T) {
	f := newTestFluid()
	_, err := Dispatch(f, Command{Kind: KindBallast, ConceptID: entities.NewConcept("ghost", 0.1, 1).ID, Delta: 0.1})
	if err != ErrNoSuchConcept {
		t.Errorf("err = %v, want ErrNoSuchConcept", err)
	}
}

func TestDispatchThaw(t *testing.T) {
	f := newTestFluid()
	f.Frozen = true
	if _, err := Dispatch(f, Command{Kind: KindThaw}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if f.Frozen {
		t.Error("expected Thaw to clear the frozen flag")
	}
}

func TestDispatchTriggerContinentPendingBelowThreshold(t *testing.T) {
	f := newTestFluid()
	f.Ores = append(f.Ores, &entities.PreciousOre{Name: "tiny-ore", Pressure: 1})
	f.OrePressure = 1
	f.PressureThreshold = 10

	res, err := Dispatch(f, Command{Kind: KindTriggerContinent})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.Pending {
		t.Error("expected Pending=true when pressure is below threshold")
	}
}

func TestDispatchTriggerContinentForms(t *testing.T) {
	f := newTestFluid()
	f.Ores = append(f.Ores, &entities.PreciousOre{Name: "big-ore", Kind: entities.OreInsight, Pressure: 20})
	f.OrePressure = 20
	f.PressureThreshold = 10

	res, err := Dispatch(f, Command{Kind: KindTriggerContinent})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Pending {
		t.Error("expected a continent to form when pressure crosses threshold")
	}
	if len(f.Continents) != 1 {
		t.Errorf("len(Continents) = %d, want 1", len(f.Continents))
	}
	if f.OrePressure != 0 || len(f.Ores) != 0 {
		t.Error("expected ore state to reset after forming a continent")
	}
}

func TestDispatchStartDivisionRejectsWhenBusy(t *testing.T) {
	f := newTestFluid()
	f.StartDivision(4, 2, 1.0)

	_, err := Dispatch(f, Command{Kind: KindStartDivision, Dividend: 6, Divisor: 2})
	if err != ErrExperimentBusy {
		t.Errorf("err = %v, want ErrExperimentBusy", err)
	}
}

func TestDispatchStartDivisionValidatesRange(t *testing.T) {
	f := newTestFluid()
	_, err := Dispatch(f, Command{Kind: KindStartDivision, Dividend: 0, Divisor: 2})
	if _, ok := err.(*OutOfRangeError); !ok {
		t.Errorf("err = %v (%T), want *OutOfRangeError", err, err)
	}
}

func TestDispatchUnknownKind(t *testing.T) {
	f := newTestFluid()
	_, err := Dispatch(f, Command{Kind: "Bogus"})
	if err == nil {
		t.Error("expected an error for an unknown command kind")
	}
}
