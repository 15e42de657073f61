package state

import (
	"errors"
	"testing"

	"github.com/wfunc/picklo/errs"
	"github.com/wfunc/picklo/models"
)

func TestMachine_AddAndUseTransition(t *testing.T) {
	sm := NewMachine[string]("test")

	// Add a valid transition from A to B
	sm.AddTransition("A", "B", func() bool { return true })
	// Add a blocked transition from B to C
	sm.AddTransition("B", "C", func() bool { return false })

	if err := sm.Validate("A", "B"); err != nil {
		t.Errorf("Expected transition from A to B to be allowed, but got error: %v", err)
	}

	err := sm.Validate("B", "C")
	if !errors.Is(err, ErrTransitionNotAllowed) {
		t.Errorf("Expected ErrTransitionNotAllowed, but got: %v", err)
	}

	if sm.CanTransition("A", "C") {
		t.Error("Unregistered transition A -> C should not be allowed")
	}
}

func TestRoomPhases_ForwardOnly(t *testing.T) {
	allowed := [][2]models.Phase{
		{models.PhaseLobby, models.PhasePicking},
		{models.PhasePicking, models.PhasePlaying},
		{models.PhasePlaying, models.PhaseFinished},
	}
	for _, tr := range allowed {
		if err := RoomPhases.Validate(tr[0], tr[1]); err != nil {
			t.Errorf("Expected %s -> %s to be allowed, got %v", tr[0], tr[1], err)
		}
	}

	blocked := [][2]models.Phase{
		{models.PhasePicking, models.PhaseLobby},
		{models.PhaseLobby, models.PhasePlaying},
		{models.PhaseFinished, models.PhasePlaying},
		{models.PhasePlaying, models.PhasePlaying},
	}
	for _, tr := range blocked {
		err := RoomPhases.Validate(tr[0], tr[1])
		if err == nil {
			t.Errorf("Expected %s -> %s to be rejected", tr[0], tr[1])
			continue
		}
		if errs.KindOf(err) != errs.KindValidation {
			t.Errorf("Expected validation kind for %s -> %s, got %s", tr[0], tr[1], errs.KindOf(err))
		}
	}

	if !RoomPhases.Terminal(models.PhaseFinished) {
		t.Error("finished should be terminal")
	}
}

func TestRoundStatuses_Next(t *testing.T) {
	next, ok := RoundStatuses.Next(models.RoundCollecting)
	if !ok || next != models.RoundVoting {
		t.Errorf("Expected collecting -> voting, got %s (%v)", next, ok)
	}
	next, ok = RoundStatuses.Next(models.RoundVoting)
	if !ok || next != models.RoundDone {
		t.Errorf("Expected voting -> done, got %s (%v)", next, ok)
	}
	if _, ok := RoundStatuses.Next(models.RoundDone); ok {
		t.Error("done should have no successor")
	}
}
