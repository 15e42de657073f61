package room

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/wfunc/picklo/errs"
	"github.com/wfunc/picklo/models"
	"github.com/wfunc/picklo/persistence"
	"github.com/wfunc/picklo/state"
)

func newTestRegistry() (*Registry, *persistence.MemoryStore) {
	ms := persistence.NewMemoryStore(nil)
	return NewRegistry(ms, nil), ms
}

func TestNewCode(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := NewCode()
		if err != nil {
			t.Fatal(err)
		}
		if len(code) != CodeLength {
			t.Fatalf("code %q has wrong length", code)
		}
		for _, c := range code {
			if !strings.ContainsRune(CodeAlphabet, c) {
				t.Fatalf("code %q contains %q outside the alphabet", code, c)
			}
		}
	}
}

func TestRegistry_CreateRoomRetriesOnCollision(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()

	codes := []string{"AAAA", "AAAA", "AAAA", "BBBB"}
	i := 0
	reg.newCode = func() (string, error) {
		c := codes[i]
		i++
		return c, nil
	}

	first, err := reg.CreateRoom(ctx)
	if err != nil {
		t.Fatal(err)
	}
	second, err := reg.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("CreateRoom should retry past a taken code: %v", err)
	}
	if first.Code != "AAAA" || second.Code != "BBBB" {
		t.Errorf("got codes %s and %s", first.Code, second.Code)
	}
	if second.Phase != models.PhaseLobby {
		t.Errorf("new room phase = %s, want lobby", second.Phase)
	}
}

func TestRegistry_CreateRoomGivesUp(t *testing.T) {
	reg, _ := newTestRegistry()
	reg.newCode = func() (string, error) { return "SAME", nil }
	ctx := context.Background()

	if _, err := reg.CreateRoom(ctx); err != nil {
		t.Fatal(err)
	}
	_, err := reg.CreateRoom(ctx)
	if errs.KindOf(err) != errs.KindConflict {
		t.Fatalf("expected conflict after exhausting attempts, got %v", err)
	}
}

func TestRegistry_JoinAndHost(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()

	room, host, err := reg.Host(ctx, "Alice")
	if err != nil {
		t.Fatal(err)
	}
	if !room.IsHost(host.ID) {
		t.Fatal("hosting player should be the host")
	}

	bob, err := reg.Join(ctx, " "+strings.ToLower(room.Code)+" ", "Bob")
	if err != nil {
		t.Fatalf("Join should accept a lower-case padded code: %v", err)
	}
	if _, err := reg.Join(ctx, room.Code, "Bob"); err != nil {
		t.Fatalf("duplicate names are allowed: %v", err)
	}

	if err := reg.RegisterHost(ctx, room.ID, bob.ID); !errors.Is(err, ErrHostTaken) {
		t.Errorf("second host registration should fail with ErrHostTaken, got %v", err)
	}

	players, err := reg.Players(ctx, room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(players) != 3 || players[0].Name != "Alice" {
		t.Errorf("unexpected players %+v", players)
	}

	if _, err := reg.Join(ctx, "ZZZZ", "Carol"); errs.KindOf(err) != errs.KindNotFound {
		t.Errorf("unknown code should be NotFound, got %v", err)
	}
	if _, err := reg.Join(ctx, room.Code, "  "); errs.KindOf(err) != errs.KindValidation {
		t.Errorf("empty name should be a validation error, got %v", err)
	}
}

func TestRegistry_SetPhaseForwardOnly(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()
	room, err := reg.CreateRoomWithCode(ctx, "AB12")
	if err != nil {
		t.Fatal(err)
	}

	if err := reg.SetPhase(ctx, room.ID, models.PhasePlaying); !errors.Is(err, state.ErrTransitionNotAllowed) {
		t.Errorf("skipping picking should be rejected, got %v", err)
	}
	if err := reg.SetPhase(ctx, room.ID, models.PhasePicking); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetPhase(ctx, room.ID, models.PhasePicking); !errors.Is(err, ErrPhaseRaceLost) {
		t.Errorf("repeating a reached phase should be a lost race, got %v", err)
	}
	if err := reg.SetPhase(ctx, room.ID, models.PhaseLobby); !errors.Is(err, state.ErrTransitionNotAllowed) {
		t.Errorf("going back should be rejected, got %v", err)
	}
}

func TestRegistry_SetPhaseConcurrent(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()
	room, err := reg.CreateRoom(ctx)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reg.SetPhase(ctx, room.ID, models.PhasePicking); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("exactly one session should move the room, got %d", wins)
	}
}

func TestRegistry_JoinFinishedRoom(t *testing.T) {
	reg, ms := newTestRegistry()
	ctx := context.Background()
	room, err := reg.CreateRoom(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ms.CompareAndSetPhase(ctx, room.ID, models.PhaseLobby, models.PhaseFinished); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Join(ctx, room.Code, "Late"); errs.KindOf(err) != errs.KindValidation {
		t.Errorf("joining a finished room should fail validation, got %v", err)
	}
}
