package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wfunc/picklo/models"
	"github.com/wfunc/picklo/state"
)

func TestEvaluate(t *testing.T) {
	frozen := Policy{Readiness: ReadinessFrozen}
	live := Policy{Readiness: ReadinessLive}

	tests := []struct {
		name   string
		snap   Snapshot
		policy Policy
		want   models.RoundStatus
		ok     bool
	}{
		{
			name:   "collecting waits for everyone",
			snap:   Snapshot{Phase: models.PhasePlaying, Status: models.RoundCollecting, ExpectedPlayers: 3, CurrentPlayers: 3, Submissions: 2},
			policy: frozen,
		},
		{
			name:   "collecting moves to voting",
			snap:   Snapshot{Phase: models.PhasePlaying, Status: models.RoundCollecting, ExpectedPlayers: 2, CurrentPlayers: 2, Submissions: 2},
			policy: frozen,
			want:   models.RoundVoting,
			ok:     true,
		},
		{
			name:   "frozen threshold ignores late joiners",
			snap:   Snapshot{Phase: models.PhasePlaying, Status: models.RoundCollecting, ExpectedPlayers: 2, CurrentPlayers: 3, Submissions: 2},
			policy: frozen,
			want:   models.RoundVoting,
			ok:     true,
		},
		{
			name:   "live threshold counts late joiners",
			snap:   Snapshot{Phase: models.PhasePlaying, Status: models.RoundCollecting, ExpectedPlayers: 2, CurrentPlayers: 3, Submissions: 2},
			policy: live,
		},
		{
			name:   "unfrozen room falls back to live count",
			snap:   Snapshot{Phase: models.PhasePlaying, Status: models.RoundCollecting, CurrentPlayers: 2, Submissions: 2},
			policy: frozen,
			want:   models.RoundVoting,
			ok:     true,
		},
		{
			name:   "voting moves to done",
			snap:   Snapshot{Phase: models.PhasePlaying, Status: models.RoundVoting, ExpectedPlayers: 2, CurrentPlayers: 2, Submissions: 2, Voters: 2},
			policy: frozen,
			want:   models.RoundDone,
			ok:     true,
		},
		{
			name:   "voting waits for voters not submissions",
			snap:   Snapshot{Phase: models.PhasePlaying, Status: models.RoundVoting, ExpectedPlayers: 2, CurrentPlayers: 2, Submissions: 2, Voters: 1},
			policy: frozen,
		},
		{
			name:   "done is terminal",
			snap:   Snapshot{Phase: models.PhasePlaying, Status: models.RoundDone, ExpectedPlayers: 2, CurrentPlayers: 2, Submissions: 2, Voters: 2},
			policy: frozen,
		},
		{
			name:   "finished room never advances",
			snap:   Snapshot{Phase: models.PhaseFinished, Status: models.RoundCollecting, ExpectedPlayers: 1, CurrentPlayers: 1, Submissions: 1},
			policy: frozen,
		},
		{
			name:   "unknown status never advances",
			snap:   Snapshot{Phase: models.PhasePlaying, Status: "paused", ExpectedPlayers: 1, CurrentPlayers: 1, Submissions: 1, Voters: 1},
			policy: frozen,
		},
		{
			name:   "empty room never advances",
			snap:   Snapshot{Phase: models.PhasePlaying, Status: models.RoundCollecting},
			policy: live,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Evaluate(tt.snap, tt.policy)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_OnlyAllowedTransitions(t *testing.T) {
	for _, status := range []models.RoundStatus{models.RoundCollecting, models.RoundVoting, models.RoundDone} {
		snap := Snapshot{Phase: models.PhasePlaying, Status: status, ExpectedPlayers: 1, CurrentPlayers: 1, Submissions: 1, Voters: 1}
		next, ok := Evaluate(snap, Policy{Readiness: ReadinessFrozen})
		if !ok {
			assert.True(t, state.RoundStatuses.Terminal(status), "%s stalled", status)
			continue
		}
		assert.NoError(t, state.RoundStatuses.Validate(status, next))
	}
}
