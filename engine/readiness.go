package engine

import (
	"github.com/wfunc/picklo/models"
	"github.com/wfunc/picklo/state"
)

// Readiness selects the headcount a round waits for.
type Readiness string

const (
	// ReadinessFrozen waits for the player count frozen at game start.
	ReadinessFrozen Readiness = "frozen"
	// ReadinessLive waits for the current player count.
	ReadinessLive Readiness = "live"
)

// Policy 就绪判断策略
type Policy struct {
	Readiness Readiness
}

// Snapshot 是从存储中重新读取的回合状态，不来自通知内容
type Snapshot struct {
	Phase           models.Phase
	Status          models.RoundStatus
	ExpectedPlayers int
	CurrentPlayers  int
	Submissions     int
	Voters          int
}

// Threshold 需要多少人行动后回合才能推进
func (s Snapshot) Threshold(p Policy) int {
	if p.Readiness == ReadinessLive || s.ExpectedPlayers <= 0 {
		return s.CurrentPlayers
	}
	return s.ExpectedPlayers
}

// Evaluate returns the status the round should move to, if any. It is a pure
// function of the snapshot so it can be called redundantly from any session.
func Evaluate(s Snapshot, p Policy) (models.RoundStatus, bool) {
	if s.Phase != models.PhasePlaying {
		return "", false
	}
	threshold := s.Threshold(p)
	if threshold <= 0 {
		return "", false
	}
	next, ok := state.RoundStatuses.Next(s.Status)
	if !ok {
		return "", false
	}
	acted := s.Submissions
	if s.Status == models.RoundVoting {
		acted = s.Voters
	}
	if acted < threshold {
		return "", false
	}
	return next, true
}
