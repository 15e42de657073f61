package engine

import (
	"context"
	"errors"

	"github.com/wfunc/picklo/errs"
	"github.com/wfunc/picklo/models"
	"github.com/wfunc/picklo/scoring"
	"github.com/wfunc/picklo/services"
)

// HandImage 手牌中的一张图片
type HandImage struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Used bool   `json:"used"`
}

// SubmissionView 投票阶段匿名，回合结束后公开作者
type SubmissionView struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	PlayerID string `json:"player_id,omitempty"`
	Votes    int    `json:"votes"`
	Mine     bool   `json:"mine"`
	Winner   bool   `json:"winner"`
}

// RoundView 当前回合
type RoundView struct {
	models.Round
	Expected     int              `json:"expected"`
	Submitted    int              `json:"submitted"`
	Voted        int              `json:"voted"`
	Submissions  []SubmissionView `json:"submissions"`
	MySubmission string           `json:"my_submission,omitempty"`
	MyVote       string           `json:"my_vote,omitempty"`
	Winners      []string         `json:"winners,omitempty"`
}

// View 一个玩家看到的完整房间状态
type View struct {
	Room         models.Room         `json:"room"`
	Me           *models.Player      `json:"me,omitempty"`
	IsHost       bool                `json:"is_host"`
	Players      []models.Player     `json:"players"`
	HandSize     int                 `json:"hand_size"`
	ReadyPlayers int                 `json:"ready_players"`
	Hand         []HandImage         `json:"hand,omitempty"`
	Round        *RoundView          `json:"round,omitempty"`
	Standings    []services.Standing `json:"standings,omitempty"`
}

// View 从存储重新读取房间状态。playerID 可以为空（旁观）
func (e *Engine) View(ctx context.Context, roomID, playerID string) (*View, error) {
	rm, err := e.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	players, err := e.store.ListPlayers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	v := &View{Room: *rm, Players: players, HandSize: e.hands.HandSize()}

	if playerID != "" {
		for i := range players {
			if players[i].ID == playerID {
				v.Me = &players[i]
			}
		}
		if v.Me == nil {
			return nil, ErrNotInRoom
		}
		v.IsHost = rm.IsHost(playerID)
		imgs, err := e.hands.Hand(ctx, roomID, playerID)
		if err != nil {
			return nil, err
		}
		for _, img := range imgs {
			v.Hand = append(v.Hand, HandImage{ID: img.ID, URL: e.hands.PublicURL(img.ImagePath), Used: !img.Available()})
		}
	}

	if rm.Phase == models.PhaseLobby || rm.Phase == models.PhasePicking {
		if v.ReadyPlayers, _, err = e.hands.ReadyCount(ctx, roomID); err != nil {
			return nil, err
		}
	}

	round, err := e.store.LatestRound(ctx, roomID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		if v.Round, err = e.roundView(ctx, rm, round, playerID, len(players)); err != nil {
			return nil, err
		}
	}

	if rm.Phase == models.PhaseFinished && e.scores != nil {
		if v.Standings, err = e.scores.Standings(ctx, roomID); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (e *Engine) roundView(ctx context.Context, rm *models.Room, round *models.Round, playerID string, current int) (*RoundView, error) {
	subs, err := e.store.ListSubmissions(ctx, round.ID)
	if err != nil {
		return nil, err
	}
	votes, err := e.store.ListVotes(ctx, round.ID)
	if err != nil {
		return nil, err
	}
	snap := Snapshot{ExpectedPlayers: rm.ExpectedPlayers, CurrentPlayers: current}
	rv := &RoundView{
		Round:     *round,
		Expected:  snap.Threshold(e.policy()),
		Submitted: len(subs),
	}

	voters := make(map[string]struct{}, len(votes))
	for _, vt := range votes {
		voters[vt.VoterPlayerID] = struct{}{}
		if vt.VoterPlayerID == playerID {
			rv.MyVote = vt.SubmissionID
		}
	}
	rv.Voted = len(voters)

	winners := make(map[string]bool)
	if round.Status == models.RoundDone {
		rows, err := e.store.ListRoundWinners(ctx, round.ID)
		if err != nil {
			return nil, err
		}
		for _, w := range rows {
			winners[w.SubmissionID] = true
			rv.Winners = append(rv.Winners, w.PlayerID)
		}
	}

	counts := scoring.Counts(subs, votes)
	for _, s := range subs {
		sv := SubmissionView{
			ID:     s.ID,
			URL:    e.hands.PublicURL(s.ImagePath),
			Mine:   s.PlayerID == playerID,
			Winner: winners[s.ID],
		}
		if round.Status == models.RoundDone {
			sv.PlayerID = s.PlayerID
			sv.Votes = counts[s.ID]
		}
		if sv.Mine {
			rv.MySubmission = s.ID
		}
		rv.Submissions = append(rv.Submissions, sv)
	}
	return rv, nil
}
