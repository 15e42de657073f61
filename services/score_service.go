// services/score_service.go
package services

import (
	"context"
	"sort"

	"github.com/wfunc/picklo/models"
	"github.com/wfunc/picklo/persistence"
)

// Standing 一个玩家的累计得分
type Standing struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Points   int    `json:"points"`
	Rank     int    `json:"rank"`
}

type ScoreService struct {
	store persistence.Store
}

func NewScoreService(store persistence.Store) *ScoreService {
	return &ScoreService{store: store}
}

// Standings 房间所有玩家的得分，按分数降序，同分按加入顺序。
// 同分的玩家名次相同。
func (s *ScoreService) Standings(ctx context.Context, roomID string) ([]Standing, error) {
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	players, err := s.store.ListPlayers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	scores, err := s.store.RoomScores(ctx, roomID)
	if err != nil {
		return nil, err
	}

	points := make(map[string]int, len(scores))
	for _, sc := range scores {
		points[sc.PlayerID] = sc.Points
	}

	out := make([]Standing, 0, len(players))
	for _, p := range players {
		out = append(out, Standing{PlayerID: p.ID, Name: p.Name, Points: points[p.ID]})
	}
	// players 已按加入时间排序，稳定排序保留这个顺序
	sort.SliceStable(out, func(i, j int) bool { return out[i].Points > out[j].Points })
	for i := range out {
		if i > 0 && out[i].Points == out[i-1].Points {
			out[i].Rank = out[i-1].Rank
		} else {
			out[i].Rank = i + 1
		}
	}
	return out, nil
}

// RoundWinners 某个回合的胜者
func (s *ScoreService) RoundWinners(ctx context.Context, roundID string) ([]models.RoundWinner, error) {
	return s.store.ListRoundWinners(ctx, roundID)
}
