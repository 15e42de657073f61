// persistence/interface.go
package persistence

import (
	"context"
	"fmt"

	"github.com/wfunc/picklo/errs"
	"github.com/wfunc/picklo/models"
)

// ErrLimitReached 玩家的手牌数已达上限
var ErrLimitReached = fmt.Errorf("%w: limit reached", errs.ErrConflict)

// Store 是游戏的共享数据存储。所有"只能发生一次"的转换都依赖这里的
// 唯一约束、条件更新或原子过程；调用方之间不做任何内存协调。
//
// Conditional methods return false (and no error) when the condition did
// not hold. Uniqueness violations are reported as errs.ErrConflict and
// missing rows as errs.ErrNotFound.
type Store interface {
	CreateRoom(ctx context.Context, room *models.Room) error
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	GetRoomByCode(ctx context.Context, code string) (*models.Room, error)
	SetRoomHost(ctx context.Context, roomID, playerID string) (bool, error)
	CompareAndSetPhase(ctx context.Context, roomID string, from, to models.Phase) (bool, error)
	// FreezeExpectedPlayers snapshots the player count once and returns the frozen value.
	FreezeExpectedPlayers(ctx context.Context, roomID string) (int, error)
	SetRoomPremium(ctx context.Context, roomID string, premium bool) error

	CreatePlayer(ctx context.Context, player *models.Player) error
	GetPlayer(ctx context.Context, id string) (*models.Player, error)
	ListPlayers(ctx context.Context, roomID string) ([]models.Player, error)
	CountPlayers(ctx context.Context, roomID string) (int, error)

	// CreatePlayerImage inserts the image only while the player holds fewer
	// than limit images; otherwise it returns ErrLimitReached. limit <= 0 means no cap.
	CreatePlayerImage(ctx context.Context, image *models.PlayerImage, limit int) error
	GetPlayerImage(ctx context.Context, id string) (*models.PlayerImage, error)
	ListPlayerImages(ctx context.Context, roomID, playerID string, availableOnly bool) ([]models.PlayerImage, error)
	CountPlayerImages(ctx context.Context, roomID, playerID string, availableOnly bool) (int, error)
	// LockPlayerImage sets used_in_round_id only if it is still unset and the image belongs to playerID.
	LockPlayerImage(ctx context.Context, imageID, playerID, roundID string) (bool, error)

	CreateRound(ctx context.Context, round *models.Round) error
	GetRound(ctx context.Context, id string) (*models.Round, error)
	LatestRound(ctx context.Context, roomID string) (*models.Round, error)
	ListRoundStatements(ctx context.Context, roomID string) ([]string, error)
	CompareAndSetRoundStatus(ctx context.Context, roundID string, from, to models.RoundStatus) (bool, error)

	CreateSubmission(ctx context.Context, submission *models.Submission) error
	ListSubmissions(ctx context.Context, roundID string) ([]models.Submission, error)
	CountSubmissions(ctx context.Context, roundID string) (int, error)

	CreateVote(ctx context.Context, vote *models.Vote) error
	UpsertVote(ctx context.Context, vote *models.Vote) error
	ListVotes(ctx context.Context, roundID string) ([]models.Vote, error)
	CountVoters(ctx context.Context, roundID string) (int, error)

	// FinalizeRound atomically moves a voting round to done and credits the
	// winners. It reports false when the round was not in voting, so only one
	// caller ever scores a round.
	FinalizeRound(ctx context.Context, roundID string) ([]models.RoundWinner, bool, error)
	ListRoundWinners(ctx context.Context, roundID string) ([]models.RoundWinner, error)
	RoomScores(ctx context.Context, roomID string) ([]models.RoomScore, error)

	RecordEvent(ctx context.Context, event *models.Event) error
	Close() error
}
