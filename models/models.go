// models/models.go
package models

import (
	"time"

	"gorm.io/datatypes"
)

// Phase 房间阶段，只能向前推进
type Phase string

const (
	PhaseLobby    Phase = "lobby"
	PhasePicking  Phase = "picking"
	PhasePlaying  Phase = "playing"
	PhaseFinished Phase = "finished"
)

// RoundStatus 回合状态
type RoundStatus string

const (
	RoundCollecting RoundStatus = "collecting"
	RoundVoting     RoundStatus = "voting"
	RoundDone       RoundStatus = "done"
)

// Room 游戏房间
type Room struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	Code            string    `gorm:"size:8;uniqueIndex;not null" json:"code"`
	Phase           Phase     `gorm:"size:16;not null;default:lobby" json:"phase"`
	HostPlayerID    *string   `gorm:"size:36" json:"host_player_id,omitempty"`
	ExpectedPlayers int       `gorm:"not null;default:0" json:"expected_players"`
	Premium         bool      `gorm:"not null;default:false" json:"premium"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// IsHost reports whether playerID is the registered host.
func (r *Room) IsHost(playerID string) bool {
	return r.HostPlayerID != nil && *r.HostPlayerID == playerID
}

// Player 房间内的玩家，创建后不可变
type Player struct {
	ID       string    `gorm:"primaryKey;size:36" json:"id"`
	RoomID   string    `gorm:"size:36;index;not null" json:"room_id"`
	Name     string    `gorm:"size:64;not null" json:"name"`
	JoinedAt time.Time `gorm:"not null;index" json:"joined_at"`
}

// PlayerImage 手牌中的一张图片；UsedInRoundID 只写一次
type PlayerImage struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	RoomID        string    `gorm:"size:36;not null;index:idx_player_images_room_player" json:"room_id"`
	PlayerID      string    `gorm:"size:36;not null;index:idx_player_images_room_player" json:"player_id"`
	ImagePath     string    `gorm:"size:255;not null" json:"image_path"`
	UsedInRoundID *string   `gorm:"size:36;index" json:"used_in_round_id,omitempty"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
}

// Available reports whether the image has not been played yet.
func (p *PlayerImage) Available() bool {
	return p.UsedInRoundID == nil
}

// Round 回合
type Round struct {
	ID          string      `gorm:"primaryKey;size:36" json:"id"`
	RoomID      string      `gorm:"size:36;not null;uniqueIndex:idx_rounds_room_number" json:"room_id"`
	RoundNumber int         `gorm:"not null;uniqueIndex:idx_rounds_room_number" json:"round_number"`
	Statement   string      `gorm:"size:280;not null" json:"statement"`
	Status      RoundStatus `gorm:"size:16;not null" json:"status"`
	EndsAt      time.Time   `json:"ends_at"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Submission 玩家在回合中提交的图片
type Submission struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	RoundID       string    `gorm:"size:36;not null;uniqueIndex:idx_submissions_round_player" json:"round_id"`
	PlayerID      string    `gorm:"size:36;not null;uniqueIndex:idx_submissions_round_player" json:"player_id"`
	PlayerImageID string    `gorm:"size:36;not null" json:"player_image_id"`
	ImagePath     string    `gorm:"size:255;not null" json:"image_path"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
}

// Vote 投票，每个回合每个投票者一票
type Vote struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	RoundID       string    `gorm:"size:36;not null;uniqueIndex:idx_votes_round_voter" json:"round_id"`
	VoterPlayerID string    `gorm:"size:36;not null;uniqueIndex:idx_votes_round_voter" json:"voter_player_id"`
	SubmissionID  string    `gorm:"size:36;not null;index" json:"submission_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RoundWinner 回合结算结果，只由结算过程写入
type RoundWinner struct {
	RoundID      string    `gorm:"primaryKey;size:36" json:"round_id"`
	PlayerID     string    `gorm:"primaryKey;size:36" json:"player_id"`
	RoomID       string    `gorm:"size:36;not null;index" json:"room_id"`
	SubmissionID string    `gorm:"size:36;not null" json:"submission_id"`
	Votes        int       `gorm:"not null" json:"votes"`
	CreatedAt    time.Time `json:"created_at"`
}

// RoomScore room_scores 视图的一行
type RoomScore struct {
	RoomID   string `gorm:"column:room_id" json:"room_id"`
	PlayerID string `gorm:"column:player_id" json:"player_id"`
	Points   int    `gorm:"column:points" json:"points"`
}

func (RoomScore) TableName() string { return "room_scores" }

// Event 审计日志
type Event struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	RoomID    string         `gorm:"size:36;index;not null" json:"room_id"`
	RoundID   *string        `gorm:"size:36;index" json:"round_id,omitempty"`
	PlayerID  *string        `gorm:"size:36;index" json:"player_id,omitempty"`
	Type      string         `gorm:"size:64;not null" json:"type"`
	Payload   datatypes.JSON `gorm:"type:jsonb;not null" json:"payload"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
}

// All 返回需要自动迁移的模型
func All() []interface{} {
	return []interface{}{
		&Room{},
		&Player{},
		&PlayerImage{},
		&Round{},
		&Submission{},
		&Vote{},
		&RoundWinner{},
		&Event{},
	}
}
