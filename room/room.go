// room/room.go
package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wfunc/picklo/errs"
	"github.com/wfunc/picklo/logger"
	"github.com/wfunc/picklo/models"
	"github.com/wfunc/picklo/monitor"
	"github.com/wfunc/picklo/persistence"
	"github.com/wfunc/picklo/state"
)

// codeAttempts 生成房间码时遇到冲突的最大重试次数
const codeAttempts = 8

var (
	// ErrHostTaken is returned when a room already has a host.
	ErrHostTaken = fmt.Errorf("%w: room already has a host", errs.ErrConflict)
	// ErrPhaseRaceLost means another session moved the room first.
	ErrPhaseRaceLost = fmt.Errorf("%w: phase already changed", errs.ErrConflict)
)

// Registry 管理房间和玩家。房间状态只保存在数据库中，
// Registry 本身不持有任何房间数据。
type Registry struct {
	store   persistence.Store
	phases  *state.Machine[models.Phase]
	monitor *monitor.Monitor
	newCode func() (string, error)
	now     func() time.Time
}

// NewRegistry 创建房间注册表
func NewRegistry(store persistence.Store, mon *monitor.Monitor) *Registry {
	return &Registry{
		store:   store,
		phases:  state.RoomPhases,
		monitor: mon,
		newCode: NewCode,
		now:     time.Now,
	}
}

// CreateRoom 创建一个新房间，房间码冲突时重试
func (r *Registry) CreateRoom(ctx context.Context) (*models.Room, error) {
	var lastErr error
	for i := 0; i < codeAttempts; i++ {
		code, err := r.newCode()
		if err != nil {
			return nil, err
		}
		room, err := r.CreateRoomWithCode(ctx, code)
		if err == nil {
			return room, nil
		}
		if !errors.Is(err, errs.ErrConflict) {
			return nil, err
		}
		lastErr = err
		logger.Log.Debugw("room code collision", "code", code, "attempt", i+1)
	}
	return nil, fmt.Errorf("no free room code after %d attempts: %w", codeAttempts, lastErr)
}

// CreateRoomWithCode 使用指定房间码创建房间
func (r *Registry) CreateRoomWithCode(ctx context.Context, code string) (*models.Room, error) {
	code = NormalizeCode(code)
	if code == "" || len(code) > 8 {
		return nil, errs.Validationf("invalid room code %q", code)
	}
	room := &models.Room{
		ID:    uuid.NewString(),
		Code:  code,
		Phase: models.PhaseLobby,
	}
	if err := r.store.CreateRoom(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

// Room 按 id 读取房间
func (r *Registry) Room(ctx context.Context, roomID string) (*models.Room, error) {
	return r.store.GetRoom(ctx, roomID)
}

// RoomByCode 按房间码读取房间
func (r *Registry) RoomByCode(ctx context.Context, code string) (*models.Room, error) {
	return r.store.GetRoomByCode(ctx, NormalizeCode(code))
}

// RegisterHost 设置房主，只能成功一次
func (r *Registry) RegisterHost(ctx context.Context, roomID, playerID string) error {
	player, err := r.store.GetPlayer(ctx, playerID)
	if err != nil {
		return err
	}
	if player.RoomID != roomID {
		return errs.Validationf("player %s is not in room %s", playerID, roomID)
	}
	ok, err := r.store.SetRoomHost(ctx, roomID, playerID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrHostTaken
	}
	return nil
}

// SetPhase 把房间向前推进一步。
// 非法顺序返回 state.ErrTransitionNotAllowed；别的会话先一步完成时返回 ErrPhaseRaceLost。
func (r *Registry) SetPhase(ctx context.Context, roomID string, to models.Phase) error {
	room, err := r.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Phase == to {
		return ErrPhaseRaceLost
	}
	if err := r.phases.Validate(room.Phase, to); err != nil {
		return err
	}
	ok, err := r.store.CompareAndSetPhase(ctx, roomID, room.Phase, to)
	if err != nil {
		return err
	}
	if !ok {
		r.monitor.IncLostRace("phase")
		return ErrPhaseRaceLost
	}
	r.monitor.IncTransition(string(room.Phase), string(to))
	logger.Log.Infow("room phase changed", "room", roomID, "from", room.Phase, "to", to)
	return nil
}

// FreezeExpectedPlayers 冻结参与人数，重复调用返回已冻结的值
func (r *Registry) FreezeExpectedPlayers(ctx context.Context, roomID string) (int, error) {
	return r.store.FreezeExpectedPlayers(ctx, roomID)
}

// SetPremium 记录房间的付费状态
func (r *Registry) SetPremium(ctx context.Context, roomID string, premium bool) error {
	return r.store.SetRoomPremium(ctx, roomID, premium)
}

// Host 创建房间、加入第一个玩家并设为房主
func (r *Registry) Host(ctx context.Context, name string) (*models.Room, *models.Player, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, errs.Validationf("name is required")
	}
	room, err := r.CreateRoom(ctx)
	if err != nil {
		return nil, nil, err
	}
	player, err := r.addPlayer(ctx, room, name)
	if err != nil {
		return nil, nil, err
	}
	if err := r.RegisterHost(ctx, room.ID, player.ID); err != nil {
		return nil, nil, err
	}
	room.HostPlayerID = &player.ID
	return room, player, nil
}

// Join 通过房间码加入房间。名字可以重复
func (r *Registry) Join(ctx context.Context, code, name string) (*models.Player, error) {
	code = NormalizeCode(code)
	name = strings.TrimSpace(name)
	if code == "" {
		return nil, errs.Validationf("room code is required")
	}
	if name == "" {
		return nil, errs.Validationf("name is required")
	}
	room, err := r.store.GetRoomByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if room.Phase == models.PhaseFinished {
		return nil, errs.Validationf("room %s has finished", code)
	}
	return r.addPlayer(ctx, room, name)
}

func (r *Registry) addPlayer(ctx context.Context, room *models.Room, name string) (*models.Player, error) {
	player := &models.Player{
		ID:       uuid.NewString(),
		RoomID:   room.ID,
		Name:     name,
		JoinedAt: r.now(),
	}
	if err := r.store.CreatePlayer(ctx, player); err != nil {
		return nil, err
	}
	logger.Log.Infow("player joined", "room", room.ID, "code", room.Code, "player", player.ID)
	return player, nil
}

// Players 房间内的玩家，按加入时间排序
func (r *Registry) Players(ctx context.Context, roomID string) ([]models.Player, error) {
	return r.store.ListPlayers(ctx, roomID)
}

// Player 读取单个玩家
func (r *Registry) Player(ctx context.Context, playerID string) (*models.Player, error) {
	return r.store.GetPlayer(ctx, playerID)
}
