// Package engine runs the round lifecycle: starting the game, collecting
// submissions and votes, and advancing rounds when everyone has acted.
//
// The engine keeps no per-room state. Every decision is taken from a fresh
// read of the store, and every transition is a conditional write so any
// number of sessions (in this process or others) can call it concurrently.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"

	"github.com/wfunc/picklo/entitlement"
	"github.com/wfunc/picklo/errs"
	"github.com/wfunc/picklo/hand"
	"github.com/wfunc/picklo/logger"
	"github.com/wfunc/picklo/models"
	"github.com/wfunc/picklo/monitor"
	"github.com/wfunc/picklo/persistence"
	"github.com/wfunc/picklo/room"
	"github.com/wfunc/picklo/services"
	"github.com/wfunc/picklo/state"
	"github.com/wfunc/picklo/statements"
	"github.com/wfunc/picklo/timer"
)

// MatchConfig 一局游戏的参数
type MatchConfig struct {
	HandSize        int
	RoundCount      int
	RoundDuration   time.Duration
	DisplayDelay    time.Duration
	FreeRoundLimit  int
	AllowVoteChange bool
	RejectSelfVote  bool
	Readiness       Readiness
}

// DefaultMatchConfig 默认参数
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		HandSize:        10,
		RoundCount:      10,
		RoundDuration:   60 * time.Second,
		DisplayDelay:    3 * time.Second,
		FreeRoundLimit:  5,
		AllowVoteChange: true,
		RejectSelfVote:  true,
		Readiness:       ReadinessFrozen,
	}
}

// Transition 一次实际执行的状态变化
type Transition struct {
	From models.RoundStatus `json:"from"`
	To   models.RoundStatus `json:"to"`
}

// Advance AdvanceIfReady 的结果
type Advance struct {
	RoundID string               `json:"round_id"`
	Status  models.RoundStatus   `json:"status"`
	Applied []Transition         `json:"applied,omitempty"`
	Winners []models.RoundWinner `json:"winners,omitempty"`
}

// Next AdvanceFromDone 的结果
type Next struct {
	Finished bool          `json:"finished"`
	Round    *models.Round `json:"round,omitempty"`
	Created  bool          `json:"created"`
}

// Engine 回合引擎
type Engine struct {
	store   persistence.Store
	rooms   *room.Registry
	hands   *hand.Store
	scores  *services.ScoreService
	ent     entitlement.Provider
	timers  *timer.Manager
	monitor *monitor.Monitor
	cfg     MatchConfig
	pool    []string
	group   singleflight.Group
	now     func() time.Time
}

// Option 可选配置
type Option func(*Engine)

// WithTimers 启用 ScheduleAdvance
func WithTimers(t *timer.Manager) Option {
	return func(e *Engine) { e.timers = t }
}

// WithMonitor 记录指标
func WithMonitor(m *monitor.Monitor) Option {
	return func(e *Engine) { e.monitor = m }
}

// WithStatements 替换语句池
func WithStatements(pool []string) Option {
	return func(e *Engine) { e.pool = pool }
}

// WithClock 测试使用
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(store persistence.Store, rooms *room.Registry, hands *hand.Store, scores *services.ScoreService, ent entitlement.Provider, cfg MatchConfig, opts ...Option) *Engine {
	if cfg.Readiness == "" {
		cfg.Readiness = ReadinessFrozen
	}
	e := &Engine{
		store:  store,
		rooms:  rooms,
		hands:  hands,
		scores: scores,
		ent:    ent,
		cfg:    cfg,
		pool:   statements.Pool,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config 当前参数
func (e *Engine) Config() MatchConfig {
	return e.cfg
}

func (e *Engine) policy() Policy {
	return Policy{Readiness: e.cfg.Readiness}
}

func (e *Engine) requireHost(ctx context.Context, roomID, playerID string) (*models.Room, error) {
	rm, err := e.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !rm.IsHost(playerID) {
		return nil, ErrNotHost
	}
	return rm, nil
}

func (e *Engine) requireMember(ctx context.Context, roomID, playerID string) (*models.Player, error) {
	p, err := e.store.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if p.RoomID != roomID {
		return nil, ErrNotInRoom
	}
	return p, nil
}

// setPhase applies a phase change and treats a lost race as success.
func (e *Engine) setPhase(ctx context.Context, roomID string, to models.Phase) error {
	err := e.rooms.SetPhase(ctx, roomID, to)
	if errors.Is(err, room.ErrPhaseRaceLost) {
		logger.Log.Debugw("phase already changed", "room", roomID, "to", to)
		return nil
	}
	if err == nil {
		e.record(ctx, roomID, "", "", "phase_changed", map[string]any{"to": to})
	}
	return err
}

// BeginPicking 房主让房间进入选图阶段
func (e *Engine) BeginPicking(ctx context.Context, roomID, hostID string) error {
	if _, err := e.requireHost(ctx, roomID, hostID); err != nil {
		return err
	}
	return e.setPhase(ctx, roomID, models.PhasePicking)
}

// BeginPlaying 房主在所有人选满手牌后进入游戏阶段
func (e *Engine) BeginPlaying(ctx context.Context, roomID, hostID string) error {
	rm, err := e.requireHost(ctx, roomID, hostID)
	if err != nil {
		return err
	}
	switch rm.Phase {
	case models.PhasePlaying:
		return nil
	case models.PhasePicking:
	default:
		return fmt.Errorf("begin playing from %s: %w", rm.Phase, ErrWrongPhase)
	}
	ready, total, err := e.hands.ReadyCount(ctx, roomID)
	if err != nil {
		return err
	}
	if total == 0 || ready < total {
		return fmt.Errorf("%d of %d ready: %w", ready, total, ErrHandsNotReady)
	}
	return e.setPhase(ctx, roomID, models.PhasePlaying)
}

// StartGame 冻结人数并创建第一回合。created 为 false 表示第一回合已由别的会话创建
func (e *Engine) StartGame(ctx context.Context, roomID, hostID string) (*models.Round, bool, error) {
	rm, err := e.requireHost(ctx, roomID, hostID)
	if err != nil {
		return nil, false, err
	}
	if rm.Phase == models.PhasePicking {
		if err := e.BeginPlaying(ctx, roomID, hostID); err != nil {
			return nil, false, err
		}
		if rm, err = e.store.GetRoom(ctx, roomID); err != nil {
			return nil, false, err
		}
	}
	if rm.Phase != models.PhasePlaying {
		return nil, false, fmt.Errorf("start game from %s: %w", rm.Phase, ErrWrongPhase)
	}

	expected, err := e.rooms.FreezeExpectedPlayers(ctx, roomID)
	if err != nil {
		return nil, false, err
	}
	logger.Log.Infow("expected players frozen", "room", roomID, "expected", expected)

	round, err := e.createRound(ctx, roomID, 1)
	if errors.Is(err, ErrRaceLost) {
		existing, lerr := e.store.LatestRound(ctx, roomID)
		return existing, false, lerr
	}
	if err != nil {
		return nil, false, err
	}
	return round, true, nil
}

func (e *Engine) createRound(ctx context.Context, roomID string, number int) (*models.Round, error) {
	used, err := e.store.ListRoundStatements(ctx, roomID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	round := &models.Round{
		ID:          uuid.NewString(),
		RoomID:      roomID,
		RoundNumber: number,
		Statement:   statements.Draw(e.pool, used, nil),
		Status:      models.RoundCollecting,
		EndsAt:      now.Add(e.cfg.RoundDuration),
	}
	if err := e.store.CreateRound(ctx, round); err != nil {
		if errors.Is(err, errs.ErrConflict) {
			e.monitor.IncLostRace("round_insert")
			logger.Log.Debugw("round already created", "room", roomID, "round_number", number)
			return nil, ErrRaceLost
		}
		return nil, err
	}
	e.monitor.IncRoundsCreated()
	e.record(ctx, roomID, round.ID, "", "round_created", map[string]any{"round_number": number})
	logger.Log.Infow("round created", "room", roomID, "round", round.ID, "round_number", number)
	return round, nil
}

// Submit 玩家在回合中打出一张图片
func (e *Engine) Submit(ctx context.Context, roundID, playerID, imageID string) (*models.Submission, error) {
	round, err := e.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if round.Status != models.RoundCollecting {
		return nil, fmt.Errorf("submit in %s round: %w", round.Status, ErrWrongStatus)
	}
	if _, err := e.requireMember(ctx, round.RoomID, playerID); err != nil {
		return nil, err
	}

	available, err := e.hands.Available(ctx, round.RoomID, playerID)
	if err != nil {
		return nil, err
	}
	if len(available) == 0 {
		return nil, ErrNoHand
	}
	var img *models.PlayerImage
	for i := range available {
		if available[i].ID == imageID {
			img = &available[i]
			break
		}
	}
	if img == nil {
		if _, err := e.store.GetPlayerImage(ctx, imageID); err != nil {
			return nil, err
		}
		return nil, ErrImageUnavailable
	}

	sub := &models.Submission{
		ID:            uuid.NewString(),
		RoundID:       roundID,
		PlayerID:      playerID,
		PlayerImageID: img.ID,
		ImagePath:     img.ImagePath,
		CreatedAt:     e.now(),
	}
	if err := e.store.CreateSubmission(ctx, sub); err != nil {
		if errors.Is(err, errs.ErrConflict) {
			return nil, ErrAlreadySubmitted
		}
		return nil, err
	}

	// 提交已经成功；锁图失败只记录，下一次就绪检查不依赖它
	locked, err := e.hands.Lock(ctx, img.ID, playerID, roundID)
	if err != nil || !locked {
		e.monitor.IncLostRace("image_lock")
		logger.Log.Warnw("image lock failed after submission", "round", roundID, "player", playerID, "image", img.ID, "error", err)
	}
	e.record(ctx, round.RoomID, roundID, playerID, "submitted", map[string]any{"submission_id": sub.ID})

	if _, err := e.AdvanceIfReady(ctx, roundID); err != nil {
		logger.Log.Warnw("advance after submit failed", "round", roundID, "error", err)
	}
	return sub, nil
}

// Vote 投票。自投在 RejectSelfVote 关闭时被忽略，此时返回 nil, nil
func (e *Engine) Vote(ctx context.Context, roundID, voterID, submissionID string) (*models.Vote, error) {
	round, err := e.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if round.Status != models.RoundVoting {
		return nil, fmt.Errorf("vote in %s round: %w", round.Status, ErrWrongStatus)
	}
	if _, err := e.requireMember(ctx, round.RoomID, voterID); err != nil {
		return nil, err
	}

	subs, err := e.store.ListSubmissions(ctx, roundID)
	if err != nil {
		return nil, err
	}
	var target *models.Submission
	for i := range subs {
		if subs[i].ID == submissionID {
			target = &subs[i]
			break
		}
	}
	if target == nil {
		return nil, errs.NotFoundf("submission %s in round %s", submissionID, roundID)
	}
	if target.PlayerID == voterID {
		if e.cfg.RejectSelfVote {
			return nil, ErrSelfVote
		}
		logger.Log.Debugw("self vote ignored", "round", roundID, "player", voterID)
		return nil, nil
	}

	vote := &models.Vote{
		ID:            uuid.NewString(),
		RoundID:       roundID,
		VoterPlayerID: voterID,
		SubmissionID:  submissionID,
	}
	if e.cfg.AllowVoteChange {
		err = e.store.UpsertVote(ctx, vote)
	} else {
		err = e.store.CreateVote(ctx, vote)
		if errors.Is(err, errs.ErrConflict) {
			return nil, ErrAlreadyVoted
		}
	}
	if err != nil {
		return nil, err
	}
	e.record(ctx, round.RoomID, roundID, voterID, "voted", map[string]any{"submission_id": submissionID})

	if _, err := e.AdvanceIfReady(ctx, roundID); err != nil {
		logger.Log.Warnw("advance after vote failed", "round", roundID, "error", err)
	}
	return vote, nil
}

func (e *Engine) snapshot(ctx context.Context, roundID string) (*models.Round, Snapshot, error) {
	var snap Snapshot
	round, err := e.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, snap, err
	}
	rm, err := e.store.GetRoom(ctx, round.RoomID)
	if err != nil {
		return nil, snap, err
	}
	snap.Phase = rm.Phase
	snap.Status = round.Status
	snap.ExpectedPlayers = rm.ExpectedPlayers
	if snap.CurrentPlayers, err = e.store.CountPlayers(ctx, rm.ID); err != nil {
		return nil, snap, err
	}
	switch round.Status {
	case models.RoundCollecting:
		snap.Submissions, err = e.store.CountSubmissions(ctx, roundID)
	case models.RoundVoting:
		snap.Voters, err = e.store.CountVoters(ctx, roundID)
	}
	return round, snap, err
}

// AdvanceIfReady re-reads the round and applies every transition that is now
// due. Concurrent calls for the same round in this process share one
// evaluation; across processes the conditional writes pick one winner.
func (e *Engine) AdvanceIfReady(ctx context.Context, roundID string) (Advance, error) {
	v, err := e.coalesce("advance:"+roundID, func() (interface{}, error) {
		return e.advance(context.WithoutCancel(ctx), roundID)
	})
	if err != nil {
		return Advance{}, err
	}
	return v.(Advance), nil
}

// coalesce runs fn through the singleflight group. A shared result may come
// from a run that read the store before the caller's own write, so a shared
// caller runs once more; any run it joins then started after that write.
func (e *Engine) coalesce(key string, fn func() (interface{}, error)) (interface{}, error) {
	v, err, shared := e.group.Do(key, fn)
	if shared {
		v, err, _ = e.group.Do(key, fn)
	}
	return v, err
}

func (e *Engine) advance(ctx context.Context, roundID string) (Advance, error) {
	adv := Advance{RoundID: roundID}
	// collecting -> voting -> done，加一次重读
	for i := 0; i < 3; i++ {
		round, snap, err := e.snapshot(ctx, roundID)
		if err != nil {
			return adv, err
		}
		adv.Status = round.Status
		next, ok := Evaluate(snap, e.policy())
		if !ok {
			return adv, nil
		}
		if err := state.RoundStatuses.Validate(round.Status, next); err != nil {
			return adv, err
		}

		switch next {
		case models.RoundVoting:
			applied, err := e.store.CompareAndSetRoundStatus(ctx, roundID, models.RoundCollecting, models.RoundVoting)
			if err != nil {
				return adv, err
			}
			if !applied {
				e.monitor.IncLostRace("round_status")
				continue
			}
		case models.RoundDone:
			winners, applied, err := e.store.FinalizeRound(ctx, roundID)
			if err != nil {
				return adv, err
			}
			if !applied {
				e.monitor.IncLostRace("finalize")
				continue
			}
			adv.Winners = winners
		}

		t := Transition{From: round.Status, To: next}
		adv.Applied = append(adv.Applied, t)
		adv.Status = next
		e.monitor.IncTransition(string(t.From), string(t.To))
		e.record(ctx, round.RoomID, roundID, "", "round_status", map[string]any{"from": t.From, "to": t.To})
		logger.Log.Infow("round advanced", "room", round.RoomID, "round", roundID, "from", t.From, "to", t.To)
	}
	return adv, nil
}

// AdvanceFromDone creates the next round or finishes the match once a round
// is done. Losing either race is not an error.
func (e *Engine) AdvanceFromDone(ctx context.Context, roundID string) (Next, error) {
	v, err := e.coalesce("next:"+roundID, func() (interface{}, error) {
		return e.advanceFromDone(context.WithoutCancel(ctx), roundID)
	})
	if err != nil {
		return Next{}, err
	}
	return v.(Next), nil
}

func (e *Engine) advanceFromDone(ctx context.Context, roundID string) (Next, error) {
	round, err := e.store.GetRound(ctx, roundID)
	if err != nil {
		return Next{}, err
	}
	if !state.RoundStatuses.Terminal(round.Status) {
		return Next{}, fmt.Errorf("advance from %s round: %w", round.Status, ErrWrongStatus)
	}
	rm, err := e.store.GetRoom(ctx, round.RoomID)
	if err != nil {
		return Next{}, err
	}
	switch rm.Phase {
	case models.PhaseFinished:
		return Next{Finished: true}, nil
	case models.PhasePlaying:
	default:
		return Next{}, fmt.Errorf("advance in %s room: %w", rm.Phase, ErrWrongPhase)
	}

	finish, err := e.shouldFinish(ctx, rm.ID, round.RoundNumber)
	if err != nil {
		return Next{}, err
	}
	if finish {
		if err := e.setPhase(ctx, rm.ID, models.PhaseFinished); err != nil {
			return Next{}, err
		}
		return Next{Finished: true}, nil
	}

	next, err := e.createRound(ctx, rm.ID, round.RoundNumber+1)
	if errors.Is(err, ErrRaceLost) {
		latest, lerr := e.store.LatestRound(ctx, rm.ID)
		return Next{Round: latest}, lerr
	}
	if err != nil {
		return Next{}, err
	}
	return Next{Round: next, Created: true}, nil
}

func (e *Engine) shouldFinish(ctx context.Context, roomID string, played int) (bool, error) {
	if played+1 > e.cfg.RoundCount {
		return true, nil
	}
	if e.cfg.FreeRoundLimit <= 0 || played < e.cfg.FreeRoundLimit || e.ent == nil {
		return false, nil
	}
	premium, err := e.ent.IsPremium(ctx, roomID)
	if err != nil {
		return false, err
	}
	return !premium, nil
}

// ScheduleAdvance calls AdvanceFromDone after the display delay. Only the
// first call per round in this process schedules anything.
func (e *Engine) ScheduleAdvance(roundID string) bool {
	if e.timers == nil {
		return false
	}
	return e.timers.AddOnce("next:"+roundID, e.cfg.DisplayDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := e.AdvanceFromDone(ctx, roundID); err != nil {
			logger.Log.Warnw("scheduled advance failed", "round", roundID, "error", err)
		}
	})
}

// record 写审计事件，失败只记录日志
func (e *Engine) record(ctx context.Context, roomID, roundID, playerID, typ string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("{}")
	}
	ev := &models.Event{
		RoomID:  roomID,
		Type:    typ,
		Payload: datatypes.JSON(data),
	}
	if roundID != "" {
		ev.RoundID = &roundID
	}
	if playerID != "" {
		ev.PlayerID = &playerID
	}
	if err := e.store.RecordEvent(ctx, ev); err != nil {
		logger.Log.Warnw("record event failed", "room", roomID, "type", typ, "error", err)
	}
}
