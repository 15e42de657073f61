// persistence/memory.go
package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wfunc/picklo/broadcast"
	"github.com/wfunc/picklo/errs"
	"github.com/wfunc/picklo/models"
	"github.com/wfunc/picklo/scoring"
)

// MemoryStore 进程内存储，用于开发和测试。
// 它提供和 PostgreSQL 相同的唯一约束与条件更新语义，并把每次写入
// 作为 models.Change 发布给 publisher。
type MemoryStore struct {
	mu sync.Mutex

	rooms       map[string]*models.Room
	roomCodes   map[string]string
	players     map[string]*models.Player
	images      map[string]*models.PlayerImage
	imageOrder  []string
	rounds      map[string]*models.Round
	submissions map[string]*models.Submission
	votes       map[string]*models.Vote
	winners     map[string][]models.RoundWinner
	events      []models.Event

	publisher broadcast.Publisher
	now       func() time.Time
}

// NewMemoryStore 创建内存存储；publisher 可以为 nil
func NewMemoryStore(publisher broadcast.Publisher) *MemoryStore {
	return &MemoryStore{
		rooms:       make(map[string]*models.Room),
		roomCodes:   make(map[string]string),
		players:     make(map[string]*models.Player),
		images:      make(map[string]*models.PlayerImage),
		rounds:      make(map[string]*models.Round),
		submissions: make(map[string]*models.Submission),
		votes:       make(map[string]*models.Vote),
		winners:     make(map[string][]models.RoundWinner),
		publisher:   publisher,
		now:         time.Now,
	}
}

func (m *MemoryStore) publish(changes ...models.Change) {
	if m.publisher == nil {
		return
	}
	for _, c := range changes {
		m.publisher.Publish(c)
	}
}

func roomChange(op string, r *models.Room) models.Change {
	return models.Change{Table: models.TableRooms, Op: op, ID: r.ID, RoomID: r.ID}
}

func roundChange(op string, r *models.Round) models.Change {
	return models.Change{Table: models.TableRounds, Op: op, ID: r.ID, RoomID: r.RoomID, RoundID: r.ID}
}

// ---- rooms ----

func (m *MemoryStore) CreateRoom(ctx context.Context, room *models.Room) error {
	m.mu.Lock()
	if _, ok := m.rooms[room.ID]; ok {
		m.mu.Unlock()
		return errs.Conflictf("room %s exists", room.ID)
	}
	if _, ok := m.roomCodes[room.Code]; ok {
		m.mu.Unlock()
		return errs.Conflictf("room code %s taken", room.Code)
	}
	now := m.now()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	room.UpdatedAt = now
	if room.Phase == "" {
		room.Phase = models.PhaseLobby
	}
	cp := *room
	m.rooms[room.ID] = &cp
	m.roomCodes[room.Code] = room.ID
	m.mu.Unlock()

	m.publish(roomChange(models.OpInsert, room))
	return nil
}

func (m *MemoryStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, errs.NotFoundf("room %s", id)
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	m.mu.Lock()
	id, ok := m.roomCodes[code]
	m.mu.Unlock()
	if !ok {
		return nil, errs.NotFoundf("room code %s", code)
	}
	return m.GetRoom(ctx, id)
}

func (m *MemoryStore) SetRoomHost(ctx context.Context, roomID, playerID string) (bool, error) {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return false, errs.NotFoundf("room %s", roomID)
	}
	if r.HostPlayerID != nil {
		m.mu.Unlock()
		return false, nil
	}
	id := playerID
	r.HostPlayerID = &id
	r.UpdatedAt = m.now()
	c := roomChange(models.OpUpdate, r)
	m.mu.Unlock()

	m.publish(c)
	return true, nil
}

func (m *MemoryStore) CompareAndSetPhase(ctx context.Context, roomID string, from, to models.Phase) (bool, error) {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return false, errs.NotFoundf("room %s", roomID)
	}
	if r.Phase != from {
		m.mu.Unlock()
		return false, nil
	}
	r.Phase = to
	r.UpdatedAt = m.now()
	c := roomChange(models.OpUpdate, r)
	m.mu.Unlock()

	m.publish(c)
	return true, nil
}

func (m *MemoryStore) FreezeExpectedPlayers(ctx context.Context, roomID string) (int, error) {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return 0, errs.NotFoundf("room %s", roomID)
	}
	if r.ExpectedPlayers > 0 {
		n := r.ExpectedPlayers
		m.mu.Unlock()
		return n, nil
	}
	r.ExpectedPlayers = m.countPlayersLocked(roomID)
	r.UpdatedAt = m.now()
	n := r.ExpectedPlayers
	c := roomChange(models.OpUpdate, r)
	m.mu.Unlock()

	m.publish(c)
	return n, nil
}

func (m *MemoryStore) SetRoomPremium(ctx context.Context, roomID string, premium bool) error {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return errs.NotFoundf("room %s", roomID)
	}
	r.Premium = premium
	r.UpdatedAt = m.now()
	c := roomChange(models.OpUpdate, r)
	m.mu.Unlock()

	m.publish(c)
	return nil
}

// ---- players ----

func (m *MemoryStore) CreatePlayer(ctx context.Context, player *models.Player) error {
	m.mu.Lock()
	if _, ok := m.rooms[player.RoomID]; !ok {
		m.mu.Unlock()
		return errs.NotFoundf("room %s", player.RoomID)
	}
	if _, ok := m.players[player.ID]; ok {
		m.mu.Unlock()
		return errs.Conflictf("player %s exists", player.ID)
	}
	if player.JoinedAt.IsZero() {
		player.JoinedAt = m.now()
	}
	cp := *player
	m.players[player.ID] = &cp
	m.mu.Unlock()

	m.publish(models.Change{Table: models.TablePlayers, Op: models.OpInsert, ID: player.ID, RoomID: player.RoomID, PlayerID: player.ID})
	return nil
}

func (m *MemoryStore) GetPlayer(ctx context.Context, id string) (*models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[id]
	if !ok {
		return nil, errs.NotFoundf("player %s", id)
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListPlayers(ctx context.Context, roomID string) ([]models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Player
	for _, p := range m.players {
		if p.RoomID == roomID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

func (m *MemoryStore) CountPlayers(ctx context.Context, roomID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countPlayersLocked(roomID), nil
}

func (m *MemoryStore) countPlayersLocked(roomID string) int {
	n := 0
	for _, p := range m.players {
		if p.RoomID == roomID {
			n++
		}
	}
	return n
}

// ---- hand images ----

func (m *MemoryStore) CreatePlayerImage(ctx context.Context, image *models.PlayerImage, limit int) error {
	m.mu.Lock()
	if _, ok := m.images[image.ID]; ok {
		m.mu.Unlock()
		return errs.Conflictf("image %s exists", image.ID)
	}
	if limit > 0 {
		held := 0
		for _, img := range m.images {
			if img.RoomID == image.RoomID && img.PlayerID == image.PlayerID {
				held++
			}
		}
		if held >= limit {
			m.mu.Unlock()
			return fmt.Errorf("player %s holds %d images: %w", image.PlayerID, held, ErrLimitReached)
		}
	}
	if image.CreatedAt.IsZero() {
		image.CreatedAt = m.now()
	}
	cp := *image
	m.images[image.ID] = &cp
	m.imageOrder = append(m.imageOrder, image.ID)
	m.mu.Unlock()

	m.publish(models.Change{Table: models.TablePlayerImages, Op: models.OpInsert, ID: image.ID, RoomID: image.RoomID, PlayerID: image.PlayerID})
	return nil
}

func (m *MemoryStore) GetPlayerImage(ctx context.Context, id string) (*models.PlayerImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[id]
	if !ok {
		return nil, errs.NotFoundf("image %s", id)
	}
	cp := *img
	return &cp, nil
}

func (m *MemoryStore) ListPlayerImages(ctx context.Context, roomID, playerID string, availableOnly bool) ([]models.PlayerImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PlayerImage
	for _, id := range m.imageOrder {
		img := m.images[id]
		if img.RoomID != roomID || img.PlayerID != playerID {
			continue
		}
		if availableOnly && !img.Available() {
			continue
		}
		out = append(out, *img)
	}
	return out, nil
}

func (m *MemoryStore) CountPlayerImages(ctx context.Context, roomID, playerID string, availableOnly bool) (int, error) {
	imgs, err := m.ListPlayerImages(ctx, roomID, playerID, availableOnly)
	return len(imgs), err
}

func (m *MemoryStore) LockPlayerImage(ctx context.Context, imageID, playerID, roundID string) (bool, error) {
	m.mu.Lock()
	img, ok := m.images[imageID]
	if !ok {
		m.mu.Unlock()
		return false, errs.NotFoundf("image %s", imageID)
	}
	if img.PlayerID != playerID || img.UsedInRoundID != nil {
		m.mu.Unlock()
		return false, nil
	}
	id := roundID
	img.UsedInRoundID = &id
	c := models.Change{Table: models.TablePlayerImages, Op: models.OpUpdate, ID: img.ID, RoomID: img.RoomID, RoundID: roundID, PlayerID: playerID}
	m.mu.Unlock()

	m.publish(c)
	return true, nil
}

// ---- rounds ----

func (m *MemoryStore) CreateRound(ctx context.Context, round *models.Round) error {
	m.mu.Lock()
	if _, ok := m.rounds[round.ID]; ok {
		m.mu.Unlock()
		return errs.Conflictf("round %s exists", round.ID)
	}
	for _, r := range m.rounds {
		if r.RoomID == round.RoomID && r.RoundNumber == round.RoundNumber {
			m.mu.Unlock()
			return errs.Conflictf("round %d already exists in room %s", round.RoundNumber, round.RoomID)
		}
	}
	now := m.now()
	if round.CreatedAt.IsZero() {
		round.CreatedAt = now
	}
	round.UpdatedAt = now
	cp := *round
	m.rounds[round.ID] = &cp
	m.mu.Unlock()

	m.publish(roundChange(models.OpInsert, round))
	return nil
}

func (m *MemoryStore) GetRound(ctx context.Context, id string) (*models.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[id]
	if !ok {
		return nil, errs.NotFoundf("round %s", id)
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) LatestRound(ctx context.Context, roomID string) (*models.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Round
	for _, r := range m.rounds {
		if r.RoomID != roomID {
			continue
		}
		if latest == nil || r.RoundNumber > latest.RoundNumber {
			latest = r
		}
	}
	if latest == nil {
		return nil, errs.NotFoundf("no round in room %s", roomID)
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryStore) ListRoundStatements(ctx context.Context, roomID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rounds []*models.Round
	for _, r := range m.rounds {
		if r.RoomID == roomID {
			rounds = append(rounds, r)
		}
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i].RoundNumber < rounds[j].RoundNumber })
	out := make([]string, 0, len(rounds))
	for _, r := range rounds {
		out = append(out, r.Statement)
	}
	return out, nil
}

func (m *MemoryStore) CompareAndSetRoundStatus(ctx context.Context, roundID string, from, to models.RoundStatus) (bool, error) {
	m.mu.Lock()
	r, ok := m.rounds[roundID]
	if !ok {
		m.mu.Unlock()
		return false, errs.NotFoundf("round %s", roundID)
	}
	if r.Status != from {
		m.mu.Unlock()
		return false, nil
	}
	r.Status = to
	r.UpdatedAt = m.now()
	c := roundChange(models.OpUpdate, r)
	m.mu.Unlock()

	m.publish(c)
	return true, nil
}

// ---- submissions ----

func (m *MemoryStore) CreateSubmission(ctx context.Context, submission *models.Submission) error {
	m.mu.Lock()
	round, ok := m.rounds[submission.RoundID]
	if !ok {
		m.mu.Unlock()
		return errs.NotFoundf("round %s", submission.RoundID)
	}
	for _, s := range m.submissions {
		if s.RoundID == submission.RoundID && s.PlayerID == submission.PlayerID {
			m.mu.Unlock()
			return errs.Conflictf("player %s already submitted in round %s", submission.PlayerID, submission.RoundID)
		}
	}
	if submission.CreatedAt.IsZero() {
		submission.CreatedAt = m.now()
	}
	cp := *submission
	m.submissions[submission.ID] = &cp
	c := models.Change{Table: models.TableSubmissions, Op: models.OpInsert, ID: submission.ID, RoomID: round.RoomID, RoundID: round.ID, PlayerID: submission.PlayerID}
	m.mu.Unlock()

	m.publish(c)
	return nil
}

func (m *MemoryStore) ListSubmissions(ctx context.Context, roundID string) ([]models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Submission
	for _, s := range m.submissions {
		if s.RoundID == roundID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) CountSubmissions(ctx context.Context, roundID string) (int, error) {
	subs, err := m.ListSubmissions(ctx, roundID)
	return len(subs), err
}

// ---- votes ----

func (m *MemoryStore) CreateVote(ctx context.Context, vote *models.Vote) error {
	m.mu.Lock()
	round, ok := m.rounds[vote.RoundID]
	if !ok {
		m.mu.Unlock()
		return errs.NotFoundf("round %s", vote.RoundID)
	}
	for _, v := range m.votes {
		if v.RoundID == vote.RoundID && v.VoterPlayerID == vote.VoterPlayerID {
			m.mu.Unlock()
			return errs.Conflictf("player %s already voted in round %s", vote.VoterPlayerID, vote.RoundID)
		}
	}
	now := m.now()
	if vote.CreatedAt.IsZero() {
		vote.CreatedAt = now
	}
	vote.UpdatedAt = now
	cp := *vote
	m.votes[vote.ID] = &cp
	c := models.Change{Table: models.TableVotes, Op: models.OpInsert, ID: vote.ID, RoomID: round.RoomID, RoundID: round.ID, PlayerID: vote.VoterPlayerID}
	m.mu.Unlock()

	m.publish(c)
	return nil
}

func (m *MemoryStore) UpsertVote(ctx context.Context, vote *models.Vote) error {
	m.mu.Lock()
	round, ok := m.rounds[vote.RoundID]
	if !ok {
		m.mu.Unlock()
		return errs.NotFoundf("round %s", vote.RoundID)
	}
	for _, v := range m.votes {
		if v.RoundID == vote.RoundID && v.VoterPlayerID == vote.VoterPlayerID {
			v.SubmissionID = vote.SubmissionID
			v.UpdatedAt = m.now()
			*vote = *v
			c := models.Change{Table: models.TableVotes, Op: models.OpUpdate, ID: v.ID, RoomID: round.RoomID, RoundID: round.ID, PlayerID: v.VoterPlayerID}
			m.mu.Unlock()
			m.publish(c)
			return nil
		}
	}
	m.mu.Unlock()
	return m.CreateVote(ctx, vote)
}

func (m *MemoryStore) ListVotes(ctx context.Context, roundID string) ([]models.Vote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Vote
	for _, v := range m.votes {
		if v.RoundID == roundID {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) CountVoters(ctx context.Context, roundID string) (int, error) {
	votes, err := m.ListVotes(ctx, roundID)
	if err != nil {
		return 0, err
	}
	voters := make(map[string]struct{}, len(votes))
	for _, v := range votes {
		voters[v.VoterPlayerID] = struct{}{}
	}
	return len(voters), nil
}

// ---- scoring ----

func (m *MemoryStore) FinalizeRound(ctx context.Context, roundID string) ([]models.RoundWinner, bool, error) {
	m.mu.Lock()
	round, ok := m.rounds[roundID]
	if !ok {
		m.mu.Unlock()
		return nil, false, errs.NotFoundf("round %s", roundID)
	}
	if round.Status != models.RoundVoting {
		m.mu.Unlock()
		return nil, false, nil
	}

	var subs []models.Submission
	for _, s := range m.submissions {
		if s.RoundID == roundID {
			subs = append(subs, *s)
		}
	}
	var votes []models.Vote
	for _, v := range m.votes {
		if v.RoundID == roundID {
			votes = append(votes, *v)
		}
	}

	now := m.now()
	round.Status = models.RoundDone
	round.UpdatedAt = now

	var rows []models.RoundWinner
	for _, w := range scoring.Tally(subs, votes) {
		rows = append(rows, models.RoundWinner{
			RoundID:      roundID,
			PlayerID:     w.PlayerID,
			RoomID:       round.RoomID,
			SubmissionID: w.SubmissionID,
			Votes:        w.Votes,
			CreatedAt:    now,
		})
	}
	m.winners[roundID] = rows
	c := roundChange(models.OpUpdate, round)
	m.mu.Unlock()

	m.publish(c)
	return append([]models.RoundWinner(nil), rows...), true, nil
}

func (m *MemoryStore) ListRoundWinners(ctx context.Context, roundID string) ([]models.RoundWinner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.RoundWinner(nil), m.winners[roundID]...), nil
}

func (m *MemoryStore) RoomScores(ctx context.Context, roomID string) ([]models.RoomScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	points := make(map[string]int)
	for _, rows := range m.winners {
		for _, w := range rows {
			if w.RoomID == roomID {
				points[w.PlayerID]++
			}
		}
	}
	out := make([]models.RoomScore, 0, len(points))
	for playerID, n := range points {
		out = append(out, models.RoomScore{RoomID: roomID, PlayerID: playerID, Points: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Points == out[j].Points {
			return out[i].PlayerID < out[j].PlayerID
		}
		return out[i].Points > out[j].Points
	})
	return out, nil
}

// ---- events ----

func (m *MemoryStore) RecordEvent(ctx context.Context, event *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = uint(len(m.events) + 1)
	if event.CreatedAt.IsZero() {
		event.CreatedAt = m.now()
	}
	m.events = append(m.events, *event)
	return nil
}

// Events 返回记录的审计事件（仅内存实现提供）
func (m *MemoryStore) Events(roomID string) []models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Event
	for _, e := range m.events {
		if e.RoomID == roomID {
			out = append(out, e)
		}
	}
	return out
}

func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
