// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/wfunc/picklo/errs"
	"github.com/wfunc/picklo/models"
	"github.com/wfunc/picklo/scoring"
)

// PostgresOptions 连接参数
type PostgresOptions struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string

	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DSN 返回 keyword/value 形式的连接串，gorm 和 lib/pq 都可以使用
func (o PostgresOptions) DSN() string {
	sslmode := o.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		o.Host, o.Port, o.User, o.Password, o.DBName, sslmode)
}

// GormPostgreSQL 使用GORM的PostgreSQL实现
type GormPostgreSQL struct {
	db *gorm.DB
}

// NewGormPostgreSQL 创建GORM PostgreSQL数据库连接
func NewGormPostgreSQL(opts PostgresOptions) (*GormPostgreSQL, error) {
	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      logger.Silent,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(postgres.Open(opts.DSN()), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 10
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 100
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = time.Hour
	}
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)

	return &GormPostgreSQL{db: db}, nil
}

// DB 返回底层连接，供迁移使用
func (p *GormPostgreSQL) DB() *gorm.DB {
	return p.db
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func wrapCreate(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return errs.Conflictf(format, args...)
	}
	return err
}

func wrapFirst(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.NotFoundf(format, args...)
	}
	return err
}

// ---- rooms ----

func (p *GormPostgreSQL) CreateRoom(ctx context.Context, room *models.Room) error {
	if room.Phase == "" {
		room.Phase = models.PhaseLobby
	}
	err := p.db.WithContext(ctx).Create(room).Error
	return wrapCreate(err, "room code %s taken", room.Code)
}

func (p *GormPostgreSQL) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	var room models.Room
	if err := p.db.WithContext(ctx).Where("id = ?", id).First(&room).Error; err != nil {
		return nil, wrapFirst(err, "room %s", id)
	}
	return &room, nil
}

func (p *GormPostgreSQL) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	var room models.Room
	if err := p.db.WithContext(ctx).Where("code = ?", code).First(&room).Error; err != nil {
		return nil, wrapFirst(err, "room code %s", code)
	}
	return &room, nil
}

func (p *GormPostgreSQL) SetRoomHost(ctx context.Context, roomID, playerID string) (bool, error) {
	res := p.db.WithContext(ctx).Model(&models.Room{}).
		Where("id = ? AND host_player_id IS NULL", roomID).
		Update("host_player_id", playerID)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := p.GetRoom(ctx, roomID); err != nil {
			return false, err
		}
	}
	return res.RowsAffected == 1, nil
}

func (p *GormPostgreSQL) CompareAndSetPhase(ctx context.Context, roomID string, from, to models.Phase) (bool, error) {
	res := p.db.WithContext(ctx).Model(&models.Room{}).
		Where("id = ? AND phase = ?", roomID, from).
		Update("phase", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (p *GormPostgreSQL) FreezeExpectedPlayers(ctx context.Context, roomID string) (int, error) {
	err := p.db.WithContext(ctx).Exec(
		`UPDATE rooms SET expected_players = (SELECT count(*) FROM players WHERE room_id = ?), updated_at = now()
		 WHERE id = ? AND expected_players = 0`, roomID, roomID).Error
	if err != nil {
		return 0, err
	}
	room, err := p.GetRoom(ctx, roomID)
	if err != nil {
		return 0, err
	}
	return room.ExpectedPlayers, nil
}

func (p *GormPostgreSQL) SetRoomPremium(ctx context.Context, roomID string, premium bool) error {
	res := p.db.WithContext(ctx).Model(&models.Room{}).Where("id = ?", roomID).Update("premium", premium)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.NotFoundf("room %s", roomID)
	}
	return nil
}

// ---- players ----

func (p *GormPostgreSQL) CreatePlayer(ctx context.Context, player *models.Player) error {
	if player.JoinedAt.IsZero() {
		player.JoinedAt = time.Now()
	}
	err := p.db.WithContext(ctx).Create(player).Error
	return wrapCreate(err, "player %s exists", player.ID)
}

func (p *GormPostgreSQL) GetPlayer(ctx context.Context, id string) (*models.Player, error) {
	var player models.Player
	if err := p.db.WithContext(ctx).Where("id = ?", id).First(&player).Error; err != nil {
		return nil, wrapFirst(err, "player %s", id)
	}
	return &player, nil
}

func (p *GormPostgreSQL) ListPlayers(ctx context.Context, roomID string) ([]models.Player, error) {
	var players []models.Player
	err := p.db.WithContext(ctx).Where("room_id = ?", roomID).Order("joined_at ASC, id ASC").Find(&players).Error
	return players, err
}

func (p *GormPostgreSQL) CountPlayers(ctx context.Context, roomID string) (int, error) {
	var n int64
	err := p.db.WithContext(ctx).Model(&models.Player{}).Where("room_id = ?", roomID).Count(&n).Error
	return int(n), err
}

// ---- hand images ----

// CreatePlayerImage 锁住玩家行后重新计数，同一玩家的并发插入在此串行
func (p *GormPostgreSQL) CreatePlayerImage(ctx context.Context, image *models.PlayerImage, limit int) error {
	if limit <= 0 {
		err := p.db.WithContext(ctx).Create(image).Error
		return wrapCreate(err, "image %s exists", image.ID)
	}
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var player models.Player
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND room_id = ?", image.PlayerID, image.RoomID).
			First(&player).Error
		if err != nil {
			return wrapFirst(err, "player %s in room %s", image.PlayerID, image.RoomID)
		}
		var held int64
		err = tx.Model(&models.PlayerImage{}).
			Where("room_id = ? AND player_id = ?", image.RoomID, image.PlayerID).
			Count(&held).Error
		if err != nil {
			return err
		}
		if int(held) >= limit {
			return fmt.Errorf("player %s holds %d images: %w", image.PlayerID, held, ErrLimitReached)
		}
		return wrapCreate(tx.Create(image).Error, "image %s exists", image.ID)
	})
}

func (p *GormPostgreSQL) GetPlayerImage(ctx context.Context, id string) (*models.PlayerImage, error) {
	var img models.PlayerImage
	if err := p.db.WithContext(ctx).Where("id = ?", id).First(&img).Error; err != nil {
		return nil, wrapFirst(err, "image %s", id)
	}
	return &img, nil
}

func (p *GormPostgreSQL) imagesQuery(ctx context.Context, roomID, playerID string, availableOnly bool) *gorm.DB {
	q := p.db.WithContext(ctx).Model(&models.PlayerImage{}).Where("room_id = ? AND player_id = ?", roomID, playerID)
	if availableOnly {
		q = q.Where("used_in_round_id IS NULL")
	}
	return q
}

func (p *GormPostgreSQL) ListPlayerImages(ctx context.Context, roomID, playerID string, availableOnly bool) ([]models.PlayerImage, error) {
	var imgs []models.PlayerImage
	err := p.imagesQuery(ctx, roomID, playerID, availableOnly).Order("created_at ASC, id ASC").Find(&imgs).Error
	return imgs, err
}

func (p *GormPostgreSQL) CountPlayerImages(ctx context.Context, roomID, playerID string, availableOnly bool) (int, error) {
	var n int64
	err := p.imagesQuery(ctx, roomID, playerID, availableOnly).Count(&n).Error
	return int(n), err
}

func (p *GormPostgreSQL) LockPlayerImage(ctx context.Context, imageID, playerID, roundID string) (bool, error) {
	res := p.db.WithContext(ctx).Model(&models.PlayerImage{}).
		Where("id = ? AND player_id = ? AND used_in_round_id IS NULL", imageID, playerID).
		Update("used_in_round_id", roundID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ---- rounds ----

func (p *GormPostgreSQL) CreateRound(ctx context.Context, round *models.Round) error {
	err := p.db.WithContext(ctx).Create(round).Error
	return wrapCreate(err, "round %d already exists in room %s", round.RoundNumber, round.RoomID)
}

func (p *GormPostgreSQL) GetRound(ctx context.Context, id string) (*models.Round, error) {
	var round models.Round
	if err := p.db.WithContext(ctx).Where("id = ?", id).First(&round).Error; err != nil {
		return nil, wrapFirst(err, "round %s", id)
	}
	return &round, nil
}

func (p *GormPostgreSQL) LatestRound(ctx context.Context, roomID string) (*models.Round, error) {
	var round models.Round
	err := p.db.WithContext(ctx).Where("room_id = ?", roomID).Order("round_number DESC").First(&round).Error
	if err != nil {
		return nil, wrapFirst(err, "no round in room %s", roomID)
	}
	return &round, nil
}

func (p *GormPostgreSQL) ListRoundStatements(ctx context.Context, roomID string) ([]string, error) {
	var out []string
	err := p.db.WithContext(ctx).Model(&models.Round{}).Where("room_id = ?", roomID).
		Order("round_number ASC").Pluck("statement", &out).Error
	return out, err
}

func (p *GormPostgreSQL) CompareAndSetRoundStatus(ctx context.Context, roundID string, from, to models.RoundStatus) (bool, error) {
	res := p.db.WithContext(ctx).Model(&models.Round{}).
		Where("id = ? AND status = ?", roundID, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ---- submissions ----

func (p *GormPostgreSQL) CreateSubmission(ctx context.Context, submission *models.Submission) error {
	err := p.db.WithContext(ctx).Create(submission).Error
	return wrapCreate(err, "player %s already submitted in round %s", submission.PlayerID, submission.RoundID)
}

func (p *GormPostgreSQL) ListSubmissions(ctx context.Context, roundID string) ([]models.Submission, error) {
	var subs []models.Submission
	err := p.db.WithContext(ctx).Where("round_id = ?", roundID).Order("created_at ASC, id ASC").Find(&subs).Error
	return subs, err
}

func (p *GormPostgreSQL) CountSubmissions(ctx context.Context, roundID string) (int, error) {
	var n int64
	err := p.db.WithContext(ctx).Model(&models.Submission{}).Where("round_id = ?", roundID).Count(&n).Error
	return int(n), err
}

// ---- votes ----

func (p *GormPostgreSQL) CreateVote(ctx context.Context, vote *models.Vote) error {
	err := p.db.WithContext(ctx).Create(vote).Error
	return wrapCreate(err, "player %s already voted in round %s", vote.VoterPlayerID, vote.RoundID)
}

func (p *GormPostgreSQL) UpsertVote(ctx context.Context, vote *models.Vote) error {
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "round_id"}, {Name: "voter_player_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"submission_id", "updated_at"}),
	}).Create(vote).Error
}

func (p *GormPostgreSQL) ListVotes(ctx context.Context, roundID string) ([]models.Vote, error) {
	var votes []models.Vote
	err := p.db.WithContext(ctx).Where("round_id = ?", roundID).Order("id ASC").Find(&votes).Error
	return votes, err
}

func (p *GormPostgreSQL) CountVoters(ctx context.Context, roundID string) (int, error) {
	var n int64
	err := p.db.WithContext(ctx).Model(&models.Vote{}).Where("round_id = ?", roundID).
		Distinct("voter_player_id").Count(&n).Error
	return int(n), err
}

// ---- scoring ----

// FinalizeRound 在一个事务里锁住回合行、切换到 done 并写入胜者
func (p *GormPostgreSQL) FinalizeRound(ctx context.Context, roundID string) ([]models.RoundWinner, bool, error) {
	var rows []models.RoundWinner
	won := false

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var round models.Round
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", roundID).First(&round).Error; err != nil {
			return wrapFirst(err, "round %s", roundID)
		}
		if round.Status != models.RoundVoting {
			return nil
		}

		var subs []models.Submission
		if err := tx.Where("round_id = ?", roundID).Find(&subs).Error; err != nil {
			return err
		}
		var votes []models.Vote
		if err := tx.Where("round_id = ?", roundID).Find(&votes).Error; err != nil {
			return err
		}

		res := tx.Model(&models.Round{}).
			Where("id = ? AND status = ?", roundID, models.RoundVoting).
			Update("status", models.RoundDone)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		now := time.Now()
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
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		won = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return rows, won, nil
}

func (p *GormPostgreSQL) ListRoundWinners(ctx context.Context, roundID string) ([]models.RoundWinner, error) {
	var rows []models.RoundWinner
	err := p.db.WithContext(ctx).Where("round_id = ?", roundID).Order("player_id ASC").Find(&rows).Error
	return rows, err
}

func (p *GormPostgreSQL) RoomScores(ctx context.Context, roomID string) ([]models.RoomScore, error) {
	var scores []models.RoomScore
	err := p.db.WithContext(ctx).Where("room_id = ?", roomID).Order("points DESC, player_id ASC").Find(&scores).Error
	return scores, err
}

// ---- events ----

func (p *GormPostgreSQL) RecordEvent(ctx context.Context, event *models.Event) error {
	if len(event.Payload) == 0 {
		event.Payload = datatypes.JSON("{}")
	}
	return p.db.WithContext(ctx).Create(event).Error
}

func (p *GormPostgreSQL) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ Store = (*GormPostgreSQL)(nil)
