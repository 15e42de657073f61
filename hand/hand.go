// Package hand manages each player's hand of images: picking, resizing,
// uploading, and locking an image once it is played.
package hand

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/wfunc/picklo/blob"
	"github.com/wfunc/picklo/errs"
	"github.com/wfunc/picklo/logger"
	"github.com/wfunc/picklo/models"
	"github.com/wfunc/picklo/monitor"
	"github.com/wfunc/picklo/persistence"
)

const (
	MaxWidth    = 1024
	JPEGQuality = 60
)

// ErrHandFull is reported for uploads beyond the remaining hand slots.
var ErrHandFull = fmt.Errorf("%w: hand is full", errs.ErrValidation)

// Upload 一张待上传的原始图片
type Upload struct {
	Data []byte
}

// PickResult 按输入位置返回的单张处理结果
type PickResult struct {
	Index   int                 `json:"index"`
	Image   *models.PlayerImage `json:"image,omitempty"`
	Skipped bool                `json:"skipped,omitempty"`
	Err     error               `json:"-"`
}

// Store 手牌存储
type Store struct {
	store       persistence.Store
	blobs       blob.Store
	monitor     *monitor.Monitor
	handSize    int
	concurrency int
	now         func() time.Time
}

func New(store persistence.Store, blobs blob.Store, mon *monitor.Monitor, handSize, concurrency int) *Store {
	if concurrency <= 0 {
		concurrency = 3
	}
	return &Store{
		store:       store,
		blobs:       blobs,
		monitor:     mon,
		handSize:    handSize,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// HandSize 每个玩家需要的图片数
func (s *Store) HandSize() int {
	return s.handSize
}

// Pick 处理玩家选择的图片。每张图片独立处理，失败不会回滚其他图片；
// 超出剩余名额的图片标记为 Skipped。上限最终由存储在插入时检查，
// 同一玩家并发 Pick 时多出的图片同样标记为 Skipped。
func (s *Store) Pick(ctx context.Context, roomID, playerID string, uploads []Upload) ([]PickResult, error) {
	if len(uploads) == 0 {
		return nil, errs.Validationf("no images")
	}
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Phase != models.PhaseLobby && room.Phase != models.PhasePicking {
		return nil, errs.Validationf("room %s is %s, hands are closed", roomID, room.Phase)
	}
	player, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if player.RoomID != roomID {
		return nil, errs.Validationf("player %s is not in room %s", playerID, roomID)
	}

	have, err := s.store.CountPlayerImages(ctx, roomID, playerID, false)
	if err != nil {
		return nil, err
	}
	remaining := s.handSize - have

	results := make([]PickResult, len(uploads))
	stamp := s.now().UnixMilli()
	p := pool.New().WithMaxGoroutines(s.concurrency)
	for i, up := range uploads {
		results[i].Index = i
		if i >= remaining {
			results[i].Skipped = true
			results[i].Err = ErrHandFull
			continue
		}
		p.Go(func() {
			img, err := s.processOne(ctx, roomID, playerID, stamp, i, up)
			results[i].Image = img
			results[i].Err = err
			if errors.Is(err, ErrHandFull) {
				// 并发的 Pick 先占满了手牌
				results[i].Skipped = true
				s.monitor.IncUpload("skipped")
				return
			}
			if err != nil {
				s.monitor.IncUpload("failed")
				logger.Log.Warnw("hand upload failed", "room", roomID, "player", playerID, "index", i, "error", err)
				return
			}
			s.monitor.IncUpload("ok")
		})
	}
	p.Wait()
	return results, nil
}

func (s *Store) processOne(ctx context.Context, roomID, playerID string, stamp int64, index int, up Upload) (*models.PlayerImage, error) {
	data, err := Normalize(up.Data)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	// 同一毫秒内的并发 Pick 会得到相同的 stamp 和 index，用 id 前缀区分
	key := fmt.Sprintf("%s/hand/%s-%d-%d-%s.jpg", roomID, playerID, stamp, index, id[:8])
	if err := s.blobs.Upload(ctx, key, data, "image/jpeg"); err != nil {
		return nil, fmt.Errorf("upload %s: %w", key, err)
	}
	img := &models.PlayerImage{
		ID:        id,
		RoomID:    roomID,
		PlayerID:  playerID,
		ImagePath: key,
		CreatedAt: s.now(),
	}
	if err := s.store.CreatePlayerImage(ctx, img, s.handSize); err != nil {
		if derr := s.blobs.Delete(ctx, key); derr != nil {
			logger.Log.Warnw("orphaned hand blob", "key", key, "error", derr)
		}
		if errors.Is(err, persistence.ErrLimitReached) {
			return nil, ErrHandFull
		}
		return nil, err
	}
	return img, nil
}

// Normalize decodes an image, shrinks it to at most MaxWidth pixels wide and
// re-encodes it as JPEG.
func Normalize(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errs.Validationf("decode image: %v", err)
	}
	b := src.Bounds()
	var out image.Image = src
	if b.Dx() > MaxWidth {
		h := b.Dy() * MaxWidth / b.Dx()
		if h < 1 {
			h = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, MaxWidth, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
		out = dst
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Available 未使用的图片，按创建时间排序
func (s *Store) Available(ctx context.Context, roomID, playerID string) ([]models.PlayerImage, error) {
	return s.store.ListPlayerImages(ctx, roomID, playerID, true)
}

// Hand 玩家的全部图片，包括已经打出的
func (s *Store) Hand(ctx context.Context, roomID, playerID string) ([]models.PlayerImage, error) {
	return s.store.ListPlayerImages(ctx, roomID, playerID, false)
}

// Lock 标记图片在某回合中使用；返回 false 表示已被使用或不属于该玩家
func (s *Store) Lock(ctx context.Context, imageID, playerID, roundID string) (bool, error) {
	return s.store.LockPlayerImage(ctx, imageID, playerID, roundID)
}

// Ready 玩家是否已经选满手牌
func (s *Store) Ready(ctx context.Context, roomID, playerID string) (bool, error) {
	n, err := s.store.CountPlayerImages(ctx, roomID, playerID, true)
	if err != nil {
		return false, err
	}
	return n >= s.handSize, nil
}

// ReadyCount 房间里选满手牌的玩家数量
func (s *Store) ReadyCount(ctx context.Context, roomID string) (ready, total int, err error) {
	players, err := s.store.ListPlayers(ctx, roomID)
	if err != nil {
		return 0, 0, err
	}
	for _, p := range players {
		ok, err := s.Ready(ctx, roomID, p.ID)
		if err != nil {
			return 0, 0, err
		}
		if ok {
			ready++
		}
	}
	return ready, len(players), nil
}

// PublicURL 图片的公开地址
func (s *Store) PublicURL(path string) string {
	return s.blobs.PublicURL(path)
}

// Failed reports the errors of a pick, skipping hand-full reports.
func Failed(results []PickResult) []error {
	var out []error
	for _, r := range results {
		if r.Err != nil && !errors.Is(r.Err, ErrHandFull) {
			out = append(out, r.Err)
		}
	}
	return out
}
