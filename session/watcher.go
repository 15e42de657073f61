package session

import (
	"context"
	"time"

	"github.com/wfunc/picklo/broadcast"
	"github.com/wfunc/picklo/engine"
	"github.com/wfunc/picklo/logger"
	"github.com/wfunc/picklo/models"
	"github.com/wfunc/picklo/network"
	"github.com/wfunc/picklo/state"
)

// Driver is the part of the round engine a watcher uses.
type Driver interface {
	View(ctx context.Context, roomID, playerID string) (*engine.View, error)
	AdvanceIfReady(ctx context.Context, roundID string) (engine.Advance, error)
	ScheduleAdvance(roundID string) bool
}

// Watcher keeps one session in sync with its room. Every change notification
// for the room triggers a fresh read, a readiness check, and a pushed view.
// Notification contents are never trusted.
type Watcher struct {
	sess   *Session
	hub    *broadcast.Hub
	driver Driver
	resync time.Duration
}

// NewWatcher 创建同步器；resync > 0 时即使没有通知也定期重新读取
func NewWatcher(sess *Session, hub *broadcast.Hub, driver Driver, resync time.Duration) *Watcher {
	return &Watcher{sess: sess, hub: hub, driver: driver, resync: resync}
}

// Run 阻塞直到 ctx 结束或 Hub 关闭
func (w *Watcher) Run(ctx context.Context) {
	roomID, _ := w.sess.Identity()
	sub := w.hub.Subscribe(broadcast.Filter{RoomID: roomID})
	defer func() { sub.Close() }()

	var tick <-chan time.Time
	if w.resync > 0 {
		t := time.NewTicker(w.resync)
		defer t.Stop()
		tick = t.C
	}

	w.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			w.Refresh(ctx)
		case _, ok := <-sub.C:
			if !ok {
				if w.hub.Closed() {
					return
				}
				// 被判定为过慢后重新订阅，期间的通知可能丢失
				logger.Log.Debugw("watcher resubscribing", "session", w.sess.ID, "room", roomID)
				sub = w.hub.Subscribe(broadcast.Filter{RoomID: roomID})
			}
			drain(sub.C)
			w.Refresh(ctx)
		}
	}
}

// drain discards queued notifications; one refresh covers all of them.
func drain(c <-chan models.Change) {
	for {
		select {
		case _, ok := <-c:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Refresh re-reads the room, nudges the round forward if it is ready, and
// pushes the resulting view to the client.
func (w *Watcher) Refresh(ctx context.Context) {
	roomID, playerID := w.sess.Identity()
	view, err := w.driver.View(ctx, roomID, playerID)
	if err != nil {
		logger.Log.Warnw("watcher view failed", "session", w.sess.ID, "room", roomID, "error", err)
		return
	}

	if view.Room.Phase == models.PhasePlaying && view.Round != nil {
		switch view.Round.Status {
		case models.RoundCollecting, models.RoundVoting:
			adv, err := w.driver.AdvanceIfReady(ctx, view.Round.ID)
			if err != nil {
				logger.Log.Warnw("watcher advance failed", "round", view.Round.ID, "error", err)
			} else if len(adv.Applied) > 0 {
				if fresh, err := w.driver.View(ctx, roomID, playerID); err == nil {
					view = fresh
				}
			}
		}
		if state.RoundStatuses.Terminal(view.Round.Status) {
			w.driver.ScheduleAdvance(view.Round.ID)
		}
	}

	if err := w.sess.SendJSON(network.MsgTypeView, view); err != nil {
		logger.Log.Debugw("watcher send failed", "session", w.sess.ID, "error", err)
	}
}
