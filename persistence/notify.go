// persistence/notify.go
package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/wfunc/picklo/broadcast"
	"github.com/wfunc/picklo/logger"
	"github.com/wfunc/picklo/models"
)

// ChangeChannel 触发器使用的 NOTIFY 通道
const ChangeChannel = "picklo_changes"

// ChangeListener 把 PostgreSQL LISTEN/NOTIFY 转发到进程内的 Hub
type ChangeListener struct {
	listener  *pq.Listener
	publisher broadcast.Publisher
	channel   string
}

// NewChangeListener 打开一个独立的监听连接
func NewChangeListener(dsn string, publisher broadcast.Publisher) (*ChangeListener, error) {
	report := func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			logger.Log.Warnw("change listener connection problem", "event", ev, "error", err)
		case pq.ListenerEventReconnected:
			logger.Log.Infow("change listener reconnected")
		}
	}
	l := pq.NewListener(dsn, 10*time.Second, time.Minute, report)
	if err := l.Listen(ChangeChannel); err != nil {
		l.Close()
		return nil, err
	}
	return &ChangeListener{listener: l, publisher: publisher, channel: ChangeChannel}, nil
}

// Run 转发通知直到 ctx 结束
func (c *ChangeListener) Run(ctx context.Context) {
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-c.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// 重连期间可能丢了通知，让所有订阅者重新读取
				c.publisher.Publish(models.Change{})
				continue
			}
			change, err := decodeChange(n.Extra)
			if err != nil {
				logger.Log.Warnw("bad change payload", "payload", n.Extra, "error", err)
				continue
			}
			c.publisher.Publish(change)
		case <-ping.C:
			go func() {
				if err := c.listener.Ping(); err != nil {
					logger.Log.Debugw("change listener ping failed", "error", err)
				}
			}()
		}
	}
}

func decodeChange(payload string) (models.Change, error) {
	var change models.Change
	err := json.Unmarshal([]byte(payload), &change)
	return change, err
}

// Close 关闭监听连接
func (c *ChangeListener) Close() error {
	return c.listener.Close()
}
