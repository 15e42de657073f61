// broadcast/broadcast.go
package broadcast

import (
	"sync"

	"github.com/wfunc/picklo/models"
)

// Publisher 接收数据存储的行级变更
type Publisher interface {
	Publish(change models.Change)
}

// Filter 订阅过滤条件；空字段表示不过滤。
// 没有 RoomID 或 Table 的变更（例如重连后的全量同步提示）会发给所有订阅者。
type Filter struct {
	RoomID string
	Tables []string
}

func (f Filter) match(c models.Change) bool {
	if f.RoomID != "" && c.RoomID != "" && f.RoomID != c.RoomID {
		return false
	}
	if len(f.Tables) == 0 || c.Table == "" {
		return true
	}
	for _, t := range f.Tables {
		if t == c.Table {
			return true
		}
	}
	return false
}

// Subscription 一个订阅。C 被关闭表示订阅已失效（过慢或 Hub 关闭），
// 调用方应重新订阅并从存储重新读取状态。
type Subscription struct {
	C   <-chan models.Change
	id  uint64
	hub *Hub
}

// Close 取消订阅
func (s *Subscription) Close() {
	s.hub.unsubscribe(s.id)
}

type subscriber struct {
	filter Filter
	ch     chan models.Change
}

// Hub 进程内的变更通知分发器
type Hub struct {
	subs   map[uint64]*subscriber
	nextID uint64
	buffer int
	closed bool
	mutex  sync.Mutex
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   make(map[uint64]*subscriber),
		buffer: buffer,
	}
}

// Subscribe 注册一个过滤订阅
func (h *Hub) Subscribe(filter Filter) *Subscription {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	ch := make(chan models.Change, h.buffer)
	h.nextID++
	id := h.nextID
	if h.closed {
		close(ch)
	} else {
		h.subs[id] = &subscriber{filter: filter, ch: ch}
	}
	return &Subscription{C: ch, id: id, hub: h}
}

// Publish 非阻塞投递；缓冲区已满的订阅者会被移除并关闭通道
func (h *Hub) Publish(change models.Change) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for id, s := range h.subs {
		if !s.filter.match(change) {
			continue
		}
		select {
		case s.ch <- change:
		default:
			close(s.ch)
			delete(h.subs, id)
		}
	}
}

func (h *Hub) unsubscribe(id uint64) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if s, exists := h.subs[id]; exists {
		close(s.ch)
		delete(h.subs, id)
	}
}

// Count 当前订阅数
func (h *Hub) Count() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.subs)
}

// Close 关闭所有订阅
func (h *Hub) Close() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for id, s := range h.subs {
		close(s.ch)
		delete(h.subs, id)
	}
	h.closed = true
}

// Closed reports whether Close has been called.
func (h *Hub) Closed() bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.closed
}

// Rooms 有订阅者的房间数
func (h *Hub) Rooms() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	rooms := make(map[string]struct{})
	for _, s := range h.subs {
		if s.filter.RoomID != "" {
			rooms[s.filter.RoomID] = struct{}{}
		}
	}
	return len(rooms)
}
