// timer/timer.go
package timer

import (
	"container/heap"
	"sync"
	"time"
)

// Task 一个定时任务。Key 非空时同一个 Key 同时只会有一个待执行任务
type Task struct {
	ID       int64
	Key      string
	Execute  time.Time
	Interval time.Duration
	Callback func()
	index    int
}

type taskQueue []*Task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	return q[i].Execute.Before(q[j].Execute)
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x interface{}) {
	n := len(*q)
	task := x.(*Task)
	task.index = n
	*q = append(*q, task)
}

func (q *taskQueue) Pop() interface{} {
	old := *q
	n := len(old)
	task := old[n-1]
	task.index = -1
	*q = old[0 : n-1]
	return task
}

// Manager 基于最小堆的定时器，按 tick 精度触发回调
type Manager struct {
	queue  taskQueue
	keys   map[string]*Task
	mutex  sync.Mutex
	nextID int64
	tick   time.Duration
	done   chan struct{}
	once   sync.Once
}

// NewManager 创建并启动定时器；tick <= 0 时使用 100ms
func NewManager(tick time.Duration) *Manager {
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	m := &Manager{
		queue:  make(taskQueue, 0),
		keys:   make(map[string]*Task),
		nextID: 1,
		tick:   tick,
		done:   make(chan struct{}),
	}
	heap.Init(&m.queue)
	go m.process()
	return m
}

// AddTimer 在 delay 之后执行 callback；interval > 0 时重复执行
func (m *Manager) AddTimer(delay time.Duration, interval time.Duration, callback func()) int64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.pushLocked("", delay, interval, callback).ID
}

// AddOnce 与 AddTimer 相同，但 key 已有待执行任务时不再添加并返回 false
func (m *Manager) AddOnce(key string, delay time.Duration, callback func()) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.keys[key]; ok {
		return false
	}
	m.pushLocked(key, delay, 0, callback)
	return true
}

func (m *Manager) pushLocked(key string, delay, interval time.Duration, callback func()) *Task {
	task := &Task{
		ID:       m.nextID,
		Key:      key,
		Execute:  time.Now().Add(delay),
		Interval: interval,
		Callback: callback,
	}
	m.nextID++
	heap.Push(&m.queue, task)
	if key != "" {
		m.keys[key] = task
	}
	return task
}

// RemoveTimer 取消一个任务
func (m *Manager) RemoveTimer(id int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for i, task := range m.queue {
		if task.ID == id {
			heap.Remove(&m.queue, i)
			if task.Key != "" {
				delete(m.keys, task.Key)
			}
			break
		}
	}
}

// Pending 待执行任务数
func (m *Manager) Pending() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.queue.Len()
}

// Stop 停止调度，未执行的任务被丢弃
func (m *Manager) Stop() {
	m.once.Do(func() { close(m.done) })
}

func (m *Manager) process() {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case now := <-ticker.C:
			for _, cb := range m.due(now) {
				go cb()
			}
		}
	}
}

func (m *Manager) due(now time.Time) []func() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var ready []func()
	for m.queue.Len() > 0 {
		task := m.queue[0]
		if task.Execute.After(now) {
			break
		}
		heap.Pop(&m.queue)
		ready = append(ready, task.Callback)

		if task.Interval > 0 {
			task.Execute = now.Add(task.Interval)
			heap.Push(&m.queue, task)
		} else if task.Key != "" {
			delete(m.keys, task.Key)
		}
	}
	return ready
}
