package timer

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestManager_AddTimerFires(t *testing.T) {
	m := NewManager(5 * time.Millisecond)
	defer m.Stop()

	fired := make(chan struct{}, 1)
	m.AddTimer(10*time.Millisecond, 0, func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	if m.Pending() != 0 {
		t.Errorf("one-shot timer should be gone, %d pending", m.Pending())
	}
}

func TestManager_AddOnceDeduplicates(t *testing.T) {
	m := NewManager(5 * time.Millisecond)
	defer m.Stop()

	var calls int32
	if !m.AddOnce("round-1", 20*time.Millisecond, func() { atomic.AddInt32(&calls, 1) }) {
		t.Fatal("first AddOnce should be accepted")
	}
	if m.AddOnce("round-1", 20*time.Millisecond, func() { atomic.AddInt32(&calls, 1) }) {
		t.Fatal("second AddOnce with the same key should be rejected")
	}

	time.Sleep(100 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("callback ran %d times, want 1", got)
	}
	if !m.AddOnce("round-1", time.Hour, func() {}) {
		t.Error("key should be free again after firing")
	}
}

func TestManager_RemoveTimer(t *testing.T) {
	m := NewManager(5 * time.Millisecond)
	defer m.Stop()

	var calls int32
	id := m.AddTimer(30*time.Millisecond, 0, func() { atomic.AddInt32(&calls, 1) })
	m.RemoveTimer(id)

	time.Sleep(80 * time.Millisecond)
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("removed timer should not fire")
	}
}
