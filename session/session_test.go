package session

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/wfunc/picklo/broadcast"
	"github.com/wfunc/picklo/engine"
	"github.com/wfunc/picklo/models"
	"github.com/wfunc/picklo/network"
)

// MockConnection is a test double for the network.Connection interface.
type MockConnection struct {
	mu   sync.Mutex
	sent []uint16
}

func (m *MockConnection) Send(msgID uint16, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msgID)
	return nil
}
func (m *MockConnection) Close() error                         { return nil }
func (m *MockConnection) RemoteAddr() net.Addr                 { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration)  {}
func (m *MockConnection) ReadPacket() (*network.Packet, error) { return nil, nil }

func (m *MockConnection) count(msgID uint16) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range m.sent {
		if id == msgID {
			n++
		}
	}
	return n
}

// MockDriver is a test double for Driver.
type MockDriver struct {
	mu        sync.Mutex
	status    models.RoundStatus
	views     int
	advances  int
	scheduled []string
}

func (d *MockDriver) View(ctx context.Context, roomID, playerID string) (*engine.View, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.views++
	v := &engine.View{Room: models.Room{ID: roomID, Phase: models.PhasePlaying}}
	if d.status != "" {
		v.Round = &engine.RoundView{Round: models.Round{ID: "round-1", Status: d.status}}
	}
	return v, nil
}

func (d *MockDriver) AdvanceIfReady(ctx context.Context, roundID string) (engine.Advance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advances++
	return engine.Advance{RoundID: roundID, Status: d.status}, nil
}

func (d *MockDriver) ScheduleAdvance(roundID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scheduled = append(d.scheduled, roundID)
	return true
}

func (d *MockDriver) snapshot() (views, advances, scheduled int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.views, d.advances, len(d.scheduled)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestNewManager(t *testing.T) {
	manager := NewManager()
	if manager == nil {
		t.Fatal("NewManager should not return nil")
	}
	if manager.sessions == nil {
		t.Fatal("NewManager should initialize the sessions map")
	}
}

func TestManager_Add_Get_Remove(t *testing.T) {
	manager := NewManager()
	sess := NewSession("test_session_1", &MockConnection{})
	sess.Attach("room-1", "player-1")
	other := NewSession("test_session_2", &MockConnection{})

	manager.Add(sess)
	manager.Add(other)
	if manager.Count() != 2 {
		t.Fatalf("Expected session count to be 2, got %d", manager.Count())
	}

	got, exists := manager.Get("test_session_1")
	if !exists || got != sess {
		t.Fatal("Get should return the added session")
	}

	inRoom := manager.GetByRoom("room-1")
	if len(inRoom) != 1 || inRoom[0] != sess {
		t.Fatalf("GetByRoom returned %v", inRoom)
	}

	manager.Remove("test_session_1")
	if _, exists := manager.Get("test_session_1"); exists {
		t.Fatal("Get should not find the removed session")
	}
}

func TestSession_SendTouches(t *testing.T) {
	conn := &MockConnection{}
	sess := NewSession("s", conn)
	before := sess.LastActive()
	time.Sleep(2 * time.Millisecond)

	if err := sess.SendJSON(network.MsgTypeAck, network.AckMessage{Request: 1}); err != nil {
		t.Fatal(err)
	}
	if !sess.LastActive().After(before) {
		t.Error("sending should refresh LastActive")
	}
	if conn.count(network.MsgTypeAck) != 1 {
		t.Error("ack was not sent")
	}
}

func TestWatcher_RefreshesOnChange(t *testing.T) {
	hub := broadcast.NewHub(8)
	conn := &MockConnection{}
	sess := NewSession("s", conn)
	sess.Attach("room-1", "player-1")
	driver := &MockDriver{status: models.RoundCollecting}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		NewWatcher(sess, hub, driver, 0).Run(ctx)
		close(done)
	}()

	// initial refresh
	waitFor(t, func() bool { return conn.count(network.MsgTypeView) >= 1 })
	waitFor(t, func() bool { return hub.Count() == 1 })

	hub.Publish(models.Change{Table: models.TableSubmissions, RoomID: "room-1"})
	waitFor(t, func() bool { return conn.count(network.MsgTypeView) >= 2 })

	hub.Publish(models.Change{Table: models.TableSubmissions, RoomID: "other-room"})
	time.Sleep(20 * time.Millisecond)
	if n := conn.count(network.MsgTypeView); n != 2 {
		t.Errorf("other rooms' changes should be ignored, got %d views", n)
	}

	_, advances, _ := driver.snapshot()
	if advances < 2 {
		t.Errorf("collecting round should be checked on every refresh, got %d", advances)
	}

	hub.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher should stop when the hub closes")
	}
}

func TestWatcher_SchedulesAdvanceWhenDone(t *testing.T) {
	hub := broadcast.NewHub(8)
	sess := NewSession("s", &MockConnection{})
	sess.Attach("room-1", "player-1")
	driver := &MockDriver{status: models.RoundDone}

	NewWatcher(sess, hub, driver, 0).Refresh(context.Background())

	views, advances, scheduled := driver.snapshot()
	if views != 1 || advances != 0 || scheduled != 1 {
		t.Errorf("views=%d advances=%d scheduled=%d", views, advances, scheduled)
	}
}
