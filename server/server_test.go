package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/picklo/blob"
	"github.com/wfunc/picklo/broadcast"
	"github.com/wfunc/picklo/engine"
	"github.com/wfunc/picklo/entitlement"
	"github.com/wfunc/picklo/hand"
	"github.com/wfunc/picklo/models"
	"github.com/wfunc/picklo/monitor"
	"github.com/wfunc/picklo/network"
	"github.com/wfunc/picklo/persistence"
	"github.com/wfunc/picklo/room"
	"github.com/wfunc/picklo/services"
)

func newTestServer(t *testing.T) (*GameServer, *httptest.Server) {
	t.Helper()
	hub := broadcast.NewHub(16)
	ms := persistence.NewMemoryStore(hub)
	mon := monitor.NewMonitor("picklo_test")
	cfg := engine.DefaultMatchConfig()
	cfg.HandSize = 1
	cfg.RoundCount = 1

	rooms := room.NewRegistry(ms, mon)
	blobs := blob.NewFSStore(afero.NewMemMapFs(), "/blobs")
	hands := hand.New(ms, blobs, mon, cfg.HandSize, 2)
	scores := services.NewScoreService(ms)
	e := engine.New(ms, rooms, hands, scores, entitlement.NewRoomFlag(ms), cfg, engine.WithMonitor(mon))

	s := NewGameServer(":0", Deps{
		Engine:    e,
		Rooms:     rooms,
		Hands:     hands,
		Scores:    scores,
		Hub:       hub,
		Blobs:     blobs,
		Monitor:   mon,
		BlobPath:  "/blobs",
		Heartbeat: 5 * time.Second,
	})
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(func() {
		ts.Close()
		s.Shutdown(context.Background())
		hub.Close()
	})
	return s, ts
}

func doJSON(t *testing.T, method, url string, body, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		img.Set(x, x, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func upload(t *testing.T, url string, files ...[]byte) pickResponse {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for i, data := range files {
		fw, err := mw.CreateFormFile("images", "img"+string(rune('a'+i))+".png")
		require.NoError(t, err)
		fw.Write(data)
	}
	require.NoError(t, mw.Close())
	resp, err := http.Post(url, mw.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out pickResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestGameServer_FullRound(t *testing.T) {
	_, ts := newTestServer(t)

	var hosted roomResponse
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, ts.URL+"/rooms", hostRequest{Name: "Alice"}, &hosted))
	roomID, alice := hosted.Room.ID, hosted.Player.ID

	var joined roomResponse
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, ts.URL+"/rooms/join", joinRequest{Code: strings.ToLower(hosted.Room.Code), Name: "Bob"}, &joined))
	bob := joined.Player.ID
	assert.Equal(t, roomID, joined.Room.ID)

	// 非房主不能开始
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, ts.URL+"/rooms/"+roomID+"/picking", actorRequest{PlayerID: bob}, nil))
	require.Equal(t, http.StatusNoContent, doJSON(t, http.MethodPost, ts.URL+"/rooms/"+roomID+"/picking", actorRequest{PlayerID: alice}, nil))

	picked := upload(t, ts.URL+"/rooms/"+roomID+"/players/"+alice+"/hand", pngBytes(t), pngBytes(t))
	require.Len(t, picked.Results, 2)
	assert.NotNil(t, picked.Results[0].Image)
	assert.True(t, picked.Results[1].Skipped)
	assert.Equal(t, 0, picked.Failed)

	// 图片可以通过公开地址读取
	resp, err := http.Get(ts.URL + picked.Results[0].URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	upload(t, ts.URL+"/rooms/"+roomID+"/players/"+bob+"/hand", pngBytes(t))

	var started startResponse
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, ts.URL+"/rooms/"+roomID+"/start", actorRequest{PlayerID: alice}, &started))
	require.NotNil(t, started.Round)
	roundID := started.Round.ID

	submissions := map[string]string{}
	for _, pid := range []string{alice, bob} {
		var view engine.View
		require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/rooms/"+roomID+"/view?player_id="+pid, nil, &view))
		require.Len(t, view.Hand, 1)
		var sub models.Submission
		require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, ts.URL+"/rounds/"+roundID+"/submissions", submitRequest{PlayerID: pid, ImageID: view.Hand[0].ID}, &sub))
		submissions[pid] = sub.ID
	}

	var view engine.View
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/rooms/"+roomID+"/view?player_id="+alice, nil, &view))
	require.NotNil(t, view.Round)
	assert.Equal(t, models.RoundVoting, view.Round.Status)

	// 不能给自己投票
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, ts.URL+"/rounds/"+roundID+"/votes", voteRequest{PlayerID: alice, SubmissionID: submissions[alice]}, nil))
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, ts.URL+"/rounds/"+roundID+"/votes", voteRequest{PlayerID: alice, SubmissionID: submissions[bob]}, nil))
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, ts.URL+"/rounds/"+roundID+"/votes", voteRequest{PlayerID: bob, SubmissionID: submissions[alice]}, nil))

	var adv engine.Advance
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, ts.URL+"/rounds/"+roundID+"/advance", nil, &adv))
	assert.Equal(t, models.RoundDone, adv.Status)
	assert.Empty(t, adv.Applied)

	var winners []models.RoundWinner
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/rounds/"+roundID+"/winners", nil, &winners))
	assert.Len(t, winners, 2)

	var next engine.Next
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, ts.URL+"/rounds/"+roundID+"/next", nil, &next))
	assert.True(t, next.Finished)

	var standings []services.Standing
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/rooms/"+roomID+"/standings", nil, &standings))
	require.Len(t, standings, 2)
	for _, st := range standings {
		assert.Equal(t, 1, st.Points)
		assert.Equal(t, 1, st.Rank)
	}
}

func TestGameServer_ErrorStatus(t *testing.T) {
	_, ts := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodPost, ts.URL+"/rooms/join", joinRequest{Code: "ZZZZ", Name: "Bob"}, nil))
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, ts.URL+"/rooms", hostRequest{Name: " "}, nil))
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, ts.URL+"/rooms", nil, nil))
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodPost, ts.URL+"/rounds/missing/advance", nil, nil))
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, ts.URL+"/blobs/nope.jpg", nil, nil))
}

func TestGameServer_HealthAndMetrics(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendPacket(t *testing.T, conn *websocket.Conn, msgID uint16, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, network.Encode(msgID, data)))
}

// readUntil 读取直到收到 msgID
func readUntil(t *testing.T, conn *websocket.Conn, msgID uint16) *network.Packet {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		p, err := network.Decode(data)
		require.NoError(t, err)
		if p.MsgID == msgID {
			return p
		}
	}
}

func TestGameServer_WebSocketRequiresAttach(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dialWS(t, ts)

	sendPacket(t, conn, network.MsgTypeSubmit, network.SubmitRequest{RoundID: "r", ImageID: "i"})
	p := readUntil(t, conn, network.MsgTypeError)
	var msg network.ErrorMessage
	require.NoError(t, network.DecodeJSON(p, &msg))
	assert.Equal(t, uint16(network.MsgTypeSubmit), msg.Request)
	assert.Equal(t, "validation", msg.Kind)
}

func TestGameServer_WebSocketPushesViews(t *testing.T) {
	s, ts := newTestServer(t)

	var hosted roomResponse
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, ts.URL+"/rooms", hostRequest{Name: "Alice"}, &hosted))

	conn := dialWS(t, ts)
	sendPacket(t, conn, network.MsgTypeAttach, network.AttachRequest{RoomID: hosted.Room.ID, PlayerID: hosted.Player.ID})
	readUntil(t, conn, network.MsgTypeAck)

	var view engine.View
	require.NoError(t, network.DecodeJSON(readUntil(t, conn, network.MsgTypeView), &view))
	assert.True(t, view.IsHost)
	assert.Len(t, view.Players, 1)
	assert.Equal(t, 1, s.Sessions().Count())

	var online onlineResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/rooms/"+hosted.Room.ID+"/online", nil, &online))
	assert.Equal(t, []string{hosted.Player.ID}, online.Players)
	assert.Equal(t, 1, online.Sessions)
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, ts.URL+"/rooms/missing/online", nil, nil))

	// 新玩家加入触发推送
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, ts.URL+"/rooms/join", joinRequest{Code: hosted.Room.Code, Name: "Bob"}, nil))
	for players := 0; players != 2; {
		var v engine.View
		require.NoError(t, network.DecodeJSON(readUntil(t, conn, network.MsgTypeView), &v))
		players = len(v.Players)
	}

	// 通过 websocket 进入选图阶段
	sendPacket(t, conn, network.MsgTypeBeginPicking, struct{}{})
	p := readUntil(t, conn, network.MsgTypeAck)
	var ack network.AckMessage
	require.NoError(t, network.DecodeJSON(p, &ack))
	assert.Equal(t, uint16(network.MsgTypeBeginPicking), ack.Request)
}
