package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wfunc/picklo/engine"
	"github.com/wfunc/picklo/errs"
	"github.com/wfunc/picklo/hand"
	"github.com/wfunc/picklo/logger"
	"github.com/wfunc/picklo/models"
)

const maxUploadBytes = 32 << 20

type hostRequest struct {
	Name string `json:"name"`
}

type joinRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// actorRequest 需要说明操作者的请求
type actorRequest struct {
	PlayerID string `json:"player_id"`
}

type premiumRequest struct {
	PlayerID string `json:"player_id"`
	Premium  bool   `json:"premium"`
}

type submitRequest struct {
	PlayerID string `json:"player_id"`
	ImageID  string `json:"image_id"`
}

type voteRequest struct {
	PlayerID     string `json:"player_id"`
	SubmissionID string `json:"submission_id"`
}

type roomResponse struct {
	Room   *models.Room   `json:"room"`
	Player *models.Player `json:"player"`
}

type startResponse struct {
	Round   *models.Round `json:"round"`
	Created bool          `json:"created"`
}

type pickItem struct {
	Index   int                 `json:"index"`
	Image   *models.PlayerImage `json:"image,omitempty"`
	URL     string              `json:"url,omitempty"`
	Skipped bool                `json:"skipped,omitempty"`
	Error   string              `json:"error,omitempty"`
}

type pickResponse struct {
	Results []pickItem `json:"results"`
	Failed  int        `json:"failed"`
}

type onlineResponse struct {
	Players  []string `json:"players"`
	Sessions int      `json:"sessions"`
}

type errorResponse struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Debugw("write response failed", "error", err)
	}
}

// statusOf 错误类型到 HTTP 状态码
func statusOf(err error) int {
	switch errs.KindOf(err) {
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.Log.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Kind: errs.KindOf(err).String(), Error: err.Error()})
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errs.Validationf("request body is required")
		}
		return errs.Validationf("invalid json: %v", err)
	}
	return nil
}

func (s *GameServer) handleHost(w http.ResponseWriter, r *http.Request) {
	var req hostRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rm, player, err := s.deps.Rooms.Host(r.Context(), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, roomResponse{Room: rm, Player: player})
}

func (s *GameServer) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	player, err := s.deps.Rooms.Join(r.Context(), req.Code, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rm, err := s.deps.Rooms.Room(r.Context(), player.RoomID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, roomResponse{Room: rm, Player: player})
}

func (s *GameServer) handleView(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Engine.View(r.Context(), chi.URLParam(r, "roomID"), r.URL.Query().Get("player_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *GameServer) handleStandings(w http.ResponseWriter, r *http.Request) {
	standings, err := s.deps.Scores.Standings(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, standings)
}

// handleOnline 当前通过 websocket 连接到房间的玩家
func (s *GameServer) handleOnline(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	if _, err := s.deps.Rooms.Room(r.Context(), roomID); err != nil {
		writeError(w, r, err)
		return
	}
	sessions := s.sessionManager.GetByRoom(roomID)
	seen := make(map[string]bool)
	online := []string{}
	for _, sess := range sessions {
		if _, playerID := sess.Identity(); playerID != "" && !seen[playerID] {
			seen[playerID] = true
			online = append(online, playerID)
		}
	}
	sort.Strings(online)
	writeJSON(w, http.StatusOK, onlineResponse{Players: online, Sessions: len(sessions)})
}

func (s *GameServer) handleBeginPicking(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Engine.BeginPicking(r.Context(), chi.URLParam(r, "roomID"), req.PlayerID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *GameServer) handleBeginPlaying(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Engine.BeginPlaying(r.Context(), chi.URLParam(r, "roomID"), req.PlayerID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *GameServer) handleStart(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	round, created, err := s.deps.Engine.StartGame(r.Context(), chi.URLParam(r, "roomID"), req.PlayerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, startResponse{Round: round, Created: created})
}

func (s *GameServer) handlePremium(w http.ResponseWriter, r *http.Request) {
	var req premiumRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	roomID := chi.URLParam(r, "roomID")
	rm, err := s.deps.Rooms.Room(r.Context(), roomID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !rm.IsHost(req.PlayerID) {
		writeError(w, r, engine.ErrNotHost)
		return
	}
	if err := s.deps.Rooms.SetPremium(r.Context(), roomID, req.Premium); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePick 接收 multipart 表单中所有名为 images 的文件
func (s *GameServer) handlePick(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, r, errs.Validationf("invalid multipart form: %v", err))
		return
	}
	files := r.MultipartForm.File["images"]
	uploads := make([]hand.Upload, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			writeError(w, r, errs.Validationf("open %s: %v", fh.Filename, err))
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, r, errs.Validationf("read %s: %v", fh.Filename, err))
			return
		}
		uploads = append(uploads, hand.Upload{Data: data})
	}

	results, err := s.deps.Hands.Pick(r.Context(), chi.URLParam(r, "roomID"), chi.URLParam(r, "playerID"), uploads)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := pickResponse{Results: make([]pickItem, len(results))}
	for i, res := range results {
		item := pickItem{Index: res.Index, Image: res.Image, Skipped: res.Skipped}
		if res.Image != nil {
			item.URL = s.deps.Hands.PublicURL(res.Image.ImagePath)
		}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		resp.Results[i] = item
	}
	resp.Failed = len(hand.Failed(results))
	writeJSON(w, http.StatusOK, resp)
}

func (s *GameServer) handleWinners(w http.ResponseWriter, r *http.Request) {
	winners, err := s.deps.Scores.RoundWinners(r.Context(), chi.URLParam(r, "roundID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, winners)
}

func (s *GameServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sub, err := s.deps.Engine.Submit(r.Context(), chi.URLParam(r, "roundID"), req.PlayerID, req.ImageID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *GameServer) handleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	vote, err := s.deps.Engine.Vote(r.Context(), chi.URLParam(r, "roundID"), req.PlayerID, req.SubmissionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if vote == nil {
		// 自投被忽略
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, vote)
}

func (s *GameServer) handleAdvance(w http.ResponseWriter, r *http.Request) {
	adv, err := s.deps.Engine.AdvanceIfReady(r.Context(), chi.URLParam(r, "roundID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, adv)
}

func (s *GameServer) handleNext(w http.ResponseWriter, r *http.Request) {
	next, err := s.deps.Engine.AdvanceFromDone(r.Context(), chi.URLParam(r, "roundID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (s *GameServer) handleBlob(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	rc, err := s.deps.Blobs.Open(key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()
	if strings.HasSuffix(key, ".jpg") {
		w.Header().Set("Content-Type", "image/jpeg")
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if _, err := io.Copy(w, rc); err != nil {
		logger.Log.Debugw("blob copy failed", "key", key, "error", err)
	}
}
