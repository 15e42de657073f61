package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/wfunc/picklo/errs"
	"github.com/wfunc/picklo/logger"
	"github.com/wfunc/picklo/network"
	"github.com/wfunc/picklo/session"
)

// client 一个 websocket 连接的状态
type client struct {
	sess      *session.Session
	stopWatch context.CancelFunc
}

func (c *client) detach() {
	if c.stopWatch != nil {
		c.stopWatch()
		c.stopWatch = nil
	}
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	wsConn := network.NewWSConnection(conn)
	wsConn.SetHeartbeat(s.deps.Heartbeat)
	s.handleConnection(wsConn)
}

func (s *GameServer) handleConnection(conn network.Connection) {
	sess := session.NewSession(uuid.New().String(), conn)
	s.sessionManager.Add(sess)
	s.deps.Monitor.IncOnlineSessions()
	c := &client{sess: sess}

	logger.Log.Infof("New connection from %s, session ID: %s", conn.RemoteAddr(), sess.GetID())

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", conn.RemoteAddr(), sess.GetID())
		c.detach()
		s.sessionManager.Remove(sess.GetID())
		s.deps.Monitor.DecOnlineSessions()
		s.deps.Monitor.SetWatchedRooms(s.deps.Hub.Rooms())
		conn.Close()
	}()

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
			packet, err := conn.ReadPacket()
			if err != nil {
				return
			}
			sess.Touch()
			if err := s.handlePacket(c, packet); err != nil {
				logger.Log.Debugw("packet failed", "session", sess.GetID(), "msg", packet.MsgID, "error", err)
				sess.SendJSON(network.MsgTypeError, network.ErrorMessage{
					Request: packet.MsgID,
					Kind:    errs.KindOf(err).String(),
					Message: err.Error(),
				})
				continue
			}
			if packet.MsgID != network.MsgTypeHeartbeat {
				sess.SendJSON(network.MsgTypeAck, network.AckMessage{Request: packet.MsgID})
			}
			if packet.MsgID == network.MsgTypeAttach {
				s.watch(c)
			}
		}
	}
}

func (s *GameServer) handlePacket(c *client, packet *network.Packet) error {
	ctx := s.baseCtx
	if packet.MsgID == network.MsgTypeHeartbeat {
		return nil
	}
	if packet.MsgID == network.MsgTypeAttach {
		var req network.AttachRequest
		if err := network.DecodeJSON(packet, &req); err != nil {
			return errs.Validationf("invalid attach: %v", err)
		}
		player, err := s.deps.Rooms.Player(ctx, req.PlayerID)
		if err != nil {
			return err
		}
		if player.RoomID != req.RoomID {
			return errs.Validationf("player %s is not in room %s", req.PlayerID, req.RoomID)
		}
		c.sess.Attach(req.RoomID, req.PlayerID)
		return nil
	}

	roomID, playerID := c.sess.Identity()
	if playerID == "" {
		return errs.Validationf("attach before sending %d", packet.MsgID)
	}

	switch packet.MsgID {
	case network.MsgTypeBeginPicking:
		return s.deps.Engine.BeginPicking(ctx, roomID, playerID)
	case network.MsgTypeBeginPlaying:
		return s.deps.Engine.BeginPlaying(ctx, roomID, playerID)
	case network.MsgTypeStartGame:
		_, _, err := s.deps.Engine.StartGame(ctx, roomID, playerID)
		return err
	case network.MsgTypeSubmit:
		var req network.SubmitRequest
		if err := network.DecodeJSON(packet, &req); err != nil {
			return errs.Validationf("invalid submit: %v", err)
		}
		_, err := s.deps.Engine.Submit(ctx, req.RoundID, playerID, req.ImageID)
		return err
	case network.MsgTypeVote:
		var req network.VoteRequest
		if err := network.DecodeJSON(packet, &req); err != nil {
			return errs.Validationf("invalid vote: %v", err)
		}
		_, err := s.deps.Engine.Vote(ctx, req.RoundID, playerID, req.SubmissionID)
		return err
	case network.MsgTypeAdvance:
		var req network.AdvanceRequest
		if err := network.DecodeJSON(packet, &req); err != nil {
			return errs.Validationf("invalid advance: %v", err)
		}
		_, err := s.deps.Engine.AdvanceIfReady(ctx, req.RoundID)
		return err
	default:
		logger.Log.Infof("Unknown message type: %d", packet.MsgID)
		return errs.Validationf("unknown message type %d", packet.MsgID)
	}
}

// watch 为会话启动 watcher；重复 attach 会替换之前的 watcher
func (s *GameServer) watch(c *client) {
	c.detach()
	ctx, cancel := context.WithCancel(s.baseCtx)
	c.stopWatch = cancel
	w := session.NewWatcher(c.sess, s.deps.Hub, s.deps.Engine, s.deps.Resync)
	go w.Run(ctx)
	// Run 内部订阅；这里的数值可能晚一次更新
	s.deps.Monitor.SetWatchedRooms(s.deps.Hub.Rooms())
}
