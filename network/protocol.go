package network

import (
	"encoding/json"
)

// 客户端 -> 服务器
const (
	MsgTypeHeartbeat    = 1
	MsgTypeAttach       = 101
	MsgTypeBeginPicking = 102
	MsgTypeBeginPlaying = 103
	MsgTypeStartGame    = 104
	MsgTypeSubmit       = 201
	MsgTypeVote         = 202
	MsgTypeAdvance      = 203
)

// 服务器 -> 客户端
const (
	MsgTypeView  = 301
	MsgTypeError = 302
	MsgTypeAck   = 303
)

// AttachRequest 把连接绑定到房间里的一个玩家
type AttachRequest struct {
	RoomID   string `json:"room_id"`
	PlayerID string `json:"player_id"`
}

type SubmitRequest struct {
	RoundID string `json:"round_id"`
	ImageID string `json:"image_id"`
}

type VoteRequest struct {
	RoundID      string `json:"round_id"`
	SubmissionID string `json:"submission_id"`
}

type AdvanceRequest struct {
	RoundID string `json:"round_id"`
}

// ErrorMessage 请求失败；Kind 与 errs.Kind 的字符串一致
type ErrorMessage struct {
	Request uint16 `json:"request"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type AckMessage struct {
	Request uint16 `json:"request"`
}

// SendJSON 编码 v 并发送
func SendJSON(c Connection, msgID uint16, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(msgID, data)
}

// DecodeJSON 解析包体
func DecodeJSON(p *Packet, v interface{}) error {
	return json.Unmarshal(p.Data, v)
}
