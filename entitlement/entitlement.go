// Package entitlement decides whether a room may play past the free round limit.
package entitlement

import (
	"context"

	"github.com/wfunc/picklo/persistence"
)

type Provider interface {
	IsPremium(ctx context.Context, roomID string) (bool, error)
}

// RoomFlag 读取房间上的 premium 标记
type RoomFlag struct {
	store persistence.Store
}

func NewRoomFlag(store persistence.Store) *RoomFlag {
	return &RoomFlag{store: store}
}

func (p *RoomFlag) IsPremium(ctx context.Context, roomID string) (bool, error) {
	room, err := p.store.GetRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	return room.Premium, nil
}

// Static 对所有房间返回同一个结果
type Static bool

func (s Static) IsPremium(context.Context, string) (bool, error) {
	return bool(s), nil
}
