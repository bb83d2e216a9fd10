package gateway

import (
	"context"
	"errors"
	"time"

	"WatchGate/logger"
	roommodel "WatchGate/module/room/model"
	errs "WatchGate/tools/errs"
)

type RoomStore interface {
	FindByTag(ctx context.Context, roomKey string) (*roommodel.Room, error)
}

type MemberStore interface {
	Create(ctx context.Context, roomKey, deviceTag string) (*roommodel.Member, error)
	DeleteFromRoom(ctx context.Context, roomKey, deviceTag string) error
}

// Coordinator 房间成员关系协调器：校验房间存在、维护成员关系、
// 同步传输层分组。成员写失败的容错策略见各方法。
type Coordinator struct {
	rooms   RoomStore
	members MemberStore
	conns   *ConnManager
	timeout time.Duration
}

func NewCoordinator(rooms RoomStore, members MemberStore, conns *ConnManager, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Coordinator{rooms: rooms, members: members, conns: conns, timeout: timeout}
}

// RoomExists 房间存在性校验；查不到 -> ErrRoomNotFound
func (c *Coordinator) RoomExists(ctx context.Context, roomKey string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	room, err := c.rooms.FindByTag(ctx, roomKey)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errs.ErrUpstreamTimeout.WrapMsg("room lookup", "room", roomKey)
		}
		return err
	}
	if room == nil {
		return errs.ErrRoomNotFound.WrapMsg("room", roomKey)
	}
	return nil
}

// Join 加入：房间校验 -> 传输层分组 -> 成员关系创建。
// "已是成员"由 store 吸收为成功并返回既有属性，重复 join 不算错。
func (c *Coordinator) Join(ctx context.Context, deviceTag, roomKey, connID string) (*roommodel.Member, error) {
	if err := c.RoomExists(ctx, roomKey); err != nil {
		return nil, err
	}
	if err := c.conns.JoinRoom(connID, roomKey); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	member, err := c.members.Create(ctx, roomKey, deviceTag)
	if err != nil {
		// 关系没落上：回滚分组，客户端重试 join 即可
		c.conns.LeaveRoom(connID, roomKey)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errs.ErrUpstreamTimeout.WrapMsg("member create", "room", roomKey)
		}
		return nil, err
	}
	return member, nil
}

// LeaveGroup 仅退出传输层分组（离场通知要在这之后、关系删除之前广播）
func (c *Coordinator) LeaveGroup(connID, roomKey string) {
	c.conns.LeaveRoom(connID, roomKey)
}

// DeleteMembership 删除成员关系；对持久层 fire-and-forget，
// 失败只记日志，客户端可见的 leave 不受影响。
func (c *Coordinator) DeleteMembership(ctx context.Context, deviceTag, roomKey string) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.members.DeleteFromRoom(ctx, roomKey, deviceTag); err != nil {
		logger.Warnf("[Coordinator] delete membership failed room=%s device=%s err=%v", roomKey, deviceTag, err)
	}
}
