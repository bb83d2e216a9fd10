package gateway

import (
	"context"
	"time"

	"WatchGate/logger"
	devmodel "WatchGate/module/device/model"
	errs "WatchGate/tools/errs"
	"WatchGate/tools/locale"
	security "WatchGate/tools/security"
)

type Config struct {
	GatewayID    string
	JWT          security.Options
	AuthTimeout  time.Duration // 认证路径上外部查询的超时
	WriteWait    time.Duration // 单次写超时
	PingInterval time.Duration
}

func (c *Config) norm() {
	if c.GatewayID == "" {
		c.GatewayID = "watch_gw-1"
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 3 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
}

// Server 网关实例：认证 -> 会话绑定 -> 成员关系 -> 翻译 -> 广播
type Server struct {
	conf   Config
	conns  *ConnManager
	binder *Binder
	coord  *Coordinator
}

func NewServer(conf Config, conns *ConnManager, binder *Binder, coord *Coordinator) *Server {
	conf.norm()
	return &Server{conf: conf, conns: conns, binder: binder, coord: coord}
}

func (s *Server) Conns() *ConnManager { return s.conns }

// Dispatch 单条入站事件的处理入口。返回 error 表示认证失败，
// 调用方必须强制关连接；其余失败（房间不存在、未知动作等）
// 在这里按各自策略吸收，单个连接出错不影响别人。
func (s *Server) Dispatch(ctx context.Context, w *WsConn, claims *security.GatewayClaims, frame *InboundFrame) error {
	dev, err := s.binder.Authenticate(ctx, claims)
	if err != nil {
		return err
	}

	switch frame.Event {
	case EventRoomMsg:
		s.handleRoomMsg(ctx, w, dev, frame)
	case EventJoin:
		s.handleJoin(ctx, w, dev, frame)
	case EventPlayerState:
		s.handlePlayerState(ctx, w, dev, frame)
	case EventLeave:
		s.handleLeave(ctx, w, dev, frame)
	case EventReaction:
		// 预留事件：收下即丢
	default:
		logger.Warnf("[Gateway] no handler for event=%q conn=%s", frame.Event, w.ConnID)
	}
	return nil
}

// room_msg：用户消息回显全房间（发送者也收，客户端以此统一排序）
func (s *Server) handleRoomMsg(ctx context.Context, w *WsConn, dev *devmodel.Device, frame *InboundFrame) {
	payload, err := decodePayload[RoomMsgPayload](frame)
	if err != nil {
		logger.Warnf("[Gateway] bad room_msg payload conn=%s err=%v", w.ConnID, err)
		return
	}
	if err := s.coord.RoomExists(ctx, payload.Room); err != nil {
		// 房间不存在：静默丢弃（现行为，产品层待定是否回错误事件）
		s.logDrop("room_msg", w, dev, err)
		return
	}

	packet := NewUserPacket(Sender{UserName: dev.UserName, Tag: dev.Tag}, payload.Room, payload.Message)
	s.emitRoom(payload.Room, OutNewMessage, packet)
}

// join：建成员关系，JOINED 广播给全房间（发送者确认自己的加入）
func (s *Server) handleJoin(ctx context.Context, w *WsConn, dev *devmodel.Device, frame *InboundFrame) {
	payload, err := decodePayload[JoinPayload](frame)
	if err != nil {
		logger.Warnf("[Gateway] bad join payload conn=%s err=%v", w.ConnID, err)
		return
	}
	logger.Infof("[Gateway] client %s wants to join %s", dev.UserName, payload.Room)

	member, err := s.coord.Join(ctx, dev.Tag, payload.Room, w.ConnID)
	if err != nil {
		s.logDrop("join", w, dev, err)
		return
	}

	sender := Sender{UserName: dev.UserName, Tag: dev.Tag, Color: member.Color}
	packet := NewSystemPacket(sender, payload.Room, locale.Translate("room_message_join", dev.UserName))
	s.emitRoom(payload.Room, OutJoined, packet)
}

// player_state：闭集动作 -> 系统文案，发送者除外广播
// （发送端已反映本地播放状态，不需要自己的通知）
func (s *Server) handlePlayerState(ctx context.Context, w *WsConn, dev *devmodel.Device, frame *InboundFrame) {
	payload, err := decodePayload[PlayerStatePayload](frame)
	if err != nil {
		logger.Warnf("[Gateway] bad player_state payload conn=%s err=%v", w.ConnID, err)
		return
	}
	if err := s.coord.RoomExists(ctx, payload.Room); err != nil {
		s.logDrop("player_state", w, dev, err)
		return
	}

	action, err := ParsePlayerAction(payload.Message)
	if err != nil {
		// 未知动作码：显式拒绝，不广播
		logger.Warnf("[Gateway] reject player_state conn=%s device=%s err=%v", w.ConnID, dev.Tag, err)
		return
	}
	text, err := PlayerMessage(action, dev.UserName, payload.Data)
	if err != nil {
		logger.Warnf("[Gateway] reject player_state conn=%s device=%s err=%v", w.ConnID, dev.Tag, err)
		return
	}
	logger.Infof("[Gateway] client %s %s", dev.UserName, action)

	packet := NewSystemPacket(Sender{UserName: dev.UserName, Tag: dev.Tag}, payload.Room, text)
	packet.Action = string(action)
	packet.Data = NormalizeMillis(payload.Data)
	s.emitRoomExcept(w.ConnID, payload.Room, OutNewMessage, packet)
}

// leave：退分组 -> LEFT 广播（发送者除外）-> 关系删除 fire-and-forget
func (s *Server) handleLeave(ctx context.Context, w *WsConn, dev *devmodel.Device, frame *InboundFrame) {
	payload, err := decodePayload[LeavePayload](frame)
	if err != nil {
		logger.Warnf("[Gateway] bad leave payload conn=%s err=%v", w.ConnID, err)
		return
	}

	s.coord.LeaveGroup(w.ConnID, payload.Room)

	packet := NewSystemPacket(Sender{UserName: dev.UserName, Tag: dev.Tag}, payload.Room,
		locale.Translate("room_message_left", dev.UserName))
	s.emitRoomExcept(w.ConnID, payload.Room, OutLeft, packet)

	s.coord.DeleteMembership(ctx, dev.Tag, payload.Room)
	logger.Infof("[Gateway] client %s leave the room %s", dev.UserName, payload.Room)
}

func (s *Server) emitRoom(roomKey, event string, packet *Packet) {
	data, err := BuildOutbound(event, packet)
	if err != nil {
		logger.Errorf("[Gateway] marshal outbound %s failed: %v", event, err)
		return
	}
	s.conns.BroadcastRoom(roomKey, data)
}

func (s *Server) emitRoomExcept(senderConnID, roomKey, event string, packet *Packet) {
	data, err := BuildOutbound(event, packet)
	if err != nil {
		logger.Errorf("[Gateway] marshal outbound %s failed: %v", event, err)
		return
	}
	s.conns.BroadcastRoomExcept(senderConnID, roomKey, data)
}

func (s *Server) logDrop(event string, w *WsConn, dev *devmodel.Device, err error) {
	if errs.ErrRoomNotFound.Is(err) {
		logger.Debug("drop " + event + ": room not found")
		return
	}
	logger.Warnf("[Gateway] drop %s conn=%s device=%s err=%v", event, w.ConnID, dev.Tag, err)
}
