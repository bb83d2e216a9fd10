package gateway

import (
	"encoding/json"
	"fmt"
)

// ===== 线上事件名（与客户端字节级约定，不可改） =====

// 入站
const (
	EventRoomMsg     = "room_msg"
	EventJoin        = "join"
	EventPlayerState = "player_state"
	EventLeave       = "leave"
	EventReaction    = "reaction" // 预留：收下但不处理
)

// 出站
const (
	OutNewMessage = "NEW_MESSAGE"
	OutJoined     = "JOINED"
	OutLeft       = "LEFT"
)

// 包类型
const (
	MsgTypeUser   = "user"
	MsgTypeSystem = "system"
)

// InboundFrame 入站信封：{"event": "...", "payload": {...}}
type InboundFrame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type RoomMsgPayload struct {
	Room    string `json:"room"`
	Message string `json:"message"`
}

type JoinPayload struct {
	Room string `json:"room"`
	// sender/public_key 客户端会带，网关忽略
}

type PlayerStatePayload struct {
	Room    string `json:"room"`
	Message string `json:"message"` // idle|buffering|ready|ended|pause|resume|scrub
	Data    string `json:"data"`    // 毫秒数（字符串）
}

type LeavePayload struct {
	Room string `json:"room"`
}

// Sender 发送者身份快照
type Sender struct {
	UserName string `json:"user_name"`
	Tag      string `json:"tag"`
	Color    string `json:"color,omitempty"`
}

// Packet 出站事件体；每次派发新建，发完即弃。
// tag 全局唯一，客户端做去重用（不保证顺序语义）。
type Packet struct {
	Tag       string `json:"tag"`
	Type      string `json:"type"` // user | system
	Sender    Sender `json:"sender"`
	Room      string `json:"room"`
	Message   string `json:"message"`
	Action    string `json:"action,omitempty"`
	Data      string `json:"data,omitempty"`
	CreatedAt int64  `json:"created_at"` // 毫秒
}

// OutboundFrame 出站信封
type OutboundFrame struct {
	Event   string  `json:"event"`
	Payload *Packet `json:"payload"`
}

func ParseFrame(raw []byte) (*InboundFrame, error) {
	frame := &InboundFrame{}
	if err := json.Unmarshal(raw, frame); err != nil {
		return nil, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	if frame.Event == "" {
		return nil, fmt.Errorf("frame missing event")
	}
	return frame, nil
}

func decodePayload[T any](frame *InboundFrame) (*T, error) {
	var p T
	if len(frame.Payload) == 0 {
		return nil, fmt.Errorf("frame %q missing payload", frame.Event)
	}
	if err := json.Unmarshal(frame.Payload, &p); err != nil {
		return nil, fmt.Errorf("unmarshal %q payload failed: %w", frame.Event, err)
	}
	return &p, nil
}

// BuildOutbound 序列化出站信封；Packet 构造见 translator
func BuildOutbound(event string, p *Packet) ([]byte, error) {
	return json.Marshal(&OutboundFrame{Event: event, Payload: p})
}
