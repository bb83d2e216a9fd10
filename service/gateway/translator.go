package gateway

import (
	"fmt"
	"strconv"
	"time"

	"WatchGate/tools/locale"

	"github.com/google/uuid"
)

// PlayerAction 播放动作；闭集，新动作先在这里登记
type PlayerAction string

const (
	ActionIdle      PlayerAction = "idle"
	ActionBuffering PlayerAction = "buffering"
	ActionReady     PlayerAction = "ready"
	ActionEnded     PlayerAction = "ended"
	ActionPause     PlayerAction = "pause"
	ActionResume    PlayerAction = "resume"
	ActionScrub     PlayerAction = "scrub"
)

// ParsePlayerAction 动作码 -> 枚举；未知码显式报错（不能落到未定义文案）
func ParsePlayerAction(s string) (PlayerAction, error) {
	switch a := PlayerAction(s); a {
	case ActionIdle, ActionBuffering, ActionReady, ActionEnded,
		ActionPause, ActionResume, ActionScrub:
		return a, nil
	default:
		return "", fmt.Errorf("unknown player action %q", s)
	}
}

// PlayerMessage 动作 -> 系统文案。buffering/pause/resume/scrub 三类带进度的
// 动作额外内插 HH:MM:SS。switch 穷举整个闭集，default 只会接到未登记的码。
func PlayerMessage(action PlayerAction, userName, data string) (string, error) {
	switch action {
	case ActionIdle:
		return locale.Translate("room_message_idle", userName), nil
	case ActionBuffering:
		return locale.Translate("room_message_buffering", userName, FormatTime(ParseMillis(data))), nil
	case ActionReady:
		return locale.Translate("room_message_ready", userName), nil
	case ActionEnded:
		return locale.Translate("room_message_ended", userName), nil
	case ActionPause:
		return locale.Translate("room_message_pause", userName, FormatTime(ParseMillis(data))), nil
	case ActionResume:
		return locale.Translate("room_message_resume", userName, FormatTime(ParseMillis(data))), nil
	case ActionScrub:
		return locale.Translate("room_message_scrub", userName, FormatTime(ParseMillis(data))), nil
	default:
		return "", fmt.Errorf("unknown player action %q", action)
	}
}

// ParseMillis data 字段为字符串毫秒数；空/非数字/负数一律按 0
func ParseMillis(data string) int64 {
	if data == "" {
		return 0
	}
	ms, err := strconv.ParseInt(data, 10, 64)
	if err != nil || ms < 0 {
		return 0
	}
	return ms
}

// NormalizeMillis 出站 data 字段：空值回落到字面 "0"
func NormalizeMillis(data string) string {
	if data == "" {
		return "0"
	}
	return data
}

// FormatTime 毫秒 -> 零填充 HH:MM:SS，亚秒向下取整
func FormatTime(milliseconds int64) string {
	if milliseconds < 0 {
		milliseconds = 0
	}
	totalSeconds := milliseconds / 1000
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// NewUserPacket 用户聊天包
func NewUserPacket(sender Sender, room, message string) *Packet {
	return &Packet{
		Tag:       uuid.NewString(),
		Type:      MsgTypeUser,
		Sender:    sender,
		Room:      room,
		Message:   message,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// NewSystemPacket 系统通知包（join/leave/播放状态）
func NewSystemPacket(sender Sender, room, message string) *Packet {
	return &Packet{
		Tag:       uuid.NewString(),
		Type:      MsgTypeSystem,
		Sender:    sender,
		Room:      room,
		Message:   message,
		CreatedAt: time.Now().UnixMilli(),
	}
}
