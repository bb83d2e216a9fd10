package model

import "time"

// Token status
const (
	TokenActive  int32 = 0
	TokenRevoked int32 = 1
)

// Device 一次安装/登录的客户端身份。网关只读公开字段，
// socket_id 由网关在绑定/解绑时维护。
type Device struct {
	Tag      string `bson:"tag" json:"tag"`             // 全局唯一设备标识（JWT sub）
	UserName string `bson:"user_name" json:"user_name"` // 显示名
	SocketID string `bson:"socket_id" json:"-"`         // 当前连接ID；离线为空串
	Platform string `bson:"platform,omitempty" json:"-"`

	CreateTime time.Time `bson:"create_time" json:"-"`
	UpdateTime time.Time `bson:"update_time" json:"-"`
}

// Token 凭证记录；tag 变更即吊销旧凭证（与 JWT 的 t 比对）。
type Token struct {
	Identifier  string     `bson:"identifier"` // JWT jti
	Tag         string     `bson:"tag"`        // 吊销比对值
	Status      int32      `bson:"status"`
	LockedUntil *time.Time `bson:"locked_until,omitempty"`
	Device      string     `bson:"device"` // 设备tag

	ExpireAt   time.Time `bson:"expire_at"`
	CreateTime time.Time `bson:"create_time"`
}
