package model

import "time"

// Room 外部拥有的房间实体；网关只读 room_key，不改元数据。
type Room struct {
	RoomKey string `bson:"room_key" json:"room_key"` // 房间标识
	Name    string `bson:"name,omitempty" json:"name"`
	Subject string `bson:"subject,omitempty" json:"-"` // 关联的放映内容

	CreateTime time.Time `bson:"create_time" json:"-"`
}

// Member 设备-房间的成员关系；join 创建，leave 删除。
// (room, device) 上有唯一索引，重复 join 按已存在处理。
type Member struct {
	Room   string `bson:"room" json:"room"`     // room_key
	Device string `bson:"device" json:"device"` // 设备tag
	Color  string `bson:"color" json:"color"`   // 加入时分配的显示色

	CreateTime time.Time `bson:"create_time" json:"-"`
}
