package service

import (
	"context"
	"errors"
	"math/rand"
	"time"

	roommodel "WatchGate/module/room/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collRooms   = "rooms"
	collMembers = "members"
)

// 成员显示色盘；加入时随机分配
var memberColors = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#fabebe",
}

type RoomStore struct {
	db *mongo.Database
}

func NewRoomStore(db *mongo.Database) *RoomStore { return &RoomStore{db: db} }

// FindByTag 按 room_key 查房间；不存在返回 (nil, nil)
func (s *RoomStore) FindByTag(ctx context.Context, roomKey string) (*roommodel.Room, error) {
	var room roommodel.Room
	err := s.db.Collection(collRooms).FindOne(ctx,
		bson.M{"room_key": roomKey},
		options.FindOne().SetProjection(bson.M{"room_key": 1}),
	).Decode(&room)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

type MemberStore struct {
	db *mongo.Database
}

func NewMemberStore(db *mongo.Database) *MemberStore { return &MemberStore{db: db} }

// Create 创建成员关系。外部层不幂等，这里把"已存在"吸收为成功，
// 返回既有成员的展示属性（颜色等）。
func (s *MemberStore) Create(ctx context.Context, roomKey, deviceTag string) (*roommodel.Member, error) {
	coll := s.db.Collection(collMembers)

	// 先查：重复 join 直接返回既有记录
	var existing roommodel.Member
	err := coll.FindOne(ctx, bson.M{"room": roomKey, "device": deviceTag}).Decode(&existing)
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	member := roommodel.Member{
		Room:       roomKey,
		Device:     deviceTag,
		Color:      memberColors[rand.Intn(len(memberColors))],
		CreateTime: time.Now(),
	}
	if _, err := coll.InsertOne(ctx, &member); err != nil {
		// 并发 join 撞唯一索引：按已存在处理，回读既有记录
		if mongo.IsDuplicateKeyError(err) {
			if ferr := coll.FindOne(ctx, bson.M{"room": roomKey, "device": deviceTag}).Decode(&existing); ferr == nil {
				return &existing, nil
			}
		}
		return nil, err
	}
	return &member, nil
}

// DeleteFromRoom 删除成员关系；不存在也算成功（幂等）
func (s *MemberStore) DeleteFromRoom(ctx context.Context, roomKey, deviceTag string) error {
	_, err := s.db.Collection(collMembers).DeleteOne(ctx, bson.M{"room": roomKey, "device": deviceTag})
	return err
}
