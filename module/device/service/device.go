package service

import (
	"context"
	"errors"
	"time"

	devmodel "WatchGate/module/device/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collDevices = "devices"
	collTokens  = "tokens"
)

type TokenStore struct {
	db *mongo.Database
}

func NewTokenStore(db *mongo.Database) *TokenStore { return &TokenStore{db: db} }

// FindByIdentifier 按 jti 查 token 记录；不存在返回 (nil, nil)
func (s *TokenStore) FindByIdentifier(ctx context.Context, identifier string) (*devmodel.Token, error) {
	var tok devmodel.Token
	err := s.db.Collection(collTokens).FindOne(ctx,
		bson.M{"identifier": identifier},
		options.FindOne().SetProjection(bson.M{"identifier": 1, "status": 1, "tag": 1, "locked_until": 1, "device": 1}),
	).Decode(&tok)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

type DeviceStore struct {
	db *mongo.Database
}

func NewDeviceStore(db *mongo.Database) *DeviceStore { return &DeviceStore{db: db} }

// FindByTag 查设备公开字段（user_name/tag）；不存在返回 (nil, nil)
func (s *DeviceStore) FindByTag(ctx context.Context, tag string) (*devmodel.Device, error) {
	var dev devmodel.Device
	err := s.db.Collection(collDevices).FindOne(ctx,
		bson.M{"tag": tag},
		options.FindOne().SetProjection(bson.M{"user_name": 1, "tag": 1, "socket_id": 1}),
	).Decode(&dev)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &dev, nil
}

// UpdateSocketID 绑定：覆盖写 socket_id（last-bind-wins）
func (s *DeviceStore) UpdateSocketID(ctx context.Context, tag, socketID string) (*devmodel.Device, error) {
	var dev devmodel.Device
	err := s.db.Collection(collDevices).FindOneAndUpdate(ctx,
		bson.M{"tag": tag},
		bson.M{"$set": bson.M{"socket_id": socketID, "update_time": time.Now()}},
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{"user_name": 1, "tag": 1, "socket_id": 1}),
	).Decode(&dev)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &dev, nil
}

// ClearSocketIDIfMatch 解绑：仅当 socket_id 仍等于 connID 时清空。
// 迟到的断开事件不会清掉更新的绑定。
func (s *DeviceStore) ClearSocketIDIfMatch(ctx context.Context, tag, connID string) (bool, error) {
	res, err := s.db.Collection(collDevices).UpdateOne(ctx,
		bson.M{"tag": tag, "socket_id": connID},
		bson.M{"$set": bson.M{"socket_id": "", "update_time": time.Now()}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}
