package service

import (
	"context"
	"time"

	devmodel "WatchGate/module/device/model"
	jwtlib "WatchGate/tools/security"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// LoginParams 签发入参
type LoginParams struct {
	DeviceTag string        // 必填：设备tag
	TTL       time.Duration // <=0 则用 opts.TTL
	Now       time.Time     // 零值时用 time.Now()
}

// IssueToken 登录侧的凭证签发：生成 JWT 并落一条 token 记录。
// 同设备再次签发时旧记录 tag 不变、新记录 tag 随机，旧 JWT 自然失效（t 不匹配）。
func (s *TokenStore) IssueToken(ctx context.Context, opts jwtlib.Options, in LoginParams) (string, *devmodel.Token, error) {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	ttl := in.TTL
	if ttl <= 0 {
		ttl = opts.TTL
	}
	opts.TTL = ttl

	tokenID := uuid.NewString()
	tag := uuid.NewString()

	signed, expireAt, err := jwtlib.Generate(opts, in.DeviceTag, tokenID, tag)
	if err != nil {
		return "", nil, err
	}

	rec := devmodel.Token{
		Identifier: tokenID,
		Tag:        tag,
		Status:     devmodel.TokenActive,
		Device:     in.DeviceTag,
		ExpireAt:   expireAt,
		CreateTime: now,
	}
	_, err = s.db.Collection(collTokens).ReplaceOne(ctx,
		bson.M{"identifier": tokenID},
		rec,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return "", nil, err
	}
	return signed, &rec, nil
}
