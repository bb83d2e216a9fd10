package global

import (
	"context"
	"time"

	"WatchGate/logger"
	mgoSrv "WatchGate/service/mgo"
	"WatchGate/service/storage"
	redis "WatchGate/service/storage/redis"
	"WatchGate/tools"
	ids "WatchGate/tools/ids"

	"github.com/joho/godotenv"
)

// 环境变量：
// GATEWAY_ID        节点ID（默认 watch_gw-1）
// GATEWAY_NODE      雪花节点号（默认 100）
// GATEWAY_JWT_SECRET JWT HMAC 密钥
// REDIS_ADDR / REDIS_PASSWORD / REDIS_DB
// MONGO_URI / MONGO_DB / MONGO_USER / MONGO_PASSWORD

func ConfigAll() {
	_ = godotenv.Load() // .env 可选，生产走真实环境变量
	ConfigIds()
	ConfigRedis()
	ConfigMgo()
}

func ConfigIds() {
	ids.SetNodeID(int64(tools.GetEnvInt("GATEWAY_NODE", 100)))
}

func GatewayID() string {
	return tools.GetEnv("GATEWAY_ID", "watch_gw-1")
}

func GetJwtSecret() []byte {
	return []byte(tools.GetEnv("GATEWAY_JWT_SECRET", "mN9b1f8zPq+W2xjX/45sKcVd0TfyoG+3Hp5Z8q9Rj1o="))
}

func ConfigRedis() {
	config := redis.Config{
		Addr:     tools.GetEnv("REDIS_ADDR", "127.0.0.1:6379"),
		Password: tools.GetEnv("REDIS_PASSWORD", ""),
		DB:       tools.GetEnvInt("REDIS_DB", 0),
	}
	if err := redis.InitRedis(config); err != nil {
		// Redis 不可用：跨进程会话镜像降级关闭，网关仍可单节点跑
		logger.Warnf("[Config] redis init failed, session mirror disabled: %v", err)
		return
	}
	storage.Init(storage.BindingConfig{
		NodeID: GatewayID(),
		TTL:    2 * time.Hour,
	})
}

func ConfigMgo() {
	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		cfg := &mgoSrv.Config{
			URI:         tools.GetEnv("MONGO_URI", "mongodb://localhost:27017"),
			Database:    tools.GetEnv("MONGO_DB", "watchgate"),
			Username:    tools.GetEnv("MONGO_USER", ""),
			Password:    tools.GetEnv("MONGO_PASSWORD", ""),
			MaxPoolSize: 20,
		}

		mgoSrv.StartAsync(ctx, cfg)
		if err := mgoSrv.WaitReady(ctx, mgoSrv.Manager()); err != nil {
			return
		}
		<-ctx.Done()
	}()
}
