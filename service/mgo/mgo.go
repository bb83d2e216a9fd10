package mgo

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	pkgerr "github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type Config struct {
	URI         string
	Database    string
	Username    string
	Password    string
	MaxPoolSize uint64
}

type MongoManager struct {
	mu        sync.RWMutex
	client    *mongo.Client
	db        *mongo.Database
	readyCh   chan struct{} // 首次就绪通知；只会被 close 一次
	readyOnce sync.Once

	lastErr atomic.Value // error
}

var globalMgr MongoManager

func init() {
	// WaitReady 可能先于 StartAsync 被调用，通道必须一开始就存在
	globalMgr.readyCh = make(chan struct{})
}

func Manager() *MongoManager { return &globalMgr }

func (m *MongoManager) GetDB() *mongo.Database {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db
}

// StartAsync 一直运行到 ctx.Done()；首次连上时 close readyCh，掉线自动重连
func StartAsync(ctx context.Context, cfg *Config) {
	go func() {
		const (
			baseBackoff = 200 * time.Millisecond
			maxBackoff  = 5 * time.Second
			healthEvery = 10 * time.Second // 健康检查周期
			failThresh  = 3                // 连续失败阈值
		)

		for {
			// ===== 连接阶段（带退避重试） =====
			attempt := 0
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				cli, db, err := connect(ctx, cfg)
				if err == nil {
					globalMgr.mu.Lock()
					globalMgr.client = cli
					globalMgr.db = db
					globalMgr.mu.Unlock()

					// 只在首次成功时通知就绪
					globalMgr.readyOnce.Do(func() { close(globalMgr.readyCh) })
					break
				}

				globalMgr.lastErr.Store(err)

				// 退避 + 抖动
				backoff := baseBackoff << attempt
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				jitter := time.Duration(rand.Int63n(int64(backoff / 5)))
				sleep := backoff - jitter/2

				timer := time.NewTimer(sleep)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
				if attempt < 6 {
					attempt++
				}
			}

			// ===== 健康检查阶段（掉线→重连）=====
			fail := 0
			ticker := time.NewTicker(healthEvery)
			broken := false
			for !broken {
				select {
				case <-ctx.Done():
					ticker.Stop()
					globalMgr.mu.Lock()
					if globalMgr.client != nil {
						_ = globalMgr.client.Disconnect(context.Background())
						globalMgr.client = nil
						globalMgr.db = nil
					}
					globalMgr.mu.Unlock()
					return
				case <-ticker.C:
					pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
					err := globalMgr.client.Ping(pctx, readpref.Primary())
					cancel()
					if err != nil {
						fail++
						if fail >= failThresh {
							broken = true
						}
					} else {
						fail = 0
					}
				}
			}
			ticker.Stop()
			// 回到连接阶段重建客户端
		}
	}()
}

// WaitReady 阻塞到首次连接就绪或 ctx 取消
func WaitReady(ctx context.Context, m *MongoManager) error {
	select {
	case <-ctx.Done():
		return pkgerr.Wrap(ctx.Err(), "wait mongo ready")
	case <-m.readyCh:
		return nil
	}
}

func connect(ctx context.Context, cfg *Config) (*mongo.Client, *mongo.Database, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	if cfg.Username != "" {
		opts.SetAuth(options.Credential{Username: cfg.Username, Password: cfg.Password})
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cli, err := mongo.Connect(cctx, opts)
	if err != nil {
		return nil, nil, pkgerr.Wrap(err, "mongo connect")
	}
	if err := cli.Ping(cctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, nil, pkgerr.Wrap(err, "mongo ping")
	}
	return cli, cli.Database(cfg.Database), nil
}
