package storage

import (
	"context"
	"fmt"
	"time"

	redis2 "WatchGate/service/storage/redis"

	pkgerr "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ===== 配置 =====

type BindingConfig struct {
	NodeID        string        // 节点ID（参与key命名）
	TTL           time.Duration // 会话绑定TTL
	UseClusterTag bool          // 是否使用Redis Cluster hash-tag对齐
}

func (c *BindingConfig) norm() {
	if c.NodeID == "" {
		c.NodeID = "gw-1"
	}
	if c.TTL <= 0 {
		c.TTL = 2 * time.Hour
	}
}

// ===== Lua 脚本 =====

// 绑定会话（last-bind-wins）
// KEYS[1] = session key (s:<node>:d:<device>)
// ARGV[1] = connID
// ARGV[2] = ttlSeconds
// 返回：被覆盖的旧 connID；没有旧值则空串
const luaBindSession = `
local k    = KEYS[1]
local conn = ARGV[1]
local ttl  = tonumber(ARGV[2])

local old = redis.call("GET", k)
redis.call("SET", k, conn, "EX", ttl)

if old and old ~= conn then
  return old
end
return ""
`

// 条件清除（compare-and-clear）：仅当存的 connID 仍等于调用者时才删。
// 防止迟到的断开事件清掉更新的会话。
// KEYS[1] = session key
// ARGV[1] = connID
// 返回：1=清除；0=值已被更新，未动（幂等）
const luaClearIfMatch = `
local k    = KEYS[1]
local conn = ARGV[1]

local cur = redis.call("GET", k)
if cur == conn then
  redis.call("DEL", k)
  return 1
end
return 0
`

// ===== Store =====

// BindingStore 设备 -> 当前连接 的活跃会话注册表（Redis 镜像）。
// 同一设备同一时刻最多一条绑定；写入为 last-bind-wins。
type BindingStore struct {
	conf BindingConfig

	luaBind  *redis.Script
	luaClear *redis.Script
}

var defaultStore *BindingStore

func Init(conf BindingConfig) *BindingStore {
	conf.norm()
	defaultStore = &BindingStore{
		conf:     conf,
		luaBind:  redis.NewScript(luaBindSession),
		luaClear: redis.NewScript(luaClearIfMatch),
	}
	return defaultStore
}

// GetManager 获取默认注册表（需先 Init）
func GetManager() *BindingStore {
	if defaultStore == nil {
		panic("binding store not initialized, call storage.Init first")
	}
	return defaultStore
}

// Default 与 GetManager 相同，但未初始化时返回 nil（Redis 不可用时网关降级为仅本地注册表）
func Default() *BindingStore {
	return defaultStore
}

// 会话键
// UseClusterTag=true: s:{<node>}:d:<device>
// false:              s:<node>:d:<device>
func (m *BindingStore) sessionKey(deviceTag string) string {
	if m.conf.UseClusterTag {
		return fmt.Sprintf("s:{%s}:d:%s", m.conf.NodeID, deviceTag)
	}
	return fmt.Sprintf("s:%s:d:%s", m.conf.NodeID, deviceTag)
}

// Bind 覆盖写入 device->conn 绑定，返回被挤掉的旧 connID（如有）
func (m *BindingStore) Bind(ctx context.Context, deviceTag, connID string) (evicted string, err error) {
	res, err := m.luaBind.Run(ctx, redis2.GetRedis(),
		[]string{m.sessionKey(deviceTag)},
		connID, int(m.conf.TTL.Seconds()),
	).Result()
	if err != nil {
		return "", pkgerr.Wrap(err, "bind session")
	}
	old, _ := res.(string)
	return old, nil
}

// ClearIfMatch 仅当仍指向 connID 时清除绑定；返回是否真的清掉了
func (m *BindingStore) ClearIfMatch(ctx context.Context, deviceTag, connID string) (bool, error) {
	res, err := m.luaClear.Run(ctx, redis2.GetRedis(),
		[]string{m.sessionKey(deviceTag)},
		connID,
	).Int()
	if err != nil {
		return false, pkgerr.Wrap(err, "clear session")
	}
	return res == 1, nil
}

// Current 查询设备当前绑定的 connID；未绑定返回空串
func (m *BindingStore) Current(ctx context.Context, deviceTag string) (string, error) {
	v, err := redis2.GetRedis().Get(ctx, m.sessionKey(deviceTag)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", pkgerr.Wrap(err, "get session")
	}
	return v, nil
}
