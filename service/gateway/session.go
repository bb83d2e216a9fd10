package gateway

import (
	"context"
	"errors"
	"time"

	"WatchGate/logger"
	devmodel "WatchGate/module/device/model"
	errs "WatchGate/tools/errs"
	security "WatchGate/tools/security"
)

// 外部协作方的窄接口；真实实现见 module/device 与 service/storage
type TokenStore interface {
	FindByIdentifier(ctx context.Context, identifier string) (*devmodel.Token, error)
}

type DeviceStore interface {
	FindByTag(ctx context.Context, tag string) (*devmodel.Device, error)
	UpdateSocketID(ctx context.Context, tag, socketID string) (*devmodel.Device, error)
	ClearSocketIDIfMatch(ctx context.Context, tag, connID string) (bool, error)
}

// SessionRegistry 跨进程的设备->连接绑定镜像（Redis）；可为 nil（单测）
type SessionRegistry interface {
	Bind(ctx context.Context, deviceTag, connID string) (evicted string, err error)
	ClearIfMatch(ctx context.Context, deviceTag, connID string) (bool, error)
}

// Binder 会话绑定器：确认凭证仍然有效，并维护活跃绑定。
type Binder struct {
	tokens   TokenStore
	devices  DeviceStore
	registry SessionRegistry
	conns    *ConnManager
	timeout  time.Duration
}

func NewBinder(tokens TokenStore, devices DeviceStore, registry SessionRegistry, conns *ConnManager, timeout time.Duration) *Binder {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Binder{tokens: tokens, devices: devices, registry: registry, conns: conns, timeout: timeout}
}

// Bind 绑定：token 记录校验 -> 设备 socket_id 覆盖写 -> 本地/Redis注册表。
// 任一步失败都不留半认证状态，调用方必须关连接。
func (b *Binder) Bind(ctx context.Context, claims *security.GatewayClaims, connID string) (*devmodel.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	tok, err := b.tokens.FindByIdentifier(ctx, claims.ID)
	if err != nil {
		return nil, asAuthErr(err, "token lookup")
	}
	if tok == nil {
		return nil, errs.ErrTokenUnknown.WrapMsg("jti", claims.ID)
	}
	if tok.Status == devmodel.TokenRevoked {
		return nil, errs.ErrTokenStale.WrapMsg("token revoked", "jti", claims.ID)
	}
	if tok.Tag != claims.Tag {
		return nil, errs.ErrTokenStale.WrapMsg("tag mismatch", "jti", claims.ID)
	}

	dev, err := b.devices.UpdateSocketID(ctx, tok.Device, connID)
	if err != nil {
		return nil, asAuthErr(err, "device update")
	}
	if dev == nil {
		return nil, errs.ErrTokenUnknown.WrapMsg("device missing", "device", tok.Device)
	}

	// 本地注册表：last-bind-wins，被挤掉的旧连接直接关闭
	evicted, err := b.conns.BindDevice(connID, dev.Tag, dev.UserName)
	if err != nil {
		return nil, errs.ErrAuth.WrapMsg(err.Error())
	}
	if evicted != nil {
		logger.Infof("[Binder] evict stale conn=%s device=%s (rebind to conn=%s)", evicted.ConnID, dev.Tag, connID)
		b.conns.Remove(evicted.ConnID)
	}

	// Redis 镜像 best-effort：失败只记日志，不影响本次绑定
	if b.registry != nil {
		if _, rerr := b.registry.Bind(ctx, dev.Tag, connID); rerr != nil {
			logger.Warnf("[Binder] registry bind failed device=%s conn=%s err=%v", dev.Tag, connID, rerr)
		}
	}
	return dev, nil
}

// Authenticate 每条入站事件的再验证：按 claims.sub 取设备身份快照
func (b *Binder) Authenticate(ctx context.Context, claims *security.GatewayClaims) (*devmodel.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	dev, err := b.devices.FindByTag(ctx, claims.Subject)
	if err != nil {
		return nil, asAuthErr(err, "device lookup")
	}
	if dev == nil {
		return nil, errs.ErrTokenUnknown.WrapMsg("device missing", "sub", claims.Subject)
	}
	return dev, nil
}

// Unbind 条件解绑：仅当存的连接ID仍是本连接时才清（本地与持久层都带守卫）。
// 幂等，调用零次/多次都不破坏注册表。
func (b *Binder) Unbind(ctx context.Context, deviceTag, connID string) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	b.conns.UnbindDevice(deviceTag, connID)

	if cleared, err := b.devices.ClearSocketIDIfMatch(ctx, deviceTag, connID); err != nil {
		logger.Warnf("[Binder] clear socket_id failed device=%s conn=%s err=%v", deviceTag, connID, err)
	} else if !cleared {
		logger.Debug("unbind skipped, binding superseded")
	}

	if b.registry != nil {
		if _, err := b.registry.ClearIfMatch(ctx, deviceTag, connID); err != nil {
			logger.Warnf("[Binder] registry clear failed device=%s conn=%s err=%v", deviceTag, connID, err)
		}
	}
}

// 超时归到认证超时码，其余包成认证错误
func asAuthErr(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.ErrAuthTimeout.WrapMsg(op)
	}
	return errs.ErrAuth.WrapMsg(op, "err", err)
}
