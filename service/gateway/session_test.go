package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	devmodel "WatchGate/module/device/model"
	errs "WatchGate/tools/errs"
	security "WatchGate/tools/security"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ===== fakes =====

type fakeTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*devmodel.Token
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: map[string]*devmodel.Token{}}
}

func (f *fakeTokenStore) put(t *devmodel.Token) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[t.Identifier] = t
}

func (f *fakeTokenStore) FindByIdentifier(ctx context.Context, identifier string) (*devmodel.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens[identifier], nil
}

type fakeDeviceStore struct {
	mu      sync.Mutex
	devices map[string]*devmodel.Device
}

func newFakeDeviceStore() *fakeDeviceStore {
	return &fakeDeviceStore{devices: map[string]*devmodel.Device{}}
}

func (f *fakeDeviceStore) put(d *devmodel.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[d.Tag] = d
}

func (f *fakeDeviceStore) socketID(tag string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d := f.devices[tag]; d != nil {
		return d.SocketID
	}
	return ""
}

func (f *fakeDeviceStore) FindByTag(ctx context.Context, tag string) (*devmodel.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d := f.devices[tag]; d != nil {
		cp := *d
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeDeviceStore) UpdateSocketID(ctx context.Context, tag, socketID string) (*devmodel.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.devices[tag]
	if d == nil {
		return nil, nil
	}
	d.SocketID = socketID
	cp := *d
	return &cp, nil
}

func (f *fakeDeviceStore) ClearSocketIDIfMatch(ctx context.Context, tag, connID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.devices[tag]
	if d == nil || d.SocketID != connID {
		return false, nil
	}
	d.SocketID = ""
	return true, nil
}

type fakeRegistry struct {
	mu sync.Mutex
	m  map[string]string
}

func newFakeRegistry() *fakeRegistry { return &fakeRegistry{m: map[string]string{}} }

func (f *fakeRegistry) Bind(ctx context.Context, deviceTag, connID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	old := f.m[deviceTag]
	f.m[deviceTag] = connID
	if old == connID {
		old = ""
	}
	return old, nil
}

func (f *fakeRegistry) ClearIfMatch(ctx context.Context, deviceTag, connID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.m[deviceTag] != connID {
		return false, nil
	}
	delete(f.m, deviceTag)
	return true, nil
}

func (f *fakeRegistry) current(deviceTag string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.m[deviceTag]
}

// 阻塞到 ctx 超时的 token 存储，模拟后端不可达
type slowTokenStore struct{}

func (slowTokenStore) FindByIdentifier(ctx context.Context, identifier string) (*devmodel.Token, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// ===== fixtures =====

func claimsFor(deviceTag, tokenID, tag string) *security.GatewayClaims {
	c := &security.GatewayClaims{Tag: tag}
	c.Subject = deviceTag
	c.ID = tokenID
	return c
}

func seedIdentity(tokens *fakeTokenStore, devices *fakeDeviceStore, deviceTag, tokenID, tag, name string) {
	tokens.put(&devmodel.Token{
		Identifier: tokenID,
		Tag:        tag,
		Status:     devmodel.TokenActive,
		Device:     deviceTag,
	})
	devices.put(&devmodel.Device{Tag: deviceTag, UserName: name})
}

// ===== tests =====

func TestBindSuccess(t *testing.T) {
	ts := startWSTestServer(t)
	m := NewConnManager("gw-test")
	defer m.Close()

	tokens, devices, reg := newFakeTokenStore(), newFakeDeviceStore(), newFakeRegistry()
	seedIdentity(tokens, devices, "dev-a", "jti-1", "tag-1", "alice")
	b := NewBinder(tokens, devices, reg, m, time.Second)

	_, err := m.AddUnauth("c1", ts.dial(t))
	require.NoError(t, err)

	dev, err := b.Bind(context.Background(), claimsFor("dev-a", "jti-1", "tag-1"), "c1")
	require.NoError(t, err)
	assert.Equal(t, "alice", dev.UserName)

	w, ok := m.GetByDevice("dev-a")
	require.True(t, ok)
	assert.Equal(t, "c1", w.ConnID)
	assert.True(t, w.Authorized)
	assert.Equal(t, "c1", devices.socketID("dev-a"))
	assert.Equal(t, "c1", reg.current("dev-a"))
}

func TestBindUnknownToken(t *testing.T) {
	ts := startWSTestServer(t)
	m := NewConnManager("gw-test")
	defer m.Close()

	tokens, devices := newFakeTokenStore(), newFakeDeviceStore()
	b := NewBinder(tokens, devices, nil, m, time.Second)

	_, err := m.AddUnauth("c1", ts.dial(t))
	require.NoError(t, err)

	_, err = b.Bind(context.Background(), claimsFor("dev-a", "jti-missing", "tag-1"), "c1")
	require.Error(t, err)
	assert.True(t, errs.ErrTokenUnknown.Is(err))
	assert.True(t, errs.ErrAuth.Is(err), "unknown token belongs to the auth error family")

	_, ok := m.GetByDevice("dev-a")
	assert.False(t, ok, "failed bind must not leave a half-authenticated entry")
}

func TestBindRevokedToken(t *testing.T) {
	ts := startWSTestServer(t)
	m := NewConnManager("gw-test")
	defer m.Close()

	tokens, devices := newFakeTokenStore(), newFakeDeviceStore()
	seedIdentity(tokens, devices, "dev-a", "jti-1", "tag-1", "alice")
	tokens.put(&devmodel.Token{
		Identifier: "jti-1",
		Tag:        "tag-1",
		Status:     devmodel.TokenRevoked,
		Device:     "dev-a",
	})
	b := NewBinder(tokens, devices, nil, m, time.Second)

	_, err := m.AddUnauth("c1", ts.dial(t))
	require.NoError(t, err)

	_, err = b.Bind(context.Background(), claimsFor("dev-a", "jti-1", "tag-1"), "c1")
	assert.True(t, errs.ErrTokenStale.Is(err))
}

func TestBindStaleTag(t *testing.T) {
	ts := startWSTestServer(t)
	m := NewConnManager("gw-test")
	defer m.Close()

	tokens, devices := newFakeTokenStore(), newFakeDeviceStore()
	seedIdentity(tokens, devices, "dev-a", "jti-1", "tag-new", "alice")
	b := NewBinder(tokens, devices, nil, m, time.Second)

	_, err := m.AddUnauth("c1", ts.dial(t))
	require.NoError(t, err)

	// 凭证带的是换发前的旧 tag
	_, err = b.Bind(context.Background(), claimsFor("dev-a", "jti-1", "tag-old"), "c1")
	assert.True(t, errs.ErrTokenStale.Is(err))
}

func TestBindTimeout(t *testing.T) {
	ts := startWSTestServer(t)
	m := NewConnManager("gw-test")
	defer m.Close()

	b := NewBinder(slowTokenStore{}, newFakeDeviceStore(), nil, m, 50*time.Millisecond)

	_, err := m.AddUnauth("c1", ts.dial(t))
	require.NoError(t, err)

	_, err = b.Bind(context.Background(), claimsFor("dev-a", "jti-1", "tag-1"), "c1")
	require.Error(t, err)
	assert.True(t, errs.ErrAuthTimeout.Is(err))
	assert.True(t, errs.ErrAuth.Is(err))
}

func TestBindReconnectEvictsOld(t *testing.T) {
	ts := startWSTestServer(t)
	m := NewConnManager("gw-test")
	defer m.Close()

	tokens, devices, reg := newFakeTokenStore(), newFakeDeviceStore(), newFakeRegistry()
	seedIdentity(tokens, devices, "dev-a", "jti-1", "tag-1", "alice")
	b := NewBinder(tokens, devices, reg, m, time.Second)

	_, err := m.AddUnauth("c-old", ts.dial(t))
	require.NoError(t, err)
	_, err = b.Bind(context.Background(), claimsFor("dev-a", "jti-1", "tag-1"), "c-old")
	require.NoError(t, err)

	_, err = m.AddUnauth("c-new", ts.dial(t))
	require.NoError(t, err)
	_, err = b.Bind(context.Background(), claimsFor("dev-a", "jti-1", "tag-1"), "c-new")
	require.NoError(t, err)

	// 旧连接被挤掉并移除；注册表各层都指向新连接
	_, ok := m.GetConn("c-old")
	assert.False(t, ok)
	cur, ok := m.GetByDevice("dev-a")
	require.True(t, ok)
	assert.Equal(t, "c-new", cur.ConnID)
	assert.Equal(t, "c-new", devices.socketID("dev-a"))
	assert.Equal(t, "c-new", reg.current("dev-a"))
}

func TestUnbindCompareAndClear(t *testing.T) {
	ts := startWSTestServer(t)
	m := NewConnManager("gw-test")
	defer m.Close()

	tokens, devices, reg := newFakeTokenStore(), newFakeDeviceStore(), newFakeRegistry()
	seedIdentity(tokens, devices, "dev-a", "jti-1", "tag-1", "alice")
	b := NewBinder(tokens, devices, reg, m, time.Second)

	_, err := m.AddUnauth("c-old", ts.dial(t))
	require.NoError(t, err)
	_, err = b.Bind(context.Background(), claimsFor("dev-a", "jti-1", "tag-1"), "c-old")
	require.NoError(t, err)
	_, err = m.AddUnauth("c-new", ts.dial(t))
	require.NoError(t, err)
	_, err = b.Bind(context.Background(), claimsFor("dev-a", "jti-1", "tag-1"), "c-new")
	require.NoError(t, err)

	// 旧连接的迟到断开：守卫住，新会话不受影响
	b.Unbind(context.Background(), "dev-a", "c-old")
	assert.Equal(t, "c-new", devices.socketID("dev-a"))
	assert.Equal(t, "c-new", reg.current("dev-a"))
	_, ok := m.GetByDevice("dev-a")
	assert.True(t, ok)

	// 当前连接的断开：各层都清
	b.Unbind(context.Background(), "dev-a", "c-new")
	assert.Equal(t, "", devices.socketID("dev-a"))
	assert.Equal(t, "", reg.current("dev-a"))
	_, ok = m.GetByDevice("dev-a")
	assert.False(t, ok)

	// 幂等
	b.Unbind(context.Background(), "dev-a", "c-new")
	assert.Equal(t, "", devices.socketID("dev-a"))
}

func TestAuthenticate(t *testing.T) {
	m := NewConnManager("gw-test")
	defer m.Close()

	tokens, devices := newFakeTokenStore(), newFakeDeviceStore()
	seedIdentity(tokens, devices, "dev-a", "jti-1", "tag-1", "alice")
	b := NewBinder(tokens, devices, nil, m, time.Second)

	dev, err := b.Authenticate(context.Background(), claimsFor("dev-a", "jti-1", "tag-1"))
	require.NoError(t, err)
	assert.Equal(t, "alice", dev.UserName)

	_, err = b.Authenticate(context.Background(), claimsFor("dev-missing", "jti-1", "tag-1"))
	require.Error(t, err)
	assert.True(t, errs.ErrAuth.Is(err))
}
