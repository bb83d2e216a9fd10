package gateway

import (
	"errors"
	"net"
	"sync"
	"time"

	"WatchGate/logger"

	"github.com/gorilla/websocket"
)

// ===== 配置 =====

type ManagerConf struct {
	UnauthTTL  time.Duration    // 未授权连接的 TTL（如 60s）
	AuthTTL    time.Duration    // 已授权连接的 TTL（如 2h）
	SweepEvery time.Duration    // 清理周期（如 10s）
	SendBuf    int              // 每连接发送队列长度
	Clock      func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 10 * time.Second
	}
	if c.UnauthTTL <= 0 {
		c.UnauthTTL = 60 * time.Second
	}
	if c.AuthTTL <= 0 {
		c.AuthTTL = 2 * time.Hour
	}
	if c.SendBuf <= 0 {
		c.SendBuf = 64
	}
}

// ===== 数据结构 =====

type WsConn struct {
	ConnID     string
	DeviceTag  string
	UserName   string
	Authorized bool

	Conn   *websocket.Conn
	Remote net.Addr

	CreatedAt time.Time
	UpdatedAt time.Time
	SendChan  chan []byte // 每连接独立发送队列

	TTL       time.Duration // 当前 TTL（随授权态切换）
	ExpireAt  time.Time     // 到期时间（过期由 sweeper 清理）
	Heartbeat time.Time     // 最近心跳时间

	rooms map[string]struct{} // 已加入的房间；由 manager 锁保护
}

// ConnManager 网关本地的连接登记表：
//   - byConn   : connID -> 连接（主索引）
//   - byDevice : 设备tag -> 当前连接（注册表不变式：至多一条）
//   - rooms    : roomKey -> connID -> 连接（广播分组）
type ConnManager struct {
	mu       sync.RWMutex
	byConn   map[string]*WsConn
	byDevice map[string]*WsConn
	rooms    map[string]map[string]*WsConn

	conf     ManagerConf
	stopOnce sync.Once
	stopCh   chan struct{}
	gwID     string // 节点ID
}

// ===== 构造/关闭 =====

func NewConnManager(gwID string) *ConnManager {
	return NewConnManagerWithConf(ManagerConf{}, gwID)
}

func NewConnManagerWithConf(conf ManagerConf, gwID string) *ConnManager {
	conf.norm()
	m := &ConnManager{
		byConn:   make(map[string]*WsConn),
		byDevice: make(map[string]*WsConn),
		rooms:    make(map[string]map[string]*WsConn),
		conf:     conf,
		gwID:     gwID,
		stopCh:   make(chan struct{}),
	}
	go m.sweeper()
	return m
}

func (m *ConnManager) GwID() string {
	return m.gwID
}

func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.byConn {
		closeQuiet(w.Conn)
	}
	m.byConn = map[string]*WsConn{}
	m.byDevice = map[string]*WsConn{}
	m.rooms = map[string]map[string]*WsConn{}
}

// ===== 登记/绑定 =====

// AddUnauth 新连接（未授权）登记；仅有 connID
func (m *ConnManager) AddUnauth(connID string, conn *websocket.Conn) (*WsConn, error) {
	if connID == "" || conn == nil {
		return nil, errors.New("connID/conn empty")
	}
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byConn[connID]; exists {
		return nil, errors.New("connID exists")
	}

	w := &WsConn{
		ConnID:    connID,
		Conn:      conn,
		Remote:    conn.RemoteAddr(),
		CreatedAt: now,
		UpdatedAt: now,
		Heartbeat: now,
		SendChan:  make(chan []byte, m.conf.SendBuf),
		TTL:       m.conf.UnauthTTL,
		ExpireAt:  now.Add(m.conf.UnauthTTL),
		rooms:     make(map[string]struct{}),
	}
	m.byConn[connID] = w
	return w, nil
}

// GetConn 按 connID 取连接
func (m *ConnManager) GetConn(connID string) (*WsConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.byConn[connID]
	return w, ok
}

// GetByDevice 设备当前绑定的连接
func (m *ConnManager) GetByDevice(deviceTag string) (*WsConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.byDevice[deviceTag]
	return w, ok
}

// BindDevice 将未授权连接绑到设备；切到 AuthTTL。
// 注册表内同设备至多一条：近同时的两次重连在锁内定序，后写的赢；
// 被挤掉的旧连接返回给调用方关闭（不能悄悄丢弃写入，见 UnbindDevice）。
func (m *ConnManager) BindDevice(connID, deviceTag, userName string) (evicted *WsConn, err error) {
	if connID == "" || deviceTag == "" {
		return nil, errors.New("connID/deviceTag empty")
	}
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.byConn[connID]
	if !ok || w.Conn == nil {
		return nil, errors.New("connID not found")
	}
	// 绑定后的设备标识不再改变；换绑必须走断开/重连
	if w.Authorized && w.DeviceTag != deviceTag {
		return nil, errors.New("conn already bound to another device")
	}

	if old := m.byDevice[deviceTag]; old != nil && old.ConnID != connID {
		evicted = old
	}
	m.byDevice[deviceTag] = w

	w.DeviceTag = deviceTag
	w.UserName = userName
	w.Authorized = true
	w.TTL = m.conf.AuthTTL
	w.ExpireAt = now.Add(m.conf.AuthTTL)
	w.UpdatedAt = now
	w.Heartbeat = now
	return evicted, nil
}

// UnbindDevice 条件解绑：仅当注册表仍指向 connID 时才清。
// 迟到的断开事件不会清掉更新的会话（compare-and-clear）。
// 幂等：重复调用返回 false，不破坏注册表。
func (m *ConnManager) UnbindDevice(deviceTag, connID string) bool {
	if deviceTag == "" || connID == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur := m.byDevice[deviceTag]; cur != nil && cur.ConnID == connID {
		delete(m.byDevice, deviceTag)
		return true
	}
	return false
}

// Remove 关闭并移除指定连接；从所有房间分组退出。
// byDevice 仅在仍指向本连接时清理（同 UnbindDevice 的守卫）。
func (m *ConnManager) Remove(connID string) {
	if connID == "" {
		return
	}
	m.mu.Lock()
	w, ok := m.byConn[connID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.byConn, connID)
	m.detachLocked(w)
	m.mu.Unlock()

	closeQuiet(w.Conn)
}

// 持锁调用：从 byDevice 与所有房间分组摘除
func (m *ConnManager) detachLocked(w *WsConn) {
	if w.DeviceTag != "" {
		if cur := m.byDevice[w.DeviceTag]; cur != nil && cur.ConnID == w.ConnID {
			delete(m.byDevice, w.DeviceTag)
		}
	}
	for roomKey := range w.rooms {
		if g := m.rooms[roomKey]; g != nil {
			delete(g, w.ConnID)
			if len(g) == 0 {
				delete(m.rooms, roomKey)
			}
		}
	}
	w.rooms = map[string]struct{}{}
}

// ===== 房间分组 =====

// JoinRoom 连接加入房间分组（传输层 group 操作，幂等）
func (m *ConnManager) JoinRoom(connID, roomKey string) error {
	if connID == "" || roomKey == "" {
		return errors.New("connID/roomKey empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.byConn[connID]
	if !ok {
		return errors.New("connID not found")
	}
	g := m.rooms[roomKey]
	if g == nil {
		g = make(map[string]*WsConn)
		m.rooms[roomKey] = g
	}
	g[connID] = w
	w.rooms[roomKey] = struct{}{}
	return nil
}

// LeaveRoom 连接退出房间分组（幂等）
func (m *ConnManager) LeaveRoom(connID, roomKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.byConn[connID]; ok {
		delete(w.rooms, roomKey)
	}
	if g := m.rooms[roomKey]; g != nil {
		delete(g, connID)
		if len(g) == 0 {
			delete(m.rooms, roomKey)
		}
	}
}

// RoomSize 房间分组内的连接数
func (m *ConnManager) RoomSize(roomKey string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[roomKey])
}

// ===== 广播 =====

// BroadcastRoom 发给房间分组内全部连接（含发送者），返回入队条数。
// at-least-once / best-effort：单个慢接收方不阻塞、不影响其他接收方。
func (m *ConnManager) BroadcastRoom(roomKey string, data []byte) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, w := range m.rooms[roomKey] {
		if m.enqueueLocked(w, data) {
			n++
		}
	}
	return n
}

// BroadcastRoomExcept 发给房间分组内除发送者外的全部连接
func (m *ConnManager) BroadcastRoomExcept(senderConnID, roomKey string, data []byte) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for id, w := range m.rooms[roomKey] {
		if id == senderConnID {
			continue
		}
		if m.enqueueLocked(w, data) {
			n++
		}
	}
	return n
}

// 非阻塞入队；队列满即丢弃（传输层之外不做缓冲/重放）
func (m *ConnManager) enqueueLocked(w *WsConn, data []byte) bool {
	select {
	case w.SendChan <- data:
		return true
	default:
		logger.Warnf("[ConnMgr] send queue full, drop event conn=%s device=%s", w.ConnID, w.DeviceTag)
		return false
	}
}

// ===== 心跳/清理 =====

// RefreshHeartbeat 刷新连接的心跳与到期时间
func (m *ConnManager) RefreshHeartbeat(connID string) error {
	if connID == "" {
		return errors.New("connID empty")
	}
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.byConn[connID]
	if !ok {
		return errors.New("connID not found")
	}
	w.Heartbeat = now
	w.ExpireAt = now.Add(w.TTL)
	w.UpdatedAt = now
	return nil
}

// AttachPongHandler 绑定 gorilla/websocket 的 PongHandler，自动心跳续期
func (m *ConnManager) AttachPongHandler(conn *websocket.Conn, connID string) {
	if conn == nil || connID == "" {
		return
	}
	conn.SetPongHandler(func(appData string) error {
		_ = m.RefreshHeartbeat(connID) // 忽略错误：连接可能刚好被清理
		return nil
	})
}

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-t.C:
			m.sweepOnce(now)
		}
	}
}

func (m *ConnManager) sweepOnce(now time.Time) {
	var expired []*WsConn

	m.mu.Lock()
	for id, w := range m.byConn {
		if now.After(w.ExpireAt) {
			// 收集后统一关闭，避免持锁期间关闭 socket
			expired = append(expired, w)
			delete(m.byConn, id)
			m.detachLocked(w)
		}
	}
	m.mu.Unlock()

	for _, w := range expired {
		logger.Infof("[ConnMgr] sweep expired conn=%s device=%s", w.ConnID, w.DeviceTag)
		closeQuiet(w.Conn)
	}
}

// ===== 工具函数 =====

func closeQuiet(c *websocket.Conn) {
	if c != nil {
		_ = c.Close()
	}
}
