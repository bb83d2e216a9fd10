package gateway

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"WatchGate/logger"
	"WatchGate/tools/ids"
	security "WatchGate/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(r *http.Request) bool { return true }}

const firstPingDelay = 5 * time.Second // 首个 ping 延后，避免刚连上即写超时

// HandleWS ===== WebSocket 入口 =====
// 握手 -> 凭证校验 -> 会话绑定 -> 读循环；认证失败一律强关，不留半会话。
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[HandleWS] upgrade websocket error: %v", err)
		return
	}

	rawToken := extractToken(c)
	claims, err := security.Verify(s.conf.JWT, rawToken)
	if err != nil {
		logger.Infof("[HandleWS] handshake auth failed: %v", err)
		closeWithPolicy(ws, s.conf.WriteWait)
		return
	}

	connID := ids.GenerateString()
	rec, err := s.conns.AddUnauth(connID, ws)
	if err != nil {
		logger.Infof("[HandleWS] register conn failed: %v", err)
		closeWithPolicy(ws, s.conf.WriteWait)
		return
	}

	dev, err := s.binder.Bind(context.Background(), claims, connID)
	if err != nil {
		logger.Infof("[HandleWS] bind failed conn=%s err=%v", connID, err)
		s.conns.Remove(connID)
		closeWithPolicy(ws, s.conf.WriteWait)
		return
	}
	logger.Infof("[HandleWS] client connected conn=%s device=%s user=%s", connID, dev.Tag, dev.UserName)

	s.conns.AttachPongHandler(ws, connID)

	done := make(chan struct{})
	go s.writePump(rec, done)

	// ---- 读循环：只读不写；出错即退出（写协程收尾） ----
	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[WS] peer closed conn=%s err=%v", connID, rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[WS] read timeout conn=%s err=%v", connID, rerr)
			} else {
				logger.Infof("[WS] read err conn=%s err=%v", connID, rerr)
			}
			break
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		frame, perr := ParseFrame(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Warnf("[WS] ParseFrame err conn=%s err=%v sample=%q len=%d", connID, perr, sample, len(data))
			continue
		}

		// 每条消息重走一遍凭证校验（过期/吊销的凭证立刻断开）
		claims, err = security.Verify(s.conf.JWT, rawToken)
		if err != nil {
			logger.Infof("[WS] reauth failed conn=%s err=%v", connID, err)
			break
		}

		if derr := s.Dispatch(context.Background(), rec, claims, frame); derr != nil {
			logger.Infof("[WS] auth lost conn=%s err=%v", connID, derr)
			break
		}
	}

	// ---- 退出阶段：条件解绑、退出分组、回收连接 ----
	{
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if rec.Authorized && rec.DeviceTag != "" {
			s.binder.Unbind(ctx, rec.DeviceTag, connID)
		}
		cancel()
	}
	s.conns.Remove(connID)
	close(done)
	logger.Infof("[WS] closed conn=%s device=%s", connID, rec.DeviceTag)
}

// writePump 写协程：业务帧 + 周期 ping；出错即发 Close 收尾
func (s *Server) writePump(rec *WsConn, done <-chan struct{}) {
	ticker := time.NewTicker(s.conf.PingInterval)
	first := time.NewTimer(firstPingDelay)
	defer func() {
		ticker.Stop()
		first.Stop()

		_ = rec.Conn.SetWriteDeadline(time.Now().Add(s.conf.WriteWait))
		_ = rec.Conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = rec.Conn.Close()
	}()

	for {
		select {
		case <-done:
			return

		case payload := <-rec.SendChan:
			_ = rec.Conn.SetWriteDeadline(time.Now().Add(s.conf.WriteWait))
			if err := rec.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Infof("[WS] write payload err conn=%s device=%s err=%v", rec.ConnID, rec.DeviceTag, err)
				return
			}

		case <-first.C: // 首次 ping
			if err := pingOnce(rec.Conn, s.conf.WriteWait); err != nil {
				logger.Infof("[WS] first ping err conn=%s err=%v", rec.ConnID, err)
				return
			}

		case <-ticker.C: // 常规 ping
			if err := pingOnce(rec.Conn, s.conf.WriteWait); err != nil {
				logger.Infof("[WS] ping err conn=%s err=%v", rec.ConnID, err)
				return
			}
		}
	}
}

func pingOnce(conn *websocket.Conn, writeWait time.Duration) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait))
}

// extractToken 握手凭证：query ?token= 优先，退回 Authorization 头；
// "token=" 前缀由 Verify 内剥掉
func extractToken(c *gin.Context) string {
	if v := c.Query("token"); v != "" {
		return v
	}
	authz := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	return authz
}

func closeWithPolicy(ws *websocket.Conn, writeWait time.Duration) {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid credentials"))
	_ = ws.Close()
}
