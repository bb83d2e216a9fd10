package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"WatchGate/global"
	devsrv "WatchGate/module/device/service"
	roomsrv "WatchGate/module/room/service"
	"WatchGate/service/gateway"
	mgoSrv "WatchGate/service/mgo"
	"WatchGate/service/storage"
	security "WatchGate/tools/security"

	"github.com/gin-gonic/gin"
)

func main() {

	global.ConfigAll()

	gwID := global.GatewayID()
	jwtOpts := security.DefaultOptions(global.GetJwtSecret())

	// 1) 等 Mongo 首次就绪（token/device/room/member 库都在上面）
	{
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := mgoSrv.WaitReady(ctx, mgoSrv.Manager()); err != nil {
			cancel()
			log.Fatalf("mongo not ready: %v", err)
		}
		cancel()
	}
	db := mgoSrv.Manager().GetDB()

	// 2) 组装网关
	conns := gateway.NewConnManager(gwID)
	tokens := devsrv.NewTokenStore(db)
	devices := devsrv.NewDeviceStore(db)

	// Redis 没起来时镜像为空，绑定只落本地注册表
	var registry gateway.SessionRegistry
	if st := storage.Default(); st != nil {
		registry = st
	}
	binder := gateway.NewBinder(tokens, devices, registry, conns, 3*time.Second)
	coord := gateway.NewCoordinator(roomsrv.NewRoomStore(db), roomsrv.NewMemberStore(db), conns, 3*time.Second)

	g := gateway.NewServer(gateway.Config{
		GatewayID: gwID,
		JWT:       jwtOpts,
	}, conns, binder, coord)

	// 3) HTTP + WebSocket
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/gateway", g.HandleWS) // e.g. ws://localhost:7777/gateway?token=<jwt>

	// 开发用签发入口；生产由独立登录服务签发
	r.POST("/login", func(c *gin.Context) {
		var req struct {
			Device string `json:"device" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		signed, rec, err := tokens.IssueToken(c.Request.Context(), jwtOpts, devsrv.LoginParams{DeviceTag: req.Device})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": signed, "expire_at": rec.ExpireAt.UnixMilli()})
	})

	log.Println("[HTTP] Listening on :7777")
	if err := r.Run(":7777"); err != nil {
		log.Fatalf("HTTP server failed: %v", err)
	}
}
