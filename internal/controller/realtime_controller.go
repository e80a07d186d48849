package controller

import (
	"nova_progress_backend/internal/service"

	"github.com/gin-gonic/gin"
)

type RealtimeController struct {
	Hub *service.RealtimeHub
}

func NewRealtimeController(hub *service.RealtimeHub) *RealtimeController {
	return &RealtimeController{Hub: hub}
}

// Connect godoc
// @Summary 实时变更推送
// @Description 建立 WebSocket 连接，只推送当前用户相关的表变更。浏览器可用 token 查询参数传令牌
// @Tags 实时
// @Security BearerAuth
// @Param token query string false "JWT Token"
// @Success 101 {string} string "Switching Protocols"
// @Router /realtime [get]
func (c *RealtimeController) Connect(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	service.ServeWs(c.Hub, ctx.Writer, ctx.Request, claims.UserID)
}
