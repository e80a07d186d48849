package middleware

import (
	"context"
	"nova_progress_backend/internal/config"
	"nova_progress_backend/internal/model"
	"nova_progress_backend/internal/util"
	"nova_progress_backend/pkg/logger"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RevocationChecker 登出后的令牌查询
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) bool
}

// DevClaims 开发免登录时注入的固定身份
func DevClaims(cfg *config.Config, userID string) *util.Claims {
	return &util.Claims{
		UserID:   userID,
		Email:    cfg.Auth.DevUserEmail,
		Provider: model.ProviderEmail,
	}
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	// websocket 握手无法携带请求头
	return c.Query("token")
}

// AuthMiddleware 校验 JWT。dev 为空表示关闭免登录
func AuthMiddleware(cfg *config.Config, revoked RevocationChecker, dev *util.Claims) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)

		if tokenString == "" {
			if cfg.Auth.DevBypass && dev != nil {
				c.Set("user", dev)
				c.Next()
				return
			}
			util.Unauthorized(c)
			c.Abort()
			return
		}

		claims, err := util.ParseJWT(tokenString, cfg.JWT.Secret)
		if err != nil {
			logger.Log.Debug("JWT parse failed", zap.Error(err))
			util.Unauthorized(c)
			c.Abort()
			return
		}
		if revoked != nil && revoked.IsRevoked(c.Request.Context(), claims.ID) {
			util.Unauthorized(c)
			c.Abort()
			return
		}

		c.Set("user", claims)
		c.Next()
	}
}
