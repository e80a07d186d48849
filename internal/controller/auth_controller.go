package controller

import (
	"net/http"
	"net/url"
	"nova_progress_backend/internal/config"
	"nova_progress_backend/internal/service"
	"nova_progress_backend/internal/util"
	"nova_progress_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuthController struct {
	AuthService *service.AuthService
	Store       *service.GameStore
	Cfg         *config.Config
}

func NewAuthController(authService *service.AuthService, store *service.GameStore, cfg *config.Config) *AuthController {
	return &AuthController{
		AuthService: authService,
		Store:       store,
		Cfg:         cfg,
	}
}

// CredentialsRequest 邮箱密码
// swagger:model CredentialsRequest
type CredentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type EmailRequest struct {
	Email string `json:"email" binding:"required"`
}

type TokenRequest struct {
	Token string `json:"token" binding:"required"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// SignUp godoc
// @Summary 注册
// @Tags 认证
// @Accept  json
// @Produce  json
// @Param   body body CredentialsRequest true "邮箱与密码"
// @Success 201 {object} util.Response{data=service.AuthSession} "注册成功"
// @Failure 400 {object} util.Response "请求参数错误"
// @Failure 409 {object} util.Response "邮箱已被注册"
// @Router /auth/signup [post]
func (c *AuthController) SignUp(ctx *gin.Context) {
	var req CredentialsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	sess, err := c.AuthService.SignUp(ctx.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Created(ctx, sess)
}

// Login godoc
// @Summary 邮箱密码登录
// @Tags 认证
// @Accept  json
// @Produce  json
// @Param   body body CredentialsRequest true "邮箱与密码"
// @Success 200 {object} util.Response{data=service.AuthSession} "登录成功"
// @Failure 401 {object} util.Response "邮箱或密码错误"
// @Router /auth/login [post]
func (c *AuthController) Login(ctx *gin.Context) {
	var req CredentialsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	sess, err := c.AuthService.SignIn(ctx.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, sess)
}

// SendMagicLink godoc
// @Summary 发送一次性登录链接
// @Tags 认证
// @Accept  json
// @Produce  json
// @Param   body body EmailRequest true "邮箱"
// @Success 200 {object} util.Response
// @Router /auth/magic-link [post]
func (c *AuthController) SendMagicLink(ctx *gin.Context) {
	var req EmailRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	if err := c.AuthService.SendMagicLink(ctx.Request.Context(), req.Email); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"sent": true})
}

// VerifyMagicLink godoc
// @Summary 使用登录链接中的令牌登录
// @Tags 认证
// @Accept  json
// @Produce  json
// @Param   body body TokenRequest true "令牌"
// @Success 200 {object} util.Response{data=service.AuthSession}
// @Failure 401 {object} util.Response "令牌无效或已过期"
// @Router /auth/magic-link/verify [post]
func (c *AuthController) VerifyMagicLink(ctx *gin.Context) {
	var req TokenRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	sess, err := c.AuthService.VerifyMagicLink(ctx.Request.Context(), req.Token)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, sess)
}

// Recover godoc
// @Summary 发送重置密码邮件
// @Description 邮箱未注册时同样返回成功
// @Tags 认证
// @Accept  json
// @Produce  json
// @Param   body body EmailRequest true "邮箱"
// @Success 200 {object} util.Response
// @Router /auth/recover [post]
func (c *AuthController) Recover(ctx *gin.Context) {
	var req EmailRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	if err := c.AuthService.RequestRecovery(ctx.Request.Context(), req.Email); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"sent": true})
}

// ResetPassword godoc
// @Summary 重置密码
// @Tags 认证
// @Accept  json
// @Produce  json
// @Param   body body ResetPasswordRequest true "找回令牌与新密码"
// @Success 200 {object} util.Response{data=service.AuthSession} "event 为 PASSWORD_RECOVERY"
// @Failure 401 {object} util.Response "令牌无效或已过期"
// @Router /auth/reset-password [post]
func (c *AuthController) ResetPassword(ctx *gin.Context) {
	var req ResetPasswordRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	sess, err := c.AuthService.ResetPassword(ctx.Request.Context(), req.Token, req.Password)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, sess)
}

// OAuthRedirect godoc
// @Summary 第三方登录跳转
// @Tags 认证
// @Param   provider path string true "google 或 github"
// @Success 307
// @Failure 400 {object} util.Response "不支持的登录方式"
// @Router /auth/oauth/{provider} [get]
func (c *AuthController) OAuthRedirect(ctx *gin.Context) {
	target, err := c.AuthService.OAuthURL(ctx.Request.Context(), ctx.Param("provider"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.Redirect(http.StatusTemporaryRedirect, target)
}

// OAuthCallback godoc
// @Summary 第三方登录回调
// @Description 成功后跳回客户端，令牌放在 URL fragment 中
// @Tags 认证
// @Param   provider path string true "google 或 github"
// @Param   state query string true "state"
// @Param   code query string true "授权码"
// @Success 302
// @Router /auth/oauth/{provider}/callback [get]
func (c *AuthController) OAuthCallback(ctx *gin.Context) {
	provider := ctx.Param("provider")
	sess, err := c.AuthService.OAuthCallback(ctx.Request.Context(), provider, ctx.Query("state"), ctx.Query("code"))

	redirect := c.Cfg.Auth.RedirectURL
	if redirect == "" {
		if err != nil {
			respondError(ctx, err)
			return
		}
		util.Success(ctx, sess)
		return
	}

	fragment := url.Values{}
	if err != nil {
		logger.Log.Warn("OAuth callback failed", zap.String("provider", provider), zap.Error(err))
		fragment.Set("error", err.Error())
	} else {
		fragment.Set("access_token", sess.AccessToken)
		fragment.Set("token_type", sess.TokenType)
		fragment.Set("type", "oauth")
	}
	ctx.Redirect(http.StatusFound, redirect+"#"+fragment.Encode())
}

// Session godoc
// @Summary 当前会话
// @Tags 认证
// @Security BearerAuth
// @Produce  json
// @Success 200 {object} util.Response{data=object}
// @Router /session [get]
func (c *AuthController) Session(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	user, err := c.AuthService.CurrentUser(ctx.Request.Context(), claims)
	if err != nil {
		util.Unauthorized(ctx)
		return
	}
	util.Success(ctx, gin.H{
		"user":       user,
		"dev_bypass": c.Cfg.Auth.DevBypass && claims.ID == "",
	})
}

// Logout godoc
// @Summary 登出
// @Description 吊销令牌并清理服务端会话与在线快照
// @Tags 认证
// @Security BearerAuth
// @Produce  json
// @Success 200 {object} util.Response
// @Router /logout [post]
func (c *AuthController) Logout(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	if err := c.AuthService.Revoke(ctx.Request.Context(), claims); err != nil {
		logger.Log.Warn("Failed to revoke token", zap.String("userID", claims.UserID), zap.Error(err))
	}
	if err := c.Store.Logout(ctx.Request.Context(), claims.UserID); err != nil {
		logger.Log.Warn("Failed to clear session cache", zap.String("userID", claims.UserID), zap.Error(err))
	}
	util.Success(ctx, nil)
}
