package controller

import (
	"crypto/subtle"
	"nova_progress_backend/internal/config"
	"nova_progress_backend/internal/service"
	"nova_progress_backend/internal/util"
	"strings"

	"github.com/gin-gonic/gin"
)

type CheckoutController struct {
	Checkout  *service.CheckoutService
	Functions config.FunctionsConfig
}

func NewCheckoutController(checkout *service.CheckoutService, functions config.FunctionsConfig) *CheckoutController {
	return &CheckoutController{Checkout: checkout, Functions: functions}
}

type CheckoutRequest struct {
	ReturnURL string `json:"return_url"`
}

type ConfirmRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// Start godoc
// @Summary 创建会员支付会话
// @Description 返回支付跳转地址。支付服务不可用且允许模拟时直接开通，simulated 为 true
// @Tags 支付
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body CheckoutRequest false "支付完成后的返回地址"
// @Success 200 {object} util.Response{data=service.CheckoutResult}
// @Failure 502 {object} util.Response "支付服务不可用"
// @Router /checkout [post]
func (c *CheckoutController) Start(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	var req CheckoutRequest
	_ = ctx.ShouldBindJSON(&req)

	res, err := c.Checkout.Start(ctx.Request.Context(), claims.UserID, req.ReturnURL)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, res)
}

// Confirm godoc
// @Summary 支付成功回调
// @Description 由远程支付函数调用，使用 functions.api_key 作为 Bearer 令牌
// @Tags 支付
// @Accept json
// @Produce json
// @Param body body ConfirmRequest true "用户ID"
// @Success 200 {object} util.Response
// @Failure 401 {object} util.Response "令牌错误"
// @Router /checkout/confirm [post]
func (c *CheckoutController) Confirm(ctx *gin.Context) {
	token := strings.TrimPrefix(ctx.GetHeader("Authorization"), "Bearer ")
	if c.Functions.APIKey == "" || subtle.ConstantTimeCompare([]byte(token), []byte(c.Functions.APIKey)) != 1 {
		util.Unauthorized(ctx)
		return
	}
	var req ConfirmRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	if err := c.Checkout.Confirm(ctx.Request.Context(), req.UserID); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}
