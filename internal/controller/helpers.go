package controller

import (
	"errors"
	"net/http"
	"nova_progress_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// requireUser 取出认证中间件写入的身份，缺失时直接返回 401
func requireUser(ctx *gin.Context) (*util.Claims, bool) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return nil, false
	}
	return claims, true
}

// respondError 按哨兵错误选择状态码，未知错误记录日志并返回 500
func respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrValidation), errors.Is(err, util.ErrUnsupportedProvider):
		util.BadRequest(ctx, err.Error())
	case errors.Is(err, util.ErrInvalidCredentials), errors.Is(err, util.ErrTokenInvalid):
		util.Error(ctx, http.StatusUnauthorized, err.Error())
	case errors.Is(err, util.ErrEmailRegistered):
		util.Error(ctx, http.StatusConflict, err.Error())
	case errors.Is(err, util.ErrTaskNotFound),
		errors.Is(err, util.ErrProjectNotFound),
		errors.Is(err, util.ErrMilestoneNotFound),
		errors.Is(err, util.ErrSkillNotFound),
		errors.Is(err, util.ErrBusinessNotFound),
		errors.Is(err, util.ErrUserNotFound):
		util.Error(ctx, http.StatusNotFound, err.Error())
	case errors.Is(err, util.ErrSchemaMissing):
		util.Error(ctx, http.StatusServiceUnavailable, util.ErrSchemaMissing.Error())
	case errors.Is(err, util.ErrCheckoutUnavailable), errors.Is(err, util.ErrFunctionUnavailable):
		util.Error(ctx, http.StatusBadGateway, err.Error())
	default:
		util.LogInternalError(ctx, err)
	}
}

func queryInt(ctx *gin.Context, key string, def int) int {
	return util.ParseIntDefault(ctx.Query(key), def)
}
