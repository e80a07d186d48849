package controller

import (
	"io"
	"nova_progress_backend/internal/service"
	"nova_progress_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type GameController struct {
	Store *service.GameStore
}

func NewGameController(store *service.GameStore) *GameController {
	return &GameController{Store: store}
}

type OfflineRequest struct {
	Offline bool `json:"offline"`
}

type CategoryRequest struct {
	Name  string `json:"name" binding:"required"`
	Color string `json:"color"`
}

// GetState godoc
// @Summary 加载游戏状态
// @Description 表缺失时仍返回 200，dbError 字段给出提示，脚本见 /api/setup/schema
// @Tags 状态
// @Security BearerAuth
// @Produce json
// @Success 200 {object} util.Response{data=service.LoadResult}
// @Router /state [get]
func (c *GameController) GetState(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	res, err := c.Store.Load(ctx.Request.Context(), service.Identity{UserID: claims.UserID, Email: claims.Email})
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, res)
}

// SetOffline godoc
// @Summary 切换模拟离线模式
// @Tags 状态
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body OfflineRequest true "是否离线"
// @Success 200 {object} util.Response{data=service.LoadResult}
// @Router /state/offline [post]
func (c *GameController) SetOffline(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	var req OfflineRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	res, err := c.Store.SetOfflineMode(ctx.Request.Context(), claims.UserID, req.Offline)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, res)
}

// GetProfile godoc
// @Summary 当前用户资料
// @Tags 资料
// @Security BearerAuth
// @Produce json
// @Success 200 {object} util.Response{data=game.UserProfile}
// @Router /profile [get]
func (c *GameController) GetProfile(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	res, err := c.Store.State(ctx.Request.Context(), claims.UserID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, res.State.User)
}

// UpdateProfile godoc
// @Summary 修改资料
// @Description 只修改提交的字段，经验与段位不受影响
// @Tags 资料
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body service.ProfilePatch true "资料字段"
// @Success 200 {object} util.Response{data=game.UserProfile}
// @Failure 400 {object} util.Response "参数错误"
// @Router /profile [put]
func (c *GameController) UpdateProfile(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	var patch service.ProfilePatch
	if err := ctx.ShouldBindJSON(&patch); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	u, err := c.Store.UpdateProfile(ctx.Request.Context(), claims.UserID, patch)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, u)
}

// UploadAvatar godoc
// @Summary 上传头像
// @Tags 资料
// @Security BearerAuth
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "图片"
// @Success 200 {object} util.Response{data=game.UserProfile}
// @Failure 400 {object} util.Response "不是图片或文件过大"
// @Router /profile/avatar [post]
func (c *GameController) UploadAvatar(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	file, err := ctx.FormFile("file")
	if err != nil {
		util.BadRequest(ctx, "file is required")
		return
	}
	if file.Size > util.MaxUploadSize {
		util.BadRequest(ctx, "file too large")
		return
	}
	f, err := file.Open()
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, util.MaxUploadSize+1))
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	u, err := c.Store.UploadAvatar(ctx.Request.Context(), claims.UserID, data)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, u)
}

// Onboarding godoc
// @Summary 是否需要新手引导
// @Tags 资料
// @Security BearerAuth
// @Produce json
// @Success 200 {object} util.Response{data=object}
// @Router /profile/onboarding [get]
func (c *GameController) Onboarding(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	need, err := c.Store.NeedsOnboarding(ctx.Request.Context(), claims.UserID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"required": need})
}

// ListCategories godoc
// @Summary 内置与自定义领域
// @Tags 领域
// @Security BearerAuth
// @Produce json
// @Success 200 {object} util.Response{data=[]game.CategoryView}
// @Router /categories [get]
func (c *GameController) ListCategories(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	util.Success(ctx, c.Store.Categories(ctx.Request.Context(), claims.UserID))
}

// CreateCategory godoc
// @Summary 新建自定义领域
// @Tags 领域
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body CategoryRequest true "名称与颜色"
// @Success 201 {object} util.Response{data=game.CustomCategory}
// @Failure 400 {object} util.Response "名称为空或已存在"
// @Router /categories [post]
func (c *GameController) CreateCategory(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	var req CategoryRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	cat, err := c.Store.CreateCategory(ctx.Request.Context(), claims.UserID, req.Name, req.Color)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Created(ctx, cat)
}

// Analytics godoc
// @Summary 统计面板
// @Tags 统计
// @Security BearerAuth
// @Produce json
// @Param days query int false "最近天数，默认 7"
// @Success 200 {object} util.Response{data=game.Analytics}
// @Router /analytics [get]
func (c *GameController) Analytics(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	stats, err := c.Store.Stats(ctx.Request.Context(), claims.UserID, queryInt(ctx, "days", 7))
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, stats)
}
