package controller

import (
	"nova_progress_backend/internal/game"
	"nova_progress_backend/internal/service"
	"nova_progress_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// TaskController 任务、项目、技能与事业的增删改
type TaskController struct {
	Store *service.GameStore
}

func NewTaskController(store *service.GameStore) *TaskController {
	return &TaskController{Store: store}
}

type ConnectionsRequest struct {
	Targets []string `json:"targets"`
}

// ListTasks godoc
// @Summary 任务列表
// @Description 远端任务与本地任务合并后的视图
// @Tags 任务
// @Security BearerAuth
// @Produce json
// @Param category query string false "领域，All 或为空表示全部"
// @Success 200 {object} util.Response{data=[]game.Task}
// @Router /tasks [get]
func (c *TaskController) ListTasks(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	tasks, err := c.Store.MergedTasks(ctx.Request.Context(), claims.UserID, ctx.Query("category"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, tasks)
}

// CreateTask godoc
// @Summary 新建任务
// @Description 经验由难度决定
// @Tags 任务
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body service.TaskInput true "任务"
// @Success 201 {object} util.Response{data=game.Task}
// @Failure 400 {object} util.Response "参数错误"
// @Router /tasks [post]
func (c *TaskController) CreateTask(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	var in service.TaskInput
	if err := ctx.ShouldBindJSON(&in); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	t, err := c.Store.AddTask(ctx.Request.Context(), claims.UserID, in)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Created(ctx, t)
}

// UpdateTask godoc
// @Summary 修改任务
// @Tags 任务
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "任务ID"
// @Param body body service.TaskPatch true "修改的字段"
// @Success 200 {object} util.Response{data=game.Task}
// @Failure 404 {object} util.Response "任务不存在"
// @Router /tasks/{id} [put]
func (c *TaskController) UpdateTask(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	var patch service.TaskPatch
	if err := ctx.ShouldBindJSON(&patch); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	t, err := c.Store.UpdateTask(ctx.Request.Context(), claims.UserID, ctx.Param("id"), patch)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, t)
}

// DeleteTask godoc
// @Summary 删除任务
// @Tags 任务
// @Security BearerAuth
// @Param id path string true "任务ID"
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response "任务不存在"
// @Router /tasks/{id} [delete]
func (c *TaskController) DeleteTask(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	if err := c.Store.DeleteTask(ctx.Request.Context(), claims.UserID, ctx.Param("id")); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// ToggleTask godoc
// @Summary 切换任务完成状态
// @Description 完成时加经验，取消时扣回，经验不低于 0
// @Tags 任务
// @Security BearerAuth
// @Param id path string true "任务ID"
// @Success 200 {object} util.Response{data=service.ToggleResult}
// @Router /tasks/{id}/toggle [post]
func (c *TaskController) ToggleTask(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	res, err := c.Store.ToggleTaskCompletion(ctx.Request.Context(), claims.UserID, ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, res)
}

// ToggleSubtask godoc
// @Summary 切换子任务
// @Description 子任务全部完成时任务自动完成
// @Tags 任务
// @Security BearerAuth
// @Param id path string true "任务ID"
// @Param subId path string true "子任务ID"
// @Success 200 {object} util.Response{data=service.ToggleResult}
// @Router /tasks/{id}/subtasks/{subId}/toggle [post]
func (c *TaskController) ToggleSubtask(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	res, err := c.Store.ToggleSubtask(ctx.Request.Context(), claims.UserID, ctx.Param("id"), ctx.Param("subId"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, res)
}

// SavePosition godoc
// @Summary 保存任务在图谱中的位置
// @Tags 任务
// @Security BearerAuth
// @Accept json
// @Param id path string true "任务ID"
// @Param body body game.Point true "坐标"
// @Success 200 {object} util.Response{data=game.Task}
// @Router /tasks/{id}/position [put]
func (c *TaskController) SavePosition(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	var pos game.Point
	if err := ctx.ShouldBindJSON(&pos); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	t, err := c.Store.SaveTaskPosition(ctx.Request.Context(), claims.UserID, ctx.Param("id"), pos)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, t)
}

// ConnectTasks godoc
// @Summary 设置任务连线
// @Tags 任务
// @Security BearerAuth
// @Accept json
// @Param id path string true "任务ID"
// @Param body body ConnectionsRequest true "目标任务"
// @Success 200 {object} util.Response{data=game.Task}
// @Router /tasks/{id}/connections [put]
func (c *TaskController) ConnectTasks(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	var req ConnectionsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	t, err := c.Store.ConnectTasks(ctx.Request.Context(), claims.UserID, ctx.Param("id"), req.Targets)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, t)
}

// CompleteAll godoc
// @Summary 一键完成全部任务
// @Tags 任务
// @Security BearerAuth
// @Success 200 {object} util.Response{data=service.BatchResult}
// @Router /tasks/complete-all [post]
func (c *TaskController) CompleteAll(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	res, err := c.Store.CompleteAllTasks(ctx.Request.Context(), claims.UserID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, res)
}

// UpsertProject godoc
// @Summary 新建或修改项目
// @Tags 项目
// @Security BearerAuth
// @Accept json
// @Param id path string true "项目ID"
// @Param body body game.Project true "项目"
// @Success 200 {object} util.Response{data=game.Project}
// @Router /projects/{id} [put]
func (c *TaskController) UpsertProject(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	var p game.Project
	if err := ctx.ShouldBindJSON(&p); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	p.ID = ctx.Param("id")
	res, err := c.Store.UpdateProject(ctx.Request.Context(), claims.UserID, p, false)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, res)
}

// DeleteProject godoc
// @Summary 删除项目
// @Tags 项目
// @Security BearerAuth
// @Param id path string true "项目ID"
// @Success 200 {object} util.Response
// @Router /projects/{id} [delete]
func (c *TaskController) DeleteProject(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	if _, err := c.Store.UpdateProject(ctx.Request.Context(), claims.UserID, game.Project{ID: ctx.Param("id")}, true); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// CompleteMilestone godoc
// @Summary 完成里程碑
// @Description 重复完成不会再次发放经验
// @Tags 项目
// @Security BearerAuth
// @Param id path string true "项目ID"
// @Param milestoneId path string true "里程碑ID"
// @Success 200 {object} util.Response{data=service.MilestoneResult}
// @Router /projects/{id}/milestones/{milestoneId}/complete [post]
func (c *TaskController) CompleteMilestone(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	res, err := c.Store.CompleteMilestone(ctx.Request.Context(), claims.UserID, ctx.Param("id"), ctx.Param("milestoneId"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, res)
}

// UpsertSkill godoc
// @Summary 新建或修改技能
// @Tags 技能
// @Security BearerAuth
// @Accept json
// @Param id path string true "技能ID"
// @Param body body game.SkillNode true "技能"
// @Success 200 {object} util.Response{data=game.SkillNode}
// @Router /skills/{id} [put]
func (c *TaskController) UpsertSkill(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	var n game.SkillNode
	if err := ctx.ShouldBindJSON(&n); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	n.ID = ctx.Param("id")
	res, err := c.Store.UpdateSkill(ctx.Request.Context(), claims.UserID, n, false)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, res)
}

// DeleteSkill godoc
// @Summary 删除技能
// @Tags 技能
// @Security BearerAuth
// @Param id path string true "技能ID"
// @Success 200 {object} util.Response
// @Router /skills/{id} [delete]
func (c *TaskController) DeleteSkill(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	if _, err := c.Store.UpdateSkill(ctx.Request.Context(), claims.UserID, game.SkillNode{ID: ctx.Param("id")}, true); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// UpsertBusiness godoc
// @Summary 新建或修改事业
// @Tags 事业
// @Security BearerAuth
// @Accept json
// @Param id path string true "事业ID"
// @Param body body game.BusinessVenture true "事业"
// @Success 200 {object} util.Response{data=game.BusinessVenture}
// @Router /business/{id} [put]
func (c *TaskController) UpsertBusiness(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	var b game.BusinessVenture
	if err := ctx.ShouldBindJSON(&b); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	b.ID = ctx.Param("id")
	res, err := c.Store.UpdateBusiness(ctx.Request.Context(), claims.UserID, b, false)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, res)
}

// DeleteBusiness godoc
// @Summary 删除事业
// @Tags 事业
// @Security BearerAuth
// @Param id path string true "事业ID"
// @Success 200 {object} util.Response
// @Router /business/{id} [delete]
func (c *TaskController) DeleteBusiness(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	if _, err := c.Store.UpdateBusiness(ctx.Request.Context(), claims.UserID, game.BusinessVenture{ID: ctx.Param("id")}, true); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}
