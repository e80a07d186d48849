package controller

import (
	"bytes"
	"io"
	"nova_progress_backend/internal/service"
	"nova_progress_backend/internal/util"
	"strings"

	"github.com/gin-gonic/gin"
)

type OracleController struct {
	Oracle *service.OracleService
}

func NewOracleController(oracle *service.OracleService) *OracleController {
	return &OracleController{Oracle: oracle}
}

type APIKeyRequest struct {
	APIKey string `json:"apiKey"`
}

// PhysiqueRequest image 为 base64 或 data URL
type PhysiqueRequest struct {
	Image string `json:"image"`
}

type JournalRequest struct {
	Content string `json:"content" binding:"required"`
}

type CommandRequest struct {
	Transcript string `json:"transcript" binding:"required"`
	Category   string `json:"category"`
}

// SetAPIKey godoc
// @Summary 保存个人生成式接口密钥
// @Description 为空表示删除，之后使用服务端默认密钥
// @Tags Oracle
// @Security BearerAuth
// @Accept json
// @Param body body APIKeyRequest true "密钥"
// @Success 200 {object} util.Response
// @Router /oracle/key [put]
func (c *OracleController) SetAPIKey(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	var req APIKeyRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	if err := c.Oracle.SetAPIKey(ctx.Request.Context(), claims.UserID, req.APIKey); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"configured": strings.TrimSpace(req.APIKey) != ""})
}

// AnalyzePhysique godoc
// @Summary 体态照片分析
// @Description 接受 multipart 的 file 字段，或 JSON 的 image 字段
// @Tags Oracle
// @Security BearerAuth
// @Accept multipart/form-data
// @Accept json
// @Produce json
// @Param file formData file false "照片"
// @Success 200 {object} util.Response{data=service.OracleReply}
// @Failure 400 {object} util.Response "不是图片"
// @Router /oracle/physique [post]
func (c *OracleController) AnalyzePhysique(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}

	var data []byte
	if file, err := ctx.FormFile("file"); err == nil {
		f, err := file.Open()
		if err != nil {
			util.LogInternalError(ctx, err)
			return
		}
		defer f.Close()
		data, err = io.ReadAll(io.LimitReader(f, util.MaxUploadSize+1))
		if err != nil {
			util.LogInternalError(ctx, err)
			return
		}
	} else {
		var req PhysiqueRequest
		if err := ctx.ShouldBindJSON(&req); err != nil || req.Image == "" {
			util.BadRequest(ctx, "image is required")
			return
		}
		data, _, err = service.DecodeImage(req.Image)
		if err != nil {
			respondError(ctx, err)
			return
		}
	}
	if len(data) > util.MaxUploadSize {
		util.BadRequest(ctx, "file too large")
		return
	}

	mimeType, err := util.ValidateMimeType(bytes.NewReader(data), util.AllowedImageTypes)
	if err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	util.Success(ctx, c.Oracle.AnalyzePhysique(ctx.Request.Context(), claims.UserID, data, mimeType))
}

// Suggest godoc
// @Summary 生成下一步任务建议
// @Tags Oracle
// @Security BearerAuth
// @Produce json
// @Success 200 {object} util.Response{data=service.OracleReply}
// @Router /oracle/suggestions [post]
func (c *OracleController) Suggest(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	reply, err := c.Oracle.Suggest(ctx.Request.Context(), claims.UserID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, reply)
}

// AnalyzeJournal godoc
// @Summary 心智日志分析
// @Description 日志与分析结果都会保存
// @Tags Oracle
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body JournalRequest true "日志内容"
// @Success 200 {object} util.Response{data=object}
// @Router /oracle/journal [post]
func (c *OracleController) AnalyzeJournal(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	var req JournalRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	reply, entry, err := c.Oracle.AnalyzeJournal(ctx.Request.Context(), claims.UserID, req.Content)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"reply": reply, "entry": entry})
}

// ListJournal godoc
// @Summary 最近的心智日志
// @Tags Oracle
// @Security BearerAuth
// @Produce json
// @Param limit query int false "条数，默认 20"
// @Success 200 {object} util.Response{data=[]model.JournalEntry}
// @Router /oracle/journal [get]
func (c *OracleController) ListJournal(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	entries, err := c.Oracle.Journal(ctx.Request.Context(), claims.UserID, queryInt(ctx, "limit", 20))
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, entries)
}

// Command godoc
// @Summary 执行语音指令
// @Description 新任务只保存在本地，领域缺省为 category
// @Tags Oracle
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param body body CommandRequest true "语音转写文本与当前领域"
// @Success 200 {object} util.Response{data=service.CommandOutcome}
// @Router /oracle/command [post]
func (c *OracleController) Command(ctx *gin.Context) {
	claims, ok := requireUser(ctx)
	if !ok {
		return
	}
	var req CommandRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	out, err := c.Oracle.ExecuteCommand(ctx.Request.Context(), claims.UserID, req.Transcript, req.Category)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, out)
}
