package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"nova_progress_backend/internal/cache"
	"nova_progress_backend/internal/config"
	"nova_progress_backend/internal/game"
	"nova_progress_backend/internal/model"
	"nova_progress_backend/internal/util"
	"nova_progress_backend/pkg/logger"
	"nova_progress_backend/pkg/monitoring"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	MsgKeyInvalid      = "CRITICAL FAILURE: API KEY INVALID. PLEASE UPDATE CREDENTIALS."
	MsgQuotaExceeded   = "SYSTEM OVERLOAD: API QUOTA EXCEEDED. YOUR KEY HAS RUN OUT OF JUICE. ACQUIRE A NEW KEY."
	MsgConnectionLost  = "CONNECTION LOST: CHECK NETWORK STATUS."
	MsgNoAPIKey        = "SYSTEM ERROR: No API Key found."
	MsgNoAPIKeyPhysiq  = "SYSTEM ERROR: No API Key found in Identity Module."
	MsgPhysiqueEmpty   = "Analysis complete. No data returned."
	MsgSuggestionEmpty = "No directives generated."
	MsgJournalEmpty    = "Log corrupted. No analysis."

	MsgTaskMaterialized  = "TASK MATERIALIZED"
	MsgCategoryCreated   = "CATEGORY CREATED"
	MsgCommandUnknown    = "COMMAND UNRECOGNIZED"
	MsgCommandMissingKey = "MISSING API KEY"
)

// OracleFailure 生成失败的分类，成功时为空
type OracleFailure string

const (
	FailureMissingKey OracleFailure = "missing_key"
	FailureInvalidKey OracleFailure = "invalid_key"
	FailureQuota      OracleFailure = "quota"
	FailureNetwork    OracleFailure = "network"
	FailureUnknown    OracleFailure = "unknown"
)

// OracleReply 展示给用户的文本。失败时 Text 是固定的提示语
type OracleReply struct {
	Text    string        `json:"text"`
	Failure OracleFailure `json:"failure,omitempty"`
}

const (
	CommandCreateTask     = "CREATE_TASK"
	CommandCreateCategory = "CREATE_CATEGORY"
	CommandUnknown        = "UNKNOWN"
)

// 语音创建的任务经验限制在提示词给出的范围内
const (
	CommandMinXP = 10
	CommandMaxXP = 50
)

// VoiceCommand 语音指令的解析结果
type VoiceCommand struct {
	Type       string   `json:"type"`
	Title      string   `json:"title,omitempty"`
	Category   string   `json:"category,omitempty"`
	XP         int      `json:"xp,omitempty"`
	Complexity string   `json:"complexity,omitempty"`
	Subtasks   []string `json:"subtasks,omitempty"`
	Name       string   `json:"name,omitempty"`
	Color      string   `json:"color,omitempty"`
}

// UnmarshalJSON 兼容模型返回的 temple_id 字段
func (c *VoiceCommand) UnmarshalJSON(data []byte) error {
	type plain VoiceCommand
	var aux struct {
		plain
		TempleID string `json:"temple_id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*c = VoiceCommand(aux.plain)
	if c.Category == "" {
		c.Category = aux.TempleID
	}
	return nil
}

// CommandOutcome 执行语音指令后的结果
type CommandOutcome struct {
	Command  VoiceCommand         `json:"command"`
	Message  string               `json:"message"`
	Task     *game.Task           `json:"task,omitempty"`
	Category *game.CustomCategory `json:"category,omitempty"`
}

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type generatorFactory func(ctx context.Context, apiKey string) (contentGenerator, error)

func newGeminiGenerator(ctx context.Context, apiKey string) (contentGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return client.Models, nil
}

// OracleService 体态分析、任务建议、日志分析与语音指令
type OracleService struct {
	cache   *cache.LocalCache
	store   *GameStore
	backend *BackendClient

	mu           sync.RWMutex
	cfg          config.AIConfig
	newGenerator generatorFactory
}

func NewOracleService(cfg config.AIConfig, localCache *cache.LocalCache, store *GameStore, backend *BackendClient) *OracleService {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OracleService{
		cache:        localCache,
		store:        store,
		backend:      backend,
		cfg:          cfg,
		newGenerator: newGeminiGenerator,
	}
}

// Reload 配置热更新时替换模型与默认密钥
func (s *OracleService) Reload(cfg config.AIConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.Model != "" {
		s.cfg.Model = cfg.Model
	}
	s.cfg.APIKey = cfg.APIKey
	if cfg.Timeout > 0 {
		s.cfg.Timeout = cfg.Timeout
	}
}

func (s *OracleService) config() config.AIConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SetAPIKey 保存用户自己的密钥，空串表示删除
func (s *OracleService) SetAPIKey(ctx context.Context, userID, key string) error {
	return s.cache.SetAPIKey(ctx, userID, strings.TrimSpace(key))
}

// apiKey 用户密钥优先，其次是服务端默认密钥
func (s *OracleService) apiKey(ctx context.Context, userID string) string {
	key, err := s.cache.APIKey(ctx, userID)
	if err != nil {
		logger.Log.Warn("Failed to read API key", zap.String("userID", userID), zap.Error(err))
	}
	if key != "" {
		return key
	}
	return s.config().APIKey
}

func (s *OracleService) generate(ctx context.Context, apiKey string, parts ...*genai.Part) (string, error) {
	cfg := s.config()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	gen, err := s.newGenerator(ctx, apiKey)
	if err != nil {
		return "", err
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	resp, err := gen.GenerateContent(ctx, cfg.Model, contents, nil)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	return resp.Text(), nil
}

// describeFailure 把接口错误映射为固定提示语
func describeFailure(err error) (OracleFailure, string) {
	code := 0
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.Code
	}
	msg := strings.ToLower(err.Error())

	switch {
	case code == 400 || code == 401 || code == 403 ||
		strings.Contains(msg, "400") || strings.Contains(msg, "invalid argument") || strings.Contains(msg, "api key not valid"):
		return FailureInvalidKey, MsgKeyInvalid
	case code == 429 ||
		strings.Contains(msg, "429") || strings.Contains(msg, "quota") || strings.Contains(msg, "resource exhausted"):
		return FailureQuota, MsgQuotaExceeded
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(msg, "fetch failed") || strings.Contains(msg, "network") {
		return FailureNetwork, MsgConnectionLost
	}

	runes := []rune(msg)
	if len(runes) > 50 {
		runes = runes[:50]
	}
	return FailureUnknown, "UNKNOWN ERROR: " + string(runes) + "..."
}

// reply 执行一次生成并记录结果。空响应使用 empty 作为默认文本
func (s *OracleService) reply(ctx context.Context, useCase, userID, apiKey, empty string, parts ...*genai.Part) OracleReply {
	text, err := s.generate(ctx, apiKey, parts...)
	if err != nil {
		failure, msg := describeFailure(err)
		monitoring.OracleRequests.WithLabelValues(useCase, string(failure)).Inc()
		logger.Log.Warn("Oracle request failed",
			zap.String("useCase", useCase),
			zap.String("userID", userID),
			zap.String("failure", string(failure)),
			zap.Error(err))
		return OracleReply{Text: msg, Failure: failure}
	}
	monitoring.OracleRequests.WithLabelValues(useCase, "ok").Inc()
	if strings.TrimSpace(text) == "" {
		return OracleReply{Text: empty}
	}
	return OracleReply{Text: text}
}

// DecodeImage 接受纯 base64 或 data URL
func DecodeImage(payload string) ([]byte, string, error) {
	mime := util.MimeJPEG
	if strings.HasPrefix(payload, "data:") {
		header, data, ok := strings.Cut(payload, ",")
		if !ok {
			return nil, "", fmt.Errorf("%w: malformed data url", util.ErrValidation)
		}
		if m, _, _ := strings.Cut(strings.TrimPrefix(header, "data:"), ";"); m != "" {
			mime = m
		}
		payload = data
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", util.ErrValidation, err)
	}
	return raw, mime, nil
}

func (s *OracleService) AnalyzePhysique(ctx context.Context, userID string, image []byte, mimeType string) OracleReply {
	key := s.apiKey(ctx, userID)
	if key == "" {
		monitoring.OracleRequests.WithLabelValues("physique", string(FailureMissingKey)).Inc()
		return OracleReply{Text: MsgNoAPIKeyPhysiq, Failure: FailureMissingKey}
	}
	if mimeType == "" {
		mimeType = util.MimeJPEG
	}
	prompt := `You are the Nova System, an elite fitness coach and biological analyzer.
Study this physique progress photo and report:
1. An estimated body fat percentage range.
2. One strong point (muscle group).
3. One weak point that needs work.
4. A single-sentence "Hunter Directive" for the coming week.

Tone: dark, cyberpunk, serious.`
	return s.reply(ctx, "physique", userID, key, MsgPhysiqueEmpty,
		genai.NewPartFromBytes(image, mimeType),
		genai.NewPartFromText(prompt))
}

// Suggest 根据当前任务列表给出三条后续任务建议
func (s *OracleService) Suggest(ctx context.Context, userID string) (OracleReply, error) {
	key := s.apiKey(ctx, userID)
	if key == "" {
		monitoring.OracleRequests.WithLabelValues("suggestions", string(FailureMissingKey)).Inc()
		return OracleReply{Text: MsgNoAPIKey, Failure: FailureMissingKey}, nil
	}
	tasks, err := s.store.MergedTasks(ctx, userID, "")
	if err != nil {
		return OracleReply{}, err
	}

	var b strings.Builder
	for _, t := range tasks {
		status := "PENDING"
		if t.IsCompleted {
			status = "DONE"
		}
		fmt.Fprintf(&b, "- [%s] %s (%s)\n", strings.ToUpper(t.Category), t.Title, status)
	}
	prompt := fmt.Sprintf(`You are the Nova System Oracle. This is the user's current roadmap:

%s
Suggest exactly 3 concrete next-step tasks (directives) that close gaps in their skills or follow logically from what is already done.
Format:
1. [CATEGORY] Task Name - Brief reason
2. [CATEGORY] Task Name - Brief reason
3. [CATEGORY] Task Name - Brief reason

Tone: dark, cyberpunk, elite.`, b.String())
	return s.reply(ctx, "suggestions", userID, key, MsgSuggestionEmpty, genai.NewPartFromText(prompt)), nil
}

// AnalyzeJournal 分析心智日志并保存日志与分析结果
func (s *OracleService) AnalyzeJournal(ctx context.Context, userID, content string) (OracleReply, *model.JournalEntry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return OracleReply{}, nil, fmt.Errorf("%w: journal content is required", util.ErrValidation)
	}

	var reply OracleReply
	if key := s.apiKey(ctx, userID); key == "" {
		monitoring.OracleRequests.WithLabelValues("journal", string(FailureMissingKey)).Inc()
		reply = OracleReply{Text: MsgNoAPIKey, Failure: FailureMissingKey}
	} else {
		prompt := fmt.Sprintf(`You are the Nova System, a psychological profiler AI. Analyze this mental log entry.

ENTRY: %q

Output:
1. MENTAL STATE: one word (e.g. FOCUSED, ERRATIC, DEFEATED)
2. HIDDEN WEAKNESS: what is holding them back, based on the text
3. TACTICAL ADVICE: one actionable step to fix their mindset

Tone: cold, analytical, extremely concise.`, content)
		reply = s.reply(ctx, "journal", userID, key, MsgJournalEmpty, genai.NewPartFromText(prompt))
	}

	entry := &model.JournalEntry{UserID: userID, Content: content}
	if reply.Failure == "" {
		entry.AIAnalysis = reply.Text
	}
	if err := s.backend.Journal.Create(ctx, entry); err != nil {
		logger.Log.Error("Failed to save journal entry", zap.String("userID", userID), zap.Error(err))
		return reply, nil, nil
	}
	return reply, entry, nil
}

// Journal 最近的日志
func (s *OracleService) Journal(ctx context.Context, userID string, limit int) ([]model.JournalEntry, error) {
	return s.backend.Journal.ListByUser(ctx, userID, limit)
}

// stripFences 去掉模型输出中的 markdown 代码块标记
func stripFences(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

// ParseCommand 解析语音指令，任何失败都返回 UNKNOWN
func (s *OracleService) ParseCommand(ctx context.Context, userID, transcript string) VoiceCommand {
	unknown := VoiceCommand{Type: CommandUnknown}
	key := s.apiKey(ctx, userID)
	if key == "" || strings.TrimSpace(transcript) == "" {
		return unknown
	}

	prompt := fmt.Sprintf(`You are the Voice Command Processor for NovaProgress.
User command: %q

Work out the intent and answer with STRICT JSON only.

To create a task:
{"type": "CREATE_TASK", "title": "Task title", "category": "FITNESS" | "SKILLS" | "BUSINESS" | "MISSION" | "HOME" (best fit, default HOME), "xp": 10-50, "complexity": "E" | "D" | "C" | "B" | "A" | "S", "subtasks": ["..."] (only if mentioned)}

To create a category:
{"type": "CREATE_CATEGORY", "name": "Category name", "color": "#RRGGBB" (inferred from the name or a vivid color)}

Anything else:
{"type": "UNKNOWN"}

JSON ONLY. NO MARKDOWN.`, transcript)

	text, err := s.generate(ctx, key, genai.NewPartFromText(prompt))
	if err != nil {
		failure, _ := describeFailure(err)
		monitoring.OracleRequests.WithLabelValues("command", string(failure)).Inc()
		logger.Log.Warn("Voice command parse failed", zap.String("userID", userID), zap.Error(err))
		return unknown
	}
	text = stripFences(text)
	if text == "" {
		text = "{}"
	}

	var cmd VoiceCommand
	if err := json.Unmarshal([]byte(text), &cmd); err != nil {
		monitoring.OracleRequests.WithLabelValues("command", "malformed").Inc()
		logger.Log.Warn("Voice command is not JSON", zap.String("userID", userID), zap.String("text", text))
		return unknown
	}
	monitoring.OracleRequests.WithLabelValues("command", "ok").Inc()
	switch cmd.Type {
	case CommandCreateTask:
		if strings.TrimSpace(cmd.Title) == "" {
			return unknown
		}
	case CommandCreateCategory:
		if strings.TrimSpace(cmd.Name) == "" {
			return unknown
		}
	default:
		return unknown
	}
	return cmd
}

// ExecuteCommand 解析并执行语音指令。新任务只保存在本地，领域缺省为 currentCategory
func (s *OracleService) ExecuteCommand(ctx context.Context, userID, transcript, currentCategory string) (CommandOutcome, error) {
	if s.apiKey(ctx, userID) == "" {
		return CommandOutcome{Command: VoiceCommand{Type: CommandUnknown}, Message: MsgCommandMissingKey}, nil
	}

	cmd := s.ParseCommand(ctx, userID, transcript)
	out := CommandOutcome{Command: cmd}
	switch cmd.Type {
	case CommandCreateTask:
		category := cmd.Category
		if category == "" {
			category = currentCategory
		}
		c, err := game.ParseCategory(category, s.store.customCategories(ctx, userID))
		if err != nil {
			c = game.Home
		}
		xp := cmd.XP
		if xp <= 0 {
			xp = CommandMinXP
		}
		xp = min(max(xp, CommandMinXP), CommandMaxXP)
		complexity, ok := game.ParseComplexity(cmd.Complexity)
		if !ok {
			complexity = game.ComplexityD
		}
		t := game.Task{
			Title:      strings.TrimSpace(cmd.Title),
			Category:   game.MasteryKey(c),
			Complexity: complexity,
			XPReward:   xp,
			Subtasks:   make([]game.Subtask, 0, len(cmd.Subtasks)),
		}
		for _, title := range cmd.Subtasks {
			t.Subtasks = append(t.Subtasks, game.Subtask{ID: game.NewEntityID(), Title: title})
		}
		created, err := s.store.AddLocalTask(ctx, userID, t)
		if err != nil {
			return out, err
		}
		out.Task = &created
		out.Message = MsgTaskMaterialized

	case CommandCreateCategory:
		c, err := s.store.CreateCategory(ctx, userID, cmd.Name, cmd.Color)
		if err != nil {
			return out, err
		}
		out.Category = &c
		out.Message = MsgCategoryCreated

	default:
		out.Message = MsgCommandUnknown
	}
	return out, nil
}
