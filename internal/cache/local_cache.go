package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"nova_progress_backend/internal/game"
	"nova_progress_backend/pkg/logger"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DefaultSchemaVersion 状态快照键中的版本串，结构不兼容时递增
const DefaultSchemaVersion = "v7"

// Mode 在线模式与模拟离线模式使用不同的快照键
type Mode int

const (
	Online Mode = iota
	Offline
)

func (m Mode) String() string {
	if m == Offline {
		return "offline"
	}
	return "online"
}

// LocalCache 每个用户的本地 JSON 缓存，离线与回退时使用
type LocalCache struct {
	Redis         *redis.Client
	SchemaVersion string
	TTL           time.Duration
}

func NewLocalCache(rdb *redis.Client, schemaVersion string, ttl time.Duration) *LocalCache {
	if schemaVersion == "" {
		schemaVersion = DefaultSchemaVersion
	}
	return &LocalCache{
		Redis:         rdb,
		SchemaVersion: schemaVersion,
		TTL:           ttl,
	}
}

func (c *LocalCache) StateKey(userID string, mode Mode) string {
	if mode == Offline {
		return fmt.Sprintf("nova_app_state_%s_offline:%s", c.SchemaVersion, userID)
	}
	return fmt.Sprintf("nova_app_state_%s:%s", c.SchemaVersion, userID)
}

func profileKey(userID string) string    { return "nova_profile_" + userID }
func localTasksKey(userID string) string { return "nova_local_tasks_" + userID }
func categoriesKey(userID string) string { return "nova_custom_categories_" + userID }
func apiKeyKey(userID string) string     { return "nova_gemini_key_" + userID }

// LoadState 读取状态快照并覆盖到默认状态上。
// 快照不存在返回 (默认状态, false)；快照损坏时记录警告并同样返回默认状态
func (c *LocalCache) LoadState(ctx context.Context, userID string, mode Mode) (game.AppState, bool) {
	state := game.DefaultState()
	raw, err := c.Redis.Get(ctx, c.StateKey(userID, mode)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Log.Warn("Failed to read cached state",
				zap.String("userID", userID),
				zap.Stringer("mode", mode),
				zap.Error(err))
		}
		return state, false
	}

	if err := json.Unmarshal(raw, &state); err != nil {
		logger.Log.Warn("Cached state is corrupt, falling back to defaults",
			zap.String("userID", userID),
			zap.Stringer("mode", mode),
			zap.Error(err))
		return game.DefaultState(), false
	}
	normalizeState(&state)
	return state, true
}

// normalizeState 快照中显式为 null 的集合恢复为空集合
func normalizeState(s *game.AppState) {
	def := game.DefaultState()
	if s.Tasks == nil {
		s.Tasks = def.Tasks
	}
	if s.Projects == nil {
		s.Projects = def.Projects
	}
	if s.User.Goals == nil {
		s.User.Goals = def.User.Goals
	}
	if s.User.Stats == nil {
		s.User.Stats = def.User.Stats
	}
	if s.DeepStats.Business == nil {
		s.DeepStats.Business = def.DeepStats.Business
	}
	if s.DeepStats.Fitness.Muscle.WeakPoints == nil {
		s.DeepStats.Fitness.Muscle.WeakPoints = []string{}
	}
	skills := &s.DeepStats.Skills
	for _, d := range []game.SkillDomain{game.DomainMind, game.DomainCommunication, game.DomainCreative} {
		if branch := skills.Domain(d); *branch == nil {
			*branch = []game.SkillNode{}
		}
	}
}

// SaveState 整体写入，不做局部更新
func (c *LocalCache) SaveState(ctx context.Context, userID string, mode Mode, state game.AppState) error {
	return c.setJSON(ctx, c.StateKey(userID, mode), state)
}

func (c *LocalCache) LoadProfile(ctx context.Context, userID string) (*game.UserProfile, error) {
	var p game.UserProfile
	ok, err := c.getJSON(ctx, profileKey(userID), &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

func (c *LocalCache) SaveProfile(ctx context.Context, userID string, p game.UserProfile) error {
	return c.setJSON(ctx, profileKey(userID), p)
}

// LocalTasks 仅存在于本地的任务，损坏时视为空列表
func (c *LocalCache) LocalTasks(ctx context.Context, userID string) ([]game.Task, error) {
	var tasks []game.Task
	ok, err := c.getJSON(ctx, localTasksKey(userID), &tasks)
	if err != nil || !ok {
		return []game.Task{}, err
	}
	if tasks == nil {
		tasks = []game.Task{}
	}
	return tasks, nil
}

func (c *LocalCache) SaveLocalTasks(ctx context.Context, userID string, tasks []game.Task) error {
	return c.setJSON(ctx, localTasksKey(userID), tasks)
}

// UpsertLocalTask 新任务插到列表最前面，已有任务原位替换
func (c *LocalCache) UpsertLocalTask(ctx context.Context, userID string, task game.Task) error {
	tasks, err := c.LocalTasks(ctx, userID)
	if err != nil {
		return err
	}
	for i := range tasks {
		if tasks[i].ID == task.ID {
			tasks[i] = task
			return c.SaveLocalTasks(ctx, userID, tasks)
		}
	}
	return c.SaveLocalTasks(ctx, userID, append([]game.Task{task}, tasks...))
}

// PatchLocalTask 原地修改一个本地任务，返回任务是否存在
func (c *LocalCache) PatchLocalTask(ctx context.Context, userID, id string, patch func(*game.Task)) (bool, error) {
	tasks, err := c.LocalTasks(ctx, userID)
	if err != nil {
		return false, err
	}
	for i := range tasks {
		if tasks[i].ID == id {
			patch(&tasks[i])
			return true, c.SaveLocalTasks(ctx, userID, tasks)
		}
	}
	return false, nil
}

func (c *LocalCache) RemoveLocalTask(ctx context.Context, userID, id string) (bool, error) {
	tasks, err := c.LocalTasks(ctx, userID)
	if err != nil {
		return false, err
	}
	kept := tasks[:0]
	removed := false
	for _, t := range tasks {
		if t.ID == id {
			removed = true
			continue
		}
		kept = append(kept, t)
	}
	if !removed {
		return false, nil
	}
	return true, c.SaveLocalTasks(ctx, userID, kept)
}

func (c *LocalCache) CustomCategories(ctx context.Context, userID string) ([]game.CustomCategory, error) {
	var customs []game.CustomCategory
	ok, err := c.getJSON(ctx, categoriesKey(userID), &customs)
	if err != nil || !ok {
		return []game.CustomCategory{}, err
	}
	if customs == nil {
		customs = []game.CustomCategory{}
	}
	return customs, nil
}

// AddCustomCategory 追加自定义领域，重复时返回 game.ErrCategoryExists
func (c *LocalCache) AddCustomCategory(ctx context.Context, userID string, cat game.CustomCategory) ([]game.CustomCategory, error) {
	customs, err := c.CustomCategories(ctx, userID)
	if err != nil {
		return nil, err
	}
	customs, err = game.AddCustomCategory(customs, cat)
	if err != nil {
		return customs, err
	}
	return customs, c.setJSON(ctx, categoriesKey(userID), customs)
}

// APIKey 用户自己的生成式接口密钥，未设置时返回空串
func (c *LocalCache) APIKey(ctx context.Context, userID string) (string, error) {
	key, err := c.Redis.Get(ctx, apiKeyKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return key, err
}

func (c *LocalCache) SetAPIKey(ctx context.Context, userID, key string) error {
	if key == "" {
		return c.Redis.Del(ctx, apiKeyKey(userID)).Err()
	}
	return c.Redis.Set(ctx, apiKeyKey(userID), key, 0).Err()
}

// Clear 登出时清理在线快照与资料，本地任务和离线快照保留
func (c *LocalCache) Clear(ctx context.Context, userID string) error {
	return c.Redis.Del(ctx, c.StateKey(userID, Online), profileKey(userID)).Err()
}

func (c *LocalCache) setJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Redis.Set(ctx, key, data, c.TTL).Err()
}

// getJSON 键不存在返回 false；内容无法解析时记录警告并按不存在处理
func (c *LocalCache) getJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	raw, err := c.Redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		logger.Log.Warn("Discarding corrupt cache entry", zap.String("key", key), zap.Error(err))
		return false, nil
	}
	return true, nil
}
