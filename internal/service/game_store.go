package service

import (
	"context"
	"encoding/json"
	"errors"
	"nova_progress_backend/internal/cache"
	"nova_progress_backend/internal/config"
	"nova_progress_backend/internal/game"
	"nova_progress_backend/internal/model"
	"nova_progress_backend/internal/util"
	"nova_progress_backend/pkg/logger"
	"nova_progress_backend/pkg/monitoring"
	"nova_progress_backend/pkg/tracing"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Identity 当前登录用户
type Identity struct {
	UserID string
	Email  string
}

// LoadResult 加载后返回给前端的完整状态
type LoadResult struct {
	State     game.AppState `json:"state"`
	IsNewUser bool          `json:"isNewUser"`
	Offline   bool          `json:"offline"`
	DBError   string        `json:"dbError,omitempty"`
}

// session 单个用户的内存状态，所有读写都持有 mu
type session struct {
	mu sync.Mutex

	userID          string
	email           string
	state           game.AppState
	progressVersion int64
	offline         bool
	loaded          bool
	isNewUser       bool
	dbError         string
}

func (sess *session) result() LoadResult {
	return LoadResult{
		State:     cloneState(sess.state),
		IsNewUser: sess.isNewUser,
		Offline:   sess.offline,
		DBError:   sess.dbError,
	}
}

func (sess *session) mode() cache.Mode {
	if sess.offline {
		return cache.Offline
	}
	return cache.Online
}

// GameStore 每个登录用户一个会话。修改先作用于内存并立即返回，
// 持久化由缓存快照与同步队列完成
type GameStore struct {
	backend    *BackendClient
	cache      *cache.LocalCache
	dispatcher *OutboxDispatcher
	levelCost  int
	policy     game.MergePolicy
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*session

	listenOnce sync.Once
}

func NewGameStore(backend *BackendClient, localCache *cache.LocalCache, dispatcher *OutboxDispatcher, cfg config.GameConfig) *GameStore {
	cost := cfg.LevelCost
	if cost <= 0 {
		cost = game.LevelCostStandard
	}
	return &GameStore{
		backend:    backend,
		cache:      localCache,
		dispatcher: dispatcher,
		levelCost:  cost,
		policy:     game.ParseMergePolicy(cfg.MergePolicy),
		now:        time.Now,
		sessions:   make(map[string]*session),
	}
}

// Start 订阅实时变更并启动同步队列
func (s *GameStore) Start(ctx context.Context) {
	if s.backend.Hub != nil {
		s.listenOnce.Do(func() {
			s.backend.Hub.Listen(s.ApplyChange)
		})
	}
	if s.dispatcher != nil {
		s.dispatcher.Start(ctx)
	}
}

func (s *GameStore) Stop() {
	if s.dispatcher != nil {
		s.dispatcher.Stop()
	}
}

func (s *GameStore) LevelCost() int {
	return s.levelCost
}

func (s *GameStore) session(userID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		sess = &session{userID: userID, state: game.DefaultState()}
		s.sessions[userID] = sess
	}
	return sess
}

func (s *GameStore) existing(userID string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	return sess, ok
}

// acquire 返回已加载并加锁的会话，调用方负责解锁
func (s *GameStore) acquire(ctx context.Context, userID string) (*session, error) {
	sess := s.session(userID)
	sess.mu.Lock()
	if !sess.loaded {
		if _, err := s.loadLocked(ctx, sess); err != nil {
			sess.mu.Unlock()
			return nil, err
		}
	}
	if sess.dbError != "" && !sess.offline {
		sess.mu.Unlock()
		return nil, util.ErrSchemaMissing
	}
	return sess, nil
}

// Load 登录或会话变化时重新加载
func (s *GameStore) Load(ctx context.Context, id Identity) (LoadResult, error) {
	ctx, span := tracing.Tracer.Start(ctx, "GameStore.Load")
	defer span.End()

	sess := s.session(id.UserID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if id.Email != "" {
		sess.email = id.Email
	}
	return s.loadLocked(ctx, sess)
}

func emailLocalPart(email string) string {
	name, _, _ := strings.Cut(email, "@")
	return name
}

func (s *GameStore) loadLocked(ctx context.Context, sess *session) (LoadResult, error) {
	uid := sess.userID

	if sess.offline {
		state, _ := s.cache.LoadState(ctx, uid, cache.Offline)
		sess.state = state
		sess.loaded = true
		sess.dbError = ""
		return sess.result(), nil
	}

	if !sess.loaded {
		if cached, ok := s.cache.LoadState(ctx, uid, cache.Online); ok {
			sess.state = cached
		}
	} else if pending, err := s.backend.Outbox.PendingForUser(ctx, uid); err == nil && len(pending) > 0 {
		// 还有未写入数据库的修改，内存中的状态更新
		return sess.result(), nil
	}

	snap, err := s.backend.LoadSnapshot(ctx, uid)
	if err != nil {
		sess.loaded = true
		if errors.Is(err, util.ErrSchemaMissing) {
			sess.dbError = err.Error()
			logger.Log.Error("Database schema missing", zap.String("userID", uid))
			return sess.result(), nil
		}
		logger.Log.Warn("Remote load failed, using cached state", zap.String("userID", uid), zap.Error(err))
		return sess.result(), nil
	}
	sess.dbError = ""

	emailName := emailLocalPart(sess.email)
	isNew := false
	profile, gam := snap.Profile, snap.Gamification
	if profile == nil {
		name := emailName
		if name == "" {
			name = game.DefaultPlayerName
		}
		profile, gam, err = s.backend.EnsureProfile(ctx, uid, name)
		if err != nil {
			return LoadResult{}, err
		}
		isNew = true
	}
	if gam == nil {
		def := model.NewGamificationRow(uid)
		gam = &def
	}

	user := model.MergeProfile(sess.state.User, *profile, *gam, emailName)

	tasks := make([]game.Task, 0, len(snap.Tasks))
	for _, r := range snap.Tasks {
		tasks = append(tasks, model.TaskFromRow(r))
	}
	projects := make([]game.Project, 0, len(snap.Projects))
	for _, r := range snap.Projects {
		projects = append(projects, model.ProjectFromRow(r))
	}
	business := make([]game.BusinessVenture, 0, len(snap.Business))
	for _, r := range snap.Business {
		business = append(business, model.BusinessFromRow(r))
	}
	deep := sess.state.DeepStats
	deep.Fitness = model.FitnessFromRow(snap.Fitness)
	deep.Skills = model.SkillTreeFromRows(snap.Skills)
	deep.Business = business
	model.ApplySnapshots(&deep, snap.Snapshots)

	// 远端为空时不覆盖内存中的任务与项目
	switch {
	case len(tasks) > 0 || len(projects) > 0 || deep.Skills.Len() > 0 || isNew:
		sess.state = game.AppState{User: user, Tasks: tasks, Projects: projects, DeepStats: deep}
	case user.Name != game.DefaultPlayerName:
		sess.state.User = user
		sess.state.DeepStats = deep
	}

	sess.progressVersion = max(sess.progressVersion, gam.Version)
	sess.isNewUser = isNew
	sess.loaded = true
	s.saveCache(ctx, sess)
	return sess.result(), nil
}

// State 当前会话的状态，未加载时先加载
func (s *GameStore) State(ctx context.Context, userID string) (LoadResult, error) {
	sess, err := s.acquire(ctx, userID)
	if err != nil {
		return LoadResult{}, err
	}
	defer sess.mu.Unlock()
	return sess.result(), nil
}

// SetOfflineMode 切换本地模式并按新模式重新加载
func (s *GameStore) SetOfflineMode(ctx context.Context, userID string, offline bool) (LoadResult, error) {
	sess := s.session(userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.offline != offline {
		sess.offline = offline
		sess.loaded = false
		sess.state = game.DefaultState()
	}
	return s.loadLocked(ctx, sess)
}

// Logout 丢弃会话并清除在线模式的缓存
func (s *GameStore) Logout(ctx context.Context, userID string) error {
	s.mu.Lock()
	delete(s.sessions, userID)
	s.mu.Unlock()
	return s.cache.Clear(ctx, userID)
}

// NeedsOnboarding 新用户或仍使用默认名字时需要引导
func (s *GameStore) NeedsOnboarding(ctx context.Context, userID string) (bool, error) {
	sess, err := s.acquire(ctx, userID)
	if err != nil {
		return false, err
	}
	defer sess.mu.Unlock()
	return sess.isNewUser || sess.state.User.Name == game.DefaultPlayerName, nil
}

func (s *GameStore) saveCache(ctx context.Context, sess *session) {
	if err := s.cache.SaveState(ctx, sess.userID, sess.mode(), sess.state); err != nil {
		logger.Log.Warn("Failed to save state cache", zap.String("userID", sess.userID), zap.Error(err))
	}
}

// write 一条待入队的远端写入
type write struct {
	kind     model.OutboxKind
	entityID string
	version  int64
	payload  interface{}
}

// commit 保存缓存快照，在线模式下把写入追加到同步队列。
// 入队失败只记录日志，返回值供调用方生成提示
func (s *GameStore) commit(ctx context.Context, sess *session, writes ...write) error {
	s.saveCache(ctx, sess)
	if sess.offline || len(writes) == 0 {
		return nil
	}

	entries := make([]*model.OutboxEntry, 0, len(writes))
	for _, w := range writes {
		entry, err := NewOutboxEntry(sess.userID, w.kind, w.entityID, w.version, w.payload)
		if err != nil {
			logger.Log.Error("Failed to encode outbox entry", zap.String("kind", string(w.kind)), zap.Error(err))
			return err
		}
		entries = append(entries, entry)
	}
	if err := s.backend.Outbox.Enqueue(ctx, entries...); err != nil {
		logger.Log.Error("Failed to enqueue sync",
			zap.String("userID", sess.userID),
			zap.Int("entries", len(entries)),
			zap.Error(err))
		return err
	}
	for _, w := range writes {
		monitoring.OutboxEnqueued.WithLabelValues(string(w.kind)).Inc()
	}
	if s.dispatcher != nil {
		s.dispatcher.Notify()
	}
	return nil
}

// ApplyChange 把其他实例或其他设备提交的变更应用到在线会话，只接受更新的版本
func (s *GameStore) ApplyChange(ev ChangeEvent) {
	sess, ok := s.existing(ev.UserID)
	if !ok {
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.loaded || sess.offline {
		return
	}
	if !sess.applyChange(ev) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.saveCache(ctx, sess)
}

func (sess *session) applyChange(ev ChangeEvent) bool {
	st := &sess.state
	switch ev.Table {
	case "tasks":
		switch ev.Type {
		case ChangeDelete:
			return removeOlder(&st.Tasks, ev.EntityID, ev.Version)
		case ChangeCompleteBatch:
			var p BatchPayload
			if json.Unmarshal(ev.Record, &p) != nil {
				return false
			}
			changed := false
			tasks := cloneSlice(st.Tasks)
			for _, id := range p.IDs {
				if i := game.IndexOf(tasks, id); i >= 0 && ev.Version > tasks[i].Version {
					tasks[i].IsCompleted = true
					tasks[i].Version = ev.Version
					changed = true
				}
			}
			st.Tasks = tasks
			return changed
		default:
			var t game.Task
			if json.Unmarshal(ev.Record, &t) != nil {
				return false
			}
			return upsertNewer(&st.Tasks, t, true)
		}

	case "projects":
		if ev.Type == ChangeDelete {
			return removeOlder(&st.Projects, ev.EntityID, ev.Version)
		}
		var p game.Project
		if json.Unmarshal(ev.Record, &p) != nil {
			return false
		}
		return upsertNewer(&st.Projects, p, true)

	case "business_fields":
		if ev.Type == ChangeDelete {
			return removeOlder(&st.DeepStats.Business, ev.EntityID, ev.Version)
		}
		var b game.BusinessVenture
		if json.Unmarshal(ev.Record, &b) != nil {
			return false
		}
		return upsertNewer(&st.DeepStats.Business, b, false)

	case "skill_levels":
		if ev.Type == ChangeDelete {
			for _, d := range []game.SkillDomain{game.DomainMind, game.DomainCommunication, game.DomainCreative} {
				if removeOlder(st.DeepStats.Skills.Domain(d), ev.EntityID, ev.Version) {
					return true
				}
			}
			return false
		}
		var n game.SkillNode
		if json.Unmarshal(ev.Record, &n) != nil {
			return false
		}
		branch := st.DeepStats.Skills.Domain(n.Domain)
		if branch == nil {
			return false
		}
		return upsertNewer(branch, n, false)

	case "profiles":
		var u game.UserProfile
		if json.Unmarshal(ev.Record, &u) != nil || ev.Version <= st.User.Version {
			return false
		}
		// 经验相关字段以 gamification 为准
		p := game.ProgressOf(st.User)
		u.ID = st.User.ID
		st.User = u
		st.User.XP, st.User.Level, st.User.Rank, st.User.Title, st.User.Streak = p.XP, p.Level, p.Rank, p.Title, p.Streak
		st.User.Version = ev.Version
		return true

	case "gamification":
		var g model.Gamification
		if json.Unmarshal(ev.Record, &g) != nil || ev.Version <= sess.progressVersion {
			return false
		}
		st.User.XP = g.ProgressToNext
		st.User.Level = g.Level
		st.User.Rank = g.Rank
		st.User.Streak = g.StreakDays
		sess.progressVersion = ev.Version
		return true
	}
	return false
}

// upsertNewer 已有条目仅在新版本更高时替换，新条目插入到头部或尾部
func upsertNewer[T game.Versioned](items *[]T, item T, prepend bool) bool {
	out := cloneSlice(*items)
	i := game.IndexOf(out, item.EntityID())
	switch {
	case i >= 0 && item.EntityVersion() <= out[i].EntityVersion():
		return false
	case i >= 0:
		out[i] = item
	case prepend:
		out = append([]T{item}, out...)
	default:
		out = append(out, item)
	}
	*items = out
	return true
}

func removeOlder[T game.Versioned](items *[]T, id string, version int64) bool {
	i := game.IndexOf(*items, id)
	if i < 0 || version <= (*items)[i].EntityVersion() {
		return false
	}
	*items = removeAt(*items, i)
	return true
}

func removeAt[T any](items []T, i int) []T {
	out := make([]T, 0, len(items)-1)
	out = append(out, items[:i]...)
	return append(out, items[i+1:]...)
}

// cloneSlice 与 slices.Clone 不同，nil 也返回空切片
func cloneSlice[T any](in []T) []T {
	out := make([]T, len(in))
	copy(out, in)
	return out
}

func cloneState(s game.AppState) game.AppState {
	out := s
	out.User.Stats = make(map[string]int, len(s.User.Stats))
	for k, v := range s.User.Stats {
		out.User.Stats[k] = v
	}
	out.User.Goals = cloneSlice(s.User.Goals)
	out.Tasks = cloneSlice(s.Tasks)
	out.Projects = cloneSlice(s.Projects)
	out.DeepStats.Business = cloneSlice(s.DeepStats.Business)
	out.DeepStats.Skills = game.SkillTree{
		Mind:          cloneSlice(s.DeepStats.Skills.Mind),
		Communication: cloneSlice(s.DeepStats.Skills.Communication),
		Creative:      cloneSlice(s.DeepStats.Skills.Creative),
	}
	return out
}
