package service

import (
	"context"
	"errors"
	"fmt"
	"nova_progress_backend/internal/game"
	"nova_progress_backend/internal/model"
	"nova_progress_backend/internal/util"
	"nova_progress_backend/pkg/logger"
	"nova_progress_backend/pkg/monitoring"
	"nova_progress_backend/pkg/tracing"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	MsgNoPendingTasks = "No pending tasks to complete."
	MsgBatchSyncFail  = "Local state updated, but failed to sync with the database."
)

// TaskInput 新建任务。xpReward 由难度查表决定
type TaskInput struct {
	Title       string   `json:"title"`
	Category    string   `json:"category"`
	Complexity  string   `json:"complexity"`
	Description string   `json:"description"`
	DueDate     string   `json:"dueDate"`
	ProjectID   string   `json:"projectId"`
	Tags        []string `json:"tags"`
	Subtasks    []string `json:"subtasks"`
	// Local 只保存在本地缓存，不写入数据库
	Local bool `json:"local"`
}

// TaskPatch 为 nil 的字段保持不变。修改难度不会改变经验，除非 RecomputeXP
type TaskPatch struct {
	Title       *string        `json:"title"`
	Category    *string        `json:"category"`
	Complexity  *string        `json:"complexity"`
	Description *string        `json:"description"`
	DueDate     *string        `json:"dueDate"`
	ProjectID   *string        `json:"projectId"`
	Tags        []string       `json:"tags"`
	Subtasks    []game.Subtask `json:"subtasks"`
	RecomputeXP bool           `json:"recomputeXp"`
}

type ProfilePatch struct {
	Name      *string  `json:"name"`
	Height    *float64 `json:"height"`
	Weight    *float64 `json:"weight"`
	Age       *int     `json:"age"`
	Gender    *string  `json:"gender"`
	Bio       *string  `json:"bio"`
	Goals     []string `json:"goals"`
	AvatarURL *string  `json:"avatarUrl"`
}

// ToggleResult 完成状态切换后的任务与用户
type ToggleResult struct {
	Task game.Task        `json:"task"`
	User game.UserProfile `json:"user"`
}

type BatchResult struct {
	Completed int              `json:"completed"`
	XPGained  int              `json:"xpGained"`
	Message   string           `json:"message"`
	User      game.UserProfile `json:"user"`
}

type MilestoneResult struct {
	Project game.Project     `json:"project"`
	User    game.UserProfile `json:"user"`
	Granted int              `json:"granted"`
}

func validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", util.ErrValidation, fmt.Sprintf(format, args...))
}

func (s *GameStore) customCategories(ctx context.Context, userID string) []game.CustomCategory {
	customs, err := s.cache.CustomCategories(ctx, userID)
	if err != nil {
		logger.Log.Warn("Failed to read custom categories", zap.String("userID", userID), zap.Error(err))
	}
	return customs
}

// resolveCategory 返回领域的规范键
func (s *GameStore) resolveCategory(ctx context.Context, userID, key string) (string, error) {
	c, err := game.ParseCategory(key, s.customCategories(ctx, userID))
	if err != nil {
		return "", fmt.Errorf("%w: %v", util.ErrValidation, err)
	}
	return game.MasteryKey(c), nil
}

func (s *GameStore) masteryKey(ctx context.Context, userID, category string) string {
	if key, err := s.resolveCategory(ctx, userID, category); err == nil {
		return key
	}
	return category
}

// bumpProgress 经验变化后推进版本，返回需要同步的两条写入
func (s *GameStore) bumpProgress(sess *session, now time.Time) []write {
	sess.progressVersion = game.NextVersion(sess.progressVersion, now)
	sess.state.User.Version = game.NextVersion(sess.state.User.Version, now)
	user := sess.state.User
	return []write{
		{kind: model.OutboxProgressUpsert, entityID: sess.userID, version: sess.progressVersion, payload: game.ProgressOf(user)},
		{kind: model.OutboxProfileUpsert, entityID: sess.userID, version: user.Version, payload: user},
	}
}

func uniqueLocalID(existing []game.Task, now time.Time) string {
	for {
		id := game.NewLocalID(now)
		if game.IndexOf(existing, id) < 0 {
			return id
		}
		now = now.Add(time.Millisecond)
	}
}

// AddTask 新任务插入列表头部
func (s *GameStore) AddTask(ctx context.Context, userID string, in TaskInput) (game.Task, error) {
	ctx, span := tracing.Tracer.Start(ctx, "GameStore.AddTask")
	defer span.End()

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return game.Task{}, validation("title is required")
	}
	category, err := s.resolveCategory(ctx, userID, in.Category)
	if err != nil {
		return game.Task{}, err
	}
	complexity := game.ComplexityD
	if in.Complexity != "" {
		c, ok := game.ParseComplexity(in.Complexity)
		if !ok {
			return game.Task{}, validation("unknown complexity %q", in.Complexity)
		}
		complexity = c
	}

	sess, err := s.acquire(ctx, userID)
	if err != nil {
		return game.Task{}, err
	}
	defer sess.mu.Unlock()

	now := s.now()
	t := game.Task{
		UserID:      userID,
		ProjectID:   in.ProjectID,
		Title:       title,
		Category:    category,
		Complexity:  complexity,
		XPReward:    game.XPForComplexity(complexity),
		Description: in.Description,
		DueDate:     in.DueDate,
		Subtasks:    make([]game.Subtask, 0, len(in.Subtasks)),
		Tags:        cloneSlice(in.Tags),
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     game.NextVersion(0, now),
	}
	for _, st := range in.Subtasks {
		if st = strings.TrimSpace(st); st != "" {
			t.Subtasks = append(t.Subtasks, game.Subtask{ID: game.NewEntityID(), Title: st})
		}
	}

	if in.Local || sess.offline {
		return s.addLocalLocked(ctx, sess, t), nil
	}

	t.ID = game.NewEntityID()
	sess.state.Tasks = append([]game.Task{t}, sess.state.Tasks...)
	s.commit(ctx, sess, write{kind: model.OutboxTaskUpsert, entityID: t.ID, version: t.Version, payload: t})
	return t, nil
}

// AddLocalTask 只保存在本地缓存的任务，经验沿用调用方给出的数值
func (s *GameStore) AddLocalTask(ctx context.Context, userID string, t game.Task) (game.Task, error) {
	sess, err := s.acquire(ctx, userID)
	if err != nil {
		return game.Task{}, err
	}
	defer sess.mu.Unlock()
	return s.addLocalLocked(ctx, sess, t), nil
}

func (s *GameStore) addLocalLocked(ctx context.Context, sess *session, t game.Task) game.Task {
	now := s.now()
	t.UserID = sess.userID
	t.CreatedAt = now
	t.UpdatedAt = now
	t.Version = game.NextVersion(0, now)
	if t.Subtasks == nil {
		t.Subtasks = []game.Subtask{}
	}

	if sess.offline {
		t.ID = uniqueLocalID(sess.state.Tasks, now)
		sess.state.Tasks = append([]game.Task{t}, sess.state.Tasks...)
		s.commit(ctx, sess)
		return t
	}

	locals, _ := s.cache.LocalTasks(ctx, sess.userID)
	t.ID = uniqueLocalID(locals, now)
	if err := s.cache.UpsertLocalTask(ctx, sess.userID, t); err != nil {
		logger.Log.Warn("Failed to save local task", zap.String("userID", sess.userID), zap.Error(err))
	}
	return t
}

func (s *GameStore) applyTaskPatch(ctx context.Context, userID string, patch TaskPatch) (func(*game.Task), error) {
	var category string
	if patch.Category != nil {
		key, err := s.resolveCategory(ctx, userID, *patch.Category)
		if err != nil {
			return nil, err
		}
		category = key
	}
	var complexity game.Complexity
	if patch.Complexity != nil {
		c, ok := game.ParseComplexity(*patch.Complexity)
		if !ok {
			return nil, validation("unknown complexity %q", *patch.Complexity)
		}
		complexity = c
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, validation("title is required")
	}

	return func(t *game.Task) {
		if patch.Title != nil {
			t.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.Category != nil {
			t.Category = category
		}
		if patch.Complexity != nil {
			t.Complexity = complexity
		}
		if patch.RecomputeXP {
			t.XPReward = game.XPForComplexity(t.Complexity)
		}
		if patch.Description != nil {
			t.Description = *patch.Description
		}
		if patch.DueDate != nil {
			t.DueDate = *patch.DueDate
		}
		if patch.ProjectID != nil {
			t.ProjectID = *patch.ProjectID
		}
		if patch.Tags != nil {
			t.Tags = cloneSlice(patch.Tags)
		}
		if patch.Subtasks != nil {
			t.Subtasks = cloneSlice(patch.Subtasks)
		}
	}, nil
}

// findTask 按 mutateTask 的规则查找任务：在线时 local- 任务只在本地缓存中
func (s *GameStore) findTask(ctx context.Context, sess *session, id string) (game.Task, bool) {
	tasks := sess.state.Tasks
	if game.IsLocalID(id) && !sess.offline {
		local, err := s.cache.LocalTasks(ctx, sess.userID)
		if err != nil {
			logger.Log.Warn("Failed to read local tasks", zap.String("userID", sess.userID), zap.Error(err))
		}
		tasks = local
	}
	if i := game.IndexOf(tasks, id); i >= 0 {
		return tasks[i], true
	}
	return game.Task{}, false
}

// mutateTask 在会话或本地缓存中修改一个任务，返回修改后的副本
func (s *GameStore) mutateTask(ctx context.Context, sess *session, id string, fn func(*game.Task)) (game.Task, error) {
	now := s.now()
	if game.IsLocalID(id) && !sess.offline {
		var out game.Task
		found, err := s.cache.PatchLocalTask(ctx, sess.userID, id, func(t *game.Task) {
			fn(t)
			t.UpdatedAt = now
			t.Version = game.NextVersion(t.Version, now)
			out = *t
		})
		if err != nil {
			logger.Log.Warn("Failed to patch local task", zap.String("taskID", id), zap.Error(err))
		}
		if !found {
			return game.Task{}, util.ErrTaskNotFound
		}
		return out, nil
	}

	i := game.IndexOf(sess.state.Tasks, id)
	if i < 0 {
		return game.Task{}, util.ErrTaskNotFound
	}
	tasks := cloneSlice(sess.state.Tasks)
	t := tasks[i]
	t.Subtasks = cloneSlice(t.Subtasks)
	fn(&t)
	t.UpdatedAt = now
	t.Version = game.NextVersion(t.Version, now)
	tasks[i] = t
	sess.state.Tasks = tasks
	return t, nil
}

func (s *GameStore) UpdateTask(ctx context.Context, userID, id string, patch TaskPatch) (game.Task, error) {
	ctx, span := tracing.Tracer.Start(ctx, "GameStore.UpdateTask")
	defer span.End()

	fn, err := s.applyTaskPatch(ctx, userID, patch)
	if err != nil {
		return game.Task{}, err
	}
	sess, err := s.acquire(ctx, userID)
	if err != nil {
		return game.Task{}, err
	}
	defer sess.mu.Unlock()

	t, err := s.mutateTask(ctx, sess, id, fn)
	if err != nil {
		return game.Task{}, err
	}
	if !game.IsLocalID(id) || sess.offline {
		s.commit(ctx, sess, write{kind: model.OutboxTaskUpsert, entityID: t.ID, version: t.Version, payload: t})
	}
	return t, nil
}

func (s *GameStore) DeleteTask(ctx context.Context, userID, id string) error {
	sess, err := s.acquire(ctx, userID)
	if err != nil {
		return err
	}
	defer sess.mu.Unlock()

	if game.IsLocalID(id) && !sess.offline {
		found, err := s.cache.RemoveLocalTask(ctx, userID, id)
		if err != nil {
			logger.Log.Warn("Failed to remove local task", zap.String("taskID", id), zap.Error(err))
		}
		if !found {
			return util.ErrTaskNotFound
		}
		return nil
	}

	i := game.IndexOf(sess.state.Tasks, id)
	if i < 0 {
		return util.ErrTaskNotFound
	}
	version := game.NextVersion(sess.state.Tasks[i].Version, s.now())
	sess.state.Tasks = removeAt(sess.state.Tasks, i)
	s.commit(ctx, sess, write{kind: model.OutboxTaskDelete, entityID: id, version: version})
	return nil
}

// setCompletion 修改任务完成状态并结算经验，状态未变化时不做任何事
func (s *GameStore) setCompletion(ctx context.Context, sess *session, id string, fn func(*game.Task)) (ToggleResult, error) {
	var before game.Task
	t, err := s.mutateTask(ctx, sess, id, func(t *game.Task) {
		before = *t
		fn(t)
	})
	if err != nil {
		return ToggleResult{}, err
	}

	var writes []write
	if !game.IsLocalID(id) || sess.offline {
		writes = append(writes, write{kind: model.OutboxTaskUpsert, entityID: t.ID, version: t.Version, payload: t})
	}
	if before.IsCompleted != t.IsCompleted {
		key := s.masteryKey(ctx, sess.userID, t.Category)
		p := game.ApplyCompletion(game.ProgressOf(sess.state.User), key, t.XPReward, t.IsCompleted, s.levelCost)
		p.ApplyTo(&sess.state.User)
		writes = append(writes, s.bumpProgress(sess, s.now())...)
		if t.IsCompleted {
			monitoring.XPGranted.WithLabelValues("task").Add(float64(t.XPReward))
		}
	}
	s.commit(ctx, sess, writes...)
	return ToggleResult{Task: t, User: sess.state.User}, nil
}

// ToggleTaskCompletion 切换完成状态，经验按任务奖励增减
func (s *GameStore) ToggleTaskCompletion(ctx context.Context, userID, id string) (ToggleResult, error) {
	ctx, span := tracing.Tracer.Start(ctx, "GameStore.ToggleTaskCompletion")
	defer span.End()

	sess, err := s.acquire(ctx, userID)
	if err != nil {
		return ToggleResult{}, err
	}
	defer sess.mu.Unlock()
	return s.setCompletion(ctx, sess, id, func(t *game.Task) {
		t.IsCompleted = !t.IsCompleted
	})
}

func subtaskIndex(subs []game.Subtask, id string) int {
	for i := range subs {
		if subs[i].ID == id {
			return i
		}
	}
	return -1
}

// ToggleSubtask 全部子任务完成时任务自动完成
func (s *GameStore) ToggleSubtask(ctx context.Context, userID, taskID, subtaskID string) (ToggleResult, error) {
	sess, err := s.acquire(ctx, userID)
	if err != nil {
		return ToggleResult{}, err
	}
	defer sess.mu.Unlock()

	current, ok := s.findTask(ctx, sess, taskID)
	if !ok {
		return ToggleResult{}, util.ErrTaskNotFound
	}
	if subtaskIndex(current.Subtasks, subtaskID) < 0 {
		return ToggleResult{}, validation("subtask %q not found", subtaskID)
	}

	return s.setCompletion(ctx, sess, taskID, func(t *game.Task) {
		subs := cloneSlice(t.Subtasks)
		if i := subtaskIndex(subs, subtaskID); i >= 0 {
			subs[i].Completed = !subs[i].Completed
		}
		t.Subtasks = subs
		if t.AllSubtasksDone() {
			t.IsCompleted = true
		}
	})
}

func (s *GameStore) SaveTaskPosition(ctx context.Context, userID, id string, pos game.Point) (game.Task, error) {
	sess, err := s.acquire(ctx, userID)
	if err != nil {
		return game.Task{}, err
	}
	defer sess.mu.Unlock()

	t, err := s.mutateTask(ctx, sess, id, func(t *game.Task) {
		p := pos
		t.Position = &p
	})
	if err != nil {
		return game.Task{}, err
	}
	if !game.IsLocalID(id) || sess.offline {
		s.commit(ctx, sess, write{kind: model.OutboxTaskUpsert, entityID: t.ID, version: t.Version, payload: t})
	}
	return t, nil
}

// ConnectTasks 设置路线图中的后继任务，不允许连接自身或不存在的任务
func (s *GameStore) ConnectTasks(ctx context.Context, userID, id string, targets []string) (game.Task, error) {
	sess, err := s.acquire(ctx, userID)
	if err != nil {
		return game.Task{}, err
	}
	defer sess.mu.Unlock()

	seen := make(map[string]bool, len(targets))
	connections := make([]string, 0, len(targets))
	for _, target := range targets {
		if target == id {
			return game.Task{}, validation("task cannot connect to itself")
		}
		if _, ok := s.findTask(ctx, sess, target); !ok {
			return game.Task{}, fmt.Errorf("%w: %s", util.ErrTaskNotFound, target)
		}
		if !seen[target] {
			seen[target] = true
			connections = append(connections, target)
		}
	}

	t, err := s.mutateTask(ctx, sess, id, func(t *game.Task) {
		t.Connections = connections
	})
	if err != nil {
		return game.Task{}, err
	}
	if !game.IsLocalID(id) || sess.offline {
		s.commit(ctx, sess, write{kind: model.OutboxTaskUpsert, entityID: t.ID, version: t.Version, payload: t})
	}
	return t, nil
}

// UpdateProject remove 为 true 时删除，否则新建或整体替换。新项目排在最前
func (s *GameStore) UpdateProject(ctx context.Context, userID string, p game.Project, remove bool) (game.Project, error) {
	ctx, span := tracing.Tracer.Start(ctx, "GameStore.UpdateProject")
	defer span.End()

	sess, err := s.acquire(ctx, userID)
	if err != nil {
		return game.Project{}, err
	}
	defer sess.mu.Unlock()

	now := s.now()
	i := game.IndexOf(sess.state.Projects, p.ID)
	if remove {
		if i < 0 {
			return game.Project{}, util.ErrProjectNotFound
		}
		version := game.NextVersion(sess.state.Projects[i].Version, now)
		sess.state.Projects = removeAt(sess.state.Projects, i)
		s.commit(ctx, sess, write{kind: model.OutboxProjectDelete, entityID: p.ID, version: version})
		return p, nil
	}

	p.Title = strings.TrimSpace(p.Title)
	if p.Title == "" {
		return game.Project{}, validation("project title is required")
	}
	if p.Status == "" {
		p.Status = game.ProjectActive
	}
	if !p.Status.Valid() {
		return game.Project{}, validation("unknown project status %q", p.Status)
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	p.Milestones = cloneSlice(p.Milestones)
	for j := range p.Milestones {
		if p.Milestones[j].ID == "" {
			p.Milestones[j].ID = game.NewEntityID()
		}
	}
	p.UpdatedAt = now

	projects := cloneSlice(sess.state.Projects)
	if i >= 0 {
		p.CreatedAt = projects[i].CreatedAt
		p.Version = game.NextVersion(projects[i].Version, now)
		projects[i] = p
	} else {
		p.ID = game.NewEntityID()
		p.CreatedAt = now
		p.Version = game.NextVersion(0, now)
		projects = append([]game.Project{p}, projects...)
	}
	sess.state.Projects = projects
	s.commit(ctx, sess, write{kind: model.OutboxProjectUpsert, entityID: p.ID, version: p.Version, payload: p})
	return p, nil
}

// CompleteMilestone 里程碑只结算一次经验，重复调用直接返回当前状态
func (s *GameStore) CompleteMilestone(ctx context.Context, userID, projectID, milestoneID string) (MilestoneResult, error) {
	ctx, span := tracing.Tracer.Start(ctx, "GameStore.CompleteMilestone")
	defer span.End()

	sess, err := s.acquire(ctx, userID)
	if err != nil {
		return MilestoneResult{}, err
	}
	defer sess.mu.Unlock()

	i := game.IndexOf(sess.state.Projects, projectID)
	if i < 0 {
		return MilestoneResult{}, util.ErrProjectNotFound
	}
	p := sess.state.Projects[i]
	m := -1
	for j := range p.Milestones {
		if p.Milestones[j].ID == milestoneID {
			m = j
			break
		}
	}
	if m < 0 {
		return MilestoneResult{}, util.ErrMilestoneNotFound
	}
	if p.Milestones[m].IsCompleted {
		return MilestoneResult{Project: p, User: sess.state.User}, nil
	}

	now := s.now()
	p.Milestones = cloneSlice(p.Milestones)
	p.Milestones[m].IsCompleted = true
	p.UpdatedAt = now
	p.Version = game.NextVersion(p.Version, now)
	projects := cloneSlice(sess.state.Projects)
	projects[i] = p
	sess.state.Projects = projects

	reward := p.Milestones[m].XPReward
	game.GrantXP(game.ProgressOf(sess.state.User), reward, s.levelCost).ApplyTo(&sess.state.User)
	sess.progressVersion = game.NextVersion(sess.progressVersion, now)
	monitoring.XPGranted.WithLabelValues("milestone").Add(float64(reward))

	s.commit(ctx, sess,
		write{kind: model.OutboxProjectUpsert, entityID: p.ID, version: p.Version, payload: p},
		write{kind: model.OutboxXPGrant, entityID: userID, version: sess.progressVersion, payload: XPGrantPayload{Amount: reward, Source: "milestone"}},
	)
	return MilestoneResult{Project: p, User: sess.state.User, Granted: reward}, nil
}

// UpdateBusiness 新业务追加在末尾
func (s *GameStore) UpdateBusiness(ctx context.Context, userID string, b game.BusinessVenture, remove bool) (game.BusinessVenture, error) {
	sess, err := s.acquire(ctx, userID)
	if err != nil {
		return game.BusinessVenture{}, err
	}
	defer sess.mu.Unlock()

	now := s.now()
	i := game.IndexOf(sess.state.DeepStats.Business, b.ID)
	if remove {
		if i < 0 {
			return game.BusinessVenture{}, util.ErrBusinessNotFound
		}
		version := game.NextVersion(sess.state.DeepStats.Business[i].Version, now)
		sess.state.DeepStats.Business = removeAt(sess.state.DeepStats.Business, i)
		s.commit(ctx, sess, write{kind: model.OutboxBusinessDelete, entityID: b.ID, version: version})
		return b, nil
	}

	b.Name = strings.TrimSpace(b.Name)
	if b.Name == "" {
		return game.BusinessVenture{}, validation("business name is required")
	}
	if b.SubVentures == nil {
		b.SubVentures = []game.SubVenture{}
	}
	b.UpdatedAt = now

	ventures := cloneSlice(sess.state.DeepStats.Business)
	if i >= 0 {
		b.Version = game.NextVersion(ventures[i].Version, now)
		ventures[i] = b
	} else {
		b.ID = game.NewEntityID()
		b.Version = game.NextVersion(0, now)
		ventures = append(ventures, b)
	}
	sess.state.DeepStats.Business = ventures
	s.commit(ctx, sess, write{kind: model.OutboxBusinessUpsert, entityID: b.ID, version: b.Version, payload: b})
	return b, nil
}

// UpdateSkill 技能按 domain 分支存放，修改 domain 时移动到新分支末尾
func (s *GameStore) UpdateSkill(ctx context.Context, userID string, n game.SkillNode, remove bool) (game.SkillNode, error) {
	sess, err := s.acquire(ctx, userID)
	if err != nil {
		return game.SkillNode{}, err
	}
	defer sess.mu.Unlock()

	now := s.now()
	tree := &sess.state.DeepStats.Skills
	var (
		oldBranch *[]game.SkillNode
		oldIndex  = -1
	)
	for _, d := range []game.SkillDomain{game.DomainMind, game.DomainCommunication, game.DomainCreative} {
		if i := game.IndexOf(*tree.Domain(d), n.ID); i >= 0 {
			oldBranch, oldIndex = tree.Domain(d), i
			break
		}
	}

	if remove {
		if oldIndex < 0 {
			return game.SkillNode{}, util.ErrSkillNotFound
		}
		prev := (*oldBranch)[oldIndex]
		*oldBranch = removeAt(*oldBranch, oldIndex)
		s.commit(ctx, sess, write{kind: model.OutboxSkillDelete, entityID: prev.ID, version: game.NextVersion(prev.Version, now)})
		return prev, nil
	}

	if !n.Domain.Valid() {
		return game.SkillNode{}, validation("unknown skill domain %q", n.Domain)
	}
	n.Name = strings.TrimSpace(n.Name)
	if n.Name == "" {
		return game.SkillNode{}, validation("skill name is required")
	}
	if n.Level <= 0 {
		n.Level = 1
	}
	n.Mastery = min(max(n.Mastery, 0), 100)
	if n.Rank == "" {
		n.Rank = game.ComplexityE
	}
	if n.Techniques == nil {
		n.Techniques = []game.SkillTechnique{}
	}
	n.UpdatedAt = now

	branch := tree.Domain(n.Domain)
	switch {
	case oldIndex >= 0 && oldBranch == branch:
		n.Version = game.NextVersion((*oldBranch)[oldIndex].Version, now)
		nodes := cloneSlice(*branch)
		nodes[oldIndex] = n
		*branch = nodes
	case oldIndex >= 0:
		n.Version = game.NextVersion((*oldBranch)[oldIndex].Version, now)
		*oldBranch = removeAt(*oldBranch, oldIndex)
		*branch = append(cloneSlice(*branch), n)
	default:
		n.ID = game.NewEntityID()
		n.Version = game.NextVersion(0, now)
		*branch = append(cloneSlice(*branch), n)
	}
	s.commit(ctx, sess, write{kind: model.OutboxSkillUpsert, entityID: n.ID, version: n.Version, payload: n})
	return n, nil
}

// UpdateProfile 只修改资料字段，经验与段位由任务结算维护
func (s *GameStore) UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) (game.UserProfile, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return game.UserProfile{}, validation("name is required")
	}
	if patch.Age != nil && *patch.Age < 0 {
		return game.UserProfile{}, validation("age must not be negative")
	}

	sess, err := s.acquire(ctx, userID)
	if err != nil {
		return game.UserProfile{}, err
	}
	defer sess.mu.Unlock()

	u := sess.state.User
	if patch.Name != nil {
		u.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Height != nil {
		u.Height = *patch.Height
	}
	if patch.Weight != nil {
		u.Weight = *patch.Weight
	}
	if patch.Age != nil {
		u.Age = *patch.Age
	}
	if patch.Gender != nil {
		u.Gender = *patch.Gender
	}
	if patch.Bio != nil {
		u.Bio = *patch.Bio
	}
	if patch.Goals != nil {
		u.Goals = cloneSlice(patch.Goals)
	}
	if patch.AvatarURL != nil {
		u.AvatarURL = *patch.AvatarURL
	}
	u.ID = userID
	u.Version = game.NextVersion(u.Version, s.now())
	sess.state.User = u
	sess.isNewUser = false

	s.commit(ctx, sess, write{kind: model.OutboxProfileUpsert, entityID: userID, version: u.Version, payload: u})
	if err := s.cache.SaveProfile(ctx, userID, u); err != nil {
		logger.Log.Warn("Failed to cache profile", zap.String("userID", userID), zap.Error(err))
	}
	return u, nil
}

// UploadAvatar 保存头像并写入资料。资料更新失败时删除刚上传的文件
func (s *GameStore) UploadAvatar(ctx context.Context, userID string, data []byte) (game.UserProfile, error) {
	f, err := s.backend.UploadImage(ctx, userID, "avatar", data)
	if err != nil {
		return game.UserProfile{}, err
	}
	u, err := s.UpdateProfile(ctx, userID, ProfilePatch{AvatarURL: &f.URL})
	if err != nil {
		s.backend.DeleteFile(ctx, f.Key)
		return game.UserProfile{}, err
	}
	return u, nil
}

// SetPremium 支付完成后开通会员
func (s *GameStore) SetPremium(ctx context.Context, userID string) (game.UserProfile, error) {
	sess, err := s.acquire(ctx, userID)
	if err != nil {
		return game.UserProfile{}, err
	}
	defer sess.mu.Unlock()

	sess.state.User.IsPremium = true
	sess.state.User.ID = userID
	sess.state.User.Version = game.NextVersion(sess.state.User.Version, s.now())
	u := sess.state.User
	s.commit(ctx, sess, write{kind: model.OutboxProfileUpsert, entityID: userID, version: u.Version, payload: u})
	return u, nil
}

// CompleteAllTasks 一次完成全部未完成任务，数据库只发出一条批量更新
func (s *GameStore) CompleteAllTasks(ctx context.Context, userID string) (BatchResult, error) {
	ctx, span := tracing.Tracer.Start(ctx, "GameStore.CompleteAllTasks")
	defer span.End()

	sess, err := s.acquire(ctx, userID)
	if err != nil {
		return BatchResult{}, err
	}
	defer sess.mu.Unlock()

	tasks := cloneSlice(sess.state.Tasks)
	var (
		ids     []string
		pending []game.Task
	)
	for _, t := range tasks {
		if t.IsCompleted {
			continue
		}
		ids = append(ids, t.ID)
		t.Category = s.masteryKey(ctx, userID, t.Category)
		pending = append(pending, t)
	}
	if len(pending) == 0 {
		return BatchResult{Message: MsgNoPendingTasks, User: sess.state.User}, nil
	}

	now := s.now()
	var version int64
	for _, t := range tasks {
		version = max(version, t.Version)
	}
	version = game.NextVersion(version, now)
	for i := range tasks {
		if !tasks[i].IsCompleted {
			tasks[i].IsCompleted = true
			tasks[i].UpdatedAt = now
			tasks[i].Version = version
		}
	}
	sess.state.Tasks = tasks

	p, gained := game.ApplyBatchCompletion(game.ProgressOf(sess.state.User), pending, s.levelCost)
	p.ApplyTo(&sess.state.User)
	monitoring.XPGranted.WithLabelValues("batch").Add(float64(gained))

	writes := append([]write{{kind: model.OutboxTaskBatchDone, version: version, payload: BatchPayload{IDs: ids}}}, s.bumpProgress(sess, now)...)
	res := BatchResult{Completed: len(pending), XPGained: gained, User: sess.state.User}
	if err := s.commit(ctx, sess, writes...); err != nil {
		res.Message = MsgBatchSyncFail
		return res, nil
	}
	res.Message = fmt.Sprintf("Protocol Executed: %d tasks completed. +%d XP gained. System synchronized.", len(pending), gained)
	return res, nil
}

// Categories 内置领域与用户自定义领域
func (s *GameStore) Categories(ctx context.Context, userID string) []game.CategoryView {
	return game.AllCategories(s.customCategories(ctx, userID))
}

func (s *GameStore) CreateCategory(ctx context.Context, userID, name, color string) (game.CustomCategory, error) {
	c, err := game.NewCustomCategory(name, color)
	if err != nil {
		return game.CustomCategory{}, fmt.Errorf("%w: %v", util.ErrValidation, err)
	}
	if _, err := s.cache.AddCustomCategory(ctx, userID, c); err != nil {
		if errors.Is(err, game.ErrCategoryExists) {
			return game.CustomCategory{}, fmt.Errorf("%w: %v", util.ErrValidation, err)
		}
		return game.CustomCategory{}, err
	}
	return c, nil
}

// MergedTasks 远端任务与本地任务合并后的面板视图，category 为空或 All 时不过滤
func (s *GameStore) MergedTasks(ctx context.Context, userID, category string) ([]game.Task, error) {
	var filter game.Category
	if category != "" && !strings.EqualFold(category, "all") {
		c, err := game.ParseCategory(category, s.customCategories(ctx, userID))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", util.ErrValidation, err)
		}
		filter = c
	}

	sess, err := s.acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	remote := cloneSlice(sess.state.Tasks)
	offline := sess.offline
	sess.mu.Unlock()

	var local []game.Task
	if !offline {
		local, err = s.cache.LocalTasks(ctx, userID)
		if err != nil {
			logger.Log.Warn("Failed to read local tasks", zap.String("userID", userID), zap.Error(err))
		}
	}
	merged := game.MergeTaskViews(remote, local, s.policy)
	if filter != nil {
		merged = game.FilterByCategory(merged, filter)
	}
	return merged, nil
}

// Stats 最近 days 天的领域统计
func (s *GameStore) Stats(ctx context.Context, userID string, days int) (game.Analytics, error) {
	tasks, err := s.MergedTasks(ctx, userID, "")
	if err != nil {
		return game.Analytics{}, err
	}
	if days <= 0 {
		days = 7
	}
	return game.BuildAnalytics(tasks, s.now(), days), nil
}
