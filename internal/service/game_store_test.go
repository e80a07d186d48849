package service

import (
	"context"
	"encoding/json"
	"nova_progress_backend/internal/cache"
	"nova_progress_backend/internal/config"
	"nova_progress_backend/internal/game"
	"nova_progress_backend/internal/model"
	"nova_progress_backend/internal/util"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*GameStore, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	store := NewGameStore(env.backend, env.cache, env.dispatcher, config.GameConfig{LevelCost: 1000})
	return store, env
}

func loadUser(t *testing.T, store *GameStore, userID string) LoadResult {
	t.Helper()
	res, err := store.Load(context.Background(), Identity{UserID: userID, Email: userID + "@example.com"})
	require.NoError(t, err)
	return res
}

func countOutbox(t *testing.T, env *testEnv, kind model.OutboxKind) int64 {
	t.Helper()
	var n int64
	require.NoError(t, env.db.Model(&model.OutboxEntry{}).Where("kind = ?", kind).Count(&n).Error)
	return n
}

// withSession 直接修改会话状态，模拟已有数据
func withSession(store *GameStore, userID string, fn func(st *game.AppState)) {
	sess := store.session(userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	fn(&sess.state)
}

func TestLoadCreatesProfileForNewUser(t *testing.T) {
	ctx := context.Background()
	store, env := newTestStore(t)

	res := loadUser(t, store, "alice")
	assert.True(t, res.IsNewUser)
	assert.Empty(t, res.DBError)
	assert.Equal(t, "alice", res.State.User.Name)
	assert.Equal(t, 1, res.State.User.Level)
	assert.Equal(t, "E-Rank", res.State.User.Rank)

	profile, err := env.backend.Profiles.FindByID(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", profile.Name)
	_, err = env.backend.Gamification.FindByUserID(ctx, "alice")
	require.NoError(t, err)

	onboarding, err := store.NeedsOnboarding(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, onboarding)
}

func TestLoadMapsRemoteRows(t *testing.T) {
	ctx := context.Background()
	store, env := newTestStore(t)

	profile := model.NewProfileRow("bob", "Bob")
	require.NoError(t, env.backend.Profiles.Create(ctx, &profile))
	gam := model.NewGamificationRow("bob")
	gam.ProgressToNext = 2500
	gam.Level = 3
	require.NoError(t, env.backend.Gamification.Create(ctx, &gam))
	row := model.TaskToRow("bob", outboxTask("t1", "Bench press", 1))
	row.Done = true
	_, err := env.backend.Tasks.Upsert(ctx, &row)
	require.NoError(t, err)

	res := loadUser(t, store, "bob")
	assert.False(t, res.IsNewUser)
	assert.Equal(t, "Bob", res.State.User.Name)
	assert.Equal(t, 2500, res.State.User.XP, "xp comes from the gamification row")
	assert.Equal(t, 3, res.State.User.Level)
	require.Len(t, res.State.Tasks, 1)
	assert.True(t, res.State.Tasks[0].IsCompleted)
	assert.NotNil(t, res.State.Tasks[0].Subtasks)
}

func TestLoadKeepsStateWhenRemoteEmpty(t *testing.T) {
	ctx := context.Background()
	store, env := newTestStore(t)

	profile := model.NewProfileRow("carol", game.DefaultPlayerName)
	require.NoError(t, env.backend.Profiles.Create(ctx, &profile))

	cached := game.DefaultState()
	cached.Tasks = []game.Task{outboxTask("cached-1", "From cache", 1)}
	require.NoError(t, env.cache.SaveState(ctx, "carol", cache.Online, cached))

	res, err := store.Load(ctx, Identity{UserID: "carol"})
	require.NoError(t, err)
	require.Len(t, res.State.Tasks, 1)
	assert.Equal(t, "cached-1", res.State.Tasks[0].ID)
}

func TestLoadReportsMissingSchema(t *testing.T) {
	ctx := context.Background()
	store, env := newTestStore(t)
	require.NoError(t, env.db.Migrator().DropTable(&model.Profile{}))

	res := loadUser(t, store, "dave")
	assert.Equal(t, util.ErrSchemaMissing.Error(), res.DBError)
	assert.Equal(t, game.DefaultPlayerName, res.State.User.Name)

	_, err := store.AddTask(ctx, "dave", TaskInput{Title: "Anything", Category: "Home"})
	assert.ErrorIs(t, err, util.ErrSchemaMissing)
}

func TestAddTaskUsesComplexityTable(t *testing.T) {
	ctx := context.Background()
	store, env := newTestStore(t)
	loadUser(t, store, "u1")

	first, err := store.AddTask(ctx, "u1", TaskInput{Title: "Squat", Category: "fitness", Complexity: "B"})
	require.NoError(t, err)
	assert.Equal(t, 100, first.XPReward)
	assert.Equal(t, "Fitness", first.Category)

	second, err := store.AddTask(ctx, "u1", TaskInput{Title: "Read", Category: "Skills"})
	require.NoError(t, err)
	assert.Equal(t, game.ComplexityD, second.Complexity)

	state, err := store.State(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, state.State.Tasks, 2)
	assert.Equal(t, second.ID, state.State.Tasks[0].ID, "new tasks are prepended")

	// 修改难度不改变经验，除非显式要求重算
	s := "SSS"
	updated, err := store.UpdateTask(ctx, "u1", first.ID, TaskPatch{Complexity: &s})
	require.NoError(t, err)
	assert.Equal(t, 100, updated.XPReward)
	updated, err = store.UpdateTask(ctx, "u1", first.ID, TaskPatch{RecomputeXP: true})
	require.NoError(t, err)
	assert.Equal(t, 5000, updated.XPReward)

	_, err = store.AddTask(ctx, "u1", TaskInput{Title: " ", Category: "Fitness"})
	assert.ErrorIs(t, err, util.ErrValidation)
	_, err = store.AddTask(ctx, "u1", TaskInput{Title: "x", Category: "Nope"})
	assert.ErrorIs(t, err, util.ErrValidation)

	env.drain(t)
	row, err := env.backend.Tasks.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "SSS", row.Complexity)
	assert.Equal(t, 5000, row.XP)
}

func TestToggleIsInverse(t *testing.T) {
	ctx := context.Background()
	store, env := newTestStore(t)
	loadUser(t, store, "u1")

	task, err := store.AddTask(ctx, "u1", TaskInput{Title: "Deadlift", Category: "Fitness", Complexity: "B"})
	require.NoError(t, err)

	on, err := store.ToggleTaskCompletion(ctx, "u1", task.ID)
	require.NoError(t, err)
	assert.True(t, on.Task.IsCompleted)
	assert.Equal(t, 100, on.User.XP)
	assert.Equal(t, 2, on.User.Stats["Fitness"])
	assert.Equal(t, 1, on.User.Streak)

	off, err := store.ToggleTaskCompletion(ctx, "u1", task.ID)
	require.NoError(t, err)
	assert.False(t, off.Task.IsCompleted)
	assert.Equal(t, 0, off.User.XP)
	assert.Equal(t, 1, off.User.Stats["Fitness"])
	assert.Equal(t, 1, off.User.Streak, "streak is not reverted")

	env.drain(t)
	g, err := env.backend.Gamification.FindByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, g.ProgressToNext)
	row, err := env.backend.Tasks.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, row.Done)
}

func TestToggleFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	loadUser(t, store, "u1")

	done := outboxTask("t-done", "Already done", 1)
	done.IsCompleted = true
	withSession(store, "u1", func(st *game.AppState) {
		st.Tasks = []game.Task{done}
	})

	res, err := store.ToggleTaskCompletion(ctx, "u1", "t-done")
	require.NoError(t, err)
	assert.Equal(t, 0, res.User.XP)
	assert.Equal(t, 1, res.User.Stats["Fitness"])
}

func TestToggleCrossesLevel(t *testing.T) {
	ctx := context.Background()
	store, env := newTestStore(t)
	loadUser(t, store, "u1")
	withSession(store, "u1", func(st *game.AppState) {
		st.User.XP = 950
	})

	task, err := store.AddTask(ctx, "u1", TaskInput{Title: "Ship it", Category: "Business", Complexity: "B"})
	require.NoError(t, err)
	res, err := store.ToggleTaskCompletion(ctx, "u1", task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1050, res.User.XP)
	assert.Equal(t, 2, res.User.Level)

	env.drain(t)
	g, err := env.backend.Gamification.FindByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1050, g.ProgressToNext)
	assert.Equal(t, 2, g.Level)
}

func TestToggleSubtaskAutoCompletes(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	loadUser(t, store, "u1")

	task, err := store.AddTask(ctx, "u1", TaskInput{Title: "Morning routine", Category: "Wellness", Complexity: "C", Subtasks: []string{"Stretch", "Hydrate"}})
	require.NoError(t, err)
	require.Len(t, task.Subtasks, 2)

	res, err := store.ToggleSubtask(ctx, "u1", task.ID, task.Subtasks[0].ID)
	require.NoError(t, err)
	assert.False(t, res.Task.IsCompleted)
	assert.Equal(t, 0, res.User.XP)

	res, err = store.ToggleSubtask(ctx, "u1", task.ID, task.Subtasks[1].ID)
	require.NoError(t, err)
	assert.True(t, res.Task.IsCompleted)
	assert.Equal(t, 50, res.User.XP)
}

func TestCompleteAllTasksBatches(t *testing.T) {
	ctx := context.Background()
	store, env := newTestStore(t)
	loadUser(t, store, "u1")

	withSession(store, "u1", func(st *game.AppState) {
		for i, xp := range []int{10, 20, 30} {
			task := outboxTask(string(rune('a'+i)), "Task", 1)
			task.XPReward = xp
			st.Tasks = append(st.Tasks, task)
		}
	})

	res, err := store.CompleteAllTasks(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Completed)
	assert.Equal(t, 60, res.XPGained)
	assert.Equal(t, 60, res.User.XP)
	assert.Equal(t, 3, res.User.Streak)
	assert.Equal(t, 4, res.User.Stats["Fitness"])
	assert.Equal(t, "Protocol Executed: 3 tasks completed. +60 XP gained. System synchronized.", res.Message)

	assert.Equal(t, int64(1), countOutbox(t, env, model.OutboxTaskBatchDone))
	assert.Zero(t, countOutbox(t, env, model.OutboxTaskUpsert))

	again, err := store.CompleteAllTasks(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, MsgNoPendingTasks, again.Message)
	assert.Equal(t, int64(1), countOutbox(t, env, model.OutboxTaskBatchDone))
}

func TestCompleteMilestoneIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, env := newTestStore(t)
	loadUser(t, store, "u1")

	p, err := store.UpdateProject(ctx, "u1", game.Project{
		Title:      "Launch",
		Milestones: []game.Milestone{{Title: "MVP", XPReward: 100}},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, game.ProjectActive, p.Status)
	require.NotEmpty(t, p.Milestones[0].ID)

	first, err := store.CompleteMilestone(ctx, "u1", p.ID, p.Milestones[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 100, first.Granted)
	assert.Equal(t, 100, first.User.XP)

	second, err := store.CompleteMilestone(ctx, "u1", p.ID, p.Milestones[0].ID)
	require.NoError(t, err)
	assert.Zero(t, second.Granted)
	assert.Equal(t, 100, second.User.XP)
	assert.Equal(t, int64(1), countOutbox(t, env, model.OutboxXPGrant))

	_, err = store.CompleteMilestone(ctx, "u1", p.ID, "missing")
	assert.ErrorIs(t, err, util.ErrMilestoneNotFound)
	_, err = store.CompleteMilestone(ctx, "u1", "missing", "missing")
	assert.ErrorIs(t, err, util.ErrProjectNotFound)

	env.drain(t)
	g, err := env.backend.Gamification.FindByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 100, g.ProgressToNext)
}

func TestBusinessAndSkills(t *testing.T) {
	ctx := context.Background()
	store, env := newTestStore(t)
	loadUser(t, store, "u1")

	b, err := store.UpdateBusiness(ctx, "u1", game.BusinessVenture{Name: "Agency", Revenue: 1200}, false)
	require.NoError(t, err)
	_, err = store.UpdateBusiness(ctx, "u1", game.BusinessVenture{Name: "Shop"}, false)
	require.NoError(t, err)

	n, err := store.UpdateSkill(ctx, "u1", game.SkillNode{Domain: game.DomainMind, Name: "Chess"}, false)
	require.NoError(t, err)
	n.Domain = game.DomainCreative
	moved, err := store.UpdateSkill(ctx, "u1", n, false)
	require.NoError(t, err)
	assert.Greater(t, moved.Version, n.Version)

	_, err = store.UpdateSkill(ctx, "u1", game.SkillNode{Domain: "cooking", Name: "Pasta"}, false)
	assert.ErrorIs(t, err, util.ErrValidation)

	state, err := store.State(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, state.State.DeepStats.Business, 2)
	assert.Equal(t, "Agency", state.State.DeepStats.Business[0].Name, "new ventures are appended")
	assert.Empty(t, state.State.DeepStats.Skills.Mind)
	require.Len(t, state.State.DeepStats.Skills.Creative, 1)

	_, err = store.UpdateBusiness(ctx, "u1", b, true)
	require.NoError(t, err)
	_, err = store.UpdateBusiness(ctx, "u1", b, true)
	assert.ErrorIs(t, err, util.ErrBusinessNotFound)

	env.drain(t)
	rows, err := env.backend.Business.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Shop", rows[0].Name)
	skills, err := env.backend.Skills.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, skills, 1)
	assert.Equal(t, string(game.DomainCreative), skills[0].Domain)
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	store, env := newTestStore(t)
	loadUser(t, store, "u1")

	name, age := "Sung", 24
	u, err := store.UpdateProfile(ctx, "u1", ProfilePatch{Name: &name, Age: &age, Goals: []string{"Run a marathon"}})
	require.NoError(t, err)
	assert.Equal(t, "Sung", u.Name)

	onboarding, err := store.NeedsOnboarding(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, onboarding)

	env.drain(t)
	row, err := env.backend.Profiles.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Sung", row.Name)
	assert.Equal(t, 24, row.Age)
	assert.Equal(t, []string{"Run a marathon"}, []string(row.Goals))

	blank := " "
	_, err = store.UpdateProfile(ctx, "u1", ProfilePatch{Name: &blank})
	assert.ErrorIs(t, err, util.ErrValidation)
}

func TestOfflineModeSkipsOutbox(t *testing.T) {
	ctx := context.Background()
	store, env := newTestStore(t)
	loadUser(t, store, "u1")

	res, err := store.SetOfflineMode(ctx, "u1", true)
	require.NoError(t, err)
	assert.True(t, res.Offline)

	task, err := store.AddTask(ctx, "u1", TaskInput{Title: "Offline run", Category: "Fitness"})
	require.NoError(t, err)
	assert.True(t, game.IsLocalID(task.ID))
	_, err = store.ToggleTaskCompletion(ctx, "u1", task.ID)
	require.NoError(t, err)

	n, err := env.backend.Outbox.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	cached, ok := env.cache.LoadState(ctx, "u1", cache.Offline)
	require.True(t, ok)
	require.Len(t, cached.Tasks, 1)
	assert.True(t, cached.Tasks[0].IsCompleted)
}

func TestLocalTasksAndMergedView(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	loadUser(t, store, "u1")

	_, err := store.AddTask(ctx, "u1", TaskInput{Title: "Remote", Category: "Fitness"})
	require.NoError(t, err)
	local, err := store.AddTask(ctx, "u1", TaskInput{Title: "Local", Category: "Skills", Local: true})
	require.NoError(t, err)
	assert.True(t, game.IsLocalID(local.ID))

	all, err := store.MergedTasks(ctx, "u1", "All")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	skills, err := store.MergedTasks(ctx, "u1", "skills")
	require.NoError(t, err)
	require.Len(t, skills, 1)
	assert.Equal(t, local.ID, skills[0].ID)

	_, err = store.MergedTasks(ctx, "u1", "Nope")
	assert.ErrorIs(t, err, util.ErrValidation)

	res, err := store.ToggleTaskCompletion(ctx, "u1", local.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, res.User.XP)

	require.NoError(t, store.DeleteTask(ctx, "u1", local.ID))
	assert.ErrorIs(t, store.DeleteTask(ctx, "u1", local.ID), util.ErrTaskNotFound)

	stats, err := store.Stats(ctx, "u1", 7)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalTasks)
}

func TestCustomCategoryMastery(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	loadUser(t, store, "u1")

	c, err := store.CreateCategory(ctx, "u1", "Side Quest", "#123abc")
	require.NoError(t, err)
	assert.Equal(t, "SIDE_QUEST", c.ID)
	_, err = store.CreateCategory(ctx, "u1", "side quest", "")
	assert.ErrorIs(t, err, util.ErrValidation)

	task, err := store.AddTask(ctx, "u1", TaskInput{Title: "Find the key", Category: "side quest", Complexity: "E"})
	require.NoError(t, err)
	assert.Equal(t, "SIDE_QUEST", task.Category)

	res, err := store.ToggleTaskCompletion(ctx, "u1", task.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.User.Stats["SIDE_QUEST"])

	views := store.Categories(ctx, "u1")
	assert.True(t, views[len(views)-1].IsCustom)
}

func TestApplyChangeVersionGate(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	loadUser(t, store, "u1")

	task, err := store.AddTask(ctx, "u1", TaskInput{Title: "Local title", Category: "Home"})
	require.NoError(t, err)

	remote := task
	remote.Title = "Remote title"
	record, err := json.Marshal(remote)
	require.NoError(t, err)

	store.ApplyChange(ChangeEvent{Table: "tasks", Type: ChangeUpdate, UserID: "u1", EntityID: task.ID, Version: task.Version, Record: record})
	state, err := store.State(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Local title", state.State.Tasks[0].Title, "equal version is not applied")

	remote.Version = task.Version + 1
	record, err = json.Marshal(remote)
	require.NoError(t, err)
	store.ApplyChange(ChangeEvent{Table: "tasks", Type: ChangeUpdate, UserID: "u1", EntityID: task.ID, Version: remote.Version, Record: record})
	state, err = store.State(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Remote title", state.State.Tasks[0].Title)

	g, err := json.Marshal(model.Gamification{UserID: "u1", Level: 5, Rank: "E-Rank", ProgressToNext: 4200})
	require.NoError(t, err)
	store.ApplyChange(ChangeEvent{Table: "gamification", Type: ChangeUpdate, UserID: "u1", Version: 1 << 60, Record: g})
	state, err = store.State(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4200, state.State.User.XP)

	store.ApplyChange(ChangeEvent{Table: "tasks", Type: ChangeDelete, UserID: "u1", EntityID: task.ID, Version: remote.Version + 1})
	state, err = store.State(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, state.State.Tasks)

	// 没有会话的用户直接忽略
	store.ApplyChange(ChangeEvent{Table: "tasks", Type: ChangeDelete, UserID: "ghost", EntityID: "x", Version: 1})
	_, ok := store.existing("ghost")
	assert.False(t, ok)
}

func TestLogoutDropsSession(t *testing.T) {
	ctx := context.Background()
	store, env := newTestStore(t)
	loadUser(t, store, "u1")

	require.NoError(t, store.Logout(ctx, "u1"))
	_, ok := store.existing("u1")
	assert.False(t, ok)
	_, found := env.cache.LoadState(ctx, "u1", cache.Online)
	assert.False(t, found)
}

func TestUpsertCannotClaimAnotherUsersEntity(t *testing.T) {
	ctx := context.Background()
	store, env := newTestStore(t)
	loadUser(t, store, "alice")
	loadUser(t, store, "mallory")

	p, err := store.UpdateProject(ctx, "alice", game.Project{ID: "p1", Title: "Alice plan"}, false)
	require.NoError(t, err)
	assert.NotEqual(t, "p1", p.ID, "ids of new projects are minted by the server")
	b, err := store.UpdateBusiness(ctx, "alice", game.BusinessVenture{ID: "b1", Name: "Bakery"}, false)
	require.NoError(t, err)
	n, err := store.UpdateSkill(ctx, "alice", game.SkillNode{ID: "s1", Domain: game.DomainMind, Name: "Chess"}, false)
	require.NoError(t, err)
	env.drain(t)

	stolen, err := store.UpdateProject(ctx, "mallory", game.Project{ID: p.ID, Title: "pwned"}, false)
	require.NoError(t, err)
	assert.NotEqual(t, p.ID, stolen.ID)
	_, err = store.UpdateBusiness(ctx, "mallory", game.BusinessVenture{ID: b.ID, Name: "pwned"}, false)
	require.NoError(t, err)
	_, err = store.UpdateSkill(ctx, "mallory", game.SkillNode{ID: n.ID, Domain: game.DomainMind, Name: "pwned"}, false)
	require.NoError(t, err)
	env.drain(t)

	projects, err := env.backend.Projects.ListByUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "Alice plan", projects[0].Title)
	ventures, err := env.backend.Business.ListByUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, ventures, 1)
	assert.Equal(t, "Bakery", ventures[0].Name)
	skills, err := env.backend.Skills.ListByUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, skills, 1)
	assert.Equal(t, "Chess", skills[0].Name)

	mine, err := env.backend.Projects.ListByUser(ctx, "mallory")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, stolen.ID, mine[0].ID)
}

func TestConnectLocalTasksStaysLocal(t *testing.T) {
	ctx := context.Background()
	store, env := newTestStore(t)
	loadUser(t, store, "carol")

	a, err := store.AddTask(ctx, "carol", TaskInput{Title: "Sketch", Category: "Skills", Local: true})
	require.NoError(t, err)
	b, err := store.AddTask(ctx, "carol", TaskInput{Title: "Ink", Category: "Skills", Local: true})
	require.NoError(t, err)

	connected, err := store.ConnectTasks(ctx, "carol", a.ID, []string{b.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, connected.Connections)
	assert.Zero(t, countOutbox(t, env, model.OutboxTaskUpsert))

	env.drain(t)
	_, err = env.backend.Tasks.FindByID(ctx, a.ID)
	assert.Error(t, err, "local tasks never reach the database")

	local, err := env.cache.LocalTasks(ctx, "carol")
	require.NoError(t, err)
	i := game.IndexOf(local, a.ID)
	require.GreaterOrEqual(t, i, 0)
	assert.Equal(t, []string{b.ID}, local[i].Connections)

	_, err = store.ConnectTasks(ctx, "carol", a.ID, []string{"local-missing"})
	assert.ErrorIs(t, err, util.ErrTaskNotFound)
}

func TestToggleUnknownSubtaskLeavesTaskUntouched(t *testing.T) {
	ctx := context.Background()
	store, env := newTestStore(t)
	loadUser(t, store, "bob")

	task, err := store.AddTask(ctx, "bob", TaskInput{Title: "Clean garage", Category: "Home", Subtasks: []string{"Sort boxes"}})
	require.NoError(t, err)
	before := countOutbox(t, env, model.OutboxTaskUpsert)

	_, err = store.ToggleSubtask(ctx, "bob", task.ID, "nope")
	assert.ErrorIs(t, err, util.ErrValidation)
	_, err = store.ToggleSubtask(ctx, "bob", "missing", "nope")
	assert.ErrorIs(t, err, util.ErrTaskNotFound)

	assert.Equal(t, before, countOutbox(t, env, model.OutboxTaskUpsert))
	state, err := store.State(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, state.State.Tasks, 1)
	assert.Equal(t, task.Version, state.State.Tasks[0].Version)
	assert.True(t, task.UpdatedAt.Equal(state.State.Tasks[0].UpdatedAt))
}

func TestApplyProfileChangeKeepsProgress(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	loadUser(t, store, "u1")

	withSession(store, "u1", func(st *game.AppState) {
		st.User.Level, st.User.Rank, st.User.Title = 12, "D-Rank", "Rookie"
	})

	remote := game.UserProfile{Name: "Renamed", Level: 99, Rank: "National Level", Title: "Shadow Monarch"}
	record, err := json.Marshal(remote)
	require.NoError(t, err)
	store.ApplyChange(ChangeEvent{Table: "profiles", Type: ChangeUpdate, UserID: "u1", EntityID: "u1", Version: 1 << 60, Record: record})

	state, err := store.State(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", state.State.User.Name)
	assert.Equal(t, 12, state.State.User.Level)
	assert.Equal(t, "D-Rank", state.State.User.Rank)
	assert.Equal(t, "Rookie", state.State.User.Title)
}
