package cache

import (
	"context"
	"nova_progress_backend/internal/game"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*LocalCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewLocalCache(rdb, "", 0), mr
}

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	state, found := c.LoadState(ctx, "u1", Online)
	assert.False(t, found)
	assert.Equal(t, game.DefaultState(), state)

	state.User.Name = "Jin-Woo"
	state.User.XP = 1050
	state.User.Level = 2
	state.Tasks = append(state.Tasks, game.Task{
		ID:         "t1",
		Title:      "Run 5k",
		Category:   "Fitness",
		Complexity: game.ComplexityC,
		XPReward:   50,
		Subtasks:   []game.Subtask{},
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	state.DeepStats.Finance.Debt = 42
	require.NoError(t, c.SaveState(ctx, "u1", Online, state))

	loaded, found := c.LoadState(ctx, "u1", Online)
	require.True(t, found)
	assert.Equal(t, state, loaded)

	_, found = c.LoadState(ctx, "u1", Offline)
	assert.False(t, found, "offline mode uses its own key")
}

func TestLoadStateShapeMerge(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	require.NoError(t, mr.Set(c.StateKey("u1", Online), `{"user":{"name":"Cha","xp":30,"stats":{"Fitness":4}},"tasks":null}`))

	state, found := c.LoadState(ctx, "u1", Online)
	require.True(t, found)
	assert.Equal(t, "Cha", state.User.Name)
	assert.Equal(t, 30, state.User.XP)
	assert.Equal(t, game.DefaultBio, state.User.Bio, "missing fields fall back to defaults")
	assert.Equal(t, 4, state.User.Stats["Fitness"])
	assert.Equal(t, 1, state.User.Stats["Wellness"])
	assert.NotNil(t, state.Tasks)
	assert.Empty(t, state.Tasks)
	assert.NotNil(t, state.DeepStats.Skills.Mind)
}

func TestLoadStateCorruptFallsBackToDefaults(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	require.NoError(t, mr.Set(c.StateKey("u1", Offline), `{"user":{"name":`))
	state, found := c.LoadState(ctx, "u1", Offline)
	assert.False(t, found)
	assert.Equal(t, game.DefaultState(), state)

	require.NoError(t, mr.Set(c.StateKey("u1", Online), `{"user":{"name":"Cha","xp":"lots"}}`))
	state, found = c.LoadState(ctx, "u1", Online)
	assert.False(t, found)
	assert.Equal(t, game.DefaultPlayerName, state.User.Name, "partially decoded state is discarded")
}

func TestLocalTasks(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	tasks, err := c.LocalTasks(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, tasks)

	first := game.Task{ID: "local-1", Title: "Meditate", XPReward: 10}
	second := game.Task{ID: "local-2", Title: "Stretch", XPReward: 25}
	require.NoError(t, c.UpsertLocalTask(ctx, "u1", first))
	require.NoError(t, c.UpsertLocalTask(ctx, "u1", second))

	tasks, err = c.LocalTasks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "local-2", tasks[0].ID, "new tasks are prepended")

	found, err := c.PatchLocalTask(ctx, "u1", "local-1", func(t *game.Task) { t.IsCompleted = true })
	require.NoError(t, err)
	assert.True(t, found)
	found, err = c.PatchLocalTask(ctx, "u1", "missing", func(t *game.Task) { t.Title = "x" })
	require.NoError(t, err)
	assert.False(t, found)

	removed, err := c.RemoveLocalTask(ctx, "u1", "local-2")
	require.NoError(t, err)
	assert.True(t, removed)

	tasks, err = c.LocalTasks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].IsCompleted)

	require.NoError(t, mr.Set(localTasksKey("u1"), "not json"))
	tasks, err = c.LocalTasks(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestCustomCategories(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	cat, err := game.NewCustomCategory("Side Hustle", "#ff00aa")
	require.NoError(t, err)
	customs, err := c.AddCustomCategory(ctx, "u1", cat)
	require.NoError(t, err)
	require.Len(t, customs, 1)
	assert.Equal(t, "SIDE_HUSTLE", customs[0].ID)

	_, err = c.AddCustomCategory(ctx, "u1", cat)
	assert.ErrorIs(t, err, game.ErrCategoryExists)

	stored, err := c.CustomCategories(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, customs, stored)
}

func TestAPIKeyAndClear(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	key, err := c.APIKey(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, key)

	require.NoError(t, c.SetAPIKey(ctx, "u1", "secret"))
	key, err = c.APIKey(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "secret", key)

	require.NoError(t, c.SaveState(ctx, "u1", Online, game.DefaultState()))
	require.NoError(t, c.SaveState(ctx, "u1", Offline, game.DefaultState()))
	require.NoError(t, c.SaveProfile(ctx, "u1", game.DefaultProfile()))
	require.NoError(t, c.Clear(ctx, "u1"))

	assert.False(t, mr.Exists(c.StateKey("u1", Online)))
	assert.True(t, mr.Exists(c.StateKey("u1", Offline)))
	p, err := c.LoadProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, c.SetAPIKey(ctx, "u1", ""))
	assert.False(t, mr.Exists(apiKeyKey("u1")))
}
