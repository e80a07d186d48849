package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXPForComplexity(t *testing.T) {
	assert.Equal(t, 100, XPForComplexity(ComplexityB))
	assert.Equal(t, 10, XPForComplexity(ComplexityE))
	assert.Equal(t, 5000, XPForComplexity(ComplexitySSS))
	assert.Equal(t, DefaultTaskXP, XPForComplexity(Complexity("Z")))

	c, ok := ParseComplexity(" ss ")
	require.True(t, ok)
	assert.Equal(t, ComplexitySS, c)
	_, ok = ParseComplexity("F")
	assert.False(t, ok)
}

func TestLevelForXP(t *testing.T) {
	cases := []struct {
		xp, cost, want int
	}{
		{0, 1000, 1},
		{999, 1000, 1},
		{1000, 1000, 2},
		{1050, 1000, 2},
		{250, 100, 3},
		{-40, 1000, 1},
		{500, 0, 1},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, LevelForXP(c.xp, c.cost), "xp=%d cost=%d", c.xp, c.cost)
	}

	prev := 0
	for xp := 0; xp < 20000; xp += 37 {
		l := LevelForXP(xp, LevelCostStandard)
		assert.GreaterOrEqual(t, l, prev)
		assert.Equal(t, xp/1000+1, l)
		prev = l
	}
}

func TestRankForLevel(t *testing.T) {
	assert.Equal(t, "E-Rank", RankForLevel(1).Rank)
	assert.Equal(t, "E-Rank", RankForLevel(9).Rank)
	assert.Equal(t, "Rookie", RankForLevel(10).Title)
	assert.Equal(t, "C-Rank", RankForLevel(39).Rank)
	assert.Equal(t, "Guild Master", RankForLevel(40).Title)
	assert.Equal(t, "National Level", RankForLevel(250).Rank)
	assert.Equal(t, "E-Rank", RankForLevel(0).Rank)

	for level := 1; level <= 120; level++ {
		got := RankForLevel(level)
		var want Rank
		for _, r := range RankTable {
			if r.MinLevel <= level {
				want = r
				break
			}
		}
		assert.Equal(t, want, got, "level=%d", level)
	}
}

func TestApplyCompletionLevelsUp(t *testing.T) {
	p := Progress{XP: 950, Level: 1, Stats: DefaultStats()}
	next := ApplyCompletion(p, "Fitness", 100, true, LevelCostStandard)

	assert.Equal(t, 1050, next.XP)
	assert.Equal(t, 2, next.Level)
	assert.Equal(t, 1, next.Streak)
	assert.Equal(t, 2, next.Stats["Fitness"])
	assert.Equal(t, 1, p.Stats["Fitness"], "input stats must not be mutated")
}

func TestApplyCompletionInverse(t *testing.T) {
	p := ProgressOf(DefaultProfile())
	p.XP = 300
	p.Stats["Skills"] = 4

	done := ApplyCompletion(p, "Skills", 50, true, LevelCostStandard)
	undone := ApplyCompletion(done, "Skills", 50, false, LevelCostStandard)

	assert.Equal(t, p.XP, undone.XP)
	assert.Equal(t, p.Stats, undone.Stats)
	assert.Equal(t, p.Streak+1, undone.Streak)
}

func TestApplyCompletionFloors(t *testing.T) {
	p := Progress{XP: 0, Stats: map[string]int{}}

	undone := ApplyCompletion(p, "Finance", 100, false, LevelCostStandard)
	assert.Equal(t, 0, undone.XP)
	assert.Equal(t, 1, undone.Level)
	assert.Equal(t, 1, undone.Stats["Finance"])

	p.XP = 30
	undone = ApplyCompletion(p, "Finance", 100, false, LevelCostStandard)
	assert.Equal(t, 0, undone.XP)
}

func TestApplyBatchCompletion(t *testing.T) {
	tasks := []Task{
		{ID: "a", Category: "Fitness", XPReward: 10},
		{ID: "b", Category: "Fitness", XPReward: 20},
		{ID: "c", Category: "Skills", XPReward: 30},
	}
	next, gained := ApplyBatchCompletion(Progress{Stats: DefaultStats()}, tasks, LevelCostStandard)

	assert.Equal(t, 60, gained)
	assert.Equal(t, 60, next.XP)
	assert.Equal(t, 3, next.Streak)
	assert.Equal(t, 3, next.Stats["Fitness"])
	assert.Equal(t, 2, next.Stats["Skills"])
}

func TestGrantXPCompactCost(t *testing.T) {
	next := GrantXP(Progress{XP: 90}, 20, LevelCostCompact)
	assert.Equal(t, 110, next.XP)
	assert.Equal(t, 2, next.Level)
	assert.Equal(t, "E-Rank", next.Rank)
}

func TestMergeByIDPreferLater(t *testing.T) {
	remote := []Task{{ID: "t1", Title: "Old"}, {ID: "t2", Title: "Remote only"}}
	local := []Task{{ID: "t3", Title: "Local only"}, {ID: "t1", Title: "New"}}

	merged := MergeByID(remote, local, PreferLater)
	require.Len(t, merged, 3)
	assert.Equal(t, "t1", merged[0].ID)
	assert.Equal(t, "New", merged[0].Title)
	assert.Equal(t, "t2", merged[1].ID)
	assert.Equal(t, "t3", merged[2].ID)

	reversed := MergeByID(local, remote, PreferLater)
	require.Len(t, reversed, 3)
	assert.Equal(t, "t3", reversed[0].ID)
	assert.Equal(t, "Old", reversed[1].Title)
}

func TestMergeByIDNewestWins(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	remote := []Task{{ID: "t1", Title: "Remote", UpdatedAt: now}}
	local := []Task{{ID: "t1", Title: "Stale local", UpdatedAt: now.Add(-time.Minute)}}

	merged := MergeByID(remote, local, NewestWins)
	require.Len(t, merged, 1)
	assert.Equal(t, "Remote", merged[0].Title)

	local[0].UpdatedAt = now
	local[0].Title = "Tie"
	merged = MergeByID(remote, local, NewestWins)
	assert.Equal(t, "Tie", merged[0].Title)
}

func TestMergeTaskViewsSortsNewestFirst(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	remote := []Task{{ID: "r1", CreatedAt: base}, {ID: "dup", Title: "remote", CreatedAt: base.Add(time.Hour)}}
	local := []Task{{ID: "local-1", CreatedAt: base.Add(2 * time.Hour)}, {ID: "dup", Title: "local", CreatedAt: base.Add(time.Hour)}}

	merged := MergeTaskViews(remote, local, PreferLater)
	require.Len(t, merged, 3)
	assert.Equal(t, "local-1", merged[0].ID)
	assert.Equal(t, "dup", merged[1].ID)
	assert.Equal(t, "local", merged[1].Title)
	assert.Equal(t, "r1", merged[2].ID)
}

func TestParseMergePolicy(t *testing.T) {
	assert.Equal(t, PreferLater, ParseMergePolicy("prefer_later"))
	assert.Equal(t, NewestWins, ParseMergePolicy("newest_wins"))
	assert.Equal(t, NewestWins, ParseMergePolicy(""))
}

func TestCategories(t *testing.T) {
	c, err := NewCustomCategory("  Side Quest ", "#12ab34")
	require.NoError(t, err)
	assert.Equal(t, "SIDE_QUEST", c.ID)
	assert.Equal(t, "Side Quest", c.Label)

	c2, err := NewCustomCategory("Music", "red")
	require.NoError(t, err)
	assert.Equal(t, DefaultCustomColor, c2.Color)

	_, err = NewCustomCategory("   ", "")
	assert.ErrorIs(t, err, ErrCategoryNameRequired)

	customs, err := AddCustomCategory(nil, c)
	require.NoError(t, err)
	_, err = AddCustomCategory(customs, c)
	assert.ErrorIs(t, err, ErrCategoryExists)
	fit, _ := NewCustomCategory("fitness", "")
	_, err = AddCustomCategory(customs, fit)
	assert.ErrorIs(t, err, ErrCategoryExists)

	got, err := ParseCategory("FITNESS", customs)
	require.NoError(t, err)
	assert.Equal(t, Fitness, got)
	assert.Equal(t, "Fitness", MasteryKey(got))

	got, err = ParseCategory("side quest", customs)
	require.NoError(t, err)
	assert.Equal(t, c, got)
	assert.True(t, Describe(got).IsCustom)

	_, err = ParseCategory("Gardening", customs)
	assert.ErrorIs(t, err, ErrUnknownCategory)

	views := AllCategories(customs)
	assert.Len(t, views, len(BuiltinCategories)+1)
	assert.Equal(t, "#ef4444", Fitness.HexColor())
}

func TestDefaultStateIsFresh(t *testing.T) {
	a := DefaultState()
	a.User.Stats["Fitness"] = 99
	a.Tasks = append(a.Tasks, Task{ID: "x"})

	b := DefaultState()
	assert.Equal(t, 1, b.User.Stats["Fitness"])
	assert.Empty(t, b.Tasks)
	assert.Equal(t, DefaultPlayerName, b.User.Name)
	assert.Equal(t, "Novice", b.User.Title)
}

func TestLocalIDs(t *testing.T) {
	id := NewLocalID(time.UnixMilli(1700000000000))
	assert.Equal(t, "local-1700000000000", id)
	assert.True(t, IsLocalID(id))
	assert.False(t, IsLocalID(NewEntityID()))
}

func TestTaskAllSubtasksDone(t *testing.T) {
	assert.False(t, Task{}.AllSubtasksDone())
	task := Task{Subtasks: []Subtask{{ID: "1", Completed: true}, {ID: "2"}}}
	assert.False(t, task.AllSubtasksDone())
	task.Subtasks[1].Completed = true
	assert.True(t, task.AllSubtasksDone())
}

func TestBuildAnalytics(t *testing.T) {
	now := time.Date(2026, 5, 10, 15, 0, 0, 0, time.UTC)
	tasks := []Task{
		{ID: "1", Category: "Fitness", XPReward: 10, IsCompleted: true, UpdatedAt: now},
		{ID: "2", Category: "Fitness", XPReward: 25},
		{ID: "3", Category: "Skills", XPReward: 50, IsCompleted: true, UpdatedAt: now.AddDate(0, 0, -2)},
		{ID: "4", Category: "Skills", XPReward: 100, IsCompleted: true, UpdatedAt: now.AddDate(0, 0, -30)},
	}
	a := BuildAnalytics(tasks, now, 7)

	assert.Equal(t, 4, a.TotalTasks)
	assert.Equal(t, 3, a.CompletedTasks)
	assert.InDelta(t, 0.75, a.WinRate, 1e-9)
	assert.Equal(t, 160, a.TotalXP)
	require.Len(t, a.Categories, 2)
	assert.Equal(t, "Fitness", a.Categories[0].Category)
	assert.InDelta(t, 0.5, a.Categories[0].CompletionRate, 1e-9)
	require.Len(t, a.Momentum, 7)
	assert.Equal(t, "2026-05-10", a.Momentum[6].Date)
	assert.Equal(t, 10, a.Momentum[6].XP)
	assert.Equal(t, 50, a.Momentum[4].XP)

	filtered := FilterByCategory(tasks, Fitness)
	assert.Len(t, filtered, 2)
}

func TestNextVersionMonotonic(t *testing.T) {
	now := time.UnixMilli(5_000)
	assert.Equal(t, int64(5_000), NextVersion(0, now))
	assert.Equal(t, int64(5_001), NextVersion(5_000, now))
	assert.Equal(t, int64(9_001), NextVersion(9_000, now), "clock skew never goes backwards")
}
