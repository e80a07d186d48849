package service

import (
	"context"
	"nova_progress_backend/internal/game"
	"nova_progress_backend/internal/model"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func enqueue(t *testing.T, env *testEnv, userID string, kind model.OutboxKind, entityID string, version int64, payload interface{}) *model.OutboxEntry {
	t.Helper()
	entry, err := NewOutboxEntry(userID, kind, entityID, version, payload)
	require.NoError(t, err)
	require.NoError(t, env.backend.Outbox.Enqueue(context.Background(), entry))
	return entry
}

func outboxTask(id, title string, version int64) game.Task {
	return game.Task{
		ID:         id,
		Title:      title,
		Category:   "Fitness",
		Complexity: game.ComplexityC,
		XPReward:   50,
		Subtasks:   []game.Subtask{},
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
		Version:    version,
	}
}

func TestOutboxAppliesInOrder(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	enqueue(t, env, "u1", model.OutboxTaskUpsert, "t1", 1, outboxTask("t1", "Run 5k", 1))
	enqueue(t, env, "u1", model.OutboxTaskUpsert, "t1", 2, outboxTask("t1", "Run 10k", 2))

	n, err := env.dispatcher.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	row, err := env.backend.Tasks.FindByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Run 10k", row.Title)
	assert.Equal(t, int64(2), row.Version)

	pending, err := env.backend.Outbox.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestOutboxStaleVersionIsDropped(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	enqueue(t, env, "u1", model.OutboxTaskUpsert, "t1", 5, outboxTask("t1", "Fresh", 5))
	enqueue(t, env, "u1", model.OutboxTaskUpsert, "t1", 3, outboxTask("t1", "Stale", 3))
	env.drain(t)

	row, err := env.backend.Tasks.FindByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Fresh", row.Title)

	pending, err := env.backend.Outbox.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending, "stale entries are consumed, not retried")
}

func TestOutboxHeadOfLineBlocking(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	now := time.Now().Add(time.Minute)
	env.dispatcher.now = func() time.Time { return now }

	// u1 没有经验行，xp.grant 会失败并阻塞 u1 后续条目
	head := enqueue(t, env, "u1", model.OutboxXPGrant, "u1", 1, XPGrantPayload{Amount: 100})
	enqueue(t, env, "u1", model.OutboxTaskUpsert, "t1", 2, outboxTask("t1", "Blocked", 2))
	enqueue(t, env, "u2", model.OutboxTaskUpsert, "t2", 1, outboxTask("t2", "Independent", 1))

	n, err := env.dispatcher.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = env.backend.Tasks.FindByID(ctx, "t2")
	require.NoError(t, err)
	_, err = env.backend.Tasks.FindByID(ctx, "t1")
	assert.Error(t, err, "u1 entries behind a failing head must wait")

	entries, err := env.backend.Outbox.PendingForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, head.ID, entries[0].ID)
	assert.Equal(t, 1, entries[0].Attempts)
	assert.NotEmpty(t, entries[0].LastError)
	assert.WithinDuration(t, now.Add(time.Second), entries[0].NextAttemptAt, time.Millisecond)

	// 未到重试时间，不会再执行
	n, err = env.dispatcher.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// 补上经验行后，到期重试成功并放行后续条目
	gam := model.NewGamificationRow("u1")
	require.NoError(t, env.backend.Gamification.Create(ctx, &gam))
	now = now.Add(2 * time.Second)
	env.drain(t)

	g, err := env.backend.Gamification.FindByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 100, g.ProgressToNext)
	row, err := env.backend.Tasks.FindByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Blocked", row.Title)
}

func TestOutboxParksAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	now := time.Now().Add(time.Minute)
	env.dispatcher.now = func() time.Time { return now }

	enqueue(t, env, "u1", model.OutboxXPGrant, "u1", 1, XPGrantPayload{Amount: 10})
	enqueue(t, env, "u1", model.OutboxTaskUpsert, "t1", 2, outboxTask("t1", "After park", 2))

	for i := 0; i < 3; i++ {
		_, err := env.dispatcher.DrainOnce(ctx)
		require.NoError(t, err)
		now = now.Add(time.Hour)
	}
	env.drain(t)

	_, err := env.backend.Tasks.FindByID(ctx, "t1")
	require.NoError(t, err, "a parked head no longer blocks the user")

	var parked model.OutboxEntry
	require.NoError(t, env.db.Where("parked = ?", true).First(&parked).Error)
	assert.Equal(t, model.OutboxXPGrant, parked.Kind)
	assert.Equal(t, 3, parked.Attempts)
}

func TestOutboxBadPayloadParksImmediately(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	entry := &model.OutboxEntry{UserID: "u1", Kind: model.OutboxTaskUpsert, EntityID: "t1", Version: 1, Payload: []byte(`"not a task"`)}
	require.NoError(t, env.backend.Outbox.Enqueue(ctx, entry))
	enqueue(t, env, "u1", model.OutboxTaskUpsert, "t2", 1, outboxTask("t2", "Next", 1))

	n, err := env.dispatcher.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var stored model.OutboxEntry
	require.NoError(t, env.db.First(&stored, entry.ID).Error)
	assert.True(t, stored.Parked)
}

func TestOutboxBatchAndDelete(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	enqueue(t, env, "u1", model.OutboxTaskUpsert, "t1", 1, outboxTask("t1", "One", 1))
	enqueue(t, env, "u1", model.OutboxTaskUpsert, "t2", 1, outboxTask("t2", "Two", 1))
	enqueue(t, env, "u1", model.OutboxTaskBatchDone, "", 2, BatchPayload{IDs: []string{"t1", "t2"}})
	enqueue(t, env, "u1", model.OutboxTaskDelete, "t2", 3, nil)
	env.drain(t)

	rows, err := env.backend.Tasks.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Done)
}

func TestOutboxBackoff(t *testing.T) {
	d := NewOutboxDispatcher(nil, testOutboxConfig(), 1000)
	assert.Equal(t, time.Second, d.Backoff(1))
	assert.Equal(t, 2*time.Second, d.Backoff(2))
	assert.Equal(t, 32*time.Second, d.Backoff(6))
	assert.Equal(t, time.Minute, d.Backoff(7))
	assert.Equal(t, time.Minute, d.Backoff(100))
}

func TestOutboxStartStop(t *testing.T) {
	env := newTestEnv(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	env.dispatcher.Start(context.Background())
	enqueue(t, env, "u1", model.OutboxTaskUpsert, "t1", 1, outboxTask("t1", "Async", 1))
	env.dispatcher.Notify()

	require.Eventually(t, func() bool {
		_, err := env.backend.Tasks.FindByID(context.Background(), "t1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	env.dispatcher.Stop()
	env.dispatcher.Stop()
}

func TestOutboxBackoffDoesNotStarveOtherUsers(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	// u1 的积压超过一个批次且全部在退避中
	for i := 0; i < testOutboxConfig().BatchSize; i++ {
		entry, err := NewOutboxEntry("u1", model.OutboxTaskUpsert, "a", int64(i+1), outboxTask("a", "Waiting", int64(i+1)))
		require.NoError(t, err)
		entry.NextAttemptAt = time.Now().Add(time.Hour)
		require.NoError(t, env.backend.Outbox.Enqueue(ctx, entry))
	}
	enqueue(t, env, "u2", model.OutboxTaskUpsert, "b1", 1, outboxTask("b1", "Served", 1))

	n, err := env.dispatcher.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	row, err := env.backend.Tasks.FindByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "u2", row.UserID)
	_, err = env.backend.Tasks.FindByID(ctx, "a")
	assert.Error(t, err)
}

func TestOutboxParksWriteToForeignRow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	project := game.Project{ID: "p1", Title: "Alice plan", Status: game.ProjectActive, Tags: []string{}}
	enqueue(t, env, "alice", model.OutboxProjectUpsert, "p1", 1, project)
	env.drain(t)

	project.Title = "pwned"
	enqueue(t, env, "mallory", model.OutboxProjectUpsert, "p1", 2, project)
	n, err := env.dispatcher.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	rows, err := env.backend.Projects.ListByUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Alice plan", rows[0].Title)

	var entry model.OutboxEntry
	require.NoError(t, env.db.Where("user_id = ?", "mallory").First(&entry).Error)
	assert.True(t, entry.Parked, "ownership conflicts are not retried")
	assert.Contains(t, entry.LastError, "another user")
}
