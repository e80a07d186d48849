package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"nova_progress_backend/internal/config"
	"nova_progress_backend/internal/game"
	"nova_progress_backend/internal/model"
	"nova_progress_backend/internal/repository"
	"nova_progress_backend/pkg/logger"
	"nova_progress_backend/pkg/monitoring"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// ChangeCompleteBatch 批量完成任务的事件类型，Record 为 BatchPayload
const ChangeCompleteBatch = "COMPLETE_BATCH"

// BatchPayload task.complete_batch 的载荷
type BatchPayload struct {
	IDs []string `json:"ids"`
}

// XPGrantPayload xp.grant 的载荷
type XPGrantPayload struct {
	Amount int    `json:"amount"`
	Source string `json:"source"`
}

// permanentError 重试也不会成功的错误，直接搁置
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// NewOutboxEntry 构造一条待同步变更
func NewOutboxEntry(userID string, kind model.OutboxKind, entityID string, version int64, payload interface{}) (*model.OutboxEntry, error) {
	entry := &model.OutboxEntry{
		UserID:   userID,
		Kind:     kind,
		EntityID: entityID,
		Version:  version,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		entry.Payload = datatypes.JSON(raw)
	}
	return entry, nil
}

// OutboxDispatcher 按 ID 顺序把同步队列应用到数据库。
// 同一用户的条目严格按顺序执行，队首失败时该用户后续条目等待重试
type OutboxDispatcher struct {
	backend   *BackendClient
	cfg       config.OutboxConfig
	levelCost int
	now       func() time.Time

	wake   chan struct{}
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewOutboxDispatcher(backend *BackendClient, cfg config.OutboxConfig, levelCost int) *OutboxDispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 12
	}
	return &OutboxDispatcher{
		backend:   backend,
		cfg:       cfg,
		levelCost: levelCost,
		now:       time.Now,
		wake:      make(chan struct{}, 1),
	}
}

// Start 启动后台轮询，重复调用无效
func (d *OutboxDispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	go d.loop(ctx)
}

// Stop 停止轮询并等待当前批次结束
func (d *OutboxDispatcher) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel = nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Notify 有新条目入队时立即唤醒一次
func (d *OutboxDispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *OutboxDispatcher) loop(ctx context.Context) {
	defer close(d.done)
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.DrainOnce(ctx); err != nil && ctx.Err() == nil {
			logger.Log.Error("Outbox drain failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

// Backoff 第 attempts 次失败后的等待时间：min(base·2^(attempts-1), max)
func (d *OutboxDispatcher) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 31 {
		return d.cfg.MaxBackoff
	}
	delay := d.cfg.BaseBackoff << (attempts - 1)
	if delay <= 0 || delay > d.cfg.MaxBackoff {
		return d.cfg.MaxBackoff
	}
	return delay
}

// DrainOnce 处理一批到期条目，返回成功应用的条数
func (d *OutboxDispatcher) DrainOnce(ctx context.Context) (int, error) {
	now := d.now()
	entries, err := d.backend.Outbox.Pending(ctx, now, d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	blocked := make(map[string]bool)
	applied := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return applied, ctx.Err()
		}
		if blocked[e.UserID] {
			continue
		}
		if e.NextAttemptAt.After(now) {
			blocked[e.UserID] = true
			continue
		}

		ev, err := d.apply(ctx, e)
		if err != nil {
			if !d.fail(ctx, e, err) {
				blocked[e.UserID] = true
			}
			continue
		}
		applied++
		monitoring.OutboxApplied.WithLabelValues(string(e.Kind), "ok").Inc()
		if ev != nil {
			d.backend.Publish(ctx, *ev)
		}
	}

	if n, err := d.backend.Outbox.CountPending(ctx); err == nil {
		monitoring.OutboxPending.Set(float64(n))
	}
	return applied, nil
}

// fail 记录失败，返回条目是否已被搁置
func (d *OutboxDispatcher) fail(ctx context.Context, e model.OutboxEntry, cause error) bool {
	attempts := e.Attempts + 1
	var perm permanentError
	parked := errors.As(cause, &perm) || attempts >= d.cfg.MaxAttempts
	next := d.now().Add(d.Backoff(attempts))

	monitoring.OutboxApplied.WithLabelValues(string(e.Kind), "error").Inc()
	if parked {
		monitoring.OutboxParked.Inc()
	}
	logger.Log.Warn("Outbox entry failed",
		zap.Uint64("id", e.ID),
		zap.String("kind", string(e.Kind)),
		zap.String("userID", e.UserID),
		zap.Int("attempts", attempts),
		zap.Bool("parked", parked),
		zap.Error(cause))

	if err := d.backend.Outbox.MarkFailed(ctx, e.ID, attempts, next, cause.Error(), parked); err != nil {
		logger.Log.Error("Failed to record outbox failure", zap.Uint64("id", e.ID), zap.Error(err))
	}
	return parked
}

// apply 在一个事务中写入变更并删除条目
func (d *OutboxDispatcher) apply(ctx context.Context, e model.OutboxEntry) (*ChangeEvent, error) {
	var ev *ChangeEvent
	err := d.backend.Transaction(ctx, func(tx *BackendClient) error {
		var err error
		ev, err = d.applyEntry(ctx, tx, e)
		if err != nil {
			return err
		}
		return tx.Outbox.Delete(ctx, e.ID)
	})
	if errors.Is(err, repository.ErrForeignOwner) {
		return nil, permanentError{fmt.Errorf("%s %s: %w", e.Kind, e.EntityID, err)}
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func decodePayload(e model.OutboxEntry, v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return permanentError{fmt.Errorf("decode %s payload: %w", e.Kind, err)}
	}
	return nil
}

func changeEvent(e model.OutboxEntry, table, typ, category string, record interface{}) (*ChangeEvent, error) {
	ev := &ChangeEvent{
		Table:    table,
		Type:     typ,
		UserID:   e.UserID,
		EntityID: e.EntityID,
		Category: category,
		Version:  e.Version,
	}
	if record != nil {
		raw, err := json.Marshal(record)
		if err != nil {
			return nil, err
		}
		ev.Record = raw
	}
	return ev, nil
}

// applyEntry 版本过旧的写入被丢弃，此时不发布事件
func (d *OutboxDispatcher) applyEntry(ctx context.Context, tx *BackendClient, e model.OutboxEntry) (*ChangeEvent, error) {
	switch e.Kind {
	case model.OutboxTaskUpsert:
		var t game.Task
		if err := decodePayload(e, &t); err != nil {
			return nil, err
		}
		t.Version = e.Version
		row := model.TaskToRow(e.UserID, t)
		ok, err := tx.Tasks.Upsert(ctx, &row)
		if err != nil || !ok {
			return nil, err
		}
		return changeEvent(e, "tasks", ChangeUpdate, t.Category, t)

	case model.OutboxTaskDelete:
		if err := tx.Tasks.Delete(ctx, e.UserID, e.EntityID, e.Version); err != nil {
			return nil, err
		}
		return changeEvent(e, "tasks", ChangeDelete, "", nil)

	case model.OutboxTaskBatchDone:
		var p BatchPayload
		if err := decodePayload(e, &p); err != nil {
			return nil, err
		}
		if _, err := tx.Tasks.CompleteBatch(ctx, e.UserID, p.IDs, e.Version); err != nil {
			return nil, err
		}
		return changeEvent(e, "tasks", ChangeCompleteBatch, "", p)

	case model.OutboxProjectUpsert:
		var p game.Project
		if err := decodePayload(e, &p); err != nil {
			return nil, err
		}
		p.Version = e.Version
		row := model.ProjectToRow(e.UserID, p)
		ok, err := tx.Projects.Upsert(ctx, &row)
		if err != nil || !ok {
			return nil, err
		}
		return changeEvent(e, "projects", ChangeUpdate, "", p)

	case model.OutboxProjectDelete:
		if err := tx.Projects.Delete(ctx, e.UserID, e.EntityID, e.Version); err != nil {
			return nil, err
		}
		return changeEvent(e, "projects", ChangeDelete, "", nil)

	case model.OutboxSkillUpsert:
		var s game.SkillNode
		if err := decodePayload(e, &s); err != nil {
			return nil, err
		}
		s.Version = e.Version
		row := model.SkillToRow(e.UserID, s)
		ok, err := tx.Skills.Upsert(ctx, &row)
		if err != nil || !ok {
			return nil, err
		}
		return changeEvent(e, "skill_levels", ChangeUpdate, string(game.Skills), s)

	case model.OutboxSkillDelete:
		if err := tx.Skills.Delete(ctx, e.UserID, e.EntityID, e.Version); err != nil {
			return nil, err
		}
		return changeEvent(e, "skill_levels", ChangeDelete, string(game.Skills), nil)

	case model.OutboxBusinessUpsert:
		var b game.BusinessVenture
		if err := decodePayload(e, &b); err != nil {
			return nil, err
		}
		b.Version = e.Version
		row := model.BusinessToRow(e.UserID, b)
		ok, err := tx.Business.Upsert(ctx, &row)
		if err != nil || !ok {
			return nil, err
		}
		return changeEvent(e, "business_fields", ChangeUpdate, string(game.Business), b)

	case model.OutboxBusinessDelete:
		if err := tx.Business.Delete(ctx, e.UserID, e.EntityID, e.Version); err != nil {
			return nil, err
		}
		return changeEvent(e, "business_fields", ChangeDelete, string(game.Business), nil)

	case model.OutboxProfileUpsert:
		var u game.UserProfile
		if err := decodePayload(e, &u); err != nil {
			return nil, err
		}
		u.ID = e.UserID
		u.Version = e.Version
		row := model.ProfileToRow(u)
		ok, err := tx.Profiles.Upsert(ctx, &row)
		if err != nil || !ok {
			return nil, err
		}
		return changeEvent(e, "profiles", ChangeUpdate, "", u)

	case model.OutboxProgressUpsert:
		var p game.Progress
		if err := decodePayload(e, &p); err != nil {
			return nil, err
		}
		row := model.GamificationFromProgress(e.UserID, p, e.Version, e.CreatedAt)
		ok, err := tx.Gamification.Upsert(ctx, &row)
		if err != nil || !ok {
			return nil, err
		}
		return changeEvent(e, "gamification", ChangeUpdate, "", row)

	case model.OutboxXPGrant:
		var p XPGrantPayload
		if err := decodePayload(e, &p); err != nil {
			return nil, err
		}
		if _, err := tx.Gamification.AddXP(ctx, e.UserID, p.Amount, d.levelCost, e.Version); err != nil {
			return nil, err
		}
		row, err := tx.Gamification.FindByUserID(ctx, e.UserID)
		if err != nil {
			return nil, err
		}
		ev, err := changeEvent(e, "gamification", ChangeUpdate, "", row)
		if ev != nil {
			ev.Version = row.Version
		}
		return ev, err
	}

	return nil, permanentError{fmt.Errorf("unknown outbox kind %q", e.Kind)}
}
