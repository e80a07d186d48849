package repository

import (
	"context"
	"nova_progress_backend/internal/model"
	"time"

	"gorm.io/gorm"
)

type OutboxRepository struct {
	DB *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{DB: db}
}

func (r *OutboxRepository) Enqueue(ctx context.Context, entries ...*model.OutboxEntry) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now()
	for _, e := range entries {
		if e.NextAttemptAt.IsZero() {
			e.NextAttemptAt = now
		}
	}
	return r.DB.WithContext(ctx).Create(entries).Error
}

// Pending 未搁置的条目，按 ID 升序。
// 队首仍在退避中的用户整体跳过，不占用批次名额
func (r *OutboxRepository) Pending(ctx context.Context, now time.Time, limit int) ([]model.OutboxEntry, error) {
	db := r.DB.WithContext(ctx)
	waiting := db.Model(&model.OutboxEntry{}).
		Select("user_id").
		Where("parked = ? AND next_attempt_at > ?", false, now)

	var entries []model.OutboxEntry
	err := db.
		Where("parked = ?", false).
		Where("user_id NOT IN (?)", waiting).
		Order("id ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *OutboxRepository) PendingForUser(ctx context.Context, userID string) ([]model.OutboxEntry, error) {
	var entries []model.OutboxEntry
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND parked = ?", userID, false).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

func (r *OutboxRepository) Delete(ctx context.Context, id uint64) error {
	return r.DB.WithContext(ctx).Delete(&model.OutboxEntry{}, id).Error
}

// MarkFailed 记录失败并安排下一次重试
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uint64, attempts int, next time.Time, lastErr string, parked bool) error {
	return r.DB.WithContext(ctx).Model(&model.OutboxEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":        attempts,
			"next_attempt_at": next,
			"last_error":      lastErr,
			"parked":          parked,
		}).Error
}

func (r *OutboxRepository) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&model.OutboxEntry{}).Where("parked = ?", false).Count(&n).Error
	return n, err
}
