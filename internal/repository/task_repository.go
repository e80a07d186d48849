package repository

import (
	"context"
	"nova_progress_backend/internal/model"
	"time"

	"gorm.io/gorm"
)

type TaskRepository struct {
	DB *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{DB: db}
}

// ListByUser 按创建时间倒序
func (r *TaskRepository) ListByUser(ctx context.Context, userID string) ([]model.Task, error) {
	var tasks []model.Task
	err := r.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&tasks).Error
	return tasks, err
}

func (r *TaskRepository) FindByID(ctx context.Context, id string) (*model.Task, error) {
	var t model.Task
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TaskRepository) Upsert(ctx context.Context, t *model.Task) (bool, error) {
	return upsertVersioned(r.DB.WithContext(ctx), t, "id", t.ID, t.UserID, t.Version)
}

// Delete 只删除属于该用户且版本不高于 version 的任务
func (r *TaskRepository) Delete(ctx context.Context, userID, id string, version int64) error {
	return r.DB.WithContext(ctx).
		Where("id = ? AND user_id = ? AND version <= ?", id, userID, version).
		Delete(&model.Task{}).Error
}

// CompleteBatch 一条 UPDATE ... WHERE id IN (...) 完成多个任务
func (r *TaskRepository) CompleteBatch(ctx context.Context, userID string, ids []string, version int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.DB.WithContext(ctx).Model(&model.Task{}).
		Where("user_id = ? AND id IN ? AND version < ?", userID, ids, version).
		Updates(map[string]interface{}{
			"done":       true,
			"version":    version,
			"updated_at": time.Now(),
		})
	return res.RowsAffected, res.Error
}
