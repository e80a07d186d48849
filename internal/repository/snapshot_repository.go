package repository

import (
	"context"
	"encoding/json"
	"nova_progress_backend/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type FitnessRepository struct {
	DB *gorm.DB
}

func NewFitnessRepository(db *gorm.DB) *FitnessRepository {
	return &FitnessRepository{DB: db}
}

// Latest 最新一条测量记录，没有记录时返回 nil, nil
func (r *FitnessRepository) Latest(ctx context.Context, userID string) (*model.FitnessMetric, error) {
	var metrics []model.FitnessMetric
	err := r.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("date DESC").
		Limit(1).
		Find(&metrics).Error
	if err != nil || len(metrics) == 0 {
		return nil, err
	}
	return &metrics[0], nil
}

func (r *FitnessRepository) Create(ctx context.Context, m *model.FitnessMetric) error {
	return r.DB.WithContext(ctx).Create(m).Error
}

type SnapshotRepository struct {
	DB *gorm.DB
}

func NewSnapshotRepository(db *gorm.DB) *SnapshotRepository {
	return &SnapshotRepository{DB: db}
}

func (r *SnapshotRepository) ListByUser(ctx context.Context, userID string) ([]model.UserSnapshot, error) {
	var snaps []model.UserSnapshot
	err := r.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&snaps).Error
	return snaps, err
}

// Save 每个用户每个领域只保留一条快照
func (r *SnapshotRepository) Save(ctx context.Context, userID, category string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.UserSnapshot
		err := tx.Where("user_id = ? AND category = ?", userID, category).First(&existing).Error
		if IsNotFound(err) {
			return tx.Create(&model.UserSnapshot{UserID: userID, Category: category, Data: datatypes.JSON(raw)}).Error
		}
		if err != nil {
			return err
		}
		existing.Data = datatypes.JSON(raw)
		return tx.Save(&existing).Error
	})
}

type JournalRepository struct {
	DB *gorm.DB
}

func NewJournalRepository(db *gorm.DB) *JournalRepository {
	return &JournalRepository{DB: db}
}

func (r *JournalRepository) Create(ctx context.Context, e *model.JournalEntry) error {
	return r.DB.WithContext(ctx).Create(e).Error
}

func (r *JournalRepository) ListByUser(ctx context.Context, userID string, limit int) ([]model.JournalEntry, error) {
	var entries []model.JournalEntry
	err := r.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
