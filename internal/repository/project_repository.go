package repository

import (
	"context"
	"nova_progress_backend/internal/model"

	"gorm.io/gorm"
)

type ProjectRepository struct {
	DB *gorm.DB
}

func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{DB: db}
}

func (r *ProjectRepository) ListByUser(ctx context.Context, userID string) ([]model.Project, error) {
	var projects []model.Project
	err := r.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&projects).Error
	return projects, err
}

func (r *ProjectRepository) Upsert(ctx context.Context, p *model.Project) (bool, error) {
	return upsertVersioned(r.DB.WithContext(ctx), p, "id", p.ID, p.UserID, p.Version)
}

func (r *ProjectRepository) Delete(ctx context.Context, userID, id string, version int64) error {
	return r.DB.WithContext(ctx).
		Where("id = ? AND user_id = ? AND version <= ?", id, userID, version).
		Delete(&model.Project{}).Error
}

type SkillRepository struct {
	DB *gorm.DB
}

func NewSkillRepository(db *gorm.DB) *SkillRepository {
	return &SkillRepository{DB: db}
}

func (r *SkillRepository) ListByUser(ctx context.Context, userID string) ([]model.SkillLevel, error) {
	var skills []model.SkillLevel
	err := r.DB.WithContext(ctx).Where("user_id = ?", userID).Order("created_at ASC").Find(&skills).Error
	return skills, err
}

func (r *SkillRepository) Upsert(ctx context.Context, s *model.SkillLevel) (bool, error) {
	return upsertVersioned(r.DB.WithContext(ctx), s, "id", s.ID, s.UserID, s.Version)
}

func (r *SkillRepository) Delete(ctx context.Context, userID, id string, version int64) error {
	return r.DB.WithContext(ctx).
		Where("id = ? AND user_id = ? AND version <= ?", id, userID, version).
		Delete(&model.SkillLevel{}).Error
}

type BusinessRepository struct {
	DB *gorm.DB
}

func NewBusinessRepository(db *gorm.DB) *BusinessRepository {
	return &BusinessRepository{DB: db}
}

func (r *BusinessRepository) ListByUser(ctx context.Context, userID string) ([]model.BusinessField, error) {
	var fields []model.BusinessField
	err := r.DB.WithContext(ctx).Where("user_id = ?", userID).Order("created_at ASC").Find(&fields).Error
	return fields, err
}

func (r *BusinessRepository) Upsert(ctx context.Context, b *model.BusinessField) (bool, error) {
	return upsertVersioned(r.DB.WithContext(ctx), b, "id", b.ID, b.UserID, b.Version)
}

func (r *BusinessRepository) Delete(ctx context.Context, userID, id string, version int64) error {
	return r.DB.WithContext(ctx).
		Where("id = ? AND user_id = ? AND version <= ?", id, userID, version).
		Delete(&model.BusinessField{}).Error
}
