package repository

import (
	"context"
	"nova_progress_backend/internal/game"
	"nova_progress_backend/internal/model"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProfileRepository struct {
	DB *gorm.DB
}

func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{DB: db}
}

// FindByID 不存在时返回 gorm.ErrRecordNotFound
func (r *ProfileRepository) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	var p model.Profile
	err := r.DB.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProfileRepository) Create(ctx context.Context, p *model.Profile) error {
	return r.DB.WithContext(ctx).Create(p).Error
}

// Upsert 按版本号写入，返回是否生效
func (r *ProfileRepository) Upsert(ctx context.Context, p *model.Profile) (bool, error) {
	return upsertVersioned(r.DB.WithContext(ctx), p, "id", p.ID, "", p.Version)
}

func (r *ProfileRepository) SetPremium(ctx context.Context, id string) error {
	return r.DB.WithContext(ctx).Model(&model.Profile{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_premium": true,
			"version":    gorm.Expr("version + 1"),
		}).Error
}

type GamificationRepository struct {
	DB *gorm.DB
}

func NewGamificationRepository(db *gorm.DB) *GamificationRepository {
	return &GamificationRepository{DB: db}
}

func (r *GamificationRepository) FindByUserID(ctx context.Context, userID string) (*model.Gamification, error) {
	var g model.Gamification
	err := r.DB.WithContext(ctx).Where("user_id = ?", userID).First(&g).Error
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// Create 已存在时忽略
func (r *GamificationRepository) Create(ctx context.Context, g *model.Gamification) error {
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(g).Error
}

func (r *GamificationRepository) Upsert(ctx context.Context, g *model.Gamification) (bool, error) {
	return upsertVersioned(r.DB.WithContext(ctx), g, "user_id", g.UserID, "", g.Version)
}

// AddXP 优先调用数据库函数 add_xp，函数不存在或调用失败时退回到读改写。
// 两条路径都在保存点内执行，失败不会破坏外层事务
func (r *GamificationRepository) AddXP(ctx context.Context, userID string, amount, levelCost int, version int64) (int, error) {
	db := r.DB.WithContext(ctx)

	if db.Dialector.Name() == "postgres" {
		var xp int
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Raw("SELECT add_xp(?, ?)", userID, amount).Scan(&xp).Error; err != nil {
				return err
			}
			return tx.Model(&model.Gamification{}).
				Where("user_id = ? AND version < ?", userID, version).
				Update("version", version).Error
		})
		if err == nil {
			return xp, nil
		}
	}

	var g model.Gamification
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).First(&g).Error; err != nil {
			return err
		}
		g.ProgressToNext = max(0, g.ProgressToNext+amount)
		g.Level = game.LevelForXP(g.ProgressToNext, levelCost)
		g.Rank = game.RankForLevel(g.Level).Rank
		g.Version = max(g.Version+1, version)
		now := time.Now()
		g.LastActivity = &now
		return tx.Save(&g).Error
	})
	return g.ProgressToNext, err
}
