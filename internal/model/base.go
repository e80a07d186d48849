package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// swagger:model
type UUIDBase struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b *UUIDBase) BeforeCreate(tx *gorm.DB) (err error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	return
}

// VersionedBase 属于某个用户、带单调版本号的实体行
type VersionedBase struct {
	UUIDBase
	UserID  string `gorm:"index;type:varchar(64);not null" json:"user_id"`
	Version int64  `gorm:"not null;default:0" json:"version"`
}

func (b *VersionedBase) GetVersion() int64 {
	return b.Version
}

// AllModels AutoMigrate 使用的模型列表
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Profile{},
		&Gamification{},
		&Task{},
		&Project{},
		&SkillLevel{},
		&BusinessField{},
		&FitnessMetric{},
		&UserSnapshot{},
		&JournalEntry{},
		&OutboxEntry{},
	}
}
