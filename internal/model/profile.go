package model

import (
	"time"

	"gorm.io/datatypes"
)

// swagger:model Profile
type Profile struct {
	ID        string                             `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name      string                             `gorm:"size:100" json:"name"`
	Title     string                             `gorm:"size:100" json:"title"`
	Height    float64                            `json:"height"`
	Weight    float64                            `json:"weight"`
	Age       int                                `json:"age"`
	Gender    string                             `gorm:"size:20" json:"gender"`
	Bio       string                             `gorm:"type:text" json:"bio"`
	Goals     datatypes.JSONSlice[string]        `json:"goals"`
	AvatarURL string                             `gorm:"size:500" json:"avatar_url"`
	Stats     datatypes.JSONType[map[string]int] `json:"stats"`
	IsPremium bool                               `gorm:"default:false" json:"is_premium"`
	Version   int64                              `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time                          `json:"created_at"`
	UpdatedAt time.Time                          `json:"updated_at"`
}

func (Profile) TableName() string {
	return "profiles"
}

func (p *Profile) GetVersion() int64 {
	return p.Version
}

// Gamification 用户经验快照。ProgressToNext 存放的是累计经验
type Gamification struct {
	UserID         string     `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	Level          int        `gorm:"default:1" json:"level"`
	Rank           string     `gorm:"size:50" json:"rank"`
	StreakDays     int        `json:"streak_days"`
	ProgressToNext int        `json:"progress_to_next"`
	LastActivity   *time.Time `json:"last_activity,omitempty"`
	Version        int64      `gorm:"not null;default:0" json:"version"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (Gamification) TableName() string {
	return "gamification"
}

func (g *Gamification) GetVersion() int64 {
	return g.Version
}
