package model

import (
	"nova_progress_backend/internal/game"
	"time"

	"gorm.io/datatypes"
)

// FitnessMetric 体能测量记录，读取时取最新一条
type FitnessMetric struct {
	UUIDBase
	UserID     string                                   `gorm:"index;type:varchar(64);not null" json:"user_id"`
	Date       time.Time                                `gorm:"index" json:"date"`
	Strength   datatypes.JSONType[game.StrengthStats]   `json:"strength"`
	Muscle     datatypes.JSONType[game.MuscleStats]     `json:"muscle"`
	Aesthetics datatypes.JSONType[game.AestheticsStats] `json:"aesthetics"`
	BodyFat    float64                                  `json:"body_fat"`
}

func (FitnessMetric) TableName() string {
	return "fitness_metrics"
}

// UserSnapshot 按领域保存的杂项快照 (Finance / Wellness)
type UserSnapshot struct {
	UUIDBase
	UserID   string         `gorm:"index;type:varchar(64);not null" json:"user_id"`
	Category string         `gorm:"size:32;index" json:"category"`
	Data     datatypes.JSON `json:"data"`
}

func (UserSnapshot) TableName() string {
	return "user_snapshots"
}

// JournalEntry 心智日志与 AI 分析结果
type JournalEntry struct {
	UUIDBase
	UserID     string `gorm:"index;type:varchar(64);not null" json:"user_id"`
	Content    string `gorm:"type:text" json:"content"`
	AIAnalysis string `gorm:"type:text" json:"ai_analysis"`
}

func (JournalEntry) TableName() string {
	return "journal_entries"
}
