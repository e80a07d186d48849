package model

import (
	"time"

	"gorm.io/datatypes"
)

type OutboxKind string

const (
	OutboxTaskUpsert     OutboxKind = "task.upsert"
	OutboxTaskDelete     OutboxKind = "task.delete"
	OutboxTaskBatchDone  OutboxKind = "task.complete_batch"
	OutboxProjectUpsert  OutboxKind = "project.upsert"
	OutboxProjectDelete  OutboxKind = "project.delete"
	OutboxSkillUpsert    OutboxKind = "skill.upsert"
	OutboxSkillDelete    OutboxKind = "skill.delete"
	OutboxBusinessUpsert OutboxKind = "business.upsert"
	OutboxBusinessDelete OutboxKind = "business.delete"
	OutboxProfileUpsert  OutboxKind = "profile.upsert"
	OutboxProgressUpsert OutboxKind = "gamification.upsert"
	OutboxXPGrant        OutboxKind = "xp.grant"
)

// OutboxEntry 待同步的变更。ID 自增，决定同一用户内的执行顺序
type OutboxEntry struct {
	ID            uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        string         `gorm:"index;type:varchar(64);not null" json:"user_id"`
	Kind          OutboxKind     `gorm:"size:40;not null" json:"kind"`
	EntityID      string         `gorm:"size:64" json:"entity_id"`
	Payload       datatypes.JSON `json:"payload"`
	Version       int64          `json:"version"`
	Attempts      int            `gorm:"default:0" json:"attempts"`
	NextAttemptAt time.Time      `gorm:"index" json:"next_attempt_at"`
	LastError     string         `gorm:"type:text" json:"last_error"`
	Parked        bool           `gorm:"default:false;index" json:"parked"`
	CreatedAt     time.Time      `json:"created_at"`
}

func (OutboxEntry) TableName() string {
	return "outbox_entries"
}
