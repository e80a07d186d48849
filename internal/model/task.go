package model

import (
	"nova_progress_backend/internal/game"

	"gorm.io/datatypes"
)

// TaskDetails tasks.details 列
type TaskDetails struct {
	Subtasks []game.Subtask `json:"subtasks"`
	DueDate  string         `json:"dueDate,omitempty"`
}

// swagger:model Task
type Task struct {
	VersionedBase
	ProjectID   string                          `gorm:"size:64;index" json:"project_id"`
	Title       string                          `gorm:"size:255;not null" json:"title"`
	Category    string                          `gorm:"size:64;index" json:"category"`
	Complexity  string                          `gorm:"size:8" json:"complexity"`
	XP          int                             `json:"xp"`
	Done        bool                            `gorm:"default:false" json:"done"`
	Note        string                          `gorm:"type:text" json:"note"`
	Details     datatypes.JSONType[TaskDetails] `json:"details"`
	Tags        datatypes.JSONSlice[string]     `json:"tags"`
	X           *float64                        `json:"x"`
	Y           *float64                        `json:"y"`
	Connections datatypes.JSONSlice[string]     `json:"connections"`
}

func (Task) TableName() string {
	return "tasks"
}
