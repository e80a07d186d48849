package model

import (
	"nova_progress_backend/internal/game"

	"gorm.io/datatypes"
)

// swagger:model Project
type Project struct {
	VersionedBase
	Title       string                              `gorm:"size:255;not null" json:"title"`
	Description string                              `gorm:"type:text" json:"description"`
	Status      string                              `gorm:"size:20;default:'Active'" json:"status"`
	XPBonus     int                                 `json:"xp_bonus"`
	Tags        datatypes.JSONSlice[string]         `json:"tags"`
	Deadline    string                              `gorm:"size:32" json:"deadline"`
	Milestones  datatypes.JSONSlice[game.Milestone] `json:"milestones"`
}

func (Project) TableName() string {
	return "projects"
}

// SkillLevel skill_levels 表
type SkillLevel struct {
	VersionedBase
	Domain     string                                   `gorm:"size:20;index" json:"domain"`
	Name       string                                   `gorm:"size:100" json:"name"`
	Level      int                                      `json:"level"`
	Mastery    int                                      `json:"mastery"`
	Rank       string                                   `gorm:"size:8" json:"rank"`
	Techniques datatypes.JSONSlice[game.SkillTechnique] `json:"techniques"`
}

func (SkillLevel) TableName() string {
	return "skill_levels"
}

// BusinessField business_fields 表
type BusinessField struct {
	VersionedBase
	Name        string                               `gorm:"size:100" json:"name"`
	Type        string                               `gorm:"size:20" json:"type"`
	Status      string                               `gorm:"size:20" json:"status"`
	Revenue     float64                              `json:"revenue"`
	Efficiency  int                                  `json:"efficiency"`
	SubVentures datatypes.JSONSlice[game.SubVenture] `json:"sub_ventures"`
}

func (BusinessField) TableName() string {
	return "business_fields"
}
