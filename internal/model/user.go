package model

import (
	"strings"
	"time"
)

type AuthProvider string

const (
	ProviderEmail     AuthProvider = "email"
	ProviderMagicLink AuthProvider = "magic_link"
	ProviderGoogle    AuthProvider = "google"
	ProviderGitHub    AuthProvider = "github"
)

// swagger:model User
type User struct {
	UUIDBase
	Email     string       `gorm:"size:191;uniqueIndex;not null" json:"email"`
	Password  string       `gorm:"size:100" json:"-"`
	Provider  AuthProvider `gorm:"size:20;default:'email'" json:"provider"`
	LastLogin *time.Time   `json:"last_login,omitempty"`
}

func (User) TableName() string {
	return "users"
}

// EmailName 邮箱 @ 前的部分，没有邮箱时返回空
func (u *User) EmailName() string {
	if u == nil || u.Email == "" {
		return ""
	}
	name, _, _ := strings.Cut(u.Email, "@")
	return name
}
