package models

import (
	"fmt"
	"time"
)

type UserStatus string

const (
	UserStatusActive UserStatus = "Active"
	UserStatusBanned UserStatus = "Banned"
)

// Toggled returns the opposite status. Anything that is not Banned is treated as Active.
func (s UserStatus) Toggled() UserStatus {
	if s == UserStatusBanned {
		return UserStatusActive
	}
	return UserStatusBanned
}

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

const (
	DefaultAvatarURL = "/default-avatar.png"
	BadgeNewUser     = "New User"
)

type User struct {
	ID           string     `json:"id" gorm:"type:uuid;primaryKey"`
	Email        string     `json:"email" gorm:"uniqueIndex"`
	PasswordHash string     `json:"password_hash"`
	Username     string     `json:"username"`
	AvatarURL    string     `json:"avatar_url"`
	Status       UserStatus `json:"status"`
	Role         Role       `json:"role"`
	Badges       []string   `json:"badges" gorm:"type:jsonb;serializer:json"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) String() string {
	return fmt.Sprintf("User(%s, %q, %s)", u.ID, u.Email, u.Status)
}

// Session builds the client-held identity for the user row.
func (u *User) Session() Session {
	return Session{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		AvatarURL: u.AvatarURL,
		Status:    u.Status,
		Badges:    u.Badges,
		Role:      u.Role,
	}
}
