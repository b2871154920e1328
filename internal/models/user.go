package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsStaff      bool      `json:"is_staff"`
	IsSuperuser  bool      `json:"is_superuser"`
	DateJoined   time.Time `json:"date_joined"`
}

// IsPrivileged is the single admin capability check. Staff and superusers
// may read across users but may not issue keys for themselves.
func (u *User) IsPrivileged() bool {
	return u != nil && (u.IsStaff || u.IsSuperuser)
}
