package staff

import (
	"time"

	"github.com/google/uuid"
)

// User is a clinic employee account.
type User struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Username     string     `db:"username" json:"username"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         string     `db:"role" json:"role"`
	IsSuperuser  bool       `db:"is_superuser" json:"is_superuser"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// NewUser carries the fields for account creation.
type NewUser struct {
	Username    string `json:"username" validate:"required,max=150"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	FullName    string `json:"full_name" validate:"max=255"`
	Role        string `json:"role" validate:"required,oneof=admin doctor operator"`
	IsSuperuser bool   `json:"is_superuser"`
}
