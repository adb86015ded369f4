package models

import (
	"database/sql"
	"time"
)

// Role represents user permission levels.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleImporter Role = "importer"
	RoleViewer   Role = "viewer"
)

// IsValid checks if the role is a valid value.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleImporter, RoleViewer:
		return true
	}
	return false
}

// CanImport returns true if the role may start imports.
func (r Role) CanImport() bool {
	return r == RoleAdmin || r == RoleImporter
}

// CanAdmin returns true if the role has admin permissions.
func (r Role) CanAdmin() bool {
	return r == RoleAdmin
}

// User is an account the target wiki records as author or API caller.
type User struct {
	ID           int64        `json:"id"`
	Username     string       `json:"username"`
	Email        string       `json:"email"`
	PasswordHash string       `json:"-"` // Never expose in JSON
	Role         Role         `json:"role"`
	IsActive     bool         `json:"is_active"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	LastLoginAt  sql.NullTime `json:"last_login_at,omitempty"`
}
