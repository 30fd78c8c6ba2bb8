package models

import (
	"strings"
	"time"
)

// Role is one of the closed set of account roles.
type Role string

const (
	RoleAdmin       Role = "ADMIN"
	RoleIntakeStaff Role = "INTAKE_STAFF"
	RoleClinician   Role = "CLINICIAN"
	RoleQAReviewer  Role = "QA_REVIEWER"
	RoleBiller      Role = "BILLER"
)

// SelfRequestableRoles lists the roles an applicant may ask for. ADMIN is never self-requestable.
var SelfRequestableRoles = []Role{RoleIntakeStaff, RoleClinician, RoleQAReviewer, RoleBiller}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r.SelfRequestable()
}

// SelfRequestable reports whether an applicant may request r.
func (r Role) SelfRequestable() bool {
	for _, allowed := range SelfRequestableRoles {
		if r == allowed {
			return true
		}
	}
	return false
}

// ParseRole parses a case-insensitive role string.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(raw)))
	if !r.Valid() {
		return "", ErrInvalidRole
	}
	return r, nil
}

type User struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         Role
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsAdmin reports whether the user is an active administrator.
func (u *User) IsAdmin() bool {
	return u.IsActive && u.Role == RoleAdmin
}

// Profile returns the public view of the user.
func (u *User) Profile() UserProfile {
	return UserProfile{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
	}
}

// UserProfile is the public user representation (no secrets).
type UserProfile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Role      Role      `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
