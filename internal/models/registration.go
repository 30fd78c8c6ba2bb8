package models

import (
	"strings"
	"time"
)

// RegistrationStatus is the lifecycle state of a registration request.
type RegistrationStatus string

const (
	StatusPending   RegistrationStatus = "PENDING"
	StatusApproved  RegistrationStatus = "APPROVED"
	StatusRejected  RegistrationStatus = "REJECTED"
	StatusExpired   RegistrationStatus = "EXPIRED"
	StatusCompleted RegistrationStatus = "COMPLETED"
)

// Valid reports whether s is one of the known statuses.
func (s RegistrationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusExpired, StatusCompleted:
		return true
	}
	return false
}

// Unresolved reports whether the request still blocks a new request for the same email.
func (s RegistrationStatus) Unresolved() bool {
	return s == StatusPending || s == StatusApproved
}

// Terminal reports whether no further transition is possible.
func (s RegistrationStatus) Terminal() bool {
	return s == StatusRejected || s == StatusExpired || s == StatusCompleted
}

// ParseRegistrationStatus parses a case-insensitive status string.
func ParseRegistrationStatus(raw string) (RegistrationStatus, error) {
	s := RegistrationStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", ErrInvalidStatus
	}
	return s, nil
}

// RegistrationRequest tracks one applicant's onboarding attempt. Secret hashes never
// leave the service layer.
type RegistrationRequest struct {
	ID            string             `json:"id"`
	Email         string             `json:"email"`
	FirstName     string             `json:"first_name"`
	LastName      string             `json:"last_name"`
	RequestedRole Role               `json:"requested_role"`
	Status        RegistrationStatus `json:"status"`

	EmailVerifiedAt           *time.Time `json:"email_verified_at,omitempty"`
	VerificationCodeHash      string     `json:"-"`
	VerificationCodeExpiresAt *time.Time `json:"-"`
	VerificationAttempts      int        `json:"verification_attempts"`
	CodeSentAt                *time.Time `json:"-"`

	CompletionTokenHash      string     `json:"-"`
	CompletionTokenExpiresAt *time.Time `json:"completion_token_expires_at,omitempty"`

	DecisionDeadline time.Time  `json:"decision_deadline"`
	RequestedAt      time.Time  `json:"requested_at"`
	DecidedAt        *time.Time `json:"decided_at,omitempty"`
	DecidedBy        *string    `json:"decided_by,omitempty"`
	AdminNotes       *string    `json:"admin_notes,omitempty"`
	RejectionReason  *string    `json:"rejection_reason,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	UserID           *string    `json:"user_id,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`

	// Version increments on every write; conditional updates compare against it.
	Version int `json:"-"`
}

// IsEmailVerified reports whether the applicant has proven control of the email.
func (r *RegistrationRequest) IsEmailVerified() bool {
	return r.EmailVerifiedAt != nil
}

// Clone returns a deep copy so transition functions never mutate their input.
func (r *RegistrationRequest) Clone() *RegistrationRequest {
	c := *r
	c.EmailVerifiedAt = cloneTime(r.EmailVerifiedAt)
	c.VerificationCodeExpiresAt = cloneTime(r.VerificationCodeExpiresAt)
	c.CodeSentAt = cloneTime(r.CodeSentAt)
	c.CompletionTokenExpiresAt = cloneTime(r.CompletionTokenExpiresAt)
	c.DecidedAt = cloneTime(r.DecidedAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	c.DecidedBy = cloneString(r.DecidedBy)
	c.AdminNotes = cloneString(r.AdminNotes)
	c.RejectionReason = cloneString(r.RejectionReason)
	c.UserID = cloneString(r.UserID)
	return &c
}

// ExpiredRegistration identifies a request the sweep moved to EXPIRED.
type ExpiredRegistration struct {
	ID             string
	Email          string
	PreviousStatus RegistrationStatus
}

// RegistrationFilter shapes the admin listing query.
type RegistrationFilter struct {
	Status *RegistrationStatus
	Page   int
	Limit  int
}

// Offset returns the row offset for the filter's page.
func (f RegistrationFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// NewPagination computes total pages for the given page size.
func NewPagination(page, limit int, total int64) Pagination {
	pages := 0
	if limit > 0 {
		pages = int((total + int64(limit) - 1) / int64(limit))
	}
	return Pagination{Page: page, Limit: limit, Total: total, TotalPages: pages}
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
