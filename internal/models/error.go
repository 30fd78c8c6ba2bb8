package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("resource already exists")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")
	ErrUnavailable  = errors.New("service temporarily unavailable")

	// ErrStaleWrite means a conditional update matched no row because the record
	// changed since it was read.
	ErrStaleWrite = errors.New("record changed concurrently")
)

// Registration workflow errors
var (
	// Validation
	ErrInvalidEmail  = errors.New("invalid email address")
	ErrInvalidName   = errors.New("first and last name are required")
	ErrInvalidRole   = errors.New("role cannot be requested")
	ErrInvalidStatus = errors.New("unknown registration status")
	ErrMissingReason = errors.New("rejection reason is required")
	ErrWeakPassword  = errors.New("invalid password")
	ErrMissingSecret = errors.New("code or token is required")

	// Conflict
	ErrDuplicateRequest = errors.New("an unresolved registration request already exists for this email")
	ErrAccountExists    = errors.New("an account already exists for this email")
	ErrInvalidState     = errors.New("registration request is not in a valid state for this operation")
	ErrNotApproved      = errors.New("registration request has not been approved")
	ErrEmailNotVerified = errors.New("email address not verified")

	// Security
	ErrInvalidCode           = errors.New("invalid or expired verification code")
	ErrTooManyAttempts       = errors.New("too many verification attempts")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired completion token")
)

// NotApprovedError reports why a completion was refused. It matches ErrNotApproved.
type NotApprovedError struct {
	Status RegistrationStatus
}

func (e *NotApprovedError) Error() string {
	switch e.Status {
	case StatusPending:
		return "registration request is still pending approval"
	case StatusRejected:
		return "registration request was rejected"
	case StatusExpired:
		return "registration request has expired"
	case StatusCompleted:
		return "registration has already been completed"
	default:
		return ErrNotApproved.Error()
	}
}

func (e *NotApprovedError) Is(target error) bool {
	return target == ErrNotApproved
}

// InvalidStateError carries the current state of a request for administrators
// explaining a lost race. It matches ErrInvalidState.
type InvalidStateError struct {
	Current   RegistrationStatus
	DecidedBy *string
	DecidedAt *time.Time
}

func (e *InvalidStateError) Error() string {
	if e.DecidedBy != nil && e.DecidedAt != nil {
		return fmt.Sprintf("registration request already %s by %s at %s",
			lowerStatus(e.Current), *e.DecidedBy, e.DecidedAt.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("registration request is %s", lowerStatus(e.Current))
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// NewInvalidStateError builds an InvalidStateError from the stored request.
func NewInvalidStateError(req *RegistrationRequest) *InvalidStateError {
	return &InvalidStateError{
		Current:   req.Status,
		DecidedBy: cloneString(req.DecidedBy),
		DecidedAt: cloneTime(req.DecidedAt),
	}
}

func lowerStatus(s RegistrationStatus) string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusApproved:
		return "approved"
	case StatusRejected:
		return "rejected"
	case StatusExpired:
		return "expired"
	case StatusCompleted:
		return "completed"
	}
	return string(s)
}

// ErrorKind is the coarse taxonomy callers use to decide retry and rendering.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindConflict    ErrorKind = "conflict"
	KindSecurity    ErrorKind = "security"
	KindNotFound    ErrorKind = "not_found"
	KindUnavailable ErrorKind = "unavailable"
	KindInternal    ErrorKind = "internal"
)

var errorKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrInvalidEmail, KindValidation},
	{ErrInvalidName, KindValidation},
	{ErrInvalidRole, KindValidation},
	{ErrInvalidStatus, KindValidation},
	{ErrMissingReason, KindValidation},
	{ErrWeakPassword, KindValidation},
	{ErrMissingSecret, KindValidation},
	{ErrBadRequest, KindValidation},

	{ErrDuplicateRequest, KindConflict},
	{ErrAccountExists, KindConflict},
	{ErrInvalidState, KindConflict},
	{ErrNotApproved, KindConflict},
	{ErrEmailNotVerified, KindConflict},
	{ErrConflict, KindConflict},
	{ErrStaleWrite, KindConflict},

	{ErrInvalidCode, KindSecurity},
	{ErrTooManyAttempts, KindSecurity},
	{ErrInvalidOrExpiredToken, KindSecurity},
	{ErrForbidden, KindSecurity},
	{ErrUnauthorized, KindSecurity},

	{ErrNotFound, KindNotFound},
	{ErrUnavailable, KindUnavailable},
}

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
