package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/carepath/internal/models"
)

// RegistrationPolicy holds the time windows and limits of the onboarding flow.
type RegistrationPolicy struct {
	CodeTTL                 time.Duration
	CompletionTokenTTL      time.Duration
	DecisionWindow          time.Duration
	ResendCooldown          time.Duration
	MaxVerificationAttempts int
}

// DefaultRegistrationPolicy returns the production defaults.
func DefaultRegistrationPolicy() RegistrationPolicy {
	return RegistrationPolicy{
		CodeTTL:                 10 * time.Minute,
		CompletionTokenTTL:      24 * time.Hour,
		DecisionWindow:          7 * 24 * time.Hour,
		ResendCooldown:          time.Minute,
		MaxVerificationAttempts: 5,
	}
}

// RegistrationInput is the applicant's request for access.
type RegistrationInput struct {
	Email     string
	FirstName string
	LastName  string
	Role      string
}

// Normalize validates the input and returns its canonical form.
func (in RegistrationInput) Normalize() (RegistrationInput, models.Role, error) {
	out := RegistrationInput{
		Email:     models.NormalizeEmail(in.Email),
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
	}

	if out.Email == "" || validate.Var(out.Email, "required,email,max=254") != nil {
		return out, "", models.ErrInvalidEmail
	}
	if out.FirstName == "" || out.LastName == "" || len(out.FirstName) > 100 || len(out.LastName) > 100 {
		return out, "", models.ErrInvalidName
	}

	role, err := models.ParseRole(in.Role)
	if err != nil || !role.SelfRequestable() {
		return out, "", models.ErrInvalidRole
	}
	out.Role = string(role)

	return out, role, nil
}

// The functions below are the registration state machine. Each handles exactly
// one event, switches over every status, and returns a new record without
// mutating its input or touching storage. Callers persist the result with a
// conditional update keyed on the status and version they read.

func unknownStatus(req *models.RegistrationRequest) error {
	return fmt.Errorf("registration %s: %w: %q", req.ID, models.ErrInvalidStatus, req.Status)
}

// NewPendingRequest builds the initial PENDING record for a validated input.
func NewPendingRequest(in RegistrationInput, role models.Role, codeHash string, now time.Time, p RegistrationPolicy) *models.RegistrationRequest {
	codeExpiry := now.Add(p.CodeTTL)
	sentAt := now
	return &models.RegistrationRequest{
		Email:                     in.Email,
		FirstName:                 in.FirstName,
		LastName:                  in.LastName,
		RequestedRole:             role,
		Status:                    models.StatusPending,
		VerificationCodeHash:      codeHash,
		VerificationCodeExpiresAt: &codeExpiry,
		CodeSentAt:                &sentAt,
		DecisionDeadline:          now.Add(p.DecisionWindow),
		RequestedAt:               now,
		UpdatedAt:                 now,
	}
}

// CanResendCode reports whether a fresh verification code may be sent now.
func CanResendCode(req *models.RegistrationRequest, now time.Time, p RegistrationPolicy) bool {
	if req.CodeSentAt == nil {
		return true
	}
	return !now.Before(req.CodeSentAt.Add(p.ResendCooldown))
}

// ReissueCode replaces the outstanding verification code. Any unresolved request
// whose email is still unverified accepts a new code, including one approved
// before the applicant verified. The attempt budget starts over.
func ReissueCode(req *models.RegistrationRequest, codeHash string, now time.Time, p RegistrationPolicy) (*models.RegistrationRequest, error) {
	switch req.Status {
	case models.StatusPending, models.StatusApproved:
		if req.IsEmailVerified() {
			return nil, models.ErrDuplicateRequest
		}
	case models.StatusRejected, models.StatusExpired, models.StatusCompleted:
		return nil, models.NewInvalidStateError(req)
	default:
		return nil, unknownStatus(req)
	}

	next := req.Clone()
	expiry := now.Add(p.CodeTTL)
	sentAt := now
	next.VerificationCodeHash = codeHash
	next.VerificationCodeExpiresAt = &expiry
	next.CodeSentAt = &sentAt
	next.VerificationAttempts = 0
	next.UpdatedAt = now
	return next, nil
}

// CheckVerification decides a code check. codeMatches is the result of comparing
// the submitted code against the stored hash. An already verified request
// accepts its retained code again without further effect.
func CheckVerification(req *models.RegistrationRequest, codeMatches bool, now time.Time, p RegistrationPolicy) error {
	switch req.Status {
	case models.StatusPending, models.StatusApproved:
	case models.StatusRejected, models.StatusExpired, models.StatusCompleted:
		return models.NewInvalidStateError(req)
	default:
		return unknownStatus(req)
	}

	if req.IsEmailVerified() {
		if codeMatches {
			return nil
		}
		return models.ErrInvalidCode
	}

	if req.VerificationAttempts > p.MaxVerificationAttempts {
		return models.ErrTooManyAttempts
	}
	if !codeMatches || req.VerificationCodeHash == "" || req.VerificationCodeExpiresAt == nil {
		return models.ErrInvalidCode
	}
	if now.After(*req.VerificationCodeExpiresAt) {
		return models.ErrInvalidCode
	}
	return nil
}

// Approve moves a PENDING request to APPROVED and arms the completion token.
func Approve(req *models.RegistrationRequest, actorID string, notes *string, tokenHash string, now time.Time, p RegistrationPolicy) (*models.RegistrationRequest, error) {
	switch req.Status {
	case models.StatusPending:
		if DecisionOverdue(req, now) {
			return nil, &models.InvalidStateError{Current: models.StatusExpired}
		}
	case models.StatusApproved, models.StatusRejected, models.StatusExpired, models.StatusCompleted:
		return nil, models.NewInvalidStateError(req)
	default:
		return nil, unknownStatus(req)
	}

	next := req.Clone()
	decidedAt := now
	tokenExpiry := now.Add(p.CompletionTokenTTL)
	next.Status = models.StatusApproved
	next.DecidedAt = &decidedAt
	next.DecidedBy = &actorID
	next.AdminNotes = trimmedOrNil(notes)
	next.CompletionTokenHash = tokenHash
	next.CompletionTokenExpiresAt = &tokenExpiry
	next.UpdatedAt = now
	return next, nil
}

// Reject moves a PENDING request to REJECTED. The reason is mandatory.
func Reject(req *models.RegistrationRequest, actorID, reason string, notes *string, now time.Time) (*models.RegistrationRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, models.ErrMissingReason
	}

	switch req.Status {
	case models.StatusPending:
		if DecisionOverdue(req, now) {
			return nil, &models.InvalidStateError{Current: models.StatusExpired}
		}
	case models.StatusApproved, models.StatusRejected, models.StatusExpired, models.StatusCompleted:
		return nil, models.NewInvalidStateError(req)
	default:
		return nil, unknownStatus(req)
	}

	next := req.Clone()
	decidedAt := now
	next.Status = models.StatusRejected
	next.DecidedAt = &decidedAt
	next.DecidedBy = &actorID
	next.AdminNotes = trimmedOrNil(notes)
	next.RejectionReason = &reason
	next.VerificationCodeHash = ""
	next.VerificationCodeExpiresAt = nil
	next.UpdatedAt = now
	return next, nil
}

// RotateCompletionToken re-arms an APPROVED request with a new token, voiding the old one.
func RotateCompletionToken(req *models.RegistrationRequest, tokenHash string, now time.Time, p RegistrationPolicy) (*models.RegistrationRequest, error) {
	switch req.Status {
	case models.StatusApproved:
	case models.StatusPending, models.StatusRejected, models.StatusExpired, models.StatusCompleted:
		return nil, models.NewInvalidStateError(req)
	default:
		return nil, unknownStatus(req)
	}

	next := req.Clone()
	tokenExpiry := now.Add(p.CompletionTokenTTL)
	next.CompletionTokenHash = tokenHash
	next.CompletionTokenExpiresAt = &tokenExpiry
	next.UpdatedAt = now
	return next, nil
}

// CheckCompletion decides whether a completion attempt may proceed. Status is
// checked first, then email verification, then the token.
func CheckCompletion(req *models.RegistrationRequest, tokenMatches bool, now time.Time) error {
	switch req.Status {
	case models.StatusApproved:
	case models.StatusPending:
		if DecisionOverdue(req, now) {
			return &models.NotApprovedError{Status: models.StatusExpired}
		}
		return &models.NotApprovedError{Status: req.Status}
	case models.StatusRejected, models.StatusExpired, models.StatusCompleted:
		return &models.NotApprovedError{Status: req.Status}
	default:
		return unknownStatus(req)
	}

	if !req.IsEmailVerified() {
		return models.ErrEmailNotVerified
	}
	if !tokenMatches || req.CompletionTokenHash == "" || req.CompletionTokenExpiresAt == nil {
		return models.ErrInvalidOrExpiredToken
	}
	if now.After(*req.CompletionTokenExpiresAt) {
		return models.ErrInvalidOrExpiredToken
	}
	return nil
}

// Complete closes an APPROVED request for the user created from it and clears
// every outstanding secret. Decision fields belong to APPROVED and REJECTED only;
// the approving admin stays on record in the audit log.
func Complete(req *models.RegistrationRequest, userID string, now time.Time) (*models.RegistrationRequest, error) {
	switch req.Status {
	case models.StatusApproved:
	case models.StatusPending, models.StatusRejected, models.StatusExpired, models.StatusCompleted:
		return nil, &models.NotApprovedError{Status: req.Status}
	default:
		return nil, unknownStatus(req)
	}

	next := req.Clone()
	completedAt := now
	next.Status = models.StatusCompleted
	next.CompletedAt = &completedAt
	next.UserID = &userID
	next.DecidedAt = nil
	next.DecidedBy = nil
	next.CompletionTokenHash = ""
	next.CompletionTokenExpiresAt = nil
	next.VerificationCodeHash = ""
	next.VerificationCodeExpiresAt = nil
	next.UpdatedAt = now
	return next, nil
}

// Expire moves an overdue PENDING or APPROVED request to EXPIRED. It returns
// (nil, nil) when the request is not yet due.
func Expire(req *models.RegistrationRequest, now time.Time) (*models.RegistrationRequest, error) {
	switch req.Status {
	case models.StatusPending:
		if !DecisionOverdue(req, now) {
			return nil, nil
		}
	case models.StatusApproved:
		if req.CompletedAt != nil || req.CompletionTokenExpiresAt == nil || !now.After(*req.CompletionTokenExpiresAt) {
			return nil, nil
		}
	case models.StatusRejected, models.StatusExpired, models.StatusCompleted:
		return nil, nil
	default:
		return nil, unknownStatus(req)
	}

	next := req.Clone()
	next.Status = models.StatusExpired
	next.DecidedAt = nil
	next.DecidedBy = nil
	next.VerificationCodeHash = ""
	next.VerificationCodeExpiresAt = nil
	next.CompletionTokenHash = ""
	next.CompletionTokenExpiresAt = nil
	next.UpdatedAt = now
	return next, nil
}

// DecisionOverdue reports whether a PENDING request has outlived its decision window.
func DecisionOverdue(req *models.RegistrationRequest, now time.Time) bool {
	return req.Status == models.StatusPending && now.After(req.DecisionDeadline)
}

// EffectiveStatus is the status a reader should see, accounting for expiry the
// sweep has not yet persisted.
func EffectiveStatus(req *models.RegistrationRequest, now time.Time) models.RegistrationStatus {
	if next, err := Expire(req, now); err == nil && next != nil {
		return next.Status
	}
	return req.Status
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
