package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/carepath/internal/models"
	pkgauth "github.com/BradenHooton/carepath/pkg/auth"
	pkglogger "github.com/BradenHooton/carepath/pkg/logger"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// RegistrationStore persists registration requests. Every mutating call is a
// conditional single-row update; a lost race surfaces as models.ErrStaleWrite.
type RegistrationStore interface {
	Create(ctx context.Context, req *models.RegistrationRequest) (*models.RegistrationRequest, error)
	GetByID(ctx context.Context, id string) (*models.RegistrationRequest, error)
	GetUnresolvedByEmail(ctx context.Context, email string) (*models.RegistrationRequest, error)
	GetLatestByEmail(ctx context.Context, email string) (*models.RegistrationRequest, error)
	List(ctx context.Context, filter models.RegistrationFilter) ([]*models.RegistrationRequest, int64, error)
	Update(ctx context.Context, next *models.RegistrationRequest, expected models.RegistrationStatus) (*models.RegistrationRequest, error)
	ReserveVerificationAttempt(ctx context.Context, id string, max int, now time.Time) (*models.RegistrationRequest, error)
	MarkEmailVerified(ctx context.Context, id string, at time.Time) (*models.RegistrationRequest, error)
}

// UserStore is the identity collaborator.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
}

// Transactor runs fn as one atomic unit of work.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// SecretHasher hashes one-time secrets and passwords with a salted,
// constant-time-compared scheme.
type SecretHasher interface {
	Hash(plain string) (string, error)
	Matches(hash, plain string) bool
}

// RequestReceipt acknowledges a registration request.
type RequestReceipt struct {
	RequestID string
	CodeSent  bool
}

// CompletionInput is what the applicant submits to finish registration. It has
// no role field: the role always comes from the approved request.
type CompletionInput struct {
	Email    string
	Password string
	Token    string
}

// CompletionResult is returned once an account has been materialized.
type CompletionResult struct {
	Session *models.SessionCredential
	User    models.UserProfile
}

// RegistrationService runs the applicant side of the onboarding workflow.
type RegistrationService struct {
	store        RegistrationStore
	users        UserStore
	hasher       SecretHasher
	notifier     RegistrationNotifier
	materializer *AccountMaterializer
	audit        *pkglogger.AuditLogger
	policy       RegistrationPolicy
	storeTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

func NewRegistrationService(
	store RegistrationStore,
	users UserStore,
	hasher SecretHasher,
	notifier RegistrationNotifier,
	materializer *AccountMaterializer,
	audit *pkglogger.AuditLogger,
	policy RegistrationPolicy,
	logger *slog.Logger,
) *RegistrationService {
	return &RegistrationService{
		store:        store,
		users:        users,
		hasher:       hasher,
		notifier:     notifier,
		materializer: materializer,
		audit:        audit,
		policy:       policy,
		storeTimeout: 5 * time.Second,
		now:          utcNow,
		logger:       logger,
	}
}

// SetClock overrides the time source.
func (s *RegistrationService) SetClock(now func() time.Time) {
	s.now = now
}

// SetStoreTimeout bounds every store round trip made by one operation.
func (s *RegistrationService) SetStoreTimeout(d time.Duration) {
	if d > 0 {
		s.storeTimeout = d
	}
}

// RequestRegistration opens a PENDING request and emails a verification code.
// Repeating the call while the open request is still unverified re-sends a
// fresh code instead of creating a second row. That holds for an APPROVED
// request too, so an applicant approved before verifying can still finish.
func (s *RegistrationService) RequestRegistration(ctx context.Context, in RegistrationInput) (*RequestReceipt, error) {
	in, role, err := in.Normalize()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if _, err := s.users.GetByEmail(ctx, in.Email); err == nil {
		s.audit.LogRegistrationEvent(ctx, pkglogger.AuditEvent{
			EventType: pkglogger.EventRegistrationRequested, Email: in.Email, FailureReason: "account_exists",
		})
		return nil, models.ErrAccountExists
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	existing, err := s.store.GetUnresolvedByEmail(ctx, in.Email)
	switch {
	case err == nil:
		now := s.now()
		expired, expErr := s.expireIfDue(ctx, existing, now)
		if expErr != nil {
			return nil, expErr
		}
		if !expired {
			return s.resendCode(ctx, existing, now)
		}
	case errors.Is(err, models.ErrNotFound):
	default:
		return nil, fmt.Errorf("lookup registration: %w", err)
	}

	code, codeHash, err := s.newCode("")
	if err != nil {
		return nil, err
	}

	now := s.now()
	created, err := s.store.Create(ctx, NewPendingRequest(in, role, codeHash, now, s.policy))
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrDuplicateRequest
		}
		return nil, fmt.Errorf("create registration: %w", err)
	}

	s.audit.LogRegistrationEvent(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventRegistrationRequested, RequestID: created.ID, Email: created.Email, Success: true,
		Metadata: map[string]string{"requested_role": string(created.RequestedRole)},
	})

	s.notifier.VerificationCode(ctx, created, code)
	return &RequestReceipt{RequestID: created.ID, CodeSent: true}, nil
}

func (s *RegistrationService) resendCode(ctx context.Context, existing *models.RegistrationRequest, now time.Time) (*RequestReceipt, error) {
	if !existing.Status.Unresolved() || existing.IsEmailVerified() {
		return nil, models.ErrDuplicateRequest
	}
	if !CanResendCode(existing, now, s.policy) {
		s.logger.Debug("verification code resend throttled", slog.String("request_id", existing.ID))
		return &RequestReceipt{RequestID: existing.ID}, nil
	}

	code, codeHash, err := s.newCode(existing.VerificationCodeHash)
	if err != nil {
		return nil, err
	}

	next, err := ReissueCode(existing, codeHash, now, s.policy)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.Update(ctx, next, existing.Status)
	if err != nil {
		if errors.Is(err, models.ErrStaleWrite) {
			return nil, models.ErrDuplicateRequest
		}
		return nil, fmt.Errorf("reissue code: %w", err)
	}

	s.audit.LogRegistrationEvent(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventCodeReissued, RequestID: updated.ID, Email: updated.Email, Success: true,
	})

	s.notifier.VerificationCode(ctx, updated, code)
	return &RequestReceipt{RequestID: updated.ID, CodeSent: true}, nil
}

// newCode returns a fresh code and its hash. The code never equals the one
// behind previousHash so a re-sent code always invalidates the old one.
func (s *RegistrationService) newCode(previousHash string) (string, string, error) {
	for i := 0; i < 5; i++ {
		code, err := pkgauth.GenerateVerificationCode()
		if err != nil {
			return "", "", err
		}
		if previousHash != "" && s.hasher.Matches(previousHash, code) {
			continue
		}
		hash, err := s.hasher.Hash(code)
		if err != nil {
			return "", "", fmt.Errorf("hash verification code: %w", err)
		}
		return code, hash, nil
	}
	return "", "", errors.New("could not generate a distinct verification code")
}

// VerifyEmail checks a verification code. Each check of an unverified request
// consumes one attempt before the code is compared, so parallel guesses cannot
// exceed the attempt ceiling.
func (s *RegistrationService) VerifyEmail(ctx context.Context, email, code string) error {
	email = models.NormalizeEmail(email)
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return models.ErrMissingSecret
	}
	if validate.Var(code, "numeric,len=6") != nil {
		return models.ErrInvalidCode
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	req, err := s.store.GetUnresolvedByEmail(ctx, email)
	if err != nil {
		return err
	}

	now := s.now()
	if expired, err := s.expireIfDue(ctx, req, now); err != nil {
		return err
	} else if expired {
		return models.ErrNotFound
	}

	if !req.IsEmailVerified() {
		reserved, err := s.store.ReserveVerificationAttempt(ctx, req.ID, s.policy.MaxVerificationAttempts, now)
		switch {
		case err == nil:
			req = reserved
		case errors.Is(err, models.ErrStaleWrite):
			current, getErr := s.store.GetByID(ctx, req.ID)
			if getErr != nil {
				return getErr
			}
			if !current.IsEmailVerified() || !current.Status.Unresolved() {
				s.auditVerifyFailure(ctx, current, "too_many_attempts")
				return models.ErrTooManyAttempts
			}
			req = current
		default:
			return fmt.Errorf("reserve verification attempt: %w", err)
		}
	}

	alreadyVerified := req.IsEmailVerified()
	if err := CheckVerification(req, s.hasher.Matches(req.VerificationCodeHash, code), now, s.policy); err != nil {
		s.auditVerifyFailure(ctx, req, err.Error())
		return err
	}
	if alreadyVerified {
		return nil
	}

	if _, err := s.store.MarkEmailVerified(ctx, req.ID, now); err != nil {
		if errors.Is(err, models.ErrStaleWrite) {
			return models.ErrNotFound
		}
		return fmt.Errorf("mark email verified: %w", err)
	}

	s.audit.LogRegistrationEvent(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventEmailVerified, RequestID: req.ID, Email: req.Email, Success: true,
	})
	return nil
}

func (s *RegistrationService) auditVerifyFailure(ctx context.Context, req *models.RegistrationRequest, reason string) {
	s.audit.LogRegistrationEvent(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventVerificationFailed, RequestID: req.ID, Email: req.Email, FailureReason: reason,
		Metadata: map[string]string{"attempts": fmt.Sprint(req.VerificationAttempts)},
	})
}

// GetStatus reports the status of the latest request for email. An unknown
// email reads as PENDING so the answer does not reveal who has applied.
func (s *RegistrationService) GetStatus(ctx context.Context, email string) (models.RegistrationStatus, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return "", models.ErrInvalidEmail
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	req, err := s.store.GetLatestByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.StatusPending, nil
		}
		return "", fmt.Errorf("lookup registration: %w", err)
	}

	return EffectiveStatus(req, s.now()), nil
}

// CompleteRegistration sets the applicant's password, creates the account and
// returns a session. The request and the account change together or not at all.
func (s *RegistrationService) CompleteRegistration(ctx context.Context, in CompletionInput) (*CompletionResult, error) {
	email := models.NormalizeEmail(in.Email)
	token := strings.TrimSpace(in.Token)
	if email == "" || token == "" {
		return nil, models.ErrMissingSecret
	}
	if err := pkgauth.ValidatePassword(in.Password); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrWeakPassword, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	req, err := s.store.GetLatestByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.auditCompletionFailure(ctx, &models.RegistrationRequest{Email: email}, "no_request")
			return nil, models.ErrInvalidOrExpiredToken
		}
		return nil, fmt.Errorf("lookup registration: %w", err)
	}

	now := s.now()
	if err := CheckCompletion(req, s.hasher.Matches(req.CompletionTokenHash, token), now); err != nil {
		s.auditCompletionFailure(ctx, req, err.Error())
		return nil, err
	}

	result, err := s.materializer.Materialize(ctx, req, in.Password)
	if err != nil {
		if errors.Is(err, models.ErrStaleWrite) {
			return nil, s.explainLostCompletion(ctx, req.ID, now)
		}
		s.auditCompletionFailure(ctx, req, err.Error())
		return nil, err
	}

	s.audit.LogRegistrationEvent(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventRegistrationCompleted, RequestID: req.ID, ActorID: result.User.ID,
		Email: req.Email, Success: true,
		Metadata: map[string]string{"role": string(result.User.Role)},
	})
	return result, nil
}

// explainLostCompletion turns a lost completion race into the applicant-facing error.
func (s *RegistrationService) explainLostCompletion(ctx context.Context, id string, now time.Time) error {
	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Status != models.StatusApproved {
		return &models.NotApprovedError{Status: EffectiveStatus(current, now)}
	}
	return models.ErrInvalidOrExpiredToken
}

func (s *RegistrationService) auditCompletionFailure(ctx context.Context, req *models.RegistrationRequest, reason string) {
	s.audit.LogRegistrationEvent(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventCompletionFailed, RequestID: req.ID, Email: req.Email, FailureReason: reason,
	})
}

// expireIfDue persists lazy expiry of an overdue request. It reports whether the
// request is (now) expired. Losing the race to the sweep counts as expired.
func (s *RegistrationService) expireIfDue(ctx context.Context, req *models.RegistrationRequest, now time.Time) (bool, error) {
	return expireIfDue(ctx, s.store, s.audit, req, now)
}

func expireIfDue(ctx context.Context, store RegistrationStore, audit *pkglogger.AuditLogger, req *models.RegistrationRequest, now time.Time) (bool, error) {
	next, err := Expire(req, now)
	if err != nil {
		return false, err
	}
	if next == nil {
		return false, nil
	}

	if _, err := store.Update(ctx, next, req.Status); err != nil && !errors.Is(err, models.ErrStaleWrite) {
		return false, fmt.Errorf("expire registration: %w", err)
	}

	audit.LogRegistrationEvent(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventRequestExpired, RequestID: req.ID, Success: true,
		Metadata: map[string]string{"from_status": string(req.Status), "trigger": "lazy"},
	})
	return true, nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}
