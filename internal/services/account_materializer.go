package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/carepath/internal/models"
)

// SessionIssuer is the session collaborator.
type SessionIssuer interface {
	IssueSession(user *models.User) (*models.SessionCredential, error)
}

// registrationWriter is the part of the store the materializer writes through.
type registrationWriter interface {
	Update(ctx context.Context, next *models.RegistrationRequest, expected models.RegistrationStatus) (*models.RegistrationRequest, error)
}

// AccountMaterializer turns an approved request into a durable user.
type AccountMaterializer struct {
	tx        Transactor
	users     UserStore
	store     registrationWriter
	passwords SecretHasher
	sessions  SessionIssuer
	now       func() time.Time
	logger    *slog.Logger
}

func NewAccountMaterializer(
	tx Transactor,
	users UserStore,
	store registrationWriter,
	passwords SecretHasher,
	sessions SessionIssuer,
	logger *slog.Logger,
) *AccountMaterializer {
	return &AccountMaterializer{
		tx:        tx,
		users:     users,
		store:     store,
		passwords: passwords,
		sessions:  sessions,
		now:       utcNow,
		logger:    logger,
	}
}

// SetClock overrides the time source.
func (m *AccountMaterializer) SetClock(now func() time.Time) {
	m.now = now
}

// Materialize creates the user for req and marks req COMPLETED in one
// transaction. The role is copied from req. If any step fails the request stays
// APPROVED. A concurrent change to req yields models.ErrStaleWrite.
func (m *AccountMaterializer) Materialize(ctx context.Context, req *models.RegistrationRequest, password string) (*CompletionResult, error) {
	passwordHash, err := m.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var result *CompletionResult
	err = m.tx.WithTransaction(ctx, func(ctx context.Context) error {
		now := m.now()

		user, err := m.users.Create(ctx, &models.User{
			Email:        models.NormalizeEmail(req.Email),
			PasswordHash: passwordHash,
			FirstName:    req.FirstName,
			LastName:     req.LastName,
			Role:         req.RequestedRole,
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			if errors.Is(err, models.ErrConflict) {
				return models.ErrAccountExists
			}
			return fmt.Errorf("create user: %w", err)
		}

		next, err := Complete(req, user.ID, now)
		if err != nil {
			return err
		}
		if _, err := m.store.Update(ctx, next, models.StatusApproved); err != nil {
			return err
		}

		session, err := m.sessions.IssueSession(user)
		if err != nil {
			return fmt.Errorf("issue session: %w", err)
		}

		result = &CompletionResult{Session: session, User: user.Profile()}
		return nil
	})
	if err != nil {
		m.logger.Warn("account materialization rolled back",
			slog.String("request_id", req.ID),
			slog.Any("error", err))
		return nil, err
	}

	m.logger.Info("account created from registration",
		slog.String("request_id", req.ID),
		slog.String("user_id", result.User.ID),
		slog.String("role", string(result.User.Role)))

	return result, nil
}
