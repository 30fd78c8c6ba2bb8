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
)

// AdminInput describes an administrator created outside the registration workflow.
type AdminInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// CreateAdmin provisions an active ADMIN account. Administrators never come
// through registration, so this is the only way one is created.
func CreateAdmin(ctx context.Context, users UserStore, hasher SecretHasher, audit *pkglogger.AuditLogger, logger *slog.Logger, in AdminInput) (*models.User, error) {
	email := models.NormalizeEmail(in.Email)
	if err := validate.Var(email, "required,email"); err != nil {
		return nil, models.ErrInvalidEmail
	}
	if err := pkgauth.ValidatePassword(in.Password); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrWeakPassword, err)
	}

	_, err := users.GetByEmail(ctx, email)
	if err == nil {
		return nil, models.ErrAccountExists
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash admin password: %w", err)
	}

	firstName := strings.TrimSpace(in.FirstName)
	if firstName == "" {
		firstName = "Admin"
	}
	lastName := strings.TrimSpace(in.LastName)
	if lastName == "" {
		lastName = "User"
	}

	user, err := users.Create(ctx, &models.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    firstName,
		LastName:     lastName,
		Role:         models.RoleAdmin,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrAccountExists
		}
		return nil, fmt.Errorf("create admin: %w", err)
	}

	audit.LogAccountAction(ctx, "admin_created", user.ID, map[string]string{
		"email": pkglogger.SanitizedEmail(user.Email),
	})
	logger.Info("administrator account created", slog.String("user_id", user.ID))
	return user, nil
}
