package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/carepath/internal/database"
	"github.com/BradenHooton/carepath/internal/models"
)

const userColumns = `id, email, password_hash, first_name, last_name, role, is_active, created_at, updated_at`

type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User

	err := scanner.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.FirstName, &user.LastName,
		&user.Role, &user.IsActive, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.db.Querier(ctx).QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`
	return scanUserRow(r.db.Querier(ctx).QueryRow(ctx, query, email))
}

// Create inserts user. A duplicate email surfaces as models.ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if user.PasswordHash == "" {
		return nil, fmt.Errorf("create user: %w", models.ErrBadRequest)
	}

	query := `
		INSERT INTO users (email, password_hash, first_name, last_name, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING ` + userColumns

	return scanUserRow(r.db.Querier(ctx).QueryRow(ctx, query,
		user.Email, user.PasswordHash, user.FirstName, user.LastName,
		user.Role, user.IsActive, user.CreatedAt,
	))
}

// CountAdmins returns the number of active administrators.
func (r *UserRepository) CountAdmins(ctx context.Context) (int64, error) {
	var n int64
	query := `SELECT COUNT(*) FROM users WHERE role = 'ADMIN' AND is_active`
	if err := r.db.Querier(ctx).QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return n, nil
}
