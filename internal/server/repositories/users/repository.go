// Package users persists accounts for the credential store consumed by the
// rotation engine.
package users

import (
	"context"

	"github.com/akarpov87/schoolauth/internal/server/models"
)

// Repository is the user-store contract. Lookups return common.ErrorNotFound
// for missing accounts.
type Repository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, u *models.User) error

	// Update persists mutable account state: password hash, lockout
	// counters, last-login stamp.
	Update(ctx context.Context, u *models.User) error
}
