package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/qcom/librarian/internal/models"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUserExists    = errors.New("user already exists")
	ErrTokenNotFound = errors.New("refresh token not found")
)

type UserRepository interface {
	// Create fails with ErrUserExists when the user name or email is taken.
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	// GetByLogin looks a user up by user name or email, case-insensitively.
	GetByLogin(ctx context.Context, userNameOrEmail string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	List(ctx context.Context) ([]models.User, error)
}

type RefreshTokenRepository interface {
	Store(ctx context.Context, data models.RefreshTokenData) error
	Get(ctx context.Context, jti string) (*models.RefreshTokenData, error)
	// Consume revokes the token and reports whether this call was the one
	// that did it. A second Consume of the same token returns false.
	Consume(ctx context.Context, data *models.RefreshTokenData) (bool, error)
	RevokeFamily(ctx context.Context, familyID string) error
	RevokeUser(ctx context.Context, userID string) error
}

func loginKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
