package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/qcom/librarian/internal/models"
	"github.com/qcom/librarian/internal/repository"
	"github.com/sirupsen/logrus"
)

// RefreshTokenService issues token pairs and rotates refresh tokens. Each
// refresh token is single use; presenting a used one again revokes every
// token descended from the same login.
type RefreshTokenService struct {
	jwt    *JWTService
	tokens repository.RefreshTokenRepository
	users  repository.UserRepository
	logger *logrus.Logger
}

func NewRefreshTokenService(
	jwtService *JWTService,
	tokens repository.RefreshTokenRepository,
	users repository.UserRepository,
	logger *logrus.Logger,
) *RefreshTokenService {
	return &RefreshTokenService{
		jwt:    jwtService,
		tokens: tokens,
		users:  users,
		logger: logger,
	}
}

// Issue starts a new rotation family for user.
func (s *RefreshTokenService) Issue(ctx context.Context, user *models.User) (models.TokenPair, error) {
	return s.issue(ctx, user, "")
}

func (s *RefreshTokenService) issue(ctx context.Context, user *models.User, familyID string) (models.TokenPair, error) {
	issued, err := s.jwt.Issue(user, familyID)
	if err != nil {
		return models.TokenPair{}, err
	}

	data := models.RefreshTokenData{
		JTI:       issued.Refresh.ID,
		UserID:    user.ID,
		FamilyID:  issued.Refresh.FamilyID,
		CreatedAt: issued.Refresh.IssuedAt.Time,
		ExpiresAt: issued.Refresh.ExpiresAt.Time,
	}
	if err := s.tokens.Store(ctx, data); err != nil {
		return models.TokenPair{}, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return issued.TokenPair, nil
}

// Rotate exchanges a refresh token for a new pair in the same family. The
// access token is rebuilt from the current account, so profile and role
// edits show up on the next refresh.
func (s *RefreshTokenService) Rotate(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	claims, err := s.jwt.VerifyRefreshToken(refreshToken)
	if err != nil {
		return models.TokenPair{}, err
	}

	data, err := s.tokens.Get(ctx, claims.ID)
	if errors.Is(err, repository.ErrTokenNotFound) {
		return models.TokenPair{}, fmt.Errorf("%w: unknown refresh token", ErrInvalidToken)
	}
	if err != nil {
		return models.TokenPair{}, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"user_id":   data.UserID,
		"family_id": data.FamilyID,
	})

	claimed := false
	if !data.Revoked {
		if claimed, err = s.tokens.Consume(ctx, data); err != nil {
			return models.TokenPair{}, err
		}
	}
	if !claimed {
		log.Warn("Refresh token reused, revoking its family")
		if err := s.tokens.RevokeFamily(ctx, data.FamilyID); err != nil {
			log.WithError(err).Error("Failed to revoke token family")
		}
		return models.TokenPair{}, ErrTokenRevoked
	}

	user, err := s.users.GetByID(ctx, data.UserID)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("failed to load token owner: %w", err)
	}

	pair, err := s.issue(ctx, user, data.FamilyID)
	if err != nil {
		return models.TokenPair{}, err
	}
	log.Debug("Rotated refresh token")
	return pair, nil
}

// RevokeUser ends every refresh family of the user.
func (s *RefreshTokenService) RevokeUser(ctx context.Context, userID string) error {
	if err := s.tokens.RevokeUser(ctx, userID); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Error("Failed to revoke refresh tokens")
		return fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	return nil
}
