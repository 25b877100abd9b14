package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/qcom/librarian/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisRefreshTokenRepository stores token data under refresh_token:<jti>
// and marks revocation with a separate revoked_token:<jti> key, so that
// claiming a token for rotation is a single SETNX. Family and user sets
// index the tokens for bulk revocation.
type RedisRefreshTokenRepository struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisRefreshTokenRepository(client *redis.Client, logger *logrus.Logger) *RedisRefreshTokenRepository {
	return &RedisRefreshTokenRepository{
		client: client,
		logger: logger,
	}
}

func tokenKey(jti string) string { return fmt.Sprintf("refresh_token:%s", jti) }
func revokedKey(jti string) string { return fmt.Sprintf("revoked_token:%s", jti) }
func familyKey(familyID string) string { return fmt.Sprintf("token_family:%s", familyID) }
func userFamiliesKey(uid string) string { return fmt.Sprintf("user_families:%s", uid) }

func (r *RedisRefreshTokenRepository) Store(ctx context.Context, data models.RefreshTokenData) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal token data: %w", err)
	}

	ttl := time.Until(data.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("refresh token %s already expired", data.JTI)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, tokenKey(data.JTI), dataJSON, ttl)
		pipe.SAdd(ctx, familyKey(data.FamilyID), data.JTI)
		pipe.Expire(ctx, familyKey(data.FamilyID), ttl)
		pipe.SAdd(ctx, userFamiliesKey(data.UserID), data.FamilyID)
		pipe.Expire(ctx, userFamiliesKey(data.UserID), ttl)
		return nil
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to store refresh token")
		return fmt.Errorf("failed to store refresh token: %w", err)
	}

	return nil
}

func (r *RedisRefreshTokenRepository) Get(ctx context.Context, jti string) (*models.RefreshTokenData, error) {
	dataJSON, err := r.client.Get(ctx, tokenKey(jti)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	var data models.RefreshTokenData
	if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token data: %w", err)
	}

	revoked, err := r.client.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check revocation: %w", err)
	}
	data.Revoked = revoked > 0

	return &data, nil
}

func (r *RedisRefreshTokenRepository) Consume(ctx context.Context, data *models.RefreshTokenData) (bool, error) {
	ttl := time.Until(data.ExpiresAt)
	if ttl <= 0 {
		return false, nil
	}

	claimed, err := r.client.SetNX(ctx, revokedKey(data.JTI), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return claimed, nil
}

func (r *RedisRefreshTokenRepository) RevokeFamily(ctx context.Context, familyID string) error {
	jtis, err := r.client.SMembers(ctx, familyKey(familyID)).Result()
	if err != nil {
		return fmt.Errorf("failed to list token family: %w", err)
	}

	ttl, err := r.client.TTL(ctx, familyKey(familyID)).Result()
	if err != nil || ttl <= 0 {
		// every member expires with the family key
		return nil
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, jti := range jtis {
			pipe.Set(ctx, revokedKey(jti), "1", ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to revoke token family: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"family_id": familyID,
		"tokens":    len(jtis),
	}).Info("Revoked refresh token family")
	return nil
}

func (r *RedisRefreshTokenRepository) RevokeUser(ctx context.Context, userID string) error {
	families, err := r.client.SMembers(ctx, userFamiliesKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("failed to list user token families: %w", err)
	}

	for _, familyID := range families {
		if err := r.RevokeFamily(ctx, familyID); err != nil {
			return err
		}
	}
	return r.client.Del(ctx, userFamiliesKey(userID)).Err()
}
