package tokenstore

import (
	"context"

	"github.com/pkg/errors"
	"github.com/qcom/librarian/internal/models"
	"github.com/redis/go-redis/v9"
)

// Redis persists the pair under two keys sharing a prefix. Writes and
// deletes go through MULTI/EXEC so both keys change together.
type Redis struct {
	client     *redis.Client
	accessKey  string
	refreshKey string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{
		client:     client,
		accessKey:  prefix + AccessTokenKey,
		refreshKey: prefix + RefreshTokenKey,
	}
}

func (r *Redis) Load(ctx context.Context) (models.TokenPair, error) {
	values, err := r.client.MGet(ctx, r.accessKey, r.refreshKey).Result()
	if err != nil {
		return models.TokenPair{}, errors.Wrap(err, "failed to read token pair")
	}

	access, _ := values[0].(string)
	refresh, _ := values[1].(string)
	pair := models.TokenPair{AccessToken: access, RefreshToken: refresh}
	if !pair.Complete() {
		return models.TokenPair{}, ErrNotFound
	}
	return pair, nil
}

func (r *Redis) Save(ctx context.Context, pair models.TokenPair) error {
	if !pair.Complete() {
		return ErrIncompletePair
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.accessKey, pair.AccessToken, 0)
		pipe.Set(ctx, r.refreshKey, pair.RefreshToken, 0)
		return nil
	})
	return errors.Wrap(err, "failed to store token pair")
}

func (r *Redis) Clear(ctx context.Context) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.accessKey, r.refreshKey)
		return nil
	})
	return errors.Wrap(err, "failed to clear token pair")
}

func (r *Redis) Close() error {
	return r.client.Close()
}
