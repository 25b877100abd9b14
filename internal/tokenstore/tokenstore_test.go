package tokenstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/qcom/librarian/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newBolt(t *testing.T) *Bolt {
	t.Helper()
	s, err := NewBolt(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func newRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedis(client, "test:")
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func storages(t *testing.T) map[string]Storage {
	redisStore, _ := newRedis(t)
	return map[string]Storage{
		"memory": NewMemory(),
		"bolt":   newBolt(t),
		"redis":  redisStore,
	}
}

func TestStorage_SaveLoadClear(t *testing.T) {
	ctx := context.Background()
	pair := models.TokenPair{AccessToken: "a.b.c", RefreshToken: "refresh-1"}

	for name, s := range storages(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Load(ctx)
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Save(ctx, pair))

			got, err := s.Load(ctx)
			require.NoError(t, err)
			require.Equal(t, pair, got)

			next := models.TokenPair{AccessToken: "d.e.f", RefreshToken: "refresh-2"}
			require.NoError(t, s.Save(ctx, next))
			got, err = s.Load(ctx)
			require.NoError(t, err)
			require.Equal(t, next, got)

			require.NoError(t, s.Clear(ctx))
			_, err = s.Load(ctx)
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Clear(ctx), "clearing twice is fine")
		})
	}
}

func TestStorage_RejectsPartialPair(t *testing.T) {
	ctx := context.Background()

	for name, s := range storages(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Save(ctx, models.TokenPair{AccessToken: "a.b.c"})
			require.ErrorIs(t, err, ErrIncompletePair)

			_, err = s.Load(ctx)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestBolt_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.db")
	pair := models.TokenPair{AccessToken: "a.b.c", RefreshToken: "r"}

	s, err := NewBolt(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, pair))
	require.NoError(t, s.Close())

	s, err = NewBolt(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, pair, got)
}

func TestRedis_HalfPairIsNotFound(t *testing.T) {
	s, mr := newRedis(t)
	require.NoError(t, mr.Set("test:"+AccessTokenKey, "a.b.c"))

	_, err := s.Load(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
}
