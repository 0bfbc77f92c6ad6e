package sessions

import (
	"context"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisRepository_CreateGetDelete(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	repo := NewRedisRepository(client, "test:session:")

	ctx := context.Background()
	s := &Session{
		RefreshToken: "ref_1",
		Subject:      "sub-1",
		Scope:        "write",
		Mode:         "api_key",
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    time.Now().UTC().Add(5 * time.Second),
	}
	require.NoError(t, repo.Create(ctx, s))
	require.True(t, m.Exists("test:session:ref_1"))

	got, err := repo.GetByRefresh(ctx, "ref_1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "sub-1", got.Subject)
	require.Equal(t, "write", got.Scope)

	require.NoError(t, repo.DeleteByRefresh(ctx, "ref_1"))
	got, err = repo.GetByRefresh(ctx, "ref_1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestRedisRepository_TTLExpiry(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	repo := NewRedisRepository(redis.NewClient(&redis.Options{Addr: m.Addr()}), "")
	ctx := context.Background()
	s := &Session{
		RefreshToken: "ref_2",
		Subject:      "sub-2",
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    time.Now().UTC().Add(1 * time.Second),
	}
	require.NoError(t, repo.Create(ctx, s))
	require.True(t, m.Exists("cloudstore:session:ref_2"))

	got, err := repo.GetByRefresh(ctx, "ref_2")
	require.NoError(t, err)
	require.NotNil(t, got)

	m.FastForward(2 * time.Second)

	got, err = repo.GetByRefresh(ctx, "ref_2")
	require.NoError(t, err)
	require.Nil(t, got)
}
