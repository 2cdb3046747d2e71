package repository

import (
	"context"
	"testing"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/ceolin/mobilidade/backend/go-services/internal/document"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisTestRepo(t *testing.T) (*RedisRepo, *mr.Miniredis) {
	t.Helper()
	m, err := mr.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisRepo(client, "test:document", "src/database/banco.json"), m
}

func TestRedisRepo_CAS(t *testing.T) {
	repo, m := newRedisTestRepo(t)
	ctx := context.Background()

	_, err := repo.Read(ctx)
	require.ErrorIs(t, err, document.ErrNotFound)

	created, err := repo.WriteIfMatch(ctx, []byte(document.DefaultContent()), "", "CMS: create")
	require.NoError(t, err)
	require.NotEmpty(t, created.Version)
	require.Equal(t, document.DefaultContent(), m.HGet("test:document", "content"))

	blob, err := repo.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, created.Version, blob.Version)

	_, err = repo.WriteIfMatch(ctx, []byte(`{}`), "", "CMS: create")
	require.ErrorIs(t, err, document.ErrConflict)

	updated, err := repo.WriteIfMatch(ctx, []byte(`{"rides":[{"id":"r1"}]}`), blob.Version, "CMS: update")
	require.NoError(t, err)
	require.NotEqual(t, blob.Version, updated.Version)

	_, err = repo.WriteIfMatch(ctx, []byte(`{}`), blob.Version, "CMS: stale")
	require.ErrorIs(t, err, document.ErrConflict)

	final, err := repo.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, `{"rides":[{"id":"r1"}]}`, string(final.Content))
}

func TestRedisRepo_StoreError(t *testing.T) {
	repo, m := newRedisTestRepo(t)
	m.Close()

	_, err := repo.Read(context.Background())
	var se *document.StoreError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "redis", se.Store)
}
