package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ceolin/mobilidade/backend/go-services/internal/document"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisRepo keeps the document in one Redis hash {content, version, message, updated_at}.
// Compare-and-swap uses WATCH on the key; a concurrent change aborts the
// transaction and is reported as a conflict.
type RedisRepo struct {
	client *redis.Client
	key    string
	path   string
}

func NewRedisRepo(client *redis.Client, key, path string) *RedisRepo {
	if key == "" {
		key = "ceolin:document"
	}
	return &RedisRepo{client: client, key: key, path: path}
}

func (r *RedisRepo) Name() string { return "redis" }

func (r *RedisRepo) Read(ctx context.Context) (*document.Blob, error) {
	vals, err := r.client.HMGet(ctx, r.key, "content", "version").Result()
	if err != nil {
		return nil, &document.StoreError{Store: r.Name(), Op: "read", Err: err}
	}
	content, ok := vals[0].(string)
	if !ok {
		return nil, document.ErrNotFound
	}
	version, _ := vals[1].(string)
	return &document.Blob{Content: []byte(content), Version: document.Version(version)}, nil
}

func (r *RedisRepo) WriteIfMatch(ctx context.Context, content []byte, expected document.Version, message string) (*document.WriteResult, error) {
	now := time.Now().UTC()
	next := uuid.NewString()

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, r.key, "version").Result()
		if errors.Is(err, redis.Nil) {
			current = ""
		} else if err != nil {
			return err
		}
		if current != string(expected) {
			return document.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, r.key,
				"content", string(content),
				"version", next,
				"message", message,
				"updated_at", now.Format(time.RFC3339Nano),
			)
			return nil
		})
		return err
	}, r.key)

	switch {
	case err == nil:
	case errors.Is(err, document.ErrConflict), errors.Is(err, redis.TxFailedErr):
		return nil, document.ErrConflict
	default:
		return nil, &document.StoreError{Store: r.Name(), Op: "write", Err: err}
	}
	return &document.WriteResult{
		Store:       r.Name(),
		Path:        r.path,
		Version:     document.Version(next),
		CommitID:    next,
		Message:     message,
		CommittedAt: now,
	}, nil
}
