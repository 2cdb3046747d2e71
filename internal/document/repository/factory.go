package repository

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ceolin/mobilidade/backend/go-services/internal/config"
	"github.com/ceolin/mobilidade/backend/go-services/internal/database"
	"github.com/ceolin/mobilidade/backend/go-services/internal/document"
	"github.com/ceolin/mobilidade/backend/go-services/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// reopenInterval is the minimum time between two attempts to open a store
// that was unreachable.
const reopenInterval = 2 * time.Second

// Connect builds the store selected by cfg.Store.Backend and fails when the
// backend cannot be reached. The returned close function releases any
// client the store holds and is never nil.
func Connect(ctx context.Context, cfg *config.Config) (document.Store, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, func() {}, err
	}
	return connect(ctx, cfg, 5)
}

// Open is Connect for long-running servers. Only configuration errors are
// returned: a backend that is unreachable at startup is opened again on
// later calls, which fail with a 503 StoreError until it comes up.
func Open(ctx context.Context, cfg *config.Config) (document.Store, func(), error) {
	store, closeFn, err := Connect(ctx, cfg)
	if err == nil || cfg.Validate() != nil {
		return store, closeFn, err
	}
	logger.For("store").Warnf("%s store unavailable at startup, will retry on demand: %v", cfg.Store.Backend, err)
	l := &lazyStore{
		name:     cfg.Store.Backend,
		interval: reopenInterval,
		lastErr:  err,
		lastTry:  time.Now(),
		open: func(ctx context.Context) (document.Store, func(), error) {
			return connect(ctx, cfg, 1)
		},
	}
	return l, l.Close, nil
}

func connect(ctx context.Context, cfg *config.Config, mongoAttempts int) (document.Store, func(), error) {
	noop := func() {}
	log := logger.For("store")

	switch cfg.Store.Backend {
	case config.BackendGitHub:
		client, err := NewGitHubClient(cfg.GitHub.Token, cfg.GitHub.BaseURL, &http.Client{Timeout: cfg.Store.Timeout})
		if err != nil {
			return nil, noop, err
		}
		log.Infof("using github %s/%s:%s", cfg.GitHub.Owner, cfg.GitHub.Name, cfg.Store.Path)
		return NewGitHubRepo(client, cfg.GitHub.Owner, cfg.GitHub.Name, cfg.Store.Path, cfg.GitHub.Branch), noop, nil

	case config.BackendGit:
		repo, err := OpenGitRepo(cfg.Git.Dir, cfg.Store.Path, cfg.Git.Branch, cfg.Git.AuthorName, cfg.Git.AuthorEmail)
		if err != nil {
			return nil, noop, err
		}
		log.Infof("using local git repo %s (%s)", cfg.Git.Dir, cfg.Store.Path)
		return repo, noop, nil

	case config.BackendMongo:
		client, err := database.ConnectMongoWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, mongoAttempts)
		if err != nil {
			return nil, noop, err
		}
		col := client.Database(cfg.MongoDB.Database).Collection(cfg.MongoDB.Collection)
		log.Infof("using mongo %s.%s", cfg.MongoDB.Database, cfg.MongoDB.Collection)
		return NewMongoRepo(col, cfg.Store.Path), func() { _ = client.Disconnect(context.Background()) }, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr(), err)
		}
		log.Infof("using redis %s key=%s", cfg.Redis.Addr(), cfg.Redis.DocumentKey)
		return NewRedisRepo(client, cfg.Redis.DocumentKey, cfg.Store.Path), func() { _ = client.Close() }, nil

	case config.BackendMemory:
		log.Warnf("using in-memory store; writes are lost on restart")
		return NewMemoryRepo(cfg.Store.Path), noop, nil
	}
	return nil, noop, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// lazyStore opens its backend on first successful use. Until then every
// call tries again, at most once per interval, and fails with the open error.
type lazyStore struct {
	name     string
	interval time.Duration
	open     func(ctx context.Context) (document.Store, func(), error)

	mu      sync.Mutex
	store   document.Store
	closeFn func()
	lastErr error
	lastTry time.Time
}

func (l *lazyStore) Name() string { return l.name }

func (l *lazyStore) get(ctx context.Context) (document.Store, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store != nil {
		return l.store, nil
	}
	if l.lastErr == nil || time.Since(l.lastTry) >= l.interval {
		l.lastTry = time.Now()
		store, closeFn, err := l.open(ctx)
		if err == nil {
			logger.For("store").Infof("%s store is reachable again", l.name)
			l.store, l.closeFn, l.lastErr = store, closeFn, nil
			return store, nil
		}
		l.lastErr = err
	}
	return nil, &document.StoreError{Store: l.name, Op: "open", Status: http.StatusServiceUnavailable, Err: l.lastErr}
}

func (l *lazyStore) Read(ctx context.Context) (*document.Blob, error) {
	store, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return store.Read(ctx)
}

func (l *lazyStore) WriteIfMatch(ctx context.Context, content []byte, expected document.Version, message string) (*document.WriteResult, error) {
	store, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return store.WriteIfMatch(ctx, content, expected, message)
}

// Ping reports whether the backend could be opened.
func (l *lazyStore) Ping(ctx context.Context) error {
	_, err := l.get(ctx)
	return err
}

func (l *lazyStore) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closeFn != nil {
		l.closeFn()
		l.closeFn = nil
	}
}
