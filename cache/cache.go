package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"quill/config"
)

// Store caches rendered fragments (markdown bodies) by key.
type Store interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Key builds a stable cache key from parts.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// generateHash generates an xxHash hash for the given string
func generateHash(s string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(s))
}

// FileStore keeps one file per key under dir; expiry is the file mtime plus ttl.
type FileStore struct {
	dir string
	ttl time.Duration
}

func NewFileStore(dir string, ttl time.Duration) *FileStore {
	return &FileStore{dir: dir, ttl: ttl}
}

func (f *FileStore) path(key string) string {
	hash := generateHash(key)
	return filepath.Join(f.dir, hash[:2], hash+".html")
}

func (f *FileStore) Get(_ context.Context, key string) (string, bool) {
	p := f.path(key)

	info, err := os.Stat(p)
	if err != nil {
		return "", false
	}
	if f.ttl > 0 && time.Since(info.ModTime()) > f.ttl {
		os.Remove(p)
		return "", false
	}

	content, err := os.ReadFile(p)
	if err != nil {
		return "", false
	}
	return string(content), true
}

func (f *FileStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	p := f.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(value), 0644)
}

func (f *FileStore) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		if err := os.Remove(f.path(key)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// ClearOld removes cache files older than maxAge.
func (f *FileStore) ClearOld(maxAge time.Duration) error {
	err := filepath.Walk(f.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".html") {
			return nil
		}
		if time.Since(info.ModTime()) > maxAge {
			os.Remove(path)
		}
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "quill:"}
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool) {
	val, err := r.client.Get(ctx, r.prefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("key", key).Msg("redis cache get failed")
		}
		return "", false
	}
	return val, true
}

func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+key, value, ttl).Err()
}

func (r *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = r.prefix + k
	}
	return r.client.Del(ctx, prefixed...).Err()
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) (string, bool)               { return "", false }
func (Nop) Set(context.Context, string, string, time.Duration) error { return nil }
func (Nop) Delete(context.Context, ...string) error                  { return nil }

// New builds the store selected by cfg.Driver. A redis store is only
// returned when the server answers a ping.
func New(ctx context.Context, cfg config.CacheConfig) (Store, error) {
	switch cfg.Driver {
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		log.Info().Msg("[REDIS] Connected successfully")
		return NewRedisStore(client), nil
	case "none":
		return Nop{}, nil
	default:
		return NewFileStore(cfg.Dir, cfg.TTL), nil
	}
}
