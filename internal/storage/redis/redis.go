// redis предоставляет реализацию storage.CredentialStore поверх Redis.
// Нужна, когда несколько экземпляров клиента разделяют одну сессию
// (например, воркеры одного сервисного аккаунта).
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pribylovaa/auth-session/internal/storage"
)

// DefaultPrefix - префикс ключей, если в конфиге пусто.
const DefaultPrefix = "auth:cred:"

// Store - хранилище учётных данных в Redis (простые строковые ключи).
type Store struct {
	rdb    *goredis.Client
	prefix string
}

// New создаёт клиент Redis из URL (например, redis://:pass@host:6379/0)
// и проверяет соединение.
func New(ctx context.Context, redisURL, prefix string) (*Store, error) {
	const op = "storage/redis/New"

	opt, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rdb := goredis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	return NewWithClient(rdb, prefix), nil
}

// NewWithClient оборачивает готовый клиент.
func NewWithClient(rdb *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) key(k string) string { return s.prefix + k }

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, s.key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storage.Wrap("get", key, err)
	}

	return v, true, nil
}

// Save пишет значение без TTL: срок жизни токенов знает только сервер.
func (s *Store) Save(ctx context.Context, key, value string) error {
	return storage.Wrap("save", key, s.rdb.Set(ctx, s.key(key), value, 0).Err())
}

func (s *Store) Remove(ctx context.Context, key string) error {
	return storage.Wrap("remove", key, s.rdb.Del(ctx, s.key(key)).Err())
}

// Close закрывает клиент Redis.
func (s *Store) Close() error { return s.rdb.Close() }

var _ storage.CredentialStore = (*Store)(nil)
