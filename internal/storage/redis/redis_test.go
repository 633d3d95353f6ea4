package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pribylovaa/auth-session/internal/storage"
)

// Интеграционные тесты Redis-хранилища:
//   - поднимают реальный Redis через testcontainers-go (образ redis:7-alpine);
//   - проверяют Get/Save/Remove, изоляцию по префиксу и маппинг ошибок в storage.ErrUnavailable.
//
// Запуск локально:
//   GO_TEST_INTEGRATION=1 go test ./internal/storage/redis -v -race -count=1

// startRedis - поднимает Redis и возвращает его URL.
// Если GO_TEST_INTEGRATION не установлена - тест пропускается.
func startRedis(t *testing.T) string {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestNew_BadURL(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), "://nope", "")
	require.Error(t, err)
}

func TestStore_SaveGetRemove(t *testing.T) {
	url := startRedis(t)
	ctx := context.Background()

	s, err := New(ctx, url, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, ok, err := s.Get(ctx, storage.KeyAccessToken)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, storage.SaveTokens(ctx, s, "A1", "R1"))

	v, ok, err := s.Get(ctx, storage.KeyRefreshToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "R1", v)

	require.NoError(t, storage.RemoveTokens(ctx, s))
	_, ok, err = s.Get(ctx, storage.KeyAccessToken)
	require.NoError(t, err)
	require.False(t, ok)
}

// Разные префиксы не видят ключи друг друга.
func TestStore_PrefixIsolation(t *testing.T) {
	url := startRedis(t)
	ctx := context.Background()

	a, err := New(ctx, url, "a:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b, err := New(ctx, url, "b:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	require.NoError(t, a.Save(ctx, storage.KeyAccessToken, "A1"))

	_, ok, err := b.Get(ctx, storage.KeyAccessToken)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_ClosedClient_IsUnavailable(t *testing.T) {
	url := startRedis(t)

	opt, err := goredis.ParseURL(url)
	require.NoError(t, err)
	rdb := goredis.NewClient(opt)
	s := NewWithClient(rdb, "")
	require.NoError(t, s.Close())

	err = s.Save(context.Background(), storage.KeyAccessToken, "A1")
	require.ErrorIs(t, err, storage.ErrUnavailable)
}
