package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/auth-session/internal/storage"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "auth-session.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s, path
}

func TestOpen_RequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "  ")
	require.Error(t, err)
}

func TestStore_SaveGetRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := openTemp(t)

	_, ok, err := s.Get(ctx, storage.KeyRefreshToken)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Save(ctx, storage.KeyRefreshToken, "R1"))
	require.NoError(t, s.Save(ctx, storage.KeyRefreshToken, "R2"))

	v, ok, err := s.Get(ctx, storage.KeyRefreshToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "R2", v)

	require.NoError(t, s.Remove(ctx, storage.KeyRefreshToken))
	require.NoError(t, s.Remove(ctx, storage.KeyRefreshToken))

	_, ok, err = s.Get(ctx, storage.KeyRefreshToken)
	require.NoError(t, err)
	require.False(t, ok)
}

// Токены переживают закрытие и повторное открытие файла.
func TestStore_SurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "auth-session.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, storage.SaveTokens(ctx, s, "A1", "R1"))
	require.NoError(t, s.Close())

	s2, err := Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })

	v, ok, err := s2.Get(ctx, storage.KeyAccessToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "A1", v)
}

func TestStore_ClosedDB_IsUnavailable(t *testing.T) {
	t.Parallel()

	s, _ := openTemp(t)
	require.NoError(t, s.Close())

	err := s.Save(context.Background(), storage.KeyAccessToken, "A1")
	require.ErrorIs(t, err, storage.ErrUnavailable)

	_, _, err = s.Get(context.Background(), storage.KeyAccessToken)
	require.ErrorIs(t, err, storage.ErrUnavailable)
}
