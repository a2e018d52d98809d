package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "nested", "byok.key"))
}

func TestFileStore_SetWithDelete(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	has, err := s.Has(ctx)
	require.NoError(t, err)
	assert.False(t, has)
	assert.ErrorIs(t, s.With(ctx, func([]byte) error { return nil }), ErrNoKey)

	require.NoError(t, s.Set(ctx, []byte("sk-ant-123\n")))

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	var seen string
	require.NoError(t, s.With(ctx, func(key []byte) error {
		seen = string(key)
		return nil
	}))
	assert.Equal(t, "sk-ant-123", seen)

	require.NoError(t, s.Delete(ctx))
	require.NoError(t, s.Delete(ctx), "deleting twice is fine")
	has, err = s.Has(ctx)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestFileStore_BufferZeroedAfterScope(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Set(ctx, []byte("sk-secret")))

	var leaked []byte
	require.NoError(t, s.With(ctx, func(key []byte) error {
		leaked = key
		return nil
	}))
	for _, b := range leaked {
		assert.Zero(t, b)
	}
}

func TestFileStore_WriteThrough(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Set(ctx, []byte("first")))

	other := NewFileStore(s.Path())
	require.NoError(t, other.Set(ctx, []byte("second")))

	require.NoError(t, s.With(ctx, func(key []byte) error {
		assert.Equal(t, "second", string(key), "reads always go to disk")
		return nil
	}))
}

func TestFileStore_PropagatesCallbackError(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Set(ctx, []byte("k")))

	boom := errors.New("boom")
	assert.ErrorIs(t, s.With(ctx, func([]byte) error { return boom }), boom)
}

func TestFileStore_RejectsEmptyKey(t *testing.T) {
	assert.Error(t, newStore(t).Set(context.Background(), []byte("  ")))
}

func TestFileStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newStore(t)
	assert.ErrorIs(t, s.Set(ctx, []byte("k")), context.Canceled)
	assert.ErrorIs(t, s.With(ctx, func([]byte) error { return nil }), context.Canceled)
}
