package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(t.TempDir(), "http://localhost:8080")
	require.NoError(t, err)
	return s
}

func TestLocalStore_PutAndExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	url, err := s.Put(ctx, "staging/series/gg/solo/001.jpg", []byte("data"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/objects/staging/series/gg/solo/001.jpg", url)

	ok, err := s.Exists(ctx, "staging/series/gg/solo/001.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "staging/series/gg/solo/002.jpg")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalStore_CopyPreservesSource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "staging/a.jpg", []byte("payload"), "image/jpeg")
	require.NoError(t, err)

	require.NoError(t, s.Copy(ctx, "staging/a.jpg", "series/x/a.jpg"))

	for _, p := range []string{"staging/a.jpg", "series/x/a.jpg"} {
		ok, err := s.Exists(ctx, p)
		require.NoError(t, err)
		assert.True(t, ok, p)
	}
}

func TestLocalStore_CopyMissingSourceFails(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.Copy(context.Background(), "staging/nope.jpg", "series/x.jpg"))
}

func TestLocalStore_DeleteMissingIsNotAnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "staging/a.jpg", []byte("x"), "image/jpeg")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "staging/a.jpg"))
	require.NoError(t, s.Delete(ctx, "staging/a.jpg"), "second delete is a no-op")

	ok, err := s.Exists(ctx, "staging/a.jpg")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalStore_ListScopedToPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "staging/chapter/gg/solo-ch-1/001.jpg", []byte("1"), "image/jpeg")
	require.NoError(t, err)
	_, err = s.Put(ctx, "staging/chapter/gg/solo-ch-1/002.jpg", []byte("2"), "image/jpeg")
	require.NoError(t, err)
	_, err = s.Put(ctx, "series/solo/001.jpg", []byte("3"), "image/jpeg")
	require.NoError(t, err)

	objs, err := s.List(ctx, "staging/")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	for _, o := range objs {
		assert.Contains(t, o.Path, "staging/chapter/gg/solo-ch-1/")
		assert.NotZero(t, o.Size)
		assert.False(t, o.ModTime.IsZero())
	}
}

func TestLocalStore_ListMissingPrefixIsEmpty(t *testing.T) {
	s := newTestStore(t)
	objs, err := s.List(context.Background(), "staging/")
	require.NoError(t, err)
	assert.Empty(t, objs)
}
