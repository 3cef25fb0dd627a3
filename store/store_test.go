package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testVector() []float64 {
	out := make([]float64, 512)
	for i := range out {
		out[i] = float64(i) / 512
	}
	return out
}

func TestFileStore_PutGet(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	assert.NoError(t, err)

	ctx := context.Background()
	ok, err := fs.Put(ctx, "user-1", "Alice", testVector(), []byte{0xff, 0xd8})
	assert.NoError(t, err)
	assert.True(t, ok)

	rec, err := fs.Get(ctx, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, "Alice", rec.Name)
	assert.Len(t, rec.Embedding, 512)
	assert.Equal(t, testVector(), rec.Embedding)
	assert.Equal(t, []byte{0xff, 0xd8}, rec.Image)
	assert.False(t, rec.EnrolledAt.IsZero())
	assert.Equal(t, int64(0), rec.MatchCount)
}

func TestFileStore_GetMissing(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	assert.NoError(t, err)

	_, err = fs.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestFileStore_List(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	assert.NoError(t, err)

	ctx := context.Background()
	_, err = fs.Put(ctx, "user-1", "Alice", testVector(), nil)
	assert.NoError(t, err)
	_, err = fs.Put(ctx, "user-2", "Bob", testVector(), nil)
	assert.NoError(t, err)

	all, err := fs.List(ctx)
	assert.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "Bob", all["user-2"].Name)
}

func TestFileStore_Delete(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	assert.NoError(t, err)

	ctx := context.Background()
	_, err = fs.Put(ctx, "user-1", "Alice", testVector(), nil)
	assert.NoError(t, err)

	ok, err := fs.Delete(ctx, "user-1")
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = fs.Delete(ctx, "user-1")
	assert.NoError(t, err)
	assert.False(t, ok)

	_, err = fs.Get(ctx, "user-1")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestFileStore_IncrementMatch(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	assert.NoError(t, err)

	ctx := context.Background()
	_, err = fs.Put(ctx, "user-1", "Alice", testVector(), nil)
	assert.NoError(t, err)

	ok, err := fs.IncrementMatch(ctx, "user-1")
	assert.NoError(t, err)
	assert.True(t, ok)
	ok, err = fs.IncrementMatch(ctx, "user-1")
	assert.NoError(t, err)
	assert.True(t, ok)

	rec, err := fs.Get(ctx, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, int64(2), rec.MatchCount)
	assert.False(t, rec.LastMatchAt.IsZero())

	ok, err = fs.IncrementMatch(ctx, "ghost")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_PutPreservesMatchHistory(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	assert.NoError(t, err)

	ctx := context.Background()
	_, err = fs.Put(ctx, "user-1", "Alice", testVector(), nil)
	assert.NoError(t, err)
	_, err = fs.IncrementMatch(ctx, "user-1")
	assert.NoError(t, err)

	_, err = fs.Put(ctx, "user-1", "Alice B", testVector(), nil)
	assert.NoError(t, err)

	rec, err := fs.Get(ctx, "user-1")
	assert.NoError(t, err)
	assert.Equal(t, "Alice B", rec.Name)
	assert.Equal(t, int64(1), rec.MatchCount)
}

func TestFileStore_ContextCancellation(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = fs.Put(ctx, "user-1", "Alice", testVector(), nil)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = fs.Get(ctx, "user-1")
	assert.ErrorIs(t, err, context.Canceled)
}
