package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"ecolearn-gamification/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentStoreConditionalWrite(t *testing.T) {
	ctx := context.Background()
	store := NewDocumentStore()

	_, err := store.Read(ctx, "progress:u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	doc, err := store.ConditionalWrite(ctx, "progress:u1", 0, []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Version)

	_, err = store.ConditionalWrite(ctx, "progress:u1", 0, []byte(`{"a":2}`))
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	doc, err = store.ConditionalWrite(ctx, "progress:u1", 1, []byte(`{"a":3}`))
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Version)

	got, err := store.Read(ctx, "progress:u1")
	require.NoError(t, err)
	assert.Equal(t, `{"a":3}`, string(got.Data))
}

func TestDocumentStoreOnlyOneWriterWinsAVersion(t *testing.T) {
	ctx := context.Background()
	store := NewDocumentStore()
	_, err := store.ConditionalWrite(ctx, "k", 0, []byte("x"))
	require.NoError(t, err)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ConditionalWrite(ctx, "k", 1, []byte("y")); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestDocumentStoreReadAllByPrefix(t *testing.T) {
	ctx := context.Background()
	store := NewDocumentStore()
	for _, key := range []string{"progress:b", "progress:a", "stats:x"} {
		_, err := store.ConditionalWrite(ctx, key, 0, []byte(key))
		require.NoError(t, err)
	}

	docs, err := store.ReadAll(ctx, "progress:")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "progress:a", docs[0].Key)
	assert.Equal(t, "progress:b", docs[1].Key)
}

func TestDocumentStoreHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewDocumentStore()
	_, err := store.ConditionalWrite(ctx, "k", 0, []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = store.Read(context.Background(), "k")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCounterIncr(t *testing.T) {
	ctx := context.Background()
	c := NewCounter()
	v, err := c.Incr(ctx, "stats:quiz:q1:attempts", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	v, _ = c.Incr(ctx, "stats:quiz:q1:attempts", 2)
	assert.Equal(t, int64(3), v)
	got, _ := c.Get(ctx, "stats:quiz:q1:attempts")
	assert.Equal(t, int64(3), got)
}
