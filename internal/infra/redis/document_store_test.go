package redis

import (
	"context"
	"errors"
	"sync"
	"testing"

	"ecolearn-gamification/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestDocumentStoreConditionalWrite(t *testing.T) {
	client, mr := newClient(t)
	store := NewDocumentStore(client)
	ctx := context.Background()

	_, err := store.Read(ctx, "progress:u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	doc, err := store.ConditionalWrite(ctx, "progress:u1", 0, []byte(`{"points":10}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Version)
	assert.Equal(t, "1", mr.HGet("doc:progress:u1", "v"))

	_, err = store.ConditionalWrite(ctx, "progress:u1", 0, []byte(`{"points":99}`))
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	doc, err = store.ConditionalWrite(ctx, "progress:u1", 1, []byte(`{"points":20}`))
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Version)

	got, err := store.Read(ctx, "progress:u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.JSONEq(t, `{"points":20}`, string(got.Data))
}

func TestDocumentStoreConcurrentWritersOneWins(t *testing.T) {
	client, _ := newClient(t)
	store := NewDocumentStore(client)
	ctx := context.Background()

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.ConditionalWrite(ctx, "progress:race", 0, []byte(`{}`))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrVersionConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)
}

func TestDocumentStoreReadAll(t *testing.T) {
	client, _ := newClient(t)
	store := NewDocumentStore(client)
	ctx := context.Background()

	for _, key := range []string{"progress:b", "progress:a", "other:x"} {
		_, err := store.ConditionalWrite(ctx, key, 0, []byte(`{}`))
		require.NoError(t, err)
	}

	docs, err := store.ReadAll(ctx, "progress:")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "progress:a", docs[0].Key)
	assert.Equal(t, "progress:b", docs[1].Key)
}

func TestDocumentStoreReadError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewDocumentStore(db)

	mock.ExpectHGetAll("doc:progress:u1").SetErr(errors.New("connection refused"))

	_, err := store.Read(context.Background(), "progress:u1")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCounter(t *testing.T) {
	client, _ := newClient(t)
	counter := NewCounter(client)
	ctx := context.Background()

	v, err := counter.Get(ctx, "stats:quiz:q1:attempts")
	require.NoError(t, err)
	assert.Zero(t, v)

	_, err = counter.Incr(ctx, "stats:quiz:q1:attempts", 1)
	require.NoError(t, err)
	v, err = counter.Incr(ctx, "stats:quiz:q1:attempts", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	v, err = counter.Get(ctx, "stats:quiz:q1:attempts")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
}

func TestCounterIncrError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	counter := NewCounter(db)

	mock.ExpectIncrBy("counter:k", 1).SetErr(errors.New("timeout"))

	_, err := counter.Incr(context.Background(), "k", 1)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}
