package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"ecolearn-gamification/internal/domain"
	"ecolearn-gamification/internal/infra/memory"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// CatalogRepository caches catalog content in Redis as JSON and falls back
// to a loader on cache miss:
//
//	SET catalog:quiz:{id}      {json} EX ttl
//	SET catalog:challenge:{id} {json} EX ttl
//
// Cache failures are never fatal; the loader stays the source of truth.
type CatalogRepository struct {
	client *redis.Client
	loader memory.CatalogLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewCatalogRepository(client *redis.Client, loader memory.CatalogLoader, ttl time.Duration) *CatalogRepository {
	return &CatalogRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *CatalogRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var quiz domain.Quiz
	err := r.get(ctx, "catalog:quiz:"+quizID, &quiz, func(ctx context.Context) (interface{}, error) {
		return r.loader.LoadQuiz(ctx, quizID)
	})
	return quiz, err
}

func (r *CatalogRepository) GetChallenge(ctx context.Context, challengeID string) (domain.Challenge, error) {
	var ch domain.Challenge
	err := r.get(ctx, "catalog:challenge:"+challengeID, &ch, func(ctx context.Context) (interface{}, error) {
		return r.loader.LoadChallenge(ctx, challengeID)
	})
	return ch, err
}

func (r *CatalogRepository) get(ctx context.Context, key string, out interface{}, load func(context.Context) (interface{}, error)) error {
	if raw, err := r.client.Get(ctx, key).Bytes(); err == nil {
		if json.Unmarshal(raw, out) == nil {
			return nil
		}
	}

	raw, err, _ := r.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if raw, err := r.client.Get(ctx, key).Bytes(); err == nil {
			return raw, nil
		}

		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		// best-effort fill; a failed SET only costs a reload next time
		_ = r.client.Set(ctx, key, raw, r.ttlWithJitter()).Err()
		return raw, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw.([]byte), out)
}

// Invalidate drops a cached entry, e.g. after content was edited.
func (r *CatalogRepository) Invalidate(ctx context.Context, kind domain.ActivityKind, id string) error {
	if err := r.client.Del(ctx, "catalog:"+string(kind)+":"+id).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return domain.StoreError("redis invalidate", err)
	}
	return nil
}

func (r *CatalogRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
