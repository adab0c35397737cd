package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"ecolearn-gamification/internal/domain"
	"golang.org/x/sync/singleflight"
)

// CatalogLoader fetches quiz and challenge content from a backing store.
type CatalogLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	LoadChallenge(ctx context.Context, challengeID string) (domain.Challenge, error)
}

// CatalogRepository caches catalog content with TTL to avoid repeated DB hits.
// Concurrent misses for the same item share one load.
type CatalogRepository struct {
	loader CatalogLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedItem
}

type cachedItem struct {
	value     interface{}
	expiresAt time.Time
}

func NewCatalogRepository(loader CatalogLoader, ttl time.Duration) *CatalogRepository {
	return &CatalogRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedItem),
	}
}

func (r *CatalogRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	v, err := r.get(ctx, "quiz:"+quizID, func(ctx context.Context) (interface{}, error) {
		return r.loader.LoadQuiz(ctx, quizID)
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return v.(domain.Quiz), nil
}

func (r *CatalogRepository) GetChallenge(ctx context.Context, challengeID string) (domain.Challenge, error) {
	v, err := r.get(ctx, "challenge:"+challengeID, func(ctx context.Context) (interface{}, error) {
		return r.loader.LoadChallenge(ctx, challengeID)
	})
	if err != nil {
		return domain.Challenge{}, err
	}
	return v.(domain.Challenge), nil
}

// Invalidate drops a cached entry, e.g. after content was edited.
func (r *CatalogRepository) Invalidate(kind domain.ActivityKind, id string) {
	r.mu.Lock()
	delete(r.cache, string(kind)+":"+id)
	r.mu.Unlock()
}

func (r *CatalogRepository) lookup(key string, now time.Time) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.cache[key]; ok && entry.expiresAt.After(now) {
		return entry.value, true
	}
	return nil, false
}

func (r *CatalogRepository) get(ctx context.Context, key string, load func(context.Context) (interface{}, error)) (interface{}, error) {
	if v, ok := r.lookup(key, r.clock()); ok {
		return v, nil
	}

	v, err, _ := r.sf.Do(key, func() (interface{}, error) {
		now := r.clock()
		if v, ok := r.lookup(key, now); ok {
			return v, nil
		}

		v, err := load(ctx)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.cache[key] = cachedItem{value: v, expiresAt: now.Add(r.ttlWithJitter())}
		r.mu.Unlock()
		return v, nil
	})
	return v, err
}

// ttlWithJitter is called with r.mu held.
func (r *CatalogRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
