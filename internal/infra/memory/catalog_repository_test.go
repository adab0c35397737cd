package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ecolearn-gamification/internal/domain"
)

type countingLoader struct {
	CatalogLoader
	quizCalls      int32
	challengeCalls int32
	delay          time.Duration
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	atomic.AddInt32(&l.quizCalls, 1)
	time.Sleep(l.delay)
	return l.CatalogLoader.LoadQuiz(ctx, quizID)
}

func (l *countingLoader) LoadChallenge(ctx context.Context, challengeID string) (domain.Challenge, error) {
	atomic.AddInt32(&l.challengeCalls, 1)
	return l.CatalogLoader.LoadChallenge(ctx, challengeID)
}

func newCountingLoader() *countingLoader {
	return &countingLoader{CatalogLoader: NewStaticCatalogLoader(SampleQuizzes(), SampleChallenges())}
}

func TestCatalogRepositoryCaches(t *testing.T) {
	loader := newCountingLoader()
	repo := NewCatalogRepository(loader, time.Minute)

	if _, err := repo.GetQuiz(context.Background(), "climate-basics"); err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if _, err := repo.GetQuiz(context.Background(), "climate-basics"); err != nil {
		t.Fatalf("get quiz 2: %v", err)
	}
	if loader.quizCalls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.quizCalls)
	}

	ch, err := repo.GetChallenge(context.Background(), "plant-a-tree")
	if err != nil {
		t.Fatalf("get challenge: %v", err)
	}
	if ch.Points != 25 {
		t.Fatalf("unexpected challenge %+v", ch)
	}
}

func TestCatalogRepositoryExpires(t *testing.T) {
	loader := newCountingLoader()
	repo := NewCatalogRepository(loader, time.Minute)
	now := time.Now()
	repo.clock = func() time.Time { return now }

	if _, err := repo.GetChallenge(context.Background(), "bike-to-work"); err != nil {
		t.Fatalf("get challenge: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := repo.GetChallenge(context.Background(), "bike-to-work"); err != nil {
		t.Fatalf("get challenge after expiry: %v", err)
	}
	if loader.challengeCalls != 2 {
		t.Fatalf("expected reload after ttl, calls %d", loader.challengeCalls)
	}

	repo.Invalidate(domain.KindChallenge, "bike-to-work")
	if _, err := repo.GetChallenge(context.Background(), "bike-to-work"); err != nil {
		t.Fatalf("get challenge after invalidate: %v", err)
	}
	if loader.challengeCalls != 3 {
		t.Fatalf("expected reload after invalidate, calls %d", loader.challengeCalls)
	}
}

func TestCatalogRepositoryCoalescesConcurrentMisses(t *testing.T) {
	loader := newCountingLoader()
	loader.delay = 20 * time.Millisecond
	repo := NewCatalogRepository(loader, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.GetQuiz(context.Background(), "waste-sorting"); err != nil {
				t.Errorf("get quiz: %v", err)
			}
		}()
	}
	wg.Wait()
	if calls := atomic.LoadInt32(&loader.quizCalls); calls != 1 {
		t.Fatalf("expected a single load, got %d", calls)
	}
}

func TestCatalogRepositoryNotFound(t *testing.T) {
	repo := NewCatalogRepository(newCountingLoader(), time.Minute)
	if _, err := repo.GetQuiz(context.Background(), "missing"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected quiz not found, got %v", err)
	}
	if _, err := repo.GetChallenge(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
