package leaderboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"ecolearn-gamification/internal/domain"

	"go.uber.org/zap"
)

// Source is the authoritative progress store the index is derived from.
type Source interface {
	Get(ctx context.Context, userID string) (domain.UserProgress, error)
	All(ctx context.Context) ([]domain.UserProgress, error)
}

// Reconciler repairs the index after missed or failed updates. Single users
// are re-read from the source on demand, and the whole index is rebuilt
// every interval.
type Reconciler struct {
	index    *Index
	source   Source
	interval time.Duration
	log      *zap.Logger

	queue   chan string
	mu      sync.Mutex
	pending map[string]struct{}
	hooks   []UserHook
}

// UserHook runs for every user taken off the queue, after the index was
// repaired. Badge re-evaluation hangs off it.
type UserHook func(ctx context.Context, userID string) error

func NewReconciler(index *Index, source Source, interval time.Duration, queueSize int, log *zap.Logger) *Reconciler {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		index:    index,
		source:   source,
		interval: interval,
		log:      log,
		queue:    make(chan string, queueSize),
		pending:  make(map[string]struct{}),
	}
}

// Enqueue schedules userID for reconciliation. A user already waiting is not
// queued twice. It reports false when the queue is full; the next periodic
// rebuild covers that user.
func (r *Reconciler) Enqueue(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[userID]; ok {
		return true
	}
	select {
	case r.queue <- userID:
		r.pending[userID] = struct{}{}
		return true
	default:
		r.log.Warn("reconcile queue full", zap.String("user_id", userID))
		return false
	}
}

// OnUser registers a hook; call it before Run.
func (r *Reconciler) OnUser(hook UserHook) {
	r.hooks = append(r.hooks, hook)
}

// Pending returns the number of queued users.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Run processes the queue and periodic rebuilds until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case userID := <-r.queue:
			r.mu.Lock()
			delete(r.pending, userID)
			r.mu.Unlock()
			if err := r.ReconcileUser(ctx, userID); err != nil {
				r.log.Warn("reconcile user failed", zap.String("user_id", userID), zap.Error(err))
			}
			for _, hook := range r.hooks {
				if err := hook(ctx, userID); err != nil {
					r.log.Warn("reconcile hook failed", zap.String("user_id", userID), zap.Error(err))
				}
			}
		case <-tick:
			if err := r.RebuildAll(ctx); err != nil {
				r.log.Warn("leaderboard rebuild failed", zap.Error(err))
			}
		}
	}
}

// ReconcileUser copies the user's ledger total into the index.
func (r *Reconciler) ReconcileUser(ctx context.Context, userID string) error {
	p, err := r.source.Get(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	r.index.Set(userID, p.TotalPoints, p.Version)
	return nil
}

// RebuildAll reloads every snapshot from the source into the index.
func (r *Reconciler) RebuildAll(ctx context.Context) error {
	started := time.Now()
	all, err := r.source.All(ctx)
	if err != nil {
		return err
	}
	r.index.Rebuild(all)
	r.log.Debug("leaderboard rebuilt",
		zap.Int("users", len(all)),
		zap.Duration("took", time.Since(started)))
	return nil
}
