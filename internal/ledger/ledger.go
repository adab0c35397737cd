// Package ledger owns the authoritative per-user progress records.
//
// Every mutation is a read-compute-conditional-write cycle against a
// DocumentStore. Concurrent writers for the same user lose the version race
// and retry with exponential backoff; two writers never both succeed on the
// same version.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ecolearn-gamification/internal/domain"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const keyPrefix = "progress:"

// DocumentStore is a versioned key/value store with compare-and-set writes.
type DocumentStore interface {
	// Read returns domain.ErrNotFound when the key is absent.
	Read(ctx context.Context, key string) (domain.Document, error)
	// ConditionalWrite stores data only if the current version equals
	// expectedVersion (0 creates). It returns domain.ErrVersionConflict otherwise.
	ConditionalWrite(ctx context.Context, key string, expectedVersion int64, data []byte) (domain.Document, error)
	ReadAll(ctx context.Context, prefix string) ([]domain.Document, error)
}

type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultConfig() Config {
	return Config{MaxAttempts: 8, InitialBackoff: 5 * time.Millisecond, MaxBackoff: 200 * time.Millisecond}
}

// Ledger applies deltas and badge grants to UserProgress documents.
type Ledger struct {
	store DocumentStore
	cfg   Config
	log   *zap.Logger
	now   func() time.Time
}

func New(store DocumentStore, cfg Config, log *zap.Logger) *Ledger {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{store: store, cfg: cfg, log: log, now: time.Now}
}

// WithClock overrides the clock used for record creation timestamps.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Result is the snapshot committed by Apply together with the total it replaced.
type Result struct {
	domain.UserProgress
	PreviousPoints int64
}

// Awarded is the change in total points caused by the commit.
func (r Result) Awarded() int64 {
	return r.TotalPoints - r.PreviousPoints
}

// Key returns the document key of a user's progress record.
func Key(userID string) string {
	return keyPrefix + userID
}

// Apply commits one scored submission. When the idempotency key was already
// processed, or the activity was completed under the "none" retake policy, it
// returns the current snapshot together with domain.ErrAlreadyCompleted.
func (l *Ledger) Apply(ctx context.Context, userID string, delta domain.Delta) (Result, error) {
	if err := validateDelta(delta); err != nil {
		return Result{}, err
	}
	return l.update(ctx, userID, true, func(p *domain.UserProgress) (bool, error) {
		return applyDelta(p, delta)
	})
}

// AwardBadges adds badges the user does not hold yet. Earned badges are never
// removed or re-dated. When nothing is new no write happens.
func (l *Ledger) AwardBadges(ctx context.Context, userID string, badgeIDs []string, at time.Time) (domain.UserProgress, error) {
	res, err := l.update(ctx, userID, false, func(p *domain.UserProgress) (bool, error) {
		added := false
		for _, id := range badgeIDs {
			if id == "" || p.HasBadge(id) {
				continue
			}
			p.EarnedBadges[id] = at
			added = true
		}
		if added && at.After(p.UpdatedAt) {
			p.UpdatedAt = at
		}
		return added, nil
	})
	return res.UserProgress, err
}

// Get returns the current snapshot, or domain.ErrUserNotFound.
func (l *Ledger) Get(ctx context.Context, userID string) (domain.UserProgress, error) {
	p, version, err := l.load(ctx, userID)
	if err != nil {
		return domain.UserProgress{}, err
	}
	if version == 0 {
		return domain.UserProgress{}, domain.ErrUserNotFound
	}
	return p, nil
}

// All returns every stored snapshot. Used to rebuild derived indexes.
func (l *Ledger) All(ctx context.Context) ([]domain.UserProgress, error) {
	docs, err := l.store.ReadAll(ctx, keyPrefix)
	if err != nil {
		return nil, wrapStoreErr("read all progress", err)
	}
	out := make([]domain.UserProgress, 0, len(docs))
	for _, doc := range docs {
		p, err := decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

type mutation func(p *domain.UserProgress) (changed bool, err error)

func (l *Ledger) update(ctx context.Context, userID string, create bool, mutate mutation) (Result, error) {
	if strings.TrimSpace(userID) == "" {
		return Result{}, domain.NewValidationError("userId", "must not be empty")
	}

	var (
		result   Result
		attempts int
	)
	op := func() error {
		attempts++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		current, version, err := l.load(ctx, userID)
		if err != nil {
			return backoff.Permanent(err)
		}
		if version == 0 && !create {
			return backoff.Permanent(domain.ErrUserNotFound)
		}

		next := current.Clone()
		changed, err := mutate(&next)
		if err != nil {
			result = Result{UserProgress: current, PreviousPoints: current.TotalPoints}
			return backoff.Permanent(err)
		}
		if !changed {
			result = Result{UserProgress: current, PreviousPoints: current.TotalPoints}
			return nil
		}

		next.Version = version + 1
		data, err := json.Marshal(next)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("encode progress: %w", err))
		}
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		doc, err := l.store.ConditionalWrite(ctx, Key(userID), version, data)
		if errors.Is(err, domain.ErrVersionConflict) {
			l.log.Debug("progress version conflict",
				zap.String("user_id", userID),
				zap.Int64("version", version),
				zap.Int("attempt", attempts))
			return err
		}
		if err != nil {
			return backoff.Permanent(wrapStoreErr("write progress", err))
		}
		next.Version = doc.Version
		result = Result{UserProgress: next, PreviousPoints: current.TotalPoints}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(l.backOff(), uint64(l.cfg.MaxAttempts-1)), ctx)
	err := backoff.Retry(op, policy)
	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, domain.ErrVersionConflict):
		l.log.Warn("progress update gave up after conflicts",
			zap.String("user_id", userID),
			zap.Int("attempts", attempts))
		return Result{}, &domain.ConflictError{UserID: userID, Attempts: attempts}
	default:
		return result, err
	}
}

func (l *Ledger) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.cfg.InitialBackoff
	b.MaxInterval = l.cfg.MaxBackoff
	// bounded by attempts, not wall time
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (l *Ledger) load(ctx context.Context, userID string) (domain.UserProgress, int64, error) {
	doc, err := l.store.Read(ctx, Key(userID))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewUserProgress(userID, l.now().UTC()), 0, nil
	}
	if err != nil {
		return domain.UserProgress{}, 0, wrapStoreErr("read progress", err)
	}
	p, err := decode(doc)
	if err != nil {
		return domain.UserProgress{}, 0, err
	}
	return p, doc.Version, nil
}

func decode(doc domain.Document) (domain.UserProgress, error) {
	var p domain.UserProgress
	if err := json.Unmarshal(doc.Data, &p); err != nil {
		return domain.UserProgress{}, fmt.Errorf("decode progress %s: %w", doc.Key, err)
	}
	p.Normalize()
	// the store's version is authoritative
	p.Version = doc.Version
	if p.UserID == "" {
		p.UserID = strings.TrimPrefix(doc.Key, keyPrefix)
	}
	return p, nil
}

func wrapStoreErr(op string, err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.StoreError(op, err)
}

func validateDelta(d domain.Delta) error {
	switch {
	case !d.Kind.Valid():
		return domain.NewValidationError("kind", fmt.Sprintf("unknown activity kind %q", d.Kind))
	case strings.TrimSpace(d.ActivityID) == "":
		return domain.NewValidationError("activityId", "must not be empty")
	case d.Points < 0:
		return domain.NewValidationError("points", "must not be negative")
	case !d.RetakePolicy.Valid():
		return domain.NewValidationError("retakePolicy", fmt.Sprintf("unknown policy %q", d.RetakePolicy))
	}
	return nil
}
