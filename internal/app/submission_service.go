package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ecolearn-gamification/internal/domain"
	"ecolearn-gamification/internal/leaderboard"
	"ecolearn-gamification/internal/ledger"
	"ecolearn-gamification/internal/scoring"
	"ecolearn-gamification/internal/util"

	"go.uber.org/zap"
)

// Catalog loads quiz and challenge content (from cache/backing store).
type Catalog interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	GetChallenge(ctx context.Context, challengeID string) (domain.Challenge, error)
}

// ProgressLedger is the authoritative progress store.
type ProgressLedger interface {
	Apply(ctx context.Context, userID string, delta domain.Delta) (ledger.Result, error)
	AwardBadges(ctx context.Context, userID string, badgeIDs []string, at time.Time) (domain.UserProgress, error)
	Get(ctx context.Context, userID string) (domain.UserProgress, error)
	All(ctx context.Context) ([]domain.UserProgress, error)
}

type BadgeEngine interface {
	Evaluate(p domain.UserProgress) []string
	Statuses(p domain.UserProgress) []domain.BadgeStatus
}

// Ranking is the derived leaderboard.
type Ranking interface {
	ApplyPointDelta(userID string, oldPoints, newPoints, version int64) error
	Page(offset, limit int) domain.Leaderboard
	RankOf(userID string) (domain.LeaderboardEntry, error)
	Subscribe(n int) (<-chan domain.Leaderboard, func())
}

// Reconciler repairs users whose derived state could not be updated.
type Reconciler interface {
	Enqueue(userID string) bool
}

// Counter keeps best-effort activity statistics.
type Counter interface {
	Incr(ctx context.Context, key string, by int64) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
}

type Dependencies struct {
	Catalog    Catalog
	Ledger     ProgressLedger
	Badges     BadgeEngine
	Ranking    Ranking
	Reconciler Reconciler
	Counter    Counter
	Logger     *zap.Logger
	Clock      func() time.Time
	NewID      func() string
}

// SubmissionService turns submissions into points, badges and rank.
type SubmissionService struct {
	catalog    Catalog
	ledger     ProgressLedger
	badges     BadgeEngine
	ranking    Ranking
	reconciler Reconciler
	counter    Counter
	log        *zap.Logger
	now        func() time.Time
	newID      func() string
}

func NewSubmissionService(deps Dependencies) *SubmissionService {
	s := &SubmissionService{
		catalog:    deps.Catalog,
		ledger:     deps.Ledger,
		badges:     deps.Badges,
		ranking:    deps.Ranking,
		reconciler: deps.Reconciler,
		counter:    deps.Counter,
		log:        deps.Logger,
		now:        deps.Clock,
		newID:      deps.NewID,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = util.NewULID
	}
	return s
}

// Submit runs one submission through validation, scoring, the ledger commit,
// badge evaluation and the leaderboard update.
//
// Once the ledger commit succeeded the submission counts: failures of the
// later stages are logged, flagged in the result and handed to the
// reconciler, but never returned as an error. A resubmission that the
// ledger recognises comes back as a successful no-op.
func (s *SubmissionService) Submit(ctx context.Context, sub domain.Submission) (domain.SubmissionResult, error) {
	res := domain.SubmissionResult{Stage: domain.StageReceived, NewBadges: []string{}}
	abort := func(err error) (domain.SubmissionResult, error) {
		res.Stage = domain.StageAborted
		return res, err
	}

	if err := validateSubmission(sub); err != nil {
		return abort(err)
	}
	// A key the server invents can never be resent, so the ledger does not keep it.
	ledgerKey := sub.IdempotencyKey
	if sub.IdempotencyKey == "" {
		sub.IdempotencyKey = s.newID()
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = s.now()
	}
	sub.SubmittedAt = sub.SubmittedAt.UTC()
	res.SubmissionID = sub.IdempotencyKey
	res.Stage = domain.StageValidated

	log := s.log.With(
		zap.String("user_id", sub.UserID),
		zap.String("kind", string(sub.Kind)),
		zap.String("activity_id", sub.ActivityID),
		zap.String("submission_id", sub.IdempotencyKey),
	)
	advance := func(stage domain.Stage) {
		res.Stage = stage
		log.Debug("submission stage", zap.String("stage", string(stage)))
	}

	score, policy, err := s.score(ctx, sub)
	if err != nil {
		log.Debug("submission rejected", zap.Error(err))
		return abort(err)
	}
	res.Score = score
	advance(domain.StageScored)
	s.incr(ctx, statsKey(sub.Kind, sub.ActivityID, "attempts"), 1)
	s.incr(ctx, statsKey(sub.Kind, sub.ActivityID, "score_sum"), int64(score.Percentage))

	committed, err := s.ledger.Apply(ctx, sub.UserID, domain.Delta{
		Kind:           sub.Kind,
		ActivityID:     sub.ActivityID,
		IdempotencyKey: ledgerKey,
		Points:         score.Points,
		Perfect:        score.Perfect,
		RetakePolicy:   policy,
		At:             sub.SubmittedAt,
	})
	if errors.Is(err, domain.ErrAlreadyCompleted) {
		log.Debug("submission already applied")
		res.NoOp = true
		res.TotalPoints = committed.TotalPoints
		res.Level = committed.Level()
		res.Rank = s.rank(sub.UserID)
		advance(domain.StageComplete)
		return res, nil
	}
	if err != nil {
		log.Warn("ledger commit failed", zap.Error(err), zap.Bool("retryable", domain.IsRetryable(err)))
		return abort(err)
	}
	advance(domain.StageLedgerCommitted)
	res.PointsAwarded = committed.Awarded()
	res.TotalPoints = committed.TotalPoints
	res.Level = committed.Level()
	s.incr(ctx, statsKey(sub.Kind, sub.ActivityID, "completions"), 1)

	// The commit is durable; a caller hanging up must not leave derived state half done.
	ctx = context.WithoutCancel(ctx)

	newBadges, err := s.awardBadges(ctx, committed.UserProgress, sub.SubmittedAt)
	if err != nil {
		log.Warn("badge evaluation failed", zap.Error(err))
		res.BadgesPending = true
		s.enqueue(sub.UserID)
	} else {
		res.NewBadges = newBadges
		advance(domain.StageBadgesEvaluated)
	}

	err = s.ranking.ApplyPointDelta(sub.UserID, committed.PreviousPoints, committed.TotalPoints, committed.Version)
	switch {
	case err == nil:
	case errors.Is(err, leaderboard.ErrIndexDrift):
		log.Debug("leaderboard drift", zap.Int64("previous_points", committed.PreviousPoints))
		s.enqueue(sub.UserID)
	default:
		log.Warn("leaderboard update failed", zap.Error(err))
		res.LeaderboardPending = true
		s.enqueue(sub.UserID)
	}
	if !res.LeaderboardPending {
		advance(domain.StageLeaderboardUpdated)
	}
	res.Rank = s.rank(sub.UserID)
	advance(domain.StageComplete)

	log.Info("submission complete",
		zap.Int64("points_awarded", res.PointsAwarded),
		zap.Int64("total_points", res.TotalPoints),
		zap.Strings("new_badges", res.NewBadges),
		zap.Int("rank", res.Rank))
	return res, nil
}

func (s *SubmissionService) score(ctx context.Context, sub domain.Submission) (domain.ScoreResult, domain.RetakePolicy, error) {
	switch sub.Kind {
	case domain.KindQuiz:
		quiz, err := s.catalog.GetQuiz(ctx, sub.ActivityID)
		if err != nil {
			return domain.ScoreResult{}, "", catalogErr(err)
		}
		score, err := scoring.ScoreQuiz(quiz, sub.Answers)
		return score, quiz.EffectiveRetakePolicy(), err
	case domain.KindChallenge:
		ch, err := s.catalog.GetChallenge(ctx, sub.ActivityID)
		if err != nil {
			return domain.ScoreResult{}, "", catalogErr(err)
		}
		return scoring.ScoreChallenge(ch), ch.EffectiveRetakePolicy(), nil
	}
	return domain.ScoreResult{}, "", domain.NewValidationError("kind", "unknown activity kind")
}

// awardBadges evaluates the committed snapshot and persists new badges.
// Rules depending on badges_earned see the count before this award and fire
// on a later evaluation.
func (s *SubmissionService) awardBadges(ctx context.Context, snapshot domain.UserProgress, at time.Time) ([]string, error) {
	earned := s.badges.Evaluate(snapshot)
	if len(earned) == 0 {
		return []string{}, nil
	}
	if _, err := s.ledger.AwardBadges(ctx, snapshot.UserID, earned, at); err != nil {
		return nil, err
	}
	return earned, nil
}

func (s *SubmissionService) rank(userID string) int {
	entry, err := s.ranking.RankOf(userID)
	if err != nil {
		return 0
	}
	return entry.Rank
}

func (s *SubmissionService) enqueue(userID string) {
	if s.reconciler == nil {
		return
	}
	if !s.reconciler.Enqueue(userID) {
		s.log.Warn("reconcile enqueue dropped", zap.String("user_id", userID))
	}
}

func (s *SubmissionService) incr(ctx context.Context, key string, by int64) {
	if s.counter == nil {
		return
	}
	if _, err := s.counter.Incr(ctx, key, by); err != nil {
		s.log.Debug("stats counter failed", zap.String("key", key), zap.Error(err))
	}
}

func validateSubmission(sub domain.Submission) error {
	if strings.TrimSpace(sub.UserID) == "" {
		return domain.NewValidationError("userId", "must not be empty")
	}
	if !sub.Kind.Valid() {
		return domain.NewValidationError("kind", fmt.Sprintf("unknown activity kind %q", sub.Kind))
	}
	if strings.TrimSpace(sub.ActivityID) == "" {
		return domain.NewValidationError("activityId", "must not be empty")
	}
	return nil
}

func catalogErr(err error) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	return domain.StoreError("load catalog", err)
}

func statsKey(kind domain.ActivityKind, activityID, metric string) string {
	return fmt.Sprintf("stats:%s:%s:%s", kind, activityID, metric)
}
