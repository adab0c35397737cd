package app

import (
	"context"
	"errors"
	"math"

	"ecolearn-gamification/internal/domain"
	"ecolearn-gamification/internal/leaderboard"

	"go.uber.org/zap"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// ActivityStats are the best-effort counters kept per quiz or challenge.
type ActivityStats struct {
	Kind        domain.ActivityKind `json:"kind"`
	ActivityID  string              `json:"activityId"`
	Attempts    int64               `json:"attempts"`
	Completions int64               `json:"completions"`
	// AverageScore is the mean attempt percentage, bonuses excluded.
	AverageScore float64 `json:"averageScore"`
}

// LeaderboardStats summarises all stored progress.
type LeaderboardStats struct {
	ActiveUsers   int                      `json:"activeUsers"`
	TotalPoints   int64                    `json:"totalPoints"`
	AveragePoints float64                  `json:"averagePoints"`
	TopPerformer  *domain.LeaderboardEntry `json:"topPerformer,omitempty"`
}

// ProgressView is a user's committed progress plus the derived level data.
type ProgressView struct {
	domain.UserProgress
	Level               int   `json:"level"`
	PointsForNextLevel  int64 `json:"pointsForNextLevel"`
	QuizzesCompleted    int   `json:"quizzesCompleted"`
	ChallengesCompleted int   `json:"challengesCompleted"`
}

// Progress returns the committed snapshot or domain.ErrUserNotFound.
func (s *SubmissionService) Progress(ctx context.Context, userID string) (ProgressView, error) {
	p, err := s.ledger.Get(ctx, userID)
	if err != nil {
		return ProgressView{}, err
	}
	level := p.Level()
	return ProgressView{
		UserProgress:        p,
		Level:               level,
		PointsForNextLevel:  domain.PointsForLevel(level+1) - p.TotalPoints,
		QuizzesCompleted:    len(p.CompletedQuizzes),
		ChallengesCompleted: len(p.CompletedChallenges),
	}, nil
}

// Leaderboard pages through the ranking. limit is clamped to [1, 100].
func (s *SubmissionService) Leaderboard(offset, limit int) domain.Leaderboard {
	offset, limit = clampPage(offset, limit)
	return s.ranking.Page(offset, limit)
}

// PeriodLeaderboard ranks users by the points earned in the current week or
// month. It is computed from the ledger on every call.
func (s *SubmissionService) PeriodLeaderboard(ctx context.Context, period domain.Period, offset, limit int) (domain.Leaderboard, error) {
	if !period.Valid() {
		return domain.Leaderboard{}, domain.NewValidationError("period", "must be all, weekly or monthly")
	}
	if period == domain.PeriodAll {
		return s.Leaderboard(offset, limit), nil
	}
	all, err := s.ledger.All(ctx)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	now := s.now()
	index := leaderboard.NewIndexWithClock(s.now)
	for _, p := range all {
		if points := p.PointsIn(period, now); points > 0 {
			index.Set(p.UserID, points, p.Version)
		}
	}
	offset, limit = clampPage(offset, limit)
	return index.Page(offset, limit), nil
}

// LeaderboardStats counts users with points and finds the leader.
func (s *SubmissionService) LeaderboardStats(ctx context.Context) (LeaderboardStats, error) {
	all, err := s.ledger.All(ctx)
	if err != nil {
		return LeaderboardStats{}, err
	}
	var stats LeaderboardStats
	for _, p := range all {
		stats.TotalPoints += p.TotalPoints
		if p.TotalPoints <= 0 {
			continue
		}
		stats.ActiveUsers++
		top := stats.TopPerformer
		if top == nil || p.TotalPoints > top.Points || (p.TotalPoints == top.Points && p.UserID < top.UserID) {
			stats.TopPerformer = &domain.LeaderboardEntry{UserID: p.UserID, Points: p.TotalPoints, Rank: 1}
		}
	}
	if len(all) > 0 {
		stats.AveragePoints = round2(float64(stats.TotalPoints) / float64(len(all)))
	}
	return stats, nil
}

func (s *SubmissionService) RankOf(userID string) (domain.LeaderboardEntry, error) {
	return s.ranking.RankOf(userID)
}

// SubscribeLeaderboard streams the top n entries; the caller must invoke cancel.
func (s *SubmissionService) SubscribeLeaderboard(n int) (<-chan domain.Leaderboard, func()) {
	if n <= 0 || n > maxPageSize {
		n = defaultPageSize
	}
	return s.ranking.Subscribe(n)
}

// Badges lists every badge with the user's earned state. Users without a
// record see every badge as not yet earned.
func (s *SubmissionService) Badges(ctx context.Context, userID string) ([]domain.BadgeStatus, error) {
	p, err := s.ledger.Get(ctx, userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		p = domain.NewUserProgress(userID, s.now())
	} else if err != nil {
		return nil, err
	}
	return s.badges.Statuses(p), nil
}

// ReevaluateBadges evaluates the current snapshot again and persists any
// badge that fires. It repairs users whose post-commit evaluation failed.
func (s *SubmissionService) ReevaluateBadges(ctx context.Context, userID string) ([]string, error) {
	p, err := s.ledger.Get(ctx, userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	earned, err := s.awardBadges(ctx, p, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if len(earned) > 0 {
		s.log.Info("badges awarded on re-evaluation", zap.String("user_id", userID), zap.Strings("badges", earned))
	}
	return earned, nil
}

// Stats reads the activity counters; a missing counter reads as zero.
func (s *SubmissionService) Stats(ctx context.Context, kind domain.ActivityKind, activityID string) (ActivityStats, error) {
	if !kind.Valid() {
		return ActivityStats{}, domain.NewValidationError("kind", "unknown activity kind")
	}
	stats := ActivityStats{Kind: kind, ActivityID: activityID}
	if s.counter == nil {
		return stats, nil
	}
	var err error
	if stats.Attempts, err = s.counter.Get(ctx, statsKey(kind, activityID, "attempts")); err != nil {
		return ActivityStats{}, err
	}
	if stats.Completions, err = s.counter.Get(ctx, statsKey(kind, activityID, "completions")); err != nil {
		return ActivityStats{}, err
	}
	sum, err := s.counter.Get(ctx, statsKey(kind, activityID, "score_sum"))
	if err != nil {
		return ActivityStats{}, err
	}
	if stats.Attempts > 0 {
		stats.AverageScore = round2(float64(sum) / float64(stats.Attempts))
	}
	return stats, nil
}

func clampPage(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return offset, limit
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
