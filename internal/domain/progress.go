package domain

import (
	"sort"
	"time"
)

// UserProgress is the authoritative per-user gamification record.
// It is only mutated by the ledger; every successful write bumps Version.
type UserProgress struct {
	UserID              string               `json:"userId"`
	TotalPoints         int64                `json:"totalPoints"`
	CompletedQuizzes    map[string]int64     `json:"completedQuizzes"`
	CompletedChallenges map[string]int64     `json:"completedChallenges"`
	EarnedBadges        map[string]time.Time `json:"earnedBadges"`
	// ProcessedKeys maps idempotency keys to the activity they scored.
	ProcessedKeys map[string]string `json:"processedKeys"`
	// PerfectQuizIDs holds quizzes answered fully correctly at least once.
	PerfectQuizIDs map[string]bool `json:"perfectQuizIds"`
	// PeriodPoints holds points earned in the current week and month, keyed by PeriodKey.
	PeriodPoints      map[string]int64 `json:"periodPoints"`
	CurrentStreakDays int              `json:"currentStreakDays"`
	LongestStreakDays int              `json:"longestStreakDays"`
	LastActiveAt      time.Time        `json:"lastActiveAt"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
	Version           int64            `json:"version"`
}

// NewUserProgress returns an empty record for a user seen for the first time.
func NewUserProgress(userID string, now time.Time) UserProgress {
	p := UserProgress{UserID: userID, CreatedAt: now, UpdatedAt: now}
	p.ensureMaps()
	return p
}

func (p *UserProgress) ensureMaps() {
	if p.CompletedQuizzes == nil {
		p.CompletedQuizzes = make(map[string]int64)
	}
	if p.CompletedChallenges == nil {
		p.CompletedChallenges = make(map[string]int64)
	}
	if p.EarnedBadges == nil {
		p.EarnedBadges = make(map[string]time.Time)
	}
	if p.ProcessedKeys == nil {
		p.ProcessedKeys = make(map[string]string)
	}
	if p.PerfectQuizIDs == nil {
		p.PerfectQuizIDs = make(map[string]bool)
	}
	if p.PeriodPoints == nil {
		p.PeriodPoints = make(map[string]int64)
	}
}

// Normalize fills nil maps, e.g. after decoding a stored document.
func (p *UserProgress) Normalize() {
	p.ensureMaps()
}

// Clone returns a deep copy so callers can mutate without touching the original.
func (p UserProgress) Clone() UserProgress {
	c := p
	c.CompletedQuizzes = make(map[string]int64, len(p.CompletedQuizzes))
	for k, v := range p.CompletedQuizzes {
		c.CompletedQuizzes[k] = v
	}
	c.CompletedChallenges = make(map[string]int64, len(p.CompletedChallenges))
	for k, v := range p.CompletedChallenges {
		c.CompletedChallenges[k] = v
	}
	c.EarnedBadges = make(map[string]time.Time, len(p.EarnedBadges))
	for k, v := range p.EarnedBadges {
		c.EarnedBadges[k] = v
	}
	c.ProcessedKeys = make(map[string]string, len(p.ProcessedKeys))
	for k, v := range p.ProcessedKeys {
		c.ProcessedKeys[k] = v
	}
	c.PerfectQuizIDs = make(map[string]bool, len(p.PerfectQuizIDs))
	for k, v := range p.PerfectQuizIDs {
		c.PerfectQuizIDs[k] = v
	}
	c.PeriodPoints = make(map[string]int64, len(p.PeriodPoints))
	for k, v := range p.PeriodPoints {
		c.PeriodPoints[k] = v
	}
	return c
}

// Completed returns the recorded score for an activity and whether it was completed.
func (p UserProgress) Completed(kind ActivityKind, activityID string) (int64, bool) {
	var score int64
	var ok bool
	switch kind {
	case KindQuiz:
		score, ok = p.CompletedQuizzes[activityID]
	case KindChallenge:
		score, ok = p.CompletedChallenges[activityID]
	}
	return score, ok
}

// HasBadge reports whether the badge was already granted.
func (p UserProgress) HasBadge(badgeID string) bool {
	_, ok := p.EarnedBadges[badgeID]
	return ok
}

func (p UserProgress) CompletedQuizIDs() []string      { return sortedKeys(p.CompletedQuizzes) }
func (p UserProgress) CompletedChallengeIDs() []string { return sortedKeys(p.CompletedChallenges) }

func (p UserProgress) EarnedBadgeIDs() []string {
	ids := make([]string, 0, len(p.EarnedBadges))
	for id := range p.EarnedBadges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Level is derived from TotalPoints.
func (p UserProgress) Level() int {
	return Level(p.TotalPoints)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PointsIn returns the points earned in the period containing at.
func (p UserProgress) PointsIn(period Period, at time.Time) int64 {
	if period == PeriodAll {
		return p.TotalPoints
	}
	return p.PeriodPoints[PeriodKey(period, at)]
}

// PerfectQuizzes counts distinct quizzes answered fully correctly.
func (p UserProgress) PerfectQuizzes() int {
	return len(p.PerfectQuizIDs)
}
