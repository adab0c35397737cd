package domain

import (
	"fmt"
	"math"
	"time"
)

// ActivityKind distinguishes the two kinds of scored activities.
type ActivityKind string

const (
	KindQuiz      ActivityKind = "quiz"
	KindChallenge ActivityKind = "challenge"
)

// Valid reports whether k is a known activity kind.
func (k ActivityKind) Valid() bool {
	return k == KindQuiz || k == KindChallenge
}

// RetakePolicy decides how a repeated submission for the same activity is scored.
type RetakePolicy string

const (
	RetakeNone       RetakePolicy = "none"
	RetakeKeepBest   RetakePolicy = "keep-best"
	RetakeKeepLatest RetakePolicy = "keep-latest"
	// RetakeAccumulate rewards every completion; used by recurring challenges.
	RetakeAccumulate RetakePolicy = "accumulate"
)

// Valid reports whether p is a known policy. The empty policy is not valid.
func (p RetakePolicy) Valid() bool {
	switch p {
	case RetakeNone, RetakeKeepBest, RetakeKeepLatest, RetakeAccumulate:
		return true
	}
	return false
}

// Option represents a possible answer for a question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question models a question whose answer is a set of option IDs.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []Option `json:"options"`
	Correct []string `json:"correct"`
	Points  int64    `json:"points"` // defaults to 1 if zero
	// PartialCredit enables fractional scoring with Penalty per incorrect selection.
	PartialCredit bool    `json:"partialCredit,omitempty"`
	Penalty       float64 `json:"penalty,omitempty"`
}

// EffectivePoints returns the question's point value, defaulting to 1.
func (q Question) EffectivePoints() int64 {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// HasOption reports whether optionID belongs to the question.
func (q Question) HasOption(optionID string) bool {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}

// Quiz is an ordered collection of questions plus its retake configuration.
type Quiz struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Category     string       `json:"category,omitempty"`
	Questions    []Question   `json:"questions"`
	AllowRetake  bool         `json:"allowRetake,omitempty"`
	RetakePolicy RetakePolicy `json:"retakePolicy,omitempty"`
	PerfectBonus int64        `json:"perfectBonus,omitempty"`
	// HighScoreBonus is added to an imperfect attempt scoring at least
	// HighScoreThreshold of the question points (default 0.8).
	HighScoreBonus     int64   `json:"highScoreBonus,omitempty"`
	HighScoreThreshold float64 `json:"highScoreThreshold,omitempty"`
}

const defaultHighScoreThreshold = 0.8

// EffectiveHighScoreThreshold returns the configured threshold or 0.8.
func (q Quiz) EffectiveHighScoreThreshold() float64 {
	if q.HighScoreThreshold <= 0 || q.HighScoreThreshold > 1 {
		return defaultHighScoreThreshold
	}
	return q.HighScoreThreshold
}

// EffectiveRetakePolicy resolves the retake configuration into a single policy.
// Retakes that are allowed without an explicit policy keep the best score.
func (q Quiz) EffectiveRetakePolicy() RetakePolicy {
	if !q.AllowRetake {
		return RetakeNone
	}
	if q.RetakePolicy == "" || q.RetakePolicy == RetakeNone {
		return RetakeKeepBest
	}
	return q.RetakePolicy
}

// Challenge is a real-world eco task completed once, or repeatedly when Recurring.
type Challenge struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Difficulty  string `json:"difficulty,omitempty"`
	Points      int64  `json:"points"`
	Recurring   bool   `json:"recurring,omitempty"`
}

// EffectiveRetakePolicy mirrors Quiz.EffectiveRetakePolicy for challenges.
func (c Challenge) EffectiveRetakePolicy() RetakePolicy {
	if c.Recurring {
		return RetakeAccumulate
	}
	return RetakeNone
}

// DifficultyMultiplier scales challenge rewards.
func DifficultyMultiplier(difficulty string) float64 {
	switch difficulty {
	case "medium":
		return 1.2
	case "hard":
		return 1.5
	case "expert":
		return 2.0
	default:
		return 1.0
	}
}

// Submission is one scoring request from a user.
type Submission struct {
	UserID         string       `json:"userId"`
	Kind           ActivityKind `json:"kind"`
	ActivityID     string       `json:"activityId"`
	Answers        [][]string   `json:"answers,omitempty"`
	IdempotencyKey string       `json:"idempotencyKey,omitempty"`
	Proof          string       `json:"proof,omitempty"`
	SubmittedAt    time.Time    `json:"submittedAt"`
}

// ScoreResult is the outcome of scoring one submission.
type ScoreResult struct {
	Points             int64   `json:"points"`
	MaxPoints          int64   `json:"maxPoints"`
	PerQuestionCorrect []bool  `json:"perQuestionCorrect,omitempty"`
	PerQuestionPoints  []int64 `json:"perQuestionPoints,omitempty"`
	Perfect            bool    `json:"perfect"`
	// Bonus is the part of Points granted by perfect or high-score bonuses.
	Bonus int64 `json:"bonus,omitempty"`
	// Percentage is the question score out of 100, bonuses excluded.
	Percentage int `json:"percentage"`
}

// Delta is what the ledger applies to a user's progress for one scored submission.
type Delta struct {
	Kind           ActivityKind
	ActivityID     string
	IdempotencyKey string
	Points         int64
	Perfect        bool
	RetakePolicy   RetakePolicy
	At             time.Time
}

// LeaderboardEntry is a ranked view of one user's points.
type LeaderboardEntry struct {
	UserID string `json:"userId"`
	Points int64  `json:"points"`
	Rank   int    `json:"rank"`
}

// Leaderboard captures an ordered page of the global ranking.
type Leaderboard struct {
	Entries   []LeaderboardEntry `json:"entries"`
	Total     int                `json:"total"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// BadgeDefinition is display metadata for a badge rule.
type BadgeDefinition struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	Icon        string `json:"icon,omitempty" yaml:"icon"`
	Category    string `json:"category,omitempty" yaml:"category"`
}

// BadgeStatus pairs a badge with the user's earned state.
type BadgeStatus struct {
	BadgeDefinition
	Earned   bool       `json:"earned"`
	EarnedAt *time.Time `json:"earnedAt,omitempty"`
}

// SubmissionResult summarizes the outcome of a submission for the caller.
type SubmissionResult struct {
	SubmissionID       string      `json:"submissionId"`
	Stage              Stage       `json:"stage"`
	Score              ScoreResult `json:"score"`
	PointsAwarded      int64       `json:"pointsAwarded"`
	TotalPoints        int64       `json:"totalPoints"`
	Level              int         `json:"level"`
	NewBadges          []string    `json:"newBadges"`
	Rank               int         `json:"rank,omitempty"`
	NoOp               bool        `json:"noOp"`
	BadgesPending      bool        `json:"badgesPending,omitempty"`
	LeaderboardPending bool        `json:"leaderboardPending,omitempty"`
}

// Stage is a step of the submission state machine.
type Stage string

const (
	StageReceived           Stage = "RECEIVED"
	StageValidated          Stage = "VALIDATED"
	StageScored             Stage = "SCORED"
	StageLedgerCommitted    Stage = "LEDGER_COMMITTED"
	StageBadgesEvaluated    Stage = "BADGES_EVALUATED"
	StageLeaderboardUpdated Stage = "LEADERBOARD_UPDATED"
	StageComplete           Stage = "COMPLETE"
	StageAborted            Stage = "ABORTED"
)

// Period selects the time window of a leaderboard.
type Period string

const (
	PeriodAll     Period = "all"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

func (p Period) Valid() bool {
	return p == PeriodAll || p == PeriodWeekly || p == PeriodMonthly
}

// PeriodKey names the bucket holding points earned in the period containing
// t, in UTC. Weeks are ISO weeks.
func PeriodKey(p Period, t time.Time) string {
	t = t.UTC()
	switch p {
	case PeriodWeekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("w:%04d-%02d", year, week)
	case PeriodMonthly:
		return fmt.Sprintf("m:%04d-%02d", t.Year(), int(t.Month()))
	}
	return ""
}

// Level converts cumulative points into a level: floor(sqrt(points/100)) + 1.
func Level(points int64) int {
	if points <= 0 {
		return 1
	}
	return int(math.Floor(math.Sqrt(float64(points)/100))) + 1
}

// PointsForLevel is the minimum number of points needed to reach level.
func PointsForLevel(level int) int64 {
	if level <= 1 {
		return 0
	}
	n := int64(level - 1)
	return n * n * 100
}

// Document is a versioned blob held by the durable store.
// Version 0 means the document does not exist yet.
type Document struct {
	Key     string
	Version int64
	Data    []byte
}
