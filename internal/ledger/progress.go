package ledger

import (
	"fmt"
	"time"

	"ecolearn-gamification/internal/domain"
)

const day = 24 * time.Hour

// applyDelta mutates p in place. It reports false with ErrAlreadyCompleted
// when the submission must not change the record.
func applyDelta(p *domain.UserProgress, d domain.Delta) (bool, error) {
	ref := activityRef(d)
	if d.IdempotencyKey != "" {
		if scored, seen := p.ProcessedKeys[d.IdempotencyKey]; seen {
			if scored == ref {
				return false, domain.ErrAlreadyCompleted
			}
			return false, domain.NewValidationError("idempotencyKey",
				fmt.Sprintf("already used for %s", scored))
		}
	}

	recorded, done := p.Completed(d.Kind, d.ActivityID)
	var change int64
	switch {
	case !done:
		change = d.Points
		recorded = d.Points
	case d.RetakePolicy == domain.RetakeNone:
		return false, domain.ErrAlreadyCompleted
	case d.RetakePolicy == domain.RetakeKeepBest:
		if d.Points > recorded {
			change = d.Points - recorded
			recorded = d.Points
		}
	case d.RetakePolicy == domain.RetakeKeepLatest:
		change = d.Points - recorded
		recorded = d.Points
	case d.RetakePolicy == domain.RetakeAccumulate:
		change = d.Points
		recorded += d.Points
	}

	p.TotalPoints += change
	if p.TotalPoints < 0 {
		p.TotalPoints = 0
	}
	switch d.Kind {
	case domain.KindQuiz:
		p.CompletedQuizzes[d.ActivityID] = recorded
		if d.Perfect {
			p.PerfectQuizIDs[d.ActivityID] = true
		}
	case domain.KindChallenge:
		p.CompletedChallenges[d.ActivityID] = recorded
	}

	at := d.At.UTC()
	if at.IsZero() {
		at = time.Now().UTC()
	}
	updateStreak(p, at)
	addPeriodPoints(p, at, change)
	if d.IdempotencyKey != "" {
		p.ProcessedKeys[d.IdempotencyKey] = ref
	}
	if at.After(p.LastActiveAt) {
		p.LastActiveAt = at
	}
	p.UpdatedAt = at
	return true, nil
}

func activityRef(d domain.Delta) string {
	return string(d.Kind) + ":" + d.ActivityID
}

// addPeriodPoints credits change to the week and month containing at.
// Moving into a new period drops the buckets of earlier ones, so the map
// holds at most two keys. Must run before LastActiveAt is advanced.
func addPeriodPoints(p *domain.UserProgress, at time.Time, change int64) {
	week := domain.PeriodKey(domain.PeriodWeekly, at)
	month := domain.PeriodKey(domain.PeriodMonthly, at)
	if !at.Before(p.LastActiveAt) {
		for key := range p.PeriodPoints {
			if key != week && key != month {
				delete(p.PeriodPoints, key)
			}
		}
	}
	for _, key := range []string{week, month} {
		p.PeriodPoints[key] += change
		if p.PeriodPoints[key] < 0 {
			p.PeriodPoints[key] = 0
		}
	}
}

// updateStreak counts consecutive UTC days with activity. Activity on the
// same day keeps the streak, the next day extends it, a gap restarts it.
func updateStreak(p *domain.UserProgress, at time.Time) {
	today := at.UTC().Truncate(day)
	if p.LastActiveAt.IsZero() || p.CurrentStreakDays == 0 {
		p.CurrentStreakDays = 1
	} else {
		last := p.LastActiveAt.UTC().Truncate(day)
		switch gap := today.Sub(last); {
		case gap <= 0:
			// same day, or an out-of-order timestamp
		case gap == day:
			p.CurrentStreakDays++
		default:
			p.CurrentStreakDays = 1
		}
	}
	if p.CurrentStreakDays > p.LongestStreakDays {
		p.LongestStreakDays = p.CurrentStreakDays
	}
}
