// Package scoring maps submitted answers onto a quiz's answer key.
// Everything here is pure: no I/O, no clocks, no shared state.
package scoring

import (
	"fmt"
	"math"

	"ecolearn-gamification/internal/domain"
)

// floating point slack so that e.g. 0.3*10 floors to 3, not 2.
const epsilon = 1e-9

// ScoreQuiz scores one answer set per question, in question order.
func ScoreQuiz(quiz domain.Quiz, answers [][]string) (domain.ScoreResult, error) {
	if len(answers) != len(quiz.Questions) {
		return domain.ScoreResult{}, domain.NewValidationError("answers",
			fmt.Sprintf("expected %d answers, got %d", len(quiz.Questions), len(answers)))
	}

	result := domain.ScoreResult{
		PerQuestionCorrect: make([]bool, len(quiz.Questions)),
		PerQuestionPoints:  make([]int64, len(quiz.Questions)),
		Perfect:            true,
	}
	for i, question := range quiz.Questions {
		selected, err := selection(question, answers[i])
		if err != nil {
			return domain.ScoreResult{}, domain.NewValidationError(fmt.Sprintf("answers[%d]", i), err.Error())
		}
		points, correct := scoreQuestion(question, selected)
		result.PerQuestionCorrect[i] = correct
		result.PerQuestionPoints[i] = points
		result.Points += points
		result.MaxPoints += question.EffectivePoints()
		if !correct {
			result.Perfect = false
		}
	}
	if len(quiz.Questions) == 0 {
		result.Perfect = false
	}
	if result.MaxPoints > 0 {
		result.Percentage = int(result.Points * 100 / result.MaxPoints)
	}
	switch {
	case result.Perfect && quiz.PerfectBonus > 0:
		result.Bonus = quiz.PerfectBonus
		result.MaxPoints += quiz.PerfectBonus
	case !result.Perfect && quiz.HighScoreBonus > 0 && result.MaxPoints > 0 &&
		float64(result.Points)/float64(result.MaxPoints)+epsilon >= quiz.EffectiveHighScoreThreshold():
		result.Bonus = quiz.HighScoreBonus
	}
	result.Points += result.Bonus
	return result, nil
}

// ScoreChallenge rewards a completed challenge scaled by its difficulty.
func ScoreChallenge(challenge domain.Challenge) domain.ScoreResult {
	points := int64(math.Floor(float64(challenge.Points)*domain.DifficultyMultiplier(challenge.Difficulty) + epsilon))
	if points < 0 {
		points = 0
	}
	return domain.ScoreResult{Points: points, MaxPoints: points, Perfect: true, Percentage: 100}
}

// selection dedupes the answer and rejects option IDs the question does not offer.
func selection(question domain.Question, answer []string) (map[string]struct{}, error) {
	selected := make(map[string]struct{}, len(answer))
	for _, optionID := range answer {
		if len(question.Options) > 0 && !question.HasOption(optionID) {
			return nil, fmt.Errorf("unknown option %q for question %q", optionID, question.ID)
		}
		selected[optionID] = struct{}{}
	}
	return selected, nil
}

func scoreQuestion(question domain.Question, selected map[string]struct{}) (int64, bool) {
	points := question.EffectivePoints()

	correctSelected := 0
	for _, optionID := range question.Correct {
		if _, ok := selected[optionID]; ok {
			correctSelected++
		}
	}
	incorrectSelected := len(selected) - correctSelected
	exact := correctSelected == len(question.Correct) && incorrectSelected == 0
	if exact {
		return points, true
	}
	if !question.PartialCredit || len(question.Correct) == 0 {
		return 0, false
	}

	fraction := float64(correctSelected)/float64(len(question.Correct)) - question.Penalty*float64(incorrectSelected)
	fraction = math.Max(0, math.Min(1, fraction))
	return int64(math.Floor(fraction*float64(points) + epsilon)), false
}
