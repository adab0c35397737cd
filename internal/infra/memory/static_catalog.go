package memory

import (
	"context"

	"ecolearn-gamification/internal/domain"
)

// StaticCatalogLoader is a loader backed by in-memory maps (useful for tests/demos).
type StaticCatalogLoader struct {
	quizzes    map[string]domain.Quiz
	challenges map[string]domain.Challenge
}

func NewStaticCatalogLoader(quizzes []domain.Quiz, challenges []domain.Challenge) *StaticCatalogLoader {
	l := &StaticCatalogLoader{
		quizzes:    make(map[string]domain.Quiz, len(quizzes)),
		challenges: make(map[string]domain.Challenge, len(challenges)),
	}
	for _, q := range quizzes {
		l.quizzes[q.ID] = q
	}
	for _, c := range challenges {
		l.challenges[c.ID] = c
	}
	return l
}

func (l *StaticCatalogLoader) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := l.quizzes[quizID]; ok {
		return quiz, nil
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}

func (l *StaticCatalogLoader) LoadChallenge(_ context.Context, challengeID string) (domain.Challenge, error) {
	if ch, ok := l.challenges[challengeID]; ok {
		return ch, nil
	}
	return domain.Challenge{}, domain.ErrChallengeNotFound
}

// SampleQuizzes provides a minimal quiz set for local runs without a database.
func SampleQuizzes() []domain.Quiz {
	yesNo := []domain.Option{{ID: "yes", Text: "Yes"}, {ID: "no", Text: "No"}}
	return []domain.Quiz{
		{
			ID:       "climate-basics",
			Title:    "Climate Basics",
			Category: "climate",
			Questions: []domain.Question{
				{
					ID:     "greenhouse",
					Prompt: "Which gases are greenhouse gases?",
					Options: []domain.Option{
						{ID: "co2", Text: "Carbon dioxide"},
						{ID: "ch4", Text: "Methane"},
						{ID: "o2", Text: "Oxygen"},
						{ID: "n2", Text: "Nitrogen"},
					},
					Correct:       []string{"co2", "ch4"},
					Points:        10,
					PartialCredit: true,
					Penalty:       0.5,
				},
				{
					ID:      "sea-level",
					Prompt:  "Does melting land ice raise sea levels?",
					Options: yesNo,
					Correct: []string{"yes"},
					Points:  10,
				},
			},
			PerfectBonus:   5,
			HighScoreBonus: 3,
		},
		{
			ID:       "waste-sorting",
			Title:    "Waste Sorting",
			Category: "waste",
			Questions: []domain.Question{
				{
					ID:     "recyclable",
					Prompt: "Which items are usually recyclable?",
					Options: []domain.Option{
						{ID: "glass", Text: "Glass bottle"},
						{ID: "can", Text: "Aluminium can"},
						{ID: "tissue", Text: "Used tissue"},
					},
					Correct: []string{"glass", "can"},
					Points:  10,
				},
				{
					ID:      "compost",
					Prompt:  "Can fruit peels be composted?",
					Options: yesNo,
					Correct: []string{"yes"},
					Points:  5,
				},
			},
			AllowRetake:  true,
			RetakePolicy: domain.RetakeKeepBest,
		},
	}
}

// SampleChallenges mirrors the starter challenges shipped with the platform.
func SampleChallenges() []domain.Challenge {
	return []domain.Challenge{
		{ID: "plant-a-tree", Title: "Plant a Tree", Category: "environmental", Difficulty: "medium", Points: 25},
		{ID: "plastic-free-day", Title: "Plastic-Free Day", Category: "waste", Difficulty: "easy", Points: 15, Recurring: true},
		{ID: "bike-to-work", Title: "Bike to Work", Category: "transportation", Difficulty: "easy", Points: 12, Recurring: true},
		{ID: "energy-conservation", Title: "Energy Conservation", Category: "energy", Difficulty: "medium", Points: 20},
		{ID: "water-warrior", Title: "Water Warrior", Category: "water", Difficulty: "easy", Points: 18},
		{ID: "local-food-hero", Title: "Local Food Hero", Category: "food", Difficulty: "medium", Points: 22},
		{ID: "recycling-champion", Title: "Recycling Champion", Category: "waste", Difficulty: "hard", Points: 30},
		{ID: "eco-educator", Title: "Eco Educator", Category: "education", Difficulty: "medium", Points: 25, Recurring: true},
	}
}
