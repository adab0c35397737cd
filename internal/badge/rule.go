// Package badge evaluates declarative badge rules against progress snapshots.
//
// Rules are data. A rule is one of a closed set of predicate variants
// (threshold, contains, all, any, not) compiled once at load time, so a bad
// rule file fails at startup or reload and never during a request.
package badge

import (
	"fmt"
	"strings"

	"ecolearn-gamification/internal/domain"
)

// Numeric snapshot fields usable in threshold predicates.
const (
	FieldTotalPoints         = "total_points"
	FieldLevel               = "level"
	FieldQuizzesCompleted    = "quizzes_completed"
	FieldChallengesCompleted = "challenges_completed"
	FieldBadgesEarned        = "badges_earned"
	FieldPerfectQuizzes      = "perfect_quizzes"
	FieldCurrentStreakDays   = "current_streak_days"
	FieldLongestStreakDays   = "longest_streak_days"
)

// Set snapshot fields usable in contains predicates.
const (
	FieldCompletedQuizIDs      = "completed_quiz_ids"
	FieldCompletedChallengeIDs = "completed_challenge_ids"
	FieldEarnedBadgeIDs        = "earned_badge_ids"
)

var numericFields = map[string]func(domain.UserProgress) int64{
	FieldTotalPoints:         func(p domain.UserProgress) int64 { return p.TotalPoints },
	FieldLevel:               func(p domain.UserProgress) int64 { return int64(p.Level()) },
	FieldQuizzesCompleted:    func(p domain.UserProgress) int64 { return int64(len(p.CompletedQuizzes)) },
	FieldChallengesCompleted: func(p domain.UserProgress) int64 { return int64(len(p.CompletedChallenges)) },
	FieldBadgesEarned:        func(p domain.UserProgress) int64 { return int64(len(p.EarnedBadges)) },
	FieldPerfectQuizzes:      func(p domain.UserProgress) int64 { return int64(p.PerfectQuizzes()) },
	FieldCurrentStreakDays:   func(p domain.UserProgress) int64 { return int64(p.CurrentStreakDays) },
	FieldLongestStreakDays:   func(p domain.UserProgress) int64 { return int64(p.LongestStreakDays) },
}

var setFields = map[string]func(domain.UserProgress, string) bool{
	FieldCompletedQuizIDs: func(p domain.UserProgress, id string) bool {
		_, ok := p.CompletedQuizzes[id]
		return ok
	},
	FieldCompletedChallengeIDs: func(p domain.UserProgress, id string) bool {
		_, ok := p.CompletedChallenges[id]
		return ok
	},
	FieldEarnedBadgeIDs: func(p domain.UserProgress, id string) bool {
		return p.HasBadge(id)
	},
}

// Predicate is a compiled rule condition. Implementations live in this
// package only.
type Predicate interface {
	Holds(p domain.UserProgress) bool
	predicate()
}

type thresholdPredicate struct {
	field string
	min   int64
	value func(domain.UserProgress) int64
}

func (t thresholdPredicate) Holds(p domain.UserProgress) bool { return t.value(p) >= t.min }

func (thresholdPredicate) predicate() {}

type containsPredicate struct {
	field  string
	values []string
	member func(domain.UserProgress, string) bool
}

func (c containsPredicate) Holds(p domain.UserProgress) bool {
	for _, v := range c.values {
		if !c.member(p, v) {
			return false
		}
	}
	return true
}

func (containsPredicate) predicate() {}

type allPredicate []Predicate

func (a allPredicate) Holds(p domain.UserProgress) bool {
	for _, inner := range a {
		if !inner.Holds(p) {
			return false
		}
	}
	return true
}

func (allPredicate) predicate() {}

type anyPredicate []Predicate

func (a anyPredicate) Holds(p domain.UserProgress) bool {
	for _, inner := range a {
		if inner.Holds(p) {
			return true
		}
	}
	return false
}

func (anyPredicate) predicate() {}

type notPredicate struct{ inner Predicate }

func (n notPredicate) Holds(p domain.UserProgress) bool { return !n.inner.Holds(p) }

func (notPredicate) predicate() {}

// Condition is the serialized form of a predicate. Exactly one member must be set.
type Condition struct {
	Threshold *Threshold  `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Contains  *Contains   `yaml:"contains,omitempty" json:"contains,omitempty"`
	All       []Condition `yaml:"all,omitempty" json:"all,omitempty"`
	Any       []Condition `yaml:"any,omitempty" json:"any,omitempty"`
	Not       *Condition  `yaml:"not,omitempty" json:"not,omitempty"`
}

type Threshold struct {
	Field string `yaml:"field" json:"field"`
	Min   int64  `yaml:"min" json:"min"`
}

type Contains struct {
	Field  string   `yaml:"field" json:"field"`
	Values []string `yaml:"values" json:"values"`
}

// Definition is one badge as written in a rules file.
type Definition struct {
	domain.BadgeDefinition `yaml:",inline"`
	Rule                   Condition `yaml:"rule" json:"rule"`
}

// Rule is a compiled badge definition.
type Rule struct {
	Badge     domain.BadgeDefinition
	Predicate Predicate
}

// Compile validates definitions and turns them into rules, preserving order.
func Compile(defs []Definition) ([]Rule, error) {
	seen := make(map[string]struct{}, len(defs))
	rules := make([]Rule, 0, len(defs))
	for i, def := range defs {
		id := strings.TrimSpace(def.ID)
		if id == "" {
			return nil, &domain.ConfigurationError{Rule: fmt.Sprintf("#%d", i), Reason: "missing badge id"}
		}
		if _, dup := seen[id]; dup {
			return nil, &domain.ConfigurationError{Rule: id, Reason: "duplicate badge id"}
		}
		seen[id] = struct{}{}

		pred, err := compileCondition(def.Rule)
		if err != nil {
			return nil, &domain.ConfigurationError{Rule: id, Reason: err.Error()}
		}
		badge := def.BadgeDefinition
		badge.ID = id
		if badge.Name == "" {
			badge.Name = id
		}
		rules = append(rules, Rule{Badge: badge, Predicate: pred})
	}
	return rules, nil
}

func compileCondition(c Condition) (Predicate, error) {
	set := 0
	for _, present := range []bool{c.Threshold != nil, c.Contains != nil, c.All != nil, c.Any != nil, c.Not != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("condition must have exactly one of threshold, contains, all, any, not (got %d)", set)
	}

	switch {
	case c.Threshold != nil:
		value, ok := numericFields[c.Threshold.Field]
		if !ok {
			if _, isSet := setFields[c.Threshold.Field]; isSet {
				return nil, fmt.Errorf("threshold on set field %q", c.Threshold.Field)
			}
			return nil, fmt.Errorf("unknown field %q", c.Threshold.Field)
		}
		return thresholdPredicate{field: c.Threshold.Field, min: c.Threshold.Min, value: value}, nil

	case c.Contains != nil:
		member, ok := setFields[c.Contains.Field]
		if !ok {
			if _, isNum := numericFields[c.Contains.Field]; isNum {
				return nil, fmt.Errorf("contains on numeric field %q", c.Contains.Field)
			}
			return nil, fmt.Errorf("unknown field %q", c.Contains.Field)
		}
		if len(c.Contains.Values) == 0 {
			return nil, fmt.Errorf("contains on %q has no values", c.Contains.Field)
		}
		values := append([]string(nil), c.Contains.Values...)
		return containsPredicate{field: c.Contains.Field, values: values, member: member}, nil

	case c.All != nil:
		inner, err := compileAll(c.All, "all")
		if err != nil {
			return nil, err
		}
		return allPredicate(inner), nil

	case c.Any != nil:
		inner, err := compileAll(c.Any, "any")
		if err != nil {
			return nil, err
		}
		return anyPredicate(inner), nil

	default:
		inner, err := compileCondition(*c.Not)
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		return notPredicate{inner: inner}, nil
	}
}

func compileAll(conds []Condition, kind string) ([]Predicate, error) {
	if len(conds) == 0 {
		return nil, fmt.Errorf("%s has no conditions", kind)
	}
	out := make([]Predicate, 0, len(conds))
	for i, c := range conds {
		p, err := compileCondition(c)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", kind, i, err)
		}
		out = append(out, p)
	}
	return out, nil
}
