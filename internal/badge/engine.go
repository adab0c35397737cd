package badge

import (
	"sort"
	"sync/atomic"
	"time"

	"ecolearn-gamification/internal/domain"
)

type ruleSet struct {
	rules []Rule
}

// Engine evaluates the current rule set. Reload swaps rules atomically, so
// an evaluation sees either the old or the new set, never a mix.
type Engine struct {
	current atomic.Pointer[ruleSet]
}

func NewEngine(rules []Rule) *Engine {
	e := &Engine{}
	e.Reload(rules)
	return e
}

func (e *Engine) Reload(rules []Rule) {
	e.current.Store(&ruleSet{rules: append([]Rule(nil), rules...)})
}

// Evaluate returns the IDs of badges whose rule holds for the snapshot and
// which the user has not earned yet, sorted.
func (e *Engine) Evaluate(p domain.UserProgress) []string {
	set := e.load()
	var earned []string
	for _, rule := range set.rules {
		if p.HasBadge(rule.Badge.ID) {
			continue
		}
		if rule.Predicate.Holds(p) {
			earned = append(earned, rule.Badge.ID)
		}
	}
	sort.Strings(earned)
	return earned
}

func (e *Engine) Definitions() []domain.BadgeDefinition {
	set := e.load()
	out := make([]domain.BadgeDefinition, 0, len(set.rules))
	for _, rule := range set.rules {
		out = append(out, rule.Badge)
	}
	return out
}

// Statuses lists every configured badge with the user's earned state.
// Badges earned under rules that were since removed are still reported.
func (e *Engine) Statuses(p domain.UserProgress) []domain.BadgeStatus {
	defs := e.Definitions()
	known := make(map[string]struct{}, len(defs))
	out := make([]domain.BadgeStatus, 0, len(defs))
	for _, def := range defs {
		known[def.ID] = struct{}{}
		status := domain.BadgeStatus{BadgeDefinition: def}
		if at, ok := p.EarnedBadges[def.ID]; ok {
			status.Earned = true
			status.EarnedAt = timePtr(at)
		}
		out = append(out, status)
	}
	for _, id := range p.EarnedBadgeIDs() {
		if _, ok := known[id]; ok {
			continue
		}
		out = append(out, domain.BadgeStatus{
			BadgeDefinition: domain.BadgeDefinition{ID: id, Name: id},
			Earned:          true,
			EarnedAt:        timePtr(p.EarnedBadges[id]),
		})
	}
	return out
}

func (e *Engine) load() *ruleSet {
	if set := e.current.Load(); set != nil {
		return set
	}
	return &ruleSet{}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
