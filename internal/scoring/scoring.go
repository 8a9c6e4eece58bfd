package scoring

import (
	"time"

	"parceltriggers/internal/taxonomy"
)

const (
	RuleCritical = "critical>=1"
	RuleStrong   = "strong>=2"
	RuleMixed    = "mixed>=4"
	RuleNone     = "none"
)

// DefaultWindowDays is the lookback of a seller-intent evaluation.
const DefaultWindowDays = 30

// WindowStart is the earliest trigger_at an evaluation at now counts.
func WindowStart(now time.Time, windowDays int) time.Time {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	return now.Add(-time.Duration(windowDays) * 24 * time.Hour)
}

type TierCounts struct {
	Critical int `json:"critical_count"`
	Strong   int `json:"strong_count"`
	Support  int `json:"support_count"`
}

func (c TierCounts) Total() int {
	return c.Critical + c.Strong + c.Support
}

// Add counts one event of the given severity.
func (c *TierCounts) Add(severity int) {
	switch taxonomy.TierOf(severity) {
	case taxonomy.TierCritical:
		c.Critical++
	case taxonomy.TierStrong:
		c.Strong++
	default:
		c.Support++
	}
}

type Decision struct {
	Matched  bool   `json:"matched"`
	Severity int    `json:"severity"`
	Score    int    `json:"seller_score"`
	Rule     string `json:"rule"`
}

// Evaluate applies the seller-intent table. The first matching row wins.
func Evaluate(c TierCounts) Decision {
	switch {
	case c.Critical >= 1:
		return Decision{Matched: true, Severity: 5, Score: 100, Rule: RuleCritical}
	case c.Strong >= 2:
		return Decision{Matched: true, Severity: 4, Score: 85, Rule: RuleStrong}
	case c.Strong >= 1 && c.Total() >= 4:
		return Decision{Matched: true, Severity: 3, Score: 70, Rule: RuleMixed}
	default:
		return Decision{Rule: RuleNone}
	}
}

func Count(severities ...int) TierCounts {
	var c TierCounts
	for _, s := range severities {
		c.Add(s)
	}
	return c
}
