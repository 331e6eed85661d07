package reconcile

import "strings"

// Strategy selects how two field values are compared.
type Strategy string

const (
	StrategyStrict Strategy = "strict"
	StrategyLoose  Strategy = "loose"
	StrategyFuzzy  Strategy = "fuzzy"
)

// ParseStrategy normalizes a user-supplied strategy name, defaulting to loose.
func ParseStrategy(raw string) Strategy {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "strict":
		return StrategyStrict
	case "fuzzy":
		return StrategyFuzzy
	default:
		return StrategyLoose
	}
}

// Tolerances holds the numeric comparison thresholds. Values are supplied by
// the caller at each Compare call; the engine keeps no process-wide state.
type Tolerances struct {
	AmountAbs      float64 // absolute amount tolerance
	AmountPct      float64 // fraction of |fetched| amount
	DateDays       int     // calendar-day tolerance
	FuzzyThreshold float64 // similarity in [0,1] required for a fuzzy match
}

// DefaultTolerances mirrors the service defaults.
func DefaultTolerances() Tolerances {
	return Tolerances{
		AmountAbs:      0.01,
		AmountPct:      0.005,
		DateDays:       1,
		FuzzyThreshold: 0.85,
	}
}
