// Package reconcile compares a human-corrected field set against externally
// fetched data and produces per-field verdicts plus an aggregate score. The
// engine is pure: no I/O, no process-wide state, deterministic for fixed
// inputs and tolerances.
package reconcile

import (
	"math"
	"sort"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"
)

// Per-field diff statuses.
const (
	StatusMatch         = "MATCH"
	StatusMismatch      = "MISMATCH"
	StatusMissingBoth   = "MISSING_BOTH"
	StatusOnlyExtracted = "ONLY_EXTRACTED"
	StatusOnlyFetched   = "ONLY_FETCHED"
)

// Diff is the verdict for a single field.
type Diff struct {
	Field          string  `json:"field"`
	ExtractedValue any     `json:"extracted_value"`
	FetchedValue   any     `json:"fetched_value"`
	MatchScore     float64 `json:"match_score"`
	Status         string  `json:"status"`
}

// Result bundles the ordered diffs with the aggregate score.
type Result struct {
	Strategy Strategy `json:"strategy"`
	Diffs    []Diff   `json:"diffs"`
	Score    float64  `json:"score_overall"`
}

// Compare reconciles the two field maps under the given strategy. Fields
// missing on either side are reported but excluded from the score; the score
// is the mean of matched-field scores over fields present on both sides,
// rounded to two decimals, and 1.0 when no field is present on both sides.
func Compare(extracted, fetched map[string]any, strategy Strategy, tol Tolerances) Result {
	fields := make([]string, 0, len(extracted)+len(fetched))
	seen := make(map[string]struct{}, len(extracted)+len(fetched))
	for name := range extracted {
		seen[name] = struct{}{}
	}
	for name := range fetched {
		seen[name] = struct{}{}
	}
	for name := range seen {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	diffs := make([]Diff, 0, len(fields))
	comparable := 0
	sum := 0.0
	for _, name := range fields {
		ev := unwrapValue(extracted[name])
		fv := unwrapValue(fetched[name])
		d := Diff{Field: name, ExtractedValue: ev, FetchedValue: fv}

		switch {
		case ev == nil && fv == nil:
			d.Status = StatusMissingBoth
		case fv == nil:
			d.Status = StatusOnlyExtracted
		case ev == nil:
			d.Status = StatusOnlyFetched
		default:
			comparable++
			d.Status, d.MatchScore = compareValues(ev, fv, strategy, tol)
			if d.Status == StatusMatch {
				sum += d.MatchScore
			}
		}
		diffs = append(diffs, d)
	}

	score := 1.0
	if comparable > 0 {
		score = round2(sum / float64(comparable))
	}
	return Result{Strategy: strategy, Diffs: diffs, Score: score}
}

func compareValues(ev, fv any, strategy Strategy, tol Tolerances) (string, float64) {
	switch strategy {
	case StrategyStrict:
		if strictEqual(ev, fv) {
			return StatusMatch, 1.0
		}
		return StatusMismatch, 0.0
	case StrategyFuzzy:
		if looseEqual(ev, fv, tol) {
			return StatusMatch, 1.0
		}
		sim := similarity(ev, fv)
		if sim >= tol.FuzzyThreshold {
			return StatusMatch, sim
		}
		// Below threshold: similarity is still reported for diagnostics but
		// contributes nothing to the aggregate.
		return StatusMismatch, sim
	default:
		if looseEqual(ev, fv, tol) {
			return StatusMatch, 1.0
		}
		return StatusMismatch, 0.0
	}
}

// strictEqual is raw equality with exact numeric and exact calendar-date
// fallbacks. "100.00" equals "100" numerically; "Acme, Inc." never equals
// "acme inc" because strict has no text normalization.
func strictEqual(a, b any) bool {
	if toString(a) == toString(b) {
		return true
	}
	if na, ok := parseNumber(a); ok {
		if nb, ok := parseNumber(b); ok && na == nb {
			return true
		}
	}
	if da, ok := parseDate(a); ok {
		if db, ok := parseDate(b); ok && da.Equal(db) {
			return true
		}
	}
	return false
}

// looseEqual compares normalized text, then tolerant numbers, then tolerant
// dates.
func looseEqual(a, b any, tol Tolerances) bool {
	if normalizeText(toString(a)) == normalizeText(toString(b)) {
		return true
	}
	if na, ok := parseNumber(a); ok {
		if nb, ok := parseNumber(b); ok {
			if abs(na-nb) <= math.Max(tol.AmountAbs, tol.AmountPct*abs(nb)) {
				return true
			}
		}
	}
	if da, ok := parseDate(a); ok {
		if db, ok := parseDate(b); ok && daysBetween(da, db) <= tol.DateDays {
			return true
		}
	}
	return false
}

// similarity is the max of token-sort and partial ratios over normalized
// strings, scaled to [0,1].
func similarity(a, b any) float64 {
	na := normalizeText(toString(a))
	nb := normalizeText(toString(b))
	ts := fuzzy.TokenSortRatio(na, nb)
	pr := fuzzy.PartialRatio(na, nb)
	if pr > ts {
		ts = pr
	}
	return float64(ts) / 100.0
}

// unwrapValue reduces the nested {value: ...} wrapper the extractor and HIL
// layers produce down to the bare value. This is the single place the engine
// tolerates wrapped input.
func unwrapValue(v any) any {
	if m, ok := v.(map[string]any); ok {
		if inner, ok := m["value"]; ok {
			return inner
		}
	}
	return v
}

// round2 pins scores to two decimals so re-computation cannot flap.
func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
