// Package similarity provides the string and date comparison primitives
// shared by the matching engines.
//
// The ratio scorer is deliberately pluggable: any implementation returning
// a 0–1 similarity satisfies the Scorer contract, so the acceptance
// threshold (0.86 by default in the matcher) is independent of the
// underlying edit-distance algorithm.
package similarity

import (
	"strings"
	"time"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// Scorer computes a normalized similarity ratio between two strings.
// Implementations must return a value in [0, 1], where 1 means identical.
type Scorer interface {
	Ratio(a, b string) float64
}

// LevenshteinScorer scores with edit distance over the longer input:
// ratio = 1 - distance/maxLen. It is the default Scorer.
type LevenshteinScorer struct{}

// NewLevenshteinScorer returns the default edit-distance scorer.
func NewLevenshteinScorer() *LevenshteinScorer {
	return &LevenshteinScorer{}
}

// Ratio implements Scorer.
func (s *LevenshteinScorer) Ratio(a, b string) float64 {
	if a == b {
		return 1.0
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(maxLen)
}

// EditDistance returns the raw edit distance, used for tie-breaking when
// two roster entries score the same ratio.
func EditDistance(a, b string) int {
	return levenshtein.ComputeDistance(a, b)
}

// Normalize lower-cases a string and strips everything that is not a
// letter or digit, so "Fuel Co." and "FUELCO" compare equal.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DaysApart returns the whole-day distance between two timestamps,
// ignoring time of day.
func DaysApart(a, b time.Time) int {
	ad := truncate(a)
	bd := truncate(b)
	d := ad.Sub(bd)
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}

// WithinDays reports whether two dates fall within the given day window.
// A window of zero means same-day only.
func WithinDays(a, b time.Time, days int) bool {
	return DaysApart(a, b) <= days
}

func truncate(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// RosterMatch is the best roster candidate for a narrative fragment.
type RosterMatch struct {
	Name     string
	Ratio    float64
	Distance int
	// RosterIndex is the entry's insertion position, the final tie-break.
	RosterIndex int
}

// RosterMatcher scores narrative fragments against a fixed roster of known
// counterparty names. Names are normalized once at construction.
type RosterMatcher struct {
	scorer     Scorer
	names      []string
	normalized []string
}

// NewRosterMatcher builds a matcher over the roster names in insertion
// order. A nil scorer falls back to the Levenshtein default.
func NewRosterMatcher(names []string, scorer Scorer) *RosterMatcher {
	if scorer == nil {
		scorer = NewLevenshteinScorer()
	}
	normalized := make([]string, len(names))
	for i, n := range names {
		normalized[i] = Normalize(n)
	}
	return &RosterMatcher{
		scorer:     scorer,
		names:      names,
		normalized: normalized,
	}
}

// Best returns the highest-scoring roster entry for the fragment. Ties on
// ratio break by shorter edit distance, then by roster insertion order.
// ok is false when the roster is empty or the fragment normalizes to
// nothing.
func (rm *RosterMatcher) Best(fragment string) (RosterMatch, bool) {
	norm := Normalize(fragment)
	if norm == "" || len(rm.names) == 0 {
		return RosterMatch{}, false
	}

	best := RosterMatch{RosterIndex: -1}
	for i, candidate := range rm.normalized {
		if candidate == "" {
			continue
		}
		ratio := rm.scorer.Ratio(norm, candidate)
		dist := EditDistance(norm, candidate)

		if best.RosterIndex == -1 ||
			ratio > best.Ratio ||
			(ratio == best.Ratio && dist < best.Distance) {
			best = RosterMatch{
				Name:        rm.names[i],
				Ratio:       ratio,
				Distance:    dist,
				RosterIndex: i,
			}
		}
	}
	if best.RosterIndex == -1 {
		return RosterMatch{}, false
	}
	return best, true
}
