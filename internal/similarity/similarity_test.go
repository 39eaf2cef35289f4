package similarity

import (
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Fuel Co.", "fuelco"},
		{"FUELCO", "fuelco"},
		{"A.B.C. Logistics - 42", "abclogistics42"},
		{"  spaced   out  ", "spacedout"},
		{"!@#$%", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := Normalize(tt.input); got != tt.expected {
			t.Errorf("Normalize(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}
}

func TestLevenshteinScorerRatio(t *testing.T) {
	scorer := NewLevenshteinScorer()

	if got := scorer.Ratio("fuelco", "fuelco"); got != 1.0 {
		t.Errorf("Expected identical strings to score 1.0, got %f", got)
	}
	if got := scorer.Ratio("", ""); got != 1.0 {
		t.Errorf("Expected empty strings to score 1.0, got %f", got)
	}

	// One edit over six runes: 1 - 1/6.
	got := scorer.Ratio("fuelco", "fuelce")
	expected := 1.0 - 1.0/6.0
	if got < expected-1e-9 || got > expected+1e-9 {
		t.Errorf("Expected ratio %f, got %f", expected, got)
	}

	if got := scorer.Ratio("abc", "xyz"); got != 0.0 {
		t.Errorf("Expected disjoint strings to score 0.0, got %f", got)
	}
}

func TestEditDistance(t *testing.T) {
	if got := EditDistance("fuelco", "fuelco"); got != 0 {
		t.Errorf("Expected distance 0, got %d", got)
	}
	if got := EditDistance("fuelco", "fuelc"); got != 1 {
		t.Errorf("Expected distance 1, got %d", got)
	}
}

func TestDaysApart(t *testing.T) {
	day1 := time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 11, 1, 0, 0, 0, time.UTC)

	// Two hours apart on the clock, but one day apart by date.
	if got := DaysApart(day1, day2); got != 1 {
		t.Errorf("Expected 1 day apart, got %d", got)
	}
	if got := DaysApart(day2, day1); got != 1 {
		t.Errorf("Expected symmetric distance, got %d", got)
	}
	if got := DaysApart(day1, day1); got != 0 {
		t.Errorf("Expected 0 days apart, got %d", got)
	}
}

func TestWithinDays(t *testing.T) {
	day1 := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	day4 := time.Date(2024, 3, 13, 12, 0, 0, 0, time.UTC)

	if !WithinDays(day1, day4, 3) {
		t.Error("Expected 3 days apart to be within a 3-day window")
	}
	if WithinDays(day1, day4, 2) {
		t.Error("Expected 3 days apart to exceed a 2-day window")
	}
	if !WithinDays(day1, day1, 0) {
		t.Error("Expected same day to satisfy a zero window")
	}
}

func TestRosterMatcherBest(t *testing.T) {
	matcher := NewRosterMatcher([]string{"Fuel Co", "Fleet Services", "Fresh Foods"}, nil)

	match, ok := matcher.Best("payment fuel co")
	if !ok {
		t.Fatal("Expected a roster match")
	}
	if match.Name != "Fuel Co" {
		t.Errorf("Expected Fuel Co, got %s", match.Name)
	}
	if match.Ratio <= 0.0 || match.Ratio > 1.0 {
		t.Errorf("Expected ratio in (0, 1], got %f", match.Ratio)
	}
}

func TestRosterMatcherEmptyInputs(t *testing.T) {
	matcher := NewRosterMatcher(nil, nil)
	if _, ok := matcher.Best("fuel co"); ok {
		t.Error("Expected no match from an empty roster")
	}

	matcher = NewRosterMatcher([]string{"Fuel Co"}, nil)
	if _, ok := matcher.Best("!!!"); ok {
		t.Error("Expected no match for a fragment that normalizes to nothing")
	}
}

func TestRosterMatcherTieBreaksByInsertionOrder(t *testing.T) {
	// Two identical roster entries score identically on ratio and
	// distance; the earlier entry must win.
	matcher := NewRosterMatcher([]string{"Fuel Co", "Fuel-Co"}, nil)

	match, ok := matcher.Best("fuelco")
	if !ok {
		t.Fatal("Expected a roster match")
	}
	if match.RosterIndex != 0 {
		t.Errorf("Expected first-inserted entry to win the tie, got index %d", match.RosterIndex)
	}
	if match.Name != "Fuel Co" {
		t.Errorf("Expected Fuel Co, got %s", match.Name)
	}
}

func TestRosterMatcherPrefersSmallerDistance(t *testing.T) {
	// A custom scorer that collapses everything to the same ratio forces
	// the edit-distance tie-break.
	matcher := NewRosterMatcher([]string{"Fuel Corporation", "Fuel Col"}, constantScorer{})

	match, ok := matcher.Best("fuelco")
	if !ok {
		t.Fatal("Expected a roster match")
	}
	if match.Name != "Fuel Col" {
		t.Errorf("Expected the closer entry by edit distance, got %s", match.Name)
	}
}

type constantScorer struct{}

func (constantScorer) Ratio(a, b string) float64 { return 0.9 }
