package matcher

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// UnrestrictedDateWindow disables the date window for amount+date
// matching. A window of zero means same-day only.
const UnrestrictedDateWindow = -1

// Config holds the matching engine thresholds. Every threshold the legacy
// scripts hardwired as a module-level global lives here and is passed in
// explicitly.
type Config struct {
	// AmountEpsilon is the currency tolerance for amount equality.
	AmountEpsilon decimal.Decimal `json:"amount_epsilon"`

	// DateWindowDays bounds the amount+date tier. Negative values leave
	// the window unrestricted (the default); zero means same-day only.
	DateWindowDays int `json:"date_window_days"`

	// FuzzyThreshold is the minimum similarity ratio for accepting a
	// roster entry in the fuzzy tier.
	FuzzyThreshold float64 `json:"fuzzy_threshold"`

	// MinAmount ignores settlements below this amount when positive.
	MinAmount decimal.Decimal `json:"min_amount"`

	// SafeOverride permits replacing an existing link, but only when the
	// new target verifies on both amount and date and the existing target
	// does not. Links are never silently overwritten.
	SafeOverride bool `json:"safe_override"`
}

// DefaultConfig returns the thresholds used by the production runs:
// one-cent epsilon, unrestricted date window, 0.86 fuzzy cutoff.
func DefaultConfig() *Config {
	return &Config{
		AmountEpsilon:  decimal.NewFromFloat(0.01),
		DateWindowDays: UnrestrictedDateWindow,
		FuzzyThreshold: 0.86,
		MinAmount:      decimal.Zero,
		SafeOverride:   false,
	}
}

// Validate checks if the matching configuration is valid.
func (c *Config) Validate() error {
	if c.AmountEpsilon.IsNegative() {
		return fmt.Errorf("amount epsilon cannot be negative: %s", c.AmountEpsilon)
	}
	if c.FuzzyThreshold < 0.0 || c.FuzzyThreshold > 1.0 {
		return fmt.Errorf("fuzzy threshold must be between 0.0 and 1.0: %f", c.FuzzyThreshold)
	}
	if c.MinAmount.IsNegative() {
		return fmt.Errorf("minimum amount cannot be negative: %s", c.MinAmount)
	}
	return nil
}

// Clone creates a copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// WindowRestricted reports whether the date window bounds tier-two
// matching.
func (c *Config) WindowRestricted() bool {
	return c.DateWindowDays >= 0
}

// String returns a human-readable description of the configuration.
func (c *Config) String() string {
	window := "unrestricted"
	if c.WindowRestricted() {
		window = fmt.Sprintf("%d days", c.DateWindowDays)
	}
	return fmt.Sprintf("matcher.Config{Epsilon: %s, Window: %s, FuzzyThreshold: %.2f, SafeOverride: %t}",
		c.AmountEpsilon, window, c.FuzzyThreshold, c.SafeOverride)
}
