package reconciler

import (
	"fmt"
	"time"

	"fuel-shift-reconciliation/internal/matcher"
	"fuel-shift-reconciliation/internal/models"

	"github.com/shopspring/decimal"
)

// Config holds configuration options for the closure engine
type Config struct {
	// Matching tolerances and heuristics
	Matching *matcher.MatchingConfig

	// Tolerance for the payment summary and cash ledger comparisons
	Tolerance decimal.Decimal

	// ConsolidatedLocations forces consolidated payment mode for these
	// locations regardless of the stored location setting
	ConsolidatedLocations []uint

	// BucketOverrides classifies method codes the registry does not bucket
	BucketOverrides map[string]models.PaymentBucket

	// Now stamps ProcessedAt on results. History rows carry the shift end.
	Now func() time.Time
}

// DefaultConfig returns a default configuration for the closure engine
func DefaultConfig() *Config {
	return &Config{
		Matching:  matcher.DefaultMatchingConfig(),
		Tolerance: models.Tolerance,
		Now:       time.Now,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Matching == nil {
		return fmt.Errorf("matching configuration is required")
	}
	if err := c.Matching.Validate(); err != nil {
		return fmt.Errorf("invalid matching configuration: %w", err)
	}
	if c.Tolerance.IsNegative() {
		return fmt.Errorf("tolerance cannot be negative, got %s", c.Tolerance)
	}
	for code, bucket := range c.BucketOverrides {
		if _, ok := models.ParseBucket(string(bucket)); !ok {
			return fmt.Errorf("payment method %s maps to unknown bucket %q", code, bucket)
		}
	}
	return nil
}

func (c *Config) forcesConsolidated(locationID uint) bool {
	for _, id := range c.ConsolidatedLocations {
		if id == locationID {
			return true
		}
	}
	return false
}

func (c *Config) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}
