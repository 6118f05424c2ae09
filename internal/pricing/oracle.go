package pricing

import (
	"math"
	"time"

	"github.com/gamestock/gamestock-service/internal/config"
	"github.com/gamestock/gamestock-service/internal/entity"
	"github.com/shopspring/decimal"
)

const (
	defaultExponent   = 1.3
	defaultMultiplier = 20
	defaultStaleAfter = 1 * time.Hour

	pricePrecision = 4
)

// Config holds the tuned pricing constants. Exponent dampens the raw
// volume of positive reviews, Multiplier scales the result into a usable
// price range. Both were chosen empirically; treat them as knobs, not
// derived values.
type Config struct {
	Exponent   float64
	Multiplier float64
	StaleAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		Exponent:   defaultExponent,
		Multiplier: defaultMultiplier,
		StaleAfter: defaultStaleAfter,
	}
}

func ConfigFromEnv(cfg config.PricingConfig) Config {
	return Config{
		Exponent:   cfg.Exponent,
		Multiplier: cfg.Multiplier,
		StaleAfter: cfg.StaleAfter,
	}
}

func (c Config) withDefaults() Config {
	if c.Exponent <= 0 {
		c.Exponent = defaultExponent
	}
	if c.Multiplier <= 0 {
		c.Multiplier = defaultMultiplier
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaultStaleAfter
	}

	return c
}

// Oracle derives an item's current price from its review counts. It holds
// no state and performs no I/O; the same item snapshot always yields the
// same quote.
type Oracle struct {
	config Config
}

func NewOracle(cfg Config) *Oracle {
	return &Oracle{config: cfg.withDefaults()}
}

// Quote never fails: items without usable review data quote at zero and
// items past the freshness window carry a stale flag. Callers decide what
// either means for them.
func (o *Oracle) Quote(item entity.Item, now time.Time) entity.Quote {
	quote := entity.Quote{
		ItemID: item.ID,
		Price:  decimal.Zero,
		AsOf:   now,
	}

	quote.Stale = item.LastRefreshed.IsZero() || now.Sub(item.LastRefreshed) > o.config.StaleAfter

	if item.PositiveReviews <= 0 || item.TotalReviews <= 0 {
		return quote
	}

	// price = (log10(positive))^exponent * sqrt(positive/total) * multiplier.
	// Volume of positive signal dominates; the square root keeps the review
	// rate from being counted twice, since it already shapes the positive count.
	rate := float64(item.PositiveReviews) / float64(item.TotalReviews)
	raw := math.Pow(math.Log10(float64(item.PositiveReviews)), o.config.Exponent) * math.Sqrt(rate) * o.config.Multiplier

	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw <= 0 {
		return quote
	}

	quote.Price = decimal.NewFromFloat(raw).Round(pricePrecision)

	return quote
}

func (o *Oracle) StaleAfter() time.Duration {
	return o.config.StaleAfter
}
