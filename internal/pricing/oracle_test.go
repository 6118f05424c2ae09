package pricing

import (
	"testing"
	"time"

	"github.com/gamestock/gamestock-service/internal/entity"
	"github.com/shopspring/decimal"
)

func TestQuotePriceFormula(t *testing.T) {
	oracle := NewOracle(DefaultConfig())
	now := time.Now().UTC()

	testCases := []struct {
		desc     string
		item     entity.Item
		min      string
		max      string
	}{
		{
			// log10(1000)^1.3 * sqrt(1000/1200) * 20
			"well reviewed item",
			entity.Item{ID: 1, PositiveReviews: 1000, TotalReviews: 1200, LastRefreshed: now},
			"76.1",
			"76.2",
		},
		{
			// perfect rate, sqrt(1) drops out
			"unanimous reviews",
			entity.Item{ID: 2, PositiveReviews: 100, TotalReviews: 100, LastRefreshed: now},
			"49.2",
			"49.3",
		},
		{
			"huge volume",
			entity.Item{ID: 3, PositiveReviews: 400000, TotalReviews: 500000, LastRefreshed: now},
			"165",
			"171",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			quote := oracle.Quote(tc.item, now)

			min := decimal.RequireFromString(tc.min)
			max := decimal.RequireFromString(tc.max)
			if quote.Price.LessThan(min) || quote.Price.GreaterThan(max) {
				t.Fatalf("price %s outside expected range [%s, %s]", quote.Price, tc.min, tc.max)
			}

			if !quote.Tradable() {
				t.Fatal("expected a tradable quote")
			}
		})
	}
}

func TestQuoteZeroPrice(t *testing.T) {
	oracle := NewOracle(DefaultConfig())
	now := time.Now().UTC()

	testCases := []struct {
		desc string
		item entity.Item
	}{
		{"no reviews at all", entity.Item{ID: 1, PositiveReviews: 0, TotalReviews: 0, LastRefreshed: now}},
		{"no positive reviews", entity.Item{ID: 2, PositiveReviews: 0, TotalReviews: 50, LastRefreshed: now}},
		{"zero total reviews", entity.Item{ID: 3, PositiveReviews: 10, TotalReviews: 0, LastRefreshed: now}},
		{"single positive review gives log10 of zero", entity.Item{ID: 4, PositiveReviews: 1, TotalReviews: 1, LastRefreshed: now}},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			quote := oracle.Quote(tc.item, now)
			if !quote.Price.IsZero() {
				t.Fatalf("expected zero price, got %s", quote.Price)
			}
			if quote.Tradable() {
				t.Fatal("zero price must not be tradable")
			}
		})
	}
}

func TestQuoteDeterminism(t *testing.T) {
	oracle := NewOracle(DefaultConfig())
	now := time.Now().UTC()
	item := entity.Item{ID: 7, PositiveReviews: 12345, TotalReviews: 15000, LastRefreshed: now}

	first := oracle.Quote(item, now)
	second := oracle.Quote(item, now)

	if !first.Price.Equal(second.Price) {
		t.Fatalf("same item quoted twice gave %s then %s", first.Price, second.Price)
	}
	if first.Stale != second.Stale {
		t.Fatal("staleness flag changed between identical quotes")
	}
}

func TestQuoteStaleness(t *testing.T) {
	oracle := NewOracle(Config{StaleAfter: time.Hour})
	now := time.Now().UTC()

	fresh := oracle.Quote(entity.Item{ID: 1, PositiveReviews: 100, TotalReviews: 120, LastRefreshed: now.Add(-30 * time.Minute)}, now)
	if fresh.Stale {
		t.Fatal("refreshed half an hour ago should not be stale")
	}

	stale := oracle.Quote(entity.Item{ID: 1, PositiveReviews: 100, TotalReviews: 120, LastRefreshed: now.Add(-2 * time.Hour)}, now)
	if !stale.Stale {
		t.Fatal("refreshed two hours ago should be stale")
	}
	if !stale.Tradable() {
		t.Fatal("stale prices stay tradable; staleness is advisory")
	}

	never := oracle.Quote(entity.Item{ID: 2, PositiveReviews: 100, TotalReviews: 120}, now)
	if !never.Stale {
		t.Fatal("item never refreshed should be stale")
	}
}

func TestQuoteConfigOverrides(t *testing.T) {
	now := time.Now().UTC()
	item := entity.Item{ID: 1, PositiveReviews: 1000, TotalReviews: 1000, LastRefreshed: now}

	base := NewOracle(DefaultConfig()).Quote(item, now)
	doubled := NewOracle(Config{Exponent: 1.3, Multiplier: 40, StaleAfter: time.Hour}).Quote(item, now)

	diff := doubled.Price.Sub(base.Price.Mul(decimal.NewFromInt(2))).Abs()
	if diff.GreaterThan(decimal.RequireFromString("0.001")) {
		t.Fatalf("doubling the multiplier should double the price: base %s, doubled %s", base.Price, doubled.Price)
	}
}
