package trading

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gamestock/gamestock-service/internal/entity"
	"github.com/gamestock/gamestock-service/internal/pricing"
	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

// testItemPrice is the oracle price for an item with 100 positive out of
// 100 total reviews: (log10(100))^1.3 * sqrt(1) * 20, rounded to 4 places.
var testItemPrice = decimal.RequireFromString("49.2458")

func newFixture(t *testing.T) (*TradingService, *memStore, *memItems) {
	t.Helper()

	store := newMemStore()
	items := newMemItems(entity.Item{
		ID:              1,
		ExternalID:      "730",
		Name:            "Counter-Strike 2",
		PositiveReviews: 100,
		TotalReviews:    100,
		LastRefreshed:   time.Now().UTC(),
	})

	cfg := DefaultConfig()
	cfg.RetryMinJitter = time.Millisecond
	cfg.RetryMaxJitter = time.Millisecond

	svc := NewTradingService(items, store.ReadStores(), store, pricing.NewOracle(pricing.DefaultConfig()), nil, cfg)
	return svc, store, items
}

func openTestAccount(t *testing.T, svc *TradingService) *entity.Account {
	t.Helper()

	account, err := svc.OpenAccount(context.Background())
	if err != nil {
		t.Fatalf("open account: %v", err)
	}
	return account
}

func requireRejection(t *testing.T, err error, reason entity.RejectionReason) *entity.Rejection {
	t.Helper()

	var rejection *entity.Rejection
	if !errors.As(err, &rejection) {
		t.Fatalf("expected rejection %s, got %v", reason, err)
	}
	if rejection.Reason != reason {
		t.Fatalf("expected rejection %s, got %s", reason, rejection.Reason)
	}
	return rejection
}

func TestOpenAccount(t *testing.T) {
	svc, _, _ := newFixture(t)

	account := openTestAccount(t, svc)
	if account.ID != 1 {
		t.Fatalf("expected account id 1, got %d", account.ID)
	}
	if !account.CashBalance.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected starting balance 1000, got %s", account.CashBalance)
	}
}

func TestBuyCreatesPositionAndLedgerEntry(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := context.Background()
	account := openTestAccount(t, svc)

	result, err := svc.Buy(ctx, entity.BuyRequest{AccountID: account.ID, ItemID: 1, Shares: 10})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}

	cost := testItemPrice.Mul(decimal.NewFromInt(10))
	wantBalance := decimal.NewFromInt(1000).Sub(cost)
	if !result.Account.CashBalance.Equal(wantBalance) {
		t.Errorf("expected balance %s, got %s", wantBalance, result.Account.CashBalance)
	}

	if result.Position == nil {
		t.Fatal("expected a position in the result")
	}
	if result.Position.Shares != 10 {
		t.Errorf("expected 10 shares, got %d", result.Position.Shares)
	}
	if !result.Position.AvgCostBasis.Equal(testItemPrice) {
		t.Errorf("expected cost basis %s, got %s", testItemPrice, result.Position.AvgCostBasis)
	}

	if result.Entry.ID != 1 {
		t.Errorf("expected ledger id 1, got %d", result.Entry.ID)
	}
	if result.Entry.Side != entity.TradeSideBuy {
		t.Errorf("expected BUY entry, got %s", result.Entry.Side)
	}
	if result.Entry.ExecutedAt.Before(result.Quote.AsOf) {
		t.Error("executed_at predates the quote sample; it must be stamped at commit")
	}
	if !result.Entry.TotalAmount.Equal(cost) {
		t.Errorf("expected entry total %s, got %s", cost, result.Entry.TotalAmount)
	}

	entries, err := svc.ListLedger(ctx, account.ID, entity.LedgerPage{})
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(entries))
	}
}

func TestBuyInsufficientFundsLeavesStateUntouched(t *testing.T) {
	svc, store, _ := newFixture(t)
	ctx := context.Background()
	account := openTestAccount(t, svc)

	// 100 shares cost well over the starting 1000.
	_, err := svc.Buy(ctx, entity.BuyRequest{AccountID: account.ID, ItemID: 1, Shares: 100})
	rejection := requireRejection(t, err, entity.ReasonInsufficientFunds)

	wantRequired := testItemPrice.Mul(decimal.NewFromInt(100))
	if !rejection.Required.Equal(wantRequired) {
		t.Errorf("expected required %s, got %s", wantRequired, rejection.Required)
	}
	if !rejection.Available.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected available 1000, got %s", rejection.Available)
	}
	if !rejection.Shortfall().Equal(wantRequired.Sub(decimal.NewFromInt(1000))) {
		t.Errorf("unexpected shortfall %s", rejection.Shortfall())
	}

	after, err := svc.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !after.CashBalance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("balance changed on rejected buy: %s", after.CashBalance)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.positions) != 0 {
		t.Error("position created on rejected buy")
	}
	if len(store.ledger) != 0 {
		t.Error("ledger entry written on rejected buy")
	}
}

func TestBuyRejections(t *testing.T) {
	svc, _, items := newFixture(t)
	ctx := context.Background()
	account := openTestAccount(t, svc)

	items.set(entity.Item{ID: 2, ExternalID: "900", Name: "Unreviewed", LastRefreshed: time.Now().UTC()})

	tests := []struct {
		name   string
		req    entity.BuyRequest
		reason entity.RejectionReason
	}{
		{
			name:   "zero shares",
			req:    entity.BuyRequest{AccountID: account.ID, ItemID: 1, Shares: 0},
			reason: entity.ReasonInvalidShares,
		},
		{
			name:   "negative shares",
			req:    entity.BuyRequest{AccountID: account.ID, ItemID: 1, Shares: -5},
			reason: entity.ReasonInvalidShares,
		},
		{
			name:   "unknown item",
			req:    entity.BuyRequest{AccountID: account.ID, ItemID: 999, Shares: 1},
			reason: entity.ReasonUnknownItem,
		},
		{
			name:   "unknown account",
			req:    entity.BuyRequest{AccountID: 999, ItemID: 1, Shares: 1},
			reason: entity.ReasonUnknownAccount,
		},
		{
			name:   "no tradable price",
			req:    entity.BuyRequest{AccountID: account.ID, ItemID: 2, Shares: 1},
			reason: entity.ReasonNoTradablePrice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Buy(ctx, tt.req)
			requireRejection(t, err, tt.reason)
		})
	}
}

func TestBuyAveragesCostBasisAcrossFills(t *testing.T) {
	svc, _, items := newFixture(t)
	ctx := context.Background()
	account := openTestAccount(t, svc)

	if _, err := svc.Buy(ctx, entity.BuyRequest{AccountID: account.ID, ItemID: 1, Shares: 4}); err != nil {
		t.Fatalf("first buy: %v", err)
	}

	// The item gets more popular between the fills, so the second buy
	// executes at a higher price.
	items.set(entity.Item{
		ID:              1,
		ExternalID:      "730",
		Name:            "Counter-Strike 2",
		PositiveReviews: 10000,
		TotalReviews:    10000,
		LastRefreshed:   time.Now().UTC(),
	})

	result, err := svc.Buy(ctx, entity.BuyRequest{AccountID: account.ID, ItemID: 1, Shares: 6})
	if err != nil {
		t.Fatalf("second buy: %v", err)
	}

	secondPrice := result.Entry.PricePerShare
	if !secondPrice.GreaterThan(testItemPrice) {
		t.Fatalf("expected second fill above %s, got %s", testItemPrice, secondPrice)
	}

	wantBasis := testItemPrice.Mul(decimal.NewFromInt(4)).
		Add(secondPrice.Mul(decimal.NewFromInt(6))).
		Div(decimal.NewFromInt(10))
	if !result.Position.AvgCostBasis.Equal(wantBasis) {
		t.Errorf("expected weighted basis %s, got %s", wantBasis, result.Position.AvgCostBasis)
	}
	if result.Position.Shares != 10 {
		t.Errorf("expected 10 shares, got %d", result.Position.Shares)
	}
}

func TestSellRoundTripConservesCash(t *testing.T) {
	svc, store, _ := newFixture(t)
	ctx := context.Background()
	account := openTestAccount(t, svc)

	if _, err := svc.Buy(ctx, entity.BuyRequest{AccountID: account.ID, ItemID: 1, Shares: 10}); err != nil {
		t.Fatalf("buy: %v", err)
	}

	partial, err := svc.Sell(ctx, entity.SellRequest{AccountID: account.ID, ItemID: 1, Shares: 4})
	if err != nil {
		t.Fatalf("partial sell: %v", err)
	}
	if partial.Position == nil {
		t.Fatal("expected remaining position after partial sell")
	}
	if partial.Position.Shares != 6 {
		t.Errorf("expected 6 shares left, got %d", partial.Position.Shares)
	}
	// Selling never moves the cost basis.
	if !partial.Position.AvgCostBasis.Equal(testItemPrice) {
		t.Errorf("cost basis moved on sell: %s", partial.Position.AvgCostBasis)
	}

	final, err := svc.Sell(ctx, entity.SellRequest{AccountID: account.ID, ItemID: 1, Shares: 6})
	if err != nil {
		t.Fatalf("final sell: %v", err)
	}
	if final.Position != nil {
		t.Error("expected position to be liquidated")
	}
	// Price did not move, so a full round trip restores the opening cash.
	if !final.Account.CashBalance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected balance 1000 after round trip, got %s", final.Account.CashBalance)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.positions) != 0 {
		t.Error("liquidated position still stored")
	}
	if len(store.ledger) != 3 {
		t.Errorf("expected 3 ledger entries, got %d", len(store.ledger))
	}
}

func TestSellRejections(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := context.Background()
	account := openTestAccount(t, svc)

	if _, err := svc.Buy(ctx, entity.BuyRequest{AccountID: account.ID, ItemID: 1, Shares: 3}); err != nil {
		t.Fatalf("buy: %v", err)
	}

	t.Run("invalid shares", func(t *testing.T) {
		_, err := svc.Sell(ctx, entity.SellRequest{AccountID: account.ID, ItemID: 1, Shares: 0})
		requireRejection(t, err, entity.ReasonInvalidShares)
	})

	t.Run("unknown account", func(t *testing.T) {
		_, err := svc.Sell(ctx, entity.SellRequest{AccountID: 999, ItemID: 1, Shares: 1})
		requireRejection(t, err, entity.ReasonUnknownAccount)
	})

	t.Run("oversell", func(t *testing.T) {
		_, err := svc.Sell(ctx, entity.SellRequest{AccountID: account.ID, ItemID: 1, Shares: 10})
		rejection := requireRejection(t, err, entity.ReasonInsufficientShares)
		if !rejection.Required.Equal(decimal.NewFromInt(10)) || !rejection.Available.Equal(decimal.NewFromInt(3)) {
			t.Errorf("unexpected shortfall detail: required %s available %s", rejection.Required, rejection.Available)
		}
	})

	t.Run("no position", func(t *testing.T) {
		second := openTestAccount(t, svc)
		_, err := svc.Sell(ctx, entity.SellRequest{AccountID: second.ID, ItemID: 1, Shares: 1})
		requireRejection(t, err, entity.ReasonNoPosition)
	})
}

func TestSellAtZeroPriceStillExits(t *testing.T) {
	svc, store, items := newFixture(t)
	ctx := context.Background()
	account := openTestAccount(t, svc)

	if _, err := svc.Buy(ctx, entity.BuyRequest{AccountID: account.ID, ItemID: 1, Shares: 5}); err != nil {
		t.Fatalf("buy: %v", err)
	}

	// The item loses all its review data; the holder can still exit, the
	// proceeds are just zero.
	items.set(entity.Item{ID: 1, ExternalID: "730", Name: "Counter-Strike 2", LastRefreshed: time.Now().UTC()})

	result, err := svc.Sell(ctx, entity.SellRequest{AccountID: account.ID, ItemID: 1, Shares: 5})
	if err != nil {
		t.Fatalf("sell at zero price: %v", err)
	}

	if !result.Entry.TotalAmount.IsZero() {
		t.Errorf("expected zero proceeds, got %s", result.Entry.TotalAmount)
	}
	wantBalance := decimal.NewFromInt(1000).Sub(testItemPrice.Mul(decimal.NewFromInt(5)))
	if !result.Account.CashBalance.Equal(wantBalance) {
		t.Errorf("expected balance %s, got %s", wantBalance, result.Account.CashBalance)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.positions) != 0 {
		t.Error("expected position to be liquidated")
	}
}

func TestFund(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := context.Background()
	account := openTestAccount(t, svc)

	result, err := svc.Fund(ctx, entity.FundRequest{
		AccountID:     account.ID,
		PaymentAmount: decimal.RequireFromString("4.99"),
	})
	if err != nil {
		t.Fatalf("fund: %v", err)
	}

	if !result.Account.CashBalance.Equal(decimal.NewFromInt(101000)) {
		t.Errorf("expected balance 101000, got %s", result.Account.CashBalance)
	}
	if !strings.HasPrefix(result.Record.TransactionID, "TXN-") {
		t.Errorf("unexpected transaction id %q", result.Record.TransactionID)
	}
	if result.Record.Status != entity.FundingStatusCompleted {
		t.Errorf("expected completed status, got %q", result.Record.Status)
	}
	if result.Record.PaymentMethod != "credit_card" {
		t.Errorf("expected default payment method, got %q", result.Record.PaymentMethod)
	}

	records, err := svc.ListFunding(ctx, account.ID)
	if err != nil {
		t.Fatalf("list funding: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 funding record, got %d", len(records))
	}
}

func TestFundUnknownPackageRejected(t *testing.T) {
	svc, _, _ := newFixture(t)
	account := openTestAccount(t, svc)

	_, err := svc.Fund(context.Background(), entity.FundRequest{
		AccountID:     account.ID,
		PaymentAmount: decimal.RequireFromString("9.99"),
	})
	requireRejection(t, err, entity.ReasonInvalidFunding)

	after, err := svc.GetAccount(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !after.CashBalance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("balance changed on rejected funding: %s", after.CashBalance)
	}
}

func TestLedgerAppendFailureRollsBackTrade(t *testing.T) {
	svc, store, _ := newFixture(t)
	ctx := context.Background()
	account := openTestAccount(t, svc)

	store.ledgerAppendErr = errors.New("disk full")

	_, err := svc.Buy(ctx, entity.BuyRequest{AccountID: account.ID, ItemID: 1, Shares: 1})
	if err == nil {
		t.Fatal("expected buy to fail")
	}

	after, err := svc.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !after.CashBalance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("debit survived a failed transaction: %s", after.CashBalance)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.positions) != 0 {
		t.Error("position survived a failed transaction")
	}
	if len(store.ledger) != 0 {
		t.Error("ledger entry survived a failed transaction")
	}
}

func TestConflictRetryRecovers(t *testing.T) {
	svc, store, _ := newFixture(t)
	ctx := context.Background()
	account := openTestAccount(t, svc)

	store.conflictsLeft = 2

	result, err := svc.Buy(ctx, entity.BuyRequest{AccountID: account.ID, ItemID: 1, Shares: 1})
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if result.Position == nil || result.Position.Shares != 1 {
		t.Error("trade did not apply after retries")
	}
}

func TestConflictRetryExhaustion(t *testing.T) {
	svc, store, _ := newFixture(t)
	ctx := context.Background()
	account := openTestAccount(t, svc)

	store.conflictsLeft = 10

	_, err := svc.Buy(ctx, entity.BuyRequest{AccountID: account.ID, ItemID: 1, Shares: 1})
	if !errors.Is(err, ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}

	after, err := svc.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !after.CashBalance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("balance changed on aborted trade: %s", after.CashBalance)
	}
}

func TestConcurrentBuysLoseNoUpdates(t *testing.T) {
	svc, store, _ := newFixture(t)
	ctx := context.Background()
	account := openTestAccount(t, svc)

	const workers = 8

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Buy(ctx, entity.BuyRequest{AccountID: account.ID, ItemID: 1, Shares: 1})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent buy: %v", err)
		}
	}

	after, err := svc.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	wantBalance := decimal.NewFromInt(1000).Sub(testItemPrice.Mul(decimal.NewFromInt(workers)))
	if !after.CashBalance.Equal(wantBalance) {
		t.Errorf("expected balance %s, got %s", wantBalance, after.CashBalance)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	position := store.positions[positionKey{account.ID, 1}]
	if position.Shares != workers {
		t.Errorf("expected %d shares, got %d", workers, position.Shares)
	}
	if len(store.ledger) != workers {
		t.Errorf("expected %d ledger entries, got %d", workers, len(store.ledger))
	}

	seen := make(map[int64]bool)
	for _, entry := range store.ledger {
		if seen[entry.ID] {
			t.Errorf("duplicate ledger id %d", entry.ID)
		}
		seen[entry.ID] = true
	}
}

func TestLedgerKeysetPagination(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := context.Background()
	account := openTestAccount(t, svc)

	for range 5 {
		if _, err := svc.Buy(ctx, entity.BuyRequest{AccountID: account.ID, ItemID: 1, Shares: 1}); err != nil {
			t.Fatalf("buy: %v", err)
		}
	}

	page := entity.LedgerPage{Limit: 2}
	var ids []int64
	for {
		entries, err := svc.ListLedger(ctx, account.ID, page)
		if err != nil {
			t.Fatalf("list ledger: %v", err)
		}
		if len(entries) == 0 {
			break
		}
		for _, entry := range entries {
			ids = append(ids, entry.ID)
		}
		page.BeforeID = null.IntFrom(entries[len(entries)-1].ID)
	}

	want := []int64{5, 4, 3, 2, 1}
	if len(ids) != len(want) {
		t.Fatalf("expected %d entries across pages, got %d", len(want), len(ids))
	}
	for i, id := range ids {
		if id != want[i] {
			t.Errorf("page order mismatch at %d: expected %d, got %d", i, want[i], id)
		}
	}
}

// Under contention a trade that sampled its quote first can commit last, so
// executed_at order and id order disagree. The cursor keys on id alone and
// must still visit every entry exactly once.
func TestLedgerPaginationSurvivesTimestampSkew(t *testing.T) {
	svc, store, _ := newFixture(t)
	ctx := context.Background()
	account := openTestAccount(t, svc)

	base := time.Now().UTC()
	store.mu.Lock()
	for i := 0; i < 5; i++ {
		store.nextLedgerID++
		store.ledger = append(store.ledger, entity.LedgerEntry{
			ID:            store.nextLedgerID,
			AccountID:     account.ID,
			ItemID:        1,
			Side:          entity.TradeSideBuy,
			Shares:        1,
			PricePerShare: testItemPrice,
			TotalAmount:   testItemPrice,
			// Later ids carry earlier timestamps.
			ExecutedAt: base.Add(-time.Duration(i) * time.Second),
		})
	}
	store.mu.Unlock()

	page := entity.LedgerPage{Limit: 2}
	seen := make(map[int64]int)
	var ids []int64
	for {
		entries, err := svc.ListLedger(ctx, account.ID, page)
		if err != nil {
			t.Fatalf("list ledger: %v", err)
		}
		if len(entries) == 0 {
			break
		}
		for _, entry := range entries {
			seen[entry.ID]++
			ids = append(ids, entry.ID)
		}
		page.BeforeID = null.IntFrom(entries[len(entries)-1].ID)
	}

	if len(ids) != 5 {
		t.Fatalf("expected 5 entries across pages, got %d (%v)", len(ids), ids)
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("entry %d returned %d times", id, count)
		}
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] >= ids[i-1] {
			t.Errorf("ids not strictly descending: %v", ids)
		}
	}
}
