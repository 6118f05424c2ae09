package trading

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/gamestock/gamestock-service/internal/config"
	"github.com/gamestock/gamestock-service/internal/constant"
	"github.com/gamestock/gamestock-service/internal/entity"
	"github.com/gamestock/gamestock-service/internal/pricing"
	"github.com/gamestock/gamestock-service/internal/repository"
	"github.com/gamestock/gamestock-service/internal/util"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrConcurrencyConflict = errors.New("order aborted after repeated lock conflicts")
)

const (
	defaultMaxConflictRetries = 3
	defaultRetryMinJitter     = 5 * time.Millisecond
	defaultRetryMaxJitter     = 50 * time.Millisecond
)

type FundingPackage struct {
	PaymentAmount decimal.Decimal
	CreditedFunds decimal.Decimal
}

type Config struct {
	StartingBalance    decimal.Decimal
	MaxConflictRetries int
	RetryMinJitter     time.Duration
	RetryMaxJitter     time.Duration
	FundingPackages    []FundingPackage
}

func DefaultConfig() Config {
	return Config{
		StartingBalance:    decimal.NewFromInt(1000),
		MaxConflictRetries: defaultMaxConflictRetries,
		RetryMinJitter:     defaultRetryMinJitter,
		RetryMaxJitter:     defaultRetryMaxJitter,
		FundingPackages: []FundingPackage{
			{PaymentAmount: decimal.RequireFromString("4.99"), CreditedFunds: decimal.NewFromInt(100000)},
		},
	}
}

func ConfigFromEnv(cfg config.TradingConfig) Config {
	out := DefaultConfig()
	if cfg.StartingBalance.IsPositive() {
		out.StartingBalance = cfg.StartingBalance
	}
	if cfg.MaxConflictRetries > 0 {
		out.MaxConflictRetries = cfg.MaxConflictRetries
	}
	if cfg.RetryMinJitter > 0 {
		out.RetryMinJitter = cfg.RetryMinJitter
	}
	if cfg.RetryMaxJitter > 0 {
		out.RetryMaxJitter = cfg.RetryMaxJitter
	}
	if len(cfg.FundingPackages) > 0 {
		out.FundingPackages = make([]FundingPackage, 0, len(cfg.FundingPackages))
		for _, pkg := range cfg.FundingPackages {
			out.FundingPackages = append(out.FundingPackages, FundingPackage{
				PaymentAmount: pkg.PaymentAmount,
				CreditedFunds: pkg.CreditedFunds,
			})
		}
	}

	return out
}

// TradingService executes one order at a time per account. All durable
// state lives in the injected stores; the service itself keeps nothing
// between calls.
type TradingService struct {
	items  entity.ItemStore
	reads  entity.TradeStores
	atomic entity.Atomic
	oracle *pricing.Oracle
	js     nats.JetStreamContext
	config Config
}

func NewTradingService(items entity.ItemStore, reads entity.TradeStores, atomic entity.Atomic, oracle *pricing.Oracle, js nats.JetStreamContext, cfg Config) *TradingService {
	if cfg.MaxConflictRetries <= 0 {
		cfg.MaxConflictRetries = defaultMaxConflictRetries
	}
	if cfg.RetryMinJitter <= 0 {
		cfg.RetryMinJitter = defaultRetryMinJitter
	}
	if cfg.RetryMaxJitter < cfg.RetryMinJitter {
		cfg.RetryMaxJitter = cfg.RetryMinJitter
	}

	return &TradingService{
		items:  items,
		reads:  reads,
		atomic: atomic,
		oracle: oracle,
		js:     js,
		config: cfg,
	}
}

// Buy executes a market buy at the oracle's current price. The balance
// check, debit, position upsert and ledger append commit as one unit or
// not at all.
func (s *TradingService) Buy(ctx context.Context, req entity.BuyRequest) (*entity.ExecutionResult, error) {
	if req.Shares <= 0 {
		return nil, entity.NewRejection(entity.ReasonInvalidShares, "shares must be a positive integer")
	}

	item, err := s.items.GetByID(ctx, req.ItemID)
	if err != nil {
		return nil, fmt.Errorf("resolve item: %w", err)
	}
	if item == nil {
		return nil, entity.NewRejection(entity.ReasonUnknownItem, "item does not exist")
	}

	quote := s.oracle.Quote(*item, time.Now().UTC())
	if !quote.Tradable() {
		return nil, entity.NewRejection(entity.ReasonNoTradablePrice, "item has no tradable price")
	}

	cost := quote.Price.Mul(decimal.NewFromInt(req.Shares))

	var result *entity.ExecutionResult
	err = s.withConflictRetry(ctx, func() error {
		return s.atomic.WithinTradeTx(ctx, func(ctx context.Context, stores entity.TradeStores) error {
			account, err := stores.Accounts.GetForUpdate(ctx, req.AccountID)
			if err != nil {
				return err
			}
			if account == nil {
				return entity.NewRejection(entity.ReasonUnknownAccount, "account does not exist")
			}

			if account.CashBalance.LessThan(cost) {
				return entity.NewShortfallRejection(entity.ReasonInsufficientFunds, "insufficient funds", cost, account.CashBalance)
			}

			account.CashBalance = account.CashBalance.Sub(cost)
			if err := stores.Accounts.SetBalance(ctx, account); err != nil {
				return err
			}

			position, err := stores.Positions.GetForUpdate(ctx, req.AccountID, req.ItemID)
			if err != nil {
				return err
			}

			if position == nil {
				position = &entity.Position{
					AccountID:    req.AccountID,
					ItemID:       req.ItemID,
					Shares:       req.Shares,
					AvgCostBasis: quote.Price,
				}
			} else {
				oldCost := position.AvgCostBasis.Mul(decimal.NewFromInt(position.Shares))
				newShares := position.Shares + req.Shares
				position.AvgCostBasis = oldCost.Add(cost).Div(decimal.NewFromInt(newShares))
				position.Shares = newShares
			}

			if err := stores.Positions.Upsert(ctx, position); err != nil {
				return err
			}

			// Stamped under the row lock so executed_at tracks commit
			// order, not quote order.
			entry := &entity.LedgerEntry{
				AccountID:     req.AccountID,
				ItemID:        req.ItemID,
				Side:          entity.TradeSideBuy,
				Shares:        req.Shares,
				PricePerShare: quote.Price,
				TotalAmount:   cost,
				ExecutedAt:    time.Now().UTC(),
			}
			if err := stores.Ledger.Append(ctx, entry); err != nil {
				return err
			}

			result = &entity.ExecutionResult{
				Account:  *account,
				Position: position,
				Entry:    *entry,
				Quote:    quote,
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.publishTradeExecuted(result)

	return result, nil
}

// Sell executes a market sell. A holder can always exit: selling against
// a zero or stale price is allowed and simply yields that price.
func (s *TradingService) Sell(ctx context.Context, req entity.SellRequest) (*entity.ExecutionResult, error) {
	if req.Shares <= 0 {
		return nil, entity.NewRejection(entity.ReasonInvalidShares, "shares must be a positive integer")
	}

	item, err := s.items.GetByID(ctx, req.ItemID)
	if err != nil {
		return nil, fmt.Errorf("resolve item: %w", err)
	}
	if item == nil {
		return nil, entity.NewRejection(entity.ReasonUnknownItem, "item does not exist")
	}

	quote := s.oracle.Quote(*item, time.Now().UTC())
	revenue := quote.Price.Mul(decimal.NewFromInt(req.Shares))

	var result *entity.ExecutionResult
	err = s.withConflictRetry(ctx, func() error {
		return s.atomic.WithinTradeTx(ctx, func(ctx context.Context, stores entity.TradeStores) error {
			account, err := stores.Accounts.GetForUpdate(ctx, req.AccountID)
			if err != nil {
				return err
			}
			if account == nil {
				return entity.NewRejection(entity.ReasonUnknownAccount, "account does not exist")
			}

			position, err := stores.Positions.GetForUpdate(ctx, req.AccountID, req.ItemID)
			if err != nil {
				return err
			}
			if position == nil {
				return entity.NewRejection(entity.ReasonNoPosition, "no position held for this item")
			}
			if position.Shares < req.Shares {
				return entity.NewShortfallRejection(
					entity.ReasonInsufficientShares,
					"insufficient shares",
					decimal.NewFromInt(req.Shares),
					decimal.NewFromInt(position.Shares),
				)
			}

			account.CashBalance = account.CashBalance.Add(revenue)
			if err := stores.Accounts.SetBalance(ctx, account); err != nil {
				return err
			}

			// Cost basis only moves on buys.
			position.Shares -= req.Shares
			if position.Shares == 0 {
				if err := stores.Positions.Delete(ctx, req.AccountID, req.ItemID); err != nil {
					return err
				}
				position = nil
			} else {
				if err := stores.Positions.Upsert(ctx, position); err != nil {
					return err
				}
			}

			entry := &entity.LedgerEntry{
				AccountID:     req.AccountID,
				ItemID:        req.ItemID,
				Side:          entity.TradeSideSell,
				Shares:        req.Shares,
				PricePerShare: quote.Price,
				TotalAmount:   revenue,
				ExecutedAt:    time.Now().UTC(),
			}
			if err := stores.Ledger.Append(ctx, entry); err != nil {
				return err
			}

			result = &entity.ExecutionResult{
				Account:  *account,
				Position: position,
				Entry:    *entry,
				Quote:    quote,
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.publishTradeExecuted(result)

	return result, nil
}

// Fund credits an account with the virtual funds of a configured funding
// package and records the payment, atomically.
func (s *TradingService) Fund(ctx context.Context, req entity.FundRequest) (*entity.FundResult, error) {
	pkg, ok := s.findFundingPackage(req.PaymentAmount)
	if !ok {
		return nil, entity.NewRejection(entity.ReasonInvalidFunding, "no funding package matches this payment amount")
	}

	method := req.PaymentMethod
	if method == "" {
		method = "credit_card"
	}

	var result *entity.FundResult
	err := s.withConflictRetry(ctx, func() error {
		return s.atomic.WithinTradeTx(ctx, func(ctx context.Context, stores entity.TradeStores) error {
			account, err := stores.Accounts.GetForUpdate(ctx, req.AccountID)
			if err != nil {
				return err
			}
			if account == nil {
				return entity.NewRejection(entity.ReasonUnknownAccount, "account does not exist")
			}

			account.CashBalance = account.CashBalance.Add(pkg.CreditedFunds)
			if err := stores.Accounts.SetBalance(ctx, account); err != nil {
				return err
			}

			record := &entity.FundingRecord{
				AccountID:     req.AccountID,
				TransactionID: fmt.Sprintf("TXN-%s", uuid.NewString()),
				PaymentAmount: pkg.PaymentAmount,
				CreditedFunds: pkg.CreditedFunds,
				PaymentMethod: method,
				Status:        entity.FundingStatusCompleted,
			}
			if err := stores.Funding.Create(ctx, record); err != nil {
				return err
			}

			result = &entity.FundResult{
				Account: *account,
				Record:  *record,
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// OpenAccount provisions the cash row for an identity owned by the
// request layer.
func (s *TradingService) OpenAccount(ctx context.Context) (*entity.Account, error) {
	account := &entity.Account{CashBalance: s.config.StartingBalance}
	if err := s.reads.Accounts.Create(ctx, account); err != nil {
		return nil, err
	}

	return account, nil
}

func (s *TradingService) ListLedger(ctx context.Context, accountID int64, page entity.LedgerPage) ([]entity.LedgerEntry, error) {
	return s.reads.Ledger.ListByAccount(ctx, accountID, page)
}

func (s *TradingService) ListFunding(ctx context.Context, accountID int64) ([]entity.FundingRecord, error) {
	return s.reads.Funding.ListByAccount(ctx, accountID)
}

func (s *TradingService) GetAccount(ctx context.Context, accountID int64) (*entity.Account, error) {
	return s.reads.Accounts.GetByID(ctx, accountID)
}

func (s *TradingService) findFundingPackage(paymentAmount decimal.Decimal) (FundingPackage, bool) {
	for _, pkg := range s.config.FundingPackages {
		if pkg.PaymentAmount.Equal(paymentAmount) {
			return pkg, true
		}
	}

	return FundingPackage{}, false
}

// withConflictRetry retries transient lock conflicts with a short jittered
// pause. Rejections and real storage failures pass through untouched.
func (s *TradingService) withConflictRetry(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < s.config.MaxConflictRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rejection *entity.Rejection
		if errors.As(err, &rejection) {
			return err
		}

		if !repository.IsSerializationFailure(err) {
			return err
		}

		lastErr = err
		logrus.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"max":     s.config.MaxConflictRetries,
		}).Warnf("trade transaction conflict: %v", err)

		select {
		case <-time.After(s.retryJitter()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("%w: %v", ErrConcurrencyConflict, lastErr)
}

func (s *TradingService) retryJitter() time.Duration {
	window := s.config.RetryMaxJitter - s.config.RetryMinJitter
	if window <= 0 {
		return s.config.RetryMinJitter
	}

	return s.config.RetryMinJitter + time.Duration(rand.Int63n(int64(window)+1))
}

func (s *TradingService) JetstreamEventInit(ctx context.Context) error {
	if s.js == nil {
		return nil
	}

	streamConfig := &nats.StreamConfig{
		Name:      constant.TradingStreamName,
		Subjects:  []string{constant.TradingStreamSubjectAll},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    24 * time.Hour,
	}

	stream, err := s.js.StreamInfo(constant.TradingStreamName, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		logrus.Error(err)
		return err
	}

	if stream == nil {
		logrus.Infof("creating stream: %s", constant.TradingStreamName)
		_, err = s.js.AddStream(streamConfig, nats.Context(ctx))
		return err
	}

	logrus.Infof("updating stream: %s", constant.TradingStreamName)
	_, err = s.js.UpdateStream(streamConfig, nats.Context(ctx))
	if err != nil {
		logrus.Error(err)
		return err
	}

	return nil
}

// publishTradeExecuted is best effort: a commit already happened, so an
// event failure is logged and swallowed.
func (s *TradingService) publishTradeExecuted(result *entity.ExecutionResult) {
	if s.js == nil || result == nil {
		return
	}

	event := entity.TradeExecutedEvent{
		Entry:      result.Entry,
		PriceStale: result.Quote.Stale,
	}

	if err := util.PublishEvent(s.js, constant.TradingStreamSubjectTradeExecuted, event); err != nil {
		logrus.Errorf("failed to publish trade executed event: %v", err)
	}
}
