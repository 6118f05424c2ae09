package entity

import (
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

type TradeSide string

const (
	TradeSideBuy  TradeSide = "BUY"
	TradeSideSell TradeSide = "SELL"
)

type Account struct {
	ID          int64           `db:"id" json:"id"`
	CashBalance decimal.Decimal `db:"cash_balance" json:"cash_balance"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

// Item rows are owned by the catalog sync collaborator. The trading side
// only ever reads the latest committed snapshot.
type Item struct {
	ID              int64     `db:"id" json:"id"`
	ExternalID      string    `db:"external_id" json:"external_id"`
	Name            string    `db:"name" json:"name"`
	PositiveReviews int64     `db:"positive_reviews" json:"positive_reviews"`
	TotalReviews    int64     `db:"total_reviews" json:"total_reviews"`
	LastRefreshed   time.Time `db:"last_refreshed" json:"last_refreshed"`
}

func (Item) TableName() string {
	return "items"
}

func (i Item) ReviewRate() float64 {
	if i.TotalReviews <= 0 {
		return 0
	}

	return float64(i.PositiveReviews) / float64(i.TotalReviews)
}

// Position holds an account's stake in one item. A row only exists while
// shares > 0; selling down to zero deletes it.
type Position struct {
	AccountID    int64           `db:"account_id" json:"account_id"`
	ItemID       int64           `db:"item_id" json:"item_id"`
	Shares       int64           `db:"shares" json:"shares"`
	AvgCostBasis decimal.Decimal `db:"avg_cost_basis" json:"avg_cost_basis"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

func (Position) TableName() string {
	return "positions"
}

func (p Position) CostValue() decimal.Decimal {
	return p.AvgCostBasis.Mul(decimal.NewFromInt(p.Shares))
}

// LedgerEntry is immutable once appended. Ids are assigned by the store in
// commit order.
type LedgerEntry struct {
	ID            int64           `db:"id" json:"id"`
	AccountID     int64           `db:"account_id" json:"account_id"`
	ItemID        int64           `db:"item_id" json:"item_id"`
	Side          TradeSide       `db:"side" json:"side"`
	Shares        int64           `db:"shares" json:"shares"`
	PricePerShare decimal.Decimal `db:"price_per_share" json:"price_per_share"`
	TotalAmount   decimal.Decimal `db:"total_amount" json:"total_amount"`
	ExecutedAt    time.Time       `db:"executed_at" json:"executed_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

type FundingRecord struct {
	ID            int64           `db:"id" json:"id"`
	AccountID     int64           `db:"account_id" json:"account_id"`
	TransactionID string          `db:"transaction_id" json:"transaction_id"`
	PaymentAmount decimal.Decimal `db:"payment_amount" json:"payment_amount"`
	CreditedFunds decimal.Decimal `db:"credited_funds" json:"credited_funds"`
	PaymentMethod string          `db:"payment_method" json:"payment_method"`
	Status        string          `db:"status" json:"status"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

func (FundingRecord) TableName() string {
	return "funding_records"
}

const FundingStatusCompleted = "completed"

// Quote is the oracle's answer for one item. A zero price means the item
// has no usable popularity data; staleness is advisory and never blocks a
// trade by itself.
type Quote struct {
	ItemID int64           `json:"item_id"`
	Price  decimal.Decimal `json:"price"`
	Stale  bool            `json:"stale"`
	AsOf   time.Time       `json:"as_of"`
}

func (q Quote) Tradable() bool {
	return q.Price.IsPositive()
}

type BuyRequest struct {
	AccountID int64
	ItemID    int64
	Shares    int64
}

type SellRequest struct {
	AccountID int64
	ItemID    int64
	Shares    int64
}

type FundRequest struct {
	AccountID     int64
	PaymentAmount decimal.Decimal
	PaymentMethod string
}

// ExecutionResult echoes the post-commit state of a trade. Position is nil
// when a sell fully liquidated the holding.
type ExecutionResult struct {
	Account  Account
	Position *Position
	Entry    LedgerEntry
	Quote    Quote
}

type FundResult struct {
	Account Account
	Record  FundingRecord
}

const (
	defaultLedgerPageSize = 20
	maxLedgerPageSize     = 100
)

// LedgerPage is a keyset cursor: entries with an id strictly below
// BeforeID, newest id first. A fresh append can never reshuffle pages
// already served.
type LedgerPage struct {
	BeforeID null.Int
	Limit    int
}

// ResolvedLimit clamps Limit to the served page size. Every reader of a
// page must use this so "page is full" means the same thing everywhere.
func (p LedgerPage) ResolvedLimit() int {
	if p.Limit <= 0 {
		return defaultLedgerPageSize
	}
	if p.Limit > maxLedgerPageSize {
		return maxLedgerPageSize
	}

	return p.Limit
}

type PositionValuation struct {
	Position        Position        `json:"position"`
	Item            Item            `json:"item"`
	Quote           Quote           `json:"quote"`
	MarketValue     decimal.Decimal `json:"market_value"`
	UnrealizedPL    decimal.Decimal `json:"unrealized_pl"`
	UnrealizedPLPct decimal.Decimal `json:"unrealized_pl_percent"`
}

type PortfolioSummary struct {
	Account           Account             `json:"account"`
	Holdings          []PositionValuation `json:"holdings"`
	TotalMarketValue  decimal.Decimal     `json:"total_market_value"`
	TotalCostValue    decimal.Decimal     `json:"total_cost_value"`
	TotalUnrealizedPL decimal.Decimal     `json:"total_unrealized_pl"`
	TotalAssets       decimal.Decimal     `json:"total_assets"`
}

type TradeExecutedEvent struct {
	Entry      LedgerEntry `json:"entry"`
	PriceStale bool        `json:"price_stale"`
}

type ItemRefreshedEvent struct {
	ItemID int64 `json:"item_id"`
}
