package entity

import "context"

// Store contracts the trading engine is built against. The postgres
// implementations live in internal/repository; tests run against
// in-memory fakes. All lookups return (nil, nil) when the row is absent.

type AccountStore interface {
	Create(ctx context.Context, account *Account) error
	GetByID(ctx context.Context, id int64) (*Account, error)
	// GetForUpdate locks the account row for the rest of the enclosing
	// transaction.
	GetForUpdate(ctx context.Context, id int64) (*Account, error)
	SetBalance(ctx context.Context, account *Account) error
}

type PositionStore interface {
	Get(ctx context.Context, accountID, itemID int64) (*Position, error)
	GetForUpdate(ctx context.Context, accountID, itemID int64) (*Position, error)
	Upsert(ctx context.Context, position *Position) error
	Delete(ctx context.Context, accountID, itemID int64) error
	ListByAccount(ctx context.Context, accountID int64) ([]Position, error)
}

type LedgerStore interface {
	// Append writes one immutable entry and fills in its committed id.
	Append(ctx context.Context, entry *LedgerEntry) error
	ListByAccount(ctx context.Context, accountID int64, page LedgerPage) ([]LedgerEntry, error)
}

type FundingStore interface {
	Create(ctx context.Context, record *FundingRecord) error
	ListByAccount(ctx context.Context, accountID int64) ([]FundingRecord, error)
}

type ItemStore interface {
	GetByID(ctx context.Context, id int64) (*Item, error)
	GetByExternalID(ctx context.Context, externalID string) (*Item, error)
	Search(ctx context.Context, keyword string, limit int) ([]Item, error)
	List(ctx context.Context, limit int) ([]Item, error)
}

// TradeStores bundles the mutable stores visible inside one trade
// transaction.
type TradeStores struct {
	Accounts  AccountStore
	Positions PositionStore
	Ledger    LedgerStore
	Funding   FundingStore
}

// Atomic runs fn as one atomic unit: every store mutation inside fn
// commits together or not at all. Returning an error from fn rolls the
// whole unit back.
type Atomic interface {
	WithinTradeTx(ctx context.Context, fn func(ctx context.Context, stores TradeStores) error) error
}
