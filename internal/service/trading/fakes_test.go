package trading

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/gamestock/gamestock-service/internal/entity"
	"github.com/lib/pq"
)

type positionKey struct {
	accountID int64
	itemID    int64
}

// memStore is an in-memory stand-in for the postgres stores. A single
// mutex plays the role of the row locks: every transaction holds it from
// begin to commit, and a failed transaction restores the pre-tx snapshot.
type memStore struct {
	mu sync.Mutex

	accounts  map[int64]entity.Account
	positions map[positionKey]entity.Position
	ledger    []entity.LedgerEntry
	funding   []entity.FundingRecord

	nextAccountID int64
	nextLedgerID  int64
	nextFundingID int64

	// fault injection
	conflictsLeft   int
	ledgerAppendErr error
}

func newMemStore() *memStore {
	return &memStore{
		accounts:  make(map[int64]entity.Account),
		positions: make(map[positionKey]entity.Position),
	}
}

type memSnapshot struct {
	accounts      map[int64]entity.Account
	positions     map[positionKey]entity.Position
	ledger        []entity.LedgerEntry
	funding       []entity.FundingRecord
	nextAccountID int64
	nextLedgerID  int64
	nextFundingID int64
}

func (m *memStore) snapshot() memSnapshot {
	accounts := make(map[int64]entity.Account, len(m.accounts))
	for id, account := range m.accounts {
		accounts[id] = account
	}
	positions := make(map[positionKey]entity.Position, len(m.positions))
	for key, position := range m.positions {
		positions[key] = position
	}

	return memSnapshot{
		accounts:      accounts,
		positions:     positions,
		ledger:        append([]entity.LedgerEntry(nil), m.ledger...),
		funding:       append([]entity.FundingRecord(nil), m.funding...),
		nextAccountID: m.nextAccountID,
		nextLedgerID:  m.nextLedgerID,
		nextFundingID: m.nextFundingID,
	}
}

func (m *memStore) restore(snap memSnapshot) {
	m.accounts = snap.accounts
	m.positions = snap.positions
	m.ledger = snap.ledger
	m.funding = snap.funding
	m.nextAccountID = snap.nextAccountID
	m.nextLedgerID = snap.nextLedgerID
	m.nextFundingID = snap.nextFundingID
}

func (m *memStore) WithinTradeTx(ctx context.Context, fn func(ctx context.Context, stores entity.TradeStores) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conflictsLeft > 0 {
		m.conflictsLeft--
		return &pq.Error{Code: "40001"}
	}

	snap := m.snapshot()
	if err := fn(ctx, m.stores(false)); err != nil {
		m.restore(snap)
		return err
	}

	return nil
}

// ReadStores returns the stores used outside a transaction. They lock per
// call so reads never observe a half-applied trade.
func (m *memStore) ReadStores() entity.TradeStores {
	return m.stores(true)
}

func (m *memStore) stores(locked bool) entity.TradeStores {
	return entity.TradeStores{
		Accounts:  &memAccounts{m: m, lock: locked},
		Positions: &memPositions{m: m, lock: locked},
		Ledger:    &memLedger{m: m, lock: locked},
		Funding:   &memFunding{m: m, lock: locked},
	}
}

type memAccounts struct {
	m    *memStore
	lock bool
}

func (a *memAccounts) Create(_ context.Context, account *entity.Account) error {
	if a.lock {
		a.m.mu.Lock()
		defer a.m.mu.Unlock()
	}

	a.m.nextAccountID++
	account.ID = a.m.nextAccountID
	a.m.accounts[account.ID] = *account
	return nil
}

func (a *memAccounts) GetByID(_ context.Context, id int64) (*entity.Account, error) {
	if a.lock {
		a.m.mu.Lock()
		defer a.m.mu.Unlock()
	}

	account, ok := a.m.accounts[id]
	if !ok {
		return nil, nil
	}
	return &account, nil
}

func (a *memAccounts) GetForUpdate(ctx context.Context, id int64) (*entity.Account, error) {
	return a.GetByID(ctx, id)
}

func (a *memAccounts) SetBalance(_ context.Context, account *entity.Account) error {
	if a.lock {
		a.m.mu.Lock()
		defer a.m.mu.Unlock()
	}

	stored, ok := a.m.accounts[account.ID]
	if !ok {
		return nil
	}
	stored.CashBalance = account.CashBalance
	a.m.accounts[account.ID] = stored
	return nil
}

type memPositions struct {
	m    *memStore
	lock bool
}

func (p *memPositions) Get(_ context.Context, accountID, itemID int64) (*entity.Position, error) {
	if p.lock {
		p.m.mu.Lock()
		defer p.m.mu.Unlock()
	}

	position, ok := p.m.positions[positionKey{accountID, itemID}]
	if !ok {
		return nil, nil
	}
	return &position, nil
}

func (p *memPositions) GetForUpdate(ctx context.Context, accountID, itemID int64) (*entity.Position, error) {
	return p.Get(ctx, accountID, itemID)
}

func (p *memPositions) Upsert(_ context.Context, position *entity.Position) error {
	if p.lock {
		p.m.mu.Lock()
		defer p.m.mu.Unlock()
	}

	p.m.positions[positionKey{position.AccountID, position.ItemID}] = *position
	return nil
}

func (p *memPositions) Delete(_ context.Context, accountID, itemID int64) error {
	if p.lock {
		p.m.mu.Lock()
		defer p.m.mu.Unlock()
	}

	delete(p.m.positions, positionKey{accountID, itemID})
	return nil
}

func (p *memPositions) ListByAccount(_ context.Context, accountID int64) ([]entity.Position, error) {
	if p.lock {
		p.m.mu.Lock()
		defer p.m.mu.Unlock()
	}

	var out []entity.Position
	for key, position := range p.m.positions {
		if key.accountID == accountID {
			out = append(out, position)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

type memLedger struct {
	m    *memStore
	lock bool
}

func (l *memLedger) Append(_ context.Context, entry *entity.LedgerEntry) error {
	if l.lock {
		l.m.mu.Lock()
		defer l.m.mu.Unlock()
	}

	if l.m.ledgerAppendErr != nil {
		return l.m.ledgerAppendErr
	}

	l.m.nextLedgerID++
	entry.ID = l.m.nextLedgerID
	l.m.ledger = append(l.m.ledger, *entry)
	return nil
}

func (l *memLedger) ListByAccount(_ context.Context, accountID int64, page entity.LedgerPage) ([]entity.LedgerEntry, error) {
	if l.lock {
		l.m.mu.Lock()
		defer l.m.mu.Unlock()
	}

	var out []entity.LedgerEntry
	for _, entry := range l.m.ledger {
		if entry.AccountID != accountID {
			continue
		}
		if page.BeforeID.Valid && entry.ID >= page.BeforeID.Int64 {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit := page.ResolvedLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memFunding struct {
	m    *memStore
	lock bool
}

func (f *memFunding) Create(_ context.Context, record *entity.FundingRecord) error {
	if f.lock {
		f.m.mu.Lock()
		defer f.m.mu.Unlock()
	}

	f.m.nextFundingID++
	record.ID = f.m.nextFundingID
	f.m.funding = append(f.m.funding, *record)
	return nil
}

func (f *memFunding) ListByAccount(_ context.Context, accountID int64) ([]entity.FundingRecord, error) {
	if f.lock {
		f.m.mu.Lock()
		defer f.m.mu.Unlock()
	}

	var out []entity.FundingRecord
	for _, record := range f.m.funding {
		if record.AccountID == accountID {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

type memItems struct {
	mu    sync.Mutex
	items map[int64]entity.Item
}

func newMemItems(items ...entity.Item) *memItems {
	m := &memItems{items: make(map[int64]entity.Item)}
	for _, item := range items {
		m.items[item.ID] = item
	}
	return m
}

func (m *memItems) set(item entity.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
}

func (m *memItems) GetByID(_ context.Context, id int64) (*entity.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (m *memItems) GetByExternalID(_ context.Context, externalID string) (*entity.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range m.items {
		if item.ExternalID == externalID {
			found := item
			return &found, nil
		}
	}
	return nil, nil
}

func (m *memItems) Search(_ context.Context, keyword string, limit int) ([]entity.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []entity.Item
	for _, item := range m.items {
		if strings.Contains(strings.ToLower(item.Name), strings.ToLower(keyword)) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memItems) List(_ context.Context, limit int) ([]entity.Item, error) {
	return m.Search(context.Background(), "", limit)
}
