package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/gamestock/gamestock-service/internal/entity"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// TxManager implements entity.Atomic on postgres. Every trade runs inside
// one transaction; row locks taken via the ForUpdate lookups serialize
// concurrent orders touching the same account.
type TxManager struct {
	db *sqlx.DB
}

func NewTxManager(db *sqlx.DB) *TxManager {
	return &TxManager{db: db}
}

func (m *TxManager) WithinTradeTx(ctx context.Context, fn func(ctx context.Context, stores entity.TradeStores) error) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	stores := entity.TradeStores{
		Accounts:  NewAccountRepository(tx),
		Positions: NewPositionRepository(tx),
		Ledger:    NewLedgerRepository(tx),
		Funding:   NewFundingRepository(tx),
	}

	if err := fn(ctx, stores); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logrus.Errorf("transaction rollback failed: %v", rbErr)
		}
		return err
	}

	return tx.Commit()
}

// NewTradeStores returns non-transactional stores for the read path.
func NewTradeStores(db *sqlx.DB) entity.TradeStores {
	return entity.TradeStores{
		Accounts:  NewAccountRepository(db),
		Positions: NewPositionRepository(db),
		Ledger:    NewLedgerRepository(db),
		Funding:   NewFundingRepository(db),
	}
}

// IsSerializationFailure reports whether err is a transient lock conflict
// worth retrying: postgres serialization_failure (40001) or
// deadlock_detected (40P01).
func IsSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}

	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}
