package repository

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/gamestock/gamestock-service/internal/entity"
	"github.com/jmoiron/sqlx"
)

// LedgerRepository is append-only: entries are never updated or deleted.
// Ids come from a bigserial, so they are monotonically increasing in
// commit order.
type LedgerRepository struct {
	db sqlx.ExtContext
}

func NewLedgerRepository(db sqlx.ExtContext) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Append(ctx context.Context, entry *entity.LedgerEntry) error {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(entry.TableName()).
		Columns(
			"account_id",
			"item_id",
			"side",
			"shares",
			"price_per_share",
			"total_amount",
			"executed_at",
		).
		Values(
			entry.AccountID,
			entry.ItemID,
			entry.Side,
			entry.Shares,
			entry.PricePerShare,
			entry.TotalAmount,
			entry.ExecutedAt,
		).
		Suffix("RETURNING id")

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	return r.db.QueryRowxContext(ctx, query, args...).Scan(&entry.ID)
}

// ListByAccount pages newest-first with a keyset cursor on id. The sort
// key is the id alone: ids are commit-ordered, so the cursor and the sort
// always agree, and appends committed after a page was served only ever
// add newer entries. Ordering by executed_at would break that whenever
// timestamp order disagrees with commit order.
func (r *LedgerRepository) ListByAccount(ctx context.Context, accountID int64, page entity.LedgerPage) ([]entity.LedgerEntry, error) {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("*").
		From("ledger_entries").
		Where(sq.Eq{"account_id": accountID}).
		OrderBy("id desc").
		Limit(uint64(page.ResolvedLimit()))

	if page.BeforeID.Valid {
		queryBuilder = queryBuilder.Where(sq.Lt{"id": page.BeforeID.Int64})
	}

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var entries []entity.LedgerEntry
	err = sqlx.SelectContext(ctx, r.db, &entries, query, args...)
	if err != nil {
		return nil, err
	}

	return entries, nil
}
