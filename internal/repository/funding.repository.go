package repository

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/gamestock/gamestock-service/internal/entity"
	"github.com/jmoiron/sqlx"
)

type FundingRepository struct {
	db sqlx.ExtContext
}

func NewFundingRepository(db sqlx.ExtContext) *FundingRepository {
	return &FundingRepository{db: db}
}

func (r *FundingRepository) Create(ctx context.Context, record *entity.FundingRecord) error {
	record.CreatedAt = time.Now().UTC()

	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(record.TableName()).
		Columns(
			"account_id",
			"transaction_id",
			"payment_amount",
			"credited_funds",
			"payment_method",
			"status",
			"created_at",
		).
		Values(
			record.AccountID,
			record.TransactionID,
			record.PaymentAmount,
			record.CreditedFunds,
			record.PaymentMethod,
			record.Status,
			record.CreatedAt,
		).
		Suffix("RETURNING id")

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	return r.db.QueryRowxContext(ctx, query, args...).Scan(&record.ID)
}

func (r *FundingRepository) ListByAccount(ctx context.Context, accountID int64) ([]entity.FundingRecord, error) {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("*").
		From("funding_records").
		Where(sq.Eq{"account_id": accountID}).
		OrderBy("created_at desc", "id desc")

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var records []entity.FundingRecord
	err = sqlx.SelectContext(ctx, r.db, &records, query, args...)
	if err != nil {
		return nil, err
	}

	return records, nil
}
