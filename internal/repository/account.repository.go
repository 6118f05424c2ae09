package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/gamestock/gamestock-service/internal/entity"
	"github.com/jmoiron/sqlx"
)

type AccountRepository struct {
	db sqlx.ExtContext
}

func NewAccountRepository(db sqlx.ExtContext) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, account *entity.Account) error {
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(account.TableName()).
		Columns(
			"cash_balance",
			"created_at",
			"updated_at",
		).
		Values(
			account.CashBalance,
			account.CreatedAt,
			account.UpdatedAt,
		).
		Suffix("RETURNING id")

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	return r.db.QueryRowxContext(ctx, query, args...).Scan(&account.ID)
}

func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*entity.Account, error) {
	return r.get(ctx, id, false)
}

func (r *AccountRepository) GetForUpdate(ctx context.Context, id int64) (*entity.Account, error) {
	return r.get(ctx, id, true)
}

func (r *AccountRepository) get(ctx context.Context, id int64, forUpdate bool) (*entity.Account, error) {
	query := "SELECT * FROM accounts WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}

	var account entity.Account
	err := sqlx.GetContext(ctx, r.db, &account, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &account, nil
}

func (r *AccountRepository) SetBalance(ctx context.Context, account *entity.Account) error {
	account.UpdatedAt = time.Now().UTC()

	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Update(account.TableName()).
		Set("cash_balance", account.CashBalance).
		Set("updated_at", account.UpdatedAt).
		Where(sq.Eq{"id": account.ID})

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}
