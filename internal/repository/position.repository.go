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

type PositionRepository struct {
	db sqlx.ExtContext
}

func NewPositionRepository(db sqlx.ExtContext) *PositionRepository {
	return &PositionRepository{db: db}
}

func (r *PositionRepository) Get(ctx context.Context, accountID, itemID int64) (*entity.Position, error) {
	return r.get(ctx, accountID, itemID, false)
}

func (r *PositionRepository) GetForUpdate(ctx context.Context, accountID, itemID int64) (*entity.Position, error) {
	return r.get(ctx, accountID, itemID, true)
}

func (r *PositionRepository) get(ctx context.Context, accountID, itemID int64, forUpdate bool) (*entity.Position, error) {
	query := "SELECT * FROM positions WHERE account_id = $1 AND item_id = $2"
	if forUpdate {
		query += " FOR UPDATE"
	}

	var position entity.Position
	err := sqlx.GetContext(ctx, r.db, &position, query, accountID, itemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &position, nil
}

func (r *PositionRepository) Upsert(ctx context.Context, position *entity.Position) error {
	now := time.Now().UTC()
	if position.CreatedAt.IsZero() {
		position.CreatedAt = now
	}
	position.UpdatedAt = now

	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(position.TableName()).
		Columns(
			"account_id",
			"item_id",
			"shares",
			"avg_cost_basis",
			"created_at",
			"updated_at",
		).
		Values(
			position.AccountID,
			position.ItemID,
			position.Shares,
			position.AvgCostBasis,
			position.CreatedAt,
			position.UpdatedAt,
		).
		Suffix(`ON CONFLICT (account_id, item_id)
DO UPDATE SET
	shares = EXCLUDED.shares,
	avg_cost_basis = EXCLUDED.avg_cost_basis,
	updated_at = EXCLUDED.updated_at`)

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *PositionRepository) Delete(ctx context.Context, accountID, itemID int64) error {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Delete("positions").
		Where(sq.Eq{"account_id": accountID, "item_id": itemID})

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *PositionRepository) ListByAccount(ctx context.Context, accountID int64) ([]entity.Position, error) {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("*").
		From("positions").
		Where(sq.Eq{"account_id": accountID}).
		OrderBy("item_id asc")

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var positions []entity.Position
	err = sqlx.SelectContext(ctx, r.db, &positions, query, args...)
	if err != nil {
		return nil, err
	}

	return positions, nil
}
