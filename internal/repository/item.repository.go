package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/gamestock/gamestock-service/internal/entity"
	"github.com/jmoiron/sqlx"
)

const defaultItemListLimit = 50

// ItemRepository is read-only from the trading side. Item rows are written
// by the catalog sync collaborator.
type ItemRepository struct {
	db sqlx.ExtContext
}

func NewItemRepository(db sqlx.ExtContext) *ItemRepository {
	return &ItemRepository{db: db}
}

func (r *ItemRepository) GetByID(ctx context.Context, id int64) (*entity.Item, error) {
	var item entity.Item
	err := sqlx.GetContext(ctx, r.db, &item, "SELECT * FROM items WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &item, nil
}

func (r *ItemRepository) GetByExternalID(ctx context.Context, externalID string) (*entity.Item, error) {
	var item entity.Item
	err := sqlx.GetContext(ctx, r.db, &item, "SELECT * FROM items WHERE external_id = $1", externalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &item, nil
}

func (r *ItemRepository) Search(ctx context.Context, keyword string, limit int) ([]entity.Item, error) {
	if limit <= 0 {
		limit = defaultItemListLimit
	}

	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("*").
		From("items").
		Where(sq.ILike{"name": fmt.Sprintf("%%%s%%", keyword)}).
		OrderBy("positive_reviews desc").
		Limit(uint64(limit))

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var items []entity.Item
	err = sqlx.SelectContext(ctx, r.db, &items, query, args...)
	if err != nil {
		return nil, err
	}

	return items, nil
}

func (r *ItemRepository) List(ctx context.Context, limit int) ([]entity.Item, error) {
	if limit <= 0 {
		limit = defaultItemListLimit
	}

	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("*").
		From("items").
		OrderBy("positive_reviews desc").
		Limit(uint64(limit))

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, err
	}

	var items []entity.Item
	err = sqlx.SelectContext(ctx, r.db, &items, query, args...)
	if err != nil {
		return nil, err
	}

	return items, nil
}

// Create exists for seeding development data; production item rows come
// from catalog sync.
func (r *ItemRepository) Create(ctx context.Context, item *entity.Item) error {
	queryBuilder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(item.TableName()).
		Columns(
			"external_id",
			"name",
			"positive_reviews",
			"total_reviews",
			"last_refreshed",
		).
		Values(
			item.ExternalID,
			item.Name,
			item.PositiveReviews,
			item.TotalReviews,
			item.LastRefreshed,
		).
		Suffix(`ON CONFLICT (external_id)
DO UPDATE SET
	name = EXCLUDED.name,
	positive_reviews = EXCLUDED.positive_reviews,
	total_reviews = EXCLUDED.total_reviews,
	last_refreshed = EXCLUDED.last_refreshed
RETURNING id`)

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return err
	}

	return r.db.QueryRowxContext(ctx, query, args...).Scan(&item.ID)
}
