package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"listsync/internal/models"
	"listsync/pkg/logger"
)

const itemColumns = `id, list_id, text, checked, created_at, updated_at`

// Items persists list items.
type Items struct {
	db *sql.DB
}

// NewItems returns an item repository over db.
func NewItems(db *sql.DB) *Items {
	return &Items{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (models.Item, error) {
	var (
		it                   models.Item
		createdAt, updatedAt int64
	)
	if err := row.Scan(&it.ID, &it.ListID, &it.Text, &it.Checked, &createdAt, &updatedAt); err != nil {
		return models.Item{}, err
	}
	it.CreatedAt = fromMillis(createdAt)
	it.UpdatedAt = fromMillis(updatedAt)
	return it, nil
}

// Create inserts a new item, generating its ID when empty.
func (r *Items) Create(ctx context.Context, item *models.Item) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	item.CreatedAt = now
	item.UpdatedAt = now
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO items (`+itemColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		item.ID, item.ListID, item.Text, item.Checked, toMillis(now), toMillis(now))
	if err != nil {
		logger.Error(ctx, "Repository create item failed", "error", err, "list_id", item.ListID)
		return err
	}
	return nil
}

// Get returns one item of a list.
func (r *Items) Get(ctx context.Context, listID, itemID string) (models.Item, error) {
	it, err := scanItem(r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1 AND list_id = $2`, itemID, listID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Item{}, ErrNotFound
	}
	return it, err
}

// SetChecked updates the completion flag and returns the stored item.
func (r *Items) SetChecked(ctx context.Context, listID, itemID string, checked bool) (models.Item, error) {
	it, err := scanItem(r.db.QueryRowContext(ctx,
		`UPDATE items SET checked = $1, updated_at = $2 WHERE id = $3 AND list_id = $4 RETURNING `+itemColumns,
		checked, toMillis(time.Now()), itemID, listID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Item{}, ErrNotFound
	}
	if err != nil {
		logger.Error(ctx, "Repository set checked failed", "error", err, "item_id", itemID)
		return models.Item{}, err
	}
	return it, nil
}

// Delete removes one item. Deleting a missing item reports false, not an error.
func (r *Items) Delete(ctx context.Context, listID, itemID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1 AND list_id = $2`, itemID, listID)
	if err != nil {
		logger.Error(ctx, "Repository delete item failed", "error", err, "item_id", itemID)
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteByList removes every item of a list and reports how many went.
func (r *Items) DeleteByList(ctx context.Context, listID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM items WHERE list_id = $1`, listID)
	if err != nil {
		logger.Error(ctx, "Repository delete by list failed", "error", err, "list_id", listID)
		return 0, err
	}
	return res.RowsAffected()
}

// ListByList returns the items of a list, oldest first.
func (r *Items) ListByList(ctx context.Context, listID string) ([]models.Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE list_id = $1 ORDER BY created_at, id`, listID)
	if err != nil {
		logger.Error(ctx, "Repository list items failed", "error", err, "list_id", listID)
		return nil, err
	}
	defer rows.Close()
	items := []models.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
