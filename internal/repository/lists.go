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

// Lists persists lists for the lists service.
type Lists struct {
	db *sql.DB
}

// NewLists returns a list repository over db.
func NewLists(db *sql.DB) *Lists {
	return &Lists{db: db}
}

// GetAll returns every list, newest first.
func (r *Lists) GetAll(ctx context.Context) ([]models.List, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, owner_id, created_at FROM lists ORDER BY created_at DESC, id`)
	if err != nil {
		logger.Error(ctx, "Repository get lists failed", "error", err)
		return nil, err
	}
	defer rows.Close()
	lists := []models.List{}
	for rows.Next() {
		var (
			l         models.List
			createdAt int64
		)
		if err := rows.Scan(&l.ID, &l.Name, &l.OwnerID, &createdAt); err != nil {
			logger.Error(ctx, "Repository scan list failed", "error", err)
			return nil, err
		}
		l.CreatedAt = fromMillis(createdAt)
		lists = append(lists, l)
	}
	return lists, rows.Err()
}

// Get returns one list.
func (r *Lists) Get(ctx context.Context, id string) (models.List, error) {
	var (
		l         models.List
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, created_at FROM lists WHERE id = $1`, id).
		Scan(&l.ID, &l.Name, &l.OwnerID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.List{}, ErrNotFound
	}
	if err != nil {
		return models.List{}, err
	}
	l.CreatedAt = fromMillis(createdAt)
	return l, nil
}

// Create inserts a new list, generating its ID when empty.
func (r *Lists) Create(ctx context.Context, l *models.List) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	l.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO lists (id, name, owner_id, created_at) VALUES ($1, $2, $3, $4)`,
		l.ID, l.Name, l.OwnerID, toMillis(l.CreatedAt))
	if err != nil {
		logger.Error(ctx, "Repository create list failed", "error", err)
		return err
	}
	return nil
}

// Delete removes a list. Deleting a missing list reports false, not an error.
func (r *Lists) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM lists WHERE id = $1`, id)
	if err != nil {
		logger.Error(ctx, "Repository delete list failed", "error", err, "id", id)
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
