// Package coordination owns item mutations. Updates to one item are
// serialized through a lease; creates and deletes need none.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"listsync/internal/lease"
	"listsync/internal/models"
	"listsync/internal/repository"
	"listsync/pkg/logger"
)

// ErrInvalidInput marks requests that fail validation. It is the only error
// surfaced to end users.
var ErrInvalidInput = errors.New("invalid input")

// ItemStore is the persistence the service needs.
type ItemStore interface {
	Create(ctx context.Context, item *models.Item) error
	SetChecked(ctx context.Context, listID, itemID string, checked bool) (models.Item, error)
	Delete(ctx context.Context, listID, itemID string) (bool, error)
	DeleteByList(ctx context.Context, listID string) (int64, error)
	ListByList(ctx context.Context, listID string) ([]models.Item, error)
}

// UpdateResult says what happened to an update request.
type UpdateResult int

const (
	// UpdateFailed accompanies a non-nil error.
	UpdateFailed UpdateResult = iota
	// UpdateApplied means the flag was persisted and an event is due.
	UpdateApplied
	// UpdateContended means another writer held the item's lease; the request was dropped.
	UpdateContended
	// UpdateNotFound means the item no longer exists; nothing changed.
	UpdateNotFound
)

func (r UpdateResult) String() string {
	switch r {
	case UpdateFailed:
		return "failed"
	case UpdateApplied:
		return "applied"
	case UpdateContended:
		return "contended"
	case UpdateNotFound:
		return "not_found"
	default:
		return fmt.Sprintf("UpdateResult(%d)", int(r))
	}
}

// Service applies item mutations.
type Service struct {
	items  ItemStore
	leases lease.Store
}

// NewService returns a Service over items guarded by leases.
func NewService(items ItemStore, leases lease.Store) *Service {
	return &Service{items: items, leases: leases}
}

func required(fields ...string) error {
	for i := 0; i+1 < len(fields); i += 2 {
		if strings.TrimSpace(fields[i+1]) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidInput, fields[i])
		}
	}
	return nil
}

// AddItem creates an unchecked item in listID.
func (s *Service) AddItem(ctx context.Context, listID, text string) (models.Item, error) {
	if err := required("listId", listID, "text", text); err != nil {
		return models.Item{}, err
	}
	item := models.Item{ListID: listID, Text: strings.TrimSpace(text)}
	if err := s.items.Create(ctx, &item); err != nil {
		return models.Item{}, fmt.Errorf("create item: %w", err)
	}
	logger.Info(ctx, "Item added", "list_id", listID, "item_id", item.ID)
	return item, nil
}

// UpdateItem sets the completion flag of one item while holding its lease.
// A held lease drops the request without error; the competing writer will
// publish the authoritative state. The lease is released before returning,
// whether or not persistence succeeded.
func (s *Service) UpdateItem(ctx context.Context, listID, itemID string, checked bool) (models.Item, UpdateResult, error) {
	if err := required("listId", listID, "itemId", itemID); err != nil {
		return models.Item{}, UpdateFailed, err
	}
	ok, err := s.leases.Acquire(ctx, itemID)
	if err != nil {
		return models.Item{}, UpdateFailed, fmt.Errorf("acquire lease %s: %w", itemID, err)
	}
	if !ok {
		logger.Info(ctx, "Item update dropped, lease held by another writer", "list_id", listID, "item_id", itemID)
		return models.Item{}, UpdateContended, nil
	}
	defer func() {
		if err := s.leases.Release(context.WithoutCancel(ctx), itemID); err != nil {
			logger.Error(ctx, "Lease release failed", "error", err, "item_id", itemID)
		}
	}()

	item, err := s.items.SetChecked(ctx, listID, itemID, checked)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Debug(ctx, "Update for missing item ignored", "list_id", listID, "item_id", itemID)
		return models.Item{}, UpdateNotFound, nil
	}
	if err != nil {
		return models.Item{}, UpdateFailed, fmt.Errorf("set checked %s: %w", itemID, err)
	}
	return item, UpdateApplied, nil
}

// DeleteItem removes one item. Deleting a missing item is not an error.
func (s *Service) DeleteItem(ctx context.Context, listID, itemID string) error {
	if err := required("listId", listID, "itemId", itemID); err != nil {
		return err
	}
	deleted, err := s.items.Delete(ctx, listID, itemID)
	if err != nil {
		return fmt.Errorf("delete item %s: %w", itemID, err)
	}
	if !deleted {
		logger.Debug(ctx, "Delete for missing item ignored", "list_id", listID, "item_id", itemID)
	}
	return nil
}

// PurgeList deletes every item of a list. It is idempotent.
func (s *Service) PurgeList(ctx context.Context, listID string) (int64, error) {
	if err := required("listId", listID); err != nil {
		return 0, err
	}
	n, err := s.items.DeleteByList(ctx, listID)
	if err != nil {
		return 0, fmt.Errorf("purge list %s: %w", listID, err)
	}
	logger.Info(ctx, "List items purged", "list_id", listID, "deleted", n)
	return n, nil
}

// ListItems returns the current items of a list.
func (s *Service) ListItems(ctx context.Context, listID string) ([]models.Item, error) {
	if err := required("listId", listID); err != nil {
		return nil, err
	}
	return s.items.ListByList(ctx, listID)
}
