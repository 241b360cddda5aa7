package controller

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	"listsync/internal/cache"
	"listsync/internal/metrics"
	"listsync/internal/models"
	"listsync/internal/notifier"
	"listsync/internal/protocol"
	"listsync/pkg/logger"
)

// ListStore is the lists service's own persistence.
type ListStore interface {
	GetAll(ctx context.Context) ([]models.List, error)
	Create(ctx context.Context, l *models.List) error
	Delete(ctx context.Context, id string) (bool, error)
}

// Peer is the items service as seen from the lists service.
type Peer interface {
	Notify(ctx context.Context, method, path string, payload any) notifier.Result
	Fire(ctx context.Context, method, path string, payload any) notifier.Result
}

// PurgePublisher records a cascade that could not be delivered over HTTP.
type PurgePublisher interface {
	PublishPurge(ctx context.Context, cmd models.PurgeCommand) error
}

// Lists serves the lists service endpoints.
type Lists struct {
	store  ListStore
	cache  *cache.Lists
	peer   Peer
	purges PurgePublisher // nil when Kafka is not configured

	group singleflight.Group
	bg    sync.WaitGroup
}

func NewLists(store ListStore, c *cache.Lists, peer Peer, purges PurgePublisher) *Lists {
	return &Lists{store: store, cache: c, peer: peer, purges: purges}
}

// GetLists is the public handler: cache first, one database read per miss.
func (h *Lists) GetLists(c *gin.Context) {
	ctx := c.Request.Context()
	if lists, ok := h.cache.Get(ctx); ok {
		c.JSON(http.StatusOK, lists)
		return
	}
	v, err, _ := h.group.Do("lists", func() (interface{}, error) {
		return h.store.GetAll(context.WithoutCancel(ctx))
	})
	if err != nil {
		if ctx.Err() != nil || isContextErr(err) {
			return
		}
		logger.Error(ctx, "GetLists repository failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get lists"})
		return
	}
	lists := v.([]models.List)
	h.cache.Set(ctx, lists)
	c.JSON(http.StatusOK, lists)
}

// CreateList (auth): the token subject owns the new list.
func (h *Lists) CreateList(c *gin.Context) {
	ctx := c.Request.Context()
	uid := c.GetString("user")
	if uid == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	var body struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": "name is required"})
		return
	}
	list := models.List{Name: strings.TrimSpace(body.Name), OwnerID: uid}
	if err := h.store.Create(ctx, &list); err != nil {
		logger.Error(ctx, "CreateList failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create list"})
		return
	}
	h.cache.Invalidate(ctx)
	h.fire(ctx, "/internal/notify/list-created", list)
	c.JSON(http.StatusCreated, list)
}

// DeleteList (auth) removes the list's items in the items service, then the
// list itself. The list is deleted even when the cascade gives up.
func (h *Lists) DeleteList(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing list id"})
		return
	}

	res := h.peer.Notify(context.WithoutCancel(ctx), http.MethodDelete, "/items/by-list/"+url.PathEscape(id), nil)
	if res.Outcome == notifier.Exhausted {
		metrics.CascadeExhausted.Inc()
		logger.Critical(ctx, "Item cascade exhausted; items of deleted list remain",
			"list_id", id, "attempts", res.Attempts, "error", res.Err)
		h.publishPurge(ctx, id)
	}

	if _, err := h.store.Delete(context.WithoutCancel(ctx), id); err != nil {
		logger.Error(ctx, "DeleteList failed", "error", err, "list_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete list"})
		return
	}
	h.cache.Invalidate(ctx)
	h.fire(ctx, "/internal/notify/list-deleted", protocol.ListRemovedPayload{ID: id})
	c.JSON(http.StatusOK, gin.H{"id": id, "cascade": res.Outcome.String()})
}

func (h *Lists) publishPurge(ctx context.Context, listID string) {
	if h.purges == nil {
		return
	}
	cmd := models.PurgeCommand{ListID: listID, Reason: "cascade exhausted", RequestedAt: time.Now().UTC()}
	if err := h.purges.PublishPurge(context.WithoutCancel(ctx), cmd); err != nil {
		logger.Error(ctx, "Purge command not published", "error", err, "list_id", listID)
	}
}

// fire sends a single-attempt notification after the response is written.
func (h *Lists) fire(ctx context.Context, path string, payload any) {
	ctx = context.WithoutCancel(ctx)
	h.bg.Go(func() {
		if res := h.peer.Fire(ctx, http.MethodPost, path, payload); res.Outcome != notifier.Succeeded {
			logger.Warn(ctx, "Notification not delivered", "path", path, "error", res.Err)
		}
	})
}

// Wait blocks until background notifications have finished.
func (h *Lists) Wait() {
	h.bg.Wait()
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
