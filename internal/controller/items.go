package controller

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"listsync/internal/coordination"
	"listsync/internal/models"
	"listsync/internal/protocol"
	"listsync/internal/room"
	"listsync/pkg/logger"
)

// Items serves the REST and internal endpoints of the items service.
type Items struct {
	svc *coordination.Service
	out room.Broadcaster
}

func NewItems(svc *coordination.Service, out room.Broadcaster) *Items {
	return &Items{svc: svc, out: out}
}

// ListItems (auth) returns the current items of a list.
func (h *Items) ListItems(c *gin.Context) {
	ctx := c.Request.Context()
	items, err := h.svc.ListItems(ctx, c.Param("listId"))
	if err != nil {
		if isContextErr(err) {
			return
		}
		logger.Error(ctx, "ListItems failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get items"})
		return
	}
	c.JSON(http.StatusOK, items)
}

// PurgeList (internal) deletes every item of a list. Zero rows is success, so
// the lists service can retry freely.
func (h *Items) PurgeList(c *gin.Context) {
	ctx := c.Request.Context()
	listID := c.Param("listId")
	n, err := h.svc.PurgeList(ctx, listID)
	if err != nil {
		if errors.Is(err, coordination.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.Error(ctx, "PurgeList failed", "error", err, "list_id", listID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete items"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"listId": listID, "deleted": n})
}

// ListCreated (internal) announces a new list to every connected client.
func (h *Items) ListCreated(c *gin.Context) {
	ctx := c.Request.Context()
	var list models.List
	if err := c.ShouldBindJSON(&list); err != nil || list.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := h.out.BroadcastAll(ctx, protocol.Must(protocol.ListCreated, list)); err != nil {
		logger.Warn(ctx, "list_created broadcast failed", "error", err)
	}
	c.Status(http.StatusAccepted)
}

// ListDeleted (internal) tells every connected client a list is gone.
func (h *Items) ListDeleted(c *gin.Context) {
	ctx := c.Request.Context()
	var body protocol.ListRemovedPayload
	if err := c.ShouldBindJSON(&body); err != nil || body.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := h.out.BroadcastAll(ctx, protocol.Must(protocol.ListRemoved, body)); err != nil {
		logger.Warn(ctx, "list_removed broadcast failed", "error", err)
	}
	c.Status(http.StatusAccepted)
}
