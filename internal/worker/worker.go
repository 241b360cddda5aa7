// Package worker consumes purge commands and deletes the items of lists the
// lists service could not reach over HTTP.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/segmentio/kafka-go"

	"listsync/internal/models"
	"listsync/pkg/logger"
)

const groupID = "item-purgers"

var errNoListID = errors.New("purge command without listId")

// Purger deletes every item of a list; zero rows is success.
type Purger interface {
	PurgeList(ctx context.Context, listID string) (int64, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Worker is one consumer in the purge group. Scale by running more replicas;
// the group shares partitions.
type Worker struct {
	reader    messageReader
	purger    Purger
	processed atomic.Int64
}

func New(brokers []string, topic string, purger Purger) *Worker {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Worker{reader: reader, purger: purger}
}

// Run fetches until ctx is canceled. Messages that fail are logged and
// committed anyway so one bad record cannot block the partition.
func (w *Worker) Run(ctx context.Context) error {
	defer w.reader.Close()
	logger.Info(ctx, "Purge consumer started", "group", groupID)
	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error(ctx, "Worker fetch failed", "error", err)
			continue
		}
		if err := w.handleMessage(ctx, msg.Value); err != nil {
			logger.Critical(ctx, "Purge command not applied", "error", err, "payload", string(msg.Value))
		}
		if err := w.reader.CommitMessages(ctx, msg); err != nil {
			logger.Error(ctx, "Worker commit failed", "error", err)
		}
	}
}

// Processed reports the number of commands applied.
func (w *Worker) Processed() int64 { return w.processed.Load() }

func (w *Worker) handleMessage(ctx context.Context, payload []byte) error {
	var cmd models.PurgeCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return err
	}
	if cmd.ListID == "" {
		return errNoListID
	}
	n, err := w.purger.PurgeList(ctx, cmd.ListID)
	if err != nil {
		return fmt.Errorf("purge %s: %w", cmd.ListID, err)
	}
	w.processed.Add(1)
	logger.Debug(ctx, "Purge command applied", "list_id", cmd.ListID, "deleted", n, "reason", cmd.Reason)
	return nil
}
