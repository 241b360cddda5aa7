// Package queue publishes purge commands for list items whose HTTP cascade
// delete could not reach the items service.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"

	"listsync/internal/models"
	"listsync/pkg/logger"
)

// EnsureTopic creates the purge topic with the configured partitions
// (idempotent). If it fails (no broker, topic exists) the service still runs.
func EnsureTopic(ctx context.Context, brokers []string, topic string, partitions int) {
	if len(brokers) == 0 {
		return
	}
	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		logger.Debug(ctx, "Kafka dial for topic creation failed", "error", err)
		return
	}
	defer conn.Close()
	controller, err := conn.Controller()
	if err != nil {
		logger.Debug(ctx, "Kafka controller lookup failed", "error", err)
		return
	}
	ctrlConn, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		logger.Debug(ctx, "Kafka controller dial failed", "error", err)
		return
	}
	defer ctrlConn.Close()
	err = ctrlConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	})
	if err != nil {
		logger.Debug(ctx, "Kafka create topic failed (topic may already exist)", "error", err)
		return
	}
	logger.Info(ctx, "Kafka topic ensured", "topic", topic, "partitions", partitions)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes PurgeCommands keyed by list id, so commands for one list
// land on one partition in order.
type Publisher struct {
	w     messageWriter
	topic string
}

// NewPublisher returns a synchronous producer: a purge command is the last
// record of an inconsistency, so the caller needs to know it was written.
func NewPublisher(brokers []string, topic string) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return &Publisher{w: w, topic: topic}
}

// PublishPurge writes cmd to the purge topic.
func (p *Publisher) PublishPurge(ctx context.Context, cmd models.PurgeCommand) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, kafka.Message{Key: []byte(cmd.ListID), Value: payload}); err != nil {
		return fmt.Errorf("publish purge %s: %w", cmd.ListID, err)
	}
	return nil
}

func (p *Publisher) Topic() string { return p.topic }

func (p *Publisher) Close() error {
	return p.w.Close()
}
