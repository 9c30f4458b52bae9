package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"story-server/internal/messaging"
	"story-server/internal/models"
)

// Consumer reads generation tasks from RabbitMQ and feeds them to the
// TaskHandler one at a time. Acknowledgment is late: a delivery is
// acked only after the handler recorded a terminal outcome, so a
// crashed worker causes redelivery instead of silent loss.
type Consumer struct {
	conn      *amqp.Connection
	handler   *TaskHandler
	queueName string
	logger    *zap.Logger

	channel *amqp.Channel
	done    chan struct{}
}

// NewConsumer builds a Consumer for the given queue.
func NewConsumer(conn *amqp.Connection, handler *TaskHandler, queueName string, logger *zap.Logger) *Consumer {
	if queueName == "" {
		queueName = messaging.DefaultTaskQueue
	}
	return &Consumer{
		conn:      conn,
		handler:   handler,
		queueName: queueName,
		logger:    logger.Named("Consumer"),
		done:      make(chan struct{}),
	}
}

// Start declares the queue topology and begins consuming. It returns
// after the consume loop goroutine is running; the loop stops when the
// context is cancelled or the channel closes.
func (c *Consumer) Start(ctx context.Context) error {
	var err error
	c.channel, err = c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := messaging.DeclareTaskTopology(c.channel, c.queueName); err != nil {
		_ = c.channel.Close()
		return err
	}

	// One generation in flight per worker slot. Generation blocks for
	// tens of seconds, so prefetching more would only hold messages
	// hostage.
	if err := c.channel.Qos(1, 0, false); err != nil {
		_ = c.channel.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := c.channel.Consume(
		c.queueName, // queue
		"",          // consumer tag
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		_ = c.channel.Close()
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started, waiting for tasks", zap.String("queue", c.queueName))

	go func() {
		defer close(c.done)
		for {
			select {
			case delivery, ok := <-deliveries:
				if !ok {
					c.logger.Info("Delivery channel closed, consumer loop exiting")
					return
				}
				c.process(ctx, delivery)
			case <-ctx.Done():
				c.logger.Info("Context cancelled, consumer loop exiting")
				return
			}
		}
	}()

	return nil
}

// process handles one delivery and settles it. Poison messages and
// unexpected handler errors are dead-lettered; recorded outcomes,
// success and failure alike, are acknowledged.
func (c *Consumer) process(ctx context.Context, delivery amqp.Delivery) {
	recordTaskReceived()

	var payload messaging.ChapterTaskPayload
	if err := json.Unmarshal(delivery.Body, &payload); err != nil {
		c.logger.Error("Failed to unmarshal task payload, dead-lettering",
			zap.Error(err),
			zap.ByteString("body", delivery.Body))
		recordTaskFailed(failureReasonDeserialization, 0)
		_ = delivery.Nack(false, false)
		return
	}

	result, err := c.handler.Handle(ctx, payload)
	if err != nil {
		c.logger.Error("Task failed with unexpected error, dead-lettering",
			zap.String("taskID", payload.TaskID.String()),
			zap.Error(err))
		recordTaskFailed(failureReasonPersistence, 0)
		_ = delivery.Nack(false, false)
		return
	}

	if result.Status == models.GenerationStatusSuccess {
		c.logger.Info("Task completed",
			zap.String("taskID", payload.TaskID.String()),
			zap.String("storyID", result.StoryID.String()),
			zap.Int("chapter", result.ChapterNumber))
	} else {
		c.logger.Warn("Task finished with recorded error",
			zap.String("taskID", payload.TaskID.String()),
			zap.String("error", result.Error))
	}
	_ = delivery.Ack(false)
}

// Stop cancels the subscription and waits for the in-flight delivery
// to finish.
func (c *Consumer) Stop() error {
	c.logger.Info("Stopping consumer")
	if c.channel != nil {
		if err := c.channel.Cancel("", false); err != nil {
			c.logger.Warn("Error cancelling consumer subscription", zap.Error(err))
		}
	}

	select {
	case <-c.done:
	case <-time.After(30 * time.Second):
		c.logger.Warn("Timeout waiting for consumer loop to stop")
	}

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Warn("Error closing consumer channel", zap.Error(err))
		}
	}
	c.logger.Info("Consumer stopped")
	return nil
}
