package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// TaskPublisher enqueues chapter generation tasks. Publish failures
// are ordinary errors here; translating them into a user-facing
// "retry later" outcome is the dispatcher's job.
type TaskPublisher interface {
	PublishChapterTask(ctx context.Context, payload ChapterTaskPayload) error
	Close() error
}

// Compile-time check
var _ TaskPublisher = (*rabbitMQTaskPublisher)(nil)

type rabbitMQTaskPublisher struct {
	channel   *amqp.Channel
	queueName string
}

// NewRabbitMQTaskPublisher opens a channel on the given connection and
// declares the task queue topology. The connection must already be
// established; reconnect handling belongs to the caller.
func NewRabbitMQTaskPublisher(conn *amqp.Connection, queueName string) (TaskPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("rabbitmq connection is nil")
	}
	if queueName == "" {
		queueName = DefaultTaskQueue
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("Failed to open channel for task publisher")
		return nil, fmt.Errorf("task publisher: failed to open channel: %w", err)
	}

	if err := DeclareTaskTopology(ch, queueName); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("task publisher: %w", err)
	}

	return &rabbitMQTaskPublisher{channel: ch, queueName: queueName}, nil
}

// PublishChapterTask sends one persistent task message to the queue.
func (p *rabbitMQTaskPublisher) PublishChapterTask(ctx context.Context, payload ChapterTaskPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Interface("payload", payload).Msg("Failed to marshal chapter task payload")
		return fmt.Errorf("failed to marshal chapter task payload: %w", err)
	}

	err = p.channel.PublishWithContext(ctx,
		"",          // exchange (default, routes by queue name)
		p.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    payload.TaskID.String(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		log.Error().Err(err).
			Str("taskID", payload.TaskID.String()).
			Str("storyID", payload.StoryID.String()).
			Msg("Failed to publish chapter task")
		return fmt.Errorf("failed to publish chapter task %s: %w", payload.TaskID, err)
	}

	log.Debug().
		Str("taskID", payload.TaskID.String()).
		Str("storyID", payload.StoryID.String()).
		Int("chapter", payload.ChapterNumber).
		Msg("Chapter task published")
	return nil
}

// Close closes the publisher's channel.
func (p *rabbitMQTaskPublisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
